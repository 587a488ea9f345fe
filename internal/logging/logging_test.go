package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriter_StderrOnly(t *testing.T) {
	var buf bytes.Buffer
	w, closer := Writer(&buf, Options{})
	defer closer.Close()

	New("[sync] ", w).Printf("pushed %d records", 3)

	assert.Contains(t, buf.String(), "[sync] ")
	assert.Contains(t, buf.String(), "pushed 3 records")
}

func TestWriter_TeesIntoFile(t *testing.T) {
	var buf bytes.Buffer
	path := filepath.Join(t.TempDir(), "logs", "fieldsync.log")

	w, closer := Writer(&buf, Options{File: path, MaxSizeMB: 1, MaxBackups: 1})
	New("[batch] ", w).Print("done")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "[batch] done")
	assert.Contains(t, buf.String(), "[batch] done")
}
