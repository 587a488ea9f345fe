package repository

import (
	"testing"

	"fieldsync/internal/domain"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMediaRepository_SaveLoad(t *testing.T) {
	fs := afero.NewMemMapFs()
	repo := NewMediaRepository(fs, "/media")

	assert.False(t, repo.Has("photo-1"))

	require.NoError(t, repo.Save("photo-1", []byte("jpeg bytes")))
	assert.True(t, repo.Has("photo-1"))

	data, err := repo.Load("photo-1")
	require.NoError(t, err)
	assert.Equal(t, []byte("jpeg bytes"), data)

	exists, err := afero.Exists(fs, "/media/photo-1.tmp")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestMediaRepository_SaveIsIdempotent(t *testing.T) {
	repo := NewMediaRepository(afero.NewMemMapFs(), "/media")

	require.NoError(t, repo.Save("audio-1", []byte("amr")))
	require.NoError(t, repo.Save("audio-1", []byte("amr")))
	require.NoError(t, repo.Save("audio-1", []byte("amr v2")))

	data, err := repo.Load("audio-1")
	require.NoError(t, err)
	assert.Equal(t, []byte("amr v2"), data)
}

func TestMediaRepository_Missing(t *testing.T) {
	repo := NewMediaRepository(afero.NewMemMapFs(), "/media")

	_, err := repo.Load("nope")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.NoError(t, repo.Delete("nope"))
}

func TestMediaRepository_Delete(t *testing.T) {
	repo := NewMediaRepository(afero.NewMemMapFs(), "/media")

	require.NoError(t, repo.Save("photo-1", []byte("x")))
	require.NoError(t, repo.Delete("photo-1"))
	assert.False(t, repo.Has("photo-1"))
}

func TestMediaRepository_InvalidKeys(t *testing.T) {
	repo := NewMediaRepository(afero.NewMemMapFs(), "/media")

	for _, key := range []string{"", ".", "..", "../escape", "a/b"} {
		assert.ErrorIs(t, repo.Save(key, []byte("x")), ErrInvalidMediaKey, key)
		_, err := repo.Load(key)
		assert.ErrorIs(t, err, ErrInvalidMediaKey, key)
		assert.False(t, repo.Has(key), key)
	}
}
