package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"fieldsync/internal/domain"

	"github.com/tidwall/gjson"
)

type OutputFormatter struct {
	Format string
	Writer io.Writer
}

// Emit writes v as indented JSON in json mode, or calls text otherwise.
func (f *OutputFormatter) Emit(v any, text func(w io.Writer)) error {
	if f.Format == "json" {
		enc := json.NewEncoder(f.Writer)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	text(f.Writer)
	return nil
}

// parseFieldArgs turns key=value arguments into Fields. Values that are
// valid JSON (numbers, booleans, objects, quoted strings) are decoded; the
// rest are kept as text.
func parseFieldArgs(args []string) (*domain.Fields, error) {
	fields := domain.NewFields()
	for _, arg := range args {
		key, raw, ok := strings.Cut(arg, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid field %q: expected key=value", arg)
		}
		if domain.IsBookkeepingKey(key) {
			return nil, fmt.Errorf("field %q is managed by fieldsync", key)
		}
		if !gjson.Valid(raw) {
			fields.Set(key, raw)
			continue
		}
		v, err := domain.DecodeValue(gjson.Parse(raw))
		if err != nil {
			return nil, fmt.Errorf("invalid field %q: %w", arg, err)
		}
		fields.Set(key, v)
	}
	return fields, nil
}

// recordView is the document shown for a record: bookkeeping first, then
// the record's own fields in order.
func recordView(rec *domain.Record) *domain.Fields {
	view := domain.NewFields()
	view.Set(domain.KeyUniqueID, rec.UniqueID)
	if rec.InternalID != "" {
		view.Set(domain.KeyInternalID, rec.InternalID)
		view.Set(domain.KeyInternalRev, rec.InternalRev)
	}
	view.Set(domain.KeyOwner, rec.Owner)
	view.Set(domain.KeyCreatedAt, formatTime(rec.CreatedAt))
	view.Set(domain.KeyLastUpdatedAt, formatTime(rec.LastUpdatedAt))
	if !rec.LastSyncedAt.IsZero() {
		view.Set(domain.KeyLastSyncedAt, formatTime(rec.LastSyncedAt))
	}
	view.Set(domain.KeySynced, rec.Synced)
	for _, key := range rec.Fields.Keys() {
		v, _ := rec.Fields.Get(key)
		view.Set(key, v)
	}
	if len(rec.History) > 0 {
		view.Set(domain.KeyHistories, rec.History)
	}
	return view
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func syncedMark(synced bool) string {
	if synced {
		return "synced"
	}
	return "pending"
}
