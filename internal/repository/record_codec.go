package repository

import (
	"encoding/json"
	"errors"
	"time"

	"fieldsync/internal/domain"
)

// storedRecord is the JSON layout of the record_json column.
type storedRecord struct {
	UniqueID      string                `json:"unique_identifier"`
	InternalID    string                `json:"_id,omitempty"`
	InternalRev   string                `json:"_rev,omitempty"`
	Owner         string                `json:"created_by"`
	CreatedAt     time.Time             `json:"created_at"`
	LastUpdatedAt time.Time             `json:"last_updated_at"`
	LastSyncedAt  *time.Time            `json:"last_synced_at,omitempty"`
	Fields        *domain.Fields        `json:"fields"`
	Histories     []domain.HistoryEntry `json:"histories,omitempty"`
	UploadedMedia []string              `json:"uploaded_media,omitempty"`
}

func encodeRecord(rec *domain.Record) ([]byte, error) {
	doc := storedRecord{
		UniqueID:      rec.UniqueID,
		InternalID:    rec.InternalID,
		InternalRev:   rec.InternalRev,
		Owner:         rec.Owner,
		CreatedAt:     rec.CreatedAt.UTC(),
		LastUpdatedAt: rec.LastUpdatedAt.UTC(),
		Fields:        rec.Fields,
		Histories:     rec.History,
		UploadedMedia: rec.UploadedMedia,
	}
	if doc.Fields == nil {
		doc.Fields = domain.NewFields()
	}
	if !rec.LastSyncedAt.IsZero() {
		synced := rec.LastSyncedAt.UTC()
		doc.LastSyncedAt = &synced
	}
	return json.Marshal(doc)
}

// decodeRecord turns a stored row back into a record. Any decoding problem is
// a CorruptRecordError.
func decodeRecord(id string, data []byte, synced bool) (*domain.Record, error) {
	var doc storedRecord
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, &domain.CorruptRecordError{ID: id, Err: err}
	}
	if doc.UniqueID == "" {
		return nil, &domain.CorruptRecordError{ID: id, Err: errors.New("missing unique identifier")}
	}
	if doc.UniqueID != id {
		return nil, &domain.CorruptRecordError{ID: id, Err: errors.New("unique identifier does not match row")}
	}
	if doc.Fields == nil {
		doc.Fields = domain.NewFields()
	}

	rec := &domain.Record{
		UniqueID:      doc.UniqueID,
		InternalID:    doc.InternalID,
		InternalRev:   doc.InternalRev,
		Owner:         doc.Owner,
		CreatedAt:     doc.CreatedAt,
		LastUpdatedAt: doc.LastUpdatedAt,
		Synced:        synced,
		Fields:        doc.Fields,
		History:       doc.Histories,
		UploadedMedia: doc.UploadedMedia,
	}
	if doc.LastSyncedAt != nil {
		rec.LastSyncedAt = *doc.LastSyncedAt
	}
	return rec, nil
}
