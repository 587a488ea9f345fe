package domain

import (
	"time"

	"github.com/google/uuid"
)

// Well-known keys of the record document exchanged with the server.
const (
	KeyUniqueID         = "unique_identifier"
	KeyInternalID       = "_id"
	KeyInternalRev      = "_rev"
	KeyOwner            = "created_by"
	KeyCreatedAt        = "created_at"
	KeyLastUpdatedAt    = "last_updated_at"
	KeyLastSyncedAt     = "last_synced_at"
	KeySynced           = "synced"
	KeyHistories        = "histories"
	KeyAttachments      = "_attachments"
	KeyCurrentPhotoKey  = "current_photo_key"
	KeyPhotoKeys        = "photo_keys"
	KeyRecordedAudio    = "recorded_audio"
	KeyAudioAttachments = "audio_attachments"
	KeyVerified         = "verified"
	KeyDocType          = "couchrest-type"
)

// localOnlyKeys never leave the device as part of the structured payload.
var localOnlyKeys = map[string]bool{
	KeySynced:           true,
	KeyLastSyncedAt:     true,
	KeyPhotoKeys:        true,
	KeyAudioAttachments: true,
	KeyAttachments:      true,
}

// bookkeepingKeys are carried by Record struct fields rather than Fields.
var bookkeepingKeys = map[string]bool{
	KeyUniqueID:      true,
	KeyInternalID:    true,
	KeyInternalRev:   true,
	KeyOwner:         true,
	KeyCreatedAt:     true,
	KeyLastUpdatedAt: true,
	KeyLastSyncedAt:  true,
	KeySynced:        true,
	KeyHistories:     true,
	KeyAttachments:   true,
}

func IsLocalOnlyKey(key string) bool {
	return localOnlyKeys[key]
}

func IsBookkeepingKey(key string) bool {
	return bookkeepingKeys[key]
}

// Record is the unit of synchronization.
type Record struct {
	UniqueID      string `validate:"required"`
	InternalID    string
	InternalRev   string
	Owner         string `validate:"required"`
	CreatedAt     time.Time
	LastUpdatedAt time.Time
	LastSyncedAt  time.Time
	Synced        bool
	Fields        *Fields
	History       []HistoryEntry

	// UploadedMedia lists the asset keys the server has confirmed as stored.
	UploadedMedia []string
}

// NewRecord assigns a fresh unique id.
func NewRecord(owner string, fields *Fields) *Record {
	if fields == nil {
		fields = NewFields()
	}
	now := time.Now().UTC()
	return &Record{
		UniqueID:      uuid.New().String(),
		Owner:         owner,
		CreatedAt:     now,
		LastUpdatedAt: now,
		Fields:        fields,
	}
}

func (r *Record) IsNew() bool {
	return r.InternalID == ""
}

func (r *Record) AddHistory(entry HistoryEntry) {
	r.History = append(r.History, entry)
}

// IsUploaded reports whether the server already holds the asset.
func (r *Record) IsUploaded(key string) bool {
	for _, k := range r.UploadedMedia {
		if k == key {
			return true
		}
	}
	if r.MediaRefs().RecordedAudio == key {
		for _, variant := range r.Fields.StringMap(KeyAudioAttachments) {
			if variant == key {
				return true
			}
		}
	}
	return false
}

func (r *Record) MediaRefs() MediaRefs {
	return MediaRefs{
		CurrentPhotoKey: r.Fields.String(KeyCurrentPhotoKey),
		PhotoKeys:       r.Fields.Strings(KeyPhotoKeys),
		RecordedAudio:   r.Fields.String(KeyRecordedAudio),
		AudioVariants:   r.Fields.StringMap(KeyAudioAttachments),
	}
}

func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	out := *r
	out.Fields = r.Fields.Clone()
	if r.History != nil {
		out.History = make([]HistoryEntry, len(r.History))
		for i, h := range r.History {
			out.History[i] = h.Clone()
		}
	}
	if r.UploadedMedia != nil {
		out.UploadedMedia = make([]string, len(r.UploadedMedia))
		copy(out.UploadedMedia, r.UploadedMedia)
	}
	return &out
}

// UserContext is the acting user as supplied by the host application.
type UserContext struct {
	UserName     string
	Organisation string
	Locale       string
	Verified     bool
	ServerURL    string
	DeviceID     string
}
