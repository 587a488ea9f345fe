package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"path/filepath"
	"strings"

	"fieldsync/internal/couch"
	"fieldsync/internal/domain"
	"fieldsync/internal/websocket"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/tidwall/gjson"
)

// serverOwnedKeys are never taken from a pushed payload.
var serverOwnedKeys = map[string]bool{
	domain.KeyInternalID:       true,
	domain.KeyInternalRev:      true,
	domain.KeyAttachments:      true,
	domain.KeyHistories:        true,
	domain.KeyDocType:          true,
	domain.KeyVerified:         true,
	domain.KeyOwner:            true,
	domain.KeyPhotoKeys:        true,
	domain.KeyAudioAttachments: true,
	domain.KeySynced:           true,
	domain.KeyLastSyncedAt:     true,
}

// RecordNotifier is told about every accepted push.
type RecordNotifier interface {
	NotifyUser(userID string, msg *websocket.Message, excludeDeviceID string) error
}

// RecordService is the server side of the push protocol: it stores record
// documents, accumulates their histories and keeps their attachments.
type RecordService struct {
	records  couch.RecordRepository
	notifier RecordNotifier
	validate *validator.Validate
	newID    func() string
}

func NewRecordService(records couch.RecordRepository, notifier RecordNotifier) *RecordService {
	return &RecordService{
		records:  records,
		notifier: notifier,
		validate: validator.New(),
		newID: func() string {
			return strings.ReplaceAll(uuid.New().String(), "-", "")
		},
	}
}

// Create stores a new record. A retried create for a unique id the caller
// already pushed updates that document instead of duplicating it.
func (s *RecordService) Create(ctx context.Context, caller domain.UserContext, payload *domain.SyncPayload, verifiedRoute bool) (*domain.Fields, error) {
	if err := s.check(payload); err != nil {
		return nil, err
	}
	if verifiedRoute && !caller.Verified {
		return nil, fmt.Errorf("%w: unverified users must use the unverified endpoint", ErrForbidden)
	}

	uniqueID := payload.Child.String(domain.KeyUniqueID)
	if uniqueID == "" {
		return nil, fmt.Errorf("%w: %s is required", ErrInvalidPayload, domain.KeyUniqueID)
	}

	existing, err := s.records.FindByUniqueID(ctx, caller.UserName, uniqueID)
	switch {
	case err == nil:
		log.Printf("[records] create for known record %s, applying as update", uniqueID)
		return s.apply(ctx, caller, existing, payload)
	case !errors.Is(err, domain.ErrNotFound):
		return nil, err
	}

	doc := domain.NewFields()
	doc.Set(domain.KeyInternalID, s.newID())
	doc.Set(domain.KeyDocType, couch.DocType)
	doc.Set(domain.KeyOwner, caller.UserName)
	if !verifiedRoute {
		doc.Set(domain.KeyVerified, false)
	}
	return s.apply(ctx, caller, doc, payload)
}

func (s *RecordService) Update(ctx context.Context, caller domain.UserContext, id string, payload *domain.SyncPayload) (*domain.Fields, error) {
	if err := s.check(payload); err != nil {
		return nil, err
	}
	existing, err := s.Get(ctx, caller, id)
	if err != nil {
		return nil, err
	}
	return s.apply(ctx, caller, existing, payload)
}

func (s *RecordService) Get(ctx context.Context, caller domain.UserContext, id string) (*domain.Fields, error) {
	doc, err := s.records.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if doc.String(domain.KeyOwner) != caller.UserName {
		return nil, fmt.Errorf("%w: record %s belongs to another user", ErrForbidden, id)
	}
	return doc, nil
}

func (s *RecordService) Attachment(ctx context.Context, caller domain.UserContext, id, key string) (*couch.Attachment, error) {
	if _, err := s.Get(ctx, caller, id); err != nil {
		return nil, err
	}
	return s.records.GetAttachment(ctx, id, key)
}

func (s *RecordService) IDsAndRevs(ctx context.Context, caller domain.UserContext) (map[string]string, error) {
	return s.records.IDsAndRevs(ctx, caller.UserName)
}

func (s *RecordService) check(payload *domain.SyncPayload) error {
	if payload == nil || payload.Child == nil {
		return fmt.Errorf("%w: child is required", ErrInvalidPayload)
	}
	for _, m := range payload.Media {
		if err := s.validate.Struct(m); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
		if filepath.Base(m.Key) != m.Key || m.Key == "." || m.Key == ".." {
			return fmt.Errorf("%w: bad media key %q", ErrInvalidPayload, m.Key)
		}
	}
	return nil
}

// apply overlays payload onto doc, stores it with its new attachments and
// returns the stored document.
func (s *RecordService) apply(ctx context.Context, caller domain.UserContext, doc *domain.Fields, payload *domain.SyncPayload) (*domain.Fields, error) {
	for _, key := range payload.Child.Keys() {
		if serverOwnedKeys[key] {
			continue
		}
		v, _ := payload.Child.Get(key)
		doc.Set(key, v)
	}

	var histories []any
	if v, ok := doc.Get(domain.KeyHistories); ok {
		histories, _ = v.([]any)
	}
	doc.Set(domain.KeyHistories, appendHistories(histories, payload.Histories()))

	for _, m := range payload.Media {
		addMediaRef(doc, m)
	}

	id := doc.String(domain.KeyInternalID)
	rev, err := s.records.Put(ctx, doc)
	if err != nil {
		return nil, err
	}
	for _, m := range payload.Media {
		rev, err = s.records.PutAttachment(ctx, id, rev, m.Key, &couch.Attachment{
			ContentType: m.ContentType,
			Data:        m.Data,
		})
		if err != nil {
			return nil, err
		}
	}

	saved, err := s.records.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	s.notify(caller, saved)
	return saved, nil
}

// appendHistories adds incoming entries to stored, skipping any whose
// (datetime, user_name) is already there. A device retrying a push whose
// answer it never saw sends the same entries twice.
func appendHistories(stored, incoming []any) []any {
	seen := make(map[string]bool, len(stored))
	for _, h := range stored {
		if key, ok := historyKey(h); ok {
			seen[key] = true
		}
	}
	for _, h := range incoming {
		key, ok := historyKey(h)
		if ok && seen[key] {
			continue
		}
		if ok {
			seen[key] = true
		}
		stored = append(stored, h)
	}
	return stored
}

// historyKey identifies an entry by its timestamp and author. Entries
// without a timestamp (missing or zero) are never deduplicated.
func historyKey(h any) (string, bool) {
	data, err := json.Marshal(h)
	if err != nil {
		return "", false
	}
	at := gjson.GetBytes(data, "datetime").String()
	if at == "" || strings.HasPrefix(at, "0001-01-01") {
		return "", false
	}
	return at + "\x00" + gjson.GetBytes(data, "user_name").String(), true
}

func addMediaRef(doc *domain.Fields, m domain.MediaUpload) {
	switch m.Kind {
	case domain.MediaKindAudio:
		doc.Set(domain.KeyRecordedAudio, m.Key)
		variants := doc.StringMap(domain.KeyAudioAttachments)
		if variants == nil {
			variants = make(map[string]string)
		}
		variants["original"] = m.Key
		doc.Set(domain.KeyAudioAttachments, variants)
	default:
		keys := doc.Strings(domain.KeyPhotoKeys)
		found := false
		for _, k := range keys {
			if k == m.Key {
				found = true
				break
			}
		}
		if !found {
			keys = append(keys, m.Key)
		}
		doc.Set(domain.KeyPhotoKeys, keys)
		if doc.String(domain.KeyCurrentPhotoKey) == "" {
			doc.Set(domain.KeyCurrentPhotoKey, m.Key)
		}
	}
}

func (s *RecordService) notify(caller domain.UserContext, doc *domain.Fields) {
	if s.notifier == nil {
		return
	}
	msg, err := websocket.NewMessage(websocket.TypeRecordUpdate, &websocket.RecordUpdatePayload{
		ID:       doc.String(domain.KeyInternalID),
		Rev:      doc.String(domain.KeyInternalRev),
		UniqueID: doc.String(domain.KeyUniqueID),
		DeviceID: caller.DeviceID,
	})
	if err != nil {
		log.Printf("[records] failed to build update message: %v", err)
		return
	}
	if err := s.notifier.NotifyUser(caller.UserName, msg, caller.DeviceID); err != nil {
		log.Printf("[records] failed to notify %s: %v", caller.UserName, err)
	}
}
