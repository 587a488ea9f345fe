package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"fieldsync/internal/client"
	"fieldsync/internal/domain"
	"fieldsync/internal/repository"
)

const (
	verifiedCollection   = "/api/children"
	unverifiedCollection = "/api/children/unverified"
)

// RemoteClient is the part of the server API the device engine uses.
type RemoteClient interface {
	Push(ctx context.Context, method, path string, payload *domain.SyncPayload) (*domain.Fields, error)
	FetchAttachment(ctx context.Context, path string) ([]byte, error)
	IDsAndRevs(ctx context.Context) (map[string]string, error)
}

// mergeSkipKeys are server document keys that never overwrite local state.
var mergeSkipKeys = map[string]bool{
	domain.KeyHistories:     true,
	domain.KeyUniqueID:      true,
	domain.KeyOwner:         true,
	domain.KeyCreatedAt:     true,
	domain.KeyLastUpdatedAt: true,
	domain.KeyLastSyncedAt:  true,
	domain.KeySynced:        true,
	domain.KeyInternalID:    true,
	domain.KeyInternalRev:   true,
	domain.KeyAttachments:   true,
}

// SyncService pushes one record at a time and folds the server's answer
// back into the local store.
type SyncService struct {
	records repository.RecordRepository
	media   repository.MediaRepository
	remote  RemoteClient
	syncer  *MediaSyncer
	user    domain.UserContext
	logger  *log.Logger
	now     func() time.Time
}

func NewSyncService(
	records repository.RecordRepository,
	media repository.MediaRepository,
	remote RemoteClient,
	user domain.UserContext,
	logger *log.Logger,
) *SyncService {
	if logger == nil {
		logger = log.New(os.Stderr, "[sync] ", log.LstdFlags)
	}
	return &SyncService{
		records: records,
		media:   media,
		remote:  remote,
		syncer:  NewMediaSyncer(media, remote, logger),
		user:    user,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Sync pushes rec to the server. targetPath overrides the endpoint when
// non-empty. On failure neither rec nor the store are modified. Media fetch
// problems after a successful push are logged and do not fail the call.
func (s *SyncService) Sync(ctx context.Context, rec *domain.Record, targetPath string) (*domain.Record, error) {
	merged, _, err := s.sync(ctx, rec, targetPath)
	return merged, err
}

// SyncByID loads a record from the store and syncs it.
func (s *SyncService) SyncByID(ctx context.Context, id string) (*domain.Record, error) {
	rec, err := s.records.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.Sync(ctx, rec, "")
}

func (s *SyncService) sync(ctx context.Context, rec *domain.Record, targetPath string) (merged *domain.Record, mediaErr error, err error) {
	if rec == nil {
		return nil, nil, fmt.Errorf("failed to sync: nil record")
	}

	method, path := s.endpoint(rec, targetPath)

	payload, uploaded, err := s.buildPayload(rec)
	if err != nil {
		return nil, nil, err
	}

	doc, err := s.remote.Push(ctx, method, path, payload)
	if err != nil {
		syncErr := &domain.SyncFailedError{ID: rec.UniqueID, Err: err}
		var httpErr *client.HTTPError
		if errors.As(err, &httpErr) {
			syncErr.StatusCode = httpErr.StatusCode
		}
		return nil, nil, syncErr
	}

	merged = s.merge(rec, doc, uploaded)
	if err := s.records.CommitSync(ctx, merged, len(rec.History)); err != nil {
		return nil, nil, err
	}
	if merged.Synced {
		s.logger.Printf("record %s synced as %s (rev %s)", merged.UniqueID, merged.InternalID, merged.InternalRev)
	} else {
		s.logger.Printf("record %s pushed as %s (rev %s) with %d local change(s) still pending",
			merged.UniqueID, merged.InternalID, merged.InternalRev, len(merged.History))
	}

	mediaErr = s.syncer.Reconcile(ctx, merged)
	if mediaErr != nil {
		s.logger.Printf("record %s: media reconcile incomplete: %v", merged.UniqueID, mediaErr)
	}

	return merged, mediaErr, nil
}

func (s *SyncService) collection() string {
	if s.user.Verified {
		return verifiedCollection
	}
	return unverifiedCollection
}

func (s *SyncService) endpoint(rec *domain.Record, targetPath string) (string, string) {
	if rec.InternalID != "" {
		if targetPath != "" {
			return http.MethodPut, targetPath
		}
		return http.MethodPut, verifiedCollection + "/" + rec.InternalID
	}
	if targetPath != "" {
		return http.MethodPost, targetPath
	}
	return http.MethodPost, s.collection()
}

// buildPayload works on a copy; the record itself is left alone.
func (s *SyncService) buildPayload(rec *domain.Record) (*domain.SyncPayload, []string, error) {
	child := rec.Fields.Clone()
	for _, key := range child.Keys() {
		if domain.IsLocalOnlyKey(key) || key == domain.KeyHistories {
			child.Delete(key)
		}
	}

	child.Set(domain.KeyUniqueID, rec.UniqueID)
	child.Set(domain.KeyOwner, rec.Owner)
	child.Set(domain.KeyCreatedAt, rec.CreatedAt.UTC().Format(time.RFC3339))
	child.Set(domain.KeyLastUpdatedAt, rec.LastUpdatedAt.UTC().Format(time.RFC3339))

	histories := make([]domain.HistoryEntry, len(rec.History))
	for i, h := range rec.History {
		histories[i] = h.Clone()
	}
	child.Set(domain.KeyHistories, histories)

	payload := &domain.SyncPayload{Child: child}

	refs := rec.MediaRefs()
	var uploaded []string
	for _, key := range refs.AssetKeys() {
		if rec.IsUploaded(key) || !s.media.Has(key) {
			continue
		}
		data, err := s.media.Load(key)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to load media %s: %w", key, err)
		}
		payload.Media = append(payload.Media, domain.MediaUpload{
			Key:         key,
			Kind:        refs.KindOf(key),
			ContentType: http.DetectContentType(data),
			Data:        data,
		})
		uploaded = append(uploaded, key)
	}

	return payload, uploaded, nil
}

// merge overlays the server document onto a copy of rec. Server values win.
// The history sent with the push is dropped here; CommitSync restores
// anything written locally since.
func (s *SyncService) merge(rec *domain.Record, doc *domain.Fields, uploaded []string) *domain.Record {
	merged := rec.Clone()

	for _, key := range doc.Keys() {
		if mergeSkipKeys[key] {
			continue
		}
		v, _ := doc.Get(key)
		merged.Fields.Set(key, v)
	}

	if id := doc.String(domain.KeyInternalID); id != "" {
		merged.InternalID = id
	}
	if rev := doc.String(domain.KeyInternalRev); rev != "" {
		merged.InternalRev = rev
	}

	if v, ok := doc.Get(domain.KeyAttachments); ok {
		stubs, _ := v.(map[string]any)
		merged.UploadedMedia = domain.SortedKeys(stubs)
	}
	merged.UploadedMedia = union(merged.UploadedMedia, uploaded)
	merged.Fields.Delete(domain.KeyAttachments)

	merged.LastSyncedAt = s.now()
	merged.Synced = true
	merged.History = nil
	return merged
}

func union(base, extra []string) []string {
	seen := make(map[string]bool, len(base))
	out := make([]string, 0, len(base)+len(extra))
	for _, list := range [][]string{base, extra} {
		for _, k := range list {
			if k == "" || seen[k] {
				continue
			}
			seen[k] = true
			out = append(out, k)
		}
	}
	return out
}

func attachmentPath(internalID, key string) string {
	return strings.Join([]string{verifiedCollection, internalID, "attachments", key}, "/")
}
