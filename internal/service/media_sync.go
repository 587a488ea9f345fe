package service

import (
	"context"
	"errors"
	"log"
	"os"

	"fieldsync/internal/domain"
	"fieldsync/internal/repository"
)

// MediaSyncer pulls assets a record references but the device does not hold.
type MediaSyncer struct {
	media  repository.MediaRepository
	remote RemoteClient
	logger *log.Logger
}

func NewMediaSyncer(media repository.MediaRepository, remote RemoteClient, logger *log.Logger) *MediaSyncer {
	if logger == nil {
		logger = log.New(os.Stderr, "[media] ", log.LstdFlags)
	}
	return &MediaSyncer{media: media, remote: remote, logger: logger}
}

// Reconcile fetches every missing asset of rec. Each failure is a
// MediaFetchError; all of them are joined in the result. Assets already
// present are never requested, so repeated calls converge.
func (m *MediaSyncer) Reconcile(ctx context.Context, rec *domain.Record) error {
	if rec.InternalID == "" {
		return nil
	}

	var errs []error
	for _, key := range rec.MediaRefs().AssetKeys() {
		if m.media.Has(key) {
			continue
		}
		if err := ctx.Err(); err != nil {
			errs = append(errs, &domain.MediaFetchError{Key: key, Err: err})
			continue
		}

		data, err := m.remote.FetchAttachment(ctx, attachmentPath(rec.InternalID, key))
		if err != nil {
			errs = append(errs, &domain.MediaFetchError{Key: key, Err: err})
			continue
		}
		if err := m.media.Save(key, data); err != nil {
			errs = append(errs, &domain.MediaFetchError{Key: key, Err: err})
			continue
		}
		m.logger.Printf("fetched %s for record %s (%d bytes)", key, rec.UniqueID, len(data))
	}
	return errors.Join(errs...)
}
