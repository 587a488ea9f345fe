package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrCorruptRecord    = errors.New("corrupt record")
	ErrSyncFailed       = errors.New("sync failed")
	ErrMediaFetchFailed = errors.New("media fetch failed")
)

// CorruptRecordError reports a stored payload that cannot be decoded.
type CorruptRecordError struct {
	ID  string
	Err error
}

func (e *CorruptRecordError) Error() string {
	return fmt.Sprintf("corrupt record %s: %v", e.ID, e.Err)
}

func (e *CorruptRecordError) Unwrap() error { return e.Err }

func (e *CorruptRecordError) Is(target error) bool { return target == ErrCorruptRecord }

// SyncFailedError is a transport failure or server rejection during a push.
// StatusCode is 0 when no response was received.
type SyncFailedError struct {
	ID         string
	StatusCode int
	Err        error
}

func (e *SyncFailedError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("sync of record %s failed with status %d: %v", e.ID, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("sync of record %s failed: %v", e.ID, e.Err)
}

func (e *SyncFailedError) Unwrap() error { return e.Err }

func (e *SyncFailedError) Is(target error) bool { return target == ErrSyncFailed }

// MediaFetchError is a non-fatal failure to pull one asset.
type MediaFetchError struct {
	Key string
	Err error
}

func (e *MediaFetchError) Error() string {
	return fmt.Sprintf("fetch media %s: %v", e.Key, e.Err)
}

func (e *MediaFetchError) Unwrap() error { return e.Err }

func (e *MediaFetchError) Is(target error) bool { return target == ErrMediaFetchFailed }

// Retryable reports whether the failure is worth retrying later as opposed to
// a data problem.
func Retryable(err error) bool {
	return errors.Is(err, ErrSyncFailed) || errors.Is(err, ErrMediaFetchFailed)
}
