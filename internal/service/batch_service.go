package service

import (
	"context"
	"log"
	"os"
	"sync"

	"fieldsync/internal/domain"
	"fieldsync/internal/repository"
	"fieldsync/internal/task"

	"golang.org/x/sync/errgroup"
)

type Scope int

const (
	ScopeCurrentUser Scope = iota
	ScopeEveryone
)

func (s Scope) String() string {
	if s == ScopeEveryone {
		return "everyone"
	}
	return "current user"
}

// RecordOutcome is the result of one record in a batch. MediaErr is set when
// the push succeeded but some assets could not be fetched.
type RecordOutcome struct {
	UniqueID string
	Record   *domain.Record
	Err      error
	MediaErr error
}

type BatchReport struct {
	Total         int
	Succeeded     int
	Failed        int
	MediaFailures int
	Outcomes      []RecordOutcome
	Cancelled     bool
}

// Failures returns the outcomes of records that were attempted and failed.
func (r *BatchReport) Failures() []RecordOutcome {
	var out []RecordOutcome
	for _, o := range r.Outcomes {
		if o.Err != nil {
			out = append(out, o)
		}
	}
	return out
}

type BatchService struct {
	records     repository.RecordRepository
	syncer      *SyncService
	concurrency int
	logger      *log.Logger
}

func NewBatchService(records repository.RecordRepository, syncService *SyncService, concurrency int, logger *log.Logger) *BatchService {
	if concurrency <= 0 {
		concurrency = 1
	}
	if logger == nil {
		logger = log.New(os.Stderr, "[batch] ", log.LstdFlags)
	}
	return &BatchService{
		records:     records,
		syncer:      syncService,
		concurrency: concurrency,
		logger:      logger,
	}
}

// SyncAll pushes every unsynced record in scope. A failing record never stops
// the rest. The selection is read fresh on each call, so a rerun after an
// interruption picks up exactly what is left. On cancellation the partial
// report is returned together with the context error.
func (b *BatchService) SyncAll(ctx context.Context, scope Scope) (*BatchReport, error) {
	return b.run(ctx, scope, nil)
}

// Start runs SyncAll in the background.
func (b *BatchService) Start(ctx context.Context, scope Scope) *task.Task[*BatchReport] {
	return task.Start(ctx, func(ctx context.Context, report task.Reporter) (*BatchReport, error) {
		return b.run(ctx, scope, report)
	})
}

func (b *BatchService) run(ctx context.Context, scope Scope, report task.Reporter) (*BatchReport, error) {
	pending, err := b.selectPending(ctx, scope)
	if err != nil {
		return nil, err
	}

	result := &BatchReport{
		Total:    len(pending),
		Outcomes: make([]RecordOutcome, len(pending)),
	}
	attempted := make([]bool, len(pending))

	var (
		mu   sync.Mutex
		done int
	)

	g := new(errgroup.Group)
	g.SetLimit(b.concurrency)

	for i, rec := range pending {
		i, rec := i, rec
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			merged, mediaErr, err := b.syncer.sync(ctx, rec, "")

			mu.Lock()
			defer mu.Unlock()
			attempted[i] = true
			result.Outcomes[i] = RecordOutcome{
				UniqueID: rec.UniqueID,
				Record:   merged,
				Err:      err,
				MediaErr: mediaErr,
			}
			done++
			if err != nil {
				b.logger.Printf("record %s failed: %v", rec.UniqueID, err)
			}
			if report != nil {
				report(task.Progress{Done: done, Total: len(pending), Item: rec.UniqueID, Err: err})
			}
			return nil
		})
	}
	_ = g.Wait()

	outcomes := result.Outcomes[:0]
	for i, o := range result.Outcomes {
		if !attempted[i] {
			continue
		}
		switch {
		case o.Err != nil:
			result.Failed++
		default:
			result.Succeeded++
			if o.MediaErr != nil {
				result.MediaFailures++
			}
		}
		outcomes = append(outcomes, o)
	}
	result.Outcomes = outcomes

	b.logger.Printf("batch (%s): %d/%d synced, %d failed, %d with missing media",
		scope, result.Succeeded, result.Total, result.Failed, result.MediaFailures)

	if err := ctx.Err(); err != nil {
		result.Cancelled = true
		return result, err
	}
	return result, nil
}

func (b *BatchService) selectPending(ctx context.Context, scope Scope) ([]*domain.Record, error) {
	if scope == ScopeEveryone {
		return b.records.AllUnsynced(ctx)
	}
	return b.records.UnsyncedForCurrentUser(ctx)
}
