package service

import (
	"context"
	"io"
	"log"
	"net/http"
	"testing"
	"time"

	"fieldsync/internal/client"
	"fieldsync/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBatch(fx *fixture, concurrency int) *BatchService {
	return NewBatchService(fx.records, fx.sync, concurrency, log.New(io.Discard, "", 0))
}

func failFor(ids ...string) func(ctx context.Context, f *fakeRemote, call pushCall) (*domain.Fields, error) {
	bad := make(map[string]bool)
	for _, id := range ids {
		bad[id] = true
	}
	return func(ctx context.Context, f *fakeRemote, call pushCall) (*domain.Fields, error) {
		if bad[call.Payload.Child.String(domain.KeyUniqueID)] {
			return nil, &client.HTTPError{StatusCode: http.StatusBadGateway}
		}
		return f.accept(call), nil
	}
}

func TestBatchService_PartialFailure(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t, verifiedWorker)

	a := fx.create(t, "name", "a")
	b := fx.create(t, "name", "b")
	c := fx.create(t, "name", "c")
	fx.remote.pushFn = failFor(b.UniqueID)

	report, err := newBatch(fx, 1).SyncAll(ctx, ScopeCurrentUser)
	require.NoError(t, err)
	assert.Equal(t, 3, report.Total)
	assert.Equal(t, 2, report.Succeeded)
	assert.Equal(t, 1, report.Failed)
	assert.False(t, report.Cancelled)
	require.Len(t, report.Outcomes, 3)
	assert.Equal(t, []string{a.UniqueID, b.UniqueID, c.UniqueID},
		[]string{report.Outcomes[0].UniqueID, report.Outcomes[1].UniqueID, report.Outcomes[2].UniqueID})

	failures := report.Failures()
	require.Len(t, failures, 1)
	assert.Equal(t, b.UniqueID, failures[0].UniqueID)
	assert.ErrorIs(t, failures[0].Err, domain.ErrSyncFailed)

	for _, id := range []string{a.UniqueID, c.UniqueID} {
		rec, err := fx.records.Get(ctx, id)
		require.NoError(t, err)
		assert.True(t, rec.Synced)
		assert.Empty(t, rec.History)
	}
	failed, err := fx.records.Get(ctx, b.UniqueID)
	require.NoError(t, err)
	assert.False(t, failed.Synced)
	assert.Len(t, failed.History, 1)

	// A rerun only pushes what is still unsynced.
	fx.remote.pushFn = nil
	before := fx.remote.pushCount()
	report, err = newBatch(fx, 1).SyncAll(ctx, ScopeCurrentUser)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Total)
	assert.Equal(t, 1, report.Succeeded)
	assert.Equal(t, before+1, fx.remote.pushCount())
}

func TestBatchService_EditAfterSelection(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t, verifiedWorker)

	a := fx.create(t, "name", "a")
	b := fx.create(t, "name", "b")

	edited := false
	fx.remote.pushFn = func(ctx context.Context, f *fakeRemote, call pushCall) (*domain.Fields, error) {
		if !edited && call.Payload.Child.String(domain.KeyUniqueID) == a.UniqueID {
			edited = true
			current, err := fx.records.Get(ctx, b.UniqueID)
			if err != nil {
				return nil, err
			}
			current.Fields.Set("name", "b2")
			if err := fx.records.CreateOrUpdate(ctx, current); err != nil {
				return nil, err
			}
		}
		return f.accept(call), nil
	}

	report, err := newBatch(fx, 1).SyncAll(ctx, ScopeCurrentUser)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Succeeded)
	require.True(t, edited)

	// b went out as selected, before the edit.
	require.Len(t, fx.remote.pushes, 2)
	assert.Equal(t, "b", fx.remote.pushes[1].Payload.Child.String("name"))

	stored, err := fx.records.Get(ctx, b.UniqueID)
	require.NoError(t, err)
	assert.False(t, stored.Synced)
	assert.Equal(t, "b2", stored.Fields.String("name"))
	require.Len(t, stored.History, 1)
	assert.Equal(t, []domain.Change{{Field: "name", From: "b", To: "b2"}}, stored.History[0].Changes)
	assert.NotEmpty(t, stored.InternalID)

	fx.remote.pushFn = nil
	report, err = newBatch(fx, 1).SyncAll(ctx, ScopeCurrentUser)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Total)
	assert.Equal(t, b.UniqueID, report.Outcomes[0].UniqueID)
	assert.Equal(t, http.MethodPut, fx.remote.lastPush().Method)
	assert.Equal(t, "b2", fx.remote.lastPush().Payload.Child.String("name"))

	final, err := fx.records.Get(ctx, b.UniqueID)
	require.NoError(t, err)
	assert.True(t, final.Synced)
	assert.Empty(t, final.History)
}

func TestBatchService_Scope(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t, verifiedWorker)

	fx.create(t, "name", "mine")
	other := domain.NewRecord("someone_else", domain.FieldsFrom("name", "theirs"))
	require.NoError(t, fx.records.CreateOrUpdate(ctx, other))

	report, err := newBatch(fx, 1).SyncAll(ctx, ScopeCurrentUser)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Total)

	report, err = newBatch(fx, 1).SyncAll(ctx, ScopeEveryone)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Total)
	assert.Equal(t, other.UniqueID, report.Outcomes[0].UniqueID)
}

func TestBatchService_Concurrent(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t, verifiedWorker)
	for i := 0; i < 10; i++ {
		fx.create(t, "n", i)
	}

	report, err := newBatch(fx, 4).SyncAll(ctx, ScopeCurrentUser)
	require.NoError(t, err)
	assert.Equal(t, 10, report.Succeeded)

	unsynced, err := fx.records.UnsyncedForCurrentUser(ctx)
	require.NoError(t, err)
	assert.Empty(t, unsynced)
}

func TestBatchService_MediaFailuresCounted(t *testing.T) {
	fx := newFixture(t, verifiedWorker)
	fx.create(t, domain.KeyCurrentPhotoKey, "not-local")

	report, err := newBatch(fx, 1).SyncAll(context.Background(), ScopeCurrentUser)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Succeeded)
	assert.Equal(t, 1, report.MediaFailures)
	assert.ErrorIs(t, report.Outcomes[0].MediaErr, domain.ErrMediaFetchFailed)
}

func TestBatchService_CancelledBeforeStart(t *testing.T) {
	fx := newFixture(t, verifiedWorker)
	fx.create(t, "name", "a")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := newBatch(fx, 1).SyncAll(ctx, ScopeCurrentUser)
	assert.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, report)
	assert.True(t, report.Cancelled)
	assert.Empty(t, report.Outcomes)
	assert.Zero(t, fx.remote.pushCount())
}

func TestBatchService_CancelMidway(t *testing.T) {
	fx := newFixture(t, verifiedWorker)
	a := fx.create(t, "name", "a")
	b := fx.create(t, "name", "b")
	fx.create(t, "name", "c")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	fx.remote.pushFn = func(_ context.Context, f *fakeRemote, call pushCall) (*domain.Fields, error) {
		if call.Payload.Child.String(domain.KeyUniqueID) == b.UniqueID {
			cancel()
			return nil, context.Canceled
		}
		return f.accept(call), nil
	}

	report, err := newBatch(fx, 1).SyncAll(ctx, ScopeCurrentUser)
	assert.ErrorIs(t, err, context.Canceled)
	assert.True(t, report.Cancelled)
	assert.Equal(t, 1, report.Succeeded)
	assert.Equal(t, 1, report.Failed)
	assert.Len(t, report.Outcomes, 2)
	assert.Equal(t, 2, fx.remote.pushCount())

	committed, err := fx.records.Get(context.Background(), a.UniqueID)
	require.NoError(t, err)
	assert.True(t, committed.Synced)

	// Resume picks up the two that are left.
	fx.remote.pushFn = nil
	report, err = newBatch(fx, 1).SyncAll(context.Background(), ScopeCurrentUser)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Total)
	assert.Equal(t, 2, report.Succeeded)
}

func TestBatchService_StartReportsProgress(t *testing.T) {
	fx := newFixture(t, verifiedWorker)
	fx.create(t, "name", "a")
	fx.create(t, "name", "b")

	tk := newBatch(fx, 1).Start(context.Background(), ScopeCurrentUser)

	var last int
	for p := range tk.Progress() {
		assert.Equal(t, 2, p.Total)
		last = p.Done
	}
	assert.Equal(t, 2, last)

	select {
	case <-tk.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("batch task did not finish")
	}
	report, err := tk.Wait()
	require.NoError(t, err)
	assert.Equal(t, 2, report.Succeeded)
}

func TestConsistencyService_Check(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t, verifiedWorker)

	fx.create(t, "name", "same")
	stale := fx.create(t, "name", "stale")
	_, err := newBatch(fx, 1).SyncAll(ctx, ScopeCurrentUser)
	require.NoError(t, err)

	fx.remote.revs["srv-"+stale.UniqueID] = "9-newer"
	fx.remote.revs["srv-only-on-server"] = "1-x"

	local := domain.NewRecord("field_worker", domain.FieldsFrom("name", "gone"))
	local.InternalID, local.InternalRev, local.Synced = "srv-deleted", "3-y", true
	require.NoError(t, fx.records.CreateOrUpdateWithoutHistory(ctx, local))

	report, err := NewConsistencyService(fx.records, fx.remote).Check(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Matching)
	assert.Equal(t, []string{"srv-" + stale.UniqueID}, report.RevMismatch)
	assert.Equal(t, []string{"srv-only-on-server"}, report.MissingLocally)
	assert.Equal(t, []string{"srv-deleted"}, report.MissingRemotely)
	assert.False(t, report.Consistent())
}
