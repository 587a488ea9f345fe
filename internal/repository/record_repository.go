package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"fieldsync/internal/domain"
	"fieldsync/internal/history"

	"github.com/go-playground/validator/v10"
)

// DefaultPageSize is the window returned by FirstPage.
const DefaultPageSize = 30

const timeLayout = time.RFC3339Nano

type RecordRepository interface {
	Get(ctx context.Context, id string) (*domain.Record, error)
	Exists(ctx context.Context, id string) bool
	CreateOrUpdate(ctx context.Context, rec *domain.Record) error
	CreateOrUpdateWithoutHistory(ctx context.Context, rec *domain.Record) error
	CommitSync(ctx context.Context, rec *domain.Record, transmitted int) error
	UnsyncedForCurrentUser(ctx context.Context) ([]*domain.Record, error)
	AllUnsynced(ctx context.Context) ([]*domain.Record, error)
	IDsAndRevs(ctx context.Context) (map[string]string, error)
	FirstPage(ctx context.Context) ([]*domain.Record, error)
	Between(ctx context.Context, from, to int) ([]*domain.Record, error)
	Size(ctx context.Context) (int, error)
	RecordIDsByOwner(ctx context.Context) ([]string, error)
	GetByIDs(ctx context.Context, ids []string) ([]*domain.Record, error)
	GetByInternalIDs(ctx context.Context, internalIDs []string) ([]*domain.Record, error)
	DeleteAllForOwner(ctx context.Context, owner string) error
}

type recordRepository struct {
	db       *DB
	user     domain.UserContext
	pageSize int
	locks    *keyedLock
	validate *validator.Validate
	now      func() time.Time
}

func NewRecordRepository(db *DB, user domain.UserContext, pageSize int) RecordRepository {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &recordRepository{
		db:       db,
		user:     user,
		pageSize: pageSize,
		locks:    newKeyedLock(),
		validate: validator.New(),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

const selectColumns = `SELECT id, record_json, synced FROM records`

func (r *recordRepository) Get(ctx context.Context, id string) (*domain.Record, error) {
	row := r.db.conn.QueryRowContext(ctx, selectColumns+` WHERE id = ?`, id)

	var (
		rowID  string
		data   string
		synced bool
	)
	if err := row.Scan(&rowID, &data, &synced); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("record %s: %w", id, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to find record: %w", err)
	}
	return decodeRecord(rowID, []byte(data), synced)
}

func (r *recordRepository) Exists(ctx context.Context, id string) bool {
	if id == "" {
		return false
	}
	var one int
	err := r.db.conn.QueryRowContext(ctx, `SELECT 1 FROM records WHERE id = ?`, id).Scan(&one)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			log.Printf("[records] exists check for %s failed: %v", id, err)
		}
		return false
	}
	return true
}

// CreateOrUpdate appends an audit entry for the change and persists the
// record. The caller's record is updated in place.
func (r *recordRepository) CreateOrUpdate(ctx context.Context, rec *domain.Record) error {
	if rec == nil || rec.UniqueID == "" {
		return fmt.Errorf("failed to save record: unique id is required")
	}

	unlock := r.locks.Lock(rec.UniqueID)
	defer unlock()

	now := r.now()

	existing, err := r.Get(ctx, rec.UniqueID)
	switch {
	case err == nil:
		// The stored trail is authoritative; a stale copy must not drop entries.
		rec.History = existing.History
		entry := history.Diff(existing, rec, r.user, now)
		if !entry.IsEmpty() {
			rec.AddHistory(entry)
		}
	case errors.Is(err, domain.ErrNotFound):
		rec.AddHistory(history.Creation(rec, r.user, now))
	default:
		return err
	}

	if rec.Owner == "" {
		rec.Owner = r.user.UserName
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.LastUpdatedAt = now
	rec.Synced = false

	return r.persist(ctx, rec)
}

// CreateOrUpdateWithoutHistory writes the record verbatim.
func (r *recordRepository) CreateOrUpdateWithoutHistory(ctx context.Context, rec *domain.Record) error {
	if rec == nil {
		return fmt.Errorf("failed to save record: nil record")
	}
	unlock := r.locks.Lock(rec.UniqueID)
	defer unlock()

	return r.persist(ctx, rec)
}

// CommitSync stores the merged result of a push that carried the first
// transmitted entries of the stored history. Entries appended while the push
// was in flight are kept together with the field values they wrote, and the
// record stays unsynced until they are pushed too. rec is updated in place.
func (r *recordRepository) CommitSync(ctx context.Context, rec *domain.Record, transmitted int) error {
	if rec == nil {
		return fmt.Errorf("failed to save record: nil record")
	}
	unlock := r.locks.Lock(rec.UniqueID)
	defer unlock()

	stored, err := r.Get(ctx, rec.UniqueID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return r.persist(ctx, rec)
		}
		return err
	}
	if transmitted < 0 {
		transmitted = 0
	}
	if len(stored.History) <= transmitted {
		return r.persist(ctx, rec)
	}

	if rec.Fields == nil {
		rec.Fields = domain.NewFields()
	}
	pending := stored.History[transmitted:]
	rec.History = make([]domain.HistoryEntry, len(pending))
	for i, h := range pending {
		rec.History[i] = h.Clone()
		for _, c := range h.Changes {
			if v, ok := stored.Fields.Get(c.Field); ok {
				rec.Fields.Set(c.Field, v)
			} else {
				rec.Fields.Delete(c.Field)
			}
		}
	}
	if stored.LastUpdatedAt.After(rec.LastUpdatedAt) {
		rec.LastUpdatedAt = stored.LastUpdatedAt
	}
	rec.Synced = false

	log.Printf("[records] %s: %d change(s) made during sync are still pending", rec.UniqueID, len(pending))
	return r.persist(ctx, rec)
}

func (r *recordRepository) persist(ctx context.Context, rec *domain.Record) error {
	if err := r.validate.Struct(rec); err != nil {
		return fmt.Errorf("failed to save record: %w", err)
	}
	if rec.LastUpdatedAt.Before(rec.CreatedAt) {
		rec.LastUpdatedAt = rec.CreatedAt
	}

	data, err := encodeRecord(rec)
	if err != nil {
		return fmt.Errorf("failed to encode record %s: %w", rec.UniqueID, err)
	}

	var lastSynced any
	if !rec.LastSyncedAt.IsZero() {
		lastSynced = rec.LastSyncedAt.UTC().Format(timeLayout)
	}

	_, err = r.db.conn.ExecContext(ctx, `
		INSERT INTO records
		(id, owner, record_json, synced, created_at, last_updated_at, last_synced_at, internal_id, internal_rev)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			owner = excluded.owner,
			record_json = excluded.record_json,
			synced = excluded.synced,
			created_at = excluded.created_at,
			last_updated_at = excluded.last_updated_at,
			last_synced_at = excluded.last_synced_at,
			internal_id = excluded.internal_id,
			internal_rev = excluded.internal_rev
	`,
		rec.UniqueID,
		rec.Owner,
		string(data),
		rec.Synced,
		rec.CreatedAt.UTC().Format(timeLayout),
		rec.LastUpdatedAt.UTC().Format(timeLayout),
		lastSynced,
		rec.InternalID,
		rec.InternalRev,
	)
	if err != nil {
		return fmt.Errorf("failed to save record %s: %w", rec.UniqueID, err)
	}
	return nil
}

func (r *recordRepository) UnsyncedForCurrentUser(ctx context.Context) ([]*domain.Record, error) {
	return r.query(ctx, selectColumns+` WHERE synced = 0 AND owner = ? ORDER BY seq`, r.user.UserName)
}

func (r *recordRepository) AllUnsynced(ctx context.Context) ([]*domain.Record, error) {
	return r.query(ctx, selectColumns+` WHERE synced = 0 ORDER BY seq`)
}

// IDsAndRevs maps server ids to revisions for records the server has accepted.
func (r *recordRepository) IDsAndRevs(ctx context.Context) (map[string]string, error) {
	rows, err := r.db.conn.QueryContext(ctx, `SELECT internal_id, internal_rev FROM records WHERE internal_id != ''`)
	if err != nil {
		return nil, fmt.Errorf("failed to list revisions: %w", err)
	}
	defer rows.Close()

	revs := make(map[string]string)
	for rows.Next() {
		var id, rev string
		if err := rows.Scan(&id, &rev); err != nil {
			return nil, fmt.Errorf("failed to scan revision: %w", err)
		}
		revs[id] = rev
	}
	return revs, rows.Err()
}

func (r *recordRepository) FirstPage(ctx context.Context) ([]*domain.Record, error) {
	return r.Between(ctx, 0, r.pageSize)
}

// Between returns the current user's records in insertion order, in the
// window [from, to).
func (r *recordRepository) Between(ctx context.Context, from, to int) ([]*domain.Record, error) {
	if from < 0 {
		from = 0
	}
	if to <= from {
		return []*domain.Record{}, nil
	}
	return r.query(ctx, selectColumns+` WHERE owner = ? ORDER BY seq LIMIT ? OFFSET ?`,
		r.user.UserName, to-from, from)
}

func (r *recordRepository) Size(ctx context.Context) (int, error) {
	var n int
	if err := r.db.conn.QueryRowContext(ctx, `SELECT COUNT(1) FROM records WHERE owner = ?`, r.user.UserName).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count records: %w", err)
	}
	return n, nil
}

func (r *recordRepository) RecordIDsByOwner(ctx context.Context) ([]string, error) {
	rows, err := r.db.conn.QueryContext(ctx, `SELECT id FROM records WHERE owner = ? ORDER BY seq`, r.user.UserName)
	if err != nil {
		return nil, fmt.Errorf("failed to list record ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan record id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// GetByIDs fails with ErrNotFound if any id is missing.
func (r *recordRepository) GetByIDs(ctx context.Context, ids []string) ([]*domain.Record, error) {
	records := make([]*domain.Record, 0, len(ids))
	for _, id := range ids {
		rec, err := r.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

// GetByInternalIDs skips server ids that have no local record.
func (r *recordRepository) GetByInternalIDs(ctx context.Context, internalIDs []string) ([]*domain.Record, error) {
	if len(internalIDs) == 0 {
		return []*domain.Record{}, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(internalIDs)), ",")
	args := make([]any, len(internalIDs))
	for i, id := range internalIDs {
		args[i] = id
	}
	return r.query(ctx, selectColumns+` WHERE internal_id IN (`+placeholders+`) ORDER BY seq`, args...)
}

func (r *recordRepository) DeleteAllForOwner(ctx context.Context, owner string) error {
	if _, err := r.db.conn.ExecContext(ctx, `DELETE FROM records WHERE owner = ?`, owner); err != nil {
		return fmt.Errorf("failed to delete records for %s: %w", owner, err)
	}
	return nil
}

func (r *recordRepository) query(ctx context.Context, query string, args ...any) ([]*domain.Record, error) {
	rows, err := r.db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query records: %w", err)
	}
	defer rows.Close()

	records := []*domain.Record{}
	for rows.Next() {
		var (
			id     string
			data   string
			synced bool
		)
		if err := rows.Scan(&id, &data, &synced); err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		rec, err := decodeRecord(id, []byte(data), synced)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate records: %w", err)
	}
	return records, nil
}
