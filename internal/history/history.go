// Package history builds the audit entries attached to records on every
// local mutation. Everything here is pure: no storage, no clock reads.
package history

import (
	"time"

	"fieldsync/internal/domain"
)

// absent stands in for the missing side of an added or removed field.
const absent = ""

// Creation records every initial field as a change from absent.
func Creation(rec *domain.Record, actor domain.UserContext, at time.Time) domain.HistoryEntry {
	entry := newEntry(actor, at)
	for _, key := range rec.Fields.Keys() {
		if skip(key) {
			continue
		}
		v, _ := rec.Fields.Get(key)
		entry.Changes = append(entry.Changes, domain.Change{Field: key, From: absent, To: v})
	}
	return entry
}

// Diff compares two versions of a record field by field.
func Diff(previous, current *domain.Record, actor domain.UserContext, at time.Time) domain.HistoryEntry {
	entry := newEntry(actor, at)
	var prevFields, curFields *domain.Fields
	if previous != nil {
		prevFields = previous.Fields
	}
	if current != nil {
		curFields = current.Fields
	}
	entry.Changes = Changes(prevFields, curFields)
	return entry
}

// Changes lists the differences between two field sets, in first-seen order
// across previous then current.
func Changes(previous, current *domain.Fields) []domain.Change {
	var changes []domain.Change

	for _, key := range previous.Keys() {
		if skip(key) {
			continue
		}
		old, _ := previous.Get(key)
		now, ok := current.Get(key)
		switch {
		case !ok:
			changes = append(changes, domain.Change{Field: key, From: old, To: absent})
		case !domain.Equal(old, now):
			changes = append(changes, domain.Change{Field: key, From: old, To: now})
		}
	}

	for _, key := range current.Keys() {
		if skip(key) || previous.Has(key) {
			continue
		}
		now, _ := current.Get(key)
		changes = append(changes, domain.Change{Field: key, From: absent, To: now})
	}

	return changes
}

func newEntry(actor domain.UserContext, at time.Time) domain.HistoryEntry {
	return domain.HistoryEntry{
		Timestamp:    at.UTC(),
		UserName:     actor.UserName,
		Organisation: actor.Organisation,
	}
}

func skip(key string) bool {
	return domain.IsBookkeepingKey(key) || domain.IsLocalOnlyKey(key)
}
