package couch

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"fieldsync/internal/domain"

	"github.com/go-kivik/kivik/v4"
)

// DocType tags record documents so they can be told apart from accounts.
const DocType = "Child"

type Attachment struct {
	ContentType string
	Data        []byte
}

type RecordRepository interface {
	Put(ctx context.Context, doc *domain.Fields) (string, error)
	Get(ctx context.Context, id string) (*domain.Fields, error)
	FindByUniqueID(ctx context.Context, owner, uniqueID string) (*domain.Fields, error)
	PutAttachment(ctx context.Context, id, rev, key string, att *Attachment) (string, error)
	GetAttachment(ctx context.Context, id, key string) (*Attachment, error)
	IDsAndRevs(ctx context.Context, owner string) (map[string]string, error)
}

type recordRepository struct {
	client *kivik.Client
	dbName string
}

func NewRecordRepository(client *kivik.Client, dbName string) RecordRepository {
	return &recordRepository{
		client: client,
		dbName: dbName,
	}
}

// Put writes doc under its _id. A _rev in doc makes it an update.
func (r *recordRepository) Put(ctx context.Context, doc *domain.Fields) (string, error) {
	db := r.client.DB(r.dbName)

	id := doc.String(domain.KeyInternalID)
	if id == "" {
		return "", fmt.Errorf("failed to save record: missing document id")
	}

	rev, err := db.Put(ctx, id, doc)
	if err != nil {
		return "", fmt.Errorf("failed to save record %s: %w", id, err)
	}
	return rev, nil
}

func (r *recordRepository) Get(ctx context.Context, id string) (*domain.Fields, error) {
	db := r.client.DB(r.dbName)

	doc := domain.NewFields()
	if err := db.Get(ctx, id).ScanDoc(doc); err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("record %s: %w", id, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to find record: %w", err)
	}
	if doc.String(domain.KeyDocType) != DocType {
		return nil, fmt.Errorf("record %s: %w", id, domain.ErrNotFound)
	}
	return doc, nil
}

func (r *recordRepository) FindByUniqueID(ctx context.Context, owner, uniqueID string) (*domain.Fields, error) {
	db := r.client.DB(r.dbName)

	query := map[string]interface{}{
		"selector": map[string]interface{}{
			domain.KeyDocType:  DocType,
			domain.KeyUniqueID: uniqueID,
			domain.KeyOwner:    owner,
		},
		"limit": 1,
	}

	rows := db.Find(ctx, query)
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("failed to query record by unique id: %w", err)
		}
		return nil, fmt.Errorf("record %s: %w", uniqueID, domain.ErrNotFound)
	}

	doc := domain.NewFields()
	if err := rows.ScanDoc(doc); err != nil {
		return nil, fmt.Errorf("failed to scan record: %w", err)
	}
	return doc, nil
}

func (r *recordRepository) PutAttachment(ctx context.Context, id, rev, key string, att *Attachment) (string, error) {
	db := r.client.DB(r.dbName)

	newRev, err := db.PutAttachment(ctx, id, &kivik.Attachment{
		Filename:    key,
		ContentType: att.ContentType,
		Content:     io.NopCloser(bytes.NewReader(att.Data)),
	}, kivik.Rev(rev))
	if err != nil {
		return "", fmt.Errorf("failed to store attachment %s: %w", key, err)
	}
	return newRev, nil
}

func (r *recordRepository) GetAttachment(ctx context.Context, id, key string) (*Attachment, error) {
	db := r.client.DB(r.dbName)

	att, err := db.GetAttachment(ctx, id, key)
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("attachment %s: %w", key, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to fetch attachment %s: %w", key, err)
	}
	defer att.Content.Close()

	data, err := io.ReadAll(att.Content)
	if err != nil {
		return nil, fmt.Errorf("failed to read attachment %s: %w", key, err)
	}
	return &Attachment{ContentType: att.ContentType, Data: data}, nil
}

func (r *recordRepository) IDsAndRevs(ctx context.Context, owner string) (map[string]string, error) {
	db := r.client.DB(r.dbName)

	query := map[string]interface{}{
		"selector": map[string]interface{}{
			domain.KeyDocType: DocType,
			domain.KeyOwner:   owner,
		},
		"fields": []string{domain.KeyInternalID, domain.KeyInternalRev},
	}

	rows := db.Find(ctx, query)
	defer rows.Close()

	revs := make(map[string]string)
	for rows.Next() {
		var doc struct {
			ID  string `json:"_id"`
			Rev string `json:"_rev"`
		}
		if err := rows.ScanDoc(&doc); err != nil {
			return nil, fmt.Errorf("failed to scan revision: %w", err)
		}
		revs[doc.ID] = doc.Rev
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list revisions: %w", err)
	}
	return revs, nil
}
