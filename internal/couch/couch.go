// Package couch stores server-side record documents, their attachments and
// user accounts in CouchDB.
package couch

import (
	"context"
	"fmt"
	"log"

	"github.com/go-kivik/kivik/v4"
	_ "github.com/go-kivik/kivik/v4/couchdb"
)

// Connect opens the CouchDB server and makes sure dbName exists along with
// the Mango indexes the repositories query by.
func Connect(ctx context.Context, url, dbName string) (*kivik.Client, error) {
	client, err := kivik.New("couch", url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to CouchDB: %w", err)
	}

	exists, err := client.DBExists(ctx, dbName)
	if err != nil {
		return nil, fmt.Errorf("failed to check database existence: %w", err)
	}
	if !exists {
		if err := client.CreateDB(ctx, dbName); err != nil {
			return nil, fmt.Errorf("failed to create database: %w", err)
		}
		log.Printf("Created database: %s", dbName)
	}

	db := client.DB(dbName)
	indexes := map[string][]string{
		"by-owner":     {"couchrest-type", "created_by"},
		"by-unique-id": {"couchrest-type", "unique_identifier"},
	}
	for name, fields := range indexes {
		index := map[string]interface{}{"fields": fields}
		if err := db.CreateIndex(ctx, "fieldsync", name, index); err != nil {
			return nil, fmt.Errorf("failed to create index %s: %w", name, err)
		}
	}

	return client, nil
}

func isNotFound(err error) bool {
	return kivik.HTTPStatus(err) == 404
}
