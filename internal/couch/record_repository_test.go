package couch

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"

	"fieldsync/internal/domain"

	"github.com/go-kivik/kivik/v4/driver"
	"github.com/go-kivik/kivik/v4/mockdb"
)

const testDB = "fieldsync"

// statusError is a driver error carrying an HTTP status, as the CouchDB
// driver returns them.
type statusError int

func (e statusError) Error() string   { return http.StatusText(int(e)) }
func (e statusError) HTTPStatus() int { return int(e) }

func newMock(t *testing.T) (RecordRepository, *mockdb.Client, *mockdb.DB) {
	t.Helper()
	client, mock := mockdb.NewT(t)
	return NewRecordRepository(client, testDB), mock, mock.NewDB()
}

func docRow(id, body string) *driver.Row {
	return &driver.Row{ID: id, Doc: strings.NewReader(body)}
}

func checkExpectations(t *testing.T, mock *mockdb.Client) {
	t.Helper()
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestRecordRepository_FindByUniqueID(t *testing.T) {
	repo, mock, db := newMock(t)
	ctx := context.Background()

	query := map[string]interface{}{
		"selector": map[string]interface{}{
			"couchrest-type":    "Child",
			"unique_identifier": "u-1",
			"created_by":        "field_worker",
		},
		"limit": 1,
	}

	mock.ExpectDB().WithName(testDB).WillReturn(db)
	db.ExpectFind().WithQuery(query).WillReturn(mockdb.NewRows().AddRow(docRow("abc",
		`{"_id":"abc","_rev":"1-x","couchrest-type":"Child","unique_identifier":"u-1","created_by":"field_worker","case_no":9007199254740993}`)))

	mock.ExpectDB().WithName(testDB).WillReturn(db)
	db.ExpectFind().WithQuery(query).WillReturn(mockdb.NewRows())

	doc, err := repo.FindByUniqueID(ctx, "field_worker", "u-1")
	if err != nil {
		t.Fatalf("FindByUniqueID() error = %v", err)
	}
	if doc.String(domain.KeyInternalID) != "abc" {
		t.Errorf("_id = %q, want abc", doc.String(domain.KeyInternalID))
	}
	if doc.String("case_no") != "9007199254740993" {
		t.Errorf("case_no = %q, want every digit kept", doc.String("case_no"))
	}

	if _, err := repo.FindByUniqueID(ctx, "field_worker", "u-1"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("FindByUniqueID() on no rows error = %v, want ErrNotFound", err)
	}

	checkExpectations(t, mock)
}

func TestRecordRepository_IDsAndRevs(t *testing.T) {
	repo, mock, db := newMock(t)

	mock.ExpectDB().WithName(testDB).WillReturn(db)
	db.ExpectFind().WithQuery(map[string]interface{}{
		"selector": map[string]interface{}{
			"couchrest-type": "Child",
			"created_by":     "field_worker",
		},
		"fields": []string{"_id", "_rev"},
	}).WillReturn(mockdb.NewRows().
		AddRow(docRow("a", `{"_id":"a","_rev":"1-a"}`)).
		AddRow(docRow("b", `{"_id":"b","_rev":"3-b"}`)))

	revs, err := repo.IDsAndRevs(context.Background(), "field_worker")
	if err != nil {
		t.Fatalf("IDsAndRevs() error = %v", err)
	}
	want := map[string]string{"a": "1-a", "b": "3-b"}
	if len(revs) != len(want) {
		t.Fatalf("IDsAndRevs() = %v, want %v", revs, want)
	}
	for id, rev := range want {
		if revs[id] != rev {
			t.Errorf("rev[%s] = %q, want %q", id, revs[id], rev)
		}
	}

	checkExpectations(t, mock)
}

func TestRecordRepository_Get(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(t *testing.T, db *mockdb.DB)
		wantErr error
	}{
		{
			name: "record",
			setup: func(t *testing.T, db *mockdb.DB) {
				db.ExpectGet().WithDocID("abc").WillReturn(mockdb.DocumentT(t,
					`{"_id":"abc","_rev":"2-x","couchrest-type":"Child","name":"Amina"}`))
			},
		},
		{
			name: "missing",
			setup: func(t *testing.T, db *mockdb.DB) {
				db.ExpectGet().WithDocID("abc").WillReturnError(statusError(http.StatusNotFound))
			},
			wantErr: domain.ErrNotFound,
		},
		{
			name: "account document",
			setup: func(t *testing.T, db *mockdb.DB) {
				db.ExpectGet().WithDocID("abc").WillReturn(mockdb.DocumentT(t,
					`{"_id":"abc","_rev":"1-x","type":"user"}`))
			},
			wantErr: domain.ErrNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo, mock, db := newMock(t)
			mock.ExpectDB().WithName(testDB).WillReturn(db)
			tt.setup(t, db)

			doc, err := repo.Get(context.Background(), "abc")
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Get() error = %v, want %v", err, tt.wantErr)
				}
			} else {
				if err != nil {
					t.Fatalf("Get() error = %v", err)
				}
				if doc.String("name") != "Amina" || doc.String(domain.KeyInternalRev) != "2-x" {
					t.Errorf("Get() = %s", doc.String("name"))
				}
			}
			checkExpectations(t, mock)
		})
	}
}

func TestRecordRepository_Put(t *testing.T) {
	repo, mock, db := newMock(t)
	ctx := context.Background()

	doc := domain.FieldsFrom(domain.KeyInternalID, "abc", domain.KeyDocType, DocType, "name", "Amina")

	mock.ExpectDB().WithName(testDB).WillReturn(db)
	db.ExpectPut().WithDocID("abc").WithDoc(map[string]interface{}{
		"_id":            "abc",
		"couchrest-type": "Child",
		"name":           "Amina",
	}).WillReturn("1-x")

	rev, err := repo.Put(ctx, doc)
	if err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if rev != "1-x" {
		t.Errorf("Put() rev = %q, want 1-x", rev)
	}

	mock.ExpectDB().WithName(testDB).WillReturn(db)
	if _, err := repo.Put(ctx, domain.FieldsFrom("name", "no id")); err == nil {
		t.Error("Put() without _id should fail")
	}

	checkExpectations(t, mock)
}

func TestRecordRepository_Attachments(t *testing.T) {
	repo, mock, db := newMock(t)
	ctx := context.Background()

	var stored []byte
	mock.ExpectDB().WithName(testDB).WillReturn(db)
	db.ExpectPutAttachment().WithDocID("abc").WillExecute(
		func(_ context.Context, _ string, att *driver.Attachment, _ driver.Options) (string, error) {
			if att.Filename != "photo-1" || att.ContentType != "image/jpeg" {
				t.Errorf("attachment = %s (%s)", att.Filename, att.ContentType)
			}
			var err error
			stored, err = io.ReadAll(att.Content)
			return "2-x", err
		})

	mock.ExpectDB().WithName(testDB).WillReturn(db)
	db.ExpectGetAttachment().WithDocID("abc").WithFilename("photo-1").WillReturn(&driver.Attachment{
		Filename:    "photo-1",
		ContentType: "image/jpeg",
		Content:     io.NopCloser(strings.NewReader("jpeg bytes")),
	})

	mock.ExpectDB().WithName(testDB).WillReturn(db)
	db.ExpectGetAttachment().WithDocID("abc").WithFilename("gone").WillReturnError(statusError(http.StatusNotFound))

	rev, err := repo.PutAttachment(ctx, "abc", "1-x", "photo-1", &Attachment{ContentType: "image/jpeg", Data: []byte("jpeg bytes")})
	if err != nil {
		t.Fatalf("PutAttachment() error = %v", err)
	}
	if rev != "2-x" || string(stored) != "jpeg bytes" {
		t.Errorf("PutAttachment() rev = %q, stored = %q", rev, stored)
	}

	att, err := repo.GetAttachment(ctx, "abc", "photo-1")
	if err != nil {
		t.Fatalf("GetAttachment() error = %v", err)
	}
	if att.ContentType != "image/jpeg" || string(att.Data) != "jpeg bytes" {
		t.Errorf("GetAttachment() = %s %q", att.ContentType, att.Data)
	}

	if _, err := repo.GetAttachment(ctx, "abc", "gone"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("GetAttachment() on missing error = %v, want ErrNotFound", err)
	}

	checkExpectations(t, mock)
}
