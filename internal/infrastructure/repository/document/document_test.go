package document

import (
	"context"
	"database/sql"
	"os"
	"testing"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/nalgeon/be"

	document_domain "github.com/huavcjj/threadsync/internal/domain/document"
	"github.com/huavcjj/threadsync/internal/infrastructure/db"
)

func TestDBDocumentToDomain(t *testing.T) {
	created := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	doc := dbDocumentToDomain(db.Document{
		ID:        "d1",
		Filename:  "plan.pdf",
		MimeType:  "application/pdf",
		Content:   []byte("%PDF"),
		CreatedAt: sql.NullTime{Time: created, Valid: true},
	})
	be.Equal(t, doc.ID, "d1")
	be.Equal(t, doc.OwnerID, "")
	be.Equal(t, doc.Size(), int64(4))
	be.True(t, doc.CreatedAt.Equal(created))
}

// TestDocumentRepo_MySQL runs against a real database when TEST_MYSQL_DSN is set.
func TestDocumentRepo_MySQL(t *testing.T) {
	dsn := os.Getenv("TEST_MYSQL_DSN")
	if dsn == "" {
		t.Skip("TEST_MYSQL_DSN not set")
	}
	conn, err := sql.Open("mysql", dsn)
	be.Err(t, err, nil)
	defer conn.Close()

	repo := NewDocumentRepo(conn)
	ctx := context.Background()

	doc := &document_domain.Document{Filename: "a.txt", MimeType: "text/plain", Content: []byte("hello")}
	be.Err(t, repo.CreateDocument(ctx, doc), nil)

	got, err := repo.GetDocument(ctx, doc.ID)
	be.Err(t, err, nil)
	be.Equal(t, got.Content, []byte("hello"))

	missing, err := repo.GetDocument(ctx, "does-not-exist")
	be.Err(t, err, nil)
	be.True(t, missing == nil)
}
