package document

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	document_domain "github.com/huavcjj/threadsync/internal/domain/document"
	"github.com/huavcjj/threadsync/internal/infrastructure/db"
)

type documentRepo struct {
	queries *db.Queries
}

var _ document_domain.DocumentRepo = (*documentRepo)(nil)

func NewDocumentRepo(dbConn *sql.DB) document_domain.DocumentRepo {
	return &documentRepo{
		queries: db.New(dbConn),
	}
}

func (r *documentRepo) GetDocument(ctx context.Context, id string) (*document_domain.Document, error) {
	dbDoc, err := r.queries.GetDocument(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get document: %w", err)
	}

	return dbDocumentToDomain(dbDoc), nil
}

func (r *documentRepo) CreateDocument(ctx context.Context, doc *document_domain.Document) error {
	if doc.ID == "" {
		doc.ID = uuid.New().String()
	}

	var ownerID sql.NullString
	if doc.OwnerID != "" {
		ownerID = sql.NullString{String: doc.OwnerID, Valid: true}
	}

	_, err := r.queries.CreateDocument(ctx, db.CreateDocumentParams{
		ID:       doc.ID,
		OwnerID:  ownerID,
		Filename: doc.Filename,
		MimeType: doc.MimeType,
		Content:  doc.Content,
	})
	if err != nil {
		return fmt.Errorf("failed to create document: %w", err)
	}

	return nil
}

func dbDocumentToDomain(dbDoc db.Document) *document_domain.Document {
	doc := &document_domain.Document{
		ID:       dbDoc.ID,
		OwnerID:  dbDoc.OwnerID.String,
		Filename: dbDoc.Filename,
		MimeType: dbDoc.MimeType,
		Content:  dbDoc.Content,
	}
	if dbDoc.CreatedAt.Valid {
		doc.CreatedAt = dbDoc.CreatedAt.Time
	}
	return doc
}
