package document

import (
	"context"
	"time"
)

type Document struct {
	ID        string
	OwnerID   string
	Filename  string
	MimeType  string
	Content   []byte
	CreatedAt time.Time
}

func (d *Document) Size() int64 {
	return int64(len(d.Content))
}

type DocumentRepo interface {
	// GetDocument returns nil, nil when no document has the id.
	GetDocument(ctx context.Context, id string) (*Document, error)
	CreateDocument(ctx context.Context, doc *Document) error
}
