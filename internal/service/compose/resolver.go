package compose

import (
	"context"
	"fmt"

	"github.com/huavcjj/threadsync/internal/domain/document"
	"github.com/huavcjj/threadsync/internal/domain/mail"
)

// DocumentResolver loads stored documents referenced by outbound attachments.
type DocumentResolver struct {
	repo     document.DocumentRepo
	maxBytes int64
}

var _ AttachmentResolver = (*DocumentResolver)(nil)

func NewDocumentResolver(repo document.DocumentRepo, maxAttachmentBytes int64) *DocumentResolver {
	return &DocumentResolver{repo: repo, maxBytes: maxAttachmentBytes}
}

func (r *DocumentResolver) ResolveAttachment(ctx context.Context, src mail.AttachmentSource) (*mail.Attachment, error) {
	doc, err := r.repo.GetDocument(ctx, src.DocumentID)
	if err != nil {
		return nil, fmt.Errorf("failed to load document %s: %w", src.DocumentID, err)
	}
	if doc == nil {
		return nil, fmt.Errorf("document %s: %w", src.DocumentID, mail.ErrNotFound)
	}

	filename := src.Filename
	if filename == "" {
		filename = doc.Filename
	}
	if r.maxBytes > 0 && doc.Size() > r.maxBytes {
		return nil, &mail.SizeLimitError{What: "attachment " + filename, Size: doc.Size(), Limit: r.maxBytes}
	}

	mimeType := src.MimeType
	if mimeType == "" {
		mimeType = doc.MimeType
	}
	return &mail.Attachment{
		Filename: filename,
		MimeType: mimeType,
		Size:     doc.Size(),
		Data:     doc.Content,
	}, nil
}
