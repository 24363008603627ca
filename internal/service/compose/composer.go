package compose

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"mime"
	"path/filepath"
	"strings"
	"time"

	gomail "github.com/emersion/go-message/mail"
	"github.com/emersion/go-message/textproto"
	"github.com/google/uuid"

	"github.com/huavcjj/threadsync/internal/domain/mail"
	"github.com/huavcjj/threadsync/internal/service/content"
)

const (
	// DefaultMaxMessageBytes is the provider's ceiling for a raw message.
	DefaultMaxMessageBytes = 25 * 1024 * 1024

	mailerName = "threadsync"
)

// AttachmentResolver turns a stored-document reference into bytes.
type AttachmentResolver interface {
	ResolveAttachment(ctx context.Context, src mail.AttachmentSource) (*mail.Attachment, error)
}

type Composer struct {
	resolver AttachmentResolver
	maxBytes int64
	now      func() time.Time
}

type Option func(*Composer)

func WithMaxMessageBytes(n int64) Option {
	return func(c *Composer) {
		if n > 0 {
			c.maxBytes = n
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(c *Composer) { c.now = now }
}

func NewComposer(resolver AttachmentResolver, opts ...Option) *Composer {
	c := &Composer{
		resolver: resolver,
		maxBytes: DefaultMaxMessageBytes,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Compose builds the RFC 2822 message for req and returns it base64url
// encoded, ready for the provider's send call. Nothing is sent.
func (c *Composer) Compose(ctx context.Context, req mail.OutboundMessageRequest, sender string) (string, error) {
	draft, err := c.Prepare(ctx, req)
	if err != nil {
		return "", err
	}
	return draft.Build(sender)
}

// Draft is a request whose attachments have been resolved and whose encoded
// size is known to fit before the sender is looked up.
type Draft struct {
	c           *Composer
	req         mail.OutboundMessageRequest
	attachments []*mail.Attachment
}

// Prepare resolves attachments and rejects requests that cannot fit the size
// ceiling once encoded.
func (c *Composer) Prepare(ctx context.Context, req mail.OutboundMessageRequest) (*Draft, error) {
	attachments, err := c.resolveAttachments(ctx, req.Attachments)
	if err != nil {
		return nil, err
	}

	estimate := int64(len(req.Content))
	for _, att := range attachments {
		estimate += int64(len(att.Data)+2) / 3 * 4
	}
	if estimate > c.maxBytes {
		return nil, &mail.SizeLimitError{What: "composed message", Size: estimate, Limit: c.maxBytes}
	}
	return &Draft{c: c, req: req, attachments: attachments}, nil
}

// Build assembles the message from sender and encodes it.
func (d *Draft) Build(sender string) (string, error) {
	c := d.c
	boundary, err := newBoundary(c.now())
	if err != nil {
		return "", fmt.Errorf("failed to generate boundary: %w", err)
	}

	var buf bytes.Buffer
	if err := c.writeHeader(&buf, d.req, sender, boundary); err != nil {
		return "", err
	}

	fmt.Fprintf(&buf, "--%s\r\n", boundary)
	buf.WriteString("Content-Type: text/html; charset=utf-8\r\n")
	buf.WriteString("Content-Transfer-Encoding: quoted-printable\r\n\r\n")
	buf.WriteString(encodeQuotedPrintable(d.req.Content))
	buf.WriteString("\r\n")

	for _, att := range d.attachments {
		fmt.Fprintf(&buf, "--%s\r\n", boundary)
		if err := writeAttachment(&buf, att); err != nil {
			return "", fmt.Errorf("failed to write attachment %q: %w", att.Filename, err)
		}
	}
	fmt.Fprintf(&buf, "--%s--\r\n", boundary)

	if size := int64(buf.Len()); size > c.maxBytes {
		return "", &mail.SizeLimitError{What: "composed message", Size: size, Limit: c.maxBytes}
	}

	return content.EncodeBase64URL(buf.Bytes()), nil
}

func (c *Composer) resolveAttachments(ctx context.Context, sources []mail.AttachmentSource) ([]*mail.Attachment, error) {
	resolved := make([]*mail.Attachment, 0, len(sources))
	for _, src := range sources {
		att, err := c.resolveAttachment(ctx, src)
		if err != nil {
			if errors.Is(err, mail.ErrSizeLimitExceeded) || errors.Is(err, mail.ErrAttachmentUnreadable) {
				return nil, err
			}
			name := src.Filename
			if name == "" {
				name = src.DocumentID
			}
			return nil, &mail.AttachmentError{Filename: name, Err: err}
		}
		if att.Filename == "" {
			att.Filename = "attachment"
		}
		if att.MimeType == "" {
			att.MimeType = guessMimeType(att.Filename)
		}
		att.Size = int64(len(att.Data))
		resolved = append(resolved, att)
	}
	return resolved, nil
}

func (c *Composer) resolveAttachment(ctx context.Context, src mail.AttachmentSource) (*mail.Attachment, error) {
	if src.IsDocument() {
		if c.resolver == nil {
			return nil, errors.New("no document resolver configured")
		}
		att, err := c.resolver.ResolveAttachment(ctx, src)
		if err != nil {
			return nil, err
		}
		if att == nil || att.Data == nil {
			return nil, errors.New("document has no content")
		}
		return att, nil
	}
	if src.Data == nil {
		return nil, errors.New("no data")
	}
	return &mail.Attachment{
		Filename: src.Filename,
		MimeType: src.MimeType,
		Data:     src.Data,
	}, nil
}

func (c *Composer) writeHeader(buf *bytes.Buffer, req mail.OutboundMessageRequest, sender, boundary string) error {
	from, err := gomail.ParseAddress(sender)
	if err != nil {
		return &mail.BadRequestError{Field: "from", Reason: err.Error()}
	}
	to, err := gomail.ParseAddressList(req.To)
	if err != nil || len(to) == 0 {
		return &mail.BadRequestError{Field: "to", Reason: fmt.Sprintf("invalid recipient list %q", req.To)}
	}
	replyTo := []*gomail.Address{from}
	if strings.TrimSpace(req.ReplyTo) != "" {
		replyTo, err = gomail.ParseAddressList(req.ReplyTo)
		if err != nil {
			return &mail.BadRequestError{Field: "replyTo", Reason: err.Error()}
		}
	}

	var h gomail.Header
	h.SetAddressList("From", []*gomail.Address{from})
	h.SetAddressList("To", to)
	h.SetAddressList("Reply-To", replyTo)
	h.SetSubject(req.Subject)
	h.SetDate(c.now())
	h.SetMessageID(uuid.NewString() + "@" + domainOf(from.Address))
	h.Set("MIME-Version", "1.0")
	h.SetContentType("multipart/mixed", map[string]string{"boundary": boundary})
	h.Set("X-Mailer", mailerName)
	h.Set("X-Priority", "3")
	h.Set("Precedence", "first-class")
	h.Set("Auto-Submitted", "no")

	if err := textproto.WriteHeader(buf, h.Header.Header); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	return nil
}

func writeAttachment(buf *bytes.Buffer, att *mail.Attachment) error {
	var h gomail.AttachmentHeader
	h.SetContentType(att.MimeType, map[string]string{"name": att.Filename})
	h.SetFilename(att.Filename)
	h.Set("Content-Transfer-Encoding", "base64")
	if err := textproto.WriteHeader(buf, h.Header.Header); err != nil {
		return err
	}
	writeWrappedBase64(buf, att.Data)
	return nil
}

func guessMimeType(filename string) string {
	if t := mime.TypeByExtension(strings.ToLower(filepath.Ext(filename))); t != "" {
		if mt, _, err := mime.ParseMediaType(t); err == nil {
			return mt
		}
	}
	return "application/octet-stream"
}

func domainOf(address string) string {
	if i := strings.LastIndex(address, "@"); i != -1 && i < len(address)-1 {
		return address[i+1:]
	}
	return "localhost"
}
