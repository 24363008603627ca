package content

import (
	"mime"
	"slices"
	"strings"

	"github.com/huavcjj/threadsync/internal/domain/mail"
)

// DefaultMarketingSignatures are substrings that mark tracking or redirect
// links. Mail containing any of them keeps its HTML layout.
var DefaultMarketingSignatures = []string{
	"utm_source=",
	"utm_medium=",
	"utm_campaign=",
	"list-manage.com",
	"mailchimp",
	"sendgrid.net",
	"click.",
	"/click?",
	"/track/",
	"trk.",
	"email.mg.",
	"unsubscribe",
}

var plainToHTML = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	`"`, "&quot;",
	"\r\n", "<br>",
	"\n", "<br>",
	"\r", "<br>",
)

type Walker struct {
	signatures []string
}

// NewWalker returns a Walker using the given marketing-link signatures, or
// DefaultMarketingSignatures when none are given.
func NewWalker(signatures []string) *Walker {
	if len(signatures) == 0 {
		signatures = DefaultMarketingSignatures
	}
	lowered := make([]string, 0, len(signatures))
	for _, s := range signatures {
		if s = strings.ToLower(strings.TrimSpace(s)); s != "" {
			lowered = append(lowered, s)
		}
	}
	return &Walker{signatures: lowered}
}

// ExtractContent walks the part tree depth-first with an explicit stack and
// returns the canonical HTML-safe body plus attachment handles.
func (w *Walker) ExtractContent(root *mail.MimePart) (string, []mail.Attachment) {
	if root == nil {
		return "", nil
	}

	var text, html string
	var attachments []mail.Attachment

	stack := []*mail.MimePart{root}
	for len(stack) > 0 {
		part := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if part == nil {
			continue
		}

		if part.Filename != "" && part.Body.AttachmentID != "" {
			attachments = append(attachments, mail.Attachment{
				Filename:     part.Filename,
				MimeType:     part.MimeType,
				Size:         part.Body.Size,
				AttachmentID: part.Body.AttachmentID,
			})
			continue
		}

		if part.Body.Data != "" {
			decoded := DecodeBodyCharset(part.Body.Data, partCharset(part))
			switch mediaType(part) {
			case "text/plain":
				text = decoded
			case "text/html":
				html = decoded
			}
		}

		// Reverse push keeps document order on pop.
		for i := len(part.Parts) - 1; i >= 0; i-- {
			stack = append(stack, part.Parts[i])
		}
	}

	return w.selectContent(text, html), attachments
}

func (w *Walker) selectContent(text, html string) string {
	switch {
	case html != "" && (w.isMarketing(text) || w.isMarketing(html)):
		return html
	case text != "":
		return plainToHTML.Replace(text)
	default:
		return html
	}
}

func (w *Walker) isMarketing(body string) bool {
	if body == "" {
		return false
	}
	lower := strings.ToLower(body)
	for _, sig := range w.signatures {
		if strings.Contains(lower, sig) {
			return true
		}
	}
	return false
}

// Process builds the ProcessedEmail for a provider message.
func (w *Walker) Process(raw *mail.RawMessage) mail.ProcessedEmail {
	email := mail.ProcessedEmail{
		ID:           raw.ID,
		ThreadID:     raw.ThreadID,
		Snippet:      raw.Snippet,
		Subject:      raw.Header("Subject"),
		From:         raw.Header("From"),
		To:           raw.Header("To"),
		Date:         raw.Header("Date"),
		InternalDate: raw.InternalDate,
		Labels:       slices.Clone(raw.LabelIDs),
		IsRead:       !slices.Contains(raw.LabelIDs, mail.LabelUnread),
	}
	email.Content, email.Attachments = w.ExtractContent(raw.Payload)
	if email.Labels == nil {
		email.Labels = []string{}
	}
	if email.Attachments == nil {
		email.Attachments = []mail.Attachment{}
	}
	return email
}

func mediaType(part *mail.MimePart) string {
	mt := strings.ToLower(strings.TrimSpace(part.MimeType))
	if mt == "" {
		if parsed, _, err := mime.ParseMediaType(part.Header("Content-Type")); err == nil {
			mt = parsed
		}
	}
	return mt
}

func partCharset(part *mail.MimePart) string {
	_, params, err := mime.ParseMediaType(part.Header("Content-Type"))
	if err != nil {
		return ""
	}
	return params["charset"]
}
