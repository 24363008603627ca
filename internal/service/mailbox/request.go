package mailbox

import (
	"fmt"
	"strings"

	gomail "github.com/emersion/go-message/mail"
	"github.com/goccy/go-json"

	"github.com/huavcjj/threadsync/internal/domain/mail"
	"github.com/huavcjj/threadsync/internal/service/content"
)

type Action string

const (
	ActionGetEmails          Action = "getEmails"
	ActionSearchEmails       Action = "searchEmails"
	ActionMarkAsRead         Action = "markAsRead"
	ActionMarkAsUnread       Action = "markAsUnread"
	ActionSendEmail          Action = "sendEmail"
	ActionDownloadAttachment Action = "downloadAttachment"
	ActionTrashThread        Action = "trashThread"
	ActionTrashMessage       Action = "trashMessage"
	ActionDeleteThread       Action = "deleteThread"
	ActionDeleteMessage      Action = "deleteMessage"
	ActionUploadDocument     Action = "uploadDocument"
	ActionHealth             Action = "health"
)

// Request is a validated action payload. Each action has its own type.
type Request interface {
	Action() Action
	validate(limits Limits) error
}

type Limits struct {
	MaxAttachmentBytes int64
}

type GetEmailsRequest struct {
	Query        string `json:"query"`
	MaxResults   int64  `json:"maxResults"`
	PageToken    string `json:"pageToken"`
	GroupSimilar bool   `json:"groupSimilar"`
}

func (*GetEmailsRequest) Action() Action { return ActionGetEmails }

func (r *GetEmailsRequest) validate(Limits) error {
	if r.MaxResults < 0 {
		return &mail.BadRequestError{Field: "maxResults", Reason: "must not be negative"}
	}
	return nil
}

type SearchEmailsRequest struct {
	Query        string `json:"query"`
	MaxResults   int64  `json:"maxResults"`
	PageToken    string `json:"pageToken"`
	GroupSimilar bool   `json:"groupSimilar"`
}

func (*SearchEmailsRequest) Action() Action { return ActionSearchEmails }

func (r *SearchEmailsRequest) validate(Limits) error {
	if strings.TrimSpace(r.Query) == "" {
		return &mail.BadRequestError{Field: "query", Reason: "is required"}
	}
	if r.MaxResults < 0 {
		return &mail.BadRequestError{Field: "maxResults", Reason: "must not be negative"}
	}
	return nil
}

// LabelRequest targets either one message or a whole thread.
type LabelRequest struct {
	action    Action
	MessageID string `json:"messageId"`
	ThreadID  string `json:"threadId"`
}

func (r *LabelRequest) Action() Action { return r.action }

func (r *LabelRequest) validate(Limits) error {
	if (r.MessageID == "") == (r.ThreadID == "") {
		return &mail.BadRequestError{Reason: "exactly one of messageId or threadId is required"}
	}
	return nil
}

type InlineAttachment struct {
	Filename string `json:"filename"`
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`

	decoded []byte
}

type DocumentAttachment struct {
	DocumentID string `json:"documentId"`
	Filename   string `json:"filename"`
}

type SendEmailRequest struct {
	To                  string               `json:"to"`
	Subject             string               `json:"subject"`
	Content             string               `json:"content"`
	ReplyTo             string               `json:"replyTo"`
	ThreadID            string               `json:"threadId"`
	Attachments         []InlineAttachment   `json:"attachments"`
	DocumentAttachments []DocumentAttachment `json:"documentAttachments"`
}

func (*SendEmailRequest) Action() Action { return ActionSendEmail }

func (r *SendEmailRequest) validate(limits Limits) error {
	if strings.TrimSpace(r.To) == "" {
		return &mail.BadRequestError{Field: "to", Reason: "is required"}
	}
	if err := validAddressList(r.To); err != nil {
		return &mail.BadRequestError{Field: "to", Reason: err.Error()}
	}
	if strings.TrimSpace(r.ReplyTo) != "" {
		if err := validAddressList(r.ReplyTo); err != nil {
			return &mail.BadRequestError{Field: "replyTo", Reason: err.Error()}
		}
	}
	for i := range r.Attachments {
		if err := r.Attachments[i].decode(fmt.Sprintf("attachments[%d].", i), limits); err != nil {
			return err
		}
	}
	for i, d := range r.DocumentAttachments {
		if strings.TrimSpace(d.DocumentID) == "" {
			return &mail.BadRequestError{Field: fmt.Sprintf("documentAttachments[%d].documentId", i), Reason: "is required"}
		}
	}
	return nil
}

// decode validates the attachment and decodes its data. fieldPrefix names
// the attachment in error reports.
func (a *InlineAttachment) decode(fieldPrefix string, limits Limits) error {
	if strings.TrimSpace(a.Filename) == "" {
		return &mail.BadRequestError{Field: fieldPrefix + "filename", Reason: "is required"}
	}
	data := stripDataURL(a.Data)
	if data == "" {
		return &mail.BadRequestError{Field: fieldPrefix + "data", Reason: "is required"}
	}
	// Reject on the encoded length first so oversized uploads are never decoded.
	if limits.MaxAttachmentBytes > 0 {
		encoded := len(data) - strings.Count(data, "\n") - strings.Count(data, "\r") - strings.Count(data, " ")
		if estimate := int64(encoded) / 4 * 3; estimate > limits.MaxAttachmentBytes+3 {
			return &mail.SizeLimitError{What: "attachment " + a.Filename, Size: estimate, Limit: limits.MaxAttachmentBytes}
		}
	}
	decoded, err := content.DecodeBase64URL(data)
	if err != nil {
		return &mail.BadRequestError{Field: fieldPrefix + "data", Reason: "is not valid base64"}
	}
	if limits.MaxAttachmentBytes > 0 && int64(len(decoded)) > limits.MaxAttachmentBytes {
		return &mail.SizeLimitError{What: "attachment " + a.Filename, Size: int64(len(decoded)), Limit: limits.MaxAttachmentBytes}
	}
	a.decoded = decoded
	return nil
}

func validAddressList(value string) error {
	list, err := gomail.ParseAddressList(value)
	if err != nil {
		return fmt.Errorf("invalid address list: %w", err)
	}
	if len(list) == 0 {
		return fmt.Errorf("no address in %q", value)
	}
	return nil
}

func (r *SendEmailRequest) outbound() mail.OutboundMessageRequest {
	out := mail.OutboundMessageRequest{
		To:       r.To,
		Subject:  r.Subject,
		Content:  r.Content,
		ReplyTo:  r.ReplyTo,
		ThreadID: r.ThreadID,
	}
	for _, a := range r.Attachments {
		out.Attachments = append(out.Attachments, mail.AttachmentSource{
			Filename: a.Filename,
			MimeType: a.MimeType,
			Data:     a.decoded,
		})
	}
	for _, d := range r.DocumentAttachments {
		out.Attachments = append(out.Attachments, mail.AttachmentSource{
			Filename:   d.Filename,
			DocumentID: d.DocumentID,
		})
	}
	return out
}

// stripDataURL drops a "data:<type>;base64," prefix.
func stripDataURL(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "data:") {
		if i := strings.Index(s, ","); i != -1 {
			return s[i+1:]
		}
	}
	return s
}

type DownloadAttachmentRequest struct {
	MessageID    string `json:"messageId"`
	AttachmentID string `json:"attachmentId"`
}

func (*DownloadAttachmentRequest) Action() Action { return ActionDownloadAttachment }

func (r *DownloadAttachmentRequest) validate(Limits) error {
	if r.MessageID == "" {
		return &mail.BadRequestError{Field: "messageId", Reason: "is required"}
	}
	if r.AttachmentID == "" {
		return &mail.BadRequestError{Field: "attachmentId", Reason: "is required"}
	}
	return nil
}

// RemoveRequest trashes or permanently deletes one thread or message.
type RemoveRequest struct {
	action    Action
	MessageID string `json:"messageId"`
	ThreadID  string `json:"threadId"`
}

func (r *RemoveRequest) Action() Action { return r.action }

func (r *RemoveRequest) validate(Limits) error {
	switch r.action {
	case ActionTrashThread, ActionDeleteThread:
		if r.ThreadID == "" {
			return &mail.BadRequestError{Field: "threadId", Reason: "is required"}
		}
	default:
		if r.MessageID == "" {
			return &mail.BadRequestError{Field: "messageId", Reason: "is required"}
		}
	}
	return nil
}

// UploadDocumentRequest stores a file for later use in documentAttachments.
type UploadDocumentRequest struct {
	InlineAttachment
}

func (*UploadDocumentRequest) Action() Action { return ActionUploadDocument }

func (r *UploadDocumentRequest) validate(limits Limits) error {
	return r.decode("", limits)
}

type HealthRequest struct{}

func (*HealthRequest) Action() Action { return ActionHealth }

func (*HealthRequest) validate(Limits) error { return nil }

// ParseRequest decodes an {"action": ..., ...payload} body and validates the
// payload. Invalid input yields a *mail.BadRequestError (or a
// *mail.SizeLimitError for oversized attachments) and no Request.
func ParseRequest(body []byte, limits Limits) (Request, error) {
	var envelope struct {
		Action Action `json:"action"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, &mail.BadRequestError{Reason: "invalid JSON body"}
	}

	var req Request
	switch envelope.Action {
	case ActionGetEmails:
		req = &GetEmailsRequest{}
	case ActionSearchEmails:
		req = &SearchEmailsRequest{}
	case ActionMarkAsRead, ActionMarkAsUnread:
		req = &LabelRequest{action: envelope.Action}
	case ActionSendEmail:
		req = &SendEmailRequest{}
	case ActionDownloadAttachment:
		req = &DownloadAttachmentRequest{}
	case ActionTrashThread, ActionTrashMessage, ActionDeleteThread, ActionDeleteMessage:
		req = &RemoveRequest{action: envelope.Action}
	case ActionUploadDocument:
		req = &UploadDocumentRequest{}
	case ActionHealth:
		return &HealthRequest{}, nil
	case "":
		return nil, &mail.BadRequestError{Field: "action", Reason: "is required"}
	default:
		return nil, &mail.BadRequestError{Field: "action", Reason: fmt.Sprintf("unknown action %q", envelope.Action)}
	}

	if err := json.Unmarshal(body, req); err != nil {
		return nil, &mail.BadRequestError{Reason: fmt.Sprintf("invalid %s payload", envelope.Action)}
	}
	if err := req.validate(limits); err != nil {
		return nil, err
	}
	return req, nil
}
