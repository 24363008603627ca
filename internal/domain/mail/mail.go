package mail

import (
	"context"
	"time"
)

const (
	LabelUnread = "UNREAD"
	LabelInbox  = "INBOX"
)

type Header struct {
	Name  string
	Value string
}

// PartBody is the payload of a leaf part: inline Data (base64url, provider encoded)
// or an AttachmentID to be fetched on demand.
type PartBody struct {
	Data         string
	AttachmentID string
	Size         int64
}

// MimePart is a node of a message's part tree. Leaves carry Body; branches carry Parts.
type MimePart struct {
	PartID   string
	MimeType string
	Filename string
	Headers  []Header
	Body     PartBody
	Parts    []*MimePart
}

// Header returns the first header value matching name, case-insensitively.
func (p *MimePart) Header(name string) string {
	return headerValue(p.Headers, name)
}

// RawMessage is the provider's message object. It is never mutated.
type RawMessage struct {
	ID           string
	ThreadID     string
	LabelIDs     []string
	Snippet      string
	InternalDate int64
	Payload      *MimePart
}

func (m *RawMessage) Header(name string) string {
	if m.Payload == nil {
		return ""
	}
	return m.Payload.Header(name)
}

type Attachment struct {
	Filename     string `json:"filename"`
	MimeType     string `json:"mimeType"`
	Size         int64  `json:"size"`
	AttachmentID string `json:"attachmentId,omitempty"`
	Data         []byte `json:"-"`
}

type ProcessedEmail struct {
	ID           string       `json:"id"`
	ThreadID     string       `json:"threadId"`
	Snippet      string       `json:"snippet"`
	Subject      string       `json:"subject"`
	From         string       `json:"from"`
	To           string       `json:"to"`
	Date         string       `json:"date"`
	InternalDate int64        `json:"internalDate,omitempty"`
	Content      string       `json:"content"`
	Labels       []string     `json:"labels"`
	IsRead       bool         `json:"isRead"`
	Attachments  []Attachment `json:"attachments"`
}

// Timestamp prefers the provider receipt time over the user-editable Date header.
func (e ProcessedEmail) Timestamp() time.Time {
	if e.InternalDate > 0 {
		return time.UnixMilli(e.InternalDate).UTC()
	}
	return ParseDate(e.Date)
}

type Conversation struct {
	ID            string           `json:"id"`
	Subject       string           `json:"subject"`
	Participants  []string         `json:"participants"`
	LastDate      string           `json:"lastDate"`
	LastTimestamp time.Time        `json:"lastTimestamp"`
	UnreadCount   int              `json:"unreadCount"`
	MessageCount  int              `json:"messageCount"`
	Emails        []ProcessedEmail `json:"emails"`
}

type ConversationCluster struct {
	ID            string         `json:"id"`
	Members       []Conversation `json:"members"`
	Subject       string         `json:"subject"`
	Participants  []string       `json:"participants"`
	MessageCount  int            `json:"messageCount"`
	UnreadCount   int            `json:"unreadCount"`
	LastDate      string         `json:"lastDate"`
	LastTimestamp time.Time      `json:"lastTimestamp"`
}

// AttachmentSource is either inline bytes (Data set) or a stored document reference
// (DocumentID set) that must be resolved before composition.
type AttachmentSource struct {
	Filename   string
	MimeType   string
	Data       []byte
	DocumentID string
}

func (s AttachmentSource) IsDocument() bool {
	return s.DocumentID != ""
}

type OutboundMessageRequest struct {
	To          string
	Subject     string
	Content     string
	ReplyTo     string
	ThreadID    string
	Attachments []AttachmentSource
}

type ThreadPage struct {
	ThreadIDs     []string
	NextPageToken string
}

type SendResult struct {
	MessageID string
	ThreadID  string
}

// MailRepo is the provider REST API. token is the caller's bearer token.
type MailRepo interface {
	ListThreads(ctx context.Context, token, query string, pageSize int64, pageToken string) (*ThreadPage, error)
	GetThread(ctx context.Context, token, threadID string) ([]*RawMessage, error)
	GetAttachment(ctx context.Context, token, messageID, attachmentID string) ([]byte, error)
	SendRaw(ctx context.Context, token, raw, threadID string) (*SendResult, error)
	ModifyMessageLabels(ctx context.Context, token, messageID string, add, remove []string) error
	ModifyThreadLabels(ctx context.Context, token, threadID string, add, remove []string) error
	TrashMessage(ctx context.Context, token, messageID string) error
	TrashThread(ctx context.Context, token, threadID string) error
	DeleteMessage(ctx context.Context, token, messageID string) error
	DeleteThread(ctx context.Context, token, threadID string) error
	GetProfileAddress(ctx context.Context, token string) (string, error)
}
