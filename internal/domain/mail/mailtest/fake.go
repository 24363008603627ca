// Package mailtest provides an in-memory mail.MailRepo for tests.
package mailtest

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/huavcjj/threadsync/internal/domain/mail"
)

type SentMessage struct {
	Raw      string
	ThreadID string
}

type LabelChange struct {
	Target string
	ID     string
	Add    []string
	Remove []string
}

// Repo is a scripted mail.MailRepo. Zero values are usable; set the maps
// before handing it to the code under test.
type Repo struct {
	Pages       map[string]*mail.ThreadPage
	ListErr     error
	Threads     map[string][]*mail.RawMessage
	ThreadErrs  map[string]error
	Attachments map[string][]byte
	Profile     string
	SendErr     error
	Delay       time.Duration

	mu          sync.Mutex
	calls       []string
	pageSizes   []int64
	sent        []SentMessage
	labels      []LabelChange
	inFlight    int
	maxInFlight int
}

var _ mail.MailRepo = (*Repo)(nil)

func (r *Repo) record(call string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, call)
}

func (r *Repo) Calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

func (r *Repo) CallCount(prefix string) int {
	n := 0
	for _, c := range r.Calls() {
		if strings.HasPrefix(c, prefix) {
			n++
		}
	}
	return n
}

func (r *Repo) PageSizes() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int64(nil), r.pageSizes...)
}

func (r *Repo) Sent() []SentMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]SentMessage(nil), r.sent...)
}

func (r *Repo) LabelChanges() []LabelChange {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]LabelChange(nil), r.labels...)
}

// MaxInFlight is the highest number of concurrent GetThread calls observed.
func (r *Repo) MaxInFlight() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.maxInFlight
}

func (r *Repo) ListThreads(ctx context.Context, token, query string, pageSize int64, pageToken string) (*mail.ThreadPage, error) {
	r.record("ListThreads:" + query)
	r.mu.Lock()
	r.pageSizes = append(r.pageSizes, pageSize)
	r.mu.Unlock()
	if r.ListErr != nil {
		return nil, r.ListErr
	}
	if page, ok := r.Pages[pageToken]; ok {
		return page, nil
	}
	return &mail.ThreadPage{}, nil
}

func (r *Repo) GetThread(ctx context.Context, token, threadID string) ([]*mail.RawMessage, error) {
	r.record("GetThread:" + threadID)

	r.mu.Lock()
	r.inFlight++
	r.maxInFlight = max(r.maxInFlight, r.inFlight)
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		r.inFlight--
		r.mu.Unlock()
	}()

	if r.Delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(r.Delay):
		}
	}
	if err := r.ThreadErrs[threadID]; err != nil {
		return nil, err
	}
	msgs, ok := r.Threads[threadID]
	if !ok {
		return nil, fmt.Errorf("thread %s: %w", threadID, mail.ErrNotFound)
	}
	return msgs, nil
}

func (r *Repo) GetAttachment(ctx context.Context, token, messageID, attachmentID string) ([]byte, error) {
	r.record("GetAttachment:" + messageID + "/" + attachmentID)
	data, ok := r.Attachments[messageID+"/"+attachmentID]
	if !ok {
		return nil, fmt.Errorf("attachment %s: %w", attachmentID, mail.ErrNotFound)
	}
	return data, nil
}

func (r *Repo) SendRaw(ctx context.Context, token, raw, threadID string) (*mail.SendResult, error) {
	r.record("SendRaw")
	if r.SendErr != nil {
		return nil, r.SendErr
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, SentMessage{Raw: raw, ThreadID: threadID})
	if threadID == "" {
		threadID = fmt.Sprintf("thread-%d", len(r.sent))
	}
	return &mail.SendResult{MessageID: fmt.Sprintf("sent-%d", len(r.sent)), ThreadID: threadID}, nil
}

func (r *Repo) modify(target, id string, add, remove []string) error {
	r.record("Modify" + target + ":" + id)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.labels = append(r.labels, LabelChange{Target: target, ID: id, Add: add, Remove: remove})
	return nil
}

func (r *Repo) ModifyMessageLabels(ctx context.Context, token, messageID string, add, remove []string) error {
	return r.modify("Message", messageID, add, remove)
}

func (r *Repo) ModifyThreadLabels(ctx context.Context, token, threadID string, add, remove []string) error {
	return r.modify("Thread", threadID, add, remove)
}

func (r *Repo) TrashMessage(ctx context.Context, token, messageID string) error {
	r.record("TrashMessage:" + messageID)
	return nil
}

func (r *Repo) TrashThread(ctx context.Context, token, threadID string) error {
	r.record("TrashThread:" + threadID)
	return nil
}

func (r *Repo) DeleteMessage(ctx context.Context, token, messageID string) error {
	r.record("DeleteMessage:" + messageID)
	return nil
}

func (r *Repo) DeleteThread(ctx context.Context, token, threadID string) error {
	r.record("DeleteThread:" + threadID)
	return nil
}

func (r *Repo) GetProfileAddress(ctx context.Context, token string) (string, error) {
	r.record("GetProfileAddress")
	if r.Profile == "" {
		return "me@example.com", nil
	}
	return r.Profile, nil
}

// Message builds a single-part text/plain provider message.
func Message(id, threadID, subject, from, date string, unread bool, body string) *mail.RawMessage {
	labels := []string{mail.LabelInbox}
	if unread {
		labels = append(labels, mail.LabelUnread)
	}
	return &mail.RawMessage{
		ID:       id,
		ThreadID: threadID,
		LabelIDs: labels,
		Snippet:  body,
		Payload: &mail.MimePart{
			MimeType: "text/plain",
			Headers: []mail.Header{
				{Name: "Subject", Value: subject},
				{Name: "From", Value: from},
				{Name: "To", Value: "me@example.com"},
				{Name: "Date", Value: date},
			},
			Body: mail.PartBody{Data: base64.RawURLEncoding.EncodeToString([]byte(body))},
		},
	}
}
