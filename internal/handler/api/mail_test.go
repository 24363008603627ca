package api

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/nalgeon/be"

	"github.com/huavcjj/threadsync/internal/domain/document"
	"github.com/huavcjj/threadsync/internal/domain/mail"
	"github.com/huavcjj/threadsync/internal/domain/mail/mailtest"
	"github.com/huavcjj/threadsync/internal/service/batchsync"
	"github.com/huavcjj/threadsync/internal/service/cluster"
	"github.com/huavcjj/threadsync/internal/service/compose"
	"github.com/huavcjj/threadsync/internal/service/content"
	"github.com/huavcjj/threadsync/internal/service/mailbox"
)

type memDocuments map[string]*document.Document

func (m memDocuments) GetDocument(_ context.Context, id string) (*document.Document, error) {
	return m[id], nil
}

func (m memDocuments) CreateDocument(_ context.Context, doc *document.Document) error {
	if doc.ID == "" {
		doc.ID = fmt.Sprintf("doc-%d", len(m)+1)
	}
	m[doc.ID] = doc
	return nil
}

func newHandler(repo *mailtest.Repo) *MailHandler {
	return newHandlerWithDocuments(repo, memDocuments{})
}

func newHandlerWithDocuments(repo *mailtest.Repo, docs document.DocumentRepo) *MailHandler {
	svc := mailbox.NewService(
		repo,
		docs,
		nil,
		batchsync.NewOrchestrator(repo, content.NewWalker(nil), nil, batchsync.Config{BatchSize: 5}),
		compose.NewComposer(compose.NewDocumentResolver(docs, 1024)),
		cluster.NewClusterer(cluster.DefaultThresholds()),
		mailbox.Config{SendTimeout: time.Second, MaxAttachmentBytes: 1024},
	)
	return NewMailHandler(svc, 64*1024)
}

func post(h *MailHandler, token, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/mail", strings.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.HandleAction(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	be.Err(t, json.Unmarshal(rec.Body.Bytes(), &v), nil)
	return v
}

func TestHandleAction_GetEmails(t *testing.T) {
	date := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC).Format(time.RFC1123Z)
	repo := &mailtest.Repo{
		Pages: map[string]*mail.ThreadPage{"": {ThreadIDs: []string{"t1"}}},
		Threads: map[string][]*mail.RawMessage{
			"t1": {mailtest.Message("m1", "t1", "Hello", "alice@x.com", date, true, "hi <there>")},
		},
	}

	rec := post(newHandler(repo), "tok", `{"action":"getEmails","maxResults":10}`)
	be.Equal(t, rec.Code, http.StatusOK)
	be.Equal(t, rec.Header().Get("Content-Type"), "application/json")

	resp := decode[mailbox.EmailsResponse](t, rec)
	be.Equal(t, len(resp.Conversations), 1)
	be.True(t, resp.AllEmailsLoaded)
	be.Equal(t, resp.Conversations[0].Emails[0].Content, "hi &lt;there&gt;")
	be.Equal(t, repo.PageSizes(), []int64{10})
}

func TestHandleAction_MissingToken(t *testing.T) {
	repo := &mailtest.Repo{}
	rec := post(newHandler(repo), "", `{"action":"getEmails"}`)
	be.Equal(t, rec.Code, http.StatusUnauthorized)
	be.Equal(t, len(repo.Calls()), 0)
}

func TestHandleAction_HealthNeedsNoToken(t *testing.T) {
	rec := post(newHandler(&mailtest.Repo{}), "", `{"action":"health"}`)
	be.Equal(t, rec.Code, http.StatusOK)
	be.Equal(t, decode[mailbox.HealthResponse](t, rec).Status, "ok")
}

func TestHandleAction_BadRequest(t *testing.T) {
	tests := []string{
		`not json`,
		`{}`,
		`{"action":"explode"}`,
		`{"action":"markAsRead"}`,
		`{"action":"searchEmails","query":""}`,
		`{"action":"sendEmail","to":"bob at x dot com","subject":"Hi"}`,
	}
	for _, body := range tests {
		t.Run(body, func(t *testing.T) {
			repo := &mailtest.Repo{}
			rec := post(newHandler(repo), "tok", body)
			be.Equal(t, rec.Code, http.StatusBadRequest)
			be.True(t, decode[errorResponse](t, rec).Error != "")
			be.Equal(t, len(repo.Calls()), 0)
		})
	}
}

func TestHandleAction_SendEmail(t *testing.T) {
	repo := &mailtest.Repo{}
	body := fmt.Sprintf(`{"action":"sendEmail","to":"bob@x.com","subject":"Hi","content":"<p>hello</p>",
		"attachments":[{"filename":"a.txt","mimeType":"text/plain","data":%q}]}`,
		base64.StdEncoding.EncodeToString([]byte("attached")))

	rec := post(newHandler(repo), "tok", body)
	be.Equal(t, rec.Code, http.StatusOK)

	resp := decode[mailbox.SendResponse](t, rec)
	be.True(t, resp.Success)
	be.Equal(t, resp.MessageID, "sent-1")
	be.Equal(t, len(repo.Sent()), 1)
}

func TestHandleAction_AttachmentTooLarge(t *testing.T) {
	repo := &mailtest.Repo{}
	body := fmt.Sprintf(`{"action":"sendEmail","to":"bob@x.com","subject":"Hi","content":"x",
		"attachments":[{"filename":"big.bin","data":%q}]}`,
		base64.StdEncoding.EncodeToString(make([]byte, 2048)))

	rec := post(newHandler(repo), "tok", body)
	be.Equal(t, rec.Code, http.StatusRequestEntityTooLarge)
	be.Equal(t, len(repo.Calls()), 0)
}

func TestHandleAction_DocumentAttachments(t *testing.T) {
	docs := memDocuments{"doc-1": {ID: "doc-1", Filename: "plan.txt", MimeType: "text/plain", Content: []byte("plan")}}

	t.Run("stored document is attached", func(t *testing.T) {
		repo := &mailtest.Repo{}
		rec := post(newHandlerWithDocuments(repo, docs), "tok",
			`{"action":"sendEmail","to":"bob@x.com","subject":"Plan","content":"see attached",
			"documentAttachments":[{"documentId":"doc-1"}]}`)
		be.Equal(t, rec.Code, http.StatusOK)
		be.Equal(t, len(repo.Sent()), 1)
	})

	t.Run("missing document is unreadable", func(t *testing.T) {
		repo := &mailtest.Repo{}
		rec := post(newHandlerWithDocuments(repo, docs), "tok",
			`{"action":"sendEmail","to":"bob@x.com","subject":"Plan","content":"see attached",
			"documentAttachments":[{"documentId":"doc-404"}]}`)
		be.Equal(t, rec.Code, http.StatusUnprocessableEntity)
		be.True(t, strings.Contains(decode[errorResponse](t, rec).Error, "doc-404"))
		be.Equal(t, len(repo.Calls()), 0)
	})
}

func TestHandleAction_UploadDocument(t *testing.T) {
	docs := memDocuments{}
	rec := post(newHandlerWithDocuments(&mailtest.Repo{}, docs), "tok",
		`{"action":"uploadDocument","filename":"a.txt","mimeType":"text/plain","data":"aGk="}`)
	be.Equal(t, rec.Code, http.StatusOK)

	resp := decode[mailbox.UploadResponse](t, rec)
	be.True(t, resp.Success)
	be.Equal(t, string(docs[resp.DocumentID].Content), "hi")
	be.Equal(t, docs[resp.DocumentID].OwnerID, "me@example.com")
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"unreadable wrapping not found", &mail.AttachmentError{Filename: "a", Err: mail.ErrNotFound}, http.StatusUnprocessableEntity},
		{"size limit", fmt.Errorf("compose: %w", &mail.SizeLimitError{What: "x", Size: 2, Limit: 1}), http.StatusRequestEntityTooLarge},
		{"not found", fmt.Errorf("get: %w", mail.ErrNotFound), http.StatusNotFound},
		{"bad request", &mail.BadRequestError{Field: "to", Reason: "invalid"}, http.StatusBadRequest},
		{"deadline", fmt.Errorf("send: %w", context.DeadlineExceeded), http.StatusGatewayTimeout},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			be.Equal(t, statusFor(tt.err), tt.want)
		})
	}
}

func TestHandleAction_BodyTooLarge(t *testing.T) {
	repo := &mailtest.Repo{}
	h := newHandler(repo)
	h.maxBodyBytes = 32

	rec := post(h, "tok", `{"action":"getEmails","query":"a very long query string indeed"}`)
	be.Equal(t, rec.Code, http.StatusRequestEntityTooLarge)
	be.Equal(t, len(repo.Calls()), 0)
}

func TestHandleAction_ProviderErrors(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		status     int
		retryAfter string
	}{
		{"auth", fmt.Errorf("list: %w", mail.ErrAuthExpired), http.StatusUnauthorized, ""},
		{"rate limit", &mail.RateLimitError{RetryAfter: 30 * time.Second, Err: errors.New("429")}, http.StatusTooManyRequests, "30"},
		{"unavailable", mail.ErrProviderUnavailable, http.StatusServiceUnavailable, ""},
		{"other", errors.New("boom"), http.StatusInternalServerError, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := post(newHandler(&mailtest.Repo{ListErr: tt.err}), "tok", `{"action":"getEmails"}`)
			be.Equal(t, rec.Code, tt.status)
			be.Equal(t, rec.Header().Get("Retry-After"), tt.retryAfter)
		})
	}
}

func TestHandleAction_DownloadAttachment(t *testing.T) {
	repo := &mailtest.Repo{Attachments: map[string][]byte{"m1/a1": []byte("pdf")}}

	rec := post(newHandler(repo), "tok", `{"action":"downloadAttachment","messageId":"m1","attachmentId":"a1"}`)
	be.Equal(t, rec.Code, http.StatusOK)
	resp := decode[mailbox.AttachmentResponse](t, rec)
	be.Equal(t, resp.Size, 3)
	be.Equal(t, resp.Data, base64.StdEncoding.EncodeToString([]byte("pdf")))

	rec = post(newHandler(repo), "tok", `{"action":"downloadAttachment","messageId":"m1","attachmentId":"zz"}`)
	be.Equal(t, rec.Code, http.StatusNotFound)
}

func TestHandleAction_MethodNotAllowed(t *testing.T) {
	rec := httptest.NewRecorder()
	newHandler(&mailtest.Repo{}).HandleAction(rec, httptest.NewRequest(http.MethodGet, "/api/mail", nil))
	be.Equal(t, rec.Code, http.StatusMethodNotAllowed)
}

func TestHandleHealth(t *testing.T) {
	rec := httptest.NewRecorder()
	HandleHealth(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	be.Equal(t, rec.Code, http.StatusOK)
	be.Equal(t, strings.TrimSpace(rec.Body.String()), `{"status":"ok"}`)
}

func TestBearerToken(t *testing.T) {
	tests := map[string]string{
		"Bearer abc":   "abc",
		"bearer  abc ": "abc",
		"Basic abc":    "",
		"abc":          "",
		"":             "",
	}
	for header, want := range tests {
		req := httptest.NewRequest(http.MethodPost, "/", nil)
		req.Header.Set("Authorization", header)
		be.Equal(t, bearerToken(req), want)
	}
}
