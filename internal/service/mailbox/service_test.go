package mailbox

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"testing"
	"time"

	gomail "github.com/emersion/go-message/mail"
	"github.com/nalgeon/be"

	"github.com/huavcjj/threadsync/internal/domain/document"
	"github.com/huavcjj/threadsync/internal/domain/mail"
	"github.com/huavcjj/threadsync/internal/domain/mail/mailtest"
	"github.com/huavcjj/threadsync/internal/domain/synclog"
	"github.com/huavcjj/threadsync/internal/service/batchsync"
	"github.com/huavcjj/threadsync/internal/service/cluster"
	"github.com/huavcjj/threadsync/internal/service/compose"
	"github.com/huavcjj/threadsync/internal/service/content"
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

type memLedger struct {
	runs []synclog.SyncRun
	err  error
}

func (l *memLedger) RecordSyncRun(_ context.Context, run *synclog.SyncRun) error {
	if l.err != nil {
		return l.err
	}
	l.runs = append([]synclog.SyncRun{*run}, l.runs...)
	return nil
}

func (l *memLedger) GetRecentSyncRuns(_ context.Context, limit int) ([]synclog.SyncRun, error) {
	if l.err != nil {
		return nil, l.err
	}
	return l.runs[:min(limit, len(l.runs))], nil
}

func newService(repo *mailtest.Repo, opts ...compose.Option) *Service {
	return newServiceWith(repo, memDocuments{}, &memLedger{}, opts...)
}

func newServiceWith(repo *mailtest.Repo, docs memDocuments, ledger *memLedger, opts ...compose.Option) *Service {
	syncer := batchsync.NewOrchestrator(repo, content.NewWalker(nil), ledger, batchsync.Config{BatchSize: 5})
	return NewService(
		repo,
		docs,
		ledger,
		syncer,
		compose.NewComposer(compose.NewDocumentResolver(docs, 1024), opts...),
		cluster.NewClusterer(cluster.DefaultThresholds()),
		Config{SendTimeout: time.Second, MaxAttachmentBytes: 1024},
	)
}

func inboxRepo() *mailtest.Repo {
	date := func(d int) string {
		return time.Date(2024, 4, d, 10, 0, 0, 0, time.UTC).Format(time.RFC1123Z)
	}
	return &mailtest.Repo{
		Pages: map[string]*mail.ThreadPage{
			"": {ThreadIDs: []string{"t1", "t2", "t3", "broken"}, NextPageToken: "p2"},
		},
		Threads: map[string][]*mail.RawMessage{
			"t1": {
				mailtest.Message("m1", "t1", "Project Update", "alice@x.com", date(1), false, "first"),
				mailtest.Message("m2", "t1", "Re: Project Update", "bob@x.com", date(2), true, "second"),
			},
			"t2": {mailtest.Message("m3", "t2", "Re: project update", "alice@x.com", date(3), true, "third")},
			"t3": {mailtest.Message("m4", "t3", "Invoice", "billing@shop.com", date(4), false, "pay")},
		},
	}
}

func TestGetEmails(t *testing.T) {
	repo := inboxRepo()
	svc := newService(repo)

	resp, err := svc.GetEmails(context.Background(), "tok", &GetEmailsRequest{Query: "in:inbox"})
	be.Err(t, err, nil)
	be.Equal(t, len(resp.Conversations), 3)
	be.Equal(t, resp.SkippedThreads, 1)
	be.Equal(t, resp.NextPageToken, "p2")
	be.True(t, !resp.AllEmailsLoaded)
	be.Equal(t, len(resp.Clusters), 0)

	be.Equal(t, resp.Conversations[0].ID, "t3")
	t1 := resp.Conversations[2]
	be.Equal(t, t1.ID, "t1")
	be.Equal(t, t1.MessageCount, 2)
	be.Equal(t, t1.UnreadCount, 1)
}

func TestSearchEmails_GroupSimilar(t *testing.T) {
	repo := inboxRepo()
	svc := newService(repo)

	resp, err := svc.SearchEmails(context.Background(), "tok", &SearchEmailsRequest{Query: "project", GroupSimilar: true})
	be.Err(t, err, nil)
	be.Equal(t, len(resp.Clusters), 2)

	merged := resp.Clusters[1]
	be.Equal(t, merged.ID, "t2")
	be.Equal(t, len(merged.Members), 2)
	be.Equal(t, merged.MessageCount, 3)
	be.Equal(t, merged.UnreadCount, 2)
}

func TestMarkAsReadAndUnread(t *testing.T) {
	repo := &mailtest.Repo{}
	svc := newService(repo)
	ctx := context.Background()

	be.Err(t, svc.MarkAsRead(ctx, "tok", &LabelRequest{action: ActionMarkAsRead, ThreadID: "t1"}), nil)
	be.Err(t, svc.MarkAsUnread(ctx, "tok", &LabelRequest{action: ActionMarkAsUnread, MessageID: "m1"}), nil)

	changes := repo.LabelChanges()
	be.Equal(t, len(changes), 2)
	be.Equal(t, changes[0], mailtest.LabelChange{Target: "Thread", ID: "t1", Remove: []string{mail.LabelUnread}})
	be.Equal(t, changes[1], mailtest.LabelChange{Target: "Message", ID: "m1", Add: []string{mail.LabelUnread}})
}

func TestSendEmail(t *testing.T) {
	repo := &mailtest.Repo{Profile: "Me <me@x.com>"}
	svc := newService(repo)

	req, err := ParseRequest([]byte(`{"action":"sendEmail","to":"bob@x.com","subject":"Hi","content":"<b>hi</b>","threadId":"t7",
		"attachments":[{"filename":"a.txt","mimeType":"text/plain","data":"aGVsbG8="}]}`), svc.Limits())
	be.Err(t, err, nil)

	out, err := svc.Handle(context.Background(), "tok", req)
	be.Err(t, err, nil)
	resp := out.(*SendResponse)
	be.True(t, resp.Success)
	be.Equal(t, resp.MessageID, "sent-1")
	be.Equal(t, resp.ThreadID, "t7")

	sent := repo.Sent()
	be.Equal(t, len(sent), 1)
	be.Equal(t, sent[0].ThreadID, "t7")

	raw, err := content.DecodeBase64URL(sent[0].Raw)
	be.Err(t, err, nil)
	mr, err := gomail.CreateReader(bytes.NewReader(raw))
	be.Err(t, err, nil)
	from, err := mr.Header.AddressList("From")
	be.Err(t, err, nil)
	be.Equal(t, from[0].Address, "me@x.com")
}

func TestSendEmail_SizeLimitMakesNoCalls(t *testing.T) {
	repo := &mailtest.Repo{}
	svc := newService(repo, compose.WithMaxMessageBytes(2048))

	// Each attachment passes validation; together they exceed the message ceiling.
	data := base64.StdEncoding.EncodeToString(make([]byte, 1000))
	body := fmt.Sprintf(`{"action":"sendEmail","to":"bob@x.com","attachments":[{"filename":"a","data":%q},{"filename":"b","data":%q}]}`, data, data)
	req, err := ParseRequest([]byte(body), svc.Limits())
	be.Err(t, err, nil)

	_, err = svc.Handle(context.Background(), "tok", req)
	be.Err(t, err, mail.ErrSizeLimitExceeded)
	be.Equal(t, len(repo.Calls()), 0)
}

func TestSendEmail_Timeout(t *testing.T) {
	repo := &mailtest.Repo{SendErr: context.DeadlineExceeded}
	svc := newService(repo)

	_, err := svc.SendEmail(context.Background(), "tok", &SendEmailRequest{To: "bob@x.com"})
	be.Err(t, err, context.DeadlineExceeded)
}

func TestSendEmail_UnresolvableDocument(t *testing.T) {
	repo := &mailtest.Repo{}
	svc := newService(repo)

	_, err := svc.SendEmail(context.Background(), "tok", &SendEmailRequest{
		To:                  "bob@x.com",
		DocumentAttachments: []DocumentAttachment{{DocumentID: "doc-1"}},
	})
	be.Err(t, err, mail.ErrAttachmentUnreadable)
	be.Equal(t, repo.CallCount("SendRaw"), 0)
}

func TestDownloadAttachment(t *testing.T) {
	repo := &mailtest.Repo{Attachments: map[string][]byte{"m1/a1": []byte("hello")}}
	svc := newService(repo)

	resp, err := svc.DownloadAttachment(context.Background(), "tok", &DownloadAttachmentRequest{MessageID: "m1", AttachmentID: "a1"})
	be.Err(t, err, nil)
	be.Equal(t, resp.Data, "aGVsbG8=")
	be.Equal(t, resp.Size, 5)

	_, err = svc.DownloadAttachment(context.Background(), "tok", &DownloadAttachmentRequest{MessageID: "m1", AttachmentID: "zz"})
	be.Err(t, err, mail.ErrNotFound)
}

func TestRemove(t *testing.T) {
	repo := &mailtest.Repo{}
	svc := newService(repo)
	ctx := context.Background()

	for _, body := range []string{
		`{"action":"trashThread","threadId":"t1"}`,
		`{"action":"trashMessage","messageId":"m1"}`,
		`{"action":"deleteThread","threadId":"t2"}`,
		`{"action":"deleteMessage","messageId":"m2"}`,
	} {
		req, err := ParseRequest([]byte(body), svc.Limits())
		be.Err(t, err, nil)
		out, err := svc.Handle(ctx, "tok", req)
		be.Err(t, err, nil)
		be.True(t, out.(*SuccessResponse).Success)
	}
	be.Equal(t, repo.Calls(), []string{"TrashThread:t1", "TrashMessage:m1", "DeleteThread:t2", "DeleteMessage:m2"})
}

func TestHandle_Health(t *testing.T) {
	svc := newService(&mailtest.Repo{})
	out, err := svc.Handle(context.Background(), "", &HealthRequest{})
	be.Err(t, err, nil)
	be.Equal(t, out.(*HealthResponse).Status, "ok")
	be.True(t, out.(*HealthResponse).LastSync == nil)
}

func TestHealth_ReportsLastSync(t *testing.T) {
	repo := inboxRepo()
	ledger := &memLedger{}
	svc := newServiceWith(repo, memDocuments{}, ledger)

	_, err := svc.GetEmails(context.Background(), "tok", &GetEmailsRequest{Query: "in:inbox"})
	be.Err(t, err, nil)

	resp := svc.Health(context.Background())
	be.Equal(t, resp.Status, "ok")
	be.True(t, resp.LastSync != nil)
	be.Equal(t, resp.LastSync.Query, "in:inbox")
	be.Equal(t, resp.LastSync.Threads, 4)
	be.Equal(t, resp.LastSync.Conversations, 3)
	be.Equal(t, resp.LastSync.FailedThreads, 1)
	be.True(t, !resp.LastSync.Complete)
}

func TestHealth_LedgerFailureDegrades(t *testing.T) {
	svc := newServiceWith(&mailtest.Repo{}, memDocuments{}, &memLedger{err: errors.New("db down")})
	resp := svc.Health(context.Background())
	be.Equal(t, resp.Status, "degraded")
	be.True(t, resp.LastSync == nil)
}

func TestUploadDocument_ThenAttach(t *testing.T) {
	repo := &mailtest.Repo{Profile: "owner@x.com"}
	docs := memDocuments{}
	svc := newServiceWith(repo, docs, &memLedger{})

	req, err := ParseRequest([]byte(`{"action":"uploadDocument","filename":"notes.txt","data":"bm90ZXM="}`), svc.Limits())
	be.Err(t, err, nil)
	out, err := svc.Handle(context.Background(), "tok", req)
	be.Err(t, err, nil)

	up := out.(*UploadResponse)
	be.True(t, up.Success)
	stored := docs[up.DocumentID]
	be.Equal(t, stored.OwnerID, "owner@x.com")
	be.Equal(t, string(stored.Content), "notes")
	be.Equal(t, stored.MimeType, "application/octet-stream")

	sent, err := svc.SendEmail(context.Background(), "tok", &SendEmailRequest{
		To:                  "bob@x.com",
		Subject:             "notes",
		DocumentAttachments: []DocumentAttachment{{DocumentID: up.DocumentID}},
	})
	be.Err(t, err, nil)
	be.True(t, sent.Success)
}

func TestUploadDocument_TooLarge(t *testing.T) {
	svc := newService(&mailtest.Repo{})
	data := base64.StdEncoding.EncodeToString(make([]byte, 2048))
	_, err := ParseRequest([]byte(`{"action":"uploadDocument","filename":"big.bin","data":"`+data+`"}`), svc.Limits())
	be.Err(t, err, mail.ErrSizeLimitExceeded)
}
