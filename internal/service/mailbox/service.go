package mailbox

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/huavcjj/threadsync/internal/domain/document"
	"github.com/huavcjj/threadsync/internal/domain/mail"
	"github.com/huavcjj/threadsync/internal/domain/synclog"
	"github.com/huavcjj/threadsync/internal/service/batchsync"
	"github.com/huavcjj/threadsync/internal/service/cluster"
	"github.com/huavcjj/threadsync/internal/service/compose"
)

const defaultSendTimeout = 15 * time.Second

type Config struct {
	SendTimeout        time.Duration
	MaxAttachmentBytes int64
}

type EmailsResponse struct {
	Conversations   []mail.Conversation        `json:"conversations"`
	Clusters        []mail.ConversationCluster `json:"clusters,omitempty"`
	NextPageToken   string                     `json:"nextPageToken,omitempty"`
	AllEmailsLoaded bool                       `json:"allEmailsLoaded"`
	SkippedThreads  int                        `json:"skippedThreads"`
}

type SuccessResponse struct {
	Success bool `json:"success"`
}

type SendResponse struct {
	Success   bool   `json:"success"`
	MessageID string `json:"messageId"`
	ThreadID  string `json:"threadId,omitempty"`
}

type AttachmentResponse struct {
	Data string `json:"data"`
	Size int    `json:"size"`
}

type UploadResponse struct {
	Success    bool   `json:"success"`
	DocumentID string `json:"documentId"`
}

// SyncSummary describes the most recent recorded sync page.
type SyncSummary struct {
	Query         string    `json:"query"`
	Threads       int       `json:"threads"`
	Conversations int       `json:"conversations"`
	FailedThreads int       `json:"failedThreads"`
	Complete      bool      `json:"complete"`
	StartedAt     time.Time `json:"startedAt"`
	DurationMs    int64     `json:"durationMs"`
}

type HealthResponse struct {
	Status   string       `json:"status"`
	LastSync *SyncSummary `json:"lastSync,omitempty"`
}

type Service struct {
	repo      mail.MailRepo
	documents document.DocumentRepo
	ledger    synclog.SyncLogRepo
	syncer    *batchsync.Orchestrator
	composer  *compose.Composer
	clusterer *cluster.Clusterer
	cfg       Config
}

// NewService builds the action service. documents and ledger may be nil;
// uploads are then refused and health omits sync details.
func NewService(
	repo mail.MailRepo,
	documents document.DocumentRepo,
	ledger synclog.SyncLogRepo,
	syncer *batchsync.Orchestrator,
	composer *compose.Composer,
	clusterer *cluster.Clusterer,
	cfg Config,
) *Service {
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = defaultSendTimeout
	}
	return &Service{
		repo:      repo,
		documents: documents,
		ledger:    ledger,
		syncer:    syncer,
		composer:  composer,
		clusterer: clusterer,
		cfg:       cfg,
	}
}

func (s *Service) Limits() Limits {
	return Limits{MaxAttachmentBytes: s.cfg.MaxAttachmentBytes}
}

// Handle dispatches a parsed request. token is the caller's bearer token.
func (s *Service) Handle(ctx context.Context, token string, req Request) (any, error) {
	switch r := req.(type) {
	case *HealthRequest:
		return s.Health(ctx), nil
	case *UploadDocumentRequest:
		return s.UploadDocument(ctx, token, r)
	case *GetEmailsRequest:
		return s.GetEmails(ctx, token, r)
	case *SearchEmailsRequest:
		return s.SearchEmails(ctx, token, r)
	case *LabelRequest:
		if r.Action() == ActionMarkAsUnread {
			return success(s.MarkAsUnread(ctx, token, r))
		}
		return success(s.MarkAsRead(ctx, token, r))
	case *SendEmailRequest:
		return s.SendEmail(ctx, token, r)
	case *DownloadAttachmentRequest:
		return s.DownloadAttachment(ctx, token, r)
	case *RemoveRequest:
		return success(s.Remove(ctx, token, r))
	}
	return nil, &mail.BadRequestError{Field: "action", Reason: fmt.Sprintf("unsupported request %T", req)}
}

func success(err error) (any, error) {
	if err != nil {
		return nil, err
	}
	return &SuccessResponse{Success: true}, nil
}

func (s *Service) GetEmails(ctx context.Context, token string, req *GetEmailsRequest) (*EmailsResponse, error) {
	return s.sync(ctx, token, req.Query, req.MaxResults, req.PageToken, req.GroupSimilar)
}

func (s *Service) SearchEmails(ctx context.Context, token string, req *SearchEmailsRequest) (*EmailsResponse, error) {
	return s.sync(ctx, token, req.Query, req.MaxResults, req.PageToken, req.GroupSimilar)
}

func (s *Service) sync(ctx context.Context, token, query string, maxResults int64, pageToken string, group bool) (*EmailsResponse, error) {
	res, err := s.syncer.Sync(ctx, token, query, maxResults, pageToken)
	if err != nil {
		return nil, err
	}

	resp := &EmailsResponse{
		Conversations:   res.Conversations,
		NextPageToken:   res.NextPageToken,
		AllEmailsLoaded: res.IsComplete,
		SkippedThreads:  len(res.Failures),
	}
	if group && s.clusterer != nil {
		resp.Clusters = s.clusterer.Cluster(res.Conversations)
	}
	return resp, nil
}

func (s *Service) MarkAsRead(ctx context.Context, token string, req *LabelRequest) error {
	return s.modifyLabels(ctx, token, req, nil, []string{mail.LabelUnread})
}

func (s *Service) MarkAsUnread(ctx context.Context, token string, req *LabelRequest) error {
	return s.modifyLabels(ctx, token, req, []string{mail.LabelUnread}, nil)
}

func (s *Service) modifyLabels(ctx context.Context, token string, req *LabelRequest, add, remove []string) error {
	if req.ThreadID != "" {
		if err := s.repo.ModifyThreadLabels(ctx, token, req.ThreadID, add, remove); err != nil {
			return fmt.Errorf("failed to update thread labels: %w", err)
		}
		return nil
	}
	if err := s.repo.ModifyMessageLabels(ctx, token, req.MessageID, add, remove); err != nil {
		return fmt.Errorf("failed to update message labels: %w", err)
	}
	return nil
}

// SendEmail composes and sends a message within the send budget. Attachment
// and size problems are reported before the provider is contacted.
func (s *Service) SendEmail(ctx context.Context, token string, req *SendEmailRequest) (*SendResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.SendTimeout)
	defer cancel()

	draft, err := s.composer.Prepare(ctx, req.outbound())
	if err != nil {
		return nil, err
	}

	sender, err := s.repo.GetProfileAddress(ctx, token)
	if err != nil {
		return nil, s.sendError("failed to look up sender", err)
	}

	raw, err := draft.Build(sender)
	if err != nil {
		return nil, err
	}

	res, err := s.repo.SendRaw(ctx, token, raw, req.ThreadID)
	if err != nil {
		return nil, s.sendError("failed to send message", err)
	}

	slog.Info("email sent",
		"message_id", res.MessageID,
		"thread_id", res.ThreadID,
		"attachments", len(req.Attachments)+len(req.DocumentAttachments),
	)
	return &SendResponse{Success: true, MessageID: res.MessageID, ThreadID: res.ThreadID}, nil
}

func (s *Service) sendError(msg string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: send budget of %s exceeded: %w", msg, s.cfg.SendTimeout, err)
	}
	return fmt.Errorf("%s: %w", msg, err)
}

func (s *Service) DownloadAttachment(ctx context.Context, token string, req *DownloadAttachmentRequest) (*AttachmentResponse, error) {
	data, err := s.repo.GetAttachment(ctx, token, req.MessageID, req.AttachmentID)
	if err != nil {
		return nil, fmt.Errorf("failed to download attachment: %w", err)
	}
	return &AttachmentResponse{
		Data: base64.StdEncoding.EncodeToString(data),
		Size: len(data),
	}, nil
}

func (s *Service) Remove(ctx context.Context, token string, req *RemoveRequest) error {
	var err error
	switch req.Action() {
	case ActionTrashThread:
		err = s.repo.TrashThread(ctx, token, req.ThreadID)
	case ActionTrashMessage:
		err = s.repo.TrashMessage(ctx, token, req.MessageID)
	case ActionDeleteThread:
		err = s.repo.DeleteThread(ctx, token, req.ThreadID)
	case ActionDeleteMessage:
		err = s.repo.DeleteMessage(ctx, token, req.MessageID)
	default:
		return &mail.BadRequestError{Field: "action", Reason: fmt.Sprintf("unsupported action %q", req.Action())}
	}
	if err != nil {
		return fmt.Errorf("failed to %s: %w", req.Action(), err)
	}
	return nil
}

// Health reports liveness plus the last recorded sync page. A ledger that
// cannot be read degrades the status but never fails the call.
func (s *Service) Health(ctx context.Context) *HealthResponse {
	resp := &HealthResponse{Status: "ok"}
	if s.ledger == nil {
		return resp
	}

	runs, err := s.ledger.GetRecentSyncRuns(ctx, 1)
	if err != nil {
		slog.Warn("failed to read sync ledger", "error", err)
		resp.Status = "degraded"
		return resp
	}
	if len(runs) > 0 {
		run := runs[0]
		resp.LastSync = &SyncSummary{
			Query:         run.Query,
			Threads:       run.ThreadCount,
			Conversations: run.ConversationCount,
			FailedThreads: run.FailedThreads,
			Complete:      run.Complete,
			StartedAt:     run.StartedAt,
			DurationMs:    run.Duration.Milliseconds(),
		}
	}
	return resp
}

// UploadDocument stores a file owned by the caller's mailbox address and
// returns the id to use in documentAttachments.
func (s *Service) UploadDocument(ctx context.Context, token string, req *UploadDocumentRequest) (*UploadResponse, error) {
	if s.documents == nil {
		return nil, errors.New("document storage is not configured")
	}

	owner, err := s.repo.GetProfileAddress(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("failed to look up document owner: %w", err)
	}

	mimeType := req.MimeType
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	doc := &document.Document{
		OwnerID:  owner,
		Filename: req.Filename,
		MimeType: mimeType,
		Content:  req.decoded,
	}
	if err := s.documents.CreateDocument(ctx, doc); err != nil {
		return nil, fmt.Errorf("failed to store document: %w", err)
	}

	slog.Info("document uploaded", "document_id", doc.ID, "size", doc.Size())
	return &UploadResponse{Success: true, DocumentID: doc.ID}, nil
}
