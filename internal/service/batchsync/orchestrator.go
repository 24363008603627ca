package batchsync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/huavcjj/threadsync/internal/domain/mail"
	"github.com/huavcjj/threadsync/internal/domain/synclog"
	"github.com/huavcjj/threadsync/internal/service/content"
	"github.com/huavcjj/threadsync/internal/service/thread"
)

var errEmptyThread = errors.New("thread has no messages")

type Config struct {
	BatchSize       int
	BatchDelay      time.Duration
	DefaultPageSize int64
	MaxPageSize     int64
}

func DefaultConfig() Config {
	return Config{
		BatchSize:       5,
		BatchDelay:      250 * time.Millisecond,
		DefaultPageSize: 20,
		MaxPageSize:     100,
	}
}

// ThreadFailure records a thread dropped from a page.
type ThreadFailure struct {
	ThreadID string
	Err      error
}

type Result struct {
	Conversations []mail.Conversation
	NextPageToken string
	IsComplete    bool
	ThreadCount   int
	Failures      []ThreadFailure
}

type Orchestrator struct {
	repo   mail.MailRepo
	walker *content.Walker
	ledger synclog.SyncLogRepo
	cfg    Config
}

// NewOrchestrator returns an Orchestrator. ledger may be nil.
func NewOrchestrator(repo mail.MailRepo, walker *content.Walker, ledger synclog.SyncLogRepo, cfg Config) *Orchestrator {
	def := DefaultConfig()
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.BatchDelay < 0 {
		cfg.BatchDelay = 0
	}
	if cfg.MaxPageSize <= 0 {
		cfg.MaxPageSize = def.MaxPageSize
	}
	if cfg.DefaultPageSize <= 0 {
		cfg.DefaultPageSize = min(def.DefaultPageSize, cfg.MaxPageSize)
	}
	return &Orchestrator{
		repo:   repo,
		walker: walker,
		ledger: ledger,
		cfg:    cfg,
	}
}

// PageSize clamps a requested page size into [1, MaxPageSize]; zero or
// negative selects the default.
func (o *Orchestrator) PageSize(requested int64) int64 {
	if requested <= 0 {
		return o.cfg.DefaultPageSize
	}
	return min(requested, o.cfg.MaxPageSize)
}

// Sync fetches one page of threads matching query and aggregates them into
// conversations. Threads that fail to load are dropped and reported in
// Result.Failures; auth and rate-limit errors abort the page.
func (o *Orchestrator) Sync(ctx context.Context, token, query string, pageSize int64, pageToken string) (*Result, error) {
	started := time.Now()

	page, err := o.repo.ListThreads(ctx, token, query, o.PageSize(pageSize), pageToken)
	if err != nil {
		return nil, fmt.Errorf("failed to list threads: %w", err)
	}

	emails, failures, err := o.fetchThreads(ctx, token, page.ThreadIDs)
	if err != nil {
		return nil, err
	}

	result := &Result{
		Conversations: thread.Aggregate(emails),
		NextPageToken: page.NextPageToken,
		IsComplete:    page.NextPageToken == "",
		ThreadCount:   len(page.ThreadIDs),
		Failures:      failures,
	}

	slog.Info("sync page completed",
		"query", query,
		"threads", result.ThreadCount,
		"conversations", len(result.Conversations),
		"failed_threads", len(failures),
		"complete", result.IsComplete,
		"duration", time.Since(started),
	)

	o.record(ctx, query, pageToken, result, started)
	return result, nil
}

type threadResult struct {
	emails []mail.ProcessedEmail
	err    error
}

func (o *Orchestrator) fetchThreads(ctx context.Context, token string, ids []string) ([]mail.ProcessedEmail, []ThreadFailure, error) {
	var emails []mail.ProcessedEmail
	var failures []ThreadFailure

	size := o.cfg.BatchSize
	for start := 0; start < len(ids); start += size {
		if start > 0 {
			if err := pause(ctx, o.cfg.BatchDelay); err != nil {
				return nil, nil, err
			}
		}

		batch := ids[start:min(start+size, len(ids))]
		results := make([]threadResult, len(batch))

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(size)
		for i, id := range batch {
			g.Go(func() error {
				got, err := o.fetchThread(gctx, token, id)
				if err != nil && (mail.IsFatalForSync(err) || ctx.Err() != nil) {
					return err
				}
				results[i] = threadResult{emails: got, err: err}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, nil, fmt.Errorf("sync aborted: %w", err)
		}

		for i, r := range results {
			if r.err != nil {
				slog.Warn("dropping thread from sync page", "thread_id", batch[i], "error", r.err)
				failures = append(failures, ThreadFailure{ThreadID: batch[i], Err: r.err})
				continue
			}
			emails = append(emails, r.emails...)
		}
	}
	return emails, failures, nil
}

func (o *Orchestrator) fetchThread(ctx context.Context, token, id string) ([]mail.ProcessedEmail, error) {
	msgs, err := o.repo.GetThread(ctx, token, id)
	if err != nil {
		return nil, err
	}

	emails := make([]mail.ProcessedEmail, 0, len(msgs))
	for _, m := range msgs {
		if m == nil {
			continue
		}
		email := o.walker.Process(m)
		if email.ThreadID == "" {
			email.ThreadID = id
		}
		emails = append(emails, email)
	}
	if len(emails) == 0 {
		return nil, errEmptyThread
	}
	return emails, nil
}

func (o *Orchestrator) record(ctx context.Context, query, pageToken string, result *Result, started time.Time) {
	if o.ledger == nil {
		return
	}
	run := &synclog.SyncRun{
		ID:                uuid.NewString(),
		Query:             query,
		PageToken:         pageToken,
		NextPageToken:     result.NextPageToken,
		ThreadCount:       result.ThreadCount,
		ConversationCount: len(result.Conversations),
		FailedThreads:     len(result.Failures),
		Complete:          result.IsComplete,
		StartedAt:         started,
		Duration:          time.Since(started),
	}
	if err := o.ledger.RecordSyncRun(context.WithoutCancel(ctx), run); err != nil {
		slog.Warn("failed to record sync run", "query", query, "error", err)
	}
}

func pause(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
