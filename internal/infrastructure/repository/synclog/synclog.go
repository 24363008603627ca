package synclog

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	synclog_domain "github.com/huavcjj/threadsync/internal/domain/synclog"
	"github.com/huavcjj/threadsync/internal/infrastructure/db"
)

type syncLogRepo struct {
	queries *db.Queries
}

var _ synclog_domain.SyncLogRepo = (*syncLogRepo)(nil)

func NewSyncLogRepo(dbConn *sql.DB) synclog_domain.SyncLogRepo {
	return &syncLogRepo{
		queries: db.New(dbConn),
	}
}

func (r *syncLogRepo) RecordSyncRun(ctx context.Context, run *synclog_domain.SyncRun) error {
	if run.ID == "" {
		run.ID = uuid.New().String()
	}

	_, err := r.queries.CreateSyncRun(ctx, toCreateParams(run))
	if err != nil {
		return fmt.Errorf("failed to record sync run: %w", err)
	}

	return nil
}

func (r *syncLogRepo) GetRecentSyncRuns(ctx context.Context, limit int) ([]synclog_domain.SyncRun, error) {
	dbRuns, err := r.queries.GetRecentSyncRuns(ctx, int32(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to get recent sync runs: %w", err)
	}

	runs := make([]synclog_domain.SyncRun, 0, len(dbRuns))
	for _, dbRun := range dbRuns {
		runs = append(runs, dbSyncRunToDomain(dbRun))
	}

	return runs, nil
}

func toCreateParams(run *synclog_domain.SyncRun) db.CreateSyncRunParams {
	return db.CreateSyncRunParams{
		ID:                run.ID,
		Query:             run.Query,
		PageToken:         nullString(run.PageToken),
		NextPageToken:     nullString(run.NextPageToken),
		ThreadCount:       int32(run.ThreadCount),
		ConversationCount: int32(run.ConversationCount),
		FailedThreads:     int32(run.FailedThreads),
		Complete:          run.Complete,
		StartedAt:         run.StartedAt.UTC(),
		DurationMs:        run.Duration.Milliseconds(),
	}
}

func dbSyncRunToDomain(dbRun db.SyncRun) synclog_domain.SyncRun {
	return synclog_domain.SyncRun{
		ID:                dbRun.ID,
		Query:             dbRun.Query,
		PageToken:         dbRun.PageToken.String,
		NextPageToken:     dbRun.NextPageToken.String,
		ThreadCount:       int(dbRun.ThreadCount),
		ConversationCount: int(dbRun.ConversationCount),
		FailedThreads:     int(dbRun.FailedThreads),
		Complete:          dbRun.Complete,
		StartedAt:         dbRun.StartedAt,
		Duration:          time.Duration(dbRun.DurationMs) * time.Millisecond,
	}
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
