package synclog

import (
	"context"
	"time"
)

type SyncRun struct {
	ID                string
	Query             string
	PageToken         string
	NextPageToken     string
	ThreadCount       int
	ConversationCount int
	FailedThreads     int
	Complete          bool
	StartedAt         time.Time
	Duration          time.Duration
}

type SyncLogRepo interface {
	RecordSyncRun(ctx context.Context, run *SyncRun) error
	GetRecentSyncRuns(ctx context.Context, limit int) ([]SyncRun, error)
}
