package di

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/huavcjj/threadsync/internal/config"
	documentdomain "github.com/huavcjj/threadsync/internal/domain/document"
	maildomain "github.com/huavcjj/threadsync/internal/domain/mail"
	synclogdomain "github.com/huavcjj/threadsync/internal/domain/synclog"
	documentrepo "github.com/huavcjj/threadsync/internal/infrastructure/repository/document"
	gmailrepo "github.com/huavcjj/threadsync/internal/infrastructure/repository/gmail"
	synclogrepo "github.com/huavcjj/threadsync/internal/infrastructure/repository/synclog"
	"github.com/huavcjj/threadsync/internal/service/batchsync"
	"github.com/huavcjj/threadsync/internal/service/cluster"
	"github.com/huavcjj/threadsync/internal/service/compose"
	"github.com/huavcjj/threadsync/internal/service/content"
	"github.com/huavcjj/threadsync/internal/service/mailbox"
)

type Container struct {
	DB             *sql.DB
	MailRepo       maildomain.MailRepo
	DocumentRepo   documentdomain.DocumentRepo
	SyncLogRepo    synclogdomain.SyncLogRepo
	MailboxService *mailbox.Service
}

func NewContainer(ctx context.Context, cfg *config.Config) (*Container, error) {
	db, err := sql.Open("mysql", cfg.DB.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		slog.Warn("database ping failed", "error", err)
	} else {
		slog.Info("database connected")
	}

	mailRepo := gmailrepo.NewGmailRepo(gmailrepo.Config{
		Endpoint:   cfg.GmailAPIEndpoint,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
		Breaker: gmailrepo.BreakerConfig{
			MaxRequests:         cfg.Breaker.MaxRequests,
			Interval:            cfg.Breaker.Interval,
			Timeout:             cfg.Breaker.Timeout,
			ConsecutiveFailures: cfg.Breaker.ConsecutiveFailures,
		},
	})
	documentRepo := documentrepo.NewDocumentRepo(db)
	syncLogRepo := synclogrepo.NewSyncLogRepo(db)

	orchestrator := batchsync.NewOrchestrator(
		mailRepo,
		content.NewWalker(cfg.MarketingSignatures),
		syncLogRepo,
		batchsync.Config{
			BatchSize:       cfg.Sync.BatchSize,
			BatchDelay:      cfg.Sync.BatchDelay,
			DefaultPageSize: cfg.Sync.DefaultPageSize,
			MaxPageSize:     cfg.Sync.MaxPageSize,
		},
	)

	composer := compose.NewComposer(
		compose.NewDocumentResolver(documentRepo, cfg.Send.MaxAttachmentBytes),
		compose.WithMaxMessageBytes(cfg.Send.MaxMessageBytes),
	)

	clusterer := cluster.NewClusterer(cluster.Thresholds{
		MinParticipantOverlap: cfg.Cluster.MinParticipantOverlap,
		MinSubjectSimilarity:  cfg.Cluster.MinSubjectSimilarity,
		MaxDateGap:            cfg.Cluster.MaxDateGap,
	})

	mailboxService := mailbox.NewService(mailRepo, documentRepo, syncLogRepo, orchestrator, composer, clusterer, mailbox.Config{
		SendTimeout:        cfg.Send.Timeout,
		MaxAttachmentBytes: cfg.Send.MaxAttachmentBytes,
	})

	return &Container{
		DB:             db,
		MailRepo:       mailRepo,
		DocumentRepo:   documentRepo,
		SyncLogRepo:    syncLogRepo,
		MailboxService: mailboxService,
	}, nil
}

func (c *Container) Close() error {
	if c.DB != nil {
		return c.DB.Close()
	}
	return nil
}
