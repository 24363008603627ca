package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/nalgeon/be"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	be.Err(t, err, nil)

	be.Equal(t, cfg.Port, "8080")
	be.Equal(t, cfg.Sync.BatchSize, 5)
	be.Equal(t, cfg.Sync.BatchDelay, 250*time.Millisecond)
	be.Equal(t, cfg.Sync.DefaultPageSize, int64(20))
	be.Equal(t, cfg.Sync.MaxPageSize, int64(100))
	be.Equal(t, cfg.Send.Timeout, 15*time.Second)
	be.Equal(t, cfg.Send.MaxAttachmentBytes, int64(20*1024*1024))
	be.Equal(t, cfg.Send.MaxMessageBytes, int64(25*1024*1024))
	be.Equal(t, cfg.Cluster.MinParticipantOverlap, 0.5)
	be.Equal(t, cfg.Cluster.MinSubjectSimilarity, 0.6)
	be.Equal(t, cfg.Cluster.MaxDateGap, 720*time.Hour)
	be.Equal(t, cfg.Breaker.ConsecutiveFailures, uint32(5))
	be.Equal(t, len(cfg.MarketingSignatures), 0)
}

func TestLoad_Env(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("SYNC_BATCH_SIZE", "3")
	t.Setenv("SYNC_BATCH_DELAY", "1s")
	t.Setenv("SEND_TIMEOUT", "10s")
	t.Setenv("CLUSTER_MIN_SUBJECT_SIMILARITY", "0.75")
	t.Setenv("MARKETING_SIGNATURES", "utm_source=, track.example.com ,")
	t.Setenv("DB_HOST", "db")

	cfg, err := Load("")
	be.Err(t, err, nil)
	be.Equal(t, cfg.Port, "9090")
	be.Equal(t, cfg.Sync.BatchSize, 3)
	be.Equal(t, cfg.Sync.BatchDelay, time.Second)
	be.Equal(t, cfg.Send.Timeout, 10*time.Second)
	be.Equal(t, cfg.Cluster.MinSubjectSimilarity, 0.75)
	be.Equal(t, cfg.MarketingSignatures, []string{"utm_source=", "track.example.com"})
	be.Equal(t, cfg.DB.DSN(), "root:@tcp(db:3306)/threadsync?parseTime=true")
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := `
sync:
  batch_size: 8
  max_page_size: 50
cluster:
  max_date_gap: 168h
marketing_signatures:
  - mailchimp
  - /click?
`
	be.Err(t, os.WriteFile(path, []byte(yaml), 0o600), nil)

	cfg, err := Load(path)
	be.Err(t, err, nil)
	be.Equal(t, cfg.Sync.BatchSize, 8)
	be.Equal(t, cfg.Sync.MaxPageSize, int64(50))
	be.Equal(t, cfg.Cluster.MaxDateGap, 7*24*time.Hour)
	be.Equal(t, cfg.MarketingSignatures, []string{"mailchimp", "/click?"})
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	be.Err(t, err, nil)
	be.Equal(t, cfg.Sync.BatchSize, 5)
}

func TestLoad_Invalid(t *testing.T) {
	t.Setenv("SYNC_BATCH_SIZE", "0")
	t.Setenv("CLUSTER_MIN_PARTICIPANT_OVERLAP", "1.5")

	_, err := Load("")
	be.Err(t, err, "sync.batch_size")
	be.Err(t, err, "cluster.min_participant_overlap")
}
