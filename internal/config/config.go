package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type DBConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	Name     string
}

func (c DBConfig) DSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?parseTime=true",
		c.User, c.Password, c.Host, c.Port, c.Name)
}

type SyncConfig struct {
	BatchSize       int
	BatchDelay      time.Duration
	DefaultPageSize int64
	MaxPageSize     int64
}

type SendConfig struct {
	Timeout            time.Duration
	MaxAttachmentBytes int64
	MaxMessageBytes    int64
}

type ClusterConfig struct {
	MinParticipantOverlap float64
	MinSubjectSimilarity  float64
	MaxDateGap            time.Duration
}

type BreakerConfig struct {
	MaxRequests         uint32
	Interval            time.Duration
	Timeout             time.Duration
	ConsecutiveFailures uint32
}

type Config struct {
	Port                string
	GmailAPIEndpoint    string
	DB                  DBConfig
	Sync                SyncConfig
	Send                SendConfig
	Cluster             ClusterConfig
	Breaker             BreakerConfig
	MarketingSignatures []string
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("port", "8080")
	v.SetDefault("gmail.api_endpoint", "")

	v.SetDefault("db.host", "localhost")
	v.SetDefault("db.port", "3306")
	v.SetDefault("db.user", "root")
	v.SetDefault("db.password", "")
	v.SetDefault("db.name", "threadsync")

	v.SetDefault("sync.batch_size", 5)
	v.SetDefault("sync.batch_delay", 250*time.Millisecond)
	v.SetDefault("sync.default_page_size", 20)
	v.SetDefault("sync.max_page_size", 100)

	v.SetDefault("send.timeout", 15*time.Second)
	v.SetDefault("max_attachment_bytes", 20*1024*1024)
	v.SetDefault("max_message_bytes", 25*1024*1024)

	v.SetDefault("cluster.min_participant_overlap", 0.5)
	v.SetDefault("cluster.min_subject_similarity", 0.6)
	v.SetDefault("cluster.max_date_gap", 30*24*time.Hour)

	v.SetDefault("breaker.max_requests", 3)
	v.SetDefault("breaker.interval", 60*time.Second)
	v.SetDefault("breaker.timeout", 30*time.Second)
	v.SetDefault("breaker.consecutive_failures", 5)

	v.SetDefault("marketing_signatures", "")
}

// Load reads configuration from the environment, layered over the optional
// YAML file at path. Keys map to env names by upper-casing and replacing
// dots with underscores, e.g. sync.batch_size is SYNC_BATCH_SIZE.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("reading config %s: %w", path, err)
			}
		}
	}

	cfg := &Config{
		Port:             v.GetString("port"),
		GmailAPIEndpoint: v.GetString("gmail.api_endpoint"),
		DB: DBConfig{
			Host:     v.GetString("db.host"),
			Port:     v.GetString("db.port"),
			User:     v.GetString("db.user"),
			Password: v.GetString("db.password"),
			Name:     v.GetString("db.name"),
		},
		Sync: SyncConfig{
			BatchSize:       v.GetInt("sync.batch_size"),
			BatchDelay:      v.GetDuration("sync.batch_delay"),
			DefaultPageSize: v.GetInt64("sync.default_page_size"),
			MaxPageSize:     v.GetInt64("sync.max_page_size"),
		},
		Send: SendConfig{
			Timeout:            v.GetDuration("send.timeout"),
			MaxAttachmentBytes: v.GetInt64("max_attachment_bytes"),
			MaxMessageBytes:    v.GetInt64("max_message_bytes"),
		},
		Cluster: ClusterConfig{
			MinParticipantOverlap: v.GetFloat64("cluster.min_participant_overlap"),
			MinSubjectSimilarity:  v.GetFloat64("cluster.min_subject_similarity"),
			MaxDateGap:            v.GetDuration("cluster.max_date_gap"),
		},
		Breaker: BreakerConfig{
			MaxRequests:         v.GetUint32("breaker.max_requests"),
			Interval:            v.GetDuration("breaker.interval"),
			Timeout:             v.GetDuration("breaker.timeout"),
			ConsecutiveFailures: v.GetUint32("breaker.consecutive_failures"),
		},
		MarketingSignatures: stringList(v.Get("marketing_signatures")),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// stringList accepts a YAML list or a comma-separated env value.
func stringList(raw any) []string {
	var items []string
	switch val := raw.(type) {
	case string:
		items = strings.Split(val, ",")
	case []string:
		items = val
	case []any:
		for _, item := range val {
			items = append(items, fmt.Sprint(item))
		}
	}

	out := make([]string, 0, len(items))
	for _, item := range items {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func (c *Config) validate() error {
	var errs []error
	if c.Sync.BatchSize <= 0 {
		errs = append(errs, fmt.Errorf("sync.batch_size must be positive, got %d", c.Sync.BatchSize))
	}
	if c.Sync.BatchDelay < 0 {
		errs = append(errs, fmt.Errorf("sync.batch_delay must not be negative, got %s", c.Sync.BatchDelay))
	}
	if c.Sync.MaxPageSize <= 0 || c.Sync.DefaultPageSize <= 0 || c.Sync.DefaultPageSize > c.Sync.MaxPageSize {
		errs = append(errs, fmt.Errorf("sync page sizes must satisfy 0 < default (%d) <= max (%d)",
			c.Sync.DefaultPageSize, c.Sync.MaxPageSize))
	}
	if c.Send.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("send.timeout must be positive, got %s", c.Send.Timeout))
	}
	if c.Send.MaxAttachmentBytes <= 0 || c.Send.MaxMessageBytes <= 0 {
		errs = append(errs, errors.New("size limits must be positive"))
	}
	for name, ratio := range map[string]float64{
		"cluster.min_participant_overlap": c.Cluster.MinParticipantOverlap,
		"cluster.min_subject_similarity":  c.Cluster.MinSubjectSimilarity,
	} {
		if ratio < 0 || ratio > 1 {
			errs = append(errs, fmt.Errorf("%s must be within [0, 1], got %v", name, ratio))
		}
	}
	if c.Cluster.MaxDateGap < 0 {
		errs = append(errs, fmt.Errorf("cluster.max_date_gap must not be negative, got %s", c.Cluster.MaxDateGap))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}
