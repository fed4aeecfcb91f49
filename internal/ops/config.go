// Package ops loads and validates the runtime configuration.
package ops

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/arda-arslan/cryptobot/internal/risk"
	"github.com/arda-arslan/cryptobot/internal/schema"
	"github.com/arda-arslan/cryptobot/internal/session"
	"github.com/arda-arslan/cryptobot/internal/strategy"
	"github.com/arda-arslan/cryptobot/pkg/backoff"
	"github.com/arda-arslan/cryptobot/pkg/conn"
)

// FileConfig mirrors the JSON config layout.
type FileConfig struct {
	Feed      FeedConfig       `json:"feed"`
	Session   SessionConfig    `json:"session"`
	Rest      RestConfig       `json:"rest"`
	Scales    schema.ScaleSpec `json:"scales"`
	Risk      risk.Config      `json:"risk"`
	Strategy  strategy.Config  `json:"strategy"`
	Queues    QueueConfig      `json:"queues"`
	Archive   ArchiveConfig    `json:"archive"`
	Profiling ProfilingConfig  `json:"profiling"`
}

// FeedConfig describes the market-data connection.
type FeedConfig struct {
	Endpoint        string   `json:"endpoint"`
	Products        []string `json:"products"`
	MaxDepth        int      `json:"maxDepth"`
	IgnoreCutoffBps int64    `json:"ignoreCutoffBps"`
}

// SessionConfig describes the order-entry connection and credentials.
type SessionConfig struct {
	Endpoint            string  `json:"endpoint"`
	TargetCompID        string  `json:"targetCompId"`
	APIKey              string  `json:"apiKey"`
	Passphrase          string  `json:"passphrase"`
	SecretKey           string  `json:"secretKey"`
	UseTLS              bool    `json:"useTls"`
	HeartbeatIntervalMs int64   `json:"heartbeatIntervalMs"`
	HeartbeatTolerance  float64 `json:"heartbeatTolerance"`
	MaxRetries          int     `json:"maxRetries"`
}

// RestConfig describes the REST API used for reconciliation.
type RestConfig struct {
	Endpoint string `json:"endpoint"`
}

// QueueConfig sizes the internal event queues.
type QueueConfig struct {
	BookDepth  int `json:"bookDepth"`
	OrderDepth int `json:"orderDepth"`
}

// ArchiveConfig gates the PostgreSQL order archive.
type ArchiveConfig struct {
	Enabled  bool        `json:"enabled"`
	Postgres conn.Option `json:"postgres"`
}

// ProfilingConfig gates continuous profiling.
type ProfilingConfig struct {
	Enabled         bool   `json:"enabled"`
	ServerAddress   string `json:"serverAddress"`
	ApplicationName string `json:"applicationName"`
}

// Loaded is the resolved configuration ready for use.
type Loaded struct {
	Feed      FeedConfig
	Products  []schema.Product
	Session   session.Config
	Rest      RestConfig
	Scales    schema.ScaleSpec
	Risk      risk.Config
	Strategy  strategy.Config
	Queues    QueueConfig
	Archive   ArchiveConfig
	Profiling ProfilingConfig
}

// Load reads a JSON config file and validates it.
func Load(path string) (Loaded, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Loaded{}, err
	}
	var cfg FileConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Loaded{}, err
	}
	return resolve(cfg)
}

func resolve(cfg FileConfig) (Loaded, error) {
	if cfg.Feed.Endpoint == "" {
		return Loaded{}, fmt.Errorf("feed endpoint is empty")
	}
	if len(cfg.Feed.Products) == 0 {
		return Loaded{}, fmt.Errorf("no products configured")
	}
	if cfg.Session.Endpoint == "" {
		return Loaded{}, fmt.Errorf("session endpoint is empty")
	}
	if cfg.Session.APIKey == "" || cfg.Session.SecretKey == "" || cfg.Session.Passphrase == "" {
		return Loaded{}, fmt.Errorf("session credentials are incomplete")
	}
	if err := validateScale(cfg.Scales); err != nil {
		return Loaded{}, err
	}
	if cfg.Strategy.SizeFractionBps <= 0 || cfg.Strategy.SizeFractionBps > 10000 {
		return Loaded{}, fmt.Errorf("strategy sizeFractionBps must be in (0, 10000]")
	}
	if cfg.Feed.MaxDepth < 0 || cfg.Feed.IgnoreCutoffBps < 0 {
		return Loaded{}, fmt.Errorf("feed depth limits must be >= 0")
	}
	if cfg.Archive.Enabled && cfg.Archive.Postgres.Database == "" && cfg.Archive.Postgres.ConnString == "" {
		return Loaded{}, fmt.Errorf("archive enabled without a database")
	}

	products := make([]schema.Product, 0, len(cfg.Feed.Products))
	for _, p := range cfg.Feed.Products {
		if p == "" {
			return Loaded{}, fmt.Errorf("empty product id")
		}
		products = append(products, schema.Product(p))
	}

	heartbeat := time.Duration(cfg.Session.HeartbeatIntervalMs) * time.Millisecond
	if heartbeat <= 0 {
		heartbeat = 30 * time.Second
	}
	tolerance := cfg.Session.HeartbeatTolerance
	if tolerance <= 1 {
		tolerance = 1.5
	}

	queues := cfg.Queues
	if queues.BookDepth <= 0 {
		queues.BookDepth = 4096
	}
	if queues.OrderDepth <= 0 {
		queues.OrderDepth = 1024
	}

	targetCompID := cfg.Session.TargetCompID
	if targetCompID == "" {
		targetCompID = "Coinbase"
	}

	return Loaded{
		Feed:     cfg.Feed,
		Products: products,
		Session: session.Config{
			Endpoint:           cfg.Session.Endpoint,
			TargetCompID:       targetCompID,
			APIKey:             cfg.Session.APIKey,
			Passphrase:         cfg.Session.Passphrase,
			SecretKey:          cfg.Session.SecretKey,
			UseTLS:             cfg.Session.UseTLS,
			HeartbeatInterval:  heartbeat,
			HeartbeatTolerance: tolerance,
			MaxRetries:         cfg.Session.MaxRetries,
			Backoff:            backoff.Default(),
			Scales:             cfg.Scales,
		},
		Rest:      cfg.Rest,
		Scales:    cfg.Scales,
		Risk:      cfg.Risk,
		Strategy:  cfg.Strategy,
		Queues:    queues,
		Archive:   cfg.Archive,
		Profiling: cfg.Profiling,
	}, nil
}

func validateScale(scale schema.ScaleSpec) error {
	if scale.PriceScale < 0 || scale.QuantityScale < 0 {
		return fmt.Errorf("scale must be >= 0")
	}
	return nil
}
