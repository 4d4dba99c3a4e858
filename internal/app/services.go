package app

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/farmledger/internal/events"
	"github.com/odyssey-erp/farmledger/internal/lease"
	"github.com/odyssey-erp/farmledger/internal/ledger"
	"github.com/odyssey-erp/farmledger/internal/notify"
	"github.com/odyssey-erp/farmledger/internal/posting"
	"github.com/odyssey-erp/farmledger/internal/shared"
)

// Services is the posting runtime shared by the HTTP server and the worker.
type Services struct {
	Events    *events.Service
	Ledger    *ledger.Service
	Charts    *ledger.CachedCharts
	Engine    *posting.Engine
	Sweeper   *posting.Sweeper
	Policy    posting.RetryPolicy
	Publisher notify.Publisher

	closers []func() error
}

// ServiceDeps are the connections Services is built on.
type ServiceDeps struct {
	Config     *Config
	Logger     *slog.Logger
	Pool       *pgxpool.Pool
	Redis      *redis.Client
	Registerer prometheus.Registerer
}

// NewServices wires repositories, caches, leases and the posting engine.
func NewServices(deps ServiceDeps) (*Services, error) {
	cfg := deps.Config
	if cfg == nil || deps.Pool == nil || deps.Redis == nil {
		return nil, errors.New("app: config, pool and redis are required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	feedCosting, err := posting.ParseFeedCosting(cfg.PostingFeedCosting)
	if err != nil {
		return nil, err
	}

	audit := shared.NewAuditLogger(deps.Pool)
	eventsSvc := events.NewService(events.NewRepository(deps.Pool), audit, logger)
	ledgerSvc := ledger.NewService(ledger.NewRepository(deps.Pool), audit)
	charts := ledger.NewCachedCharts(ledgerSvc, ledger.NewChartCache(deps.Redis, cfg.ChartCacheTTL))
	ledgerSvc.WithInvalidator(charts)

	s := &Services{
		Events:    eventsSvc,
		Ledger:    ledgerSvc,
		Charts:    charts,
		Publisher: notify.NopPublisher{},
		Policy: posting.RetryPolicy{
			MaxAttempts: cfg.PostingMaxAttempts,
			Base:        cfg.PostingRetryBase,
			Max:         cfg.PostingRetryMax,
		},
	}
	if cfg.KafkaEnabled() {
		brokers := make([]string, 0, len(cfg.KafkaBrokers))
		for _, b := range cfg.KafkaBrokers {
			if b = strings.TrimSpace(b); b != "" {
				brokers = append(brokers, b)
			}
		}
		publisher := notify.NewKafkaPublisher(notify.NewKafkaWriter(brokers, cfg.KafkaTopic), logger)
		s.Publisher = publisher
		s.closers = append(s.closers, publisher.Close)
		logger.Info("publishing posting notifications", slog.String("topic", cfg.KafkaTopic))
	}

	s.Engine = posting.NewEngine(posting.Dependencies{
		Events:   eventsSvc,
		Charts:   charts,
		Journals: ledgerSvc,
		Store:    posting.NewRepository(deps.Pool),
		Leases:   lease.NewRedisManager(deps.Redis),
		Settings: posting.NewStaticSettings(posting.Settings{
			FeedCosting:      feedCosting,
			ReverseInventory: cfg.PostingReverseInventory,
		}),
		Audit:     audit,
		Publisher: s.Publisher,
		Metrics:   posting.NewMetrics(deps.Registerer),
		Logger:    logger,
	}, cfg.PostingLockTTL)
	s.Sweeper = posting.NewSweeper(eventsSvc, s.Engine, s.Policy, cfg.PostingSweepBatch, cfg.PostingSweepConcurrency, logger)
	return s, nil
}

// Close releases publisher resources.
func (s *Services) Close() error {
	var errs []error
	for _, c := range s.closers {
		if err := c(); err != nil {
			errs = append(errs, fmt.Errorf("app: close: %w", err))
		}
	}
	return errors.Join(errs...)
}
