package pipeline

import (
	"log/slog"
	"time"

	"textmill/internal/config"
	"textmill/internal/handles"
	"textmill/internal/jobs"
	"textmill/internal/logging"
	"textmill/internal/stats"
)

// releaseTimeout bounds the store call returning an interrupted job.
const releaseTimeout = 5 * time.Second

// Manager coordinates extraction workers over a job store.
type Manager struct {
	cfg       *config.Config
	store     *jobs.Store
	reader    JobReader
	consumers []Consumer
	logger    *slog.Logger

	mode        Mode
	workers     int
	handleStats func() handles.Stats
	heartbeat   *HeartbeatMonitor
}

// Option configures optional Manager behavior.
type Option func(*Manager)

// WithConsumers replaces the default consumer chain.
func WithConsumers(consumers ...Consumer) Option {
	return func(m *Manager) {
		m.consumers = consumers
	}
}

// WithMode selects drain or follow behavior.
func WithMode(mode Mode) Option {
	return func(m *Manager) {
		m.mode = mode
	}
}

// WithWorkers overrides workflow.workers.
func WithWorkers(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.workers = n
		}
	}
}

// WithHandleStats reports archive handle cache activity in the run summary.
func WithHandleStats(fn func() handles.Stats) Option {
	return func(m *Manager) {
		m.handleStats = fn
	}
}

// NewManager constructs a manager. Without WithConsumers the chain is a
// single TextConsumer counting words into the store's database.
func NewManager(cfg *config.Config, store *jobs.Store, reader JobReader, logger *slog.Logger, opts ...Option) *Manager {
	logger = logging.NewComponentLogger(logger, "pipeline")
	m := &Manager{
		cfg:       cfg,
		store:     store,
		reader:    reader,
		consumers: []Consumer{NewTextConsumer(stats.NewWordCounter(store.DB()))},
		logger:    logger,
		mode:      ModeDrain,
		workers:   cfg.Workflow.Workers,
		heartbeat: NewHeartbeatMonitor(store, logger, cfg.HeartbeatInterval(), cfg.ClaimTimeout()),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.workers <= 0 {
		m.workers = 1
	}
	return m
}
