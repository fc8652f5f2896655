package workflow

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"podscribe/internal/config"
	"podscribe/internal/episodes"
	"podscribe/internal/events"
	"podscribe/internal/logging"
	"podscribe/internal/pipeline"
	"podscribe/internal/queue"
	"podscribe/internal/stage"
	"podscribe/internal/usage"
)

// EpisodeResolver returns the episode record for a source URL, creating it
// when absent.
type EpisodeResolver interface {
	Ensure(ctx context.Context, sourceURL string) (*episodes.Episode, error)
}

// Runner executes the pipeline for one episode.
type Runner interface {
	Run(ctx context.Context, episodeID int64, opts pipeline.RunOptions) (pipeline.Result, error)
}

// Manager coordinates queue processing across a fixed worker pool.
type Manager struct {
	store        *queue.Store
	episodes     EpisodeResolver
	runner       Runner
	logger       *slog.Logger
	emitter      *events.Emitter
	checkers     []stage.Checker
	prices       usage.Prices
	workers      int
	pollInterval time.Duration
	retryDelay   time.Duration

	heartbeat *HeartbeatMonitor
	wake      chan struct{}

	mu       sync.RWMutex
	running  bool
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	lastErr  error
	lastTask *queue.Task
	active   map[string]int64
}

// ManagerOption configures optional Manager behavior.
type ManagerOption func(*Manager)

// WithEmitter publishes task lifecycle events through emitter.
func WithEmitter(emitter *events.Emitter) ManagerOption {
	return func(m *Manager) {
		m.emitter = emitter
	}
}

// WithHealthChecks adds collaborator checks reported by Status.
func WithHealthChecks(checkers ...stage.Checker) ManagerOption {
	return func(m *Manager) {
		m.checkers = append(m.checkers, checkers...)
	}
}

// NewManager constructs a workflow manager.
func NewManager(cfg *config.Config, store *queue.Store, resolver EpisodeResolver, runner Runner, logger *slog.Logger, opts ...ManagerOption) *Manager {
	workers := cfg.Workflow.Workers
	if workers <= 0 {
		workers = 1
	}
	logger = logging.NewComponentLogger(logger, "workflow-manager")
	m := &Manager{
		store:        store,
		episodes:     resolver,
		runner:       runner,
		logger:       logger,
		workers:      workers,
		pollInterval: time.Duration(cfg.Workflow.QueuePollInterval) * time.Second,
		retryDelay:   time.Duration(cfg.Workflow.ErrorRetryInterval) * time.Second,
		prices: usage.Prices{
			InputPerMillion:  cfg.LLM.InputPricePerMillion,
			OutputPerMillion: cfg.LLM.OutputPricePerMillion,
		},
		heartbeat: NewHeartbeatMonitor(
			store,
			logger,
			time.Duration(cfg.Workflow.HeartbeatInterval)*time.Second,
			time.Duration(cfg.Workflow.HeartbeatTimeout)*time.Second,
		),
		wake:   make(chan struct{}, workers),
		active: make(map[string]int64),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Heartbeat exposes the monitor so maintenance jobs can expire stale tasks.
func (m *Manager) Heartbeat() *HeartbeatMonitor {
	return m.heartbeat
}

// Wake nudges idle workers to poll immediately.
func (m *Manager) Wake() {
	for i := 0; i < m.workers; i++ {
		select {
		case m.wake <- struct{}{}:
		default:
			return
		}
	}
}
