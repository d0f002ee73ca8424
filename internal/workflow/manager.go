// Package workflow supervises the reconciliation engine: it owns the feed
// poll and queue flush tickers, the failsafe staleness timer, and the mutual
// exclusion between the fast flush path and full reconciliation passes.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"

	"watchbridge/internal/changeset"
	"watchbridge/internal/config"
	"watchbridge/internal/logging"
	"watchbridge/internal/notifications"
	"watchbridge/internal/reconcile"
	"watchbridge/internal/routing"
	"watchbridge/internal/services"
	"watchbridge/internal/source"
	"watchbridge/internal/store"
	"watchbridge/internal/watchfeed"
)

// State names the manager lifecycle phase.
type State string

const (
	StateStopped  State = "stopped"
	StateStarting State = "starting"
	StateRunning  State = "running"
	StateStopping State = "stopping"
)

// ErrSyncInFlight indicates a sync or flush pass is already running.
var ErrSyncInFlight = errors.New("sync already in flight")

// ErrNotStopped indicates Start was called outside the stopped state.
var ErrNotStopped = errors.New("manager is not stopped")

// Status is a point-in-time view of the manager.
type Status struct {
	State           State
	FallbackPolling bool
	LastSync        time.Time
	QueuedChanges   int
}

// Manager drives the reconciliation engine lifecycle.
type Manager struct {
	cfg      *config.Config
	store    *store.Store
	client   source.Client
	router   routing.Router
	notifier notifications.Service
	logger   *slog.Logger

	queue    *changeset.Queue
	watcher  *watchfeed.Watcher
	syncer   *reconcile.Syncer
	failsafe *FailsafeArmer

	mu              sync.Mutex
	state           State
	fallbackPolling bool
	lastSync        time.Time
	refreshInFlight bool
	passInFlight    bool
	initialDone     bool
	cancel          context.CancelFunc

	wg sync.WaitGroup
}

// NewManager wires the engine together.
func NewManager(cfg *config.Config, st *store.Store, client source.Client, router routing.Router, notifier notifications.Service, logger *slog.Logger) *Manager {
	queue := changeset.New(nil)
	m := &Manager{
		cfg:      cfg,
		store:    st,
		client:   client,
		router:   router,
		notifier: notifier,
		logger:   logging.NewComponentLogger(logger, "workflow"),
		queue:    queue,
		watcher:  watchfeed.New(client, st, queue, logger),
		syncer:   reconcile.New(st, client, router, notifier, logger, cfg),
		state:    StateStopped,
	}
	m.failsafe = NewFailsafeArmer(time.Duration(cfg.Sync.FailsafeMinutes)*time.Minute, m.failsafeFire)
	return m
}

// Start brings the engine to running: connectivity check, feed probe, one
// initial full sync, then the poll and flush tickers. A connectivity failure
// aborts; a feed probe failure only degrades to fallback polling, where the
// failsafe timer carries the full load.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.state != StateStopped {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotStopped, m.state)
	}
	m.state = StateStarting
	m.mu.Unlock()

	m.failsafe.Disarm()

	err := retry.Do(
		func() error { return m.client.Ping(ctx) },
		retry.Context(ctx),
		retry.Attempts(uint(m.cfg.Sync.ConnectivityAttempts)),
		retry.Delay(time.Second),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		m.setState(StateStopped)
		return services.Wrap(services.ErrConnectivity, "workflow", "start", "upstream unreachable", err)
	}

	if _, err := m.client.DiffFeed(ctx, source.ChannelSelf); err != nil {
		m.logger.Warn("diff feed unavailable, falling back to interval polling",
			logging.Error(err))
		m.mu.Lock()
		m.fallbackPolling = true
		m.mu.Unlock()
	}

	runCtx, cancel := context.WithCancel(context.Background())
	m.mu.Lock()
	m.cancel = cancel
	m.mu.Unlock()

	m.failsafe.Arm()

	if err := m.runFullSync(ctx, reconcile.Options{InitialSync: true}); err != nil {
		switch {
		case errors.Is(err, ErrSyncInFlight):
		case services.IsFatalStartup(err):
			m.mu.Lock()
			m.cancel = nil
			m.state = StateStopped
			m.mu.Unlock()
			cancel()
			m.failsafe.Disarm()
			return err
		default:
			m.logger.Warn("initial full sync failed, continuing",
				logging.Error(err))
		}
	}

	// A Stop may have raced startup; only a manager still starting may begin
	// running. The loops start under the same lock so Stop either sees them
	// or prevents them.
	m.mu.Lock()
	if m.state != StateStarting {
		m.mu.Unlock()
		m.failsafe.Disarm()
		m.logger.Info("startup aborted by stop")
		return nil
	}
	if !m.fallbackPolling {
		m.wg.Add(1)
		go m.feedLoop(runCtx)
	}
	m.wg.Add(1)
	go m.flushLoop(runCtx)
	m.state = StateRunning
	fallback := m.fallbackPolling
	m.mu.Unlock()

	m.logger.Info("workflow started",
		logging.Bool("fallback_polling", fallback))
	return nil
}

// Stop winds the engine down and discards queued changes.
func (m *Manager) Stop() {
	m.mu.Lock()
	if m.state != StateRunning && m.state != StateStarting {
		m.mu.Unlock()
		return
	}
	m.state = StateStopping
	cancel := m.cancel
	m.cancel = nil
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	m.wg.Wait()
	m.failsafe.Disarm()
	m.queue.Clear()
	m.setState(StateStopped)
	m.logger.Info("workflow stopped")
}

// Status reports the current manager view.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Status{
		State:           m.state,
		FallbackPolling: m.fallbackPolling,
		LastSync:        m.lastSync,
		QueuedChanges:   m.queue.Len(),
	}
}

// UsingFallbackPolling reports whether the diff feed probe failed at startup.
func (m *Manager) UsingFallbackPolling() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fallbackPolling
}

// LastSyncTime returns when the last successful full pass finished.
func (m *Manager) LastSyncTime() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastSync
}

// TriggerFullSync runs one full pass now, the same path the failsafe timer
// takes. Returns ErrSyncInFlight when a pass is already running.
func (m *Manager) TriggerFullSync(ctx context.Context) error {
	return m.runFullSync(ctx, reconcile.Options{})
}

func (m *Manager) failsafeFire() {
	m.logger.Info("failsafe reconciliation firing")
	if err := m.runFullSync(context.Background(), reconcile.Options{}); err != nil && !errors.Is(err, ErrSyncInFlight) {
		m.logger.Warn("failsafe sync failed", logging.Error(err))
	}
}

func (m *Manager) feedLoop(ctx context.Context) {
	defer m.wg.Done()
	ticker := time.NewTicker(time.Duration(m.cfg.Sync.FeedPollSeconds) * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := m.watcher.PollAll(ctx); err != nil {
				m.logger.Warn("feed poll tick failed", logging.Error(err))
			}
		}
	}
}

func (m *Manager) flushLoop(ctx context.Context) {
	defer m.wg.Done()
	ticker := time.NewTicker(time.Duration(m.cfg.Sync.FlushCheckSeconds) * time.Second)
	defer ticker.Stop()
	quiescence := time.Duration(m.cfg.Sync.QuiescenceSeconds) * time.Second
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !m.queue.Quiescent(quiescence) {
				continue
			}
			if err := m.flush(ctx); err != nil && !errors.Is(err, ErrSyncInFlight) {
				m.logger.Warn("queue flush failed", logging.Error(err))
			}
		}
	}
}

// acquire takes both in-flight guards. A tick that finds either guard set is
// skipped entirely rather than queued behind the running pass.
func (m *Manager) acquire() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.refreshInFlight || m.passInFlight {
		return ErrSyncInFlight
	}
	m.refreshInFlight = true
	m.passInFlight = true
	return nil
}

func (m *Manager) release() {
	m.mu.Lock()
	m.refreshInFlight = false
	m.passInFlight = false
	m.mu.Unlock()
}

// runFullSync executes one full pass under the guards. The failsafe is
// re-armed on every exit path, success or not.
func (m *Manager) runFullSync(ctx context.Context, opts reconcile.Options) error {
	if err := m.acquire(); err != nil {
		return err
	}
	defer m.release()
	defer m.failsafe.Arm()

	if err := m.syncer.Run(ctx, opts); err != nil {
		if notifyErr := m.notifier.NotifySyncFailure(ctx, err); notifyErr != nil {
			m.logger.Debug("sync failure notification failed", logging.Error(notifyErr))
		}
		return err
	}

	m.mu.Lock()
	m.lastSync = time.Now()
	m.initialDone = true
	m.mu.Unlock()
	return nil
}

// flush drains the quiescent queue, fast-path routes the drained items, marks
// their pending records routed, and then runs a full pass under the same
// guard so matching and notification see consistent state.
func (m *Manager) flush(ctx context.Context) error {
	if err := m.acquire(); err != nil {
		return err
	}
	defer m.release()
	defer m.failsafe.Arm()

	items := m.queue.Drain()
	if len(items) == 0 {
		return nil
	}
	m.logger.Info("flushing change queue", logging.Int(logging.FieldCount, len(items)))

	for _, item := range items {
		candidate := routing.Candidate{
			Identity: item.Identity,
			Title:    item.Title,
			Kind:     source.Kind(item.Kind),
		}
		existence := m.router.CheckExistence(ctx, candidate)
		if existence.Err != nil || !existence.Checked {
			continue
		}
		if existence.Found {
			continue
		}
		if err := m.router.Route(ctx, candidate, routing.Options{}); err != nil {
			m.logger.Warn("fast-path routing failed",
				logging.String(logging.FieldTitle, item.Title),
				logging.Error(err))
			continue
		}
		key := string(item.Identity.DiffKey())
		if err := m.store.MarkPendingRouted(ctx, key); err != nil {
			m.logger.Warn("mark pending routed",
				logging.String(logging.FieldItemKey, key),
				logging.Error(err))
		}
	}

	if err := m.syncer.Run(ctx, reconcile.Options{}); err != nil {
		return err
	}
	m.mu.Lock()
	m.lastSync = time.Now()
	m.mu.Unlock()
	return nil
}

func (m *Manager) setState(state State) {
	m.mu.Lock()
	m.state = state
	m.mu.Unlock()
}
