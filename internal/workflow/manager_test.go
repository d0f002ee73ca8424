package workflow_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"watchbridge/internal/logging"
	"watchbridge/internal/routing"
	"watchbridge/internal/services"
	"watchbridge/internal/source"
	"watchbridge/internal/testsupport"
	"watchbridge/internal/workflow"
)

type stubClient struct {
	mu         sync.Mutex
	pingErr    error
	feedErr    error
	accountErr error
	gate       chan struct{}
}

func (s *stubClient) Ping(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pingErr
}

func (s *stubClient) Account(context.Context) (source.Account, error) {
	if s.gate != nil {
		<-s.gate
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.accountErr != nil {
		return source.Account{}, s.accountErr
	}
	return source.Account{ID: 1, Name: "alice"}, nil
}

func (s *stubClient) SelfWatchlist(context.Context) ([]source.Item, error) { return nil, nil }

func (s *stubClient) FriendWatchlist(context.Context, source.Account) ([]source.Item, error) {
	return nil, nil
}

func (s *stubClient) Friends(context.Context) (source.FriendsResult, error) {
	return source.FriendsResult{Complete: true}, nil
}

func (s *stubClient) DiffFeed(context.Context, source.Channel) ([]source.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return nil, s.feedErr
}

type stubRouter struct{}

func (stubRouter) Route(context.Context, routing.Candidate, routing.Options) error { return nil }

func (stubRouter) CheckExistence(context.Context, routing.Candidate) routing.Existence {
	return routing.Existence{Checked: true}
}

func (stubRouter) Cleanup(context.Context, routing.Candidate) error { return nil }

type stubNotifier struct{}

func (stubNotifier) NotifyWatchlistAddition(context.Context, string, source.Item) error { return nil }
func (stubNotifier) NotifySyncFailure(context.Context, error) error                     { return nil }
func (stubNotifier) TestNotification(context.Context) error                             { return nil }

func newManager(t *testing.T, client *stubClient) *workflow.Manager {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	return workflow.NewManager(cfg, st, client, stubRouter{}, stubNotifier{}, logging.NewNop())
}

func TestStartStopLifecycle(t *testing.T) {
	manager := newManager(t, &stubClient{})
	ctx := context.Background()

	if err := manager.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(manager.Stop)

	status := manager.Status()
	if status.State != workflow.StateRunning {
		t.Fatalf("expected running, got %s", status.State)
	}
	if status.FallbackPolling {
		t.Fatal("feed probe succeeded, fallback flag must be clear")
	}
	if manager.LastSyncTime().IsZero() {
		t.Fatal("initial sync should record a last-sync time")
	}

	if err := manager.Start(ctx); !errors.Is(err, workflow.ErrNotStopped) {
		t.Fatalf("double start should fail, got %v", err)
	}

	manager.Stop()
	if got := manager.Status().State; got != workflow.StateStopped {
		t.Fatalf("expected stopped, got %s", got)
	}
}

func TestStartConnectivityFailureAborts(t *testing.T) {
	client := &stubClient{pingErr: errors.New("dial tcp: refused")}
	manager := newManager(t, client)

	err := manager.Start(context.Background())
	if !errors.Is(err, services.ErrConnectivity) {
		t.Fatalf("expected connectivity error, got %v", err)
	}
	if got := manager.Status().State; got != workflow.StateStopped {
		t.Fatalf("failed start must return to stopped, got %s", got)
	}
}

func TestStartFeedProbeFailureDegradesToFallback(t *testing.T) {
	client := &stubClient{feedErr: errors.New("404")}
	manager := newManager(t, client)

	if err := manager.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(manager.Stop)

	if !manager.UsingFallbackPolling() {
		t.Fatal("feed probe failure should set fallback polling")
	}
	if got := manager.Status().State; got != workflow.StateRunning {
		t.Fatalf("fallback mode should still run, got %s", got)
	}
}

func TestStartFatalInitialSyncAborts(t *testing.T) {
	client := &stubClient{
		accountErr: services.Wrap(services.ErrConfiguration, "plex", "account", "token rejected", nil),
	}
	manager := newManager(t, client)

	err := manager.Start(context.Background())
	if !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
	if got := manager.Status().State; got != workflow.StateStopped {
		t.Fatalf("fatal initial sync must return to stopped, got %s", got)
	}
}

func TestStopDuringStartupLeavesStopped(t *testing.T) {
	gate := make(chan struct{})
	client := &stubClient{gate: gate}
	manager := newManager(t, client)

	done := make(chan error, 1)
	go func() { done <- manager.Start(context.Background()) }()

	deadline := time.Now().Add(2 * time.Second)
	for manager.Status().State != workflow.StateStarting {
		if time.Now().After(deadline) {
			t.Fatal("manager never entered starting")
		}
		time.Sleep(5 * time.Millisecond)
	}

	manager.Stop()
	close(gate)

	if err := <-done; err != nil {
		t.Fatalf("Start: %v", err)
	}
	if got := manager.Status().State; got != workflow.StateStopped {
		t.Fatalf("stop during startup must leave the engine stopped, got %s", got)
	}
}

func TestTriggerFullSyncMutualExclusion(t *testing.T) {
	gate := make(chan struct{})
	client := &stubClient{gate: gate}
	manager := newManager(t, client)
	ctx := context.Background()

	var wg sync.WaitGroup
	results := make([]error, 2)
	for i := range results {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = manager.TriggerFullSync(ctx)
		}()
	}

	// Let both goroutines reach the guard, then release the slow pass.
	time.Sleep(50 * time.Millisecond)
	close(gate)
	wg.Wait()

	var succeeded, skipped int
	for _, err := range results {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, workflow.ErrSyncInFlight):
			skipped++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if succeeded != 1 || skipped != 1 {
		t.Fatalf("expected exactly one pass to run, got %d ran / %d skipped", succeeded, skipped)
	}
}
