package reconcile_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"watchbridge/internal/identity"
	"watchbridge/internal/logging"
	"watchbridge/internal/notifications"
	"watchbridge/internal/reconcile"
	"watchbridge/internal/routing"
	"watchbridge/internal/source"
	"watchbridge/internal/store"
	"watchbridge/internal/testsupport"
)

type fakeClient struct {
	account     source.Account
	self        []source.Item
	selfErr     error
	friends     source.FriendsResult
	friendsErr  error
	friendLists map[int64][]source.Item
	friendErrs  map[int64]error
}

func (f *fakeClient) Ping(context.Context) error { return nil }

func (f *fakeClient) Account(context.Context) (source.Account, error) {
	return f.account, nil
}

func (f *fakeClient) SelfWatchlist(context.Context) ([]source.Item, error) {
	return f.self, f.selfErr
}

func (f *fakeClient) FriendWatchlist(_ context.Context, friend source.Account) ([]source.Item, error) {
	if err := f.friendErrs[friend.ID]; err != nil {
		return nil, err
	}
	return f.friendLists[friend.ID], nil
}

func (f *fakeClient) Friends(context.Context) (source.FriendsResult, error) {
	return f.friends, f.friendsErr
}

func (f *fakeClient) DiffFeed(context.Context, source.Channel) ([]source.Item, error) {
	return nil, nil
}

type fakeRouter struct {
	mu       sync.Mutex
	routed   []string
	cleaned  []string
	existing map[string]bool
	checked  bool
	routeErr error
}

func newFakeRouter() *fakeRouter {
	return &fakeRouter{existing: map[string]bool{}, checked: true}
}

func (f *fakeRouter) Route(_ context.Context, candidate routing.Candidate, _ routing.Options) error {
	if f.routeErr != nil {
		return f.routeErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.routed = append(f.routed, candidate.Title)
	return nil
}

func (f *fakeRouter) CheckExistence(_ context.Context, candidate routing.Candidate) routing.Existence {
	if !f.checked {
		return routing.Existence{}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return routing.Existence{Found: f.existing[candidate.Title], Checked: true}
}

func (f *fakeRouter) Cleanup(_ context.Context, candidate routing.Candidate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cleaned = append(f.cleaned, candidate.Title)
	return nil
}

type fakeNotifier struct {
	mu    sync.Mutex
	sent  []string
	fails bool
}

func (f *fakeNotifier) NotifyWatchlistAddition(_ context.Context, userName string, item source.Item) error {
	if f.fails {
		return errors.New("ntfy down")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, userName+"/"+item.Title)
	return nil
}

func (f *fakeNotifier) NotifySyncFailure(context.Context, error) error { return nil }
func (f *fakeNotifier) TestNotification(context.Context) error         { return nil }

var _ notifications.Service = (*fakeNotifier)(nil)

func movieItem(title, guid string) source.Item {
	return source.Item{Identity: identity.NewIdentity(guid), Title: title, Kind: source.KindMovie}
}

func newSyncer(t *testing.T, client *fakeClient, router *fakeRouter, notifier *fakeNotifier) (*reconcile.Syncer, *store.Store) {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	return reconcile.New(st, client, router, notifier, logging.NewNop(), cfg), st
}

func TestRunRegistersUsersAndPersistsItems(t *testing.T) {
	client := &fakeClient{
		account: source.Account{ID: 1, Name: "alice"},
		self:    []source.Item{movieItem("Heat", "tmdb://949")},
		friends: source.FriendsResult{
			Friends:  []source.Account{{ID: 2, Name: "bob"}},
			Complete: true,
		},
		friendLists: map[int64][]source.Item{
			2: {movieItem("Alien", "tmdb://348")},
		},
	}
	router := newFakeRouter()
	syncer, st := newSyncer(t, client, router, &fakeNotifier{})
	ctx := context.Background()

	if err := syncer.Run(ctx, reconcile.Options{}); err != nil {
		t.Fatalf("Run: %v", err)
	}

	users, err := st.GetAllUsers(ctx)
	if err != nil {
		t.Fatalf("GetAllUsers: %v", err)
	}
	if len(users) != 2 {
		t.Fatalf("expected primary and friend, got %d users", len(users))
	}

	aliceItems, err := st.AllItemsForUser(ctx, 1)
	if err != nil {
		t.Fatalf("AllItemsForUser: %v", err)
	}
	if len(aliceItems) != 1 || aliceItems[0].Title != "Heat" {
		t.Fatalf("unexpected primary items: %+v", aliceItems)
	}
	if aliceItems[0].Status != store.StatusRequested {
		t.Fatalf("expected routed item requested, got %s", aliceItems[0].Status)
	}
	if len(router.routed) != 2 {
		t.Fatalf("expected both items routed, got %v", router.routed)
	}
}

func TestRunIncompleteFriendListingLeavesUsersUntouched(t *testing.T) {
	client := &fakeClient{
		account: source.Account{ID: 1, Name: "alice"},
		friends: source.FriendsResult{
			Friends:  []source.Account{{ID: 2, Name: "bob"}},
			Complete: true,
		},
		friendLists: map[int64][]source.Item{
			2: {movieItem("Alien", "tmdb://348")},
		},
	}
	router := newFakeRouter()
	syncer, st := newSyncer(t, client, router, &fakeNotifier{})
	ctx := context.Background()

	if err := syncer.Run(ctx, reconcile.Options{}); err != nil {
		t.Fatalf("Run 1: %v", err)
	}

	// Friend listing now fails: bob must survive, and so must his items.
	client.friends = source.FriendsResult{}
	client.friendsErr = errors.New("listing unavailable")
	if err := syncer.Run(ctx, reconcile.Options{}); err != nil {
		t.Fatalf("Run 2: %v", err)
	}

	bob, err := st.GetUser(ctx, 2)
	if err != nil {
		t.Fatalf("GetUser: %v", err)
	}
	if bob == nil {
		t.Fatal("incomplete friend listing must not delete users")
	}
	bobItems, err := st.AllItemsForUser(ctx, 2)
	if err != nil {
		t.Fatalf("AllItemsForUser: %v", err)
	}
	if len(bobItems) != 1 {
		t.Fatalf("incomplete listing must not delete items, got %d", len(bobItems))
	}
}

func TestRunDepartedFriendIsRemoved(t *testing.T) {
	client := &fakeClient{
		account: source.Account{ID: 1, Name: "alice"},
		friends: source.FriendsResult{
			Friends:  []source.Account{{ID: 2, Name: "bob"}},
			Complete: true,
		},
	}
	router := newFakeRouter()
	syncer, st := newSyncer(t, client, router, &fakeNotifier{})
	ctx := context.Background()

	if err := syncer.Run(ctx, reconcile.Options{}); err != nil {
		t.Fatalf("Run 1: %v", err)
	}

	client.friends = source.FriendsResult{Complete: true}
	if err := syncer.Run(ctx, reconcile.Options{}); err != nil {
		t.Fatalf("Run 2: %v", err)
	}

	bob, err := st.GetUser(ctx, 2)
	if err != nil {
		t.Fatalf("GetUser: %v", err)
	}
	if bob != nil {
		t.Fatal("departed friend should be deleted")
	}
}

func TestRunFailedFriendFetchIsNotARemoval(t *testing.T) {
	client := &fakeClient{
		account: source.Account{ID: 1, Name: "alice"},
		friends: source.FriendsResult{
			Friends:  []source.Account{{ID: 2, Name: "bob"}},
			Complete: true,
		},
		friendLists: map[int64][]source.Item{
			2: {movieItem("Alien", "tmdb://348")},
		},
	}
	router := newFakeRouter()
	syncer, st := newSyncer(t, client, router, &fakeNotifier{})
	ctx := context.Background()

	if err := syncer.Run(ctx, reconcile.Options{}); err != nil {
		t.Fatalf("Run 1: %v", err)
	}

	client.friendErrs = map[int64]error{2: errors.New("fetch failed")}
	if err := syncer.Run(ctx, reconcile.Options{}); err != nil {
		t.Fatalf("Run 2: %v", err)
	}

	bobItems, err := st.AllItemsForUser(ctx, 2)
	if err != nil {
		t.Fatalf("AllItemsForUser: %v", err)
	}
	if len(bobItems) != 1 {
		t.Fatalf("failed fetch must not delete that user's items, got %d", len(bobItems))
	}
}

func TestRunDeletesItemsAbsentUpstream(t *testing.T) {
	client := &fakeClient{
		account: source.Account{ID: 1, Name: "alice"},
		self: []source.Item{
			movieItem("Heat", "tmdb://949"),
			movieItem("Alien", "tmdb://348"),
			movieItem("Ronin", "tmdb://8963"),
		},
		friends: source.FriendsResult{Complete: true},
	}
	router := newFakeRouter()
	syncer, st := newSyncer(t, client, router, &fakeNotifier{})
	ctx := context.Background()

	if err := syncer.Run(ctx, reconcile.Options{}); err != nil {
		t.Fatalf("Run 1: %v", err)
	}

	client.self = []source.Item{
		movieItem("Heat", "tmdb://949"),
		movieItem("Ronin", "tmdb://8963"),
	}
	if err := syncer.Run(ctx, reconcile.Options{}); err != nil {
		t.Fatalf("Run 2: %v", err)
	}

	items, err := st.AllItemsForUser(ctx, 1)
	if err != nil {
		t.Fatalf("AllItemsForUser: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected middle item deleted, got %d", len(items))
	}
	for _, item := range items {
		if item.Title == "Alien" {
			t.Fatal("Alien should have been deleted")
		}
	}
	if len(router.cleaned) != 1 || router.cleaned[0] != "Alien" {
		t.Fatalf("expected backend cleanup for Alien, got %v", router.cleaned)
	}
}

func TestRunLinkExistingCopiesMetadata(t *testing.T) {
	client := &fakeClient{
		account: source.Account{ID: 1, Name: "alice"},
		self:    []source.Item{movieItem("Heat", "tmdb://949")},
		friends: source.FriendsResult{
			Friends:  []source.Account{{ID: 2, Name: "bob"}},
			Complete: true,
		},
		friendLists: map[int64][]source.Item{},
	}
	router := newFakeRouter()
	syncer, st := newSyncer(t, client, router, &fakeNotifier{})
	ctx := context.Background()

	if err := syncer.Run(ctx, reconcile.Options{}); err != nil {
		t.Fatalf("Run 1: %v", err)
	}

	// Bob now watchlists the same movie; his row should link to alice's
	// existing one, status included, without re-routing.
	client.friendLists[2] = []source.Item{movieItem("Heat", "tmdb://949")}
	routedBefore := len(router.routed)
	if err := syncer.Run(ctx, reconcile.Options{}); err != nil {
		t.Fatalf("Run 2: %v", err)
	}

	bobItems, err := st.AllItemsForUser(ctx, 2)
	if err != nil {
		t.Fatalf("AllItemsForUser: %v", err)
	}
	if len(bobItems) != 1 {
		t.Fatalf("expected linked row for bob, got %d", len(bobItems))
	}
	if bobItems[0].Status != store.StatusRequested {
		t.Fatalf("linked row should inherit status, got %s", bobItems[0].Status)
	}
	if len(router.routed) != routedBefore {
		t.Fatalf("linked content must not re-route, routed %v", router.routed)
	}
}

func TestRunForceRefreshReplacesStaleMetadata(t *testing.T) {
	client := &fakeClient{
		account: source.Account{ID: 1, Name: "alice"},
		self:    []source.Item{movieItem("Heat", "tmdb://949")},
		friends: source.FriendsResult{
			Friends:  []source.Account{{ID: 2, Name: "bob"}},
			Complete: true,
		},
		friendLists: map[int64][]source.Item{
			2: {movieItem("Heat", "tmdb://949")},
		},
	}
	router := newFakeRouter()
	syncer, st := newSyncer(t, client, router, &fakeNotifier{})
	ctx := context.Background()

	if err := syncer.Run(ctx, reconcile.Options{}); err != nil {
		t.Fatalf("Run 1: %v", err)
	}

	// Upstream metadata changed for both holders. A forced refresh must
	// re-persist the fresh title everywhere instead of copying the other
	// user's stale row back.
	fresh := movieItem("Heat (Remastered)", "tmdb://949")
	client.self = []source.Item{fresh}
	client.friendLists[2] = []source.Item{fresh}
	if err := syncer.Run(ctx, reconcile.Options{ForceRefresh: true}); err != nil {
		t.Fatalf("Run 2: %v", err)
	}

	for _, userID := range []int64{1, 2} {
		items, err := st.AllItemsForUser(ctx, userID)
		if err != nil {
			t.Fatalf("AllItemsForUser(%d): %v", userID, err)
		}
		if len(items) != 1 || items[0].Title != "Heat (Remastered)" {
			t.Fatalf("user %d should carry refreshed metadata, got %+v", userID, items)
		}
		if items[0].Status != store.StatusRequested {
			t.Fatalf("refresh must preserve status, got %s", items[0].Status)
		}
	}
}

func TestRunSkipsSyncDisabledUsers(t *testing.T) {
	client := &fakeClient{
		account: source.Account{ID: 1, Name: "alice"},
		friends: source.FriendsResult{
			Friends:  []source.Account{{ID: 2, Name: "bob"}},
			Complete: true,
		},
		friendLists: map[int64][]source.Item{
			2: {movieItem("Alien", "tmdb://348")},
		},
	}
	router := newFakeRouter()
	syncer, st := newSyncer(t, client, router, &fakeNotifier{})
	ctx := context.Background()

	testsupport.NewUser(t, st, 2, "bob", false, false)

	if err := syncer.Run(ctx, reconcile.Options{}); err != nil {
		t.Fatalf("Run: %v", err)
	}

	bobItems, err := st.AllItemsForUser(ctx, 2)
	if err != nil {
		t.Fatalf("AllItemsForUser: %v", err)
	}
	if len(bobItems) != 0 {
		t.Fatalf("sync-disabled user must not be processed, got %d items", len(bobItems))
	}
	if len(router.routed) != 0 {
		t.Fatalf("nothing should route, got %v", router.routed)
	}
}

func TestRunUncheckedExistenceSkipsRouting(t *testing.T) {
	client := &fakeClient{
		account: source.Account{ID: 1, Name: "alice"},
		self:    []source.Item{movieItem("Heat", "tmdb://949")},
		friends: source.FriendsResult{Complete: true},
	}
	router := newFakeRouter()
	router.checked = false
	syncer, st := newSyncer(t, client, router, &fakeNotifier{})
	ctx := context.Background()

	if err := syncer.Run(ctx, reconcile.Options{}); err != nil {
		t.Fatalf("Run: %v", err)
	}

	items, err := st.AllItemsForUser(ctx, 1)
	if err != nil {
		t.Fatalf("AllItemsForUser: %v", err)
	}
	if items[0].Status != store.StatusPending {
		t.Fatalf("unknown existence must leave item pending, got %s", items[0].Status)
	}
	if len(router.routed) != 0 {
		t.Fatalf("nothing should route, got %v", router.routed)
	}
}

func TestRunExistingContentIsNotReRouted(t *testing.T) {
	client := &fakeClient{
		account: source.Account{ID: 1, Name: "alice"},
		self:    []source.Item{movieItem("Heat", "tmdb://949")},
		friends: source.FriendsResult{Complete: true},
	}
	router := newFakeRouter()
	router.existing["Heat"] = true
	syncer, st := newSyncer(t, client, router, &fakeNotifier{})
	ctx := context.Background()

	if err := syncer.Run(ctx, reconcile.Options{}); err != nil {
		t.Fatalf("Run: %v", err)
	}

	items, err := st.AllItemsForUser(ctx, 1)
	if err != nil {
		t.Fatalf("AllItemsForUser: %v", err)
	}
	if items[0].Status != store.StatusRequested {
		t.Fatalf("existing content should be marked requested, got %s", items[0].Status)
	}
	if len(router.routed) != 0 {
		t.Fatalf("existing content must not re-route, got %v", router.routed)
	}
}
