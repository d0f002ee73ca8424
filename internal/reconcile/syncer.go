// Package reconcile implements the authoritative full-state pass: it fetches
// every watchlist upstream, reconciles the user directory and the item table
// against them, matches durable pending-diff records, and routes anything not
// yet tracked by an acquisition backend.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc/pool"

	"watchbridge/internal/config"
	"watchbridge/internal/logging"
	"watchbridge/internal/notifications"
	"watchbridge/internal/routing"
	"watchbridge/internal/source"
	"watchbridge/internal/store"
)

// Options controls one full pass.
type Options struct {
	// ForceRefresh re-persists metadata even for rows that already exist.
	ForceRefresh bool
	// InitialSync marks the very first pass after startup; routing
	// suppresses backend search kicks for it.
	InitialSync bool
}

// Syncer executes full reconciliation passes. It holds no pass state; every
// Run is self-contained.
type Syncer struct {
	store          *store.Store
	client         source.Client
	router         routing.Router
	notifier       notifications.Service
	logger         *slog.Logger
	fanout         int
	syncNewFriends bool
}

// New constructs a Syncer.
func New(st *store.Store, client source.Client, router routing.Router, notifier notifications.Service, logger *slog.Logger, cfg *config.Config) *Syncer {
	fanout := cfg.Sync.FriendFanout
	if fanout <= 0 {
		fanout = 1
	}
	return &Syncer{
		store:          st,
		client:         client,
		router:         router,
		notifier:       notifier,
		logger:         logging.NewComponentLogger(logger, "reconcile"),
		fanout:         fanout,
		syncNewFriends: cfg.Sync.SyncNewFriends,
	}
}

// userFetch pairs one watchlist owner with their fetched items. ok=false
// means the fetch failed and nothing destructive may be concluded from it.
type userFetch struct {
	account source.Account
	items   []source.Item
	ok      bool
}

// Run executes one full pass. A hard failure fetching the account or the
// primary watchlist aborts the pass; everything downstream degrades per item.
func (s *Syncer) Run(ctx context.Context, opts Options) error {
	syncID := strings.Split(uuid.NewString(), "-")[0]
	logger := s.logger.With(logging.String(logging.FieldSyncID, syncID))
	logger.Info("full sync started",
		logging.Bool("force_refresh", opts.ForceRefresh),
		logging.Bool("initial", opts.InitialSync))

	account, err := s.client.Account(ctx)
	if err != nil {
		return fmt.Errorf("resolve primary account: %w", err)
	}
	selfItems, err := s.client.SelfWatchlist(ctx)
	if err != nil {
		return fmt.Errorf("fetch primary watchlist: %w", err)
	}

	friends, friendsErr := s.client.Friends(ctx)
	if friendsErr != nil {
		logger.Warn("friend listing unavailable, user directory left untouched",
			logging.Error(friendsErr))
	}

	friendFetches := s.fetchFriendWatchlists(ctx, logger, friends.Friends)

	if err := s.reconcileUsers(ctx, logger, account, friends); err != nil {
		return err
	}

	fetches := append([]userFetch{{account: account, items: selfItems, ok: true}}, friendFetches...)
	if err := s.reconcileItems(ctx, logger, fetches, opts); err != nil {
		return err
	}

	if err := s.matchPending(ctx, logger); err != nil {
		logger.Warn("pending-diff matching failed", logging.Error(err))
	}

	s.routeUnrequested(ctx, logger, opts)

	logger.Info("full sync finished")
	return nil
}

// fetchFriendWatchlists fans out bounded concurrent fetches and waits for all
// of them; one failed branch never cancels the rest.
func (s *Syncer) fetchFriendWatchlists(ctx context.Context, logger *slog.Logger, friends []source.Account) []userFetch {
	results := make([]userFetch, len(friends))
	p := pool.New().WithMaxGoroutines(s.fanout)
	for i, friend := range friends {
		p.Go(func() {
			items, err := s.client.FriendWatchlist(ctx, friend)
			if err != nil {
				logger.Warn("friend watchlist fetch failed",
					logging.String(logging.FieldUser, friend.Name),
					logging.Error(err))
				results[i] = userFetch{account: friend}
				return
			}
			results[i] = userFetch{account: friend, items: items, ok: true}
		})
	}
	p.Wait()
	return results
}

// reconcileUsers aligns the user table with the fetched friend listing. An
// incomplete listing only ensures the primary user exists; friends are
// neither created nor deleted from it.
func (s *Syncer) reconcileUsers(ctx context.Context, logger *slog.Logger, account source.Account, friends source.FriendsResult) error {
	primary, err := s.store.GetUser(ctx, account.ID)
	if err != nil {
		return fmt.Errorf("look up primary user: %w", err)
	}
	if primary == nil {
		if _, err := s.store.CreateUser(ctx, account.ID, account.Name, true, true); err != nil && !errors.Is(err, store.ErrUserExists) {
			return fmt.Errorf("create primary user: %w", err)
		}
		logger.Info("primary user registered", logging.String(logging.FieldUser, account.Name))
	} else if !primary.IsPrimary {
		if err := s.store.SetPrimaryUser(ctx, account.ID); err != nil {
			return fmt.Errorf("promote primary user: %w", err)
		}
	}

	if !friends.Complete {
		return nil
	}

	existing, err := s.store.GetAllUsers(ctx)
	if err != nil {
		return fmt.Errorf("list users: %w", err)
	}
	byID := make(map[int64]*store.User, len(existing))
	for _, user := range existing {
		byID[user.ID] = user
	}

	current := make(map[int64]struct{}, len(friends.Friends))
	for _, friend := range friends.Friends {
		current[friend.ID] = struct{}{}
		if _, ok := byID[friend.ID]; ok {
			continue
		}
		if _, err := s.store.CreateUser(ctx, friend.ID, friend.Name, s.syncNewFriends, false); err != nil {
			if errors.Is(err, store.ErrUserExists) {
				continue
			}
			logger.Warn("create friend user failed",
				logging.String(logging.FieldUser, friend.Name),
				logging.Error(err))
			continue
		}
		logger.Info("friend registered",
			logging.String(logging.FieldUser, friend.Name),
			logging.Bool("sync_enabled", s.syncNewFriends))
	}

	var departed []int64
	for _, user := range existing {
		if user.IsPrimary || user.ID == account.ID {
			continue
		}
		if _, ok := current[user.ID]; !ok {
			departed = append(departed, user.ID)
		}
	}
	if len(departed) > 0 {
		result, err := s.store.DeleteUsers(ctx, departed)
		if err != nil {
			return fmt.Errorf("delete departed users: %w", err)
		}
		logger.Info("departed friends removed",
			logging.Int64(logging.FieldCount, result.Deleted))
	}
	return nil
}

// reconcileItems classifies and persists fetched items, then deletes rows
// absent upstream for users whose fetch succeeded.
func (s *Syncer) reconcileItems(ctx context.Context, logger *slog.Logger, fetches []userFetch, opts Options) error {
	allKeys := make(map[string]struct{})
	for _, fetch := range fetches {
		for _, item := range fetch.items {
			if key := string(item.Identity.DiffKey()); key != "" {
				allKeys[key] = struct{}{}
			}
		}
	}
	existing, err := s.store.ItemsByIdentityKeys(ctx, mapKeys(allKeys))
	if err != nil {
		return fmt.Errorf("query existing items: %w", err)
	}
	byKey := make(map[string][]*store.Item)
	for _, item := range existing {
		byKey[item.IdentityKey] = append(byKey[item.IdentityKey], item)
	}

	for _, fetch := range fetches {
		if !fetch.ok {
			continue
		}
		user, err := s.store.GetUser(ctx, fetch.account.ID)
		if err != nil {
			return fmt.Errorf("look up user %d: %w", fetch.account.ID, err)
		}
		if user == nil || !user.CanSync {
			continue
		}
		if err := s.reconcileUserItems(ctx, logger, user, fetch.items, byKey, opts); err != nil {
			logger.Warn("item reconciliation failed for user",
				logging.String(logging.FieldUser, user.Name),
				logging.Error(err))
		}
	}
	return nil
}

func (s *Syncer) reconcileUserItems(ctx context.Context, logger *slog.Logger, user *store.User, items []source.Item, byKey map[string][]*store.Item, opts Options) error {
	var brandNew, linked []*store.Item
	seen := make(map[string]struct{}, len(items))

	for _, item := range items {
		key := string(item.Identity.DiffKey())
		if key == "" {
			logger.Warn("item with empty identity skipped",
				logging.String(logging.FieldTitle, item.Title))
			continue
		}
		seen[key] = struct{}{}

		var mine *store.Item
		var donor *store.Item
		for _, row := range byKey[key] {
			if row.UserID == user.ID {
				mine = row
			} else if donor == nil && row.HasCompleteMetadata() {
				donor = row
			}
		}

		// A forced refresh re-persists fresh upstream metadata for every row,
		// so neither an existing row nor a donor short-circuits it.
		switch {
		case mine != nil && !opts.ForceRefresh:
			// already linked
		case donor != nil && !opts.ForceRefresh:
			row := &store.Item{
				UserID:      user.ID,
				IdentityKey: donor.IdentityKey,
				GuidsJSON:   donor.GuidsJSON,
				Title:       donor.Title,
				Kind:        donor.Kind,
				Thumb:       donor.Thumb,
				GenresJSON:  donor.GenresJSON,
				Status:      donor.Status,
			}
			linked = append(linked, row)
		default:
			row := &store.Item{
				UserID: user.ID,
				Title:  item.Title,
				Kind:   string(item.Kind),
				Thumb:  item.Thumb,
			}
			row.SetIdentity(item.Identity)
			row.SetGenres(item.Genres)
			brandNew = append(brandNew, row)
		}
	}

	newPolicy := store.ConflictIgnore
	if opts.ForceRefresh {
		newPolicy = store.ConflictMerge
	}
	created, err := s.store.CreateItems(ctx, brandNew, newPolicy)
	if err != nil {
		return fmt.Errorf("persist new items: %w", err)
	}
	if _, err := s.store.CreateItems(ctx, linked, store.ConflictMerge); err != nil {
		return fmt.Errorf("persist linked items: %w", err)
	}
	if created > 0 || len(linked) > 0 {
		logger.Info("items persisted",
			logging.String(logging.FieldUser, user.Name),
			logging.Int64("new", created),
			logging.Int("linked", len(linked)))
	}

	stored, err := s.store.AllItemsForUser(ctx, user.ID)
	if err != nil {
		return fmt.Errorf("list stored items: %w", err)
	}
	var absent []string
	var cleanup []*store.Item
	for _, row := range stored {
		if _, ok := seen[row.IdentityKey]; !ok {
			absent = append(absent, row.IdentityKey)
			cleanup = append(cleanup, row)
		}
	}
	if len(absent) == 0 {
		return nil
	}
	deleted, err := s.store.DeleteItems(ctx, user.ID, absent)
	if err != nil {
		return fmt.Errorf("delete absent items: %w", err)
	}
	logger.Info("absent items removed",
		logging.String(logging.FieldUser, user.Name),
		logging.Int64(logging.FieldCount, deleted))

	for _, row := range cleanup {
		holders, err := s.store.ItemsByIdentityKeys(ctx, []string{row.IdentityKey})
		if err != nil || len(holders) > 0 {
			continue
		}
		candidate := routing.Candidate{
			Identity: row.Identity(),
			Title:    row.Title,
			Kind:     source.Kind(row.Kind),
		}
		if err := s.router.Cleanup(ctx, candidate); err != nil {
			logger.Warn("backend cleanup failed",
				logging.String(logging.FieldTitle, row.Title),
				logging.Error(err))
		}
	}
	return nil
}

// routeUnrequested submits every still-pending row of every sync-enabled user
// to its backend. An unreachable backend skips the item this pass; the next
// pass retries.
func (s *Syncer) routeUnrequested(ctx context.Context, logger *slog.Logger, opts Options) {
	users, err := s.store.GetAllUsers(ctx)
	if err != nil {
		logger.Warn("list users for routing", logging.Error(err))
		return
	}
	for _, user := range users {
		if !user.CanSync {
			continue
		}
		items, err := s.store.AllItemsForUser(ctx, user.ID)
		if err != nil {
			logger.Warn("list items for routing",
				logging.String(logging.FieldUser, user.Name),
				logging.Error(err))
			continue
		}
		for _, item := range items {
			if item.Status != store.StatusPending {
				continue
			}
			s.routeItem(ctx, logger, user, item, opts)
		}
	}
}

func (s *Syncer) routeItem(ctx context.Context, logger *slog.Logger, user *store.User, item *store.Item, opts Options) {
	candidate := routing.Candidate{
		Identity: item.Identity(),
		Title:    item.Title,
		Kind:     source.Kind(item.Kind),
	}

	existence := s.router.CheckExistence(ctx, candidate)
	if existence.Err != nil || !existence.Checked {
		logger.Debug("existence unknown, item skipped this pass",
			logging.String(logging.FieldTitle, item.Title),
			logging.Error(existence.Err))
		return
	}
	if existence.Found {
		if err := s.store.SetItemStatus(ctx, item.ID, store.StatusRequested); err != nil {
			logger.Warn("mark item requested", logging.Error(err))
		}
		return
	}

	err := s.router.Route(ctx, candidate, routing.Options{UserID: user.ID, InitialSync: opts.InitialSync})
	if err != nil {
		if errors.Is(err, routing.ErrNoInstance) {
			logger.Debug("no backend for kind",
				logging.String(logging.FieldTitle, item.Title))
			return
		}
		logger.Warn("routing failed",
			logging.String(logging.FieldTitle, item.Title),
			logging.Error(err))
		return
	}
	if err := s.store.SetItemStatus(ctx, item.ID, store.StatusRequested); err != nil {
		logger.Warn("mark item requested", logging.Error(err))
	}
}

func mapKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for key := range set {
		keys = append(keys, key)
	}
	return keys
}
