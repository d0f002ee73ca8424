package reconcile

import (
	"context"
	"fmt"
	"log/slog"

	"watchbridge/internal/identity"
	"watchbridge/internal/logging"
	"watchbridge/internal/source"
	"watchbridge/internal/store"
)

func itemAsSourceItem(item *store.Item) source.Item {
	return source.Item{
		Identity: item.Identity(),
		Title:    item.Title,
		Kind:     source.Kind(item.Kind),
		Thumb:    item.Thumb,
		Genres:   item.Genres(),
	}
}

// matchPending resolves durable pending-diff records against the now-current
// item table. Every examined record is deleted at the end of the pass whether
// or not it matched; the failsafe reconciliation is the safety net for
// anything lost here.
func (s *Syncer) matchPending(ctx context.Context, logger *slog.Logger) error {
	pending, err := s.store.PendingDiffItems(ctx, "")
	if err != nil {
		return fmt.Errorf("load pending diff items: %w", err)
	}
	if len(pending) == 0 {
		return nil
	}

	users, err := s.store.GetAllUsers(ctx)
	if err != nil {
		return fmt.Errorf("list users: %w", err)
	}
	userByID := make(map[int64]*store.User, len(users))
	for _, user := range users {
		userByID[user.ID] = user
	}

	allItems, err := s.store.AllItems(ctx)
	if err != nil {
		return fmt.Errorf("list items: %w", err)
	}

	// Candidates are items of sync-enabled users. Identities are parsed once
	// up front; MatchScore runs over every (pending, candidate) pair.
	var candidates []*store.Item
	var candidateIDs []identity.ContentIdentity
	for _, item := range allItems {
		owner := userByID[item.UserID]
		if owner == nil || !owner.CanSync {
			continue
		}
		candidates = append(candidates, item)
		candidateIDs = append(candidateIDs, item.Identity())
	}

	claimed := make(map[int64]struct{}, len(pending))
	notified := make(map[string]struct{})
	examined := make([]string, 0, len(pending))

	for _, record := range pending {
		examined = append(examined, record.ID)
		recordIdentity := record.Identity()

		var best *store.Item
		bestScore := 0
		for i, item := range candidates {
			score := identity.MatchScore(recordIdentity, candidateIDs[i], record.Kind)
			if score > bestScore {
				best, bestScore = item, score
			}
		}

		if best == nil {
			s.discardUnmatched(ctx, logger, record, recordIdentity, allItems)
			continue
		}
		if _, dup := claimed[best.ID]; dup {
			continue
		}
		claimed[best.ID] = struct{}{}

		if !record.Routed {
			continue
		}
		s.notifyMatched(ctx, logger, userByID[best.UserID], best, notified)
	}

	if err := s.store.DeletePendingDiffItems(ctx, examined); err != nil {
		return fmt.Errorf("delete examined pending items: %w", err)
	}
	logger.Info("pending-diff records matched",
		logging.Int(logging.FieldCount, len(examined)))
	return nil
}

// discardUnmatched distinguishes records whose GUIDs are at least known
// somewhere in the store (sync-disabled owner, silent) from genuinely unknown
// ones (add-then-rapid-remove, warned).
func (s *Syncer) discardUnmatched(ctx context.Context, logger *slog.Logger, record *store.PendingItem, recordIdentity identity.ContentIdentity, allItems []*store.Item) {
	for _, item := range allItems {
		if identity.HasMatch(recordIdentity, item.Identity()) {
			logger.Debug("pending record matched only sync-disabled content, discarded",
				logging.String(logging.FieldItemKey, record.IdentityKey))
			return
		}
	}
	logger.Warn("pending record matched nothing, discarded",
		logging.String(logging.FieldItemKey, record.IdentityKey),
		logging.String(logging.FieldTitle, record.Title),
		logging.String(logging.FieldChannel, record.Channel))
}

// notifyMatched announces one routed addition, guarded so each (user, title)
// pair notifies at most once and a notified item never re-notifies.
func (s *Syncer) notifyMatched(ctx context.Context, logger *slog.Logger, owner *store.User, item *store.Item, notified map[string]struct{}) {
	if owner == nil || item.Status == store.StatusNotified {
		return
	}
	guard := fmt.Sprintf("%s\x1f%s", owner.Name, item.Title)
	if _, seen := notified[guard]; seen {
		return
	}
	notified[guard] = struct{}{}

	if err := s.notifier.NotifyWatchlistAddition(ctx, owner.Name, itemAsSourceItem(item)); err != nil {
		logger.Warn("notification failed",
			logging.String(logging.FieldTitle, item.Title),
			logging.Error(err))
		return
	}
	if err := s.store.SetItemStatus(ctx, item.ID, store.StatusNotified); err != nil {
		logger.Warn("mark item notified", logging.Error(err))
	}
}
