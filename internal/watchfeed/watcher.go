// Package watchfeed polls the fast diff feeds and turns observed changes into
// queued change-set entries plus durable pending records. The feeds are lossy:
// an empty document never means the watchlist emptied, so the watcher only
// ever adds, it never deletes.
package watchfeed

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"watchbridge/internal/changeset"
	"watchbridge/internal/identity"
	"watchbridge/internal/logging"
	"watchbridge/internal/source"
	"watchbridge/internal/store"
)

// channelState tracks the per-channel snapshot used for diffing. A channel
// stays unbaselined until its first non-empty fetch.
type channelState struct {
	baselined bool
	snapshot  map[identity.DiffKey]source.Item
}

// Watcher polls both diff-feed channels and feeds the change queue.
type Watcher struct {
	client   source.Client
	store    *store.Store
	queue    *changeset.Queue
	logger   *slog.Logger
	channels map[source.Channel]*channelState
}

// New constructs a watcher over both channels.
func New(client source.Client, st *store.Store, queue *changeset.Queue, logger *slog.Logger) *Watcher {
	return &Watcher{
		client: client,
		store:  st,
		queue:  queue,
		logger: logging.NewComponentLogger(logger, "watchfeed"),
		channels: map[source.Channel]*channelState{
			source.ChannelSelf:    {snapshot: make(map[identity.DiffKey]source.Item)},
			source.ChannelFriends: {snapshot: make(map[identity.DiffKey]source.Item)},
		},
	}
}

// PollAll polls both channels. A failure on one channel does not stop the
// other; the first error is returned after both have been attempted.
func (w *Watcher) PollAll(ctx context.Context) error {
	var firstErr error
	for _, channel := range []source.Channel{source.ChannelSelf, source.ChannelFriends} {
		if err := w.Poll(ctx, channel); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Poll fetches one channel's feed and queues anything new or changed relative
// to the previous snapshot. Items that vanished from the feed are only
// logged; the feed sliding out old entries is normal and carries no removal
// meaning.
func (w *Watcher) Poll(ctx context.Context, channel source.Channel) error {
	state := w.channels[channel]
	if state == nil {
		state = &channelState{snapshot: make(map[identity.DiffKey]source.Item)}
		w.channels[channel] = state
	}

	items, err := w.client.DiffFeed(ctx, channel)
	if err != nil {
		w.logger.Warn("feed poll failed",
			logging.String(logging.FieldChannel, string(channel)),
			logging.Error(err))
		return err
	}
	if len(items) == 0 {
		return nil
	}

	next := make(map[identity.DiffKey]source.Item, len(items))
	var changed []source.Item
	for _, item := range items {
		key := item.Identity.DiffKey()
		if key == "" {
			continue
		}
		next[key] = item
		prev, seen := state.snapshot[key]
		if !state.baselined || !seen || feedItemChanged(prev, item) {
			changed = append(changed, item)
		}
	}

	for key := range state.snapshot {
		if _, ok := next[key]; !ok {
			w.logger.Debug("item aged out of feed",
				logging.String(logging.FieldChannel, string(channel)),
				logging.String(logging.FieldItemKey, string(key)))
		}
	}

	wasBaselined := state.baselined
	state.snapshot = next
	state.baselined = true

	if len(changed) == 0 {
		return nil
	}
	if err := w.enqueue(ctx, channel, changed); err != nil {
		return err
	}
	if !wasBaselined {
		w.logger.Info("channel baselined",
			logging.String(logging.FieldChannel, string(channel)),
			logging.Int(logging.FieldCount, len(changed)))
	}
	return nil
}

func (w *Watcher) enqueue(ctx context.Context, channel source.Channel, items []source.Item) error {
	queued := make([]changeset.Item, 0, len(items))
	for _, item := range items {
		queued = append(queued, changeset.Item{
			Identity: item.Identity,
			Title:    item.Title,
			Kind:     string(item.Kind),
			Thumb:    item.Thumb,
			Genres:   item.Genres,
			Channel:  string(channel),
		})
	}

	added := w.queue.Add(queued...)
	if len(added) == 0 {
		return nil
	}

	// Durable records exist only for entries the queue accepted; an entry it
	// rejected as a duplicate already has one.
	pending := make([]*store.PendingItem, 0, len(added))
	for _, item := range added {
		record := &store.PendingItem{
			ID:      uuid.NewString(),
			Title:   item.Title,
			Kind:    item.Kind,
			Thumb:   item.Thumb,
			Channel: item.Channel,
		}
		record.SetIdentity(item.Identity)
		pending = append(pending, record)
	}
	if err := w.store.SavePendingDiffItems(ctx, pending); err != nil {
		w.logger.Error("persist pending diff items",
			logging.String(logging.FieldChannel, string(channel)),
			logging.Error(err))
		return err
	}
	w.logger.Info("queued feed changes",
		logging.String(logging.FieldChannel, string(channel)),
		logging.Int(logging.FieldCount, len(added)))
	return nil
}

func feedItemChanged(prev, next source.Item) bool {
	if prev.Title != next.Title || prev.Kind != next.Kind || prev.Thumb != next.Thumb {
		return true
	}
	if len(prev.Genres) != len(next.Genres) {
		return true
	}
	for i := range prev.Genres {
		if prev.Genres[i] != next.Genres[i] {
			return true
		}
	}
	return false
}
