// Package changeset holds items detected as changed by the diff-feed watcher
// until the queue has been quiet long enough to process them as a batch.
package changeset

import (
	"sort"
	"strings"
	"sync"
	"time"

	"watchbridge/internal/identity"
)

// Item is one changed watchlist entry awaiting a flush.
type Item struct {
	Identity identity.ContentIdentity
	Title    string
	Kind     string
	Thumb    string
	Genres   []string
	Channel  string
}

// fingerprint covers the item's full shape, not just its identity, so a
// metadata update to an already-queued item queues again after a drain.
func (i Item) fingerprint() string {
	genres := append([]string(nil), i.Genres...)
	sort.Strings(genres)
	parts := []string{
		string(i.Identity.DiffKey()),
		i.Title,
		i.Kind,
		i.Thumb,
		strings.Join(genres, ","),
		i.Channel,
	}
	return strings.Join(parts, "\x1f")
}

// Queue is a deduplicating holding area with a quiescence clock. The owning
// scheduler is the only writer and the only drainer.
type Queue struct {
	mu         sync.Mutex
	now        func() time.Time
	entries    map[string]Item
	order      []string
	lastInsert time.Time
}

// New constructs a queue. A nil clock defaults to time.Now.
func New(now func() time.Time) *Queue {
	if now == nil {
		now = time.Now
	}
	return &Queue{
		now:     now,
		entries: make(map[string]Item),
	}
}

// Add inserts items not already present and returns the ones that were
// genuinely new, in input order. The last-insertion time advances only when
// at least one entry was new.
func (q *Queue) Add(items ...Item) []Item {
	q.mu.Lock()
	defer q.mu.Unlock()

	var added []Item
	for _, item := range items {
		fp := item.fingerprint()
		if _, ok := q.entries[fp]; ok {
			continue
		}
		q.entries[fp] = item
		q.order = append(q.order, fp)
		added = append(added, item)
	}
	if len(added) > 0 {
		q.lastInsert = q.now()
	}
	return added
}

// Drain atomically removes and returns all current contents in insertion
// order.
func (q *Queue) Drain() []Item {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.entries) == 0 {
		return nil
	}
	items := make([]Item, 0, len(q.order))
	for _, fp := range q.order {
		if item, ok := q.entries[fp]; ok {
			items = append(items, item)
		}
	}
	q.entries = make(map[string]Item)
	q.order = nil
	return items
}

// Quiescent reports whether the queue holds items and has not seen a new
// insertion for at least delay.
func (q *Queue) Quiescent(delay time.Duration) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.entries) == 0 {
		return false
	}
	return q.now().Sub(q.lastInsert) >= delay
}

// Len returns the current number of queued items.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// Clear discards all queued items.
func (q *Queue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.entries = make(map[string]Item)
	q.order = nil
}
