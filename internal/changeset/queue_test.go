package changeset_test

import (
	"testing"
	"time"

	"watchbridge/internal/changeset"
	"watchbridge/internal/identity"
)

func fakeClock(start time.Time) (func() time.Time, func(time.Duration)) {
	current := start
	now := func() time.Time { return current }
	advance := func(d time.Duration) { current = current.Add(d) }
	return now, advance
}

func movieItem(key, title string) changeset.Item {
	return changeset.Item{
		Identity: identity.NewIdentity(key),
		Title:    title,
		Kind:     "movie",
		Channel:  "self",
	}
}

func TestAddDeduplicatesByFullShape(t *testing.T) {
	q := changeset.New(nil)

	item := movieItem("tmdb://1", "The Matrix")
	if added := q.Add(item); len(added) != 1 || added[0].Title != "The Matrix" {
		t.Fatalf("first add: got %v, want the item back", added)
	}
	if added := q.Add(item); len(added) != 0 {
		t.Fatalf("duplicate add: got %v, want none", added)
	}
	if q.Len() != 1 {
		t.Fatalf("queue length = %d, want 1", q.Len())
	}

	// Same identity with changed metadata is a distinct change.
	updated := movieItem("tmdb://1", "The Matrix (1999)")
	if added := q.Add(updated); len(added) != 1 {
		t.Fatalf("modified add: got %v, want 1 item", added)
	}
	if q.Len() != 2 {
		t.Fatalf("queue length = %d, want 2", q.Len())
	}
}

func TestDrainEmptiesQueue(t *testing.T) {
	q := changeset.New(nil)
	q.Add(movieItem("tmdb://1", "A"), movieItem("tmdb://2", "B"))

	items := q.Drain()
	if len(items) != 2 {
		t.Fatalf("drained %d items, want 2", len(items))
	}
	if items[0].Title != "A" || items[1].Title != "B" {
		t.Fatalf("drain order not insertion order: %v", items)
	}
	if q.Len() != 0 {
		t.Fatalf("queue not empty after drain: %d", q.Len())
	}
	if q.Drain() != nil {
		t.Fatal("second drain should return nil")
	}
}

func TestQuiescence(t *testing.T) {
	now, advance := fakeClock(time.Unix(1000, 0))
	q := changeset.New(now)

	if q.Quiescent(time.Second) {
		t.Fatal("empty queue must not be quiescent")
	}

	q.Add(movieItem("tmdb://1", "A"))
	if q.Quiescent(10 * time.Second) {
		t.Fatal("queue should not be quiescent immediately after insert")
	}

	advance(11 * time.Second)
	if !q.Quiescent(10 * time.Second) {
		t.Fatal("queue should be quiescent after the delay elapses")
	}

	// A genuinely new insert resets the clock; a duplicate does not.
	q.Add(movieItem("tmdb://2", "B"))
	if q.Quiescent(10 * time.Second) {
		t.Fatal("new insert should reset the quiescence clock")
	}
	advance(11 * time.Second)
	q.Add(movieItem("tmdb://2", "B"))
	if !q.Quiescent(10 * time.Second) {
		t.Fatal("duplicate insert must not reset the quiescence clock")
	}
}

func TestClear(t *testing.T) {
	q := changeset.New(nil)
	q.Add(movieItem("tmdb://1", "A"))
	q.Clear()
	if q.Len() != 0 {
		t.Fatalf("queue not empty after clear: %d", q.Len())
	}
}
