package store

import (
	"encoding/json"
	"time"

	"watchbridge/internal/identity"
)

// ItemStatus represents the lifecycle of a watchlist item.
type ItemStatus string

const (
	StatusPending   ItemStatus = "pending"
	StatusRequested ItemStatus = "requested"
	StatusGrabbed   ItemStatus = "grabbed"
	StatusNotified  ItemStatus = "notified"
)

// ConflictPolicy selects insert behavior when a (user, identity key) row
// already exists.
type ConflictPolicy string

const (
	// ConflictIgnore keeps the existing row untouched.
	ConflictIgnore ConflictPolicy = "ignore"
	// ConflictMerge overwrites the existing row's metadata.
	ConflictMerge ConflictPolicy = "merge"
)

// User is a watchlist owner. The id is the upstream account identifier,
// normalized to int64 at the source boundary.
type User struct {
	ID        int64
	Name      string
	CanSync   bool
	IsPrimary bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Item is one watchlist entry for one user. Uniqueness is enforced over
// (user, identity key).
type Item struct {
	ID          int64
	UserID      int64
	IdentityKey string
	GuidsJSON   string
	Title       string
	Kind        string
	Thumb       string
	GenresJSON  string
	Status      ItemStatus
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Identity parses the stored GUID set back into a ContentIdentity.
func (i *Item) Identity() identity.ContentIdentity {
	return identity.NewIdentity(decodeStrings(i.GuidsJSON)...)
}

// Genres parses the stored genre list.
func (i *Item) Genres() []string {
	return decodeStrings(i.GenresJSON)
}

// SetIdentity stores the identity's canonical GUID set and derives the
// identity key.
func (i *Item) SetIdentity(id identity.ContentIdentity) {
	i.IdentityKey = string(id.DiffKey())
	i.GuidsJSON = encodeStrings(id.Strings())
}

// SetGenres stores the genre list.
func (i *Item) SetGenres(genres []string) {
	i.GenresJSON = encodeStrings(genres)
}

// HasCompleteMetadata reports whether the row carries enough metadata to be
// copied for another user without re-fetching from upstream.
func (i *Item) HasCompleteMetadata() bool {
	return i.Title != "" && i.Kind != ""
}

// PendingItem is a durable record of a diff-feed observation that has not yet
// been matched against watchlist rows.
type PendingItem struct {
	ID          string
	IdentityKey string
	GuidsJSON   string
	Title       string
	Kind        string
	Thumb       string
	Channel     string
	Routed      bool
	CreatedAt   time.Time
}

// Identity parses the pending record's GUID set.
func (p *PendingItem) Identity() identity.ContentIdentity {
	return identity.NewIdentity(decodeStrings(p.GuidsJSON)...)
}

// SetIdentity stores the identity's canonical GUID set and derives the
// identity key.
func (p *PendingItem) SetIdentity(id identity.ContentIdentity) {
	p.IdentityKey = string(id.DiffKey())
	p.GuidsJSON = encodeStrings(id.Strings())
}

// DeleteUsersResult reports the outcome of a bulk user deletion.
type DeleteUsersResult struct {
	Deleted   int64
	FailedIDs []int64
}

func encodeStrings(values []string) string {
	if len(values) == 0 {
		return "[]"
	}
	data, err := json.Marshal(values)
	if err != nil {
		return "[]"
	}
	return string(data)
}

func decodeStrings(raw string) []string {
	if raw == "" {
		return nil
	}
	var values []string
	if err := json.Unmarshal([]byte(raw), &values); err != nil {
		return nil
	}
	return values
}
