// Package source defines the contract the reconciliation core expects from
// the upstream watchlist provider, plus the domain shapes that cross it.
// The HTTP implementation lives in internal/services/plex.
package source

import (
	"context"

	"watchbridge/internal/identity"
)

// Kind classifies watchlist content.
type Kind string

const (
	KindMovie Kind = "movie"
	KindShow  Kind = "show"
)

// Channel names one of the two independent diff-feed streams.
type Channel string

const (
	ChannelSelf    Channel = "self"
	ChannelFriends Channel = "friends"
)

// Item is one watchlist entry as reported by the upstream source, with its
// GUIDs already normalized at the boundary.
type Item struct {
	Identity identity.ContentIdentity
	Title    string
	Kind     Kind
	Thumb    string
	Genres   []string
}

// Account identifies a watchlist owner upstream. Upstream payloads encode the
// id in several shapes; implementations must normalize to int64 before
// returning it here.
type Account struct {
	ID   int64
	Name string
}

// FriendsResult carries the current friend listing. Complete=false means the
// listing could not be fully determined and must not be interpreted as "no
// friends"; callers leave the user directory untouched in that case.
type FriendsResult struct {
	Friends  []Account
	Complete bool
}

// Client is the upstream watchlist capability consumed by the core.
type Client interface {
	// Ping verifies upstream connectivity.
	Ping(ctx context.Context) error
	// Account returns the primary account the credential belongs to.
	Account(ctx context.Context) (Account, error)
	// SelfWatchlist fetches the primary user's complete watchlist.
	SelfWatchlist(ctx context.Context) ([]Item, error)
	// FriendWatchlist fetches one friend's complete watchlist.
	FriendWatchlist(ctx context.Context, friend Account) ([]Item, error)
	// Friends fetches the current friend listing.
	Friends(ctx context.Context) (FriendsResult, error)
	// DiffFeed fetches the fast, lossy diff-style feed for one channel.
	DiffFeed(ctx context.Context, channel Channel) ([]Item, error)
}
