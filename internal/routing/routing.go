// Package routing forwards watchlist content to the configured acquisition
// backends: shows to Sonarr, movies to Radarr. Routing is keyed on the
// authoritative agency id for the content kind, so items without a tvdb or
// tmdb GUID cannot be routed.
package routing

import (
	"context"
	"errors"

	"watchbridge/internal/identity"
	"watchbridge/internal/source"
)

// ErrNoInstance indicates no enabled backend can accept the content kind.
var ErrNoInstance = errors.New("no routing instance for kind")

// Candidate is one piece of content under routing consideration.
type Candidate struct {
	Identity identity.ContentIdentity
	Title    string
	Kind     source.Kind
}

// Options carries per-request routing context.
type Options struct {
	// UserID is the watchlist owner the request originates from, for logs.
	UserID int64
	// InitialSync suppresses backend search kicks during the very first
	// full pass so a large imported backlog does not trigger a search storm.
	InitialSync bool
}

// Existence reports whether a candidate is already present in a backend.
// Checked=false means the lookup could not be performed at all and the
// candidate's state remains unknown.
type Existence struct {
	Found    bool
	Checked  bool
	Instance string
	Err      error
}

// Router is the acquisition surface consumed by the reconciliation core.
type Router interface {
	// Route submits the candidate to the backend for its kind. Submitting
	// content the backend already tracks is not an error.
	Route(ctx context.Context, candidate Candidate, opts Options) error
	// CheckExistence looks the candidate up in the backend for its kind.
	CheckExistence(ctx context.Context, candidate Candidate) Existence
	// Cleanup removes the candidate from its backend, best effort. Content
	// with downloaded files is left alone.
	Cleanup(ctx context.Context, candidate Candidate) error
}
