// Package identity normalizes and compares the typed external GUIDs that
// identify watchlist content. It keeps two deliberately distinct notions of
// sameness: DiffKey, the single canonical GUID used to key diff-feed
// snapshots, and ContentIdentity, the full GUID set used for true matching.
// Store uniqueness is always defined over identity keys per user, never the
// diff cache.
package identity
