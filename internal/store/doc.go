// Package store persists users, watchlist items, and pending diff records in
// SQLite. Every exported operation is transactional at its own granularity;
// the reconciliation core deliberately avoids one multi-step transaction
// because its external collaborators (routing, notification) cannot
// participate in one anyway.
package store
