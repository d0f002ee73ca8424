// Package plex implements the upstream watchlist source against the Plex
// account and discover APIs plus the watchlist RSS feeds. All GUID
// normalization happens here so the rest of the system only ever sees
// canonical content identities.
package plex
