package testsupport

import (
	"context"
	"testing"

	"watchbridge/internal/config"
	"watchbridge/internal/store"
)

// MustOpenStore opens a store.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *store.Store {
	t.Helper()

	st, err := store.Open(cfg)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() {
		st.Close()
	})
	return st
}

// NewUser creates a user for tests using the provided store.
func NewUser(t testing.TB, st *store.Store, id int64, name string, canSync, primary bool) *store.User {
	t.Helper()

	user, err := st.CreateUser(context.Background(), id, name, canSync, primary)
	if err != nil {
		t.Fatalf("store.CreateUser: %v", err)
	}
	return user
}
