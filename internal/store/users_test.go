package store_test

import (
	"context"
	"errors"
	"testing"

	"watchbridge/internal/store"
	"watchbridge/internal/testsupport"
)

func TestCreateUserAndLookup(t *testing.T) {
	st := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()

	user, err := st.CreateUser(ctx, 100, "alice", true, true)
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if !user.IsPrimary || !user.CanSync {
		t.Fatalf("unexpected flags: %+v", user)
	}

	byName, err := st.GetUserByName(ctx, "ALICE")
	if err != nil {
		t.Fatalf("GetUserByName: %v", err)
	}
	if byName == nil || byName.ID != 100 {
		t.Fatalf("case-insensitive lookup failed: %+v", byName)
	}

	if _, err := st.CreateUser(ctx, 100, "alice", true, false); !errors.Is(err, store.ErrUserExists) {
		t.Fatalf("expected ErrUserExists, got %v", err)
	}

	missing, err := st.GetUser(ctx, 999)
	if err != nil {
		t.Fatalf("GetUser missing: %v", err)
	}
	if missing != nil {
		t.Fatalf("expected nil for missing user, got %+v", missing)
	}
}

func TestAtMostOnePrimary(t *testing.T) {
	st := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()

	testsupport.NewUser(t, st, 1, "alice", true, true)
	testsupport.NewUser(t, st, 2, "bob", true, true)

	if err := st.SetPrimaryUser(ctx, 1); err != nil {
		t.Fatalf("SetPrimaryUser: %v", err)
	}

	users, err := st.GetAllUsers(ctx)
	if err != nil {
		t.Fatalf("GetAllUsers: %v", err)
	}
	primaries := 0
	for _, user := range users {
		if user.IsPrimary {
			primaries++
			if user.ID != 1 {
				t.Fatalf("wrong primary: %+v", user)
			}
		}
	}
	if primaries != 1 {
		t.Fatalf("expected exactly one primary, got %d", primaries)
	}

	if err := st.SetPrimaryUser(ctx, 42); err == nil {
		t.Fatal("expected error promoting missing user")
	}
}

func TestDeleteUsersProtectsPrimaryAndCascades(t *testing.T) {
	st := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()

	testsupport.NewUser(t, st, 1, "alice", true, true)
	testsupport.NewUser(t, st, 2, "bob", true, false)

	item := &store.Item{UserID: 2, IdentityKey: "tvdb:7", GuidsJSON: `["tvdb:7"]`, Title: "Show", Kind: "show"}
	if _, err := st.CreateItems(ctx, []*store.Item{item}, store.ConflictIgnore); err != nil {
		t.Fatalf("CreateItems: %v", err)
	}

	result, err := st.DeleteUsers(ctx, []int64{1, 2, 3})
	if err != nil {
		t.Fatalf("DeleteUsers: %v", err)
	}
	if result.Deleted != 1 {
		t.Fatalf("expected 1 deletion, got %d", result.Deleted)
	}
	if len(result.FailedIDs) != 2 {
		t.Fatalf("expected ids 1 and 3 to fail, got %v", result.FailedIDs)
	}

	orphans, err := st.ItemsByIdentityKeys(ctx, []string{"tvdb:7"})
	if err != nil {
		t.Fatalf("ItemsByIdentityKeys: %v", err)
	}
	if len(orphans) != 0 {
		t.Fatalf("expected cascade delete of items, found %d", len(orphans))
	}
}

func TestSetUserCanSync(t *testing.T) {
	st := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()

	testsupport.NewUser(t, st, 5, "carol", true, false)
	if err := st.SetUserCanSync(ctx, 5, false); err != nil {
		t.Fatalf("SetUserCanSync: %v", err)
	}
	user, err := st.GetUser(ctx, 5)
	if err != nil {
		t.Fatalf("GetUser: %v", err)
	}
	if user.CanSync {
		t.Fatal("expected can_sync off")
	}
}
