package store

import (
	"context"
	"fmt"
	"time"
)

const itemColumns = "id, user_id, identity_key, guids_json, title, kind, thumb, genres_json, status, created_at, updated_at"

// ItemsByIdentityKeys returns all rows whose identity key is in keys,
// regardless of owning user.
func (s *Store) ItemsByIdentityKeys(ctx context.Context, keys []string) ([]*Item, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	args := make([]any, len(keys))
	for i, key := range keys {
		args[i] = key
	}
	query := `SELECT ` + itemColumns + ` FROM watchlist_items WHERE identity_key IN (` + makePlaceholders(len(keys)) + `) ORDER BY id`
	return s.queryItems(ctx, query, args...)
}

// ItemsForUserAndKeys returns rows matching both a user in userIDs and an
// identity key in keys.
func (s *Store) ItemsForUserAndKeys(ctx context.Context, userIDs []int64, keys []string) ([]*Item, error) {
	if len(userIDs) == 0 || len(keys) == 0 {
		return nil, nil
	}
	args := make([]any, 0, len(userIDs)+len(keys))
	for _, id := range userIDs {
		args = append(args, id)
	}
	for _, key := range keys {
		args = append(args, key)
	}
	query := `SELECT ` + itemColumns + ` FROM watchlist_items WHERE user_id IN (` + makePlaceholders(len(userIDs)) + `) AND identity_key IN (` + makePlaceholders(len(keys)) + `) ORDER BY id`
	return s.queryItems(ctx, query, args...)
}

// AllItemsForUser returns every row owned by one user.
func (s *Store) AllItemsForUser(ctx context.Context, userID int64) ([]*Item, error) {
	return s.queryItems(ctx, `SELECT `+itemColumns+` FROM watchlist_items WHERE user_id = ? ORDER BY id`, userID)
}

// AllItems returns every row, ordered by user then insertion.
func (s *Store) AllItems(ctx context.Context) ([]*Item, error) {
	return s.queryItems(ctx, `SELECT `+itemColumns+` FROM watchlist_items ORDER BY user_id, id`)
}

// CreateItems inserts rows under the given conflict policy and returns how
// many statements affected a row. ConflictIgnore leaves existing
// (user, identity key) rows untouched; ConflictMerge overwrites their
// metadata while preserving lifecycle status and creation time.
func (s *Store) CreateItems(ctx context.Context, items []*Item, policy ConflictPolicy) (int64, error) {
	if len(items) == 0 {
		return 0, nil
	}

	var clause string
	switch policy {
	case ConflictMerge:
		clause = ` ON CONFLICT(user_id, identity_key) DO UPDATE SET
            guids_json = excluded.guids_json, title = excluded.title,
            kind = excluded.kind, thumb = excluded.thumb,
            genres_json = excluded.genres_json, updated_at = excluded.updated_at`
	default:
		clause = ` ON CONFLICT(user_id, identity_key) DO NOTHING`
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin create items tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := timestamp(time.Now())
	var affected int64
	for _, item := range items {
		if item.IdentityKey == "" {
			return 0, fmt.Errorf("item %q has no identity key", item.Title)
		}
		status := item.Status
		if status == "" {
			status = StatusPending
		}
		res, err := tx.ExecContext(
			ctx,
			`INSERT INTO watchlist_items (
                user_id, identity_key, guids_json, title, kind, thumb,
                genres_json, status, created_at, updated_at
            ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`+clause,
			item.UserID,
			item.IdentityKey,
			item.GuidsJSON,
			item.Title,
			item.Kind,
			nullableString(item.Thumb),
			nullableString(item.GenresJSON),
			status,
			now,
			now,
		)
		if err != nil {
			return 0, fmt.Errorf("insert item %q: %w", item.Title, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("rows affected: %w", err)
		}
		affected += n
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit create items: %w", err)
	}
	return affected, nil
}

// DeleteItems removes the given identity keys for one user.
func (s *Store) DeleteItems(ctx context.Context, userID int64, keys []string) (int64, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	args := make([]any, 0, len(keys)+1)
	args = append(args, userID)
	for _, key := range keys {
		args = append(args, key)
	}
	res, err := s.db.ExecContext(
		ctx,
		`DELETE FROM watchlist_items WHERE user_id = ? AND identity_key IN (`+makePlaceholders(len(keys))+`)`,
		args...,
	)
	if err != nil {
		return 0, fmt.Errorf("delete items: %w", err)
	}
	return res.RowsAffected()
}

// SetItemStatus updates the lifecycle status of one row.
func (s *Store) SetItemStatus(ctx context.Context, id int64, status ItemStatus) error {
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE watchlist_items SET status = ?, updated_at = ? WHERE id = ?`,
		status, timestamp(time.Now()), id,
	)
	if err != nil {
		return fmt.Errorf("set item status: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("set item status: item %d not found", id)
	}
	return nil
}

func (s *Store) queryItems(ctx context.Context, query string, args ...any) ([]*Item, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query items: %w", err)
	}
	defer rows.Close()

	var items []*Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func scanItem(scanner interface{ Scan(dest ...any) error }) (*Item, error) {
	var (
		id          int64
		userID      int64
		identityKey string
		guidsJSON   string
		title       string
		kind        string
		thumb       *string
		genresJSON  *string
		status      string
		createdRaw  string
		updatedRaw  string
	)
	if err := scanner.Scan(&id, &userID, &identityKey, &guidsJSON, &title, &kind, &thumb, &genresJSON, &status, &createdRaw, &updatedRaw); err != nil {
		return nil, err
	}

	item := &Item{
		ID:          id,
		UserID:      userID,
		IdentityKey: identityKey,
		GuidsJSON:   guidsJSON,
		Title:       title,
		Kind:        kind,
		Status:      ItemStatus(status),
	}
	if thumb != nil {
		item.Thumb = *thumb
	}
	if genresJSON != nil {
		item.GenresJSON = *genresJSON
	}
	if created, err := parseTimeString(createdRaw); err == nil {
		item.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw); err == nil {
		item.UpdatedAt = updated
	}
	return item, nil
}
