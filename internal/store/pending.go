package store

import (
	"context"
	"fmt"
	"time"
)

const pendingColumns = "id, identity_key, guids_json, title, kind, thumb, channel, routed, created_at"

// SavePendingDiffItems upserts pending diff records by id.
func (s *Store) SavePendingDiffItems(ctx context.Context, items []*PendingItem) error {
	if len(items) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save pending tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, item := range items {
		if item.ID == "" {
			return fmt.Errorf("pending item %q has no id", item.Title)
		}
		createdAt := item.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now()
		}
		if _, err := tx.ExecContext(
			ctx,
			`INSERT OR REPLACE INTO pending_diff_items (
                id, identity_key, guids_json, title, kind, thumb, channel, routed, created_at
            ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			item.ID,
			item.IdentityKey,
			item.GuidsJSON,
			item.Title,
			item.Kind,
			nullableString(item.Thumb),
			item.Channel,
			boolToInt(item.Routed),
			timestamp(createdAt),
		); err != nil {
			return fmt.Errorf("save pending item %q: %w", item.Title, err)
		}
	}
	return tx.Commit()
}

// PendingDiffItems returns pending diff records for one channel, or all
// records when channel is empty. Ordered oldest first.
func (s *Store) PendingDiffItems(ctx context.Context, channel string) ([]*PendingItem, error) {
	query := `SELECT ` + pendingColumns + ` FROM pending_diff_items ORDER BY created_at, id`
	args := []any{}
	if channel != "" {
		query = `SELECT ` + pendingColumns + ` FROM pending_diff_items WHERE channel = ? ORDER BY created_at, id`
		args = append(args, channel)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query pending items: %w", err)
	}
	defer rows.Close()

	var items []*PendingItem
	for rows.Next() {
		var (
			item       PendingItem
			thumb      *string
			routed     int
			createdRaw string
		)
		if err := rows.Scan(&item.ID, &item.IdentityKey, &item.GuidsJSON, &item.Title, &item.Kind, &thumb, &item.Channel, &routed, &createdRaw); err != nil {
			return nil, err
		}
		if thumb != nil {
			item.Thumb = *thumb
		}
		item.Routed = routed != 0
		if created, err := parseTimeString(createdRaw); err == nil {
			item.CreatedAt = created
		}
		items = append(items, &item)
	}
	return items, rows.Err()
}

// DeletePendingDiffItems removes pending diff records by id.
func (s *Store) DeletePendingDiffItems(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	if _, err := s.db.ExecContext(
		ctx,
		`DELETE FROM pending_diff_items WHERE id IN (`+makePlaceholders(len(ids))+`)`,
		args...,
	); err != nil {
		return fmt.Errorf("delete pending items: %w", err)
	}
	return nil
}

// MarkPendingRouted flags every pending diff record carrying the given
// identity key as already routed.
func (s *Store) MarkPendingRouted(ctx context.Context, identityKey string) error {
	if _, err := s.db.ExecContext(
		ctx,
		`UPDATE pending_diff_items SET routed = 1 WHERE identity_key = ?`,
		identityKey,
	); err != nil {
		return fmt.Errorf("mark pending routed: %w", err)
	}
	return nil
}
