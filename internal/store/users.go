package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrUserExists indicates a user with the same id or name already exists.
var ErrUserExists = errors.New("user already exists")

const userColumns = "id, name, can_sync, is_primary, created_at, updated_at"

// GetUser fetches a user by upstream id. Returns nil when absent.
func (s *Store) GetUser(ctx context.Context, id int64) (*User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id)
	user, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return user, nil
}

// GetUserByName fetches a user by display name, case-insensitively. Returns
// nil when absent.
func (s *Store) GetUserByName(ctx context.Context, name string) (*User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE name = ? COLLATE NOCASE`, name)
	user, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get user by name: %w", err)
	}
	return user, nil
}

// GetAllUsers returns all users ordered by id.
func (s *Store) GetAllUsers(ctx context.Context) ([]*User, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+userColumns+` FROM users ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var users []*User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, user)
	}
	return users, rows.Err()
}

// CreateUser inserts a new user. Creating a primary user demotes any prior
// primary in the same transaction, so at most one primary exists at any time.
func (s *Store) CreateUser(ctx context.Context, id int64, name string, canSync, primary bool) (*User, error) {
	if id == 0 {
		return nil, errors.New("user id is required")
	}
	if name == "" {
		return nil, errors.New("user name is required")
	}
	now := timestamp(time.Now())

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin create user tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if primary {
		if _, err := tx.ExecContext(ctx, `UPDATE users SET is_primary = 0, updated_at = ? WHERE is_primary = 1`, now); err != nil {
			return nil, fmt.Errorf("demote primary: %w", err)
		}
	}
	if _, err := tx.ExecContext(
		ctx,
		`INSERT INTO users (id, name, can_sync, is_primary, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		id, name, boolToInt(canSync), boolToInt(primary), now, now,
	); err != nil {
		if isConstraintError(err) {
			return nil, fmt.Errorf("%w: %s", ErrUserExists, name)
		}
		return nil, fmt.Errorf("insert user: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit create user: %w", err)
	}
	return s.GetUser(ctx, id)
}

// SetPrimaryUser promotes one user to primary, demoting any prior primary
// atomically.
func (s *Store) SetPrimaryUser(ctx context.Context, id int64) error {
	now := timestamp(time.Now())

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin set primary tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `UPDATE users SET is_primary = 0, updated_at = ? WHERE is_primary = 1 AND id != ?`, now, id); err != nil {
		return fmt.Errorf("demote primary: %w", err)
	}
	res, err := tx.ExecContext(ctx, `UPDATE users SET is_primary = 1, updated_at = ? WHERE id = ?`, now, id)
	if err != nil {
		return fmt.Errorf("promote primary: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("set primary: user %d not found", id)
	}
	return tx.Commit()
}

// SetUserCanSync toggles the sync-enabled flag for one user.
func (s *Store) SetUserCanSync(ctx context.Context, id int64, canSync bool) error {
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE users SET can_sync = ?, updated_at = ? WHERE id = ?`,
		boolToInt(canSync), timestamp(time.Now()), id,
	)
	if err != nil {
		return fmt.Errorf("set can_sync: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("set can_sync: user %d not found", id)
	}
	return nil
}

// DeleteUsers removes users by id, cascading to their watchlist items. The
// primary user is never deleted; attempting to is reported as a failed id.
func (s *Store) DeleteUsers(ctx context.Context, ids []int64) (DeleteUsersResult, error) {
	var result DeleteUsersResult
	for _, id := range ids {
		res, err := s.db.ExecContext(ctx, `DELETE FROM users WHERE id = ? AND is_primary = 0`, id)
		if err != nil {
			result.FailedIDs = append(result.FailedIDs, id)
			continue
		}
		affected, err := res.RowsAffected()
		if err != nil || affected == 0 {
			result.FailedIDs = append(result.FailedIDs, id)
			continue
		}
		result.Deleted += affected
	}
	return result, nil
}

func scanUser(scanner interface{ Scan(dest ...any) error }) (*User, error) {
	var (
		id         int64
		name       string
		canSync    int
		isPrimary  int
		createdRaw string
		updatedRaw string
	)
	if err := scanner.Scan(&id, &name, &canSync, &isPrimary, &createdRaw, &updatedRaw); err != nil {
		return nil, err
	}

	user := &User{
		ID:        id,
		Name:      name,
		CanSync:   canSync != 0,
		IsPrimary: isPrimary != 0,
	}
	if created, err := parseTimeString(createdRaw); err == nil {
		user.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw); err == nil {
		user.UpdatedAt = updated
	}
	return user, nil
}

func isConstraintError(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "constraint")
}
