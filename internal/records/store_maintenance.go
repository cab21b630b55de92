package records

import (
	"context"
	"fmt"
	"time"
)

// AcquireLease takes a named lease on behalf of holder. It returns false when
// another holder owns an unexpired lease with the same name. Expired leases
// are taken over in the same write.
func (s *Store) AcquireLease(ctx context.Context, name, holder string, ttl time.Duration) (bool, error) {
	now := time.Now().UTC()
	expires := timestamp(now.Add(ttl))

	res, err := s.db.ExecContext(
		ctx,
		`INSERT INTO leases (name, holder, expires_at) VALUES (?, ?, ?)
         ON CONFLICT(name) DO UPDATE SET holder = excluded.holder, expires_at = excluded.expires_at
         WHERE leases.expires_at < ? OR leases.holder = excluded.holder`,
		name, holder, expires, timestamp(now),
	)
	if err != nil {
		return false, fmt.Errorf("acquire lease %s: %w", name, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("acquire lease %s: %w", name, err)
	}
	return affected > 0, nil
}

// ReleaseLease drops a lease if the holder still owns it.
func (s *Store) ReleaseLease(ctx context.Context, name, holder string) error {
	if _, err := s.db.ExecContext(
		ctx,
		`DELETE FROM leases WHERE name = ? AND holder = ?`,
		name, holder,
	); err != nil {
		return fmt.Errorf("release lease %s: %w", name, err)
	}
	return nil
}

// NextPersonaIndex returns a monotonically advancing per-family counter used
// to rotate avatar personas across workflow runs.
func (s *Store) NextPersonaIndex(ctx context.Context, family string) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin persona tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	var index int
	err = tx.QueryRowContext(
		ctx,
		`INSERT INTO persona_cursors (family, next_index) VALUES (?, 1)
         ON CONFLICT(family) DO UPDATE SET next_index = next_index + 1
         RETURNING next_index - 1`,
		family,
	).Scan(&index)
	if err != nil {
		return 0, fmt.Errorf("advance persona cursor: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit persona tx: %w", err)
	}
	return index, nil
}
