// Package ratelimit enforces fixed-window provider call budgets. Windows are
// persisted in the record database rather than process memory, so budgets
// survive restarts and hold across every process sharing the database file.
package ratelimit

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"clipflow/internal/config"
	"clipflow/internal/services"
)

// Limiter tracks call counts per (caller, service) pair in fixed windows.
type Limiter struct {
	db     *sql.DB
	window time.Duration
	limits map[string]int
	now    func() time.Time
}

// New builds a limiter over an existing database connection.
func New(db *sql.DB, cfg config.RateLimit) *Limiter {
	return &Limiter{
		db:     db,
		window: time.Duration(cfg.WindowMinutes) * time.Minute,
		limits: cfg.PerWindow,
		now:    time.Now,
	}
}

// WithClock overrides time lookup, used by tests.
func (l *Limiter) WithClock(now func() time.Time) *Limiter {
	l.now = now
	return l
}

// Allow consumes one call from the caller's budget for the service. The count
// is an atomic UPSERT with RETURNING, so concurrent callers cannot both land
// on the last slot. Returns ErrRateLimited once the budget is spent; services
// without a configured budget are unlimited.
func (l *Limiter) Allow(ctx context.Context, caller, service string) error {
	limit, ok := l.limits[service]
	if !ok {
		return nil
	}
	if limit == 0 {
		return services.Wrap(services.ErrRateLimited, service, "allow", "service budget is zero", nil)
	}

	windowStart := l.now().UTC().Truncate(l.window).Format(time.RFC3339)

	var count int
	err := l.db.QueryRowContext(
		ctx,
		`INSERT INTO rate_windows (caller, service, window_start, count) VALUES (?, ?, ?, 1)
         ON CONFLICT(caller, service, window_start) DO UPDATE SET count = count + 1
         RETURNING count`,
		caller, service, windowStart,
	).Scan(&count)
	if err != nil {
		return fmt.Errorf("advance rate window: %w", err)
	}

	if count > limit {
		return services.Wrap(services.ErrRateLimited, service, "allow",
			fmt.Sprintf("%d of %d calls used this window", count-1, limit), nil)
	}
	return nil
}

// Remaining reports how many calls are left in the current window. Services
// without a configured budget report -1.
func (l *Limiter) Remaining(ctx context.Context, caller, service string) (int, error) {
	limit, ok := l.limits[service]
	if !ok {
		return -1, nil
	}

	windowStart := l.now().UTC().Truncate(l.window).Format(time.RFC3339)

	var count int
	err := l.db.QueryRowContext(
		ctx,
		`SELECT count FROM rate_windows WHERE caller = ? AND service = ? AND window_start = ?`,
		caller, service, windowStart,
	).Scan(&count)
	if err == sql.ErrNoRows {
		return limit, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read rate window: %w", err)
	}
	if count >= limit {
		return 0, nil
	}
	return limit - count, nil
}

// Prune deletes windows older than two window lengths.
func (l *Limiter) Prune(ctx context.Context) (int64, error) {
	cutoff := l.now().UTC().Add(-2 * l.window).Format(time.RFC3339)
	res, err := l.db.ExecContext(ctx, `DELETE FROM rate_windows WHERE window_start < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune rate windows: %w", err)
	}
	return res.RowsAffected()
}
