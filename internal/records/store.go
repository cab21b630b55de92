package records

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"clipflow/internal/config"
)

// ErrNotFound indicates no record matched the requested identifier.
var ErrNotFound = errors.New("record not found")

// Store manages workflow record persistence backed by SQLite.
type Store struct {
	db   *sql.DB
	path string
}

// Open initializes or connects to the record database and applies migrations.
func Open(cfg *config.Config) (*Store, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}
	return OpenPath(cfg.DatabasePath())
}

// OpenPath connects to a record database at an explicit location.
func OpenPath(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{db: db, path: dbPath}
	if err := store.applyMigrations(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// DB exposes the underlying connection so sibling stores (articles, rate
// windows) can share the same database file.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Path returns the database file location.
func (s *Store) Path() string {
	return s.path
}

// NewRecordInput carries the fields required to create a pending record.
type NewRecordInput struct {
	ID           string
	Family       string
	ArticleID    string
	Script       string
	Caption      string
	Title        string
	Persona      string
	Platforms    []string
	ScheduleMode string
}

// Create inserts a new pending workflow record. When no ID is supplied a UUID
// is generated.
func (s *Store) Create(ctx context.Context, input NewRecordInput) (*Record, error) {
	id := strings.TrimSpace(input.ID)
	if id == "" {
		id = uuid.NewString()
	}
	if strings.TrimSpace(input.Family) == "" {
		return nil, errors.New("create record: family is required")
	}

	now := timestamp(time.Now())
	platforms, err := encodePlatforms(input.Platforms)
	if err != nil {
		return nil, err
	}

	_, err = s.db.ExecContext(
		ctx,
		`INSERT INTO workflow_records (
            id, family, article_id, status, script, caption, title, persona,
            platforms_json, schedule_mode, retry_count, status_changed_at,
            created_at, updated_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?, ?)`,
		id,
		input.Family,
		nullableString(input.ArticleID),
		StatusPending,
		nullableString(input.Script),
		nullableString(input.Caption),
		nullableString(input.Title),
		nullableString(input.Persona),
		platforms,
		nullableString(input.ScheduleMode),
		now,
		now,
		now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert record: %w", err)
	}

	return s.GetByID(ctx, id)
}

// GetByID fetches a single record.
func (s *Store) GetByID(ctx context.Context, id string) (*Record, error) {
	row := s.db.QueryRowContext(
		ctx,
		"SELECT "+recordColumns+" FROM workflow_records WHERE id = ?",
		id,
	)
	record, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get record: %w", err)
	}
	return record, nil
}

// FindByAvatarJobID locates the record holding the given avatar provider job
// reference. Returns ErrNotFound when no record matches.
func (s *Store) FindByAvatarJobID(ctx context.Context, jobID string) (*Record, error) {
	return s.findByReference(ctx, "avatar_job_id", jobID)
}

// FindByEnhancerProjectID locates the record holding the given enhancer
// provider project reference. Returns ErrNotFound when no record matches.
func (s *Store) FindByEnhancerProjectID(ctx context.Context, projectID string) (*Record, error) {
	return s.findByReference(ctx, "enhancer_project_id", projectID)
}

func (s *Store) findByReference(ctx context.Context, column, value string) (*Record, error) {
	if strings.TrimSpace(value) == "" {
		return nil, fmt.Errorf("%w: empty %s", ErrNotFound, column)
	}
	row := s.db.QueryRowContext(
		ctx,
		"SELECT "+recordColumns+" FROM workflow_records WHERE "+column+" = ? ORDER BY updated_at DESC LIMIT 1",
		value,
	)
	record, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s=%s", ErrNotFound, column, value)
	}
	if err != nil {
		return nil, fmt.Errorf("find record by %s: %w", column, err)
	}
	return record, nil
}

// ListByStatus returns records in the given status for one family, oldest
// update first. A zero limit means no limit.
func (s *Store) ListByStatus(ctx context.Context, family string, status Status, limit int) ([]*Record, error) {
	query := "SELECT " + recordColumns + " FROM workflow_records WHERE family = ? AND status = ? ORDER BY updated_at ASC"
	args := []any{family, status}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	return s.queryRecords(ctx, query, args...)
}

// ListPendingOlderThan returns pending records whose last update is before the
// cutoff, oldest first.
func (s *Store) ListPendingOlderThan(ctx context.Context, family string, cutoff time.Time, limit int) ([]*Record, error) {
	query := "SELECT " + recordColumns + " FROM workflow_records WHERE family = ? AND status = ? AND updated_at < ? ORDER BY updated_at ASC"
	args := []any{family, StatusPending, timestamp(cutoff)}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	return s.queryRecords(ctx, query, args...)
}

// ListPostingOlderThan returns posting records whose last update is before the
// cutoff, oldest first.
func (s *Store) ListPostingOlderThan(ctx context.Context, family string, cutoff time.Time, limit int) ([]*Record, error) {
	query := "SELECT " + recordColumns + " FROM workflow_records WHERE family = ? AND status = ? AND updated_at < ? ORDER BY updated_at ASC"
	args := []any{family, StatusPosting, timestamp(cutoff)}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	return s.queryRecords(ctx, query, args...)
}

// ListRecoverable returns failed records that already hold relayed stage-one
// media but never reached the enhancer, oldest first. These can resume at the
// enhancement stage without regenerating the avatar video.
func (s *Store) ListRecoverable(ctx context.Context, family string, limit int) ([]*Record, error) {
	query := "SELECT " + recordColumns + ` FROM workflow_records
        WHERE family = ? AND status = ?
          AND avatar_media_url IS NOT NULL AND avatar_media_url != ''
          AND (enhancer_project_id IS NULL OR enhancer_project_id = '')
        ORDER BY updated_at ASC`
	args := []any{family, StatusFailed}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	return s.queryRecords(ctx, query, args...)
}

// List returns records filtered by optional status, newest first.
func (s *Store) List(ctx context.Context, statuses ...Status) ([]*Record, error) {
	query := "SELECT " + recordColumns + " FROM workflow_records"
	var args []any
	if len(statuses) > 0 {
		placeholders := make([]string, len(statuses))
		for i, status := range statuses {
			placeholders[i] = "?"
			args = append(args, status)
		}
		query += " WHERE status IN (" + strings.Join(placeholders, ", ") + ")"
	}
	query += " ORDER BY created_at DESC"
	return s.queryRecords(ctx, query, args...)
}

func (s *Store) queryRecords(ctx context.Context, query string, args ...any) ([]*Record, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	var out []*Record
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		out = append(out, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}
	return out, nil
}

// Stats returns record counts grouped by status.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	stats := Stats{ByStatus: make(map[Status]int64, len(allStatuses))}
	rows, err := s.db.QueryContext(ctx, "SELECT status, COUNT(1) FROM workflow_records GROUP BY status")
	if err != nil {
		return stats, fmt.Errorf("query stats: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var status string
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return stats, fmt.Errorf("scan stats: %w", err)
		}
		stats.ByStatus[Status(status)] = count
		stats.Total += count
	}
	if err := rows.Err(); err != nil {
		return stats, fmt.Errorf("iterate stats: %w", err)
	}
	return stats, nil
}

// Health reports database diagnostics for the status API.
func (s *Store) Health(ctx context.Context) DatabaseHealth {
	health := DatabaseHealth{DBPath: s.path}

	if _, err := os.Stat(s.path); err == nil {
		health.DatabaseExists = true
	} else if !errors.Is(err, os.ErrNotExist) {
		health.Error = err.Error()
		return health
	}

	var count int64
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(1) FROM workflow_records").Scan(&count); err != nil {
		health.Error = err.Error()
		return health
	}
	health.DatabaseReadable = true
	health.RecordCount = count

	var version sql.NullString
	if err := s.db.QueryRowContext(ctx, "SELECT MAX(version) FROM schema_migrations").Scan(&version); err == nil && version.Valid {
		health.SchemaVersion = version.String
	}

	return health
}
