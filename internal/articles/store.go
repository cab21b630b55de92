package articles

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"clipflow/internal/services"
)

// Article is a feed item eligible to seed a content workflow.
type Article struct {
	ID              string
	Family          string
	Title           string
	Body            string
	SourceURL       string
	PublishedAt     *time.Time
	Processed       bool
	ProcessedResult string
	ClaimedAt       *time.Time
	CreatedAt       time.Time
}

// Store manages article persistence. It shares the workflow record database.
type Store struct {
	db *sql.DB
}

// NewStore wires an article store over an existing database connection.
func NewStore(db *sql.DB) (*Store, error) {
	store := &Store{db: db}
	if err := store.ensureSchema(context.Background()); err != nil {
		return nil, err
	}
	return store, nil
}

func (s *Store) ensureSchema(ctx context.Context) error {
	const schema = `CREATE TABLE IF NOT EXISTS articles (
        id TEXT PRIMARY KEY,
        family TEXT NOT NULL,
        title TEXT,
        body TEXT,
        source_url TEXT,
        published_at TEXT,
        processed INTEGER NOT NULL DEFAULT 0,
        processed_result TEXT,
        claimed_at TEXT,
        created_at TEXT NOT NULL
    );
    CREATE INDEX IF NOT EXISTS idx_articles_family_processed ON articles (family, processed);`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("ensure articles schema: %w", err)
	}
	return nil
}

// Add inserts a new unprocessed article.
func (s *Store) Add(ctx context.Context, article Article) (*Article, error) {
	id := strings.TrimSpace(article.ID)
	if id == "" {
		id = uuid.NewString()
	}
	if strings.TrimSpace(article.Family) == "" {
		return nil, errors.New("add article: family is required")
	}

	now := time.Now().UTC()
	var published any
	if article.PublishedAt != nil {
		published = article.PublishedAt.UTC().Format(time.RFC3339Nano)
	}

	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO articles (id, family, title, body, source_url, published_at, processed, created_at)
         VALUES (?, ?, ?, ?, ?, ?, 0, ?)`,
		id,
		article.Family,
		article.Title,
		article.Body,
		article.SourceURL,
		published,
		now.Format(time.RFC3339Nano),
	)
	if err != nil {
		return nil, fmt.Errorf("insert article: %w", err)
	}
	return s.GetByID(ctx, id)
}

// GetByID fetches a single article.
func (s *Store) GetByID(ctx context.Context, id string) (*Article, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT id, family, title, body, source_url, published_at, processed, processed_result, claimed_at, created_at
         FROM articles WHERE id = ?`,
		id,
	)
	article, err := scanArticle(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: article %s", services.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get article: %w", err)
	}
	return article, nil
}

// ClaimNext atomically claims the newest unprocessed article for the family.
// The claim is a conditional UPDATE inside a transaction so two concurrent
// workflow starts can never pick the same article. Returns ErrNoContent when
// nothing is available.
func (s *Store) ClaimNext(ctx context.Context, family string) (*Article, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin claim tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	row := tx.QueryRowContext(
		ctx,
		`SELECT id FROM articles
         WHERE family = ? AND processed = 0 AND claimed_at IS NULL
         ORDER BY COALESCE(published_at, created_at) DESC
         LIMIT 1`,
		family,
	)
	var id string
	if err := row.Scan(&id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, services.Wrap(services.ErrNoContent, "claim", "select", "no unprocessed articles for "+family, nil)
		}
		return nil, fmt.Errorf("select claimable article: %w", err)
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := tx.ExecContext(
		ctx,
		`UPDATE articles SET claimed_at = ? WHERE id = ? AND claimed_at IS NULL`,
		now, id,
	)
	if err != nil {
		return nil, fmt.Errorf("claim article: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("claim article: %w", err)
	}
	if affected != 1 {
		return nil, services.Wrap(services.ErrNoContent, "claim", "update", "article claimed concurrently", nil)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit claim: %w", err)
	}

	return s.GetByID(ctx, id)
}

// MarkProcessed records the workflow outcome for a claimed article.
func (s *Store) MarkProcessed(ctx context.Context, id, result string) error {
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE articles SET processed = 1, processed_result = ? WHERE id = ?`,
		result, id,
	)
	if err != nil {
		return fmt.Errorf("mark article processed: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark article processed: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: article %s", services.ErrNotFound, id)
	}
	return nil
}

// ReleaseClaim clears a claim so the article becomes eligible again, used when
// a workflow start fails before the record is created.
func (s *Store) ReleaseClaim(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(
		ctx,
		`UPDATE articles SET claimed_at = NULL WHERE id = ? AND processed = 0`,
		id,
	); err != nil {
		return fmt.Errorf("release article claim: %w", err)
	}
	return nil
}

func scanArticle(scanner interface{ Scan(dest ...any) error }) (*Article, error) {
	var (
		id           string
		family       string
		title        sql.NullString
		body         sql.NullString
		sourceURL    sql.NullString
		publishedRaw sql.NullString
		processed    int64
		result       sql.NullString
		claimedRaw   sql.NullString
		createdRaw   string
	)
	if err := scanner.Scan(&id, &family, &title, &body, &sourceURL, &publishedRaw, &processed, &result, &claimedRaw, &createdRaw); err != nil {
		return nil, err
	}

	article := &Article{
		ID:              id,
		Family:          family,
		Title:           title.String,
		Body:            body.String,
		SourceURL:       sourceURL.String,
		Processed:       processed != 0,
		ProcessedResult: result.String,
	}
	article.PublishedAt = parseTimePtr(publishedRaw)
	article.ClaimedAt = parseTimePtr(claimedRaw)
	if created, err := time.Parse(time.RFC3339Nano, createdRaw); err == nil {
		article.CreatedAt = created.UTC()
	}
	return article, nil
}

func parseTimePtr(value sql.NullString) *time.Time {
	if !value.Valid || strings.TrimSpace(value.String) == "" {
		return nil
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339} {
		if parsed, err := time.Parse(layout, value.String); err == nil {
			utc := parsed.UTC()
			return &utc
		}
	}
	return nil
}
