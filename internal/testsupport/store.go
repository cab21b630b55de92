package testsupport

import (
	"context"
	"testing"

	"clipflow/internal/articles"
	"clipflow/internal/config"
	"clipflow/internal/records"
)

// MustOpenStore opens a records.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *records.Store {
	t.Helper()

	store, err := records.Open(cfg)
	if err != nil {
		t.Fatalf("records.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// MustOpenArticles wires an article store over the record database.
func MustOpenArticles(t testing.TB, store *records.Store) *articles.Store {
	t.Helper()

	articleStore, err := articles.NewStore(store.DB())
	if err != nil {
		t.Fatalf("articles.NewStore: %v", err)
	}
	return articleStore
}

// NewRecord creates a pending workflow record for tests.
func NewRecord(t testing.TB, store *records.Store, family string) *records.Record {
	t.Helper()

	record, err := store.Create(context.Background(), records.NewRecordInput{
		Family: family,
		Script: "a script long enough to render",
		Title:  "Test Title",
	})
	if err != nil {
		t.Fatalf("store.Create: %v", err)
	}
	return record
}

// NewArticle inserts an unprocessed article for tests.
func NewArticle(t testing.TB, store *articles.Store, family, title, body string) *articles.Article {
	t.Helper()

	article, err := store.Add(context.Background(), articles.Article{
		Family: family,
		Title:  title,
		Body:   body,
	})
	if err != nil {
		t.Fatalf("articles.Add: %v", err)
	}
	return article
}
