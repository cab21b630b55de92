package publisher_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"clipflow/internal/config"
	"clipflow/internal/services"
	"clipflow/internal/services/publisher"
)

func newClient(t *testing.T, handler http.Handler) *publisher.Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := publisher.New(config.Publisher{
		APIKey:         "test-key",
		BaseURL:        server.URL,
		TimeoutSeconds: 5,
	})
	if err != nil {
		t.Fatalf("publisher.New: %v", err)
	}
	return client
}

func TestAccountsDecodesAllShapes(t *testing.T) {
	shapes := []struct {
		name string
		body any
	}{
		{"array", []map[string]any{{"accountId": "a1", "platform": "tiktok"}}},
		{"accounts", map[string]any{"accounts": []map[string]any{{"accountId": "a1", "platform": "tiktok"}}}},
		{"data", map[string]any{"data": []map[string]any{{"accountId": "a1", "platform": "tiktok"}}}},
	}
	for _, tc := range shapes {
		t.Run(tc.name, func(t *testing.T) {
			client := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/accounts" || r.URL.Query().Get("profileId") != "profile-1" {
					t.Errorf("unexpected request %s?%s", r.URL.Path, r.URL.RawQuery)
				}
				if r.Header.Get("Authorization") != "Bearer test-key" {
					t.Errorf("missing bearer token")
				}
				_ = json.NewEncoder(w).Encode(tc.body)
			}))

			accounts, err := client.Accounts(context.Background(), "profile-1")
			if err != nil {
				t.Fatalf("Accounts failed: %v", err)
			}
			if len(accounts) != 1 || accounts[0].ID != "a1" || accounts[0].Platform != "tiktok" {
				t.Fatalf("unexpected accounts: %#v", accounts)
			}
		})
	}
}

func publishFixture(t *testing.T, captured *map[string]any) *publisher.Client {
	t.Helper()
	return newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/accounts":
			_ = json.NewEncoder(w).Encode([]map[string]any{
				{"accountId": "acc-tt", "platform": "tiktok"},
				{"accountId": "acc-yt", "platform": "youtube"},
			})
		case "/posts":
			if err := json.NewDecoder(r.Body).Decode(captured); err != nil {
				t.Errorf("decode publish body: %v", err)
			}
			_ = json.NewEncoder(w).Encode(map[string]any{"id": "post-1"})
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
}

func TestPublishImmediate(t *testing.T) {
	var captured map[string]any
	client := publishFixture(t, &captured)

	postID, err := client.Publish(context.Background(), publisher.PublishRequest{
		ProfileID: "profile-1",
		MediaURL:  "http://media.test/final.mp4",
		Caption:   "caption text",
		Title:     "A Title",
		Platforms: []string{"tiktok", "youtube", "instagram"},
	})
	if err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	if postID != "post-1" {
		t.Fatalf("unexpected post id %q", postID)
	}

	if captured["publishNow"] != true {
		t.Fatalf("expected immediate publish, got %v", captured)
	}
	platforms := captured["platforms"].([]any)
	if len(platforms) != 2 {
		t.Fatalf("instagram has no account and must be skipped, got %v", platforms)
	}
	for _, raw := range platforms {
		entry := raw.(map[string]any)
		settings := entry["platformSpecificData"].(map[string]any)
		switch entry["platform"] {
		case "tiktok":
			if settings["privacy"] != "public" {
				t.Fatalf("unexpected tiktok settings: %v", settings)
			}
		case "youtube":
			if settings["short"] != true || settings["title"] != "A Title" {
				t.Fatalf("unexpected youtube settings: %v", settings)
			}
		default:
			t.Fatalf("unexpected platform %v", entry["platform"])
		}
	}
	media := captured["mediaItems"].([]any)[0].(map[string]any)
	if media["type"] != "video" || media["url"] != "http://media.test/final.mp4" {
		t.Fatalf("unexpected media item: %v", media)
	}
}

func TestPublishScheduled(t *testing.T) {
	var captured map[string]any
	client := publishFixture(t, &captured)

	at := time.Date(2026, 3, 1, 19, 0, 0, 0, time.UTC)
	if _, err := client.Publish(context.Background(), publisher.PublishRequest{
		ProfileID:  "profile-1",
		MediaURL:   "http://media.test/final.mp4",
		Platforms:  []string{"tiktok"},
		ScheduleAt: &at,
	}); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	if captured["scheduledFor"] != "2026-03-01T19:00:00Z" || captured["timezone"] != "UTC" {
		t.Fatalf("unexpected schedule payload: %v", captured)
	}
	if _, present := captured["publishNow"]; present {
		t.Fatalf("publishNow must be omitted when scheduling: %v", captured)
	}
}

func TestPublishNoConnectedAccounts(t *testing.T) {
	client := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode([]map[string]any{})
	}))

	_, err := client.Publish(context.Background(), publisher.PublishRequest{
		ProfileID: "profile-1",
		MediaURL:  "http://media.test/final.mp4",
		Platforms: []string{"tiktok"},
	})
	if !errors.Is(err, services.ErrSubmission) {
		t.Fatalf("expected ErrSubmission, got %v", err)
	}
}

func TestPublishRequiresInputs(t *testing.T) {
	client := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected")
	}))

	if _, err := client.Publish(context.Background(), publisher.PublishRequest{
		ProfileID: "profile-1",
		Platforms: []string{"tiktok"},
	}); !errors.Is(err, services.ErrSubmission) {
		t.Fatalf("expected ErrSubmission without media, got %v", err)
	}
	if _, err := client.Publish(context.Background(), publisher.PublishRequest{
		ProfileID: "profile-1",
		MediaURL:  "http://media.test/final.mp4",
	}); !errors.Is(err, services.ErrSubmission) {
		t.Fatalf("expected ErrSubmission without platforms, got %v", err)
	}
}

func TestPublishSurfacesSchedulerRejection(t *testing.T) {
	client := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/accounts":
			_ = json.NewEncoder(w).Encode([]map[string]any{{"accountId": "acc", "platform": "tiktok"}})
		case "/posts":
			w.WriteHeader(http.StatusUnprocessableEntity)
			_ = json.NewEncoder(w).Encode(map[string]any{"message": "media too long"})
		}
	}))

	_, err := client.Publish(context.Background(), publisher.PublishRequest{
		ProfileID: "profile-1",
		MediaURL:  "http://media.test/final.mp4",
		Platforms: []string{"tiktok"},
	})
	if !errors.Is(err, services.ErrSubmission) {
		t.Fatalf("expected ErrSubmission, got %v", err)
	}
}

func TestPublishNestedPostID(t *testing.T) {
	client := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/accounts":
			_ = json.NewEncoder(w).Encode([]map[string]any{{"accountId": "acc", "platform": "tiktok"}})
		case "/posts":
			_ = json.NewEncoder(w).Encode(map[string]any{"post": map[string]any{"id": "nested-9"}})
		}
	}))

	postID, err := client.Publish(context.Background(), publisher.PublishRequest{
		ProfileID: "profile-1",
		MediaURL:  "http://media.test/final.mp4",
		Platforms: []string{"tiktok"},
	})
	if err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	if postID != "nested-9" {
		t.Fatalf("unexpected post id %q", postID)
	}
}
