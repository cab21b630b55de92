package enhancer_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"clipflow/internal/config"
	"clipflow/internal/services"
	"clipflow/internal/services/enhancer"
)

func newClient(t *testing.T, handler http.Handler) *enhancer.Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := enhancer.New(config.Enhancer{
		APIKey:         "test-key",
		BaseURL:        server.URL,
		TimeoutSeconds: 5,
		Template:       "Hormozi 2",
		Language:       "en",
	})
	if err != nil {
		t.Fatalf("enhancer.New: %v", err)
	}
	return client
}

func TestSubmitCreatesProject(t *testing.T) {
	var captured map[string]any
	client := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/projects" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("X-Api-Key") != "test-key" {
			t.Errorf("missing api key header")
		}
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Errorf("decode request: %v", err)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"id": "proj-1"})
	}))

	projectID, err := client.Submit(context.Background(), enhancer.SubmitRequest{
		Title:      "A Title",
		MediaURL:   "http://media.test/stage1.mp4",
		WebhookURL: "http://callback.test/webhooks/enhancer/social",
		Broll:      enhancer.BrollSettings{MagicBrolls: true, BrollsPercentage: 50, MagicZooms: true},
	})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if projectID != "proj-1" {
		t.Fatalf("unexpected project id %q", projectID)
	}

	if captured["templateName"] != "Hormozi 2" || captured["language"] != "en" {
		t.Fatalf("unexpected template payload: %v", captured)
	}
	if captured["videoUrl"] != "http://media.test/stage1.mp4" {
		t.Fatalf("unexpected video url: %v", captured["videoUrl"])
	}
	if captured["magicBrolls"] != true || captured["magicBrollsPercentage"].(float64) != 50 {
		t.Fatalf("unexpected b-roll payload: %v", captured)
	}
}

func TestSubmitOmitsPercentageWithoutBrolls(t *testing.T) {
	var captured map[string]any
	client := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&captured)
		_ = json.NewEncoder(w).Encode(map[string]any{"id": "proj-2"})
	}))

	if _, err := client.Submit(context.Background(), enhancer.SubmitRequest{
		Title:    "A Title",
		MediaURL: "http://media.test/stage1.mp4",
	}); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if _, present := captured["magicBrollsPercentage"]; present {
		t.Fatalf("percentage must be omitted when b-roll is off: %v", captured)
	}
}

func TestSubmitRequiresMediaURL(t *testing.T) {
	client := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected without media url")
	}))

	_, err := client.Submit(context.Background(), enhancer.SubmitRequest{Title: "x"})
	if !errors.Is(err, services.ErrSubmission) {
		t.Fatalf("expected ErrSubmission, got %v", err)
	}
}

func TestSubmitWithoutProjectReference(t *testing.T) {
	client := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"message": "quota exceeded"})
	}))

	_, err := client.Submit(context.Background(), enhancer.SubmitRequest{
		Title:    "x",
		MediaURL: "http://media.test/a.mp4",
	})
	if !errors.Is(err, services.ErrSubmission) {
		t.Fatalf("expected ErrSubmission when no project id returned, got %v", err)
	}
}

func TestStatusComposedWithoutDownloadURL(t *testing.T) {
	client := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/projects/proj-1" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"status": "completed"})
	}))

	status, err := client.Status(context.Background(), "proj-1")
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if !status.Composed() {
		t.Fatalf("expected composed status, got %#v", status)
	}
	if status.Rendered() {
		t.Fatal("composition without a download url must not count as rendered")
	}
}

func TestStatusRenderedResolvesDownloadURLAliases(t *testing.T) {
	cases := []struct {
		name string
		body map[string]any
	}{
		{"downloadUrl", map[string]any{"status": "done", "downloadUrl": "http://cdn.test/final.mp4"}},
		{"media_url", map[string]any{"status": "ready", "media_url": "http://cdn.test/final.mp4"}},
		{"download_url", map[string]any{"status": "completed", "download_url": "http://cdn.test/final.mp4"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			client := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				_ = json.NewEncoder(w).Encode(tc.body)
			}))

			status, err := client.Status(context.Background(), "proj-1")
			if err != nil {
				t.Fatalf("Status failed: %v", err)
			}
			if !status.Rendered() || status.DownloadURL != "http://cdn.test/final.mp4" {
				t.Fatalf("expected rendered status with url, got %#v", status)
			}
		})
	}
}

func TestStatusFailed(t *testing.T) {
	client := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"status": "error"})
	}))

	status, err := client.Status(context.Background(), "proj-1")
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if !status.Failed() || status.Composed() {
		t.Fatalf("expected failed status, got %#v", status)
	}
}

func TestExportTriggersRender(t *testing.T) {
	var hit bool
	client := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/projects/proj-1/export" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		hit = true
		w.WriteHeader(http.StatusOK)
	}))

	if err := client.Export(context.Background(), "proj-1"); err != nil {
		t.Fatalf("Export failed: %v", err)
	}
	if !hit {
		t.Fatal("expected export request")
	}
}

func TestExportSurfacesProviderRejection(t *testing.T) {
	client := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_ = json.NewEncoder(w).Encode(map[string]any{"message": "already exporting"})
	}))

	err := client.Export(context.Background(), "proj-1")
	if !errors.Is(err, services.ErrSubmission) {
		t.Fatalf("expected ErrSubmission, got %v", err)
	}
}
