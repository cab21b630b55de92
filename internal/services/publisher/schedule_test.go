package publisher_test

import (
	"testing"
	"time"

	"clipflow/internal/services/publisher"
)

func TestScheduleTime(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	at, err := publisher.ScheduleTime("immediate", now)
	if err != nil || at != nil {
		t.Fatalf("immediate should resolve to nil, got %v %v", at, err)
	}
	at, err = publisher.ScheduleTime("", now)
	if err != nil || at != nil {
		t.Fatalf("empty mode should resolve to nil, got %v %v", at, err)
	}

	at, err = publisher.ScheduleTime("2h", now)
	if err != nil {
		t.Fatalf("ScheduleTime failed: %v", err)
	}
	if !at.Equal(now.Add(2 * time.Hour)) {
		t.Fatalf("unexpected 2h offset %v", at)
	}

	if _, err := publisher.ScheduleTime("tomorrow", now); err == nil {
		t.Fatal("expected error for unknown mode")
	}
}

func TestScheduleTimeOptimal(t *testing.T) {
	morning := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	at, err := publisher.ScheduleTime("optimal", morning)
	if err != nil {
		t.Fatalf("ScheduleTime failed: %v", err)
	}
	want := time.Date(2026, 3, 1, 19, 0, 0, 0, time.UTC)
	if !at.Equal(want) {
		t.Fatalf("expected same-day 19:00, got %v", at)
	}

	evening := time.Date(2026, 3, 1, 20, 0, 0, 0, time.UTC)
	at, err = publisher.ScheduleTime("optimal", evening)
	if err != nil {
		t.Fatalf("ScheduleTime failed: %v", err)
	}
	want = time.Date(2026, 3, 2, 19, 0, 0, 0, time.UTC)
	if !at.Equal(want) {
		t.Fatalf("expected next-day 19:00, got %v", at)
	}
}
