package services

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"listening-raid-system/models"
)

func TestCompletionFiresExactlyOnceUnderConcurrentQualifications(t *testing.T) {
	store := newFakeStore()
	registry := NewSessionRegistry()
	notifier := NewNotificationDispatcher(nil, store)

	var mu sync.Mutex
	uploads := 0
	uploader := func(ctx context.Context, key string, body []byte) (string, error) {
		mu.Lock()
		uploads++
		mu.Unlock()
		return "https://cdn.example.com/" + key, nil
	}
	completion := NewCompletionDetector(store, store, registry, notifier, uploader)

	seedRaid(store, "raid-1", 30, 3)
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	for _, id := range []string{"alice", "bob", "carol"} {
		store.putParticipant(models.RaidParticipant{
			ID: "row-" + id, ParticipantID: id, RaidID: "raid-1",
			Qualified: true, QualifiedAt: &now, TotalListenSeconds: 31,
		})
	}

	// Three qualification events race once the third participant qualifies.
	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			completion.OnQualified(context.Background(), "raid-1")
		}()
	}
	wg.Wait()

	raid := store.raid("raid-1")
	if raid.Status != models.RaidStatusCompleted {
		t.Fatalf("expected completed raid, got %q", raid.Status)
	}
	if uploads != 1 {
		t.Fatalf("completion side effect fired %d times, want exactly once", uploads)
	}
	if raid.ReportURL == "" {
		t.Fatal("expected report URL recorded on the raid")
	}
}

func TestCompletionWaitsForGoal(t *testing.T) {
	store := newFakeStore()
	completion := NewCompletionDetector(store, store, NewSessionRegistry(), NewNotificationDispatcher(nil, store), nil)

	seedRaid(store, "raid-1", 30, 3)
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	store.putParticipant(models.RaidParticipant{
		ID: "row-1", ParticipantID: "alice", RaidID: "raid-1",
		Qualified: true, QualifiedAt: &now,
	})

	completion.OnQualified(context.Background(), "raid-1")

	if raid := store.raid("raid-1"); raid.Status != models.RaidStatusActive {
		t.Fatalf("raid completed below goal: %q", raid.Status)
	}
}

func TestCompletionClearsRemainingSessions(t *testing.T) {
	store := newFakeStore()
	registry := NewSessionRegistry()
	completion := NewCompletionDetector(store, store, registry, NewNotificationDispatcher(nil, store), nil)

	seedRaid(store, "raid-1", 30, 1)
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	store.putParticipant(models.RaidParticipant{
		ID: "row-1", ParticipantID: "alice", RaidID: "raid-1",
		Qualified: true, QualifiedAt: &now,
	})
	registry.Create("bob", "raid-1", "track-1", models.PlatformSpotify, 30, false, 0)
	registry.Create("bob", "raid-2", "track-2", models.PlatformSpotify, 30, false, 0)

	completion.OnQualified(context.Background(), "raid-1")

	if _, ok := registry.Get("bob", "raid-1"); ok {
		t.Fatal("expected raid-1 sessions cleared on completion")
	}
	if _, ok := registry.Get("bob", "raid-2"); !ok {
		t.Fatal("other raids' sessions must survive completion")
	}
}

func TestExpireOverdueFlipsOnlyOverdueActives(t *testing.T) {
	store := newFakeStore()
	registry := NewSessionRegistry()
	completion := NewCompletionDetector(store, store, registry, NewNotificationDispatcher(nil, store), nil)
	completion.Now = func() time.Time { return time.Date(2026, 5, 2, 0, 0, 0, 0, time.UTC) }

	seedRaid(store, "raid-overdue", 30, 3)
	overdue := store.raid("raid-overdue")
	overdue.ExpiresAt = time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	store.putRaid(overdue)

	seedRaid(store, "raid-live", 30, 3)
	registry.Create("alice", "raid-overdue", "track-1", models.PlatformSpotify, 30, false, 0)

	completion.ExpireOverdue(context.Background())

	if raid := store.raid("raid-overdue"); raid.Status != models.RaidStatusExpired {
		t.Fatalf("expected expired, got %q", raid.Status)
	}
	if raid := store.raid("raid-live"); raid.Status != models.RaidStatusActive {
		t.Fatalf("live raid flipped: %q", raid.Status)
	}
	if registry.Len() != 0 {
		t.Fatal("expected expired raid's sessions cleared")
	}
}

func TestCompletionReportContents(t *testing.T) {
	store := newFakeStore()
	var captured []byte
	uploader := func(ctx context.Context, key string, body []byte) (string, error) {
		captured = body
		return "https://cdn.example.com/" + key, nil
	}
	completion := NewCompletionDetector(store, store, NewSessionRegistry(), NewNotificationDispatcher(nil, store), uploader)
	completion.Now = func() time.Time { return time.Date(2026, 5, 1, 13, 0, 0, 0, time.UTC) }

	seedRaid(store, "raid-1", 30, 1)
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	store.putParticipant(models.RaidParticipant{
		ID: "row-1", ParticipantID: "alice", RaidID: "raid-1",
		Qualified: true, QualifiedAt: &now, TotalListenSeconds: 31.7,
	})

	completion.OnQualified(context.Background(), "raid-1")

	var report map[string]interface{}
	if err := json.Unmarshal(captured, &report); err != nil {
		t.Fatalf("report is not valid JSON: %v", err)
	}
	if report["raid_id"] != "raid-1" || report["goal"] != float64(1) {
		t.Fatalf("unexpected report: %v", report)
	}
	qualified, ok := report["qualified"].([]interface{})
	if !ok || len(qualified) != 1 {
		t.Fatalf("expected one qualified entry, got %v", report["qualified"])
	}
}
