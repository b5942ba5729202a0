package services

import (
	"context"
	"testing"

	"listening-raid-system/models"
)

func TestDispatchKeepsSinglePersistentMessage(t *testing.T) {
	store := newFakeStore()
	sender := &fakeSender{}
	dispatcher := NewNotificationDispatcher(sender, store)

	store.putParticipant(models.RaidParticipant{ID: "row-1", ParticipantID: "alice", RaidID: "raid-1"})

	dispatcher.NotifyProgress(context.Background(), "alice", "raid-1", 10, 30)
	first := store.participant("alice", "raid-1").LastMessageRef
	if first == "" {
		t.Fatal("expected message ref stored after first send")
	}

	// Second notification edits the same message instead of sending fresh.
	dispatcher.NotifyProgress(context.Background(), "alice", "raid-1", 20, 30)
	if sender.refs != 1 {
		t.Fatalf("expected one fresh message, got %d", sender.refs)
	}
	if ref := store.participant("alice", "raid-1").LastMessageRef; ref != first {
		t.Fatalf("message ref changed on edit: %q -> %q", first, ref)
	}
	if len(sender.sent) != 2 {
		t.Fatalf("expected 2 deliveries, got %d", len(sender.sent))
	}
}

func TestDispatchFailureNeverMutatesState(t *testing.T) {
	store := newFakeStore()
	sender := &fakeSender{fail: true}
	dispatcher := NewNotificationDispatcher(sender, store)

	store.putParticipant(models.RaidParticipant{ID: "row-1", ParticipantID: "alice", RaidID: "raid-1"})

	// Must not panic, error, or store a ref.
	dispatcher.NotifyQualified(context.Background(), "alice", "raid-1")

	if ref := store.participant("alice", "raid-1").LastMessageRef; ref != "" {
		t.Fatalf("failed delivery stored a ref: %q", ref)
	}
}

func TestNilSenderIsSilentlySkipped(t *testing.T) {
	store := newFakeStore()
	dispatcher := NewNotificationDispatcher(nil, store)
	dispatcher.NotifyReauthRequired(context.Background(), "alice", "raid-1", models.PlatformSpotify)
}
