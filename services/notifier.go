package services

import (
	"context"
	"fmt"
	"log"
	"time"

	"listening-raid-system/models"
	"listening-raid-system/storage"
)

// NotificationSender delivers one message to a participant's chat channel,
// editing the prior message when a reference is supplied and still valid.
// Returns the reference of the message now showing the content.
type NotificationSender interface {
	SendOrUpdate(ctx context.Context, participantID, content, priorRef string) (string, error)
}

// NotificationDispatcher keeps one persistent progress message per
// participant per raid. Everything here is best-effort: a delivery failure
// is logged and never blocks or reverts engine state.
type NotificationDispatcher struct {
	Sender       NotificationSender
	Participants storage.ParticipantStore
	Now          func() time.Time
}

func NewNotificationDispatcher(sender NotificationSender, participants storage.ParticipantStore) *NotificationDispatcher {
	return &NotificationDispatcher{Sender: sender, Participants: participants, Now: time.Now}
}

func (d *NotificationDispatcher) NotifyProgress(ctx context.Context, participantID, raidID string, listenedSeconds, requiredSeconds int) {
	content := fmt.Sprintf("🎧 Raid progress: %ds / %ds — keep it playing!", listenedSeconds, requiredSeconds)
	d.dispatch(ctx, participantID, raidID, content)
}

func (d *NotificationDispatcher) NotifyReset(ctx context.Context, participantID, raidID string, requiredSeconds int) {
	content := fmt.Sprintf("⏸️ Playback stopped — progress reset. Play the track for %ds straight to qualify.", requiredSeconds)
	d.dispatch(ctx, participantID, raidID, content)
}

func (d *NotificationDispatcher) NotifyQualified(ctx context.Context, participantID, raidID string) {
	d.dispatch(ctx, participantID, raidID, "🏆 You qualified! Claim your reward from the raid page.")
}

func (d *NotificationDispatcher) NotifyReauthRequired(ctx context.Context, participantID, raidID string, platform models.Platform) {
	content := fmt.Sprintf("🔑 Your %s link expired. Reconnect your account and rejoin the raid to keep listening.", platform)
	d.dispatch(ctx, participantID, raidID, content)
}

func (d *NotificationDispatcher) NotifyRaidCompleted(ctx context.Context, raid models.Raid, qualified []models.RaidParticipant) {
	content := fmt.Sprintf("🎉 Raid %q hit its goal of %d listeners! Rewards are claimable now.", raid.Title, raid.ParticipantGoal)
	for _, p := range qualified {
		d.dispatch(ctx, p.ParticipantID, raid.ID, content)
	}
}

func (d *NotificationDispatcher) dispatch(ctx context.Context, participantID, raidID, content string) {
	if d.Sender == nil {
		return
	}

	priorRef := ""
	record, err := d.Participants.GetParticipant(ctx, participantID, raidID)
	if err == nil {
		priorRef = record.LastMessageRef
	}

	ref, err := d.Sender.SendOrUpdate(ctx, participantID, content, priorRef)
	if err != nil {
		log.Printf("[Notify] delivery failed for %s/%s: %v", participantID, raidID, err)
		return
	}
	if ref == priorRef {
		return
	}
	if err := d.Participants.SaveNotificationRef(ctx, participantID, raidID, ref, d.Now().UTC()); err != nil {
		log.Printf("[Notify] failed to store message ref for %s/%s: %v", participantID, raidID, err)
	}
}
