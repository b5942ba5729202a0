package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"listening-raid-system/models"
	"listening-raid-system/storage"
)

// ReportUploader pushes a completion report object and returns its public
// URL. Backed by R2 in production; nil disables report uploads.
type ReportUploader func(ctx context.Context, key string, body []byte) (string, error)

// CompletionDetector owns the raid's one-way terminal transitions. Goal
// reached and expiry are mutually exclusive: both go through the same
// guarded status update, so whichever wins the conditional write fires its
// side effects exactly once.
type CompletionDetector struct {
	Raids        storage.RaidStore
	Participants storage.ParticipantStore
	Registry     *SessionRegistry
	Notifier     *NotificationDispatcher
	Upload       ReportUploader
	Now          func() time.Time
}

func NewCompletionDetector(raids storage.RaidStore, participants storage.ParticipantStore, registry *SessionRegistry, notifier *NotificationDispatcher, upload ReportUploader) *CompletionDetector {
	return &CompletionDetector{
		Raids:        raids,
		Participants: participants,
		Registry:     registry,
		Notifier:     notifier,
		Upload:       upload,
		Now:          time.Now,
	}
}

// OnQualified re-counts qualified participants after a qualification event
// and completes the raid when the goal is reached.
func (d *CompletionDetector) OnQualified(ctx context.Context, raidID string) {
	raid, err := d.Raids.Get(ctx, raidID)
	if err != nil {
		log.Printf("[Completion] failed to load raid %s: %v", raidID, err)
		return
	}
	if raid.Status != models.RaidStatusActive {
		return
	}

	count, err := d.Raids.CountQualified(ctx, raidID)
	if err != nil {
		log.Printf("[Completion] failed to count qualified for raid %s: %v", raidID, err)
		return
	}
	if count < int64(raid.ParticipantGoal) {
		return
	}

	flipped, err := d.Raids.TransitionStatus(ctx, raidID, models.RaidStatusActive, models.RaidStatusCompleted)
	if err != nil {
		log.Printf("[Completion] failed to complete raid %s: %v", raidID, err)
		return
	}
	if !flipped {
		// A concurrent qualification event beat us to the transition.
		return
	}

	log.Printf("🎉 [Completion] raid %s completed with %d qualified listeners", raidID, count)
	d.Registry.RemoveForRaid(raidID)

	qualified, err := d.Participants.ListQualified(ctx, raidID)
	if err != nil {
		log.Printf("[Completion] failed to list qualified for raid %s: %v", raidID, err)
		qualified = nil
	}
	d.Notifier.NotifyRaidCompleted(ctx, raid, qualified)
	d.uploadReport(ctx, raid, qualified)
}

// ExpireOverdue flips raids past their deadline to expired. Invoked from the
// maintenance scheduler.
func (d *CompletionDetector) ExpireOverdue(ctx context.Context) {
	now := d.Now().UTC()
	raids, err := d.Raids.ListExpired(ctx, now)
	if err != nil {
		log.Printf("[Completion] failed to list overdue raids: %v", err)
		return
	}

	for _, raid := range raids {
		flipped, err := d.Raids.TransitionStatus(ctx, raid.ID, models.RaidStatusActive, models.RaidStatusExpired)
		if err != nil {
			log.Printf("[Completion] failed to expire raid %s: %v", raid.ID, err)
			continue
		}
		if !flipped {
			continue
		}
		log.Printf("[Completion] raid %s expired (deadline %s)", raid.ID, raid.ExpiresAt.Format(time.RFC3339))
		d.Registry.RemoveForRaid(raid.ID)
	}
}

type completionReport struct {
	RaidID      string    `json:"raid_id"`
	Title       string    `json:"title"`
	TrackID     string    `json:"track_id"`
	Platform    string    `json:"platform"`
	CompletedAt time.Time `json:"completed_at"`
	Goal        int       `json:"goal"`
	Qualified   []struct {
		ParticipantID string     `json:"participant_id"`
		QualifiedAt   *time.Time `json:"qualified_at"`
		ListenSeconds int        `json:"listen_seconds"`
	} `json:"qualified"`
}

func (d *CompletionDetector) uploadReport(ctx context.Context, raid models.Raid, qualified []models.RaidParticipant) {
	if d.Upload == nil {
		return
	}

	report := completionReport{
		RaidID:      raid.ID,
		Title:       raid.Title,
		TrackID:     raid.TrackID,
		Platform:    string(raid.Platform),
		CompletedAt: d.Now().UTC(),
		Goal:        raid.ParticipantGoal,
	}
	for _, p := range qualified {
		report.Qualified = append(report.Qualified, struct {
			ParticipantID string     `json:"participant_id"`
			QualifiedAt   *time.Time `json:"qualified_at"`
			ListenSeconds int        `json:"listen_seconds"`
		}{p.ParticipantID, p.QualifiedAt, int(p.TotalListenSeconds)})
	}

	body, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		log.Printf("[Completion] failed to marshal report for raid %s: %v", raid.ID, err)
		return
	}

	key := fmt.Sprintf("reports/%s/%s.json", raid.Slug, raid.ID)
	url, err := d.Upload(ctx, key, body)
	if err != nil {
		log.Printf("[Completion] failed to upload report for raid %s: %v", raid.ID, err)
		return
	}
	if err := d.Raids.SetReportURL(ctx, raid.ID, url); err != nil {
		log.Printf("[Completion] failed to store report URL for raid %s: %v", raid.ID, err)
	}
}
