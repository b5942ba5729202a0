package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gosimple/slug"

	"listening-raid-system/models"
	"listening-raid-system/storage"
)

// RaidService is the engine's surface to the surrounding application: join,
// leave, progress, plus the thin sponsor create flow.
type RaidService struct {
	Raids        storage.RaidStore
	Participants storage.ParticipantStore
	Registry     *SessionRegistry
	Access       map[models.Platform]*CredentialAccessProvider
	Now          func() time.Time
	NewID        func() string
}

func NewRaidService(raids storage.RaidStore, participants storage.ParticipantStore, registry *SessionRegistry, access map[models.Platform]*CredentialAccessProvider) *RaidService {
	return &RaidService{
		Raids:        raids,
		Participants: participants,
		Registry:     registry,
		Access:       access,
		Now:          time.Now,
		NewID:        uuid.NewString,
	}
}

// JoinResult summarizes the state after a join.
type JoinResult struct {
	RaidID          string `json:"raid_id"`
	RequiredSeconds int    `json:"required_seconds"`
	ResumedSeconds  int    `json:"resumed_seconds"`
	Qualified       bool   `json:"qualified"`
	Tracking        bool   `json:"tracking"`
}

// Join enrolls a participant in an active, non-full raid and starts (or
// rebuilds) their tracking session. Rejoining is always allowed for someone
// who already holds a participant row, even once the raid is at capacity.
func (s *RaidService) Join(ctx context.Context, participantID, raidID string) (JoinResult, error) {
	raid, err := s.Raids.Get(ctx, raidID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return JoinResult{}, ErrRaidNotFound
		}
		return JoinResult{}, fmt.Errorf("load raid: %w", err)
	}

	now := s.Now().UTC()
	if raid.Status != models.RaidStatusActive || now.After(raid.ExpiresAt) {
		return JoinResult{}, ErrRaidNotActive
	}

	record, recordErr := s.Participants.GetParticipant(ctx, participantID, raidID)
	if recordErr != nil && !errors.Is(recordErr, storage.ErrNotFound) {
		return JoinResult{}, fmt.Errorf("load participant: %w", recordErr)
	}
	isRejoin := recordErr == nil

	// The reward pool is sized for ParticipantGoal payouts, so new joins cap
	// there. Existing participants may always rejoin. This check only fails
	// fast before the auth round trip; Enroll below re-checks the cap
	// atomically, so racing joins cannot overshoot it.
	if !isRejoin {
		count, err := s.Raids.CountParticipants(ctx, raidID)
		if err != nil {
			return JoinResult{}, fmt.Errorf("count participants: %w", err)
		}
		if count >= int64(raid.ParticipantGoal) {
			return JoinResult{}, ErrRaidFull
		}
	}

	provider, ok := s.Access[raid.Platform]
	if !ok {
		return JoinResult{}, fmt.Errorf("no access provider for platform %q", raid.Platform)
	}
	if _, err := provider.GetValidAccess(ctx, participantID); err != nil {
		if errors.Is(err, ErrAuthExpired) {
			return JoinResult{}, ErrUnauthenticated
		}
		return JoinResult{}, fmt.Errorf("check authorization: %w", err)
	}

	if !isRejoin {
		record = models.RaidParticipant{
			ID:            s.NewID(),
			ParticipantID: participantID,
			RaidID:        raidID,
		}
		admitted, err := s.Participants.Enroll(ctx, &record, raid.ParticipantGoal)
		if err != nil {
			return JoinResult{}, fmt.Errorf("create participant: %w", err)
		}
		if !admitted {
			return JoinResult{}, ErrRaidFull
		}
	}

	result := JoinResult{
		RaidID:          raidID,
		RequiredSeconds: raid.RequiredListenSeconds,
		Qualified:       record.Qualified,
	}

	// A qualified participant has nothing left to track; they claim instead.
	if record.Qualified {
		return result, nil
	}

	// Resume only across a process restart, signalled by a row still marked
	// listening. Anything that ended the previous session (auth expiry,
	// leave) cleared the flag, so those rejoins start the stretch over.
	resume := 0.0
	if isRejoin && record.IsListening {
		resume = record.TotalListenSeconds
	}

	premium := provider.IsPremium(ctx, participantID)
	s.Registry.Create(participantID, raidID, raid.TrackID, raid.Platform, raid.RequiredListenSeconds, premium, resume)

	result.ResumedSeconds = int(math.Floor(resume))
	result.Tracking = true
	log.Printf("[Raid] participant %s joined raid %s (resume=%.1fs, premium=%t)", participantID, raidID, resume, premium)
	return result, nil
}

// Rehydrate rebuilds tracking sessions for rows that were mid-stretch when
// the previous process stopped, so tracking resumes without waiting for the
// participant to rejoin. Called once at startup, before the poller ticks.
func (s *RaidService) Rehydrate(ctx context.Context) {
	raids, err := s.Raids.ListActive(ctx, s.Now().UTC())
	if err != nil {
		log.Printf("[Raid] rehydrate: list active raids: %v", err)
		return
	}

	restored := 0
	for _, raid := range raids {
		provider, ok := s.Access[raid.Platform]
		if !ok {
			continue
		}
		rows, err := s.Participants.ListListening(ctx, raid.ID)
		if err != nil {
			log.Printf("[Raid] rehydrate: list listeners for raid %s: %v", raid.ID, err)
			continue
		}
		for _, row := range rows {
			if _, err := provider.GetValidAccess(ctx, row.ParticipantID); err != nil {
				// Authorization lapsed during the downtime; the stretch is
				// over and they re-enter through a fresh join.
				if err := s.Participants.SetListening(ctx, row.ParticipantID, raid.ID, false); err != nil {
					log.Printf("[Raid] rehydrate: clear listening for %s/%s: %v", row.ParticipantID, raid.ID, err)
				}
				continue
			}
			premium := provider.IsPremium(ctx, row.ParticipantID)
			s.Registry.Create(row.ParticipantID, raid.ID, raid.TrackID, raid.Platform, raid.RequiredListenSeconds, premium, row.TotalListenSeconds)
			restored++
		}
	}
	if restored > 0 {
		log.Printf("🔁 [Raid] rehydrated %d tracking sessions after restart", restored)
	}
}

// Leave withdraws a participant: the session is removed before the next tick
// can observe it, and the durable row stops counting as listening.
func (s *RaidService) Leave(ctx context.Context, participantID, raidID string) error {
	s.Registry.Remove(participantID, raidID)
	if err := s.Participants.SetListening(ctx, participantID, raidID, false); err != nil {
		return fmt.Errorf("persist leave: %w", err)
	}
	log.Printf("[Raid] participant %s left raid %s", participantID, raidID)
	return nil
}

// Progress is the participant-facing view of the durable record. Listen time
// is floored to whole seconds for display.
type Progress struct {
	TotalListenSeconds int  `json:"total_listen_seconds"`
	RequiredSeconds    int  `json:"required_seconds"`
	Qualified          bool `json:"qualified"`
	Claimed            bool `json:"claimed"`
	Tracking           bool `json:"tracking"`
}

func (s *RaidService) Progress(ctx context.Context, participantID, raidID string) (Progress, error) {
	raid, err := s.Raids.Get(ctx, raidID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return Progress{}, ErrRaidNotFound
		}
		return Progress{}, fmt.Errorf("load raid: %w", err)
	}

	progress := Progress{RequiredSeconds: raid.RequiredListenSeconds}

	record, err := s.Participants.GetParticipant(ctx, participantID, raidID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return progress, nil
		}
		return Progress{}, fmt.Errorf("load participant: %w", err)
	}

	progress.TotalListenSeconds = int(math.Floor(record.TotalListenSeconds))
	progress.Qualified = record.Qualified
	progress.Claimed = record.ClaimedReward
	_, progress.Tracking = s.Registry.Get(participantID, raidID)
	return progress, nil
}

// CreateRaidInput is the sponsor flow's payload. Raid creation is owned by
// the sponsor dashboard; this is the thin surface it calls.
type CreateRaidInput struct {
	Title                 string          `json:"title"`
	TrackID               string          `json:"track_id"`
	TrackName             string          `json:"track_name"`
	ArtistName            string          `json:"artist_name"`
	Platform              models.Platform `json:"platform"`
	RequiredListenSeconds int             `json:"required_listen_seconds"`
	ParticipantGoal       int             `json:"participant_goal"`
	RewardAmount          float64         `json:"reward_amount"`
	RewardToken           string          `json:"reward_token"`
	ExpiresAt             time.Time       `json:"expires_at"`
	SponsorID             string          `json:"sponsor_id"`
}

func (s *RaidService) CreateRaid(ctx context.Context, input CreateRaidInput) (models.Raid, error) {
	if strings.TrimSpace(input.Title) == "" || input.TrackID == "" {
		return models.Raid{}, errors.New("title and track_id are required")
	}
	if input.Platform != models.PlatformSpotify && input.Platform != models.PlatformAppleMusic {
		return models.Raid{}, fmt.Errorf("unsupported platform %q", input.Platform)
	}
	if input.RequiredListenSeconds <= 0 || input.ParticipantGoal <= 0 || input.RewardAmount <= 0 {
		return models.Raid{}, errors.New("required_listen_seconds, participant_goal and reward_amount must be positive")
	}
	if !input.ExpiresAt.After(s.Now().UTC()) {
		return models.Raid{}, errors.New("expires_at must be in the future")
	}

	id := s.NewID()
	raid := models.Raid{
		ID:                    id,
		Slug:                  slug.Make(input.Title) + "-" + id[:8],
		Title:                 strings.TrimSpace(input.Title),
		TrackID:               input.TrackID,
		TrackName:             input.TrackName,
		ArtistName:            input.ArtistName,
		Platform:              input.Platform,
		RequiredListenSeconds: input.RequiredListenSeconds,
		ParticipantGoal:       input.ParticipantGoal,
		RewardAmount:          input.RewardAmount,
		RewardToken:           input.RewardToken,
		Status:                models.RaidStatusActive,
		ExpiresAt:             input.ExpiresAt.UTC(),
		SponsorID:             input.SponsorID,
	}
	if raid.RewardToken == "" {
		raid.RewardToken = "USDC"
	}

	if err := s.Raids.Create(ctx, &raid); err != nil {
		return models.Raid{}, fmt.Errorf("create raid: %w", err)
	}
	log.Printf("✅ [Raid] created raid %s (%s) goal=%d reward=%.4f %s",
		raid.ID, raid.Slug, raid.ParticipantGoal, raid.RewardAmount, raid.RewardToken)
	return raid, nil
}
