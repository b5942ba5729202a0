package services

import (
	"context"
	"errors"
	"log"
	"math"
	"time"

	"listening-raid-system/models"
	"listening-raid-system/storage"
)

// Tracker advances one tracking session per evaluation: it asks the platform
// verifier for the current playback state, applies the continuity rule, and
// fires qualification. A session qualifies on one continuous stretch of
// listening; any observed interruption resets the accumulator to zero.
type Tracker struct {
	Registry     *SessionRegistry
	Participants storage.ParticipantStore
	Verifiers    map[models.Platform]PlaybackVerifier
	Completion   *CompletionDetector
	Notifier     *NotificationDispatcher
	Now          func() time.Time
}

func NewTracker(registry *SessionRegistry, participants storage.ParticipantStore, verifiers map[models.Platform]PlaybackVerifier, completion *CompletionDetector, notifier *NotificationDispatcher) *Tracker {
	return &Tracker{
		Registry:     registry,
		Participants: participants,
		Verifiers:    verifiers,
		Completion:   completion,
		Notifier:     notifier,
		Now:          time.Now,
	}
}

// Evaluate runs one tick of the state machine for a single session. Failures
// never propagate to the caller; a broken session is logged and the tick
// moves on.
func (t *Tracker) Evaluate(ctx context.Context, session *TrackingSession) {
	session.mu.Lock()
	if session.removed {
		session.mu.Unlock()
		return
	}
	trackID := session.TrackID
	platform := session.Platform
	session.mu.Unlock()

	verifier, ok := t.Verifiers[platform]
	if !ok {
		log.Printf("[Tracker] no verifier registered for platform %q, dropping session %s/%s",
			platform, session.ParticipantID, session.RaidID)
		t.Registry.Remove(session.ParticipantID, session.RaidID)
		return
	}

	state, err := verifier.CheckPlayback(ctx, session.ParticipantID, trackID)
	switch {
	case err == nil:
		// fallthrough to transition below
	case errors.Is(err, ErrAuthExpired):
		t.handleAuthExpired(ctx, session)
		return
	case errors.Is(err, ErrRateLimited), errors.Is(err, ErrPlatformUnavailable):
		// Transient: no state change, Δt keeps accruing against the
		// session's own clock and is credited on the next good check.
		log.Printf("[Tracker] transient verifier error for %s/%s: %v",
			session.ParticipantID, session.RaidID, err)
		return
	default:
		log.Printf("[Tracker] verifier error for %s/%s: %v", session.ParticipantID, session.RaidID, err)
		return
	}

	if state.IsPlaying {
		t.handlePlaying(ctx, session)
	} else {
		t.handleNotPlaying(ctx, session)
	}
}

func (t *Tracker) handlePlaying(ctx context.Context, session *TrackingSession) {
	now := t.Now().UTC()

	session.mu.Lock()
	if session.removed {
		session.mu.Unlock()
		return
	}
	delta := now.Sub(session.lastEvaluatedAt).Seconds()
	if delta < 0 {
		delta = 0
	}
	session.accumulatedListen += delta
	session.isListening = true
	session.lastEvaluatedAt = now
	total := session.accumulatedListen
	required := float64(session.RequiredSeconds)
	session.mu.Unlock()

	if total >= required {
		t.qualify(ctx, session, now, total)
		return
	}

	if err := t.Participants.UpdateProgress(ctx, session.ParticipantID, session.RaidID, total, now); err != nil {
		log.Printf("[Tracker] failed to persist progress for %s/%s: %v",
			session.ParticipantID, session.RaidID, err)
		return
	}
	t.Notifier.NotifyProgress(ctx, session.ParticipantID, session.RaidID, int(math.Floor(total)), session.RequiredSeconds)
}

func (t *Tracker) handleNotPlaying(ctx context.Context, session *TrackingSession) {
	now := t.Now().UTC()

	session.mu.Lock()
	if session.removed {
		session.mu.Unlock()
		return
	}
	wasListening := session.isListening
	session.accumulatedListen = 0
	session.isListening = false
	session.lastEvaluatedAt = now
	session.mu.Unlock()

	if !wasListening {
		return
	}

	// One continuous stretch is required, so an interruption discards all
	// accumulated time, not just the gap.
	if err := t.Participants.ResetProgress(ctx, session.ParticipantID, session.RaidID, now); err != nil {
		log.Printf("[Tracker] failed to persist reset for %s/%s: %v",
			session.ParticipantID, session.RaidID, err)
		return
	}
	t.Notifier.NotifyReset(ctx, session.ParticipantID, session.RaidID, session.RequiredSeconds)
}

func (t *Tracker) qualify(ctx context.Context, session *TrackingSession, at time.Time, total float64) {
	flipped, err := t.Participants.MarkQualified(ctx, session.ParticipantID, session.RaidID, at, total)
	if err != nil {
		// Leave the session in place; the accumulator already crossed the
		// threshold so the next tick retries the same guarded update.
		log.Printf("[Tracker] failed to persist qualification for %s/%s: %v",
			session.ParticipantID, session.RaidID, err)
		return
	}

	t.Registry.Remove(session.ParticipantID, session.RaidID)

	if !flipped {
		// Already qualified on a previous run; nothing further to fire.
		return
	}

	log.Printf("✅ [Tracker] participant %s qualified in raid %s (%.1fs listened)",
		session.ParticipantID, session.RaidID, total)
	t.Notifier.NotifyQualified(ctx, session.ParticipantID, session.RaidID)
	t.Completion.OnQualified(ctx, session.RaidID)
}

func (t *Tracker) handleAuthExpired(ctx context.Context, session *TrackingSession) {
	t.Registry.Remove(session.ParticipantID, session.RaidID)

	if err := t.Participants.SetListening(ctx, session.ParticipantID, session.RaidID, false); err != nil {
		log.Printf("[Tracker] failed to persist auth expiry for %s/%s: %v",
			session.ParticipantID, session.RaidID, err)
	}

	log.Printf("[Tracker] authorization expired for %s/%s, tracking stopped",
		session.ParticipantID, session.RaidID)
	t.Notifier.NotifyReauthRequired(ctx, session.ParticipantID, session.RaidID, session.Platform)
}
