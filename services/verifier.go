package services

import (
	"context"
	"errors"
	"time"
)

// Verifier failure classes. AuthExpired is terminal for a session; the other
// two are transient and simply skip the evaluation they occurred in.
var (
	ErrAuthExpired         = errors.New("platform authorization expired")
	ErrRateLimited         = errors.New("platform rate limited")
	ErrPlatformUnavailable = errors.New("platform unavailable")
)

// Caller errors surfaced by the engine API.
var (
	ErrRaidNotFound      = errors.New("raid not found")
	ErrRaidNotActive     = errors.New("raid is not active")
	ErrRaidFull          = errors.New("raid is full")
	ErrUnauthenticated   = errors.New("participant has no valid platform authorization")
	ErrNotQualified      = errors.New("participant has not qualified")
	ErrAlreadyClaimed    = errors.New("reward already claimed")
	ErrSettlementPending = errors.New("claim recorded, settlement pending")
)

// PlaybackState is one observation of a participant's player.
type PlaybackState struct {
	IsPlaying  bool
	PositionMs int
	ObservedAt time.Time
	DeviceRef  string
}

// PlaybackVerifier answers "is this participant currently playing this track"
// against one streaming platform. Implementations own their authorization
// lookup and must classify failures into the sentinel errors above.
type PlaybackVerifier interface {
	CheckPlayback(ctx context.Context, participantID, trackID string) (PlaybackState, error)
}

// AccessProvider resolves a participant's platform access token.
// A missing or expired credential is reported as ErrAuthExpired so callers
// treat it exactly like a verifier auth failure.
type AccessProvider interface {
	GetValidAccess(ctx context.Context, participantID string) (string, error)
}
