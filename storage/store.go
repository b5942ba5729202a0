package storage

import (
	"context"
	"errors"
	"time"

	"listening-raid-system/models"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("storage: not found")

// RaidStore is the raid-side persistence contract the engine depends on.
type RaidStore interface {
	Get(ctx context.Context, id string) (models.Raid, error)
	GetBySlug(ctx context.Context, slug string) (models.Raid, error)
	Create(ctx context.Context, raid *models.Raid) error
	CountParticipants(ctx context.Context, raidID string) (int64, error)
	CountQualified(ctx context.Context, raidID string) (int64, error)

	// TransitionStatus performs the one-way status change as a single
	// conditional update. Returns true only for the caller that actually
	// flipped the row; concurrent callers racing the same transition get
	// false with a nil error.
	TransitionStatus(ctx context.Context, raidID string, from, to models.RaidStatus) (bool, error)

	ListExpired(ctx context.Context, now time.Time) ([]models.Raid, error)
	ListActive(ctx context.Context, now time.Time) ([]models.Raid, error)
	SetReportURL(ctx context.Context, raidID, url string) error
}

// ParticipantStore persists per-participant raid state. MarkQualified and
// MarkClaimed are guarded test-and-set operations, not read-then-write.
type ParticipantStore interface {
	GetParticipant(ctx context.Context, participantID, raidID string) (models.RaidParticipant, error)

	// Enroll inserts the participant row only while the raid holds fewer
	// than capacity rows, as one atomic operation. Returns false when the
	// raid is at capacity; concurrent enrollments cannot overshoot it. A
	// row that already exists counts as enrolled and is left untouched.
	Enroll(ctx context.Context, p *models.RaidParticipant, capacity int) (bool, error)

	UpdateProgress(ctx context.Context, participantID, raidID string, totalSeconds float64, checkedAt time.Time) error
	ResetProgress(ctx context.Context, participantID, raidID string, checkedAt time.Time) error
	SetListening(ctx context.Context, participantID, raidID string, listening bool) error

	// MarkQualified sets qualified=true and qualified_at exactly once.
	// Returns false if the row was already qualified.
	MarkQualified(ctx context.Context, participantID, raidID string, at time.Time, totalSeconds float64) (bool, error)

	// MarkClaimed flips claimed_reward false→true in one conditional update,
	// requiring qualified=true. Exactly one of N concurrent callers gets
	// true. The same update records settlement_state=pending, so a claim is
	// visible to the settlement retry sweep from the moment it exists, even
	// if the process dies before the escrow call.
	MarkClaimed(ctx context.Context, participantID, raidID string, at time.Time) (bool, error)

	SetSettlement(ctx context.Context, participantID, raidID string, state models.SettlementState, txRef string) error
	ListPendingSettlements(ctx context.Context) ([]models.RaidParticipant, error)

	SaveNotificationRef(ctx context.Context, participantID, raidID, messageRef string, at time.Time) error
	ListQualified(ctx context.Context, raidID string) ([]models.RaidParticipant, error)

	// ListListening returns unqualified rows still flagged is_listening,
	// the ones a restarted process must resume tracking for.
	ListListening(ctx context.Context, raidID string) ([]models.RaidParticipant, error)
}

// CredentialStore reads platform authorizations written by the auth service.
type CredentialStore interface {
	GetCredential(ctx context.Context, participantID string, platform models.Platform) (models.PlatformCredential, error)
}
