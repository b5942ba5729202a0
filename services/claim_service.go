package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"listening-raid-system/models"
	"listening-raid-system/storage"
)

// SettlementClient is the boundary to the external escrow program that
// actually moves tokens. Settle is invoked only after the claim flag is
// durably set; the idempotency key makes the out-of-band retry safe.
type SettlementClient interface {
	Settle(ctx context.Context, participantID, raidID string, amount float64, token, idempotencyKey string) (string, error)
}

// ErrSettlementUnavailable is returned by settlement clients on transport or
// escrow-side failures. The recorded claim is never dropped because of it.
var ErrSettlementUnavailable = errors.New("settlement service unavailable")

// ClaimResult is the successful outcome of a claim.
type ClaimResult struct {
	RewardAmount  float64 `json:"reward_amount"`
	RewardToken   string  `json:"reward_token"`
	SettlementRef string  `json:"settlement_ref"`
}

// ClaimService enforces at-most-once reward settlement per participant per
// raid. The false→true flip of claimed_reward is a single conditional update
// in the store, so N concurrent claims yield one success and N−1
// ErrAlreadyClaimed.
type ClaimService struct {
	Raids        storage.RaidStore
	Participants storage.ParticipantStore
	Settlement   SettlementClient
	Registry     *SessionRegistry
	Now          func() time.Time
	NewIdemKey   func() string
}

func NewClaimService(raids storage.RaidStore, participants storage.ParticipantStore, settlement SettlementClient, registry *SessionRegistry) *ClaimService {
	return &ClaimService{
		Raids:        raids,
		Participants: participants,
		Settlement:   settlement,
		Registry:     registry,
		Now:          time.Now,
		NewIdemKey:   uuid.NewString,
	}
}

// Claim converts a qualified participant's state into a settled reward.
func (s *ClaimService) Claim(ctx context.Context, participantID, raidID string) (ClaimResult, error) {
	raid, err := s.Raids.Get(ctx, raidID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return ClaimResult{}, ErrRaidNotFound
		}
		return ClaimResult{}, fmt.Errorf("load raid: %w", err)
	}

	flipped, err := s.Participants.MarkClaimed(ctx, participantID, raidID, s.Now().UTC())
	if err != nil {
		return ClaimResult{}, fmt.Errorf("mark claimed: %w", err)
	}
	if !flipped {
		// The guard rejected the update; read the row to say why.
		record, err := s.Participants.GetParticipant(ctx, participantID, raidID)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return ClaimResult{}, ErrNotQualified
			}
			return ClaimResult{}, fmt.Errorf("load participant: %w", err)
		}
		if !record.Qualified {
			return ClaimResult{}, ErrNotQualified
		}
		return ClaimResult{}, ErrAlreadyClaimed
	}

	// Claimed sessions have already left the registry via qualification, but
	// a leftover from a replaced join must not keep polling.
	if s.Registry != nil {
		s.Registry.Remove(participantID, raidID)
	}

	return s.settle(ctx, raid, participantID)
}

func (s *ClaimService) settle(ctx context.Context, raid models.Raid, participantID string) (ClaimResult, error) {
	txRef, err := s.Settlement.Settle(ctx, participantID, raid.ID, raid.RewardAmount, raid.RewardToken, s.NewIdemKey())
	if err != nil {
		// The claim flag stays set and the row is already pending from the
		// same update that recorded the claim, so the maintenance job will
		// retry the transfer even if we stop right here. The participant
		// sees a retryable state, not a lost reward.
		log.Printf("⚠️ [Claim] settlement failed for %s in raid %s, left pending: %v",
			participantID, raid.ID, err)
		return ClaimResult{}, ErrSettlementPending
	}

	if err := s.Participants.SetSettlement(ctx, participantID, raid.ID, models.SettlementStateSettled, txRef); err != nil {
		// Funds moved; only our bookkeeping of the reference failed.
		log.Printf("[Claim] settled but failed to record tx ref %s for %s/%s: %v", txRef, participantID, raid.ID, err)
	}

	log.Printf("✅ [Claim] settled %.4f %s for participant %s in raid %s (tx %s)",
		raid.RewardAmount, raid.RewardToken, participantID, raid.ID, txRef)
	return ClaimResult{RewardAmount: raid.RewardAmount, RewardToken: raid.RewardToken, SettlementRef: txRef}, nil
}

// RetryPendingSettlements re-attempts transfers whose claim is recorded but
// whose escrow call failed. Invoked from the maintenance scheduler.
func (s *ClaimService) RetryPendingSettlements(ctx context.Context) {
	pending, err := s.Participants.ListPendingSettlements(ctx)
	if err != nil {
		log.Printf("[Claim] failed to list pending settlements: %v", err)
		return
	}

	for _, record := range pending {
		raid, err := s.Raids.Get(ctx, record.RaidID)
		if err != nil {
			log.Printf("[Claim] pending settlement for unknown raid %s: %v", record.RaidID, err)
			continue
		}
		if _, err := s.settle(ctx, raid, record.ParticipantID); err != nil {
			// Still down; next sweep tries again.
			continue
		}
	}
}
