package models

import "time"

// SettlementState tracks the handoff to the escrow service. Empty until the
// participant claims; the update that records a claim writes pending in the
// same statement, so no claimed row is ever invisible to the retry sweep.
type SettlementState string

const (
	SettlementStatePending SettlementState = "pending"
	SettlementStateSettled SettlementState = "settled"
)

// RaidParticipant is the durable record of one participant's attempt in one
// raid. One row per (participant, raid); never deleted while the raid is
// active. The in-memory tracking session is rebuilt from this row after a
// process restart.
type RaidParticipant struct {
	ID            string `gorm:"primaryKey;type:uuid;default:gen_random_uuid()" json:"id"`
	ParticipantID string `gorm:"uniqueIndex:idx_participant_raid;not null" json:"participant_id"`
	RaidID        string `gorm:"uniqueIndex:idx_participant_raid;index;not null" json:"raid_id"`

	// Qualifying state, written every evaluation while tracking is live.
	IsListening        bool       `gorm:"default:false" json:"is_listening"`
	TotalListenSeconds float64    `gorm:"default:0" json:"total_listen_seconds"`
	LastCheckedAt      *time.Time `json:"last_checked_at,omitempty"`

	// Qualification state: set exactly once, never cleared.
	Qualified   bool       `gorm:"default:false;index" json:"qualified"`
	QualifiedAt *time.Time `json:"qualified_at,omitempty"`

	// Settlement state: claimed_reward flips false→true exactly once.
	ClaimedReward   bool            `gorm:"default:false" json:"claimed_reward"`
	ClaimedAt       *time.Time      `json:"claimed_at,omitempty"`
	ClaimTxRef      string          `json:"claim_tx_ref,omitempty"`
	SettlementState SettlementState `gorm:"type:varchar(16);default:''" json:"settlement_state,omitempty"`

	// Notification bookkeeping for the single persistent progress message.
	LastMessageRef string     `json:"last_message_ref,omitempty"`
	LastNotifiedAt *time.Time `json:"last_notified_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
