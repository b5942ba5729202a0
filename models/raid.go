package models

import (
	"time"

	"gorm.io/gorm"
)

// Platform identifies which streaming service a raid's track lives on.
type Platform string

const (
	PlatformSpotify    Platform = "spotify"
	PlatformAppleMusic Platform = "apple_music"
)

// RaidStatus is one-way: active is the sole entry state, the rest are terminal.
type RaidStatus string

const (
	RaidStatusActive    RaidStatus = "active"
	RaidStatusCompleted RaidStatus = "completed"
	RaidStatusExpired   RaidStatus = "expired"
	RaidStatusCancelled RaidStatus = "cancelled"
)

// Raid is a time-boxed listening campaign tied to one track.
// Created by the sponsor flow; the engine reads its config and owns
// the active→completed / active→expired transitions.
type Raid struct {
	ID   string `gorm:"primaryKey;type:uuid" json:"id"`
	Slug string `gorm:"uniqueIndex;not null" json:"slug"`

	Title      string   `gorm:"not null" json:"title"`
	TrackID    string   `gorm:"not null" json:"track_id"`
	TrackName  string   `json:"track_name"`
	ArtistName string   `json:"artist_name"`
	Platform   Platform `gorm:"type:varchar(16);not null" json:"platform"`

	RequiredListenSeconds int     `gorm:"not null" json:"required_listen_seconds"`
	ParticipantGoal       int     `gorm:"not null" json:"participant_goal"`
	RewardAmount          float64 `gorm:"not null" json:"reward_amount"`
	RewardToken           string  `gorm:"type:varchar(16);default:'USDC'" json:"reward_token"`

	Status      RaidStatus `gorm:"type:varchar(16);not null;default:'active';index" json:"status"`
	ExpiresAt   time.Time  `gorm:"not null" json:"expires_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	SponsorID string `gorm:"index" json:"sponsor_id"`
	ReportURL string `gorm:"type:text" json:"report_url,omitempty"`

	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}
