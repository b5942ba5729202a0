package models

import "time"

// PlatformCredential mirrors a participant's streaming-platform authorization.
// Rows are written by the OAuth login/refresh flow in the auth service; the
// engine only reads them. Tokens arrive already decrypted by the gateway-side
// wrapper.
type PlatformCredential struct {
	ID            string   `gorm:"primaryKey;type:uuid;default:gen_random_uuid()" json:"id"`
	ParticipantID string   `gorm:"uniqueIndex:idx_credential_owner;not null" json:"participant_id"`
	Platform      Platform `gorm:"uniqueIndex:idx_credential_owner;type:varchar(16);not null" json:"platform"`

	AccessToken string    `gorm:"type:text;not null" json:"-"`
	ExpiresAt   time.Time `gorm:"not null" json:"expires_at"`

	// Spotify reports product tier; playback polling works on free accounts
	// but device metadata is richer on premium.
	IsPremium bool `gorm:"default:false" json:"is_premium"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
