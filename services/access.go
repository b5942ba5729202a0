package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"listening-raid-system/models"
	"listening-raid-system/storage"
)

// CredentialAccessProvider resolves access tokens from the credential mirror
// the auth service maintains. One instance per platform.
type CredentialAccessProvider struct {
	Store    storage.CredentialStore
	Platform models.Platform
	Now      func() time.Time
}

func NewCredentialAccessProvider(store storage.CredentialStore, platform models.Platform) *CredentialAccessProvider {
	return &CredentialAccessProvider{Store: store, Platform: platform, Now: time.Now}
}

func (p *CredentialAccessProvider) GetValidAccess(ctx context.Context, participantID string) (string, error) {
	cred, err := p.Store.GetCredential(ctx, participantID, p.Platform)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return "", ErrAuthExpired
		}
		return "", fmt.Errorf("credential lookup: %w", err)
	}
	// Token refresh is the auth service's job; a stale row means the refresh
	// flow lost this participant and they must re-link.
	if !cred.ExpiresAt.After(p.Now()) {
		return "", ErrAuthExpired
	}
	return cred.AccessToken, nil
}

// IsPremium reports the stored account tier without a network round trip.
func (p *CredentialAccessProvider) IsPremium(ctx context.Context, participantID string) bool {
	cred, err := p.Store.GetCredential(ctx, participantID, p.Platform)
	if err != nil {
		return false
	}
	return cred.IsPremium
}
