package services

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"
)

const appleMusicAPIBase = "https://api.music.apple.com"

// AppleMusicVerifier approximates "currently playing" from the recently-played
// feed: Apple Music has no live player endpoint, so a play of the raid track
// reported inside the recency window counts as playing. The window should be
// at least one poll interval wide or real listens get dropped.
type AppleMusicVerifier struct {
	BaseURL        string
	DeveloperToken string
	Access         AccessProvider
	HTTPClient     *http.Client
	CallTimeout    time.Duration
	RecencyWindow  time.Duration
}

func NewAppleMusicVerifier(access AccessProvider) *AppleMusicVerifier {
	return &AppleMusicVerifier{
		BaseURL:        appleMusicAPIBase,
		DeveloperToken: os.Getenv("APPLE_MUSIC_DEVELOPER_TOKEN"),
		Access:         access,
		HTTPClient:     &http.Client{Timeout: 30 * time.Second},
		CallTimeout:    8 * time.Second,
		RecencyWindow:  45 * time.Second,
	}
}

type appleRecentlyPlayed struct {
	Data []struct {
		ID         string `json:"id"`
		Attributes struct {
			LastPlayedDate time.Time `json:"lastPlayedDate"`
			DurationMs     int       `json:"durationInMillis"`
		} `json:"attributes"`
	} `json:"data"`
}

func (v *AppleMusicVerifier) CheckPlayback(ctx context.Context, participantID, trackID string) (PlaybackState, error) {
	userToken, err := v.Access.GetValidAccess(ctx, participantID)
	if err != nil {
		return PlaybackState{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, v.CallTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, "GET", v.BaseURL+"/v1/me/recent/played/tracks?limit=5", nil)
	if err != nil {
		return PlaybackState{}, fmt.Errorf("build recently-played request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+v.DeveloperToken)
	req.Header.Set("Music-User-Token", userToken)

	resp, err := v.HTTPClient.Do(req)
	if err != nil {
		return PlaybackState{}, ErrPlatformUnavailable
	}
	defer resp.Body.Close()

	observedAt := time.Now().UTC()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return PlaybackState{}, ErrAuthExpired
	case resp.StatusCode == http.StatusTooManyRequests:
		return PlaybackState{}, ErrRateLimited
	case resp.StatusCode != http.StatusOK:
		io.Copy(io.Discard, io.LimitReader(resp.Body, 1024))
		return PlaybackState{}, ErrPlatformUnavailable
	}

	var body appleRecentlyPlayed
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return PlaybackState{}, ErrPlatformUnavailable
	}

	for _, track := range body.Data {
		if track.ID != trackID {
			continue
		}
		playedAt := track.Attributes.LastPlayedDate
		if !playedAt.IsZero() && observedAt.Sub(playedAt) <= v.RecencyWindow {
			return PlaybackState{IsPlaying: true, ObservedAt: observedAt}, nil
		}
	}
	return PlaybackState{IsPlaying: false, ObservedAt: observedAt}, nil
}
