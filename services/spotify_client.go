package services

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const spotifyAPIBase = "https://api.spotify.com"

// SpotifyVerifier polls the Web API currently-playing endpoint. Works for
// free and premium accounts; 204 means no active player.
type SpotifyVerifier struct {
	BaseURL     string
	Access      AccessProvider
	HTTPClient  *http.Client
	CallTimeout time.Duration
}

func NewSpotifyVerifier(access AccessProvider) *SpotifyVerifier {
	return &SpotifyVerifier{
		BaseURL:     spotifyAPIBase,
		Access:      access,
		HTTPClient:  &http.Client{Timeout: 30 * time.Second},
		CallTimeout: 8 * time.Second,
	}
}

type spotifyNowPlaying struct {
	IsPlaying  bool `json:"is_playing"`
	ProgressMs int  `json:"progress_ms"`
	Item       struct {
		ID string `json:"id"`
	} `json:"item"`
	Device struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"device"`
}

func (v *SpotifyVerifier) CheckPlayback(ctx context.Context, participantID, trackID string) (PlaybackState, error) {
	token, err := v.Access.GetValidAccess(ctx, participantID)
	if err != nil {
		return PlaybackState{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, v.CallTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, "GET", v.BaseURL+"/v1/me/player/currently-playing", nil)
	if err != nil {
		return PlaybackState{}, fmt.Errorf("build currently-playing request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := v.HTTPClient.Do(req)
	if err != nil {
		// A slow or unreachable API must not stall the tick; treat it the
		// same as a 5xx and retry next evaluation.
		return PlaybackState{}, ErrPlatformUnavailable
	}
	defer resp.Body.Close()

	observedAt := time.Now().UTC()

	switch {
	case resp.StatusCode == http.StatusNoContent:
		return PlaybackState{IsPlaying: false, ObservedAt: observedAt}, nil
	case resp.StatusCode == http.StatusUnauthorized:
		return PlaybackState{}, ErrAuthExpired
	case resp.StatusCode == http.StatusTooManyRequests:
		return PlaybackState{}, ErrRateLimited
	case resp.StatusCode != http.StatusOK:
		io.Copy(io.Discard, io.LimitReader(resp.Body, 1024))
		return PlaybackState{}, ErrPlatformUnavailable
	}

	var body spotifyNowPlaying
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return PlaybackState{}, ErrPlatformUnavailable
	}

	state := PlaybackState{
		IsPlaying:  body.IsPlaying && body.Item.ID == trackID,
		PositionMs: body.ProgressMs,
		ObservedAt: observedAt,
		DeviceRef:  body.Device.ID,
	}
	return state, nil
}
