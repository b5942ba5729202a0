package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// NotifierClient talks to the notification service that owns the actual chat
// delivery (bot messages, DMs). It edits in place when it can and falls back
// to sending fresh when the prior message is gone.
type NotifierClient struct {
	BaseURL      string
	ServiceToken string
	HTTPClient   *http.Client
}

func NewNotifierClient(baseURL, serviceToken string) *NotifierClient {
	return &NotifierClient{
		BaseURL:      baseURL,
		ServiceToken: serviceToken,
		HTTPClient:   &http.Client{Timeout: 10 * time.Second},
	}
}

type notifierMessage struct {
	ParticipantID string `json:"participant_id"`
	Content       string `json:"content"`
}

type notifierResponse struct {
	MessageRef string `json:"message_ref"`
}

func (c *NotifierClient) SendOrUpdate(ctx context.Context, participantID, content, priorRef string) (string, error) {
	if priorRef != "" {
		ref, err := c.call(ctx, "PATCH", fmt.Sprintf("%s/api/v1/internal/messages/%s", c.BaseURL, priorRef), participantID, content)
		if err == nil {
			return ref, nil
		}
		// Deleted or expired message: fall through and send a new one.
	}
	return c.call(ctx, "POST", fmt.Sprintf("%s/api/v1/internal/messages", c.BaseURL), participantID, content)
}

func (c *NotifierClient) call(ctx context.Context, method, url, participantID, content string) (string, error) {
	payload, err := json.Marshal(notifierMessage{ParticipantID: participantID, Content: content})
	if err != nil {
		return "", fmt.Errorf("marshal notification: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("build notification request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Service-Token", c.ServiceToken)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("call notifier service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("notifier service returned status %d: %s", resp.StatusCode, string(body))
	}

	var out notifierResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode notifier response: %w", err)
	}
	return out.MessageRef, nil
}
