package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"
)

// EscrowClient calls the settlement service that fronts the on-chain escrow
// program. Any transport or escrow-side failure is ErrSettlementUnavailable;
// the caller keeps the claim recorded and retries later.
type EscrowClient struct {
	BaseURL      string
	ServiceToken string
	HTTPClient   *http.Client
}

func NewEscrowClient(baseURL, serviceToken string) *EscrowClient {
	return &EscrowClient{
		BaseURL:      baseURL,
		ServiceToken: serviceToken,
		HTTPClient:   &http.Client{Timeout: 30 * time.Second},
	}
}

type settleRequest struct {
	ParticipantID  string  `json:"participant_id"`
	RaidID         string  `json:"raid_id"`
	Amount         float64 `json:"amount"`
	Token          string  `json:"token"`
	IdempotencyKey string  `json:"idempotency_key"`
}

type settleResponse struct {
	TxReference string `json:"tx_reference"`
}

func (c *EscrowClient) Settle(ctx context.Context, participantID, raidID string, amount float64, token, idempotencyKey string) (string, error) {
	payload, err := json.Marshal(settleRequest{
		ParticipantID:  participantID,
		RaidID:         raidID,
		Amount:         amount,
		Token:          token,
		IdempotencyKey: idempotencyKey,
	})
	if err != nil {
		return "", fmt.Errorf("marshal settle request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.BaseURL+"/api/v1/internal/settlements", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("build settle request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Service-Token", c.ServiceToken)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		log.Printf("[Escrow] settlement call failed: %v", err)
		return "", ErrSettlementUnavailable
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		log.Printf("[Escrow] settlement service returned status %d: %s", resp.StatusCode, string(body))
		return "", ErrSettlementUnavailable
	}

	var out settleResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", ErrSettlementUnavailable
	}
	if out.TxReference == "" {
		return "", ErrSettlementUnavailable
	}
	return out.TxReference, nil
}
