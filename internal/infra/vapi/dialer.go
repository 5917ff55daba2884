// Package vapi places outbound calls through the voice-AI dialer REST API.
package vapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"leadcall/internal/config"
	"leadcall/internal/domain"
	"leadcall/internal/ports"
)

type Dialer struct {
	baseURL       string
	apiKey        string
	assistantID   string
	phoneNumberID string
	http          *http.Client
	limiter       *rate.Limiter
}

var _ ports.VoiceDialer = (*Dialer)(nil)

func NewDialer(cfg config.Dialer) *Dialer {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	limit := rate.Inf
	if cfg.RatePerSecond > 0 {
		limit = rate.Limit(cfg.RatePerSecond)
	}
	return &Dialer{
		baseURL:       strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:        cfg.APIKey,
		assistantID:   cfg.AssistantID,
		phoneNumberID: cfg.PhoneNumberID,
		http:          &http.Client{Timeout: timeout},
		limiter:       rate.NewLimiter(limit, 1),
	}
}

type customer struct {
	Number string `json:"number"`
}

type createCallRequest struct {
	AssistantID   string            `json:"assistantId"`
	PhoneNumberID string            `json:"phoneNumberId"`
	Customer      customer          `json:"customer"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

type createCallResponse struct {
	ID string `json:"id"`
}

// Dial creates an outbound call. Every failure wraps domain.ErrDialFailed.
func (d *Dialer) Dial(ctx context.Context, phone, contactID string, metadata map[string]string) (string, error) {
	if err := d.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("%w: rate limiter: %v", domain.ErrDialFailed, err)
	}

	md := make(map[string]string, len(metadata)+1)
	for k, v := range metadata {
		md[k] = v
	}
	md["contactId"] = contactID

	body, err := json.Marshal(createCallRequest{
		AssistantID:   d.assistantID,
		PhoneNumberID: d.phoneNumberID,
		Customer:      customer{Number: phone},
		Metadata:      md,
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrDialFailed, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.baseURL+"/call", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrDialFailed, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+d.apiKey)

	resp, err := d.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrDialFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("%w: status %d: %s", domain.ErrDialFailed, resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var out createCallResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("%w: decode response: %v", domain.ErrDialFailed, err)
	}
	if out.ID == "" {
		return "", fmt.Errorf("%w: response without call id", domain.ErrDialFailed)
	}
	return out.ID, nil
}
