// Package crm talks to the lead CRM: contact tags and outbound SMS.
package crm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"text/template"
	"time"

	"leadcall/internal/config"
	"leadcall/internal/ports"
)

type Client struct {
	baseURL    string
	apiKey     string
	apiVersion string
	http       *http.Client
}

var (
	_ ports.Tagger   = (*Client)(nil)
	_ ports.Notifier = (*Client)(nil)
)

func NewClient(cfg config.CRM) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		apiVersion: cfg.APIVersion,
		http:       &http.Client{Timeout: timeout},
	}
}

// AddTag adds tag to the contact; existing tags are kept by the CRM.
func (c *Client) AddTag(ctx context.Context, contactID, tag string) error {
	path := "/contacts/" + url.PathEscape(contactID) + "/tags"
	return c.post(ctx, path, map[string]any{"tags": []string{tag}})
}

// SendSMS renders tmpl with vars and sends it. vars["contact_id"] names the
// CRM conversation the message is attached to.
func (c *Client) SendSMS(ctx context.Context, phone, tmpl string, vars map[string]string) error {
	msg, err := Render(tmpl, vars)
	if err != nil {
		return err
	}
	return c.post(ctx, "/conversations/messages", map[string]any{
		"type":      "SMS",
		"contactId": vars["contact_id"],
		"toNumber":  phone,
		"message":   msg,
	})
}

// Render executes a text/template; unknown keys render empty.
func Render(tmpl string, vars map[string]string) (string, error) {
	t, err := template.New("sms").Option("missingkey=zero").Parse(tmpl)
	if err != nil {
		return "", fmt.Errorf("parse sms template: %w", err)
	}
	var b strings.Builder
	if err := t.Execute(&b, vars); err != nil {
		return "", fmt.Errorf("render sms template: %w", err)
	}
	return b.String(), nil
}

func (c *Client) post(ctx context.Context, path string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if c.apiVersion != "" {
		req.Header.Set("Version", c.apiVersion)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("crm %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("crm %s: status %d: %s", path, resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	return nil
}
