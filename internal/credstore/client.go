// Package credstore talks to the backend credential service that keeps
// each Telegram account's webhook URL. The bot itself never persists
// credentials; this client is the only path to them.
package credstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"b24bot/internal/observability/logger"
	"b24bot/internal/telemetry"
	"b24bot/internal/webhook"

	"go.uber.org/zap"
)

// ErrNotLinked reports that no webhook is stored for the account.
var ErrNotLinked = errors.New("credstore: account not linked")

const requestTimeout = 10 * time.Second

// Client is an HTTP client for the credential service.
type Client struct {
	baseURL    string
	httpClient *http.Client
	log        *logger.Logger
}

// NewClient builds a credential service client. baseURL is the service
// root without a trailing slash.
func NewClient(baseURL string, log *logger.Logger) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: requestTimeout},
		log:        log,
	}
}

func (c *Client) tokenURL(chatID int64) string {
	return fmt.Sprintf("%s/bitrix-token/telegram/%d/", c.baseURL, chatID)
}

// Get fetches the stored webhook for a Telegram account and parses it.
// A missing record, in any of the shapes the service reports one,
// yields ErrNotLinked.
func (c *Client) Get(ctx context.Context, chatID int64) (webhook.Descriptor, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.tokenURL(chatID), nil)
	if err != nil {
		return webhook.Descriptor{}, fmt.Errorf("new request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		telemetry.CredStoreRequestsTotal.WithLabelValues("get", "error").Inc()
		return webhook.Descriptor{}, fmt.Errorf("credential service unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		telemetry.CredStoreRequestsTotal.WithLabelValues("get", "not_linked").Inc()
		return webhook.Descriptor{}, ErrNotLinked
	}
	if resp.StatusCode != http.StatusOK {
		telemetry.CredStoreRequestsTotal.WithLabelValues("get", "error").Inc()
		return webhook.Descriptor{}, c.remoteError("get credential", resp)
	}

	var body struct {
		FullWebhookURL string `json:"full_webhook_url"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		telemetry.CredStoreRequestsTotal.WithLabelValues("get", "error").Inc()
		return webhook.Descriptor{}, fmt.Errorf("decode credential response: %w", err)
	}
	if body.FullWebhookURL == "" {
		telemetry.CredStoreRequestsTotal.WithLabelValues("get", "not_linked").Inc()
		return webhook.Descriptor{}, ErrNotLinked
	}

	desc, err := webhook.Parse(body.FullWebhookURL)
	if err != nil {
		telemetry.CredStoreRequestsTotal.WithLabelValues("get", "error").Inc()
		c.log.Error(ctx, "stored webhook no longer parses",
			logger.Module("credstore"),
			logger.Action("get"),
			zap.Int64("chat_id", chatID),
		)
		return webhook.Descriptor{}, fmt.Errorf("stored webhook invalid: %w", err)
	}

	telemetry.CredStoreRequestsTotal.WithLabelValues("get", "ok").Inc()
	return desc, nil
}

// Put stores or replaces the webhook for a Telegram account.
func (c *Client) Put(ctx context.Context, chatID int64, desc webhook.Descriptor) error {
	payload, err := json.Marshal(map[string]string{"full_webhook_url": desc.FullURL})
	if err != nil {
		return fmt.Errorf("marshal credential: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.tokenURL(chatID), bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	c.log.Info(ctx, "storing credential",
		logger.Module("credstore"),
		logger.Action("put"),
		zap.Int64("chat_id", chatID),
		zap.String("webhook", desc.Masked()),
	)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		telemetry.CredStoreRequestsTotal.WithLabelValues("put", "error").Inc()
		return fmt.Errorf("credential service unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		telemetry.CredStoreRequestsTotal.WithLabelValues("put", "error").Inc()
		return c.remoteError("store credential", resp)
	}

	var body struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		telemetry.CredStoreRequestsTotal.WithLabelValues("put", "error").Inc()
		return fmt.Errorf("decode store response: %w", err)
	}
	if body.Status != "success" {
		telemetry.CredStoreRequestsTotal.WithLabelValues("put", "error").Inc()
		return fmt.Errorf("store credential: unexpected status %q", body.Status)
	}

	telemetry.CredStoreRequestsTotal.WithLabelValues("put", "ok").Inc()
	return nil
}

// Delete removes the stored webhook. Deleting an account that has
// no credential succeeds.
func (c *Client) Delete(ctx context.Context, chatID int64) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.tokenURL(chatID), nil)
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		telemetry.CredStoreRequestsTotal.WithLabelValues("delete", "error").Inc()
		return fmt.Errorf("credential service unreachable: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
	default:
		telemetry.CredStoreRequestsTotal.WithLabelValues("delete", "error").Inc()
		return c.remoteError("delete credential", resp)
	}

	telemetry.CredStoreRequestsTotal.WithLabelValues("delete", "ok").Inc()
	c.log.Info(ctx, "credential removed",
		logger.Module("credstore"),
		logger.Action("delete"),
		zap.Int64("chat_id", chatID),
	)
	return nil
}

// remoteError builds an error carrying the service's detail message
// when it sent one.
func (c *Client) remoteError(op string, resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var body struct {
		Detail string `json:"detail"`
	}
	if json.Unmarshal(raw, &body) == nil && body.Detail != "" {
		return fmt.Errorf("%s: %s (status %d)", op, body.Detail, resp.StatusCode)
	}
	return fmt.Errorf("%s: status %d", op, resp.StatusCode)
}
