// Package transport delivers tracking payloads to the collection API over
// HTTP or a persistent WebSocket connection.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/AtRiskMedia/tracker-go/internal/domain/tracking"
	"github.com/AtRiskMedia/tracker-go/internal/infrastructure/security"
)

const maxResponseBytes = 1 << 20

// StatusError is returned when the collection API answers with a non-success status.
type StatusError struct {
	Endpoint   tracking.Endpoint
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("collection endpoint %s returned %d: %s", e.Endpoint, e.StatusCode, e.Body)
}

// HTTPConfig configures HTTPTransport.
type HTTPConfig struct {
	BaseURL  string
	APIKey   string
	Timeout  time.Duration
	TokenTTL time.Duration
	Client   *http.Client
	Logger   *slog.Logger
}

// HTTPTransport posts JSON payloads to {BaseURL}/{endpoint}.
type HTTPTransport struct {
	baseURL    string
	signer     *security.TokenSigner
	httpClient *http.Client
	logger     *slog.Logger
}

var _ tracking.Transport = (*HTTPTransport)(nil)

// NewHTTPTransport validates cfg. Without an API key requests are unsigned.
func NewHTTPTransport(cfg HTTPConfig) (*HTTPTransport, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("collection base URL is required")
	}
	client := cfg.Client
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}

	t := &HTTPTransport{
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		httpClient: client,
		logger:     orDiscard(cfg.Logger),
	}
	if cfg.APIKey != "" {
		signer, err := security.NewTokenSigner(cfg.APIKey, cfg.TokenTTL)
		if err != nil {
			return nil, err
		}
		t.signer = signer
	}
	return t, nil
}

// Post sends body and decodes the JSON reply. An empty reply decodes to an empty Response.
func (t *HTTPTransport) Post(ctx context.Context, endpoint tracking.Endpoint, body tracking.Payload) (tracking.Response, error) {
	start := time.Now()
	encoded, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to encode payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+"/"+string(endpoint), bytes.NewReader(encoded))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if t.signer != nil {
		token, err := t.signer.Sign(tracking.SiteIDFromContext(ctx), string(endpoint))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := t.httpClient.Do(req)
	if err != nil {
		t.logger.Warn("Collection request failed", "endpoint", endpoint, "error", err.Error(), "duration", time.Since(start))
		return nil, fmt.Errorf("collection request to %s failed: %w", endpoint, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read collection response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		t.logger.Warn("Collection endpoint rejected payload", "endpoint", endpoint, "status", resp.StatusCode, "duration", time.Since(start))
		return nil, &StatusError{Endpoint: endpoint, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}

	t.logger.Debug("Collection request completed", "endpoint", endpoint, "status", resp.StatusCode, "duration", time.Since(start))
	return decodeResponse(raw)
}

func decodeResponse(raw []byte) (tracking.Response, error) {
	out := tracking.Response{}
	if len(bytes.TrimSpace(raw)) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("failed to decode collection response: %w", err)
	}
	return out, nil
}

func orDiscard(logger *slog.Logger) *slog.Logger {
	if logger != nil {
		return logger
	}
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
