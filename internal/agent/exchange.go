package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/mbrandolini/cookalong/internal/reliability"
)

// ExchangeError reports a failed credential exchange. The private API key and
// agent id never appear in the error text.
type ExchangeError struct {
	Status    int
	Retryable bool
}

func (e *ExchangeError) Error() string {
	return fmt.Sprintf("agent: token exchange failed (status %d)", e.Status)
}

type tokenResponse struct {
	Token string `json:"token"`
}

// ElevenLabsExchanger requests conversation tokens from the ElevenLabs API.
type ElevenLabsExchanger struct {
	apiKey     string
	agentID    string
	baseURL    string
	httpClient *http.Client
}

func NewElevenLabsExchanger(apiKey, agentID, baseURL string) *ElevenLabsExchanger {
	if baseURL == "" {
		baseURL = "https://api.elevenlabs.io"
	}
	return &ElevenLabsExchanger{
		apiKey:  apiKey,
		agentID: agentID,
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (c *ElevenLabsExchanger) Exchange(ctx context.Context) (string, error) {
	u := c.baseURL + "/v1/convai/conversation/token?agent_id=" + url.QueryEscape(c.agentID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("xi-api-key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("token request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		// Drain so the connection can be reused; the body may carry the
		// upstream error detail, which we deliberately do not propagate.
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return "", &ExchangeError{
			Status:    resp.StatusCode,
			Retryable: reliability.IsRetryableHTTPStatus(resp.StatusCode),
		}
	}

	var body tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("decode token response: %w", err)
	}
	if body.Token == "" {
		return "", ErrMissingToken
	}
	return body.Token, nil
}

// StaticExchanger returns a fixed token; used with the mock capability.
type StaticExchanger struct {
	Token string
}

func (s StaticExchanger) Exchange(context.Context) (string, error) {
	if s.Token == "" {
		return "mock-token", nil
	}
	return s.Token, nil
}
