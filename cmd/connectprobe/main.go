// connectprobe replays synthetic connect attempts against a running
// cookalong server and reports connect-latency percentiles. It drives the
// same websocket contract the browser uses, so the measured path includes
// token exchange and capability start.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mbrandolini/cookalong/internal/protocol"
	"github.com/mbrandolini/cookalong/internal/reliability"
)

type options struct {
	baseURL        string
	recipeID       string
	attempts       int
	connectTimeout time.Duration
	backoffBase    time.Duration
	backoffCap     time.Duration
	verbose        bool
}

type createSessionResponse struct {
	SessionID string `json:"session_id"`
}

func main() {
	cfg, err := parseFlags()
	if err != nil {
		fmt.Fprintf(os.Stderr, "connectprobe: %v\n", err)
		os.Exit(2)
	}
	if err := run(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "connectprobe: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags() (options, error) {
	var cfg options
	var connectTimeoutMS int
	var backoffBaseMS int
	var backoffCapMS int

	flag.StringVar(&cfg.baseURL, "base-url", "http://127.0.0.1:8080", "cookalong base URL")
	flag.StringVar(&cfg.recipeID, "recipe-id", "", "recipe id for the synthetic session (server default when empty)")
	flag.IntVar(&cfg.attempts, "attempts", 10, "number of connect attempts")
	flag.IntVar(&connectTimeoutMS, "connect-timeout-ms", 15000, "timeout waiting for connected status per attempt")
	flag.IntVar(&backoffBaseMS, "backoff-base-ms", 250, "base backoff after a failed attempt")
	flag.IntVar(&backoffCapMS, "backoff-cap-ms", 5000, "backoff cap")
	flag.BoolVar(&cfg.verbose, "verbose", true, "print per-attempt progress")
	flag.Parse()

	cfg.baseURL = strings.TrimRight(strings.TrimSpace(cfg.baseURL), "/")
	if cfg.baseURL == "" {
		return options{}, fmt.Errorf("base-url is required")
	}
	if cfg.attempts <= 0 {
		return options{}, fmt.Errorf("attempts must be > 0")
	}
	if connectTimeoutMS < 1000 {
		connectTimeoutMS = 1000
	}
	cfg.connectTimeout = time.Duration(connectTimeoutMS) * time.Millisecond
	cfg.backoffBase = time.Duration(backoffBaseMS) * time.Millisecond
	cfg.backoffCap = time.Duration(backoffCapMS) * time.Millisecond
	return cfg, nil
}

func run(cfg options) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	httpClient := &http.Client{Timeout: 30 * time.Second}

	var latencies []float64
	failures := 0
	for i := 0; i < cfg.attempts; i++ {
		latency, err := attemptConnect(ctx, httpClient, cfg)
		if err != nil {
			failures++
			if cfg.verbose {
				fmt.Printf("attempt %d: failed: %v\n", i+1, err)
			}
			time.Sleep(reliability.ExponentialBackoff(failures, cfg.backoffBase, cfg.backoffCap))
			continue
		}
		latencies = append(latencies, float64(latency.Milliseconds()))
		if cfg.verbose {
			fmt.Printf("attempt %d: connected in %s\n", i+1, latency.Round(time.Millisecond))
		}
	}

	if len(latencies) == 0 {
		return fmt.Errorf("all %d attempts failed", cfg.attempts)
	}

	sort.Float64s(latencies)
	fmt.Printf("\nconnect latency over %d/%d successful attempts:\n", len(latencies), cfg.attempts)
	fmt.Printf("  p50 %7.1f ms\n", quantile(latencies, 0.50))
	fmt.Printf("  p95 %7.1f ms\n", quantile(latencies, 0.95))
	fmt.Printf("  p99 %7.1f ms\n", quantile(latencies, 0.99))
	fmt.Printf("  max %7.1f ms\n", latencies[len(latencies)-1])
	return nil
}

func attemptConnect(ctx context.Context, httpClient *http.Client, cfg options) (time.Duration, error) {
	sessionID, err := createSession(ctx, httpClient, cfg)
	if err != nil {
		return 0, fmt.Errorf("create session: %w", err)
	}
	defer endSession(httpClient, cfg.baseURL, sessionID)

	wsURL, err := wsURLForSession(cfg.baseURL, sessionID)
	if err != nil {
		return 0, fmt.Errorf("build ws URL: %w", err)
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return 0, fmt.Errorf("open websocket: %w", err)
	}
	defer conn.Close()

	start := time.Now()
	connect := protocol.ClientControl{
		Type:      protocol.TypeClientControl,
		SessionID: sessionID,
		Action:    protocol.ActionConnect,
		TSMs:      start.UnixMilli(),
	}
	if err := conn.WriteJSON(connect); err != nil {
		return 0, fmt.Errorf("send connect: %w", err)
	}

	deadline := time.Now().Add(cfg.connectTimeout)
	for {
		_ = conn.SetReadDeadline(deadline)
		var ev struct {
			Type   string `json:"type"`
			State  string `json:"state"`
			Code   string `json:"code"`
			Detail string `json:"detail"`
		}
		if err := conn.ReadJSON(&ev); err != nil {
			return 0, fmt.Errorf("wait for connected: %w", err)
		}
		switch {
		case ev.Type == string(protocol.TypeStatusEvent) && ev.State == "connected":
			elapsed := time.Since(start)
			disconnect := protocol.ClientControl{
				Type:      protocol.TypeClientControl,
				SessionID: sessionID,
				Action:    protocol.ActionDisconnect,
			}
			_ = conn.WriteJSON(disconnect)
			return elapsed, nil
		case ev.Type == string(protocol.TypeErrorEvent):
			return 0, fmt.Errorf("connect failed: %s (%s)", ev.Code, ev.Detail)
		}
	}
}

func createSession(ctx context.Context, httpClient *http.Client, cfg options) (string, error) {
	payload, _ := json.Marshal(map[string]string{"recipe_id": cfg.recipeID})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.baseURL+"/v1/cook/session", bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 512))
		return "", fmt.Errorf("status %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}

	var created createSessionResponse
	if err := json.NewDecoder(res.Body).Decode(&created); err != nil {
		return "", err
	}
	if created.SessionID == "" {
		return "", fmt.Errorf("response missing session_id")
	}
	return created.SessionID, nil
}

func endSession(httpClient *http.Client, baseURL, sessionID string) {
	req, err := http.NewRequest(http.MethodPost, baseURL+"/v1/cook/session/"+sessionID+"/end", nil)
	if err != nil {
		return
	}
	res, err := httpClient.Do(req)
	if err != nil {
		return
	}
	_ = res.Body.Close()
}

func wsURLForSession(baseURL, sessionID string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path = "/v1/cook/session/ws"
	u.RawQuery = url.Values{"session_id": {sessionID}}.Encode()
	return u.String(), nil
}

func quantile(sorted []float64, q float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := q * float64(len(sorted)-1)
	lo := int(math.Floor(idx))
	hi := int(math.Ceil(idx))
	if lo == hi {
		return sorted[lo]
	}
	frac := idx - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}
