// Package assistant wraps the generative text-completion endpoint used to
// summarize retrieved attendance data.
package assistant

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	// DefaultModel is the default generation model.
	DefaultModel = "gemini-1.5-flash"

	// DefaultBaseURL is the generative language API endpoint.
	DefaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"

	// maxAttempts bounds the retry loop; the caller never waits for more
	// than three round trips.
	maxAttempts = 3
)

// User-displayable sentinels. Summarize never returns an error: every
// failure mode collapses into one of these strings at this boundary.
const (
	OfflineMessage = "The assistant is offline: no generative service credential is configured."
	FailureMessage = "The assistant could not produce an answer right now. Please try again in a moment."
)

// Config holds summarizer client configuration.
type Config struct {
	APIKey  string
	Model   string
	BaseURL string

	// HTTPClient overrides the default client, mainly for tests.
	HTTPClient *http.Client

	// RetryUnit scales every backoff delay; it defaults to one second and
	// is shrunk in tests to keep them fast.
	RetryUnit time.Duration

	Logger *zap.SugaredLogger
}

// Client talks to the generative completion endpoint with retry/backoff.
type Client struct {
	apiKey     string
	model      string
	baseURL    string
	httpClient *http.Client
	retryUnit  time.Duration
	log        *zap.SugaredLogger
}

// NewClient creates a summarizer client, filling in defaults for anything
// the config leaves unset.
func NewClient(cfg Config) *Client {
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 60 * time.Second}
	}
	if cfg.RetryUnit == 0 {
		cfg.RetryUnit = time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop().Sugar()
	}
	return &Client{
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: cfg.HTTPClient,
		retryUnit:  cfg.RetryUnit,
		log:        cfg.Logger,
	}
}

// IsConfigured returns true if the client has an API key.
func (c *Client) IsConfigured() bool {
	return c.apiKey != ""
}

// generateRequest is the generateContent request body.
type generateRequest struct {
	SystemInstruction *content  `json:"system_instruction,omitempty"`
	Contents          []content `json:"contents"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type part struct {
	Text string `json:"text"`
}

// generateResponse is the subset of the generateContent response we consume.
type generateResponse struct {
	Candidates []struct {
		Content content `json:"content"`
	} `json:"candidates"`
}

// Summarize sends the role instruction plus the augmented query to the
// completion endpoint and returns the generated text.
//
// It never returns an error to its caller. Rate limiting (429) backs off
// 2^attempt units plus up to one unit of jitter; any other failure, including
// a success response with no usable text, waits a fixed two units. After
// three attempts the fixed failure sentinel is returned.
func (c *Client) Summarize(ctx context.Context, roleInstruction, augmentedQuery string) string {
	if !c.IsConfigured() {
		return OfflineMessage
	}

	req := generateRequest{
		SystemInstruction: &content{Parts: []part{{Text: roleInstruction}}},
		Contents: []content{
			{Role: "user", Parts: []part{{Text: augmentedQuery}}},
		},
	}

	for attempt := 0; attempt < maxAttempts; attempt++ {
		text, status, err := c.generate(ctx, req)
		if err == nil && status == http.StatusOK && text != "" {
			return text
		}

		var delay time.Duration
		switch {
		case status == http.StatusTooManyRequests:
			delay = time.Duration(1<<attempt)*c.retryUnit +
				time.Duration(rand.Int63n(int64(c.retryUnit)))
			c.log.Warnw("assistant rate limited", "attempt", attempt+1, "delay", delay)
		default:
			delay = 2 * c.retryUnit
			c.log.Warnw("assistant request failed",
				"attempt", attempt+1, "status", status, "error", err)
		}

		if attempt == maxAttempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return FailureMessage
		}
	}

	return FailureMessage
}

// generate performs one round trip. A nil error with empty text means the
// endpoint answered but produced nothing usable.
func (c *Client) generate(ctx context.Context, req generateRequest) (string, int, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return "", 0, err
	}

	url := fmt.Sprintf("%s/models/%s:generateContent", c.baseURL, c.model)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", 0, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", 0, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", resp.StatusCode, err
	}
	if resp.StatusCode != http.StatusOK {
		return "", resp.StatusCode, fmt.Errorf("generate request failed with status %d: %s",
			resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	var gen generateResponse
	if err := json.Unmarshal(respBody, &gen); err != nil {
		return "", resp.StatusCode, err
	}

	var text strings.Builder
	if len(gen.Candidates) > 0 {
		for _, p := range gen.Candidates[0].Content.Parts {
			text.WriteString(p.Text)
		}
	}
	return strings.TrimSpace(text.String()), resp.StatusCode, nil
}
