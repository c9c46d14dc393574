package predict

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/curvewatch/curvewatch/internal/feed"
)

// ---------------------------------------------------------------------------
// Scorer client: the external scoring service is an opaque JSON-over-HTTP
// collaborator. One request per mint; failures are isolated per request.
// ---------------------------------------------------------------------------

// TokenSummary is the token-level feature block of a scoring request.
type TokenSummary struct {
	Mint              string  `json:"mint"`
	InitialBuySol     float64 `json:"initialBuySol"`
	InitialBuyPercent float64 `json:"initialBuyPercent"`
	Liquidity         float64 `json:"liquidity"`
	MarketCap         float64 `json:"marketCap"`
}

// Request is one scoring call: a trade window plus the token summary.
type Request struct {
	Trades []feed.TradeEvent `json:"trades"`
	Token  TokenSummary      `json:"token"`
}

// Prediction is the scorer's verdict for one token.
type Prediction struct {
	Probability float64         `json:"probability"`
	IsPromising bool            `json:"isPromising"`
	Analysis    json.RawMessage `json:"analysis,omitempty"`
}

// Client scores one token per call.
type Client interface {
	Score(ctx context.Context, req Request) (*Prediction, error)
}

// HTTPClient calls the scoring service over HTTP.
type HTTPClient struct {
	url    string
	client *http.Client
}

// NewHTTPClient creates a scorer client for the given endpoint.
func NewHTTPClient(url string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
}

// Score posts one scoring request. Any non-2xx response is an error for
// this mint only.
func (c *HTTPClient) Score(ctx context.Context, req Request) (*Prediction, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("scorer: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("scorer: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Request-ID", uuid.NewString())

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("scorer: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return nil, fmt.Errorf("scorer: status %d: %s", resp.StatusCode, snippet)
	}

	var prediction Prediction
	if err := json.NewDecoder(resp.Body).Decode(&prediction); err != nil {
		return nil, fmt.Errorf("scorer: decode response: %w", err)
	}
	return &prediction, nil
}

// StubClient is a deterministic scorer for testing. It returns pre-loaded
// predictions in order, cycling when exhausted, and records every request.
type StubClient struct {
	mu        sync.Mutex
	responses []Prediction
	idx       int
	healthy   bool
	requests  []Request
}

// NewStubClient creates a StubClient with pre-loaded predictions.
func NewStubClient(responses []Prediction) *StubClient {
	return &StubClient{responses: responses, healthy: true}
}

// Score returns the next pre-loaded prediction, or an error when the stub
// has been marked unhealthy.
func (s *StubClient) Score(_ context.Context, req Request) (*Prediction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.requests = append(s.requests, req)

	if !s.healthy {
		return nil, fmt.Errorf("stub scorer is unhealthy")
	}
	if len(s.responses) == 0 {
		return nil, fmt.Errorf("stub scorer has no responses configured")
	}

	resp := s.responses[s.idx]
	s.idx = (s.idx + 1) % len(s.responses)
	return &resp, nil
}

// SetHealthy flips the stub between working and failing.
func (s *StubClient) SetHealthy(healthy bool) {
	s.mu.Lock()
	s.healthy = healthy
	s.mu.Unlock()
}

// Requests returns all requests seen so far.
func (s *StubClient) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Request(nil), s.requests...)
}
