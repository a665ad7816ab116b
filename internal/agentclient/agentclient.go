// Package agentclient is C6 from spec.md §4.6: a typed RPC wrapper over the
// agent service's enrich and reason operations, grounded the same way as
// scienceclient on the teacher's internal/client/config.go transport idiom.
package agentclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/nexuscompliance/mapping-engine/internal/httpclient"
	"github.com/nexuscompliance/mapping-engine/internal/pipelineerr"
	"github.com/nexuscompliance/mapping-engine/pkg/requestid"
)

const (
	defaultReadTimeout    = 60 * time.Second
	defaultOverallTimeout = 120 * time.Second
)

var retryBackoff = []time.Duration{1 * time.Second, 2 * time.Second}

type EnrichRequest struct {
	FrameworkName    string `json:"frameworkName"`
	FrameworkVersion string `json:"frameworkVersion"`
	ShortID          string `json:"shortId"`
	Title            string `json:"title"`
	Description      string `json:"description"`
}

type EnrichResult struct {
	EnrichedText string `json:"enrichedText"`
	Status       string `json:"status"`
}

type ReasonMapping struct {
	TargetControlID string  `json:"targetControlId"`
	TargetFramework string  `json:"targetFramework"`
	Text            string  `json:"text"`
	SimilarityScore float64 `json:"similarityScore"`
	RerankScore     float64 `json:"rerankScore"`
}

type ReasonRequest struct {
	SourceControlID string        `json:"sourceControlId"`
	SourceText      string        `json:"sourceText"`
	Mapping         ReasonMapping `json:"mapping"`
}

type ReasonResult struct {
	Reasoning string `json:"reasoning"`
	Status    string `json:"status"`
}

// Client is the AgentClient contract. Enrich is retried up to 2 times and
// degrades to the raw source description on exhaustion (non-fatal); Reason
// is retried up to 2 times and degrades to an empty reasoning string.
type Client interface {
	Enrich(ctx context.Context, req EnrichRequest) (EnrichResult, error)
	Reason(ctx context.Context, req ReasonRequest) (ReasonResult, error)
}

type HTTPClient struct {
	baseURL        string
	httpClient     *http.Client
	readTimeout    time.Duration
	overallTimeout time.Duration
	lastOK         atomic.Bool
}

var _ Client = (*HTTPClient)(nil)

// NewHTTPClient builds a client dialing baseURL with the given per-attempt
// and whole-call timeouts (config.AgentConfig's ReadTimeout/OverallTimeout),
// applied uniformly to both Enrich and Reason.
func NewHTTPClient(baseURL string, readTimeout, overallTimeout time.Duration) *HTTPClient {
	if readTimeout <= 0 {
		readTimeout = defaultReadTimeout
	}
	if overallTimeout <= 0 {
		overallTimeout = defaultOverallTimeout
	}
	c := &HTTPClient{baseURL: baseURL, httpClient: httpclient.New(), readTimeout: readTimeout, overallTimeout: overallTimeout}
	c.lastOK.Store(true)
	return c
}

// Healthy reports whether the most recent RPC (of either kind) succeeded. It
// is bookkeeping only, surfaced through the /health aggregate endpoint; it
// never gates a workflow run in-process.
func (c *HTTPClient) Healthy(ctx context.Context) bool {
	return c.lastOK.Load()
}

func (c *HTTPClient) Enrich(ctx context.Context, req EnrichRequest) (EnrichResult, error) {
	var out EnrichResult
	err := c.call(ctx, "/v1/enrich", req, &out)
	return out, err
}

func (c *HTTPClient) Reason(ctx context.Context, req ReasonRequest) (ReasonResult, error) {
	var out ReasonResult
	err := c.call(ctx, "/v1/reason", req, &out)
	return out, err
}

func (c *HTTPClient) call(ctx context.Context, path string, reqBody, respBody any) error {
	overallCtx, cancel := context.WithTimeout(ctx, c.overallTimeout)
	defer cancel()

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return pipelineerr.New(pipelineerr.KindInternal, err)
	}

	var lastErr error
	attempts := len(retryBackoff) + 1
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(retryBackoff[attempt-1]):
			case <-overallCtx.Done():
				c.lastOK.Store(false)
				return pipelineerr.New(pipelineerr.KindAgentUnavailable, overallCtx.Err())
			}
		}

		attemptCtx, attemptCancel := context.WithTimeout(overallCtx, c.readTimeout)
		err := c.attempt(attemptCtx, path, payload, respBody)
		attemptCancel()
		if err == nil {
			c.lastOK.Store(true)
			return nil
		}
		lastErr = err
		if !isTransient(err) {
			c.lastOK.Store(false)
			return pipelineerr.New(pipelineerr.KindAgentUnavailable, err)
		}
	}

	c.lastOK.Store(false)
	return pipelineerr.New(pipelineerr.KindAgentUnavailable, fmt.Errorf("retries exhausted: %w", lastErr))
}

func (c *HTTPClient) attempt(ctx context.Context, path string, payload []byte, respBody any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(chimiddleware.RequestIDHeader, requestid.FromContext(ctx))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return transientError{err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return transientError{fmt.Errorf("agent service %s: %d: %s", path, resp.StatusCode, string(body))}
	}
	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("agent service %s: %d: %s", path, resp.StatusCode, string(body))
	}

	if respBody == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(respBody)
}

type transientError struct{ error }

func isTransient(err error) bool {
	_, ok := err.(transientError)
	return ok
}
