// Package scienceclient is C5 from spec.md §4.5: a typed RPC wrapper over
// the inference service's embed, retrieve and rerank operations, grounded
// on the teacher's internal/client/config.go transport tuning and
// request-id propagation, generalized from a generated OpenAPI client to a
// small hand-written JSON-over-HTTP client since no client spec is vendored
// for this service.
package scienceclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"sync/atomic"
	"time"

	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/nexuscompliance/mapping-engine/internal/httpclient"
	"github.com/nexuscompliance/mapping-engine/internal/pipelineerr"
	"github.com/nexuscompliance/mapping-engine/pkg/requestid"
)

const (
	defaultReadTimeout    = 30 * time.Second
	defaultOverallTimeout = 120 * time.Second

	// vectorNormEpsilon is B4's tolerance for unit-norm drift: spec.md §8
	// flags an embedding ScienceUnavailable if its L2 norm strays from 1 by
	// more than this.
	vectorNormEpsilon = 1e-6
)

var retryBackoff = []time.Duration{500 * time.Millisecond, 1 * time.Second, 2 * time.Second}

type EmbedResult struct {
	Vector   []float64 `json:"vector"`
	CacheHit bool      `json:"cacheHit"`
}

type RetrieveMatch struct {
	Index      int     `json:"index"`
	Similarity float64 `json:"similarity"`
}

type RerankCandidate struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

type RerankResult struct {
	ID    string  `json:"id"`
	Score float64 `json:"score"`
}

// Client is the ScienceClient contract: three idempotent, side-effect-free
// operations, each retried up to 3 times on transient failure.
type Client interface {
	Embed(ctx context.Context, controlID, text string) (EmbedResult, error)
	Retrieve(ctx context.Context, sourceVector []float64, targetVectors [][]float64, topK int) ([]RetrieveMatch, error)
	Rerank(ctx context.Context, sourceText string, candidates []RerankCandidate) ([]RerankResult, error)
}

type HTTPClient struct {
	baseURL        string
	httpClient     *http.Client
	readTimeout    time.Duration
	overallTimeout time.Duration
	// vectorDimension is the configured embedding width (config.go's
	// NEXUS_VECTOR_DIMENSION); <= 0 skips the dimension check, used by
	// tests that don't care to pin a width.
	vectorDimension int
	lastOK          atomic.Bool
}

var _ Client = (*HTTPClient)(nil)

// NewHTTPClient builds a client dialing baseURL with the given per-attempt
// and whole-call timeouts (config.ScienceConfig's ReadTimeout/OverallTimeout),
// validating every embed response against vectorDimension.
func NewHTTPClient(baseURL string, readTimeout, overallTimeout time.Duration, vectorDimension int) *HTTPClient {
	if readTimeout <= 0 {
		readTimeout = defaultReadTimeout
	}
	if overallTimeout <= 0 {
		overallTimeout = defaultOverallTimeout
	}
	c := &HTTPClient{
		baseURL:         baseURL,
		httpClient:      httpclient.New(),
		readTimeout:     readTimeout,
		overallTimeout:  overallTimeout,
		vectorDimension: vectorDimension,
	}
	c.lastOK.Store(true)
	return c
}

// Healthy reports whether the most recent RPC (of any kind) succeeded. It is
// bookkeeping only, surfaced through the /health aggregate endpoint; it never
// gates a workflow run in-process.
func (c *HTTPClient) Healthy(ctx context.Context) bool {
	return c.lastOK.Load()
}

type embedRequest struct {
	ControlID string `json:"controlId"`
	Text      string `json:"text"`
}

// Embed returns a vector and enforces B4: a result whose L2 norm isn't unit
// within vectorNormEpsilon, or whose dimension doesn't match the configured
// width, is treated the same as any other ScienceUnavailable failure.
func (c *HTTPClient) Embed(ctx context.Context, controlID, text string) (EmbedResult, error) {
	var out EmbedResult
	if err := c.call(ctx, "/v1/embed", embedRequest{ControlID: controlID, Text: text}, &out); err != nil {
		return EmbedResult{}, err
	}
	if err := validateVector(out.Vector, c.vectorDimension); err != nil {
		c.lastOK.Store(false)
		return EmbedResult{}, pipelineerr.New(pipelineerr.KindScienceUnavailable, err)
	}
	return out, nil
}

func validateVector(vector []float64, dimension int) error {
	if dimension > 0 && len(vector) != dimension {
		return fmt.Errorf("embedding dimension %d does not match configured dimension %d", len(vector), dimension)
	}
	var sumSquares float64
	for _, v := range vector {
		sumSquares += v * v
	}
	norm := math.Sqrt(sumSquares)
	if math.Abs(norm-1) > vectorNormEpsilon {
		return fmt.Errorf("embedding L2 norm %v is not unit within epsilon %v", norm, vectorNormEpsilon)
	}
	return nil
}

type retrieveRequest struct {
	SourceVector  []float64   `json:"sourceVector"`
	TargetVectors [][]float64 `json:"targetVectors"`
	TopK          int         `json:"topK"`
}

func (c *HTTPClient) Retrieve(ctx context.Context, sourceVector []float64, targetVectors [][]float64, topK int) ([]RetrieveMatch, error) {
	var out []RetrieveMatch
	err := c.call(ctx, "/v1/retrieve", retrieveRequest{SourceVector: sourceVector, TargetVectors: targetVectors, TopK: topK}, &out)
	return out, err
}

type rerankRequest struct {
	SourceText string            `json:"sourceText"`
	Candidates []RerankCandidate `json:"candidates"`
}

func (c *HTTPClient) Rerank(ctx context.Context, sourceText string, candidates []RerankCandidate) ([]RerankResult, error) {
	var out []RerankResult
	err := c.call(ctx, "/v1/rerank", rerankRequest{SourceText: sourceText, Candidates: candidates}, &out)
	return out, err
}

// call performs one logical RPC with up to len(retryBackoff)+1 attempts,
// classifying failures per spec.md §7: a 5xx or timeout is ScienceTransient
// until retries are exhausted, at which point it becomes ScienceUnavailable.
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
				return pipelineerr.New(pipelineerr.KindScienceUnavailable, overallCtx.Err())
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
			return pipelineerr.New(pipelineerr.KindScienceUnavailable, err)
		}
	}

	c.lastOK.Store(false)
	return pipelineerr.New(pipelineerr.KindScienceUnavailable, fmt.Errorf("retries exhausted: %w", lastErr))
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
		return transientError{fmt.Errorf("science service %s: %d: %s", path, resp.StatusCode, string(body))}
	}
	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("science service %s: %d: %s", path, resp.StatusCode, string(body))
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
