// Package controlstore is the typed RPC client over the external
// control/framework catalog (SPEC_FULL.md §4 "opaque collaborators"):
// Intake and the Orchestrator's S1 verify existence and fetch control
// content through it, but this module never owns its schema or storage.
// Grounded the same way as scienceclient/agentclient on the teacher's
// internal/client/config.go transport tuning, generalized to a
// hand-written JSON client since no OpenAPI spec is vendored for it.
package controlstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/nexuscompliance/mapping-engine/internal/httpclient"
)

// Control is the subset of catalog fields the pipeline needs: enough to
// drive AgentClient.enrich and the raw-description fallback.
type Control struct {
	ControlKey       string `json:"controlKey"`
	ControlID        string `json:"controlId"`
	FrameworkName    string `json:"frameworkName"`
	FrameworkVersion string `json:"frameworkVersion"`
	Title            string `json:"title"`
	Description      string `json:"description"`
}

type Framework struct {
	FrameworkKey string   `json:"frameworkKey"`
	Name         string   `json:"name"`
	Version      string   `json:"version"`
	ControlIDs   []string `json:"controlIds"` // active controls only
}

var ErrNotFound = fmt.Errorf("not found")

// Client is the narrow read surface Intake and the Orchestrator need.
type Client interface {
	GetControl(ctx context.Context, controlKey string) (*Control, error)
	GetFramework(ctx context.Context, frameworkKey string) (*Framework, error)
	// ListControlIDs enumerates control ids within scope — the whole
	// catalog when frameworkKey is empty, a single framework otherwise —
	// for Intake's Levenshtein-ranked suggestions on a miss.
	ListControlIDs(ctx context.Context, frameworkKey string) ([]string, error)
}

type HTTPClient struct {
	baseURL    string
	httpClient *http.Client
}

var _ Client = (*HTTPClient)(nil)

func NewHTTPClient(baseURL string) *HTTPClient {
	return &HTTPClient{baseURL: baseURL, httpClient: httpclient.New()}
}

func (c *HTTPClient) GetControl(ctx context.Context, controlKey string) (*Control, error) {
	var out Control
	if err := c.get(ctx, "/v1/controls/"+url.PathEscape(controlKey), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *HTTPClient) GetFramework(ctx context.Context, frameworkKey string) (*Framework, error) {
	var out Framework
	if err := c.get(ctx, "/v1/frameworks/"+url.PathEscape(frameworkKey), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *HTTPClient) ListControlIDs(ctx context.Context, frameworkKey string) ([]string, error) {
	path := "/v1/controls"
	if frameworkKey != "" {
		path += "?frameworkKey=" + url.QueryEscape(frameworkKey)
	}
	var out []string
	if err := c.get(ctx, path, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *HTTPClient) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, bytes.NewReader(nil))
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("control store %s: unexpected status %d", path, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
