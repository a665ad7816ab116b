// Package httpclient builds the tuned *http.Client shared by ScienceClient
// and AgentClient, grounded on the teacher's internal/client/config.go
// NewHTTPClientFromConfig transport tuning.
package httpclient

import (
	"net"
	"net/http"
	"time"
)

// New returns an *http.Client whose overall per-request deadline is left to
// the caller's context; Timeout is intentionally unset here so a caller can
// layer its own per-attempt timeout via context.WithTimeout.
func New() *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout:   10 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			ForceAttemptHTTP2:     true,
			MaxIdleConns:          100,
			MaxIdleConnsPerHost:   20,
			IdleConnTimeout:       90 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		},
	}
}
