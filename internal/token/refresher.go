// Package token re-authenticates a run when the system under test rejects
// a request with an auth status.
package token

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"qguard/internal/extractor"
	"qguard/internal/template"
	"qguard/internal/transport"
	"qguard/internal/variables"
	"qguard/pkg/logging"
)

// ErrRefreshFailed is returned when the refresh call did not yield a token.
var ErrRefreshFailed = errors.New("token refresh failed")

// DefaultRetryStatusCodes trigger a refresh when a config lists none.
var DefaultRetryStatusCodes = []int{http.StatusUnauthorized, http.StatusForbidden}

// Config describes the auxiliary request that obtains a fresh token.
type Config struct {
	URL              string                 `json:"url" yaml:"url"`
	Method           string                 `json:"method,omitempty" yaml:"method,omitempty"`
	Headers          map[string]interface{} `json:"headers,omitempty" yaml:"headers,omitempty"`
	Params           map[string]interface{} `json:"params,omitempty" yaml:"params,omitempty"`
	Body             interface{}            `json:"body,omitempty" yaml:"body,omitempty"`
	Extractors       []extractor.Spec       `json:"extractors,omitempty" yaml:"extractors,omitempty"`
	RetryStatusCodes []int                  `json:"retry_status_codes,omitempty" yaml:"retry_status_codes,omitempty"`
}

// ShouldRefresh reports whether status triggers a refresh. A nil config
// never does.
func (c *Config) ShouldRefresh(status int) bool {
	if c == nil || c.URL == "" {
		return false
	}
	codes := c.RetryStatusCodes
	if len(codes) == 0 {
		codes = DefaultRetryStatusCodes
	}
	for _, code := range codes {
		if code == status {
			return true
		}
	}
	return false
}

// Outcome describes one refresh attempt.
type Outcome struct {
	Status    int
	Extracted int
	Lines     []string
}

// Refresher performs token refresh calls.
type Refresher struct {
	sender   transport.Sender
	resolver *template.Resolver
}

// NewRefresher creates a refresher sending through sender.
func NewRefresher(sender transport.Sender, resolver *template.Resolver) *Refresher {
	return &Refresher{sender: sender, resolver: resolver}
}

// Refresh issues the token request once and extracts its variables into
// pool. It succeeds only when the call completes with a status below 400 and
// at least one variable was extracted; otherwise the error wraps
// ErrRefreshFailed.
func (r *Refresher) Refresh(ctx context.Context, cfg *Config, baseURL string, vars map[string]interface{}, pool *variables.Pool) (Outcome, error) {
	var out Outcome
	if cfg == nil || cfg.URL == "" {
		return out, fmt.Errorf("%w: no token config", ErrRefreshFailed)
	}

	method := cfg.Method
	if method == "" {
		method = http.MethodPost
	}
	req := r.resolver.ResolvePlain(template.Request{
		Method:  method,
		Path:    cfg.URL,
		Headers: cfg.Headers,
		Params:  cfg.Params,
		Body:    cfg.Body,
	}, vars)

	out.Lines = append(out.Lines, fmt.Sprintf("🔑 refreshing token: %s %s", req.Method, transport.JoinURL(baseURL, req.Path)))
	logging.Info("TokenRefresher", "Refreshing token via %s %s", req.Method, req.Path)

	resp, err := r.sender.Send(ctx, baseURL, req)
	if err != nil {
		out.Lines = append(out.Lines, fmt.Sprintf("✗ token request failed: %v", err))
		return out, fmt.Errorf("%w: %v", ErrRefreshFailed, err)
	}
	out.Status = resp.Status
	if resp.Status >= 400 {
		out.Lines = append(out.Lines, fmt.Sprintf("✗ token request returned HTTP %d", resp.Status))
		return out, fmt.Errorf("%w: token endpoint returned HTTP %d", ErrRefreshFailed, resp.Status)
	}

	extracted := extractor.Extract(cfg.Extractors, extractor.Response{Body: resp.Body, Raw: resp.Raw}, pool)
	out.Lines = append(out.Lines, extracted.Lines...)
	out.Extracted = extracted.Extracted
	if extracted.Extracted == 0 {
		out.Lines = append(out.Lines, "✗ token response yielded no variables")
		return out, fmt.Errorf("%w: no variables extracted", ErrRefreshFailed)
	}

	out.Lines = append(out.Lines, fmt.Sprintf("✓ token refreshed (%d variables)", extracted.Extracted))
	return out, nil
}
