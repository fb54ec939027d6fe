// Package facts provides a client for the standardized company-facts API
// that serves XBRL-derived financial data per accession.
package facts

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/sells-group/filing-summary/internal/resilience"
)

// Provider defines the financial-facts operations used by the pipeline.
type Provider interface {
	// CompanyConcepts fetches the standardized metric series for a company.
	CompanyConcepts(ctx context.Context, cik string) (*CompanyFacts, error)
}

// CompanyFacts is the parsed company-facts response.
type CompanyFacts struct {
	CIK        string                   `json:"cik"`
	EntityName string                   `json:"entityName"`
	Concepts   map[string]ConceptSeries `json:"facts"`
}

// ConceptSeries holds the reported values for one standardized concept
// (e.g. us-gaap Revenues) across filings.
type ConceptSeries struct {
	Label  string      `json:"label"`
	Unit   string      `json:"unit"`
	Points []FactPoint `json:"points"`
}

// FactPoint is a single reported value.
type FactPoint struct {
	End          string  `json:"end"`
	Value        float64 `json:"val"`
	Accession    string  `json:"accn"`
	Form         string  `json:"form"`
	FiscalYear   int     `json:"fy,omitempty"`
	FiscalPeriod string  `json:"fp,omitempty"`
}

// LatestFor returns the most recent point filed under the given accession,
// or the newest point overall when accession is empty.
func (s ConceptSeries) LatestFor(accession string) (FactPoint, bool) {
	var best FactPoint
	var found bool
	for _, p := range s.Points {
		if accession != "" && p.Accession != accession {
			continue
		}
		if !found || p.End > best.End {
			best = p
			found = true
		}
	}
	return best, found
}

// Option configures the facts client.
type Option func(*httpClient)

// WithBaseURL sets a custom base URL (for testing).
func WithBaseURL(url string) Option {
	return func(c *httpClient) {
		c.baseURL = url
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithRateLimit overrides the default request rate.
func WithRateLimit(perSec float64) Option {
	return func(c *httpClient) {
		c.limiter = rate.NewLimiter(rate.Limit(perSec), 1)
	}
}

// WithUserAgent sets the User-Agent header the upstream API requires.
func WithUserAgent(ua string) Option {
	return func(c *httpClient) {
		c.userAgent = ua
	}
}

type httpClient struct {
	baseURL   string
	userAgent string
	http      *http.Client
	limiter   *rate.Limiter
}

// NewClient creates a new facts client. The upstream API enforces a
// per-client request rate, so all calls pass through a limiter.
func NewClient(opts ...Option) Provider {
	c := &httpClient{
		baseURL: "https://data.sec.gov",
		http: &http.Client{
			Timeout: 15 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		limiter: rate.NewLimiter(rate.Limit(8), 1),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *httpClient) CompanyConcepts(ctx context.Context, cik string) (*CompanyFacts, error) {
	reqURL := fmt.Sprintf("%s/api/xbrl/companyfacts/CIK%s.json", c.baseURL, padCIK(cik))

	retryCfg := resilience.DefaultRetryConfig()
	retryCfg.OnRetry = resilience.RetryLogger("facts", "company_concepts")

	body, err := resilience.DoVal(ctx, retryCfg, func(ctx context.Context) ([]byte, error) {
		return c.fetch(ctx, reqURL)
	})
	if err != nil {
		return nil, err
	}

	parsed, err := parseCompanyFacts(cik, body)
	if err != nil {
		return nil, eris.Wrap(err, "facts: parse response")
	}
	return parsed, nil
}

// fetch performs one rate-limited GET. Responses with retryable status
// codes come back as transient errors so the retry loop tries again.
func (c *httpClient) fetch(ctx context.Context, reqURL string) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "facts: rate limiter wait")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "facts: create request")
	}
	req.Header.Set("Accept", "application/json")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "facts: request failed")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "facts: read response body")
	}

	if resp.StatusCode != http.StatusOK {
		statusErr := eris.Errorf("facts: unexpected status %d: %s", resp.StatusCode, truncate(string(body), 200))
		if !resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return nil, statusErr
		}
		if secs, perr := strconv.Atoi(resp.Header.Get("Retry-After")); perr == nil && secs > 0 {
			return nil, resilience.NewThrottledError(statusErr, resp.StatusCode, time.Duration(secs)*time.Second)
		}
		return nil, resilience.NewTransientError(statusErr, resp.StatusCode)
	}

	return body, nil
}

// rawFacts mirrors the upstream response shape before flattening units.
type rawFacts struct {
	CIK        json.Number `json:"cik"`
	EntityName string      `json:"entityName"`
	Facts      map[string]map[string]struct {
		Label string `json:"label"`
		Units map[string][]FactPoint `json:"units"`
	} `json:"facts"`
}

// parseCompanyFacts flattens the taxonomy/concept/unit nesting into one
// concept map. When a concept reports in multiple units, the first unit wins;
// the pipeline only pre-seeds headline figures and does not need unit variants.
func parseCompanyFacts(cik string, body []byte) (*CompanyFacts, error) {
	var raw rawFacts
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, err
	}

	out := &CompanyFacts{
		CIK:        cik,
		EntityName: raw.EntityName,
		Concepts:   make(map[string]ConceptSeries),
	}
	for taxonomy, concepts := range raw.Facts {
		for name, concept := range concepts {
			for unit, points := range concept.Units {
				key := taxonomy + ":" + name
				if _, seen := out.Concepts[key]; seen {
					continue
				}
				out.Concepts[key] = ConceptSeries{
					Label:  concept.Label,
					Unit:   unit,
					Points: points,
				}
				break
			}
		}
	}
	return out, nil
}

func padCIK(cik string) string {
	for len(cik) < 10 {
		cik = "0" + cik
	}
	return cik
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
