package domaincheck

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/leadhound/qualifier/internal/pkg/httpretry"
)

const (
	// HomepageMaxBytes caps how much of a homepage is read.
	HomepageMaxBytes = 200 * 1024
	// DefaultHomepageTimeout bounds one fetch attempt.
	DefaultHomepageTimeout = 10 * time.Second
)

var homepageHeaders = map[string]string{
	"User-Agent":      "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/122.0.0.0 Safari/537.36",
	"Accept":          "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8",
	"Accept-Language": "en-US,en;q=0.9",
}

// HomepageChecker fetches homepages and scores their B2B signals.
type HomepageChecker struct {
	client          httpretry.HTTPDoer
	maxBytes        int64
	strikeThreshold int
}

// NewHomepageChecker builds a checker. A nil client gets a retrying
// default with DefaultHomepageTimeout.
func NewHomepageChecker(client httpretry.HTTPDoer, strikeThreshold int) *HomepageChecker {
	if client == nil {
		client = httpretry.NewRetryClient(&http.Client{Timeout: DefaultHomepageTimeout}, 1)
	}
	if strikeThreshold <= 0 {
		strikeThreshold = SoftStrikeThreshold
	}
	return &HomepageChecker{client: client, maxBytes: HomepageMaxBytes, strikeThreshold: strikeThreshold}
}

// Check fetches the domain's homepage and scores it. Fetch failures
// produce an inconclusive verdict, never an error: a site we cannot
// reach is not evidence against the lead.
func (h *HomepageChecker) Check(ctx context.Context, domain string, websiteKeywords, excludeKeywords []string) HomepageSignals {
	clean := Normalize(domain)
	if clean == "" || !strings.Contains(clean, ".") {
		return HomepageSignals{
			Domain:          domain,
			CurrencySignals: "none",
			Status:          "disqualified:invalid_domain",
			Disqualified:    true,
		}
	}

	html, fetchStatus := h.fetch(ctx, clean)
	if html == "" {
		return HomepageSignals{
			Domain:          domain,
			CurrencySignals: "none",
			KeywordsMatch:   true,
			Status:          "inconclusive:" + fetchStatus,
		}
	}

	sig := ComputeSignals(domain, html, websiteKeywords, excludeKeywords, h.strikeThreshold)
	return sig
}

// fetch tries https and http, with and without a www prefix, and
// returns the first successful body up to maxBytes plus a status label
// describing the last attempt.
func (h *HomepageChecker) fetch(ctx context.Context, domain string) (string, string) {
	attempts := []string{"https://" + domain, "http://" + domain}
	if !strings.HasPrefix(domain, "www.") {
		attempts = append(attempts, "https://www."+domain, "http://www."+domain)
	}

	lastStatus := "fetch_failed"
	for _, url := range attempts {
		if ctx.Err() != nil {
			return "", "fetch_cancelled"
		}
		body, status := h.fetchOne(ctx, url)
		if body != "" {
			return body, status
		}
		if status != "" {
			lastStatus = status
		}
	}
	return "", lastStatus
}

func (h *HomepageChecker) fetchOne(ctx context.Context, url string) (string, string) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", "fetch_bad_url"
	}
	for k, v := range homepageHeaders {
		req.Header.Set(k, v)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return "", classifyFetchError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return "", fmt.Sprintf("http_%d", resp.StatusCode)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, h.maxBytes))
	if err != nil && len(raw) == 0 {
		return "", "fetch_read_error"
	}
	if len(raw) == 0 {
		return "", "empty_response"
	}
	return string(raw), fmt.Sprintf("http_%d", resp.StatusCode)
}

func classifyFetchError(err error) string {
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "fetch_timeout"
	case errors.As(err, &netErr) && netErr.Timeout():
		return "fetch_timeout"
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return "fetch_connect_error"
	}
	return "fetch_error"
}
