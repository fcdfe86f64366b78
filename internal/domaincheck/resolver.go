package domaincheck

import (
	"context"
	"errors"
	"net"
	"time"
)

// Status classifies the outcome of a domain check.
type Status string

const (
	StatusAlive           Status = "alive"
	StatusNoDomain        Status = "no_domain"
	StatusInvalid         Status = "invalid"
	StatusNXDomain        Status = "nxdomain"
	StatusNoARecord       Status = "no_a_record"
	StatusDNSTimeout      Status = "dns_timeout"
	StatusDNSUnresolved   Status = "dns_unresolved"
	StatusDNSError        Status = "dns_error"
	StatusNonUSCountry    Status = "non_us_country"
	StatusCDNInconclusive Status = "cdn_inconclusive"
	StatusGeoInconclusive Status = "geo_inconclusive"
)

// Verdict is the structured result of validating one domain.
type Verdict struct {
	Domain     string    `json:"domain"`
	Status     Status    `json:"status"`
	Detail     string    `json:"detail,omitempty"`
	IPs        []string  `json:"ips,omitempty"`
	GeoStatus  string    `json:"geoStatus,omitempty"`
	GeoCountry string    `json:"geoCountry,omitempty"`
	CheckedAt  time.Time `json:"checkedAt"`
}

// Alive reports whether the domain resolved.
func (v Verdict) Alive() bool {
	switch v.Status {
	case StatusAlive, StatusCDNInconclusive, StatusGeoInconclusive:
		return true
	}
	return false
}

// AllowsRow folds the verdict into the row disposition. Definitive DNS
// and geo failures remove the row; CDN/unknown-geo states pass as
// inconclusive.
func (v Verdict) AllowsRow() bool {
	switch v.Status {
	case StatusAlive, StatusCDNInconclusive, StatusGeoInconclusive:
		return true
	}
	return false
}

// DNSResolver is the lookup surface the checker depends on.
// *net.Resolver satisfies it.
type DNSResolver interface {
	LookupMX(ctx context.Context, name string) ([]*net.MX, error)
	LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error)
}

const (
	// DefaultLookupTimeout bounds each DNS query.
	DefaultLookupTimeout = 3 * time.Second
	// retryBackoff is the pause before the single retry of a
	// transient DNS failure.
	retryBackoff = 250 * time.Millisecond
)

// Checker performs DNS liveness checks with optional geo/CDN
// classification of resolved IPs.
type Checker struct {
	resolver DNSResolver
	geo      *GeoClassifier
	timeout  time.Duration
}

// NewChecker builds a Checker. A nil resolver uses net.DefaultResolver;
// a nil geo classifier disables the geo layer. timeout <= 0 falls back
// to DefaultLookupTimeout.
func NewChecker(resolver DNSResolver, geo *GeoClassifier, timeout time.Duration) *Checker {
	if resolver == nil {
		resolver = net.DefaultResolver
	}
	if timeout <= 0 {
		timeout = DefaultLookupTimeout
	}
	return &Checker{resolver: resolver, geo: geo, timeout: timeout}
}

// Check validates a single raw domain value. Network failures are
// folded into the verdict, never returned as errors.
func (c *Checker) Check(ctx context.Context, raw string) Verdict {
	now := time.Now().UTC()
	if isPlaceholder(raw) {
		return Verdict{Domain: Normalize(raw), Status: StatusNoDomain, CheckedAt: now}
	}
	domain := Normalize(raw)
	if !IsPlausible(domain) {
		return Verdict{Domain: domain, Status: StatusInvalid, CheckedAt: now}
	}

	v := c.lookup(ctx, domain)

	// One retry with a short backoff for transient failures.
	if v.Status == StatusDNSTimeout || v.Status == StatusDNSUnresolved || v.Status == StatusDNSError {
		select {
		case <-time.After(retryBackoff):
		case <-ctx.Done():
			return v
		}
		v = c.lookup(ctx, domain)
	}

	if v.Status == StatusAlive && c.geo != nil {
		geo := c.geo.Evaluate(v.IPs)
		v.Status = geo.Status
		v.GeoStatus = geo.GeoStatus
		v.GeoCountry = geo.Country
		if geo.Detail != "" {
			v.Detail = geo.Detail
		}
	}
	return v
}

// lookup tries MX first, then falls back to A records.
func (c *Checker) lookup(ctx context.Context, domain string) Verdict {
	v := Verdict{Domain: domain, CheckedAt: time.Now().UTC()}

	lctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	mx, mxErr := c.resolver.LookupMX(lctx, domain)
	if mxErr == nil && len(mx) > 0 {
		v.Status = StatusAlive
		v.Detail = "mx"
		// Best-effort A lookup so geo classification has IPs to work
		// with; failure here does not change the verdict.
		if addrs, err := c.resolver.LookupIPAddr(lctx, domain); err == nil {
			v.IPs = ipStrings(addrs)
		}
		return v
	}

	addrs, aErr := c.resolver.LookupIPAddr(lctx, domain)
	if aErr == nil && len(addrs) > 0 {
		v.Status = StatusAlive
		v.Detail = "a_record"
		v.IPs = ipStrings(addrs)
		return v
	}

	v.Status = classifyDNSError(aErr, mxErr)
	return v
}

func classifyDNSError(aErr, mxErr error) Status {
	err := aErr
	if err == nil {
		err = mxErr
	}
	if err == nil {
		return StatusNoARecord
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		switch {
		case dnsErr.IsNotFound:
			return StatusNXDomain
		case dnsErr.IsTimeout:
			return StatusDNSTimeout
		case dnsErr.IsTemporary:
			return StatusDNSUnresolved
		}
		return StatusDNSError
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return StatusDNSTimeout
	}
	return StatusDNSError
}

func ipStrings(addrs []net.IPAddr) []string {
	out := make([]string, 0, len(addrs))
	for _, a := range addrs {
		out = append(out, a.IP.String())
	}
	return out
}
