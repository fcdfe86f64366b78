package domaincheck

import (
	"net"
	"sort"
	"strings"
)

// CountryLookup resolves an IP to an ISO2 country code. Implementations
// return "" when the IP cannot be classified.
type CountryLookup interface {
	Country(ip string) string
}

// cdnRanges maps well-known CDN/cloud providers to their public IPv4
// ranges. Domains fronted by these providers cannot be geo-located
// from their resolved IPs, so they pass as inconclusive.
var cdnRanges = map[string][]string{
	"cloudflare": {
		"173.245.48.0/20", "103.21.244.0/22", "103.22.200.0/22",
		"103.31.4.0/22", "141.101.64.0/18", "108.162.192.0/18",
		"190.93.240.0/20", "188.114.96.0/20", "197.234.240.0/22",
		"198.41.128.0/17", "162.158.0.0/15", "104.16.0.0/13",
		"172.64.0.0/13", "131.0.72.0/22",
	},
	"aws": {
		"13.32.0.0/15", "13.224.0.0/14", "18.64.0.0/14",
		"52.46.0.0/18", "52.82.128.0/19", "54.182.0.0/16",
	},
	"gcp": {
		"34.64.0.0/10", "34.128.0.0/10", "35.184.0.0/13",
		"35.192.0.0/14", "35.196.0.0/15", "35.198.0.0/16",
	},
	"azure": {
		"20.0.0.0/11", "20.33.0.0/16", "40.64.0.0/10", "52.224.0.0/11",
	},
	"vercel": {
		"76.76.21.0/24", "76.76.22.0/24", "76.76.26.0/24", "216.198.79.0/24",
	},
	"fastly": {
		"151.101.0.0/16", "146.75.0.0/16", "185.31.16.0/22",
	},
	"akamai": {
		"23.32.0.0/11", "23.192.0.0/11", "96.6.0.0/15", "184.24.0.0/13",
	},
}

type cdnNetwork struct {
	provider string
	net      *net.IPNet
}

var compiledCDNNetworks = compileCDNNetworks()

func compileCDNNetworks() []cdnNetwork {
	var out []cdnNetwork
	for provider, cidrs := range cdnRanges {
		for _, cidr := range cidrs {
			_, n, err := net.ParseCIDR(cidr)
			if err != nil {
				continue
			}
			out = append(out, cdnNetwork{provider: provider, net: n})
		}
	}
	return out
}

// cdnProvider returns the CDN provider owning the IP, or "".
func cdnProvider(ip string) string {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return ""
	}
	for _, c := range compiledCDNNetworks {
		if c.net.Contains(parsed) {
			return c.provider
		}
	}
	return ""
}

// GeoEvaluation is the outcome of classifying a domain's resolved IPs.
type GeoEvaluation struct {
	Status    Status
	GeoStatus string
	Country   string
	Detail    string
}

// GeoClassifier decides whether a resolved domain is US-hosted,
// foreign, or inconclusive (CDN-fronted or unknown geography).
type GeoClassifier struct {
	lookup CountryLookup
}

// NewGeoClassifier builds a classifier. lookup may be nil, in which
// case only CDN detection runs and everything else is inconclusive.
func NewGeoClassifier(lookup CountryLookup) *GeoClassifier {
	return &GeoClassifier{lookup: lookup}
}

// Evaluate classifies the IPs. Any non-US country hit disqualifies;
// CDN hits or unknown geography pass as inconclusive; at least one US
// hit with no foreign hits confirms US hosting.
func (g *GeoClassifier) Evaluate(ips []string) GeoEvaluation {
	usHit := false
	nonUS := map[string]struct{}{}
	cdnHits := map[string]struct{}{}

	for _, ip := range ips {
		if provider := cdnProvider(ip); provider != "" {
			cdnHits[provider] = struct{}{}
			continue
		}
		country := ""
		if g.lookup != nil {
			country = strings.ToUpper(g.lookup.Country(ip))
		}
		switch country {
		case "":
			// unknown, stays inconclusive
		case "US":
			usHit = true
		default:
			nonUS[country] = struct{}{}
		}
	}

	switch {
	case len(nonUS) > 0:
		countries := sortedKeys(nonUS)
		return GeoEvaluation{
			Status:    StatusNonUSCountry,
			GeoStatus: "non_us",
			Country:   strings.Join(countries, ","),
			Detail:    strings.Join(countries, ","),
		}
	case len(cdnHits) > 0:
		return GeoEvaluation{
			Status:    StatusCDNInconclusive,
			GeoStatus: "inconclusive_cdn",
			Detail:    strings.Join(sortedKeys(cdnHits), ","),
		}
	case usHit:
		return GeoEvaluation{Status: StatusAlive, GeoStatus: "us", Country: "US"}
	}
	return GeoEvaluation{Status: StatusGeoInconclusive, GeoStatus: "inconclusive_geo"}
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
