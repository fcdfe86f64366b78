package rules

import "strings"

// countryAliases maps common country names and codes to ISO 3166-1
// alpha-2 codes for geo_country rules.
var countryAliases = map[string]string{
	"us": "US", "usa": "US", "united states": "US", "united states of america": "US", "america": "US",
	"uk": "GB", "gb": "GB", "united kingdom": "GB", "great britain": "GB", "england": "GB",
	"ca": "CA", "canada": "CA",
	"au": "AU", "australia": "AU",
	"de": "DE", "germany": "DE", "deutschland": "DE",
	"fr": "FR", "france": "FR",
	"es": "ES", "spain": "ES", "españa": "ES",
	"it": "IT", "italy": "IT", "italia": "IT",
	"nl": "NL", "netherlands": "NL", "holland": "NL",
	"se": "SE", "sweden": "SE",
	"no": "NO", "norway": "NO",
	"dk": "DK", "denmark": "DK",
	"fi": "FI", "finland": "FI",
	"ie": "IE", "ireland": "IE",
	"nz": "NZ", "new zealand": "NZ",
	"sg": "SG", "singapore": "SG",
	"jp": "JP", "japan": "JP",
	"kr": "KR", "south korea": "KR", "korea": "KR",
	"in": "IN", "india": "IN",
	"br": "BR", "brazil": "BR",
	"mx": "MX", "mexico": "MX",
	"il": "IL", "israel": "IL",
	"ch": "CH", "switzerland": "CH",
	"at": "AT", "austria": "AT",
	"be": "BE", "belgium": "BE",
	"pt": "PT", "portugal": "PT",
	"pl": "PL", "poland": "PL",
	"cz": "CZ", "czech republic": "CZ", "czechia": "CZ",
}

// NormalizeCountry maps a country name or code to an ISO2 code.
// Unknown inputs are uppercased so that comparing two normalized
// values is always case-insensitive.
func NormalizeCountry(value string) string {
	v := strings.ToLower(strings.TrimSpace(value))
	if iso, ok := countryAliases[v]; ok {
		return iso
	}
	return strings.ToUpper(v)
}
