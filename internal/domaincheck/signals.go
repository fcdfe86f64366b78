package domaincheck

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// SoftStrikeThreshold is the default number of soft strikes that
// disqualifies a homepage.
const SoftStrikeThreshold = 3

var b2bPositiveKeywords = []string{
	"platform", "api", "integration", "enterprise", "teams",
	"dashboard", "analytics", "workflow", "compliance", "soc",
	"deploy", "infrastructure", "saas", "b2b", "developer",
	"automation", "data platform", "security", "governance",
	"knowledge base", "documentation", "pricing", "book demo",
	"request demo", "contact sales", "for business",
}

var disqualifySignalKeywords = []string{
	"shop now", "add to cart", "free shipping", "download the app",
	"recipes", "portfolio site", "personal blog", "coming soon",
	"parked domain", "this domain is for sale", "wedding photography",
	"fashion store", "recipe blog",
}

var nonUSDCurrencySymbols = []string{"€", "£", "¥", "₹", "₩", "₽", "₺", "₫", "₪"}

var (
	usPhoneRe     = regexp.MustCompile(`(?:\+1[\s.\-]?)?(?:\(?\d{3}\)?[\s.\-]?)\d{3}[\s.\-]?\d{4}\b`)
	usStateAbbrRe = regexp.MustCompile(`\b(?:AL|AK|AZ|AR|CA|CO|CT|DE|FL|GA|HI|IA|ID|IL|IN|KS|KY|LA|MA|MD|ME|MI|MN|MO|MS|MT|NC|ND|NE|NH|NJ|NM|NV|NY|OH|OK|OR|PA|RI|SC|SD|TN|TX|UT|VA|VT|WA|WI|WV|WY|DC)\b`)
	usMentionRe   = regexp.MustCompile(`(?i)\b(united states|u\.s\.|usa)\b`)
	usdWordRe     = regexp.MustCompile(`(?i)\busd\b`)
	nonAlnumRe    = regexp.MustCompile(`[^a-z0-9]+`)
)

// HomepageSignals is the structured verdict from scoring one homepage.
type HomepageSignals struct {
	Domain          string   `json:"domain"`
	HTMLLang        string   `json:"htmlLang"`
	CurrencySignals string   `json:"currencySignals"`
	MetaTitle       string   `json:"metaTitle"`
	MetaDescription string   `json:"metaDescription"`
	B2BScore        int      `json:"b2bScore"`
	USSignals       bool     `json:"usSignals"`
	KeywordsMatch   bool     `json:"keywordsMatch"`
	Status          string   `json:"status"`
	Disqualified    bool     `json:"disqualified"`
	SoftStrikes     int      `json:"softStrikes,omitempty"`
	SoftReasons     []string `json:"softReasons,omitempty"`
}

// Inconclusive reports whether the page could not be judged (fetch
// failure or thin content); inconclusive pages never remove a row.
func (s HomepageSignals) Inconclusive() bool {
	return strings.HasPrefix(s.Status, "inconclusive:")
}

// ComputeSignals scores a fetched homepage. websiteKeywords is the
// user's required-keyword list; empty means no keyword requirement.
// excludeKeywords disqualify outright when any appears on the page.
// strikeThreshold <= 0 uses SoftStrikeThreshold.
func ComputeSignals(domain, html string, websiteKeywords, excludeKeywords []string, strikeThreshold int) HomepageSignals {
	if strikeThreshold <= 0 {
		strikeThreshold = SoftStrikeThreshold
	}
	sig := HomepageSignals{Domain: domain, CurrencySignals: "none", KeywordsMatch: true}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		sig.Status = "inconclusive:unparsable_html"
		return sig
	}

	if lang, ok := doc.Find("html").Attr("lang"); ok {
		sig.HTMLLang = strings.ToLower(strings.TrimSpace(lang))
	}

	structuredText := extractJSONLDText(doc)
	headingText := extractHeadingText(doc)

	doc.Find("script, style, noscript, svg").Remove()

	sig.MetaTitle = strings.TrimSpace(doc.Find("title").First().Text())
	sig.MetaDescription = extractMetaDescription(doc)
	bodyText := strings.Join(strings.Fields(doc.Find("body").Text()), " ")

	// B2B evidence weighs the page head more than the long tail.
	b2bText := strings.ToLower(strings.Join([]string{
		sig.MetaTitle, sig.MetaDescription, headingText, structuredText, firstWords(bodyText, 3000),
	}, " "))
	signalText := strings.Join([]string{
		sig.MetaTitle, sig.MetaDescription, headingText, structuredText, bodyText,
	}, " ")
	signalTextLower := strings.ToLower(signalText)

	b2bHits := keywordHits(b2bText, b2bPositiveKeywords)
	excludeHits := keywordHits(signalTextLower, excludeKeywords)
	disqualifyHits := keywordHits(signalTextLower, disqualifySignalKeywords)
	websiteHits := keywordHits(signalTextLower, websiteKeywords)
	currencySignals, currencyDisqualify := currencySignal(signalText)
	sig.CurrencySignals = currencySignals
	sig.USSignals = usPhoneRe.MatchString(signalText) ||
		usStateAbbrRe.MatchString(signalText) ||
		usMentionRe.MatchString(signalText)

	sig.B2BScore = len(b2bHits)
	consumerScore := len(disqualifyHits)
	if len(websiteKeywords) > 0 {
		sig.KeywordsMatch = len(websiteHits) > 0
	}

	var hardReasons []string
	// An excluded keyword overrides every other signal, including a
	// matching required keyword.
	if len(excludeHits) > 0 {
		hardReasons = append(hardReasons, "excluded_keyword_"+normalizeReason(excludeHits[0]))
	}
	addSoft := func(reason string, weight int) {
		if reason == "" {
			return
		}
		sig.SoftReasons = append(sig.SoftReasons, reason)
		if weight < 1 {
			weight = 1
		}
		sig.SoftStrikes += weight
	}

	// Non-English pages are lower confidence, not automatic failures.
	if sig.HTMLLang != "" && !strings.HasPrefix(sig.HTMLLang, "en") {
		addSoft("html_lang_not_en", 1)
	}

	// Currency alone is noisy; only a strike when nothing else vouches
	// for the page.
	if currencyDisqualify && !sig.USSignals && sig.B2BScore == 0 {
		addSoft("non_usd_currency_without_usd", 1)
	}

	// Strong consumer/ecommerce signatures with no B2B evidence are
	// disqualifying outright.
	if consumerScore >= 2 && sig.B2BScore == 0 {
		hardReasons = append(hardReasons, "consumer_signal_"+normalizeReason(disqualifyHits[0]))
	} else if consumerScore > 0 {
		addSoft("consumer_signal_"+normalizeReason(disqualifyHits[0]), 1)
	}

	if len(websiteKeywords) > 0 && len(websiteHits) == 0 {
		addSoft("website_keywords_no_match", 2)
	}

	// Low-information pages stay inconclusive rather than negative.
	if len(websiteKeywords) == 0 && sig.B2BScore == 0 && consumerScore == 0 {
		addSoft("limited_b2b_signals", 1)
	}

	switch {
	case len(hardReasons) > 0:
		sig.Status = "disqualified:" + strings.Join(hardReasons, ",")
		sig.Disqualified = true
	case sig.SoftStrikes >= strikeThreshold:
		sig.Status = fmt.Sprintf("disqualified:soft_strikes_%d:%s", sig.SoftStrikes, strings.Join(sig.SoftReasons, ","))
		sig.Disqualified = true
	case len(sig.SoftReasons) > 0:
		sig.Status = fmt.Sprintf("inconclusive:soft_strikes_%d:%s", sig.SoftStrikes, strings.Join(sig.SoftReasons, ","))
	default:
		sig.Status = "eligible"
	}
	return sig
}

func extractMetaDescription(doc *goquery.Document) string {
	for _, sel := range []string{
		`meta[name="description"]`,
		`meta[property="og:description"]`,
		`meta[name="twitter:description"]`,
	} {
		if content, ok := doc.Find(sel).First().Attr("content"); ok {
			if content = strings.TrimSpace(content); content != "" {
				return content
			}
		}
	}
	return ""
}

func extractHeadingText(doc *goquery.Document) string {
	var parts []string
	doc.Find("h1, h2, h3").EachWithBreak(func(i int, s *goquery.Selection) bool {
		if text := strings.Join(strings.Fields(s.Text()), " "); text != "" {
			parts = append(parts, text)
		}
		return i < 39
	})
	return strings.Join(parts, " ")
}

// extractJSONLDText pulls short name/description strings out of
// JSON-LD blocks, which often describe the business better than the
// visible page.
func extractJSONLDText(doc *goquery.Document) string {
	var values []string
	doc.Find(`script[type*="ld+json"]`).EachWithBreak(func(i int, s *goquery.Selection) bool {
		raw := strings.TrimSpace(s.Text())
		if raw != "" && len(raw) <= 200_000 {
			var payload any
			if err := json.Unmarshal([]byte(raw), &payload); err == nil {
				collectJSONLDStrings(payload, &values, 0)
			}
		}
		return i < 11
	})
	return strings.Join(values, " ")
}

var jsonldTextKeys = map[string]struct{}{
	"name": {}, "description": {}, "headline": {}, "about": {},
	"keywords": {}, "category": {}, "slogan": {}, "text": {},
}

func collectJSONLDStrings(payload any, out *[]string, depth int) {
	if depth > 6 {
		return
	}
	switch v := payload.(type) {
	case map[string]any:
		for key, value := range v {
			if _, ok := jsonldTextKeys[strings.ToLower(strings.TrimSpace(key))]; ok {
				if s, isStr := value.(string); isStr && strings.TrimSpace(s) != "" {
					*out = append(*out, strings.TrimSpace(s))
				}
			}
			collectJSONLDStrings(value, out, depth+1)
		}
	case []any:
		for _, item := range v {
			collectJSONLDStrings(item, out, depth+1)
		}
	case string:
		if s := strings.TrimSpace(v); s != "" && len(strings.Fields(s)) <= 24 {
			*out = append(*out, s)
		}
	}
}

// keywordHits returns the keywords present in the haystack with word
// boundaries respected; longer keywords also match simple plural and
// singular variants. Hits are deduped case-insensitively.
func keywordHits(haystack string, keywords []string) []string {
	hay := normalizeMatchText(haystack)
	if hay == "" {
		return nil
	}
	padded := " " + hay + " "
	seen := map[string]struct{}{}
	var out []string
	add := func(kw string) {
		key := strings.ToLower(kw)
		if _, ok := seen[key]; !ok {
			seen[key] = struct{}{}
			out = append(out, kw)
		}
	}
	for _, kw := range keywords {
		token := normalizeMatchText(kw)
		if token == "" {
			continue
		}
		if strings.Contains(padded, " "+token+" ") {
			add(kw)
			continue
		}
		if len(token) >= 5 {
			singular := strings.TrimSuffix(token, "s")
			if strings.Contains(padded, " "+singular+" ") || strings.Contains(padded, " "+singular+"s ") {
				add(kw)
			}
		}
	}
	return out
}

func normalizeMatchText(text string) string {
	lowered := nonAlnumRe.ReplaceAllString(strings.ToLower(text), " ")
	return strings.TrimSpace(lowered)
}

// currencySignal classifies currency mentions. The second return is
// true when only non-USD currencies appear, which reads as a
// non-US-market page.
func currencySignal(text string) (string, bool) {
	hasUSD := strings.Contains(text, "$") || usdWordRe.MatchString(text)
	var hits []string
	for _, sym := range nonUSDCurrencySymbols {
		if strings.Contains(text, sym) {
			hits = append(hits, sym)
		}
	}
	switch {
	case len(hits) > 0 && hasUSD:
		return "mixed:" + strings.Join(hits, ""), false
	case len(hits) > 0:
		return "non_usd_only:" + strings.Join(hits, ""), true
	case hasUSD:
		return "usd_present", false
	}
	return "none", false
}

func normalizeReason(reason string) string {
	clean := nonAlnumRe.ReplaceAllString(strings.ToLower(strings.TrimSpace(reason)), "_")
	return strings.Trim(clean, "_")
}

func firstWords(text string, limit int) string {
	words := strings.Fields(text)
	if len(words) > limit {
		words = words[:limit]
	}
	return strings.Join(words, " ")
}
