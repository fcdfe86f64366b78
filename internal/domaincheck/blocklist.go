package domaincheck

import "strings"

// blockedCategories maps category names to domain suffixes that never
// represent a company's own website: hosted blogs, dev sandboxes,
// social profiles, parked pages, consumer mail, and marketplaces.
var blockedCategories = map[string][]string{
	"blogs": {
		"wordpress.com", "blogspot.com", "medium.com", "ghost.io",
		"substack.com", "tumblr.com", "wixsite.com", "weebly.com",
		"squarespace.com", "typepad.com", "blogger.com", "hubpages.com",
	},
	"dev_hosting": {
		"github.io", "github.com", "gitlab.io", "gitlab.com",
		"netlify.app", "vercel.app", "herokuapp.com", "fly.dev",
		"render.com", "railway.app", "repl.co", "replit.com",
		"stackblitz.com", "codepen.io", "codesandbox.io",
		"pages.dev", "workers.dev", "surge.sh",
	},
	"social": {
		"facebook.com", "instagram.com", "twitter.com", "x.com",
		"linkedin.com", "tiktok.com", "pinterest.com", "reddit.com",
		"youtube.com", "twitch.tv", "discord.gg", "discord.com",
		"snapchat.com", "threads.net",
	},
	"parked": {
		"example.com", "example.org", "example.net", "test.com",
		"localhost", "0.0.0.0", "127.0.0.1",
		"godaddy.com", "sedo.com", "afternic.com", "dan.com",
		"namecheap.com", "hover.com",
	},
	"email": {
		"gmail.com", "yahoo.com", "hotmail.com", "outlook.com",
		"aol.com", "icloud.com", "mail.com", "protonmail.com",
		"zoho.com", "yandex.com", "gmx.com", "fastmail.com",
	},
	"marketplaces": {
		"myshopify.com", "shopify.com", "etsy.com", "amazon.com",
		"ebay.com", "alibaba.com", "aliexpress.com", "wish.com",
		"bigcartel.com",
	},
}

// BlockedCategories lists the built-in category names.
func BlockedCategories() []string {
	return []string{"blogs", "dev_hosting", "social", "parked", "email", "marketplaces"}
}

// Blocklist matches domains against enabled built-in categories plus
// custom suffixes. Suffix matches include subdomains.
type Blocklist struct {
	suffixes map[string]string // suffix -> category
}

// NewBlocklist builds a blocklist from enabled category names and
// custom suffixes. Unknown category names are ignored; custom suffixes
// land in the "custom" category.
func NewBlocklist(categories []string, custom []string) *Blocklist {
	b := &Blocklist{suffixes: make(map[string]string)}
	for _, cat := range categories {
		for _, suffix := range blockedCategories[strings.ToLower(strings.TrimSpace(cat))] {
			b.suffixes[suffix] = cat
		}
	}
	for _, suffix := range custom {
		suffix = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(suffix, ".")))
		if suffix != "" {
			b.suffixes[suffix] = "custom"
		}
	}
	return b
}

// Match returns the category blocking the domain, or "" when the
// domain is clean.
func (b *Blocklist) Match(domain string) string {
	host := Normalize(domain)
	if host == "" {
		return ""
	}
	for {
		if cat, ok := b.suffixes[host]; ok {
			return cat
		}
		i := strings.Index(host, ".")
		if i == -1 {
			return ""
		}
		host = host[i+1:]
	}
}

// Empty reports whether the blocklist has no suffixes at all.
func (b *Blocklist) Empty() bool { return len(b.suffixes) == 0 }
