package robots

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAllowedLongestPrefix(t *testing.T) {
	d := Directives{
		Allowed:    []string{"/shop/"},
		Disallowed: []string{"/shop/private/"},
	}

	assert.False(t, d.Permits("/shop/private/x"))
	assert.True(t, d.Permits("/shop/public"))
	assert.True(t, d.Permits("/about"), "unmatched paths are allowed")
}

func TestAllowedRules(t *testing.T) {
	tests := []struct {
		name       string
		allowed    []string
		disallowed []string
		path       string
		want       bool
	}{
		{"empty directives", nil, nil, "/anything", true},
		{"disallow all", nil, []string{"/"}, "/x", false},
		{"disallow root matches empty path", nil, []string{"/"}, "", false},
		{"allow overrides shorter disallow", []string{"/api/public"}, []string{"/api"}, "/api/public/items", true},
		{"equal length prefers allow", []string{"/cart"}, []string{"/cart"}, "/cart", true},
		{"segment boundary", nil, []string{"/shop"}, "/shopping", true},
		{"segment boundary slash", nil, []string{"/shop"}, "/shop/cart", false},
		{"segment boundary query", nil, []string{"/search"}, "/search?q=1", false},
		{"exact match", nil, []string{"/checkout"}, "/checkout", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := Directives{Allowed: tt.allowed, Disallowed: tt.disallowed}
			assert.Equal(t, tt.want, d.Permits(tt.path))
		})
	}
}

func TestExpiry(t *testing.T) {
	fetched := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	d := Directives{FetchedAt: fetched}

	assert.False(t, d.ExpiredAt(fetched.Add(11*time.Hour), DefaultTTL))
	assert.True(t, d.ExpiredAt(fetched.Add(12*time.Hour), DefaultTTL))
	assert.True(t, d.IsExpired())

	assert.False(t, (&Directives{FetchedAt: time.Now()}).IsExpired())
}

func TestParse(t *testing.T) {
	content := `
# marketplace robots
User-agent: *
Disallow: /checkout
Allow: /shop/
Disallow: /shop/private/   # staff only
Crawl-delay: 1.5

User-agent: marketwire
User-agent: otherbot
Disallow: /internal/
Crawl-delay: 2

Sitemap: https://shop.example.com/sitemap.xml
`
	now := time.Now()

	t.Run("wildcard group", func(t *testing.T) {
		d := Parse(content, "generic-client/3.1", now)
		assert.Equal(t, []string{"/shop/"}, d.Allowed)
		assert.Equal(t, []string{"/checkout", "/shop/private/"}, d.Disallowed)
		assert.Equal(t, int64(1500), d.CrawlDelayMillis())
		assert.Equal(t, now, d.FetchedAt)
	})

	t.Run("agent group", func(t *testing.T) {
		d := Parse(content, "MarketWire/1.0 (+https://marketwire.example)", now)
		assert.Empty(t, d.Allowed)
		assert.Equal(t, []string{"/internal/"}, d.Disallowed)
		assert.Equal(t, 2*time.Second, d.CrawlDelay)
	})

	t.Run("shared group", func(t *testing.T) {
		d := Parse(content, "otherbot", now)
		assert.Equal(t, []string{"/internal/"}, d.Disallowed)
	})

	t.Run("no groups", func(t *testing.T) {
		d := Parse("Sitemap: /s.xml\n", "marketwire", now)
		assert.True(t, d.Permits("/anything"))
		assert.Zero(t, d.CrawlDelay)
	})

	t.Run("empty disallow allows", func(t *testing.T) {
		d := Parse("User-agent: *\nDisallow:\n", "x", now)
		assert.Empty(t, d.Disallowed)
		assert.True(t, d.Permits("/"))
	})
}

func TestAgentToken(t *testing.T) {
	assert.Equal(t, "marketwire", agentToken("MarketWire/1.0"))
	assert.Equal(t, "mozilla", agentToken("Mozilla 5.0"))
	assert.Equal(t, "bot", agentToken(" bot "))
	assert.Equal(t, "", agentToken(""))
}
