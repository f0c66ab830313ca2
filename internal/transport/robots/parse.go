package robots

import (
	"bufio"
	"strconv"
	"strings"
	"time"
)

type group struct {
	agents     []string
	allow      []string
	disallow   []string
	crawlDelay time.Duration
}

// Parse reads robots.txt content and returns the directives of the group
// naming userAgent's product token, falling back to the "*" group. With no
// applicable group the result allows everything.
func Parse(content, userAgent string, fetchedAt time.Time) Directives {
	groups := parseGroups(content)
	token := agentToken(userAgent)

	var wildcard, specific *group
	for _, g := range groups {
		for _, agent := range g.agents {
			switch {
			case agent == "*":
				if wildcard == nil {
					wildcard = g
				}
			case token != "" && agent == token:
				if specific == nil {
					specific = g
				}
			}
		}
	}

	chosen := specific
	if chosen == nil {
		chosen = wildcard
	}

	d := Directives{FetchedAt: fetchedAt}
	if chosen != nil {
		d.Allowed = chosen.allow
		d.Disallowed = chosen.disallow
		d.CrawlDelay = chosen.crawlDelay
	}
	return d
}

func parseGroups(content string) []*group {
	var (
		groups  []*group
		current *group
		// consecutive user-agent lines share one group
		collecting bool
	)

	scanner := bufio.NewScanner(strings.NewReader(content))
	for scanner.Scan() {
		line := scanner.Text()
		if idx := strings.IndexByte(line, '#'); idx >= 0 {
			line = line[:idx]
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		key = strings.ToLower(strings.TrimSpace(key))
		value = strings.TrimSpace(value)

		if key == "user-agent" {
			if !collecting || current == nil {
				current = &group{}
				groups = append(groups, current)
			}
			current.agents = append(current.agents, strings.ToLower(value))
			collecting = true
			continue
		}
		collecting = false
		if current == nil {
			continue
		}

		switch key {
		case "allow":
			if value != "" {
				current.allow = append(current.allow, value)
			}
		case "disallow":
			if value != "" {
				current.disallow = append(current.disallow, value)
			}
		case "crawl-delay":
			if secs, err := strconv.ParseFloat(value, 64); err == nil && secs > 0 {
				current.crawlDelay = time.Duration(secs * float64(time.Second)).Round(time.Millisecond)
			}
		}
	}

	return groups
}

// agentToken returns the lowercased product token: "MarketWire/1.0 (+https://x)" -> "marketwire".
func agentToken(userAgent string) string {
	token := strings.TrimSpace(userAgent)
	if idx := strings.IndexAny(token, "/ "); idx >= 0 {
		token = token[:idx]
	}
	return strings.ToLower(token)
}
