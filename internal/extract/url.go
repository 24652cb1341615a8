// Package extract turns rendered result and detail pages into candidates
// and detail fields.
package extract

import (
	"net/url"
	"strings"
)

// DefaultSearchBase is the results page the crawler searches against.
const DefaultSearchBase = "https://www.google.com/maps/search/"

// SearchURL returns base + "<keyword>+in+<location>".
func SearchURL(base, keyword, location string) string {
	if base == "" {
		base = DefaultSearchBase
	}
	if !strings.HasSuffix(base, "/") {
		base += "/"
	}
	return base + url.PathEscape(strings.TrimSpace(keyword)) + "+in+" + url.PathEscape(strings.TrimSpace(location))
}

// SearchURLBuilder binds base for use as a crawl URL builder.
func SearchURLBuilder(base string) func(keyword, location string) string {
	return func(keyword, location string) string {
		return SearchURL(base, keyword, location)
	}
}
