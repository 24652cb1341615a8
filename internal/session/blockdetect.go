package session

import (
	"net/http"
	"strings"
)

// BlockType describes the kind of block detected.
type BlockType string

const (
	BlockNone       BlockType = ""
	BlockCloudflare BlockType = "cloudflare"
	BlockCaptcha    BlockType = "captcha"
	BlockRateLimit  BlockType = "rate_limit"
	BlockUnusual    BlockType = "unusual_traffic"
)

// DetectBlock checks a response for signs that the target refused service.
func DetectBlock(resp *http.Response, body []byte) (bool, BlockType) {
	if resp == nil {
		return false, BlockNone
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return true, BlockRateLimit
	}

	if resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusServiceUnavailable {
		if resp.Header.Get("cf-ray") != "" || resp.Header.Get("server") == "cloudflare" {
			return true, BlockCloudflare
		}
	}

	lower := strings.ToLower(string(body))

	// Google's interstitial for flagged egress addresses.
	if strings.Contains(lower, "unusual traffic from your computer network") ||
		strings.Contains(lower, "/sorry/index") {
		return true, BlockUnusual
	}

	if strings.Contains(lower, "checking your browser") ||
		strings.Contains(lower, "cf-browser-verification") {
		return true, BlockCloudflare
	}

	if strings.Contains(lower, "g-recaptcha") ||
		strings.Contains(lower, "hcaptcha") {
		return true, BlockCaptcha
	}

	return false, BlockNone
}

// TitleLooksBlocked reports whether a page title hints at a block page.
func TitleLooksBlocked(title string) bool {
	t := strings.ToLower(title)
	return strings.Contains(t, "blocked") ||
		strings.Contains(t, "access denied") ||
		strings.Contains(t, "captcha")
}
