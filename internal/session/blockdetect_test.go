package session

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDetectBlock(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		status int
		header http.Header
		body   string
		want   BlockType
	}{
		{"rate limited", 429, http.Header{}, "", BlockRateLimit},
		{"cloudflare 403", 403, http.Header{"Cf-Ray": {"abc"}}, "", BlockCloudflare},
		{"cloudflare server 503", 503, http.Header{"Server": {"cloudflare"}}, "", BlockCloudflare},
		{"unusual traffic", 200, http.Header{}, "Our systems have detected unusual traffic from your computer network.", BlockUnusual},
		{"sorry redirect", 200, http.Header{}, `<a href="/sorry/index?continue=x">`, BlockUnusual},
		{"recaptcha", 200, http.Header{}, `<div class="g-recaptcha"></div>`, BlockCaptcha},
		{"browser check", 200, http.Header{}, "Checking your browser before accessing", BlockCloudflare},
		{"clean", 200, http.Header{}, "<html><body>ok</body></html>", BlockNone},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			resp := &http.Response{StatusCode: tt.status, Header: tt.header}
			blocked, bt := DetectBlock(resp, []byte(tt.body))
			assert.Equal(t, tt.want != BlockNone, blocked)
			assert.Equal(t, tt.want, bt)
		})
	}
}

func TestDetectBlock_NilResponse(t *testing.T) {
	blocked, bt := DetectBlock(nil, nil)
	assert.False(t, blocked)
	assert.Equal(t, BlockNone, bt)
}

func TestTitleLooksBlocked(t *testing.T) {
	assert.True(t, TitleLooksBlocked("Access Denied"))
	assert.True(t, TitleLooksBlocked("Please solve this CAPTCHA"))
	assert.True(t, TitleLooksBlocked("You have been blocked"))
	assert.False(t, TitleLooksBlocked("cafe - Google Maps"))
}
