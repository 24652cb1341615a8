package session

import (
	"context"
	"io"
	"net"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// maxBodyBytes bounds how much of a page a session keeps.
const maxBodyBytes = 4 << 20

// HTTPDriver launches sessions backed by net/http. Each session owns its own
// transport so proxied and direct sessions never share connections.
type HTTPDriver struct {
	Timeout time.Duration
}

// NewHTTPDriver creates an HTTPDriver with the given per-request timeout.
func NewHTTPDriver(timeout time.Duration) *HTTPDriver {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPDriver{Timeout: timeout}
}

// Launch builds a client routed through opts.Proxy when set. No request is
// made until Navigate.
func (d *HTTPDriver) Launch(_ context.Context, opts LaunchOptions) (Session, error) {
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout: 10 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout: 10 * time.Second,
		MaxIdleConns:        4,
	}
	if opts.Proxy != nil {
		if opts.Proxy.Host == "" {
			return nil, eris.New("http_session: proxy endpoint has no host")
		}
		transport.Proxy = http.ProxyURL(opts.Proxy.URL())
	}

	return &httpSession{
		client:    &http.Client{Timeout: d.Timeout, Transport: transport},
		transport: transport,
		userAgent: opts.UserAgent,
	}, nil
}

type httpSession struct {
	client    *http.Client
	transport *http.Transport
	userAgent string

	url    string
	html   string
	title  string
	closed bool
}

func (s *httpSession) Navigate(ctx context.Context, targetURL string) error {
	if s.closed {
		return eris.New("http_session: navigate on closed session")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, targetURL, nil)
	if err != nil {
		return eris.Wrap(err, "http_session: create request")
	}
	if s.userAgent != "" {
		req.Header.Set("User-Agent", s.userAgent)
	}
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	resp, err := s.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "http_session: fetch")
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return eris.Wrap(err, "http_session: read body")
	}

	if blocked, bt := DetectBlock(resp, body); blocked {
		return eris.Errorf("http_session: blocked (%s)", bt)
	}
	if resp.StatusCode >= 400 {
		return eris.Errorf("http_session: status %d", resp.StatusCode)
	}

	s.url = resp.Request.URL.String()
	s.html = string(body)
	s.title = extractTitle(body)
	return nil
}

// WaitReady succeeds once a document body has been received.
func (s *httpSession) WaitReady(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return eris.Wrap(err, "http_session: wait ready")
	}
	if !strings.Contains(strings.ToLower(s.html), "<body") {
		return eris.New("http_session: no document body")
	}
	return nil
}

func (s *httpSession) HTML() string       { return s.html }
func (s *httpSession) CurrentURL() string { return s.url }
func (s *httpSession) Title() string      { return s.title }

func (s *httpSession) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	s.transport.CloseIdleConnections()
	return nil
}

var titleRe = regexp.MustCompile(`(?is)<title[^>]*>(.*?)</title>`)

// extractTitle pulls the <title> from HTML.
func extractTitle(body []byte) string {
	m := titleRe.FindSubmatch(body)
	if len(m) > 1 {
		return strings.TrimSpace(string(m[1]))
	}
	return ""
}
