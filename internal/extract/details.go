package extract

import (
	"context"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/listings-crawler/internal/model"
	"github.com/sells-group/listings-crawler/internal/resilience"
	"github.com/sells-group/listings-crawler/internal/session"
)

// Text-bearing elements in the detail pane.
const detailTextSelector = `div[class*='Io6YTe'], span[class*='Io6YTe'], a[class*='Io6YTe'], ` +
	`div[class*='fontBodyMedium'], span[class*='fontBodyMedium'], a[class*='fontBodyMedium'], ` +
	`div[class*='fontBodySmall'], span[class*='fontBodySmall'], a[class*='fontBodySmall']`

var phonePatterns = []*regexp.Regexp{
	regexp.MustCompile(`\+\d{1,3}[\s\-]?\d{1,4}[\s\-]?\d{1,4}[\s\-]?\d{1,4}`),
	regexp.MustCompile(`\d{3,4}[\s\-]?\d{3,4}[\s\-]?\d{3,4}`),
	regexp.MustCompile(`\(\d{3,4}\)[\s\-]?\d{3,4}[\s\-]?\d{3,4}`),
}

var addressMarkers = []string{"Street", "Road", "Avenue", "Jl.", "Đường"}

var addressLabelPrefixes = []string{"Phone", "Website", "Hours", "Reviews", "Rating"}

// Details resolves detail fields by navigating the session to a listing.
type Details struct {
	// Timeout bounds navigation plus the readiness wait. Default: 15s.
	Timeout time.Duration

	// Settle is a fixed wait after the page is ready.
	Settle time.Duration

	sleep func(ctx context.Context, d time.Duration) error
}

// NewDetails creates a Details scraper.
func NewDetails(timeout, settle time.Duration) *Details {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Details{Timeout: timeout, Settle: settle, sleep: resilience.Sleep}
}

// Scrape opens link in s and reads the detail fields. Unresolved fields are
// not_found; if the page cannot be loaded every field is error and err is set.
func (d *Details) Scrape(ctx context.Context, s session.Session, link string) (model.DetailFields, error) {
	if err := d.load(ctx, s, link); err != nil {
		return model.ErrorDetails(), err
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s.HTML()))
	if err != nil {
		return model.ErrorDetails(), eris.Wrap(err, "extract: parse detail page")
	}

	fields := ParseDetails(doc)
	zap.L().Debug("scraped details",
		zap.String("link", link),
		zap.String("phone", fields.Phone.Display()),
		zap.String("website", fields.Website.Display()),
	)
	return fields, nil
}

func (d *Details) load(ctx context.Context, s session.Session, link string) error {
	lctx, cancel := context.WithTimeout(ctx, d.Timeout)
	defer cancel()

	if err := s.Navigate(lctx, link); err != nil {
		return eris.Wrap(err, "extract: open detail page")
	}
	if err := s.WaitReady(lctx); err != nil {
		return eris.Wrap(err, "extract: detail page not ready")
	}
	if d.Settle > 0 {
		sleep := d.sleep
		if sleep == nil {
			sleep = resilience.Sleep
		}
		if err := sleep(ctx, d.Settle); err != nil {
			return eris.Wrap(err, "extract: settle")
		}
	}
	return nil
}

// ParseDetails applies the field heuristics to a detail page.
func ParseDetails(doc *goquery.Document) model.DetailFields {
	fields := model.NotFoundDetails()

	var texts []string
	doc.Find(detailTextSelector).Each(func(_ int, s *goquery.Selection) {
		if t := strings.TrimSpace(s.Text()); t != "" {
			texts = append(texts, t)
		}
	})

	if tel, ok := doc.Find(`a[href^='tel:']`).First().Attr("href"); ok {
		fields.Phone = model.Found(strings.TrimPrefix(tel, "tel:"))
	} else if p := findPhone(texts); p != "" {
		fields.Phone = model.Found(p)
	}

	for _, t := range texts {
		if looksLikeAddress(t) {
			fields.Address = model.Found(t)
			break
		}
	}

	doc.Find(`a[href]`).EachWithBreak(func(_ int, a *goquery.Selection) bool {
		href, _ := a.Attr("href")
		if isExternalWebsite(href) {
			fields.Website = model.Found(href)
			return false
		}
		return true
	})

	for _, t := range texts {
		if n := utf8.RuneCountInString(t); strings.Contains(t, "+") && n > 8 && n < 20 && !isPhoneText(t) {
			fields.PlusCode = model.Found(t)
			break
		}
	}
	return fields
}

func findPhone(texts []string) string {
	for _, t := range texts {
		if utf8.RuneCountInString(t) > 5 && isPhoneText(t) {
			return t
		}
	}
	return ""
}

func isPhoneText(t string) bool {
	for _, re := range phonePatterns {
		if re.MatchString(t) {
			return true
		}
	}
	return false
}

func looksLikeAddress(t string) bool {
	n := utf8.RuneCountInString(t)
	if n <= 20 || n >= 200 {
		return false
	}
	for _, p := range addressLabelPrefixes {
		if strings.HasPrefix(t, p) {
			return false
		}
	}
	prefix := []rune(t)[:5]
	if hasDigit(string(prefix)) {
		return false
	}
	for _, m := range addressMarkers {
		if strings.Contains(t, m) {
			return true
		}
	}
	return false
}

func isExternalWebsite(href string) bool {
	return strings.HasPrefix(href, "http") &&
		!strings.Contains(href, "google.com") &&
		!strings.HasPrefix(href, "https://www.google.com/maps")
}
