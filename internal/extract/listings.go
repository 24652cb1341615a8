package extract

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"strings"
	"unicode"

	"github.com/PuerkitoBio/goquery"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/listings-crawler/internal/model"
	"github.com/sells-group/listings-crawler/internal/session"
)

// Result card containers, most specific first.
const containerSelector = `div[class*='Nv2PK'], div[class*='Q2HXcd'], div[class*='THOPZb']`

var (
	linkSelectors = []string{
		`a[href*='/maps/place/']`,
		`a[href*='google.com/maps']`,
		`a[data-value]`,
	}
	nameSelectors = []string{
		`div[class*='qBF1Pd']`,
		`div[class*='fontHeadlineSmall']`,
		`h1`, `h2`, `h3`,
		`span[class*='fontHeadlineSmall']`,
	}
	ratingSelectors = []string{
		`span[class*='MW4etd']`,
		`span[role='img'][aria-label]`,
		`span[class*='rating']`,
	}
)

// Listings extracts result cards from a search results page.
type Listings struct{}

// NewListings creates a Listings extractor.
func NewListings() *Listings {
	return &Listings{}
}

// Extract returns the candidates on the session's current page in document
// order, deduplicated by link.
func (l *Listings) Extract(_ context.Context, s session.Session) ([]model.Candidate, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s.HTML()))
	if err != nil {
		return nil, eris.Wrap(err, "extract: parse results page")
	}
	base, _ := url.Parse(s.CurrentURL())

	var (
		out  []model.Candidate
		seen = make(map[string]bool)
	)
	add := func(c model.Candidate) {
		if c.Link == "" || seen[c.Link] {
			return
		}
		seen[c.Link] = true
		out = append(out, c)
	}

	doc.Find(containerSelector).Each(func(_ int, card *goquery.Selection) {
		add(candidateFromCard(card, base))
	})

	// Pages without result cards still carry place anchors.
	if len(out) == 0 {
		doc.Find(`a[href*='/maps/place/']`).Each(func(_ int, a *goquery.Selection) {
			href, _ := a.Attr("href")
			name, _ := a.Attr("aria-label")
			add(newCandidate(resolve(base, href), strings.TrimSpace(name), ""))
		})
	}

	zap.L().Debug("extracted candidates",
		zap.String("url", s.CurrentURL()),
		zap.Int("count", len(out)),
	)
	return out, nil
}

func candidateFromCard(card *goquery.Selection, base *url.URL) model.Candidate {
	var (
		link, name string
		anchor     *goquery.Selection
	)
	for _, sel := range linkSelectors {
		a := card.Find(sel).First()
		if href, ok := a.Attr("href"); ok && href != "" {
			link = resolve(base, href)
			anchor = a
			break
		}
	}

	if anchor != nil {
		if label, ok := anchor.Attr("aria-label"); ok {
			name = strings.TrimSpace(label)
		}
	}
	if name == "" {
		name = firstText(card, nameSelectors, nil)
	}

	rating := firstText(card, ratingSelectors, hasDigit)
	return newCandidate(link, name, rating)
}

func newCandidate(link, name, rating string) model.Candidate {
	return model.Candidate{
		ExternalID: candidateID(link),
		Name:       name,
		Rating:     rating,
		Link:       link,
	}
}

// candidateID derives a stable id from the listing link.
func candidateID(link string) string {
	if link == "" {
		return ""
	}
	h := sha256.Sum256([]byte(link))
	return hex.EncodeToString(h[:])[:16]
}

// firstText returns the first non-empty text (or aria-label) under card
// matching selectors and accept.
func firstText(card *goquery.Selection, selectors []string, accept func(string) bool) string {
	for _, sel := range selectors {
		var found string
		card.Find(sel).EachWithBreak(func(_ int, s *goquery.Selection) bool {
			text := strings.TrimSpace(s.Text())
			if text == "" {
				text, _ = s.Attr("aria-label")
				text = strings.TrimSpace(text)
			}
			if text == "" || (accept != nil && !accept(text)) {
				return true
			}
			found = text
			return false
		})
		if found != "" {
			return found
		}
	}
	return ""
}

func hasDigit(s string) bool {
	return strings.IndexFunc(s, unicode.IsDigit) >= 0
}

func resolve(base *url.URL, href string) string {
	href = strings.TrimSpace(href)
	if href == "" {
		return ""
	}
	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	if base == nil || ref.IsAbs() {
		return ref.String()
	}
	return base.ResolveReference(ref).String()
}
