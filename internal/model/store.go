package model

import (
	"strings"

	"golang.org/x/text/width"
)

// Legacy display sentinels for unresolved detail fields.
const (
	SentinelNotFound = "Not Found"
	SentinelError    = "Error"
)

// FieldStatus describes how a detail field was resolved.
type FieldStatus string

const (
	FieldNotFound FieldStatus = "not_found"
	FieldFound    FieldStatus = "found"
	FieldError    FieldStatus = "error"
)

// Field is a single detail value with its resolution status.
type Field struct {
	Value  string      `json:"value,omitempty"`
	Status FieldStatus `json:"status"`
}

// Found returns a resolved field. Empty values resolve to not found.
func Found(v string) Field {
	v = strings.TrimSpace(v)
	if v == "" {
		return Field{Status: FieldNotFound}
	}
	return Field{Value: v, Status: FieldFound}
}

// OK reports whether the field holds a resolved value.
func (f Field) OK() bool {
	return f.Status == FieldFound && f.Value != ""
}

// Display renders the value, or its sentinel when unresolved.
func (f Field) Display() string {
	switch f.Status {
	case FieldFound:
		return f.Value
	case FieldError:
		return SentinelError
	default:
		return SentinelNotFound
	}
}

// Nullable returns the value for storage, nil when unresolved.
func (f Field) Nullable() any {
	if !f.OK() {
		return nil
	}
	return f.Value
}

// DetailFields are the per-listing values resolved from its detail page.
// A failed field never aborts the record.
type DetailFields struct {
	Phone    Field `json:"phone"`
	Address  Field `json:"address"`
	Website  Field `json:"website"`
	PlusCode Field `json:"plus_code"`
}

// NotFoundDetails returns details with every field unresolved.
func NotFoundDetails() DetailFields {
	nf := Field{Status: FieldNotFound}
	return DetailFields{Phone: nf, Address: nf, Website: nf, PlusCode: nf}
}

// ErrorDetails returns details with every field marked as an extraction error.
func ErrorDetails() DetailFields {
	e := Field{Status: FieldError}
	return DetailFields{Phone: e, Address: e, Website: e, PlusCode: e}
}

// HasError reports whether any field failed extraction.
func (d DetailFields) HasError() bool {
	for _, f := range []Field{d.Phone, d.Address, d.Website, d.PlusCode} {
		if f.Status == FieldError {
			return true
		}
	}
	return false
}

// Candidate is a listing reference found on a results page.
type Candidate struct {
	ExternalID string `json:"external_id"`
	Name       string `json:"name"`
	Rating     string `json:"rating"`
	Link       string `json:"link"`
}

// StoreRecord is the unit of persistence.
type StoreRecord struct {
	Candidate
	DetailFields

	SearchKeyword  string `json:"search_keyword"`
	SearchLocation string `json:"search_location"`
	CrawlSession   string `json:"crawl_session"`
}

// UsablePhone returns the normalized phone and whether it can serve as the
// dedup key.
func (r StoreRecord) UsablePhone() (string, bool) {
	if !r.Phone.OK() {
		return "", false
	}
	p := NormalizePhone(r.Phone.Value)
	if p == "" || p == SentinelNotFound || p == SentinelError {
		return "", false
	}
	return p, true
}

// NormalizePhone folds full-width characters to their narrow forms and
// collapses surrounding and repeated whitespace.
func NormalizePhone(s string) string {
	s = width.Narrow.String(s)
	return strings.Join(strings.Fields(s), " ")
}
