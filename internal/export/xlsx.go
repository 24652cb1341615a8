// Package export writes persisted store records to spreadsheet files.
package export

import (
	"regexp"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/listings-crawler/internal/sink"
)

// Header is the column order of exported sheets.
var Header = []string{
	"ID", "Name", "Rating", "Phone", "Address", "Website", "Plus Code",
	"Link", "Keyword", "Location", "Crawl Session", "Created At",
}

// WriteXLSX writes rows to a single-sheet workbook at path. Unresolved
// detail fields are written as their display sentinel.
func WriteXLSX(path string, rows []sink.Row) error {
	f := xlsx.NewFile()
	sheet, err := f.AddSheet("Stores")
	if err != nil {
		return eris.Wrap(err, "xlsx: add sheet")
	}

	addRow(sheet, Header)
	for _, r := range rows {
		created := ""
		if !r.CreatedAt.IsZero() {
			created = r.CreatedAt.UTC().Format(time.RFC3339)
		}
		addRow(sheet, []string{
			r.ID,
			r.Name,
			r.Rating,
			r.Phone.Display(),
			r.Address.Display(),
			r.Website.Display(),
			r.PlusCode.Display(),
			r.Link,
			r.SearchKeyword,
			r.SearchLocation,
			r.CrawlSession,
			created,
		})
	}

	if err := f.Save(path); err != nil {
		return eris.Wrapf(err, "xlsx: save %s", path)
	}
	return nil
}

func addRow(sheet *xlsx.Sheet, values []string) {
	row := sheet.AddRow()
	for _, v := range values {
		row.AddCell().SetString(v)
	}
}

var unsafeName = regexp.MustCompile(`[^\w\s-]`)

// DefaultFileName returns listings_<keyword>_<location>.xlsx with characters
// unsafe for file names removed.
func DefaultFileName(keyword, location string) string {
	parts := []string{"listings"}
	for _, p := range []string{keyword, location} {
		p = strings.TrimSpace(unsafeName.ReplaceAllString(p, ""))
		if p != "" {
			parts = append(parts, strings.Join(strings.Fields(p), "_"))
		}
	}
	return strings.Join(parts, "_") + ".xlsx"
}
