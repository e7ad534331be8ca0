// Package sheet parses uploaded XLSX price history and generates the
// blank template users fill in. Sheets carry one bar per row under a
// fixed date/open/high/low/close header.
package sheet

import (
	"errors"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"gannportal/internal/model"
)

var (
	// ErrEmpty is returned for a sheet with no rows beyond the header,
	// or no rows at all.
	ErrEmpty = errors.New("file is empty or has invalid format")
	// ErrBadHeader is returned when the header row does not carry all
	// required columns.
	ErrBadHeader = errors.New("invalid sheet format: expected date, open, high, low, close columns")
	// ErrNoData is returned when no row parses into a usable bar.
	ErrNoData = errors.New("no valid data found in the file")
)

var expectedHeaders = []string{"date", "open", "high", "low", "close"}

var isoDatePrefix = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}`)

// Parse reads the first worksheet of an XLSX file into price points.
// Dates are normalized to DD-MM-YYYY. Rows shorter than five cells are
// skipped; a non-numeric price cell fails the whole upload.
func Parse(r io.Reader) ([]model.PricePoint, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, ErrEmpty
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("read rows: %w", err)
	}
	if len(rows) < 2 {
		return nil, ErrEmpty
	}

	if !validHeader(rows[0]) {
		return nil, ErrBadHeader
	}

	points := make([]model.PricePoint, 0, len(rows)-1)
	for i, row := range rows[1:] {
		if len(row) < 5 {
			continue
		}

		p := model.PricePoint{Datetime: normalizeDate(strings.TrimSpace(row[0]))}
		fields := []struct {
			name string
			dst  *float64
		}{
			{"open", &p.Open},
			{"high", &p.High},
			{"low", &p.Low},
			{"close", &p.Close},
		}
		for j, fld := range fields {
			v, err := strconv.ParseFloat(strings.TrimSpace(row[j+1]), 64)
			if err != nil {
				return nil, fmt.Errorf("row %d: bad %s value %q", i+2, fld.name, row[j+1])
			}
			*fld.dst = v
		}
		if len(row) > 5 && strings.TrimSpace(row[5]) != "" {
			if v, err := strconv.ParseFloat(strings.TrimSpace(row[5]), 64); err == nil {
				p.Volume = v
			}
		} else {
			p.Volume = p.Close
		}
		points = append(points, p)
	}

	if len(points) == 0 {
		return nil, ErrNoData
	}
	return points, nil
}

func validHeader(header []string) bool {
	seen := make(map[string]bool, len(header))
	for _, h := range header {
		seen[strings.ToLower(strings.TrimSpace(h))] = true
	}
	for _, want := range expectedHeaders {
		if !seen[want] {
			return false
		}
	}
	return true
}

// normalizeDate rewrites known date shapes to DD-MM-YYYY. Values it
// cannot recognize pass through untouched.
func normalizeDate(s string) string {
	// Numeric cell: Excel serial day count
	if serial, err := strconv.ParseFloat(s, 64); err == nil {
		return serialToDate(serial).Format("02-01-2006")
	}

	// ISO date, with or without a time part
	if isoDatePrefix.MatchString(s) {
		parts := strings.FieldsFunc(s, func(r rune) bool { return r == '-' || r == 'T' || r == ' ' })
		if len(parts) >= 3 {
			return parts[2][:2] + "-" + parts[1] + "-" + parts[0]
		}
	}

	// Slash formats as produced by spreadsheet locales
	if strings.Contains(s, "/") {
		for _, layout := range []string{"1/2/2006", "2006/01/02", "01/02/2006"} {
			if t, err := time.Parse(layout, s); err == nil {
				return t.Format("02-01-2006")
			}
		}
	}
	return s
}

// serialToDate converts an Excel serial day number to a date. Serial 1
// is 1900-01-01; serials past the phantom 1900-02-29 shift by one extra
// day.
func serialToDate(serial float64) time.Time {
	epoch := time.Date(1900, time.January, 1, 0, 0, 0, 0, time.UTC)
	d := epoch.Add(time.Duration(serial) * 24 * time.Hour)
	if serial > 60 {
		return d.AddDate(0, 0, -2)
	}
	return d.AddDate(0, 0, -1)
}
