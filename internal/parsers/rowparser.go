package parsers

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"trade-import-service/internal/models"
)

var (
	nonNumeric    = regexp.MustCompile(`[^0-9.\-]`)
	numericPrefix = regexp.MustCompile(`^-?(\d+(\.\d+)?|\.\d+)`)
	isoDatePrefix = regexp.MustCompile(`^(\d{4})-(\d{1,2})-(\d{1,2})`)
	usDateTriplet = regexp.MustCompile(`^(\d{1,2})[/-](\d{1,2})[/-](\d{4})`)
	timeOfDay     = regexp.MustCompile(`^(\d{1,2}):(\d{2})(?::(\d{2}))?`)
)

// dateTimeLayouts are the layouts platforms commonly export, tried in order.
var dateTimeLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
	"2006.01.02 15:04:05",
	"2006.01.02 15:04",
	"2006.01.02",
	"01/02/2006 15:04:05",
	"01/02/2006 15:04",
	"1/2/2006 3:04:05 PM",
	"1/2/2006 15:04:05",
	"01/02/2006",
	"1/2/2006",
	"2006/01/02",
	"20060102;150405",
	"20060102",
	"Jan 2, 2006",
	"January 2, 2006",
	"02 Jan 2006",
}

// ParseDirection normalizes a side/type cell. Anything mentioning "sell" or
// equal to "short" is short; everything else, including empty cells, is long.
func ParseDirection(raw string) models.Direction {
	v := strings.ToLower(strings.TrimSpace(raw))
	if strings.Contains(v, "sell") || v == "short" {
		return models.DirectionShort
	}
	return models.DirectionLong
}

// ParseNumberOK strips everything but digits, '.' and '-' and parses the
// longest numeric prefix of what remains. ok is false for empty or
// unparsable input.
func ParseNumberOK(raw string) (value float64, ok bool) {
	cleaned := nonNumeric.ReplaceAllString(raw, "")
	prefix := numericPrefix.FindString(cleaned)
	if prefix == "" {
		return 0, false
	}

	d, err := decimal.NewFromString(prefix)
	if err != nil {
		return 0, false
	}
	return d.InexactFloat64(), true
}

// ParseNumber is ParseNumberOK with a fallback for unparsable input.
func ParseNumber(raw string, fallback float64) float64 {
	if v, ok := ParseNumberOK(raw); ok {
		return v
	}
	return fallback
}

// RowParser parses the date and time cells of a row. Dates without a zone are
// read in Location.
type RowParser struct {
	Location *time.Location
	Now      func() time.Time
}

// NewRowParser creates a parser reading zone-less dates in loc (UTC if nil).
func NewRowParser(loc *time.Location) *RowParser {
	if loc == nil {
		loc = time.UTC
	}
	return &RowParser{Location: loc, Now: time.Now}
}

// ParseDateTime parses a date cell and an optional time cell. It never fails:
// when no layout matches it returns the current time with ok=false so the
// caller can count the row as degraded. A time cell of the form HH:MM[:SS]
// always overrides the time of day.
func (p *RowParser) ParseDateTime(dateStr, timeStr string) (t time.Time, ok bool) {
	loc := p.location()
	dateStr = strings.TrimSpace(dateStr)
	timeStr = strings.TrimSpace(timeStr)

	t, ok = p.parseDate(dateStr, timeStr, loc)
	if !ok {
		t = p.now().In(loc)
	}

	if m := timeOfDay.FindStringSubmatch(timeStr); m != nil {
		hour, _ := strconv.Atoi(m[1])
		minute, _ := strconv.Atoi(m[2])
		second := 0
		if m[3] != "" {
			second, _ = strconv.Atoi(m[3])
		}
		if hour < 24 && minute < 60 && second < 60 {
			t = time.Date(t.Year(), t.Month(), t.Day(), hour, minute, second, 0, t.Location())
		}
	}

	return t, ok
}

func (p *RowParser) parseDate(dateStr, timeStr string, loc *time.Location) (time.Time, bool) {
	if dateStr == "" {
		return time.Time{}, false
	}

	candidates := []string{dateStr}
	if timeStr != "" {
		candidates = []string{dateStr + " " + timeStr, dateStr}
	}
	for _, candidate := range candidates {
		for _, layout := range dateTimeLayouts {
			if t, err := time.ParseInLocation(layout, candidate, loc); err == nil {
				return t, true
			}
		}
	}

	if m := isoDatePrefix.FindStringSubmatch(dateStr); m != nil {
		if t, ok := dateFromParts(m[1], m[2], m[3], loc); ok {
			return t, true
		}
	}

	if m := usDateTriplet.FindStringSubmatch(dateStr); m != nil {
		if t, ok := dateFromParts(m[3], m[1], m[2], loc); ok {
			return t, true
		}
	}

	return time.Time{}, false
}

// dateFromParts builds midnight of year-month-day, rejecting out of range
// values instead of normalizing them.
func dateFromParts(year, month, day string, loc *time.Location) (time.Time, bool) {
	y, _ := strconv.Atoi(year)
	m, _ := strconv.Atoi(month)
	d, _ := strconv.Atoi(day)
	if m < 1 || m > 12 || d < 1 || d > 31 {
		return time.Time{}, false
	}

	t := time.Date(y, time.Month(m), d, 0, 0, 0, 0, loc)
	if t.Day() != d {
		return time.Time{}, false
	}
	return t, true
}

func (p *RowParser) location() *time.Location {
	if p.Location == nil {
		return time.UTC
	}
	return p.Location
}

func (p *RowParser) now() time.Time {
	if p.Now == nil {
		return time.Now()
	}
	return p.Now()
}
