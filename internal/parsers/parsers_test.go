package parsers

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"trade-import-service/internal/models"
	"trade-import-service/pkg/errors"
)

func tokenize(t *testing.T, content string) (*Table, error) {
	t.Helper()
	return NewCSVTokenizer(nil).Tokenize(context.Background(), "trades.csv", strings.NewReader(content))
}

func TestDefaultParseConfig(t *testing.T) {
	config := DefaultParseConfig()

	if config.Delimiter != ',' {
		t.Errorf("Expected delimiter to be ',', got %q", config.Delimiter)
	}

	if !config.TrimLeadingSpace {
		t.Error("Expected TrimLeadingSpace to be true")
	}

	if !config.SkipEmptyRows {
		t.Error("Expected SkipEmptyRows to be true")
	}
}

func TestTokenize_HeaderAndRowCounts(t *testing.T) {
	for _, n := range []int{1, 3, 7} {
		for _, m := range []int{1, 2, 25} {
			t.Run(fmt.Sprintf("%dx%d", n, m), func(t *testing.T) {
				var b strings.Builder
				for c := 0; c < n; c++ {
					if c > 0 {
						b.WriteString(",")
					}
					fmt.Fprintf(&b, "col%d", c)
				}
				b.WriteString("\n")
				for r := 0; r < m; r++ {
					for c := 0; c < n; c++ {
						if c > 0 {
							b.WriteString(",")
						}
						fmt.Fprintf(&b, "v%d_%d", r, c)
					}
					b.WriteString("\n")
				}

				table, err := tokenize(t, b.String())
				if err != nil {
					t.Fatalf("Unexpected error: %v", err)
				}
				if len(table.Headers) != n {
					t.Errorf("Expected %d headers, got %d", n, len(table.Headers))
				}
				if len(table.Rows) != m {
					t.Errorf("Expected %d rows, got %d", m, len(table.Rows))
				}
			})
		}
	}
}

func TestTokenize_Cleanup(t *testing.T) {
	content := "\xEF\xBB\xBF Symbol , Profit,Profit,Note\n" +
		"AAPL,150.00,1,\"quoted, note\"\n" +
		"\n" +
		",,,\n" +
		"MSFT,-20\n"

	table, err := tokenize(t, content)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	wantHeaders := []string{"Symbol", "Profit", "Profit_1", "Note"}
	if strings.Join(table.Headers, "|") != strings.Join(wantHeaders, "|") {
		t.Errorf("Expected headers %v, got %v", wantHeaders, table.Headers)
	}

	if len(table.Rows) != 2 {
		t.Fatalf("Expected 2 rows, got %d", len(table.Rows))
	}
	if table.Skipped != 1 {
		t.Errorf("Expected 1 skipped row, got %d", table.Skipped)
	}

	first := table.Rows[0]
	if first["Symbol"] != "AAPL" || first["Note"] != "quoted, note" {
		t.Errorf("Unexpected first row: %v", first)
	}

	second := table.Rows[1]
	if v, ok := second["Note"]; !ok || v != "" {
		t.Errorf("Expected short row to be padded with empty Note, got %q (present=%v)", v, ok)
	}

	table, err = tokenize(t, "Price_1,Price,Price\nA,B,C\n")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	wantHeaders = []string{"Price_1", "Price", "Price_2"}
	if strings.Join(table.Headers, "|") != strings.Join(wantHeaders, "|") {
		t.Errorf("Expected headers %v, got %v", wantHeaders, table.Headers)
	}
	row := table.Rows[0]
	if row["Price_1"] != "A" || row["Price"] != "B" || row["Price_2"] != "C" {
		t.Errorf("Expected every column to keep its value, got %v", row)
	}
}

func TestTokenize_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		code    errors.ErrorCode
	}{
		{"empty file", "", errors.CodeEmptyFile},
		{"invalid utf8", "Symbol\n\xff\xfe\n", errors.CodeEncodingError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tokenize(t, tt.content)
			if err == nil {
				t.Fatal("Expected error but got none")
			}
			if !errors.IsCode(err, tt.code) {
				t.Errorf("Expected error code %s, got %v", tt.code, err)
			}
			if !errors.IsCategory(err, errors.CategoryFile) {
				t.Errorf("Expected file category, got %v", err)
			}
		})
	}
}

func TestTokenize_HeaderOnly(t *testing.T) {
	table, err := tokenize(t, "Symbol,Profit\n")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if len(table.Rows) != 0 {
		t.Errorf("Expected no rows, got %d", len(table.Rows))
	}
}

func TestTokenize_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewCSVTokenizer(nil).Tokenize(ctx, "trades.csv", strings.NewReader("a\n1\n"))
	if err != context.Canceled {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}

func TestParseDirection(t *testing.T) {
	tests := []struct {
		raw  string
		want models.Direction
	}{
		{"buy", models.DirectionLong},
		{"BUY", models.DirectionLong},
		{"Sell", models.DirectionShort},
		{"sell limit", models.DirectionShort},
		{"short", models.DirectionShort},
		{" SHORT ", models.DirectionShort},
		{"shorted", models.DirectionLong},
		{"Long", models.DirectionLong},
		{"", models.DirectionLong},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			if got := ParseDirection(tt.raw); got != tt.want {
				t.Errorf("ParseDirection(%q) = %s, want %s", tt.raw, got, tt.want)
			}
		})
	}
}

func TestParseNumber(t *testing.T) {
	tests := []struct {
		raw      string
		fallback float64
		want     float64
	}{
		{"$1,234.56", 0, 1234.56},
		{"", 0, 0},
		{"", 1, 1},
		{"-20.5", 0, -20.5},
		{"(USD) -7", 0, -7},
		{"1.2.3", 0, 1.2},
		{"12-3", 0, 12},
		{".5", 0, 0.5},
		{"abc", 3, 3},
		{"-", 0, 0},
		{"0", 9, 0},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			if got := ParseNumber(tt.raw, tt.fallback); got != tt.want {
				t.Errorf("ParseNumber(%q, %v) = %v, want %v", tt.raw, tt.fallback, got, tt.want)
			}
		})
	}
}

func TestParseNumberOK(t *testing.T) {
	if _, ok := ParseNumberOK("n/a"); ok {
		t.Error("Expected n/a to be unparsable")
	}
	if v, ok := ParseNumberOK("0.00"); !ok || v != 0 {
		t.Errorf("Expected 0.00 to parse as 0, got %v (ok=%v)", v, ok)
	}
}

func TestRowParser_ParseDateTime(t *testing.T) {
	fixed := time.Date(2030, time.June, 1, 12, 0, 0, 0, time.UTC)
	p := NewRowParser(time.UTC)
	p.Now = func() time.Time { return fixed }

	tests := []struct {
		name   string
		date   string
		time   string
		want   time.Time
		wantOK bool
	}{
		{"iso date with time column", "2023-01-15", "09:30:00", time.Date(2023, 1, 15, 9, 30, 0, 0, time.UTC), true},
		{"iso date only", "2023-01-15", "", time.Date(2023, 1, 15, 0, 0, 0, 0, time.UTC), true},
		{"rfc3339", "2023-01-15T14:05:06Z", "", time.Date(2023, 1, 15, 14, 5, 6, 0, time.UTC), true},
		{"metatrader dots", "2024.03.08 16:45:10", "", time.Date(2024, 3, 8, 16, 45, 10, 0, time.UTC), true},
		{"us slashes", "03/08/2024", "", time.Date(2024, 3, 8, 0, 0, 0, 0, time.UTC), true},
		{"us dashes", "03-08-2024", "", time.Date(2024, 3, 8, 0, 0, 0, 0, time.UTC), true},
		{"ninjatrader 12h clock", "3/8/2024 4:45:10 PM", "", time.Date(2024, 3, 8, 16, 45, 10, 0, time.UTC), true},
		{"ib compact", "20240308", "", time.Date(2024, 3, 8, 0, 0, 0, 0, time.UTC), true},
		{"iso with trailing junk", "2024-03-08/EOD", "", time.Date(2024, 3, 8, 0, 0, 0, 0, time.UTC), true},
		{"time overrides time of day", "2024-03-08 10:00", "15:20", time.Date(2024, 3, 8, 15, 20, 0, 0, time.UTC), true},
		{"garbage falls back to now", "not a date", "", fixed, false},
		{"empty falls back to now", "", "", fixed, false},
		{"fallback still takes time column", "???", "08:15", time.Date(2030, 6, 1, 8, 15, 0, 0, time.UTC), false},
		{"impossible iso date", "2024-02-31", "", fixed, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := p.ParseDateTime(tt.date, tt.time)
			if ok != tt.wantOK {
				t.Errorf("Expected ok=%v, got %v", tt.wantOK, ok)
			}
			if !got.Equal(tt.want) {
				t.Errorf("ParseDateTime(%q, %q) = %v, want %v", tt.date, tt.time, got, tt.want)
			}
		})
	}
}

func TestRowParser_Location(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skipf("timezone data unavailable: %v", err)
	}

	got, ok := NewRowParser(ny).ParseDateTime("2023-01-15", "09:30")
	if !ok {
		t.Fatal("Expected date to parse")
	}
	if got.UTC().Hour() != 14 {
		t.Errorf("Expected 14:30 UTC, got %v", got.UTC())
	}
}
