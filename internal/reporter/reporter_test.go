package reporter

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	stderrors "errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"trade-import-service/internal/builder"
	"trade-import-service/internal/metrics"
	"trade-import-service/internal/models"
	"trade-import-service/internal/session"
	"trade-import-service/pkg/logger"
)

func createTestPreview() *Preview {
	mapping := models.NewColumnMapping()
	mapping.Set(models.FieldSymbol, "Symbol")
	mapping.Set(models.FieldDirection, "Type")
	mapping.Set(models.FieldDate, "Date")
	mapping.Set(models.FieldPnl, "Profit")
	mapping.Set(models.CustomSlot(1), "Setup")

	extra := models.NewExtraData()
	extra.Values["Setup"] = "breakout"
	extra.VarMapping["var1"] = "Setup"
	extra.TradeHour = 9

	return &Preview{
		SessionID: "session-1",
		State:     session.StateAnalyzed,
		Filename:  "trades.csv",
		ProfileID: "metatrader5",
		RowCount:  2,
		Mapping:   mapping,
		Stats:     models.SummaryStats{TotalTrades: 2, TotalPnl: 100, WinRate: 50, AvgPnl: 50},
		BuildStats: builder.BuildStats{
			Rows:            2,
			DegradedRows:    1,
			DegradedDates:   1,
			DegradedNumbers: 0,
		},
		Trades: []models.CanonicalTrade{
			{
				ID: "tmp-0-a", Symbol: "AAPL", Direction: models.DirectionLong,
				EntryPrice: models.Float(100), ExitPrice: models.Float(101.5),
				Quantity: 100, Pnl: 150, RR: 2, Date: "2023-01-01",
				EntryDate: "2023-01-01T09:00:00.000Z", ExitDate: "2023-01-01T09:00:00.000Z",
				ExtraData: extra,
			},
			{
				ID: "tmp-1-b", Symbol: "MSFT", Direction: models.DirectionShort,
				Quantity: 1, Pnl: -50, Date: "2023-01-02",
				EntryDate: "2023-01-02T00:00:00.000Z", ExitDate: "2023-01-02T00:00:00.000Z",
				ExtraData: models.NewExtraData(),
			},
		},
		GeneratedAt: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestNewReportGenerator(t *testing.T) {
	tests := []struct {
		name        string
		config      *ReportConfig
		expectError bool
	}{
		{
			name:        "default config",
			config:      nil,
			expectError: false,
		},
		{
			name:        "invalid format",
			config:      &ReportConfig{Format: "xml"},
			expectError: true,
		},
		{
			name:        "negative max trades",
			config:      &ReportConfig{Format: FormatConsole, MaxTrades: -1},
			expectError: true,
		},
		{
			name:        "csv without delimiter",
			config:      &ReportConfig{Format: FormatCSV},
			expectError: true,
		},
		{
			name:        "csv with semicolon",
			config:      &ReportConfig{Format: FormatCSV, CSVDelimiter: ';'},
			expectError: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			generator, err := NewReportGenerator(tt.config)

			if tt.expectError {
				if err == nil {
					t.Errorf("expected error but got none")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if generator == nil {
				t.Errorf("expected generator but got nil")
			}
		})
	}
}

func TestGenerateReport_NilPreview(t *testing.T) {
	generator, _ := NewReportGenerator(nil)
	if err := generator.GenerateReport(nil, &bytes.Buffer{}); err == nil {
		t.Error("expected error for nil preview")
	}
}

func TestGenerateConsoleReport(t *testing.T) {
	generator, _ := NewReportGenerator(DefaultReportConfig())

	var buf bytes.Buffer
	if err := generator.GenerateReport(createTestPreview(), &buf); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	output := buf.String()

	for _, want := range []string{
		"TRADE IMPORT PREVIEW",
		"File:      trades.csv (2 rows)",
		"Platform:  metatrader5",
		"=== MAPPING ===",
		"symbol       <- Symbol",
		"var1         <- Setup",
		"entry_price  <unmapped>",
		"Mapped fields: 5",
		"Total Trades: 2",
		"Total PnL:    100.00",
		"Win Rate:     50.00%",
		"Degraded Rows: 1 (dates: 1, numbers: 0)",
		"1. AAPL LONG  PnL: 150.00, RR: 2.00, Date: 2023-01-01",
		"2. MSFT SHORT PnL: -50.00, RR: 0.00, Date: 2023-01-02",
	} {
		if !strings.Contains(output, want) {
			t.Errorf("console output missing %q\n%s", want, output)
		}
	}
	if strings.Contains(output, "var2") {
		t.Error("unmapped custom slots should not be listed")
	}
}

func TestGenerateConsoleReport_Variants(t *testing.T) {
	t.Run("max trades", func(t *testing.T) {
		config := DefaultReportConfig()
		config.MaxTrades = 1
		generator, _ := NewReportGenerator(config)

		var buf bytes.Buffer
		_ = generator.GenerateReport(createTestPreview(), &buf)

		if !strings.Contains(buf.String(), "... and 1 more") {
			t.Errorf("expected truncation notice\n%s", buf.String())
		}
		if strings.Contains(buf.String(), "MSFT") {
			t.Error("second trade should be truncated")
		}
	})

	t.Run("violations", func(t *testing.T) {
		preview := createTestPreview()
		preview.State = session.StateMapping
		preview.Trades = nil
		preview.Violations = []string{"required field 'pnl' is not mapped to a column"}
		generator, _ := NewReportGenerator(nil)

		var buf bytes.Buffer
		_ = generator.GenerateReport(preview, &buf)

		if !strings.Contains(buf.String(), "=== VIOLATIONS ===\n  - required field 'pnl'") {
			t.Errorf("expected violations section\n%s", buf.String())
		}
		if strings.Contains(buf.String(), "=== TRADES ===") {
			t.Error("no trades section without trades")
		}
	})

	t.Run("committed", func(t *testing.T) {
		preview := createTestPreview()
		preview.State = session.StateCommitted
		preview.InsertedCount = 2
		generator, _ := NewReportGenerator(nil)

		var buf bytes.Buffer
		_ = generator.GenerateReport(preview, &buf)

		if !strings.Contains(buf.String(), "Committed: 2 trades inserted") {
			t.Errorf("expected commit line\n%s", buf.String())
		}
	})

	t.Run("duplicates", func(t *testing.T) {
		preview := createTestPreview()
		preview.Duplicates = []metrics.DuplicateGroup{{
			Indexes: []int{0, 1},
			IDs:     []string{"tmp-0-a", "tmp-1-b"},
			Reason:  "2 trades with long AAPL at 2023-01-01T09:00:00.000Z, quantity 100, pnl 150",
		}}
		generator, _ := NewReportGenerator(nil)

		var buf bytes.Buffer
		_ = generator.GenerateReport(preview, &buf)

		if !strings.Contains(buf.String(), "Possible Duplicates: 1 groups\n  - 2 trades with long AAPL") {
			t.Errorf("expected duplicate warning\n%s", buf.String())
		}
	})
}

func TestGenerateJSONReport(t *testing.T) {
	config := DefaultReportConfig()
	config.Format = FormatJSON
	config.IncludeMapping = false
	generator, _ := NewReportGenerator(config)

	var buf bytes.Buffer
	if err := generator.GenerateReport(createTestPreview(), &buf); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var decoded map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("invalid JSON output: %v", err)
	}
	if _, ok := decoded["mapping"]; ok {
		t.Error("mapping should be omitted")
	}
	if decoded["filename"] != "trades.csv" {
		t.Errorf("filename = %v", decoded["filename"])
	}

	stats := decoded["stats"].(map[string]interface{})
	if stats["totalPnl"] != 100.0 || stats["winRate"] != 50.0 {
		t.Errorf("unexpected stats: %v", stats)
	}

	trades := decoded["trades"].([]interface{})
	if len(trades) != 2 {
		t.Fatalf("expected 2 trades, got %d", len(trades))
	}
	second := trades[1].(map[string]interface{})
	if _, ok := second["entry_price"]; ok {
		t.Error("absent entry_price should be omitted")
	}
}

func TestGenerateCSVReport(t *testing.T) {
	config := DefaultReportConfig()
	config.Format = FormatCSV
	generator, _ := NewReportGenerator(config)

	var buf bytes.Buffer
	if err := generator.GenerateReport(createTestPreview(), &buf); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	records, err := csv.NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatalf("invalid CSV output: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("expected header + 2 rows, got %d", len(records))
	}

	wantHeader := "id,symbol,direction,entry_price,exit_price,stop_loss,take_profit,quantity,pnl,rr,date,entry_date,exit_date,extra_data"
	if got := strings.Join(records[0], ","); got != wantHeader {
		t.Errorf("header = %s", got)
	}

	first := records[1]
	if first[1] != "AAPL" || first[3] != "100" || first[4] != "101.5" || first[5] != "" || first[8] != "150" {
		t.Errorf("unexpected first row: %v", first)
	}

	var extra models.ExtraData
	if err := json.Unmarshal([]byte(first[13]), &extra); err != nil {
		t.Fatalf("extra_data column is not JSON: %v", err)
	}
	if extra.Values["Setup"] != "breakout" || extra.TradeHour != 9 {
		t.Errorf("unexpected extra data: %+v", extra)
	}
}

func TestGenerateCSVReport_DelimiterWithoutHeaders(t *testing.T) {
	config := &ReportConfig{Format: FormatCSV, CSVDelimiter: ';', IncludeTrades: true}
	generator, _ := NewReportGenerator(config)

	var buf bytes.Buffer
	if err := generator.GenerateReport(createTestPreview(), &buf); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}
	if !strings.HasPrefix(lines[0], "tmp-0-a;AAPL;long;") {
		t.Errorf("unexpected first line: %s", lines[0])
	}
}

func TestNewPreview(t *testing.T) {
	snap := session.Snapshot{
		ID:        "s-1",
		State:     session.StateAnalyzed,
		Filename:  "a.csv",
		RowCount:  3,
		ProfileID: "custom",
		Stats:     models.SummaryStats{TotalTrades: 3},
	}
	preview := NewPreview(snap, createTestPreview().Trades)

	if preview.SessionID != "s-1" || preview.Filename != "a.csv" || preview.Stats.TotalTrades != 3 {
		t.Errorf("unexpected preview: %+v", preview)
	}
	if len(preview.Trades) != 2 {
		t.Errorf("expected trades to be carried over")
	}
	if preview.GeneratedAt.IsZero() {
		t.Error("expected generation time")
	}
}

// failOnceWriter fails its first write and records the rest.
type failOnceWriter struct {
	failed bool
	buf    bytes.Buffer
}

func (w *failOnceWriter) Write(p []byte) (int, error) {
	if !w.failed {
		w.failed = true
		return 0, stderrors.New("broken pipe")
	}
	return w.buf.Write(p)
}

func TestSafeReportGenerator_FormatFallback(t *testing.T) {
	config := DefaultReportConfig()
	config.Format = FormatJSON
	generator, err := NewSafeReportGenerator(config, logger.Discard())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	w := &failOnceWriter{}
	if err := generator.GenerateReportSafely(createTestPreview(), w); err != nil {
		t.Fatalf("expected fallback to succeed, got %v", err)
	}

	output := w.buf.String()
	if !strings.Contains(output, "NOTE: Preview shown in console format") {
		t.Errorf("expected fallback notice\n%s", output)
	}
	if !strings.Contains(output, "TRADE IMPORT PREVIEW") {
		t.Errorf("expected console report\n%s", output)
	}
}

func TestSafeReportGenerator_OutputFallback(t *testing.T) {
	config := DefaultReportConfig()
	config.Format = FormatJSON
	generator, _ := NewSafeReportGenerator(config, logger.Discard())

	path := filepath.Join(t.TempDir(), "preview.json")
	file, err := os.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	file.Close()

	if err := generator.GenerateReportSafely(createTestPreview(), file); err != nil {
		t.Fatalf("expected output fallback to succeed, got %v", err)
	}

	backup, err := os.ReadFile(generateBackupPath(path))
	if err != nil {
		t.Fatalf("backup file not written: %v", err)
	}
	if !json.Valid(backup) {
		t.Errorf("backup is not JSON: %s", backup)
	}
}

func TestSafeReportGenerator_GenerateReportToFile(t *testing.T) {
	config := DefaultReportConfig()
	config.Format = FormatJSON
	generator, _ := NewSafeReportGenerator(config, logger.Discard())
	dir := t.TempDir()

	t.Run("writes the requested file", func(t *testing.T) {
		path := filepath.Join(dir, "preview.json")
		written, err := generator.GenerateReportToFile(createTestPreview(), path)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if written != path {
			t.Errorf("expected %s, got %s", path, written)
		}
	})

	t.Run("falls back to the backup path", func(t *testing.T) {
		path := filepath.Join(dir, "taken.json")
		if err := os.Mkdir(path, 0755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}

		written, err := generator.GenerateReportToFile(createTestPreview(), path)
		if err != nil {
			t.Fatalf("expected backup output, got %v", err)
		}
		if written != generateBackupPath(path) {
			t.Errorf("expected %s, got %s", generateBackupPath(path), written)
		}
		backup, err := os.ReadFile(written)
		if err != nil || !json.Valid(backup) {
			t.Errorf("backup not written as JSON: %v %s", err, backup)
		}
	})

	t.Run("missing directory", func(t *testing.T) {
		_, err := generator.GenerateReportToFile(createTestPreview(), filepath.Join(dir, "missing", "preview.json"))
		if err == nil {
			t.Error("expected an error when the directory does not exist")
		}
	})
}

func TestSafeReportGenerator_Validation(t *testing.T) {
	if _, err := NewSafeReportGenerator(&ReportConfig{Format: "xml"}, nil); err == nil {
		t.Error("expected configuration error")
	}

	generator, _ := NewSafeReportGenerator(nil, logger.Discard())
	if err := generator.GenerateReportSafely(nil, &bytes.Buffer{}); err == nil {
		t.Error("expected error for nil preview")
	}
	if err := generator.GenerateReportSafely(createTestPreview(), nil); err == nil {
		t.Error("expected error for nil writer")
	}
}

func TestGenerateBackupPath(t *testing.T) {
	got := generateBackupPath(filepath.Join("out", "preview.csv"))
	want := filepath.Join("out", "preview_backup.csv")
	if got != want {
		t.Errorf("generateBackupPath() = %s, want %s", got, want)
	}
}
