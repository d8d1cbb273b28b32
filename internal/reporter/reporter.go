// Package reporter renders the preview of an import session.
//
// The preview is what a user checks before committing: the column mapping,
// the live summary statistics, any mapping violations and the analyzed trades.
//
// Supported output formats:
//   - Console: human-readable sections for terminal display
//   - JSON: structured data for programmatic consumption
//   - CSV: one line per analyzed trade, for spreadsheets
//
// Example usage:
//
//	generator, err := reporter.NewReportGenerator(&reporter.ReportConfig{
//		Format:        reporter.FormatConsole,
//		IncludeTrades: true,
//		MaxTrades:     20,
//	})
//	err = generator.GenerateReport(reporter.NewPreview(ctrl.Snapshot(), ctrl.Trades()), os.Stdout)
package reporter

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/gocarina/gocsv"

	"trade-import-service/internal/builder"
	"trade-import-service/internal/metrics"
	"trade-import-service/internal/models"
	"trade-import-service/internal/session"
)

// OutputFormat represents the supported report output formats.
type OutputFormat string

const (
	FormatConsole OutputFormat = "console"
	FormatJSON    OutputFormat = "json"
	FormatCSV     OutputFormat = "csv"
)

// IsValid checks if the output format is supported
func (f OutputFormat) IsValid() bool {
	switch f {
	case FormatConsole, FormatJSON, FormatCSV:
		return true
	default:
		return false
	}
}

// ReportConfig holds configuration options for report generation
type ReportConfig struct {
	Format OutputFormat `json:"format"`

	// Detail level options
	IncludeMapping bool `json:"include_mapping"`
	IncludeTrades  bool `json:"include_trades"`

	// MaxTrades limits the trades listed on the console; 0 lists all.
	MaxTrades int `json:"max_trades"`

	// CSV options
	CSVDelimiter rune `json:"csv_delimiter"`
	CSVHeaders   bool `json:"csv_headers"`
}

// DefaultReportConfig returns a default report configuration
func DefaultReportConfig() *ReportConfig {
	return &ReportConfig{
		Format:         FormatConsole,
		IncludeMapping: true,
		IncludeTrades:  true,
		MaxTrades:      10,
		CSVDelimiter:   ',',
		CSVHeaders:     true,
	}
}

// Validate validates the report configuration
func (c *ReportConfig) Validate() error {
	if !c.Format.IsValid() {
		return fmt.Errorf("invalid output format: %s", c.Format)
	}
	if c.MaxTrades < 0 {
		return fmt.Errorf("max trades cannot be negative, got %d", c.MaxTrades)
	}
	if c.Format == FormatCSV && (c.CSVDelimiter == 0 || c.CSVDelimiter == '"' || c.CSVDelimiter == '\n' || c.CSVDelimiter == '\r') {
		return fmt.Errorf("invalid CSV delimiter: %q", c.CSVDelimiter)
	}
	return nil
}

// Preview is everything a report shows about one session.
type Preview struct {
	SessionID     string                   `json:"session_id"`
	State         session.State            `json:"state"`
	Filename      string                   `json:"filename,omitempty"`
	ProfileID     string                   `json:"profile_id,omitempty"`
	RowCount      int                      `json:"row_count"`
	Mapping       models.ColumnMapping     `json:"mapping,omitempty"`
	Stats         models.SummaryStats      `json:"stats"`
	BuildStats    builder.BuildStats       `json:"build_stats"`
	Duplicates    []metrics.DuplicateGroup `json:"duplicates,omitempty"`
	Violations    []string                 `json:"violations,omitempty"`
	Trades        []models.CanonicalTrade  `json:"trades,omitempty"`
	InsertedCount int                      `json:"inserted_count,omitempty"`
	GeneratedAt   time.Time                `json:"generated_at"`
}

// NewPreview builds a Preview from a session snapshot and its trades.
func NewPreview(snap session.Snapshot, trades []models.CanonicalTrade) *Preview {
	return &Preview{
		SessionID:     snap.ID,
		State:         snap.State,
		Filename:      snap.Filename,
		ProfileID:     snap.ProfileID,
		RowCount:      snap.RowCount,
		Mapping:       snap.Mapping,
		Stats:         snap.Stats,
		BuildStats:    snap.BuildStats,
		Duplicates:    snap.Duplicates,
		Violations:    snap.Violations,
		Trades:        trades,
		InsertedCount: snap.InsertedCount,
		GeneratedAt:   time.Now().UTC(),
	}
}

// ReportGenerator generates import previews in various formats
type ReportGenerator struct {
	config *ReportConfig
}

// NewReportGenerator creates a new report generator with the specified configuration
func NewReportGenerator(config *ReportConfig) (*ReportGenerator, error) {
	if config == nil {
		config = DefaultReportConfig()
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid report configuration: %w", err)
	}

	return &ReportGenerator{
		config: config,
	}, nil
}

// GenerateReport writes the preview to writer in the configured format.
func (rg *ReportGenerator) GenerateReport(preview *Preview, writer io.Writer) error {
	if preview == nil {
		return fmt.Errorf("preview cannot be nil")
	}

	switch rg.config.Format {
	case FormatConsole:
		return rg.generateConsoleReport(preview, writer)
	case FormatJSON:
		return rg.generateJSONReport(preview, writer)
	case FormatCSV:
		return rg.generateCSVReport(preview, writer)
	default:
		return fmt.Errorf("unsupported output format: %s", rg.config.Format)
	}
}

func (rg *ReportGenerator) generateConsoleReport(preview *Preview, writer io.Writer) error {
	fmt.Fprintf(writer, "TRADE IMPORT PREVIEW\n")
	fmt.Fprintf(writer, "Generated: %s\n", preview.GeneratedAt.Format(time.RFC3339))
	if preview.Filename != "" {
		fmt.Fprintf(writer, "File:      %s (%d rows)\n", preview.Filename, preview.RowCount)
	}
	platform := preview.ProfileID
	if platform == "" {
		platform = "none"
	}
	fmt.Fprintf(writer, "Platform:  %s\n", platform)
	fmt.Fprintf(writer, "State:     %s\n\n", preview.State)

	if rg.config.IncludeMapping && len(preview.Mapping) > 0 {
		fmt.Fprintf(writer, "=== MAPPING ===\n")
		rg.printMapping(preview.Mapping, writer)
		fmt.Fprintf(writer, "\n")
	}

	if len(preview.Violations) > 0 {
		fmt.Fprintf(writer, "=== VIOLATIONS ===\n")
		for _, v := range preview.Violations {
			fmt.Fprintf(writer, "  - %s\n", v)
		}
		fmt.Fprintf(writer, "\n")
	}

	fmt.Fprintf(writer, "=== SUMMARY ===\n")
	rg.printSummary(preview, writer)

	if rg.config.IncludeTrades && len(preview.Trades) > 0 {
		fmt.Fprintf(writer, "\n=== TRADES ===\n")
		rg.printTradeList(preview.Trades, writer)
	}

	if preview.State == session.StateCommitted {
		fmt.Fprintf(writer, "\nCommitted: %d trades inserted\n", preview.InsertedCount)
	}
	return nil
}

func (rg *ReportGenerator) generateJSONReport(preview *Preview, writer io.Writer) error {
	encoder := json.NewEncoder(writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(rg.filterPreviewForOutput(preview))
}

// tradeRow is the flat CSV form of a CanonicalTrade.
type tradeRow struct {
	ID         string `csv:"id"`
	Symbol     string `csv:"symbol"`
	Direction  string `csv:"direction"`
	EntryPrice string `csv:"entry_price"`
	ExitPrice  string `csv:"exit_price"`
	StopLoss   string `csv:"stop_loss"`
	TakeProfit string `csv:"take_profit"`
	Quantity   string `csv:"quantity"`
	Pnl        string `csv:"pnl"`
	RR         string `csv:"rr"`
	Date       string `csv:"date"`
	EntryDate  string `csv:"entry_date"`
	ExitDate   string `csv:"exit_date"`
	ExtraData  string `csv:"extra_data"`
}

func newTradeRow(t *models.CanonicalTrade) (*tradeRow, error) {
	extra, err := json.Marshal(t.ExtraData)
	if err != nil {
		return nil, err
	}
	return &tradeRow{
		ID:         t.ID,
		Symbol:     t.Symbol,
		Direction:  string(t.Direction),
		EntryPrice: formatOptional(t.EntryPrice),
		ExitPrice:  formatOptional(t.ExitPrice),
		StopLoss:   formatOptional(t.StopLoss),
		TakeProfit: formatOptional(t.TakeProfit),
		Quantity:   formatFloat(t.Quantity),
		Pnl:        formatFloat(t.Pnl),
		RR:         formatFloat(t.RR),
		Date:       t.Date,
		EntryDate:  t.EntryDate,
		ExitDate:   t.ExitDate,
		ExtraData:  string(extra),
	}, nil
}

func (rg *ReportGenerator) generateCSVReport(preview *Preview, writer io.Writer) error {
	rows := make([]*tradeRow, 0, len(preview.Trades))
	for i := range preview.Trades {
		row, err := newTradeRow(&preview.Trades[i])
		if err != nil {
			return fmt.Errorf("failed to encode trade %s: %w", preview.Trades[i].ID, err)
		}
		rows = append(rows, row)
	}

	csvWriter := csv.NewWriter(writer)
	csvWriter.Comma = rg.config.CSVDelimiter
	out := gocsv.NewSafeCSVWriter(csvWriter)

	var err error
	if rg.config.CSVHeaders {
		err = gocsv.MarshalCSV(rows, out)
	} else {
		err = gocsv.MarshalCSVWithoutHeaders(rows, out)
	}
	if err != nil {
		return fmt.Errorf("failed to write CSV trades: %w", err)
	}
	out.Flush()
	return out.Error()
}

// Helper methods for console output formatting

func (rg *ReportGenerator) printMapping(mapping models.ColumnMapping, writer io.Writer) {
	mapped := 0
	for _, field := range models.AllFields() {
		column := mapping.Get(field)
		if column == "" {
			if !field.IsCustom() {
				fmt.Fprintf(writer, "  %-12s <unmapped>\n", field)
			}
			continue
		}
		fmt.Fprintf(writer, "  %-12s <- %s\n", field, column)
		mapped++
	}
	fmt.Fprintf(writer, "Mapped fields: %d\n", mapped)
}

func (rg *ReportGenerator) printSummary(preview *Preview, writer io.Writer) {
	stats := preview.Stats
	fmt.Fprintf(writer, "Total Trades: %d\n", stats.TotalTrades)
	fmt.Fprintf(writer, "Total PnL:    %.2f\n", stats.TotalPnl)
	fmt.Fprintf(writer, "Win Rate:     %.2f%%\n", stats.WinRate)
	fmt.Fprintf(writer, "Average PnL:  %.2f\n", stats.AvgPnl)

	if preview.BuildStats.HasDegradations() {
		fmt.Fprintf(writer, "Degraded Rows: %d (dates: %d, numbers: %d)\n",
			preview.BuildStats.DegradedRows,
			preview.BuildStats.DegradedDates,
			preview.BuildStats.DegradedNumbers)
	}

	if len(preview.Duplicates) > 0 {
		fmt.Fprintf(writer, "Possible Duplicates: %d groups\n", len(preview.Duplicates))
		for _, g := range preview.Duplicates {
			fmt.Fprintf(writer, "  - %s\n", g.Reason)
		}
	}
}

func (rg *ReportGenerator) printTradeList(trades []models.CanonicalTrade, writer io.Writer) {
	for i := range trades {
		t := &trades[i]
		if rg.config.MaxTrades > 0 && i >= rg.config.MaxTrades {
			fmt.Fprintf(writer, "  ... and %d more\n", len(trades)-i)
			break
		}
		fmt.Fprintf(writer, "  %d. %s %-5s PnL: %s, RR: %s, Date: %s\n",
			i+1,
			t.Symbol,
			strings.ToUpper(string(t.Direction)),
			strconv.FormatFloat(t.Pnl, 'f', 2, 64),
			strconv.FormatFloat(t.RR, 'f', 2, 64),
			t.Date)
	}
}

func (rg *ReportGenerator) filterPreviewForOutput(preview *Preview) *Preview {
	out := *preview
	if !rg.config.IncludeMapping {
		out.Mapping = nil
	}
	if !rg.config.IncludeTrades {
		out.Trades = nil
	}
	return &out
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func formatOptional(v *float64) string {
	if v == nil {
		return ""
	}
	return formatFloat(*v)
}

// UpdateConfiguration updates the report generator configuration
func (rg *ReportGenerator) UpdateConfiguration(config *ReportConfig) error {
	if err := config.Validate(); err != nil {
		return fmt.Errorf("invalid report configuration: %w", err)
	}

	rg.config = config
	return nil
}

// GetConfiguration returns the current configuration
func (rg *ReportGenerator) GetConfiguration() *ReportConfig {
	return rg.config
}
