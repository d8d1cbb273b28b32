// Package builder assembles canonical trade records from mapped CSV rows.
package builder

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"trade-import-service/internal/metrics"
	"trade-import-service/internal/models"
	"trade-import-service/internal/parsers"
	"trade-import-service/pkg/errors"
	"trade-import-service/pkg/logger"
)

// Timestamp layouts of the canonical schema.
const (
	DateLayout     = "2006-01-02"
	DateTimeLayout = "2006-01-02T15:04:05.000Z"
)

// BuildStats counts the rows that fell back to default values.
type BuildStats struct {
	Rows            int `json:"rows"`
	DegradedRows    int `json:"degraded_rows"`
	DegradedDates   int `json:"degraded_dates"`
	DegradedNumbers int `json:"degraded_numbers"`
}

// HasDegradations reports whether any row used a fallback.
func (s BuildStats) HasDegradations() bool {
	return s.DegradedRows > 0
}

// Builder turns RawRows into CanonicalTrades. It performs no I/O and never
// fails on a single row: unparsable cells are replaced by defaults and
// counted.
type Builder struct {
	parser *parsers.RowParser
	newID  func(index int) string
	logger logger.Logger
}

// Option configures a Builder.
type Option func(*Builder)

// WithIDGenerator replaces the temporary id generator.
func WithIDGenerator(fn func(index int) string) Option {
	return func(b *Builder) { b.newID = fn }
}

// WithLogger sets the logger degradations are reported to.
func WithLogger(l logger.Logger) Option {
	return func(b *Builder) { b.logger = l }
}

// New creates a builder parsing dates with parser (UTC if nil).
func New(parser *parsers.RowParser, opts ...Option) *Builder {
	if parser == nil {
		parser = parsers.NewRowParser(time.UTC)
	}
	b := &Builder{
		parser: parser,
		newID:  TemporaryID,
		logger: logger.GetGlobalLogger(),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.logger = b.logger.WithComponent("builder")
	return b
}

// TemporaryID returns a session-local id for the trade built from row index.
func TemporaryID(index int) string {
	return fmt.Sprintf("tmp-%d-%s", index, uuid.NewString())
}

// Build converts one row.
func (b *Builder) Build(row models.RawRow, mapping models.ColumnMapping, index int) models.CanonicalTrade {
	trade, _ := b.build(row, mapping, index)
	return trade
}

// BuildAll converts every row in order.
func (b *Builder) BuildAll(rows []models.RawRow, mapping models.ColumnMapping) ([]models.CanonicalTrade, BuildStats) {
	trades := make([]models.CanonicalTrade, 0, len(rows))
	stats := BuildStats{Rows: len(rows)}

	progress := logger.NewProgressTracker(logger.ProgressConfig{
		Operation: "build_trades",
		Total:     int64(len(rows)),
		Logger:    b.logger,
	})
	defer progress.Complete()

	for i, row := range rows {
		trade, warnings := b.build(row, mapping, i)
		trades = append(trades, trade)
		progress.Increment()

		if len(warnings) == 0 {
			continue
		}
		stats.DegradedRows++
		for _, w := range warnings {
			if w.Code == errors.CodeDegradedDate {
				stats.DegradedDates++
			} else {
				stats.DegradedNumbers++
			}
		}
	}

	if stats.HasDegradations() {
		b.logger.WithFields(logger.Fields{
			"rows":             stats.Rows,
			"degraded_rows":    stats.DegradedRows,
			"degraded_dates":   stats.DegradedDates,
			"degraded_numbers": stats.DegradedNumbers,
		}).Info("Some rows used default values")
	}

	return trades, stats
}

// rowReader reads mapped cells of one row and collects degradations.
type rowReader struct {
	row      models.RawRow
	mapping  models.ColumnMapping
	line     int
	warnings []*errors.ImportError
}

func (r *rowReader) cell(field models.CanonicalField) (column, value string) {
	column = r.mapping.Get(field)
	if column == "" {
		return "", ""
	}
	return column, strings.TrimSpace(r.row[column])
}

// number returns the parsed cell, or ok=false when the field is unmapped,
// empty or unparsable. Only the last case is a degradation.
func (r *rowReader) number(field models.CanonicalField) (float64, bool) {
	column, value := r.cell(field)
	if value == "" {
		return 0, false
	}
	v, ok := parsers.ParseNumberOK(value)
	if !ok {
		r.warnings = append(r.warnings, errors.ParseDegradedWarning(errors.CodeDegradedNumber, r.line, column, value))
	}
	return v, ok
}

func (r *rowReader) price(field models.CanonicalField) *float64 {
	if v, ok := r.number(field); ok {
		return models.Float(v)
	}
	return nil
}

func (b *Builder) build(row models.RawRow, mapping models.ColumnMapping, index int) (models.CanonicalTrade, []*errors.ImportError) {
	r := &rowReader{row: row, mapping: mapping, line: index + 1}

	_, symbol := r.cell(models.FieldSymbol)
	_, side := r.cell(models.FieldDirection)
	dateColumn, dateValue := r.cell(models.FieldDate)
	_, timeValue := r.cell(models.FieldTime)

	direction := parsers.ParseDirection(side)

	when, ok := b.parser.ParseDateTime(dateValue, timeValue)
	if !ok {
		r.warnings = append(r.warnings, errors.ParseDegradedWarning(errors.CodeDegradedDate, r.line, dateColumn, dateValue))
	}

	entry := r.price(models.FieldEntryPrice)
	exit := r.price(models.FieldExitPrice)
	stopLoss := r.price(models.FieldStopLoss)
	takeProfit := r.price(models.FieldTakeProfit)

	quantity, ok := r.number(models.FieldQuantity)
	if !ok {
		quantity = 1
	}

	pnl, pnlOK := r.number(models.FieldPnl)
	if (!pnlOK || pnl == 0) && entry != nil && exit != nil {
		pnl = metrics.ComputePnl(direction, *entry, *exit, quantity)
	}

	rr, rrOK := r.number(models.FieldRR)
	switch {
	case rrOK:
		rr = metrics.ClampRR(rr)
	case entry != nil && stopLoss != nil && takeProfit != nil:
		rr = metrics.ComputeRR(direction, *entry, *stopLoss, *takeProfit)
	default:
		rr = 0
	}

	utc := when.UTC()
	trade := models.CanonicalTrade{
		ID:         b.newID(index),
		Symbol:     strings.ToUpper(symbol),
		Direction:  direction,
		EntryPrice: entry,
		ExitPrice:  exit,
		StopLoss:   stopLoss,
		TakeProfit: takeProfit,
		Quantity:   quantity,
		Pnl:        pnl,
		RR:         rr,
		Date:       utc.Format(DateLayout),
		EntryDate:  utc.Format(DateTimeLayout),
		ExitDate:   utc.Format(DateTimeLayout),
		ExtraData:  buildExtraData(row, mapping, when),
	}

	for _, w := range r.warnings {
		b.logger.WithFields(logger.Fields(w.Context)).Debug(w.Message)
	}

	return trade, r.warnings
}

// buildExtraData keeps the raw value of every mapped custom slot under its
// original header, plus the slot bookkeeping and the local trade hour.
func buildExtraData(row models.RawRow, mapping models.ColumnMapping, when time.Time) models.ExtraData {
	extra := models.NewExtraData()
	for _, slot := range mapping.MappedCustomSlots() {
		header := mapping.Get(slot)
		extra.Values[header] = row[header]
		extra.VarMapping[string(slot)] = header
	}
	extra.TradeHour = when.Hour()
	return extra
}
