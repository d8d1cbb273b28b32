// Package parsers turns uploaded CSV exports into rows and coerces the raw
// cell values of a row into typed trade fields.
//
// The package handles the inconsistencies found in real-world platform
// exports:
//   - Byte order marks, padded headers and blank lines
//   - Short rows and duplicate header names
//   - Dates in ISO, US and free-form layouts, with or without a separate time column
//   - Amounts with currency symbols and thousands separators
//   - Direction encodings such as buy/sell and long/short
//
// Example usage:
//
//	tokenizer := NewCSVTokenizer(nil)
//	table, err := tokenizer.Tokenize(ctx, "trades.csv", file)
//
//	parser := NewRowParser(time.UTC)
//	when, ok := parser.ParseDateTime(row["Date"], row["Time"])
package parsers

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"trade-import-service/internal/models"
	"trade-import-service/pkg/errors"
	"trade-import-service/pkg/logger"
)

// utf8BOM is stripped from the start of the file.
var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// ParseConfig holds configuration for CSV parsing
type ParseConfig struct {
	Delimiter        rune
	Comment          rune
	TrimLeadingSpace bool
	SkipEmptyRows    bool
	MaxFieldSize     int
	ValidateEncoding bool
}

// DefaultParseConfig returns a configuration with sensible defaults
func DefaultParseConfig() *ParseConfig {
	return &ParseConfig{
		Delimiter:        ',',
		TrimLeadingSpace: true,
		SkipEmptyRows:    true,
		MaxFieldSize:     1000000, // 1MB per field
		ValidateEncoding: true,
	}
}

// Table is the tokenized form of a CSV file: its header row and one RawRow per
// data line, in file order.
type Table struct {
	Headers []string
	Rows    []models.RawRow
	Skipped int
}

// CSVTokenizer splits a CSV stream into headers and rows.
type CSVTokenizer struct {
	config *ParseConfig
	logger logger.Logger
}

// NewCSVTokenizer creates a new CSVTokenizer with the given configuration
func NewCSVTokenizer(config *ParseConfig) *CSVTokenizer {
	if config == nil {
		config = DefaultParseConfig()
	}

	log := logger.GetGlobalLogger().WithComponent("csv_tokenizer")
	log.WithFields(logger.Fields{
		"delimiter":         string(config.Delimiter),
		"validate_encoding": config.ValidateEncoding,
		"max_field_size":    config.MaxFieldSize,
	}).Debug("Created CSV tokenizer")

	return &CSVTokenizer{
		config: config,
		logger: log,
	}
}

// Tokenize reads the whole stream. The filename is only used for error
// reporting. A file without a header row is rejected; a header row with no
// data rows yields an empty Rows slice.
func (t *CSVTokenizer) Tokenize(ctx context.Context, filename string, r io.Reader) (*Table, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.FileFormatError(errors.CodeInvalidFormat, filename, err)
	}
	data = bytes.TrimPrefix(data, utf8BOM)

	if t.config.ValidateEncoding && !utf8.Valid(data) {
		t.logger.WithField("filename", filename).Error("File encoding validation failed")
		return nil, errors.FileFormatError(errors.CodeEncodingError, filename, nil)
	}

	reader := csv.NewReader(bytes.NewReader(data))
	t.configureReader(reader)

	headers, err := reader.Read()
	if err != nil {
		if err == io.EOF {
			return nil, errors.FileFormatError(errors.CodeEmptyFile, filename, nil)
		}
		t.logger.WithError(err).Error("Failed to read header row")
		return nil, errors.FileFormatError(errors.CodeInvalidFormat, filename, err)
	}

	table := &Table{Headers: cleanHeaders(headers)}
	line := 1

	for {
		if err := ctx.Err(); err != nil {
			t.logger.Debug("Tokenization cancelled by context")
			return nil, err
		}

		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.logger.WithError(err).WithField("line_number", line+1).Warn("Failed to read CSV record")
			return nil, errors.FileFormatError(errors.CodeInvalidFormat, filename, err)
		}
		line++

		if t.config.SkipEmptyRows && isEmptyRecord(record) {
			table.Skipped++
			continue
		}

		if err := t.checkFieldSizes(record, line); err != nil {
			return nil, errors.FileFormatError(errors.CodeInvalidFormat, filename, err)
		}

		table.Rows = append(table.Rows, toRawRow(table.Headers, record))
	}

	t.logger.WithFields(logger.Fields{
		"filename": filename,
		"headers":  len(table.Headers),
		"rows":     len(table.Rows),
		"skipped":  table.Skipped,
	}).Debug("Tokenized CSV file")

	return table, nil
}

// configureReader sets up the CSV reader with our configuration
func (t *CSVTokenizer) configureReader(reader *csv.Reader) {
	reader.Comma = t.config.Delimiter
	reader.Comment = t.config.Comment
	reader.TrimLeadingSpace = t.config.TrimLeadingSpace
	reader.FieldsPerRecord = -1 // Variable number of fields
	reader.LazyQuotes = true
}

func (t *CSVTokenizer) checkFieldSizes(record []string, line int) error {
	if t.config.MaxFieldSize <= 0 {
		return nil
	}
	for i, field := range record {
		if len(field) > t.config.MaxFieldSize {
			t.logger.WithFields(logger.Fields{
				"line_number": line,
				"column":      i,
				"field_size":  len(field),
				"max_size":    t.config.MaxFieldSize,
			}).Warn("Field exceeds maximum size limit")
			return fmt.Errorf("line %d column %d exceeds maximum size of %d bytes", line, i+1, t.config.MaxFieldSize)
		}
	}
	return nil
}

// cleanHeaders trims header names and makes repeated names unique by
// suffixing _1, _2, ... skipping suffixes already used by another header.
func cleanHeaders(headers []string) []string {
	cleaned := make([]string, len(headers))
	seen := make(map[string]int, len(headers))
	for i, header := range headers {
		name := strings.TrimSpace(header)
		if n, dup := seen[name]; dup {
			base := name
			for {
				n++
				name = fmt.Sprintf("%s_%d", base, n)
				if _, taken := seen[name]; !taken {
					break
				}
			}
			seen[base] = n
		}
		seen[name] = 0
		cleaned[i] = name
	}
	return cleaned
}

// toRawRow keys a record by header. Missing trailing cells become "" and
// cells beyond the header row are dropped.
func toRawRow(headers, record []string) models.RawRow {
	row := make(models.RawRow, len(headers))
	for i, h := range headers {
		if i < len(record) {
			row[h] = record[i]
		} else {
			row[h] = ""
		}
	}
	return row
}

// isEmptyRecord checks if all fields in a record are empty or whitespace
func isEmptyRecord(record []string) bool {
	for _, field := range record {
		if strings.TrimSpace(field) != "" {
			return false
		}
	}
	return true
}
