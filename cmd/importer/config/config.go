package config

import (
	"strings"
	"time"
	_ "time/tzdata"

	"trade-import-service/internal/models"
	"trade-import-service/internal/reporter"
	"trade-import-service/pkg/errors"
	"trade-import-service/pkg/logger"
)

// Defaults for the import command
const (
	DefaultOutputFormat  = "console"
	DefaultMaxTrades     = 20
	DefaultCommitTimeout = 30 * time.Second
)

// MappingOverride is one --map field=Column pair.
type MappingOverride struct {
	Field  models.CanonicalField
	Column string
}

// ImportConfig holds everything the import command needs, after flags,
// config file and environment have been merged.
type ImportConfig struct {
	File         string
	Platform     string
	Mappings     []string
	ProfilesFile string
	Timezone     string

	OutputFormat string
	OutputFile   string
	MaxTrades    int

	Commit        bool
	Endpoint      string
	Token         string
	LoginURL      string
	Store         string
	CommitTimeout time.Duration
}

// Validate checks the configuration before any file is read.
func (c *ImportConfig) Validate() error {
	if strings.TrimSpace(c.File) == "" {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "file", c.File, nil).
			WithSuggestion("pass the CSV export with --file")
	}

	if !reporter.OutputFormat(c.OutputFormat).IsValid() {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "output-format", c.OutputFormat, nil).
			WithSuggestion("use one of: console, json, csv")
	}

	if c.MaxTrades < 0 {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "max-trades", c.MaxTrades, nil)
	}

	if _, err := c.Location(); err != nil {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "timezone", c.Timezone, err).
			WithSuggestion("use an IANA zone name such as America/New_York, or leave it empty for UTC")
	}

	if _, err := ParseMappings(c.Mappings); err != nil {
		return err
	}

	if c.Commit {
		switch {
		case c.Endpoint == "" && c.Store == "":
			return errors.ConfigurationError(errors.CodeInvalidConfig, "commit", "no target", nil).
				WithSuggestion("set --endpoint for the journal API or --store for a local SQLite file")
		case c.Endpoint != "" && c.Store != "":
			return errors.ConfigurationError(errors.CodeInvalidConfig, "commit", "two targets", nil).
				WithSuggestion("set either --endpoint or --store, not both")
		}
		if c.CommitTimeout <= 0 {
			return errors.ConfigurationError(errors.CodeInvalidConfig, "commit-timeout", c.CommitTimeout, nil)
		}
	}

	return nil
}

// Location resolves the timezone naive timestamps are read in. Empty means UTC.
func (c *ImportConfig) Location() (*time.Location, error) {
	if strings.TrimSpace(c.Timezone) == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(strings.TrimSpace(c.Timezone))
}

// ParseMappings parses --map values of the form field=Column. The column
// may be empty to unmap a field seeded by the platform profile.
func ParseMappings(pairs []string) ([]MappingOverride, error) {
	overrides := make([]MappingOverride, 0, len(pairs))
	for _, pair := range pairs {
		name, column, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "map", pair, nil).
				WithSuggestion("use field=Column, for example --map pnl=\"Net Profit\"")
		}

		field, err := models.ParseCanonicalField(name)
		if err != nil {
			return nil, errors.ValidationError(errors.CodeUnknownField, strings.TrimSpace(name), column, err)
		}
		overrides = append(overrides, MappingOverride{Field: field, Column: strings.TrimSpace(column)})
	}
	return overrides, nil
}

// CreateReportConfig creates a report configuration for the output format.
func CreateReportConfig(format string, maxTrades int) *reporter.ReportConfig {
	config := reporter.DefaultReportConfig()
	config.Format = reporter.OutputFormat(format)
	config.MaxTrades = maxTrades

	switch config.Format {
	case reporter.FormatJSON:
		config.IncludeMapping = true
		config.IncludeTrades = true
	case reporter.FormatCSV:
		config.CSVHeaders = true
		config.CSVDelimiter = ','
	}

	return config
}

// CreateLoggerConfig builds the logger configuration from the global flags.
// Logs go to stderr so reports on stdout stay machine-readable.
func CreateLoggerConfig(level, format string, verbose bool) *logger.Config {
	config := logger.DefaultConfig()
	config.Output = logger.StderrOutput
	if level != "" {
		config.Level = logger.Level(strings.ToLower(level))
	}
	if verbose {
		config.Level = logger.DebugLevel
	}
	if format != "" {
		config.Format = logger.Format(strings.ToLower(format))
	}
	return config
}
