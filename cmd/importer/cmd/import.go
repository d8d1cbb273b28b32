package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"trade-import-service/cmd/importer/config"
	"trade-import-service/internal/builder"
	"trade-import-service/internal/parsers"
	"trade-import-service/internal/persistence"
	"trade-import-service/internal/profiles"
	"trade-import-service/internal/reporter"
	"trade-import-service/internal/session"
	"trade-import-service/pkg/errors"
	"trade-import-service/pkg/logger"
)

var importCfg config.ImportConfig

// importCmd represents the import command
var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Normalize a trade CSV export and optionally commit it",
	Long: `Import reads a CSV export, maps its columns onto the canonical trade
fields, shows a preview and, with --commit, sends the trades to the journal
API or stores them in a local SQLite file.

The platform profile seeds the column mapping. Without --platform the profile
is detected from the CSV headers. Use --map to fix or extend the mapping; the
import is refused until symbol, direction, date and pnl are mapped and no
column is used twice.

Examples:
  # Preview a MetaTrader 5 history export
  importer import --file history.csv --platform metatrader5

  # Custom CSV with explicit mapping and a custom variable
  importer import --file export.csv --platform custom \
    --map symbol=Ticker --map direction=Side --map date="Close Date" \
    --map pnl="Net P/L" --map var1=Setup

  # Read naive timestamps as New York time and export the preview as CSV
  importer import --file export.csv --timezone America/New_York --output-format csv

  # Commit to the journal API
  importer import --file history.csv --commit \
    --endpoint https://journal.example.com/api/trades/import --token "$TOKEN"

  # Commit to a local SQLite file
  importer import --file history.csv --commit --store trades.db`,

	PreRunE: validateImportFlags,
	RunE:    runImport,
}

func init() {
	rootCmd.AddCommand(importCmd)

	flags := importCmd.Flags()
	flags.StringP("file", "f", "", "path to the trade CSV export (required)")
	flags.StringP("platform", "p", "", "platform profile id (default: detected from headers)")
	flags.StringArrayP("map", "m", nil, "map a field to a column, field=Column (repeatable)")
	flags.String("profiles-file", "", "YAML file with additional platform profiles")
	flags.String("timezone", "", "IANA timezone of naive timestamps (default UTC)")

	flags.StringP("output-format", "o", config.DefaultOutputFormat, "preview format: console, json, csv")
	flags.String("output-file", "", "write the preview to a file (default: stdout)")
	flags.Int("max-trades", config.DefaultMaxTrades, "trades listed in the console preview, 0 for all")

	flags.Bool("commit", false, "commit the analyzed trades")
	flags.String("endpoint", "", "journal import endpoint URL")
	flags.String("token", "", "bearer token for the journal endpoint")
	flags.String("login-url", "", "where to sign in again when the token has expired")
	flags.String("store", "", "commit into a local SQLite file instead of the journal API")
	flags.Duration("commit-timeout", config.DefaultCommitTimeout, "timeout for the commit request")

	for _, name := range []string{
		"file", "platform", "map", "profiles-file", "timezone",
		"output-format", "output-file", "max-trades",
		"commit", "endpoint", "token", "login-url", "store", "commit-timeout",
	} {
		viper.BindPFlag(name, flags.Lookup(name))
	}
}

func validateImportFlags(cmd *cobra.Command, args []string) error {
	importCfg = config.ImportConfig{
		File:          viper.GetString("file"),
		Platform:      viper.GetString("platform"),
		Mappings:      viper.GetStringSlice("map"),
		ProfilesFile:  viper.GetString("profiles-file"),
		Timezone:      viper.GetString("timezone"),
		OutputFormat:  viper.GetString("output-format"),
		OutputFile:    viper.GetString("output-file"),
		MaxTrades:     viper.GetInt("max-trades"),
		Commit:        viper.GetBool("commit"),
		Endpoint:      viper.GetString("endpoint"),
		Token:         viper.GetString("token"),
		LoginURL:      viper.GetString("login-url"),
		Store:         viper.GetString("store"),
		CommitTimeout: viper.GetDuration("commit-timeout"),
	}

	if err := importCfg.Validate(); err != nil {
		return err
	}
	return validateFileExists(importCfg.File)
}

func validateFileExists(path string) error {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return errors.FileFormatError(errors.CodeFileNotFound, path, err)
	}
	if err != nil {
		return errors.FileFormatError(errors.CodeInvalidFormat, path, err)
	}
	if info.IsDir() {
		return errors.FileFormatError(errors.CodeInvalidFormat, path, fmt.Errorf("%s is a directory", path))
	}
	return nil
}

func runImport(cmd *cobra.Command, args []string) error {
	return runImportWith(cmd.Context(), &importCfg, cmd.OutOrStdout(), cmd.ErrOrStderr())
}

// runImportWith drives one session from file to optional commit. The preview
// is written even when analysis is refused, so the user sees the mapping and
// the violations.
func runImportWith(ctx context.Context, cfg *config.ImportConfig, stdout, stderr io.Writer) error {
	log := logger.GetGlobalLogger().WithComponent("cli")

	registry := profiles.NewRegistry()
	if cfg.ProfilesFile != "" {
		if err := registry.LoadProfilesFile(cfg.ProfilesFile); err != nil {
			return err
		}
	}

	loc, err := cfg.Location()
	if err != nil {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "timezone", cfg.Timezone, err)
	}

	overrides, err := config.ParseMappings(cfg.Mappings)
	if err != nil {
		return err
	}

	committer, redirector, closeStore, err := buildCommitter(ctx, cfg, stderr)
	if err != nil {
		return err
	}
	defer closeStore()

	ctrl := session.NewController(session.Config{
		Registry:   registry,
		Tokenizer:  parsers.NewCSVTokenizer(nil),
		Builder:    builder.New(parsers.NewRowParser(loc)),
		Committer:  committer,
		Redirector: redirector,
	})

	if cfg.Platform != "" {
		if err := ctrl.PlatformSelected(cfg.Platform); err != nil {
			return err
		}
	}

	file, err := os.Open(cfg.File)
	if err != nil {
		return errors.FileFormatError(errors.CodeFileNotFound, cfg.File, err)
	}
	err = ctrl.FileSelected(ctx, filepath.Base(cfg.File), file)
	file.Close()
	if err != nil {
		return err
	}

	if cfg.Platform == "" {
		detected := registry.DetectProfile(ctrl.Snapshot().Headers)
		log.WithField("platform", detected.ID).Info("Detected platform from headers")
		if err := ctrl.PlatformSelected(detected.ID); err != nil {
			return err
		}
	}

	for _, o := range overrides {
		if err := ctrl.FieldMapped(o.Field, o.Column); err != nil {
			return err
		}
	}

	analyzeErr := ctrl.Analyze()
	if err := writePreview(ctrl, cfg, stdout, stderr); err != nil {
		return err
	}
	if analyzeErr != nil {
		return analyzeErr
	}

	if !cfg.Commit {
		return nil
	}

	commitCtx, cancel := context.WithTimeout(ctx, cfg.CommitTimeout)
	defer cancel()
	if err := ctrl.Commit(commitCtx); err != nil {
		return err
	}

	fmt.Fprintf(stderr, "Committed %d trades from %s\n", ctrl.Snapshot().InsertedCount, filepath.Base(cfg.File))
	return nil
}

// buildCommitter picks the commit target. Without --commit there is none.
func buildCommitter(ctx context.Context, cfg *config.ImportConfig, stderr io.Writer) (session.Committer, session.LoginRedirector, func(), error) {
	noop := func() {}
	if !cfg.Commit {
		return nil, nil, noop, nil
	}

	if cfg.Store != "" {
		store, err := persistence.OpenSQLiteStore(ctx, cfg.Store)
		if err != nil {
			return nil, nil, noop, err
		}
		return store, nil, func() { store.Close() }, nil
	}

	committer := persistence.NewHTTPCommitter(cfg.Endpoint, cfg.Token)
	return committer, persistence.NewLoginPrompt(cfg.LoginURL, stderr), noop, nil
}

func writePreview(ctrl *session.Controller, cfg *config.ImportConfig, stdout, stderr io.Writer) error {
	generator, err := reporter.NewSafeReportGenerator(config.CreateReportConfig(cfg.OutputFormat, cfg.MaxTrades), nil)
	if err != nil {
		return err
	}

	preview := reporter.NewPreview(ctrl.Snapshot(), ctrl.Trades())
	if cfg.OutputFile == "" {
		return generator.GenerateReportSafely(preview, stdout)
	}

	written, err := generator.GenerateReportToFile(preview, cfg.OutputFile)
	if err != nil {
		return err
	}
	if written != cfg.OutputFile {
		fmt.Fprintf(stderr, "Preview written to %s (could not create %s)\n", written, cfg.OutputFile)
	}
	return nil
}
