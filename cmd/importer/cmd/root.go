package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"trade-import-service/cmd/importer/config"
	"trade-import-service/pkg/errors"
	"trade-import-service/pkg/logger"
)

var (
	cfgFile   string
	verbose   bool
	logLevel  string
	logFormat string
	version   = "dev"
	commit    = "unknown"
	date      = "unknown"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "importer",
	Short: "Trade CSV import tool",
	Long: `Importer normalizes trade history exported from trading platforms
(MetaTrader 5, TradingView, Interactive Brokers, NinjaTrader or any custom CSV)
into canonical trades, previews them and commits them to a trading journal.

Examples:
  importer import --file history.csv --platform metatrader5
  importer import --file export.csv --map symbol=Ticker --map pnl="Net P/L" --output-format json
  importer import --file export.csv --commit --endpoint https://journal.example.com/api/trades/import
  importer profiles`,
	Version:       getVersionString(),
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return setupLogging()
	},
}

// Execute adds all child commands to the root command and runs it until it
// finishes or the process is interrupted.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (optional)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output (debug logs)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format: text, json")

	viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
	viper.BindPFlag("log-level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("log-format", rootCmd.PersistentFlags().Lookup("log-format"))
}

// initConfig reads the .env file, the config file and environment variables.
func initConfig() {
	// A missing .env is normal outside development.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "Warning: could not load .env file: %s\n", err)
	}

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)

		if err := viper.ReadInConfig(); err != nil {
			fmt.Fprintf(os.Stderr, "Error reading config file: %s\n", err)
			os.Exit(errors.ConfigurationError(errors.CodeInvalidConfig, "config", cfgFile, err).GetExitCode())
		}

		if viper.GetBool("verbose") {
			fmt.Fprintf(os.Stderr, "Using config file: %s\n", viper.ConfigFileUsed())
		}
	}

	viper.SetEnvPrefix("TRADEIMPORT")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func setupLogging() error {
	logConfig := config.CreateLoggerConfig(
		viper.GetString("log-level"),
		viper.GetString("log-format"),
		viper.GetBool("verbose"),
	)

	log, err := logger.NewLogger(logConfig)
	if err != nil {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "logging", logConfig.Level, err).
			WithSuggestion("use --log-level debug|info|warn|error and --log-format text|json")
	}
	logger.SetGlobalLogger(log)
	return nil
}

// SetVersionInfo sets the version information for the CLI
func SetVersionInfo(v, c, d string) {
	version = v
	commit = c
	date = d
	rootCmd.Version = getVersionString()
}

func getVersionString() string {
	if version == "dev" {
		return fmt.Sprintf("%s (commit %s, built %s)", version, commit, date)
	}
	return version
}
