package cmd

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"syscall"

	"github.com/spf13/viper"

	"trade-import-service/internal/validator"
	"trade-import-service/pkg/errors"
	"trade-import-service/pkg/logger"
)

// CLIErrorHandler turns command errors into user-facing messages and exit codes
type CLIErrorHandler struct {
	out     io.Writer
	logger  logger.Logger
	verbose bool
}

// NewCLIErrorHandler creates a new CLI error handler writing to out
func NewCLIErrorHandler(out io.Writer) *CLIErrorHandler {
	return &CLIErrorHandler{
		out:     out,
		logger:  logger.GetGlobalLogger().WithComponent("cli"),
		verbose: viper.GetBool("verbose"),
	}
}

// HandleError prints err and returns the process exit code
func (h *CLIErrorHandler) HandleError(err error) int {
	if err == nil {
		return 0
	}

	h.logger.WithError(err).Debug("Command failed")

	var violations validator.Violations
	if stderrors.As(err, &violations) {
		return h.handleViolations(violations)
	}

	if importErr, ok := errors.AsImportError(err); ok {
		return h.handleImportError(importErr)
	}

	return h.handleGenericError(err)
}

func (h *CLIErrorHandler) handleViolations(violations validator.Violations) int {
	fmt.Fprintf(h.out, "Error: the column mapping cannot be analyzed\n\n")
	for i, v := range violations {
		fmt.Fprintf(h.out, "  %d. %s\n", i+1, v.Error())
	}
	fmt.Fprintf(h.out, "\n%s\n", h.getCategoryHelp(errors.CategoryValidation))
	return violations.Summary().GetExitCode()
}

func (h *CLIErrorHandler) handleImportError(err *errors.ImportError) int {
	fmt.Fprintf(h.out, "Error: %s\n", err.Message)

	if len(err.Context) > 0 {
		keys := make([]string, 0, len(err.Context))
		for key := range err.Context {
			keys = append(keys, key)
		}
		sort.Strings(keys)

		fmt.Fprintf(h.out, "\nContext:\n")
		for _, key := range keys {
			fmt.Fprintf(h.out, "  %s: %v\n", key, err.Context[key])
		}
	}

	if err.Suggestion != "" {
		fmt.Fprintf(h.out, "\nSuggestion: %s\n", err.Suggestion)
	}

	fmt.Fprintf(h.out, "\n%s\n", h.getCategoryHelp(err.Category))

	if h.verbose && err.Cause != nil {
		fmt.Fprintf(h.out, "\nUnderlying error: %v\n", err.Cause)
	}

	return err.GetExitCode()
}

func (h *CLIErrorHandler) handleGenericError(err error) int {
	switch {
	case stderrors.Is(err, context.Canceled):
		fmt.Fprintf(h.out, "Interrupted\n")
		return 130
	case stderrors.Is(err, context.DeadlineExceeded):
		fmt.Fprintf(h.out, "Error: operation timed out\n")
		fmt.Fprintf(h.out, "Suggestion: increase --commit-timeout or check the endpoint\n")
		return 1
	case isFileNotFoundError(err):
		fmt.Fprintf(h.out, "Error: File not found\n")
		fmt.Fprintf(h.out, "Suggestion: Check if the file path is correct and the file exists\n")
		return 2
	case isPermissionError(err):
		fmt.Fprintf(h.out, "Error: Permission denied\n")
		fmt.Fprintf(h.out, "Suggestion: Check file permissions and ensure you have read access\n")
		return 2
	case isDiskFullError(err):
		fmt.Fprintf(h.out, "Error: Insufficient disk space\n")
		fmt.Fprintf(h.out, "Suggestion: Free up disk space and try again\n")
		return 2
	}

	fmt.Fprintf(h.out, "Error: %v\n", err)
	if !h.verbose {
		fmt.Fprintf(h.out, "\nRun with --verbose for more details\n")
	}
	return 1
}

// getCategoryHelp returns category-specific help text
func (h *CLIErrorHandler) getCategoryHelp(category errors.ErrorCategory) string {
	switch category {
	case errors.CategoryFile:
		return `File error help:
• Export the trade history from your platform as CSV (UTF-8)
• Make sure the file has a header row and at least one trade
• Check the path and read permissions`

	case errors.CategoryValidation:
		return `Mapping help:
• symbol, direction, date and pnl must be mapped
• each CSV column can be mapped to one field only
• use --map field=Column to fix the mapping; 'importer profiles' shows the presets`

	case errors.CategoryConfiguration:
		return `Configuration error help:
• Check your command-line flags and arguments
• Verify configuration file syntax if using --config
• Use 'importer import --help' to see all available options`

	case errors.CategoryPersistence:
		return `Commit error help:
• The analyzed trades were not saved; fix the reported problem and run the import again
• Check the --endpoint URL or the --store path`

	case errors.CategoryAuth:
		return `Login help:
• Your token was rejected or has expired
• Sign in again and pass the new token with --token or TRADEIMPORT_TOKEN`

	default:
		return `For more help:
• Use 'importer --help' for general help
• Use 'importer import --help' for command-specific help`
	}
}

func isFileNotFoundError(err error) bool {
	return os.IsNotExist(err) || strings.Contains(err.Error(), "no such file or directory")
}

func isPermissionError(err error) bool {
	return os.IsPermission(err) ||
		strings.Contains(err.Error(), "permission denied") ||
		strings.Contains(err.Error(), "access denied")
}

func isDiskFullError(err error) bool {
	if stderrors.Is(err, syscall.ENOSPC) {
		return true
	}
	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "no space left") ||
		strings.Contains(errStr, "disk full")
}
