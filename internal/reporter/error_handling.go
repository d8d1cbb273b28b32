package reporter

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"trade-import-service/pkg/errors"
	"trade-import-service/pkg/logger"
)

// SafeReportGenerator wraps ReportGenerator with logging and fallbacks
type SafeReportGenerator struct {
	*ReportGenerator
	logger logger.Logger
}

// NewSafeReportGenerator creates a new safe report generator with error handling
func NewSafeReportGenerator(config *ReportConfig, log logger.Logger) (*SafeReportGenerator, error) {
	if log == nil {
		log = logger.GetGlobalLogger()
	}

	generator, err := NewReportGenerator(config)
	if err != nil {
		return nil, errors.ConfigurationError(
			errors.CodeInvalidConfig,
			"report_config",
			config,
			err,
		).WithSuggestion("Check the output format and CSV delimiter")
	}

	return &SafeReportGenerator{
		ReportGenerator: generator,
		logger:          log.WithComponent("reporter"),
	}, nil
}

// GenerateReportSafely writes the preview, falling back to the console
// format when JSON or CSV rendering fails, and to a backup file when the
// output file cannot be written.
func (srg *SafeReportGenerator) GenerateReportSafely(preview *Preview, writer io.Writer) error {
	srg.logger.WithFields(logger.Fields{
		"format": srg.config.Format,
		"output": getWriterDescription(writer),
	}).Debug("Starting report generation")

	if err := srg.validateInputs(preview, writer); err != nil {
		srg.logger.WithError(err).Error("Report generation failed: input validation")
		return err
	}

	if err := srg.generateWithFallback(preview, writer); err != nil {
		srg.logger.WithError(err).Error("Report generation failed")
		return err
	}

	srg.logger.Debug("Report generation completed")
	return nil
}

// GenerateReportToFile writes the preview to path and returns the path
// actually written. When path cannot be created the preview goes to
// <name>_backup<ext> next to it.
func (srg *SafeReportGenerator) GenerateReportToFile(preview *Preview, path string) (string, error) {
	file, err := os.Create(path)
	if err != nil {
		if !isFileError(err) {
			return "", errors.FileFormatError(errors.CodeInvalidFormat, path, err).
				WithSuggestion("check that the output directory exists and is writable")
		}

		backupPath := generateBackupPath(path)
		srg.logger.WithError(err).WithFields(logger.Fields{
			"original_file": path,
			"backup_file":   backupPath,
		}).Warn("Cannot create output file, writing backup")

		file, err = os.Create(backupPath)
		if err != nil {
			return "", errors.FileFormatError(errors.CodeInvalidFormat, path, err).
				WithSuggestion("check that the output directory exists and is writable")
		}
		path = backupPath
	}
	defer file.Close()

	if err := srg.GenerateReportSafely(preview, file); err != nil {
		return "", err
	}
	return path, nil
}

func (srg *SafeReportGenerator) validateInputs(preview *Preview, writer io.Writer) error {
	if preview == nil {
		return errors.InternalError(errors.CodeUnexpectedError, "report_generation",
			fmt.Errorf("preview cannot be nil"))
	}
	if writer == nil {
		return errors.InternalError(errors.CodeUnexpectedError, "report_generation",
			fmt.Errorf("writer cannot be nil"))
	}
	return nil
}

func (srg *SafeReportGenerator) generateWithFallback(preview *Preview, writer io.Writer) error {
	err := srg.GenerateReport(preview, writer)
	if err == nil {
		return nil
	}

	srg.logger.WithError(err).Warn("Primary report generation failed, attempting fallback")

	if srg.shouldAttemptOutputFallback(err, writer) {
		return srg.generateWithOutputFallback(preview, writer, err)
	}

	if srg.config.Format != FormatConsole {
		return srg.generateWithFormatFallback(preview, writer, err)
	}

	return srg.wrapGenerationError(err)
}

func (srg *SafeReportGenerator) generateWithFormatFallback(preview *Preview, writer io.Writer, originalErr error) error {
	fallbackConfig := *srg.config
	fallbackConfig.Format = FormatConsole

	srg.logger.WithField("fallback_format", FormatConsole).Info("Attempting format fallback")

	fallbackGenerator, err := NewReportGenerator(&fallbackConfig)
	if err != nil {
		return srg.wrapGenerationError(originalErr)
	}

	fmt.Fprintf(writer, "NOTE: Preview shown in console format due to an error with the requested format\n")
	fmt.Fprintf(writer, "Original error: %v\n\n", originalErr)

	if err := fallbackGenerator.GenerateReport(preview, writer); err != nil {
		return errors.InternalError(
			errors.CodeUnexpectedError,
			"report_fallback",
			fmt.Errorf("both primary and fallback generation failed: primary=%v, fallback=%v", originalErr, err),
		)
	}

	srg.logger.Info("Report generated using format fallback")
	return nil
}

func (srg *SafeReportGenerator) shouldAttemptOutputFallback(err error, writer io.Writer) bool {
	if file, ok := writer.(*os.File); ok && file.Name() != "" && file != os.Stdout && file != os.Stderr {
		return isFileError(err)
	}
	return false
}

func (srg *SafeReportGenerator) generateWithOutputFallback(preview *Preview, writer io.Writer, originalErr error) error {
	file, ok := writer.(*os.File)
	if !ok {
		return srg.wrapGenerationError(originalErr)
	}

	originalPath := file.Name()
	backupPath := generateBackupPath(originalPath)

	srg.logger.WithFields(logger.Fields{
		"original_file": originalPath,
		"backup_file":   backupPath,
	}).Info("Attempting output fallback")

	backupFile, err := os.Create(backupPath)
	if err != nil {
		return srg.wrapGenerationError(originalErr)
	}
	defer backupFile.Close()

	if err := srg.GenerateReport(preview, backupFile); err != nil {
		return errors.InternalError(
			errors.CodeUnexpectedError,
			"report_output_fallback",
			fmt.Errorf("both primary and backup output failed: primary=%v, backup=%v", originalErr, err),
		)
	}

	srg.logger.WithField("backup_file", backupPath).Warn("Report written to backup file")
	return nil
}

func (srg *SafeReportGenerator) wrapGenerationError(err error) error {
	if importErr, ok := errors.AsImportError(err); ok {
		return importErr
	}

	return errors.InternalError(
		errors.CodeUnexpectedError,
		"report_generation",
		err,
	).WithSuggestion("Check the output destination and report format settings")
}

func isFileError(err error) bool {
	if os.IsPermission(err) || os.IsNotExist(err) || os.IsExist(err) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "is a directory") ||
		strings.Contains(msg, "no space left") ||
		strings.Contains(msg, "disk full") ||
		strings.Contains(msg, "file already closed")
}

func generateBackupPath(originalPath string) string {
	dir := filepath.Dir(originalPath)
	base := filepath.Base(originalPath)
	ext := filepath.Ext(base)
	name := strings.TrimSuffix(base, ext)

	return filepath.Join(dir, fmt.Sprintf("%s_backup%s", name, ext))
}

func getWriterDescription(writer io.Writer) string {
	switch w := writer.(type) {
	case *os.File:
		if w.Name() != "" {
			return fmt.Sprintf("file:%s", w.Name())
		}
		return "file:unnamed"
	default:
		return fmt.Sprintf("writer:%T", writer)
	}
}
