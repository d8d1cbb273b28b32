package errors

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// ErrorCategory represents different categories of errors
type ErrorCategory string

const (
	CategoryFile          ErrorCategory = "file"
	CategoryParse         ErrorCategory = "parse"
	CategoryValidation    ErrorCategory = "validation"
	CategoryConfiguration ErrorCategory = "configuration"
	CategorySession       ErrorCategory = "session"
	CategoryPersistence   ErrorCategory = "persistence"
	CategoryAuth          ErrorCategory = "auth"
	CategoryInternal      ErrorCategory = "internal"
)

// ErrorCode represents specific error codes within categories
type ErrorCode string

const (
	// File errors
	CodeFileNotFound  ErrorCode = "file_not_found"
	CodeNotCSV        ErrorCode = "not_csv"
	CodeEmptyFile     ErrorCode = "empty_file"
	CodeEncodingError ErrorCode = "encoding_error"
	CodeInvalidFormat ErrorCode = "invalid_format"

	// Parse errors
	CodeDegradedDate   ErrorCode = "degraded_date"
	CodeDegradedNumber ErrorCode = "degraded_number"

	// Validation errors
	CodeMissingField     ErrorCode = "missing_field"
	CodeDuplicateMapping ErrorCode = "duplicate_mapping"
	CodeUnknownField     ErrorCode = "unknown_field"
	CodeUnknownColumn    ErrorCode = "unknown_column"

	// Configuration errors
	CodeInvalidConfig  ErrorCode = "invalid_config"
	CodeUnknownProfile ErrorCode = "unknown_profile"

	// Session errors
	CodeInvalidTransition ErrorCode = "invalid_transition"
	CodeBusy              ErrorCode = "busy"
	CodeStaleResult       ErrorCode = "stale_result"

	// Persistence errors
	CodeServerError      ErrorCode = "server_error"
	CodeConnectionFailed ErrorCode = "connection_failed"
	CodeInvalidResponse  ErrorCode = "invalid_response"
	CodeStoreFailed      ErrorCode = "store_failed"

	// Auth errors
	CodeAuthExpired ErrorCode = "auth_expired"

	// Internal errors
	CodeUnexpectedError ErrorCode = "unexpected_error"
)

// ImportError is the base error type for all application errors
type ImportError struct {
	Category   ErrorCategory     `json:"category"`
	Code       ErrorCode         `json:"code"`
	Message    string            `json:"message"`
	Suggestion string            `json:"suggestion,omitempty"`
	Context    Context           `json:"context,omitempty"`
	Cause      error             `json:"-"`
	StackTrace errors.StackTrace `json:"-"`
}

// Context provides additional information about the error
type Context map[string]interface{}

// Error implements the error interface
func (e *ImportError) Error() string {
	if e.Suggestion != "" {
		return fmt.Sprintf("%s (suggestion: %s)", e.Message, e.Suggestion)
	}
	return e.Message
}

// Unwrap returns the underlying cause error
func (e *ImportError) Unwrap() error {
	return e.Cause
}

// GetExitCode returns an appropriate exit code for the error
func (e *ImportError) GetExitCode() int {
	switch e.Category {
	case CategoryFile:
		return 2
	case CategoryParse, CategoryValidation:
		return 3
	case CategoryConfiguration:
		return 4
	case CategorySession, CategoryInternal:
		return 5
	case CategoryPersistence:
		return 6
	case CategoryAuth:
		return 7
	default:
		return 1
	}
}

// WithContext adds context information to the error
func (e *ImportError) WithContext(key string, value interface{}) *ImportError {
	if e.Context == nil {
		e.Context = make(Context)
	}
	e.Context[key] = value
	return e
}

// WithSuggestion adds a suggestion for fixing the error
func (e *ImportError) WithSuggestion(suggestion string) *ImportError {
	e.Suggestion = suggestion
	return e
}

// New creates a new ImportError
func New(category ErrorCategory, code ErrorCode, message string) *ImportError {
	return &ImportError{
		Category:   category,
		Code:       code,
		Message:    message,
		StackTrace: errors.New("").(stackTracer).StackTrace(),
	}
}

// Wrap wraps an existing error with ImportError context
func Wrap(err error, category ErrorCategory, code ErrorCode, message string) *ImportError {
	if err == nil {
		return nil
	}

	return &ImportError{
		Category:   category,
		Code:       code,
		Message:    message,
		Cause:      err,
		StackTrace: errors.WithStack(err).(stackTracer).StackTrace(),
	}
}

type stackTracer interface {
	StackTrace() errors.StackTrace
}

func newOrWrap(err error, category ErrorCategory, code ErrorCode, message string) *ImportError {
	if err != nil {
		return Wrap(err, category, code, message)
	}
	return New(category, code, message)
}

// FileFormatError rejects an uploaded file before any mapping happens.
func FileFormatError(code ErrorCode, filename string, err error) *ImportError {
	var message, suggestion string

	switch code {
	case CodeNotCSV:
		message = fmt.Sprintf("file is not a CSV file: %s", filename)
		suggestion = "export the trades from your platform as a .csv file"
	case CodeEmptyFile:
		message = fmt.Sprintf("file contains no data rows: %s", filename)
		suggestion = "ensure the file has a header row followed by at least one trade"
	case CodeFileNotFound:
		message = fmt.Sprintf("file not found: %s", filename)
		suggestion = "check if the file path is correct and the file exists"
	case CodeEncodingError:
		message = fmt.Sprintf("file is not valid UTF-8: %s", filename)
		suggestion = "save the file in UTF-8 encoding and try again"
	default:
		message = fmt.Sprintf("could not read CSV file: %s", filename)
		suggestion = "check that the file is a well-formed CSV export"
	}

	return newOrWrap(err, CategoryFile, code, message).
		WithSuggestion(suggestion).
		WithContext("filename", filename)
}

// ParseDegradedWarning records that a row fell back to a default value. It is
// never returned from the pipeline; it only feeds counters and debug logs.
func ParseDegradedWarning(code ErrorCode, row int, column, value string) *ImportError {
	var message string
	switch code {
	case CodeDegradedDate:
		message = fmt.Sprintf("row %d: unparsable date in column '%s': '%s'", row, column, value)
	default:
		message = fmt.Sprintf("row %d: unparsable number in column '%s': '%s'", row, column, value)
	}
	return New(CategoryParse, code, message).
		WithContext("row", row).
		WithContext("column", column).
		WithContext("value", value)
}

// ValidationError creates a validation-related error
func ValidationError(code ErrorCode, field string, value interface{}, err error) *ImportError {
	var message, suggestion string

	switch code {
	case CodeMissingField:
		message = fmt.Sprintf("required field '%s' is not mapped to a column", field)
		suggestion = "map a CSV column to this field"
	case CodeDuplicateMapping:
		message = fmt.Sprintf("column '%v' is mapped to more than one field: %s", value, field)
		suggestion = "map each CSV column to at most one field"
	case CodeUnknownField:
		message = fmt.Sprintf("unknown field '%s'", field)
		suggestion = "use one of the canonical field names or var1..var10"
	case CodeUnknownColumn:
		message = fmt.Sprintf("column '%v' does not exist in the uploaded file (field '%s')", value, field)
		suggestion = "pick one of the CSV headers, or leave the field unmapped"
	default:
		message = fmt.Sprintf("validation error in field '%s': %v", field, value)
		suggestion = "check the field value and format"
	}

	return newOrWrap(err, CategoryValidation, code, message).
		WithSuggestion(suggestion).
		WithContext("field", field).
		WithContext("value", value)
}

// ConfigurationError creates a configuration-related error
func ConfigurationError(code ErrorCode, setting string, value interface{}, err error) *ImportError {
	var message, suggestion string

	switch code {
	case CodeUnknownProfile:
		message = fmt.Sprintf("unknown platform profile: %v", value)
		suggestion = "run 'importer profiles' to list the available profiles"
	case CodeInvalidConfig:
		message = fmt.Sprintf("invalid configuration for '%s': %v", setting, value)
		suggestion = "check the configuration documentation for valid values"
	default:
		message = fmt.Sprintf("configuration error: %s", setting)
		suggestion = "check your configuration and try again"
	}

	return newOrWrap(err, CategoryConfiguration, code, message).
		WithSuggestion(suggestion).
		WithContext("setting", setting).
		WithContext("value", value)
}

// SessionError reports an event the import session cannot accept right now.
func SessionError(code ErrorCode, state, event string, err error) *ImportError {
	var message string

	switch code {
	case CodeInvalidTransition:
		message = fmt.Sprintf("event %s is not valid in state %s", event, state)
	case CodeBusy:
		message = fmt.Sprintf("event %s rejected: a request is already in flight", event)
	case CodeStaleResult:
		message = fmt.Sprintf("result of %s discarded: session was reset", event)
	default:
		message = fmt.Sprintf("session error during %s", event)
	}

	return newOrWrap(err, CategorySession, code, message).
		WithContext("state", state).
		WithContext("event", event)
}

// PersistenceError surfaces a commit failure. detail is the collaborator's own
// message and is kept verbatim.
func PersistenceError(code ErrorCode, endpoint string, status int, detail string, err error) *ImportError {
	var message, suggestion string

	switch code {
	case CodeServerError:
		message = detail
		if message == "" {
			message = fmt.Sprintf("server rejected import with status %d", status)
		}
		suggestion = "fix the reported problem and commit again"
	case CodeConnectionFailed:
		message = fmt.Sprintf("connection failed to %s", endpoint)
		suggestion = "check network connectivity and commit again"
	case CodeInvalidResponse:
		message = fmt.Sprintf("unexpected response from %s", endpoint)
		suggestion = "check that the endpoint implements the import API"
	case CodeStoreFailed:
		message = fmt.Sprintf("failed to store trades in %s", endpoint)
		suggestion = "check the store location and commit again"
	default:
		message = fmt.Sprintf("persistence error: %s", endpoint)
		suggestion = "commit again"
	}

	result := newOrWrap(err, CategoryPersistence, code, message).
		WithSuggestion(suggestion).
		WithContext("endpoint", endpoint)
	if status != 0 {
		result.WithContext("status", status)
	}
	return result
}

// AuthExpiredError reports an expired or invalid login during commit.
func AuthExpiredError(endpoint string, err error) *ImportError {
	return newOrWrap(err, CategoryAuth, CodeAuthExpired, "session expired or invalid, please log in again").
		WithSuggestion("log in again and retry the commit; the analyzed trades are kept").
		WithContext("endpoint", endpoint)
}

// InternalError creates an internal error
func InternalError(code ErrorCode, operation string, err error) *ImportError {
	return newOrWrap(err, CategoryInternal, code, fmt.Sprintf("unexpected error during %s", operation)).
		WithSuggestion("this is likely a bug - please report it with the error details").
		WithContext("operation", operation)
}

// ErrorSummary provides a summary of multiple errors
type ErrorSummary struct {
	Total      int                   `json:"total"`
	ByCategory map[ErrorCategory]int `json:"by_category"`
	ByCode     map[ErrorCode]int     `json:"by_code"`
	Errors     []*ImportError        `json:"errors"`
}

// NewErrorSummary creates a new error summary
func NewErrorSummary(errs []*ImportError) *ErrorSummary {
	summary := &ErrorSummary{
		Total:      len(errs),
		ByCategory: make(map[ErrorCategory]int),
		ByCode:     make(map[ErrorCode]int),
		Errors:     errs,
	}
	for _, err := range errs {
		summary.ByCategory[err.Category]++
		summary.ByCode[err.Code]++
	}
	return summary
}

// Error returns a formatted error message for the summary
func (es *ErrorSummary) Error() string {
	if es.Total == 0 {
		return "no errors"
	}
	if es.Total == 1 {
		return es.Errors[0].Error()
	}

	msgs := make([]string, 0, len(es.Errors))
	for _, err := range es.Errors {
		msgs = append(msgs, err.Message)
	}
	return fmt.Sprintf("%d errors occurred: %s", es.Total, strings.Join(msgs, "; "))
}

// HasCode checks if the summary contains errors with the given code
func (es *ErrorSummary) HasCode(code ErrorCode) bool {
	return es.ByCode[code] > 0
}

// GetExitCode returns the highest priority exit code from all errors
func (es *ErrorSummary) GetExitCode() int {
	if es.Total == 0 {
		return 0
	}
	maxCode := 1
	for _, err := range es.Errors {
		if code := err.GetExitCode(); code > maxCode {
			maxCode = code
		}
	}
	return maxCode
}

// AsImportError extracts an ImportError from an error chain
func AsImportError(err error) (*ImportError, bool) {
	var importErr *ImportError
	if errors.As(err, &importErr) {
		return importErr, true
	}
	return nil, false
}

// IsCategory reports whether err carries an ImportError of the given category.
func IsCategory(err error, category ErrorCategory) bool {
	importErr, ok := AsImportError(err)
	return ok && importErr.Category == category
}

// IsCode reports whether err carries an ImportError with the given code.
func IsCode(err error, code ErrorCode) bool {
	importErr, ok := AsImportError(err)
	return ok && importErr.Code == code
}

// WrapIfNeeded wraps an error if it's not already an ImportError
func WrapIfNeeded(err error, category ErrorCategory, code ErrorCode, message string) *ImportError {
	if err == nil {
		return nil
	}
	if importErr, ok := AsImportError(err); ok {
		return importErr
	}
	return Wrap(err, category, code, message)
}
