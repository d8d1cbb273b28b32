// Package session drives one trade import from upload to commit.
//
// A Controller is the aggregate root of an import: it owns the uploaded rows,
// the column mapping, the analyzed trades and the commit outcome, and only
// changes them through the transition methods below.
//
//	Upload --FileSelected--> Mapping --Analyze--> Analyzed --Commit--> Committed
//	Upload <-----Back------- Mapping <---Back---- Analyzed
//
// Reset returns to Upload from any state and discards everything, including
// the result of a tokenization or commit that is still in flight.
package session

import (
	"context"
	stderrors "errors"
	"io"

	"trade-import-service/internal/builder"
	"trade-import-service/internal/metrics"
	"trade-import-service/internal/models"
	"trade-import-service/internal/parsers"
	"trade-import-service/internal/validator"
)

// State is a step of the import wizard.
type State string

const (
	StateUpload    State = "upload"
	StateMapping   State = "mapping"
	StateAnalyzed  State = "analyzed"
	StateCommitted State = "committed"
)

// Event names used in errors and logs.
const (
	EventFileSelected     = "file_selected"
	EventPlatformSelected = "platform_selected"
	EventFieldMapped      = "field_mapped"
	EventAnalyze          = "analyze"
	EventCommit           = "commit"
	EventBack             = "back"
)

var (
	// ErrInvalidTransition is returned for an event the current state does not accept.
	ErrInvalidTransition = stderrors.New("invalid session transition")
	// ErrBusy is returned while a tokenization or commit is in flight.
	ErrBusy = stderrors.New("session busy")
	// ErrStaleResult is returned to the caller of an operation whose session
	// was reset before the operation finished. The result is dropped.
	ErrStaleResult = stderrors.New("session was reset")

	errNoCommitter = stderrors.New("no committer configured")
)

// Tokenizer splits an uploaded file into headers and rows.
type Tokenizer interface {
	Tokenize(ctx context.Context, filename string, r io.Reader) (*parsers.Table, error)
}

// Committer persists analyzed trades and returns how many were inserted.
type Committer interface {
	Commit(ctx context.Context, filename string, trades []models.CanonicalTrade) (int, error)
}

// LoginRedirector sends the user back to the login flow after the
// persistence collaborator rejected their credentials.
type LoginRedirector interface {
	RedirectToLogin(ctx context.Context, cause error)
}

// TradeBuilder converts mapped rows into trades.
type TradeBuilder interface {
	BuildAll(rows []models.RawRow, mapping models.ColumnMapping) ([]models.CanonicalTrade, builder.BuildStats)
}

// Snapshot is a read-only copy of the session for display.
type Snapshot struct {
	ID            string                   `json:"id"`
	State         State                    `json:"state"`
	Filename      string                   `json:"filename,omitempty"`
	Headers       []string                 `json:"headers,omitempty"`
	RowCount      int                      `json:"row_count"`
	ProfileID     string                   `json:"profile_id,omitempty"`
	Mapping       models.ColumnMapping     `json:"mapping"`
	Stats         models.SummaryStats      `json:"stats"`
	BuildStats    builder.BuildStats       `json:"build_stats"`
	Duplicates    []metrics.DuplicateGroup `json:"duplicates,omitempty"`
	Violations    []string                 `json:"violations,omitempty"`
	LastError     string                   `json:"last_error,omitempty"`
	Busy          bool                     `json:"busy"`
	InsertedCount int                      `json:"inserted_count"`
}

// CanAnalyze reports whether the Analyze control should be enabled.
func (s Snapshot) CanAnalyze() bool {
	return s.State == StateMapping && !s.Busy
}

// CanCommit reports whether the Commit control should be enabled.
func (s Snapshot) CanCommit() bool {
	return s.State == StateAnalyzed && !s.Busy
}

// violationStrings flattens violations for a Snapshot.
func violationStrings(vs validator.Violations) []string {
	if len(vs) == 0 {
		return nil
	}
	out := make([]string, len(vs))
	for i, v := range vs {
		out[i] = v.Error()
	}
	return out
}
