package session

import (
	"context"
	"io"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"

	"trade-import-service/internal/builder"
	"trade-import-service/internal/mapping"
	"trade-import-service/internal/metrics"
	"trade-import-service/internal/models"
	"trade-import-service/internal/parsers"
	"trade-import-service/internal/profiles"
	"trade-import-service/internal/validator"
	"trade-import-service/pkg/errors"
	"trade-import-service/pkg/logger"
)

// Config wires a Controller to its collaborators. Registry, Tokenizer and
// Builder default to the package implementations; Committer is required for
// Commit and Redirector is optional.
type Config struct {
	Registry   *profiles.Registry
	Tokenizer  Tokenizer
	Builder    TradeBuilder
	Committer  Committer
	Redirector LoginRedirector
	Logger     logger.Logger
}

// Controller is one import session. All methods are safe for concurrent use;
// tokenization and commit run outside the lock and at most one of them is in
// flight at a time.
type Controller struct {
	mu sync.Mutex

	id         string
	registry   *profiles.Registry
	tokenizer  Tokenizer
	builder    TradeBuilder
	committer  Committer
	redirector LoginRedirector
	logger     logger.Logger

	state         State
	filename      string
	profile       *profiles.PlatformProfile
	mapping       *mapping.State
	trades        []models.CanonicalTrade
	stats         models.SummaryStats
	buildStats    builder.BuildStats
	duplicates    []metrics.DuplicateGroup
	violations    validator.Violations
	lastErr       error
	insertedCount int

	busy       bool
	generation uint64
	cancel     context.CancelFunc
}

// NewController creates a session in the Upload state.
func NewController(cfg Config) *Controller {
	if cfg.Registry == nil {
		cfg.Registry = profiles.NewRegistry()
	}
	if cfg.Tokenizer == nil {
		cfg.Tokenizer = parsers.NewCSVTokenizer(nil)
	}
	if cfg.Builder == nil {
		cfg.Builder = builder.New(nil)
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.GetGlobalLogger()
	}

	id := uuid.NewString()
	return &Controller{
		id:         id,
		registry:   cfg.Registry,
		tokenizer:  cfg.Tokenizer,
		builder:    cfg.Builder,
		committer:  cfg.Committer,
		redirector: cfg.Redirector,
		logger:     cfg.Logger.WithComponent("session").WithField("session_id", id),
		state:      StateUpload,
		mapping:    mapping.NewState(),
	}
}

// ID returns the session id used in logs.
func (c *Controller) ID() string {
	return c.id
}

// State returns the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// FileSelected tokenizes an uploaded file and moves to Mapping. Files without
// a .csv extension or without data rows are rejected and the session stays in
// Upload.
func (c *Controller) FileSelected(ctx context.Context, filename string, r io.Reader) error {
	c.mu.Lock()
	if err := c.accept(EventFileSelected, StateUpload); err != nil {
		c.mu.Unlock()
		return err
	}
	if !strings.EqualFold(filepath.Ext(filename), ".csv") {
		c.mu.Unlock()
		c.logger.WithField("filename", filename).Warn("Rejected non-CSV file")
		return errors.FileFormatError(errors.CodeNotCSV, filename, nil)
	}
	opCtx, gen := c.begin(ctx)
	c.mu.Unlock()

	table, err := c.tokenizer.Tokenize(opCtx, filename, r)

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.finish(gen, EventFileSelected); err != nil {
		return err
	}
	if err != nil {
		c.logger.WithError(err).WithField("filename", filename).Warn("Failed to read uploaded file")
		return err
	}
	if table == nil || len(table.Rows) == 0 {
		c.logger.WithField("filename", filename).Warn("Rejected file without data rows")
		return errors.FileFormatError(errors.CodeEmptyFile, filename, nil)
	}

	c.filename = filename
	c.mapping.Load(table.Headers, table.Rows)
	if c.profile != nil {
		c.mapping.ResetToProfile(c.profile)
	}
	c.transition(StateMapping, logger.Fields{
		"filename": filename,
		"headers":  len(table.Headers),
		"rows":     len(table.Rows),
	})
	return nil
}

// PlatformSelected chooses a profile and, once a file is loaded, re-seeds the
// mapping from it. Selecting a platform after analysis returns to Mapping
// because the analyzed trades no longer match the mapping.
func (c *Controller) PlatformSelected(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.accept(EventPlatformSelected, StateUpload, StateMapping, StateAnalyzed); err != nil {
		return err
	}

	profile, err := c.registry.GetProfile(id)
	if err != nil {
		c.logger.WithField("platform", id).Warn("Unknown platform selected")
		return err
	}

	c.profile = profile
	if !c.mapping.HasData() {
		c.logger.WithField("platform", profile.ID).Info("Platform selected")
		return nil
	}

	c.mapping.ResetToProfile(profile)
	c.violations = nil
	if c.state == StateAnalyzed {
		c.dropAnalysis()
		c.transition(StateMapping, logger.Fields{"platform": profile.ID})
		return nil
	}
	c.logger.WithField("platform", profile.ID).Info("Mapping re-seeded from platform")
	return nil
}

// FieldMapped assigns column to field. An empty column unmaps it.
func (c *Controller) FieldMapped(field models.CanonicalField, column string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.accept(EventFieldMapped, StateMapping); err != nil {
		return err
	}
	return c.mapping.SetField(field, column)
}

// PreviewValues returns sample values of a source column.
func (c *Controller) PreviewValues(column string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mapping.PreviewValues(column)
}

// Analyze validates the mapping and builds the trades. On violations the
// session stays in Mapping and the returned error is a validator.Violations.
func (c *Controller) Analyze() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.accept(EventAnalyze, StateMapping); err != nil {
		return err
	}

	current := c.mapping.Mapping()
	if violations := validator.Validate(current); len(violations) > 0 {
		c.violations = violations
		c.logger.WithField("violations", len(violations)).Warn("Mapping rejected")
		return violations
	}

	c.violations = nil
	c.trades, c.buildStats = c.builder.BuildAll(c.mapping.Rows(), current)
	c.stats = metrics.ComputeSummary(c.trades)
	c.duplicates = metrics.DetectDuplicates(c.trades)
	for _, g := range c.duplicates {
		c.logger.WithFields(logger.Fields{"trades": g.IDs, "reason": g.Reason}).Warn("Possible duplicate trades")
	}
	c.transition(StateAnalyzed, logger.Fields{
		"trades":        c.stats.TotalTrades,
		"total_pnl":     c.stats.TotalPnl,
		"degraded_rows": c.buildStats.DegradedRows,
		"duplicates":    len(c.duplicates),
	})
	return nil
}

// Commit hands the analyzed trades to the Committer. On failure the session
// stays Analyzed so the commit can be retried. An expired login additionally
// triggers the LoginRedirector.
func (c *Controller) Commit(ctx context.Context) error {
	c.mu.Lock()
	if err := c.accept(EventCommit, StateAnalyzed); err != nil {
		c.mu.Unlock()
		return err
	}
	if c.committer == nil {
		c.mu.Unlock()
		return errors.InternalError(errors.CodeUnexpectedError, "commit", errNoCommitter)
	}
	filename := c.filename
	trades := append([]models.CanonicalTrade(nil), c.trades...)
	opCtx, gen := c.begin(ctx)
	c.mu.Unlock()

	c.logger.WithFields(logger.Fields{"filename": filename, "trades": len(trades)}).Info("Committing trades")
	inserted, err := c.committer.Commit(opCtx, filename, trades)

	c.mu.Lock()
	if staleErr := c.finish(gen, EventCommit); staleErr != nil {
		c.mu.Unlock()
		return staleErr
	}
	if err != nil {
		c.lastErr = err
		c.mu.Unlock()

		c.logger.WithError(err).Error("Commit failed")
		if errors.IsCategory(err, errors.CategoryAuth) && c.redirector != nil {
			c.redirector.RedirectToLogin(ctx, err)
		}
		return err
	}

	c.lastErr = nil
	c.insertedCount = inserted
	c.transition(StateCommitted, logger.Fields{"inserted": inserted})
	c.mu.Unlock()
	return nil
}

// Back steps from Mapping to Upload (dropping the file but keeping the
// platform) or from Analyzed to Mapping (dropping the analysis).
func (c *Controller) Back() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.accept(EventBack, StateMapping, StateAnalyzed); err != nil {
		return err
	}

	switch c.state {
	case StateMapping:
		c.filename = ""
		c.mapping.Clear()
		c.violations = nil
		c.transition(StateUpload, nil)
	case StateAnalyzed:
		c.dropAnalysis()
		c.transition(StateMapping, nil)
	}
	return nil
}

// Reset discards all session data and returns to Upload. It is accepted in
// every state, even while an operation is in flight; that operation's result
// is ignored when it arrives.
func (c *Controller) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.generation++
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.busy = false

	c.filename = ""
	c.profile = nil
	c.mapping.Clear()
	c.dropAnalysis()
	c.violations = nil
	c.lastErr = nil
	c.insertedCount = 0
	c.transition(StateUpload, logger.Fields{"generation": c.generation})
}

// Errors returns the violations of the last rejected Analyze.
func (c *Controller) Errors() validator.Violations {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append(validator.Violations(nil), c.violations...)
}

// Trades returns a copy of the analyzed trades.
func (c *Controller) Trades() []models.CanonicalTrade {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]models.CanonicalTrade(nil), c.trades...)
}

// Snapshot returns a consistent read-only view of the session.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Snapshot{
		ID:            c.id,
		State:         c.state,
		Filename:      c.filename,
		Headers:       c.mapping.Headers(),
		RowCount:      len(c.mapping.Rows()),
		Mapping:       c.mapping.Mapping(),
		Stats:         c.stats,
		BuildStats:    c.buildStats,
		Duplicates:    append([]metrics.DuplicateGroup(nil), c.duplicates...),
		Violations:    violationStrings(c.violations),
		Busy:          c.busy,
		InsertedCount: c.insertedCount,
	}
	if c.profile != nil {
		s.ProfileID = c.profile.ID
	}
	if c.lastErr != nil {
		s.LastError = c.lastErr.Error()
	}
	return s
}

// accept checks that no operation is in flight and the event is valid in the
// current state. Callers hold the lock.
func (c *Controller) accept(event string, allowed ...State) error {
	if c.busy {
		c.logger.WithField("event", event).Warn("Event rejected while busy")
		return errors.SessionError(errors.CodeBusy, string(c.state), event, ErrBusy)
	}
	for _, s := range allowed {
		if c.state == s {
			return nil
		}
	}
	c.logger.WithFields(logger.Fields{"event": event, "state": c.state}).Warn("Invalid transition")
	return errors.SessionError(errors.CodeInvalidTransition, string(c.state), event, ErrInvalidTransition)
}

// begin marks an operation in flight. Callers hold the lock.
func (c *Controller) begin(ctx context.Context) (context.Context, uint64) {
	opCtx, cancel := context.WithCancel(ctx)
	c.busy = true
	c.cancel = cancel
	return opCtx, c.generation
}

// finish clears the in-flight marker, or reports that a Reset happened
// since begin. Callers hold the lock.
func (c *Controller) finish(gen uint64, event string) error {
	if gen != c.generation {
		c.logger.WithField("event", event).Info("Discarding result of reset session")
		return errors.SessionError(errors.CodeStaleResult, string(c.state), event, ErrStaleResult)
	}
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.busy = false
	return nil
}

func (c *Controller) dropAnalysis() {
	c.trades = nil
	c.stats = models.SummaryStats{}
	c.buildStats = builder.BuildStats{}
	c.duplicates = nil
}

func (c *Controller) transition(to State, fields logger.Fields) {
	from := c.state
	c.state = to
	log := c.logger.WithFields(logger.Fields{"from": from, "to": to})
	if fields != nil {
		log = log.WithFields(fields)
	}
	log.Info("Session transition")
}
