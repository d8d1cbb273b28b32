package session

import (
	"context"
	stderrors "errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trade-import-service/internal/builder"
	"trade-import-service/internal/models"
	"trade-import-service/internal/parsers"
	"trade-import-service/internal/persistence"
	"trade-import-service/internal/validator"
	"trade-import-service/pkg/errors"
	"trade-import-service/pkg/logger"
)

const sampleCSV = `Symbol,Type,Date,Profit,Setup
AAPL,buy,2023-01-01,150.00,breakout
MSFT,sell,2023-01-02,-50,pullback
`

// blockingCommitter holds every Commit until release is closed.
type blockingCommitter struct {
	mu      sync.Mutex
	calls   int
	started chan struct{}
	release chan struct{}
	err     error
	store   *persistence.MemoryStore
}

func newBlockingCommitter() *blockingCommitter {
	return &blockingCommitter{
		started: make(chan struct{}, 10),
		release: make(chan struct{}),
		store:   persistence.NewMemoryStore(),
	}
}

func (b *blockingCommitter) Commit(ctx context.Context, filename string, trades []models.CanonicalTrade) (int, error) {
	b.mu.Lock()
	b.calls++
	b.mu.Unlock()

	b.started <- struct{}{}
	<-b.release
	if b.err != nil {
		return 0, b.err
	}
	return b.store.Commit(context.Background(), filename, trades)
}

type failingCommitter struct {
	err error
}

func (f failingCommitter) Commit(context.Context, string, []models.CanonicalTrade) (int, error) {
	return 0, f.err
}

// emptyTokenizer returns neither a table nor an error.
type emptyTokenizer struct{}

func (emptyTokenizer) Tokenize(context.Context, string, io.Reader) (*parsers.Table, error) {
	return nil, nil
}

type recordingRedirector struct {
	mu    sync.Mutex
	calls []error
}

func (r *recordingRedirector) RedirectToLogin(_ context.Context, cause error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, cause)
}

func newController(committer Committer, redirector LoginRedirector) *Controller {
	b := builder.New(nil, builder.WithLogger(logger.Discard()))
	return NewController(Config{
		Builder:    b,
		Committer:  committer,
		Redirector: redirector,
		Logger:     logger.Discard(),
	})
}

func mapRequired(t *testing.T, c *Controller) {
	t.Helper()
	require.NoError(t, c.FieldMapped(models.FieldSymbol, "Symbol"))
	require.NoError(t, c.FieldMapped(models.FieldDirection, "Type"))
	require.NoError(t, c.FieldMapped(models.FieldDate, "Date"))
	require.NoError(t, c.FieldMapped(models.FieldPnl, "Profit"))
}

func analyzedController(t *testing.T, committer Committer, redirector LoginRedirector) *Controller {
	t.Helper()
	c := newController(committer, redirector)
	require.NoError(t, c.FileSelected(context.Background(), "trades.csv", strings.NewReader(sampleCSV)))
	mapRequired(t, c)
	require.NoError(t, c.Analyze())
	require.Equal(t, StateAnalyzed, c.State())
	return c
}

func TestController_HappyPath(t *testing.T) {
	store := persistence.NewMemoryStore()
	c := newController(store, nil)

	require.NoError(t, c.FileSelected(context.Background(), "Trades.CSV", strings.NewReader(sampleCSV)))
	assert.Equal(t, StateMapping, c.State())
	assert.Equal(t, []string{"Symbol", "Type", "Date", "Profit", "Setup"}, c.Snapshot().Headers)

	mapRequired(t, c)
	require.NoError(t, c.FieldMapped(models.CustomSlot(1), "Setup"))
	require.NoError(t, c.Analyze())

	snap := c.Snapshot()
	assert.Equal(t, StateAnalyzed, snap.State)
	assert.Equal(t, models.SummaryStats{TotalTrades: 2, TotalPnl: 100, WinRate: 50, AvgPnl: 50}, snap.Stats)
	assert.True(t, snap.CanCommit())

	trades := c.Trades()
	require.Len(t, trades, 2)
	assert.Equal(t, "breakout", trades[0].ExtraData.Values["Setup"])
	assert.Equal(t, models.DirectionShort, trades[1].Direction)

	require.NoError(t, c.Commit(context.Background()))
	snap = c.Snapshot()
	assert.Equal(t, StateCommitted, snap.State)
	assert.Equal(t, 2, snap.InsertedCount)
	require.Len(t, store.Imports(), 1)
	assert.Equal(t, "Trades.CSV", store.Imports()[0].Filename)
}

func TestController_ReportsDuplicates(t *testing.T) {
	csv := sampleCSV + "AAPL,buy,2023-01-01,150.00,breakout\n"
	c := newController(nil, nil)
	require.NoError(t, c.FileSelected(context.Background(), "trades.csv", strings.NewReader(csv)))
	mapRequired(t, c)
	require.NoError(t, c.Analyze())

	snap := c.Snapshot()
	require.Len(t, snap.Duplicates, 1)
	assert.Equal(t, []int{0, 2}, snap.Duplicates[0].Indexes)
	assert.Len(t, c.Trades(), 3, "duplicates are kept")

	require.NoError(t, c.Back())
	assert.Empty(t, c.Snapshot().Duplicates)
}

func TestController_InvalidTransitions(t *testing.T) {
	c := newController(persistence.NewMemoryStore(), nil)

	tests := []struct {
		name string
		call func() error
	}{
		{"field mapped in upload", func() error { return c.FieldMapped(models.FieldSymbol, "Symbol") }},
		{"analyze in upload", c.Analyze},
		{"commit in upload", func() error { return c.Commit(context.Background()) }},
		{"back in upload", c.Back},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.call()
			require.Error(t, err)
			assert.True(t, stderrors.Is(err, ErrInvalidTransition))
			assert.True(t, errors.IsCode(err, errors.CodeInvalidTransition))
			assert.Equal(t, StateUpload, c.State())
		})
	}
}

func TestController_CommittedIsTerminal(t *testing.T) {
	c := analyzedController(t, persistence.NewMemoryStore(), nil)
	require.NoError(t, c.Commit(context.Background()))

	assert.ErrorIs(t, c.Commit(context.Background()), ErrInvalidTransition)
	assert.ErrorIs(t, c.PlatformSelected("tradingview"), ErrInvalidTransition)
	assert.ErrorIs(t, c.Back(), ErrInvalidTransition)
	assert.ErrorIs(t, c.FileSelected(context.Background(), "x.csv", strings.NewReader(sampleCSV)), ErrInvalidTransition)

	c.Reset()
	assert.Equal(t, StateUpload, c.State())
}

func TestController_FileSelectedRejections(t *testing.T) {
	tests := []struct {
		name     string
		filename string
		content  string
		code     errors.ErrorCode
	}{
		{"not a csv", "trades.xlsx", sampleCSV, errors.CodeNotCSV},
		{"header only", "trades.csv", "Symbol,Profit\n", errors.CodeEmptyFile},
		{"empty file", "trades.csv", "", errors.CodeEmptyFile},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newController(nil, nil)
			err := c.FileSelected(context.Background(), tt.filename, strings.NewReader(tt.content))

			require.Error(t, err)
			assert.True(t, errors.IsCode(err, tt.code), "got %v", err)
			assert.Equal(t, StateUpload, c.State())
			assert.False(t, c.Snapshot().Busy)
		})
	}
}

func TestController_FileSelectedWithoutTable(t *testing.T) {
	c := NewController(Config{Tokenizer: emptyTokenizer{}, Logger: logger.Discard()})

	err := c.FileSelected(context.Background(), "trades.csv", strings.NewReader(sampleCSV))

	assert.True(t, errors.IsCode(err, errors.CodeEmptyFile), "got %v", err)
	assert.Equal(t, StateUpload, c.State())
	assert.False(t, c.Snapshot().Busy)
}

func TestController_AnalyzeViolations(t *testing.T) {
	c := newController(nil, nil)
	require.NoError(t, c.FileSelected(context.Background(), "trades.csv", strings.NewReader(sampleCSV)))
	require.NoError(t, c.FieldMapped(models.FieldSymbol, "Symbol"))
	require.NoError(t, c.FieldMapped(models.FieldDirection, "Symbol"))

	err := c.Analyze()
	require.Error(t, err)

	var violations validator.Violations
	require.True(t, stderrors.As(err, &violations))
	assert.Equal(t, StateMapping, c.State())
	assert.Len(t, c.Errors(), 3)
	assert.Len(t, c.Snapshot().Violations, 3)
	assert.False(t, c.Snapshot().CanCommit())
}

func TestController_PlatformSelection(t *testing.T) {
	c := newController(nil, nil)

	require.NoError(t, c.PlatformSelected("metatrader5"))
	require.NoError(t, c.FileSelected(context.Background(), "trades.csv", strings.NewReader(sampleCSV)))

	snap := c.Snapshot()
	assert.Equal(t, "metatrader5", snap.ProfileID)
	assert.Equal(t, "Symbol", snap.Mapping.Get(models.FieldSymbol))
	assert.Equal(t, "Type", snap.Mapping.Get(models.FieldDirection))
	assert.Equal(t, "Profit", snap.Mapping.Get(models.FieldPnl))

	require.NoError(t, c.FieldMapped(models.FieldDate, "Date"))
	require.NoError(t, c.Analyze())

	require.NoError(t, c.PlatformSelected("custom"))
	assert.Equal(t, StateMapping, c.State())
	assert.Equal(t, models.NewColumnMapping(), c.Snapshot().Mapping)
	assert.Empty(t, c.Trades())

	err := c.PlatformSelected("nope")
	assert.True(t, errors.IsCode(err, errors.CodeUnknownProfile))
}

func TestController_Back(t *testing.T) {
	c := analyzedController(t, nil, nil)
	require.NoError(t, c.PlatformSelected("tradingview"))
	require.Equal(t, StateMapping, c.State())
	mapRequired(t, c)
	require.NoError(t, c.Analyze())

	require.NoError(t, c.Back())
	assert.Equal(t, StateMapping, c.State())
	assert.Empty(t, c.Trades())
	assert.Equal(t, "Symbol", c.Snapshot().Mapping.Get(models.FieldSymbol), "mapping survives a step back")

	require.NoError(t, c.Back())
	snap := c.Snapshot()
	assert.Equal(t, StateUpload, snap.State)
	assert.Empty(t, snap.Headers)
	assert.Equal(t, "tradingview", snap.ProfileID, "platform survives a step back")
}

func TestController_PreviewValues(t *testing.T) {
	c := newController(nil, nil)
	require.NoError(t, c.FileSelected(context.Background(), "trades.csv", strings.NewReader(sampleCSV)))

	assert.Equal(t, []string{"AAPL", "MSFT"}, c.PreviewValues("Symbol"))
}

func TestController_DoubleCommitInsertsOnce(t *testing.T) {
	committer := newBlockingCommitter()
	c := analyzedController(t, committer, nil)

	firstDone := make(chan error, 1)
	go func() { firstDone <- c.Commit(context.Background()) }()
	<-committer.started

	assert.True(t, c.Snapshot().Busy)
	assert.False(t, c.Snapshot().CanCommit())

	err := c.Commit(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBusy)
	assert.ErrorIs(t, c.Back(), ErrBusy)

	close(committer.release)
	require.NoError(t, <-firstDone)

	assert.Equal(t, 1, committer.calls)
	assert.Len(t, committer.store.Imports(), 1)
	assert.Equal(t, StateCommitted, c.State())
	assert.ErrorIs(t, c.Commit(context.Background()), ErrInvalidTransition)
}

func TestController_ConcurrentCommitsInsertOnce(t *testing.T) {
	store := persistence.NewMemoryStore()
	c := analyzedController(t, store, nil)

	var wg sync.WaitGroup
	results := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- c.Commit(context.Background())
		}()
	}
	wg.Wait()
	close(results)

	succeeded := 0
	for err := range results {
		if err == nil {
			succeeded++
		}
	}
	assert.Equal(t, 1, succeeded)
	assert.Len(t, store.Imports(), 1)
}

func TestController_ResetIgnoresLateCommit(t *testing.T) {
	committer := newBlockingCommitter()
	c := analyzedController(t, committer, nil)

	done := make(chan error, 1)
	go func() { done <- c.Commit(context.Background()) }()
	<-committer.started

	c.Reset()
	assert.Equal(t, StateUpload, c.State())
	assert.False(t, c.Snapshot().Busy)

	close(committer.release)
	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrStaleResult)
	case <-time.After(5 * time.Second):
		t.Fatal("commit did not return")
	}

	snap := c.Snapshot()
	assert.Equal(t, StateUpload, snap.State)
	assert.Zero(t, snap.InsertedCount)
	assert.Empty(t, snap.Headers)
}

func TestController_CommitFailureStaysAnalyzed(t *testing.T) {
	failure := errors.PersistenceError(errors.CodeServerError, "http://x", 500, "database unavailable", nil)
	redirector := &recordingRedirector{}
	c := analyzedController(t, failingCommitter{err: failure}, redirector)

	err := c.Commit(context.Background())

	require.Error(t, err)
	importErr, ok := errors.AsImportError(err)
	require.True(t, ok)
	assert.Equal(t, "database unavailable", importErr.Message)
	snap := c.Snapshot()
	assert.Equal(t, StateAnalyzed, snap.State)
	assert.Equal(t, failure.Error(), snap.LastError)
	assert.Len(t, c.Trades(), 2)
	assert.Empty(t, redirector.calls)
}

func TestController_AuthExpiredRedirects(t *testing.T) {
	redirector := &recordingRedirector{}
	c := analyzedController(t, failingCommitter{err: errors.AuthExpiredError("http://x", nil)}, redirector)

	err := c.Commit(context.Background())

	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryAuth))
	require.Len(t, redirector.calls, 1)
	assert.Equal(t, StateAnalyzed, c.State())
	assert.Len(t, c.Trades(), 2, "analyzed trades are kept for a retry after login")
}

func TestController_CommitWithoutCommitter(t *testing.T) {
	c := analyzedController(t, nil, nil)

	err := c.Commit(context.Background())
	require.Error(t, err)
	assert.Equal(t, StateAnalyzed, c.State())
	assert.False(t, c.Snapshot().Busy)
}
