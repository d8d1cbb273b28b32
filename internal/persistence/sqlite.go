package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"trade-import-service/internal/models"
	"trade-import-service/pkg/errors"
	"trade-import-service/pkg/logger"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS imports (
	id TEXT PRIMARY KEY,
	filename TEXT NOT NULL,
	trade_count INTEGER NOT NULL,
	imported_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS trades (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	import_id TEXT NOT NULL,
	source_id TEXT NOT NULL,
	symbol TEXT NOT NULL,
	direction TEXT NOT NULL,
	entry_price REAL,
	exit_price REAL,
	stop_loss REAL,
	take_profit REAL,
	quantity REAL NOT NULL,
	pnl REAL NOT NULL,
	rr REAL NOT NULL,
	date TEXT NOT NULL,
	entry_date TEXT NOT NULL,
	exit_date TEXT NOT NULL,
	extra_data TEXT NOT NULL,
	FOREIGN KEY(import_id) REFERENCES imports(id)
);

CREATE INDEX IF NOT EXISTS idx_trades_import ON trades(import_id);
`

// ImportRecord summarizes one stored import.
type ImportRecord struct {
	ID         string
	Filename   string
	TradeCount int
	ImportedAt time.Time
}

// SQLiteStore keeps imports in a local SQLite file, for offline use of the CLI.
type SQLiteStore struct {
	db     *sql.DB
	path   string
	now    func() time.Time
	logger logger.Logger
}

// OpenSQLiteStore opens (creating if needed) the database at path.
func OpenSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.PersistenceError(errors.CodeStoreFailed, path, 0, "", err)
	}
	// A single connection serializes writers and keeps :memory: databases alive.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, errors.PersistenceError(errors.CodeStoreFailed, path, 0, "", err)
	}

	log := logger.GetGlobalLogger().WithComponent("sqlite_store")
	log.WithField("path", path).Debug("Opened trade store")

	return &SQLiteStore{db: db, path: path, now: time.Now, logger: log}, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Commit stores the import and its trades in one transaction.
func (s *SQLiteStore) Commit(ctx context.Context, filename string, trades []models.CanonicalTrade) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, errors.PersistenceError(errors.CodeStoreFailed, s.path, 0, "", err)
	}
	defer tx.Rollback()

	importID := uuid.NewString()
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO imports (id, filename, trade_count, imported_at) VALUES (?, ?, ?, ?)`,
		importID, filename, len(trades), s.now().UTC().Format(time.RFC3339Nano),
	); err != nil {
		return 0, errors.PersistenceError(errors.CodeStoreFailed, s.path, 0, "", err)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO trades (
		import_id, source_id, symbol, direction, entry_price, exit_price, stop_loss, take_profit,
		quantity, pnl, rr, date, entry_date, exit_date, extra_data
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, errors.PersistenceError(errors.CodeStoreFailed, s.path, 0, "", err)
	}
	defer stmt.Close()

	inserted := 0
	for i := range trades {
		t := &trades[i]
		extra, err := json.Marshal(t.ExtraData)
		if err != nil {
			return 0, errors.InternalError(errors.CodeUnexpectedError, "encode_extra_data", err)
		}

		if _, err := stmt.ExecContext(ctx,
			importID, t.ID, t.Symbol, string(t.Direction),
			nullFloat(t.EntryPrice), nullFloat(t.ExitPrice), nullFloat(t.StopLoss), nullFloat(t.TakeProfit),
			t.Quantity, t.Pnl, t.RR, t.Date, t.EntryDate, t.ExitDate, string(extra),
		); err != nil {
			return 0, errors.PersistenceError(errors.CodeStoreFailed, s.path, 0, "", err)
		}
		inserted++
	}

	if err := tx.Commit(); err != nil {
		return 0, errors.PersistenceError(errors.CodeStoreFailed, s.path, 0, "", err)
	}

	s.logger.WithFields(logger.Fields{
		"import_id": importID,
		"filename":  filename,
		"trades":    inserted,
	}).Info("Stored import")

	return inserted, nil
}

// Imports lists stored imports, newest first.
func (s *SQLiteStore) Imports(ctx context.Context) ([]ImportRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, filename, trade_count, imported_at FROM imports ORDER BY imported_at DESC, rowid DESC`)
	if err != nil {
		return nil, errors.PersistenceError(errors.CodeStoreFailed, s.path, 0, "", err)
	}
	defer rows.Close()

	var records []ImportRecord
	for rows.Next() {
		var (
			r          ImportRecord
			importedAt string
		)
		if err := rows.Scan(&r.ID, &r.Filename, &r.TradeCount, &importedAt); err != nil {
			return nil, errors.PersistenceError(errors.CodeStoreFailed, s.path, 0, "", err)
		}
		if r.ImportedAt, err = time.Parse(time.RFC3339Nano, importedAt); err != nil {
			return nil, errors.PersistenceError(errors.CodeStoreFailed, s.path, 0, "", err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.PersistenceError(errors.CodeStoreFailed, s.path, 0, "", err)
	}
	return records, nil
}

// Trades returns the trades of one import in insertion order.
func (s *SQLiteStore) Trades(ctx context.Context, importID string) ([]models.CanonicalTrade, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT
		source_id, symbol, direction, entry_price, exit_price, stop_loss, take_profit,
		quantity, pnl, rr, date, entry_date, exit_date, extra_data
		FROM trades WHERE import_id = ? ORDER BY id`, importID)
	if err != nil {
		return nil, errors.PersistenceError(errors.CodeStoreFailed, s.path, 0, "", err)
	}
	defer rows.Close()

	var trades []models.CanonicalTrade
	for rows.Next() {
		var (
			t                                 models.CanonicalTrade
			direction, extra                  string
			entry, exit, stopLoss, takeProfit sql.NullFloat64
		)
		if err := rows.Scan(&t.ID, &t.Symbol, &direction, &entry, &exit, &stopLoss, &takeProfit,
			&t.Quantity, &t.Pnl, &t.RR, &t.Date, &t.EntryDate, &t.ExitDate, &extra); err != nil {
			return nil, errors.PersistenceError(errors.CodeStoreFailed, s.path, 0, "", err)
		}
		if err := json.Unmarshal([]byte(extra), &t.ExtraData); err != nil {
			return nil, errors.PersistenceError(errors.CodeStoreFailed, s.path, 0, "", err)
		}
		t.Direction = models.Direction(direction)
		t.EntryPrice = floatPtr(entry)
		t.ExitPrice = floatPtr(exit)
		t.StopLoss = floatPtr(stopLoss)
		t.TakeProfit = floatPtr(takeProfit)
		trades = append(trades, t)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.PersistenceError(errors.CodeStoreFailed, s.path, 0, "", err)
	}
	return trades, nil
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	return models.Float(v.Float64)
}

// String returns a description for logs.
func (s *SQLiteStore) String() string {
	return "sqlite(" + s.path + ")"
}
