package recorder

import (
	"database/sql"
	"fmt"
	"sync"

	_ "modernc.org/sqlite"
)

// SQLiteRecorder persists records to a SQLite database.
type SQLiteRecorder struct {
	db *sql.DB
	mu sync.Mutex
}

// NewSQLiteRecorder opens (or creates) the database and runs migrations.
func NewSQLiteRecorder(dbPath string) (*SQLiteRecorder, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// WAL mode so offline analysis can read while the engine writes.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	r := &SQLiteRecorder{db: db}
	if err := r.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return r, nil
}

func (r *SQLiteRecorder) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS predictions (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp   INTEGER NOT NULL,
			symbol      TEXT,
			direction   TEXT,
			probability REAL,
			confidence  REAL,
			model_type  TEXT,
			model_key   TEXT,
			features    TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_predictions_ts ON predictions(timestamp)`,

		`CREATE TABLE IF NOT EXISTS trade_entries (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp   INTEGER NOT NULL,
			order_id    TEXT,
			symbol      TEXT,
			direction   TEXT,
			lots        REAL,
			entry_price REAL,
			stop_loss   REAL,
			take_profit REAL,
			comment     TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_entries_ts ON trade_entries(timestamp)`,

		`CREATE TABLE IF NOT EXISTS trade_exits (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp  INTEGER NOT NULL,
			order_id   TEXT,
			exit_price REAL,
			profit     REAL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_exits_ts ON trade_exits(timestamp)`,
	}

	for _, s := range stmts {
		if _, err := r.db.Exec(s); err != nil {
			return fmt.Errorf("exec %q: %w", s[:40], err)
		}
	}
	return nil
}

func (r *SQLiteRecorder) RecordPrediction(rec *PredictionRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, err := r.db.Exec(
		`INSERT INTO predictions
		 (timestamp, symbol, direction, probability, confidence, model_type, model_key, features)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.Time.Unix(), rec.Symbol, rec.Direction,
		rec.Probability, rec.Confidence, rec.ModelType, rec.ModelKey, rec.FeaturesJSON,
	)
	return err
}

func (r *SQLiteRecorder) RecordTradeEntry(rec *TradeEntryRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, err := r.db.Exec(
		`INSERT INTO trade_entries
		 (timestamp, order_id, symbol, direction, lots, entry_price, stop_loss, take_profit, comment)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.Time.Unix(), rec.OrderID, rec.Symbol, rec.Direction,
		rec.Lots, rec.EntryPrice, rec.StopLoss, rec.TakeProfit, rec.Comment,
	)
	return err
}

func (r *SQLiteRecorder) RecordTradeExit(rec *TradeExitRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, err := r.db.Exec(
		`INSERT INTO trade_exits (timestamp, order_id, exit_price, profit)
		 VALUES (?, ?, ?, ?)`,
		rec.Time.Unix(), rec.OrderID, rec.ExitPrice, rec.Profit,
	)
	return err
}

func (r *SQLiteRecorder) Close() error {
	return r.db.Close()
}
