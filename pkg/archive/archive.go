// Package archive keeps a copy of fetched snapshots and transaction lists in
// SQLite. Nothing reads it back to answer a query.
package archive

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"ccasswatch/pkg/shareholding"
)

const schema = `
CREATE TABLE IF NOT EXISTS fetches (
	id          TEXT PRIMARY KEY,
	kind        TEXT NOT NULL,
	stock_code  TEXT NOT NULL,
	start_date  TEXT NOT NULL,
	end_date    TEXT NOT NULL,
	parse_error TEXT,
	fetched_at  TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS holdings (
	fetch_id         TEXT NOT NULL REFERENCES fetches(id),
	stock_code       TEXT NOT NULL,
	date             TEXT NOT NULL,
	participant_id   TEXT NOT NULL,
	participant_name TEXT NOT NULL,
	shareholding     INTEGER,
	shareholding_pct REAL
);
CREATE INDEX IF NOT EXISTS idx_holdings_stock_date ON holdings(stock_code, date);

CREATE TABLE IF NOT EXISTS transactions (
	fetch_id         TEXT NOT NULL REFERENCES fetches(id),
	stock_code       TEXT NOT NULL,
	date             TEXT NOT NULL,
	participant_id   TEXT NOT NULL,
	participant_name TEXT NOT NULL,
	previous_pct     REAL NOT NULL,
	current_pct      REAL NOT NULL,
	change_pct       REAL NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_transactions_stock_date ON transactions(stock_code, date);
`

type Archive struct {
	db     *sql.DB
	logger *zap.Logger
	now    func() time.Time
}

func Open(path string, logger *zap.Logger) (*Archive, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open archive %s: %w", path, err)
	}
	// sqlite allows one writer at a time
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create archive schema: %w", err)
	}
	return &Archive{db: db, logger: logger, now: time.Now}, nil
}

func (a *Archive) Close() error {
	return a.db.Close()
}

// SaveSnapshot stores every record of s and returns the fetch id. Failed
// snapshots are kept too, with their parse error.
func (a *Archive) SaveSnapshot(ctx context.Context, s *shareholding.Snapshot) (string, error) {
	return a.save(ctx, "snapshot", s.StockCode, s.Date, s.Date, s.ParseErr, func(tx *sql.Tx, id string) error {
		return insertRecords(ctx, tx, id, s.StockCode, s.Records)
	})
}

func (a *Archive) SaveTrend(ctx context.Context, t *shareholding.Trend) (string, error) {
	return a.save(ctx, "trend", t.StockCode, t.Start, t.End, nil, func(tx *sql.Tx, id string) error {
		return insertRecords(ctx, tx, id, t.StockCode, t.Records)
	})
}

func (a *Archive) SaveTransactions(ctx context.Context, t *shareholding.Transactions) (string, error) {
	return a.save(ctx, "transactions", t.StockCode, t.Start, t.End, nil, func(tx *sql.Tx, id string) error {
		stmt, err := tx.PrepareContext(ctx, `INSERT INTO transactions
			(fetch_id, stock_code, date, participant_id, participant_name, previous_pct, current_pct, change_pct)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, r := range t.Rows {
			if _, err := stmt.ExecContext(ctx, id, t.StockCode, r.Date.Format(shareholding.DateLayout),
				r.ParticipantID, r.ParticipantName, r.PreviousPct, r.CurrentPct, r.Change); err != nil {
				return err
			}
		}
		return nil
	})
}

func (a *Archive) save(ctx context.Context, kind string, stockCode string, start time.Time, end time.Time, parseErr error, rows func(*sql.Tx, string) error) (string, error) {
	id := uuid.NewString()

	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	var perr sql.NullString
	if parseErr != nil {
		perr = sql.NullString{String: parseErr.Error(), Valid: true}
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO fetches (id, kind, stock_code, start_date, end_date, parse_error, fetched_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, kind, stockCode, start.Format(shareholding.DateLayout), end.Format(shareholding.DateLayout),
		perr, a.now().UTC().Format(time.RFC3339))
	if err != nil {
		return "", fmt.Errorf("archive %s fetch: %w", kind, err)
	}
	if err := rows(tx, id); err != nil {
		return "", fmt.Errorf("archive %s rows: %w", kind, err)
	}
	if err := tx.Commit(); err != nil {
		return "", err
	}

	a.logger.Debug("archived fetch", zap.String("fetch_id", id), zap.String("kind", kind), zap.String("stock_code", stockCode))
	return id, nil
}

func insertRecords(ctx context.Context, tx *sql.Tx, id string, stockCode string, records []shareholding.Record) error {
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO holdings
		(fetch_id, stock_code, date, participant_id, participant_name, shareholding, shareholding_pct)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, r := range records {
		if _, err := stmt.ExecContext(ctx, id, stockCode, r.Date.Format(shareholding.DateLayout),
			r.ParticipantID, r.ParticipantName, r.Shareholding, r.ShareholdingPct); err != nil {
			return err
		}
	}
	return nil
}

// Holdings returns the archived records of stockCode on date from the most
// recent fetch that covered that day.
func (a *Archive) Holdings(ctx context.Context, stockCode string, date time.Time) ([]shareholding.Record, error) {
	d := date.Format(shareholding.DateLayout)
	rows, err := a.db.QueryContext(ctx, `
		SELECT h.participant_id, h.participant_name, h.shareholding, h.shareholding_pct
		FROM holdings h
		WHERE h.stock_code = ? AND h.date = ? AND h.fetch_id = (
			SELECT f.id FROM fetches f JOIN holdings x ON x.fetch_id = f.id
			WHERE x.stock_code = ? AND x.date = ?
			ORDER BY f.fetched_at DESC, f.rowid DESC LIMIT 1
		)
		ORDER BY h.rowid`, stockCode, d, stockCode, d)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []shareholding.Record
	for rows.Next() {
		r := shareholding.Record{Date: shareholding.Day(date)}
		if err := rows.Scan(&r.ParticipantID, &r.ParticipantName, &r.Shareholding, &r.ShareholdingPct); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Transactions returns archived transaction rows of stockCode dated within
// [start, end].
func (a *Archive) Transactions(ctx context.Context, stockCode string, start time.Time, end time.Time) ([]shareholding.Transaction, error) {
	rows, err := a.db.QueryContext(ctx, `
		SELECT date, participant_id, participant_name, previous_pct, current_pct, change_pct
		FROM transactions
		WHERE stock_code = ? AND date BETWEEN ? AND ?
		ORDER BY date, rowid`,
		stockCode, start.Format(shareholding.DateLayout), end.Format(shareholding.DateLayout))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []shareholding.Transaction
	for rows.Next() {
		var r shareholding.Transaction
		var d string
		if err := rows.Scan(&d, &r.ParticipantID, &r.ParticipantName, &r.PreviousPct, &r.CurrentPct, &r.Change); err != nil {
			return nil, err
		}
		if r.Date, err = shareholding.ParseDay(d); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
