package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/controlcash/cashmail/invoice"
)

// Store stages extracted records in a local SQLite database so the ledger
// import can pick them up later. Records are keyed by message id, so a
// message seen again in an overlapping run updates in place instead of
// duplicating.
type Store struct {
	db *sqlx.DB
}

// Run summarizes one completed extraction pass.
type Run struct {
	ID           string    `db:"id"`
	StartedAt    time.Time `db:"-"`
	StartedAtRaw string    `db:"started_at"`
	DaysBack     int       `db:"days_back"`
	MessageCount int       `db:"message_count"`
	RecordCount  int       `db:"record_count"`
}

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id            TEXT PRIMARY KEY,
	started_at    TEXT NOT NULL,
	days_back     INTEGER NOT NULL,
	message_count INTEGER NOT NULL,
	record_count  INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS records (
	message_id  TEXT PRIMARY KEY,
	run_id      TEXT NOT NULL REFERENCES runs(id),
	date        TEXT NOT NULL,
	supplier    TEXT NOT NULL,
	amount      REAL NOT NULL,
	currency    TEXT NOT NULL,
	subject     TEXT NOT NULL DEFAULT '',
	source      TEXT NOT NULL,
	raw_excerpt TEXT NOT NULL DEFAULT ''
);
`

// New opens (or creates) the database at dbPath and runs migrations.
func New(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

type recordRow struct {
	MessageID  string  `db:"message_id"`
	RunID      string  `db:"run_id"`
	Date       string  `db:"date"`
	Supplier   string  `db:"supplier"`
	Amount     float64 `db:"amount"`
	Currency   string  `db:"currency"`
	Subject    string  `db:"subject"`
	Source     string  `db:"source"`
	RawExcerpt string  `db:"raw_excerpt"`
}

// SaveRun records one extraction pass and upserts its records. Returns the
// generated run id.
func (s *Store) SaveRun(ctx context.Context, daysBack, messageCount int, recs []invoice.Record) (string, error) {
	runID := uuid.NewString()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO runs (id, started_at, days_back, message_count, record_count) VALUES (?, ?, ?, ?, ?)`,
		runID, time.Now().UTC().Format(time.RFC3339), daysBack, messageCount, len(recs))
	if err != nil {
		return "", fmt.Errorf("insert run: %w", err)
	}

	const upsert = `
		INSERT INTO records (message_id, run_id, date, supplier, amount, currency, subject, source, raw_excerpt)
		VALUES (:message_id, :run_id, :date, :supplier, :amount, :currency, :subject, :source, :raw_excerpt)
		ON CONFLICT(message_id) DO UPDATE SET
			run_id      = excluded.run_id,
			date        = excluded.date,
			supplier    = excluded.supplier,
			amount      = excluded.amount,
			currency    = excluded.currency,
			subject     = excluded.subject,
			source      = excluded.source,
			raw_excerpt = excluded.raw_excerpt`

	for _, r := range recs {
		row := recordRow{
			MessageID:  r.ID,
			RunID:      runID,
			Date:       r.Date.UTC().Format(time.RFC3339),
			Supplier:   r.Supplier,
			Amount:     r.Amount,
			Currency:   r.Currency,
			Subject:    r.Subject,
			Source:     r.Source,
			RawExcerpt: r.RawExcerpt,
		}
		if _, err := tx.NamedExecContext(ctx, upsert, row); err != nil {
			return "", fmt.Errorf("upsert record %s: %w", r.ID, err)
		}
	}
	return runID, tx.Commit()
}

// LoadRecords returns all staged records, newest first.
func (s *Store) LoadRecords(ctx context.Context) ([]invoice.Record, error) {
	var rows []recordRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT message_id, run_id, date, supplier, amount, currency, subject, source, raw_excerpt
		 FROM records ORDER BY date DESC`)
	if err != nil {
		return nil, err
	}

	recs := make([]invoice.Record, 0, len(rows))
	for _, row := range rows {
		date, err := time.Parse(time.RFC3339, row.Date)
		if err != nil {
			return nil, fmt.Errorf("parse record date %q: %w", row.Date, err)
		}
		recs = append(recs, invoice.Record{
			ID:         row.MessageID,
			Date:       date,
			Supplier:   row.Supplier,
			Amount:     row.Amount,
			Currency:   row.Currency,
			Subject:    row.Subject,
			Source:     row.Source,
			RawExcerpt: row.RawExcerpt,
		})
	}
	return recs, nil
}

// CountRecords returns the number of staged records.
func (s *Store) CountRecords(ctx context.Context) (int, error) {
	var count int
	err := s.db.GetContext(ctx, &count, "SELECT COUNT(*) FROM records")
	return count, err
}

// Runs returns the most recent extraction runs, newest first.
func (s *Store) Runs(ctx context.Context, limit int) ([]Run, error) {
	var runs []Run
	err := s.db.SelectContext(ctx, &runs,
		`SELECT id, started_at, days_back, message_count, record_count
		 FROM runs ORDER BY started_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	for i := range runs {
		if t, err := time.Parse(time.RFC3339, runs[i].StartedAtRaw); err == nil {
			runs[i].StartedAt = t
		}
	}
	return runs, nil
}
