package main

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

const queryTimeout = 10 * time.Second

// Store persists half-hour series rows in Postgres. Inserts are
// insert-or-ignore on each kind's natural key, so replays and
// overlapping concurrent reconciliations never duplicate or overwrite
// rows: the first write for a key wins.
type Store struct {
	db           *sql.DB
	product      string
	tariffCode   string
	mpan         string
	serialNumber string
}

// NewStore wraps an already-opened connection pool. The pool's
// lifetime belongs to the caller.
func NewStore(db *sql.DB, cfg *Config) *Store {
	return &Store{
		db:           db,
		product:      cfg.Product,
		tariffCode:   cfg.TariffCode,
		mpan:         cfg.Mpan,
		serialNumber: cfg.SerialNumber,
	}
}

// tableSpec binds a series kind to its storage shape plus this
// deployment's natural-key values. New kinds are added here and in
// kindSpecs; nothing else in the store changes.
type tableSpec struct {
	selectStmt string
	insertStmt string
	keyArgs    []any
}

func (s *Store) tableSpec(kind SeriesKind) tableSpec {
	switch kind {
	case KindTariff:
		return tableSpec{
			selectStmt: `SELECT valid_from, value_inc_vat FROM tariff
				WHERE product = $1 AND tariff = $2
				AND valid_from >= $3 AND valid_from < $4
				ORDER BY valid_from`,
			insertStmt: `INSERT INTO tariff (product, tariff, valid_from, value_inc_vat)
				VALUES ($1, $2, $3, $4)
				ON CONFLICT (product, tariff, valid_from) DO NOTHING`,
			keyArgs: []any{s.product, s.tariffCode},
		}
	case KindConsumption:
		return tableSpec{
			selectStmt: `SELECT interval_start, consumption FROM consumption
				WHERE mpan = $1 AND serial_number = $2
				AND interval_start >= $3 AND interval_start < $4
				ORDER BY interval_start`,
			insertStmt: `INSERT INTO consumption (mpan, serial_number, interval_start, consumption)
				VALUES ($1, $2, $3, $4)
				ON CONFLICT (mpan, serial_number, interval_start) DO NOTHING`,
			keyArgs: []any{s.mpan, s.serialNumber},
		}
	}
	panic(fmt.Sprintf("unknown series kind %d", kind))
}

// QuerySeries returns the cached rows of one kind with timestamps in
// [r.Start, r.End), ordered chronologically. No rows is not an error.
func (s *Store) QuerySeries(ctx context.Context, kind SeriesKind, r TimeRange) ([]SeriesPoint, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	spec := s.tableSpec(kind)
	args := append(append([]any(nil), spec.keyArgs...), r.Start, r.End)

	rows, err := s.db.QueryContext(ctx, spec.selectStmt, args...)
	if err != nil {
		return nil, fmt.Errorf("query %s data: %w", kind, err)
	}
	defer rows.Close()

	var points []SeriesPoint
	for rows.Next() {
		var p SeriesPoint
		if err := rows.Scan(&p.Timestamp, &p.Value); err != nil {
			return nil, fmt.Errorf("scan %s row: %w", kind, err)
		}
		points = append(points, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s rows: %w", kind, err)
	}

	return points, nil
}

// InsertSeries writes rows with ON CONFLICT DO NOTHING on the natural
// key. Rows already present keep their stored values.
func (s *Store) InsertSeries(ctx context.Context, kind SeriesKind, points []SeriesPoint) error {
	if len(points) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin %s insert: %w", kind, err)
	}
	defer tx.Rollback()

	spec := s.tableSpec(kind)
	stmt, err := tx.PrepareContext(ctx, spec.insertStmt)
	if err != nil {
		return fmt.Errorf("prepare %s insert: %w", kind, err)
	}
	defer stmt.Close()

	for _, p := range points {
		args := append(append([]any(nil), spec.keyArgs...), p.Timestamp, p.Value)
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return fmt.Errorf("insert %s row at %s: %w", kind, p.Timestamp.Format(time.RFC3339), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit %s insert: %w", kind, err)
	}
	return nil
}

// EnsureSchema creates the series tables when they do not exist yet.
// The unique constraints are what ON CONFLICT resolves against.
func (s *Store) EnsureSchema(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	statements := []string{
		`CREATE TABLE IF NOT EXISTS tariff (
			tariff_id SERIAL PRIMARY KEY,
			product VARCHAR(50) NOT NULL,
			tariff VARCHAR(50) NOT NULL,
			valid_from TIMESTAMPTZ NOT NULL,
			value_inc_vat NUMERIC NOT NULL,
			UNIQUE (product, tariff, valid_from)
		)`,
		`CREATE TABLE IF NOT EXISTS consumption (
			consumption_id SERIAL PRIMARY KEY,
			mpan VARCHAR(25) NOT NULL,
			serial_number VARCHAR(25) NOT NULL,
			interval_start TIMESTAMPTZ NOT NULL,
			consumption NUMERIC NOT NULL,
			UNIQUE (mpan, serial_number, interval_start)
		)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}
