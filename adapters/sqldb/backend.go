// Package sqldb stores events in a relational database through sqlx.
// SQLite (modernc, cgo-free), PostgreSQL and MySQL are supported.
package sqldb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/heianxing/axon-demo/core/es"
)

const columns = "event_id, aggregate_type, aggregate_id, sequence_number, time_stamp, payload_type, payload"

type row struct {
	EventID        string `db:"event_id"`
	AggregateType  string `db:"aggregate_type"`
	AggregateID    string `db:"aggregate_id"`
	SequenceNumber int64  `db:"sequence_number"`
	TimeStamp      int64  `db:"time_stamp"`
	PayloadType    string `db:"payload_type"`
	Payload        []byte `db:"payload"`
}

func toRow(r es.Record) row {
	return row{
		EventID:        r.EventID,
		AggregateType:  r.AggregateType,
		AggregateID:    r.AggregateID,
		SequenceNumber: r.SequenceNumber,
		TimeStamp:      r.Timestamp.UnixNano(),
		PayloadType:    r.PayloadType,
		Payload:        r.Payload,
	}
}

func (r row) record() es.Record {
	return es.Record{
		EventID:        r.EventID,
		AggregateType:  r.AggregateType,
		AggregateID:    r.AggregateID,
		SequenceNumber: r.SequenceNumber,
		Timestamp:      time.Unix(0, r.TimeStamp).UTC(),
		PayloadType:    r.PayloadType,
		Payload:        r.Payload,
	}
}

func records(rows []row) []es.Record {
	out := make([]es.Record, len(rows))
	for i, r := range rows {
		out[i] = r.record()
	}
	return out
}

type queries struct {
	insertEvent    string
	readEvents     string
	insertSnapshot string
	pruneSnapshots string
	latestSnapshot string
	scanFirst      string
	scanAfter      string
}

func newQueries(d Dialect, events, snapshots string) queries {
	rebind := func(q string) string { return sqlx.Rebind(sqlx.BindType(d.Driver), q) }
	return queries{
		insertEvent: fmt.Sprintf(`INSERT INTO %s (%s) VALUES (:event_id, :aggregate_type, :aggregate_id, :sequence_number, :time_stamp, :payload_type, :payload)`,
			events, columns),
		readEvents: rebind(fmt.Sprintf(`SELECT %s FROM %s
WHERE aggregate_type = ? AND aggregate_id = ? AND sequence_number >= ?
ORDER BY sequence_number ASC LIMIT ?`, columns, events)),
		insertSnapshot: fmt.Sprintf(`INSERT INTO %s (%s) VALUES (:event_id, :aggregate_type, :aggregate_id, :sequence_number, :time_stamp, :payload_type, :payload)`,
			snapshots, columns),
		pruneSnapshots: rebind(fmt.Sprintf(`DELETE FROM %s WHERE aggregate_type = ? AND aggregate_id = ? AND sequence_number <= ?`, snapshots)),
		latestSnapshot: rebind(fmt.Sprintf(`SELECT %s FROM %s
WHERE aggregate_type = ? AND aggregate_id = ?
ORDER BY sequence_number DESC LIMIT 1`, columns, snapshots)),
		scanFirst: rebind(fmt.Sprintf(`SELECT %s FROM %s
ORDER BY time_stamp, sequence_number, event_id LIMIT ?`, columns, events)),
		scanAfter: rebind(fmt.Sprintf(`SELECT %s FROM %s
WHERE time_stamp > ? OR (time_stamp = ? AND (sequence_number > ? OR (sequence_number = ? AND event_id > ?)))
ORDER BY time_stamp, sequence_number, event_id LIMIT ?`, columns, events)),
	}
}

// Backend implements [es.Backend] on a relational database. When the
// context carries a unit of work running in a *sqlx.Tx (see [TxManager]),
// all statements join that transaction; otherwise event inserts run in a
// transaction of their own.
type Backend struct {
	db        *sqlx.DB
	dialect   Dialect
	events    string
	snapshots string
	q         queries
	log       *slog.Logger
}

// New wraps an open database. Call Migrate to create the tables.
func New(db *sqlx.DB, dialect Dialect, opts ...Option) *Backend {
	options := newOpts(opts...)
	return &Backend{
		db:        db,
		dialect:   dialect,
		events:    options.events,
		snapshots: options.snapshots,
		q:         newQueries(dialect, options.events, options.snapshots),
		log:       options.log.With(slog.String("dialect", dialect.Driver), slog.String("table", options.events)),
	}
}

// Open connects to dsn and, unless disabled, creates missing tables.
func Open(ctx context.Context, dialect Dialect, dsn string, opts ...Option) (*Backend, error) {
	db, err := sqlx.ConnectContext(ctx, dialect.Driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", dialect, err)
	}
	if dialect.Driver == SQLite.Driver {
		// sqlite allows a single writer
		db.SetMaxOpenConns(1)
	}

	b := New(db, dialect, opts...)
	if newOpts(opts...).migrate {
		if err := b.Migrate(ctx); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	return b, nil
}

// Migrate creates the event and snapshot tables if they do not exist.
func (b *Backend) Migrate(ctx context.Context) error {
	for _, stmt := range b.dialect.schema(b.events, b.snapshots) {
		if _, err := b.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	b.log.Debug("schema ready")
	return nil
}

func (b *Backend) DB() *sqlx.DB { return b.db }

func (b *Backend) Dialect() Dialect { return b.dialect }

// TxManager returns a transaction manager over the backend's database.
func (b *Backend) TxManager() *TxManager { return NewTxManager(b.db, nil) }

func (b *Backend) Close() error { return b.db.Close() }

func (b *Backend) ext(ctx context.Context) sqlx.ExtContext {
	if tx, ok := Tx(ctx); ok {
		return tx
	}
	return b.db
}

func (b *Backend) inTx(ctx context.Context, fn func(q sqlx.ExtContext) error) (err error) {
	if tx, ok := Tx(ctx); ok {
		return fn(tx)
	}

	tx, err := b.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				b.log.Warn("rollback failed", slog.Any("error", rbErr))
			}
			return
		}
		err = tx.Commit()
	}()
	return fn(tx)
}

func (b *Backend) InsertEvents(ctx context.Context, recs []es.Record) error {
	if len(recs) == 0 {
		return nil
	}
	return b.inTx(ctx, func(q sqlx.ExtContext) error {
		for _, rec := range recs {
			if _, err := sqlx.NamedExecContext(ctx, q, b.q.insertEvent, toRow(rec)); err != nil {
				return &es.RecordError{Record: rec, Err: err}
			}
		}
		return nil
	})
}

func (b *Backend) ReadEvents(ctx context.Context, aggType, aggID string, firstSeq int64, limit int) ([]es.Record, error) {
	var rows []row
	if err := sqlx.SelectContext(ctx, b.ext(ctx), &rows, b.q.readEvents, aggType, aggID, firstSeq, limit); err != nil {
		return nil, fmt.Errorf("read events: %w", err)
	}
	return records(rows), nil
}

// InsertSnapshot replaces snapshots at or below the sequence number of rec.
func (b *Backend) InsertSnapshot(ctx context.Context, rec es.Record) error {
	return b.inTx(ctx, func(q sqlx.ExtContext) error {
		if _, err := q.ExecContext(ctx, b.q.pruneSnapshots, rec.AggregateType, rec.AggregateID, rec.SequenceNumber); err != nil {
			return fmt.Errorf("prune snapshots: %w", err)
		}
		if _, err := sqlx.NamedExecContext(ctx, q, b.q.insertSnapshot, toRow(rec)); err != nil {
			return &es.RecordError{Record: rec, Err: err}
		}
		return nil
	})
}

func (b *Backend) LatestSnapshot(ctx context.Context, aggType, aggID string) (es.Record, bool, error) {
	var r row
	err := sqlx.GetContext(ctx, b.ext(ctx), &r, b.q.latestSnapshot, aggType, aggID)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return es.Record{}, false, nil
	case err != nil:
		return es.Record{}, false, fmt.Errorf("latest snapshot: %w", err)
	}
	return r.record(), true, nil
}

// ScanEvents pages with a keyset on (time_stamp, sequence_number, event_id),
// so concurrent inserts never shift a page.
func (b *Backend) ScanEvents(ctx context.Context, batchSize int, fn func([]es.Record) error) error {
	var last *row
	for {
		var (
			rows []row
			err  error
		)
		if last == nil {
			err = sqlx.SelectContext(ctx, b.ext(ctx), &rows, b.q.scanFirst, batchSize)
		} else {
			err = sqlx.SelectContext(ctx, b.ext(ctx), &rows, b.q.scanAfter,
				last.TimeStamp, last.TimeStamp, last.SequenceNumber, last.SequenceNumber, last.EventID, batchSize)
		}
		if err != nil {
			return fmt.Errorf("scan events: %w", err)
		}
		if len(rows) == 0 {
			return nil
		}
		if err := fn(records(rows)); err != nil {
			return err
		}
		if len(rows) < batchSize {
			return nil
		}
		last = &rows[len(rows)-1]
	}
}

func (b *Backend) IsDuplicateKey(err error) bool { return b.dialect.IsDuplicateKey(err) }

var _ es.Backend = (*Backend)(nil)
