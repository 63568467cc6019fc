package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq" // Register postgres driver

	"github.com/aevon-lab/report-core/internal/core/aggregation"
	"github.com/aevon-lab/report-core/internal/core/storage"
)

const defaultAlertLimit = 50

// AggregateAdapter implements storage.Store on PostgreSQL.
// Each scope is one row; updates hold a row lock for the whole read-modify-write.
type AggregateAdapter struct {
	db  *sql.DB
	now func() time.Time
}

var _ storage.Store = (*AggregateAdapter)(nil)

// Open connects to PostgreSQL and verifies the connection.
func Open(dsn string, maxOpenConns, maxIdleConns int) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxIdleConns)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return db, nil
}

// NewAggregateAdapter wraps an open database.
func NewAggregateAdapter(db *sql.DB) *AggregateAdapter {
	return &AggregateAdapter{db: db, now: time.Now}
}

// DB returns the underlying connection pool.
func (a *AggregateAdapter) DB() *sql.DB {
	return a.db
}

// Close closes the connection pool.
func (a *AggregateAdapter) Close() error {
	return a.db.Close()
}

func (a *AggregateAdapter) Ping(ctx context.Context) error {
	if err := a.db.PingContext(ctx); err != nil {
		return transient("ping", err)
	}
	return nil
}

// Apply claims the event and applies every mutation in one transaction.
// Rows are locked in scope-key order so concurrent events touching the same
// scopes cannot deadlock.
func (a *AggregateAdapter) Apply(ctx context.Context, eventID uuid.UUID, mutations []storage.Mutation) ([]*aggregation.Record, error) {
	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, transient("begin transaction", err)
	}
	defer tx.Rollback() //nolint:errcheck

	now := a.now().UTC()

	var claimed string
	err = tx.QueryRowContext(ctx, queryClaimEvent, eventID.String(), now).Scan(&claimed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrDuplicate
	}
	if err != nil {
		return nil, transient("claim event", err)
	}

	ordered := make([]storage.Mutation, len(mutations))
	copy(ordered, mutations)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Scope.Key() < ordered[j].Scope.Key()
	})

	upsertStmt, err := tx.PrepareContext(ctx, queryUpsertAggregate)
	if err != nil {
		return nil, transient("prepare upsert", err)
	}
	defer upsertStmt.Close()

	records := make([]*aggregation.Record, 0, len(ordered))
	var alerts []aggregation.Alert
	for _, m := range ordered {
		rec, err := lockRow(ctx, tx, m.Scope, now)
		if err != nil {
			return nil, err
		}

		raised, err := m.Update(rec)
		if err != nil {
			return nil, fmt.Errorf("update %s: %w", m.Scope.Key(), err)
		}
		rec.Touch(eventID.String(), now)

		if err := writeRecord(ctx, upsertStmt, rec); err != nil {
			return nil, err
		}
		records = append(records, rec)
		alerts = append(alerts, raised...)
	}

	if err := insertAlerts(ctx, tx, alerts); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, transient("commit", err)
	}
	return records, nil
}

// Upsert reads, updates and writes one scope under a row lock.
func (a *AggregateAdapter) Upsert(ctx context.Context, scope aggregation.Scope, fn storage.UpdateFunc) (*aggregation.Record, error) {
	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, transient("begin transaction", err)
	}
	defer tx.Rollback() //nolint:errcheck

	now := a.now().UTC()
	rec, err := lockRow(ctx, tx, scope, now)
	if err != nil {
		return nil, err
	}

	raised, err := fn(rec)
	if err != nil {
		return nil, fmt.Errorf("update %s: %w", scope.Key(), err)
	}
	rec.UpdatedAt = now

	stmt, err := tx.PrepareContext(ctx, queryUpsertAggregate)
	if err != nil {
		return nil, transient("prepare upsert", err)
	}
	defer stmt.Close()

	if err := writeRecord(ctx, stmt, rec); err != nil {
		return nil, err
	}
	if err := insertAlerts(ctx, tx, raised); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, transient("commit", err)
	}
	return rec, nil
}

// lockRow selects the scope row FOR UPDATE, creating it first when absent.
func lockRow(ctx context.Context, tx *sql.Tx, scope aggregation.Scope, now time.Time) (*aggregation.Record, error) {
	args := []interface{}{string(scope.Kind), scope.DealerID, periodParam(scope.Period), scope.Dimension}

	rec, err := scanRecord(tx.QueryRowContext(ctx, querySelectAggregateForUpdate, args...), scope)
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, transient("lock "+scope.Key(), err)
	}

	// Row doesn't exist yet: create it so the lock has something to hold.
	initArgs := append(append([]interface{}{}, args...), scope.PartitionID(), now)
	if _, err := tx.ExecContext(ctx, queryInitAggregateRow, initArgs...); err != nil {
		return nil, transient("init "+scope.Key(), err)
	}

	rec, err = scanRecord(tx.QueryRowContext(ctx, querySelectAggregateForUpdate, args...), scope)
	if err != nil {
		return nil, transient("lock "+scope.Key(), err)
	}
	return rec, nil
}

func writeRecord(ctx context.Context, stmt *sql.Stmt, rec *aggregation.Record) error {
	state, err := marshalState(rec)
	if err != nil {
		return err
	}
	s := rec.Scope
	_, err = stmt.ExecContext(ctx,
		string(s.Kind), s.DealerID, periodParam(s.Period), s.Dimension, s.PartitionID(),
		state, rec.EventCount, rec.LastEventID, rec.UpdatedAt,
	)
	if err != nil {
		return transient("upsert "+s.Key(), err)
	}
	return nil
}

func insertAlerts(ctx context.Context, tx *sql.Tx, alerts []aggregation.Alert) error {
	if len(alerts) == 0 {
		return nil
	}
	stmt, err := tx.PrepareContext(ctx, queryInsertAlert)
	if err != nil {
		return transient("prepare alert insert", err)
	}
	defer stmt.Close()

	for _, al := range alerts {
		_, err := stmt.ExecContext(ctx,
			al.ID.String(), al.DealerID, string(al.Type), string(al.Severity),
			al.Message, al.Subject, al.Timestamp.UTC(),
		)
		if err != nil {
			return transient("insert alert", err)
		}
	}
	return nil
}

func (a *AggregateAdapter) Get(ctx context.Context, scope aggregation.Scope) (*aggregation.Record, bool, error) {
	row := a.db.QueryRowContext(ctx, queryGetAggregate,
		string(scope.Kind), scope.DealerID, periodParam(scope.Period), scope.Dimension)

	rec, err := scanRecord(row, scope)
	if errors.Is(err, sql.ErrNoRows) {
		return aggregation.ZeroRecord(scope), false, nil
	}
	if err != nil {
		return nil, false, transient("get "+scope.Key(), err)
	}
	return rec, true, nil
}

func (a *AggregateAdapter) Query(ctx context.Context, f storage.Filter) ([]*aggregation.Record, error) {
	lo, hi := noPeriod, endOfTime
	if f.Kind.Periodic() {
		lo, hi = rangeParams(f.From, f.To)
	}

	rows, err := a.db.QueryContext(ctx, queryAggregates, string(f.Kind), f.DealerID, lo, hi, f.Dimension)
	if err != nil {
		return nil, transient("query aggregates", err)
	}
	defer rows.Close()

	var out []*aggregation.Record
	for rows.Next() {
		var (
			scope     = aggregation.Scope{Kind: f.Kind}
			period    time.Time
			stateJSON []byte
			rec       = &aggregation.Record{}
		)
		if err := rows.Scan(&scope.DealerID, &period, &scope.Dimension, &stateJSON,
			&rec.EventCount, &rec.LastEventID, &rec.UpdatedAt); err != nil {
			return nil, transient("scan aggregate", err)
		}
		scope.Period = periodFromColumn(period)
		rec.Scope = scope
		if err := decodeState(stateJSON, rec); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, transient("iterate aggregates", err)
	}
	return out, nil
}

func (a *AggregateAdapter) LedgerContains(ctx context.Context, eventID uuid.UUID) (bool, error) {
	var exists bool
	if err := a.db.QueryRowContext(ctx, queryLedgerContains, eventID.String()).Scan(&exists); err != nil {
		return false, transient("ledger lookup", err)
	}
	return exists, nil
}

func (a *AggregateAdapter) LedgerAdd(ctx context.Context, eventID uuid.UUID) error {
	var claimed string
	err := a.db.QueryRowContext(ctx, queryClaimEvent, eventID.String(), a.now().UTC()).Scan(&claimed)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.ErrDuplicate
	}
	if err != nil {
		return transient("claim event", err)
	}
	return nil
}

func (a *AggregateAdapter) PruneLedger(ctx context.Context, cutoff time.Time, limit int) (int64, error) {
	res, err := a.db.ExecContext(ctx, queryPruneLedger, cutoff.UTC(), limit)
	if err != nil {
		return 0, transient("prune ledger", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, transient("prune ledger", err)
	}
	return n, nil
}

func (a *AggregateAdapter) SaveAlerts(ctx context.Context, alerts []aggregation.Alert) error {
	if len(alerts) == 0 {
		return nil
	}
	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return transient("begin transaction", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if err := insertAlerts(ctx, tx, alerts); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return transient("commit", err)
	}
	return nil
}

func (a *AggregateAdapter) RecentAlerts(ctx context.Context, dealerID string, limit int) ([]aggregation.Alert, error) {
	if limit <= 0 {
		limit = defaultAlertLimit
	}
	rows, err := a.db.QueryContext(ctx, queryRecentAlerts, dealerID, limit)
	if err != nil {
		return nil, transient("query alerts", err)
	}
	defer rows.Close()

	var out []aggregation.Alert
	for rows.Next() {
		var (
			al       aggregation.Alert
			id       string
			typ, sev string
		)
		if err := rows.Scan(&id, &al.DealerID, &typ, &sev, &al.Message, &al.Subject, &al.Timestamp); err != nil {
			return nil, transient("scan alert", err)
		}
		parsed, err := uuid.Parse(id)
		if err != nil {
			return nil, fmt.Errorf("alert id %q: %w", id, err)
		}
		al.ID = parsed
		al.Type = aggregation.AlertType(typ)
		al.Severity = aggregation.Severity(sev)
		al.Timestamp = al.Timestamp.UTC()
		out = append(out, al)
	}
	if err := rows.Err(); err != nil {
		return nil, transient("iterate alerts", err)
	}
	return out, nil
}
