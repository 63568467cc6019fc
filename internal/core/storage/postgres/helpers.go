package postgres

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/aevon-lab/report-core/internal/core/aggregation"
	coreerrors "github.com/aevon-lab/report-core/internal/core/errors"
)

var (
	// noPeriod is stored for kinds without a period; period_start is part of the primary key.
	noPeriod = time.Date(1, time.January, 1, 0, 0, 0, 0, time.UTC)
	// endOfTime bounds open-ended range queries.
	endOfTime = time.Date(9999, time.December, 31, 0, 0, 0, 0, time.UTC)
)

// periodParam converts a scope period to its stored DATE value.
func periodParam(t time.Time) time.Time {
	if t.IsZero() {
		return noPeriod
	}
	return aggregation.Day(t)
}

// periodFromColumn maps the stored DATE back to a scope period.
func periodFromColumn(t time.Time) time.Time {
	t = t.UTC()
	if t.Year() <= 1 {
		return time.Time{}
	}
	return aggregation.Day(t)
}

// rangeParams converts a filter range to inclusive/exclusive DATE bounds.
func rangeParams(from, to time.Time) (time.Time, time.Time) {
	lo, hi := noPeriod, endOfTime
	if !from.IsZero() {
		lo = aggregation.Day(from)
	}
	if !to.IsZero() {
		hi = to.UTC()
	}
	return lo, hi
}

// marshalState encodes record state for the JSONB column.
func marshalState(rec *aggregation.Record) ([]byte, error) {
	data, err := json.Marshal(rec.State)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal state: %w", err)
	}
	return data, nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

// scanRecord scans the state columns of one row into a record for scope.
// Compatible with both sql.Row (single) and sql.Rows (multiple).
func scanRecord(row scanner, scope aggregation.Scope) (*aggregation.Record, error) {
	rec := &aggregation.Record{Scope: scope}
	var stateJSON []byte
	if err := row.Scan(&stateJSON, &rec.EventCount, &rec.LastEventID, &rec.UpdatedAt); err != nil {
		return nil, err
	}
	if err := decodeState(stateJSON, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

func decodeState(data []byte, rec *aggregation.Record) error {
	if len(data) > 0 {
		if err := json.Unmarshal(data, &rec.State); err != nil {
			return fmt.Errorf("failed to unmarshal state of %s: %w", rec.Scope.Key(), err)
		}
	}
	rec.UpdatedAt = rec.UpdatedAt.UTC()
	rec.Normalize()
	return nil
}

// transient marks a database failure as retryable.
func transient(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, coreerrors.ErrTransientStore, err)
}
