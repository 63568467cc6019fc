package postgres

// SQL for the aggregate store, processed-event ledger and alerts.

const (
	// queryClaimEvent records an event id in the ledger.
	// ON CONFLICT DO NOTHING returns no rows (sql.ErrNoRows) for duplicates;
	// a concurrent claim of the same id blocks on the primary key until the
	// first transaction commits or rolls back.
	queryClaimEvent = `
		INSERT INTO report_ledger (event_id, processed_at)
		VALUES ($1, $2)
		ON CONFLICT (event_id) DO NOTHING
		RETURNING event_id
	`

	queryLedgerContains = `SELECT EXISTS (SELECT 1 FROM report_ledger WHERE event_id = $1)`

	// queryPruneLedger deletes one bounded batch of the oldest expired entries.
	queryPruneLedger = `
		DELETE FROM report_ledger
		WHERE event_id IN (
			SELECT event_id
			FROM report_ledger
			WHERE processed_at < $1
			ORDER BY processed_at ASC
			LIMIT $2
		)
	`

	queryInitAggregateRow = `
		INSERT INTO report_aggregates (
			kind, dealer_id, period_start, dimension, partition_id,
			state, event_count, last_event_id, updated_at
		) VALUES ($1, $2, $3, $4, $5, '{}', 0, '', $6)
		ON CONFLICT (kind, dealer_id, period_start, dimension) DO NOTHING
	`

	querySelectAggregateForUpdate = `
		SELECT state, event_count, last_event_id, updated_at
		FROM report_aggregates
		WHERE kind = $1 AND dealer_id = $2 AND period_start = $3 AND dimension = $4
		FOR UPDATE
	`

	queryUpsertAggregate = `
		INSERT INTO report_aggregates (
			kind, dealer_id, period_start, dimension, partition_id,
			state, event_count, last_event_id, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (kind, dealer_id, period_start, dimension)
		DO UPDATE SET
			state         = EXCLUDED.state,
			event_count   = EXCLUDED.event_count,
			last_event_id = EXCLUDED.last_event_id,
			updated_at    = EXCLUDED.updated_at
	`

	queryGetAggregate = `
		SELECT state, event_count, last_event_id, updated_at
		FROM report_aggregates
		WHERE kind = $1 AND dealer_id = $2 AND period_start = $3 AND dimension = $4
	`

	// queryAggregates lists one kind; empty dealer or dimension matches all.
	queryAggregates = `
		SELECT dealer_id, period_start, dimension, state, event_count, last_event_id, updated_at
		FROM report_aggregates
		WHERE kind = $1
		  AND ($2 = '' OR dealer_id = $2)
		  AND period_start >= $3
		  AND period_start < $4
		  AND ($5 = '' OR dimension = $5)
		ORDER BY period_start ASC, dealer_id ASC, dimension ASC
	`

	queryInsertAlert = `
		INSERT INTO report_alerts (id, dealer_id, type, severity, message, subject, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO NOTHING
	`

	queryRecentAlerts = `
		SELECT id, dealer_id, type, severity, message, subject, created_at
		FROM report_alerts
		WHERE ($1 = '' OR dealer_id = $1)
		ORDER BY created_at DESC, id ASC
		LIMIT $2
	`
)
