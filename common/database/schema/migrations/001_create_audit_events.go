package migrations

import "digitaltwin/common/database/schema"

var CreateAuditEventsTable = schema.Migration{
	Version:     1,
	Description: "Create audit_events table",
	Up: `
		CREATE TABLE IF NOT EXISTS audit_events (
			id UUID,
			event_type LowCardinality(String),
			casting_call_id UUID,
			actor_id String,
			metadata Map(String, String),
			created_at DateTime64(3, 'UTC')
		) ENGINE = MergeTree()
		PARTITION BY toYYYYMM(created_at)
		ORDER BY (casting_call_id, created_at, id)
		SETTINGS index_granularity = 8192
	`,
	Down: `DROP TABLE IF EXISTS audit_events`,
}
