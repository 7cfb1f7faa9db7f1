package migrations

import "digitaltwin/common/database/schema"

var CreateDeadLettersTable = schema.Migration{
	Version:     2,
	Description: "Create dead_letters table",
	Up: `
		CREATE TABLE IF NOT EXISTS dead_letters (
			id UUID,
			kind LowCardinality(String),
			job_id String,
			job_name LowCardinality(String),
			original_job String,
			error String,
			failed_at DateTime64(3, 'UTC')
		) ENGINE = MergeTree()
		ORDER BY (kind, failed_at, id)
		SETTINGS index_granularity = 8192
	`,
	Down: `DROP TABLE IF EXISTS dead_letters`,
}

// All lists the ClickHouse migrations in version order.
func All() []schema.Migration {
	return []schema.Migration{
		CreateAuditEventsTable,
		CreateDeadLettersTable,
	}
}
