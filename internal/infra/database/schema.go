package database

import (
	"context"
	"database/sql"
	"fmt"
)

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS investment_cycles (
		id           BIGSERIAL PRIMARY KEY,
		symbol       VARCHAR(50)   NOT NULL,
		security_id  VARCHAR(32)   NOT NULL,
		display_name VARCHAR(255)  NOT NULL DEFAULT '',
		total_amount NUMERIC(15,2) NOT NULL CHECK (total_amount > 0),
		start_date   DATE          NOT NULL,
		status       VARCHAR(20)   NOT NULL DEFAULT 'active' CHECK (status IN ('active', 'paused', 'completed')),
		created_at   TIMESTAMPTZ   NOT NULL DEFAULT NOW(),
		updated_at   TIMESTAMPTZ   NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_investment_cycles_symbol ON investment_cycles (symbol)`,
	`CREATE TABLE IF NOT EXISTS investment_schedules (
		id             BIGSERIAL PRIMARY KEY,
		cycle_id       BIGINT        NOT NULL REFERENCES investment_cycles (id),
		week_number    SMALLINT      NOT NULL CHECK (week_number BETWEEN 1 AND 5),
		execution_date DATE          NOT NULL,
		execution_time TIME          NOT NULL,
		amount         NUMERIC(15,2) NOT NULL CHECK (amount > 0),
		quantity       BIGINT        NOT NULL DEFAULT 0 CHECK (quantity >= 0),
		status         VARCHAR(20)   NOT NULL DEFAULT 'pending'
			CHECK (status IN ('pending', 'executed', 'failed', 'skipped', 'expired')),
		created_at     TIMESTAMPTZ   NOT NULL DEFAULT NOW(),
		updated_at     TIMESTAMPTZ   NOT NULL DEFAULT NOW(),
		CONSTRAINT investment_schedules_cycle_week_unique UNIQUE (cycle_id, week_number)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_investment_schedules_status ON investment_schedules (status)`,
	`CREATE TABLE IF NOT EXISTS execution_history (
		id             BIGSERIAL PRIMARY KEY,
		schedule_id    BIGINT        NOT NULL REFERENCES investment_schedules (id),
		executed_at    TIMESTAMPTZ   NOT NULL,
		amount         NUMERIC(15,2) NOT NULL,
		status         VARCHAR(20)   NOT NULL CHECK (status IN ('success', 'failed')),
		failure_reason VARCHAR(40)   NOT NULL DEFAULT '',
		error_message  TEXT,
		ltp            NUMERIC(15,4) NOT NULL DEFAULT 0,
		quantity       BIGINT        NOT NULL DEFAULT 0,
		order_id       VARCHAR(64)   NOT NULL DEFAULT '',
		correlation_id VARCHAR(64)   NOT NULL DEFAULT '',
		created_at     TIMESTAMPTZ   NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_execution_history_schedule ON execution_history (schedule_id)`,
}

// EnsureSchema creates the tables and indexes if they do not exist yet.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	txn, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin schema transaction: %w", err)
	}
	defer txn.Rollback()

	for _, stmt := range schemaStatements {
		if _, err := txn.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema statement: %w", err)
		}
	}
	return txn.Commit()
}
