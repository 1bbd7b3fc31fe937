// internal/infra/database/postgres_investment_repository.go
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"tranche_investor/internal/domain/investment"

	"github.com/lib/pq" // For pq.Array
	"github.com/shopspring/decimal"
)

const cycleColumns = `c.id, c.symbol, c.security_id, c.display_name, c.total_amount, c.start_date::text, c.status, c.created_at, c.updated_at`

const scheduleColumns = `s.id, s.cycle_id, s.week_number, s.execution_date::text, s.execution_time::text, s.amount, s.quantity, s.status, s.created_at, s.updated_at`

const executionColumns = `id, schedule_id, executed_at, amount, status, failure_reason, error_message, ltp, quantity, order_id, correlation_id, created_at`

type PostgresInvestmentRepository struct {
	db *sql.DB
}

func NewPostgresInvestmentRepository(db *sql.DB) *PostgresInvestmentRepository {
	return &PostgresInvestmentRepository{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func persistenceError(op string, err error) error {
	return fmt.Errorf("%w: error %s: %w", investment.ErrPersistence, op, err)
}

func statusStrings[S ~string](statuses []S) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}

// --- InvestmentCycle Methods ---

func (r *PostgresInvestmentRepository) CreateCycle(ctx context.Context, cycle *investment.Cycle, entries []*investment.ScheduleEntry) error {
	txn, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return persistenceError("beginning create cycle transaction", err)
	}
	defer txn.Rollback() // Rollback if not committed

	query := `INSERT INTO investment_cycles (symbol, security_id, display_name, total_amount, start_date, status)
               VALUES ($1, $2, $3, $4, $5, $6)
               RETURNING id, created_at, updated_at`
	err = txn.QueryRowContext(ctx, query,
		cycle.Symbol, cycle.SecurityID, cycle.DisplayName, cycle.TotalAmount,
		cycle.StartDate.Format(investment.DateLayout), cycle.Status,
	).Scan(&cycle.ID, &cycle.CreatedAt, &cycle.UpdatedAt)
	if err != nil {
		return persistenceError("creating investment cycle", err)
	}

	stmt, err := txn.PrepareContext(ctx, `INSERT INTO investment_schedules (cycle_id, week_number, execution_date, execution_time, amount, quantity, status)
                                         VALUES ($1, $2, $3, $4, $5, $6, $7)
                                         RETURNING id, created_at, updated_at`)
	if err != nil {
		return persistenceError("preparing schedule insert", err)
	}
	defer stmt.Close()

	for _, e := range entries {
		e.CycleID = cycle.ID
		err := stmt.QueryRowContext(ctx,
			e.CycleID, e.WeekNumber, e.ExecutionDate.Format(investment.DateLayout), e.ExecutionTime.String(),
			e.Amount, e.Quantity, e.Status,
		).Scan(&e.ID, &e.CreatedAt, &e.UpdatedAt)
		if err != nil {
			return persistenceError(fmt.Sprintf("creating schedule for week %d", e.WeekNumber), err)
		}
	}

	if err := txn.Commit(); err != nil {
		return persistenceError("committing create cycle transaction", err)
	}
	return nil
}

func scanCycle(row rowScanner) (*investment.Cycle, error) {
	c := investment.Cycle{}
	var startDate string
	if err := row.Scan(&c.ID, &c.Symbol, &c.SecurityID, &c.DisplayName, &c.TotalAmount, &startDate, &c.Status, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	d, err := investment.ParseDate(startDate)
	if err != nil {
		return nil, fmt.Errorf("error parsing start date of cycle %d: %w", c.ID, err)
	}
	c.StartDate = d
	return &c, nil
}

func (r *PostgresInvestmentRepository) GetCycleByID(ctx context.Context, id int64) (*investment.Cycle, error) {
	query := `SELECT ` + cycleColumns + ` FROM investment_cycles c WHERE c.id = $1`
	cycle, err := scanCycle(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, investment.ErrCycleNotFound
		}
		return nil, persistenceError("getting investment cycle by ID", err)
	}
	return cycle, nil
}

func (r *PostgresInvestmentRepository) listCycles(ctx context.Context, query string, args ...any) ([]*investment.Cycle, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, persistenceError("querying investment cycles", err)
	}
	defer rows.Close()

	cycles := make([]*investment.Cycle, 0)
	for rows.Next() {
		c, err := scanCycle(rows)
		if err != nil {
			return nil, persistenceError("scanning investment cycle row", err)
		}
		cycles = append(cycles, c)
	}
	if err := rows.Err(); err != nil {
		return nil, persistenceError("iterating investment cycle rows", err)
	}
	return cycles, nil
}

func (r *PostgresInvestmentRepository) ListCycles(ctx context.Context) ([]*investment.Cycle, error) {
	return r.listCycles(ctx, `SELECT `+cycleColumns+` FROM investment_cycles c ORDER BY c.id`)
}

func (r *PostgresInvestmentRepository) ListCyclesBySymbol(ctx context.Context, symbol string) ([]*investment.Cycle, error) {
	return r.listCycles(ctx, `SELECT `+cycleColumns+` FROM investment_cycles c WHERE c.symbol = $1 ORDER BY c.id`, symbol)
}

func (r *PostgresInvestmentRepository) UpdateCycleStatus(ctx context.Context, id int64, status investment.CycleStatus) error {
	query := `UPDATE investment_cycles SET status = $1, updated_at = NOW() WHERE id = $2`
	result, err := r.db.ExecContext(ctx, query, status, id)
	if err != nil {
		return persistenceError("updating investment cycle status", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return persistenceError("getting rows affected for cycle status update", err)
	}
	if rowsAffected == 0 {
		return investment.ErrCycleNotFound
	}
	return nil
}

// --- ScheduleEntry Methods ---

func scanSchedule(row rowScanner) (*investment.ScheduleEntry, error) {
	e := investment.ScheduleEntry{}
	var date, clock string
	if err := row.Scan(&e.ID, &e.CycleID, &e.WeekNumber, &date, &clock, &e.Amount, &e.Quantity, &e.Status, &e.CreatedAt, &e.UpdatedAt); err != nil {
		return nil, err
	}
	d, err := investment.ParseDate(date)
	if err != nil {
		return nil, fmt.Errorf("error parsing execution date of schedule %d: %w", e.ID, err)
	}
	t, err := investment.ParseClockTime(clock)
	if err != nil {
		return nil, fmt.Errorf("error parsing execution time of schedule %d: %w", e.ID, err)
	}
	e.ExecutionDate = d
	e.ExecutionTime = t
	return &e, nil
}

func (r *PostgresInvestmentRepository) GetScheduleByID(ctx context.Context, id int64) (*investment.ScheduleEntry, error) {
	query := `SELECT ` + scheduleColumns + ` FROM investment_schedules s WHERE s.id = $1`
	entry, err := scanSchedule(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, investment.ErrScheduleNotFound
		}
		return nil, persistenceError("getting investment schedule by ID", err)
	}
	return entry, nil
}

func (r *PostgresInvestmentRepository) listSchedules(ctx context.Context, query string, args ...any) ([]*investment.ScheduleEntry, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, persistenceError("querying investment schedules", err)
	}
	defer rows.Close()

	entries := make([]*investment.ScheduleEntry, 0)
	for rows.Next() {
		e, err := scanSchedule(rows)
		if err != nil {
			return nil, persistenceError("scanning investment schedule row", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, persistenceError("iterating investment schedule rows", err)
	}
	return entries, nil
}

func (r *PostgresInvestmentRepository) ListSchedulesByCycle(ctx context.Context, cycleID int64) ([]*investment.ScheduleEntry, error) {
	query := `SELECT ` + scheduleColumns + ` FROM investment_schedules s WHERE s.cycle_id = $1 ORDER BY s.week_number`
	return r.listSchedules(ctx, query, cycleID)
}

func (r *PostgresInvestmentRepository) ListPendingSchedules(ctx context.Context, cycleStatuses ...investment.CycleStatus) ([]*investment.ScheduleEntry, error) {
	query := `SELECT ` + scheduleColumns + `
               FROM investment_schedules s
               JOIN investment_cycles c ON c.id = s.cycle_id
               WHERE s.status = $1 AND c.status = ANY($2::varchar[])
               ORDER BY s.execution_date, s.execution_time, s.id`
	return r.listSchedules(ctx, query, investment.ScheduleStatusPending, pq.Array(statusStrings(cycleStatuses)))
}

// scheduleConflict tells a missing row apart from a row in the wrong status after a guarded update matched nothing.
func scheduleConflict(ctx context.Context, q interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}, id int64) error {
	var status investment.ScheduleStatus
	err := q.QueryRowContext(ctx, `SELECT status FROM investment_schedules WHERE id = $1`, id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return investment.ErrScheduleNotFound
	}
	if err != nil {
		return persistenceError("checking investment schedule status", err)
	}
	return fmt.Errorf("schedule %d is %s: %w", id, status, investment.ErrNotExecutable)
}

func (r *PostgresInvestmentRepository) TransitionSchedule(ctx context.Context, id int64, to investment.ScheduleStatus, from ...investment.ScheduleStatus) error {
	query := `UPDATE investment_schedules SET status = $1, updated_at = NOW()
               WHERE id = $2 AND status = ANY($3::varchar[])`
	result, err := r.db.ExecContext(ctx, query, to, id, pq.Array(statusStrings(from)))
	if err != nil {
		return persistenceError("transitioning investment schedule", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return persistenceError("getting rows affected for schedule transition", err)
	}
	if rowsAffected == 0 {
		return scheduleConflict(ctx, r.db, id)
	}
	return nil
}

func (r *PostgresInvestmentRepository) UpdateSchedule(ctx context.Context, entry *investment.ScheduleEntry) (decimal.Decimal, error) {
	txn, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return decimal.Zero, persistenceError("beginning update schedule transaction", err)
	}
	defer txn.Rollback()

	query := `UPDATE investment_schedules
               SET amount = $1, execution_date = $2, execution_time = $3, updated_at = NOW()
               WHERE id = $4
               RETURNING cycle_id, updated_at`
	err = txn.QueryRowContext(ctx, query,
		entry.Amount, entry.ExecutionDate.Format(investment.DateLayout), entry.ExecutionTime.String(), entry.ID,
	).Scan(&entry.CycleID, &entry.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return decimal.Zero, investment.ErrScheduleNotFound
		}
		return decimal.Zero, persistenceError("updating investment schedule", err)
	}

	var total decimal.Decimal
	err = txn.QueryRowContext(ctx, `UPDATE investment_cycles
               SET total_amount = (SELECT SUM(amount) FROM investment_schedules WHERE cycle_id = $1), updated_at = NOW()
               WHERE id = $1
               RETURNING total_amount`, entry.CycleID).Scan(&total)
	if err != nil {
		return decimal.Zero, persistenceError("recomputing investment cycle total", err)
	}

	if err := txn.Commit(); err != nil {
		return decimal.Zero, persistenceError("committing update schedule transaction", err)
	}
	return total, nil
}

// --- ExecutionRecord Methods ---

func (r *PostgresInvestmentRepository) RecordExecution(ctx context.Context, entry *investment.ScheduleEntry, record *investment.ExecutionRecord) (bool, error) {
	txn, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, persistenceError("beginning record execution transaction", err)
	}
	defer txn.Rollback()

	err = txn.QueryRowContext(ctx, `UPDATE investment_schedules
               SET status = $1, quantity = $2, updated_at = NOW()
               WHERE id = $3 AND status = ANY($4::varchar[])
               RETURNING cycle_id, updated_at`,
		entry.Status, entry.Quantity, entry.ID, pq.Array(statusStrings(investment.ExecutableStatuses)),
	).Scan(&entry.CycleID, &entry.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, scheduleConflict(ctx, txn, entry.ID)
		}
		return false, persistenceError("updating schedule outcome", err)
	}

	query := `INSERT INTO execution_history (schedule_id, executed_at, amount, status, failure_reason, error_message, ltp, quantity, order_id, correlation_id)
               VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
               RETURNING id, created_at`
	err = txn.QueryRowContext(ctx, query,
		record.ScheduleID, record.ExecutedAt, record.Amount, record.Status, record.Reason, record.ErrorMessage,
		record.LTP, record.Quantity, record.OrderID, record.CorrelationID,
	).Scan(&record.ID, &record.CreatedAt)
	if err != nil {
		return false, persistenceError("inserting execution record", err)
	}

	completed := false
	if entry.Status == investment.ScheduleStatusExecuted {
		var executed int
		err = txn.QueryRowContext(ctx, `SELECT COUNT(*) FROM investment_schedules WHERE cycle_id = $1 AND status = $2`,
			entry.CycleID, investment.ScheduleStatusExecuted).Scan(&executed)
		if err != nil {
			return false, persistenceError("counting executed schedules", err)
		}
		if executed == investment.WeeksPerCycle {
			_, err = txn.ExecContext(ctx, `UPDATE investment_cycles SET status = $1, updated_at = NOW() WHERE id = $2`,
				investment.CycleStatusCompleted, entry.CycleID)
			if err != nil {
				return false, persistenceError("completing investment cycle", err)
			}
			completed = true
		}
	}

	if err := txn.Commit(); err != nil {
		return false, persistenceError("committing record execution transaction", err)
	}
	return completed, nil
}

func (r *PostgresInvestmentRepository) ListExecutions(ctx context.Context, scheduleID int64) ([]*investment.ExecutionRecord, error) {
	query := `SELECT ` + executionColumns + ` FROM execution_history WHERE schedule_id = $1 ORDER BY executed_at, id`
	rows, err := r.db.QueryContext(ctx, query, scheduleID)
	if err != nil {
		return nil, persistenceError("querying execution history", err)
	}
	defer rows.Close()

	records := make([]*investment.ExecutionRecord, 0)
	for rows.Next() {
		rec := investment.ExecutionRecord{}
		if err := rows.Scan(
			&rec.ID, &rec.ScheduleID, &rec.ExecutedAt, &rec.Amount, &rec.Status, &rec.Reason,
			&rec.ErrorMessage, &rec.LTP, &rec.Quantity, &rec.OrderID, &rec.CorrelationID, &rec.CreatedAt,
		); err != nil {
			return nil, persistenceError("scanning execution record row", err)
		}
		records = append(records, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, persistenceError("iterating execution record rows", err)
	}
	return records, nil
}
