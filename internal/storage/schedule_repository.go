package storage

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/jorgekeles/sistema-barberia/internal/db"
	"github.com/jorgekeles/sistema-barberia/internal/model"
)

// ScheduleRepository stores availability rules and exceptions. Writes bump the
// business schedule_version in the same transaction so cached slot pages go
// stale immediately.
type ScheduleRepository struct {
	pool       *db.Pool
	businesses *BusinessRepository
}

func NewScheduleRepository(pool *db.Pool, businesses *BusinessRepository) *ScheduleRepository {
	return &ScheduleRepository{pool: pool, businesses: businesses}
}

const ruleColumns = `
	id::text, tenant_id::text, staff_user_id::text, day_of_week,
	to_char(start_local, 'HH24:MI'), to_char(end_local, 'HH24:MI'),
	slot_step_min, valid_from, valid_to, is_active, created_at
`

// ListRules returns the tenant-wide rules plus, when staffUserID is set, that
// staff member's rules.
func (r *ScheduleRepository) ListRules(ctx context.Context, tenantID string, staffUserID *string) ([]model.AvailabilityRule, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+ruleColumns+`
		FROM availability_rules
		WHERE tenant_id = $1
			AND is_active
			AND (staff_user_id IS NULL OR staff_user_id = $2)
		ORDER BY day_of_week, start_local
	`, tenantID, staffUserID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.AvailabilityRule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rule)
	}
	return out, rows.Err()
}

func (r *ScheduleRepository) ListAllRules(ctx context.Context, tenantID string) ([]model.AvailabilityRule, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+ruleColumns+`
		FROM availability_rules
		WHERE tenant_id = $1 AND is_active
		ORDER BY day_of_week, start_local
	`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.AvailabilityRule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rule)
	}
	return out, rows.Err()
}

func (r *ScheduleRepository) CreateRule(ctx context.Context, rule model.AvailabilityRule) (model.AvailabilityRule, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return model.AvailabilityRule{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	row := tx.QueryRow(ctx, `
		INSERT INTO availability_rules
			(tenant_id, staff_user_id, day_of_week, start_local, end_local, slot_step_min, valid_from, valid_to)
		VALUES ($1, $2, $3, $4::time, $5::time, $6, COALESCE($7::date, CURRENT_DATE), $8)
		RETURNING `+ruleColumns+`
	`, rule.TenantID, rule.StaffUserID, rule.DayOfWeek, rule.StartLocal, rule.EndLocal,
		rule.SlotStepMin, nullTime(rule.ValidFrom), rule.ValidTo)
	created, err := scanRule(row)
	if err != nil {
		return model.AvailabilityRule{}, err
	}

	if err := r.businesses.BumpScheduleVersion(ctx, tx, rule.TenantID); err != nil {
		return model.AvailabilityRule{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return model.AvailabilityRule{}, err
	}
	return created, nil
}

const exceptionColumns = `
	id::text, tenant_id::text, staff_user_id::text, exception_date, kind,
	COALESCE(to_char(start_local, 'HH24:MI'), ''), COALESCE(to_char(end_local, 'HH24:MI'), ''),
	COALESCE(reason, ''), priority, created_at
`

// ListExceptions returns the tenant-wide exceptions plus, when staffUserID is
// set, that staff member's, within the date range.
func (r *ScheduleRepository) ListExceptions(ctx context.Context, tenantID string, from, to time.Time, staffUserID *string) ([]model.AvailabilityException, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+exceptionColumns+`
		FROM availability_exceptions
		WHERE tenant_id = $1
			AND exception_date BETWEEN $2::date AND $3::date
			AND (staff_user_id IS NULL OR staff_user_id = $4)
		ORDER BY exception_date, priority DESC
	`, tenantID, from, to, staffUserID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.AvailabilityException
	for rows.Next() {
		exc, err := scanException(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, exc)
	}
	return out, rows.Err()
}

func (r *ScheduleRepository) ListAllExceptions(ctx context.Context, tenantID string, from, to time.Time) ([]model.AvailabilityException, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+exceptionColumns+`
		FROM availability_exceptions
		WHERE tenant_id = $1 AND exception_date BETWEEN $2::date AND $3::date
		ORDER BY exception_date, priority DESC
	`, tenantID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.AvailabilityException
	for rows.Next() {
		exc, err := scanException(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, exc)
	}
	return out, rows.Err()
}

func (r *ScheduleRepository) CreateException(ctx context.Context, exc model.AvailabilityException) (model.AvailabilityException, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return model.AvailabilityException{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	row := tx.QueryRow(ctx, `
		INSERT INTO availability_exceptions
			(tenant_id, staff_user_id, exception_date, kind, start_local, end_local, reason, priority)
		VALUES ($1, $2, $3::date, $4, NULLIF($5, '')::time, NULLIF($6, '')::time, NULLIF($7, ''), $8)
		RETURNING `+exceptionColumns+`
	`, exc.TenantID, exc.StaffUserID, exc.ExceptionDate, exc.Kind, exc.StartLocal, exc.EndLocal,
		exc.Reason, exc.Priority)
	created, err := scanException(row)
	if err != nil {
		return model.AvailabilityException{}, err
	}

	if err := r.businesses.BumpScheduleVersion(ctx, tx, exc.TenantID); err != nil {
		return model.AvailabilityException{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return model.AvailabilityException{}, err
	}
	return created, nil
}

func scanRule(row pgx.Row) (model.AvailabilityRule, error) {
	var rule model.AvailabilityRule
	var staffID *string
	var validTo *time.Time
	err := row.Scan(
		&rule.ID,
		&rule.TenantID,
		&staffID,
		&rule.DayOfWeek,
		&rule.StartLocal,
		&rule.EndLocal,
		&rule.SlotStepMin,
		&rule.ValidFrom,
		&validTo,
		&rule.IsActive,
		&rule.CreatedAt,
	)
	if err != nil {
		return model.AvailabilityRule{}, err
	}
	rule.StaffUserID = staffID
	rule.ValidTo = validTo
	return rule, nil
}

func scanException(row pgx.Row) (model.AvailabilityException, error) {
	var exc model.AvailabilityException
	var staffID *string
	err := row.Scan(
		&exc.ID,
		&exc.TenantID,
		&staffID,
		&exc.ExceptionDate,
		&exc.Kind,
		&exc.StartLocal,
		&exc.EndLocal,
		&exc.Reason,
		&exc.Priority,
		&exc.CreatedAt,
	)
	if err != nil {
		return model.AvailabilityException{}, err
	}
	exc.StaffUserID = staffID
	return exc, nil
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
