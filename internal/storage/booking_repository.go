package storage

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/jorgekeles/sistema-barberia/internal/db"
	"github.com/jorgekeles/sistema-barberia/internal/model"
)

// BookingRepository owns appointments and their idempotency keys. Conflict
// detection rides on the appointments_no_overlap exclusion constraint; a
// violation surfaces as IsConflict.
type BookingRepository struct {
	pool *db.Pool
}

type IdempotencyRecord struct {
	TenantID        string
	IdempotencyKey  string
	AppointmentID   string
	StatusCode      int
	ResponsePayload []byte
}

func NewBookingRepository(pool *db.Pool) *BookingRepository {
	return &BookingRepository{pool: pool}
}

func (r *BookingRepository) Begin(ctx context.Context) (pgx.Tx, error) {
	return r.pool.Begin(ctx)
}

// GetIdempotency is the cheap pre-transaction read. A finalized record lets
// the handler replay the stored response without touching the booking path.
func (r *BookingRepository) GetIdempotency(ctx context.Context, tenantID, key string) (IdempotencyRecord, bool, error) {
	var rec IdempotencyRecord
	var responseText string
	err := r.pool.QueryRow(ctx, `
		SELECT tenant_id::text,
			idempotency_key,
			COALESCE(appointment_id::text, ''),
			COALESCE(status_code, 0),
			COALESCE(response_payload::text, '')
		FROM booking_idempotency_keys
		WHERE tenant_id = $1 AND idempotency_key = $2
	`, tenantID, key).Scan(
		&rec.TenantID,
		&rec.IdempotencyKey,
		&rec.AppointmentID,
		&rec.StatusCode,
		&responseText,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return IdempotencyRecord{}, false, nil
		}
		return IdempotencyRecord{}, false, err
	}
	if responseText != "" {
		rec.ResponsePayload = []byte(responseText)
	}
	return rec, true, nil
}

// LockIdempotencyKey claims the key inside the booking transaction. The second
// return value reports whether the key already existed; a concurrent claimant
// blocks on the row lock until the first transaction settles.
func (r *BookingRepository) LockIdempotencyKey(ctx context.Context, tx pgx.Tx, tenantID, key string) (IdempotencyRecord, bool, error) {
	rec, err := r.selectIdempotencyForUpdate(ctx, tx, tenantID, key)
	if err == nil {
		return rec, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return IdempotencyRecord{}, false, err
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO booking_idempotency_keys (tenant_id, idempotency_key)
		VALUES ($1, $2)
		ON CONFLICT (tenant_id, idempotency_key) DO NOTHING
	`, tenantID, key)
	if err != nil {
		return IdempotencyRecord{}, false, err
	}

	rec, err = r.selectIdempotencyForUpdate(ctx, tx, tenantID, key)
	if err != nil {
		return IdempotencyRecord{}, false, err
	}
	return rec, false, nil
}

func (r *BookingRepository) FinalizeIdempotency(ctx context.Context, tx pgx.Tx, tenantID, key, appointmentID string, statusCode int, response []byte) error {
	_, err := tx.Exec(ctx, `
		UPDATE booking_idempotency_keys
		SET appointment_id = $3,
			status_code = $4,
			response_payload = $5,
			updated_at = now()
		WHERE tenant_id = $1 AND idempotency_key = $2
	`, tenantID, key, appointmentID, statusCode, response)
	return err
}

const appointmentColumns = `
	id::text, tenant_id::text, staff_user_id::text, service_id::text,
	start_at, end_at, status, customer_name, customer_phone,
	COALESCE(customer_email, ''), COALESCE(notes, ''), COALESCE(idempotency_key, ''),
	canceled_at, COALESCE(cancel_reason, ''), created_at, deleted_at
`

func (r *BookingRepository) Insert(ctx context.Context, tx pgx.Tx, appt *model.Appointment) (string, error) {
	var id string
	err := tx.QueryRow(ctx, `
		INSERT INTO appointments
			(tenant_id, staff_user_id, service_id, start_at, end_at, status,
			 customer_name, customer_phone, customer_email, notes, idempotency_key)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NULLIF($9, ''), NULLIF($10, ''), $11)
		RETURNING id
	`, appt.TenantID, appt.StaffUserID, appt.ServiceID, appt.StartAt, appt.EndAt, appt.Status,
		appt.CustomerName, appt.CustomerPhone, appt.CustomerEmail, appt.Notes, appt.IdempotencyKey).Scan(&id)
	if err != nil {
		return "", err
	}
	return id, nil
}

func (r *BookingRepository) GetForUpdate(ctx context.Context, tx pgx.Tx, tenantID, appointmentID string) (model.Appointment, error) {
	row := tx.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1 AND tenant_id = $2 AND deleted_at IS NULL
		FOR UPDATE
	`, appointmentID, tenantID)
	return scanAppointment(row)
}

func (r *BookingRepository) Get(ctx context.Context, tenantID, appointmentID string) (model.Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1 AND tenant_id = $2 AND deleted_at IS NULL
	`, appointmentID, tenantID)
	return scanAppointment(row)
}

// FindForManage locates a confirmed appointment by id, matching the customer
// phone stored on the row.
func (r *BookingRepository) FindForManage(ctx context.Context, tx pgx.Tx, tenantID, appointmentID, phoneDigits string) (model.Appointment, error) {
	row := tx.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1 AND tenant_id = $2
			AND regexp_replace(customer_phone, '\D', '', 'g') = $3
			AND deleted_at IS NULL
		FOR UPDATE
	`, appointmentID, tenantID, phoneDigits)
	return scanAppointment(row)
}

func (r *BookingRepository) Cancel(ctx context.Context, tx pgx.Tx, tenantID, appointmentID, reason string) (time.Time, error) {
	var canceledAt time.Time
	err := tx.QueryRow(ctx, `
		UPDATE appointments
		SET status = 'canceled',
			canceled_at = now(),
			cancel_reason = NULLIF($3, '')
		WHERE id = $1 AND tenant_id = $2 AND status = 'confirmed' AND deleted_at IS NULL
		RETURNING canceled_at
	`, appointmentID, tenantID, reason).Scan(&canceledAt)
	return canceledAt, err
}

func (r *BookingRepository) MarkNoShow(ctx context.Context, tx pgx.Tx, tenantID, appointmentID string) error {
	tag, err := tx.Exec(ctx, `
		UPDATE appointments
		SET status = 'no_show'
		WHERE id = $1 AND tenant_id = $2 AND status = 'confirmed' AND deleted_at IS NULL
	`, appointmentID, tenantID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// UpdateInterval moves a confirmed appointment to a new footprint. The
// exclusion constraint re-checks the new range on commit.
func (r *BookingRepository) UpdateInterval(ctx context.Context, tx pgx.Tx, tenantID, appointmentID string, startAt, endAt time.Time, staffUserID *string) error {
	tag, err := tx.Exec(ctx, `
		UPDATE appointments
		SET start_at = $3,
			end_at = $4,
			staff_user_id = $5
		WHERE id = $1 AND tenant_id = $2 AND status = 'confirmed' AND deleted_at IS NULL
	`, appointmentID, tenantID, startAt, endAt, staffUserID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// ListBookedIntervals returns confirmed footprints overlapping [start, end).
// With staffUserID nil it returns every confirmed row of the tenant.
func (r *BookingRepository) ListBookedIntervals(ctx context.Context, tenantID string, staffUserID *string, start, end time.Time) ([]model.Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE tenant_id = $1
			AND ($2::uuid IS NULL OR staff_user_id = $2 OR staff_user_id IS NULL)
			AND status = 'confirmed'
			AND deleted_at IS NULL
			AND start_at < $4
			AND end_at > $3
		ORDER BY start_at ASC
	`, tenantID, staffUserID, start, end)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectAppointments(rows)
}

// ListByPhone powers the customer lookup: upcoming and very recent
// appointments matching the normalized phone, oldest first.
func (r *BookingRepository) ListByPhone(ctx context.Context, tenantID, phoneDigits string, now time.Time) ([]model.Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE tenant_id = $1
			AND regexp_replace(customer_phone, '\D', '', 'g') = $2
			AND status = 'confirmed'
			AND deleted_at IS NULL
			AND end_at >= $3
		ORDER BY start_at ASC
		LIMIT 20
	`, tenantID, phoneDigits, now.Add(-2*time.Hour))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectAppointments(rows)
}

func (r *BookingRepository) ListByTenant(ctx context.Context, tenantID string, from, to time.Time, limit int) ([]model.Appointment, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE tenant_id = $1
			AND deleted_at IS NULL
			AND start_at < $3
			AND end_at > $2
		ORDER BY start_at ASC
		LIMIT $4
	`, tenantID, from, to, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectAppointments(rows)
}

func IsConflict(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23P01"
}

func IsNotFound(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

func (r *BookingRepository) selectIdempotencyForUpdate(ctx context.Context, tx pgx.Tx, tenantID, key string) (IdempotencyRecord, error) {
	var rec IdempotencyRecord
	var responseText string
	err := tx.QueryRow(ctx, `
		SELECT tenant_id::text,
			idempotency_key,
			COALESCE(appointment_id::text, ''),
			COALESCE(status_code, 0),
			COALESCE(response_payload::text, '')
		FROM booking_idempotency_keys
		WHERE tenant_id = $1 AND idempotency_key = $2
		FOR UPDATE
	`, tenantID, key).Scan(
		&rec.TenantID,
		&rec.IdempotencyKey,
		&rec.AppointmentID,
		&rec.StatusCode,
		&responseText,
	)
	if err != nil {
		return IdempotencyRecord{}, err
	}
	if responseText != "" {
		rec.ResponsePayload = []byte(responseText)
	}
	return rec, nil
}

func scanAppointment(row pgx.Row) (model.Appointment, error) {
	var appt model.Appointment
	var staffID *string
	var canceledAt, deletedAt *time.Time
	err := row.Scan(
		&appt.ID,
		&appt.TenantID,
		&staffID,
		&appt.ServiceID,
		&appt.StartAt,
		&appt.EndAt,
		&appt.Status,
		&appt.CustomerName,
		&appt.CustomerPhone,
		&appt.CustomerEmail,
		&appt.Notes,
		&appt.IdempotencyKey,
		&canceledAt,
		&appt.CancelReason,
		&appt.CreatedAt,
		&deletedAt,
	)
	if err != nil {
		return model.Appointment{}, err
	}
	appt.StaffUserID = staffID
	appt.CanceledAt = canceledAt
	appt.DeletedAt = deletedAt
	return appt, nil
}

func collectAppointments(rows pgx.Rows) ([]model.Appointment, error) {
	var appts []model.Appointment
	for rows.Next() {
		appt, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		appts = append(appts, appt)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return appts, nil
}
