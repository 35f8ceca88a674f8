package storage

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/jorgekeles/sistema-barberia/internal/db"
	"github.com/jorgekeles/sistema-barberia/internal/model"
)

// BusinessRepository reads tenant configuration. Every query is keyed by
// tenant_id or slug; there is no unscoped accessor.
type BusinessRepository struct {
	pool *db.Pool
}

func NewBusinessRepository(pool *db.Pool) *BusinessRepository {
	return &BusinessRepository{pool: pool}
}

const businessColumns = `
	tenant_id::text, slug, name, timezone, schedule_version,
	public_booking_enabled, block_public_on_billing_issue, trial_ends_at, created_at, deleted_at
`

func (r *BusinessRepository) GetBySlug(ctx context.Context, slug string) (model.Business, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+businessColumns+`
		FROM businesses
		WHERE slug = $1 AND deleted_at IS NULL
		LIMIT 1
	`, slug)
	return scanBusiness(row)
}

func (r *BusinessRepository) GetByTenant(ctx context.Context, tenantID string) (model.Business, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+businessColumns+`
		FROM businesses
		WHERE tenant_id = $1 AND deleted_at IS NULL
		LIMIT 1
	`, tenantID)
	return scanBusiness(row)
}

func scanBusiness(row pgx.Row) (model.Business, error) {
	var b model.Business
	var trialEndsAt, deletedAt *time.Time
	err := row.Scan(
		&b.TenantID,
		&b.Slug,
		&b.Name,
		&b.Timezone,
		&b.ScheduleVersion,
		&b.PublicBookingEnabled,
		&b.BlockPublicOnBillingIssue,
		&trialEndsAt,
		&b.CreatedAt,
		&deletedAt,
	)
	if err != nil {
		return model.Business{}, err
	}
	if trialEndsAt != nil {
		b.TrialEndsAt = *trialEndsAt
	}
	b.DeletedAt = deletedAt
	return b, nil
}

// BumpScheduleVersion invalidates cached slot pages for the tenant. Callers
// run it inside the same transaction as the rule/exception write.
func (r *BusinessRepository) BumpScheduleVersion(ctx context.Context, tx pgx.Tx, tenantID string) error {
	_, err := tx.Exec(ctx, `
		UPDATE businesses
		SET schedule_version = schedule_version + 1,
			updated_at = now()
		WHERE tenant_id = $1
	`, tenantID)
	return err
}

// UpsertWhatsAppSettings stores the tenant's notification channel
// credentials. Empty strings clear the stored value.
func (r *BusinessRepository) UpsertWhatsAppSettings(ctx context.Context, s model.WhatsAppSettings) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO business_whatsapp_settings (tenant_id, enabled, phone_number_id, api_token)
		VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, ''))
		ON CONFLICT (tenant_id) DO UPDATE
		SET enabled = EXCLUDED.enabled,
			phone_number_id = EXCLUDED.phone_number_id,
			api_token = EXCLUDED.api_token,
			updated_at = now()
	`, s.TenantID, s.Enabled, s.PhoneNumberID, s.APIToken)
	return err
}

func (r *BusinessRepository) GetWhatsAppSettings(ctx context.Context, tenantID string) (model.WhatsAppSettings, bool, error) {
	var s model.WhatsAppSettings
	err := r.pool.QueryRow(ctx, `
		SELECT tenant_id::text, enabled, COALESCE(phone_number_id, ''), COALESCE(api_token, '')
		FROM business_whatsapp_settings
		WHERE tenant_id = $1
	`, tenantID).Scan(&s.TenantID, &s.Enabled, &s.PhoneNumberID, &s.APIToken)
	if err != nil {
		if IsNotFound(err) {
			return model.WhatsAppSettings{}, false, nil
		}
		return model.WhatsAppSettings{}, false, err
	}
	return s, true, nil
}
