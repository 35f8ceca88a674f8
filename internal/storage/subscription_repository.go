package storage

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/jorgekeles/sistema-barberia/internal/db"
	"github.com/jorgekeles/sistema-barberia/internal/model"
)

// SubscriptionRepository stores billing state per tenant plus the dedupe
// ledger for provider webhook events.
type SubscriptionRepository struct {
	pool *db.Pool
}

func NewSubscriptionRepository(pool *db.Pool) *SubscriptionRepository {
	return &SubscriptionRepository{pool: pool}
}

func (r *SubscriptionRepository) Begin(ctx context.Context) (pgx.Tx, error) {
	return r.pool.Begin(ctx)
}

const subscriptionColumns = `
	tenant_id::text, tier, status, provider,
	COALESCE(stripe_customer_id, ''), COALESCE(stripe_subscription_id, ''),
	current_period_start, current_period_end, grace_ends_at, updated_at
`

func (r *SubscriptionRepository) GetSubscription(ctx context.Context, tenantID string) (model.Subscription, bool, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+subscriptionColumns+`
		FROM subscriptions
		WHERE tenant_id = $1
	`, tenantID)
	s, err := scanSubscription(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Subscription{}, false, nil
		}
		return model.Subscription{}, false, err
	}
	return s, true, nil
}

func (r *SubscriptionRepository) GetSubscriptionForUpdate(ctx context.Context, tx pgx.Tx, tenantID string) (model.Subscription, bool, error) {
	row := tx.QueryRow(ctx, `
		SELECT `+subscriptionColumns+`
		FROM subscriptions
		WHERE tenant_id = $1
		FOR UPDATE
	`, tenantID)
	s, err := scanSubscription(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Subscription{}, false, nil
		}
		return model.Subscription{}, false, err
	}
	return s, true, nil
}

func (r *SubscriptionRepository) UpsertSubscription(ctx context.Context, tx pgx.Tx, s model.Subscription) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO subscriptions
			(tenant_id, tier, status, provider, stripe_customer_id, stripe_subscription_id,
			 current_period_start, current_period_end, grace_ends_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (tenant_id)
		DO UPDATE SET tier = EXCLUDED.tier,
		              status = EXCLUDED.status,
		              provider = EXCLUDED.provider,
		              stripe_customer_id = EXCLUDED.stripe_customer_id,
		              stripe_subscription_id = EXCLUDED.stripe_subscription_id,
		              current_period_start = EXCLUDED.current_period_start,
		              current_period_end = EXCLUDED.current_period_end,
		              grace_ends_at = EXCLUDED.grace_ends_at,
		              updated_at = now()
	`, s.TenantID, s.Tier, s.Status, defaultIfEmpty(s.Provider, "stripe"),
		nullIfEmpty(s.StripeCustomerID), nullIfEmpty(s.StripeSubscriptionID),
		s.CurrentPeriodStart, s.CurrentPeriodEnd, s.GraceEndsAt)
	return err
}

// TenantByStripeCustomer resolves the tenant that owns a Stripe customer.
// Webhook payloads carry the customer id, not the tenant id.
func (r *SubscriptionRepository) TenantByStripeCustomer(ctx context.Context, stripeCustomerID string) (string, bool, error) {
	var tenantID string
	err := r.pool.QueryRow(ctx, `
		SELECT tenant_id::text
		FROM subscriptions
		WHERE stripe_customer_id = $1
	`, stripeCustomerID).Scan(&tenantID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", false, nil
		}
		return "", false, err
	}
	return tenantID, true, nil
}

type ProviderEvent struct {
	Provider        string
	ProviderEventID string
	EventType       string
	Payload         []byte
}

var ErrDuplicateProviderEvent = errors.New("duplicate provider event")

func (r *SubscriptionRepository) InsertProviderEvent(ctx context.Context, tx pgx.Tx, evt ProviderEvent) error {
	var payload any
	if err := json.Unmarshal(evt.Payload, &payload); err != nil {
		return err
	}

	tag, err := tx.Exec(ctx, `
		INSERT INTO provider_events (provider, provider_event_id, event_type, payload)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (provider, provider_event_id) DO NOTHING
	`, evt.Provider, evt.ProviderEventID, evt.EventType, payload)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrDuplicateProviderEvent
	}
	return nil
}

func scanSubscription(row pgx.Row) (model.Subscription, error) {
	var s model.Subscription
	var cps, cpe, grace *time.Time
	err := row.Scan(
		&s.TenantID,
		&s.Tier,
		&s.Status,
		&s.Provider,
		&s.StripeCustomerID,
		&s.StripeSubscriptionID,
		&cps,
		&cpe,
		&grace,
		&s.UpdatedAt,
	)
	if err != nil {
		return model.Subscription{}, err
	}
	s.CurrentPeriodStart = cps
	s.CurrentPeriodEnd = cpe
	s.GraceEndsAt = grace
	return s, nil
}

func nullIfEmpty(s string) any {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return s
}

func defaultIfEmpty(s string, fallback string) string {
	if strings.TrimSpace(s) == "" {
		return fallback
	}
	return s
}
