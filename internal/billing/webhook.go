package billing

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stripe/stripe-go/v79"

	"github.com/jorgekeles/sistema-barberia/internal/model"
	"github.com/jorgekeles/sistema-barberia/internal/outbox"
	"github.com/jorgekeles/sistema-barberia/internal/storage"
)

// EventSink receives domain events in the same transaction as the state change.
type EventSink interface {
	Insert(ctx context.Context, tx pgx.Tx, evt outbox.Event) error
}

// Applier mutates local subscription state from verified provider events.
// Dedupe via provider_events happens in the HTTP handler before Apply runs.
type Applier struct {
	repo   *storage.SubscriptionRepository
	events EventSink
	logger *slog.Logger
}

func NewApplier(repo *storage.SubscriptionRepository, events EventSink, logger *slog.Logger) *Applier {
	return &Applier{repo: repo, events: events, logger: logger}
}

// Apply dispatches one verified Stripe event inside the caller's transaction.
// Unknown event types are ignored.
func (a *Applier) Apply(ctx context.Context, tx pgx.Tx, evt stripe.Event) error {
	occurredAt := time.Unix(evt.Created, 0).UTC()

	switch string(evt.Type) {
	case "checkout.session.completed":
		var session stripe.CheckoutSession
		if err := json.Unmarshal(evt.Data.Raw, &session); err != nil {
			a.logger.Error("stripe: invalid checkout session payload", "err", err)
			return nil
		}
		tenantID := strings.TrimSpace(session.Metadata["tenant_id"])
		tier := strings.TrimSpace(strings.ToLower(session.Metadata["tier"]))
		if tenantID == "" || tier == "" {
			a.logger.Warn("stripe: checkout session missing tenant_id/tier metadata", "session_id", session.ID)
			return nil
		}
		customerID := ""
		if session.Customer != nil {
			customerID = session.Customer.ID
		}
		subscriptionID := ""
		if session.Subscription != nil {
			subscriptionID = session.Subscription.ID
		}
		return a.upsertAndEmit(ctx, tx, model.Subscription{
			TenantID:             tenantID,
			Tier:                 tier,
			Status:               StatusActive,
			Provider:             "stripe",
			StripeCustomerID:     customerID,
			StripeSubscriptionID: subscriptionID,
			UpdatedAt:            occurredAt,
		}, outbox.TopicSubscriptionUpdated)

	case "customer.subscription.created", "customer.subscription.updated":
		sub, tenantID, err := a.decodeSubscription(ctx, evt)
		if err != nil || tenantID == "" {
			return err
		}
		return a.upsertAndEmit(ctx, tx, model.Subscription{
			TenantID:             tenantID,
			Tier:                 tierFromMetadata(sub.Metadata),
			Status:               mapStripeStatus(sub.Status),
			Provider:             "stripe",
			StripeCustomerID:     customerIDOf(sub),
			StripeSubscriptionID: sub.ID,
			CurrentPeriodStart:   unixPtr(sub.CurrentPeriodStart),
			CurrentPeriodEnd:     unixPtr(sub.CurrentPeriodEnd),
			UpdatedAt:            occurredAt,
		}, outbox.TopicSubscriptionUpdated)

	case "customer.subscription.deleted":
		sub, tenantID, err := a.decodeSubscription(ctx, evt)
		if err != nil || tenantID == "" {
			return err
		}
		return a.upsertAndEmit(ctx, tx, model.Subscription{
			TenantID:             tenantID,
			Tier:                 tierFromMetadata(sub.Metadata),
			Status:               StatusCanceled,
			Provider:             "stripe",
			StripeCustomerID:     customerIDOf(sub),
			StripeSubscriptionID: sub.ID,
			CurrentPeriodStart:   unixPtr(sub.CurrentPeriodStart),
			CurrentPeriodEnd:     unixPtr(sub.CurrentPeriodEnd),
			UpdatedAt:            occurredAt,
		}, outbox.TopicSubscriptionCanceled)
	}
	return nil
}

func (a *Applier) upsertAndEmit(ctx context.Context, tx pgx.Tx, sub model.Subscription, topic string) error {
	if err := a.repo.UpsertSubscription(ctx, tx, sub); err != nil {
		return err
	}
	if a.events == nil {
		return nil
	}
	payload, err := json.Marshal(map[string]any{
		"tenant_id":              sub.TenantID,
		"status":                 sub.Status,
		"tier":                   sub.Tier,
		"stripe_subscription_id": sub.StripeSubscriptionID,
	})
	if err != nil {
		return err
	}
	return a.events.Insert(ctx, tx, outbox.Event{
		AggregateType: "subscription",
		AggregateID:   sub.TenantID,
		EventType:     topic,
		Payload:       payload,
	})
}

// decodeSubscription unmarshals the event payload and resolves the tenant,
// preferring metadata and falling back to the stored Stripe customer mapping.
func (a *Applier) decodeSubscription(ctx context.Context, evt stripe.Event) (stripe.Subscription, string, error) {
	var sub stripe.Subscription
	if err := json.Unmarshal(evt.Data.Raw, &sub); err != nil {
		a.logger.Error("stripe: invalid subscription payload", "err", err, "event_id", evt.ID)
		return stripe.Subscription{}, "", nil
	}
	tenantID := strings.TrimSpace(sub.Metadata["tenant_id"])
	if tenantID != "" {
		return sub, tenantID, nil
	}
	customerID := customerIDOf(sub)
	if customerID == "" {
		a.logger.Warn("stripe: subscription event has no tenant_id metadata and no customer", "event_id", evt.ID)
		return sub, "", nil
	}
	tenantID, found, err := a.repo.TenantByStripeCustomer(ctx, customerID)
	if err != nil {
		return stripe.Subscription{}, "", err
	}
	if !found {
		a.logger.Warn("stripe: unknown customer on subscription event", "customer_id", customerID, "event_id", evt.ID)
		return sub, "", nil
	}
	return sub, tenantID, nil
}

func mapStripeStatus(s stripe.SubscriptionStatus) string {
	switch s {
	case stripe.SubscriptionStatusActive:
		return StatusActive
	case stripe.SubscriptionStatusTrialing:
		return StatusTrialing
	case stripe.SubscriptionStatusPastDue:
		return StatusPastDue
	case stripe.SubscriptionStatusCanceled, stripe.SubscriptionStatusUnpaid, stripe.SubscriptionStatusIncompleteExpired:
		return StatusCanceled
	default:
		return StatusPastDue
	}
}

func tierFromMetadata(md map[string]string) string {
	tier := strings.TrimSpace(strings.ToLower(md["tier"]))
	if tier == "" {
		return "basic"
	}
	return tier
}

func customerIDOf(sub stripe.Subscription) string {
	if sub.Customer != nil {
		return sub.Customer.ID
	}
	return ""
}

func unixPtr(sec int64) *time.Time {
	if sec <= 0 {
		return nil
	}
	t := time.Unix(sec, 0).UTC()
	return &t
}
