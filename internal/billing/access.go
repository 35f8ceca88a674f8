// Package billing maps subscription state to booking access and applies
// Stripe webhook events to the local subscription row.
package billing

import (
	"context"
	"time"

	"github.com/jorgekeles/sistema-barberia/internal/apperr"
	"github.com/jorgekeles/sistema-barberia/internal/model"
)

const (
	StatusActive   = "active"
	StatusTrialing = "trialing"
	StatusGrace    = "grace"
	StatusPastDue  = "past_due"
	StatusCanceled = "canceled"
)

// EffectiveAccess resolves the tenant's booking access. With no subscription
// row the business trial window decides.
func EffectiveAccess(sub model.Subscription, found bool, biz model.Business, now time.Time) model.Access {
	if !found {
		if !biz.TrialEndsAt.IsZero() && now.Before(biz.TrialEndsAt) {
			return model.AccessAllow
		}
		return model.AccessBlock
	}

	switch sub.Status {
	case StatusActive, StatusTrialing:
		return model.AccessAllow
	case StatusGrace:
		if sub.GraceEndsAt != nil && now.After(*sub.GraceEndsAt) {
			return model.AccessBlock
		}
		return model.AccessAllow
	case StatusPastDue:
		return model.AccessAllowWithWarning
	default:
		return model.AccessBlock
	}
}

// SubscriptionStore is the read side the gate needs.
type SubscriptionStore interface {
	GetSubscription(ctx context.Context, tenantID string) (model.Subscription, bool, error)
}

// Gate decides whether public booking traffic may proceed for a tenant.
type Gate struct {
	subs SubscriptionStore
}

func NewGate(subs SubscriptionStore) *Gate {
	return &Gate{subs: subs}
}

// Check returns the tenant's access level, or FORBIDDEN when public booking
// must be refused outright. A billing block only refuses traffic when the
// business opted in to blocking.
func (g *Gate) Check(ctx context.Context, biz model.Business, now time.Time) (model.Access, error) {
	if !biz.PublicBookingEnabled {
		return model.AccessBlock, apperr.Forbidden("Public booking is disabled for this business")
	}

	sub, found, err := g.subs.GetSubscription(ctx, biz.TenantID)
	if err != nil {
		return model.AccessBlock, apperr.Internal("subscription lookup failed", err)
	}

	access := EffectiveAccess(sub, found, biz, now)
	if access == model.AccessBlock && biz.BlockPublicOnBillingIssue {
		return access, apperr.Forbidden("Booking is temporarily unavailable for this business")
	}
	return access, nil
}
