package billing

import (
	"context"
	"testing"
	"time"

	"github.com/jorgekeles/sistema-barberia/internal/apperr"
	"github.com/jorgekeles/sistema-barberia/internal/model"
)

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestEffectiveAccess_Statuses(t *testing.T) {
	cases := []struct {
		status string
		want   model.Access
	}{
		{StatusActive, model.AccessAllow},
		{StatusTrialing, model.AccessAllow},
		{StatusGrace, model.AccessAllow},
		{StatusPastDue, model.AccessAllowWithWarning},
		{StatusCanceled, model.AccessBlock},
		{"unpaid", model.AccessBlock},
	}
	for _, tc := range cases {
		got := EffectiveAccess(model.Subscription{Status: tc.status}, true, model.Business{}, now)
		if got != tc.want {
			t.Errorf("status %q: got %s, want %s", tc.status, got, tc.want)
		}
	}
}

func TestEffectiveAccess_GraceExpiry(t *testing.T) {
	past := now.Add(-time.Hour)
	sub := model.Subscription{Status: StatusGrace, GraceEndsAt: &past}
	if got := EffectiveAccess(sub, true, model.Business{}, now); got != model.AccessBlock {
		t.Fatalf("expired grace should block, got %s", got)
	}
	future := now.Add(time.Hour)
	sub.GraceEndsAt = &future
	if got := EffectiveAccess(sub, true, model.Business{}, now); got != model.AccessAllow {
		t.Fatalf("live grace should allow, got %s", got)
	}
}

func TestEffectiveAccess_TrialFallback(t *testing.T) {
	biz := model.Business{TrialEndsAt: now.Add(24 * time.Hour)}
	if got := EffectiveAccess(model.Subscription{}, false, biz, now); got != model.AccessAllow {
		t.Fatalf("live trial without subscription should allow, got %s", got)
	}
	biz.TrialEndsAt = now.Add(-24 * time.Hour)
	if got := EffectiveAccess(model.Subscription{}, false, biz, now); got != model.AccessBlock {
		t.Fatalf("expired trial without subscription should block, got %s", got)
	}
}

type fakeSubs struct {
	sub   model.Subscription
	found bool
}

func (f fakeSubs) GetSubscription(context.Context, string) (model.Subscription, bool, error) {
	return f.sub, f.found, nil
}

func TestGate_PublicBookingDisabled(t *testing.T) {
	gate := NewGate(fakeSubs{found: true, sub: model.Subscription{Status: StatusActive}})
	biz := model.Business{TenantID: "t1", PublicBookingEnabled: false}
	_, err := gate.Check(context.Background(), biz, now)
	if !apperr.Is(err, apperr.CodeForbidden) {
		t.Fatalf("expected FORBIDDEN, got %v", err)
	}
}

func TestGate_BillingBlockRespectsToggle(t *testing.T) {
	gate := NewGate(fakeSubs{found: true, sub: model.Subscription{Status: StatusCanceled}})

	biz := model.Business{TenantID: "t1", PublicBookingEnabled: true, BlockPublicOnBillingIssue: true}
	if _, err := gate.Check(context.Background(), biz, now); !apperr.Is(err, apperr.CodeForbidden) {
		t.Fatalf("blocking tenant should be refused, got %v", err)
	}

	biz.BlockPublicOnBillingIssue = false
	access, err := gate.Check(context.Background(), biz, now)
	if err != nil {
		t.Fatalf("non-blocking tenant should proceed, got %v", err)
	}
	if access != model.AccessBlock {
		t.Fatalf("access level should still report block, got %s", access)
	}
}

func TestGate_PastDueWarns(t *testing.T) {
	gate := NewGate(fakeSubs{found: true, sub: model.Subscription{Status: StatusPastDue}})
	biz := model.Business{TenantID: "t1", PublicBookingEnabled: true, BlockPublicOnBillingIssue: true}
	access, err := gate.Check(context.Background(), biz, now)
	if err != nil {
		t.Fatalf("past_due must not refuse traffic, got %v", err)
	}
	if access != model.AccessAllowWithWarning {
		t.Fatalf("expected allow_with_warning, got %s", access)
	}
}
