package handlers

import (
	"net/http"

	"github.com/jorgekeles/sistema-barberia/internal/httpx"
	"github.com/jorgekeles/sistema-barberia/internal/metrics"
)

// RateLimiters holds the per-concern budgets for the public surface.
type RateLimiters struct {
	Book   httpx.Middleware
	Slots  httpx.Middleware
	Lookup httpx.Middleware
}

// Register mounts every route. Rate limits apply per route class so a slot
// poller cannot starve the booking budget.
func Register(
	mux *http.ServeMux,
	public *PublicHandler,
	owner *OwnerHandler,
	billingWebhook *BillingWebhookHandler,
	requireTenant httpx.Middleware,
	limits RateLimiters,
	m *metrics.Metrics,
) {
	if m != nil {
		public.metrics = m
	}
	handle := func(pattern string, h http.HandlerFunc, mw ...httpx.Middleware) {
		var handler http.Handler = h
		if m != nil {
			mw = append([]httpx.Middleware{m.Instrument(pattern)}, mw...)
		}
		mux.Handle(pattern, httpx.Chain(handler, mw...))
	}
	noop := func(next http.Handler) http.Handler { return next }
	if limits.Book == nil {
		limits.Book = noop
	}
	if limits.Slots == nil {
		limits.Slots = noop
	}
	if limits.Lookup == nil {
		limits.Lookup = noop
	}

	// Public booking surface.
	handle("GET /v1/public/{slug}/config", public.Config, limits.Slots)
	handle("GET /v1/public/{slug}/slots", public.Slots, limits.Slots)
	handle("POST /v1/public/{slug}/appointments", public.Book, limits.Book)
	handle("POST /v1/public/{slug}/appointments/{id}/cancel", public.Cancel, limits.Book)
	handle("POST /v1/public/{slug}/appointments/{id}/reschedule", public.Reschedule, limits.Book)
	handle("GET /v1/public/{slug}/appointments", public.Lookup, limits.Lookup)

	// Owner surface, tenant-scoped via bearer token.
	handle("GET /v1/owner/rules", owner.ListRules, requireTenant)
	handle("POST /v1/owner/rules", owner.CreateRule, requireTenant)
	handle("GET /v1/owner/exceptions", owner.ListExceptions, requireTenant)
	handle("POST /v1/owner/exceptions", owner.CreateException, requireTenant)
	handle("GET /v1/owner/services", owner.ListServices, requireTenant)
	handle("POST /v1/owner/services", owner.CreateService, requireTenant)
	handle("PUT /v1/owner/services/{id}", owner.UpdateService, requireTenant)
	handle("DELETE /v1/owner/services/{id}", owner.DeleteService, requireTenant)
	handle("GET /v1/owner/staff", owner.ListStaff, requireTenant)
	handle("POST /v1/owner/staff", owner.CreateStaff, requireTenant)
	handle("GET /v1/owner/appointments", owner.ListAppointments, requireTenant)
	handle("POST /v1/owner/appointments/{id}/cancel", owner.CancelAppointment, requireTenant)
	handle("POST /v1/owner/appointments/{id}/no-show", owner.MarkNoShow, requireTenant)
	handle("GET /v1/owner/billing", owner.BillingStatus, requireTenant)
	handle("GET /v1/owner/notifications/whatsapp", owner.WhatsAppSettings, requireTenant)
	handle("PUT /v1/owner/notifications/whatsapp", owner.UpdateWhatsAppSettings, requireTenant)

	// Billing provider callbacks.
	if billingWebhook != nil {
		handle("POST /v1/billing/stripe/webhook", billingWebhook.StripeWebhook)
	}

	if m != nil {
		mux.Handle("GET /metrics", m.Handler())
	}
}
