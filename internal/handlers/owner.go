package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/jorgekeles/sistema-barberia/internal/apperr"
	"github.com/jorgekeles/sistema-barberia/internal/auth"
	"github.com/jorgekeles/sistema-barberia/internal/availability"
	"github.com/jorgekeles/sistema-barberia/internal/billing"
	"github.com/jorgekeles/sistema-barberia/internal/booking"
	"github.com/jorgekeles/sistema-barberia/internal/httpx"
	"github.com/jorgekeles/sistema-barberia/internal/model"
	"github.com/jorgekeles/sistema-barberia/internal/storage"
)

type ScheduleAdmin interface {
	ListAllRules(ctx context.Context, tenantID string) ([]model.AvailabilityRule, error)
	CreateRule(ctx context.Context, rule model.AvailabilityRule) (model.AvailabilityRule, error)
	ListAllExceptions(ctx context.Context, tenantID string, from, to time.Time) ([]model.AvailabilityException, error)
	CreateException(ctx context.Context, exc model.AvailabilityException) (model.AvailabilityException, error)
}

type CatalogAdmin interface {
	CatalogReader
	GetService(ctx context.Context, tenantID, serviceID string) (model.Service, error)
	CreateService(ctx context.Context, s model.Service) (string, error)
	UpdateService(ctx context.Context, s model.Service) error
	DeleteService(ctx context.Context, tenantID, serviceID string) error
	CreateStaff(ctx context.Context, tenantID, fullName string) (string, error)
}

type SubscriptionReader interface {
	GetSubscription(ctx context.Context, tenantID string) (model.Subscription, bool, error)
}

// OwnerHandler serves the authenticated tenant surface. RequireTenant runs in
// front of every route; mutations additionally require the owner role.
type OwnerHandler struct {
	booking    *booking.Service
	schedule   ScheduleAdmin
	catalog    CatalogAdmin
	subs       SubscriptionReader
	businesses BusinessAdmin
	validate   *validator.Validate
	logger     *slog.Logger
}

type BusinessAdmin interface {
	GetByTenant(ctx context.Context, tenantID string) (model.Business, error)
	GetWhatsAppSettings(ctx context.Context, tenantID string) (model.WhatsAppSettings, bool, error)
	UpsertWhatsAppSettings(ctx context.Context, s model.WhatsAppSettings) error
}

func NewOwnerHandler(svc *booking.Service, schedule ScheduleAdmin, catalog CatalogAdmin, subs SubscriptionReader, businesses BusinessAdmin, logger *slog.Logger) *OwnerHandler {
	return &OwnerHandler{
		booking:    svc,
		schedule:   schedule,
		catalog:    catalog,
		subs:       subs,
		businesses: businesses,
		validate:   validator.New(),
		logger:     logger,
	}
}

func tenantID(r *http.Request) string {
	claims, _ := auth.ClaimsFromContext(r.Context())
	if claims == nil {
		return ""
	}
	return claims.TenantID
}

func (h *OwnerHandler) ListRules(w http.ResponseWriter, r *http.Request) {
	rules, err := h.schedule.ListAllRules(r.Context(), tenantID(r))
	if err != nil {
		httpx.WriteError(w, apperr.Internal("rule list failed", err))
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"rules": rules})
}

type createRuleRequest struct {
	StaffUserID string `json:"staff_id"`
	DayOfWeek   int    `json:"day_of_week" validate:"min=0,max=6"`
	StartLocal  string `json:"start_local" validate:"required"`
	EndLocal    string `json:"end_local" validate:"required"`
	SlotStepMin int    `json:"slot_step_min" validate:"min=5,max=60"`
	ValidFrom   string `json:"valid_from"`
	ValidTo     string `json:"valid_to"`
}

func (h *OwnerHandler) CreateRule(w http.ResponseWriter, r *http.Request) {
	if err := auth.RequireOwner(r.Context()); err != nil {
		httpx.WriteError(w, err)
		return
	}

	var req createRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.WriteError(w, apperr.Validation("invalid json body"))
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.WriteError(w, apperr.Validation("invalid request: %v", err))
		return
	}
	start, err := availability.ParseClock(req.StartLocal)
	if err != nil {
		httpx.WriteError(w, apperr.Validation("start_local must be HH:MM"))
		return
	}
	end, err := availability.ParseClock(req.EndLocal)
	if err != nil {
		httpx.WriteError(w, apperr.Validation("end_local must be HH:MM"))
		return
	}
	if end <= start {
		httpx.WriteError(w, apperr.Validation("end_local must be after start_local"))
		return
	}

	rule := model.AvailabilityRule{
		TenantID:    tenantID(r),
		DayOfWeek:   req.DayOfWeek,
		StartLocal:  req.StartLocal,
		EndLocal:    req.EndLocal,
		SlotStepMin: req.SlotStepMin,
	}
	if req.StaffUserID != "" {
		rule.StaffUserID = &req.StaffUserID
	}
	if req.ValidFrom != "" {
		rule.ValidFrom, err = time.Parse("2006-01-02", req.ValidFrom)
		if err != nil {
			httpx.WriteError(w, apperr.Validation("valid_from must be a YYYY-MM-DD date"))
			return
		}
	}
	if req.ValidTo != "" {
		to, err := time.Parse("2006-01-02", req.ValidTo)
		if err != nil {
			httpx.WriteError(w, apperr.Validation("valid_to must be a YYYY-MM-DD date"))
			return
		}
		rule.ValidTo = &to
	}

	created, err := h.schedule.CreateRule(r.Context(), rule)
	if err != nil {
		httpx.WriteError(w, apperr.Internal("rule create failed", err))
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, map[string]any{"rule": created})
}

func (h *OwnerHandler) ListExceptions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	now := time.Now().UTC()
	from, to := now.AddDate(0, 0, -90), now.AddDate(0, 0, 90)
	if v := q.Get("from"); v != "" {
		parsed, err := time.Parse("2006-01-02", v)
		if err != nil {
			httpx.WriteError(w, apperr.Validation("from must be a YYYY-MM-DD date"))
			return
		}
		from = parsed
	}
	if v := q.Get("to"); v != "" {
		parsed, err := time.Parse("2006-01-02", v)
		if err != nil {
			httpx.WriteError(w, apperr.Validation("to must be a YYYY-MM-DD date"))
			return
		}
		to = parsed
	}

	excs, err := h.schedule.ListAllExceptions(r.Context(), tenantID(r), from, to)
	if err != nil {
		httpx.WriteError(w, apperr.Internal("exception list failed", err))
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"exceptions": excs})
}

type createExceptionRequest struct {
	StaffUserID string `json:"staff_id"`
	Date        string `json:"date" validate:"required"`
	Kind        string `json:"kind" validate:"required,oneof=closed_full_day closed_partial open_special manual_block"`
	StartLocal  string `json:"start_local"`
	EndLocal    string `json:"end_local"`
	Reason      string `json:"reason" validate:"max=200"`
	Priority    int    `json:"priority" validate:"min=1,max=1000"`
}

func (h *OwnerHandler) CreateException(w http.ResponseWriter, r *http.Request) {
	if err := auth.RequireOwner(r.Context()); err != nil {
		httpx.WriteError(w, err)
		return
	}

	var req createExceptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.WriteError(w, apperr.Validation("invalid json body"))
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.WriteError(w, apperr.Validation("invalid request: %v", err))
		return
	}
	date, err := time.Parse("2006-01-02", req.Date)
	if err != nil {
		httpx.WriteError(w, apperr.Validation("date must be a YYYY-MM-DD date"))
		return
	}

	kind := model.ExceptionKind(req.Kind)
	if kind != model.ExceptionClosedFullDay {
		start, err := availability.ParseClock(req.StartLocal)
		if err != nil {
			httpx.WriteError(w, apperr.Validation("start_local must be HH:MM"))
			return
		}
		end, err := availability.ParseClock(req.EndLocal)
		if err != nil {
			httpx.WriteError(w, apperr.Validation("end_local must be HH:MM"))
			return
		}
		if end <= start {
			httpx.WriteError(w, apperr.Validation("end_local must be after start_local"))
			return
		}
	}

	exc := model.AvailabilityException{
		TenantID:      tenantID(r),
		ExceptionDate: date,
		Kind:          kind,
		StartLocal:    req.StartLocal,
		EndLocal:      req.EndLocal,
		Reason:        strings.TrimSpace(req.Reason),
		Priority:      req.Priority,
	}
	if req.StaffUserID != "" {
		exc.StaffUserID = &req.StaffUserID
	}

	created, err := h.schedule.CreateException(r.Context(), exc)
	if err != nil {
		httpx.WriteError(w, apperr.Internal("exception create failed", err))
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, map[string]any{"exception": created})
}

func (h *OwnerHandler) ListServices(w http.ResponseWriter, r *http.Request) {
	services, err := h.catalog.ListActiveServices(r.Context(), tenantID(r), 200)
	if err != nil {
		httpx.WriteError(w, apperr.Internal("service list failed", err))
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"services": services})
}

type serviceRequest struct {
	Name            string `json:"name" validate:"required,max=120"`
	DurationMin     int    `json:"duration_min" validate:"min=5,max=480"`
	BufferBeforeMin int    `json:"buffer_before_min" validate:"min=0,max=120"`
	BufferAfterMin  int    `json:"buffer_after_min" validate:"min=0,max=120"`
	Price           string `json:"price"`
	IsActive        *bool  `json:"is_active"`
}

func (h *OwnerHandler) CreateService(w http.ResponseWriter, r *http.Request) {
	if err := auth.RequireOwner(r.Context()); err != nil {
		httpx.WriteError(w, err)
		return
	}

	var req serviceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.WriteError(w, apperr.Validation("invalid json body"))
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.WriteError(w, apperr.Validation("invalid request: %v", err))
		return
	}

	svc := model.Service{
		TenantID:        tenantID(r),
		Name:            strings.TrimSpace(req.Name),
		DurationMin:     req.DurationMin,
		BufferBeforeMin: req.BufferBeforeMin,
		BufferAfterMin:  req.BufferAfterMin,
		Price:           req.Price,
		IsActive:        true,
	}
	if req.IsActive != nil {
		svc.IsActive = *req.IsActive
	}
	id, err := h.catalog.CreateService(r.Context(), svc)
	if err != nil {
		httpx.WriteError(w, apperr.Internal("service create failed", err))
		return
	}
	svc.ID = id
	httpx.WriteJSON(w, http.StatusCreated, map[string]any{"service": svc})
}

func (h *OwnerHandler) UpdateService(w http.ResponseWriter, r *http.Request) {
	if err := auth.RequireOwner(r.Context()); err != nil {
		httpx.WriteError(w, err)
		return
	}

	var req serviceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.WriteError(w, apperr.Validation("invalid json body"))
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.WriteError(w, apperr.Validation("invalid request: %v", err))
		return
	}

	svc := model.Service{
		ID:              r.PathValue("id"),
		TenantID:        tenantID(r),
		Name:            strings.TrimSpace(req.Name),
		DurationMin:     req.DurationMin,
		BufferBeforeMin: req.BufferBeforeMin,
		BufferAfterMin:  req.BufferAfterMin,
		Price:           req.Price,
		IsActive:        true,
	}
	if req.IsActive != nil {
		svc.IsActive = *req.IsActive
	}
	if err := h.catalog.UpdateService(r.Context(), svc); err != nil {
		if storage.IsNotFound(err) {
			httpx.WriteError(w, apperr.NotFound("service"))
			return
		}
		httpx.WriteError(w, apperr.Internal("service update failed", err))
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"service": svc})
}

func (h *OwnerHandler) DeleteService(w http.ResponseWriter, r *http.Request) {
	if err := auth.RequireOwner(r.Context()); err != nil {
		httpx.WriteError(w, err)
		return
	}
	if err := h.catalog.DeleteService(r.Context(), tenantID(r), r.PathValue("id")); err != nil {
		if storage.IsNotFound(err) {
			httpx.WriteError(w, apperr.NotFound("service"))
			return
		}
		httpx.WriteError(w, apperr.Internal("service delete failed", err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *OwnerHandler) ListStaff(w http.ResponseWriter, r *http.Request) {
	staff, err := h.catalog.ListActiveStaff(r.Context(), tenantID(r))
	if err != nil {
		httpx.WriteError(w, apperr.Internal("staff list failed", err))
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"staff": staff})
}

func (h *OwnerHandler) CreateStaff(w http.ResponseWriter, r *http.Request) {
	if err := auth.RequireOwner(r.Context()); err != nil {
		httpx.WriteError(w, err)
		return
	}

	var req struct {
		FullName string `json:"full_name" validate:"required,max=120"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.WriteError(w, apperr.Validation("invalid json body"))
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.WriteError(w, apperr.Validation("invalid request: %v", err))
		return
	}

	id, err := h.catalog.CreateStaff(r.Context(), tenantID(r), strings.TrimSpace(req.FullName))
	if err != nil {
		httpx.WriteError(w, apperr.Internal("staff create failed", err))
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, map[string]any{"id": id})
}

func (h *OwnerHandler) ListAppointments(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	from, err := time.Parse("2006-01-02", q.Get("from"))
	if err != nil {
		httpx.WriteError(w, apperr.Validation("from must be a YYYY-MM-DD date"))
		return
	}
	to := from
	if raw := q.Get("to"); raw != "" {
		to, err = time.Parse("2006-01-02", raw)
		if err != nil {
			httpx.WriteError(w, apperr.Validation("to must be a YYYY-MM-DD date"))
			return
		}
	}

	views, err := h.booking.ListForOwner(r.Context(), tenantID(r), from, to.AddDate(0, 0, 1), 500)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"appointments": views})
}

func (h *OwnerHandler) CancelAppointment(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Reason string `json:"reason"`
	}
	// Body is optional for owner cancellations.
	_ = json.NewDecoder(r.Body).Decode(&req)

	view, err := h.booking.CancelByOwner(r.Context(), tenantID(r), r.PathValue("id"), strings.TrimSpace(req.Reason))
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"appointment": view})
}

func (h *OwnerHandler) MarkNoShow(w http.ResponseWriter, r *http.Request) {
	if err := h.booking.MarkNoShow(r.Context(), tenantID(r), r.PathValue("id")); err != nil {
		httpx.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// WhatsAppSettings returns the tenant's notification channel config. The
// stored token is never echoed back; only its presence is reported.
func (h *OwnerHandler) WhatsAppSettings(w http.ResponseWriter, r *http.Request) {
	s, _, err := h.businesses.GetWhatsAppSettings(r.Context(), tenantID(r))
	if err != nil {
		httpx.WriteError(w, apperr.Internal("whatsapp settings lookup failed", err))
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"enabled":         s.Enabled,
		"phone_number_id": s.PhoneNumberID,
		"has_token":       s.APIToken != "",
	})
}

type whatsappSettingsRequest struct {
	Enabled       bool   `json:"enabled"`
	PhoneNumberID string `json:"phone_number_id" validate:"max=64"`
	APIToken      string `json:"api_token" validate:"max=512"`
}

func (h *OwnerHandler) UpdateWhatsAppSettings(w http.ResponseWriter, r *http.Request) {
	if err := auth.RequireOwner(r.Context()); err != nil {
		httpx.WriteError(w, err)
		return
	}

	var req whatsappSettingsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.WriteError(w, apperr.Validation("invalid json body"))
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.WriteError(w, apperr.Validation("invalid request: %v", err))
		return
	}
	if req.Enabled && (req.PhoneNumberID == "" || req.APIToken == "") {
		httpx.WriteError(w, apperr.Validation("enabling whatsapp requires phone_number_id and api_token"))
		return
	}

	settings := model.WhatsAppSettings{
		TenantID:      tenantID(r),
		Enabled:       req.Enabled,
		PhoneNumberID: strings.TrimSpace(req.PhoneNumberID),
		APIToken:      strings.TrimSpace(req.APIToken),
	}
	if err := h.businesses.UpsertWhatsAppSettings(r.Context(), settings); err != nil {
		httpx.WriteError(w, apperr.Internal("whatsapp settings update failed", err))
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"enabled":         settings.Enabled,
		"phone_number_id": settings.PhoneNumberID,
		"has_token":       settings.APIToken != "",
	})
}

// BillingStatus reports the subscription state behind the owner dashboard
// banner.
func (h *OwnerHandler) BillingStatus(w http.ResponseWriter, r *http.Request) {
	sub, found, err := h.subs.GetSubscription(r.Context(), tenantID(r))
	if err != nil {
		httpx.WriteError(w, apperr.Internal("subscription lookup failed", err))
		return
	}
	biz, err := h.businesses.GetByTenant(r.Context(), tenantID(r))
	if err != nil {
		httpx.WriteError(w, apperr.Internal("business lookup failed", err))
		return
	}
	access := billing.EffectiveAccess(sub, found, biz, time.Now().UTC())

	if !found {
		httpx.WriteJSON(w, http.StatusOK, map[string]any{
			"status":           "none",
			"effective_access": access,
		})
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"status":               sub.Status,
		"tier":                 sub.Tier,
		"provider":             sub.Provider,
		"current_period_start": sub.CurrentPeriodStart,
		"current_period_end":   sub.CurrentPeriodEnd,
		"effective_access":     access,
	})
}
