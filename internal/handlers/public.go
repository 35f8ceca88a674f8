// Package handlers wires the HTTP surface: the public booking API, the owner
// API, and the billing endpoints.
package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/jorgekeles/sistema-barberia/internal/apperr"
	"github.com/jorgekeles/sistema-barberia/internal/booking"
	"github.com/jorgekeles/sistema-barberia/internal/httpx"
	"github.com/jorgekeles/sistema-barberia/internal/metrics"
	"github.com/jorgekeles/sistema-barberia/internal/model"
)

type BusinessReader interface {
	GetBySlug(ctx context.Context, slug string) (model.Business, error)
}

type CatalogReader interface {
	ListActiveServices(ctx context.Context, tenantID string, limit int) ([]model.Service, error)
	ListActiveStaff(ctx context.Context, tenantID string) ([]model.Staff, error)
}

type PublicHandler struct {
	booking    *booking.Service
	businesses BusinessReader
	catalog    CatalogReader
	validate   *validator.Validate
	metrics    *metrics.Metrics
	logger     *slog.Logger
}

func NewPublicHandler(svc *booking.Service, businesses BusinessReader, catalog CatalogReader, logger *slog.Logger) *PublicHandler {
	return &PublicHandler{
		booking:    svc,
		businesses: businesses,
		catalog:    catalog,
		validate:   validator.New(),
		logger:     logger,
	}
}

// Config serves the booking page bootstrap: business identity, services, and
// staff. No pricing internals beyond the listed price.
func (h *PublicHandler) Config(w http.ResponseWriter, r *http.Request) {
	biz, err := h.businesses.GetBySlug(r.Context(), r.PathValue("slug"))
	if err != nil {
		httpx.WriteError(w, apperr.NotFound("business"))
		return
	}

	services, err := h.catalog.ListActiveServices(r.Context(), biz.TenantID, 100)
	if err != nil {
		httpx.WriteError(w, apperr.Internal("service list failed", err))
		return
	}
	staff, err := h.catalog.ListActiveStaff(r.Context(), biz.TenantID)
	if err != nil {
		httpx.WriteError(w, apperr.Internal("staff list failed", err))
		return
	}

	type serviceView struct {
		ID          string `json:"id"`
		Name        string `json:"name"`
		DurationMin int    `json:"duration_min"`
		Price       string `json:"price,omitempty"`
	}
	type staffView struct {
		ID       string `json:"id"`
		FullName string `json:"full_name"`
	}

	resp := struct {
		Name                 string        `json:"name"`
		Slug                 string        `json:"slug"`
		Timezone             string        `json:"timezone"`
		PublicBookingEnabled bool          `json:"public_booking_enabled"`
		Services             []serviceView `json:"services"`
		Staff                []staffView   `json:"staff"`
	}{
		Name:                 biz.Name,
		Slug:                 biz.Slug,
		Timezone:             biz.Timezone,
		PublicBookingEnabled: biz.PublicBookingEnabled,
		Services:             make([]serviceView, 0, len(services)),
		Staff:                make([]staffView, 0, len(staff)),
	}
	for _, s := range services {
		resp.Services = append(resp.Services, serviceView{ID: s.ID, Name: s.Name, DurationMin: s.DurationMin, Price: s.Price})
	}
	for _, s := range staff {
		resp.Staff = append(resp.Staff, staffView{ID: s.ID, FullName: s.FullName})
	}
	httpx.WriteJSON(w, http.StatusOK, resp)
}

// Slots lists bookable start times for a service over a date range.
func (h *PublicHandler) Slots(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	serviceID := strings.TrimSpace(q.Get("service_id"))
	if serviceID == "" {
		httpx.WriteError(w, apperr.Validation("service_id is required"))
		return
	}

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

	query := booking.SlotQuery{
		Slug:      r.PathValue("slug"),
		ServiceID: serviceID,
		From:      from,
		To:        to,
	}
	if staff := strings.TrimSpace(q.Get("staff_id")); staff != "" {
		query.StaffUserID = &staff
	}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 || limit > 200 {
			httpx.WriteError(w, apperr.Validation("limit must be between 1 and 200"))
			return
		}
		query.Limit = limit
	}

	page, err := h.booking.AvailableSlots(r.Context(), query)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, page)
}

type createAppointmentRequest struct {
	ServiceID     string `json:"service_id" validate:"required"`
	StaffUserID   string `json:"staff_id"`
	StartAt       string `json:"start_at" validate:"required"`
	CustomerName  string `json:"customer_name" validate:"required,max=120"`
	CustomerPhone string `json:"customer_phone" validate:"required,max=32"`
	CustomerEmail string `json:"customer_email" validate:"omitempty,email"`
	Notes         string `json:"notes" validate:"max=500"`
}

// Book creates an appointment. The Idempotency-Key header is mandatory;
// retries with the same key replay the original response.
func (h *PublicHandler) Book(w http.ResponseWriter, r *http.Request) {
	key := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	if key == "" {
		httpx.WriteError(w, apperr.Validation("Idempotency-Key header is required"))
		return
	}

	var req createAppointmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.WriteError(w, apperr.Validation("invalid json body"))
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.WriteError(w, apperr.Validation("invalid request: %v", err))
		return
	}
	startAt, err := time.Parse(time.RFC3339, req.StartAt)
	if err != nil {
		httpx.WriteError(w, apperr.Validation("start_at must be RFC3339"))
		return
	}

	createReq := booking.CreateRequest{
		Slug:           r.PathValue("slug"),
		ServiceID:      req.ServiceID,
		StartAt:        startAt.UTC(),
		CustomerName:   strings.TrimSpace(req.CustomerName),
		CustomerPhone:  req.CustomerPhone,
		CustomerEmail:  strings.TrimSpace(req.CustomerEmail),
		Notes:          strings.TrimSpace(req.Notes),
		IdempotencyKey: key,
	}
	if req.StaffUserID != "" {
		createReq.StaffUserID = &req.StaffUserID
	}

	res, err := h.booking.Create(r.Context(), createReq)
	if err != nil {
		if h.metrics != nil && apperr.Is(err, apperr.CodeSlotTaken) {
			h.metrics.SlotConflicts.Inc()
		}
		httpx.WriteError(w, err)
		return
	}
	if h.metrics != nil {
		if res.Replayed {
			h.metrics.BookingsReplayed.Inc()
		} else {
			h.metrics.BookingsConfirmed.Inc()
		}
	}
	if res.Replayed {
		w.Header().Set("Idempotency-Replayed", "true")
	}
	httpx.WriteRaw(w, res.StatusCode, res.Body)
}

// Cancel lets a customer cancel with their phone as proof.
func (h *PublicHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CustomerPhone string `json:"customer_phone"`
		Reason        string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.WriteError(w, apperr.Validation("invalid json body"))
		return
	}

	view, err := h.booking.CancelByCustomer(r.Context(), booking.ManageRequest{
		Slug:          r.PathValue("slug"),
		AppointmentID: r.PathValue("id"),
		CustomerPhone: req.CustomerPhone,
		Reason:        strings.TrimSpace(req.Reason),
	})
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"appointment": view})
}

// Reschedule moves an appointment to a new slot, phone-verified.
func (h *PublicHandler) Reschedule(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CustomerPhone string `json:"customer_phone"`
		StartAt       string `json:"start_at"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.WriteError(w, apperr.Validation("invalid json body"))
		return
	}
	startAt, err := time.Parse(time.RFC3339, req.StartAt)
	if err != nil {
		httpx.WriteError(w, apperr.Validation("start_at must be RFC3339"))
		return
	}

	view, err := h.booking.Reschedule(r.Context(), booking.RescheduleRequest{
		Slug:          r.PathValue("slug"),
		AppointmentID: r.PathValue("id"),
		CustomerPhone: req.CustomerPhone,
		NewStartAt:    startAt.UTC(),
	})
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"appointment": view})
}

// Lookup returns upcoming appointments for a phone number.
func (h *PublicHandler) Lookup(w http.ResponseWriter, r *http.Request) {
	phone := strings.TrimSpace(r.URL.Query().Get("phone"))
	if phone == "" {
		httpx.WriteError(w, apperr.Validation("phone is required"))
		return
	}

	views, err := h.booking.LookupByPhone(r.Context(), r.PathValue("slug"), phone)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"appointments": views})
}
