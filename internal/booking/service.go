// Package booking is the domain core: slot computation over the availability
// engine and the transactional booking path with idempotency replay.
package booking

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/jorgekeles/sistema-barberia/internal/apperr"
	"github.com/jorgekeles/sistema-barberia/internal/availability"
	"github.com/jorgekeles/sistema-barberia/internal/model"
	"github.com/jorgekeles/sistema-barberia/internal/outbox"
	"github.com/jorgekeles/sistema-barberia/internal/storage"
)

type BusinessStore interface {
	GetBySlug(ctx context.Context, slug string) (model.Business, error)
	GetByTenant(ctx context.Context, tenantID string) (model.Business, error)
}

type CatalogStore interface {
	GetService(ctx context.Context, tenantID, serviceID string) (model.Service, error)
	ListActiveStaff(ctx context.Context, tenantID string) ([]model.Staff, error)
}

type ScheduleStore interface {
	ListRules(ctx context.Context, tenantID string, staffUserID *string) ([]model.AvailabilityRule, error)
	ListExceptions(ctx context.Context, tenantID string, from, to time.Time, staffUserID *string) ([]model.AvailabilityException, error)
}

// Ledger is the appointment write side. Transactions come from Begin so the
// idempotency key, the appointment row, and the outbox event commit together.
type Ledger interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	GetIdempotency(ctx context.Context, tenantID, key string) (storage.IdempotencyRecord, bool, error)
	LockIdempotencyKey(ctx context.Context, tx pgx.Tx, tenantID, key string) (storage.IdempotencyRecord, bool, error)
	FinalizeIdempotency(ctx context.Context, tx pgx.Tx, tenantID, key, appointmentID string, statusCode int, response []byte) error
	Insert(ctx context.Context, tx pgx.Tx, appt *model.Appointment) (string, error)
	Get(ctx context.Context, tenantID, appointmentID string) (model.Appointment, error)
	GetForUpdate(ctx context.Context, tx pgx.Tx, tenantID, appointmentID string) (model.Appointment, error)
	FindForManage(ctx context.Context, tx pgx.Tx, tenantID, appointmentID, phoneDigits string) (model.Appointment, error)
	Cancel(ctx context.Context, tx pgx.Tx, tenantID, appointmentID, reason string) (time.Time, error)
	MarkNoShow(ctx context.Context, tx pgx.Tx, tenantID, appointmentID string) error
	UpdateInterval(ctx context.Context, tx pgx.Tx, tenantID, appointmentID string, startAt, endAt time.Time, staffUserID *string) error
	ListBookedIntervals(ctx context.Context, tenantID string, staffUserID *string, start, end time.Time) ([]model.Appointment, error)
	ListByPhone(ctx context.Context, tenantID, phoneDigits string, now time.Time) ([]model.Appointment, error)
	ListByTenant(ctx context.Context, tenantID string, from, to time.Time, limit int) ([]model.Appointment, error)
}

type EventSink interface {
	Insert(ctx context.Context, tx pgx.Tx, evt outbox.Event) error
}

type AccessGate interface {
	Check(ctx context.Context, biz model.Business, now time.Time) (model.Access, error)
}

type Deps struct {
	Businesses BusinessStore
	Catalog    CatalogStore
	Schedule   ScheduleStore
	Ledger     Ledger
	Events     EventSink
	Gate       AccessGate
	Cache      SlotCache
	Logger     *slog.Logger
	Now        func() time.Time
}

type Service struct {
	businesses BusinessStore
	catalog    CatalogStore
	schedule   ScheduleStore
	ledger     Ledger
	events     EventSink
	gate       AccessGate
	cache      SlotCache
	logger     *slog.Logger
	now        func() time.Time
}

func NewService(d Deps) *Service {
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	return &Service{
		businesses: d.Businesses,
		catalog:    d.Catalog,
		schedule:   d.Schedule,
		ledger:     d.Ledger,
		events:     d.Events,
		gate:       d.Gate,
		cache:      d.Cache,
		logger:     d.Logger,
		now:        d.Now,
	}
}

type CreateRequest struct {
	Slug           string
	ServiceID      string
	StaffUserID    *string
	StartAt        time.Time // customer-visible service start, UTC
	CustomerName   string
	CustomerPhone  string
	CustomerEmail  string
	Notes          string
	IdempotencyKey string
}

// CreateResult carries the exact response to write. Replayed results return
// the stored body byte for byte.
type CreateResult struct {
	StatusCode int
	Body       []byte
	Replayed   bool
}

type createResponse struct {
	Appointment AppointmentView `json:"appointment"`
	Access      string          `json:"access,omitempty"`
}

// Create books a slot atomically. The idempotency key is claimed inside the
// transaction; the appointment row, the outbox event, and the stored response
// commit together or not at all. A slot conflict leaves the key unfinalized so
// the client may retry with the same key.
func (s *Service) Create(ctx context.Context, req CreateRequest) (CreateResult, error) {
	if req.IdempotencyKey == "" {
		return CreateResult{}, apperr.Validation("Idempotency-Key header is required")
	}
	phone, err := NormalizePhone(req.CustomerPhone)
	if err != nil {
		return CreateResult{}, err
	}
	if req.CustomerName == "" {
		return CreateResult{}, apperr.Validation("customer_name is required")
	}

	biz, err := s.loadBusiness(ctx, req.Slug)
	if err != nil {
		return CreateResult{}, err
	}

	// Finalized keys replay without touching availability or billing state.
	if rec, found, err := s.ledger.GetIdempotency(ctx, biz.TenantID, req.IdempotencyKey); err != nil {
		return CreateResult{}, apperr.Internal("idempotency lookup failed", err)
	} else if found && rec.StatusCode != 0 {
		return CreateResult{StatusCode: rec.StatusCode, Body: rec.ResponsePayload, Replayed: true}, nil
	}

	now := s.now()
	access, err := s.gate.Check(ctx, biz, now)
	if err != nil {
		return CreateResult{}, err
	}

	svc, err := s.catalog.GetService(ctx, biz.TenantID, req.ServiceID)
	if err != nil {
		if storage.IsNotFound(err) {
			return CreateResult{}, apperr.NotFound("service")
		}
		return CreateResult{}, apperr.Internal("service lookup failed", err)
	}
	if !svc.IsActive {
		return CreateResult{}, apperr.NotFound("service")
	}

	loc, err := time.LoadLocation(biz.Timezone)
	if err != nil {
		return CreateResult{}, apperr.Internal("invalid business timezone", err)
	}
	if !req.StartAt.After(now) {
		return CreateResult{}, apperr.Validation("start_at must be in the future")
	}

	fp := footprintOf(svc)
	staffID, err := s.pickStaff(ctx, biz, req, fp, loc, now)
	if err != nil {
		return CreateResult{}, err
	}

	occupied := fp.Around(req.StartAt)
	appt := model.Appointment{
		TenantID:       biz.TenantID,
		StaffUserID:    staffID,
		ServiceID:      svc.ID,
		StartAt:        occupied.Start,
		EndAt:          occupied.End,
		Status:         model.StatusConfirmed,
		CustomerName:   req.CustomerName,
		CustomerPhone:  phone,
		CustomerEmail:  req.CustomerEmail,
		Notes:          req.Notes,
		IdempotencyKey: req.IdempotencyKey,
	}

	tx, err := s.ledger.Begin(ctx)
	if err != nil {
		return CreateResult{}, apperr.Internal("begin failed", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rec, existed, err := s.ledger.LockIdempotencyKey(ctx, tx, biz.TenantID, req.IdempotencyKey)
	if err != nil {
		return CreateResult{}, apperr.Internal("idempotency lock failed", err)
	}
	if existed && rec.StatusCode != 0 {
		if err := tx.Commit(ctx); err != nil {
			return CreateResult{}, apperr.Internal("commit failed", err)
		}
		return CreateResult{StatusCode: rec.StatusCode, Body: rec.ResponsePayload, Replayed: true}, nil
	}

	id, err := s.ledger.Insert(ctx, tx, &appt)
	if err != nil {
		if storage.IsConflict(err) {
			return CreateResult{}, apperr.SlotTaken()
		}
		return CreateResult{}, apperr.Internal("appointment insert failed", err)
	}
	appt.ID = id

	view := NewAppointmentView(appt, svc)
	resp := createResponse{Appointment: view}
	if access == model.AccessAllowWithWarning {
		resp.Access = string(access)
	}
	body, err := json.Marshal(resp)
	if err != nil {
		return CreateResult{}, apperr.Internal("response encode failed", err)
	}

	if err := s.emitEvent(ctx, tx, outbox.TopicAppointmentConfirmed, biz, svc, appt, view); err != nil {
		return CreateResult{}, apperr.Internal("outbox write failed", err)
	}
	if err := s.ledger.FinalizeIdempotency(ctx, tx, biz.TenantID, req.IdempotencyKey, id, http.StatusCreated, body); err != nil {
		return CreateResult{}, apperr.Internal("idempotency finalize failed", err)
	}
	if err := tx.Commit(ctx); err != nil {
		if storage.IsConflict(err) {
			return CreateResult{}, apperr.SlotTaken()
		}
		return CreateResult{}, apperr.Internal("commit failed", err)
	}

	s.logger.Info("appointment confirmed",
		"tenant_id", biz.TenantID,
		"appointment_id", id,
		"service_id", svc.ID,
		"start_at", view.ScheduledStartAt.Format(time.RFC3339),
	)
	return CreateResult{StatusCode: http.StatusCreated, Body: body}, nil
}

// pickStaff resolves the staff member the appointment lands on. Customers may
// request one; otherwise the first free active staff in creation order wins,
// which keeps the choice stable across idempotent retries.
func (s *Service) pickStaff(ctx context.Context, biz model.Business, req CreateRequest, fp availability.Footprint, loc *time.Location, now time.Time) (*string, error) {
	staff, err := s.catalog.ListActiveStaff(ctx, biz.TenantID)
	if err != nil {
		return nil, apperr.Internal("staff lookup failed", err)
	}

	if req.StaffUserID != nil {
		found := false
		for _, st := range staff {
			if st.ID == *req.StaffUserID {
				found = true
				break
			}
		}
		if !found {
			return nil, apperr.NotFound("staff member")
		}
		if err := s.validateSlot(ctx, biz, fp, loc, req.StaffUserID, req.StartAt, now, ""); err != nil {
			return nil, err
		}
		return req.StaffUserID, nil
	}

	if len(staff) == 0 {
		if err := s.validateSlot(ctx, biz, fp, loc, nil, req.StartAt, now, ""); err != nil {
			return nil, err
		}
		return nil, nil
	}

	for _, st := range staff {
		id := st.ID
		if err := s.validateSlot(ctx, biz, fp, loc, &id, req.StartAt, now, ""); err != nil {
			if apperr.Is(err, apperr.CodeSlotTaken) {
				continue
			}
			return nil, err
		}
		return &id, nil
	}
	return nil, apperr.SlotTaken()
}

// validateSlot recomputes the day's slots for one staff scope and checks the
// requested start is among them. excludeAppointmentID frees the caller's own
// interval during a reschedule.
func (s *Service) validateSlot(ctx context.Context, biz model.Business, fp availability.Footprint, loc *time.Location, staffID *string, startAt time.Time, now time.Time, excludeAppointmentID string) error {
	localStart := startAt.In(loc)
	date := time.Date(localStart.Year(), localStart.Month(), localStart.Day(), 0, 0, 0, 0, loc)

	rules, err := s.schedule.ListRules(ctx, biz.TenantID, staffID)
	if err != nil {
		return apperr.Internal("rules lookup failed", err)
	}
	exceptions, err := s.schedule.ListExceptions(ctx, biz.TenantID, date, date, staffID)
	if err != nil {
		return apperr.Internal("exceptions lookup failed", err)
	}
	windows := availability.DayWindows(date, rules, exceptions)
	if len(windows) == 0 {
		return apperr.SlotTaken()
	}

	dayEnd := date.AddDate(0, 0, 1)
	booked, err := s.ledger.ListBookedIntervals(ctx, biz.TenantID, staffID, date.UTC().Add(-24*time.Hour), dayEnd.UTC().Add(24*time.Hour))
	if err != nil {
		return apperr.Internal("booked intervals lookup failed", err)
	}
	busy := make([]availability.Interval, 0, len(booked))
	for _, b := range booked {
		if b.ID == excludeAppointmentID {
			continue
		}
		busy = append(busy, availability.Interval{Start: b.StartAt, End: b.EndAt})
	}

	for _, slot := range availability.SlotStarts(date, loc, windows, fp, busy, now) {
		if slot.Equal(startAt) {
			return nil
		}
	}
	return apperr.SlotTaken()
}

type ManageRequest struct {
	Slug          string
	AppointmentID string
	CustomerPhone string
	Reason        string
}

// CancelByCustomer cancels a confirmed appointment after verifying the phone
// on record. Cancellation frees the footprint immediately; the exclusion
// constraint only guards confirmed rows.
func (s *Service) CancelByCustomer(ctx context.Context, req ManageRequest) (AppointmentView, error) {
	phone, err := NormalizePhone(req.CustomerPhone)
	if err != nil {
		return AppointmentView{}, err
	}
	biz, err := s.loadBusiness(ctx, req.Slug)
	if err != nil {
		return AppointmentView{}, err
	}
	return s.cancel(ctx, biz, req.AppointmentID, phone, req.Reason)
}

// CancelByOwner cancels without phone verification; the caller is already
// authenticated for the tenant.
func (s *Service) CancelByOwner(ctx context.Context, tenantID, appointmentID, reason string) (AppointmentView, error) {
	biz, err := s.businesses.GetByTenant(ctx, tenantID)
	if err != nil {
		if storage.IsNotFound(err) {
			return AppointmentView{}, apperr.NotFound("business")
		}
		return AppointmentView{}, apperr.Internal("business lookup failed", err)
	}
	return s.cancel(ctx, biz, appointmentID, "", reason)
}

func (s *Service) cancel(ctx context.Context, biz model.Business, appointmentID, phoneDigits, reason string) (AppointmentView, error) {
	tx, err := s.ledger.Begin(ctx)
	if err != nil {
		return AppointmentView{}, apperr.Internal("begin failed", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	appt, err := s.lockForManage(ctx, tx, biz.TenantID, appointmentID, phoneDigits)
	if err != nil {
		return AppointmentView{}, err
	}
	if appt.Status != model.StatusConfirmed {
		return AppointmentView{}, apperr.Validation("appointment is not confirmed")
	}

	canceledAt, err := s.ledger.Cancel(ctx, tx, biz.TenantID, appointmentID, reason)
	if err != nil {
		return AppointmentView{}, apperr.Internal("cancel failed", err)
	}
	appt.Status = model.StatusCanceled
	appt.CanceledAt = &canceledAt
	appt.CancelReason = reason

	svc, err := s.catalog.GetService(ctx, biz.TenantID, appt.ServiceID)
	if err != nil && !storage.IsNotFound(err) {
		return AppointmentView{}, apperr.Internal("service lookup failed", err)
	}
	view := NewAppointmentView(appt, svc)

	if err := s.emitEvent(ctx, tx, outbox.TopicAppointmentCanceled, biz, svc, appt, view); err != nil {
		return AppointmentView{}, apperr.Internal("outbox write failed", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return AppointmentView{}, apperr.Internal("commit failed", err)
	}

	s.logger.Info("appointment canceled", "tenant_id", biz.TenantID, "appointment_id", appointmentID)
	return view, nil
}

type RescheduleRequest struct {
	Slug          string
	AppointmentID string
	CustomerPhone string
	NewStartAt    time.Time
}

// Reschedule moves a confirmed appointment to a new slot. The new start is
// validated against current rules and exceptions; the appointment's own
// interval does not count against it.
func (s *Service) Reschedule(ctx context.Context, req RescheduleRequest) (AppointmentView, error) {
	phone, err := NormalizePhone(req.CustomerPhone)
	if err != nil {
		return AppointmentView{}, err
	}
	biz, err := s.loadBusiness(ctx, req.Slug)
	if err != nil {
		return AppointmentView{}, err
	}

	now := s.now()
	if !req.NewStartAt.After(now) {
		return AppointmentView{}, apperr.Validation("start_at must be in the future")
	}
	if _, err := s.gate.Check(ctx, biz, now); err != nil {
		return AppointmentView{}, err
	}
	loc, err := time.LoadLocation(biz.Timezone)
	if err != nil {
		return AppointmentView{}, apperr.Internal("invalid business timezone", err)
	}

	tx, err := s.ledger.Begin(ctx)
	if err != nil {
		return AppointmentView{}, apperr.Internal("begin failed", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	appt, err := s.lockForManage(ctx, tx, biz.TenantID, req.AppointmentID, phone)
	if err != nil {
		return AppointmentView{}, err
	}
	if appt.Status != model.StatusConfirmed {
		return AppointmentView{}, apperr.Validation("appointment is not confirmed")
	}

	svc, err := s.catalog.GetService(ctx, biz.TenantID, appt.ServiceID)
	if err != nil {
		if storage.IsNotFound(err) {
			return AppointmentView{}, apperr.NotFound("service")
		}
		return AppointmentView{}, apperr.Internal("service lookup failed", err)
	}

	fp := footprintOf(svc)
	if err := s.validateSlot(ctx, biz, fp, loc, appt.StaffUserID, req.NewStartAt, now, appt.ID); err != nil {
		return AppointmentView{}, err
	}

	occupied := fp.Around(req.NewStartAt)
	if err := s.ledger.UpdateInterval(ctx, tx, biz.TenantID, appt.ID, occupied.Start, occupied.End, appt.StaffUserID); err != nil {
		if storage.IsConflict(err) {
			return AppointmentView{}, apperr.SlotTaken()
		}
		return AppointmentView{}, apperr.Internal("reschedule failed", err)
	}
	appt.StartAt = occupied.Start
	appt.EndAt = occupied.End

	view := NewAppointmentView(appt, svc)
	if err := s.emitEvent(ctx, tx, outbox.TopicAppointmentRescheduled, biz, svc, appt, view); err != nil {
		return AppointmentView{}, apperr.Internal("outbox write failed", err)
	}
	if err := tx.Commit(ctx); err != nil {
		if storage.IsConflict(err) {
			return AppointmentView{}, apperr.SlotTaken()
		}
		return AppointmentView{}, apperr.Internal("commit failed", err)
	}

	s.logger.Info("appointment rescheduled", "tenant_id", biz.TenantID, "appointment_id", appt.ID)
	return view, nil
}

// MarkNoShow flags a past confirmed appointment. Owner surface only.
func (s *Service) MarkNoShow(ctx context.Context, tenantID, appointmentID string) error {
	tx, err := s.ledger.Begin(ctx)
	if err != nil {
		return apperr.Internal("begin failed", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	appt, err := s.ledger.GetForUpdate(ctx, tx, tenantID, appointmentID)
	if err != nil {
		if storage.IsNotFound(err) {
			return apperr.NotFound("appointment")
		}
		return apperr.Internal("appointment lookup failed", err)
	}
	if appt.Status != model.StatusConfirmed {
		return apperr.Validation("appointment is not confirmed")
	}
	if appt.StartAt.After(s.now()) {
		return apperr.Validation("appointment has not started yet")
	}
	if err := s.ledger.MarkNoShow(ctx, tx, tenantID, appointmentID); err != nil {
		return apperr.Internal("no-show update failed", err)
	}
	return tx.Commit(ctx)
}

// LookupByPhone returns the customer's upcoming and very recent appointments.
func (s *Service) LookupByPhone(ctx context.Context, slug, rawPhone string) ([]AppointmentView, error) {
	phone, err := NormalizePhone(rawPhone)
	if err != nil {
		return nil, err
	}
	biz, err := s.loadBusiness(ctx, slug)
	if err != nil {
		return nil, err
	}

	appts, err := s.ledger.ListByPhone(ctx, biz.TenantID, phone, s.now())
	if err != nil {
		return nil, apperr.Internal("lookup failed", err)
	}

	views := make([]AppointmentView, 0, len(appts))
	for _, appt := range appts {
		svc, err := s.catalog.GetService(ctx, biz.TenantID, appt.ServiceID)
		if err != nil && !storage.IsNotFound(err) {
			return nil, apperr.Internal("service lookup failed", err)
		}
		views = append(views, NewAppointmentView(appt, svc))
	}
	return views, nil
}

// ListForOwner returns the tenant's appointments in a window, for the agenda
// view.
func (s *Service) ListForOwner(ctx context.Context, tenantID string, from, to time.Time, limit int) ([]AppointmentView, error) {
	appts, err := s.ledger.ListByTenant(ctx, tenantID, from, to, limit)
	if err != nil {
		return nil, apperr.Internal("appointment list failed", err)
	}
	views := make([]AppointmentView, 0, len(appts))
	for _, appt := range appts {
		svc, err := s.catalog.GetService(ctx, tenantID, appt.ServiceID)
		if err != nil && !storage.IsNotFound(err) {
			return nil, apperr.Internal("service lookup failed", err)
		}
		views = append(views, NewAppointmentView(appt, svc))
	}
	return views, nil
}

func (s *Service) lockForManage(ctx context.Context, tx pgx.Tx, tenantID, appointmentID, phoneDigits string) (model.Appointment, error) {
	var appt model.Appointment
	var err error
	if phoneDigits == "" {
		appt, err = s.ledger.GetForUpdate(ctx, tx, tenantID, appointmentID)
	} else {
		appt, err = s.ledger.FindForManage(ctx, tx, tenantID, appointmentID, phoneDigits)
	}
	if err != nil {
		if storage.IsNotFound(err) {
			return model.Appointment{}, apperr.NotFound("appointment")
		}
		return model.Appointment{}, apperr.Internal("appointment lookup failed", err)
	}
	return appt, nil
}

func (s *Service) loadBusiness(ctx context.Context, slug string) (model.Business, error) {
	biz, err := s.businesses.GetBySlug(ctx, slug)
	if err != nil {
		if storage.IsNotFound(err) {
			return model.Business{}, apperr.NotFound("business")
		}
		return model.Business{}, apperr.Internal("business lookup failed", err)
	}
	return biz, nil
}

// notificationEvent is the payload consumed by the notification worker.
type notificationEvent struct {
	TenantID         string    `json:"tenant_id"`
	BusinessName     string    `json:"business_name"`
	Timezone         string    `json:"timezone"`
	AppointmentID    string    `json:"appointment_id"`
	ServiceName      string    `json:"service_name"`
	ScheduledStartAt time.Time `json:"scheduled_start_at"`
	CustomerName     string    `json:"customer_name"`
	CustomerPhone    string    `json:"customer_phone"`
	Status           string    `json:"status"`
}

func (s *Service) emitEvent(ctx context.Context, tx pgx.Tx, topic string, biz model.Business, svc model.Service, appt model.Appointment, view AppointmentView) error {
	payload, err := json.Marshal(notificationEvent{
		TenantID:         biz.TenantID,
		BusinessName:     biz.Name,
		Timezone:         biz.Timezone,
		AppointmentID:    appt.ID,
		ServiceName:      svc.Name,
		ScheduledStartAt: view.ScheduledStartAt,
		CustomerName:     appt.CustomerName,
		CustomerPhone:    appt.CustomerPhone,
		Status:           string(appt.Status),
	})
	if err != nil {
		return err
	}
	return s.events.Insert(ctx, tx, outbox.Event{
		AggregateType: "appointment",
		AggregateID:   appt.ID,
		EventType:     topic,
		Payload:       payload,
	})
}

func footprintOf(svc model.Service) availability.Footprint {
	return availability.Footprint{
		DurationMin:     svc.DurationMin,
		BufferBeforeMin: svc.BufferBeforeMin,
		BufferAfterMin:  svc.BufferAfterMin,
	}
}
