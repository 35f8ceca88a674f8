package booking

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/jorgekeles/sistema-barberia/internal/model"
	"github.com/jorgekeles/sistema-barberia/internal/outbox"
	"github.com/jorgekeles/sistema-barberia/internal/storage"
)

// fakeTx satisfies pgx.Tx for the in-memory stores; only Commit and Rollback
// are ever called on it.
type fakeTx struct{ pgx.Tx }

func (fakeTx) Commit(context.Context) error   { return nil }
func (fakeTx) Rollback(context.Context) error { return nil }

type fakeBusinesses struct {
	biz model.Business
}

func (f *fakeBusinesses) GetBySlug(_ context.Context, slug string) (model.Business, error) {
	if slug != f.biz.Slug {
		return model.Business{}, pgx.ErrNoRows
	}
	return f.biz, nil
}

func (f *fakeBusinesses) GetByTenant(_ context.Context, tenantID string) (model.Business, error) {
	if tenantID != f.biz.TenantID {
		return model.Business{}, pgx.ErrNoRows
	}
	return f.biz, nil
}

type fakeCatalog struct {
	services map[string]model.Service
	staff    []model.Staff
}

func (f *fakeCatalog) GetService(_ context.Context, _, serviceID string) (model.Service, error) {
	svc, ok := f.services[serviceID]
	if !ok {
		return model.Service{}, pgx.ErrNoRows
	}
	return svc, nil
}

func (f *fakeCatalog) ListActiveStaff(context.Context, string) ([]model.Staff, error) {
	return f.staff, nil
}

type fakeSchedule struct {
	rules      []model.AvailabilityRule
	exceptions []model.AvailabilityException
}

func (f *fakeSchedule) ListRules(_ context.Context, _ string, staffUserID *string) ([]model.AvailabilityRule, error) {
	var out []model.AvailabilityRule
	for _, r := range f.rules {
		if r.StaffUserID == nil || (staffUserID != nil && *r.StaffUserID == *staffUserID) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeSchedule) ListExceptions(_ context.Context, _ string, from, to time.Time, staffUserID *string) ([]model.AvailabilityException, error) {
	var out []model.AvailabilityException
	for _, e := range f.exceptions {
		if e.ExceptionDate.Before(from) || e.ExceptionDate.After(to) {
			continue
		}
		if e.StaffUserID == nil || (staffUserID != nil && *e.StaffUserID == *staffUserID) {
			out = append(out, e)
		}
	}
	return out, nil
}

// fakeLedger emulates the appointments table including the exclusion
// constraint: inserting a confirmed row whose footprint overlaps another
// confirmed row in the same staff scope fails with SQLSTATE 23P01.
type fakeLedger struct {
	mu    sync.Mutex
	seq   int
	appts map[string]*model.Appointment
	idem  map[string]*storage.IdempotencyRecord
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{
		appts: make(map[string]*model.Appointment),
		idem:  make(map[string]*storage.IdempotencyRecord),
	}
}

func conflictErr() error { return &pgconn.PgError{Code: "23P01"} }

func staffScopeEqual(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func (f *fakeLedger) Begin(context.Context) (pgx.Tx, error) { return fakeTx{}, nil }

func (f *fakeLedger) GetIdempotency(_ context.Context, tenantID, key string) (storage.IdempotencyRecord, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.idem[tenantID+"/"+key]
	if !ok {
		return storage.IdempotencyRecord{}, false, nil
	}
	return *rec, true, nil
}

func (f *fakeLedger) LockIdempotencyKey(_ context.Context, _ pgx.Tx, tenantID, key string) (storage.IdempotencyRecord, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	k := tenantID + "/" + key
	if rec, ok := f.idem[k]; ok {
		return *rec, true, nil
	}
	rec := &storage.IdempotencyRecord{TenantID: tenantID, IdempotencyKey: key}
	f.idem[k] = rec
	return *rec, false, nil
}

func (f *fakeLedger) FinalizeIdempotency(_ context.Context, _ pgx.Tx, tenantID, key, appointmentID string, statusCode int, response []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.idem[tenantID+"/"+key]
	if !ok {
		return fmt.Errorf("idempotency key %q not locked", key)
	}
	rec.AppointmentID = appointmentID
	rec.StatusCode = statusCode
	rec.ResponsePayload = response
	return nil
}

func (f *fakeLedger) Insert(_ context.Context, _ pgx.Tx, appt *model.Appointment) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, other := range f.appts {
		if other.TenantID != appt.TenantID || other.Status != model.StatusConfirmed {
			continue
		}
		if !staffScopeEqual(other.StaffUserID, appt.StaffUserID) {
			continue
		}
		if appt.StartAt.Before(other.EndAt) && other.StartAt.Before(appt.EndAt) {
			return "", conflictErr()
		}
	}
	f.seq++
	id := fmt.Sprintf("appt-%d", f.seq)
	cp := *appt
	cp.ID = id
	f.appts[id] = &cp
	return id, nil
}

func (f *fakeLedger) Get(_ context.Context, tenantID, appointmentID string) (model.Appointment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.find(tenantID, appointmentID)
}

func (f *fakeLedger) GetForUpdate(_ context.Context, _ pgx.Tx, tenantID, appointmentID string) (model.Appointment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.find(tenantID, appointmentID)
}

func (f *fakeLedger) FindForManage(_ context.Context, _ pgx.Tx, tenantID, appointmentID, phoneDigits string) (model.Appointment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	appt, err := f.find(tenantID, appointmentID)
	if err != nil {
		return model.Appointment{}, err
	}
	if appt.CustomerPhone != phoneDigits {
		return model.Appointment{}, pgx.ErrNoRows
	}
	return appt, nil
}

func (f *fakeLedger) Cancel(_ context.Context, _ pgx.Tx, tenantID, appointmentID, reason string) (time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	appt, ok := f.appts[appointmentID]
	if !ok || appt.TenantID != tenantID || appt.Status != model.StatusConfirmed {
		return time.Time{}, pgx.ErrNoRows
	}
	now := time.Now().UTC()
	appt.Status = model.StatusCanceled
	appt.CanceledAt = &now
	appt.CancelReason = reason
	return now, nil
}

func (f *fakeLedger) MarkNoShow(_ context.Context, _ pgx.Tx, tenantID, appointmentID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	appt, ok := f.appts[appointmentID]
	if !ok || appt.TenantID != tenantID || appt.Status != model.StatusConfirmed {
		return pgx.ErrNoRows
	}
	appt.Status = model.StatusNoShow
	return nil
}

func (f *fakeLedger) UpdateInterval(_ context.Context, _ pgx.Tx, tenantID, appointmentID string, startAt, endAt time.Time, staffUserID *string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	appt, ok := f.appts[appointmentID]
	if !ok || appt.TenantID != tenantID || appt.Status != model.StatusConfirmed {
		return pgx.ErrNoRows
	}
	for id, other := range f.appts {
		if id == appointmentID || other.TenantID != tenantID || other.Status != model.StatusConfirmed {
			continue
		}
		if !staffScopeEqual(other.StaffUserID, staffUserID) {
			continue
		}
		if startAt.Before(other.EndAt) && other.StartAt.Before(endAt) {
			return conflictErr()
		}
	}
	appt.StartAt = startAt
	appt.EndAt = endAt
	appt.StaffUserID = staffUserID
	return nil
}

func (f *fakeLedger) ListBookedIntervals(_ context.Context, tenantID string, staffUserID *string, start, end time.Time) ([]model.Appointment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Appointment
	for _, appt := range f.appts {
		if appt.TenantID != tenantID || appt.Status != model.StatusConfirmed {
			continue
		}
		if staffUserID != nil && appt.StaffUserID != nil && *appt.StaffUserID != *staffUserID {
			continue
		}
		if appt.StartAt.Before(end) && start.Before(appt.EndAt) {
			out = append(out, *appt)
		}
	}
	return out, nil
}

func (f *fakeLedger) ListByPhone(_ context.Context, tenantID, phoneDigits string, now time.Time) ([]model.Appointment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Appointment
	for _, appt := range f.appts {
		if appt.TenantID != tenantID || appt.CustomerPhone != phoneDigits {
			continue
		}
		if appt.Status != model.StatusConfirmed || appt.EndAt.Before(now.Add(-2*time.Hour)) {
			continue
		}
		out = append(out, *appt)
	}
	return out, nil
}

func (f *fakeLedger) ListByTenant(_ context.Context, tenantID string, from, to time.Time, limit int) ([]model.Appointment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Appointment
	for _, appt := range f.appts {
		if appt.TenantID != tenantID {
			continue
		}
		if appt.StartAt.Before(to) && from.Before(appt.EndAt) {
			out = append(out, *appt)
		}
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (f *fakeLedger) find(tenantID, appointmentID string) (model.Appointment, error) {
	appt, ok := f.appts[appointmentID]
	if !ok || appt.TenantID != tenantID {
		return model.Appointment{}, pgx.ErrNoRows
	}
	return *appt, nil
}

func (f *fakeLedger) confirmedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, appt := range f.appts {
		if appt.Status == model.StatusConfirmed {
			n++
		}
	}
	return n
}

type fakeEvents struct {
	mu     sync.Mutex
	events []outbox.Event
}

func (f *fakeEvents) Insert(_ context.Context, _ pgx.Tx, evt outbox.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, evt)
	return nil
}

func (f *fakeEvents) byTopic(topic string) []outbox.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []outbox.Event
	for _, e := range f.events {
		if e.EventType == topic {
			out = append(out, e)
		}
	}
	return out
}

type fakeGate struct {
	access model.Access
	err    error
}

func (f *fakeGate) Check(context.Context, model.Business, time.Time) (model.Access, error) {
	return f.access, f.err
}

type fakeCache struct {
	mu   sync.Mutex
	data map[string][]byte
	hits int
}

func newFakeCache() *fakeCache { return &fakeCache{data: make(map[string][]byte)} }

func (f *fakeCache) Get(_ context.Context, key string) ([]byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	raw, ok := f.data[key]
	if ok {
		f.hits++
	}
	return raw, ok
}

func (f *fakeCache) Set(_ context.Context, key string, val []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data[key] = val
}
