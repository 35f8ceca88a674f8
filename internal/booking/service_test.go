package booking

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/jorgekeles/sistema-barberia/internal/apperr"
	"github.com/jorgekeles/sistema-barberia/internal/model"
	"github.com/jorgekeles/sistema-barberia/internal/outbox"
)

var (
	testNow    = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) // Sunday
	testMonday = time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
)

type env struct {
	svc        *Service
	businesses *fakeBusinesses
	catalog    *fakeCatalog
	schedule   *fakeSchedule
	ledger     *fakeLedger
	events     *fakeEvents
	gate       *fakeGate
}

func newEnv(t *testing.T) *env {
	t.Helper()
	e := &env{
		businesses: &fakeBusinesses{biz: model.Business{
			TenantID:             "t1",
			Slug:                 "corte-fino",
			Name:                 "Corte Fino",
			Timezone:             "UTC",
			ScheduleVersion:      1,
			PublicBookingEnabled: true,
		}},
		catalog: &fakeCatalog{services: map[string]model.Service{
			"svc-plain": {ID: "svc-plain", TenantID: "t1", Name: "Corte", DurationMin: 30, IsActive: true},
			"svc-buf":   {ID: "svc-buf", TenantID: "t1", Name: "Corte y barba", DurationMin: 30, BufferBeforeMin: 10, BufferAfterMin: 5, IsActive: true},
		}},
		schedule: &fakeSchedule{rules: []model.AvailabilityRule{{
			ID: "r1", TenantID: "t1", DayOfWeek: 1,
			StartLocal: "09:00", EndLocal: "18:00", SlotStepMin: 15,
			ValidFrom: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), IsActive: true,
		}}},
		ledger: newFakeLedger(),
		events: &fakeEvents{},
		gate:   &fakeGate{access: model.AccessAllow},
	}
	e.svc = NewService(Deps{
		Businesses: e.businesses,
		Catalog:    e.catalog,
		Schedule:   e.schedule,
		Ledger:     e.ledger,
		Events:     e.events,
		Gate:       e.gate,
		Now:        func() time.Time { return testNow },
	})
	return e
}

func createReq(serviceID, key string, start time.Time) CreateRequest {
	return CreateRequest{
		Slug:           "corte-fino",
		ServiceID:      serviceID,
		StartAt:        start,
		CustomerName:   "Ana Gomez",
		CustomerPhone:  "+54 11 5555-1234",
		IdempotencyKey: key,
	}
}

func TestCreate_Succeeds(t *testing.T) {
	e := newEnv(t)
	start := testMonday.Add(10 * time.Hour)

	res, err := e.svc.Create(context.Background(), createReq("svc-buf", "k1", start))
	if err != nil {
		t.Fatal(err)
	}
	if res.StatusCode != http.StatusCreated || res.Replayed {
		t.Fatalf("unexpected result: %+v", res)
	}

	var resp createResponse
	if err := json.Unmarshal(res.Body, &resp); err != nil {
		t.Fatal(err)
	}
	if !resp.Appointment.ScheduledStartAt.Equal(start) {
		t.Fatalf("visible start %s, want %s", resp.Appointment.ScheduledStartAt, start)
	}

	appt, err := e.ledger.Get(context.Background(), "t1", resp.Appointment.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !appt.StartAt.Equal(start.Add(-10*time.Minute)) || !appt.EndAt.Equal(start.Add(35*time.Minute)) {
		t.Fatalf("stored footprint [%s, %s), want [09:50, 10:35)", appt.StartAt, appt.EndAt)
	}
	if got := e.events.byTopic(outbox.TopicAppointmentConfirmed); len(got) != 1 {
		t.Fatalf("expected 1 confirmed event, got %d", len(got))
	}
}

func TestCreate_IdempotentReplay(t *testing.T) {
	e := newEnv(t)
	req := createReq("svc-plain", "k1", testMonday.Add(10*time.Hour))

	first, err := e.svc.Create(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	second, err := e.svc.Create(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	if !second.Replayed {
		t.Fatal("second call with the same key must replay")
	}
	if string(second.Body) != string(first.Body) {
		t.Fatalf("replayed body differs:\n%s\n%s", first.Body, second.Body)
	}
	if n := e.ledger.confirmedCount(); n != 1 {
		t.Fatalf("expected 1 appointment, got %d", n)
	}
	if got := e.events.byTopic(outbox.TopicAppointmentConfirmed); len(got) != 1 {
		t.Fatalf("replay must not emit another event, got %d", len(got))
	}
}

func TestCreate_SlotTaken(t *testing.T) {
	e := newEnv(t)
	start := testMonday.Add(10 * time.Hour)

	if _, err := e.svc.Create(context.Background(), createReq("svc-plain", "k1", start)); err != nil {
		t.Fatal(err)
	}
	_, err := e.svc.Create(context.Background(), createReq("svc-plain", "k2", start))
	if !apperr.Is(err, apperr.CodeSlotTaken) {
		t.Fatalf("expected SLOT_TAKEN, got %v", err)
	}
}

func TestCreate_BufferedFootprintBlocksNeighbors(t *testing.T) {
	e := newEnv(t)
	start := testMonday.Add(10 * time.Hour)
	if _, err := e.svc.Create(context.Background(), createReq("svc-buf", "k1", start)); err != nil {
		t.Fatal(err)
	}

	// 10:30 starts inside the booked footprint [09:50, 10:35).
	_, err := e.svc.Create(context.Background(), createReq("svc-plain", "k2", testMonday.Add(10*time.Hour+30*time.Minute)))
	if !apperr.Is(err, apperr.CodeSlotTaken) {
		t.Fatalf("expected SLOT_TAKEN inside footprint, got %v", err)
	}

	// 10:45 clears it.
	if _, err := e.svc.Create(context.Background(), createReq("svc-plain", "k3", testMonday.Add(10*time.Hour+45*time.Minute))); err != nil {
		t.Fatal(err)
	}
}

func TestCreate_ConcurrentSameSlot(t *testing.T) {
	e := newEnv(t)
	start := testMonday.Add(11 * time.Hour)

	const n = 8
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = e.svc.Create(context.Background(), createReq("svc-plain", fmt.Sprintf("k%d", i), start))
		}(i)
	}
	wg.Wait()

	won := 0
	for _, err := range errs {
		switch {
		case err == nil:
			won++
		case apperr.Is(err, apperr.CodeSlotTaken):
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if won != 1 {
		t.Fatalf("expected exactly 1 winner, got %d", won)
	}
	if n := e.ledger.confirmedCount(); n != 1 {
		t.Fatalf("expected 1 stored appointment, got %d", n)
	}
}

func TestCreate_GateBlocks(t *testing.T) {
	e := newEnv(t)
	e.gate.err = apperr.Forbidden("Booking is temporarily unavailable for this business")
	_, err := e.svc.Create(context.Background(), createReq("svc-plain", "k1", testMonday.Add(10*time.Hour)))
	if !apperr.Is(err, apperr.CodeForbidden) {
		t.Fatalf("expected FORBIDDEN, got %v", err)
	}
}

func TestCreate_PastStartRejected(t *testing.T) {
	e := newEnv(t)
	_, err := e.svc.Create(context.Background(), createReq("svc-plain", "k1", testNow.Add(-time.Hour)))
	if !apperr.Is(err, apperr.CodeValidation) {
		t.Fatalf("expected VALIDATION_ERROR, got %v", err)
	}
}

func TestCreate_OffGridStartRejected(t *testing.T) {
	e := newEnv(t)
	_, err := e.svc.Create(context.Background(), createReq("svc-plain", "k1", testMonday.Add(10*time.Hour+7*time.Minute)))
	if !apperr.Is(err, apperr.CodeSlotTaken) {
		t.Fatalf("expected SLOT_TAKEN for off-grid start, got %v", err)
	}
}

func TestCancel_FreesSlot(t *testing.T) {
	e := newEnv(t)
	start := testMonday.Add(10 * time.Hour)
	res, err := e.svc.Create(context.Background(), createReq("svc-plain", "k1", start))
	if err != nil {
		t.Fatal(err)
	}
	var resp createResponse
	if err := json.Unmarshal(res.Body, &resp); err != nil {
		t.Fatal(err)
	}

	view, err := e.svc.CancelByCustomer(context.Background(), ManageRequest{
		Slug:          "corte-fino",
		AppointmentID: resp.Appointment.ID,
		CustomerPhone: "54 (11) 5555 1234",
		Reason:        "no puedo ir",
	})
	if err != nil {
		t.Fatal(err)
	}
	if view.Status != string(model.StatusCanceled) || view.CanceledAt == nil {
		t.Fatalf("unexpected view after cancel: %+v", view)
	}
	if got := e.events.byTopic(outbox.TopicAppointmentCanceled); len(got) != 1 {
		t.Fatalf("expected 1 canceled event, got %d", len(got))
	}

	if _, err := e.svc.Create(context.Background(), createReq("svc-plain", "k2", start)); err != nil {
		t.Fatalf("canceled slot must be bookable again: %v", err)
	}
}

func TestCancel_WrongPhone(t *testing.T) {
	e := newEnv(t)
	res, err := e.svc.Create(context.Background(), createReq("svc-plain", "k1", testMonday.Add(10*time.Hour)))
	if err != nil {
		t.Fatal(err)
	}
	var resp createResponse
	if err := json.Unmarshal(res.Body, &resp); err != nil {
		t.Fatal(err)
	}

	_, err = e.svc.CancelByCustomer(context.Background(), ManageRequest{
		Slug:          "corte-fino",
		AppointmentID: resp.Appointment.ID,
		CustomerPhone: "+54 11 9999-0000",
	})
	if !apperr.Is(err, apperr.CodeNotFound) {
		t.Fatalf("wrong phone must not reveal the appointment, got %v", err)
	}
}

func TestReschedule_OwnIntervalDoesNotBlock(t *testing.T) {
	e := newEnv(t)
	res, err := e.svc.Create(context.Background(), createReq("svc-plain", "k1", testMonday.Add(10*time.Hour)))
	if err != nil {
		t.Fatal(err)
	}
	var resp createResponse
	if err := json.Unmarshal(res.Body, &resp); err != nil {
		t.Fatal(err)
	}

	// 10:15 overlaps only the appointment's own footprint [10:00, 10:30).
	newStart := testMonday.Add(10*time.Hour + 15*time.Minute)
	view, err := e.svc.Reschedule(context.Background(), RescheduleRequest{
		Slug:          "corte-fino",
		AppointmentID: resp.Appointment.ID,
		CustomerPhone: "+54 11 5555-1234",
		NewStartAt:    newStart,
	})
	if err != nil {
		t.Fatal(err)
	}
	if !view.ScheduledStartAt.Equal(newStart) {
		t.Fatalf("visible start %s, want %s", view.ScheduledStartAt, newStart)
	}
	if got := e.events.byTopic(outbox.TopicAppointmentRescheduled); len(got) != 1 {
		t.Fatalf("expected 1 rescheduled event, got %d", len(got))
	}
}

func TestReschedule_TargetTaken(t *testing.T) {
	e := newEnv(t)
	res, err := e.svc.Create(context.Background(), createReq("svc-plain", "k1", testMonday.Add(10*time.Hour)))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := e.svc.Create(context.Background(), createReq("svc-plain", "k2", testMonday.Add(11*time.Hour))); err != nil {
		t.Fatal(err)
	}
	var resp createResponse
	if err := json.Unmarshal(res.Body, &resp); err != nil {
		t.Fatal(err)
	}

	_, err = e.svc.Reschedule(context.Background(), RescheduleRequest{
		Slug:          "corte-fino",
		AppointmentID: resp.Appointment.ID,
		CustomerPhone: "+54 11 5555-1234",
		NewStartAt:    testMonday.Add(11 * time.Hour),
	})
	if !apperr.Is(err, apperr.CodeSlotTaken) {
		t.Fatalf("expected SLOT_TAKEN, got %v", err)
	}
}

func TestMarkNoShow(t *testing.T) {
	e := newEnv(t)
	res, err := e.svc.Create(context.Background(), createReq("svc-plain", "k1", testMonday.Add(10*time.Hour)))
	if err != nil {
		t.Fatal(err)
	}
	var resp createResponse
	if err := json.Unmarshal(res.Body, &resp); err != nil {
		t.Fatal(err)
	}

	// Still in the future relative to the fixed clock.
	err = e.svc.MarkNoShow(context.Background(), "t1", resp.Appointment.ID)
	if !apperr.Is(err, apperr.CodeValidation) {
		t.Fatalf("future appointment must not be markable, got %v", err)
	}
}

func TestLookupByPhone(t *testing.T) {
	e := newEnv(t)
	if _, err := e.svc.Create(context.Background(), createReq("svc-plain", "k1", testMonday.Add(10*time.Hour))); err != nil {
		t.Fatal(err)
	}

	views, err := e.svc.LookupByPhone(context.Background(), "corte-fino", "(54) 11 5555 1234")
	if err != nil {
		t.Fatal(err)
	}
	if len(views) != 1 {
		t.Fatalf("expected 1 appointment, got %d", len(views))
	}
	if views[0].ServiceName != "Corte" {
		t.Fatalf("unexpected service name %q", views[0].ServiceName)
	}
}

func TestNormalizePhone(t *testing.T) {
	got, err := NormalizePhone("+54 (11) 5555-1234")
	if err != nil || got != "541155551234" {
		t.Fatalf("NormalizePhone = %q, %v", got, err)
	}
	if _, err := NormalizePhone("12345"); !apperr.Is(err, apperr.CodeValidation) {
		t.Fatalf("short phone must fail validation, got %v", err)
	}
}
