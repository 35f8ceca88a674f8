package booking

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/jorgekeles/sistema-barberia/internal/apperr"
	"github.com/jorgekeles/sistema-barberia/internal/availability"
	"github.com/jorgekeles/sistema-barberia/internal/model"
	"github.com/jorgekeles/sistema-barberia/internal/storage"
)

// SlotCache is a short-TTL read cache for slot pages. The key embeds the
// tenant's schedule_version, so rule and exception writes invalidate by
// changing the key rather than by deleting entries.
type SlotCache interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, val []byte)
}

const (
	maxSlotRangeDays = 31
	maxSlotLimit     = 200
)

type SlotQuery struct {
	Slug        string
	ServiceID   string
	StaffUserID *string
	From        time.Time // tenant-local dates, midnight
	To          time.Time
	Limit       int // max slot starts in the page, capped at 200
}

type DaySlots struct {
	Date   string      `json:"date"` // YYYY-MM-DD, tenant-local
	Starts []time.Time `json:"starts"`
}

type SlotPage struct {
	BusinessName string     `json:"business_name"`
	Timezone     string     `json:"timezone"`
	ServiceID    string     `json:"service_id"`
	DurationMin  int        `json:"duration_min"`
	Days         []DaySlots `json:"days"`
	Access       string     `json:"access,omitempty"`
}

// AvailableSlots computes the bookable start times for each date in the range.
// A slot is offered when at least one staff member in scope can take it.
func (s *Service) AvailableSlots(ctx context.Context, q SlotQuery) (SlotPage, error) {
	biz, err := s.loadBusiness(ctx, q.Slug)
	if err != nil {
		return SlotPage{}, err
	}

	now := s.now()
	access, err := s.gate.Check(ctx, biz, now)
	if err != nil {
		// A billing-driven block hides availability rather than failing the
		// public page. Only the public_booking_enabled toggle refuses outright.
		if biz.PublicBookingEnabled && apperr.Is(err, apperr.CodeForbidden) {
			return SlotPage{
				BusinessName: biz.Name,
				Timezone:     biz.Timezone,
				ServiceID:    q.ServiceID,
				Days:         []DaySlots{},
			}, nil
		}
		return SlotPage{}, err
	}

	if q.To.Before(q.From) {
		return SlotPage{}, apperr.Validation("to must not be before from")
	}
	if int(q.To.Sub(q.From).Hours()/24) >= maxSlotRangeDays {
		return SlotPage{}, apperr.Validation("date range must not exceed %d days", maxSlotRangeDays)
	}
	if q.Limit <= 0 || q.Limit > maxSlotLimit {
		q.Limit = maxSlotLimit
	}

	cacheKey := s.slotCacheKey(biz, q)
	if s.cache != nil {
		if raw, ok := s.cache.Get(ctx, cacheKey); ok {
			var page SlotPage
			if err := json.Unmarshal(raw, &page); err == nil {
				return page, nil
			}
		}
	}

	svc, err := s.catalog.GetService(ctx, biz.TenantID, q.ServiceID)
	if err != nil {
		if storage.IsNotFound(err) {
			return SlotPage{}, apperr.NotFound("service")
		}
		return SlotPage{}, apperr.Internal("service lookup failed", err)
	}
	if !svc.IsActive {
		return SlotPage{}, apperr.NotFound("service")
	}

	loc, err := time.LoadLocation(biz.Timezone)
	if err != nil {
		return SlotPage{}, apperr.Internal("invalid business timezone", err)
	}

	scopes, err := s.staffScopes(ctx, biz.TenantID, q.StaffUserID)
	if err != nil {
		return SlotPage{}, err
	}

	fp := footprintOf(svc)
	rangeStart := localDate(q.From, loc)
	rangeEnd := localDate(q.To, loc).AddDate(0, 0, 1)

	type scopeData struct {
		staffID    *string
		rules      []model.AvailabilityRule
		exceptions []model.AvailabilityException
		busy       []availability.Interval
	}
	data := make([]scopeData, 0, len(scopes))
	for _, staffID := range scopes {
		rules, err := s.schedule.ListRules(ctx, biz.TenantID, staffID)
		if err != nil {
			return SlotPage{}, apperr.Internal("rules lookup failed", err)
		}
		exceptions, err := s.schedule.ListExceptions(ctx, biz.TenantID, rangeStart, rangeEnd, staffID)
		if err != nil {
			return SlotPage{}, apperr.Internal("exceptions lookup failed", err)
		}
		booked, err := s.ledger.ListBookedIntervals(ctx, biz.TenantID, staffID, rangeStart.UTC().Add(-24*time.Hour), rangeEnd.UTC().Add(24*time.Hour))
		if err != nil {
			return SlotPage{}, apperr.Internal("booked intervals lookup failed", err)
		}
		busy := make([]availability.Interval, 0, len(booked))
		for _, b := range booked {
			busy = append(busy, availability.Interval{Start: b.StartAt, End: b.EndAt})
		}
		data = append(data, scopeData{staffID: staffID, rules: rules, exceptions: exceptions, busy: busy})
	}

	page := SlotPage{
		BusinessName: biz.Name,
		Timezone:     biz.Timezone,
		ServiceID:    svc.ID,
		DurationMin:  svc.DurationMin,
	}
	if access == model.AccessAllowWithWarning {
		page.Access = string(access)
	}

	total := 0
	for date := rangeStart; date.Before(rangeEnd); date = date.AddDate(0, 0, 1) {
		seen := make(map[int64]struct{})
		var starts []time.Time
		for _, sc := range data {
			windows := availability.DayWindows(date, sc.rules, sc.exceptions)
			for _, slot := range availability.SlotStarts(date, loc, windows, fp, sc.busy, now) {
				key := slot.Unix()
				if _, dup := seen[key]; dup {
					continue
				}
				seen[key] = struct{}{}
				starts = append(starts, slot)
			}
		}
		sort.Slice(starts, func(i, j int) bool { return starts[i].Before(starts[j]) })
		if total+len(starts) > q.Limit {
			starts = starts[:q.Limit-total]
		}
		total += len(starts)
		page.Days = append(page.Days, DaySlots{Date: date.Format("2006-01-02"), Starts: starts})
		if total >= q.Limit {
			break
		}
	}

	if s.cache != nil {
		if raw, err := json.Marshal(page); err == nil {
			s.cache.Set(ctx, cacheKey, raw)
		}
	}
	return page, nil
}

// staffScopes returns the staff ids to compute over: the requested staff, all
// active staff, or a single nil scope when the tenant has no staff rows.
func (s *Service) staffScopes(ctx context.Context, tenantID string, requested *string) ([]*string, error) {
	staff, err := s.catalog.ListActiveStaff(ctx, tenantID)
	if err != nil {
		return nil, apperr.Internal("staff lookup failed", err)
	}
	if requested != nil {
		for _, st := range staff {
			if st.ID == *requested {
				id := st.ID
				return []*string{&id}, nil
			}
		}
		return nil, apperr.NotFound("staff member")
	}
	if len(staff) == 0 {
		return []*string{nil}, nil
	}
	scopes := make([]*string, 0, len(staff))
	for _, st := range staff {
		id := st.ID
		scopes = append(scopes, &id)
	}
	return scopes, nil
}

func (s *Service) slotCacheKey(biz model.Business, q SlotQuery) string {
	staff := "any"
	if q.StaffUserID != nil {
		staff = *q.StaffUserID
	}
	return fmt.Sprintf("slots:%s:v%d:%s:%s:%s:%s:%d",
		biz.TenantID, biz.ScheduleVersion, q.ServiceID, staff,
		q.From.Format("2006-01-02"), q.To.Format("2006-01-02"), q.Limit)
}

func localDate(t time.Time, loc *time.Location) time.Time {
	lt := t.In(loc)
	return time.Date(lt.Year(), lt.Month(), lt.Day(), 0, 0, 0, 0, loc)
}
