package booking

import (
	"strings"
	"time"

	"github.com/jorgekeles/sistema-barberia/internal/apperr"
	"github.com/jorgekeles/sistema-barberia/internal/model"
)

// AppointmentView is the customer-facing shape of an appointment. The stored
// row spans the buffered footprint; the view exposes the service start.
type AppointmentView struct {
	ID               string     `json:"id"`
	ServiceID        string     `json:"service_id"`
	ServiceName      string     `json:"service_name,omitempty"`
	StaffUserID      *string    `json:"staff_user_id,omitempty"`
	ScheduledStartAt time.Time  `json:"scheduled_start_at"`
	DurationMin      int        `json:"duration_min"`
	Status           string     `json:"status"`
	CustomerName     string     `json:"customer_name"`
	CanceledAt       *time.Time `json:"canceled_at,omitempty"`
}

// NewAppointmentView derives the visible start from the stored footprint.
func NewAppointmentView(appt model.Appointment, svc model.Service) AppointmentView {
	return AppointmentView{
		ID:               appt.ID,
		ServiceID:        appt.ServiceID,
		ServiceName:      svc.Name,
		StaffUserID:      appt.StaffUserID,
		ScheduledStartAt: appt.StartAt.Add(time.Duration(svc.BufferBeforeMin) * time.Minute),
		DurationMin:      svc.DurationMin,
		Status:           string(appt.Status),
		CustomerName:     appt.CustomerName,
		CanceledAt:       appt.CanceledAt,
	}
}

// NormalizePhone strips everything but digits. Matching and storage both use
// the normalized form so formatting differences never split a customer.
func NormalizePhone(raw string) (string, error) {
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	if len(digits) < 7 || len(digits) > 15 {
		return "", apperr.Validation("phone must contain 7 to 15 digits")
	}
	return digits, nil
}
