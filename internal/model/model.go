// Package model holds the entities shared across storage and services.
// Every entity belongs to exactly one tenant; tenant_id is never optional.
package model

import "time"

type Business struct {
	TenantID                  string
	Slug                      string
	Name                      string
	Timezone                  string // IANA name
	ScheduleVersion           int64
	PublicBookingEnabled      bool
	BlockPublicOnBillingIssue bool
	TrialEndsAt               time.Time
	CreatedAt                 time.Time
	DeletedAt                 *time.Time
}

type Service struct {
	ID              string
	TenantID        string
	Name            string
	DurationMin     int
	BufferBeforeMin int
	BufferAfterMin  int
	Price           string
	IsActive        bool
	CreatedAt       time.Time
	DeletedAt       *time.Time
}

type Staff struct {
	ID        string
	TenantID  string
	FullName  string
	IsActive  bool
	CreatedAt time.Time
}

// AvailabilityRule is a recurring weekly open window. StaffUserID nil means
// the rule applies to every staff member of the tenant.
type AvailabilityRule struct {
	ID          string
	TenantID    string
	StaffUserID *string
	DayOfWeek   int    // 0-6, Sunday=0
	StartLocal  string // HH:MM wall clock
	EndLocal    string
	SlotStepMin int
	ValidFrom   time.Time
	ValidTo     *time.Time
	IsActive    bool
	CreatedAt   time.Time
}

type ExceptionKind string

const (
	ExceptionClosedFullDay ExceptionKind = "closed_full_day"
	ExceptionClosedPartial ExceptionKind = "closed_partial"
	ExceptionOpenSpecial   ExceptionKind = "open_special"
	ExceptionManualBlock   ExceptionKind = "manual_block"
)

// AvailabilityException is a date-specific override. Higher priority wins;
// closed_full_day clears the date regardless of priority.
type AvailabilityException struct {
	ID            string
	TenantID      string
	StaffUserID   *string
	ExceptionDate time.Time // date only, tenant-local
	Kind          ExceptionKind
	StartLocal    string // HH:MM, empty for closed_full_day
	EndLocal      string
	Reason        string
	Priority      int // 1-1000
	CreatedAt     time.Time
}

type AppointmentStatus string

const (
	StatusConfirmed AppointmentStatus = "confirmed"
	StatusCanceled  AppointmentStatus = "canceled"
	StatusNoShow    AppointmentStatus = "no_show"
)

// Appointment rows span the full buffered footprint: StartAt is the service
// start minus buffer_before, EndAt is the service end plus buffer_after. The
// customer-visible start is StartAt + buffer_before.
type Appointment struct {
	ID             string
	TenantID       string
	StaffUserID    *string
	ServiceID      string
	StartAt        time.Time // UTC
	EndAt          time.Time // UTC
	Status         AppointmentStatus
	CustomerName   string
	CustomerPhone  string
	CustomerEmail  string
	Notes          string
	IdempotencyKey string
	CanceledAt     *time.Time
	CancelReason   string
	CreatedAt      time.Time
	DeletedAt      *time.Time
}

type Access string

const (
	AccessAllow            Access = "allow"
	AccessAllowWithWarning Access = "allow_with_warning"
	AccessBlock            Access = "block"
)

type Subscription struct {
	TenantID             string
	Tier                 string
	Status               string // active, trialing, grace, past_due, canceled
	Provider             string
	StripeCustomerID     string
	StripeSubscriptionID string
	CurrentPeriodStart   *time.Time
	CurrentPeriodEnd     *time.Time
	GraceEndsAt          *time.Time
	UpdatedAt            time.Time
}

type WhatsAppSettings struct {
	TenantID      string
	Enabled       bool
	PhoneNumberID string
	APIToken      string
}
