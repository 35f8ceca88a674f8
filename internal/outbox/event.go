package outbox

// Event is the domain event envelope written to the outbox table.
// The Kafka topic name equals EventType (event per topic).
type Event struct {
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

const (
	// TopicAppointmentConfirmed carries the notification payload for newly
	// confirmed bookings.
	TopicAppointmentConfirmed = "booking.appointment.confirmed.v1"
	// TopicAppointmentCanceled is published when a booking is canceled by the
	// customer or the owner.
	TopicAppointmentCanceled = "booking.appointment.canceled.v1"
	// TopicAppointmentRescheduled is published after a successful reschedule.
	TopicAppointmentRescheduled = "booking.appointment.rescheduled.v1"
	// TopicSubscriptionUpdated mirrors provider-driven subscription changes.
	TopicSubscriptionUpdated = "billing.subscription.updated.v1"
	// TopicSubscriptionCanceled is published when the provider reports the
	// subscription as terminated.
	TopicSubscriptionCanceled = "billing.subscription.canceled.v1"
)
