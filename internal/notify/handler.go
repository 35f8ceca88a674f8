package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/jorgekeles/sistema-barberia/internal/consumer"
	"github.com/jorgekeles/sistema-barberia/internal/model"
	"github.com/jorgekeles/sistema-barberia/internal/outbox"
)

// AppointmentEvent mirrors the payload the booking service writes to the
// outbox.
type AppointmentEvent struct {
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

type SettingsStore interface {
	GetWhatsAppSettings(ctx context.Context, tenantID string) (model.WhatsAppSettings, bool, error)
}

type Sender interface {
	Send(ctx context.Context, settings model.WhatsAppSettings, toPhone, body string) error
}

// AppointmentHandler turns appointment events into WhatsApp messages. Send
// failures are logged and swallowed; a notification never blocks the stream.
func AppointmentHandler(logger *slog.Logger, settings SettingsStore, sender Sender) consumer.Handler {
	return func(ctx context.Context, msg kafka.Message) error {
		var evt AppointmentEvent
		if err := json.Unmarshal(msg.Value, &evt); err != nil {
			logger.Error("appointment event decode failed", "err", err, "topic", msg.Topic)
			return nil
		}
		if evt.CustomerPhone == "" {
			return nil
		}

		body := MessageFor(msg.Topic, evt)
		if body == "" {
			return nil
		}

		cfg, _, err := settings.GetWhatsAppSettings(ctx, evt.TenantID)
		if err != nil {
			logger.Error("whatsapp settings lookup failed", "err", err, "tenant_id", evt.TenantID)
			return nil
		}

		if err := sender.Send(ctx, cfg, evt.CustomerPhone, body); err != nil {
			logger.Error("whatsapp delivery failed",
				"err", err,
				"tenant_id", evt.TenantID,
				"appointment_id", evt.AppointmentID,
			)
			return nil
		}
		logger.Info("whatsapp message sent",
			"tenant_id", evt.TenantID,
			"appointment_id", evt.AppointmentID,
			"topic", msg.Topic,
		)
		return nil
	}
}

// MessageFor renders the customer message for a topic. Times are shown on the
// business wall clock.
func MessageFor(topic string, evt AppointmentEvent) string {
	loc, err := time.LoadLocation(evt.Timezone)
	if err != nil {
		loc = time.UTC
	}
	when := evt.ScheduledStartAt.In(loc).Format("02/01/2006 15:04")

	switch topic {
	case outbox.TopicAppointmentConfirmed:
		return fmt.Sprintf("Hola %s! Tu turno de %s en %s quedó confirmado para el %s hs.",
			evt.CustomerName, evt.ServiceName, evt.BusinessName, when)
	case outbox.TopicAppointmentRescheduled:
		return fmt.Sprintf("Hola %s! Tu turno de %s en %s fue reprogramado para el %s hs.",
			evt.CustomerName, evt.ServiceName, evt.BusinessName, when)
	case outbox.TopicAppointmentCanceled:
		return fmt.Sprintf("Hola %s! Tu turno de %s en %s del %s hs fue cancelado.",
			evt.CustomerName, evt.ServiceName, evt.BusinessName, when)
	}
	return ""
}
