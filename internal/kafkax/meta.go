package kafkax

import (
	"strings"

	"github.com/segmentio/kafka-go"
)

// Header keys stamped by the outbox publisher and read back by the
// notification consumer. EventID doubles as the inbox dedupe key.
const (
	HeaderEventID   = "event_id"
	HeaderEventType = "event_type"
)

// EventMeta is the identity a booking event carries across the broker.
type EventMeta struct {
	EventID   string
	EventType string
}

// ExtractEventMeta reads the identity headers, falling back to the message
// key and topic for events produced by older publishers.
func ExtractEventMeta(msg kafka.Message) EventMeta {
	meta := EventMeta{
		EventID:   HeaderValue(msg.Headers, HeaderEventID),
		EventType: HeaderValue(msg.Headers, HeaderEventType),
	}
	if meta.EventID == "" {
		meta.EventID = string(msg.Key)
	}
	if meta.EventType == "" {
		meta.EventType = msg.Topic
	}
	return meta
}

func HeaderValue(headers []kafka.Header, key string) string {
	for _, h := range headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

// SplitBrokers parses the comma-separated KAFKA_BROKERS value, dropping
// empty entries so a trailing comma does not produce a phantom broker.
func SplitBrokers(raw string) []string {
	var brokers []string
	for _, b := range strings.Split(raw, ",") {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}
