package notify

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/jorgekeles/sistema-barberia/internal/model"
	"github.com/jorgekeles/sistema-barberia/internal/outbox"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestWhatsAppSender_Send(t *testing.T) {
	var gotPath, gotAuth string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	sender := NewWhatsAppSender(WhatsAppConfig{
		APIURL:        srv.URL,
		Token:         "platform-token",
		PhoneNumberID: "111",
	}, testLogger())

	err := sender.Send(context.Background(), model.WhatsAppSettings{}, "541155551234", "hola")
	if err != nil {
		t.Fatal(err)
	}
	if gotPath != "/111/messages" {
		t.Fatalf("unexpected path %q", gotPath)
	}
	if gotAuth != "Bearer platform-token" {
		t.Fatalf("unexpected auth header %q", gotAuth)
	}
	if gotBody["to"] != "541155551234" || gotBody["messaging_product"] != "whatsapp" {
		t.Fatalf("unexpected body: %v", gotBody)
	}
}

func TestWhatsAppSender_TenantOverride(t *testing.T) {
	var gotPath, gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	sender := NewWhatsAppSender(WhatsAppConfig{
		APIURL:        srv.URL,
		Token:         "platform-token",
		PhoneNumberID: "111",
	}, testLogger())

	settings := model.WhatsAppSettings{Enabled: true, PhoneNumberID: "222", APIToken: "tenant-token"}
	if err := sender.Send(context.Background(), settings, "541155551234", "hola"); err != nil {
		t.Fatal(err)
	}
	if gotPath != "/222/messages" || gotAuth != "Bearer tenant-token" {
		t.Fatalf("tenant credentials not used: path=%q auth=%q", gotPath, gotAuth)
	}
}

func TestWhatsAppSender_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"rate limited"}`, http.StatusTooManyRequests)
	}))
	defer srv.Close()

	sender := NewWhatsAppSender(WhatsAppConfig{APIURL: srv.URL, Token: "t", PhoneNumberID: "111"}, testLogger())
	err := sender.Send(context.Background(), model.WhatsAppSettings{}, "541155551234", "hola")
	if err == nil || !strings.Contains(err.Error(), "429") {
		t.Fatalf("expected status error, got %v", err)
	}
}

func TestMessageFor(t *testing.T) {
	evt := AppointmentEvent{
		BusinessName:     "Corte Fino",
		Timezone:         "America/Argentina/Buenos_Aires",
		ServiceName:      "Corte",
		ScheduledStartAt: time.Date(2026, 3, 2, 13, 0, 0, 0, time.UTC), // 10:00 ART
		CustomerName:     "Ana",
	}
	msg := MessageFor(outbox.TopicAppointmentConfirmed, evt)
	if !strings.Contains(msg, "Ana") || !strings.Contains(msg, "Corte Fino") {
		t.Fatalf("unexpected message %q", msg)
	}
	if !strings.Contains(msg, "02/03/2026 10:00") {
		t.Fatalf("message must show the business wall clock time: %q", msg)
	}
	if MessageFor("unknown.topic", evt) != "" {
		t.Fatal("unknown topics must render no message")
	}
}

type recordingSender struct {
	settings model.WhatsAppSettings
	to, body string
	calls    int
}

func (r *recordingSender) Send(_ context.Context, settings model.WhatsAppSettings, to, body string) error {
	r.settings = settings
	r.to = to
	r.body = body
	r.calls++
	return nil
}

type staticSettings struct{ s model.WhatsAppSettings }

func (s staticSettings) GetWhatsAppSettings(context.Context, string) (model.WhatsAppSettings, bool, error) {
	return s.s, true, nil
}

func TestAppointmentHandler(t *testing.T) {
	sender := &recordingSender{}
	handler := AppointmentHandler(testLogger(), staticSettings{}, sender)

	payload, _ := json.Marshal(AppointmentEvent{
		TenantID:         "t1",
		BusinessName:     "Corte Fino",
		Timezone:         "UTC",
		AppointmentID:    "a1",
		ServiceName:      "Corte",
		ScheduledStartAt: time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC),
		CustomerName:     "Ana",
		CustomerPhone:    "541155551234",
		Status:           "confirmed",
	})
	msg := kafka.Message{Topic: outbox.TopicAppointmentConfirmed, Value: payload}
	if err := handler(context.Background(), msg); err != nil {
		t.Fatal(err)
	}
	if sender.calls != 1 || sender.to != "541155551234" {
		t.Fatalf("unexpected send: %+v", sender)
	}

	// Malformed payloads are dropped, not retried.
	if err := handler(context.Background(), kafka.Message{Topic: msg.Topic, Value: []byte("{")}); err != nil {
		t.Fatal(err)
	}
	if sender.calls != 1 {
		t.Fatal("malformed payload must not trigger a send")
	}
}
