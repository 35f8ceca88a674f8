// Package notify delivers customer-facing messages for appointment events.
// Delivery is asynchronous: the booking transaction writes an outbox event and
// the consumer hands it to a sender here.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/jorgekeles/sistema-barberia/internal/model"
)

const DefaultGraphAPIURL = "https://graph.facebook.com/v20.0"

// WhatsAppSender posts text messages through the Meta graph API. Tenants with
// their own number override the platform credentials via
// business_whatsapp_settings.
type WhatsAppSender struct {
	client        *http.Client
	apiURL        string
	token         string
	phoneNumberID string
	logger        *slog.Logger
}

type WhatsAppConfig struct {
	APIURL        string
	Token         string
	PhoneNumberID string
	Timeout       time.Duration
}

func NewWhatsAppSender(cfg WhatsAppConfig, logger *slog.Logger) *WhatsAppSender {
	if cfg.APIURL == "" {
		cfg.APIURL = DefaultGraphAPIURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &WhatsAppSender{
		client:        &http.Client{Timeout: cfg.Timeout},
		apiURL:        cfg.APIURL,
		token:         cfg.Token,
		phoneNumberID: cfg.PhoneNumberID,
		logger:        logger,
	}
}

type textMessage struct {
	MessagingProduct string   `json:"messaging_product"`
	To               string   `json:"to"`
	Type             string   `json:"type"`
	Text             textBody `json:"text"`
}

type textBody struct {
	Body string `json:"body"`
}

// Send delivers one text message. Tenant settings win over the platform
// defaults when enabled and complete.
func (s *WhatsAppSender) Send(ctx context.Context, settings model.WhatsAppSettings, toPhone, body string) error {
	token := s.token
	phoneNumberID := s.phoneNumberID
	if settings.Enabled && settings.APIToken != "" && settings.PhoneNumberID != "" {
		token = settings.APIToken
		phoneNumberID = settings.PhoneNumberID
	}
	if token == "" || phoneNumberID == "" {
		s.logger.Warn("whatsapp delivery skipped (no credentials)", "to", toPhone)
		return nil
	}

	payload, err := json.Marshal(textMessage{
		MessagingProduct: "whatsapp",
		To:               toPhone,
		Type:             "text",
		Text:             textBody{Body: body},
	})
	if err != nil {
		return err
	}

	url := fmt.Sprintf("%s/%s/messages", s.apiURL, phoneNumberID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("whatsapp send failed: status %d: %s", resp.StatusCode, snippet)
	}
	return nil
}
