package channels

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/opsgrid/alarmd/internal/domain/notification"
	"github.com/opsgrid/alarmd/internal/domain/subscription"
	apperrors "github.com/opsgrid/alarmd/internal/pkg/errors"
)

// smsMaxLength truncates the body to fit a single concatenated message
const smsMaxLength = 320

// SMSSender delivers through a generic SMS gateway HTTP API.
// Config: api_url, api_key, to.
type SMSSender struct {
	client *http.Client
}

func NewSMSSender() *SMSSender {
	return &SMSSender{client: &http.Client{Timeout: 30 * time.Second}}
}

func (s *SMSSender) Send(ctx context.Context, config map[string]interface{}, msg notification.Message) error {
	endpoint, _ := config["api_url"].(string)
	to, _ := config["to"].(string)
	if endpoint == "" || to == "" {
		return apperrors.BadRequest("sms config missing api_url or to")
	}

	body := fmt.Sprintf("[%s] %s", msg.Severity, msg.Title)
	if len(body) > smsMaxLength {
		body = body[:smsMaxLength]
	}

	payload, err := json.Marshal(map[string]string{"to": to, "message": body})
	if err != nil {
		return apperrors.ChannelSendError(subscription.ChannelSMS, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return apperrors.ChannelSendError(subscription.ChannelSMS, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if key, ok := config["api_key"].(string); ok && key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return apperrors.ChannelSendError(subscription.ChannelSMS, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return apperrors.ChannelSendError(subscription.ChannelSMS,
			fmt.Errorf("sms gateway returned status %d", resp.StatusCode))
	}
	return nil
}

func (s *SMSSender) ValidateConfig(config map[string]interface{}) error {
	endpoint, _ := config["api_url"].(string)
	to, _ := config["to"].(string)
	if endpoint == "" {
		return apperrors.BadRequest("sms config missing api_url")
	}
	if to == "" {
		return apperrors.BadRequest("sms config missing to")
	}
	return nil
}
