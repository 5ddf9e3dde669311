package channels

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/opsgrid/alarmd/internal/domain/notification"
	"github.com/opsgrid/alarmd/internal/domain/subscription"
	apperrors "github.com/opsgrid/alarmd/internal/pkg/errors"
)

// WebhookSender POSTs the message as JSON to the configured URL.
// Config: url (required), headers (optional map of extra headers).
type WebhookSender struct {
	client *http.Client
}

func NewWebhookSender() *WebhookSender {
	return &WebhookSender{client: &http.Client{Timeout: 30 * time.Second}}
}

func (s *WebhookSender) Send(ctx context.Context, config map[string]interface{}, msg notification.Message) error {
	endpoint, _ := config["url"].(string)
	if endpoint == "" {
		return apperrors.BadRequest("webhook config missing url")
	}

	payload, err := json.Marshal(map[string]interface{}{
		"title":     msg.Title,
		"content":   msg.Content,
		"severity":  msg.Severity,
		"timestamp": msg.Timestamp.Format(time.RFC3339),
	})
	if err != nil {
		return apperrors.ChannelSendError(subscription.ChannelWebhook, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return apperrors.ChannelSendError(subscription.ChannelWebhook, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if headers, ok := config["headers"].(map[string]interface{}); ok {
		for k, v := range headers {
			if hv, ok := v.(string); ok {
				req.Header.Set(k, hv)
			}
		}
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return apperrors.ChannelSendError(subscription.ChannelWebhook, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return apperrors.ChannelSendError(subscription.ChannelWebhook,
			fmt.Errorf("webhook returned status %d", resp.StatusCode))
	}
	return nil
}

func (s *WebhookSender) ValidateConfig(config map[string]interface{}) error {
	endpoint, _ := config["url"].(string)
	if endpoint == "" {
		return apperrors.BadRequest("webhook config missing url")
	}
	u, err := url.Parse(endpoint)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return apperrors.BadRequest("webhook url must be http or https")
	}
	return nil
}
