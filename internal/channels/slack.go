package channels

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/opsgrid/alarmd/internal/domain/notification"
	"github.com/opsgrid/alarmd/internal/domain/subscription"
	apperrors "github.com/opsgrid/alarmd/internal/pkg/errors"
)

// SlackSender delivers through a Slack incoming webhook.
// Config: webhook_url (required), channel (optional override).
type SlackSender struct {
	client *http.Client
}

func NewSlackSender() *SlackSender {
	return &SlackSender{client: &http.Client{Timeout: 30 * time.Second}}
}

var slackSeverityColors = map[string]string{
	"critical": "#d32f2f",
	"high":     "#f57c00",
	"medium":   "#fbc02d",
	"low":      "#388e3c",
	"info":     "#1976d2",
}

func (s *SlackSender) Send(ctx context.Context, config map[string]interface{}, msg notification.Message) error {
	endpoint, _ := config["webhook_url"].(string)
	if endpoint == "" {
		return apperrors.BadRequest("slack config missing webhook_url")
	}

	color, ok := slackSeverityColors[strings.ToLower(msg.Severity)]
	if !ok {
		color = "#9e9e9e"
	}

	body := map[string]interface{}{
		"text": msg.Title,
		"attachments": []map[string]interface{}{{
			"color": color,
			"text":  msg.Content,
			"ts":    msg.Timestamp.Unix(),
		}},
	}
	if channel, ok := config["channel"].(string); ok && channel != "" {
		body["channel"] = channel
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return apperrors.ChannelSendError(subscription.ChannelSlack, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return apperrors.ChannelSendError(subscription.ChannelSlack, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return apperrors.ChannelSendError(subscription.ChannelSlack, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return apperrors.ChannelSendError(subscription.ChannelSlack,
			fmt.Errorf("slack returned status %d", resp.StatusCode))
	}
	return nil
}

func (s *SlackSender) ValidateConfig(config map[string]interface{}) error {
	endpoint, _ := config["webhook_url"].(string)
	if endpoint == "" {
		return apperrors.BadRequest("slack config missing webhook_url")
	}
	if !strings.HasPrefix(endpoint, "https://hooks.slack.com/") {
		return apperrors.BadRequest("slack webhook_url must be a hooks.slack.com URL")
	}
	return nil
}
