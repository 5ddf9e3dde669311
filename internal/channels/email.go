package channels

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"

	"github.com/opsgrid/alarmd/internal/domain/notification"
	"github.com/opsgrid/alarmd/internal/domain/subscription"
	apperrors "github.com/opsgrid/alarmd/internal/pkg/errors"
)

// EmailSender delivers over SMTP.
// Config: host, port, from, to (string or list); username/password enable
// PLAIN auth.
type EmailSender struct {
	// send is swappable for tests
	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

func NewEmailSender() *EmailSender {
	return &EmailSender{send: smtp.SendMail}
}

func (s *EmailSender) Send(ctx context.Context, config map[string]interface{}, msg notification.Message) error {
	host, _ := config["host"].(string)
	from, _ := config["from"].(string)
	to := recipientList(config["to"])
	if host == "" || from == "" || len(to) == 0 {
		return apperrors.BadRequest("email config missing host, from or to")
	}

	port := 587
	if p, ok := config["port"].(float64); ok && p > 0 {
		port = int(p)
	}

	var auth smtp.Auth
	if username, ok := config["username"].(string); ok && username != "" {
		password, _ := config["password"].(string)
		auth = smtp.PlainAuth("", username, password, host)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&b, "Subject: %s\r\n", msg.Title)
	b.WriteString("MIME-Version: 1.0\r\nContent-Type: text/plain; charset=UTF-8\r\n\r\n")
	b.WriteString(msg.Content)

	// smtp.SendMail has no context hook; rely on its dial timeout and let
	// the caller's deadline bound the task attempt.
	if err := s.send(fmt.Sprintf("%s:%d", host, port), auth, from, to, []byte(b.String())); err != nil {
		return apperrors.ChannelSendError(subscription.ChannelEmail, err)
	}
	return nil
}

func (s *EmailSender) ValidateConfig(config map[string]interface{}) error {
	host, _ := config["host"].(string)
	from, _ := config["from"].(string)
	if host == "" || from == "" {
		return apperrors.BadRequest("email config missing host or from")
	}
	if len(recipientList(config["to"])) == 0 {
		return apperrors.BadRequest("email config missing to")
	}
	return nil
}

func recipientList(v interface{}) []string {
	switch t := v.(type) {
	case string:
		if t == "" {
			return nil
		}
		return []string{t}
	case []interface{}:
		var out []string
		for _, item := range t {
			if addr, ok := item.(string); ok && addr != "" {
				out = append(out, addr)
			}
		}
		return out
	case []string:
		return t
	default:
		return nil
	}
}
