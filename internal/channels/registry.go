package channels

import (
	"sync"

	"github.com/opsgrid/alarmd/internal/domain/notification"
	"github.com/opsgrid/alarmd/internal/domain/subscription"
	apperrors "github.com/opsgrid/alarmd/internal/pkg/errors"
)

// Registry maps contact-point channel types to their senders
type Registry struct {
	mu      sync.RWMutex
	senders map[string]notification.Sender
}

// NewRegistry returns a registry with the built-in senders installed
func NewRegistry() *Registry {
	r := &Registry{senders: make(map[string]notification.Sender)}
	r.Register(subscription.ChannelWebhook, NewWebhookSender())
	r.Register(subscription.ChannelSlack, NewSlackSender())
	r.Register(subscription.ChannelEmail, NewEmailSender())
	r.Register(subscription.ChannelSMS, NewSMSSender())
	return r
}

func (r *Registry) Register(channelType string, s notification.Sender) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.senders[channelType] = s
}

func (r *Registry) Get(channelType string) (notification.Sender, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.senders[channelType]
	if !ok {
		return nil, apperrors.BadRequest("unknown channel type: " + channelType)
	}
	return s, nil
}
