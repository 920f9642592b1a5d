// Package notify is the contract for out-of-band delivery (SMS, email,
// push). Vendors are external collaborators; the server only depends on this
// interface and tests substitute fakes.
package notify

import (
	"context"

	"github.com/rs/zerolog/log"
)

// Channel selects the delivery medium.
type Channel string

const (
	ChannelSMS   Channel = "sms"
	ChannelEmail Channel = "email"
	ChannelPush  Channel = "push"
)

// Message is one templated notification. RequestID is a stable id the
// vendor may use for idempotent delivery.
type Message struct {
	Channel     Channel
	Destination string
	TemplateID  string
	Variables   map[string]string
	RequestID   string
}

// Notifier delivers messages through an external vendor.
type Notifier interface {
	Send(ctx context.Context, m Message) error
}

// LogNotifier writes messages to the log instead of a vendor. Used in dev
// deployments where no SMS/email credentials are configured.
type LogNotifier struct{}

func (LogNotifier) Send(_ context.Context, m Message) error {
	log.Info().
		Str("channel", string(m.Channel)).
		Str("destination", m.Destination).
		Str("template", m.TemplateID).
		Str("requestId", m.RequestID).
		Msg("notification (log sink)")
	return nil
}
