package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lalithlochan/chime/internal/db"
)

// Message is the composed notification content handed to a sender. The
// same message goes to every target of an occurrence; only the endpoint
// differs per channel.
type Message struct {
	ReminderID  uuid.UUID `json:"reminder_id"`
	OwnerID     uuid.UUID `json:"owner_id"`
	Title       string    `json:"title"`
	Body        string    `json:"body"`
	SubjectKind string    `json:"subject_kind"`
	Occurrence  time.Time `json:"occurrence"`
}

// Sender is the unified interface for all notification channels.
// Implementations: Email (SES), SMS (SNS), Push (HTTP endpoints).
type Sender interface {
	Deliver(ctx context.Context, target *db.Target, msg *Message) error
	SupportsChannel(channel string) bool
}

// PermanentError marks a delivery failure that no retry can fix: a gone
// push endpoint, a bounced address. The dispatcher deactivates the target
// instead of retrying it on the next occurrence.
type PermanentError struct {
	Reason string
	Err    error
}

func (e *PermanentError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("permanent delivery failure (%s): %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("permanent delivery failure (%s)", e.Reason)
}

func (e *PermanentError) Unwrap() error { return e.Err }

// IsPermanent reports whether err carries a PermanentError anywhere in
// its chain.
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}

// MultiSender routes a delivery to the first sender supporting the
// target's channel.
type MultiSender struct {
	senders []Sender
	logger  *zap.Logger
}

// NewMultiSender creates a router over multiple underlying senders.
func NewMultiSender(logger *zap.Logger, senders ...Sender) *MultiSender {
	return &MultiSender{
		senders: senders,
		logger:  logger,
	}
}

// Deliver routes the message to the sender for the target's channel.
// An unroutable channel is permanent: retrying won't grow a sender.
func (m *MultiSender) Deliver(ctx context.Context, target *db.Target, msg *Message) error {
	for _, sender := range m.senders {
		if sender.SupportsChannel(target.Channel) {
			m.logger.Debug("routing delivery to sender",
				zap.String("channel", target.Channel),
				zap.String("reminder_id", msg.ReminderID.String()),
			)
			return sender.Deliver(ctx, target, msg)
		}
	}

	return &PermanentError{Reason: fmt.Sprintf("no sender for channel %s", target.Channel)}
}

// SupportsChannel checks if any underlying sender supports the channel.
func (m *MultiSender) SupportsChannel(channel string) bool {
	for _, sender := range m.senders {
		if sender.SupportsChannel(channel) {
			return true
		}
	}
	return false
}

// LogSender logs deliveries instead of sending them (development mode).
type LogSender struct {
	logger *zap.Logger
}

func NewLogSender(logger *zap.Logger) *LogSender {
	return &LogSender{logger: logger}
}

func (s *LogSender) Deliver(ctx context.Context, target *db.Target, msg *Message) error {
	s.logger.Info("logging notification (development mode)",
		zap.String("reminder_id", msg.ReminderID.String()),
		zap.String("channel", target.Channel),
		zap.String("endpoint", target.Endpoint),
		zap.String("title", msg.Title),
		zap.String("body", msg.Body),
	)
	return nil
}

func (s *LogSender) SupportsChannel(channel string) bool {
	return channel == db.ChannelPush || channel == db.ChannelEmail || channel == db.ChannelSMS
}
