package dispatch

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/lalithlochan/chime/internal/circuitbreaker"
	"github.com/lalithlochan/chime/internal/db"
)

// ProtectedSender wraps a Sender with a circuit breaker. When the channel's
// provider starts failing, the circuit opens and deliveries fail fast
// instead of burning the attempt timeout per target.
type ProtectedSender struct {
	sender  Sender
	breaker *circuitbreaker.CircuitBreaker
	logger  *zap.Logger
}

// NewProtectedSender wraps a sender with circuit breaker protection.
func NewProtectedSender(sender Sender, breaker *circuitbreaker.CircuitBreaker, logger *zap.Logger) *ProtectedSender {
	return &ProtectedSender{
		sender:  sender,
		breaker: breaker,
		logger:  logger,
	}
}

// Deliver attempts delivery through the circuit breaker. A rejection is a
// transient failure: the channel may recover before the next occurrence.
// Permanent errors count as breaker successes, since the provider answered;
// only provider-side failures feed the streak.
func (p *ProtectedSender) Deliver(ctx context.Context, target *db.Target, msg *Message) error {
	if !p.breaker.Allow() {
		p.logger.Warn("circuit breaker rejected delivery",
			zap.String("breaker", p.breaker.Name()),
			zap.String("reminder_id", msg.ReminderID.String()),
			zap.String("channel", target.Channel),
			zap.String("state", p.breaker.GetState().String()),
		)
		return fmt.Errorf("%w: %s sender unavailable", circuitbreaker.ErrCircuitOpen, p.breaker.Name())
	}

	err := p.sender.Deliver(ctx, target, msg)
	if err != nil && !IsPermanent(err) {
		p.breaker.RecordFailure()
		p.logger.Debug("circuit breaker recorded failure",
			zap.String("breaker", p.breaker.Name()),
			zap.Error(err),
		)
		return err
	}

	p.breaker.RecordSuccess()
	return err
}

// SupportsChannel delegates to the underlying sender.
func (p *ProtectedSender) SupportsChannel(channel string) bool {
	return p.sender.SupportsChannel(channel)
}

// Breaker returns the underlying circuit breaker for monitoring.
func (p *ProtectedSender) Breaker() *circuitbreaker.CircuitBreaker {
	return p.breaker
}
