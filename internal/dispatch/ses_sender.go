package dispatch

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
	"go.uber.org/zap"

	"github.com/lalithlochan/chime/internal/db"
)

// SESSender delivers email notifications via AWS SES. The target's
// endpoint is the recipient address.
type SESSender struct {
	client *ses.Client
	from   string
	logger *zap.Logger
}

type SESConfig struct {
	Region    string
	FromEmail string
}

func NewSESSender(ctx context.Context, cfg SESConfig, logger *zap.Logger) (*SESSender, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load default AWS config: %w", err)
	}

	return &SESSender{
		client: ses.NewFromConfig(awsCfg),
		from:   cfg.FromEmail,
		logger: logger,
	}, nil
}

// Deliver sends the message as a plain-text email.
func (s *SESSender) Deliver(ctx context.Context, target *db.Target, msg *Message) error {
	if target.Channel != db.ChannelEmail {
		return fmt.Errorf("SES sender only supports email, got: %s", target.Channel)
	}
	if target.Endpoint == "" {
		return &PermanentError{Reason: "target has no email address"}
	}

	input := &ses.SendEmailInput{
		Source: aws.String(s.from),
		Destination: &types.Destination{
			ToAddresses: []string{target.Endpoint},
		},
		Message: &types.Message{
			Subject: &types.Content{
				Data:    aws.String(msg.Title),
				Charset: aws.String("UTF-8"),
			},
			Body: &types.Body{
				Text: &types.Content{
					Data:    aws.String(msg.Body),
					Charset: aws.String("UTF-8"),
				},
			},
		},
	}

	result, err := s.client.SendEmail(ctx, input)
	if err != nil {
		// A rejected message means the address itself is the problem.
		var rejected *types.MessageRejected
		if errors.As(err, &rejected) {
			return &PermanentError{Reason: "message rejected", Err: err}
		}
		return fmt.Errorf("ses send failed: %w", err)
	}

	s.logger.Info("email sent via SES",
		zap.String("reminder_id", msg.ReminderID.String()),
		zap.String("to", target.Endpoint),
		zap.String("message_id", aws.ToString(result.MessageId)),
	)

	return nil
}

// SupportsChannel checks if this sender supports the email channel.
func (s *SESSender) SupportsChannel(channel string) bool {
	return channel == db.ChannelEmail
}
