package dispatch

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"
	"go.uber.org/zap"

	"github.com/lalithlochan/chime/internal/db"
)

// SNSSender delivers SMS notifications via AWS SNS. The target's endpoint
// is the E.164 phone number.
type SNSSender struct {
	client *sns.Client
	logger *zap.Logger
}

type SNSConfig struct {
	Region string
}

// NewSNSSender creates a new SNS sender for SMS notifications.
func NewSNSSender(ctx context.Context, cfg SNSConfig, logger *zap.Logger) (*SNSSender, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load default AWS config for SNS: %w", err)
	}

	return &SNSSender{
		client: sns.NewFromConfig(awsCfg),
		logger: logger,
	}, nil
}

// Deliver sends the message body as an SMS.
func (s *SNSSender) Deliver(ctx context.Context, target *db.Target, msg *Message) error {
	if target.Channel != db.ChannelSMS {
		return fmt.Errorf("SNS sender only supports SMS, got: %s", target.Channel)
	}
	if target.Endpoint == "" {
		return &PermanentError{Reason: "target has no phone number"}
	}

	input := &sns.PublishInput{
		PhoneNumber: aws.String(target.Endpoint),
		Message:     aws.String(fmt.Sprintf("%s: %s", msg.Title, msg.Body)),
	}

	result, err := s.client.Publish(ctx, input)
	if err != nil {
		// Invalid parameter on publish means a malformed number, not a
		// provider outage.
		var invalid *types.InvalidParameterException
		if errors.As(err, &invalid) {
			return &PermanentError{Reason: "invalid phone number", Err: err}
		}
		return fmt.Errorf("sns publish failed: %w", err)
	}

	s.logger.Info("SMS sent via SNS",
		zap.String("reminder_id", msg.ReminderID.String()),
		zap.String("phone_number", target.Endpoint),
		zap.String("message_id", aws.ToString(result.MessageId)),
	)

	return nil
}

// SupportsChannel checks if this sender supports the SMS channel.
func (s *SNSSender) SupportsChannel(channel string) bool {
	return channel == db.ChannelSMS
}
