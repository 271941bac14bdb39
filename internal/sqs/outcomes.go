// Package sqs publishes dispatch outcomes to an SQS queue. Downstream
// consumers (activity feeds, analytics) process the events; this service
// only produces.
package sqs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"go.uber.org/zap"
)

// Config holds SQS configuration.
type Config struct {
	Region   string
	QueueURL string
}

// OutcomeEvent describes what happened to one reminder occurrence.
type OutcomeEvent struct {
	ReminderID  string `json:"reminder_id"`
	OwnerID     string `json:"owner_id"`
	Kind        string `json:"kind"`
	SubKind     string `json:"sub_kind"`
	Outcome     string `json:"outcome"` // delivered, failed, throttled, ...
	Delivered   int    `json:"delivered"`
	Failed      int    `json:"failed"`
	Occurrence  int64  `json:"occurrence"`   // unix seconds
	PublishedAt int64  `json:"published_at"` // unix nanos
}

// Publisher sends outcome events to SQS.
type Publisher struct {
	client   *sqs.Client
	queueURL string
	logger   *zap.Logger
}

// NewPublisher creates a new SQS outcome publisher.
func NewPublisher(ctx context.Context, cfg Config, logger *zap.Logger) (*Publisher, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := sqs.NewFromConfig(awsCfg)

	logger.Info("sqs outcome publisher initialized",
		zap.String("queue_url", cfg.QueueURL),
	)

	return &Publisher{
		client:   client,
		queueURL: cfg.QueueURL,
		logger:   logger,
	}, nil
}

// PublishOutcome sends one outcome event. Best-effort from the caller's
// perspective: a lost event never blocks or fails a dispatch.
func (p *Publisher) PublishOutcome(ctx context.Context, ev OutcomeEvent) error {
	if ev.PublishedAt == 0 {
		ev.PublishedAt = time.Now().UnixNano()
	}

	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal outcome event: %w", err)
	}

	input := &sqs.SendMessageInput{
		QueueUrl:    aws.String(p.queueURL),
		MessageBody: aws.String(string(body)),
	}

	result, err := p.client.SendMessage(ctx, input)
	if err != nil {
		p.logger.Error("failed to publish outcome event",
			zap.Error(err),
			zap.String("reminder_id", ev.ReminderID),
		)
		return fmt.Errorf("sqs send failed: %w", err)
	}

	p.logger.Debug("outcome event published",
		zap.String("reminder_id", ev.ReminderID),
		zap.String("outcome", ev.Outcome),
		zap.String("message_id", aws.ToString(result.MessageId)),
	)

	return nil
}

// Close closes the publisher.
func (p *Publisher) Close() {
	// AWS SDK v2 clients don't require explicit Close()
}
