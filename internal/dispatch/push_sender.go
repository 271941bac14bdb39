package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/lalithlochan/chime/internal/db"
)

// PushSender delivers push notifications by POSTing JSON to the target's
// registered endpoint URL.
type PushSender struct {
	client *http.Client
	logger *zap.Logger
}

type PushConfig struct {
	Timeout time.Duration
}

// NewPushSender creates a new push sender.
func NewPushSender(logger *zap.Logger, cfg PushConfig) *PushSender {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}

	return &PushSender{
		client: &http.Client{Timeout: timeout},
		logger: logger,
	}
}

// Deliver POSTs the message to the push endpoint. 404, 410 and 403 mean
// the subscription is gone or revoked and the target should be dropped;
// everything else non-2xx is worth retrying on a later occurrence.
func (s *PushSender) Deliver(ctx context.Context, target *db.Target, msg *Message) error {
	if target.Channel != db.ChannelPush {
		return fmt.Errorf("push sender only supports push, got: %s", target.Channel)
	}
	if target.Endpoint == "" {
		return &PermanentError{Reason: "target has no push endpoint"}
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal push payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target.Endpoint, bytes.NewReader(body))
	if err != nil {
		return &PermanentError{Reason: "invalid push endpoint URL", Err: err}
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Chime/1.0.0")
	req.Header.Set("X-Chime-Reminder-ID", msg.ReminderID.String())

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("push request failed: %w", err)
	}
	defer resp.Body.Close()

	preview, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		s.logger.Info("push delivered",
			zap.String("reminder_id", msg.ReminderID.String()),
			zap.String("endpoint", target.Endpoint),
			zap.Int("status_code", resp.StatusCode),
		)
		return nil

	case resp.StatusCode == http.StatusNotFound,
		resp.StatusCode == http.StatusGone,
		resp.StatusCode == http.StatusForbidden:
		return &PermanentError{
			Reason: fmt.Sprintf("push endpoint returned %d", resp.StatusCode),
		}

	default:
		return fmt.Errorf("push endpoint returned status %d, body: %s",
			resp.StatusCode, string(preview))
	}
}

// SupportsChannel checks if this sender supports the push channel.
func (s *PushSender) SupportsChannel(channel string) bool {
	return channel == db.ChannelPush
}
