package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Alwanly/service-source-ingest/pkg/logger"
)

// RestartChannel carries restart requests made through the admin API.
const RestartChannel = "source-restarts"

// Reasons carried by a RestartNotice.
const (
	ReasonRestart = "restart"
	ReasonUpdate  = "update"
	ReasonEnabled = "enabled"
	ReasonDeleted = "deleted"
)

type RestartNotice struct {
	Source      string    `json:"source"`
	Reason      string    `json:"reason,omitempty"`
	RequestedAt time.Time `json:"requested_at"`
}

// PublishRestart announces a configuration change of source name that the
// reconciliation loop should pick up early.
func PublishRestart(ctx context.Context, pub Publisher, name, reason string, at time.Time) error {
	payload, err := json.Marshal(RestartNotice{Source: name, Reason: reason, RequestedAt: at.UTC()})
	if err != nil {
		return fmt.Errorf("failed to encode restart notice: %w", err)
	}
	return pub.Publish(ctx, RestartChannel, string(payload))
}

func DecodeRestart(msg Message) (RestartNotice, error) {
	var n RestartNotice
	if err := json.Unmarshal([]byte(msg.Payload), &n); err != nil {
		return n, fmt.Errorf("invalid restart notice on %s: %w", msg.Channel, err)
	}
	if n.Source == "" {
		return n, fmt.Errorf("restart notice on %s has no source", msg.Channel)
	}
	return n, nil
}

// ListenRestarts calls onRestart for every valid notice on RestartChannel
// until ctx is done or the subscription ends.
func ListenRestarts(ctx context.Context, sub Subscriber, onRestart func(RestartNotice), log *logger.CanonicalLogger) error {
	if log == nil {
		log = logger.NewNop()
	}
	msgs, err := sub.Subscribe(ctx, RestartChannel)
	if err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			notice, err := DecodeRestart(msg)
			if err != nil {
				log.WithError(err).Warn("ignoring restart notice")
				continue
			}
			log.Debug("restart notice received", logger.String(logger.FieldSource, notice.Source))
			onRestart(notice)
		}
	}
}
