package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	kafkax "github.com/dropfill/dropfill/internal/kafka"
	"github.com/dropfill/dropfill/internal/pledges"
	"github.com/dropfill/dropfill/internal/redisx"
	kafkago "github.com/segmentio/kafka-go"
)

const maxPerUser = 100

// Worker consumes notify.request and records each notification in a capped
// per-user Redis list the dashboard reads from.
type Worker struct {
	Redis *redis.Client
	Dedup *redisx.Dedup
}

type delivered struct {
	Kind       string          `json:"kind"`
	Data       json.RawMessage `json:"data,omitempty"`
	OccurredAt time.Time       `json:"occurred_at"`
}

// Handle is installed as the consumer handler.
func (w *Worker) Handle(ctx context.Context, m kafkago.Message) error {
	var env pledges.Envelope
	if err := json.Unmarshal(m.Value, &env); err != nil {
		return err
	}
	if env.EventType != pledges.EventNotifyRequested {
		return nil // ignore
	}

	if seen, _ := w.Dedup.Seen(ctx, env.EventID); seen {
		return nil
	}

	p, err := kafkax.UnwrapPayload[pledges.NotifyRequestPayload](env.Payload)
	if err != nil {
		return err
	}

	key := fmt.Sprintf(redisx.KeyUserNotifications, p.UserID)
	b := kafkax.MustMarshal(delivered{Kind: p.Kind, Data: p.Data, OccurredAt: env.OccurredAt})
	pipe := w.Redis.Pipeline()
	pipe.LPush(ctx, key, b)
	pipe.LTrim(ctx, key, 0, maxPerUser-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return err
	}

	if err := w.Dedup.Mark(ctx, env.EventID); err != nil {
		slog.Warn("dedup mark failed", "event_id", env.EventID, "err", err)
	}
	slog.Info("notification delivered", "user_id", p.UserID, "kind", p.Kind)
	return nil
}
