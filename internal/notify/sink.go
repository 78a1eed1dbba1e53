package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	kafkax "github.com/dropfill/dropfill/internal/kafka"
	"github.com/dropfill/dropfill/internal/pledges"
	kafkago "github.com/segmentio/kafka-go"
)

// KafkaSink queues user-facing notifications onto notify.request. The
// producer is async, so enqueueing never blocks a fulfillment pass and a
// delivery failure never changes a fulfillment outcome.
type KafkaSink struct {
	Producer *kafkax.Producer
	Service  string
}

func (s *KafkaSink) Enqueue(ctx context.Context, userID, kind string, payload any) error {
	if userID == "" {
		return nil // nothing to address; drop silently
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}
	ev := pledges.Envelope{
		EventID:       uuid.NewString(),
		EventType:     pledges.EventNotifyRequested,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      s.Service,
		CorrelationID: userID,
		Payload: kafkax.MustMarshal(pledges.NotifyRequestPayload{
			UserID: userID,
			Kind:   kind,
			Data:   data,
		}),
	}
	s.Producer.Publish(pledges.PartitionKey(userID), kafkax.MustMarshal(ev),
		kafkago.Header{Key: "x-event-type", Value: []byte(pledges.EventNotifyRequested)},
		kafkago.Header{Key: "x-event-version", Value: []byte("1")},
	)
	return nil
}
