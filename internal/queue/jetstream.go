// Package queue provides FIFO message queue gateways with per-group
// ordering and publish deduplication.
package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/parrot-audio/voice-service/internal/core"
)

const consumerAckWait = 30 * time.Second

// JetStream implements core.FifoQueue on a NATS JetStream work-queue
// stream. The dedup key becomes the message id, collapsed within the
// stream's duplicate window; the group key becomes a subject token. The
// pull consumer allows a single outstanding ack, so deliveries are strictly
// ordered, which subsumes the per-group FIFO guarantee.
type JetStream struct {
	jetstreamContext nats.JetStreamContext
	stream           string
	subjectPrefix    string
	subscription     *nats.Subscription
}

// NewJetStream creates (or binds to) the stream and its durable pull
// consumer. Each job kind gets its own stream and subject prefix.
func NewJetStream(
	jetstreamContext nats.JetStreamContext,
	stream, subjectPrefix, durable string,
	dedupWindow time.Duration,
) (*JetStream, error) {
	_, err := jetstreamContext.AddStream(&nats.StreamConfig{
		Name:       stream,
		Subjects:   []string{subjectPrefix + ".>"},
		Retention:  nats.WorkQueuePolicy,
		Storage:    nats.FileStorage,
		Duplicates: dedupWindow,
		Replicas:   1,
	})
	if err != nil && !errors.Is(err, nats.ErrStreamNameAlreadyInUse) {
		return nil, fmt.Errorf("failed to create stream '%s': %w", stream, err)
	}

	subscription, err := jetstreamContext.PullSubscribe(
		subjectPrefix+".>",
		durable,
		nats.BindStream(stream),
		nats.AckExplicit(),
		nats.AckWait(consumerAckWait),
		nats.MaxAckPending(1),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create consumer '%s' on stream '%s': %w", durable, stream, err)
	}

	return &JetStream{
		jetstreamContext: jetstreamContext,
		stream:           stream,
		subjectPrefix:    subjectPrefix,
		subscription:     subscription,
	}, nil
}

// Publish enqueues payload for groupKey. Repeated publishes with the same
// dedupKey inside the duplicate window collapse to one delivery.
func (q *JetStream) Publish(ctx context.Context, groupKey, dedupKey string, payload []byte) error {
	subject := q.subjectPrefix + "." + groupKey

	_, err := q.jetstreamContext.Publish(
		subject,
		payload,
		nats.MsgId(dedupKey),
		nats.Context(ctx),
	)
	if err != nil {
		return fmt.Errorf("%w: publish to subject '%s': %w", core.ErrUpstream, subject, err)
	}

	return nil
}

// Fetch pulls up to max messages, waiting until ctx expires when the
// stream is empty. An empty batch is not an error.
func (q *JetStream) Fetch(ctx context.Context, max int) ([]core.Delivery, error) {
	msgs, err := q.subscription.Fetch(max, nats.Context(ctx))
	if err != nil {
		if errors.Is(err, nats.ErrTimeout) ||
			errors.Is(err, context.DeadlineExceeded) ||
			errors.Is(err, context.Canceled) {
			return nil, nil
		}

		return nil, fmt.Errorf("%w: fetch from stream '%s': %w", core.ErrUpstream, q.stream, err)
	}

	deliveries := make([]core.Delivery, 0, len(msgs))
	for _, msg := range msgs {
		deliveries = append(deliveries, &jetStreamDelivery{msg: msg})
	}

	return deliveries, nil
}

type jetStreamDelivery struct {
	msg *nats.Msg
}

func (d *jetStreamDelivery) Payload() []byte {
	return d.msg.Data
}

func (d *jetStreamDelivery) Ack() error {
	err := d.msg.Ack()
	if err != nil {
		return fmt.Errorf("failed to ack message: %w", err)
	}

	return nil
}

func (d *jetStreamDelivery) Nak() error {
	err := d.msg.Nak()
	if err != nil {
		return fmt.Errorf("failed to nak message: %w", err)
	}

	return nil
}
