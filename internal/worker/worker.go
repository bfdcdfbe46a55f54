// Package worker polls the training and generation queues and dispatches
// deliveries to the lifecycle coordinators.
package worker

import (
	"context"
	"encoding/json"
	"time"

	"github.com/book-expert/logger"

	"github.com/parrot-audio/voice-service/internal/core"
)

const (
	handleMessageTimeout = 30 * time.Second
	fetchTimeout         = 2 * time.Second
	fetchBatchSize       = 10
)

// VoiceProcessor consumes training messages.
type VoiceProcessor interface {
	ProcessTraining(ctx context.Context, voiceID string) error
}

// OutputProcessor consumes generation messages.
type OutputProcessor interface {
	ProcessGeneration(ctx context.Context, outputID string) error
}

// Worker drains both job queues. Settlement policy: success and terminal
// failures ack (terminal failures can never succeed on redelivery, so the
// message is dropped after logging); everything else naks for redelivery.
type Worker struct {
	training   core.FifoQueue
	generation core.FifoQueue
	voices     VoiceProcessor
	outputs    OutputProcessor
	log        *logger.Logger
}

// New creates a worker over the two queues.
func New(
	training core.FifoQueue,
	generation core.FifoQueue,
	voices VoiceProcessor,
	outputs OutputProcessor,
	log *logger.Logger,
) *Worker {
	return &Worker{
		training:   training,
		generation: generation,
		voices:     voices,
		outputs:    outputs,
		log:        log,
	}
}

// Run polls both queues until the context is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	w.log.Info("Worker started")

	for {
		select {
		case <-ctx.Done():
			w.log.Info("Worker stopping: %v", ctx.Err())

			return nil
		default:
		}

		w.drainTraining(ctx)
		w.drainGeneration(ctx)
	}
}

// DrainOnce runs one polling pass over both queues. Tests use it to step
// the worker deterministically.
func (w *Worker) DrainOnce(ctx context.Context) {
	w.drainTraining(ctx)
	w.drainGeneration(ctx)
}

func (w *Worker) drainTraining(ctx context.Context) {
	deliveries := w.fetch(ctx, w.training, "training")

	for _, delivery := range deliveries {
		var event core.VoiceTrainingEvent

		err := json.Unmarshal(delivery.Payload(), &event)
		if err != nil {
			w.settlePoison(delivery, "training", err)

			continue
		}

		w.settle(delivery, "training", event.VoiceID, w.handleTraining(ctx, event.VoiceID))
	}
}

func (w *Worker) drainGeneration(ctx context.Context) {
	deliveries := w.fetch(ctx, w.generation, "generation")

	for _, delivery := range deliveries {
		var event core.OutputGenerationEvent

		err := json.Unmarshal(delivery.Payload(), &event)
		if err != nil {
			w.settlePoison(delivery, "generation", err)

			continue
		}

		w.settle(delivery, "generation", event.OutputID, w.handleGeneration(ctx, event.OutputID))
	}
}

func (w *Worker) handleTraining(ctx context.Context, voiceID string) error {
	handleCtx, cancel := context.WithTimeout(ctx, handleMessageTimeout)
	defer cancel()

	return w.voices.ProcessTraining(handleCtx, voiceID)
}

func (w *Worker) handleGeneration(ctx context.Context, outputID string) error {
	handleCtx, cancel := context.WithTimeout(ctx, handleMessageTimeout)
	defer cancel()

	return w.outputs.ProcessGeneration(handleCtx, outputID)
}

func (w *Worker) fetch(ctx context.Context, q core.FifoQueue, kind string) []core.Delivery {
	fetchCtx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()

	deliveries, err := q.Fetch(fetchCtx, fetchBatchSize)
	if err != nil {
		w.log.Error("Failed to fetch %s messages: %v", kind, err)

		return nil
	}

	return deliveries
}

// settlePoison acks a delivery whose payload does not decode. Redelivering
// it would fail the same way forever.
func (w *Worker) settlePoison(delivery core.Delivery, kind string, err error) {
	w.log.Error("Dropping undecodable %s message: %v", kind, err)

	ackErr := delivery.Ack()
	if ackErr != nil {
		w.log.Error("Failed to ack undecodable %s message: %v", kind, ackErr)
	}
}

func (w *Worker) settle(delivery core.Delivery, kind, entityID string, handleErr error) {
	switch {
	case handleErr == nil:
		err := delivery.Ack()
		if err != nil {
			w.log.Error("Failed to ack %s message for %s: %v", kind, entityID, err)
		}
	case core.IsTerminal(handleErr):
		w.log.Error("Dropping %s message for %s after terminal failure: %v", kind, entityID, handleErr)

		err := delivery.Ack()
		if err != nil {
			w.log.Error("Failed to ack %s message for %s: %v", kind, entityID, err)
		}
	default:
		w.log.Warn("Requeueing %s message for %s: %v", kind, entityID, handleErr)

		err := delivery.Nak()
		if err != nil {
			w.log.Error("Failed to nak %s message for %s: %v", kind, entityID, err)
		}
	}
}
