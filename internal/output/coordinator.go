// Package output implements synthesis output requests and their
// asynchronous generation.
package output

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/book-expert/logger"
	"github.com/google/uuid"

	"github.com/parrot-audio/voice-service/internal/core"
)

// Coordinator drives an output from pending to done. Like the voice
// coordinator it relies on FIFO-per-group delivery and conditional store
// updates rather than locks.
type Coordinator struct {
	outputs     core.OutputStore
	voices      core.VoiceStore
	blobs       core.ObjectStore
	generation  core.FifoQueue
	synth       core.SynthesisClient
	log         *logger.Logger
	downloadTTL time.Duration
}

// NewCoordinator creates an output generation coordinator.
func NewCoordinator(
	outputs core.OutputStore,
	voices core.VoiceStore,
	blobs core.ObjectStore,
	generation core.FifoQueue,
	synth core.SynthesisClient,
	log *logger.Logger,
	downloadTTL time.Duration,
) *Coordinator {
	return &Coordinator{
		outputs:     outputs,
		voices:      voices,
		blobs:       blobs,
		generation:  generation,
		synth:       synth,
		log:         log,
		downloadTTL: downloadTTL,
	}
}

// RequestOutput records a pending output for an active voice and enqueues
// its generation. The pending record is visible to readers immediately,
// before any synthesis work happens.
func (c *Coordinator) RequestOutput(ctx context.Context, voiceID, text string) (*core.Output, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("%w: output text is empty", core.ErrInvalidInput)
	}

	voice, err := c.voices.VoiceByID(ctx, voiceID)
	if err != nil {
		return nil, err
	}

	if voice.Status != core.VoiceStatusActive {
		return nil, fmt.Errorf(
			"%w: voice %s is %s, outputs need an active voice",
			core.ErrInvalidState, voiceID, voice.Status,
		)
	}

	output := &core.Output{
		ID:      uuid.NewString(),
		VoiceID: voiceID,
		Text:    text,
		Status:  core.OutputStatusPending,
	}

	err = c.outputs.CreateOutput(ctx, output)
	if err != nil {
		return nil, err
	}

	event := core.OutputGenerationEvent{
		Header:   core.NewEventHeader(output.ID),
		OutputID: output.ID,
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal generation event: %w", err)
	}

	// Group by voice so outputs for one voice generate in request order;
	// the output id dedups publish retries.
	err = c.generation.Publish(ctx, voiceID, output.ID, payload)
	if err != nil {
		return nil, err
	}

	c.log.Info("Output %s queued for voice %s", output.ID, voiceID)

	return output, nil
}

// ProcessGeneration is the queue consumer for generation messages. The
// audio blob is written before the done transition commits, so a done
// output always has its blob; redeliveries of a done output are no-ops.
func (c *Coordinator) ProcessGeneration(ctx context.Context, outputID string) error {
	output, err := c.outputs.OutputByID(ctx, outputID)
	if err != nil {
		return err
	}

	if output.Status == core.OutputStatusDone {
		c.log.Info("Output %s is already done; skipping generation", outputID)

		return nil
	}

	voice, err := c.voices.VoiceByID(ctx, output.VoiceID)
	if err != nil {
		return err
	}

	if voice.ExternalVoiceID == "" {
		return fmt.Errorf(
			"%w: voice %s has no external registration, output %s cannot generate",
			core.ErrInvalidState, output.VoiceID, outputID,
		)
	}

	audio, err := c.synth.Synthesize(ctx, voice.ExternalVoiceID, output.Text)
	if err != nil {
		return err
	}

	err = c.blobs.Upload(ctx, output.ID, audio)
	if err != nil {
		return err
	}

	_, err = c.outputs.TransitionOutput(
		ctx, outputID, core.OutputStatusPending, core.OutputStatusDone,
	)
	if err != nil {
		if errors.Is(err, core.ErrConflict) {
			c.log.Info("Output %s was completed by a concurrent delivery", outputID)

			return nil
		}

		return err
	}

	c.log.Info("Output %s generated (%d bytes of audio)", outputID, len(audio))

	return nil
}

// DownloadURL mints a signed URL for an output's audio blob. The caller
// gets a URL even for a pending output; fetching it before generation
// completes simply finds no object.
func (c *Coordinator) DownloadURL(ctx context.Context, outputID string) (string, error) {
	output, err := c.outputs.OutputByID(ctx, outputID)
	if err != nil {
		return "", err
	}

	return c.blobs.SignedDownloadURL(ctx, output.ID, c.downloadTTL)
}

// SearchByText finds outputs whose text contains the term, each populated
// with its voice.
func (c *Coordinator) SearchByText(ctx context.Context, term string) ([]core.OutputWithVoice, error) {
	term = strings.TrimSpace(term)
	if term == "" {
		return nil, fmt.Errorf("%w: search term is empty", core.ErrInvalidInput)
	}

	return c.outputs.SearchOutputsByText(ctx, term)
}

// Get reads one output.
func (c *Coordinator) Get(ctx context.Context, outputID string) (*core.Output, error) {
	return c.outputs.OutputByID(ctx, outputID)
}

// List returns all outputs, newest first.
func (c *Coordinator) List(ctx context.Context) ([]core.Output, error) {
	return c.outputs.ListOutputs(ctx)
}
