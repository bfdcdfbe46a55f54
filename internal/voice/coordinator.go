// Package voice implements the state machine governing a voice from sample
// upload through training to active and deleted.
package voice

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

// Coordinator drives voice lifecycle transitions. Mutual exclusion comes
// from the queue's FIFO-per-group guarantee plus conditional store
// updates; the coordinator itself holds no locks.
type Coordinator struct {
	store     core.VoiceStore
	samples   core.ObjectStore
	training  core.FifoQueue
	synth     core.SynthesisClient
	log       *logger.Logger
	maxVoices int
	uploadTTL time.Duration
}

// NewCoordinator creates a voice lifecycle coordinator.
func NewCoordinator(
	store core.VoiceStore,
	samples core.ObjectStore,
	training core.FifoQueue,
	synth core.SynthesisClient,
	log *logger.Logger,
	maxVoices int,
	uploadTTL time.Duration,
) *Coordinator {
	return &Coordinator{
		store:     store,
		samples:   samples,
		training:  training,
		synth:     synth,
		log:       log,
		maxVoices: maxVoices,
		uploadTTL: uploadTTL,
	}
}

// ReserveUploadSlot creates a draft voice and returns a signed URL the
// client uploads its sample to. The name must be unique among non-deleted
// voices and the voice cap must not be reached.
func (c *Coordinator) ReserveUploadSlot(
	ctx context.Context,
	name, description string,
) (*core.Voice, string, error) {
	slug := Slugify(name)
	if slug == "" {
		return nil, "", fmt.Errorf("%w: voice name is empty", core.ErrInvalidInput)
	}

	count, err := c.store.CountVoices(ctx)
	if err != nil {
		return nil, "", err
	}

	if count >= int64(c.maxVoices) {
		return nil, "", fmt.Errorf(
			"%w: limit of %d voices reached", core.ErrQuotaExceeded, c.maxVoices,
		)
	}

	_, err = c.store.VoiceByName(ctx, slug)
	if err == nil {
		return nil, "", fmt.Errorf("%w: voice name %q is taken", core.ErrConflict, slug)
	}

	if !errors.Is(err, core.ErrNotFound) {
		return nil, "", err
	}

	voice := &core.Voice{
		ID:          uuid.NewString(),
		Name:        slug,
		Status:      core.VoiceStatusDraft,
		Description: description,
	}

	// The store's uniqueness constraint is the backstop for a race
	// between two reservations of the same name.
	err = c.store.CreateVoice(ctx, voice)
	if err != nil {
		return nil, "", err
	}

	uploadURL, err := c.samples.SignedUploadURL(ctx, core.SampleKey(voice.ID), c.uploadTTL)
	if err != nil {
		return nil, "", err
	}

	c.log.Info("Reserved upload slot for voice %q (%s)", slug, voice.ID)

	return voice, uploadURL, nil
}

// OnSampleUploaded handles the object store's upload notification. It
// enqueues a training message and advances the voice to training. A key
// that does not parse to a voice id is fatal and surfaced to the caller.
func (c *Coordinator) OnSampleUploaded(ctx context.Context, bucket, key string) error {
	voiceID, err := core.VoiceIDFromSampleKey(key)
	if err != nil {
		return fmt.Errorf("upload notification for bucket '%s': %w", bucket, err)
	}

	event := core.VoiceTrainingEvent{
		Header:  core.NewEventHeader(voiceID),
		VoiceID: voiceID,
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal training event: %w", err)
	}

	// Group and dedup key are both the voice id: redundant upload
	// notifications for one voice collapse to a single delivery.
	err = c.training.Publish(ctx, voiceID, voiceID, payload)
	if err != nil {
		return err
	}

	_, err = c.store.TransitionVoice(
		ctx, voiceID, core.VoiceStatusDraft, core.VoiceStatusTraining, "",
	)
	if err != nil {
		if errors.Is(err, core.ErrConflict) {
			c.log.Info("Voice %s already left draft; duplicate upload notification ignored", voiceID)

			return nil
		}

		return err
	}

	c.log.Info("Voice %s advanced to training", voiceID)

	return nil
}

// ProcessTraining is the queue consumer for training messages. It is
// idempotent under redelivery: an already-active voice is a no-op, and a
// lost conditional update means another delivery won the race.
func (c *Coordinator) ProcessTraining(ctx context.Context, voiceID string) error {
	voice, err := c.store.VoiceByID(ctx, voiceID)
	if err != nil {
		return err
	}

	if voice.Status == core.VoiceStatusActive {
		c.log.Info("Voice %s is already active; skipping training", voiceID)

		return nil
	}

	if voice.Status == core.VoiceStatusDeleted {
		return fmt.Errorf("%w: voice %s is deleted", core.ErrInvalidState, voiceID)
	}

	sample, err := c.samples.Download(ctx, core.SampleKey(voiceID))
	if err != nil {
		return err
	}

	externalVoiceID, err := c.synth.RegisterVoice(ctx, voice.Name, sample, voice.Description)
	if err != nil {
		return err
	}

	_, err = c.store.TransitionVoice(
		ctx, voiceID, voice.Status, core.VoiceStatusActive, externalVoiceID,
	)
	if err != nil {
		if errors.Is(err, core.ErrConflict) {
			c.log.Info("Voice %s was activated by a concurrent delivery", voiceID)

			return nil
		}

		return err
	}

	c.log.Info("Voice %s is active with external id %s", voiceID, externalVoiceID)

	return nil
}

// DeleteVoice soft-deletes an active voice. The external registration is
// removed first; no local state changes unless that call succeeds.
func (c *Coordinator) DeleteVoice(ctx context.Context, voiceID string) (*core.Voice, error) {
	voice, err := c.store.VoiceByID(ctx, voiceID)
	if err != nil {
		return nil, err
	}

	if voice.Status != core.VoiceStatusActive || voice.ExternalVoiceID == "" {
		return nil, fmt.Errorf(
			"%w: voice %s is %s and cannot be deleted", core.ErrInvalidState, voiceID, voice.Status,
		)
	}

	err = c.synth.DeleteVoice(ctx, voice.ExternalVoiceID)
	if err != nil {
		return nil, err
	}

	err = c.samples.Delete(ctx, core.SampleKey(voiceID))
	if err != nil {
		return nil, err
	}

	deleted, err := c.store.TransitionVoice(
		ctx, voiceID, core.VoiceStatusActive, core.VoiceStatusDeleted, "",
	)
	if err != nil {
		return nil, err
	}

	c.log.Info("Voice %s deleted", voiceID)

	return deleted, nil
}

// Get reads one voice.
func (c *Coordinator) Get(ctx context.Context, voiceID string) (*core.Voice, error) {
	return c.store.VoiceByID(ctx, voiceID)
}

// List returns all voices, newest first.
func (c *Coordinator) List(ctx context.Context) ([]core.Voice, error) {
	return c.store.ListVoices(ctx)
}

// Slugify normalizes a human-chosen voice name to lowercase hyphenated
// ASCII, the form used for both the store record and the external service.
func Slugify(name string) string {
	var b strings.Builder

	lastHyphen := true
	for _, r := range strings.ToLower(strings.TrimSpace(name)) {
		switch {
		case r >= 'a' && r <= 'z' || r >= '0' && r <= '9':
			b.WriteRune(r)

			lastHyphen = false
		case !lastHyphen:
			b.WriteByte('-')

			lastHyphen = true
		}
	}

	return strings.TrimSuffix(b.String(), "-")
}
