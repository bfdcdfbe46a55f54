// Package voice_test tests the voice lifecycle coordinator.
package voice_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/book-expert/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parrot-audio/voice-service/internal/core"
	"github.com/parrot-audio/voice-service/internal/entitystore"
	"github.com/parrot-audio/voice-service/internal/objectstore"
	"github.com/parrot-audio/voice-service/internal/queue"
	"github.com/parrot-audio/voice-service/internal/synthesis"
	"github.com/parrot-audio/voice-service/internal/voice"
)

const (
	testMaxVoices = 10
	testUploadTTL = 2 * time.Minute
)

type fixture struct {
	coordinator *voice.Coordinator
	store       *entitystore.Store
	samples     *objectstore.Memory
	training    *queue.Memory
	synth       *synthesis.Fake
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	store, err := entitystore.New(":memory:")
	require.NoError(t, err)

	log, err := logger.New(t.TempDir(), "voice-test.log")
	require.NoError(t, err)

	samples := objectstore.NewMemory()
	training := queue.NewMemory()
	synth := synthesis.NewFake()

	return &fixture{
		coordinator: voice.NewCoordinator(
			store, samples, training, synth, log, testMaxVoices, testUploadTTL,
		),
		store:    store,
		samples:  samples,
		training: training,
		synth:    synth,
	}
}

// reserveAndUpload walks a voice through reservation and sample upload,
// returning its id.
func reserveAndUpload(t *testing.T, fix *fixture, name string) string {
	t.Helper()

	ctx := context.Background()

	created, _, err := fix.coordinator.ReserveUploadSlot(ctx, name, "")
	require.NoError(t, err)

	require.NoError(t, fix.samples.Upload(ctx, core.SampleKey(created.ID), []byte("sample audio")))
	require.NoError(t, fix.coordinator.OnSampleUploaded(ctx, "samples", core.SampleKey(created.ID)))

	return created.ID
}

func TestReserveUploadSlot_CreatesDraftAndSignedURL(t *testing.T) {
	t.Parallel()

	fix := newFixture(t)
	ctx := context.Background()

	created, uploadURL, err := fix.coordinator.ReserveUploadSlot(ctx, "Nova Voice", "a narrator")
	require.NoError(t, err)

	assert.Equal(t, "nova-voice", created.Name)
	assert.Equal(t, core.VoiceStatusDraft, created.Status)
	assert.Equal(t, "a narrator", created.Description)
	assert.Empty(t, created.ExternalVoiceID)
	assert.Equal(t, "memory://upload/"+core.SampleKey(created.ID), uploadURL)
}

func TestReserveUploadSlot_DuplicateNameConflicts(t *testing.T) {
	t.Parallel()

	fix := newFixture(t)
	ctx := context.Background()

	_, _, err := fix.coordinator.ReserveUploadSlot(ctx, "nova", "")
	require.NoError(t, err)

	_, _, err = fix.coordinator.ReserveUploadSlot(ctx, "nova", "")
	require.ErrorIs(t, err, core.ErrConflict)

	voices, err := fix.coordinator.List(ctx)
	require.NoError(t, err)
	assert.Len(t, voices, 1, "the failed reservation must not create a record")
}

func TestReserveUploadSlot_QuotaExceeded(t *testing.T) {
	t.Parallel()

	fix := newFixture(t)
	ctx := context.Background()

	for i := range testMaxVoices {
		_, _, err := fix.coordinator.ReserveUploadSlot(ctx, voiceName(i), "")
		require.NoError(t, err)
	}

	_, _, err := fix.coordinator.ReserveUploadSlot(ctx, "one-too-many", "")
	require.ErrorIs(t, err, core.ErrQuotaExceeded)
}

func TestReserveUploadSlot_EmptyNameIsInvalid(t *testing.T) {
	t.Parallel()

	fix := newFixture(t)

	_, _, err := fix.coordinator.ReserveUploadSlot(context.Background(), "  !!  ", "")
	require.ErrorIs(t, err, core.ErrInvalidInput)
}

func TestOnSampleUploaded_EnqueuesAndAdvancesToTraining(t *testing.T) {
	t.Parallel()

	fix := newFixture(t)
	ctx := context.Background()

	voiceID := reserveAndUpload(t, fix, "nova")

	current, err := fix.coordinator.Get(ctx, voiceID)
	require.NoError(t, err)
	assert.Equal(t, core.VoiceStatusTraining, current.Status)

	deliveries, err := fix.training.Fetch(ctx, 10)
	require.NoError(t, err)
	require.Len(t, deliveries, 1)

	var event core.VoiceTrainingEvent
	require.NoError(t, json.Unmarshal(deliveries[0].Payload(), &event))
	assert.Equal(t, voiceID, event.VoiceID)
	assert.Equal(t, voiceID, event.Header.WorkflowID)
}

func TestOnSampleUploaded_DuplicateNotificationCollapses(t *testing.T) {
	t.Parallel()

	fix := newFixture(t)
	ctx := context.Background()

	voiceID := reserveAndUpload(t, fix, "nova")

	// The second notification publishes the same dedup key and finds the
	// voice already in training; both effects are no-ops.
	require.NoError(t, fix.coordinator.OnSampleUploaded(ctx, "samples", core.SampleKey(voiceID)))
	assert.Equal(t, 1, fix.training.Len())
}

func TestOnSampleUploaded_UnparsableKeyIsFatal(t *testing.T) {
	t.Parallel()

	fix := newFixture(t)

	err := fix.coordinator.OnSampleUploaded(context.Background(), "samples", "not-a-sample.wav")
	require.ErrorIs(t, err, core.ErrInvalidInput)
	assert.Equal(t, 0, fix.training.Len())
}

func TestProcessTraining_ActivatesVoice(t *testing.T) {
	t.Parallel()

	fix := newFixture(t)
	ctx := context.Background()

	voiceID := reserveAndUpload(t, fix, "nova")

	require.NoError(t, fix.coordinator.ProcessTraining(ctx, voiceID))

	trained, err := fix.coordinator.Get(ctx, voiceID)
	require.NoError(t, err)
	assert.Equal(t, core.VoiceStatusActive, trained.Status)
	assert.Equal(t, "ext-voice-1", trained.ExternalVoiceID)
	assert.Equal(t, 1, fix.synth.RegisterCalls)
}

func TestProcessTraining_RedeliveryOnActiveVoiceIsNoOp(t *testing.T) {
	t.Parallel()

	fix := newFixture(t)
	ctx := context.Background()

	voiceID := reserveAndUpload(t, fix, "nova")
	require.NoError(t, fix.coordinator.ProcessTraining(ctx, voiceID))

	// Redelivered message: no second registration, no state change.
	require.NoError(t, fix.coordinator.ProcessTraining(ctx, voiceID))

	assert.Equal(t, 1, fix.synth.RegisterCalls)

	trained, err := fix.coordinator.Get(ctx, voiceID)
	require.NoError(t, err)
	assert.Equal(t, "ext-voice-1", trained.ExternalVoiceID)
}

func TestProcessTraining_MissingSampleLeavesVoiceTraining(t *testing.T) {
	t.Parallel()

	fix := newFixture(t)
	ctx := context.Background()

	voiceID := reserveAndUpload(t, fix, "nova")
	require.NoError(t, fix.samples.Delete(ctx, core.SampleKey(voiceID)))

	err := fix.coordinator.ProcessTraining(ctx, voiceID)
	require.ErrorIs(t, err, core.ErrUpstream)

	stuck, err := fix.coordinator.Get(ctx, voiceID)
	require.NoError(t, err)
	assert.Equal(t, core.VoiceStatusTraining, stuck.Status, "voice stays eligible for reprocessing")
}

func TestProcessTraining_RegistrationFailurePropagates(t *testing.T) {
	t.Parallel()

	fix := newFixture(t)
	ctx := context.Background()

	voiceID := reserveAndUpload(t, fix, "nova")
	fix.synth.RegisterErr = errors.Join(core.ErrUpstream, errors.New("service unavailable"))

	err := fix.coordinator.ProcessTraining(ctx, voiceID)
	require.ErrorIs(t, err, core.ErrUpstream)

	stuck, err := fix.coordinator.Get(ctx, voiceID)
	require.NoError(t, err)
	assert.Equal(t, core.VoiceStatusTraining, stuck.Status)
	assert.Empty(t, stuck.ExternalVoiceID)
}

func TestDeleteVoice_RemovesExternalRegistrationAndSample(t *testing.T) {
	t.Parallel()

	fix := newFixture(t)
	ctx := context.Background()

	voiceID := reserveAndUpload(t, fix, "nova")
	require.NoError(t, fix.coordinator.ProcessTraining(ctx, voiceID))

	deleted, err := fix.coordinator.DeleteVoice(ctx, voiceID)
	require.NoError(t, err)

	assert.Equal(t, core.VoiceStatusDeleted, deleted.Status)
	assert.Empty(t, deleted.ExternalVoiceID)
	assert.Equal(t, []string{"ext-voice-1"}, fix.synth.DeletedVoiceIDs)
	assert.False(t, fix.samples.Exists(core.SampleKey(voiceID)))
}

func TestDeleteVoice_UpstreamFailureCommitsNothing(t *testing.T) {
	t.Parallel()

	fix := newFixture(t)
	ctx := context.Background()

	voiceID := reserveAndUpload(t, fix, "nova")
	require.NoError(t, fix.coordinator.ProcessTraining(ctx, voiceID))

	fix.synth.DeleteErr = errors.Join(core.ErrUpstream, errors.New("delete rejected"))

	_, err := fix.coordinator.DeleteVoice(ctx, voiceID)
	require.ErrorIs(t, err, core.ErrUpstream)

	untouched, getErr := fix.coordinator.Get(ctx, voiceID)
	require.NoError(t, getErr)
	assert.Equal(t, core.VoiceStatusActive, untouched.Status)
	assert.Equal(t, "ext-voice-1", untouched.ExternalVoiceID)
	assert.True(t, fix.samples.Exists(core.SampleKey(voiceID)), "sample blob must survive a failed delete")
}

func TestDeleteVoice_NonActiveVoiceIsInvalidState(t *testing.T) {
	t.Parallel()

	fix := newFixture(t)
	ctx := context.Background()

	created, _, err := fix.coordinator.ReserveUploadSlot(ctx, "nova", "")
	require.NoError(t, err)

	_, err = fix.coordinator.DeleteVoice(ctx, created.ID)
	require.ErrorIs(t, err, core.ErrInvalidState)
	assert.Zero(t, fix.synth.DeleteCalls)
}

func TestSlugify(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "nova", voice.Slugify("Nova"))
	assert.Equal(t, "my-cool-voice", voice.Slugify("  My Cool  Voice! "))
	assert.Equal(t, "voice-2", voice.Slugify("Voice #2"))
	assert.Empty(t, voice.Slugify("???"))
}

func voiceName(index int) string {
	return "voice-" + string(rune('a'+index))
}
