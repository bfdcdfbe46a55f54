// Package server_test tests HTTP routing, auth, and error mapping.
package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/book-expert/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parrot-audio/voice-service/internal/core"
	"github.com/parrot-audio/voice-service/internal/entitystore"
	"github.com/parrot-audio/voice-service/internal/objectstore"
	"github.com/parrot-audio/voice-service/internal/output"
	"github.com/parrot-audio/voice-service/internal/queue"
	"github.com/parrot-audio/voice-service/internal/server"
	"github.com/parrot-audio/voice-service/internal/synthesis"
	"github.com/parrot-audio/voice-service/internal/voice"
)

const (
	testAuthToken = "secret-token"
	testMaxVoices = 10
	testTTL       = time.Minute
)

type fixture struct {
	handler http.Handler
	voices  *voice.Coordinator
	outputs *output.Coordinator
	samples *objectstore.Memory
	synth   *synthesis.Fake
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	store, err := entitystore.New(":memory:")
	require.NoError(t, err)

	log, err := logger.New(t.TempDir(), "server-test.log")
	require.NoError(t, err)

	samples := objectstore.NewMemory()
	blobs := objectstore.NewMemory()
	training := queue.NewMemory()
	generation := queue.NewMemory()
	synth := synthesis.NewFake()

	voices := voice.NewCoordinator(store, samples, training, synth, log, testMaxVoices, testTTL)
	outputs := output.NewCoordinator(store, store, blobs, generation, synth, log, testTTL)

	srv := server.New(voices, outputs, testAuthToken, log)

	return &fixture{
		handler: srv.Router(),
		voices:  voices,
		outputs: outputs,
		samples: samples,
		synth:   synth,
	}
}

// do performs an authenticated request and decodes the JSON response into out.
func (f *fixture) do(t *testing.T, method, path string, body, out any) int {
	t.Helper()

	var reader *bytes.Reader

	if body != nil {
		encoded, err := json.Marshal(body)
		require.NoError(t, err)

		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Authorization", "Bearer "+testAuthToken)

	recorder := httptest.NewRecorder()
	f.handler.ServeHTTP(recorder, req)

	if out != nil && recorder.Code < http.StatusMultipleChoices {
		require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), out))
	}

	return recorder.Code
}

// activeVoice creates a voice and walks it to active through the coordinators.
func activeVoice(t *testing.T, fix *fixture, name string) *core.Voice {
	t.Helper()

	ctx := context.Background()

	created, _, err := fix.voices.ReserveUploadSlot(ctx, name, "")
	require.NoError(t, err)

	require.NoError(t, fix.samples.Upload(ctx, core.SampleKey(created.ID), []byte("sample")))
	require.NoError(t, fix.voices.OnSampleUploaded(ctx, "samples", core.SampleKey(created.ID)))
	require.NoError(t, fix.voices.ProcessTraining(ctx, created.ID))

	return created
}

func TestAuth_MissingTokenIsRejected(t *testing.T) {
	t.Parallel()

	fix := newFixture(t)

	req := httptest.NewRequest(http.MethodGet, "/voices", nil)
	recorder := httptest.NewRecorder()
	fix.handler.ServeHTTP(recorder, req)

	assert.Equal(t, http.StatusUnauthorized, recorder.Code)
}

func TestAuth_WrongTokenIsRejected(t *testing.T) {
	t.Parallel()

	fix := newFixture(t)

	req := httptest.NewRequest(http.MethodGet, "/voices", nil)
	req.Header.Set("Authorization", "Bearer wrong")

	recorder := httptest.NewRecorder()
	fix.handler.ServeHTTP(recorder, req)

	assert.Equal(t, http.StatusUnauthorized, recorder.Code)
}

func TestReserveUpload_ReturnsVoiceAndURL(t *testing.T) {
	t.Parallel()

	fix := newFixture(t)

	var resp struct {
		Voice     core.Voice `json:"voice"`
		UploadURL string     `json:"upload_url"`
	}

	code := fix.do(t, http.MethodPost, "/samples/upload",
		map[string]string{"name": "Nova", "description": "narrator"}, &resp)

	assert.Equal(t, http.StatusCreated, code)
	assert.Equal(t, "nova", resp.Voice.Name)
	assert.Equal(t, core.VoiceStatusDraft, resp.Voice.Status)
	assert.Equal(t, "memory://upload/"+core.SampleKey(resp.Voice.ID), resp.UploadURL)
}

func TestReserveUpload_DuplicateNameIsConflict(t *testing.T) {
	t.Parallel()

	fix := newFixture(t)

	code := fix.do(t, http.MethodPost, "/samples/upload", map[string]string{"name": "nova"}, nil)
	require.Equal(t, http.StatusCreated, code)

	code = fix.do(t, http.MethodPost, "/samples/upload", map[string]string{"name": "nova"}, nil)
	assert.Equal(t, http.StatusConflict, code)
}

func TestReserveUpload_QuotaIsTooManyRequests(t *testing.T) {
	t.Parallel()

	fix := newFixture(t)

	for i := range testMaxVoices {
		code := fix.do(t, http.MethodPost, "/samples/upload",
			map[string]string{"name": fmt.Sprintf("voice-%d", i)}, nil)
		require.Equal(t, http.StatusCreated, code)
	}

	code := fix.do(t, http.MethodPost, "/samples/upload", map[string]string{"name": "extra"}, nil)
	assert.Equal(t, http.StatusTooManyRequests, code)
}

func TestSampleNotify_NeedsNoAuth(t *testing.T) {
	t.Parallel()

	fix := newFixture(t)
	ctx := context.Background()

	created, _, err := fix.voices.ReserveUploadSlot(ctx, "nova", "")
	require.NoError(t, err)
	require.NoError(t, fix.samples.Upload(ctx, core.SampleKey(created.ID), []byte("sample")))

	notify := fmt.Sprintf(
		`{"Records": [{"s3": {"bucket": {"name": "samples"}, "object": {"key": "%s"}}}]}`,
		core.SampleKey(created.ID),
	)

	req := httptest.NewRequest(http.MethodPost, "/samples/notify", bytes.NewBufferString(notify))
	recorder := httptest.NewRecorder()
	fix.handler.ServeHTTP(recorder, req)

	require.Equal(t, http.StatusOK, recorder.Code)

	advanced, err := fix.voices.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, core.VoiceStatusTraining, advanced.Status)
}

func TestGetVoice_UnknownIsNotFound(t *testing.T) {
	t.Parallel()

	fix := newFixture(t)

	code := fix.do(t, http.MethodGet, "/voices/no-such-voice", nil, nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestDeleteVoice_DraftVoiceIsConflict(t *testing.T) {
	t.Parallel()

	fix := newFixture(t)

	created, _, err := fix.voices.ReserveUploadSlot(context.Background(), "nova", "")
	require.NoError(t, err)

	code := fix.do(t, http.MethodDelete, "/voices/"+created.ID, nil, nil)
	assert.Equal(t, http.StatusConflict, code)
}

func TestDeleteVoice_ActiveVoiceSucceeds(t *testing.T) {
	t.Parallel()

	fix := newFixture(t)
	created := activeVoice(t, fix, "nova")

	var deleted core.Voice

	code := fix.do(t, http.MethodDelete, "/voices/"+created.ID, nil, &deleted)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, core.VoiceStatusDeleted, deleted.Status)
}

func TestRequestOutput_ReturnsAccepted(t *testing.T) {
	t.Parallel()

	fix := newFixture(t)
	created := activeVoice(t, fix, "nova")

	var out core.Output

	code := fix.do(t, http.MethodPost, "/outputs",
		map[string]string{"voice_id": created.ID, "text": "Hello world"}, &out)

	assert.Equal(t, http.StatusAccepted, code)
	assert.Equal(t, core.OutputStatusPending, out.Status)
	assert.Equal(t, created.ID, out.VoiceID)
}

func TestRequestOutput_EmptyTextIsBadRequest(t *testing.T) {
	t.Parallel()

	fix := newFixture(t)
	created := activeVoice(t, fix, "nova")

	code := fix.do(t, http.MethodPost, "/outputs",
		map[string]string{"voice_id": created.ID, "text": "  "}, nil)

	assert.Equal(t, http.StatusBadRequest, code)
}

func TestSearchOutputs_ReturnsMatchesWithVoice(t *testing.T) {
	t.Parallel()

	fix := newFixture(t)
	created := activeVoice(t, fix, "nova")

	_, err := fix.outputs.RequestOutput(context.Background(), created.ID, "The quick brown fox")
	require.NoError(t, err)

	var results []core.OutputWithVoice

	code := fix.do(t, http.MethodPost, "/outputs/search", map[string]string{"text": "quick"}, &results)

	assert.Equal(t, http.StatusOK, code)
	require.Len(t, results, 1)
	assert.Equal(t, created.ID, results[0].Voice.ID)
}

func TestOutputDownloadURL_SignsBlobKey(t *testing.T) {
	t.Parallel()

	fix := newFixture(t)
	created := activeVoice(t, fix, "nova")

	requested, err := fix.outputs.RequestOutput(context.Background(), created.ID, "Hello")
	require.NoError(t, err)

	var resp map[string]string

	code := fix.do(t, http.MethodGet, "/outputs/"+requested.ID+"/presigned", nil, &resp)

	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "memory://download/"+requested.ID, resp["url"])
}
