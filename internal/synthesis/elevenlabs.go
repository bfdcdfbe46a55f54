// Package synthesis provides clients for the external voice-cloning and
// text-to-speech service.
package synthesis

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"time"

	"github.com/book-expert/logger"

	"github.com/parrot-audio/voice-service/internal/core"
)

// API endpoints and request constants.
const (
	DefaultBaseURL = "https://api.elevenlabs.io/v1"

	apiAddVoice     = "/voices/add"
	apiDeleteVoice  = "/voices/%s"
	apiTextToSpeech = "/text-to-speech/%s/stream?optimize_streaming_latency=3"

	headerAPIKey      = "xi-api-key"
	headerContentType = "Content-Type"
	headerAccept      = "Accept"
	contentTypeJSON   = "application/json"
	contentTypeMPEG   = "audio/mpeg"

	modelID = "eleven_monolingual_v1"

	errorBodyLimit = 512
)

// ErrEmptyAudio indicates the service returned a successful status with no
// audio payload.
var ErrEmptyAudio = errors.New("received empty audio data")

// ElevenLabs implements the core.SynthesisClient interface against the
// ElevenLabs v1 HTTP API.
type ElevenLabs struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	log        *logger.Logger
}

// NewElevenLabs creates a client for the service at baseURL. The timeout
// bounds every request so a hung call cannot exhaust a queue invocation's
// execution window.
func NewElevenLabs(apiKey, baseURL string, timeout time.Duration, log *logger.Logger) *ElevenLabs {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	return &ElevenLabs{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    baseURL,
		apiKey:     apiKey,
		log:        log,
	}
}

type addVoiceResponse struct {
	VoiceID string `json:"voice_id"`
}

type errorDetail struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

type errorResponse struct {
	Detail errorDetail `json:"detail"`
}

type synthesizeRequest struct {
	Text          string        `json:"text"`
	ModelID       string        `json:"model_id"`
	VoiceSettings voiceSettings `json:"voice_settings"`
}

type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
	Style           float64 `json:"style"`
	UseSpeakerBoost bool    `json:"use_speaker_boost"`
}

// RegisterVoice uploads sample audio and registers a new cloned voice,
// returning the service-side voice id.
func (c *ElevenLabs) RegisterVoice(
	ctx context.Context,
	name string,
	sample []byte,
	description string,
) (string, error) {
	body := &bytes.Buffer{}
	form := multipart.NewWriter(body)

	err := form.WriteField("name", name)
	if err != nil {
		return "", fmt.Errorf("failed to write name field: %w", err)
	}

	err = form.WriteField("description", description)
	if err != nil {
		return "", fmt.Errorf("failed to write description field: %w", err)
	}

	partHeader := make(textproto.MIMEHeader)
	partHeader.Set("Content-Disposition",
		fmt.Sprintf(`form-data; name="files"; filename="%s.mp3"`, name))
	partHeader.Set(headerContentType, contentTypeMPEG)

	part, err := form.CreatePart(partHeader)
	if err != nil {
		return "", fmt.Errorf("failed to create sample part: %w", err)
	}

	_, err = part.Write(sample)
	if err != nil {
		return "", fmt.Errorf("failed to write sample data: %w", err)
	}

	err = form.Close()
	if err != nil {
		return "", fmt.Errorf("failed to finalize form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+apiAddVoice, body)
	if err != nil {
		return "", fmt.Errorf("failed to create register request: %w", err)
	}

	req.Header.Set(headerAPIKey, c.apiKey)
	req.Header.Set(headerContentType, form.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: register voice %q: %w", core.ErrUpstream, name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return "", c.serviceError("register voice", resp)
	}

	var registered addVoiceResponse

	err = json.NewDecoder(resp.Body).Decode(&registered)
	if err != nil {
		return "", fmt.Errorf("%w: decode register response: %w", core.ErrUpstream, err)
	}

	if registered.VoiceID == "" {
		return "", fmt.Errorf("%w: register response has no voice id", core.ErrUpstream)
	}

	c.log.Info("Registered voice %q with external id %s", name, registered.VoiceID)

	return registered.VoiceID, nil
}

// Synthesize converts text to audio using the registered voice and returns
// the raw audio bytes.
func (c *ElevenLabs) Synthesize(ctx context.Context, externalVoiceID, text string) ([]byte, error) {
	payload := synthesizeRequest{
		Text:    text,
		ModelID: modelID,
		VoiceSettings: voiceSettings{
			Stability:       0,
			SimilarityBoost: 0,
			Style:           0.5,
			UseSpeakerBoost: true,
		},
	}

	requestBody, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal synthesize request: %w", err)
	}

	url := c.baseURL + fmt.Sprintf(apiTextToSpeech, externalVoiceID)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(requestBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create synthesize request: %w", err)
	}

	req.Header.Set(headerAPIKey, c.apiKey)
	req.Header.Set(headerContentType, contentTypeJSON)
	req.Header.Set(headerAccept, contentTypeMPEG)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: synthesize with voice %s: %w", core.ErrUpstream, externalVoiceID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.serviceError("synthesize", resp)
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read audio data: %w", core.ErrUpstream, err)
	}

	if len(audio) == 0 {
		return nil, fmt.Errorf("%w: %w", core.ErrUpstream, ErrEmptyAudio)
	}

	return audio, nil
}

// DeleteVoice removes the registered voice from the service.
func (c *ElevenLabs) DeleteVoice(ctx context.Context, externalVoiceID string) error {
	url := c.baseURL + fmt.Sprintf(apiDeleteVoice, externalVoiceID)

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, url, http.NoBody)
	if err != nil {
		return fmt.Errorf("failed to create delete request: %w", err)
	}

	req.Header.Set(headerAPIKey, c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: delete voice %s: %w", core.ErrUpstream, externalVoiceID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return c.serviceError("delete voice", resp)
	}

	c.log.Info("Deleted external voice %s", externalVoiceID)

	return nil
}

// serviceError turns a non-success response into an upstream failure,
// preferring the structured error payload when one is present.
func (c *ElevenLabs) serviceError(operation string, resp *http.Response) error {
	raw, readErr := io.ReadAll(io.LimitReader(resp.Body, errorBodyLimit))
	if readErr != nil {
		return fmt.Errorf("%w: %s: status %s", core.ErrUpstream, operation, resp.Status)
	}

	var structured errorResponse

	err := json.Unmarshal(raw, &structured)
	if err == nil && structured.Detail.Message != "" {
		return fmt.Errorf(
			"%w: %s: %s (status %s)",
			core.ErrUpstream, operation, structured.Detail.Message, resp.Status,
		)
	}

	return fmt.Errorf(
		"%w: %s: status %s, body: %s",
		core.ErrUpstream, operation, resp.Status, string(raw),
	)
}
