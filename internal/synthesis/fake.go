package synthesis

import (
	"context"
	"fmt"
	"sync"
)

// Fake is a deterministic in-memory SynthesisClient for tests. External
// voice ids are numbered in registration order; synthesized audio encodes
// the voice id and text so assertions can check exactly what was produced.
type Fake struct {
	mu sync.Mutex

	RegisterErr   error
	SynthesizeErr error
	DeleteErr     error

	RegisterCalls   int
	SynthesizeCalls int
	DeleteCalls     int

	DeletedVoiceIDs []string
}

// NewFake creates a fake synthesis client that succeeds on every call.
func NewFake() *Fake {
	return &Fake{}
}

// RegisterVoice returns a deterministic external voice id.
func (f *Fake) RegisterVoice(_ context.Context, _ string, _ []byte, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.RegisterErr != nil {
		return "", f.RegisterErr
	}

	f.RegisterCalls++

	return fmt.Sprintf("ext-voice-%d", f.RegisterCalls), nil
}

// Synthesize returns audio bytes derived from the voice id and text.
func (f *Fake) Synthesize(_ context.Context, externalVoiceID, text string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.SynthesizeErr != nil {
		return nil, f.SynthesizeErr
	}

	f.SynthesizeCalls++

	return []byte("audio:" + externalVoiceID + ":" + text), nil
}

// DeleteVoice records the deletion.
func (f *Fake) DeleteVoice(_ context.Context, externalVoiceID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.DeleteErr != nil {
		return f.DeleteErr
	}

	f.DeleteCalls++
	f.DeletedVoiceIDs = append(f.DeletedVoiceIDs, externalVoiceID)

	return nil
}
