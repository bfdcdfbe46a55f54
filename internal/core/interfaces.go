package core

import (
	"context"
	"time"
)

// ObjectStore is a key-value blob store that can also mint time-bounded
// signed URLs for direct client upload and download.
type ObjectStore interface {
	Upload(ctx context.Context, key string, data []byte) error
	Download(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
	SignedUploadURL(ctx context.Context, key string, ttl time.Duration) (string, error)
	SignedDownloadURL(ctx context.Context, key string, ttl time.Duration) (string, error)
}

// Delivery is one received queue message. Ack marks it handled; Nak
// requests redelivery.
type Delivery interface {
	Payload() []byte
	Ack() error
	Nak() error
}

// FifoQueue is an at-least-once message queue with FIFO ordering per group
// key and publish deduplication per dedup key within a bounded window.
type FifoQueue interface {
	Publish(ctx context.Context, groupKey, dedupKey string, payload []byte) error
	Fetch(ctx context.Context, max int) ([]Delivery, error)
}

// SynthesisClient talks to the external voice-cloning service. Any
// non-success response is an error; implementations never partially apply
// local state.
type SynthesisClient interface {
	RegisterVoice(ctx context.Context, name string, sample []byte, description string) (string, error)
	Synthesize(ctx context.Context, externalVoiceID, text string) ([]byte, error)
	DeleteVoice(ctx context.Context, externalVoiceID string) error
}

// VoiceStore persists voice records. TransitionVoice is a conditional
// update: it applies only when the stored status equals expected, and
// returns ErrConflict otherwise, which callers treat as "another delivery
// already handled this".
type VoiceStore interface {
	CreateVoice(ctx context.Context, voice *Voice) error
	VoiceByID(ctx context.Context, id string) (*Voice, error)
	VoiceByName(ctx context.Context, name string) (*Voice, error)
	CountVoices(ctx context.Context) (int64, error)
	ListVoices(ctx context.Context) ([]Voice, error)
	TransitionVoice(ctx context.Context, id string, expected, next VoiceStatus, externalVoiceID string) (*Voice, error)
}

// OutputStore persists output records with the same conditional-update
// discipline as VoiceStore.
type OutputStore interface {
	CreateOutput(ctx context.Context, output *Output) error
	OutputByID(ctx context.Context, id string) (*Output, error)
	ListOutputs(ctx context.Context) ([]Output, error)
	SearchOutputsByText(ctx context.Context, term string) ([]OutputWithVoice, error)
	TransitionOutput(ctx context.Context, id string, expected, next OutputStatus) (*Output, error)
}
