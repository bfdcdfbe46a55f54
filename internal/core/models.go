// Package core defines the domain model, gateway interfaces, and error
// taxonomy for the voice pipeline service.
package core

import (
	"fmt"
	"strings"
	"time"
)

// VoiceStatus is the lifecycle state of a cloned voice.
type VoiceStatus string

// Voice lifecycle states. Transitions are driven exclusively by the voice
// coordinator: draft -> training -> active -> deleted.
const (
	VoiceStatusDraft    VoiceStatus = "draft"
	VoiceStatusTraining VoiceStatus = "training"
	VoiceStatusActive   VoiceStatus = "active"
	VoiceStatusDeleted  VoiceStatus = "deleted"
)

// OutputStatus is the lifecycle state of a synthesis output.
type OutputStatus string

// Output lifecycle states. The only transition is pending -> done, applied
// exactly once after the audio blob is durably written.
const (
	OutputStatusPending OutputStatus = "pending"
	OutputStatusDone    OutputStatus = "done"
)

// Voice is a reference to a vocal identity registered with the external
// synthesis service. ExternalVoiceID is non-empty iff the voice is active;
// it is cleared when the voice is soft-deleted.
type Voice struct {
	ID              string      `gorm:"primaryKey;size:64"  json:"id"`
	Name            string      `gorm:"size:255;not null"   json:"name"`
	Status          VoiceStatus `gorm:"size:32;not null"    json:"status"`
	Description     string      `gorm:"size:1024"           json:"description,omitempty"`
	ExternalVoiceID string      `gorm:"size:255;index"      json:"external_voice_id,omitempty"`
	CreatedAt       time.Time   `json:"created_at"`
	UpdatedAt       time.Time   `json:"updated_at"`
}

// Output is one request to synthesize text with a specific voice. Its ID
// doubles as the object-store key for the resulting audio blob, which
// exists iff the status is done.
type Output struct {
	ID        string       `gorm:"primaryKey;size:64" json:"id"`
	VoiceID   string       `gorm:"size:64;index"      json:"voice_id"`
	Text      string       `gorm:"type:text;not null" json:"text"`
	Status    OutputStatus `gorm:"size:32;not null"   json:"status"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// OutputWithVoice is an output populated with its referenced voice, the
// shape returned by text search.
type OutputWithVoice struct {
	Output
	Voice Voice `gorm:"-" json:"voice"`
}

const sampleKeySuffix = ".mp3"

// SampleKey derives the object-store key of a voice's sample audio.
func SampleKey(voiceID string) string {
	return voiceID + sampleKeySuffix
}

// VoiceIDFromSampleKey extracts the voice id from an upload-notification
// object key. Keys that were not minted by SampleKey are rejected.
func VoiceIDFromSampleKey(key string) (string, error) {
	voiceID := strings.TrimSuffix(key, sampleKeySuffix)
	if voiceID == "" || voiceID == key {
		return "", fmt.Errorf("%w: object key %q is not a sample key", ErrInvalidInput, key)
	}

	return voiceID, nil
}
