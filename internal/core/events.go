package core

import (
	"time"

	"github.com/book-expert/events"
	"github.com/google/uuid"
)

// VoiceTrainingEvent asks the training worker to clone the voice whose
// sample has been uploaded. The payload carries the entity id only; group
// and dedup keys ride on the queue transport.
type VoiceTrainingEvent struct {
	Header  events.EventHeader `json:"header"`
	VoiceID string             `json:"voice_id"`
}

// OutputGenerationEvent asks the synthesis worker to produce audio for a
// pending output.
type OutputGenerationEvent struct {
	Header   events.EventHeader `json:"header"`
	OutputID string             `json:"output_id"`
}

// NewEventHeader builds a header for a pipeline event. The workflow id is
// the id of the entity the event belongs to, so all events for one entity
// correlate in the logs.
func NewEventHeader(workflowID string) events.EventHeader {
	return events.EventHeader{
		Timestamp:  time.Now().UTC(),
		WorkflowID: workflowID,
		EventID:    uuid.NewString(),
		UserID:     "",
		TenantID:   "",
	}
}
