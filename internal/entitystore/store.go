// Package entitystore persists voice and output records in SQLite via GORM,
// with conditional (compare-and-swap) status transitions.
package entitystore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"github.com/parrot-audio/voice-service/internal/core"
)

// Uniqueness of voice names is enforced only among non-deleted rows, so a
// deleted voice's name can be reused.
const voiceNameIndex = `
CREATE UNIQUE INDEX IF NOT EXISTS idx_voices_name_live
ON voices(name) WHERE status <> 'deleted'`

// Store implements core.VoiceStore and core.OutputStore on a SQL database.
type Store struct {
	db *gorm.DB
}

// New opens the database at dsn, runs migrations, and returns the store.
func New(dsn string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database '%s': %w", dsn, err)
	}

	err = db.AutoMigrate(&core.Voice{}, &core.Output{})
	if err != nil {
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}

	err = db.Exec(voiceNameIndex).Error
	if err != nil {
		return nil, fmt.Errorf("failed to create voice name index: %w", err)
	}

	return &Store{db: db}, nil
}

// CreateVoice inserts a new voice record. A live voice with the same name
// yields ErrConflict.
func (s *Store) CreateVoice(ctx context.Context, voice *core.Voice) error {
	err := s.db.WithContext(ctx).Create(voice).Error
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return fmt.Errorf("%w: voice name %q is taken", core.ErrConflict, voice.Name)
		}

		return fmt.Errorf("failed to create voice: %w", err)
	}

	return nil
}

// VoiceByID reads one voice record.
func (s *Store) VoiceByID(ctx context.Context, id string) (*core.Voice, error) {
	var voice core.Voice

	err := s.db.WithContext(ctx).First(&voice, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: voice %s", core.ErrNotFound, id)
		}

		return nil, fmt.Errorf("failed to read voice %s: %w", id, err)
	}

	return &voice, nil
}

// VoiceByName reads the non-deleted voice with the given name.
func (s *Store) VoiceByName(ctx context.Context, name string) (*core.Voice, error) {
	var voice core.Voice

	err := s.db.WithContext(ctx).
		Where("name = ? AND status <> ?", name, core.VoiceStatusDeleted).
		First(&voice).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: voice named %q", core.ErrNotFound, name)
		}

		return nil, fmt.Errorf("failed to read voice named %q: %w", name, err)
	}

	return &voice, nil
}

// CountVoices counts non-deleted voices, the number the quota applies to.
func (s *Store) CountVoices(ctx context.Context) (int64, error) {
	var count int64

	err := s.db.WithContext(ctx).
		Model(&core.Voice{}).
		Where("status <> ?", core.VoiceStatusDeleted).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count voices: %w", err)
	}

	return count, nil
}

// ListVoices returns all voice records, newest first.
func (s *Store) ListVoices(ctx context.Context) ([]core.Voice, error) {
	var voices []core.Voice

	err := s.db.WithContext(ctx).
		Order("created_at DESC").
		Find(&voices).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list voices: %w", err)
	}

	return voices, nil
}

// TransitionVoice applies expected -> next and sets the external voice id
// in one conditional update. It returns ErrConflict when the stored status
// no longer equals expected, meaning another delivery got there first.
func (s *Store) TransitionVoice(
	ctx context.Context,
	id string,
	expected, next core.VoiceStatus,
	externalVoiceID string,
) (*core.Voice, error) {
	result := s.db.WithContext(ctx).
		Model(&core.Voice{}).
		Where("id = ? AND status = ?", id, expected).
		Updates(map[string]any{
			"status":            next,
			"external_voice_id": externalVoiceID,
			"updated_at":        time.Now().UTC(),
		})
	if result.Error != nil {
		return nil, fmt.Errorf("failed to transition voice %s: %w", id, result.Error)
	}

	if result.RowsAffected == 0 {
		return nil, fmt.Errorf(
			"%w: voice %s is not %s", core.ErrConflict, id, expected,
		)
	}

	return s.VoiceByID(ctx, id)
}

// CreateOutput inserts a new output record.
func (s *Store) CreateOutput(ctx context.Context, output *core.Output) error {
	err := s.db.WithContext(ctx).Create(output).Error
	if err != nil {
		return fmt.Errorf("failed to create output: %w", err)
	}

	return nil
}

// OutputByID reads one output record.
func (s *Store) OutputByID(ctx context.Context, id string) (*core.Output, error) {
	var output core.Output

	err := s.db.WithContext(ctx).First(&output, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: output %s", core.ErrNotFound, id)
		}

		return nil, fmt.Errorf("failed to read output %s: %w", id, err)
	}

	return &output, nil
}

// ListOutputs returns all output records, newest first.
func (s *Store) ListOutputs(ctx context.Context) ([]core.Output, error) {
	var outputs []core.Output

	err := s.db.WithContext(ctx).
		Order("created_at DESC").
		Find(&outputs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list outputs: %w", err)
	}

	return outputs, nil
}

// SearchOutputsByText finds outputs whose text contains term and populates
// each with its referenced voice.
func (s *Store) SearchOutputsByText(ctx context.Context, term string) ([]core.OutputWithVoice, error) {
	var outputs []core.Output

	err := s.db.WithContext(ctx).
		Where("text LIKE ?", "%"+term+"%").
		Order("created_at DESC").
		Find(&outputs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to search outputs for %q: %w", term, err)
	}

	if len(outputs) == 0 {
		return []core.OutputWithVoice{}, nil
	}

	voiceIDs := make([]string, 0, len(outputs))
	for _, output := range outputs {
		voiceIDs = append(voiceIDs, output.VoiceID)
	}

	var voices []core.Voice

	err = s.db.WithContext(ctx).Where("id IN ?", voiceIDs).Find(&voices).Error
	if err != nil {
		return nil, fmt.Errorf("failed to populate voices for search: %w", err)
	}

	voicesByID := make(map[string]core.Voice, len(voices))
	for _, voice := range voices {
		voicesByID[voice.ID] = voice
	}

	populated := make([]core.OutputWithVoice, 0, len(outputs))
	for _, output := range outputs {
		populated = append(populated, core.OutputWithVoice{
			Output: output,
			Voice:  voicesByID[output.VoiceID],
		})
	}

	return populated, nil
}

// TransitionOutput applies expected -> next with the same conditional
// semantics as TransitionVoice.
func (s *Store) TransitionOutput(
	ctx context.Context,
	id string,
	expected, next core.OutputStatus,
) (*core.Output, error) {
	result := s.db.WithContext(ctx).
		Model(&core.Output{}).
		Where("id = ? AND status = ?", id, expected).
		Updates(map[string]any{
			"status":     next,
			"updated_at": time.Now().UTC(),
		})
	if result.Error != nil {
		return nil, fmt.Errorf("failed to transition output %s: %w", id, result.Error)
	}

	if result.RowsAffected == 0 {
		return nil, fmt.Errorf(
			"%w: output %s is not %s", core.ErrConflict, id, expected,
		)
	}

	return s.OutputByID(ctx, id)
}
