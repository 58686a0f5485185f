package repository

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/set-night/modelarena/internal/domain"
)

// pgTimestamptzToTime converts pgtype.Timestamptz to time.Time.
func pgTimestamptzToTime(ts pgtype.Timestamptz) time.Time {
	if ts.Valid {
		return ts.Time
	}
	return time.Time{}
}

// pgTimestamptzToTimePtr converts pgtype.Timestamptz to *time.Time.
func pgTimestamptzToTimePtr(ts pgtype.Timestamptz) *time.Time {
	if ts.Valid {
		t := ts.Time
		return &t
	}
	return nil
}

// timePtrToPgTimestamptz converts *time.Time to pgtype.Timestamptz.
func timePtrToPgTimestamptz(t *time.Time) pgtype.Timestamptz {
	if t == nil {
		return pgtype.Timestamptz{Valid: false}
	}
	return pgtype.Timestamptz{Time: *t, Valid: true}
}

// int32PtrToIntPtr converts *int32 to *int.
func int32PtrToIntPtr(v *int32) *int {
	if v == nil {
		return nil
	}
	i := int(*v)
	return &i
}

// intPtrToInt32Ptr converts *int to *int32.
func intPtrToInt32Ptr(v *int) *int32 {
	if v == nil {
		return nil
	}
	i := int32(*v)
	return &i
}

// nowIfZero stamps creation times in Go so both drivers order rows the same way.
func nowIfZero(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}

func encodeSelection(models []domain.ModelSelector) ([]byte, error) {
	if models == nil {
		models = []domain.ModelSelector{}
	}
	b, err := json.Marshal(models)
	if err != nil {
		return nil, fmt.Errorf("encode model selection: %w", err)
	}
	return b, nil
}

func decodeSelection(raw []byte) ([]domain.ModelSelector, error) {
	var models []domain.ModelSelector
	if len(raw) == 0 {
		return models, nil
	}
	if err := json.Unmarshal(raw, &models); err != nil {
		return nil, fmt.Errorf("decode model selection: %w", err)
	}
	return models, nil
}

func encodeMetadata(meta map[string]any) ([]byte, error) {
	if meta == nil {
		return nil, nil
	}
	b, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("encode metadata: %w", err)
	}
	return b, nil
}

func decodeMetadata(raw []byte) (map[string]any, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var meta map[string]any
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, fmt.Errorf("decode metadata: %w", err)
	}
	return meta, nil
}
