package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"bg-algo-checker/internal/models"
)

// Source supplies recorded sensor data, each list ascending by timestamp.
type Source interface {
	ListSessions(ctx context.Context) ([]models.Session, error)
	ListRawSamples(ctx context.Context) ([]models.RawSample, error)
	ListCalibrations(ctx context.Context) ([]models.CalibrationEvent, error)
}

// Dataset is everything a Source holds.
type Dataset struct {
	Sessions     []models.Session
	Raw          []models.RawSample
	Calibrations []models.CalibrationEvent
}

// LoadDataset reads the complete contents of src.
func LoadDataset(ctx context.Context, src Source) (Dataset, error) {
	sessions, err := src.ListSessions(ctx)
	if err != nil {
		return Dataset{}, fmt.Errorf("list sessions: %w", err)
	}
	raw, err := src.ListRawSamples(ctx)
	if err != nil {
		return Dataset{}, fmt.Errorf("list raw samples: %w", err)
	}
	cals, err := src.ListCalibrations(ctx)
	if err != nil {
		return Dataset{}, fmt.Errorf("list calibrations: %w", err)
	}
	return Dataset{Sessions: sessions, Raw: raw, Calibrations: cals}, nil
}

// EvaluationResult is one persisted session score.
type EvaluationResult struct {
	RunID         uuid.UUID
	Algorithm     string
	SessionID     int64
	SessionUUID   string
	SessionStart  time.Time
	SessionEnd    time.Time
	State         string
	MARD          decimal.Decimal
	ReferenceMARD decimal.NullDecimal
	Matched       int
	Unmatched     int
	CreatedAt     time.Time
}
