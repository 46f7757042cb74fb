package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	_ "modernc.org/sqlite"

	"bg-algo-checker/internal/models"
)

// xDrip stores epoch milliseconds as REAL columns.
const (
	sqliteSessionsSQL = `SELECT _id, uuid, started_at, stopped_at
    FROM Sensors
    ORDER BY started_at;`

	sqliteRawSamplesSQL = `SELECT sensor, timestamp, raw_data
    FROM BgReadings
    WHERE raw_data > 0
    ORDER BY timestamp;`

	sqliteCalibrationsSQL = `SELECT sensor, timestamp, bg, slope, intercept, distance_from_estimate
    FROM Calibration
    ORDER BY timestamp;`
)

// SQLiteSource reads a database exported from the xDrip app.
type SQLiteSource struct {
	db *sql.DB
}

// OpenSQLite opens an xDrip export for reading.
func OpenSQLite(path string) (*SQLiteSource, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// pragmas are per connection
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA query_only=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma: %w", err)
	}
	return &SQLiteSource{db: db}, nil
}

// Close closes the underlying database.
func (s *SQLiteSource) Close() error {
	return s.db.Close()
}

// ListSessions lists sensor sessions ordered by start. Sensors that were never stopped
// end where they started until their readings extend them.
func (s *SQLiteSource) ListSessions(ctx context.Context) ([]models.Session, error) {
	rows, err := s.db.QueryContext(ctx, sqliteSessionsSQL)
	if err != nil {
		return nil, fmt.Errorf("query sensors: %w", err)
	}
	defer rows.Close()

	var sessions []models.Session
	for rows.Next() {
		var (
			session models.Session
			uuid    sql.NullString
			started float64
			stopped sql.NullFloat64
		)
		if err := rows.Scan(&session.ID, &uuid, &started, &stopped); err != nil {
			return nil, fmt.Errorf("scan sensor: %w", err)
		}
		session.UUID = uuid.String
		session.Start = int64(started)
		session.End = session.Start
		if stopped.Valid && int64(stopped.Float64) > session.Start {
			session.End = int64(stopped.Float64)
		}
		sessions = append(sessions, session)
	}
	return sessions, rows.Err()
}

// ListRawSamples lists raw readings ordered by time.
func (s *SQLiteSource) ListRawSamples(ctx context.Context) ([]models.RawSample, error) {
	rows, err := s.db.QueryContext(ctx, sqliteRawSamplesSQL)
	if err != nil {
		return nil, fmt.Errorf("query readings: %w", err)
	}
	defer rows.Close()

	var samples []models.RawSample
	for rows.Next() {
		var (
			sample models.RawSample
			ts     float64
		)
		if err := rows.Scan(&sample.SessionID, &ts, &sample.Value); err != nil {
			return nil, fmt.Errorf("scan reading: %w", err)
		}
		sample.Timestamp = int64(ts)
		sample.NoiseLevel = models.NoiseUnknown
		samples = append(samples, sample)
	}
	return samples, rows.Err()
}

// ListCalibrations lists calibrations ordered by time, carrying the app's own fit.
func (s *SQLiteSource) ListCalibrations(ctx context.Context) ([]models.CalibrationEvent, error) {
	rows, err := s.db.QueryContext(ctx, sqliteCalibrationsSQL)
	if err != nil {
		return nil, fmt.Errorf("query calibrations: %w", err)
	}
	defer rows.Close()

	var cals []models.CalibrationEvent
	for rows.Next() {
		var cal models.CalibrationEvent
		var ts float64
		var slope, intercept, distance sql.NullFloat64
		if err := rows.Scan(&cal.SessionID, &ts, &cal.MeasuredBG, &slope, &intercept, &distance); err != nil {
			return nil, fmt.Errorf("scan calibration: %w", err)
		}
		cal.Timestamp = int64(ts)
		cal.Reference = referenceFit(slope, intercept, distance)
		cals = append(cals, cal)
	}
	return cals, rows.Err()
}

var (
	_ Source = (*SQLiteSource)(nil)
	_ Source = (*Store)(nil)
)
