package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"bg-algo-checker/internal/models"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
)

const (
	schemaSQL = `CREATE TABLE IF NOT EXISTS evaluation_results (
        run_id         uuid        NOT NULL,
        algorithm      text        NOT NULL,
        session_id     bigint      NOT NULL,
        session_uuid   text        NOT NULL DEFAULT '',
        session_start  timestamptz NOT NULL,
        session_end    timestamptz NOT NULL,
        state          text        NOT NULL,
        mard           numeric     NOT NULL,
        reference_mard numeric,
        matched        integer     NOT NULL,
        unmatched      integer     NOT NULL,
        created_at     timestamptz NOT NULL DEFAULT now(),
        PRIMARY KEY (run_id, algorithm, session_id)
    );`

	listSessionsSQL = `SELECT
        id,
        COALESCE(uuid, ''),
        started_at,
        COALESCE(stopped_at, started_at)
    FROM sensors
    ORDER BY started_at;`

	listRawSamplesSQL = `SELECT
        sensor_id,
        ts,
        raw_value
    FROM raw_readings
    WHERE raw_value > 0
    ORDER BY ts;`

	listCalibrationsSQL = `SELECT
        sensor_id,
        ts,
        bg,
        slope,
        intercept,
        distance
    FROM calibrations
    ORDER BY ts;`

	upsertResultSQL = `INSERT INTO evaluation_results (
        run_id,
        algorithm,
        session_id,
        session_uuid,
        session_start,
        session_end,
        state,
        mard,
        reference_mard,
        matched,
        unmatched
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11
    )
    ON CONFLICT (run_id, algorithm, session_id) DO UPDATE
    SET
        session_uuid   = EXCLUDED.session_uuid,
        session_start  = EXCLUDED.session_start,
        session_end    = EXCLUDED.session_end,
        state          = EXCLUDED.state,
        mard           = EXCLUDED.mard,
        reference_mard = EXCLUDED.reference_mard,
        matched        = EXCLUDED.matched,
        unmatched      = EXCLUDED.unmatched;`

	listRecentResultsSQL = `SELECT
        run_id,
        algorithm,
        session_id,
        session_uuid,
        session_start,
        session_end,
        state,
        mard,
        reference_mard,
        matched,
        unmatched,
        created_at
    FROM evaluation_results
    ORDER BY created_at DESC, algorithm, session_id
    LIMIT $1;`

	countResultsSQL = `SELECT COUNT(*) FROM evaluation_results;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// ResultStore defines operations for evaluation result persistence.
type ResultStore interface {
	EnsureSchema(ctx context.Context) error
	UpsertResult(ctx context.Context, result EvaluationResult) error
	ListRecentResults(ctx context.Context, limit int) ([]EvaluationResult, error)
	CountResults(ctx context.Context) (int64, error)
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Store reads recorded sensor data from PostgreSQL and persists evaluation results.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		// the session-level lock also drops when the connection closes
		_, _ = conn.Exec(ctxUnlock, advisoryUnlockSQL, key)
		conn.Release()
	}
	return unlock, true, nil
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// EnsureSchema creates the result table when missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, schemaSQL); execErr != nil {
		return fmt.Errorf("ensure schema: %w", execErr)
	}
	return nil
}

// ListSessions lists sensor sessions ordered by start.
func (s *Store) ListSessions(ctx context.Context) ([]models.Session, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listSessionsSQL)
	if queryErr != nil {
		return nil, fmt.Errorf("list sessions: %w", queryErr)
	}
	defer rows.Close()

	sessions := make([]models.Session, 0)
	for rows.Next() {
		var (
			session        models.Session
			started, ended time.Time
		)
		if err := rows.Scan(&session.ID, &session.UUID, &started, &ended); err != nil {
			return nil, err
		}
		session.Start = started.UnixMilli()
		session.End = ended.UnixMilli()
		sessions = append(sessions, session)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return sessions, nil
}

// ListRawSamples lists raw readings ordered by time.
func (s *Store) ListRawSamples(ctx context.Context) ([]models.RawSample, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRawSamplesSQL)
	if queryErr != nil {
		return nil, fmt.Errorf("list raw samples: %w", queryErr)
	}
	defer rows.Close()

	samples := make([]models.RawSample, 0)
	for rows.Next() {
		var (
			sample models.RawSample
			ts     time.Time
		)
		if err := rows.Scan(&sample.SessionID, &ts, &sample.Value); err != nil {
			return nil, err
		}
		sample.Timestamp = ts.UnixMilli()
		sample.NoiseLevel = models.NoiseUnknown
		samples = append(samples, sample)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return samples, nil
}

// ListCalibrations lists calibrations ordered by time.
func (s *Store) ListCalibrations(ctx context.Context) ([]models.CalibrationEvent, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listCalibrationsSQL)
	if queryErr != nil {
		return nil, fmt.Errorf("list calibrations: %w", queryErr)
	}
	defer rows.Close()

	cals := make([]models.CalibrationEvent, 0)
	for rows.Next() {
		var cal models.CalibrationEvent
		var ts time.Time
		var slope, intercept, distance sql.NullFloat64
		if err := rows.Scan(&cal.SessionID, &ts, &cal.MeasuredBG, &slope, &intercept, &distance); err != nil {
			return nil, err
		}
		cal.Timestamp = ts.UnixMilli()
		cal.Reference = referenceFit(slope, intercept, distance)
		cals = append(cals, cal)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return cals, nil
}

// UpsertResult persists or updates one session score.
func (s *Store) UpsertResult(ctx context.Context, result EvaluationResult) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	var reference interface{}
	if result.ReferenceMARD.Valid {
		reference = result.ReferenceMARD.Decimal.String()
	}

	_, execErr := pool.Exec(ctx, upsertResultSQL,
		result.RunID.String(),
		result.Algorithm,
		result.SessionID,
		result.SessionUUID,
		result.SessionStart,
		result.SessionEnd,
		result.State,
		result.MARD.String(),
		reference,
		result.Matched,
		result.Unmatched,
	)
	if execErr != nil {
		return fmt.Errorf("upsert evaluation result: %w", execErr)
	}
	return nil
}

// ListRecentResults lists the newest results first.
func (s *Store) ListRecentResults(ctx context.Context, limit int) ([]EvaluationResult, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentResultsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent results: %w", queryErr)
	}
	defer rows.Close()

	results := make([]EvaluationResult, 0, limit)
	for rows.Next() {
		result, scanErr := scanResult(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		results = append(results, result)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return results, nil
}

// CountResults counts stored results.
func (s *Store) CountResults(ctx context.Context) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	var count int64
	if scanErr := pool.QueryRow(ctx, countResultsSQL).Scan(&count); scanErr != nil {
		return 0, fmt.Errorf("count results: %w", scanErr)
	}
	return count, nil
}

func scanResult(rows pgx.Rows) (EvaluationResult, error) {
	var (
		result       EvaluationResult
		runID        string
		mardStr      string
		referenceStr sql.NullString
	)

	if err := rows.Scan(
		&runID,
		&result.Algorithm,
		&result.SessionID,
		&result.SessionUUID,
		&result.SessionStart,
		&result.SessionEnd,
		&result.State,
		&mardStr,
		&referenceStr,
		&result.Matched,
		&result.Unmatched,
		&result.CreatedAt,
	); err != nil {
		return EvaluationResult{}, err
	}

	id, err := uuid.Parse(runID)
	if err != nil {
		return EvaluationResult{}, fmt.Errorf("parse run id: %w", err)
	}
	result.RunID = id

	result.MARD, err = decimal.NewFromString(mardStr)
	if err != nil {
		return EvaluationResult{}, fmt.Errorf("parse mard: %w", err)
	}
	if referenceStr.Valid {
		reference, err := decimal.NewFromString(referenceStr.String)
		if err != nil {
			return EvaluationResult{}, fmt.Errorf("parse reference mard: %w", err)
		}
		result.ReferenceMARD = decimal.NewNullDecimal(reference)
	}

	return result, nil
}

// referenceFit keeps the stored fit only when a slope was recorded.
func referenceFit(slope, intercept, distance sql.NullFloat64) *models.ReferenceFit {
	if !slope.Valid || slope.Float64 == 0 {
		return nil
	}
	return &models.ReferenceFit{
		Slope:     slope.Float64,
		Intercept: intercept.Float64,
		Distance:  distance.Float64,
	}
}
