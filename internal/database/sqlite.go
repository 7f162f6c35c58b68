// Package database implements metadata storage on SQLite.
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/mattn/go-sqlite3"

	"trk-go/internal/model"
	"trk-go/internal/trk"
)

// SQLiteDatabase implements the Database interface using SQLite.
type SQLiteDatabase struct {
	db   *sql.DB
	path string
}

// NewSQLiteDatabase opens a SQLite database at path and applies pending
// migrations. path can be a file path or ":memory:".
func NewSQLiteDatabase(path string) (*SQLiteDatabase, error) {
	db, err := OpenConnection(path)
	if err != nil {
		return nil, err
	}
	return &SQLiteDatabase{db: db, path: path}, nil
}

// NewSQLiteDatabaseFromDB wraps an existing database connection.
// The caller is responsible for ensuring the connection is properly
// configured and migrated.
func NewSQLiteDatabaseFromDB(db *sql.DB) *SQLiteDatabase {
	return &SQLiteDatabase{db: db}
}

// OpenConnection opens and configures a SQLite connection with the
// PRAGMAs the store relies on. Exported for tools and tests that need a
// properly configured connection.
func OpenConnection(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Foreign keys are OFF by default in SQLite; the sample and
	// envelope cascades depend on them.
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	return db, nil
}

// Asset operations

func (s *SQLiteDatabase) GetAsset(ctx context.Context, fingerprint string) (*model.Asset, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, original_name, size, status, fail_reason, imported_at
		FROM assets WHERE id = ?`, fingerprint)

	var a model.Asset
	err := row.Scan(&a.ID, &a.OriginalName, &a.Size, &a.Status, &a.FailReason, &a.ImportedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting asset: %w", err)
	}
	return &a, nil
}

func (s *SQLiteDatabase) CreateAsset(ctx context.Context, asset *model.Asset) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO assets (id, original_name, size, status, fail_reason, imported_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		asset.ID, asset.OriginalName, asset.Size, asset.Status, asset.FailReason, asset.ImportedAt)
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey {
			return trk.ErrAssetExists
		}
		return fmt.Errorf("creating asset: %w", err)
	}
	return nil
}

func (s *SQLiteDatabase) MarkAssetFailed(ctx context.Context, fingerprint, reason string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE assets SET status = ?, fail_reason = ? WHERE id = ?`,
		model.StatusFailed, reason, fingerprint)
	if err != nil {
		return fmt.Errorf("marking asset failed: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("marking asset failed: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("asset not found: %s", fingerprint)
	}
	return nil
}

func (s *SQLiteDatabase) ListAssetsByStatus(ctx context.Context, status string) ([]*model.Asset, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, original_name, size, status, fail_reason, imported_at
		FROM assets WHERE status = ? ORDER BY imported_at, id`, status)
	if err != nil {
		return nil, fmt.Errorf("listing assets: %w", err)
	}
	defer rows.Close()

	var assets []*model.Asset
	for rows.Next() {
		var a model.Asset
		if err := rows.Scan(&a.ID, &a.OriginalName, &a.Size, &a.Status, &a.FailReason, &a.ImportedAt); err != nil {
			return nil, fmt.Errorf("scanning asset: %w", err)
		}
		assets = append(assets, &a)
	}
	return assets, rows.Err()
}

func (s *SQLiteDatabase) PersistDecoded(ctx context.Context, fingerprint string, activities []trk.PersistActivity, health []model.HealthMetric) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	for _, pa := range activities {
		a := pa.Activity
		_, err := tx.ExecContext(ctx, `
			INSERT INTO activities (
				id, asset_id, sport, start_time, duration_s,
				distance_m, calories, ascent_m, descent_m,
				avg_heart_rate, max_heart_rate, avg_cadence,
				avg_power, max_power, avg_speed_ms, training_stress,
				num_laps, created_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			a.ID, a.AssetID, a.Sport, a.StartTime, a.DurationS,
			nullFloat(a.DistanceM), nullFloat(a.Calories), nullFloat(a.AscentM), nullFloat(a.DescentM),
			nullFloat(a.AvgHeartRate), nullFloat(a.MaxHeartRate), nullFloat(a.AvgCadence),
			nullFloat(a.AvgPower), nullFloat(a.MaxPower), nullFloat(a.AvgSpeedMS), nullFloat(a.TrainingStress),
			a.NumLaps, a.CreatedAt)
		if err != nil {
			return fmt.Errorf("inserting activity: %w", err)
		}

		for _, sm := range pa.Samples {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO samples (
					activity_id, seq, timestamp,
					latitude, longitude, altitude_m, distance_m,
					speed_ms, heart_rate, cadence, power, temperature
				) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				sm.ActivityID, sm.Seq, sm.Timestamp,
				nullFloat(sm.Latitude), nullFloat(sm.Longitude), nullFloat(sm.AltitudeM), nullFloat(sm.DistanceM),
				nullFloat(sm.SpeedMS), nullFloat(sm.HeartRate), nullFloat(sm.Cadence), nullFloat(sm.Power), nullFloat(sm.Temperature))
			if err != nil {
				return fmt.Errorf("inserting sample: %w", err)
			}
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO envelopes (activity_id, schema_version, payload)
			VALUES (?, ?, ?)`,
			pa.Envelope.ActivityID, pa.Envelope.SchemaVersion, pa.Envelope.Payload)
		if err != nil {
			return fmt.Errorf("inserting envelope: %w", err)
		}
	}

	for _, h := range health {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO health_metrics (id, asset_id, metric_date, resting_hr, stress_level)
			VALUES (?, ?, ?, ?, ?)`,
			h.ID, h.AssetID, h.MetricDate, nullFloat(h.RestingHR), nullFloat(h.StressLevel))
		if err != nil {
			return fmt.Errorf("inserting health metric: %w", err)
		}
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE assets SET status = ?, fail_reason = '' WHERE id = ?`,
		model.StatusDecoded, fingerprint)
	if err != nil {
		return fmt.Errorf("updating asset status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("updating asset status: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("asset not found: %s", fingerprint)
	}

	return tx.Commit()
}

// Query surface

const activityColumns = `
	id, asset_id, sport, start_time, duration_s,
	distance_m, calories, ascent_m, descent_m,
	avg_heart_rate, max_heart_rate, avg_cadence,
	avg_power, max_power, avg_speed_ms, training_stress,
	num_laps, created_at`

func scanActivity(row interface{ Scan(...any) error }) (*model.Activity, error) {
	var a model.Activity
	var distance, calories, ascent, descent sql.NullFloat64
	var avgHR, maxHR, avgCadence, avgPower, maxPower, avgSpeed, tss sql.NullFloat64
	err := row.Scan(
		&a.ID, &a.AssetID, &a.Sport, &a.StartTime, &a.DurationS,
		&distance, &calories, &ascent, &descent,
		&avgHR, &maxHR, &avgCadence,
		&avgPower, &maxPower, &avgSpeed, &tss,
		&a.NumLaps, &a.CreatedAt)
	if err != nil {
		return nil, err
	}
	a.DistanceM = floatPtr(distance)
	a.Calories = floatPtr(calories)
	a.AscentM = floatPtr(ascent)
	a.DescentM = floatPtr(descent)
	a.AvgHeartRate = floatPtr(avgHR)
	a.MaxHeartRate = floatPtr(maxHR)
	a.AvgCadence = floatPtr(avgCadence)
	a.AvgPower = floatPtr(avgPower)
	a.MaxPower = floatPtr(maxPower)
	a.AvgSpeedMS = floatPtr(avgSpeed)
	a.TrainingStress = floatPtr(tss)
	return &a, nil
}

func (s *SQLiteDatabase) ListActivities(ctx context.Context, limit int) ([]*model.Activity, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+activityColumns+` FROM activities ORDER BY start_time DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing activities: %w", err)
	}
	defer rows.Close()

	var activities []*model.Activity
	for rows.Next() {
		a, err := scanActivity(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning activity: %w", err)
		}
		activities = append(activities, a)
	}
	return activities, rows.Err()
}

func (s *SQLiteDatabase) GetActivity(ctx context.Context, id string) (*model.Activity, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+activityColumns+` FROM activities WHERE id = ?`, id)
	a, err := scanActivity(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting activity: %w", err)
	}
	return a, nil
}

func (s *SQLiteDatabase) GetSamples(ctx context.Context, activityID string) ([]*model.Sample, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT activity_id, seq, timestamp,
			latitude, longitude, altitude_m, distance_m,
			speed_ms, heart_rate, cadence, power, temperature
		FROM samples WHERE activity_id = ? ORDER BY seq`, activityID)
	if err != nil {
		return nil, fmt.Errorf("listing samples: %w", err)
	}
	defer rows.Close()

	var samples []*model.Sample
	for rows.Next() {
		var sm model.Sample
		var lat, lon, alt, dist, speed, hr, cadence, power, temp sql.NullFloat64
		err := rows.Scan(&sm.ActivityID, &sm.Seq, &sm.Timestamp,
			&lat, &lon, &alt, &dist, &speed, &hr, &cadence, &power, &temp)
		if err != nil {
			return nil, fmt.Errorf("scanning sample: %w", err)
		}
		sm.Latitude = floatPtr(lat)
		sm.Longitude = floatPtr(lon)
		sm.AltitudeM = floatPtr(alt)
		sm.DistanceM = floatPtr(dist)
		sm.SpeedMS = floatPtr(speed)
		sm.HeartRate = floatPtr(hr)
		sm.Cadence = floatPtr(cadence)
		sm.Power = floatPtr(power)
		sm.Temperature = floatPtr(temp)
		samples = append(samples, &sm)
	}
	return samples, rows.Err()
}

func (s *SQLiteDatabase) GetEnvelope(ctx context.Context, activityID string) (*model.Envelope, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT activity_id, schema_version, payload
		FROM envelopes WHERE activity_id = ?`, activityID)

	var e model.Envelope
	err := row.Scan(&e.ActivityID, &e.SchemaVersion, &e.Payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting envelope: %w", err)
	}
	return &e, nil
}

func (s *SQLiteDatabase) DeleteActivity(ctx context.Context, id string) error {
	// Samples and the envelope go with it via the foreign key cascades.
	// The asset row stays so the fingerprint keeps deduplicating.
	res, err := s.db.ExecContext(ctx, `DELETE FROM activities WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting activity: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("deleting activity: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("activity not found: %s", id)
	}
	return nil
}

func (s *SQLiteDatabase) Stats(ctx context.Context) (*trk.Stats, error) {
	var st trk.Stats
	row := s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM assets),
			(SELECT COUNT(*) FROM activities),
			(SELECT COALESCE(SUM(duration_s), 0) FROM activities),
			(SELECT COALESCE(SUM(distance_m), 0) FROM activities)`)
	if err := row.Scan(&st.Assets, &st.Activities, &st.TotalDurationS, &st.TotalDistanceM); err != nil {
		return nil, fmt.Errorf("computing stats: %w", err)
	}
	return &st, nil
}

// Ingest pass bookkeeping

func (s *SQLiteDatabase) CreateIngestPass(ctx context.Context, pass *model.IngestPass) error {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO ingest_passes (started_at, finished_at, trigger_kind, persisted, skipped, failed)
		VALUES (?, ?, ?, ?, ?, ?)`,
		pass.StartedAt, pass.FinishedAt, pass.Trigger, pass.Persisted, pass.Skipped, pass.Failed)
	if err != nil {
		return fmt.Errorf("creating ingest pass: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("creating ingest pass: %w", err)
	}
	pass.ID = id
	return nil
}

func (s *SQLiteDatabase) LastIngestPass(ctx context.Context) (*model.IngestPass, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, started_at, finished_at, trigger_kind, persisted, skipped, failed
		FROM ingest_passes ORDER BY id DESC LIMIT 1`)

	var p model.IngestPass
	err := row.Scan(&p.ID, &p.StartedAt, &p.FinishedAt, &p.Trigger, &p.Persisted, &p.Skipped, &p.Failed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting last ingest pass: %w", err)
	}
	return &p, nil
}

func (s *SQLiteDatabase) Close() error {
	return s.db.Close()
}

func nullFloat(p *float64) sql.NullFloat64 {
	if p == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *p, Valid: true}
}

func floatPtr(n sql.NullFloat64) *float64 {
	if !n.Valid {
		return nil
	}
	v := n.Float64
	return &v
}

// Compile-time check that SQLiteDatabase implements trk.Database
var _ trk.Database = (*SQLiteDatabase)(nil)
