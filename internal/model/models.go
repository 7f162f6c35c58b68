package model

import "time"

// Asset decode status values. An asset moves pending -> decoded or
// pending -> failed; failed assets may be retried back through pending.
const (
	StatusPending = "pending"
	StatusDecoded = "decoded"
	StatusFailed  = "failed"
)

// Asset is an immutable, content-addressed copy of an imported recorder
// file. The ID is the SHA-256 fingerprint of the file's bytes (not a UUID);
// the archive stores the bytes under the same fingerprint.
type Asset struct {
	ID           string // SHA-256 fingerprint
	OriginalName string // filename at import time, metadata only
	Size         int64
	Status       string // pending, decoded, failed
	FailReason   string // set when Status == failed
	ImportedAt   time.Time
}

// Activity is the normalized summary of one recorded session.
// Optional aggregates use pointers: absent means the recording never
// carried the measurement, which is distinct from zero.
type Activity struct {
	ID             string // UUID
	AssetID        string // fingerprint of the originating asset
	Sport          string
	StartTime      time.Time
	DurationS      float64
	DistanceM      *float64
	Calories       *float64
	AscentM        *float64
	DescentM       *float64
	AvgHeartRate   *float64
	MaxHeartRate   *float64
	AvgCadence     *float64
	AvgPower       *float64
	MaxPower       *float64
	AvgSpeedMS     *float64
	TrainingStress *float64
	NumLaps        int
	CreatedAt      time.Time
}

// Sample is one time-indexed measurement row belonging to an Activity.
// Samples are ordered by Seq, which preserves the encoding order of the
// source file.
type Sample struct {
	ActivityID  string
	Seq         int
	Timestamp   time.Time
	Latitude    *float64
	Longitude   *float64
	AltitudeM   *float64
	DistanceM   *float64
	SpeedMS     *float64
	HeartRate   *float64
	Cadence     *float64
	Power       *float64
	Temperature *float64
}

// Envelope is the cached, self-describing normalized form of an activity.
// It is regenerable from the archived asset at any time; the database row
// is a read-back cache, never a source of truth.
type Envelope struct {
	ActivityID    string
	SchemaVersion int
	Payload       []byte // JSON
}

// HealthMetric holds per-day wellness values extracted from monitoring
// records. All values optional.
type HealthMetric struct {
	ID          string // UUID
	AssetID     string
	MetricDate  time.Time
	RestingHR   *float64
	StressLevel *float64
}

// IngestPass records one completed scan-and-import pass for the status
// surface.
type IngestPass struct {
	ID         int64
	StartedAt  time.Time
	FinishedAt time.Time
	Trigger    string // "schedule", "manual"
	Persisted  int
	Skipped    int
	Failed     int
}
