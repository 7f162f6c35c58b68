package trk

import (
	"context"
	"errors"

	"trk-go/internal/model"
)

// ErrAssetExists is returned by CreateAsset when a row with the same
// fingerprint already exists. Two single-flight attempts that race
// despite the gate resolve through this: the later writer becomes a
// no-op skip.
var ErrAssetExists = errors.New("asset already exists")

// PersistActivity bundles everything persisted for one normalized
// activity: the summary row, its ordered samples, and the cached
// envelope.
type PersistActivity struct {
	Activity model.Activity
	Samples  []model.Sample
	Envelope model.Envelope
}

// Stats summarizes the whole store for the stats surface.
type Stats struct {
	Assets         int
	Activities     int
	TotalDurationS float64
	TotalDistanceM float64
}

// Database provides metadata storage for the ingestion pipeline.
// Implementations must guarantee that rows only become visible fully
// written: PersistDecoded is a single transaction.
type Database interface {
	// Asset operations

	// GetAsset returns the asset with the given fingerprint, or nil.
	GetAsset(ctx context.Context, fingerprint string) (*model.Asset, error)

	// CreateAsset inserts a new asset row. Returns ErrAssetExists if
	// the fingerprint is already recorded.
	CreateAsset(ctx context.Context, asset *model.Asset) error

	// MarkAssetFailed moves an asset to the failed state with a reason.
	MarkAssetFailed(ctx context.Context, fingerprint, reason string) error

	// ListAssetsByStatus returns assets in a given decode status.
	ListAssetsByStatus(ctx context.Context, status string) ([]*model.Asset, error)

	// PersistDecoded atomically records the outcome of a successful
	// decode: activity/sample/envelope/health rows plus the asset's
	// flip to the decoded status. Nothing becomes readable before the
	// transaction commits.
	PersistDecoded(ctx context.Context, fingerprint string, activities []PersistActivity, health []model.HealthMetric) error

	// Query surface (consumed by the external serving layer)

	ListActivities(ctx context.Context, limit int) ([]*model.Activity, error)
	GetActivity(ctx context.Context, id string) (*model.Activity, error)
	GetSamples(ctx context.Context, activityID string) ([]*model.Sample, error)
	GetEnvelope(ctx context.Context, activityID string) (*model.Envelope, error)

	// DeleteActivity removes an activity and, through ownership, its
	// samples and envelope. The originating asset is retained.
	DeleteActivity(ctx context.Context, id string) error

	// Stats returns store-wide totals.
	Stats(ctx context.Context) (*Stats, error)

	// Ingest pass bookkeeping for the status surface.

	CreateIngestPass(ctx context.Context, pass *model.IngestPass) error
	LastIngestPass(ctx context.Context) (*model.IngestPass, error)

	// Close closes the database connection.
	Close() error
}
