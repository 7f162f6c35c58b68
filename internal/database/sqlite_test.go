package database_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"trk-go/internal/model"
	"trk-go/internal/testutil"
	"trk-go/internal/trk"
)

func f(v float64) *float64 { return &v }

func pendingAsset(fingerprint string) *model.Asset {
	return &model.Asset{
		ID:           fingerprint,
		OriginalName: "ride.fit",
		Size:         1024,
		Status:       model.StatusPending,
		ImportedAt:   time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC),
	}
}

func decodedActivity(id, assetID string) trk.PersistActivity {
	start := time.Date(2025, 6, 1, 7, 0, 0, 0, time.UTC)
	return trk.PersistActivity{
		Activity: model.Activity{
			ID:        id,
			AssetID:   assetID,
			Sport:     "cycling",
			StartTime: start,
			DurationS: 3600,
			DistanceM: f(28800),
			CreatedAt: start.Add(time.Hour),
		},
		Envelope: model.Envelope{
			ActivityID:    id,
			SchemaVersion: 1,
			Payload:       []byte(`{"summary":{}}`),
		},
	}
}

func decodedBundle(id, assetID string, samples int) trk.PersistActivity {
	pa := decodedActivity(id, assetID)
	start := pa.Activity.StartTime
	pa.Samples = nil
	for i := 0; i < samples; i++ {
		pa.Samples = append(pa.Samples, model.Sample{
			ActivityID: id,
			Seq:        i,
			Timestamp:  start.Add(time.Duration(i) * time.Second),
			HeartRate:  f(float64(120 + i)),
		})
	}
	return pa
}

func TestCreateAndGetAsset(t *testing.T) {
	db := testutil.NewTestDatabase(t)
	ctx := context.Background()

	asset := pendingAsset("fp-1")
	if err := db.CreateAsset(ctx, asset); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	got, err := db.GetAsset(ctx, "fp-1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got == nil {
		t.Fatal("expected asset, got nil")
	}
	if got.OriginalName != "ride.fit" || got.Size != 1024 || got.Status != model.StatusPending {
		t.Errorf("unexpected asset: %+v", got)
	}
	if !got.ImportedAt.Equal(asset.ImportedAt) {
		t.Errorf("expected imported_at %v, got %v", asset.ImportedAt, got.ImportedAt)
	}

	missing, err := db.GetAsset(ctx, "fp-missing")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if missing != nil {
		t.Errorf("expected nil for missing asset, got %+v", missing)
	}
}

func TestCreateAssetDuplicateFingerprint(t *testing.T) {
	db := testutil.NewTestDatabase(t)
	ctx := context.Background()

	if err := db.CreateAsset(ctx, pendingAsset("fp-1")); err != nil {
		t.Fatalf("first create failed: %v", err)
	}
	err := db.CreateAsset(ctx, pendingAsset("fp-1"))
	if !errors.Is(err, trk.ErrAssetExists) {
		t.Fatalf("expected ErrAssetExists, got %v", err)
	}
}

func TestMarkAssetFailed(t *testing.T) {
	db := testutil.NewTestDatabase(t)
	ctx := context.Background()

	if err := db.CreateAsset(ctx, pendingAsset("fp-1")); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if err := db.MarkAssetFailed(ctx, "fp-1", "corrupt header"); err != nil {
		t.Fatalf("mark failed: %v", err)
	}

	got, err := db.GetAsset(ctx, "fp-1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got.Status != model.StatusFailed || got.FailReason != "corrupt header" {
		t.Errorf("unexpected asset after failure: %+v", got)
	}

	if err := db.MarkAssetFailed(ctx, "fp-missing", "x"); err == nil {
		t.Error("expected error for unknown fingerprint")
	}
}

func TestListAssetsByStatus(t *testing.T) {
	db := testutil.NewTestDatabase(t)
	ctx := context.Background()

	for _, fp := range []string{"fp-a", "fp-b"} {
		if err := db.CreateAsset(ctx, pendingAsset(fp)); err != nil {
			t.Fatalf("create failed: %v", err)
		}
	}
	if err := db.MarkAssetFailed(ctx, "fp-b", "checksum mismatch"); err != nil {
		t.Fatalf("mark failed: %v", err)
	}

	pending, err := db.ListAssetsByStatus(ctx, model.StatusPending)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(pending) != 1 || pending[0].ID != "fp-a" {
		t.Errorf("unexpected pending assets: %+v", pending)
	}

	failed, err := db.ListAssetsByStatus(ctx, model.StatusFailed)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(failed) != 1 || failed[0].ID != "fp-b" {
		t.Errorf("unexpected failed assets: %+v", failed)
	}
}

func TestPersistDecodedRoundTrip(t *testing.T) {
	db := testutil.NewTestDatabase(t)
	ctx := context.Background()

	if err := db.CreateAsset(ctx, pendingAsset("fp-1")); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	pa := decodedBundle("act-1", "fp-1", 5)
	health := []model.HealthMetric{{
		ID:         "hm-1",
		AssetID:    "fp-1",
		MetricDate: time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
		RestingHR:  f(48),
	}}
	if err := db.PersistDecoded(ctx, "fp-1", []trk.PersistActivity{pa}, health); err != nil {
		t.Fatalf("persist failed: %v", err)
	}

	asset, err := db.GetAsset(ctx, "fp-1")
	if err != nil {
		t.Fatalf("get asset failed: %v", err)
	}
	if asset.Status != model.StatusDecoded {
		t.Errorf("expected asset decoded, got %s", asset.Status)
	}

	got, err := db.GetActivity(ctx, "act-1")
	if err != nil {
		t.Fatalf("get activity failed: %v", err)
	}
	if got == nil {
		t.Fatal("expected activity, got nil")
	}
	if got.Sport != "cycling" || got.DurationS != 3600 {
		t.Errorf("unexpected activity: %+v", got)
	}
	if got.DistanceM == nil || *got.DistanceM != 28800 {
		t.Errorf("expected distance 28800, got %v", got.DistanceM)
	}
	if got.AvgPower != nil {
		t.Errorf("expected absent avg power to stay nil, got %v", *got.AvgPower)
	}

	samples, err := db.GetSamples(ctx, "act-1")
	if err != nil {
		t.Fatalf("get samples failed: %v", err)
	}
	if len(samples) != 5 {
		t.Fatalf("expected 5 samples, got %d", len(samples))
	}
	for i, sm := range samples {
		if sm.Seq != i {
			t.Errorf("sample %d out of order: seq %d", i, sm.Seq)
		}
		if sm.HeartRate == nil || *sm.HeartRate != float64(120+i) {
			t.Errorf("sample %d: unexpected heart rate %v", i, sm.HeartRate)
		}
		if sm.Power != nil {
			t.Errorf("sample %d: expected nil power", i)
		}
	}

	env, err := db.GetEnvelope(ctx, "act-1")
	if err != nil {
		t.Fatalf("get envelope failed: %v", err)
	}
	if env == nil || env.SchemaVersion != 1 || string(env.Payload) != `{"summary":{}}` {
		t.Errorf("unexpected envelope: %+v", env)
	}
}

func TestPersistDecodedRollsBackOnError(t *testing.T) {
	db := testutil.NewTestDatabase(t)
	ctx := context.Background()

	if err := db.CreateAsset(ctx, pendingAsset("fp-1")); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if err := db.PersistDecoded(ctx, "fp-1", []trk.PersistActivity{decodedBundle("act-1", "fp-1", 1)}, nil); err != nil {
		t.Fatalf("first persist failed: %v", err)
	}

	// Re-inserting the same activity id must violate the primary key
	// and leave nothing else behind.
	if err := db.CreateAsset(ctx, pendingAsset("fp-2")); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	err := db.PersistDecoded(ctx, "fp-2", []trk.PersistActivity{decodedBundle("act-1", "fp-2", 1)}, nil)
	if err == nil {
		t.Fatal("expected persist to fail on duplicate activity id")
	}

	asset, err := db.GetAsset(ctx, "fp-2")
	if err != nil {
		t.Fatalf("get asset failed: %v", err)
	}
	if asset.Status != model.StatusPending {
		t.Errorf("expected fp-2 to stay pending after rollback, got %s", asset.Status)
	}
}

func TestDeleteActivityCascades(t *testing.T) {
	db := testutil.NewTestDatabase(t)
	ctx := context.Background()

	if err := db.CreateAsset(ctx, pendingAsset("fp-1")); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if err := db.PersistDecoded(ctx, "fp-1", []trk.PersistActivity{decodedBundle("act-1", "fp-1", 3)}, nil); err != nil {
		t.Fatalf("persist failed: %v", err)
	}

	if err := db.DeleteActivity(ctx, "act-1"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}

	act, err := db.GetActivity(ctx, "act-1")
	if err != nil {
		t.Fatalf("get activity failed: %v", err)
	}
	if act != nil {
		t.Error("expected activity to be gone")
	}
	samples, err := db.GetSamples(ctx, "act-1")
	if err != nil {
		t.Fatalf("get samples failed: %v", err)
	}
	if len(samples) != 0 {
		t.Errorf("expected samples to cascade, got %d", len(samples))
	}
	env, err := db.GetEnvelope(ctx, "act-1")
	if err != nil {
		t.Fatalf("get envelope failed: %v", err)
	}
	if env != nil {
		t.Error("expected envelope to cascade")
	}

	// The asset stays so the fingerprint keeps deduplicating.
	asset, err := db.GetAsset(ctx, "fp-1")
	if err != nil {
		t.Fatalf("get asset failed: %v", err)
	}
	if asset == nil {
		t.Error("expected asset to remain after activity deletion")
	}

	if err := db.DeleteActivity(ctx, "act-missing"); err == nil {
		t.Error("expected error deleting unknown activity")
	}
}

func TestStats(t *testing.T) {
	db := testutil.NewTestDatabase(t)
	ctx := context.Background()

	if err := db.CreateAsset(ctx, pendingAsset("fp-1")); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if err := db.PersistDecoded(ctx, "fp-1", []trk.PersistActivity{decodedBundle("act-1", "fp-1", 2)}, nil); err != nil {
		t.Fatalf("persist failed: %v", err)
	}

	st, err := db.Stats(ctx)
	if err != nil {
		t.Fatalf("stats failed: %v", err)
	}
	if st.Assets != 1 || st.Activities != 1 {
		t.Errorf("unexpected counts: %+v", st)
	}
	if st.TotalDurationS != 3600 || st.TotalDistanceM != 28800 {
		t.Errorf("unexpected totals: %+v", st)
	}
}

func TestIngestPassBookkeeping(t *testing.T) {
	db := testutil.NewTestDatabase(t)
	ctx := context.Background()

	last, err := db.LastIngestPass(ctx)
	if err != nil {
		t.Fatalf("last pass failed: %v", err)
	}
	if last != nil {
		t.Errorf("expected no passes yet, got %+v", last)
	}

	start := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)
	for i := 0; i < 2; i++ {
		pass := &model.IngestPass{
			StartedAt:  start.Add(time.Duration(i) * time.Hour),
			FinishedAt: start.Add(time.Duration(i)*time.Hour + time.Minute),
			Trigger:    "schedule",
			Persisted:  i,
		}
		if err := db.CreateIngestPass(ctx, pass); err != nil {
			t.Fatalf("create pass failed: %v", err)
		}
		if pass.ID == 0 {
			t.Error("expected pass id to be assigned")
		}
	}

	last, err = db.LastIngestPass(ctx)
	if err != nil {
		t.Fatalf("last pass failed: %v", err)
	}
	if last == nil || last.Persisted != 1 {
		t.Errorf("expected the most recent pass, got %+v", last)
	}
}
