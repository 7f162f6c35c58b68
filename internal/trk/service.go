package trk

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"trk-go/internal/fit"
	"trk-go/internal/model"
	"trk-go/internal/normalize"
)

// ErrPassInFlight is returned by RunScan when a pass is already running.
// The scheduler skips the tick; a manual trigger surfaces it to the
// caller.
var ErrPassInFlight = errors.New("an ingest pass is already running")

// ErrUnreadableSource wraps I/O errors reading a candidate file. Scans
// log and skip these; manual uploads surface them as the failure reason.
var ErrUnreadableSource = errors.New("unreadable source file")

// Outcome is the terminal state of one import attempt.
type Outcome string

const (
	OutcomePersisted Outcome = "persisted"
	OutcomeSkipped   Outcome = "skipped"
	OutcomeFailed    Outcome = "failed"
)

// ImportResult describes the terminal state of importing one candidate.
type ImportResult struct {
	Outcome     Outcome
	Fingerprint string
	ActivityIDs []string
	Truncated   bool
	Reason      string // failure reason when Outcome == OutcomeFailed
}

// Status is the health surface: the most recent pass plus the number of
// assets currently stuck in the failed state.
type Status struct {
	LastPass     *model.IngestPass
	FailedAssets int
}

// IngestService coordinates the whole pipeline: discovery, fingerprint
// dedup, archival, decoding, normalization and persistence. Stages for
// one file run strictly in order; different files are independent except
// for the per-fingerprint single-flight gate.
type IngestService struct {
	database Database
	archive  Archive
	scanner  Scanner
	spool    Spool
	logger   Logger
	clock    Clock
	idgen    IDGenerator

	// flight collapses concurrent attempts on the same fingerprint: a
	// manual upload racing a scheduled scan over identical bytes runs
	// the pipeline once.
	flight singleflight.Group

	// passMu serializes whole passes; an overlapping tick is skipped,
	// never run concurrently.
	passMu sync.Mutex

	workers int
}

// NewIngestService creates an IngestService with the provided
// dependencies. workers bounds how many candidates one pass processes
// concurrently.
func NewIngestService(database Database, archive Archive, scanner Scanner, spool Spool, logger Logger, clock Clock, idgen IDGenerator, workers int) *IngestService {
	if workers < 1 {
		workers = 1
	}
	return &IngestService{
		database: database,
		archive:  archive,
		scanner:  scanner,
		spool:    spool,
		logger:   logger,
		clock:    clock,
		idgen:    idgen,
		workers:  workers,
	}
}

// openFunc yields a fresh reader over one candidate's bytes. The
// pipeline reads a candidate twice, once to fingerprint and once to
// archive, so a source must be re-openable.
type openFunc func() (io.ReadCloser, error)

func fileOpener(path string) openFunc {
	return func() (io.ReadCloser, error) { return os.Open(path) }
}

// ImportOne imports a single file synchronously and returns its terminal
// state. This is the manual-upload entry point for files already on
// disk.
func (s *IngestService) ImportOne(ctx context.Context, path string) (*ImportResult, error) {
	return s.importSource(ctx, path, filepath.Base(path), fileOpener(path))
}

// ImportUpload lands uploaded bytes in the spool and runs them through
// the same pipeline as scanned files. The spooled copy is removed unless
// the import failed; failed uploads are kept for inspection.
func (s *IngestService) ImportUpload(ctx context.Context, originalName string, r io.Reader) (*ImportResult, error) {
	spooled, err := s.spool.Save(originalName, r)
	if err != nil {
		return nil, fmt.Errorf("spooling upload: %w", err)
	}

	// Spool keys are opaque; the bytes are read back through the spool,
	// never via the filesystem directly.
	res, err := s.importSource(ctx, spooled, originalName, func() (io.ReadCloser, error) {
		return s.spool.Open(spooled)
	})
	if err != nil {
		return nil, err
	}
	if res.Outcome != OutcomeFailed {
		if rmErr := s.spool.Remove(spooled); rmErr != nil {
			s.logger.Warn("could not remove spooled upload", "path", spooled, "error", rmErr)
		}
	}
	return res, nil
}

func (s *IngestService) importSource(ctx context.Context, label, originalName string, open openFunc) (*ImportResult, error) {
	fingerprint, size, err := fingerprintSource(open)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrUnreadableSource, label, err)
	}

	executed := false
	v, err, _ := s.flight.Do(fingerprint, func() (any, error) {
		executed = true
		return s.ingestFingerprint(ctx, fingerprint, label, originalName, size, open)
	})
	if err != nil {
		return nil, err
	}
	res := v.(*ImportResult)

	// Concurrent attempts share one execution; only the caller whose
	// attempt actually ran reports the persist. Everyone else observed
	// a dedup skip.
	if !executed && res.Outcome == OutcomePersisted {
		dup := *res
		dup.Outcome = OutcomeSkipped
		dup.ActivityIDs = nil
		return &dup, nil
	}
	return res, nil
}

// ingestFingerprint runs the per-candidate state machine under the
// fingerprint gate: Discovered -> FingerprintComputed -> {Skipped |
// Archived} -> {Decoded -> Persisted | Failed}.
func (s *IngestService) ingestFingerprint(ctx context.Context, fingerprint, label, originalName string, size int64, open openFunc) (*ImportResult, error) {
	asset, err := s.database.GetAsset(ctx, fingerprint)
	if err != nil {
		return nil, fmt.Errorf("looking up asset: %w", err)
	}

	if asset != nil {
		switch asset.Status {
		case model.StatusDecoded:
			s.logger.Debug("duplicate fingerprint skipped", "fingerprint", fingerprint, "path", label)
			return &ImportResult{Outcome: OutcomeSkipped, Fingerprint: fingerprint}, nil
		default:
			// pending (crashed mid-import) or failed: re-attempt from
			// the archived bytes, never re-copying.
			return s.decodeArchived(ctx, asset)
		}
	}

	// Archive first, record second: the put is idempotent by
	// fingerprint, so a crash between the two leaves at worst an
	// orphaned archive file that the next pass adopts. The reverse
	// order could leave a row pointing at missing bytes.
	rc, err := open()
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrUnreadableSource, label, err)
	}
	err = s.archive.Put(fingerprint, rc, size)
	rc.Close()
	if err != nil {
		return nil, fmt.Errorf("archiving %s: %w", label, err)
	}

	asset = &model.Asset{
		ID:           fingerprint,
		OriginalName: originalName,
		Size:         size,
		Status:       model.StatusPending,
		ImportedAt:   s.clock.Now(),
	}
	if err := s.database.CreateAsset(ctx, asset); err != nil {
		if errors.Is(err, ErrAssetExists) {
			// A racing writer got here first despite the gate; the
			// later writer resolves to a no-op.
			return &ImportResult{Outcome: OutcomeSkipped, Fingerprint: fingerprint}, nil
		}
		return nil, fmt.Errorf("recording asset: %w", err)
	}

	s.logger.Info("asset archived", "fingerprint", fingerprint, "name", originalName, "size", size)
	return s.decodeArchived(ctx, asset)
}

// decodeArchived decodes and normalizes an archived asset and persists
// the result in one transaction. Decode failures mark the asset failed
// and are a terminal per-file outcome, not an error for the pass.
func (s *IngestService) decodeArchived(ctx context.Context, asset *model.Asset) (*ImportResult, error) {
	rc, err := s.archive.Open(asset.ID)
	if err != nil {
		return nil, fmt.Errorf("opening archived content: %w", err)
	}
	data, err := io.ReadAll(rc)
	rc.Close()
	if err != nil {
		return nil, fmt.Errorf("reading archived content: %w", err)
	}

	file, err := fit.Decode(data)
	if err != nil {
		reason := failReason(err)
		if markErr := s.database.MarkAssetFailed(ctx, asset.ID, reason); markErr != nil {
			return nil, fmt.Errorf("marking asset failed: %w", markErr)
		}
		s.logger.Warn("decode failed", "fingerprint", asset.ID, "reason", reason)
		return &ImportResult{Outcome: OutcomeFailed, Fingerprint: asset.ID, Reason: reason}, nil
	}
	if file.Truncated {
		s.logger.Warn("recording truncated, importing partial decode", "fingerprint", asset.ID)
	}

	out := normalize.Normalize(file)

	now := s.clock.Now()
	var persisted []PersistActivity
	var ids []string
	for _, bundle := range out.Activities {
		id := s.idgen.New()
		bundle.Activity.ID = id
		bundle.Activity.AssetID = asset.ID
		bundle.Activity.CreatedAt = now
		for i := range bundle.Samples {
			bundle.Samples[i].ActivityID = id
		}
		envelope, err := normalize.NewEnvelopeRecord(id, bundle)
		if err != nil {
			return nil, fmt.Errorf("building envelope: %w", err)
		}
		persisted = append(persisted, PersistActivity{
			Activity: bundle.Activity,
			Samples:  bundle.Samples,
			Envelope: envelope,
		})
		ids = append(ids, id)
	}

	health := out.Health
	for i := range health {
		health[i].ID = s.idgen.New()
		health[i].AssetID = asset.ID
	}

	if err := s.database.PersistDecoded(ctx, asset.ID, persisted, health); err != nil {
		return nil, fmt.Errorf("persisting decoded asset: %w", err)
	}

	s.logger.Info("asset decoded",
		"fingerprint", asset.ID,
		"activities", len(persisted),
		"truncated", file.Truncated)

	return &ImportResult{
		Outcome:     OutcomePersisted,
		Fingerprint: asset.ID,
		ActivityIDs: ids,
		Truncated:   file.Truncated,
	}, nil
}

// RunScan executes one full scan-and-import pass: reconcile crash
// leftovers, retry failed assets, then walk the configured roots. At
// most one pass runs at a time; overlapping calls get ErrPassInFlight.
//
// Per-candidate failures never abort the pass.
func (s *IngestService) RunScan(ctx context.Context, trigger string) (*model.IngestPass, error) {
	if !s.passMu.TryLock() {
		return nil, ErrPassInFlight
	}
	defer s.passMu.Unlock()

	pass := &model.IngestPass{
		StartedAt: s.clock.Now(),
		Trigger:   trigger,
	}
	var mu sync.Mutex
	count := func(res *ImportResult, err error, path string) {
		mu.Lock()
		defer mu.Unlock()
		switch {
		case errors.Is(err, ErrUnreadableSource):
			// A file that vanished or lost permission between discovery
			// and read is skipped, not failed; there is no asset to
			// retry.
			s.logger.Warn("candidate skipped", "path", path, "error", err)
			pass.Skipped++
		case err != nil:
			s.logger.Warn("candidate failed", "path", path, "error", err)
			pass.Failed++
		case res.Outcome == OutcomePersisted:
			pass.Persisted++
		case res.Outcome == OutcomeSkipped:
			pass.Skipped++
		default:
			pass.Failed++
		}
	}

	if err := s.reconcileOrphans(ctx); err != nil {
		s.logger.Error("archive reconciliation failed", "error", err)
	}

	// Re-attempt assets that a previous run left pending or failed.
	for _, status := range []string{model.StatusPending, model.StatusFailed} {
		assets, err := s.database.ListAssetsByStatus(ctx, status)
		if err != nil {
			return nil, fmt.Errorf("listing %s assets: %w", status, err)
		}
		for _, asset := range assets {
			a := asset
			v, err, _ := s.flight.Do(a.ID, func() (any, error) {
				return s.decodeArchived(ctx, a)
			})
			if err != nil {
				count(nil, err, a.ID)
				continue
			}
			count(v.(*ImportResult), nil, a.ID)
		}
	}

	// Walk the roots with a bounded worker pool; candidate order is
	// irrelevant across files.
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	scanErr := s.scanner.Scan(gctx, func(c Candidate) {
		g.Go(func() error {
			res, err := s.ImportOne(gctx, c.Path)
			count(res, err, c.Path)
			return nil
		})
	})
	if waitErr := g.Wait(); waitErr != nil && scanErr == nil {
		scanErr = waitErr
	}
	if scanErr != nil && !errors.Is(scanErr, context.Canceled) {
		s.logger.Error("scan pass incomplete", "error", scanErr)
	}

	pass.FinishedAt = s.clock.Now()
	if err := s.database.CreateIngestPass(ctx, pass); err != nil {
		return nil, fmt.Errorf("recording ingest pass: %w", err)
	}

	s.logger.Info("ingest pass complete",
		"trigger", trigger,
		"persisted", pass.Persisted,
		"skipped", pass.Skipped,
		"failed", pass.Failed)
	return pass, nil
}

// reconcileOrphans adopts archive content that has no metadata row: the
// leftover of a crash between the archive copy and the asset insert.
// Adopted assets enter as pending and decode in the retry step of the
// same pass.
func (s *IngestService) reconcileOrphans(ctx context.Context) error {
	fingerprints, err := s.archive.List()
	if err != nil {
		return fmt.Errorf("listing archive: %w", err)
	}
	for _, fp := range fingerprints {
		asset, err := s.database.GetAsset(ctx, fp)
		if err != nil {
			return fmt.Errorf("looking up asset: %w", err)
		}
		if asset != nil {
			continue
		}
		s.logger.Warn("adopting orphaned archive content", "fingerprint", fp)
		err = s.database.CreateAsset(ctx, &model.Asset{
			ID:           fp,
			OriginalName: fp,
			Status:       model.StatusPending,
			ImportedAt:   s.clock.Now(),
		})
		if err != nil && !errors.Is(err, ErrAssetExists) {
			return fmt.Errorf("adopting orphan %s: %w", fp, err)
		}
	}
	return nil
}

// RetryFailed re-attempts every failed asset immediately, outside the
// scan schedule. Returns how many became persisted.
func (s *IngestService) RetryFailed(ctx context.Context) (int, error) {
	assets, err := s.database.ListAssetsByStatus(ctx, model.StatusFailed)
	if err != nil {
		return 0, fmt.Errorf("listing failed assets: %w", err)
	}

	recovered := 0
	for _, asset := range assets {
		a := asset
		v, err, _ := s.flight.Do(a.ID, func() (any, error) {
			return s.decodeArchived(ctx, a)
		})
		if err != nil {
			s.logger.Warn("retry failed", "fingerprint", a.ID, "error", err)
			continue
		}
		if v.(*ImportResult).Outcome == OutcomePersisted {
			recovered++
		}
	}
	return recovered, nil
}

// Status reports the most recent pass and the failed-asset backlog.
func (s *IngestService) Status(ctx context.Context) (*Status, error) {
	last, err := s.database.LastIngestPass(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading last pass: %w", err)
	}
	failed, err := s.database.ListAssetsByStatus(ctx, model.StatusFailed)
	if err != nil {
		return nil, fmt.Errorf("listing failed assets: %w", err)
	}
	return &Status{LastPass: last, FailedAssets: len(failed)}, nil
}

// fingerprintSource computes the content fingerprint by streaming the
// source once; recordings never need to fit in memory.
func fingerprintSource(open openFunc) (string, int64, error) {
	rc, err := open()
	if err != nil {
		return "", 0, err
	}
	defer rc.Close()

	h := sha256.New()
	size, err := io.Copy(h, rc)
	if err != nil {
		return "", 0, err
	}
	return hex.EncodeToString(h.Sum(nil)), size, nil
}

// failReason maps decoder errors to the stable reason strings surfaced
// to uploaders and stored on failed assets.
func failReason(err error) string {
	switch {
	case errors.Is(err, fit.ErrCorruptHeader):
		return "corrupt header"
	case errors.Is(err, fit.ErrChecksum):
		return "checksum mismatch"
	case errors.Is(err, fit.ErrMalformed):
		return "malformed record stream"
	default:
		return err.Error()
	}
}
