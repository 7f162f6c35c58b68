// Package app is the application layer between the CLI and the ingest
// service. It constructs all dependencies from config and manages their
// lifecycle on Close.
package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"trk-go/internal/archive"
	"trk-go/internal/config"
	"trk-go/internal/database"
	"trk-go/internal/model"
	"trk-go/internal/scan"
	"trk-go/internal/server"
	"trk-go/internal/trk"
	"trk-go/internal/upload"
)

// importWorkers bounds how many candidates one pass decodes at once.
const importWorkers = 4

// TrkApp wires config, storage, the ingest service and (for the daemon)
// the HTTP surface. The caller must call Close when done.
type TrkApp struct {
	cfg     *config.Config
	db      trk.Database
	archive trk.Archive
	spool   trk.Spool
	service *trk.IngestService
	logger  trk.Logger
	logFile *os.File
}

// NewTrkApp creates a fully wired TrkApp from the given config.
// operation identifies the CLI command being run (e.g. "Scan", "Serve").
func NewTrkApp(cfg *config.Config, operation string) (*TrkApp, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	arc, err := archive.NewArchiveFromConfig(cfg.Archive)
	if err != nil {
		return nil, fmt.Errorf("creating archive: %w", err)
	}

	idgen := trk.UUIDGenerator{}
	spool, err := upload.NewSpoolFromConfig(cfg.Spool, idgen)
	if err != nil {
		return nil, fmt.Errorf("creating spool: %w", err)
	}

	db, err := database.NewDatabaseFromConfig(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("creating database: %w", err)
	}

	opID := time.Now().UTC().Format("20060102T150405Z")
	logger, logFile, err := newLogger(cfg.LogDir, opID)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating logger: %w", err)
	}

	adapter := &slogAdapter{l: logger}
	scanner := scan.NewFileSystemScanner(
		cfg.Scan.Roots, cfg.Scan.MaxDepth, cfg.Scan.Extension, adapter)

	svc := trk.NewIngestService(
		db, arc, scanner, spool,
		adapter, trk.RealClock{}, idgen, importWorkers)

	return &TrkApp{
		cfg:     cfg,
		db:      db,
		archive: arc,
		spool:   spool,
		service: svc,
		logger:  adapter,
		logFile: logFile,
	}, nil
}

// RunScan triggers one synchronous scan-and-import pass.
func (a *TrkApp) RunScan(ctx context.Context) (*model.IngestPass, error) {
	return a.service.RunScan(ctx, "manual")
}

// ImportFile imports a single file, bypassing the scan roots.
func (a *TrkApp) ImportFile(ctx context.Context, path string) (*trk.ImportResult, error) {
	return a.service.ImportOne(ctx, path)
}

// ImportUpload spools and imports content from a reader.
func (a *TrkApp) ImportUpload(ctx context.Context, name string, r io.Reader) (*trk.ImportResult, error) {
	return a.service.ImportUpload(ctx, name, r)
}

// RetryFailed re-attempts all failed assets and reports recoveries.
func (a *TrkApp) RetryFailed(ctx context.Context) (int, error) {
	return a.service.RetryFailed(ctx)
}

// Status returns the ingest health surface.
func (a *TrkApp) Status(ctx context.Context) (*trk.Status, error) {
	return a.service.Status(ctx)
}

// ListActivities returns up to limit recent activities.
func (a *TrkApp) ListActivities(ctx context.Context, limit int) ([]*model.Activity, error) {
	return a.db.ListActivities(ctx, limit)
}

// GetActivity returns one activity with its samples, or nil.
func (a *TrkApp) GetActivity(ctx context.Context, id string) (*model.Activity, []*model.Sample, error) {
	act, err := a.db.GetActivity(ctx, id)
	if err != nil || act == nil {
		return act, nil, err
	}
	samples, err := a.db.GetSamples(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	return act, samples, nil
}

// DeleteActivity removes an activity and its dependent rows. The
// archived asset stays; re-importing the same file remains a skip.
func (a *TrkApp) DeleteActivity(ctx context.Context, id string) error {
	return a.db.DeleteActivity(ctx, id)
}

// Stats returns store-wide totals.
func (a *TrkApp) Stats(ctx context.Context) (*trk.Stats, error) {
	return a.db.Stats(ctx)
}

// RunDaemon starts the background scan schedule and the HTTP surface,
// blocking until ctx is cancelled.
func (a *TrkApp) RunDaemon(ctx context.Context) error {
	interval := time.Duration(a.cfg.Scan.IntervalMinutes) * time.Minute
	scheduler := trk.NewScheduler(a.service, a.logger, interval)

	srv := server.New(a.service, a.db, a.logger)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe(ctx, a.cfg.Server.Listen)
	}()
	go scheduler.Run(ctx)

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return err
	}
}

// Close releases the database and the log file.
func (a *TrkApp) Close() error {
	var firstErr error
	if err := a.db.Close(); err != nil {
		firstErr = err
	}
	if a.logFile != nil {
		if err := a.logFile.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
