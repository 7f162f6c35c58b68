// Package server exposes the HTTP surface: uploads, manual scans, and
// the read API over normalized activities.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"trk-go/internal/model"
	"trk-go/internal/trk"
)

// maxUploadBytes caps one uploaded recording. Device files are a few MB
// at most.
const maxUploadBytes = 64 << 20

// Server routes HTTP requests to the ingest service and the query
// surface of the database.
type Server struct {
	service *trk.IngestService
	db      trk.Database
	logger  trk.Logger
	router  chi.Router
}

func New(service *trk.IngestService, db trk.Database, logger trk.Logger) *Server {
	s := &Server{service: service, db: db, logger: logger}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Route("/api", func(r chi.Router) {
		r.Post("/upload", s.handleUpload)
		r.Post("/scan", s.handleScan)
		r.Get("/status", s.handleStatus)
		r.Get("/stats", s.handleStats)
		r.Route("/activities", func(r chi.Router) {
			r.Get("/", s.handleListActivities)
			r.Get("/{id}", s.handleGetActivity)
			r.Delete("/{id}", s.handleDeleteActivity)
		})
	})
	s.router = r
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// ListenAndServe runs the server until ctx is cancelled, then shuts
// down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	s.logger.Info("http server listening", "addr", addr)
	err := srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

type uploadResponse struct {
	Outcome     string   `json:"outcome"`
	Fingerprint string   `json:"fingerprint"`
	ActivityIDs []string `json:"activity_ids,omitempty"`
	Truncated   bool     `json:"truncated,omitempty"`
	Reason      string   `json:"reason,omitempty"`
}

// handleUpload accepts a multipart upload and runs it synchronously
// through the pipeline; the response carries the terminal per-file
// state so the uploader always learns what happened.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	file, header, err := r.FormFile("file")
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "missing file field")
		return
	}
	defer file.Close()

	res, err := s.service.ImportUpload(r.Context(), header.Filename, file)
	if err != nil {
		s.logger.Error("upload import failed", "name", header.Filename, "error", err)
		s.writeError(w, http.StatusInternalServerError, "import failed")
		return
	}

	status := http.StatusOK
	if res.Outcome == trk.OutcomeFailed {
		status = http.StatusUnprocessableEntity
	}
	s.writeJSON(w, status, uploadResponse{
		Outcome:     string(res.Outcome),
		Fingerprint: res.Fingerprint,
		ActivityIDs: res.ActivityIDs,
		Truncated:   res.Truncated,
		Reason:      res.Reason,
	})
}

func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	pass, err := s.service.RunScan(r.Context(), "manual")
	if errors.Is(err, trk.ErrPassInFlight) {
		s.writeError(w, http.StatusConflict, "a pass is already running")
		return
	}
	if err != nil {
		s.logger.Error("manual scan failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "scan failed")
		return
	}
	s.writeJSON(w, http.StatusOK, passView(pass))
}

type statusResponse struct {
	LastPass     *passViewModel `json:"last_pass"`
	FailedAssets int            `json:"failed_assets"`
}

type passViewModel struct {
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Trigger    string    `json:"trigger"`
	Persisted  int       `json:"persisted"`
	Skipped    int       `json:"skipped"`
	Failed     int       `json:"failed"`
}

func passView(p *model.IngestPass) *passViewModel {
	if p == nil {
		return nil
	}
	return &passViewModel{
		StartedAt:  p.StartedAt,
		FinishedAt: p.FinishedAt,
		Trigger:    p.Trigger,
		Persisted:  p.Persisted,
		Skipped:    p.Skipped,
		Failed:     p.Failed,
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.service.Status(r.Context())
	if err != nil {
		s.logger.Error("status query failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "status unavailable")
		return
	}
	s.writeJSON(w, http.StatusOK, statusResponse{
		LastPass:     passView(st.LastPass),
		FailedAssets: st.FailedAssets,
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	st, err := s.db.Stats(r.Context())
	if err != nil {
		s.logger.Error("stats query failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "stats unavailable")
		return
	}
	s.writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleListActivities(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			s.writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	activities, err := s.db.ListActivities(r.Context(), limit)
	if err != nil {
		s.logger.Error("activity list failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	if activities == nil {
		activities = []*model.Activity{}
	}
	s.writeJSON(w, http.StatusOK, activities)
}

type activityDetail struct {
	Activity *model.Activity `json:"activity"`
	Samples  []*model.Sample `json:"samples"`
	Envelope json.RawMessage `json:"envelope,omitempty"`
}

func (s *Server) handleGetActivity(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	activity, err := s.db.GetActivity(r.Context(), id)
	if err != nil {
		s.logger.Error("activity query failed", "id", id, "error", err)
		s.writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	if activity == nil {
		s.writeError(w, http.StatusNotFound, "activity not found")
		return
	}

	samples, err := s.db.GetSamples(r.Context(), id)
	if err != nil {
		s.logger.Error("sample query failed", "id", id, "error", err)
		s.writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	if samples == nil {
		samples = []*model.Sample{}
	}

	detail := activityDetail{Activity: activity, Samples: samples}
	// The envelope is a regenerable cache; missing or unreadable is not
	// fatal to the detail view, but an error still gets logged.
	env, err := s.db.GetEnvelope(r.Context(), id)
	if err != nil {
		s.logger.Error("envelope query failed", "id", id, "error", err)
	} else if env != nil {
		detail.Envelope = env.Payload
	}

	s.writeJSON(w, http.StatusOK, detail)
}

func (s *Server) handleDeleteActivity(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	activity, err := s.db.GetActivity(r.Context(), id)
	if err != nil {
		s.logger.Error("activity query failed", "id", id, "error", err)
		s.writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	if activity == nil {
		s.writeError(w, http.StatusNotFound, "activity not found")
		return
	}

	if err := s.db.DeleteActivity(r.Context(), id); err != nil {
		s.logger.Error("activity delete failed", "id", id, "error", err)
		s.writeError(w, http.StatusInternalServerError, "delete failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("response encoding failed", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
