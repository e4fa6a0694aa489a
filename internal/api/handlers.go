package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/inkfold/renderd/internal/cache"
	"github.com/inkfold/renderd/internal/joblog"
	"github.com/inkfold/renderd/internal/render"
)

// handleHealthz handles GET /healthz.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	stats := s.pool.Stats()
	respondJSON(w, http.StatusOK, HealthzResponse{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
		QueueDepth:    stats.QueueDepth,
		ActiveSlots:   stats.ActiveSlots,
	})
}

// handleStats handles GET /stats.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats := s.pool.Stats()
	resp := StatsResponse{
		ActiveSlots:       stats.ActiveSlots,
		CompletedCount:    stats.CompletedCount,
		AverageDurationMs: stats.AverageDurationMs,
		QueueDepth:        stats.QueueDepth,
	}
	if s.cache != nil {
		resp.CacheHits, resp.CacheMisses = s.cache.Counters()
	}
	respondJSON(w, http.StatusOK, resp)
}

// handleRender handles POST /render. The response body is the rendered PDF
// on success, or a JSON error envelope otherwise.
func (s *Server) handleRender(w http.ResponseWriter, r *http.Request) {
	var req RenderRequest
	body := http.MaxBytesReader(w, r.Body, s.config.MaxBodyBytes)
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, render.KindInputInvalid, "invalid JSON body")
		return
	}

	var key string
	if s.cache != nil {
		key = cache.Key(req.HTML, req.CSS, req.Options)
		if pdf := s.cache.Get(key); pdf != nil {
			s.writePDF(w, pdf, "hit")
			return
		}
	}

	job := render.NewJob(req.HTML, req.CSS, req.Options)
	start := time.Now()
	pdf, err := s.pool.Submit(r.Context(), job)
	s.recordOutcome(r, job, len(pdf), time.Since(start), err)
	if err != nil {
		kind := render.KindOf(err)
		s.logger.Warn("render failed", "job_id", job.ID, "kind", string(kind), "error", err)
		status := statusForKind(kind)
		if status == http.StatusServiceUnavailable {
			w.Header().Set("Retry-After", "1")
		}
		s.writeError(w, status, kind, render.MessageOf(err))
		return
	}

	if s.cache != nil {
		s.cache.Put(key, pdf)
	}
	w.Header().Set("X-Render-Job", job.ID)
	s.writePDF(w, pdf, "miss")
}

// handleRecentJobs handles GET /jobs/recent.
func (s *Server) handleRecentJobs(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 500 {
			s.writeError(w, http.StatusBadRequest, render.KindInputInvalid, "limit must be between 1 and 500")
			return
		}
		limit = n
	}

	entries, err := s.renderLog.Recent(r.Context(), limit)
	if err != nil {
		s.logger.Error("failed to read render log", "error", err)
		s.writeError(w, http.StatusInternalServerError, "", "failed to read render log")
		return
	}
	if entries == nil {
		entries = []joblog.Entry{}
	}
	respondJSON(w, http.StatusOK, entries)
}

// recordOutcome persists a completed render to the render log when enabled.
func (s *Server) recordOutcome(r *http.Request, job *render.Job, bytes int, elapsed time.Duration, renderErr error) {
	if s.renderLog == nil {
		return
	}
	entry := joblog.Entry{
		JobID:       job.ID,
		Status:      joblog.StatusSucceeded,
		Bytes:       bytes,
		DurationMs:  elapsed.Milliseconds(),
		SubmittedAt: job.SubmittedAt.Format(time.RFC3339Nano),
		CompletedAt: time.Now().UTC().Format(time.RFC3339Nano),
	}
	if renderErr != nil {
		entry.Status = joblog.StatusFailed
		entry.Kind = string(render.KindOf(renderErr))
		entry.Error = renderErr.Error()
		entry.Bytes = 0
	}
	if err := s.renderLog.Record(r.Context(), entry); err != nil {
		s.logger.Error("failed to record render outcome", "job_id", job.ID, "error", err)
	}
}

func statusForKind(kind render.Kind) int {
	switch kind {
	case render.KindInputInvalid:
		return http.StatusBadRequest
	case render.KindBackpressure:
		return http.StatusServiceUnavailable
	case render.KindTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}

func (s *Server) writePDF(w http.ResponseWriter, pdf []byte, cacheState string) {
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Length", strconv.Itoa(len(pdf)))
	w.Header().Set("X-Render-Cache", cacheState)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(pdf)
}

func (s *Server) writeError(w http.ResponseWriter, statusCode int, kind render.Kind, message string) {
	respondJSON(w, statusCode, ErrorResponse{Error: message, Kind: string(kind)})
}

func respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}
