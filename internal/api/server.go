// Package api exposes the monitor's live state, persisted history and
// runtime tuning over HTTP JSON endpoints.
package api

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/sitewatch-data/ppe.report/internal/config"
	"github.com/sitewatch-data/ppe.report/internal/storage/sqlite"
	"github.com/sitewatch-data/ppe.report/internal/version"
	"github.com/sitewatch-data/ppe.report/internal/vision"
)

// ANSI escape codes for cyan and reset
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

// Live holds the newest fusion result for handlers to read. The fusion loop
// is the only writer.
type Live struct {
	mu     sync.RWMutex
	result *vision.FusedResult
}

// Set publishes a new fusion result.
func (l *Live) Set(result *vision.FusedResult) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.result = result
}

// Get returns the newest fusion result, or nil before the first tick.
func (l *Live) Get() *vision.FusedResult {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.result
}

// Server serves the monitor API. DB may be nil when persistence is disabled;
// the history endpoints then answer 503.
type Server struct {
	engine    *vision.FusionEngine
	live      *Live
	db        *sqlite.DB
	sessionID string

	tuningMu sync.Mutex
	tuning   *config.TuningConfig
}

// NewServer creates an API server over the fusion engine and its collaborators.
func NewServer(engine *vision.FusionEngine, live *Live, db *sqlite.DB, sessionID string, tuning *config.TuningConfig) *Server {
	if tuning == nil {
		tuning = config.EmptyTuningConfig()
	}
	return &Server{
		engine:    engine,
		live:      live,
		db:        db,
		sessionID: sessionID,
		tuning:    tuning,
	}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, query, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		log.Printf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

// ServeMux returns the API routes.
func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/ppe/status", s.showStatus)
	mux.HandleFunc("/ppe/stats", s.showStats)
	mux.HandleFunc("/ppe/result", s.showResult)
	mux.HandleFunc("/ppe/persons", s.listPersons)
	mux.HandleFunc("/ppe/history", s.showPersonHistory)
	mux.HandleFunc("/ppe/params", s.handleParams)
	mux.HandleFunc("/ppe/events", s.listEvents)
	mux.HandleFunc("/ppe/sessions", s.listSessions)
	mux.HandleFunc("/ppe/timeline", s.showTimeline)
	return mux
}

func (s *Server) writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("failed to encode response: %v", err)
	}
}

func (s *Server) writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// cameraStatus summarises one camera pipeline.
type cameraStatus struct {
	CameraID    string                  `json:"camera_id"`
	FrameCount  int64                   `json:"frame_count"`
	TrackCount  int                     `json:"track_count"`
	FilterStats vision.FilterStatistics `json:"filter_stats"`
}

// showStatus reports the daemon's live pipeline state.
func (s *Server) showStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	cameras := make([]cameraStatus, 0, len(s.engine.Pipelines()))
	for _, p := range s.engine.Pipelines() {
		cameras = append(cameras, cameraStatus{
			CameraID:    p.CameraID,
			FrameCount:  p.FrameCount(),
			TrackCount:  p.Tracker().TrackCount(),
			FilterStats: p.Filter().Statistics(),
		})
	}

	s.writeJSON(w, map[string]interface{}{
		"version":     version.Version,
		"git_sha":     version.GitSHA,
		"session_id":  s.sessionID,
		"fusion_tick": s.engine.TickCount(),
		"cameras":     cameras,
	})
}

// showStats reports the newest fusion tick's aggregate statistics.
func (s *Server) showStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	result := s.live.Get()
	if result == nil {
		s.writeJSONError(w, http.StatusServiceUnavailable, "no fusion result yet")
		return
	}
	s.writeJSON(w, map[string]interface{}{
		"fusion_mode":    result.FusionMode,
		"active_cameras": result.ActiveCameras,
		"num_matches":    result.NumMatches,
		"statistics":     result.Statistics,
	})
}

// showResult reports the full newest fusion result.
func (s *Server) showResult(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	result := s.live.Get()
	if result == nil {
		s.writeJSONError(w, http.StatusServiceUnavailable, "no fusion result yet")
		return
	}
	s.writeJSON(w, result)
}

// listPersons reports each camera's active confirmed tracks.
func (s *Server) listPersons(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	persons := make(map[string][]vision.TrackSummary)
	for _, p := range s.engine.Pipelines() {
		persons[p.CameraID] = p.Tracker().ActiveTracks()
	}
	s.writeJSON(w, persons)
}

// showPersonHistory reports one tracked person's buffered observations.
// Query: camera=<id>&person=<track id>.
func (s *Server) showPersonHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	cameraID := r.URL.Query().Get("camera")
	personID, err := strconv.ParseInt(r.URL.Query().Get("person"), 10, 64)
	if err != nil {
		s.writeJSONError(w, http.StatusBadRequest, "invalid person id")
		return
	}

	for _, p := range s.engine.Pipelines() {
		if p.CameraID != cameraID {
			continue
		}
		status, ok := p.Filter().GetStatus(personID)
		if !ok {
			s.writeJSONError(w, http.StatusNotFound,
				fmt.Sprintf("person %d not tracked on %s", personID, cameraID))
			return
		}
		s.writeJSON(w, map[string]interface{}{
			"camera_id": cameraID,
			"person_id": personID,
			"status":    status,
			"history":   p.Filter().PersonHistory(personID),
		})
		return
	}
	s.writeJSONError(w, http.StatusNotFound, fmt.Sprintf("unknown camera %q", cameraID))
}

// handleParams reads (GET) or updates (POST) runtime tuning. Only the
// violation threshold takes effect without a restart; other fields are
// validated and stored for the next one.
func (s *Server) handleParams(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.tuningMu.Lock()
		defer s.tuningMu.Unlock()
		s.writeJSON(w, s.tuning)

	case http.MethodPost:
		update := config.EmptyTuningConfig()
		if err := json.NewDecoder(r.Body).Decode(update); err != nil {
			s.writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("invalid params: %v", err))
			return
		}
		if err := update.Validate(); err != nil {
			s.writeJSONError(w, http.StatusBadRequest, err.Error())
			return
		}

		if update.ViolationThreshold != nil {
			for _, p := range s.engine.Pipelines() {
				if err := p.Filter().SetViolationThreshold(*update.ViolationThreshold); err != nil {
					s.writeJSONError(w, http.StatusBadRequest, err.Error())
					return
				}
			}
		}

		s.tuningMu.Lock()
		mergeTuning(s.tuning, update)
		s.tuningMu.Unlock()

		s.writeJSON(w, map[string]string{"status": "ok"})

	default:
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

// mergeTuning copies set fields from src into dst.
func mergeTuning(dst, src *config.TuningConfig) {
	if src.MaxAge != nil {
		dst.MaxAge = src.MaxAge
	}
	if src.MinHits != nil {
		dst.MinHits = src.MinHits
	}
	if src.IoUThreshold != nil {
		dst.IoUThreshold = src.IoUThreshold
	}
	if src.BufferSize != nil {
		dst.BufferSize = src.BufferSize
	}
	if src.ViolationThreshold != nil {
		dst.ViolationThreshold = src.ViolationThreshold
	}
	if src.PPESummaryWindow != nil {
		dst.PPESummaryWindow = src.PPESummaryWindow
	}
	if src.PPESummaryTopN != nil {
		dst.PPESummaryTopN = src.PPESummaryTopN
	}
	if src.SpatialWeight != nil {
		dst.SpatialWeight = src.SpatialWeight
	}
	if src.AppearanceWeight != nil {
		dst.AppearanceWeight = src.AppearanceWeight
	}
	if src.MaxDistanceThreshold != nil {
		dst.MaxDistanceThreshold = src.MaxDistanceThreshold
	}
	if src.FusionStrategy != nil {
		dst.FusionStrategy = src.FusionStrategy
	}
	if src.MissingPPEPolicy != nil {
		dst.MissingPPEPolicy = src.MissingPPEPolicy
	}
	if src.FusionInterval != nil {
		dst.FusionInterval = src.FusionInterval
	}
	if src.SnapshotFlush != nil {
		dst.SnapshotFlush = src.SnapshotFlush
	}
}

// listEvents reports the session's recent persisted violation events.
func (s *Server) listEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if s.db == nil {
		s.writeJSONError(w, http.StatusServiceUnavailable, "persistence disabled")
		return
	}

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			s.writeJSONError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	events, err := s.db.RecentEvents(s.sessionID, limit)
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, events)
}

// listSessions reports recorded sessions, newest first.
func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if s.db == nil {
		s.writeJSONError(w, http.StatusServiceUnavailable, "persistence disabled")
		return
	}

	sessions, err := s.db.ListSessions(50)
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, sessions)
}

// showTimeline reports the session's bucketed compliance timeline.
func (s *Server) showTimeline(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if s.db == nil {
		s.writeJSONError(w, http.StatusServiceUnavailable, "persistence disabled")
		return
	}

	buckets := 60
	if v := r.URL.Query().Get("buckets"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			s.writeJSONError(w, http.StatusBadRequest, "invalid buckets")
			return
		}
		buckets = n
	}

	points, err := s.db.ComplianceTimeline(s.sessionID, buckets)
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, points)
}
