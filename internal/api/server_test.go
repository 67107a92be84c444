package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sitewatch-data/ppe.report/internal/config"
	"github.com/sitewatch-data/ppe.report/internal/storage/sqlite"
	"github.com/sitewatch-data/ppe.report/internal/vision"
)

type scriptedDetector struct {
	detections []vision.Detection
}

func (d *scriptedDetector) Detect(frame *vision.Frame) ([]vision.Detection, error) {
	return d.detections, nil
}

type scriptedPPE struct {
	compliant bool
	detected  []string
	missing   []string
}

func (p *scriptedPPE) Detect(frame *vision.Frame, roi vision.BBox) ([]vision.PPEItem, error) {
	items := make([]vision.PPEItem, 0, len(p.detected))
	for _, class := range p.detected {
		items = append(items, vision.PPEItem{Class: class, Confidence: 0.9, BBox: roi})
	}
	return items, nil
}

func (p *scriptedPPE) CheckCompliance(items []vision.PPEItem) vision.Compliance {
	return vision.Compliance{Compliant: p.compliant, Detected: p.detected, Missing: p.missing}
}

func newTestServer(t *testing.T) (*Server, *vision.FusionEngine) {
	t.Helper()

	newPipeline := func(cameraID string, ppe *scriptedPPE) *vision.CameraPipeline {
		tracker := vision.NewTracker(vision.TrackerConfig{MaxAge: 5, MinHits: 1, IoUThreshold: 0.3})
		filter := vision.NewTemporalFilter(vision.TemporalFilterConfig{
			BufferSize:         2,
			ViolationThreshold: 0.5,
			PPESummaryWindow:   10,
			PPESummaryTopN:     10,
		})
		det := &scriptedDetector{detections: []vision.Detection{
			{BBox: vision.BBox{X1: 100, Y1: 100, X2: 140, Y2: 180}, Confidence: 0.9},
		}}
		return vision.NewCameraPipeline(cameraID, det, ppe, tracker, filter)
	}

	pipelines := []*vision.CameraPipeline{
		newPipeline("camera1", &scriptedPPE{compliant: false, detected: []string{"vest"}, missing: []string{"helmet"}}),
		newPipeline("camera2", &scriptedPPE{compliant: true, detected: []string{"helmet", "vest"}}),
	}
	matcher := vision.NewPersonMatcher(vision.MatcherConfig{
		SpatialWeight:        0.6,
		AppearanceWeight:     0.4,
		MaxDistanceThreshold: 0.5,
	})
	engine, err := vision.NewFusionEngine(pipelines, matcher, vision.DefaultFusionConfig())
	if err != nil {
		t.Fatalf("NewFusionEngine: %v", err)
	}

	db, err := sqlite.Open(":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.MigrateUp(); err != nil {
		t.Fatalf("MigrateUp: %v", err)
	}
	sessionID, err := db.StartSession("camera1", "camera2", "api test")
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}

	return NewServer(engine, &Live{}, db, sessionID, config.EmptyTuningConfig()), engine
}

// runTicks drives the engine and persists each result the way the daemon does.
func runTicks(t *testing.T, s *Server, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		frames := []*vision.Frame{
			{CameraID: "camera1", Index: int64(i)},
			{CameraID: "camera2", Index: int64(i)},
		}
		result, err := s.engine.ProcessFrames(frames)
		if err != nil {
			t.Fatalf("ProcessFrames: %v", err)
		}
		s.live.Set(result)
		tick := s.engine.TickCount()
		if err := s.db.RecordViolations(s.sessionID, tick, result); err != nil {
			t.Fatalf("RecordViolations: %v", err)
		}
		if err := s.db.RecordSnapshot(s.sessionID, tick, result); err != nil {
			t.Fatalf("RecordSnapshot: %v", err)
		}
	}
}

func getJSON(t *testing.T, mux *http.ServeMux, url string, out interface{}) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, url, nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if out != nil && rec.Code == http.StatusOK {
		if err := json.Unmarshal(rec.Body.Bytes(), out); err != nil {
			t.Fatalf("decode %s: %v (body %s)", url, err, rec.Body.String())
		}
	}
	return rec
}

func TestServer_StatsBeforeFirstTick(t *testing.T) {
	s, _ := newTestServer(t)
	rec := getJSON(t, s.ServeMux(), "/ppe/stats", nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}

func TestServer_StatsAndResult(t *testing.T) {
	s, _ := newTestServer(t)
	runTicks(t, s, 3)
	mux := s.ServeMux()

	var stats struct {
		FusionMode    string   `json:"fusion_mode"`
		ActiveCameras []string `json:"active_cameras"`
	}
	rec := getJSON(t, mux, "/ppe/stats", &stats)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	if stats.FusionMode != vision.ModeDualCamera {
		t.Errorf("fusion_mode = %q, want %q", stats.FusionMode, vision.ModeDualCamera)
	}
	if len(stats.ActiveCameras) != 2 {
		t.Errorf("active_cameras = %v, want both", stats.ActiveCameras)
	}

	var result vision.FusedResult
	rec = getJSON(t, mux, "/ppe/result", &result)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	if len(result.Persons) == 0 {
		t.Error("result carries no persons")
	}
}

func TestServer_Status(t *testing.T) {
	s, _ := newTestServer(t)
	runTicks(t, s, 2)

	var status struct {
		SessionID  string `json:"session_id"`
		FusionTick int64  `json:"fusion_tick"`
		Cameras    []struct {
			CameraID   string `json:"camera_id"`
			FrameCount int64  `json:"frame_count"`
			TrackCount int    `json:"track_count"`
		} `json:"cameras"`
	}
	rec := getJSON(t, s.ServeMux(), "/ppe/status", &status)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	if status.SessionID != s.sessionID {
		t.Errorf("session_id = %q, want %q", status.SessionID, s.sessionID)
	}
	if status.FusionTick != 2 {
		t.Errorf("fusion_tick = %d, want 2", status.FusionTick)
	}
	if len(status.Cameras) != 2 {
		t.Fatalf("cameras = %+v, want 2 entries", status.Cameras)
	}
	for _, cam := range status.Cameras {
		if cam.FrameCount != 2 || cam.TrackCount != 1 {
			t.Errorf("camera %s: frames %d tracks %d, want 2 and 1",
				cam.CameraID, cam.FrameCount, cam.TrackCount)
		}
	}
}

func TestServer_PersonsAndHistory(t *testing.T) {
	s, _ := newTestServer(t)
	runTicks(t, s, 3)
	mux := s.ServeMux()

	var persons map[string][]vision.TrackSummary
	rec := getJSON(t, mux, "/ppe/persons", &persons)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	if len(persons["camera1"]) != 1 || len(persons["camera2"]) != 1 {
		t.Fatalf("persons = %+v, want one per camera", persons)
	}

	id := persons["camera1"][0].ID
	var history struct {
		PersonID int64                `json:"person_id"`
		History  []vision.Observation `json:"history"`
	}
	rec = getJSON(t, mux, fmt.Sprintf("/ppe/history?camera=camera1&person=%d", id), &history)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	if len(history.History) == 0 {
		t.Error("history is empty after three frames")
	}

	rec = getJSON(t, mux, "/ppe/history?camera=camera1&person=999", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown person: status = %d, want 404", rec.Code)
	}
	rec = getJSON(t, mux, "/ppe/history?camera=nope&person=1", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown camera: status = %d, want 404", rec.Code)
	}
	rec = getJSON(t, mux, "/ppe/history?camera=camera1&person=abc", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad person id: status = %d, want 400", rec.Code)
	}
}

func TestServer_ParamsUpdate(t *testing.T) {
	s, engine := newTestServer(t)
	mux := s.ServeMux()

	body := bytes.NewBufferString(`{"violation_threshold": 0.9}`)
	req := httptest.NewRequest(http.MethodPost, "/ppe/params", body)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	for _, p := range engine.Pipelines() {
		if got := p.Filter().ViolationThreshold(); got != 0.9 {
			t.Errorf("%s threshold = %v, want 0.9", p.CameraID, got)
		}
	}

	var params config.TuningConfig
	getJSON(t, mux, "/ppe/params", &params)
	if params.ViolationThreshold == nil || *params.ViolationThreshold != 0.9 {
		t.Errorf("stored threshold = %v, want 0.9", params.ViolationThreshold)
	}
}

func TestServer_ParamsRejectsInvalid(t *testing.T) {
	s, engine := newTestServer(t)
	mux := s.ServeMux()
	before := engine.Pipelines()[0].Filter().ViolationThreshold()

	for _, payload := range []string{
		`{"violation_threshold": 1.5}`,
		`{"fusion_strategy": "majority"}`,
		`not json`,
	} {
		req := httptest.NewRequest(http.MethodPost, "/ppe/params", bytes.NewBufferString(payload))
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("payload %s: status = %d, want 400", payload, rec.Code)
		}
	}
	if got := engine.Pipelines()[0].Filter().ViolationThreshold(); got != before {
		t.Errorf("threshold changed to %v on rejected update", got)
	}
}

func TestServer_EventsAndTimeline(t *testing.T) {
	s, _ := newTestServer(t)
	runTicks(t, s, 4)
	mux := s.ServeMux()

	var events []sqlite.ViolationEvent
	rec := getJSON(t, mux, "/ppe/events?limit=10", &events)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	// camera1's person violates once its buffer fills; fused persons
	// inherit that under the or strategy.
	if len(events) == 0 {
		t.Error("no violation events persisted")
	}

	var timeline []sqlite.TimelinePoint
	rec = getJSON(t, mux, "/ppe/timeline?buckets=2", &timeline)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	if len(timeline) == 0 {
		t.Error("timeline is empty after four snapshots")
	}

	rec = getJSON(t, mux, "/ppe/timeline?buckets=0", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("buckets=0: status = %d, want 400", rec.Code)
	}
	rec = getJSON(t, mux, "/ppe/events?limit=-1", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("limit=-1: status = %d, want 400", rec.Code)
	}
}

func TestServer_Sessions(t *testing.T) {
	s, _ := newTestServer(t)
	var sessions []sqlite.Session
	rec := getJSON(t, s.ServeMux(), "/ppe/sessions", &sessions)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	if len(sessions) != 1 || sessions[0].SessionID != s.sessionID {
		t.Errorf("sessions = %+v, want the test session", sessions)
	}
}

func TestServer_HistoryEndpointsWithoutDB(t *testing.T) {
	s, _ := newTestServer(t)
	s.db = nil
	mux := s.ServeMux()
	for _, url := range []string{"/ppe/events", "/ppe/sessions", "/ppe/timeline"} {
		rec := getJSON(t, mux, url, nil)
		if rec.Code != http.StatusServiceUnavailable {
			t.Errorf("%s: status = %d, want 503", url, rec.Code)
		}
	}
}

func TestServer_RejectsWrongMethod(t *testing.T) {
	s, _ := newTestServer(t)
	mux := s.ServeMux()
	for _, url := range []string{"/ppe/stats", "/ppe/result", "/ppe/persons", "/ppe/events"} {
		req := httptest.NewRequest(http.MethodPost, url, nil)
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, req)
		if rec.Code != http.StatusMethodNotAllowed {
			t.Errorf("%s: status = %d, want 405", url, rec.Code)
		}
	}
}
