package main

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/sitewatch-data/ppe.report/internal/ingest"
	"github.com/sitewatch-data/ppe.report/internal/storage/sqlite"
	"github.com/sitewatch-data/ppe.report/internal/vision"
)

func newTestReplaySession(t *testing.T) *replaySession {
	t.Helper()

	db, err := sqlite.Open(":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.MigrateUp(); err != nil {
		t.Fatalf("MigrateUp: %v", err)
	}
	sessionID, err := db.StartSession("camera1", "camera2", "replay test")
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}

	source1 := ingest.NewFrameSource("camera1", []string{"helmet"})
	source2 := ingest.NewFrameSource("camera2", []string{"helmet"})

	newPipeline := func(cameraID string, source *ingest.FrameSource) *vision.CameraPipeline {
		tracker := vision.NewTracker(vision.TrackerConfig{MaxAge: 5, MinHits: 1, IoUThreshold: 0.3})
		filter := vision.NewTemporalFilter(vision.TemporalFilterConfig{
			BufferSize:         2,
			ViolationThreshold: 0.5,
			PPESummaryWindow:   10,
			PPESummaryTopN:     10,
		})
		return vision.NewCameraPipeline(cameraID, source.Detector(), source.PPEDetector(), tracker, filter)
	}

	matcher := vision.NewPersonMatcher(vision.MatcherConfig{
		SpatialWeight:        0.6,
		AppearanceWeight:     0.4,
		MaxDistanceThreshold: 0.5,
	})
	engine, err := vision.NewFusionEngine(
		[]*vision.CameraPipeline{newPipeline("camera1", source1), newPipeline("camera2", source2)},
		matcher, vision.DefaultFusionConfig())
	if err != nil {
		t.Fatalf("NewFusionEngine: %v", err)
	}

	return &replaySession{
		engine:    engine,
		source1:   source1,
		source2:   source2,
		db:        db,
		sessionID: sessionID,
	}
}

func writeDump(t *testing.T, frames int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "dump.jsonl")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create dump: %v", err)
	}
	defer f.Close()

	// One bare-headed person per camera per frame, plus one junk line.
	for i := 1; i <= frames; i++ {
		for _, cam := range []string{"camera1", "camera2"} {
			fmt.Fprintf(f,
				`{"camera_id": %q, "frame_index": %d, "persons": [{"bbox": [100, 100, 140, 180], "confidence": 0.9}]}`+"\n",
				cam, i)
		}
	}
	fmt.Fprintln(f, "not json")
	return path
}

func TestReplayJSONL(t *testing.T) {
	rs := newTestReplaySession(t)

	if err := replayJSONL(writeDump(t, 5), rs); err != nil {
		t.Fatalf("replayJSONL: %v", err)
	}
	if err := rs.tick(); err != nil {
		t.Fatalf("final tick: %v", err)
	}

	stats, err := rs.db.Stats(rs.sessionID)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	// The first camera1 message of each later frame triggers a tick, then
	// the final flush runs one more.
	if stats.Snapshots != 5 {
		t.Errorf("snapshots = %d, want 5", stats.Snapshots)
	}
	// Nobody wears a helmet, so violations accumulate once buffers fill.
	if stats.Events == 0 {
		t.Error("no violation events recorded")
	}
}

func TestReplaySession_RejectsUnknownCamera(t *testing.T) {
	rs := newTestReplaySession(t)
	err := rs.Accept(&ingest.FrameMessage{CameraID: "camera9", FrameIndex: 1})
	if err == nil {
		t.Error("accepted a message for an unknown camera")
	}
}
