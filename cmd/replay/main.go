// Command replay runs the fusion pipeline over recorded detection streams,
// either a JSONL dump (one frame message per line) or a PCAP capture, and
// writes the session's events, snapshots and plots.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/sitewatch-data/ppe.report/internal/config"
	"github.com/sitewatch-data/ppe.report/internal/ingest"
	"github.com/sitewatch-data/ppe.report/internal/report"
	"github.com/sitewatch-data/ppe.report/internal/storage/sqlite"
	"github.com/sitewatch-data/ppe.report/internal/vision"
)

var (
	inputFile  = flag.String("input", "", "JSONL detection dump to replay")
	pcapFile   = flag.String("pcap", "", "PCAP capture to replay (requires -tags pcap build)")
	pcapPort   = flag.Int("pcap-port", 9001, "UDP port filter for PCAP replay")
	dbFile     = flag.String("db", "ppe_replay.db", "SQLite database path")
	tuningFile = flag.String("config", "", "Tuning config JSON path")
	requirePPE = flag.String("require", "helmet,vest", "Comma-separated required PPE classes")
	plotDir    = flag.String("plot-dir", "plots", "Output directory for compliance plots")
	notes      = flag.String("notes", "replay", "Session notes")
)

// replaySession owns the engine, sources and storage for one replay run.
type replaySession struct {
	engine    *vision.FusionEngine
	source1   *ingest.FrameSource
	source2   *ingest.FrameSource
	db        *sqlite.DB
	sessionID string

	lastTick int64
}

// Accept routes a frame message to its camera's source and runs a fusion
// tick whenever the lead camera advances to a new frame index, so both
// cameras' frames for the previous index are fused together.
func (rs *replaySession) Accept(msg *ingest.FrameMessage) error {
	if msg.CameraID == rs.source1.CameraID() && msg.FrameIndex > rs.lastTick {
		if err := rs.tick(); err != nil {
			return err
		}
		rs.lastTick = msg.FrameIndex
	}
	switch msg.CameraID {
	case rs.source1.CameraID():
		return rs.source1.Accept(msg)
	case rs.source2.CameraID():
		return rs.source2.Accept(msg)
	default:
		return fmt.Errorf("unknown camera %q", msg.CameraID)
	}
}

// tick runs one fusion pass over whatever frames are pending.
func (rs *replaySession) tick() error {
	frames := []*vision.Frame{rs.source1.NextFrame(), rs.source2.NextFrame()}
	if frames[0] == nil && frames[1] == nil {
		return nil
	}
	result, err := rs.engine.ProcessFrames(frames)
	if err != nil {
		return fmt.Errorf("fusion tick failed: %w", err)
	}

	tick := rs.engine.TickCount()
	if err := rs.db.RecordViolations(rs.sessionID, tick, result); err != nil {
		return err
	}
	return rs.db.RecordSnapshot(rs.sessionID, tick, result)
}

// replayJSONL feeds every line of the dump through the session in order.
func replayJSONL(path string, rs *replaySession) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open input: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)

	line, malformed := 0, 0
	for scanner.Scan() {
		line++
		raw := strings.TrimSpace(scanner.Text())
		if raw == "" {
			continue
		}
		msg, err := ingest.ParseFrameMessage([]byte(raw))
		if err != nil {
			malformed++
			log.Printf("line %d: %v", line, err)
			continue
		}
		if err := rs.Accept(msg); err != nil {
			return fmt.Errorf("line %d: %w", line, err)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read input: %w", err)
	}

	log.Printf("replayed %d lines (%d malformed)", line, malformed)
	return nil
}

func main() {
	flag.Parse()

	if (*inputFile == "") == (*pcapFile == "") {
		log.Fatal("exactly one of -input or -pcap is required")
	}

	tuning := config.EmptyTuningConfig()
	if *tuningFile != "" {
		var err error
		tuning, err = config.LoadTuningConfig(*tuningFile)
		if err != nil {
			log.Fatalf("Failed to load tuning config: %v", err)
		}
	}

	required := strings.Split(*requirePPE, ",")
	for i := range required {
		required[i] = strings.TrimSpace(required[i])
	}

	db, err := sqlite.Open(*dbFile)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()
	if err := db.MigrateUp(); err != nil {
		log.Fatalf("Failed to migrate database: %v", err)
	}

	sessionID, err := db.StartSession("camera1", "camera2", *notes)
	if err != nil {
		log.Fatalf("Failed to start session: %v", err)
	}

	source1 := ingest.NewFrameSource("camera1", required)
	source2 := ingest.NewFrameSource("camera2", required)

	newPipeline := func(cameraID string, source *ingest.FrameSource) *vision.CameraPipeline {
		tracker := vision.NewTracker(vision.TrackerConfig{
			MaxAge:       tuning.GetMaxAge(),
			MinHits:      tuning.GetMinHits(),
			IoUThreshold: tuning.GetIoUThreshold(),
		})
		filter := vision.NewTemporalFilter(vision.TemporalFilterConfig{
			BufferSize:         tuning.GetBufferSize(),
			ViolationThreshold: tuning.GetViolationThreshold(),
			PPESummaryWindow:   tuning.GetPPESummaryWindow(),
			PPESummaryTopN:     tuning.GetPPESummaryTopN(),
		})
		return vision.NewCameraPipeline(cameraID, source.Detector(), source.PPEDetector(), tracker, filter)
	}

	matcher := vision.NewPersonMatcher(vision.MatcherConfig{
		SpatialWeight:        tuning.GetSpatialWeight(),
		AppearanceWeight:     tuning.GetAppearanceWeight(),
		MaxDistanceThreshold: tuning.GetMaxDistanceThreshold(),
	})
	engine, err := vision.NewFusionEngine(
		[]*vision.CameraPipeline{newPipeline("camera1", source1), newPipeline("camera2", source2)},
		matcher,
		vision.FusionConfig{
			Strategy:         vision.FusionStrategy(tuning.GetFusionStrategy()),
			MissingPPEPolicy: vision.MissingPPEPolicy(tuning.GetMissingPPEPolicy()),
		})
	if err != nil {
		log.Fatalf("Failed to build fusion engine: %v", err)
	}

	rs := &replaySession{
		engine:    engine,
		source1:   source1,
		source2:   source2,
		db:        db,
		sessionID: sessionID,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if *inputFile != "" {
		err = replayJSONL(*inputFile, rs)
	} else {
		err = ingest.ReplayPCAP(ctx, *pcapFile, *pcapPort, rs)
	}
	if err != nil && err != context.Canceled {
		log.Fatalf("Replay failed: %v", err)
	}

	// Flush the final pending frames.
	if err := rs.tick(); err != nil {
		log.Printf("final tick failed: %v", err)
	}
	if err := db.EndSession(sessionID); err != nil {
		log.Printf("failed to end session: %v", err)
	}

	stats, err := db.Stats(sessionID)
	if err != nil {
		log.Fatalf("Failed to read session stats: %v", err)
	}
	fmt.Printf("session %s: %d ticks, %.1f%% avg compliance, %d violation events, peak %d persons\n",
		sessionID, stats.Snapshots, stats.AvgCompliance, stats.Events, stats.PeakPersons)

	if stats.Snapshots > 0 && *plotDir != "" {
		files, err := report.SavePlots(db, sessionID, *plotDir)
		if err != nil {
			log.Fatalf("Failed to write plots: %v", err)
		}
		for _, f := range files {
			fmt.Printf("wrote %s\n", f)
		}
	}
}
