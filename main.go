package main

import (
	"context"
	"flag"
	"log"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/sitewatch-data/ppe.report/internal/alerts"
	"github.com/sitewatch-data/ppe.report/internal/api"
	"github.com/sitewatch-data/ppe.report/internal/config"
	"github.com/sitewatch-data/ppe.report/internal/ingest"
	"github.com/sitewatch-data/ppe.report/internal/monitoring"
	"github.com/sitewatch-data/ppe.report/internal/report"
	"github.com/sitewatch-data/ppe.report/internal/vision"
)

var (
	listen      = flag.String("listen", ":8080", "HTTP listen address")
	dbFile      = flag.String("db", "ppe_monitor.db", "SQLite database path")
	tuningFile  = flag.String("config", "", "Tuning config JSON path (defaults apply when unset)")
	camera1Addr = flag.String("camera1", ":9001", "UDP listen address for camera1 detections")
	camera2Addr = flag.String("camera2", ":9002", "UDP listen address for camera2 detections")
	requirePPE  = flag.String("require", "helmet,vest", "Comma-separated required PPE classes")
	plotDir     = flag.String("plot-dir", "", "Write compliance PNG plots here on shutdown")
	notes       = flag.String("notes", "", "Free-form session notes")
)

const camera1ID = "camera1"
const camera2ID = "camera2"

// buildPipeline wires one camera's detection source into a tracking and
// filtering pipeline using the tuning parameters.
func buildPipeline(cameraID string, source *ingest.FrameSource, tuning *config.TuningConfig) *vision.CameraPipeline {
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

func main() {
	flag.Parse()

	if *listen == "" {
		log.Fatal("Listen address is required")
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

	db, err := openDatabase(*dbFile)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	sessionID, err := db.StartSession(camera1ID, camera2ID, *notes)
	if err != nil {
		log.Fatalf("Failed to start session: %v", err)
	}
	log.Printf("session %s started", sessionID)
	defer func() {
		if err := db.EndSession(sessionID); err != nil {
			log.Printf("failed to end session: %v", err)
		}
	}()

	source1 := ingest.NewFrameSource(camera1ID, required)
	source2 := ingest.NewFrameSource(camera2ID, required)

	pipelines := []*vision.CameraPipeline{
		buildPipeline(camera1ID, source1, tuning),
		buildPipeline(camera2ID, source2, tuning),
	}
	matcher := vision.NewPersonMatcher(vision.MatcherConfig{
		SpatialWeight:        tuning.GetSpatialWeight(),
		AppearanceWeight:     tuning.GetAppearanceWeight(),
		MaxDistanceThreshold: tuning.GetMaxDistanceThreshold(),
	})
	engine, err := vision.NewFusionEngine(pipelines, matcher, vision.FusionConfig{
		Strategy:         vision.FusionStrategy(tuning.GetFusionStrategy()),
		MissingPPEPolicy: vision.MissingPPEPolicy(tuning.GetMissingPPEPolicy()),
	})
	if err != nil {
		log.Fatalf("Failed to build fusion engine: %v", err)
	}

	var publisher *alerts.Publisher
	if kafkaCfg := alerts.ConfigFromEnv(); kafkaCfg.Enabled() {
		publisher, err = alerts.NewPublisher(kafkaCfg, sessionID)
		if err != nil {
			log.Fatalf("Failed to connect to Kafka: %v", err)
		}
		defer publisher.Close()
	}

	live := &api.Live{}

	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// One UDP listener per camera feeds its frame source.
	for _, l := range []struct {
		addr   string
		source *ingest.FrameSource
	}{
		{*camera1Addr, source1},
		{*camera2Addr, source2},
	} {
		listener := ingest.NewUDPListener(ingest.UDPListenerConfig{
			Address: l.addr,
			Handler: l.source,
		})
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := listener.Start(ctx); err != nil && err != context.Canceled {
				log.Printf("listener error: %v", err)
			}
		}()
	}

	// Fusion loop: pull the newest undelivered frame from each camera and
	// run one fusion tick per interval. A camera with no fresh frame is
	// offline for that tick.
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(tuning.GetFusionInterval())
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				log.Print("fusion loop terminated")
				return
			case <-ticker.C:
				frames := []*vision.Frame{source1.NextFrame(), source2.NextFrame()}
				result, err := engine.ProcessFrames(frames)
				if err != nil {
					log.Printf("fusion tick failed: %v", err)
					continue
				}
				live.Set(result)

				tick := engine.TickCount()
				if err := db.RecordViolations(sessionID, tick, result); err != nil {
					log.Printf("failed to persist violations: %v", err)
				}
				if tuning.GetSnapshotFlush() || result.Statistics.TotalPersons > 0 {
					if err := db.RecordSnapshot(sessionID, tick, result); err != nil {
						log.Printf("failed to persist snapshot: %v", err)
					}
				}
				if publisher != nil {
					publisher.PublishViolations(tick, result)
				}
			}
		}
	}()

	// HTTP server goroutine
	apiServer := api.NewServer(engine, live, db, sessionID, tuning)
	wg.Add(1)
	go func() {
		defer wg.Done()
		runHTTPServer(ctx, *listen, apiServer, db, sessionID)
	}()

	monitoring.Logf("PPE monitor listening on %s (cameras on %s and %s)", *listen, *camera1Addr, *camera2Addr)

	// Wait for all goroutines to finish
	wg.Wait()

	if *plotDir != "" {
		files, err := report.SavePlots(db, sessionID, *plotDir)
		if err != nil {
			log.Printf("failed to write plots: %v", err)
		} else {
			for _, f := range files {
				log.Printf("wrote %s", f)
			}
		}
	}

	log.Printf("Graceful shutdown complete")
}
