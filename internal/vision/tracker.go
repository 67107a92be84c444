package vision

import "sync"

// TrackerConfig holds configuration parameters for the tracker.
type TrackerConfig struct {
	MaxAge       int     // Ticks a track survives without a matched detection
	MinHits      int     // Consecutive hits needed before a track is reported
	IoUThreshold float64 // Minimum IoU for a detection-track assignment
}

// DefaultTrackerConfig returns default tracker configuration.
func DefaultTrackerConfig() TrackerConfig {
	return TrackerConfig{
		MaxAge:       30,
		MinHits:      3,
		IoUThreshold: 0.3,
	}
}

// TrackSummary is a lightweight view of a live track for status endpoints.
type TrackSummary struct {
	ID         int64   `json:"id"`
	BBox       BBox    `json:"bbox"`
	Confidence float64 `json:"confidence"`
	Age        int     `json:"age"`
	Hits       int     `json:"hits"`
}

// Tracker assigns persistent identities to per-frame detections using Kalman
// state prediction and optimal IoU-cost assignment. Each tracker owns its own
// id counter; no concurrent Update calls on the same instance.
type Tracker struct {
	Config TrackerConfig

	tracks     []*Track
	nextID     int64
	frameCount int64

	mu sync.Mutex
}

// NewTracker creates a tracker with the specified configuration.
func NewTracker(config TrackerConfig) *Tracker {
	return &Tracker{
		Config: config,
		nextID: 1,
	}
}

// Update advances the tracker one tick: predict all tracks, associate
// detections by IoU cost, correct matched tracks, spawn tracks for unmatched
// detections, evict stale tracks, and report detections matched to confirmed
// tracks. No detections yields an empty result, not an error.
func (t *Tracker) Update(detections []Detection) []TrackedPerson {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.frameCount++

	// Step 1: predict all tracks to the current tick.
	for _, track := range t.tracks {
		track.predict()
	}

	// Step 2: associate detections to tracks.
	matched := t.associate(detections)

	// Step 3: update matched tracks.
	for detIdx, track := range matched {
		track.update(detections[detIdx])
	}

	// Step 4: spawn tracks for unmatched detections.
	for i, det := range detections {
		if _, ok := matched[i]; ok {
			continue
		}
		t.tracks = append(t.tracks, newTrack(t.nextID, det))
		t.nextID++
	}

	// Step 5: evict stale tracks.
	live := t.tracks[:0]
	for _, track := range t.tracks {
		if track.TimeSinceUpdate <= t.Config.MaxAge {
			live = append(live, track)
		} else {
			tracef("[Tracker] Evicting track %d (age=%d, missed=%d)",
				track.ID, track.Age, track.TimeSinceUpdate)
		}
	}
	t.tracks = live

	// Step 6: report confirmed matches only. Unconfirmed tracks persist
	// internally but stay out of the output until they earn MinHits.
	out := make([]TrackedPerson, 0, len(matched))
	for detIdx, det := range detections {
		track, ok := matched[detIdx]
		if !ok || track.Hits < t.Config.MinHits {
			continue
		}
		out = append(out, TrackedPerson{
			PersonID:   track.ID,
			BBox:       track.BBox,
			Confidence: det.Confidence,
			Keypoints:  det.Keypoints,
		})
	}

	return out
}

// associate solves the detection-to-track assignment by minimising total
// 1-IoU cost, then rejects pairings below the IoU threshold.
func (t *Tracker) associate(detections []Detection) map[int]*Track {
	matched := make(map[int]*Track)
	if len(t.tracks) == 0 || len(detections) == 0 {
		return matched
	}

	iou := make([][]float64, len(detections))
	cost := make([][]float64, len(detections))
	for d, det := range detections {
		iou[d] = make([]float64, len(t.tracks))
		cost[d] = make([]float64, len(t.tracks))
		for ti, track := range t.tracks {
			iou[d][ti] = IoU(det.BBox, track.BBox)
			cost[d][ti] = 1 - iou[d][ti]
		}
	}

	for d, ti := range hungarianAssign(cost) {
		if ti < 0 || iou[d][ti] < t.Config.IoUThreshold {
			continue
		}
		matched[d] = t.tracks[ti]
	}
	return matched
}

// ActiveTracks returns summaries of confirmed tracks that were matched this
// tick or the previous one.
func (t *Tracker) ActiveTracks() []TrackSummary {
	t.mu.Lock()
	defer t.mu.Unlock()

	active := make([]TrackSummary, 0, len(t.tracks))
	for _, track := range t.tracks {
		if track.Hits >= t.Config.MinHits && track.TimeSinceUpdate <= 1 {
			active = append(active, TrackSummary{
				ID:         track.ID,
				BBox:       track.BBox,
				Confidence: track.Confidence,
				Age:        track.Age,
				Hits:       track.Hits,
			})
		}
	}
	return active
}

// TrackCount returns the number of live tracks, confirmed or not.
func (t *Tracker) TrackCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.tracks)
}

// FrameCount returns the number of Update calls since creation or Reset.
func (t *Tracker) FrameCount() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.frameCount
}

// Reset clears all tracks and restarts the id counter. Only safe when no
// external state still references old ids.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tracks = nil
	t.nextID = 1
	t.frameCount = 0
}
