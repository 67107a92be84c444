package vision

// Track is a single persistent identity hypothesis. It is owned exclusively
// by its Tracker; ids are assigned from the tracker's monotonic counter and
// never reused, so two tracker instances (one per camera) cannot collide.
type Track struct {
	// ID is unique within the owning tracker for its lifetime.
	ID int64

	// BBox is the current Kalman-smoothed box, refreshed on every predict
	// and update.
	BBox BBox

	// Confidence is the confidence of the last matched detection.
	Confidence float64

	// Age counts ticks since creation.
	Age int

	// Hits counts successful updates. It resets to zero whenever the
	// track misses a frame, so confirmation requires consecutive matches.
	Hits int

	// TimeSinceUpdate counts ticks since the last matched detection.
	TimeSinceUpdate int

	kf *kalmanBox
}

// newTrack creates a track seeded at the detection's box.
func newTrack(id int64, det Detection) *Track {
	return &Track{
		ID:         id,
		BBox:       det.BBox,
		Confidence: det.Confidence,
		Hits:       1,
		kf:         newKalmanBox(det.BBox),
	}
}

// predict advances the track one tick. A track that went unmatched last tick
// loses its hit streak before the staleness counter advances.
func (t *Track) predict() {
	if t.TimeSinceUpdate > 0 {
		t.Hits = 0
	}
	t.TimeSinceUpdate++
	t.Age++

	t.kf.predict()
	t.BBox = t.kf.bbox()
}

// update corrects the track with a matched detection.
func (t *Track) update(det Detection) {
	t.TimeSinceUpdate = 0
	t.Hits++
	t.Confidence = det.Confidence

	t.kf.update(det.BBox)
	t.BBox = t.kf.bbox()
}
