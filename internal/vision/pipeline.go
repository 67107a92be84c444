package vision

import (
	"fmt"
	"sync"
)

// Detector produces person detections for a frame. Implementations wrap the
// external pose/person inference process; they live outside this package.
type Detector interface {
	Detect(frame *Frame) ([]Detection, error)
}

// PPEDetector produces PPE-item detections inside a region of interest and
// judges single-frame compliance. Implementations wrap the external PPE
// inference process.
type PPEDetector interface {
	Detect(frame *Frame, roi BBox) ([]PPEItem, error)
	CheckCompliance(items []PPEItem) Compliance
}

// CameraPipeline runs one camera's independent chain:
// detection → tracking → per-person PPE → temporal filtering.
// Instances share no state; two pipelines may tick in parallel.
type CameraPipeline struct {
	CameraID string

	detector Detector
	ppe      PPEDetector
	tracker  *Tracker
	filter   *TemporalFilter

	mu         sync.Mutex
	frameCount int64
}

// NewCameraPipeline wires a pipeline from its collaborators and core stages.
func NewCameraPipeline(cameraID string, detector Detector, ppe PPEDetector, tracker *Tracker, filter *TemporalFilter) *CameraPipeline {
	return &CameraPipeline{
		CameraID: cameraID,
		detector: detector,
		ppe:      ppe,
		tracker:  tracker,
		filter:   filter,
	}
}

// ProcessFrame runs one tick. The returned records carry only confirmed
// track identities; unconfirmed tracks mature silently inside the tracker.
func (p *CameraPipeline) ProcessFrame(frame *Frame) ([]PersonRecord, error) {
	if frame == nil {
		return nil, fmt.Errorf("camera %s: nil frame", p.CameraID)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.frameCount++

	detections, err := p.detector.Detect(frame)
	if err != nil {
		return nil, fmt.Errorf("camera %s: detect: %w", p.CameraID, err)
	}

	tracked := p.tracker.Update(detections)
	tracef("[Pipeline %s] frame %d: %d detections, %d confirmed persons",
		p.CameraID, p.frameCount, len(detections), len(tracked))

	records := make([]PersonRecord, 0, len(tracked))
	activeIDs := make([]int64, 0, len(tracked))

	for _, person := range tracked {
		activeIDs = append(activeIDs, person.PersonID)

		// PPE search region: torso/head box from pose keypoints when
		// enough are visible, else the full person box.
		roi, ok := UpperBodyROI(person.Keypoints, frame.Bounds())
		if !ok {
			roi = person.BBox
		}

		items, err := p.ppe.Detect(frame, roi)
		if err != nil {
			return nil, fmt.Errorf("camera %s: ppe detect: %w", p.CameraID, err)
		}
		compliance := p.ppe.CheckCompliance(items)

		filtered := p.filter.Update(person.PersonID, compliance.Compliant,
			compliance.Detected, compliance.Missing)

		records = append(records, PersonRecord{
			PersonID:      person.PersonID,
			BBox:          person.BBox,
			Confidence:    person.Confidence,
			Keypoints:     person.Keypoints,
			PPEDetections: items,
			Compliance:    compliance,
			Filtered:      filtered,
		})
	}

	// Forget identities that left the scene this tick.
	p.filter.CleanupOldTracks(activeIDs)

	return records, nil
}

// Tracker exposes the pipeline's tracker for status reporting.
func (p *CameraPipeline) Tracker() *Tracker { return p.tracker }

// Filter exposes the pipeline's temporal filter for status reporting and
// runtime threshold updates.
func (p *CameraPipeline) Filter() *TemporalFilter { return p.filter }

// FrameCount returns the number of frames processed since creation or Reset.
func (p *CameraPipeline) FrameCount() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.frameCount
}

// Reset clears tracker and filter state. Only safe between ticks.
func (p *CameraPipeline) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tracker.Reset()
	p.filter.Reset()
	p.frameCount = 0
}
