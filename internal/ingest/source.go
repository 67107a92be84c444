package ingest

import (
	"fmt"
	"sync"

	"github.com/sitewatch-data/ppe.report/internal/vision"
)

// DefaultRequiredPPE is the PPE every person must wear unless configured
// otherwise.
var DefaultRequiredPPE = []string{"helmet", "vest"}

// FrameSource buffers the newest frame message for one camera and adapts it
// to the vision pipeline's detector contracts. The fusion loop polls
// NextFrame on its own clock; when the sender outpaces the loop, older frames
// are dropped rather than queued.
type FrameSource struct {
	cameraID string
	required []string

	mu        sync.Mutex
	latest    *FrameMessage
	current   *FrameMessage // message backing the frame handed to the pipeline
	delivered int64         // frame index already handed to the pipeline
	received  int64         // messages accepted
	dropped   int64         // messages superseded before delivery
}

// NewFrameSource creates a source for one camera. requiredPPE may be nil to
// require DefaultRequiredPPE.
func NewFrameSource(cameraID string, requiredPPE []string) *FrameSource {
	if requiredPPE == nil {
		requiredPPE = DefaultRequiredPPE
	}
	return &FrameSource{
		cameraID:  cameraID,
		required:  requiredPPE,
		delivered: -1,
	}
}

// CameraID returns the camera this source accepts messages for.
func (s *FrameSource) CameraID() string { return s.cameraID }

// Accept stores a message as the camera's newest frame. Messages for other
// cameras are rejected.
func (s *FrameSource) Accept(msg *FrameMessage) error {
	if msg.CameraID != s.cameraID {
		return fmt.Errorf("message for camera %s delivered to source %s", msg.CameraID, s.cameraID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.latest != nil && s.latest.FrameIndex > s.delivered {
		s.dropped++
	}
	s.latest = msg
	s.received++
	return nil
}

// NextFrame returns a pipeline frame for the newest undelivered message, or
// nil when no new message arrived since the last call. A nil return marks
// the camera offline for the tick.
func (s *FrameSource) NextFrame() *vision.Frame {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.latest == nil || s.latest.FrameIndex <= s.delivered {
		return nil
	}
	// Pin the message so a newer arrival cannot swap it out mid-tick.
	s.current = s.latest
	s.delivered = s.current.FrameIndex
	return &vision.Frame{
		CameraID: s.cameraID,
		Index:    s.current.FrameIndex,
		Time:     s.current.Time(),
	}
}

// Counters returns received and dropped message counts.
func (s *FrameSource) Counters() (received, dropped int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.received, s.dropped
}

// Detector returns the person-detection view of this source.
func (s *FrameSource) Detector() vision.Detector { return &personAdapter{s} }

// PPEDetector returns the PPE-detection view of this source.
func (s *FrameSource) PPEDetector() vision.PPEDetector { return &ppeAdapter{s} }

// message returns the pinned message matching the frame, or an error when
// the pipeline asks about a frame this source never produced.
func (s *FrameSource) message(frame *vision.Frame) (*FrameMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil || frame == nil || s.current.FrameIndex != frame.Index {
		return nil, fmt.Errorf("camera %s: no buffered message for frame %d", s.cameraID, frameIndex(frame))
	}
	return s.current, nil
}

func frameIndex(frame *vision.Frame) int64 {
	if frame == nil {
		return -1
	}
	return frame.Index
}

// personAdapter implements vision.Detector over the buffered message.
type personAdapter struct {
	source *FrameSource
}

func (a *personAdapter) Detect(frame *vision.Frame) ([]vision.Detection, error) {
	msg, err := a.source.message(frame)
	if err != nil {
		return nil, err
	}

	detections := make([]vision.Detection, 0, len(msg.Persons))
	for _, p := range msg.Persons {
		detections = append(detections, vision.Detection{
			BBox:       toBBox(p.BBox),
			Confidence: p.Confidence,
			Keypoints:  toKeypoints(p.Keypoints),
		})
	}
	return detections, nil
}

// ppeAdapter implements vision.PPEDetector over the buffered message. The
// sender already ran PPE inference per person; Detect selects the sent items
// belonging to the person whose box best overlaps the query region.
type ppeAdapter struct {
	source *FrameSource
}

func (a *ppeAdapter) Detect(frame *vision.Frame, roi vision.BBox) ([]vision.PPEItem, error) {
	msg, err := a.source.message(frame)
	if err != nil {
		return nil, err
	}

	best := -1
	bestIoU := 0.0
	for i, p := range msg.Persons {
		if iou := vision.IoU(toBBox(p.BBox), roi); iou > bestIoU {
			bestIoU = iou
			best = i
		}
	}
	if best < 0 {
		return nil, nil
	}

	items := make([]vision.PPEItem, 0, len(msg.Persons[best].PPE))
	for _, d := range msg.Persons[best].PPE {
		items = append(items, vision.PPEItem{
			Class:      d.Class,
			Confidence: d.Confidence,
			BBox:       toBBox(d.BBox),
		})
	}
	return items, nil
}

// CheckCompliance requires every configured PPE class to be present among
// the detected items.
func (a *ppeAdapter) CheckCompliance(items []vision.PPEItem) vision.Compliance {
	present := make(map[string]bool, len(items))
	var detected []string
	for _, item := range items {
		if !present[item.Class] {
			present[item.Class] = true
			detected = append(detected, item.Class)
		}
	}

	var missing []string
	for _, class := range a.source.required {
		if !present[class] {
			missing = append(missing, class)
		}
	}

	return vision.Compliance{
		Compliant: len(missing) == 0,
		Detected:  detected,
		Missing:   missing,
	}
}
