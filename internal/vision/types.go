package vision

import (
	"image"
	"time"
)

// NumKeypoints is the COCO pose keypoint count produced by the pose detector.
const NumKeypoints = 17

// Keypoint is a single pose keypoint in pixel coordinates with a visibility
// confidence. Confidence 0 means the keypoint was not observed.
type Keypoint struct {
	X    float64 `json:"x"`
	Y    float64 `json:"y"`
	Conf float64 `json:"conf"`
}

// BBox is an axis-aligned bounding box [x1,y1,x2,y2] in pixel coordinates.
type BBox struct {
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
	X2 float64 `json:"x2"`
	Y2 float64 `json:"y2"`
}

// Width returns the box width.
func (b BBox) Width() float64 { return b.X2 - b.X1 }

// Height returns the box height.
func (b BBox) Height() float64 { return b.Y2 - b.Y1 }

// Area returns the box area. Degenerate boxes yield <= 0.
func (b BBox) Area() float64 { return b.Width() * b.Height() }

// Center returns the box center point.
func (b BBox) Center() (x, y float64) {
	return (b.X1 + b.X2) / 2, (b.Y1 + b.Y2) / 2
}

// Detection is a single person detection for one frame of one camera. It is
// produced by the external pose detector, consumed once by the tracker, and
// never mutated.
type Detection struct {
	BBox       BBox       `json:"bbox"`
	Confidence float64    `json:"confidence"`
	Keypoints  []Keypoint `json:"keypoints,omitempty"` // 17 entries when present
}

// PPEItem is a single PPE-item detection (helmet, vest, ...) inside a
// person's region of interest.
type PPEItem struct {
	Class      string  `json:"class"`
	Confidence float64 `json:"confidence"`
	BBox       BBox    `json:"bbox"`
}

// Compliance is the single-frame compliance verdict for one person: which
// required PPE items were seen and which are absent.
type Compliance struct {
	Compliant bool     `json:"compliant"`
	Detected  []string `json:"detected_ppe"`
	Missing   []string `json:"missing_ppe"`
}

// FilteredStatus is the temporally debounced compliance verdict for one
// tracked identity. It is recomputed on every TemporalFilter update.
type FilteredStatus struct {
	IsViolation    bool     `json:"is_violation"`
	Confidence     float64  `json:"confidence"`
	ViolationRatio float64  `json:"violation_ratio"`
	DetectedPPE    []string `json:"detected_ppe"`
	MissingPPE     []string `json:"missing_ppe"`
}

// TrackedPerson is a confirmed tracker output for one frame: the track's
// Kalman-smoothed box under its persistent id, plus the detection fields
// carried through from the matched detection.
type TrackedPerson struct {
	PersonID   int64      `json:"person_id"`
	BBox       BBox       `json:"bbox"`
	Confidence float64    `json:"confidence"`
	Keypoints  []Keypoint `json:"keypoints,omitempty"`
}

// PersonRecord is the per-camera, per-frame pipeline output for one tracked
// person. Immutable once created.
type PersonRecord struct {
	PersonID      int64          `json:"person_id"`
	BBox          BBox           `json:"bbox"`
	Confidence    float64        `json:"confidence"`
	Keypoints     []Keypoint     `json:"keypoints,omitempty"`
	PPEDetections []PPEItem      `json:"ppe_detections"`
	Compliance    Compliance     `json:"compliance"`
	Filtered      FilteredStatus `json:"filtered_status"`
}

// Frame is one camera frame handed to a pipeline tick. Image may be nil when
// the source delivers detections without pixels; appearance matching then
// falls back to spatial cost only.
type Frame struct {
	CameraID string
	Index    int64
	Time     time.Time
	Image    image.Image
}

// Bounds returns the frame's pixel bounds, or the zero rectangle when no
// image is attached.
func (f *Frame) Bounds() image.Rectangle {
	if f == nil || f.Image == nil {
		return image.Rectangle{}
	}
	return f.Image.Bounds()
}
