package vision

import (
	"image"
	"math"
)

// MatcherConfig holds configuration for cross-camera person matching.
type MatcherConfig struct {
	// SpatialWeight and AppearanceWeight combine the two cost terms when
	// both frames carry pixels; spatial-only matching otherwise.
	SpatialWeight    float64
	AppearanceWeight float64

	// MaxDistanceThreshold is the largest combined cost accepted as a
	// match; confidence (1-cost) must reach 1-MaxDistanceThreshold.
	MaxDistanceThreshold float64
}

// DefaultMatcherConfig returns default matcher configuration.
func DefaultMatcherConfig() MatcherConfig {
	return MatcherConfig{
		SpatialWeight:        0.6,
		AppearanceWeight:     0.4,
		MaxDistanceThreshold: 0.5,
	}
}

// Match pairs a camera-1 person index with a camera-2 person index. The
// relation is bipartite one-to-one: no index appears in two matches.
type Match struct {
	Cam1       int     `json:"cam1"`
	Cam2       int     `json:"cam2"`
	Confidence float64 `json:"confidence"`
}

// PersonMatcher re-identifies the same physical person across two
// independently tracked camera views using spatial and appearance cues.
// The two cameras are assumed to observe a comparable framing, so box
// centers normalised to each frame live in a shared 0..1 space.
type PersonMatcher struct {
	config MatcherConfig
}

// NewPersonMatcher creates a matcher with the given configuration.
func NewPersonMatcher(config MatcherConfig) *PersonMatcher {
	return &PersonMatcher{config: config}
}

// MatchPersons matches persons between two camera views for the same
// instant. Either list empty yields no matches. Frames are optional; when
// both are present the cost blends spatial and appearance distance,
// otherwise it is purely spatial. Pairs whose confidence falls below the
// floor are dropped, leaving both indices unmatched.
func (m *PersonMatcher) MatchPersons(cam1, cam2 []PersonRecord, frame1, frame2 *Frame) []Match {
	if len(cam1) == 0 || len(cam2) == 0 {
		return nil
	}

	useAppearance := frame1 != nil && frame1.Image != nil &&
		frame2 != nil && frame2.Image != nil

	cost := make([][]float64, len(cam1))
	for i, p1 := range cam1 {
		cost[i] = make([]float64, len(cam2))
		for j, p2 := range cam2 {
			sc := m.spatialCost(p1.BBox, frame1.Bounds(), p2.BBox, frame2.Bounds())
			if useAppearance {
				ac := m.appearanceCost(p1.BBox, frame1.Image, p2.BBox, frame2.Image)
				cost[i][j] = m.config.SpatialWeight*sc + m.config.AppearanceWeight*ac
			} else {
				cost[i][j] = sc
			}
		}
	}

	floor := 1 - m.config.MaxDistanceThreshold
	var matches []Match
	for i, j := range hungarianAssign(cost) {
		if j < 0 {
			continue
		}
		confidence := 1 - cost[i][j]
		if confidence < floor {
			continue
		}
		matches = append(matches, Match{Cam1: i, Cam2: j, Confidence: confidence})
	}
	return matches
}

// spatialCost is the Euclidean distance between the two box centers in the
// shared normalised space, divided by the unit-square diagonal and clamped
// to 1. Boxes are normalised by their own frame bounds when pixels are
// attached; otherwise coordinates are taken as already normalised.
func (m *PersonMatcher) spatialCost(b1 BBox, f1 image.Rectangle, b2 BBox, f2 image.Rectangle) float64 {
	x1, y1 := normalizedCenter(b1, f1)
	x2, y2 := normalizedCenter(b2, f2)

	d := math.Hypot(x1-x2, y1-y2) / math.Sqrt2
	return math.Min(d, 1)
}

func normalizedCenter(b BBox, frame image.Rectangle) (float64, float64) {
	cx, cy := b.Center()
	if frame.Empty() {
		return cx, cy
	}
	return (cx - float64(frame.Min.X)) / float64(frame.Dx()),
		(cy - float64(frame.Min.Y)) / float64(frame.Dy())
}

// appearanceCost compares HSV colour histograms of the two person crops,
// mapping correlation [-1,1] linearly to distance [1,0]. An empty crop on
// either side is maximum distance.
func (m *PersonMatcher) appearanceCost(b1 BBox, img1 image.Image, b2 BBox, img2 image.Image) float64 {
	h1, ok1 := ComputeColorHistogram(img1, bboxRect(b1))
	h2, ok2 := ComputeColorHistogram(img2, bboxRect(b2))
	if !ok1 || !ok2 {
		return 1.0
	}
	return (1 - h1.Correlate(h2)) / 2
}

// bboxRect converts a box to integer pixel bounds.
func bboxRect(b BBox) image.Rectangle {
	return image.Rect(int(b.X1), int(b.Y1), int(b.X2), int(b.Y2))
}
