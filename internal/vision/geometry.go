package vision

import (
	"image"
	"math"
)

// minDimension guards divisions by box height / width / union area.
const minDimension = 1e-6

// IoU returns the intersection-over-union of two axis-aligned boxes.
// The union is clamped away from zero so degenerate boxes yield 0, not NaN.
func IoU(a, b BBox) float64 {
	x1 := math.Max(a.X1, b.X1)
	y1 := math.Max(a.Y1, b.Y1)
	x2 := math.Min(a.X2, b.X2)
	y2 := math.Min(a.Y2, b.Y2)

	intersection := math.Max(0, x2-x1) * math.Max(0, y2-y1)
	union := a.Area() + b.Area() - intersection

	return intersection / math.Max(union, minDimension)
}

// bboxToMeasurement converts a box to the tracker measurement vector
// [cx, cy, area, aspect].
func bboxToMeasurement(b BBox) [4]float64 {
	w := b.Width()
	h := b.Height()
	cx := b.X1 + w/2
	cy := b.Y1 + h/2
	return [4]float64{cx, cy, w * h, w / math.Max(h, minDimension)}
}

// measurementToBBox inverts bboxToMeasurement: w = sqrt(area*aspect),
// h = area/w.
func measurementToBBox(z [4]float64) BBox {
	w := math.Sqrt(math.Max(z[2]*z[3], 0))
	h := z[2] / math.Max(w, minDimension)
	return BBox{
		X1: z[0] - w/2,
		Y1: z[1] - h/2,
		X2: z[0] + w/2,
		Y2: z[1] + h/2,
	}
}

// UpperBodyROI derives the torso-and-head region used for PPE detection from
// pose keypoints: the span of nose, shoulders and hips, widened by 30% on
// each side and stretched 40% upward (helmets sit above the nose keypoint)
// and 20% downward. Returns false when fewer than three of those keypoints
// are visible; callers then fall back to the full person box.
func UpperBodyROI(keypoints []Keypoint, frame image.Rectangle) (BBox, bool) {
	if len(keypoints) < NumKeypoints {
		return BBox{}, false
	}

	// nose, left/right shoulder, left/right hip
	anchors := []int{0, 5, 6, 11, 12}

	visible := 0
	minX, minY := math.Inf(1), math.Inf(1)
	maxX, maxY := math.Inf(-1), math.Inf(-1)
	for _, i := range anchors {
		kp := keypoints[i]
		if kp.Conf <= 0 {
			continue
		}
		visible++
		minX = math.Min(minX, kp.X)
		minY = math.Min(minY, kp.Y)
		maxX = math.Max(maxX, kp.X)
		maxY = math.Max(maxY, kp.Y)
	}
	if visible < 3 {
		return BBox{}, false
	}

	w := maxX - minX
	h := maxY - minY

	roi := BBox{
		X1: minX - w*0.3,
		Y1: minY - h*0.4,
		X2: maxX + w*0.3,
		Y2: maxY + h*0.2,
	}
	return clipToFrame(roi, frame), true
}

// clipToFrame clamps a box to the frame bounds. A zero frame leaves the box
// untouched (no pixels to clip against).
func clipToFrame(b BBox, frame image.Rectangle) BBox {
	if frame.Empty() {
		return b
	}
	return BBox{
		X1: math.Max(float64(frame.Min.X), math.Min(b.X1, float64(frame.Max.X))),
		Y1: math.Max(float64(frame.Min.Y), math.Min(b.Y1, float64(frame.Max.Y))),
		X2: math.Max(float64(frame.Min.X), math.Min(b.X2, float64(frame.Max.X))),
		Y2: math.Max(float64(frame.Min.Y), math.Min(b.Y2, float64(frame.Max.Y))),
	}
}
