package vision

import (
	"image"
	"math"
	"testing"
)

func TestIoU_Identical(t *testing.T) {
	b := BBox{X1: 10, Y1: 10, X2: 50, Y2: 90}
	if got := IoU(b, b); math.Abs(got-1) > 1e-9 {
		t.Errorf("IoU of identical boxes = %v, want 1", got)
	}
}

func TestIoU_Disjoint(t *testing.T) {
	a := BBox{X1: 0, Y1: 0, X2: 10, Y2: 10}
	b := BBox{X1: 20, Y1: 20, X2: 30, Y2: 30}
	if got := IoU(a, b); got != 0 {
		t.Errorf("IoU of disjoint boxes = %v, want 0", got)
	}
}

func TestIoU_HalfOverlap(t *testing.T) {
	// Intersection 50, union 150 → 1/3.
	a := BBox{X1: 0, Y1: 0, X2: 10, Y2: 10}
	b := BBox{X1: 5, Y1: 0, X2: 15, Y2: 10}
	if got := IoU(a, b); math.Abs(got-1.0/3.0) > 1e-9 {
		t.Errorf("IoU = %v, want 1/3", got)
	}
}

func TestIoU_DegenerateBox(t *testing.T) {
	a := BBox{X1: 5, Y1: 5, X2: 5, Y2: 5}
	b := BBox{X1: 0, Y1: 0, X2: 10, Y2: 10}
	got := IoU(a, b)
	if math.IsNaN(got) || got != 0 {
		t.Errorf("IoU with zero-area box = %v, want 0", got)
	}
}

func TestBBoxMeasurementRoundTrip(t *testing.T) {
	orig := BBox{X1: 100, Y1: 200, X2: 180, Y2: 400}
	back := measurementToBBox(bboxToMeasurement(orig))

	for _, pair := range [][2]float64{
		{orig.X1, back.X1}, {orig.Y1, back.Y1},
		{orig.X2, back.X2}, {orig.Y2, back.Y2},
	} {
		if math.Abs(pair[0]-pair[1]) > 1e-6 {
			t.Fatalf("round trip changed box: %+v → %+v", orig, back)
		}
	}
}

func TestBBoxToMeasurement_ZeroHeight(t *testing.T) {
	z := bboxToMeasurement(BBox{X1: 0, Y1: 10, X2: 10, Y2: 10})
	for i, v := range z {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			t.Errorf("measurement[%d] = %v for zero-height box", i, v)
		}
	}
}

func keypointsWithAnchors() []Keypoint {
	kps := make([]Keypoint, NumKeypoints)
	kps[0] = Keypoint{X: 50, Y: 20, Conf: 0.9}   // nose
	kps[5] = Keypoint{X: 30, Y: 50, Conf: 0.8}   // left shoulder
	kps[6] = Keypoint{X: 70, Y: 50, Conf: 0.8}   // right shoulder
	kps[11] = Keypoint{X: 35, Y: 120, Conf: 0.7} // left hip
	kps[12] = Keypoint{X: 65, Y: 120, Conf: 0.7} // right hip
	return kps
}

func TestUpperBodyROI_FromKeypoints(t *testing.T) {
	roi, ok := UpperBodyROI(keypointsWithAnchors(), image.Rectangle{})
	if !ok {
		t.Fatal("expected ROI from five visible anchors")
	}

	// Anchor span is x 30..70, y 20..120; expanded by 30% width each side,
	// 40% height up, 20% height down.
	want := BBox{X1: 18, Y1: -20, X2: 82, Y2: 140}
	if math.Abs(roi.X1-want.X1) > 1e-9 || math.Abs(roi.Y1-want.Y1) > 1e-9 ||
		math.Abs(roi.X2-want.X2) > 1e-9 || math.Abs(roi.Y2-want.Y2) > 1e-9 {
		t.Errorf("ROI = %+v, want %+v", roi, want)
	}
}

func TestUpperBodyROI_ClippedToFrame(t *testing.T) {
	frame := image.Rect(0, 0, 100, 100)
	roi, ok := UpperBodyROI(keypointsWithAnchors(), frame)
	if !ok {
		t.Fatal("expected ROI")
	}
	if roi.Y1 < 0 || roi.Y2 > 100 || roi.X1 < 0 || roi.X2 > 100 {
		t.Errorf("ROI %+v escapes frame %v", roi, frame)
	}
}

func TestUpperBodyROI_TooFewAnchors(t *testing.T) {
	kps := make([]Keypoint, NumKeypoints)
	kps[0] = Keypoint{X: 50, Y: 20, Conf: 0.9}
	kps[5] = Keypoint{X: 30, Y: 50, Conf: 0.8}
	if _, ok := UpperBodyROI(kps, image.Rectangle{}); ok {
		t.Error("expected no ROI with only two visible anchors")
	}

	if _, ok := UpperBodyROI(nil, image.Rectangle{}); ok {
		t.Error("expected no ROI without keypoints")
	}
}
