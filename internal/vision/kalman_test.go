package vision

import (
	"math"
	"testing"
)

func TestKalmanBox_InitialState(t *testing.T) {
	b := BBox{X1: 100, Y1: 100, X2: 140, Y2: 180}
	kf := newKalmanBox(b)

	got := kf.bbox()
	if math.Abs(got.X1-b.X1) > 1e-6 || math.Abs(got.Y2-b.Y2) > 1e-6 {
		t.Errorf("initial bbox = %+v, want %+v", got, b)
	}
	for i := measureDim; i < stateDim; i++ {
		if kf.x.AtVec(i) != 0 {
			t.Errorf("velocity component %d = %v, want 0", i, kf.x.AtVec(i))
		}
	}
}

func TestKalmanBox_PredictKeepsStillBoxStill(t *testing.T) {
	b := BBox{X1: 0, Y1: 0, X2: 10, Y2: 20}
	kf := newKalmanBox(b)
	kf.predict()

	got := kf.bbox()
	cx, cy := got.Center()
	if math.Abs(cx-5) > 1e-6 || math.Abs(cy-10) > 1e-6 {
		t.Errorf("predicted center = (%v,%v), want (5,10)", cx, cy)
	}
}

func TestKalmanBox_LearnsVelocity(t *testing.T) {
	// Feed a box moving +10px/tick in x; after several predict/update
	// cycles the prediction should lead in the direction of motion.
	kf := newKalmanBox(BBox{X1: 0, Y1: 0, X2: 20, Y2: 40})
	for i := 1; i <= 10; i++ {
		kf.predict()
		off := float64(i) * 10
		kf.update(BBox{X1: off, Y1: 0, X2: off + 20, Y2: 40})
	}

	kf.predict()
	cx, _ := kf.bbox().Center()
	// Last measured center x was 110; a learned velocity must carry the
	// prediction well past it.
	if cx <= 112 {
		t.Errorf("predicted center x = %v, expected motion carried past 112", cx)
	}
}

func TestKalmanBox_UpdatePullsTowardMeasurement(t *testing.T) {
	kf := newKalmanBox(BBox{X1: 0, Y1: 0, X2: 10, Y2: 10})
	kf.predict()
	kf.update(BBox{X1: 8, Y1: 8, X2: 18, Y2: 18})

	cx, cy := kf.bbox().Center()
	if cx <= 5 || cy <= 5 {
		t.Errorf("update did not move state toward measurement: center (%v,%v)", cx, cy)
	}
	if cx > 13 || cy > 13 {
		t.Errorf("update overshot measurement: center (%v,%v)", cx, cy)
	}
}
