package vision

import (
	"gonum.org/v1/gonum/mat"
)

// kalmanBox is a constant-velocity / constant-scale Kalman filter over the
// bounding-box state [cx, cy, area, aspect, vcx, vcy, varea]. Aspect ratio
// carries no velocity term: people change position and apparent size far
// faster than shape.
const (
	stateDim   = 7
	measureDim = 4
)

type kalmanBox struct {
	x *mat.VecDense // state estimate
	p *mat.Dense    // state covariance

	f *mat.Dense // state transition
	h *mat.Dense // measurement model
	q *mat.Dense // process noise
	r *mat.Dense // measurement noise
}

// newKalmanBox initialises the filter at the detection's box with zero
// velocity and high velocity uncertainty.
func newKalmanBox(b BBox) *kalmanBox {
	f := mat.NewDense(stateDim, stateDim, nil)
	for i := 0; i < stateDim; i++ {
		f.Set(i, i, 1)
	}
	f.Set(0, 4, 1)
	f.Set(1, 5, 1)
	f.Set(2, 6, 1)

	h := mat.NewDense(measureDim, stateDim, nil)
	for i := 0; i < measureDim; i++ {
		h.Set(i, i, 1)
	}

	r := mat.NewDense(measureDim, measureDim, nil)
	for i := 0; i < measureDim; i++ {
		r.Set(i, i, 10)
	}

	p := mat.NewDense(stateDim, stateDim, nil)
	for i := 0; i < stateDim; i++ {
		if i < measureDim {
			p.Set(i, i, 10)
		} else {
			// Unobservable velocities start highly uncertain.
			p.Set(i, i, 1e4)
		}
	}

	q := mat.NewDense(stateDim, stateDim, nil)
	for i := 0; i < stateDim; i++ {
		switch {
		case i < measureDim:
			q.Set(i, i, 1)
		case i == stateDim-1:
			q.Set(i, i, 1e-4)
		default:
			q.Set(i, i, 1e-2)
		}
	}

	z := bboxToMeasurement(b)
	x := mat.NewVecDense(stateDim, nil)
	for i := 0; i < measureDim; i++ {
		x.SetVec(i, z[i])
	}

	return &kalmanBox{x: x, p: p, f: f, h: h, q: q, r: r}
}

// predict advances the state one tick: x = F·x, P = F·P·Fᵀ + Q.
func (k *kalmanBox) predict() {
	var x mat.VecDense
	x.MulVec(k.f, k.x)
	k.x.CopyVec(&x)

	var fp, fpft mat.Dense
	fp.Mul(k.f, k.p)
	fpft.Mul(&fp, k.f.T())
	fpft.Add(&fpft, k.q)
	k.p.Copy(&fpft)
}

// update corrects the state with a measured box via the standard Kalman
// update. A singular innovation covariance leaves the state untouched.
func (k *kalmanBox) update(b BBox) {
	zv := bboxToMeasurement(b)
	z := mat.NewVecDense(measureDim, zv[:])

	// Innovation y = z - H·x
	var hx, y mat.VecDense
	hx.MulVec(k.h, k.x)
	y.SubVec(z, &hx)

	// S = H·P·Hᵀ + R
	var hp, s mat.Dense
	hp.Mul(k.h, k.p)
	s.Mul(&hp, k.h.T())
	s.Add(&s, k.r)

	var sInv mat.Dense
	if err := sInv.Inverse(&s); err != nil {
		return
	}

	// K = P·Hᵀ·S⁻¹
	var pht, gain mat.Dense
	pht.Mul(k.p, k.h.T())
	gain.Mul(&pht, &sInv)

	// x = x + K·y
	var ky mat.VecDense
	ky.MulVec(&gain, &y)
	k.x.AddVec(k.x, &ky)

	// P = (I - K·H)·P
	var kh mat.Dense
	kh.Mul(&gain, k.h)
	ikh := mat.NewDense(stateDim, stateDim, nil)
	for i := 0; i < stateDim; i++ {
		ikh.Set(i, i, 1)
	}
	ikh.Sub(ikh, &kh)

	var newP mat.Dense
	newP.Mul(ikh, k.p)
	k.p.Copy(&newP)
}

// bbox returns the box implied by the current state estimate.
func (k *kalmanBox) bbox() BBox {
	return measurementToBBox([4]float64{
		k.x.AtVec(0), k.x.AtVec(1), k.x.AtVec(2), k.x.AtVec(3),
	})
}
