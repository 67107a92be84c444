package vision

import (
	"image"
	"math"

	"gonum.org/v1/gonum/stat"
)

// histBins is the per-channel bin count of the appearance histogram.
const histBins = 8

// ColorHistogram is an 8×8×8-bin HSV colour histogram, L2-normalised.
// HSV separates chroma from brightness, so the histogram tolerates the
// lighting differences between two camera views better than raw RGB.
type ColorHistogram [histBins * histBins * histBins]float64

// ComputeColorHistogram builds the appearance histogram over the given crop
// of img, clipped to the image bounds. Returns false for an empty crop.
func ComputeColorHistogram(img image.Image, crop image.Rectangle) (ColorHistogram, bool) {
	var hist ColorHistogram
	if img == nil {
		return hist, false
	}

	crop = crop.Intersect(img.Bounds())
	if crop.Empty() {
		return hist, false
	}

	for y := crop.Min.Y; y < crop.Max.Y; y++ {
		for x := crop.Min.X; x < crop.Max.X; x++ {
			r, g, b, _ := img.At(x, y).RGBA()
			h, s, v := rgbToHSV(float64(r)/65535, float64(g)/65535, float64(b)/65535)

			hBin := int(h / 360 * histBins)
			sBin := int(s * histBins)
			vBin := int(v * histBins)
			if hBin >= histBins {
				hBin = histBins - 1
			}
			if sBin >= histBins {
				sBin = histBins - 1
			}
			if vBin >= histBins {
				vBin = histBins - 1
			}

			hist[hBin*histBins*histBins+sBin*histBins+vBin]++
		}
	}

	// L2-normalise so crop size does not dominate the comparison.
	var norm float64
	for _, v := range hist {
		norm += v * v
	}
	if norm > 0 {
		norm = math.Sqrt(norm)
		for i := range hist {
			hist[i] /= norm
		}
	}

	return hist, true
}

// Correlate returns the Pearson correlation between two histograms in
// [-1, 1]. Histograms with zero variance (single-colour crops) correlate
// at 0.
func (h ColorHistogram) Correlate(other ColorHistogram) float64 {
	c := stat.Correlation(h[:], other[:], nil)
	if math.IsNaN(c) {
		return 0
	}
	return c
}

// rgbToHSV converts r,g,b in [0,1] to h in [0,360), s,v in [0,1].
func rgbToHSV(r, g, b float64) (h, s, v float64) {
	max := math.Max(r, math.Max(g, b))
	min := math.Min(r, math.Min(g, b))
	delta := max - min

	v = max
	if max > 0 {
		s = delta / max
	}

	switch {
	case delta == 0:
		h = 0
	case max == r:
		h = 60 * math.Mod((g-b)/delta, 6)
	case max == g:
		h = 60 * ((b-r)/delta + 2)
	default:
		h = 60 * ((r-g)/delta + 4)
	}
	if h < 0 {
		h += 360
	}
	return h, s, v
}
