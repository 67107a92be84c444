package vision

import (
	"image"
	"image/color"
	"math"
	"testing"
)

func personAt(id int64, cx, cy, size float64) PersonRecord {
	return PersonRecord{
		PersonID: id,
		BBox: BBox{
			X1: cx - size/2, Y1: cy - size/2,
			X2: cx + size/2, Y2: cy + size/2,
		},
	}
}

func TestMatchPersons_EmptyLists(t *testing.T) {
	m := NewPersonMatcher(DefaultMatcherConfig())

	if got := m.MatchPersons(nil, []PersonRecord{personAt(1, 0.5, 0.5, 0.1)}, nil, nil); got != nil {
		t.Errorf("empty cam1 produced matches: %v", got)
	}
	if got := m.MatchPersons([]PersonRecord{personAt(1, 0.5, 0.5, 0.1)}, nil, nil, nil); got != nil {
		t.Errorf("empty cam2 produced matches: %v", got)
	}
}

func TestMatchPersons_NearbyPersonsMatch(t *testing.T) {
	m := NewPersonMatcher(DefaultMatcherConfig())

	// Normalised coordinates; same physical person seen slightly offset.
	cam1 := []PersonRecord{personAt(1, 0.40, 0.50, 0.10)}
	cam2 := []PersonRecord{personAt(9, 0.45, 0.50, 0.10)}

	matches := m.MatchPersons(cam1, cam2, nil, nil)
	if len(matches) != 1 {
		t.Fatalf("got %d matches, want 1", len(matches))
	}
	got := matches[0]
	if got.Cam1 != 0 || got.Cam2 != 0 {
		t.Errorf("match indices = (%d,%d), want (0,0)", got.Cam1, got.Cam2)
	}
	if got.Confidence < 0.5 {
		t.Errorf("confidence = %v, want >= 0.5", got.Confidence)
	}

	// Spatial-only cost: distance 0.05 over the unit diagonal.
	wantConf := 1 - 0.05/math.Sqrt2
	if math.Abs(got.Confidence-wantConf) > 1e-9 {
		t.Errorf("confidence = %v, want %v", got.Confidence, wantConf)
	}
}

func TestMatchPersons_DistantPersonsRejected(t *testing.T) {
	m := NewPersonMatcher(DefaultMatcherConfig())

	cam1 := []PersonRecord{personAt(1, 0.05, 0.05, 0.05)}
	cam2 := []PersonRecord{personAt(2, 0.95, 0.95, 0.05)}

	if matches := m.MatchPersons(cam1, cam2, nil, nil); len(matches) != 0 {
		t.Errorf("opposite corners matched: %v", matches)
	}
}

func TestMatchPersons_OneToOne(t *testing.T) {
	m := NewPersonMatcher(DefaultMatcherConfig())

	// Two persons per camera; crossing assignments cost more.
	cam1 := []PersonRecord{
		personAt(1, 0.20, 0.50, 0.10),
		personAt(2, 0.80, 0.50, 0.10),
	}
	cam2 := []PersonRecord{
		personAt(5, 0.82, 0.50, 0.10),
		personAt(6, 0.22, 0.50, 0.10),
	}

	matches := m.MatchPersons(cam1, cam2, nil, nil)
	if len(matches) != 2 {
		t.Fatalf("got %d matches, want 2", len(matches))
	}

	used1 := make(map[int]bool)
	used2 := make(map[int]bool)
	for _, match := range matches {
		if used1[match.Cam1] || used2[match.Cam2] {
			t.Fatalf("index reused in matches: %v", matches)
		}
		used1[match.Cam1] = true
		used2[match.Cam2] = true
	}

	for _, match := range matches {
		switch match.Cam1 {
		case 0:
			if match.Cam2 != 1 {
				t.Errorf("cam1[0] matched cam2[%d], want 1", match.Cam2)
			}
		case 1:
			if match.Cam2 != 0 {
				t.Errorf("cam1[1] matched cam2[%d], want 0", match.Cam2)
			}
		}
	}
}

func TestMatchPersons_AppearanceLowersConfidence(t *testing.T) {
	m := NewPersonMatcher(DefaultMatcherConfig())

	red := color.RGBA{R: 255, A: 255}
	blue := color.RGBA{B: 255, A: 255}

	// Same pixel position in both frames: spatial cost is zero, so any
	// confidence difference comes from appearance alone.
	cam1 := []PersonRecord{personAt(1, 50, 50, 40)}
	cam2 := []PersonRecord{personAt(2, 50, 50, 40)}

	frameRed1 := &Frame{CameraID: "cam1", Image: solidImage(100, 100, red)}
	frameRed2 := &Frame{CameraID: "cam2", Image: solidImage(100, 100, red)}
	frameBlue := &Frame{CameraID: "cam2", Image: solidImage(100, 100, blue)}

	same := m.MatchPersons(cam1, cam2, frameRed1, frameRed2)
	diff := m.MatchPersons(cam1, cam2, frameRed1, frameBlue)
	if len(same) != 1 || len(diff) != 1 {
		t.Fatalf("got %d/%d matches, want 1/1", len(same), len(diff))
	}
	if diff[0].Confidence >= same[0].Confidence {
		t.Errorf("different colours confidence %v not below same colours %v",
			diff[0].Confidence, same[0].Confidence)
	}
}

func TestSpatialCost_ClampedToOne(t *testing.T) {
	m := NewPersonMatcher(DefaultMatcherConfig())

	// Raw coordinates far outside the unit square still cost at most 1.
	c := m.spatialCost(
		BBox{X1: 0, Y1: 0, X2: 1, Y2: 1}, image.Rectangle{},
		BBox{X1: 500, Y1: 500, X2: 501, Y2: 501}, image.Rectangle{},
	)
	if c != 1 {
		t.Errorf("spatial cost = %v, want clamped 1", c)
	}
}
