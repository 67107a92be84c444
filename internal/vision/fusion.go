package vision

import (
	"fmt"
	"sync"
)

// FusionStrategy selects how two cameras' violation verdicts combine for a
// matched person.
type FusionStrategy string

const (
	// FusionOr flags a violation when either camera reports one.
	FusionOr FusionStrategy = "or"
	// FusionAnd flags a violation only when both cameras report one.
	FusionAnd FusionStrategy = "and"
	// FusionWeighted flags a violation when either camera reports one and
	// the cross-camera match confidence exceeds 0.5.
	FusionWeighted FusionStrategy = "weighted"
)

// MissingPPEPolicy selects how two cameras' missing-PPE lists combine for a
// matched person.
type MissingPPEPolicy string

const (
	// MissingPPEAnd keeps only items missing in both views. An item one
	// camera can see is not missing.
	MissingPPEAnd MissingPPEPolicy = "and"
	// MissingPPEOr keeps items missing in either view.
	MissingPPEOr MissingPPEPolicy = "or"
)

// Fusion modes reported in FusedResult.FusionMode.
const (
	ModeNoCamera           = "no_camera"
	ModeSingleCamera       = "single_camera"
	ModeDualCamera         = "dual_camera"
	ModeMultiCameraPartial = "multi_camera_partial"
)

// FusionConfig holds configuration for the fusion engine.
type FusionConfig struct {
	Strategy         FusionStrategy
	MissingPPEPolicy MissingPPEPolicy
}

// DefaultFusionConfig returns default fusion configuration.
func DefaultFusionConfig() FusionConfig {
	return FusionConfig{
		Strategy:         FusionOr,
		MissingPPEPolicy: MissingPPEAnd,
	}
}

// Validate checks the configured strategy and policy names.
func (c FusionConfig) Validate() error {
	switch c.Strategy {
	case FusionOr, FusionAnd, FusionWeighted:
	default:
		return fmt.Errorf("unknown fusion strategy %q", c.Strategy)
	}
	switch c.MissingPPEPolicy {
	case MissingPPEAnd, MissingPPEOr:
	default:
		return fmt.Errorf("unknown missing-ppe policy %q", c.MissingPPEPolicy)
	}
	return nil
}

// FusedPerson is one person in a fusion tick's output. A matched pair carries
// both cameras' records and a combined status; an unmatched person carries
// one record, its camera of origin, and MatchConfidence 0. Fused persons live
// for one tick and are not persisted by this package.
type FusedPerson struct {
	FusedID         string  `json:"fused_id"`
	CameraSource    string  `json:"camera_source"`
	MatchConfidence float64 `json:"match_confidence"`

	Cam1 *PersonRecord `json:"cam1,omitempty"`
	Cam2 *PersonRecord `json:"cam2,omitempty"`

	Filtered FilteredStatus `json:"filtered_status"`
}

// FusionStatistics aggregates one fusion tick.
type FusionStatistics struct {
	TotalPersons   int     `json:"total_persons"`
	Violations     int     `json:"violations"`
	ComplianceRate float64 `json:"compliance_rate"`
	MatchedPersons int     `json:"matched_persons"`
	Cam1Only       int     `json:"cam1_only"`
	Cam2Only       int     `json:"cam2_only"`
}

// FusedResult is the output of one fusion tick.
type FusedResult struct {
	Persons       []FusedPerson    `json:"persons"`
	Violations    []FusedPerson    `json:"violations"`
	Statistics    FusionStatistics `json:"statistics"`
	FusionMode    string           `json:"fusion_mode"`
	ActiveCameras []string         `json:"active_cameras"`
	NumMatches    int              `json:"num_matches"`
}

// FusionEngine fans one tick's frames out to the per-camera pipelines,
// re-identifies persons across cameras, and merges matched pairs' compliance
// state under the configured policies. It never mutates pipeline output.
type FusionEngine struct {
	pipelines []*CameraPipeline
	matcher   *PersonMatcher
	config    FusionConfig

	mu        sync.Mutex
	tickCount int64
}

// NewFusionEngine creates a fusion engine over the given camera pipelines.
func NewFusionEngine(pipelines []*CameraPipeline, matcher *PersonMatcher, config FusionConfig) (*FusionEngine, error) {
	if len(pipelines) == 0 {
		return nil, fmt.Errorf("fusion engine needs at least one camera pipeline")
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &FusionEngine{
		pipelines: pipelines,
		matcher:   matcher,
		config:    config,
	}, nil
}

// Pipelines returns the engine's camera pipelines in configuration order.
func (e *FusionEngine) Pipelines() []*CameraPipeline { return e.pipelines }

// TickCount returns the number of fusion ticks processed.
func (e *FusionEngine) TickCount() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.tickCount
}

// ProcessFrames runs one fusion tick. frames must carry exactly one entry per
// configured camera, in pipeline order; a nil entry marks that camera as
// offline for the tick. Per-camera pipelines run concurrently; any pipeline
// error aborts the tick with no partial result.
func (e *FusionEngine) ProcessFrames(frames []*Frame) (*FusedResult, error) {
	if len(frames) != len(e.pipelines) {
		return nil, fmt.Errorf("expected %d camera frames, got %d", len(e.pipelines), len(frames))
	}

	e.mu.Lock()
	e.tickCount++
	tick := e.tickCount
	e.mu.Unlock()

	records := make([][]PersonRecord, len(frames))
	errs := make([]error, len(frames))
	var wg sync.WaitGroup
	for i, frame := range frames {
		if frame == nil {
			continue
		}
		wg.Add(1)
		go func(i int, frame *Frame) {
			defer wg.Done()
			records[i], errs[i] = e.pipelines[i].ProcessFrame(frame)
		}(i, frame)
	}
	wg.Wait()
	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}

	var active []int
	for i, frame := range frames {
		if frame != nil {
			active = append(active, i)
		}
	}

	var result *FusedResult
	switch len(active) {
	case 0:
		result = &FusedResult{FusionMode: ModeNoCamera}
	case 1:
		i := active[0]
		result = e.passThrough(i, records[i], ModeSingleCamera)
	case 2:
		i, j := active[0], active[1]
		result = e.fusePair(i, records[i], frames[i], j, records[j], frames[j])
	default:
		// N-way fusion is not supported; fall back to the first camera.
		i := active[0]
		opsf("[Fusion] %d cameras active, degrading to %s only", len(active), e.pipelines[i].CameraID)
		result = e.passThrough(i, records[i], ModeMultiCameraPartial)
	}

	for _, i := range active {
		result.ActiveCameras = append(result.ActiveCameras, e.pipelines[i].CameraID)
	}
	e.finalize(result)

	tracef("[Fusion] tick %d mode=%s persons=%d violations=%d matches=%d",
		tick, result.FusionMode, result.Statistics.TotalPersons,
		result.Statistics.Violations, result.NumMatches)

	return result, nil
}

// passThrough wraps one camera's records unmerged.
func (e *FusionEngine) passThrough(cam int, records []PersonRecord, mode string) *FusedResult {
	result := &FusedResult{FusionMode: mode}
	for k := range records {
		rec := records[k]
		fused := FusedPerson{
			FusedID:      fmt.Sprintf("%s_%d", e.pipelines[cam].CameraID, rec.PersonID),
			CameraSource: e.pipelines[cam].CameraID,
			Filtered:     rec.Filtered,
		}
		if cam == 0 {
			fused.Cam1 = &rec
		} else {
			fused.Cam2 = &rec
		}
		result.Persons = append(result.Persons, fused)
	}
	return result
}

// fusePair runs the two-camera primary path: match, merge pairs, carry
// unmatched persons through from both sides.
func (e *FusionEngine) fusePair(i int, cam1 []PersonRecord, frame1 *Frame, j int, cam2 []PersonRecord, frame2 *Frame) *FusedResult {
	matches := e.matcher.MatchPersons(cam1, cam2, frame1, frame2)

	result := &FusedResult{
		FusionMode: ModeDualCamera,
		NumMatches: len(matches),
	}
	result.Statistics.MatchedPersons = len(matches)

	matched1 := make(map[int]bool, len(matches))
	matched2 := make(map[int]bool, len(matches))
	for _, m := range matches {
		matched1[m.Cam1] = true
		matched2[m.Cam2] = true

		r1, r2 := cam1[m.Cam1], cam2[m.Cam2]
		result.Persons = append(result.Persons, FusedPerson{
			FusedID:         fmt.Sprintf("fused_%d_%d", r1.PersonID, r2.PersonID),
			CameraSource:    "fused",
			MatchConfidence: m.Confidence,
			Cam1:            &r1,
			Cam2:            &r2,
			Filtered:        e.mergeStatus(r1.Filtered, r2.Filtered, m.Confidence),
		})
	}

	for k := range cam1 {
		if matched1[k] {
			continue
		}
		rec := cam1[k]
		result.Persons = append(result.Persons, FusedPerson{
			FusedID:      fmt.Sprintf("%s_%d", e.pipelines[i].CameraID, rec.PersonID),
			CameraSource: e.pipelines[i].CameraID,
			Cam1:         &rec,
			Filtered:     rec.Filtered,
		})
		result.Statistics.Cam1Only++
	}
	for k := range cam2 {
		if matched2[k] {
			continue
		}
		rec := cam2[k]
		result.Persons = append(result.Persons, FusedPerson{
			FusedID:      fmt.Sprintf("%s_%d", e.pipelines[j].CameraID, rec.PersonID),
			CameraSource: e.pipelines[j].CameraID,
			Cam2:         &rec,
			Filtered:     rec.Filtered,
		})
		result.Statistics.Cam2Only++
	}

	return result
}

// mergeStatus combines two cameras' filtered statuses for one physical
// person. Detected PPE is the union of both views (an item either camera can
// see is present); missing PPE follows the configured policy; the violation
// verdict follows the configured strategy.
func (e *FusionEngine) mergeStatus(s1, s2 FilteredStatus, matchConfidence float64) FilteredStatus {
	merged := FilteredStatus{
		Confidence:     maxFloat(s1.Confidence, s2.Confidence),
		ViolationRatio: maxFloat(s1.ViolationRatio, s2.ViolationRatio),
		DetectedPPE:    unionStrings(s1.DetectedPPE, s2.DetectedPPE),
	}

	switch e.config.MissingPPEPolicy {
	case MissingPPEOr:
		merged.MissingPPE = unionStrings(s1.MissingPPE, s2.MissingPPE)
	default:
		merged.MissingPPE = intersectStrings(s1.MissingPPE, s2.MissingPPE)
	}

	switch e.config.Strategy {
	case FusionAnd:
		merged.IsViolation = s1.IsViolation && s2.IsViolation
	case FusionWeighted:
		merged.IsViolation = (s1.IsViolation || s2.IsViolation) && matchConfidence > 0.5
	default:
		merged.IsViolation = s1.IsViolation || s2.IsViolation
	}

	return merged
}

// finalize fills the violation list and aggregate statistics.
func (e *FusionEngine) finalize(result *FusedResult) {
	for _, p := range result.Persons {
		if p.Filtered.IsViolation {
			result.Violations = append(result.Violations, p)
		}
	}

	result.Statistics.TotalPersons = len(result.Persons)
	result.Statistics.Violations = len(result.Violations)
	if result.Statistics.TotalPersons == 0 {
		result.Statistics.ComplianceRate = 100
	} else {
		compliant := result.Statistics.TotalPersons - result.Statistics.Violations
		result.Statistics.ComplianceRate = float64(compliant) / float64(result.Statistics.TotalPersons) * 100
	}
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

// unionStrings merges two lists preserving first-appearance order.
func unionStrings(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	var out []string
	for _, s := range a {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	for _, s := range b {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

// intersectStrings keeps items present in both lists, in a's order.
func intersectStrings(a, b []string) []string {
	inB := make(map[string]bool, len(b))
	for _, s := range b {
		inB[s] = true
	}
	var out []string
	for _, s := range a {
		if inB[s] {
			out = append(out, s)
		}
	}
	return out
}
