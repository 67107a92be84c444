package vision

import (
	"fmt"
	"math"
	"sort"
	"sync"
)

// TemporalFilterConfig holds configuration for the temporal filter.
type TemporalFilterConfig struct {
	// BufferSize is the number of per-frame observations kept per identity.
	BufferSize int

	// ViolationThreshold is the violation ratio over the buffer at which a
	// person flips to violating, in [0,1].
	ViolationThreshold float64

	// PPESummaryWindow is the number of most recent observations used to
	// summarise detected/missing PPE items. It is a second, shorter window
	// nested inside BufferSize.
	PPESummaryWindow int

	// PPESummaryTopN caps how many distinct items the summary reports.
	PPESummaryTopN int
}

// DefaultTemporalFilterConfig returns default temporal filter configuration.
func DefaultTemporalFilterConfig() TemporalFilterConfig {
	return TemporalFilterConfig{
		BufferSize:         30,
		ViolationThreshold: 0.7,
		PPESummaryWindow:   10,
		PPESummaryTopN:     10,
	}
}

// Observation is one frame's compliance signal for one identity.
type Observation struct {
	Compliant bool
	Detected  []string
	Missing   []string
}

// FilterStatistics aggregates the filter's current per-person verdicts.
type FilterStatistics struct {
	TotalTracked  int     `json:"total_tracked"`
	Violations    int     `json:"violations"`
	Compliant     int     `json:"compliant"`
	ViolationRate float64 `json:"violation_rate"`
}

// TemporalFilter converts noisy per-frame compliance signals into debounced
// violation verdicts. It keeps one fixed-size rolling history per tracked
// identity; requiring a sustained violation ratio over the window suppresses
// single-frame flicker without a per-person state machine.
type TemporalFilter struct {
	bufferSize       int
	ppeSummaryWindow int
	ppeSummaryTopN   int

	violationThreshold float64

	buffers map[int64][]Observation
	status  map[int64]FilteredStatus

	mu sync.Mutex
}

// NewTemporalFilter creates a temporal filter with the given configuration.
func NewTemporalFilter(config TemporalFilterConfig) *TemporalFilter {
	return &TemporalFilter{
		bufferSize:         config.BufferSize,
		ppeSummaryWindow:   config.PPESummaryWindow,
		ppeSummaryTopN:     config.PPESummaryTopN,
		violationThreshold: config.ViolationThreshold,
		buffers:            make(map[int64][]Observation),
		status:             make(map[int64]FilteredStatus),
	}
}

// Update appends one observation to the identity's buffer (creating it on
// first sight, silently evicting the oldest entry on overflow) and returns
// the recomputed filtered status.
//
// Confidence is buffer fullness times |ratio-0.5|*2: a freshly seen person
// starts at low confidence regardless of the verdict.
func (f *TemporalFilter) Update(personID int64, compliant bool, detected, missing []string) FilteredStatus {
	f.mu.Lock()
	defer f.mu.Unlock()

	buf := append(f.buffers[personID], Observation{
		Compliant: compliant,
		Detected:  detected,
		Missing:   missing,
	})
	if len(buf) > f.bufferSize {
		buf = buf[len(buf)-f.bufferSize:]
	}
	f.buffers[personID] = buf

	violations := 0
	for _, obs := range buf {
		if !obs.Compliant {
			violations++
		}
	}
	ratio := float64(violations) / float64(len(buf))
	fullness := float64(len(buf)) / float64(f.bufferSize)

	// The verdict counts violations against the full window capacity, not
	// the observations seen so far. For a full buffer this is exactly
	// ratio >= threshold; for a part-filled buffer it is stricter, so one
	// bad frame on a newly seen person can never flip the verdict.
	isViolation := float64(violations)/float64(f.bufferSize) >= f.violationThreshold

	recent := buf
	if len(recent) > f.ppeSummaryWindow {
		recent = recent[len(recent)-f.ppeSummaryWindow:]
	}
	var allDetected, allMissing []string
	for _, obs := range recent {
		allDetected = append(allDetected, obs.Detected...)
		allMissing = append(allMissing, obs.Missing...)
	}

	status := FilteredStatus{
		IsViolation:    isViolation,
		Confidence:     fullness * math.Abs(ratio-0.5) * 2,
		ViolationRatio: ratio,
		DetectedPPE:    mostCommon(allDetected, f.ppeSummaryTopN),
		MissingPPE:     mostCommon(allMissing, f.ppeSummaryTopN),
	}
	f.status[personID] = status

	return status
}

// GetStatus returns the current filtered status for a person, or false if
// the person is not tracked.
func (f *TemporalFilter) GetStatus(personID int64) (FilteredStatus, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.status[personID]
	return s, ok
}

// PersonHistory returns a copy of a person's buffered observations, oldest
// first. Unknown ids yield nil.
func (f *TemporalFilter) PersonHistory(personID int64) []Observation {
	f.mu.Lock()
	defer f.mu.Unlock()
	buf := f.buffers[personID]
	if buf == nil {
		return nil
	}
	out := make([]Observation, len(buf))
	copy(out, buf)
	return out
}

// RemovePerson forgets one identity's buffer and status.
func (f *TemporalFilter) RemovePerson(personID int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.buffers, personID)
	delete(f.status, personID)
}

// CleanupOldTracks removes every identity not present in activeIDs. Called
// once per tick with the tracker's reported ids so departed people are
// forgotten rather than averaged against phantom history.
func (f *TemporalFilter) CleanupOldTracks(activeIDs []int64) {
	f.mu.Lock()
	defer f.mu.Unlock()

	active := make(map[int64]bool, len(activeIDs))
	for _, id := range activeIDs {
		active[id] = true
	}
	for id := range f.buffers {
		if !active[id] {
			delete(f.buffers, id)
			delete(f.status, id)
		}
	}
}

// SetViolationThreshold updates the violation threshold. Values outside
// [0,1] are rejected and the previous value is retained.
func (f *TemporalFilter) SetViolationThreshold(threshold float64) error {
	if threshold < 0 || threshold > 1 {
		return fmt.Errorf("violation threshold must be between 0 and 1, got %v", threshold)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.violationThreshold = threshold
	return nil
}

// ViolationThreshold returns the current violation threshold.
func (f *TemporalFilter) ViolationThreshold() float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.violationThreshold
}

// Statistics returns aggregate counts over all currently tracked identities.
func (f *TemporalFilter) Statistics() FilterStatistics {
	f.mu.Lock()
	defer f.mu.Unlock()

	stats := FilterStatistics{TotalTracked: len(f.status)}
	for _, s := range f.status {
		if s.IsViolation {
			stats.Violations++
		}
	}
	stats.Compliant = stats.TotalTracked - stats.Violations
	if stats.TotalTracked > 0 {
		stats.ViolationRate = float64(stats.Violations) / float64(stats.TotalTracked)
	}
	return stats
}

// Reset clears all buffers and statuses.
func (f *TemporalFilter) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.buffers = make(map[int64][]Observation)
	f.status = make(map[int64]FilteredStatus)
}

// mostCommon returns up to topN distinct items ordered by descending
// frequency; ties keep first-appearance order.
func mostCommon(items []string, topN int) []string {
	if len(items) == 0 {
		return nil
	}

	counts := make(map[string]int)
	order := make(map[string]int)
	var distinct []string
	for i, item := range items {
		if _, seen := counts[item]; !seen {
			order[item] = i
			distinct = append(distinct, item)
		}
		counts[item]++
	}

	sort.SliceStable(distinct, func(a, b int) bool {
		if counts[distinct[a]] != counts[distinct[b]] {
			return counts[distinct[a]] > counts[distinct[b]]
		}
		return order[distinct[a]] < order[distinct[b]]
	})

	if len(distinct) > topN {
		distinct = distinct[:topN]
	}
	return distinct
}
