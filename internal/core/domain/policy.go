package domain

import "time"

const (
	DefaultMaxAccuracyMeters   = 50.0
	DefaultDuplicateEpsilonDeg = 1e-6
)

// AccuracyPolicy controls which fixes are trusted enough to keep.
type AccuracyPolicy struct {
	MaxAccuracyMeters   float64 `json:"max_accuracy_meters"`
	AllowDegraded       bool    `json:"allow_degraded"`
	DuplicateEpsilonDeg float64 `json:"duplicate_epsilon_deg"`
}

// DefaultPolicy rejects anything coarser than satellite grade.
func DefaultPolicy() AccuracyPolicy {
	return AccuracyPolicy{
		MaxAccuracyMeters:   DefaultMaxAccuracyMeters,
		DuplicateEpsilonDeg: DefaultDuplicateEpsilonDeg,
	}
}

// WithDegraded returns a copy of p that accepts coarse fixes as flagged network fixes.
func (p AccuracyPolicy) WithDegraded() AccuracyPolicy {
	p.AllowDegraded = true
	return p
}

// SampleOptions configures a positioning request.
type SampleOptions struct {
	HighAccuracy bool          `json:"high_accuracy"`
	Timeout      time.Duration `json:"timeout"`
	MaxCacheAge  time.Duration `json:"max_cache_age"` // 0 forbids cached fixes
}

// DefaultSampleOptions mirrors the dashboard's scan-time request.
func DefaultSampleOptions() SampleOptions {
	return SampleOptions{
		HighAccuracy: true,
		Timeout:      15 * time.Second,
		MaxCacheAge:  0,
	}
}
