package similarity

import (
	"errors"
	"fmt"
	"strings"
)

// MatchLevel is the discrete tier a focused similarity maps to.
type MatchLevel int

const (
	Low MatchLevel = iota
	Medium
	High
)

// String returns "Low", "Medium" or "High".
func (l MatchLevel) String() string {
	switch l {
	case Low:
		return "Low"
	case Medium:
		return "Medium"
	case High:
		return "High"
	default:
		return fmt.Sprintf("MatchLevel(%d)", int(l))
	}
}

// MarshalText implements [encoding.TextMarshaler].
func (l MatchLevel) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

// UnmarshalText implements [encoding.TextUnmarshaler]. Matching is
// case-insensitive.
func (l *MatchLevel) UnmarshalText(b []byte) error {
	switch strings.ToLower(string(b)) {
	case "low":
		*l = Low
	case "medium":
		*l = Medium
	case "high":
		*l = High
	default:
		return fmt.Errorf("similarity: unknown match level %q", b)
	}
	return nil
}

// Thresholds are the tier boundaries on the focused similarity. Both
// comparisons are strict: a score exactly equal to High is Medium.
type Thresholds struct {
	High   float64 `yaml:"high" json:"high"`
	Medium float64 `yaml:"medium" json:"medium"`
}

// DefaultThresholds returns High 0.7 and Medium 0.5.
func DefaultThresholds() Thresholds {
	return Thresholds{High: 0.7, Medium: 0.5}
}

// Validate checks that both thresholds lie in [-1, 1] and High > Medium.
func (t Thresholds) Validate() error {
	var errs []error
	if t.High < -1 || t.High > 1 {
		errs = append(errs, fmt.Errorf("high threshold %v outside [-1,1]", t.High))
	}
	if t.Medium < -1 || t.Medium > 1 {
		errs = append(errs, fmt.Errorf("medium threshold %v outside [-1,1]", t.Medium))
	}
	if t.High <= t.Medium {
		errs = append(errs, fmt.Errorf("high threshold %v must be greater than medium %v", t.High, t.Medium))
	}
	return errors.Join(errs...)
}

// Level maps a focused similarity to its tier.
func (t Thresholds) Level(focused float64) MatchLevel {
	switch {
	case focused > t.High:
		return High
	case focused > t.Medium:
		return Medium
	default:
		return Low
	}
}
