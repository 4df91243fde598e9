package alarm

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Safety envelope for operator-configured EC thresholds, in mS/cm.
const (
	SafetyMin = 0.5
	SafetyMax = 3.0
)

// DefaultRange is the factory EC threshold band.
var DefaultRange = Range{Min: 1.2, Max: 2.0}

// Range is the acceptable EC band. Values equal to Min or Max are normal.
type Range struct {
	Min float64 `json:"min" yaml:"min"`
	Max float64 `json:"max" yaml:"max"`
}

// Kind identifies which threshold rule rejected a range.
type Kind string

const (
	KindNonNumeric        Kind = "non-numeric"
	KindMinNotLessThanMax Kind = "min-not-less-than-max"
	KindOutOfSafetyBounds Kind = "out-of-safety-bounds"
)

type ValidationError struct {
	Kind    Kind
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Validate checks, in order: both bounds are finite numbers, Min < Max, and
// both bounds lie in [SafetyMin, SafetyMax].
func (r Range) Validate() error {
	if !finite(r.Min) || !finite(r.Max) {
		return &ValidationError{
			Kind:    KindNonNumeric,
			Message: "enter valid numbers for both minimum and maximum values",
		}
	}
	if r.Min >= r.Max {
		return &ValidationError{
			Kind:    KindMinNotLessThanMax,
			Message: "minimum value must be less than maximum value",
		}
	}
	if r.Min < SafetyMin || r.Max > SafetyMax {
		return &ValidationError{
			Kind:    KindOutOfSafetyBounds,
			Message: fmt.Sprintf("values must be between %.1f and %.1f mS/cm for safety", SafetyMin, SafetyMax),
		}
	}
	return nil
}

func (r Range) String() string {
	return strconv.FormatFloat(r.Min, 'f', -1, 64) + " - " + strconv.FormatFloat(r.Max, 'f', -1, 64)
}

// ParseRange parses operator text input and validates the result.
func ParseRange(minText, maxText string) (Range, error) {
	lo, errLo := parseBound(minText)
	hi, errHi := parseBound(maxText)
	if errLo != nil || errHi != nil {
		return Range{}, &ValidationError{
			Kind:    KindNonNumeric,
			Message: "enter valid numbers for both minimum and maximum values",
		}
	}
	r := Range{Min: lo, Max: hi}
	if err := r.Validate(); err != nil {
		return Range{}, err
	}
	return r, nil
}

func parseBound(s string) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, err
	}
	if !finite(v) {
		return 0, fmt.Errorf("not finite: %q", s)
	}
	return v, nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
