// Package alarm classifies EC readings against the operator threshold range
// and tracks acknowledgment of the resulting alarm.
package alarm

type Status string

const (
	StatusNormal Status = "normal"
	StatusLow    Status = "low"
	StatusHigh   Status = "high"
)

type Direction string

const (
	DirectionNone  Direction = "none"
	DirectionBelow Direction = "below"
	DirectionAbove Direction = "above"
)

// State names the position in the EC alarm state machine.
type State string

const (
	StateNormal  State = "NORMAL"
	StateUnacked State = "ALARM_UNACKED"
	StateAcked   State = "ALARM_ACKED"
)

type Classification struct {
	Status  Status `json:"status"`
	IsAlarm bool   `json:"isAlarm"`
}

func (c Classification) Direction() Direction {
	switch c.Status {
	case StatusLow:
		return DirectionBelow
	case StatusHigh:
		return DirectionAbove
	default:
		return DirectionNone
	}
}

// Classify reports whether ec lies outside r. The closed interval [Min, Max] is normal.
func Classify(ec float64, r Range) Classification {
	switch {
	case ec < r.Min:
		return Classification{Status: StatusLow, IsAlarm: true}
	case ec > r.Max:
		return Classification{Status: StatusHigh, IsAlarm: true}
	default:
		return Classification{Status: StatusNormal}
	}
}

// AlarmState is the derived alarm view; only Acknowledged is stored.
type AlarmState struct {
	IsAlarm      bool      `json:"isAlarm"`
	Direction    Direction `json:"direction"`
	Acknowledged bool      `json:"acknowledged"`
}

func (s AlarmState) Name() State {
	switch {
	case !s.IsAlarm:
		return StateNormal
	case s.Acknowledged:
		return StateAcked
	default:
		return StateUnacked
	}
}

// Evaluator holds the active threshold range and the acknowledgment flag.
// It is not safe for concurrent use.
type Evaluator struct {
	rng          Range
	def          Range
	ec           float64
	observed     bool
	current      Classification
	acknowledged bool
}

// NewEvaluator validates r and returns an evaluator with no reading observed
// yet. r also becomes the range restored by ResetRange.
func NewEvaluator(r Range) (*Evaluator, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return &Evaluator{rng: r, def: r, current: Classification{Status: StatusNormal}}, nil
}

func (e *Evaluator) Range() Range {
	return e.rng
}

// Classification returns the status of the last observed reading.
func (e *Evaluator) Classification() Classification {
	return e.current
}

func (e *Evaluator) State() AlarmState {
	return AlarmState{
		IsAlarm:      e.current.IsAlarm,
		Direction:    e.current.Direction(),
		Acknowledged: e.acknowledged,
	}
}

// Observe classifies ec against the active range. Leaving the alarm
// condition clears the acknowledgment.
func (e *Evaluator) Observe(ec float64) AlarmState {
	e.ec = ec
	e.observed = true
	e.reclassify()
	return e.State()
}

// Acknowledge marks the active alarm as acknowledged and reports whether
// anything changed. Outside an alarm it does nothing.
func (e *Evaluator) Acknowledge() bool {
	if !e.current.IsAlarm || e.acknowledged {
		return false
	}
	e.acknowledged = true
	return true
}

// UpdateRange replaces the active range, clears the acknowledgment and
// reclassifies the last reading. An invalid range leaves the evaluator untouched.
func (e *Evaluator) UpdateRange(r Range) error {
	if err := r.Validate(); err != nil {
		return err
	}
	e.rng = r
	e.acknowledged = false
	e.reclassify()
	return nil
}

// ResetRange restores the range the evaluator was created with.
func (e *Evaluator) ResetRange() error {
	return e.UpdateRange(e.def)
}

func (e *Evaluator) reclassify() {
	if !e.observed {
		return
	}
	e.current = Classify(e.ec, e.rng)
	if !e.current.IsAlarm {
		e.acknowledged = false
	}
}
