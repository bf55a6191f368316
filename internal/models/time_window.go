package models

import (
	"fmt"
	"math"
	"time"
)

// TimeWindow is a half-open interval [Start, End).
// Hotels and cars use it as a stay/rental range, buses and trains as a single trip occurrence.
type TimeWindow struct {
	Start time.Time `json:"start" db:"window_start"`
	End   time.Time `json:"end" db:"window_end"`
}

// NewTimeWindow builds a validated window
func NewTimeWindow(start, end time.Time) (TimeWindow, error) {
	w := TimeWindow{Start: start.UTC(), End: end.UTC()}
	if err := w.Validate(); err != nil {
		return TimeWindow{}, err
	}
	return w, nil
}

// Validate checks the Start < End invariant
func (w TimeWindow) Validate() error {
	if w.Start.IsZero() || w.End.IsZero() {
		return fmt.Errorf("%w: start and end are required", ErrInvalidWindow)
	}
	if !w.Start.Before(w.End) {
		return fmt.Errorf("%w: start %s must be before end %s", ErrInvalidWindow,
			w.Start.Format(time.RFC3339), w.End.Format(time.RFC3339))
	}
	return nil
}

// Overlaps reports whether two half-open windows intersect
func (w TimeWindow) Overlaps(other TimeWindow) bool {
	return w.Start.Before(other.End) && other.Start.Before(w.End)
}

// Contains reports whether other lies entirely inside w
func (w TimeWindow) Contains(other TimeWindow) bool {
	return !other.Start.Before(w.Start) && !other.End.After(w.End)
}

// Clip returns the intersection of w and other. The result is only meaningful when they overlap.
func (w TimeWindow) Clip(other TimeWindow) TimeWindow {
	start, end := w.Start, w.End
	if other.Start.After(start) {
		start = other.Start
	}
	if other.End.Before(end) {
		end = other.End
	}
	return TimeWindow{Start: start, End: end}
}

// Duration returns End - Start
func (w TimeWindow) Duration() time.Duration {
	return w.End.Sub(w.Start)
}

// Days returns the number of started 24h periods in the window (minimum 1)
func (w TimeWindow) Days() int {
	days := int(math.Ceil(w.Duration().Hours() / 24))
	if days < 1 {
		return 1
	}
	return days
}

func (w TimeWindow) String() string {
	return fmt.Sprintf("[%s, %s)", w.Start.Format(time.RFC3339), w.End.Format(time.RFC3339))
}
