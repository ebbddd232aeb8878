// Package interval implements set operations over half-open time windows
// [Start, End). Callers guarantee End > Start; nothing here validates it.
package interval

import (
	"sort"
	"time"
)

type Interval struct {
	Start time.Time
	End   time.Time
}

func New(start, end time.Time) Interval {
	return Interval{Start: start, End: end}
}

// Overlaps reports whether a and b share any instant. Touching intervals
// (a.End == b.Start) do not overlap.
func Overlaps(a, b Interval) bool {
	return a.Start.Before(b.End) && b.Start.Before(a.End)
}

// Contains reports whether outer fully covers inner.
func Contains(outer, inner Interval) bool {
	return !inner.Start.Before(outer.Start) && !inner.End.After(outer.End)
}

func (iv Interval) Duration() time.Duration {
	return iv.End.Sub(iv.Start)
}

func DurationMinutes(iv Interval) int {
	return int(iv.Duration() / time.Minute)
}

// Subtract removes busy from free. The result has zero, one or two intervals.
func Subtract(free, busy Interval) []Interval {
	if !Overlaps(free, busy) {
		return []Interval{free}
	}
	var out []Interval
	if free.Start.Before(busy.Start) {
		out = append(out, Interval{Start: free.Start, End: busy.Start})
	}
	if busy.End.Before(free.End) {
		out = append(out, Interval{Start: busy.End, End: free.End})
	}
	return out
}

// SubtractAll removes every busy interval from free. The result is sorted by
// start and does not depend on the order of busy.
func SubtractAll(free Interval, busy []Interval) []Interval {
	remaining := []Interval{free}
	for _, b := range busy {
		next := make([]Interval, 0, len(remaining)+1)
		for _, r := range remaining {
			next = append(next, Subtract(r, b)...)
		}
		remaining = next
		if len(remaining) == 0 {
			break
		}
	}
	sort.Slice(remaining, func(i, j int) bool {
		return remaining[i].Start.Before(remaining[j].Start)
	})
	return remaining
}

// AtLeast keeps the intervals that can hold a window of length d.
func AtLeast(ivs []Interval, d time.Duration) []Interval {
	var out []Interval
	for _, iv := range ivs {
		if iv.Duration() >= d {
			out = append(out, iv)
		}
	}
	return out
}

// Starts returns candidate start times inside iv, stepping by stride, where a
// window of length d still fits. Starts before notBefore are skipped.
func Starts(iv Interval, d, stride time.Duration, notBefore time.Time) []time.Time {
	if d <= 0 || stride <= 0 {
		return nil
	}
	var out []time.Time
	for t := iv.Start; !t.Add(d).After(iv.End); t = t.Add(stride) {
		if t.Before(notBefore) {
			continue
		}
		out = append(out, t)
	}
	return out
}
