package stream

import (
	"strings"
	"time"

	"github.com/jailtonjunior94/streamflow/internal/domain"
)

// Aggregator is a pure function from an event list to a numeric value.
type Aggregator func(events []domain.Event) float64

// Count returns the number of events.
func Count() Aggregator {
	return func(events []domain.Event) float64 {
		return float64(len(events))
	}
}

// Sum sums the numeric value at a dotted data path, skipping events where
// the path is missing or non-numeric.
func Sum(path string) Aggregator {
	segments := strings.Split(path, ".")
	return func(events []domain.Event) float64 {
		var total float64
		for i := range events {
			if v, ok := dataNumber(events[i].Data, segments); ok {
				total += v
			}
		}
		return total
	}
}

// Avg averages the numeric value at a dotted data path over the events that
// carry it. Empty input yields zero.
func Avg(path string) Aggregator {
	segments := strings.Split(path, ".")
	return func(events []domain.Event) float64 {
		var total float64
		var n int
		for i := range events {
			if v, ok := dataNumber(events[i].Data, segments); ok {
				total += v
				n++
			}
		}
		if n == 0 {
			return 0
		}
		return total / float64(n)
	}
}

// Min returns the smallest value at a dotted data path; zero when absent.
func Min(path string) Aggregator {
	segments := strings.Split(path, ".")
	return func(events []domain.Event) float64 {
		var best float64
		var found bool
		for i := range events {
			if v, ok := dataNumber(events[i].Data, segments); ok {
				if !found || v < best {
					best, found = v, true
				}
			}
		}
		return best
	}
}

// Max returns the largest value at a dotted data path; zero when absent.
func Max(path string) Aggregator {
	segments := strings.Split(path, ".")
	return func(events []domain.Event) float64 {
		var best float64
		var found bool
		for i := range events {
			if v, ok := dataNumber(events[i].Data, segments); ok {
				if !found || v > best {
					best, found = v, true
				}
			}
		}
		return best
	}
}

// RatePerMinute converts an event count into a per-minute rate over the
// window span.
func RatePerMinute(span time.Duration) Aggregator {
	return func(events []domain.Event) float64 {
		minutes := span.Minutes()
		if minutes <= 0 {
			return 0
		}
		return float64(len(events)) / minutes
	}
}

func dataNumber(data map[string]any, path []string) (float64, bool) {
	var current any = data
	for _, seg := range path {
		obj, ok := current.(map[string]any)
		if !ok {
			return 0, false
		}
		current, ok = obj[seg]
		if !ok {
			return 0, false
		}
	}

	switch n := current.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}
