package scheduler

import (
	"sort"
	"time"
)

// FreeSlots returns the gaps of window not covered by busy, with every gap
// boundary rounded inwards to the granularity grid anchored at window.Start.
// Gaps shorter than one granule are dropped.
func FreeSlots(busy []Interval, window Interval, granularity time.Duration) []Interval {
	if !window.Valid() {
		return nil
	}
	if granularity <= 0 {
		granularity = time.Minute
	}

	clipped := make([]Interval, 0, len(busy))
	for _, iv := range busy {
		if !iv.Overlaps(window) {
			continue
		}
		if iv.Start.Before(window.Start) {
			iv.Start = window.Start
		}
		if iv.End.After(window.End) {
			iv.End = window.End
		}
		clipped = append(clipped, iv)
	}
	sort.Slice(clipped, func(i, j int) bool {
		return clipped[i].Start.Before(clipped[j].Start)
	})

	var free []Interval
	cursor := window.Start
	for _, iv := range clipped {
		if iv.Start.After(cursor) {
			free = appendSnapped(free, Interval{Start: cursor, End: iv.Start}, window.Start, granularity)
		}
		if iv.End.After(cursor) {
			cursor = iv.End
		}
	}
	if window.End.After(cursor) {
		free = appendSnapped(free, Interval{Start: cursor, End: window.End}, window.Start, granularity)
	}
	return free
}

func appendSnapped(dst []Interval, gap Interval, anchor time.Time, granularity time.Duration) []Interval {
	start := ceilTo(gap.Start, anchor, granularity)
	end := floorTo(gap.End, anchor, granularity)
	if end.Sub(start) < granularity {
		return dst
	}
	return append(dst, Interval{Start: start, End: end})
}

func floorTo(t, anchor time.Time, step time.Duration) time.Time {
	offset := t.Sub(anchor)
	return anchor.Add(offset - offset%step)
}

func ceilTo(t, anchor time.Time, step time.Duration) time.Time {
	floored := floorTo(t, anchor, step)
	if floored.Equal(t) {
		return t
	}
	return floored.Add(step)
}
