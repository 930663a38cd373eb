package preview

import (
	"time"

	"github.com/example/room-scheduler/internal/application"
	"github.com/example/room-scheduler/internal/scheduler"
)

// Kind identifies a gesture.
type Kind int

const (
	// KindDrag moves a reservation to another time and/or room.
	KindDrag Kind = iota + 1
	// KindResizeStart moves only the start boundary.
	KindResizeStart
	// KindResizeEnd moves only the end boundary.
	KindResizeEnd
	// KindCreate drafts a new reservation from an empty slot.
	KindCreate
)

func (k Kind) String() string {
	switch k {
	case KindDrag:
		return "drag"
	case KindResizeStart:
		return "resize-start"
	case KindResizeEnd:
		return "resize-end"
	case KindCreate:
		return "create"
	default:
		return "unknown"
	}
}

// Point is a pointer position in timeline pixels. Y grows downwards with time.
type Point struct {
	X float64
	Y float64
}

// Candidate is the reservation shape a gesture would produce.
type Candidate struct {
	RoomID   string
	Interval scheduler.Interval
	// Conflict marks overlap with a cached active reservation of RoomID.
	Conflict    bool
	ConflictIDs []string
}

// Details carries the descriptive fields of a drafted reservation.
type Details struct {
	Subject     string
	Criticality application.Criticality
}

// Draft is a new reservation that has not been submitted yet.
type Draft struct {
	RoomID   string
	Interval scheduler.Interval
	Details  Details
}

// Outcome describes what a released gesture did.
type Outcome int

const (
	// OutcomeClick means the pointer never moved past the click threshold.
	OutcomeClick Outcome = iota + 1
	// OutcomeUnchanged means the final candidate equals the origin.
	OutcomeUnchanged
	// OutcomeRejected means the candidate overlapped a cached reservation.
	OutcomeRejected
	// OutcomeCommitted means the change was applied locally and sent to the server.
	OutcomeCommitted
)

func (o Outcome) String() string {
	switch o {
	case OutcomeClick:
		return "click"
	case OutcomeUnchanged:
		return "unchanged"
	case OutcomeRejected:
		return "rejected"
	case OutcomeCommitted:
		return "committed"
	default:
		return "unknown"
	}
}

// Result is returned by Release.
type Result struct {
	Outcome   Outcome
	Kind      Kind
	Candidate Candidate
	// ReservationID is the reservation the gesture acted on. Empty for create.
	ReservationID string
	// Draft is set for a create gesture released as a click, so the caller can
	// open a form and later call SubmitDraft.
	Draft *Draft
	// Commit tracks the server round trip when Outcome is OutcomeCommitted.
	Commit *Commit
}

// gesture is the state of the active gesture.
type gesture struct {
	kind           Kind
	reservationID  string
	originRoomID   string
	originInterval scheduler.Interval
	pointerOrigin  Point
	// travelled is the largest pointer distance from the origin seen so far.
	travelled float64
	details   Details
	candidate Candidate
}

func (g *gesture) unchanged() bool {
	return g.candidate.RoomID == g.originRoomID && g.candidate.Interval.Equal(g.originInterval)
}

// snapDelta converts a vertical displacement into a duration rounded to the
// nearest multiple of granularity.
func snapDelta(dy, pixelsPerMinute float64, granularity time.Duration) time.Duration {
	minutes := dy / pixelsPerMinute
	step := granularity.Minutes()
	steps := minutes / step
	var rounded int64
	if steps >= 0 {
		rounded = int64(steps + 0.5)
	} else {
		rounded = -int64(-steps + 0.5)
	}
	return time.Duration(rounded) * granularity
}

// clampShift moves iv inside bounds without changing its duration. Intervals
// longer than bounds are aligned with bounds.Start.
func clampShift(iv, bounds scheduler.Interval) scheduler.Interval {
	if iv.End.After(bounds.End) {
		iv = iv.Shift(bounds.End.Sub(iv.End))
	}
	if iv.Start.Before(bounds.Start) {
		iv = iv.Shift(bounds.Start.Sub(iv.Start))
	}
	return iv
}

// clampStart returns start limited to [bounds.Start, end-granularity]. The
// upper limit wins so the interval never becomes empty.
func clampStart(start, end time.Time, bounds scheduler.Interval, granularity time.Duration) time.Time {
	if start.Before(bounds.Start) {
		start = bounds.Start
	}
	if latest := end.Add(-granularity); start.After(latest) {
		start = latest
	}
	return start
}

// clampEnd returns end limited to [start+granularity, bounds.End]. The lower
// limit wins so the interval never becomes empty.
func clampEnd(start, end time.Time, bounds scheduler.Interval, granularity time.Duration) time.Time {
	if end.After(bounds.End) {
		end = bounds.End
	}
	if earliest := start.Add(granularity); end.Before(earliest) {
		end = earliest
	}
	return end
}

// floorToGrid rounds t down to the granularity grid anchored at anchor.
func floorToGrid(t, anchor time.Time, granularity time.Duration) time.Time {
	offset := t.Sub(anchor)
	rem := offset % granularity
	if rem < 0 {
		rem += granularity
	}
	return t.Add(-rem)
}

// roundToGrid rounds t to the nearest point of the granularity grid anchored
// at anchor. Ties round up.
func roundToGrid(t, anchor time.Time, granularity time.Duration) time.Time {
	floor := floorToGrid(t, anchor, granularity)
	if t.Sub(floor)*2 >= granularity {
		return floor.Add(granularity)
	}
	return floor
}
