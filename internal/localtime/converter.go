// Package localtime translates between workspace wall-clock values and
// absolute instants.
//
// Wall-clock times that do not exist in the workspace timezone (the hour
// skipped when clocks spring forward) are rejected. Wall-clock times that
// occur twice (the hour repeated when clocks fall back) resolve to the first
// occurrence, which is the one with the larger UTC offset.
package localtime

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
	_ "time/tzdata"
)

const (
	// DateLayout is the calendar date format accepted and produced by the converter.
	DateLayout = "2006-01-02"
	// ClockLayout is the time-of-day format accepted and produced by the converter.
	ClockLayout = "15:04"
)

var (
	// ErrUnknownTimezone is returned for identifiers missing from the tz database.
	ErrUnknownTimezone = errors.New("localtime: unknown timezone")
	// ErrInvalidDate is returned for dates that are not YYYY-MM-DD.
	ErrInvalidDate = errors.New("localtime: invalid date")
	// ErrInvalidClock is returned for times of day that are not HH:MM.
	ErrInvalidClock = errors.New("localtime: invalid time of day")
	// ErrNonexistentTime is returned for wall-clock times skipped by a DST transition.
	ErrNonexistentTime = errors.New("localtime: time does not exist in timezone")
	// ErrInvalidWindow is returned for schedule windows outside 0 <= start < end <= 24.
	ErrInvalidWindow = errors.New("localtime: invalid schedule window")
)

// Converter converts wall-clock values of one timezone.
type Converter struct {
	loc *time.Location
}

// NewConverter loads tz from the tz database.
func NewConverter(tz string) (*Converter, error) {
	name := strings.TrimSpace(tz)
	if name == "" {
		return nil, fmt.Errorf("%w: empty identifier", ErrUnknownTimezone)
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTimezone, name)
	}
	return &Converter{loc: loc}, nil
}

// NewConverterForLocation wraps an already loaded location.
func NewConverterForLocation(loc *time.Location) *Converter {
	if loc == nil {
		loc = time.UTC
	}
	return &Converter{loc: loc}
}

// Location returns the converter's timezone.
func (c *Converter) Location() *time.Location {
	return c.loc
}

// ToInstant converts a local date and time of day to a UTC instant.
func (c *Converter) ToInstant(date, clock string) (time.Time, error) {
	wall, err := parseWall(date, clock)
	if err != nil {
		return time.Time{}, err
	}
	candidates := c.resolve(wall)
	if len(candidates) == 0 {
		return time.Time{}, fmt.Errorf("%w: %s %s in %s", ErrNonexistentTime, date, clock, c.loc)
	}
	return candidates[0], nil
}

// FromInstant renders t as a local date and time of day.
func (c *Converter) FromInstant(t time.Time) (date, clock string) {
	local := t.In(c.loc)
	return local.Format(DateLayout), local.Format(ClockLayout)
}

// DayKey returns the local calendar date containing t, used to group bookings
// by visible day.
func (c *Converter) DayKey(t time.Time) string {
	return t.In(c.loc).Format(DateLayout)
}

// StartOfDay returns the instant of the first minute of the local date.
func (c *Converter) StartOfDay(date string) (time.Time, error) {
	bounds, err := c.WindowBounds(date, Window{StartHour: 0, EndHour: 24})
	if err != nil {
		return time.Time{}, err
	}
	return bounds.Start, nil
}

// WindowBounds returns the instants at which the schedule window opens and
// closes on the local date. Hour 24 denotes the following local midnight.
// A boundary that falls inside a DST gap moves forward past the gap.
func (c *Converter) WindowBounds(date string, window Window) (Bounds, error) {
	if err := window.Validate(); err != nil {
		return Bounds{}, err
	}
	day, err := time.Parse(DateLayout, strings.TrimSpace(date))
	if err != nil {
		return Bounds{}, fmt.Errorf("%w: %q", ErrInvalidDate, date)
	}
	start := c.lenient(day.Add(time.Duration(window.StartHour) * time.Hour))
	end := c.lenient(day.Add(time.Duration(window.EndHour) * time.Hour))
	return Bounds{Start: start, End: end}, nil
}

// Bounds is a pair of UTC instants.
type Bounds struct {
	Start time.Time
	End   time.Time
}

// resolve returns every instant whose local wall clock equals wall, earliest first.
// wall carries the wall-clock fields in UTC.
func (c *Converter) resolve(wall time.Time) []time.Time {
	seen := make(map[int]struct{}, 2)
	var out []time.Time
	for _, shift := range []time.Duration{-24 * time.Hour, 0, 24 * time.Hour} {
		_, offset := wall.Add(shift).In(c.loc).Zone()
		if _, ok := seen[offset]; ok {
			continue
		}
		seen[offset] = struct{}{}
		instant := wall.Add(-time.Duration(offset) * time.Second)
		if sameWall(instant.In(c.loc), wall) {
			out = append(out, instant.UTC())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}

func (c *Converter) lenient(wall time.Time) time.Time {
	if candidates := c.resolve(wall); len(candidates) > 0 {
		return candidates[0]
	}
	// Inside a gap: apply the offset in force before the transition, which
	// lands the same distance past it.
	_, offset := wall.Add(-24 * time.Hour).In(c.loc).Zone()
	return wall.Add(-time.Duration(offset) * time.Second).UTC()
}

func parseWall(date, clock string) (time.Time, error) {
	day, err := time.Parse(DateLayout, strings.TrimSpace(date))
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidDate, date)
	}
	tod, err := time.Parse(ClockLayout, strings.TrimSpace(clock))
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidClock, clock)
	}
	return time.Date(day.Year(), day.Month(), day.Day(), tod.Hour(), tod.Minute(), 0, 0, time.UTC), nil
}

func sameWall(local, wall time.Time) bool {
	y1, m1, d1 := local.Date()
	y2, m2, d2 := wall.Date()
	return y1 == y2 && m1 == m2 && d1 == d2 &&
		local.Hour() == wall.Hour() && local.Minute() == wall.Minute() && local.Second() == wall.Second()
}
