// Package clock implements the fixed retry ladder and civil-timezone
// arithmetic the scheduler and status ingress depend on.
package clock

import "time"

// DelayKind classifies how a ladder step computes its scheduled instant.
type DelayKind string

const (
	DelayImmediate        DelayKind = "immediate"
	DelayFixed             DelayKind = "delay"
	DelayNextOccurrenceHour DelayKind = "next-occurrence-of-hour"
)

type step struct {
	kind DelayKind
	hour int // only meaningful for DelayNextOccurrenceHour
}

// ladder is the fixed retry table, indexed by retry attempt i.
var ladder = []step{
	{kind: DelayImmediate},
	{kind: DelayFixed},
	{kind: DelayImmediate},
	{kind: DelayNextOccurrenceHour, hour: 9},
	{kind: DelayImmediate},
	{kind: DelayNextOccurrenceHour, hour: 14},
	{kind: DelayImmediate},
	{kind: DelayNextOccurrenceHour, hour: 19},
	{kind: DelayImmediate},
}

const fixedDelay = time.Hour

// Clock computes retry instants anchored to a fixed civil time zone.
type Clock struct {
	loc *time.Location
}

// New constructs a Clock for the given IANA zone name.
func New(zoneName string) (*Clock, error) {
	loc, err := time.LoadLocation(zoneName)
	if err != nil {
		return nil, err
	}
	return &Clock{loc: loc}, nil
}

// Next returns the delay kind and scheduled instant for retry attempt i,
// anchored at now. i is clamped to the last ladder entry for indices beyond
// the table (callers are expected to check MAX_ATTEMPTS before calling).
func (c *Clock) Next(i int, now time.Time) (DelayKind, time.Time) {
	if i < 0 {
		i = 0
	}
	if i >= len(ladder) {
		i = len(ladder) - 1
	}
	s := ladder[i]

	switch s.kind {
	case DelayFixed:
		return DelayFixed, now.Add(fixedDelay)
	case DelayNextOccurrenceHour:
		return DelayNextOccurrenceHour, c.NextOccurrenceOfHour(s.hour, now)
	default:
		return DelayImmediate, now
	}
}

// ForceImmediate bypasses the table, for callers re-attempting after a
// transient infrastructure error.
func (c *Clock) ForceImmediate(now time.Time) (DelayKind, time.Time) {
	return DelayImmediate, now
}

// NextOccurrenceOfHour returns the smallest instant >= now whose wall-clock
// hour in the civil zone equals hour and whose minute is 0. If now is
// already at-or-past hour:00 today, the result is hour:00 the following day
// (strictly-after semantics).
func (c *Clock) NextOccurrenceOfHour(hour int, now time.Time) time.Time {
	local := now.In(c.loc)
	candidate := time.Date(local.Year(), local.Month(), local.Day(), hour, 0, 0, 0, c.loc)
	if !candidate.After(local) {
		candidate = candidate.AddDate(0, 0, 1)
	}
	return candidate.UTC()
}

// IsWithinOperatingHours reports whether now falls within [startHour,
// endHour) civil time. Neither the ladder nor the scheduler calls it: the
// ladder's next-occurrence-of-hour anchors (09:00, 14:00, 19:00) already fall
// inside the 09–20 retry window, and already-eligible queue entries are never
// suppressed.
func (c *Clock) IsWithinOperatingHours(now time.Time, startHour, endHour int) bool {
	local := now.In(c.loc)
	minuteOfDay := local.Hour()*60 + local.Minute()
	start := startHour * 60
	end := endHour * 60
	if end <= start {
		return minuteOfDay >= start || minuteOfDay < end
	}
	return minuteOfDay >= start && minuteOfDay < end
}
