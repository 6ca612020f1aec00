package protocol

import "time"

// Day indexes simulated days from the run epoch, starting at 0.
type Day int

// Tick identifies one broadcast slot within one simulated day. Ticks order
// lexicographically: all slots of day d precede slot 0 of day d+1.
type Tick struct {
	Day  Day
	Slot int
}

func (t Tick) IsAfter(o Tick) bool {
	return t.Day > o.Day || (t.Day == o.Day && t.Slot > o.Slot)
}

// Advance returns the next tick, rolling over to the next day after the
// last slot.
func (t Tick) Advance(slotsPerDay int) Tick {
	if t.Slot+1 >= slotsPerDay {
		return Tick{t.Day + 1, 0}
	}
	return Tick{t.Day, t.Slot + 1}
}

// Clock converts between simulated time and (day, slot) ticks. The zero
// slot of day 0 starts at Epoch.
type Clock struct {
	Epoch       time.Time
	SlotsPerDay int
}

// SlotLength is the wall duration one broadcast slot covers.
func (c Clock) SlotLength() time.Duration {
	return 24 * time.Hour / time.Duration(c.SlotsPerDay)
}

// DayOf returns the simulated day an instant falls in.
func (c Clock) DayOf(t time.Time) Day {
	return Day(t.Sub(c.Epoch) / (24 * time.Hour))
}

// TickForTime returns the tick an instant falls in.
func (c Clock) TickForTime(t time.Time) Tick {
	day := c.DayOf(t)
	intoDay := t.Sub(c.Epoch) - time.Duration(day)*24*time.Hour
	return Tick{day, int(intoDay / c.SlotLength())}
}

// TimeForTick returns the instant a tick begins.
func (c Clock) TimeForTick(tick Tick) time.Time {
	return c.Epoch.
		Add(time.Duration(tick.Day) * 24 * time.Hour).
		Add(time.Duration(tick.Slot) * c.SlotLength())
}
