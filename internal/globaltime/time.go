// Package globaltime is the single clock of the pipeline. Every timestamp
// written to the database and every batch id is taken in UTC.
package globaltime

import "time"

var nowFunc = time.Now

func UTC() time.Time {
	return nowFunc().UTC()
}

// DayStart truncates t to the start of its UTC calendar day.
func DayStart(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

// Today returns the bounds [start, end) of the current UTC day.
func Today() (time.Time, time.Time) {
	start := DayStart(UTC())
	return start, start.Add(24 * time.Hour)
}
