package eventlog

import "time"

// DayBoundaryHour is the local hour at which one engine day rolls into
// the next. A session still active after midnight keeps counting against
// "yesterday" until 05:00.
const DayBoundaryHour = 5

// Day returns the engine-day datestamp (YYYY-MM-DD) for t.
func Day(t time.Time) string {
	return t.Add(-DayBoundaryHour * time.Hour).Format("2006-01-02")
}

// SameDay reports whether a and b fall on the same engine day.
func SameDay(a, b time.Time) bool {
	return Day(a) == Day(b)
}

// Today returns the current engine-day datestamp for the store's clock.
func (s *Store) Today() string {
	return Day(s.now())
}
