// Package period вычисляет расчетные периоды учета потребления.
package period

import (
	"time"
)

// CalendarMonth возвращает календарный месяц (UTC), содержащий t.
func CalendarMonth(t time.Time) (start, end time.Time) {
	t = t.UTC()
	start = time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	return start, start.AddDate(0, 1, 0)
}

// Window возвращает окно подписки, если оно задано и содержит now,
// иначе календарный месяц.
func Window(now time.Time, subStart, subEnd *time.Time) (start, end time.Time) {
	if subStart != nil && subEnd != nil && subEnd.After(*subStart) {
		s, e := subStart.UTC(), subEnd.UTC()
		n := now.UTC()
		if !n.Before(s) && n.Before(e) {
			return s, e
		}
	}
	return CalendarMonth(now)
}

// Centered возвращает интервал шириной width с центром в t.
func Centered(t time.Time, width time.Duration) (from, to time.Time) {
	half := width / 2
	return t.Add(-half), t.Add(half)
}
