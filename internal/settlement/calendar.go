package settlement

import "time"

// AddBusinessDays advances t by n business days, skipping Saturday and
// Sunday one day at a time. A T+0 trade on a weekend still lands on the
// next business day — settlement dates are always business days.
func AddBusinessDays(t time.Time, n int) time.Time {
	d := t
	for i := 0; i < n; i++ {
		d = d.AddDate(0, 0, 1)
		for isWeekend(d) {
			d = d.AddDate(0, 0, 1)
		}
	}
	for isWeekend(d) {
		d = d.AddDate(0, 0, 1)
	}
	return d
}

func isWeekend(t time.Time) bool {
	wd := t.Weekday()
	return wd == time.Saturday || wd == time.Sunday
}

// SameDate reports whether a and b fall on the same calendar day in
// a's location.
func SameDate(a, b time.Time) bool {
	y1, m1, d1 := a.Date()
	y2, m2, d2 := b.In(a.Location()).Date()
	return y1 == y2 && m1 == m2 && d1 == d2
}
