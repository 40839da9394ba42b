package matching

import "time"

// DateProximityScore converts the distance between a transaction date and an
// invoice due date into a tiered bonus or penalty. Distances are measured in
// whole UTC calendar days.
//
//	d <= 3  -> 15
//	d <= 7  -> 10
//	d <= 15 -> 5
//	d > 30  -> -10
//	else    -> 0
func DateProximityScore(a, b time.Time) int {
	d := dayDelta(a, b)
	switch {
	case d <= 3:
		return 15
	case d <= 7:
		return 10
	case d <= 15:
		return 5
	case d > 30:
		return -10
	default:
		return 0
	}
}

func dayDelta(a, b time.Time) int {
	d := int(dayStart(a).Sub(dayStart(b)).Hours() / 24)
	if d < 0 {
		d = -d
	}
	return d
}

func dayStart(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}
