package matching

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestDateProximityTiers(t *testing.T) {
	base := day(2024, time.January, 15)
	cases := []struct {
		delta int
		want  int
	}{
		{0, 15},
		{1, 15},
		{3, 15},
		{4, 10},
		{7, 10},
		{8, 5},
		{15, 5},
		{16, 0},
		{30, 0},
		{31, -10},
		{60, -10},
	}
	for _, tc := range cases {
		other := base.AddDate(0, 0, tc.delta)
		assert.Equal(t, tc.want, DateProximityScore(base, other), "delta +%d", tc.delta)
		assert.Equal(t, tc.want, DateProximityScore(other, base), "delta -%d", tc.delta)
	}
}

func TestDateProximityMonotone(t *testing.T) {
	base := day(2024, time.June, 1)
	prev := DateProximityScore(base, base)
	for d := 1; d <= 40; d++ {
		score := DateProximityScore(base, base.AddDate(0, 0, d))
		assert.LessOrEqual(t, score, prev, "day %d", d)
		prev = score
	}
}

func TestDateProximityIgnoresTimeOfDay(t *testing.T) {
	a := time.Date(2024, time.January, 15, 23, 59, 0, 0, time.UTC)
	b := time.Date(2024, time.January, 15, 0, 1, 0, 0, time.UTC)
	assert.Equal(t, 15, DateProximityScore(a, b))
}

func TestDateProximityUsesUTCCalendar(t *testing.T) {
	east := time.FixedZone("UTC+10", 10*60*60)
	// 2024-01-16 08:00 +10:00 is 2024-01-15 22:00 UTC, same UTC day as b.
	a := time.Date(2024, time.January, 16, 8, 0, 0, 0, east)
	b := day(2024, time.January, 15)
	assert.Equal(t, 15, DateProximityScore(a, b))
}
