package lending_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/warp/lending-engine/lending"
)

func TestBusinessDayAt_CutoverRollsForward(t *testing.T) {
	// 22:59 still belongs to the same date.
	before := time.Date(2026, 3, 2, 22, 59, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC), lending.BusinessDayAt(before, 23))

	// 23:00 exactly belongs to the next date.
	at := time.Date(2026, 3, 2, 23, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 3, 3, 0, 0, 0, 0, time.UTC), lending.BusinessDayAt(at, 23))

	// 23:30 on the last day of a month rolls into the next month.
	monthEnd := time.Date(2026, 3, 31, 23, 30, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC), lending.BusinessDayAt(monthEnd, 23))
}

func TestDateOf_NormalizesLocation(t *testing.T) {
	loc := time.FixedZone("UTC+8", 8*3600)
	a := lending.DateOf(time.Date(2026, 3, 2, 15, 4, 5, 0, loc))
	b := lending.DateOf(time.Date(2026, 3, 2, 1, 0, 0, 0, time.UTC))
	assert.True(t, a.Equal(b))
	assert.Equal(t, time.UTC, a.Location())
}

func TestWeekdayBucketOf(t *testing.T) {
	// 2026-03-02 is a Monday.
	for i, want := range []lending.WeekdayBucket{
		lending.BucketMonday, lending.BucketTuesday, lending.BucketWednesday,
		lending.BucketThursday, lending.BucketFriday, lending.BucketSaturday,
		lending.BucketSunday,
	} {
		d := time.Date(2026, 3, 2+i, 0, 0, 0, 0, time.UTC)
		assert.Equal(t, want, lending.WeekdayBucketOf(d), d.String())
	}
}
