package schedule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNextRuns_Interval(t *testing.T) {
	from := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s := Schedule{Interval: &Interval{PeriodMillis: 60_000}}

	runs, err := NextRuns(s, from, 3)
	require.NoError(t, err)
	require.Len(t, runs, 3)
	assert.Equal(t, from.Add(1*time.Minute), runs[0])
	assert.Equal(t, from.Add(2*time.Minute), runs[1])
	assert.Equal(t, from.Add(3*time.Minute), runs[2])
}

func TestNextRuns_OnceFuture(t *testing.T) {
	from := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	at := from.Add(time.Hour)

	runs, err := NextRuns(Schedule{Once: &Once{At: at}}, from, 5)
	require.NoError(t, err)
	assert.Equal(t, []time.Time{at}, runs, "a one-shot projects at most one fire")
}

func TestNextRuns_OncePast(t *testing.T) {
	from := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	runs, err := NextRuns(Schedule{Once: &Once{At: from.Add(-time.Minute)}}, from, 5)
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestNextRuns_Daily(t *testing.T) {
	// From a Sunday noon, daily at 09:00 fires Monday, Tuesday, Wednesday.
	from := time.Date(2026, 3, 1, 12, 0, 0, 0, time.Local)
	require.Equal(t, time.Sunday, from.Weekday())

	runs, err := NextRuns(Schedule{Daily: &Daily{TimeOfDay: "09:00"}}, from, 3)
	require.NoError(t, err)
	require.Len(t, runs, 3)
	for i, run := range runs {
		assert.Equal(t, 9, run.Hour())
		assert.Equal(t, 0, run.Minute())
		assert.Equal(t, from.Day()+1+i, run.Day())
	}
}

func TestNextRuns_WeeklyHonorsDays(t *testing.T) {
	from := time.Date(2026, 3, 1, 12, 0, 0, 0, time.Local) // Sunday
	s := Schedule{Weekly: &Weekly{TimeOfDay: "10:00", DaysOfWeek: []int{2, 4}}}

	runs, err := NextRuns(s, from, 4)
	require.NoError(t, err)
	require.Len(t, runs, 4)
	for _, run := range runs {
		day := int(run.Weekday())
		assert.Contains(t, []int{2, 4}, day)
		assert.Equal(t, 10, run.Hour())
	}
	assert.True(t, runs[0].Before(runs[1]))
	assert.True(t, runs[1].Before(runs[2]))
}

func TestNextRuns_SlotsMergeSorted(t *testing.T) {
	from := time.Date(2026, 3, 1, 12, 0, 0, 0, time.Local) // Sunday
	s := Schedule{Slots: &SlotSet{Slots: []Slot{
		{TimeOfDay: "18:00", DaysOfWeek: []int{1}}, // Monday evening
		{TimeOfDay: "08:00", DaysOfWeek: []int{1}}, // Monday morning
	}}}

	runs, err := NextRuns(s, from, 4)
	require.NoError(t, err)
	require.Len(t, runs, 4)

	// Merged across slots in strict time order regardless of slot order.
	assert.Equal(t, 8, runs[0].Hour())
	assert.Equal(t, 18, runs[1].Hour())
	for i := 1; i < len(runs); i++ {
		assert.True(t, runs[i-1].Before(runs[i]))
	}
}

func TestNextRuns_InvalidAndDegenerate(t *testing.T) {
	_, err := NextRuns(Schedule{}, time.Now(), 3)
	assert.Error(t, err)

	runs, err := NextRuns(Schedule{Interval: &Interval{PeriodMillis: 1000}}, time.Now(), 0)
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestNextRuns_DoesNotMutate(t *testing.T) {
	s := Schedule{Daily: &Daily{TimeOfDay: "09:00"}}
	before := *s.Daily

	_, err := NextRuns(s, time.Now(), 5)
	require.NoError(t, err)
	assert.Equal(t, before, *s.Daily)
}
