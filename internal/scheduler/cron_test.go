package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustParse(t *testing.T, expr string) *Schedule {
	t.Helper()
	s, err := Parse(expr)
	require.NoError(t, err)
	return s
}

func TestNext_EveryFifteenMinutes(t *testing.T) {
	s := mustParse(t, "0 */15 * * * *")

	ref := time.Date(2025, 1, 1, 12, 14, 0, 0, time.UTC)
	next, err := s.Next(ref, time.UTC)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 1, 1, 12, 15, 0, 0, time.UTC), next)

	ref2 := time.Date(2025, 1, 1, 12, 45, 0, 0, time.UTC)
	next2, err := s.Next(ref2, time.UTC)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 1, 1, 13, 0, 0, 0, time.UTC), next2)
}

func TestNext_StrictlyAfterReference(t *testing.T) {
	s := mustParse(t, "0 0 * * * *")
	ref := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	next, err := s.Next(ref, time.UTC)
	require.NoError(t, err)
	assert.True(t, next.After(ref))
	assert.Equal(t, time.Date(2025, 3, 1, 11, 0, 0, 0, time.UTC), next)
}

func TestNext_SecondBoundaryRollsToNextMinute(t *testing.T) {
	s := mustParse(t, "0 * * * * *")
	ref := time.Date(2025, 1, 1, 0, 0, 59, 0, time.UTC)
	next, err := s.Next(ref, time.UTC)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 1, 1, 0, 1, 0, 0, time.UTC), next)
}

func TestNext_LeapDayOnlyInLeapYears(t *testing.T) {
	s := mustParse(t, "0 0 0 29 2 ?")
	ref := time.Date(2023, 3, 1, 0, 0, 0, 0, time.UTC)
	next, err := s.Next(ref, time.UTC)
	require.NoError(t, err)
	assert.Equal(t, 2024, next.Year())
	assert.Equal(t, time.February, next.Month())
	assert.Equal(t, 29, next.Day())
}

func TestNext_DayOfMonthAndDayOfWeekAND(t *testing.T) {
	// Fires only when the 1st of the month falls on a Monday.
	s := mustParse(t, "0 0 0 1 * 1")
	ref := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	next, err := s.Next(ref, time.UTC)
	require.NoError(t, err)
	assert.Equal(t, 1, next.Day())
	assert.Equal(t, time.Monday, next.Weekday())
}

func TestParse_BothDayFieldsWildcardIsInvalid(t *testing.T) {
	_, err := Parse("0 0 0 ? * ?")
	require.Error(t, err)
}

func TestParse_RejectsWrongFieldCount(t *testing.T) {
	_, err := Parse("0 0 * * *")
	require.Error(t, err)
}

func TestParse_StepAndRange(t *testing.T) {
	s := mustParse(t, "*/10 0-5 * * * ?")
	assert.True(t, s.second[0])
	assert.True(t, s.second[10])
	assert.False(t, s.second[5])
	assert.True(t, s.minute[0])
	assert.True(t, s.minute[5])
	assert.False(t, s.minute[6])
}

func TestNext_NoFutureMatchWithinCap(t *testing.T) {
	// Feb 30th never exists; the search must exhaust its 8-year cap.
	s := mustParse(t, "0 0 0 30 2 ?")
	ref := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	_, err := s.Next(ref, time.UTC)
	require.Error(t, err)
}
