package gtfstime_test

import (
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stopboard.dev/board/gtfstime"
	"stopboard.dev/board/model"
)

func TestToSeconds(t *testing.T) {
	for clock, expected := range map[string]int{
		"00:00:00": 0,
		"00:00:01": 1,
		"00:01:00": 60,
		"01:00:00": 3600,
		"08:15:30": 29730,
		"23:59:59": 86399,
		"24:00:00": 86400,
		"25:30:00": 91800,
	} {
		seconds, err := gtfstime.ToSeconds(clock)
		require.NoError(t, err, clock)
		assert.Equal(t, expected, seconds, clock)
	}
}

func TestToSecondsMalformed(t *testing.T) {
	for _, clock := range []string{
		"",
		"12",
		"12:30",
		"12:30:00:00",
		"aa:bb:cc",
		"12:xx:00",
		"12::00",
	} {
		_, err := gtfstime.ToSeconds(clock)
		require.Error(t, err, clock)
		assert.True(t, errors.Is(err, gtfstime.ErrBadClock), clock)
	}
}

func TestServiceActive(t *testing.T) {
	cal := model.Calendar{
		ServiceID: "weekday",
		StartDate: "20230501",
		EndDate:   "20230531",
		Weekday:   int8(1<<time.Monday | 1<<time.Tuesday | 1<<time.Wednesday | 1<<time.Thursday | 1<<time.Friday),
	}

	monday := time.Date(2023, 5, 1, 0, 0, 0, 0, time.UTC)
	saturday := time.Date(2023, 5, 6, 0, 0, 0, 0, time.UTC)

	// In range, matching weekday
	assert.True(t, gtfstime.ServiceActive(cal, nil, monday))

	// In range, wrong weekday
	assert.False(t, gtfstime.ServiceActive(cal, nil, saturday))

	// Out of range
	assert.False(t, gtfstime.ServiceActive(cal, nil, time.Date(2023, 6, 5, 0, 0, 0, 0, time.UTC)))
	assert.False(t, gtfstime.ServiceActive(cal, nil, time.Date(2023, 4, 24, 0, 0, 0, 0, time.UTC)))

	// Boundary days are inclusive
	assert.True(t, gtfstime.ServiceActive(cal, nil, time.Date(2023, 5, 31, 0, 0, 0, 0, time.UTC)))
}

func TestServiceActiveExceptions(t *testing.T) {
	cal := model.Calendar{
		ServiceID: "weekday",
		StartDate: "20230501",
		EndDate:   "20230531",
		Weekday:   int8(1<<time.Monday | 1<<time.Tuesday | 1<<time.Wednesday | 1<<time.Thursday | 1<<time.Friday),
	}

	monday := time.Date(2023, 5, 1, 0, 0, 0, 0, time.UTC)
	saturday := time.Date(2023, 5, 6, 0, 0, 0, 0, time.UTC)

	// Added on a day outside the pattern
	added := []model.CalendarDate{
		{ServiceID: "weekday", Date: "20230506", ExceptionType: model.ExceptionAdded},
	}
	assert.True(t, gtfstime.ServiceActive(cal, added, saturday))

	// Removed on a day inside the pattern
	removed := []model.CalendarDate{
		{ServiceID: "weekday", Date: "20230501", ExceptionType: model.ExceptionRemoved},
	}
	assert.False(t, gtfstime.ServiceActive(cal, removed, monday))

	// Exceptions for other services are ignored
	foreign := []model.CalendarDate{
		{ServiceID: "other", Date: "20230501", ExceptionType: model.ExceptionRemoved},
	}
	assert.True(t, gtfstime.ServiceActive(cal, foreign, monday))

	// Adding and removing the same date is a no-op
	both := []model.CalendarDate{
		{ServiceID: "weekday", Date: "20230501", ExceptionType: model.ExceptionAdded},
		{ServiceID: "weekday", Date: "20230501", ExceptionType: model.ExceptionRemoved},
	}
	assert.True(t, gtfstime.ServiceActive(cal, both, monday))

	both[0].Date, both[1].Date = "20230506", "20230506"
	assert.False(t, gtfstime.ServiceActive(cal, both, saturday))
}

func TestWindowStart(t *testing.T) {
	date := time.Date(2023, 5, 1, 0, 0, 0, 0, time.UTC)
	now := time.Date(2023, 5, 1, 10, 0, 0, 0, time.UTC)

	assert.Equal(t, 36000, gtfstime.WindowStart(now, date, 0))
	assert.Equal(t, 34200, gtfstime.WindowStart(now, date, 30*time.Minute))

	// Evaluating yesterday's service date yields values past 24h
	yesterday := time.Date(2023, 4, 30, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, 86400+36000, gtfstime.WindowStart(now, yesterday, 0))
}

func TestSinceMidnight(t *testing.T) {
	date := time.Date(2023, 5, 1, 0, 0, 0, 0, time.UTC)

	assert.Equal(t, 0, gtfstime.SinceMidnight(date, date))
	assert.Equal(t, 36600, gtfstime.SinceMidnight(date.Add(10*time.Hour+10*time.Minute), date))
	assert.Equal(t, 87000, gtfstime.SinceMidnight(date.Add(24*time.Hour+10*time.Minute), date))
}
