// Package gtfstime holds the clock and service calendar arithmetic
// used to decide which scheduled trips are relevant at an instant.
//
// GTFS expresses stop times as "HH:MM:SS" clock strings relative to
// midnight of a service date, with hours allowed to exceed 23 for
// trips crossing midnight. All comparisons here are done in seconds
// past midnight of the service date under evaluation.
package gtfstime

import (
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"stopboard.dev/board/model"
)

var ErrBadClock = errors.New("malformed clock time")

// ToSeconds converts an "HH:MM:SS" clock string into seconds past
// midnight. Hours may exceed 23. Anything that isn't exactly three
// colon-separated integer fields yields ErrBadClock.
func ToSeconds(clock string) (int, error) {
	parts := strings.Split(clock, ":")
	if len(parts) != 3 {
		return 0, errors.Wrap(ErrBadClock, clock)
	}

	h, errH := strconv.Atoi(parts[0])
	m, errM := strconv.Atoi(parts[1])
	s, errS := strconv.Atoi(parts[2])
	if errH != nil || errM != nil || errS != nil {
		return 0, errors.Wrap(ErrBadClock, clock)
	}

	return h*3600 + m*60 + s, nil
}

const dateLayout = "20060102"

// ServiceActive reports whether the service described by cal, with
// the given calendar_dates exceptions, runs on date. The effective
// date set is (weekday pattern within [StartDate, EndDate]) plus
// explicit additions, minus explicit removals. Only exceptions for
// cal's service are considered.
func ServiceActive(cal model.Calendar, exceptions []model.CalendarDate, date time.Time) bool {
	day := date.Format(dateLayout)

	added, removed := false, false
	for _, exc := range exceptions {
		if exc.ServiceID != cal.ServiceID || exc.Date != day {
			continue
		}
		switch exc.ExceptionType {
		case model.ExceptionAdded:
			added = true
		case model.ExceptionRemoved:
			removed = true
		}
	}

	// An add and a remove for the same date cancel out, leaving
	// the weekday pattern in charge.
	if added != removed {
		return added
	}

	if cal.Weekday&(1<<date.Weekday()) == 0 {
		return false
	}

	return cal.StartDate <= day && day <= cal.EndDate
}

// SinceMidnight expresses instant t in seconds past midnight of
// serviceDate. For instants on the day after the service date the
// result exceeds 86400, matching the clock convention for trips
// crossing midnight.
func SinceMidnight(t time.Time, serviceDate time.Time) int {
	midnight := time.Date(
		serviceDate.Year(),
		serviceDate.Month(),
		serviceDate.Day(),
		0, 0, 0, 0,
		serviceDate.Location(),
	)
	return int(t.Sub(midnight).Seconds())
}

// WindowStart returns the lower bound, in seconds past midnight of
// serviceDate, below which stop times are no longer relevant at
// instant now. A positive lookBack shifts the bound into the past so
// recently departed entries stay visible.
func WindowStart(now time.Time, serviceDate time.Time, lookBack time.Duration) int {
	return SinceMidnight(now, serviceDate) - int(lookBack.Seconds())
}
