package snapshot_test

import (
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stopboard.dev/board/model"
	"stopboard.dev/board/snapshot"
	"stopboard.dev/board/storage"
)

const allWeek = int8(127)

// Monday
var monday = time.Date(2023, 5, 1, 0, 0, 0, 0, time.UTC)

func scheduleFixture() *storage.ScheduleData {
	return &storage.ScheduleData{
		Stops: []*model.Stop{
			{ID: "place-x", Name: "Exchange", LocationType: model.LocationTypeStation},
			{ID: "x-2", Name: "Exchange", PlatformCode: "2", ParentStation: "place-x"},
			{ID: "x-1", Name: "Exchange", PlatformCode: "1", ParentStation: "place-x"},
			{ID: "x-door", Name: "Exchange Entrance", LocationType: model.LocationTypeEntranceExit, ParentStation: "place-x"},
			{ID: "lone", Name: "Lone Stop"},
		},
		Routes: []*model.Route{
			{ID: "Green", ShortName: "GR", Type: model.RouteTypeTram},
			{ID: "Blue", ShortName: "BL", Type: model.RouteTypeSubway},
			{ID: "Aqua", ShortName: "AQ", Type: model.RouteTypeSubway},
		},
		Trips: []*model.Trip{
			{ID: "t-green", RouteID: "Green", ServiceID: "daily", Headsign: "Loop"},
			{ID: "t-blue", RouteID: "Blue", ServiceID: "daily", Headsign: "Harbor"},
			{ID: "t-aqua", RouteID: "Aqua", ServiceID: "weekend", Headsign: "Beach"},
		},
		StopTimes: []*model.StopTime{
			{TripID: "t-blue", StopID: "x-1", StopSequence: 1, Arrival: "10:30:00", Departure: "10:31:00"},
			{TripID: "t-green", StopID: "x-2", StopSequence: 3, Arrival: "10:05:00", Departure: "10:05:00"},
			{TripID: "t-green", StopID: "x-2", StopSequence: 7, Arrival: "11:05:00", Departure: "11:06:00"},
			{TripID: "t-aqua", StopID: "x-1", StopSequence: 2, Arrival: "10:45:00", Departure: "10:46:00"},
			{TripID: "t-blue", StopID: "lone", StopSequence: 9, Arrival: "12:00:00", Departure: "12:00:30"},
		},
		Calendars: []*model.Calendar{
			{ServiceID: "daily", StartDate: "20230101", EndDate: "20231231", Weekday: allWeek},
			{ServiceID: "weekend", StartDate: "20230101", EndDate: "20231231", Weekday: int8(1<<time.Saturday | 1<<time.Sunday)},
		},
	}
}

func TestStop(t *testing.T) {
	snap := snapshot.New(scheduleFixture(), zerolog.Nop())

	stop, err := snap.Stop("place-x")
	require.NoError(t, err)
	assert.Equal(t, "Exchange", stop.Name)
	assert.Equal(t, model.LocationTypeStation, stop.LocationType)

	_, err = snap.Stop("nope")
	require.Error(t, err)
	assert.True(t, errors.Is(err, snapshot.ErrStopNotFound))
}

func TestStopsByParent(t *testing.T) {
	snap := snapshot.New(scheduleFixture(), zerolog.Nop())

	children := snap.StopsByParent("place-x")
	require.Len(t, children, 3)
	assert.Equal(t, "x-1", children[0].ID)
	assert.Equal(t, "x-2", children[1].ID)
	assert.Equal(t, "x-door", children[2].ID)

	assert.Empty(t, snap.StopsByParent("lone"))
	assert.Empty(t, snap.StopsByParent("nope"))
}

func TestRoutesForStop(t *testing.T) {
	snap := snapshot.New(scheduleFixture(), zerolog.Nop())

	// Children's routes roll up to the station, tram before subway,
	// subways tie-broken by ID.
	routes := snap.RoutesForStop("place-x")
	require.Len(t, routes, 3)
	assert.Equal(t, "Green", routes[0].ID)
	assert.Equal(t, "Aqua", routes[1].ID)
	assert.Equal(t, "Blue", routes[2].ID)

	routes = snap.RoutesForStop("lone")
	require.Len(t, routes, 1)
	assert.Equal(t, "Blue", routes[0].ID)

	assert.Empty(t, snap.RoutesForStop("x-door"))
}

func TestActiveStopTimes(t *testing.T) {
	snap := snapshot.New(scheduleFixture(), zerolog.Nop())

	// Monday, window opens at 10:00
	events := snap.ActiveStopTimes("x-1", monday, 36000)
	require.Len(t, events, 1)
	assert.Equal(t, "t-blue", events[0].Trip.ID)
	assert.Equal(t, 10*3600+31*60, events[0].DepartureSeconds)

	// Saturday includes the weekend service, ordered by departure
	saturday := time.Date(2023, 5, 6, 0, 0, 0, 0, time.UTC)
	events = snap.ActiveStopTimes("x-1", saturday, 36000)
	require.Len(t, events, 2)
	assert.Equal(t, "t-blue", events[0].Trip.ID)
	assert.Equal(t, "t-aqua", events[1].Trip.ID)

	// Departures at or before the window start are excluded
	events = snap.ActiveStopTimes("x-2", monday, 10*3600+5*60)
	require.Len(t, events, 1)
	assert.Equal(t, uint32(7), events[0].StopTime.StopSequence)
}

func TestServiceActive(t *testing.T) {
	data := scheduleFixture()

	// A service defined only through added dates has no calendar row
	data.CalendarDates = []*model.CalendarDate{
		{ServiceID: "special", Date: "20230501", ExceptionType: model.ExceptionAdded},
	}
	snap := snapshot.New(data, zerolog.Nop())

	assert.True(t, snap.ServiceActive("special", monday))
	assert.False(t, snap.ServiceActive("special", monday.AddDate(0, 0, 1)))
	assert.True(t, snap.ServiceActive("daily", monday))
	assert.False(t, snap.ServiceActive("unknown", monday))
}

func TestMalformedStopTimeSkipped(t *testing.T) {
	data := scheduleFixture()
	data.StopTimes = append(data.StopTimes,
		&model.StopTime{TripID: "t-blue", StopID: "x-1", StopSequence: 4, Arrival: "not-a-clock", Departure: "10:50:00"},
		&model.StopTime{TripID: "ghost-trip", StopID: "x-1", StopSequence: 1, Arrival: "10:55:00", Departure: "10:56:00"},
	)

	snap := snapshot.New(data, zerolog.Nop())

	// Neither bad row made it into the graph
	events := snap.ActiveStopTimes("x-1", monday, 0)
	require.Len(t, events, 1)
	assert.Equal(t, "t-blue", events[0].Trip.ID)
}

func TestFromStore(t *testing.T) {
	store := storage.NewMemoryStore()
	require.NoError(t, store.ReplaceSchedule(scheduleFixture()))

	snap, err := snapshot.FromStore(store, zerolog.Nop())
	require.NoError(t, err)

	stop, err := snap.Stop("place-x")
	require.NoError(t, err)
	assert.Equal(t, "Exchange", stop.Name)
}

func TestRouteAndTripLookup(t *testing.T) {
	snap := snapshot.New(scheduleFixture(), zerolog.Nop())

	require.NotNil(t, snap.Route("Green"))
	assert.Equal(t, "GR", snap.Route("Green").ShortName)
	assert.Nil(t, snap.Route("nope"))

	require.NotNil(t, snap.Trip("t-aqua"))
	assert.Equal(t, "Beach", snap.Trip("t-aqua").Headsign)
	assert.Nil(t, snap.Trip("nope"))
}

func TestRoutes(t *testing.T) {
	snap := snapshot.New(scheduleFixture(), zerolog.Nop())

	routes := snap.Routes()
	require.Len(t, routes, 3)
	assert.Equal(t, "Green", routes[0].ID)
	assert.Equal(t, "Aqua", routes[1].ID)
	assert.Equal(t, "Blue", routes[2].ID)
}
