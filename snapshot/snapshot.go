// Package snapshot holds the immutable, in-memory schedule graph for
// one partition. A snapshot is built once from a ScheduleData load
// and never mutated; replacing a partition's schedule swaps the
// snapshot reference, so readers holding the old pointer finish
// unaffected.
package snapshot

import (
	"sort"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"stopboard.dev/board/gtfstime"
	"stopboard.dev/board/model"
	"stopboard.dev/board/storage"
)

var ErrStopNotFound = errors.New("stop not found")

// A stop_time joined with its trip and route, with clock strings
// already converted to seconds past midnight.
type StopTimeEvent struct {
	StopTime *model.StopTime
	Trip     *model.Trip
	Route    *model.Route
	Stop     *model.Stop

	ArrivalSeconds   int
	DepartureSeconds int
}

type Snapshot struct {
	stops      map[string]*model.Stop
	children   map[string][]*model.Stop
	routes     map[string]*model.Route
	trips      map[string]*model.Trip
	events     map[string][]*StopTimeEvent
	calendars  map[string]model.Calendar
	exceptions map[string][]model.CalendarDate
}

// New builds a snapshot from a complete schedule load. All indexes
// (parent to ordered children, stop to ordered stop time events) are
// built here, once, rather than recomputed per query. Stop times
// referencing unknown trips, or carrying malformed clock strings, are
// skipped with a warning so one bad row can't poison the graph.
func New(data *storage.ScheduleData, logger zerolog.Logger) *Snapshot {
	s := &Snapshot{
		stops:      map[string]*model.Stop{},
		children:   map[string][]*model.Stop{},
		routes:     map[string]*model.Route{},
		trips:      map[string]*model.Trip{},
		events:     map[string][]*StopTimeEvent{},
		calendars:  map[string]model.Calendar{},
		exceptions: map[string][]model.CalendarDate{},
	}

	for _, stop := range data.Stops {
		s.stops[stop.ID] = stop
	}
	for _, stop := range data.Stops {
		if stop.ParentStation != "" {
			s.children[stop.ParentStation] = append(s.children[stop.ParentStation], stop)
		}
	}
	for _, children := range s.children {
		sort.Slice(children, func(i, j int) bool {
			return children[i].ID < children[j].ID
		})
	}

	for _, route := range data.Routes {
		s.routes[route.ID] = route
	}
	for _, trip := range data.Trips {
		s.trips[trip.ID] = trip
	}
	for _, cal := range data.Calendars {
		s.calendars[cal.ServiceID] = *cal
	}
	for _, cd := range data.CalendarDates {
		s.exceptions[cd.ServiceID] = append(s.exceptions[cd.ServiceID], *cd)
	}

	for _, st := range data.StopTimes {
		trip := s.trips[st.TripID]
		if trip == nil {
			logger.Warn().
				Str("trip_id", st.TripID).
				Str("stop_id", st.StopID).
				Msg("stop time references unknown trip")
			continue
		}

		arrival, errA := gtfstime.ToSeconds(st.Arrival)
		departure, errD := gtfstime.ToSeconds(st.Departure)
		if errA != nil || errD != nil {
			logger.Warn().
				Str("trip_id", st.TripID).
				Str("stop_id", st.StopID).
				Str("arrival", st.Arrival).
				Str("departure", st.Departure).
				Msg("stop time has malformed clock string")
			continue
		}

		s.events[st.StopID] = append(s.events[st.StopID], &StopTimeEvent{
			StopTime:         st,
			Trip:             trip,
			Route:            s.routes[trip.RouteID],
			Stop:             s.stops[st.StopID],
			ArrivalSeconds:   arrival,
			DepartureSeconds: departure,
		})
	}
	for _, events := range s.events {
		sort.SliceStable(events, func(i, j int) bool {
			return events[i].DepartureSeconds < events[j].DepartureSeconds
		})
	}

	return s
}

// FromStore reads the persisted schedule of a partition store and
// builds a snapshot from it.
func FromStore(store storage.Store, logger zerolog.Logger) (*Snapshot, error) {
	data, err := store.Schedule()
	if err != nil {
		return nil, errors.Wrap(err, "reading schedule")
	}
	return New(data, logger), nil
}

func (s *Snapshot) Stop(stopID string) (*model.Stop, error) {
	stop, found := s.stops[stopID]
	if !found {
		return nil, errors.Wrap(ErrStopNotFound, stopID)
	}
	return stop, nil
}

// StopsByParent returns the child stops of stopID, ordered by stop
// ID. Empty when stopID has no children.
func (s *Snapshot) StopsByParent(stopID string) []*model.Stop {
	return s.children[stopID]
}

// RoutesForStop returns all distinct routes with a stop time at
// stopID or any of its child platforms, ordered by route type
// ascending, route ID as tie-break.
func (s *Snapshot) RoutesForStop(stopID string) []*model.Route {
	stops := []string{stopID}
	for _, child := range s.children[stopID] {
		if child.LocationType != model.LocationTypePlatform {
			continue
		}
		stops = append(stops, child.ID)
	}

	seen := map[string]bool{}
	routes := []*model.Route{}
	for _, id := range stops {
		for _, event := range s.events[id] {
			if event.Route == nil || seen[event.Route.ID] {
				continue
			}
			seen[event.Route.ID] = true
			routes = append(routes, event.Route)
		}
	}

	sort.Slice(routes, func(i, j int) bool {
		if routes[i].Type != routes[j].Type {
			return routes[i].Type < routes[j].Type
		}
		return routes[i].ID < routes[j].ID
	})

	return routes
}

// ActiveStopTimes returns the stop time events at stopID whose
// service runs on date and whose departure falls after
// windowStartSeconds, ordered by departure seconds ascending.
func (s *Snapshot) ActiveStopTimes(stopID string, date time.Time, windowStartSeconds int) []*StopTimeEvent {
	active := []*StopTimeEvent{}
	for _, event := range s.events[stopID] {
		if event.DepartureSeconds <= windowStartSeconds {
			continue
		}
		if !s.ServiceActive(event.Trip.ServiceID, date) {
			continue
		}
		active = append(active, event)
	}
	return active
}

// ServiceActive reports whether the given service runs on date. A
// service known only through calendar_dates additions has no weekday
// pattern and is active exactly on its added dates.
func (s *Snapshot) ServiceActive(serviceID string, date time.Time) bool {
	cal, found := s.calendars[serviceID]
	if !found {
		cal = model.Calendar{ServiceID: serviceID}
	}
	return gtfstime.ServiceActive(cal, s.exceptions[serviceID], date)
}

// Route returns the route with the given ID, or nil.
func (s *Snapshot) Route(routeID string) *model.Route {
	return s.routes[routeID]
}

// Trip returns the trip with the given ID, or nil.
func (s *Snapshot) Trip(tripID string) *model.Trip {
	return s.trips[tripID]
}

// Routes returns all routes in the partition, ordered by route type
// then route ID.
func (s *Snapshot) Routes() []*model.Route {
	routes := make([]*model.Route, 0, len(s.routes))
	for _, route := range s.routes {
		routes = append(routes, route)
	}
	sort.Slice(routes, func(i, j int) bool {
		if routes[i].Type != routes[j].Type {
			return routes[i].Type < routes[j].Type
		}
		return routes[i].ID < routes[j].ID
	})
	return routes
}
