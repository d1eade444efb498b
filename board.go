// Package board composes near-realtime departure boards for transit
// stops. A board merges a stop's static schedule (via each
// partition's snapshot) with the live vehicle, prediction and alert
// rows maintained by the refresh pipeline.
package board

import (
	"sort"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"stopboard.dev/board/gtfstime"
	"stopboard.dev/board/model"
	"stopboard.dev/board/partition"
	"stopboard.dev/board/snapshot"
)

// Shown when a stop has no routes, or its first route carries no
// color.
const DefaultRouteColor = "008EAA"

// One departure on the board. DepartureSeconds is seconds past
// midnight of the board's service date; values of 86400 and above
// belong to trips that crossed midnight. Live entries carry a
// predicted departure instead of the scheduled one.
type Entry struct {
	Route            *model.Route
	TripID           string
	StopID           string
	Destination      string
	DepartureSeconds int
	Platform         string
	Live             bool
}

type Alert struct {
	Header    string
	Effect    string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Two alerts rendering to the same text collapse into one board
// entry.
func (a Alert) rendered() string {
	return strings.Join([]string{
		a.Header,
		a.Effect,
		a.CreatedAt.UTC().Format(time.RFC3339),
		a.UpdatedAt.UTC().Format(time.RFC3339),
	}, "|")
}

// The composed output for one stop at one instant. Serialization is
// the rendering collaborator's business.
type Board struct {
	Stop        *model.Stop
	Description string
	Routes      []*model.Route
	Color       string
	Entries     []Entry
	Alerts      []Alert
	Accessible  bool
	Zones       []string
	Platforms   []string
}

type Composer struct {
	// Recurring mode-specific prefix stripped from platform names
	// before display, e.g. "Commuter Rail - ".
	PlatformPrefix string

	Logger zerolog.Logger

	registry *partition.Registry
}

func NewComposer(registry *partition.Registry) *Composer {
	return &Composer{
		Logger:   zerolog.Nop(),
		registry: registry,
	}
}

// Compose builds the board for stopID on the given service date, at
// instant now, keeping entries that departed up to lookBack ago. All
// registered partitions holding the stop contribute; the composer
// may run concurrently with a refresh cycle and observes each live
// kind at a committed state.
//
// A stop unknown to every partition yields ErrStopNotFound. Live
// table read failures degrade the board (logged, that partition's
// live data omitted) rather than failing the request.
func (c *Composer) Compose(stopID string, date time.Time, now time.Time, lookBack time.Duration) (*Board, error) {
	windowStart := gtfstime.WindowStart(now, date, lookBack)

	b := &Board{
		Color: DefaultRouteColor,
	}
	zones := map[string]bool{}

	for _, part := range c.registry.All() {
		snap := part.Snapshot()
		if snap == nil {
			continue
		}

		stop, err := snap.Stop(stopID)
		if errors.Is(err, snapshot.ErrStopNotFound) {
			continue
		} else if err != nil {
			return nil, err
		}

		if b.Stop == nil {
			b.Stop = stop
		}

		platforms := resolvePlatforms(snap, stop)
		platformIDs := map[string]*model.Stop{}
		for _, p := range platforms {
			platformIDs[p.ID] = p
		}

		b.Routes = append(b.Routes, snap.RoutesForStop(stopID)...)

		entries := []Entry{}
		for _, p := range platforms {
			for _, event := range snap.ActiveStopTimes(p.ID, date, windowStart) {
				destination := event.StopTime.Headsign
				if destination == "" {
					destination = event.Trip.Headsign
				}
				entries = append(entries, Entry{
					Route:            event.Route,
					TripID:           event.Trip.ID,
					StopID:           p.ID,
					Destination:      destination,
					DepartureSeconds: event.DepartureSeconds,
					Platform:         c.platformLabel(p),
				})
			}

			if p.WheelchairBoarding {
				b.Accessible = true
			}
			if p.ZoneID != "" {
				zones[p.ZoneID] = true
			}
			if p.PlatformCode != "" {
				b.Platforms = append(b.Platforms, c.platformLabel(p))
			}
		}

		entries = c.overlayPredictions(part, snap, platformIDs, entries, date, windowStart)
		b.Entries = append(b.Entries, entries...)

		b.Alerts = append(b.Alerts, c.collectAlerts(part, stopID, platformIDs)...)

		if b.Description == "" {
			b.Description = describe(stop, platforms)
		}
	}

	if b.Stop == nil {
		return nil, errors.Wrap(snapshot.ErrStopNotFound, stopID)
	}

	b.Routes = dedupeRoutes(b.Routes)
	if len(b.Routes) > 0 && b.Routes[0].Color != "" {
		b.Color = b.Routes[0].Color
	}

	sort.SliceStable(b.Entries, func(i, j int) bool {
		return b.Entries[i].DepartureSeconds < b.Entries[j].DepartureSeconds
	})

	b.Alerts = dedupeAlerts(b.Alerts)

	for zone := range zones {
		b.Zones = append(b.Zones, zone)
	}
	sort.Strings(b.Zones)

	return b, nil
}

// The child-platform set of the target: a station's children
// filtered to platforms, or the target itself when it has none.
func resolvePlatforms(snap *snapshot.Snapshot, stop *model.Stop) []*model.Stop {
	platforms := []*model.Stop{}
	for _, child := range snap.StopsByParent(stop.ID) {
		if child.LocationType != model.LocationTypePlatform {
			continue
		}
		platforms = append(platforms, child)
	}
	if len(platforms) == 0 {
		platforms = append(platforms, stop)
	}
	return platforms
}

// Applies this partition's live predictions: an entry with a
// matching prediction gets the predicted departure, and predictions
// with no scheduled counterpart become entries of their own.
func (c *Composer) overlayPredictions(
	part *partition.Partition,
	snap *snapshot.Snapshot,
	platforms map[string]*model.Stop,
	entries []Entry,
	date time.Time,
	windowStart int,
) []Entry {

	predictions, err := part.Store().Predictions()
	if err != nil {
		c.Logger.Error().Err(err).
			Int("route_type", int(part.RouteType)).
			Msg("reading predictions")
		return entries
	}

	type key struct {
		tripID string
		stopID string
	}
	byTripAndStop := map[key]model.Prediction{}
	for _, p := range predictions {
		if _, found := platforms[p.StopID]; !found {
			continue
		}
		byTripAndStop[key{p.TripID, p.StopID}] = p
	}

	matched := map[key]bool{}
	for i, entry := range entries {
		k := key{entry.TripID, entry.StopID}
		pred, found := byTripAndStop[k]
		if !found {
			continue
		}
		matched[k] = true

		when := pred.Departure
		if when.IsZero() {
			when = pred.Arrival
		}
		entries[i].DepartureSeconds = gtfstime.SinceMidnight(when, date)
		entries[i].Live = true
	}

	for k, pred := range byTripAndStop {
		if matched[k] {
			continue
		}

		when := pred.Departure
		if when.IsZero() {
			when = pred.Arrival
		}
		seconds := gtfstime.SinceMidnight(when, date)
		if seconds <= windowStart {
			continue
		}

		entry := Entry{
			TripID:           pred.TripID,
			StopID:           pred.StopID,
			Route:            snap.Route(pred.RouteID),
			DepartureSeconds: seconds,
			Platform:         c.platformLabel(platforms[pred.StopID]),
			Live:             true,
		}
		if trip := snap.Trip(pred.TripID); trip != nil {
			entry.Destination = trip.Headsign
		}
		entries = append(entries, entry)
	}

	return entries
}

func (c *Composer) collectAlerts(part *partition.Partition, stopID string, platforms map[string]*model.Stop) []Alert {
	rows, err := part.Store().Alerts()
	if err != nil {
		c.Logger.Error().Err(err).
			Int("route_type", int(part.RouteType)).
			Msg("reading alerts")
		return nil
	}

	alerts := []Alert{}
	for _, a := range rows {
		_, onPlatform := platforms[a.StopID]
		if a.StopID != stopID && !onPlatform {
			continue
		}
		alerts = append(alerts, Alert{
			Header:    a.Header,
			Effect:    a.Effect,
			CreatedAt: a.CreatedAt,
			UpdatedAt: a.UpdatedAt,
		})
	}
	return alerts
}

func (c *Composer) platformLabel(stop *model.Stop) string {
	if stop == nil {
		return ""
	}
	label := stop.PlatformName
	if label == "" {
		label = stop.PlatformCode
	}
	if c.PlatformPrefix != "" {
		label = strings.TrimPrefix(label, c.PlatformPrefix)
	}
	return label
}

// The display description: the target's own, else the first platform
// without a platform code that has one, else the first platform's.
func describe(stop *model.Stop, platforms []*model.Stop) string {
	if stop.Desc != "" {
		return stop.Desc
	}
	for _, p := range platforms {
		if p.PlatformCode == "" && p.Desc != "" {
			return p.Desc
		}
	}
	if len(platforms) > 0 {
		return platforms[0].Desc
	}
	return ""
}

func dedupeRoutes(routes []*model.Route) []*model.Route {
	seen := map[string]bool{}
	deduped := []*model.Route{}
	for _, route := range routes {
		if route == nil || seen[route.ID] {
			continue
		}
		seen[route.ID] = true
		deduped = append(deduped, route)
	}

	sort.Slice(deduped, func(i, j int) bool {
		if deduped[i].Type != deduped[j].Type {
			return deduped[i].Type < deduped[j].Type
		}
		return deduped[i].ID < deduped[j].ID
	})

	return deduped
}

func dedupeAlerts(alerts []Alert) []Alert {
	seen := map[string]bool{}
	deduped := []Alert{}
	for _, alert := range alerts {
		r := alert.rendered()
		if seen[r] {
			continue
		}
		seen[r] = true
		deduped = append(deduped, alert)
	}
	return deduped
}
