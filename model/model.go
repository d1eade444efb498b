package model

import (
	"time"
)

// Holds all external facing types and constants.

type LocationType int

const (
	LocationTypePlatform LocationType = iota
	LocationTypeStation
	LocationTypeEntranceExit
	LocationTypeGenericNode
	LocationTypeBoardingArea
)

type RouteType int

const (
	RouteTypeTram       RouteType = 0
	RouteTypeSubway     RouteType = 1
	RouteTypeRail       RouteType = 2
	RouteTypeBus        RouteType = 3
	RouteTypeFerry      RouteType = 4
	RouteTypeCable      RouteType = 5
	RouteTypeAerial     RouteType = 6
	RouteTypeFunicular  RouteType = 7
	RouteTypeTrolleybus RouteType = 11
	RouteTypeMonorail   RouteType = 12
)

// A stop with a non-empty ParentStation is a platform belonging to a
// station. A stop with LocationType station and no parent is a
// station with zero or more child platforms.
type Stop struct {
	ID                 string
	Code               string
	Name               string
	Desc               string
	PlatformCode       string
	PlatformName       string
	Lat                float64
	Lon                float64
	ZoneID             string
	Address            string
	URL                string
	LocationType       LocationType
	ParentStation      string
	WheelchairBoarding bool
	Municipality       string
}

type Route struct {
	ID        string
	AgencyID  string
	ShortName string
	LongName  string
	Desc      string
	Type      RouteType
	URL       string
	Color     string
	TextColor string
}

// DisplayName is the route's short name, or long name when no short
// name is set.
func (r *Route) DisplayName() string {
	if r.ShortName != "" {
		return r.ShortName
	}
	return r.LongName
}

type Trip struct {
	ID          string
	RouteID     string
	ServiceID   string
	Headsign    string
	ShortName   string
	DirectionID int8
}

// StopTime identity is (TripID, StopSequence). Arrival and Departure
// hold "HH:MM:SS" clock strings; hours can exceed 23 for trips
// crossing midnight. Seconds-past-midnight values are derived on
// snapshot load, never stored.
type StopTime struct {
	TripID       string
	StopID       string
	StopSequence uint32
	Arrival      string
	Departure    string
	Headsign     string
	PickupType   int8
	DropOffType  int8
}

// Weekday is a bitmask of 1<<time.Weekday values.
type Calendar struct {
	ServiceID string
	StartDate string // YYYYMMDD
	EndDate   string
	Weekday   int8
}

const (
	ExceptionAdded   int8 = 1
	ExceptionRemoved int8 = 2
)

type CalendarDate struct {
	ServiceID     string
	Date          string // YYYYMMDD
	ExceptionType int8
}

// Live records below are ephemeral: each kind's rows are fully
// replaced on every refresh cycle.

type Vehicle struct {
	ID        string
	TripID    string
	RouteID   string
	StopID    string
	Label     string
	Status    string
	Lat       float64
	Lon       float64
	Bearing   float64
	UpdatedAt time.Time
}

type Prediction struct {
	TripID    string
	StopID    string
	RouteID   string
	Arrival   time.Time
	Departure time.Time
}

type Alert struct {
	ID        string
	StopID    string
	RouteID   string
	Header    string
	Effect    string
	CreatedAt time.Time
	UpdatedAt time.Time
}
