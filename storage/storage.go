package storage

import (
	"errors"

	"stopboard.dev/board/model"
)

// Returned when a replace-all update violates a uniqueness
// constraint. The store guarantees the pre-cycle rows for that kind
// are left intact.
var ErrIntegrity = errors.New("constraint violation")

// A Store is the storage handle for a single partition. Each
// partition owns one Store; rows are never shared between partitions
// and cross-partition reads are composed by the caller.
//
// The schedule side is replaced wholesale on import. The live side
// (vehicles, predictions, alerts) is replaced on every refresh cycle:
// each Replace* call deletes all existing rows of that kind and
// inserts the given batch inside a single transaction, so concurrent
// readers never observe a mid-delete state. A batch that violates a
// uniqueness constraint rolls the whole transaction back and returns
// ErrIntegrity.
type Store interface {
	ReplaceSchedule(data *ScheduleData) error
	Schedule() (*ScheduleData, error)

	ReplaceVehicles(vehicles []model.Vehicle) error
	ReplacePredictions(predictions []model.Prediction) error
	ReplaceAlerts(alerts []model.Alert) error

	Vehicles() ([]model.Vehicle, error)
	Predictions() ([]model.Prediction, error)
	Alerts() ([]model.Alert, error)

	// Distinct, sorted route IDs present in the vehicle table.
	// Used to scope prediction fetches.
	ActiveRouteIDs() ([]string, error)

	Close() error
}

// A complete schedule snapshot for one partition, as delivered by the
// import collaborator.
type ScheduleData struct {
	Stops         []*model.Stop
	Routes        []*model.Route
	Trips         []*model.Trip
	StopTimes     []*model.StopTime
	Calendars     []*model.Calendar
	CalendarDates []*model.CalendarDate
}
