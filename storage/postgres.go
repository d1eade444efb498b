package storage

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"stopboard.dev/board/model"
)

// Postgres implementation of Store. Each partition gets its own
// schema, so a single database can host all route types while rows
// stay partition-private.
type PostgresStore struct {
	db     *sql.DB
	schema string
}

func NewPostgresStore(connStr string, schema string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if _, err := db.Exec(fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", pq.QuoteIdentifier(schema))); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	s := &PostgresStore{db: db, schema: schema}

	for name, query := range map[string]string{
		"stops": `
CREATE TABLE IF NOT EXISTS %s.stops (
    id TEXT PRIMARY KEY,
    code TEXT,
    name TEXT NOT NULL,
    "desc" TEXT,
    platform_code TEXT,
    platform_name TEXT,
    lat DOUBLE PRECISION NOT NULL,
    lon DOUBLE PRECISION NOT NULL,
    zone_id TEXT,
    address TEXT,
    url TEXT,
    location_type INTEGER NOT NULL,
    parent_station TEXT,
    wheelchair_boarding BOOLEAN NOT NULL,
    municipality TEXT
);
CREATE INDEX IF NOT EXISTS stops_parent_station ON %s.stops (parent_station);
`,
		"routes": `
CREATE TABLE IF NOT EXISTS %s.routes (
    id TEXT PRIMARY KEY,
    agency_id TEXT,
    short_name TEXT,
    long_name TEXT,
    "desc" TEXT,
    type INTEGER NOT NULL,
    url TEXT,
    color TEXT,
    text_color TEXT
);`,
		"trips": `
CREATE TABLE IF NOT EXISTS %s.trips (
    id TEXT PRIMARY KEY,
    route_id TEXT NOT NULL,
    service_id TEXT NOT NULL,
    headsign TEXT,
    short_name TEXT,
    direction_id SMALLINT
);
CREATE INDEX IF NOT EXISTS trips_route_id ON %s.trips (route_id);
`,
		"stop_times": `
CREATE TABLE IF NOT EXISTS %s.stop_times (
    trip_id TEXT NOT NULL,
    stop_id TEXT NOT NULL,
    stop_sequence INTEGER NOT NULL,
    arrival_time TEXT NOT NULL,
    departure_time TEXT NOT NULL,
    headsign TEXT,
    pickup_type SMALLINT NOT NULL,
    drop_off_type SMALLINT NOT NULL,
PRIMARY KEY (trip_id, stop_sequence)
);
CREATE INDEX IF NOT EXISTS stop_times_stop_id ON %s.stop_times (stop_id);
`,
		"calendar": `
CREATE TABLE IF NOT EXISTS %s.calendar (
    service_id TEXT PRIMARY KEY,
    start_date TEXT NOT NULL,
    end_date TEXT NOT NULL,
    weekday SMALLINT NOT NULL
);`,
		"calendar_dates": `
CREATE TABLE IF NOT EXISTS %s.calendar_dates (
    service_id TEXT NOT NULL,
    date TEXT NOT NULL,
    exception_type SMALLINT NOT NULL,
PRIMARY KEY (service_id, date, exception_type)
);`,
		"vehicles": `
CREATE TABLE IF NOT EXISTS %s.vehicles (
    id TEXT PRIMARY KEY,
    trip_id TEXT,
    route_id TEXT,
    stop_id TEXT,
    label TEXT,
    status TEXT,
    lat DOUBLE PRECISION NOT NULL,
    lon DOUBLE PRECISION NOT NULL,
    bearing DOUBLE PRECISION NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL
);`,
		"predictions": `
CREATE TABLE IF NOT EXISTS %s.predictions (
    trip_id TEXT NOT NULL,
    stop_id TEXT NOT NULL,
    route_id TEXT,
    arrival TIMESTAMPTZ NOT NULL,
    departure TIMESTAMPTZ NOT NULL,
PRIMARY KEY (trip_id, stop_id)
);`,
		"alerts": `
CREATE TABLE IF NOT EXISTS %s.alerts (
    id TEXT PRIMARY KEY,
    stop_id TEXT,
    route_id TEXT,
    header TEXT,
    effect TEXT,
    created_at TIMESTAMPTZ NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL
);`,
	} {
		_, err = db.Exec(s.expand(query))
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("creating %s table: %w", name, err)
		}
	}

	return s, nil
}

// Fills every %s in query with the store's (quoted) schema name.
func (s *PostgresStore) expand(query string) string {
	ident := pq.QuoteIdentifier(s.schema)
	args := []interface{}{}
	for i := 0; i < len(query); i++ {
		if query[i] == '%' {
			args = append(args, ident)
		}
	}
	return fmt.Sprintf(query, args...)
}

func postgresError(op string, err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code.Class() == "23" {
		return fmt.Errorf("%s: %w", op, ErrIntegrity)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func (s *PostgresStore) ReplaceSchedule(data *ScheduleData) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}

	for _, table := range []string{"stops", "routes", "trips", "stop_times", "calendar", "calendar_dates"} {
		if _, err := tx.Exec(s.expand("DELETE FROM %s." + table)); err != nil {
			tx.Rollback()
			return fmt.Errorf("clearing %s: %w", table, err)
		}
	}

	for _, stop := range data.Stops {
		_, err := tx.Exec(s.expand(`
INSERT INTO %s.stops (id, code, name, "desc", platform_code, platform_name, lat, lon, zone_id, address, url, location_type, parent_station, wheelchair_boarding, municipality)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`),
			stop.ID,
			stop.Code,
			stop.Name,
			stop.Desc,
			stop.PlatformCode,
			stop.PlatformName,
			stop.Lat,
			stop.Lon,
			stop.ZoneID,
			stop.Address,
			stop.URL,
			stop.LocationType,
			stop.ParentStation,
			stop.WheelchairBoarding,
			stop.Municipality,
		)
		if err != nil {
			tx.Rollback()
			return postgresError("inserting stop", err)
		}
	}

	for _, route := range data.Routes {
		_, err := tx.Exec(s.expand(`
INSERT INTO %s.routes (id, agency_id, short_name, long_name, "desc", type, url, color, text_color)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`),
			route.ID,
			route.AgencyID,
			route.ShortName,
			route.LongName,
			route.Desc,
			route.Type,
			route.URL,
			route.Color,
			route.TextColor,
		)
		if err != nil {
			tx.Rollback()
			return postgresError("inserting route", err)
		}
	}

	for _, trip := range data.Trips {
		_, err := tx.Exec(s.expand(`
INSERT INTO %s.trips (id, route_id, service_id, headsign, short_name, direction_id)
VALUES ($1, $2, $3, $4, $5, $6)`),
			trip.ID,
			trip.RouteID,
			trip.ServiceID,
			trip.Headsign,
			trip.ShortName,
			trip.DirectionID,
		)
		if err != nil {
			tx.Rollback()
			return postgresError("inserting trip", err)
		}
	}

	stmt, err := tx.Prepare(s.expand(`
INSERT INTO %s.stop_times (trip_id, stop_id, stop_sequence, arrival_time, departure_time, headsign, pickup_type, drop_off_type)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`))
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("preparing stop_time insert: %w", err)
	}
	for _, st := range data.StopTimes {
		_, err := stmt.Exec(
			st.TripID,
			st.StopID,
			st.StopSequence,
			st.Arrival,
			st.Departure,
			st.Headsign,
			st.PickupType,
			st.DropOffType,
		)
		if err != nil {
			stmt.Close()
			tx.Rollback()
			return postgresError("inserting stop_time", err)
		}
	}
	stmt.Close()

	for _, cal := range data.Calendars {
		_, err := tx.Exec(s.expand(`
INSERT INTO %s.calendar (service_id, start_date, end_date, weekday)
VALUES ($1, $2, $3, $4)`),
			cal.ServiceID,
			cal.StartDate,
			cal.EndDate,
			cal.Weekday,
		)
		if err != nil {
			tx.Rollback()
			return postgresError("inserting calendar", err)
		}
	}

	for _, cd := range data.CalendarDates {
		_, err := tx.Exec(s.expand(`
INSERT INTO %s.calendar_dates (service_id, date, exception_type)
VALUES ($1, $2, $3)`),
			cd.ServiceID,
			cd.Date,
			cd.ExceptionType,
		)
		if err != nil {
			tx.Rollback()
			return postgresError("inserting calendar date", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing schedule: %w", err)
	}

	return nil
}

func (s *PostgresStore) Schedule() (*ScheduleData, error) {
	data := &ScheduleData{}

	rows, err := s.db.Query(s.expand(`
SELECT id, code, name, "desc", platform_code, platform_name, lat, lon, zone_id, address, url, location_type, parent_station, wheelchair_boarding, municipality
FROM %s.stops`))
	if err != nil {
		return nil, fmt.Errorf("querying stops: %w", err)
	}
	for rows.Next() {
		stop := &model.Stop{}
		err := rows.Scan(
			&stop.ID,
			&stop.Code,
			&stop.Name,
			&stop.Desc,
			&stop.PlatformCode,
			&stop.PlatformName,
			&stop.Lat,
			&stop.Lon,
			&stop.ZoneID,
			&stop.Address,
			&stop.URL,
			&stop.LocationType,
			&stop.ParentStation,
			&stop.WheelchairBoarding,
			&stop.Municipality,
		)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scanning stop: %w", err)
		}
		data.Stops = append(data.Stops, stop)
	}
	rows.Close()

	rows, err = s.db.Query(s.expand(`
SELECT id, agency_id, short_name, long_name, "desc", type, url, color, text_color
FROM %s.routes`))
	if err != nil {
		return nil, fmt.Errorf("querying routes: %w", err)
	}
	for rows.Next() {
		route := &model.Route{}
		err := rows.Scan(
			&route.ID,
			&route.AgencyID,
			&route.ShortName,
			&route.LongName,
			&route.Desc,
			&route.Type,
			&route.URL,
			&route.Color,
			&route.TextColor,
		)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scanning route: %w", err)
		}
		data.Routes = append(data.Routes, route)
	}
	rows.Close()

	rows, err = s.db.Query(s.expand(`
SELECT id, route_id, service_id, headsign, short_name, direction_id
FROM %s.trips`))
	if err != nil {
		return nil, fmt.Errorf("querying trips: %w", err)
	}
	for rows.Next() {
		trip := &model.Trip{}
		err := rows.Scan(
			&trip.ID,
			&trip.RouteID,
			&trip.ServiceID,
			&trip.Headsign,
			&trip.ShortName,
			&trip.DirectionID,
		)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scanning trip: %w", err)
		}
		data.Trips = append(data.Trips, trip)
	}
	rows.Close()

	rows, err = s.db.Query(s.expand(`
SELECT trip_id, stop_id, stop_sequence, arrival_time, departure_time, headsign, pickup_type, drop_off_type
FROM %s.stop_times`))
	if err != nil {
		return nil, fmt.Errorf("querying stop times: %w", err)
	}
	for rows.Next() {
		st := &model.StopTime{}
		err := rows.Scan(
			&st.TripID,
			&st.StopID,
			&st.StopSequence,
			&st.Arrival,
			&st.Departure,
			&st.Headsign,
			&st.PickupType,
			&st.DropOffType,
		)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scanning stop time: %w", err)
		}
		data.StopTimes = append(data.StopTimes, st)
	}
	rows.Close()

	rows, err = s.db.Query(s.expand(`
SELECT service_id, start_date, end_date, weekday
FROM %s.calendar`))
	if err != nil {
		return nil, fmt.Errorf("querying calendar: %w", err)
	}
	for rows.Next() {
		cal := &model.Calendar{}
		err := rows.Scan(&cal.ServiceID, &cal.StartDate, &cal.EndDate, &cal.Weekday)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scanning calendar: %w", err)
		}
		data.Calendars = append(data.Calendars, cal)
	}
	rows.Close()

	rows, err = s.db.Query(s.expand(`
SELECT service_id, date, exception_type
FROM %s.calendar_dates`))
	if err != nil {
		return nil, fmt.Errorf("querying calendar dates: %w", err)
	}
	for rows.Next() {
		cd := &model.CalendarDate{}
		err := rows.Scan(&cd.ServiceID, &cd.Date, &cd.ExceptionType)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scanning calendar date: %w", err)
		}
		data.CalendarDates = append(data.CalendarDates, cd)
	}
	rows.Close()

	return data, nil
}

func (s *PostgresStore) ReplaceVehicles(vehicles []model.Vehicle) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}

	if _, err := tx.Exec(s.expand("DELETE FROM %s.vehicles")); err != nil {
		tx.Rollback()
		return fmt.Errorf("clearing vehicles: %w", err)
	}

	for _, v := range vehicles {
		_, err := tx.Exec(s.expand(`
INSERT INTO %s.vehicles (id, trip_id, route_id, stop_id, label, status, lat, lon, bearing, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`),
			v.ID,
			v.TripID,
			v.RouteID,
			v.StopID,
			v.Label,
			v.Status,
			v.Lat,
			v.Lon,
			v.Bearing,
			v.UpdatedAt,
		)
		if err != nil {
			tx.Rollback()
			return postgresError("inserting vehicle", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing vehicles: %w", err)
	}

	return nil
}

func (s *PostgresStore) ReplacePredictions(predictions []model.Prediction) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}

	if _, err := tx.Exec(s.expand("DELETE FROM %s.predictions")); err != nil {
		tx.Rollback()
		return fmt.Errorf("clearing predictions: %w", err)
	}

	for _, p := range predictions {
		_, err := tx.Exec(s.expand(`
INSERT INTO %s.predictions (trip_id, stop_id, route_id, arrival, departure)
VALUES ($1, $2, $3, $4, $5)`),
			p.TripID,
			p.StopID,
			p.RouteID,
			p.Arrival,
			p.Departure,
		)
		if err != nil {
			tx.Rollback()
			return postgresError("inserting prediction", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing predictions: %w", err)
	}

	return nil
}

func (s *PostgresStore) ReplaceAlerts(alerts []model.Alert) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}

	if _, err := tx.Exec(s.expand("DELETE FROM %s.alerts")); err != nil {
		tx.Rollback()
		return fmt.Errorf("clearing alerts: %w", err)
	}

	for _, a := range alerts {
		_, err := tx.Exec(s.expand(`
INSERT INTO %s.alerts (id, stop_id, route_id, header, effect, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)`),
			a.ID,
			a.StopID,
			a.RouteID,
			a.Header,
			a.Effect,
			a.CreatedAt,
			a.UpdatedAt,
		)
		if err != nil {
			tx.Rollback()
			return postgresError("inserting alert", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing alerts: %w", err)
	}

	return nil
}

func (s *PostgresStore) Vehicles() ([]model.Vehicle, error) {
	rows, err := s.db.Query(s.expand(`
SELECT id, trip_id, route_id, stop_id, label, status, lat, lon, bearing, updated_at
FROM %s.vehicles`))
	if err != nil {
		return nil, fmt.Errorf("querying vehicles: %w", err)
	}
	defer rows.Close()

	vehicles := []model.Vehicle{}
	for rows.Next() {
		v := model.Vehicle{}
		err := rows.Scan(
			&v.ID,
			&v.TripID,
			&v.RouteID,
			&v.StopID,
			&v.Label,
			&v.Status,
			&v.Lat,
			&v.Lon,
			&v.Bearing,
			&v.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning vehicle: %w", err)
		}
		vehicles = append(vehicles, v)
	}

	return vehicles, nil
}

func (s *PostgresStore) Predictions() ([]model.Prediction, error) {
	rows, err := s.db.Query(s.expand(`
SELECT trip_id, stop_id, route_id, arrival, departure
FROM %s.predictions`))
	if err != nil {
		return nil, fmt.Errorf("querying predictions: %w", err)
	}
	defer rows.Close()

	predictions := []model.Prediction{}
	for rows.Next() {
		p := model.Prediction{}
		err := rows.Scan(&p.TripID, &p.StopID, &p.RouteID, &p.Arrival, &p.Departure)
		if err != nil {
			return nil, fmt.Errorf("scanning prediction: %w", err)
		}
		predictions = append(predictions, p)
	}

	return predictions, nil
}

func (s *PostgresStore) Alerts() ([]model.Alert, error) {
	rows, err := s.db.Query(s.expand(`
SELECT id, stop_id, route_id, header, effect, created_at, updated_at
FROM %s.alerts`))
	if err != nil {
		return nil, fmt.Errorf("querying alerts: %w", err)
	}
	defer rows.Close()

	alerts := []model.Alert{}
	for rows.Next() {
		a := model.Alert{}
		err := rows.Scan(
			&a.ID,
			&a.StopID,
			&a.RouteID,
			&a.Header,
			&a.Effect,
			&a.CreatedAt,
			&a.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning alert: %w", err)
		}
		alerts = append(alerts, a)
	}

	return alerts, nil
}

func (s *PostgresStore) ActiveRouteIDs() ([]string, error) {
	rows, err := s.db.Query(s.expand(`
SELECT DISTINCT route_id
FROM %s.vehicles
WHERE route_id != ''
ORDER BY route_id`))
	if err != nil {
		return nil, fmt.Errorf("querying active routes: %w", err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning route id: %w", err)
		}
		ids = append(ids, id)
	}

	return ids, nil
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}
