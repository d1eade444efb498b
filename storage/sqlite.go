package storage

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/mattn/go-sqlite3"

	"stopboard.dev/board/model"
)

type SQLiteConfig struct {
	// Path of the database file. Empty means in-memory.
	Path string
}

// SQLite implementation of Store. One database (file) per partition,
// mirroring the persisted layout of one storage partition per route
// type.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(cfg ...SQLiteConfig) (*SQLiteStore, error) {
	sourceName := ":memory:"
	if len(cfg) > 0 && cfg[0].Path != "" {
		sourceName = cfg[0].Path
	}

	db, err := sql.Open("sqlite3", sourceName)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// The database/sql pool would otherwise hand each connection
	// its own private :memory: database.
	db.SetMaxOpenConns(1)

	for name, query := range map[string]string{
		"stops": `
CREATE TABLE IF NOT EXISTS stops (
    id TEXT PRIMARY KEY,
    code TEXT,
    name TEXT NOT NULL,
    desc TEXT,
    platform_code TEXT,
    platform_name TEXT,
    lat REAL NOT NULL,
    lon REAL NOT NULL,
    zone_id TEXT,
    address TEXT,
    url TEXT,
    location_type INTEGER NOT NULL,
    parent_station TEXT,
    wheelchair_boarding INTEGER NOT NULL,
    municipality TEXT
);
CREATE INDEX IF NOT EXISTS stops_parent_station ON stops (parent_station);
`,
		"routes": `
CREATE TABLE IF NOT EXISTS routes (
    id TEXT PRIMARY KEY,
    agency_id TEXT,
    short_name TEXT,
    long_name TEXT,
    desc TEXT,
    type INTEGER NOT NULL,
    url TEXT,
    color TEXT,
    text_color TEXT
);`,
		"trips": `
CREATE TABLE IF NOT EXISTS trips (
    id TEXT PRIMARY KEY,
    route_id TEXT NOT NULL,
    service_id TEXT NOT NULL,
    headsign TEXT,
    short_name TEXT,
    direction_id INTEGER
);
CREATE INDEX IF NOT EXISTS trips_route_id ON trips (route_id);
CREATE INDEX IF NOT EXISTS trips_service_id ON trips (service_id);
`,
		"stop_times": `
CREATE TABLE IF NOT EXISTS stop_times (
    trip_id TEXT NOT NULL,
    stop_id TEXT NOT NULL,
    stop_sequence INTEGER NOT NULL,
    arrival_time TEXT NOT NULL,
    departure_time TEXT NOT NULL,
    headsign TEXT,
    pickup_type INTEGER NOT NULL,
    drop_off_type INTEGER NOT NULL,
PRIMARY KEY (trip_id, stop_sequence)
);
CREATE INDEX IF NOT EXISTS stop_times_stop_id ON stop_times (stop_id);
`,
		"calendar": `
CREATE TABLE IF NOT EXISTS calendar (
    service_id TEXT PRIMARY KEY,
    start_date TEXT NOT NULL,
    end_date TEXT NOT NULL,
    weekday INTEGER NOT NULL
);`,
		"calendar_dates": `
CREATE TABLE IF NOT EXISTS calendar_dates (
    service_id TEXT NOT NULL,
    date TEXT NOT NULL,
    exception_type INTEGER NOT NULL,
PRIMARY KEY (service_id, date, exception_type)
);`,
		"vehicles": `
CREATE TABLE IF NOT EXISTS vehicles (
    id TEXT PRIMARY KEY,
    trip_id TEXT,
    route_id TEXT,
    stop_id TEXT,
    label TEXT,
    status TEXT,
    lat REAL NOT NULL,
    lon REAL NOT NULL,
    bearing REAL NOT NULL,
    updated_at TIMESTAMP NOT NULL
);`,
		"predictions": `
CREATE TABLE IF NOT EXISTS predictions (
    trip_id TEXT NOT NULL,
    stop_id TEXT NOT NULL,
    route_id TEXT,
    arrival TIMESTAMP NOT NULL,
    departure TIMESTAMP NOT NULL,
PRIMARY KEY (trip_id, stop_id)
);`,
		"alerts": `
CREATE TABLE IF NOT EXISTS alerts (
    id TEXT PRIMARY KEY,
    stop_id TEXT,
    route_id TEXT,
    header TEXT,
    effect TEXT,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);`,
	} {
		_, err = db.Exec(query)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("creating %s table: %w", name, err)
		}
	}

	return &SQLiteStore{db: db}, nil
}

// Translates sqlite constraint violations to ErrIntegrity so callers
// don't have to know the driver.
func sqliteError(op string, err error) error {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint {
		return fmt.Errorf("%s: %w", op, ErrIntegrity)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func (s *SQLiteStore) ReplaceSchedule(data *ScheduleData) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}

	for _, table := range []string{"stops", "routes", "trips", "stop_times", "calendar", "calendar_dates"} {
		if _, err := tx.Exec("DELETE FROM " + table); err != nil {
			tx.Rollback()
			return fmt.Errorf("clearing %s: %w", table, err)
		}
	}

	for _, stop := range data.Stops {
		_, err := tx.Exec(`
INSERT INTO stops (id, code, name, desc, platform_code, platform_name, lat, lon, zone_id, address, url, location_type, parent_station, wheelchair_boarding, municipality)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
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
			return sqliteError("inserting stop", err)
		}
	}

	for _, route := range data.Routes {
		_, err := tx.Exec(`
INSERT INTO routes (id, agency_id, short_name, long_name, desc, type, url, color, text_color)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
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
			return sqliteError("inserting route", err)
		}
	}

	for _, trip := range data.Trips {
		_, err := tx.Exec(`
INSERT INTO trips (id, route_id, service_id, headsign, short_name, direction_id)
VALUES (?, ?, ?, ?, ?, ?)`,
			trip.ID,
			trip.RouteID,
			trip.ServiceID,
			trip.Headsign,
			trip.ShortName,
			trip.DirectionID,
		)
		if err != nil {
			tx.Rollback()
			return sqliteError("inserting trip", err)
		}
	}

	// stop_times tends to be by far the largest table.
	stmt, err := tx.Prepare(`
INSERT INTO stop_times (trip_id, stop_id, stop_sequence, arrival_time, departure_time, headsign, pickup_type, drop_off_type)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
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
			return sqliteError("inserting stop_time", err)
		}
	}
	stmt.Close()

	for _, cal := range data.Calendars {
		_, err := tx.Exec(`
INSERT INTO calendar (service_id, start_date, end_date, weekday)
VALUES (?, ?, ?, ?)`,
			cal.ServiceID,
			cal.StartDate,
			cal.EndDate,
			cal.Weekday,
		)
		if err != nil {
			tx.Rollback()
			return sqliteError("inserting calendar", err)
		}
	}

	for _, cd := range data.CalendarDates {
		_, err := tx.Exec(`
INSERT INTO calendar_dates (service_id, date, exception_type)
VALUES (?, ?, ?)`,
			cd.ServiceID,
			cd.Date,
			cd.ExceptionType,
		)
		if err != nil {
			tx.Rollback()
			return sqliteError("inserting calendar date", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing schedule: %w", err)
	}

	return nil
}

func (s *SQLiteStore) Schedule() (*ScheduleData, error) {
	data := &ScheduleData{}

	rows, err := s.db.Query(`
SELECT id, code, name, desc, platform_code, platform_name, lat, lon, zone_id, address, url, location_type, parent_station, wheelchair_boarding, municipality
FROM stops`)
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

	rows, err = s.db.Query(`
SELECT id, agency_id, short_name, long_name, desc, type, url, color, text_color
FROM routes`)
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

	rows, err = s.db.Query(`
SELECT id, route_id, service_id, headsign, short_name, direction_id
FROM trips`)
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

	rows, err = s.db.Query(`
SELECT trip_id, stop_id, stop_sequence, arrival_time, departure_time, headsign, pickup_type, drop_off_type
FROM stop_times`)
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

	rows, err = s.db.Query(`
SELECT service_id, start_date, end_date, weekday
FROM calendar`)
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

	rows, err = s.db.Query(`
SELECT service_id, date, exception_type
FROM calendar_dates`)
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

func (s *SQLiteStore) ReplaceVehicles(vehicles []model.Vehicle) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}

	if _, err := tx.Exec("DELETE FROM vehicles"); err != nil {
		tx.Rollback()
		return fmt.Errorf("clearing vehicles: %w", err)
	}

	for _, v := range vehicles {
		_, err := tx.Exec(`
INSERT INTO vehicles (id, trip_id, route_id, stop_id, label, status, lat, lon, bearing, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
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
			return sqliteError("inserting vehicle", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing vehicles: %w", err)
	}

	return nil
}

func (s *SQLiteStore) ReplacePredictions(predictions []model.Prediction) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}

	if _, err := tx.Exec("DELETE FROM predictions"); err != nil {
		tx.Rollback()
		return fmt.Errorf("clearing predictions: %w", err)
	}

	for _, p := range predictions {
		_, err := tx.Exec(`
INSERT INTO predictions (trip_id, stop_id, route_id, arrival, departure)
VALUES (?, ?, ?, ?, ?)`,
			p.TripID,
			p.StopID,
			p.RouteID,
			p.Arrival,
			p.Departure,
		)
		if err != nil {
			tx.Rollback()
			return sqliteError("inserting prediction", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing predictions: %w", err)
	}

	return nil
}

func (s *SQLiteStore) ReplaceAlerts(alerts []model.Alert) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}

	if _, err := tx.Exec("DELETE FROM alerts"); err != nil {
		tx.Rollback()
		return fmt.Errorf("clearing alerts: %w", err)
	}

	for _, a := range alerts {
		_, err := tx.Exec(`
INSERT INTO alerts (id, stop_id, route_id, header, effect, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?)`,
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
			return sqliteError("inserting alert", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing alerts: %w", err)
	}

	return nil
}

func (s *SQLiteStore) Vehicles() ([]model.Vehicle, error) {
	rows, err := s.db.Query(`
SELECT id, trip_id, route_id, stop_id, label, status, lat, lon, bearing, updated_at
FROM vehicles`)
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

func (s *SQLiteStore) Predictions() ([]model.Prediction, error) {
	rows, err := s.db.Query(`
SELECT trip_id, stop_id, route_id, arrival, departure
FROM predictions`)
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

func (s *SQLiteStore) Alerts() ([]model.Alert, error) {
	rows, err := s.db.Query(`
SELECT id, stop_id, route_id, header, effect, created_at, updated_at
FROM alerts`)
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

func (s *SQLiteStore) ActiveRouteIDs() ([]string, error) {
	rows, err := s.db.Query(`
SELECT DISTINCT route_id
FROM vehicles
WHERE route_id != ''
ORDER BY route_id`)
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

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
