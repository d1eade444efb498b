package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gocarina/gocsv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spkg/bom"

	"stopboard.dev/board/model"
	"stopboard.dev/board/refresh"
)

var recordsDir string

func init() {
	refreshCmd.Flags().StringVarP(&recordsDir, "records-dir", "r", "", "directory of <route_type>/{vehicles,alerts,predictions}.csv record batches")
	refreshCmd.MarkFlagRequired("records-dir")

	// The BOM reader strips unicode BOMs if present; lazy reading
	// survives sloppy quoting.
	gocsv.SetCSVReader(func(in io.Reader) gocsv.CSVReader {
		return gocsv.LazyCSVReader(bom.NewReader(in))
	})
}

var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Run one refresh cycle from record batches on disk",
	RunE: func(cmd *cobra.Command, args []string) error {
		registry, err := openRegistry()
		if err != nil {
			return err
		}
		defer registry.Close()

		pipeline := refresh.NewPipeline(registry, &fileFetcher{dir: recordsDir})
		pipeline.Logger = log.Logger

		vehicles, err := pipeline.Refresh(context.Background())
		if err != nil {
			return err
		}

		fmt.Printf("%d vehicles across %d partitions\n", len(vehicles), len(registry.All()))
		return nil
	},
}

// Flat CSV records, one row per live-table row.

type vehicleRecord struct {
	ID        string  `csv:"vehicle_id"`
	TripID    string  `csv:"trip_id"`
	RouteID   string  `csv:"route_id"`
	StopID    string  `csv:"stop_id"`
	Label     string  `csv:"label"`
	Status    string  `csv:"current_status"`
	Lat       float64 `csv:"latitude"`
	Lon       float64 `csv:"longitude"`
	Bearing   float64 `csv:"bearing"`
	UpdatedAt string  `csv:"updated_at"`
}

type predictionRecord struct {
	TripID    string `csv:"trip_id"`
	StopID    string `csv:"stop_id"`
	RouteID   string `csv:"route_id"`
	Arrival   string `csv:"arrival_time"`
	Departure string `csv:"departure_time"`
}

type alertRecord struct {
	ID        string `csv:"alert_id"`
	StopID    string `csv:"stop_id"`
	RouteID   string `csv:"route_id"`
	Header    string `csv:"header"`
	Effect    string `csv:"effect"`
	CreatedAt string `csv:"created_at"`
	UpdatedAt string `csv:"updated_at"`
}

// A refresh.Fetcher reading record batches from a directory tree
// instead of a live provider API.
type fileFetcher struct {
	dir string
}

func (f *fileFetcher) Vehicles(ctx context.Context, routeType model.RouteType) ([]model.Vehicle, error) {
	records := []*vehicleRecord{}
	err := f.read(filepath.Join(f.dir, strconv.Itoa(int(routeType)), "vehicles.csv"), &records)
	if err != nil {
		return nil, err
	}

	vehicles := []model.Vehicle{}
	for _, r := range records {
		vehicles = append(vehicles, model.Vehicle{
			ID:        r.ID,
			TripID:    r.TripID,
			RouteID:   r.RouteID,
			StopID:    r.StopID,
			Label:     r.Label,
			Status:    r.Status,
			Lat:       r.Lat,
			Lon:       r.Lon,
			Bearing:   r.Bearing,
			UpdatedAt: timestamp(r.UpdatedAt),
		})
	}
	return vehicles, nil
}

func (f *fileFetcher) Alerts(ctx context.Context, routeType model.RouteType) ([]model.Alert, error) {
	records := []*alertRecord{}
	err := f.read(filepath.Join(f.dir, strconv.Itoa(int(routeType)), "alerts.csv"), &records)
	if err != nil {
		return nil, err
	}

	alerts := []model.Alert{}
	for _, r := range records {
		alerts = append(alerts, model.Alert{
			ID:        r.ID,
			StopID:    r.StopID,
			RouteID:   r.RouteID,
			Header:    r.Header,
			Effect:    r.Effect,
			CreatedAt: timestamp(r.CreatedAt),
			UpdatedAt: timestamp(r.UpdatedAt),
		})
	}
	return alerts, nil
}

func (f *fileFetcher) Predictions(ctx context.Context, routeFilter string) ([]model.Prediction, error) {
	scope := map[string]bool{}
	for _, id := range strings.Split(routeFilter, ",") {
		if id != "" {
			scope[id] = true
		}
	}

	entries, err := os.ReadDir(f.dir)
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", f.dir, err)
	}

	predictions := []model.Prediction{}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		path := filepath.Join(f.dir, entry.Name(), "predictions.csv")
		if _, err := os.Stat(path); os.IsNotExist(err) {
			continue
		}

		records := []*predictionRecord{}
		if err := f.read(path, &records); err != nil {
			return nil, err
		}

		for _, r := range records {
			if !scope[r.RouteID] {
				continue
			}
			predictions = append(predictions, model.Prediction{
				TripID:    r.TripID,
				StopID:    r.StopID,
				RouteID:   r.RouteID,
				Arrival:   timestamp(r.Arrival),
				Departure: timestamp(r.Departure),
			})
		}
	}
	return predictions, nil
}

func (f *fileFetcher) read(path string, out interface{}) error {
	buf, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}
	if err := gocsv.UnmarshalBytes(buf, out); err != nil {
		return fmt.Errorf("decoding %s: %w", path, err)
	}
	return nil
}

func timestamp(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
