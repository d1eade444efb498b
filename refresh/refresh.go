// Package refresh implements the realtime synchronization pipeline:
// per partition, per live-entity kind, fetch a fresh batch from the
// external feed and replace the partition's stored rows for that
// kind. Failures isolate to one (partition, kind) unit; sibling units
// proceed, and a failed kind keeps its last committed rows.
package refresh

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc/pool"

	"stopboard.dev/board/model"
	"stopboard.dev/board/partition"
)

// Returned by Refresh when the previous cycle is still running.
var ErrCycleRunning = errors.New("refresh cycle already running")

const (
	DefaultFetchTimeout = 30 * time.Second
	DefaultMaxWorkers   = 4
)

// Fetcher is the boundary to the external realtime feed. Vehicles
// and Alerts are scoped by route type; Predictions are scoped by a
// comma-separated route ID filter. Records map 1:1 to live-table
// rows. How the records are obtained (HTTP, files, ...) is the
// caller's business.
type Fetcher interface {
	Vehicles(ctx context.Context, routeType model.RouteType) ([]model.Vehicle, error)
	Alerts(ctx context.Context, routeType model.RouteType) ([]model.Alert, error)
	Predictions(ctx context.Context, routeFilter string) ([]model.Prediction, error)
}

type Pipeline struct {
	// Per-unit budget for a single fetch call. A fetch exceeding
	// it fails that unit only.
	FetchTimeout time.Duration

	// Upper bound on partitions refreshed concurrently.
	MaxWorkers int

	Logger zerolog.Logger

	registry *partition.Registry
	fetcher  Fetcher
	mu       sync.Mutex
}

func NewPipeline(registry *partition.Registry, fetcher Fetcher) *Pipeline {
	return &Pipeline{
		FetchTimeout: DefaultFetchTimeout,
		MaxWorkers:   DefaultMaxWorkers,
		Logger:       zerolog.Nop(),

		registry: registry,
		fetcher:  fetcher,
	}
}

// Refresh runs one full cycle over all registered partitions and
// returns the union of all vehicle rows committed in this cycle (or
// retained from earlier cycles where this one failed). Partitions
// run concurrently on a bounded pool; kinds within a partition run
// in order Vehicle, Alert, Prediction, so the prediction scope reads
// the vehicle rows this same cycle just committed.
//
// A cycle that finds the previous one still in flight does not queue
// up behind it; it returns ErrCycleRunning.
func (p *Pipeline) Refresh(ctx context.Context) ([]model.Vehicle, error) {
	if !p.mu.TryLock() {
		return nil, ErrCycleRunning
	}
	defer p.mu.Unlock()

	workers := pool.NewWithResults[[]model.Vehicle]().WithMaxGoroutines(p.MaxWorkers)
	for _, part := range p.registry.All() {
		part := part
		workers.Go(func() []model.Vehicle {
			return p.refreshPartition(ctx, part)
		})
	}

	vehicles := []model.Vehicle{}
	for _, partVehicles := range workers.Wait() {
		vehicles = append(vehicles, partVehicles...)
	}

	return vehicles, nil
}

// Refreshes all three kinds for one partition, then reads back the
// partition's vehicle rows. Every failure is logged and skipped; the
// kind keeps its pre-cycle rows.
func (p *Pipeline) refreshPartition(ctx context.Context, part *partition.Partition) []model.Vehicle {
	logger := p.Logger.With().Int("route_type", int(part.RouteType)).Logger()
	store := part.Store()

	vehicles, err := p.fetchVehicles(ctx, part.RouteType)
	if err != nil {
		logger.Error().Err(err).Msg("fetching vehicles")
	} else if err := store.ReplaceVehicles(vehicles); err != nil {
		logger.Error().Err(err).Msg("replacing vehicles")
	}

	alerts, err := p.fetchAlerts(ctx, part.RouteType)
	if err != nil {
		logger.Error().Err(err).Msg("fetching alerts")
	} else if err := store.ReplaceAlerts(alerts); err != nil {
		logger.Error().Err(err).Msg("replacing alerts")
	}

	// The prediction scope is whatever routes the vehicle table
	// holds right now. If the vehicle fetch above failed, this is
	// the previous cycle's scope.
	routeIDs, err := store.ActiveRouteIDs()
	if err != nil {
		logger.Error().Err(err).Msg("computing prediction scope")
	} else {
		predictions, err := p.fetchPredictions(ctx, strings.Join(routeIDs, ","))
		if err != nil {
			logger.Error().Err(err).Msg("fetching predictions")
		} else if err := store.ReplacePredictions(predictions); err != nil {
			logger.Error().Err(err).Msg("replacing predictions")
		}
	}

	committed, err := store.Vehicles()
	if err != nil {
		logger.Error().Err(err).Msg("reading vehicles")
		return nil
	}
	return committed
}

func (p *Pipeline) unitContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if p.FetchTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, p.FetchTimeout)
}

func (p *Pipeline) fetchVehicles(ctx context.Context, routeType model.RouteType) ([]model.Vehicle, error) {
	ctx, cancel := p.unitContext(ctx)
	defer cancel()

	vehicles, err := p.fetcher.Vehicles(ctx, routeType)
	if err != nil {
		return nil, errors.Wrap(err, "fetching vehicles")
	}
	return vehicles, nil
}

func (p *Pipeline) fetchAlerts(ctx context.Context, routeType model.RouteType) ([]model.Alert, error) {
	ctx, cancel := p.unitContext(ctx)
	defer cancel()

	alerts, err := p.fetcher.Alerts(ctx, routeType)
	if err != nil {
		return nil, errors.Wrap(err, "fetching alerts")
	}
	return alerts, nil
}

func (p *Pipeline) fetchPredictions(ctx context.Context, routeFilter string) ([]model.Prediction, error) {
	ctx, cancel := p.unitContext(ctx)
	defer cancel()

	predictions, err := p.fetcher.Predictions(ctx, routeFilter)
	if err != nil {
		return nil, errors.Wrap(err, "fetching predictions")
	}
	return predictions, nil
}
