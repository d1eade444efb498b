package storage

import (
	"fmt"
	"sort"
	"sync"

	"stopboard.dev/board/model"
)

// In memory implementation of Store below. Mostly useful for tests,
// but perfectly serviceable for small feeds.

type MemoryStore struct {
	mu sync.RWMutex

	schedule    *ScheduleData
	vehicles    []model.Vehicle
	predictions []model.Prediction
	alerts      []model.Alert
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		schedule: &ScheduleData{},
	}
}

func (s *MemoryStore) ReplaceSchedule(data *ScheduleData) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.schedule = data
	return nil
}

func (s *MemoryStore) Schedule() (*ScheduleData, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.schedule, nil
}

func (s *MemoryStore) ReplaceVehicles(vehicles []model.Vehicle) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := map[string]bool{}
	for _, v := range vehicles {
		if seen[v.ID] {
			return fmt.Errorf("vehicle %s: %w", v.ID, ErrIntegrity)
		}
		seen[v.ID] = true
	}

	s.vehicles = append([]model.Vehicle{}, vehicles...)
	return nil
}

func (s *MemoryStore) ReplacePredictions(predictions []model.Prediction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	type key struct {
		tripID string
		stopID string
	}
	seen := map[key]bool{}
	for _, p := range predictions {
		k := key{p.TripID, p.StopID}
		if seen[k] {
			return fmt.Errorf("prediction %s/%s: %w", p.TripID, p.StopID, ErrIntegrity)
		}
		seen[k] = true
	}

	s.predictions = append([]model.Prediction{}, predictions...)
	return nil
}

func (s *MemoryStore) ReplaceAlerts(alerts []model.Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := map[string]bool{}
	for _, a := range alerts {
		if seen[a.ID] {
			return fmt.Errorf("alert %s: %w", a.ID, ErrIntegrity)
		}
		seen[a.ID] = true
	}

	s.alerts = append([]model.Alert{}, alerts...)
	return nil
}

func (s *MemoryStore) Vehicles() ([]model.Vehicle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return append([]model.Vehicle{}, s.vehicles...), nil
}

func (s *MemoryStore) Predictions() ([]model.Prediction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return append([]model.Prediction{}, s.predictions...), nil
}

func (s *MemoryStore) Alerts() ([]model.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return append([]model.Alert{}, s.alerts...), nil
}

func (s *MemoryStore) ActiveRouteIDs() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := map[string]bool{}
	for _, v := range s.vehicles {
		if v.RouteID != "" {
			seen[v.RouteID] = true
		}
	}

	ids := []string{}
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	return ids, nil
}

func (s *MemoryStore) Close() error {
	return nil
}
