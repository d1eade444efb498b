package partition_test

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stopboard.dev/board/model"
	"stopboard.dev/board/partition"
	"stopboard.dev/board/snapshot"
	"stopboard.dev/board/storage"
)

func buildSnapshot(t *testing.T, stopID string) *snapshot.Snapshot {
	t.Helper()
	return snapshot.New(&storage.ScheduleData{
		Stops: []*model.Stop{{ID: stopID, Name: stopID}},
	}, zerolog.Nop())
}

func TestRegisterAndGet(t *testing.T) {
	registry := partition.NewRegistry()

	_, err := registry.Get(model.RouteTypeSubway)
	require.Error(t, err)
	assert.True(t, errors.Is(err, partition.ErrNotFound))

	store := storage.NewMemoryStore()
	part := registry.Register(model.RouteTypeSubway, store, buildSnapshot(t, "s1"))
	require.NotNil(t, part)
	assert.Equal(t, model.RouteTypeSubway, part.RouteType)
	assert.Equal(t, storage.Store(store), part.Store())

	got, err := registry.Get(model.RouteTypeSubway)
	require.NoError(t, err)
	assert.Same(t, part, got)
}

func TestAllRegistrationOrder(t *testing.T) {
	registry := partition.NewRegistry()

	registry.Register(model.RouteTypeBus, storage.NewMemoryStore(), buildSnapshot(t, "b"))
	registry.Register(model.RouteTypeTram, storage.NewMemoryStore(), buildSnapshot(t, "t"))
	registry.Register(model.RouteTypeFerry, storage.NewMemoryStore(), buildSnapshot(t, "f"))

	parts := registry.All()
	require.Len(t, parts, 3)
	assert.Equal(t, model.RouteTypeBus, parts[0].RouteType)
	assert.Equal(t, model.RouteTypeTram, parts[1].RouteType)
	assert.Equal(t, model.RouteTypeFerry, parts[2].RouteType)
}

func TestRegisterReplacesSnapshot(t *testing.T) {
	registry := partition.NewRegistry()
	store := storage.NewMemoryStore()

	part := registry.Register(model.RouteTypeRail, store, buildSnapshot(t, "old"))
	oldSnap := part.Snapshot()

	// Re-registering with a nil store keeps the store and swaps the
	// snapshot; readers holding the old pointer are unaffected.
	again := registry.Register(model.RouteTypeRail, nil, buildSnapshot(t, "new"))
	assert.Same(t, part, again)
	assert.Equal(t, storage.Store(store), part.Store())

	_, err := part.Snapshot().Stop("new")
	require.NoError(t, err)
	_, err = part.Snapshot().Stop("old")
	require.Error(t, err)

	_, err = oldSnap.Stop("old")
	require.NoError(t, err)

	// No second partition was created
	assert.Len(t, registry.All(), 1)
}

func TestRegisterReplacesStore(t *testing.T) {
	registry := partition.NewRegistry()

	first := storage.NewMemoryStore()
	part := registry.Register(model.RouteTypeRail, first, buildSnapshot(t, "s"))

	second := storage.NewMemoryStore()
	registry.Register(model.RouteTypeRail, second, buildSnapshot(t, "s"))
	assert.Equal(t, storage.Store(second), part.Store())
}

func TestClose(t *testing.T) {
	registry := partition.NewRegistry()
	registry.Register(model.RouteTypeBus, storage.NewMemoryStore(), buildSnapshot(t, "b"))
	registry.Register(model.RouteTypeTram, storage.NewMemoryStore(), buildSnapshot(t, "t"))

	require.NoError(t, registry.Close())
}
