package storage

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"warden/core"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryIncidentStoreRoundTrip(t *testing.T) {
	store := NewMemoryIncidentStore(10)

	want := testIncident("192.0.2.40")
	id, err := store.RecordIncident(context.Background(), want)
	require.NoError(t, err)
	assert.Equal(t, want.ID, id)

	got, err := store.GetIncident(context.Background(), want.ID)
	require.NoError(t, err)
	assert.Equal(t, want.Source, got.Source)
	assert.Equal(t, want.Score, got.Score)

	// The store holds copies; mutating the returned incident must not leak
	// back in.
	got.Score = 1
	again, err := store.GetIncident(context.Background(), want.ID)
	require.NoError(t, err)
	assert.Equal(t, want.Score, again.Score)
}

func TestMemoryIncidentStoreEvictsOldest(t *testing.T) {
	store := NewMemoryIncidentStore(3)

	for i := 0; i < 5; i++ {
		incident := testIncident("192.0.2.41")
		incident.ID = fmt.Sprintf("inc-%d", i)
		_, err := store.RecordIncident(context.Background(), incident)
		require.NoError(t, err)
	}

	assert.Equal(t, 3, store.Len())
	_, err := store.GetIncident(context.Background(), "inc-0")
	assert.True(t, errors.Is(err, core.ErrIncidentNotFound))
	_, err = store.GetIncident(context.Background(), "inc-4")
	assert.NoError(t, err)
}

func TestMemoryIncidentStoreUpdate(t *testing.T) {
	store := NewMemoryIncidentStore(10)

	incident := testIncident("192.0.2.42")
	_, err := store.RecordIncident(context.Background(), incident)
	require.NoError(t, err)

	incident.Status = core.IncidentStatusFailed
	require.NoError(t, store.UpdateIncident(context.Background(), incident))

	got, err := store.GetIncident(context.Background(), incident.ID)
	require.NoError(t, err)
	assert.Equal(t, core.IncidentStatusFailed, got.Status)

	missing := testIncident("192.0.2.43")
	missing.ID = "never-recorded"
	assert.True(t, errors.Is(store.UpdateIncident(context.Background(), missing), core.ErrIncidentNotFound))
}

func TestMemoryIncidentStoreListNewestFirst(t *testing.T) {
	store := NewMemoryIncidentStore(10)

	for i := 0; i < 4; i++ {
		incident := testIncident("192.0.2.44")
		incident.ID = fmt.Sprintf("inc-%d", i)
		if i%2 == 1 {
			incident.Status = core.IncidentStatusFailed
		}
		_, err := store.RecordIncident(context.Background(), incident)
		require.NoError(t, err)
	}

	all, total, err := store.ListIncidents(context.Background(), IncidentFilters{})
	require.NoError(t, err)
	assert.EqualValues(t, 4, total)
	require.Len(t, all, 4)
	assert.Equal(t, "inc-3", all[0].ID)
	assert.Equal(t, "inc-0", all[3].ID)

	failed, total, err := store.ListIncidents(context.Background(), IncidentFilters{Status: "failed"})
	require.NoError(t, err)
	assert.EqualValues(t, 2, total)
	assert.Len(t, failed, 2)

	page, _, err := store.ListIncidents(context.Background(), IncidentFilters{Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "inc-2", page[0].ID)
}

func TestMemoryAuditStoreBounded(t *testing.T) {
	store := NewMemoryAuditStore(2)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 4; i++ {
		entry := core.NewAuditEntry("inc-1", core.ActionBlockIP, "engine", fmt.Sprintf("10.9.0.%d", i), "", now)
		require.NoError(t, store.RecordAuditEntry(context.Background(), entry))
	}

	entries := store.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, "10.9.0.2", entries[0].Source)
	assert.Equal(t, "10.9.0.3", entries[1].Source)

	assert.ErrorIs(t, store.RecordAuditEntry(context.Background(), nil), ErrAuditEntryInvalid)
}
