package storage

import (
	"context"
	"testing"
	"time"

	"warden/core"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestSQLiteAuditStoreRoundTrip(t *testing.T) {
	db := newTestSQLite(t)
	store, err := NewSQLiteAuditStore(db, zap.NewNop().Sugar())
	require.NoError(t, err)

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	first := core.NewAuditEntry("inc-1", core.ActionBlockIP, "engine", "203.0.113.5", "blocked for 15m0s", now)
	second := core.NewAuditEntry("inc-1", core.ActionUnblock, "admin", "203.0.113.5", "manual unblock", now.Add(time.Minute))
	other := core.NewAuditEntry("inc-2", core.ActionQuarantine, "engine", "203.0.113.6", "", now)

	require.NoError(t, store.RecordAuditEntry(context.Background(), first))
	require.NoError(t, store.RecordAuditEntry(context.Background(), second))
	require.NoError(t, store.RecordAuditEntry(context.Background(), other))

	entries, err := store.ListAuditEntries(context.Background(), "inc-1", 0)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	// Oldest first.
	assert.Equal(t, string(core.ActionBlockIP), entries[0].Action)
	assert.Equal(t, "engine", entries[0].Actor)
	assert.Equal(t, "203.0.113.5", entries[0].Source)
	assert.Equal(t, string(core.ActionUnblock), entries[1].Action)
	assert.True(t, entries[0].CreatedAt.Before(entries[1].CreatedAt))
}

func TestSQLiteAuditStoreRejectsInvalidEntry(t *testing.T) {
	db := newTestSQLite(t)
	store, err := NewSQLiteAuditStore(db, zap.NewNop().Sugar())
	require.NoError(t, err)

	assert.ErrorIs(t, store.RecordAuditEntry(context.Background(), nil), ErrAuditEntryInvalid)
	assert.ErrorIs(t, store.RecordAuditEntry(context.Background(), &core.AuditEntry{}), ErrAuditEntryInvalid)
}

func TestSQLiteAuditStoreListEmpty(t *testing.T) {
	db := newTestSQLite(t)
	store, err := NewSQLiteAuditStore(db, zap.NewNop().Sugar())
	require.NoError(t, err)

	entries, err := store.ListAuditEntries(context.Background(), "absent", 10)
	require.NoError(t, err)
	assert.Empty(t, entries)
}
