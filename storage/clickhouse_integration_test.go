package storage

import (
	"context"
	"fmt"
	"io"
	"testing"
	"time"

	"warden/core"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"
)

// ClickHouse test container configuration
const (
	clickhouseImage       = "clickhouse/clickhouse-server:latest"
	clickhouseNativePort  = "9000/tcp"
	clickhouseHTTPPort    = "8123/tcp"
	testDatabaseName      = "warden_integration_test"
	containerStartTimeout = 120 * time.Second
)

// clickhouseTestContainer encapsulates testcontainer lifecycle
type clickhouseTestContainer struct {
	container testcontainers.Container
	host      string
	port      string
	cleanup   func()
}

// setupClickHouseTestContainer creates and starts a ClickHouse testcontainer
func setupClickHouseTestContainer(t *testing.T) *clickhouseTestContainer {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        clickhouseImage,
		ExposedPorts: []string{clickhouseNativePort, clickhouseHTTPPort},
		Env: map[string]string{
			"CLICKHOUSE_DB":                        testDatabaseName,
			"CLICKHOUSE_USER":                      "default",
			"CLICKHOUSE_PASSWORD":                  "testpassword",
			"CLICKHOUSE_DEFAULT_ACCESS_MANAGEMENT": "1",
		},
		// Wait for the HTTP port to answer - more reliable than log matching
		WaitingFor: wait.ForHTTP("/").
			WithPort(clickhouseHTTPPort).
			WithStartupTimeout(containerStartTimeout).
			WithResponseMatcher(func(body io.Reader) bool {
				// ClickHouse returns "Ok." for the root path when ready
				buf, _ := io.ReadAll(body)
				return len(buf) > 0
			}),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err, "Failed to start ClickHouse container")

	host, err := container.Host(ctx)
	require.NoError(t, err, "Failed to get container host")

	mappedPort, err := container.MappedPort(ctx, "9000")
	require.NoError(t, err, "Failed to get mapped port")

	cleanup := func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("Warning: failed to terminate ClickHouse container: %v", err)
		}
	}

	t.Logf("ClickHouse container started at %s:%s", host, mappedPort.Port())

	return &clickhouseTestContainer{
		container: container,
		host:      host,
		port:      mappedPort.Port(),
		cleanup:   cleanup,
	}
}

// createClickHouseConnection creates a ClickHouse connection to the test container
func createClickHouseConnection(t *testing.T, testContainer *clickhouseTestContainer) *ClickHouse {
	ch, err := NewClickHouse(ClickHouseOptions{
		Addr:        fmt.Sprintf("%s:%s", testContainer.host, testContainer.port),
		Database:    testDatabaseName,
		Username:    "default",
		Password:    "testpassword",
		TLS:         false,
		MaxPoolSize: 10,
	}, zap.NewNop().Sugar())
	require.NoError(t, err, "Failed to connect to ClickHouse")
	require.NotNil(t, ch, "ClickHouse connection should not be nil")

	return ch
}

func TestClickHouseIntegration_HealthCheck(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	testContainer := setupClickHouseTestContainer(t)
	defer testContainer.cleanup()

	ch := createClickHouseConnection(t, testContainer)
	defer ch.Close()

	ctx := context.Background()
	err := ch.HealthCheck(ctx)
	assert.NoError(t, err, "Health check should pass")
}

func TestClickHouseIntegration_EnsureDatabase(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	testContainer := setupClickHouseTestContainer(t)
	defer testContainer.cleanup()

	ch := createClickHouseConnection(t, testContainer)
	defer ch.Close()

	ctx := context.Background()
	logger := zap.NewNop().Sugar()

	testDB := "test_ensure_db"
	err := ensureDatabase(ctx, ch.Conn, testDB, logger)
	assert.NoError(t, err, "Should create database")

	var count uint64
	err = ch.Conn.QueryRow(ctx, "SELECT count() FROM system.databases WHERE name = ?", testDB).Scan(&count)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), count, "Database should exist")

	_ = ch.Conn.Exec(ctx, fmt.Sprintf("DROP DATABASE IF EXISTS %s", testDB))
}

func TestClickHouseIntegration_EnsureDatabase_SQLInjection(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	testContainer := setupClickHouseTestContainer(t)
	defer testContainer.cleanup()

	ch := createClickHouseConnection(t, testContainer)
	defer ch.Close()

	ctx := context.Background()
	logger := zap.NewNop().Sugar()

	sqlInjectionAttempts := []string{
		"test; DROP DATABASE test",
		"test' OR '1'='1",
		"test`; DROP DATABASE",
		"../../etc/passwd",
		"test database",
		"test-database",
	}

	for _, dbName := range sqlInjectionAttempts {
		t.Run(fmt.Sprintf("injection_%s", dbName), func(t *testing.T) {
			err := ensureDatabase(ctx, ch.Conn, dbName, logger)
			assert.Error(t, err, "Should reject database name: %s", dbName)
			assert.Contains(t, err.Error(), "invalid database name", "Error should indicate validation failure")
		})
	}
}

func TestClickHouseIntegration_AuditStore_RoundTrip(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	testContainer := setupClickHouseTestContainer(t)
	defer testContainer.cleanup()

	ch := createClickHouseConnection(t, testContainer)
	defer ch.Close()

	ctx := context.Background()
	logger := zap.NewNop().Sugar()

	store, err := NewClickHouseAuditStore(ch, logger)
	require.NoError(t, err, "Should create audit store and table")

	now := time.Now().UTC().Truncate(time.Millisecond)
	entries := []*core.AuditEntry{
		core.NewAuditEntry("inc-1", core.ActionBlockIP, "engine", "203.0.113.5", "score 85 over threshold", now),
		core.NewAuditEntry("inc-1", core.ActionUnblock, "operator", "203.0.113.5", "false positive", now.Add(time.Minute)),
		core.NewAuditEntry("inc-2", core.ActionQuarantine, "engine", "203.0.113.6", "", now.Add(2*time.Minute)),
	}
	for _, entry := range entries {
		require.NoError(t, store.RecordAuditEntry(ctx, entry), "Should record audit entry")
	}

	// MergeTree inserts become visible to SELECT almost immediately, but
	// give the server a moment to settle.
	time.Sleep(500 * time.Millisecond)

	all, total, err := store.QueryAuditEntries(ctx, AuditFilters{})
	require.NoError(t, err, "Should query audit entries")
	assert.EqualValues(t, 3, total)
	require.Len(t, all, 3)
	// Newest first.
	assert.Equal(t, string(core.ActionQuarantine), all[0].Action)

	byIncident, total, err := store.QueryAuditEntries(ctx, AuditFilters{IncidentID: "inc-1"})
	require.NoError(t, err)
	assert.EqualValues(t, 2, total)
	require.Len(t, byIncident, 2)
	for _, entry := range byIncident {
		assert.Equal(t, "inc-1", entry.IncidentID)
	}

	byAction, total, err := store.QueryAuditEntries(ctx, AuditFilters{Action: string(core.ActionBlockIP)})
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)
	require.Len(t, byAction, 1)
	assert.Equal(t, "engine", byAction[0].Actor)
	assert.Equal(t, "203.0.113.5", byAction[0].Source)
	assert.Equal(t, "score 85 over threshold", byAction[0].Detail)
}

func TestClickHouseIntegration_AuditStore_TimeRangeAndPagination(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	testContainer := setupClickHouseTestContainer(t)
	defer testContainer.cleanup()

	ch := createClickHouseConnection(t, testContainer)
	defer ch.Close()

	ctx := context.Background()
	logger := zap.NewNop().Sugar()

	store, err := NewClickHouseAuditStore(ch, logger)
	require.NoError(t, err)

	now := time.Now().UTC().Truncate(time.Millisecond)
	for i := 0; i < 5; i++ {
		entry := core.NewAuditEntry(
			fmt.Sprintf("inc-page-%d", i),
			core.ActionRateLimit,
			"engine",
			"198.51.100.7",
			"",
			now.Add(time.Duration(i)*time.Minute),
		)
		require.NoError(t, store.RecordAuditEntry(ctx, entry))
	}

	time.Sleep(500 * time.Millisecond)

	// Only the last two entries fall inside the window.
	windowed, total, err := store.QueryAuditEntries(ctx, AuditFilters{
		StartTime: now.Add(3*time.Minute - time.Second),
		EndTime:   now.Add(time.Hour),
	})
	require.NoError(t, err, "Should query by time range")
	assert.EqualValues(t, 2, total)
	assert.Len(t, windowed, 2)

	// Page through newest-first ordering.
	page, total, err := store.QueryAuditEntries(ctx, AuditFilters{Limit: 2, Offset: 2})
	require.NoError(t, err)
	assert.EqualValues(t, 5, total)
	require.Len(t, page, 2)
	assert.Equal(t, "inc-page-2", page[0].IncidentID)
	assert.Equal(t, "inc-page-1", page[1].IncidentID)
}

func TestClickHouseIntegration_AuditStore_TableIdempotent(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	testContainer := setupClickHouseTestContainer(t)
	defer testContainer.cleanup()

	ch := createClickHouseConnection(t, testContainer)
	defer ch.Close()

	logger := zap.NewNop().Sugar()

	_, err := NewClickHouseAuditStore(ch, logger)
	require.NoError(t, err)

	// Creating the store again must not error on the existing table.
	_, err = NewClickHouseAuditStore(ch, logger)
	assert.NoError(t, err, "Table creation should be idempotent")
}
