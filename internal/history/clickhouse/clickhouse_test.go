package clickhouse

import (
	"context"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/clickhouse"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/loykin/mcconsole/internal/history"
)

func setupClickHouseContainer(ctx context.Context, t *testing.T) (testcontainers.Container, string) {
	t.Helper()

	clickHouseContainer, err := clickhouse.Run(ctx,
		"clickhouse/clickhouse-server:24.3.2.23",
		clickhouse.WithUsername("default"),
		clickhouse.WithPassword(""),
		clickhouse.WithDatabase("default"),
		testcontainers.WithWaitStrategy(
			wait.ForHTTP("/ping").
				WithPort("8123/tcp").
				WithStartupTimeout(30*time.Second)),
	)
	if err != nil {
		t.Fatalf("Failed to start ClickHouse container: %v", err)
	}

	host, err := clickHouseContainer.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}
	port, err := clickHouseContainer.MappedPort(ctx, "9000")
	if err != nil {
		t.Fatalf("Failed to get mapped port: %v", err)
	}

	return clickHouseContainer, host + ":" + port.Port()
}

func setupSinkWithTable(ctx context.Context, t *testing.T, addr, tableName string) *Sink {
	t.Helper()

	sink, err := New(addr, tableName)
	if err != nil {
		t.Fatalf("Failed to create sink: %v", err)
	}

	err = sink.conn.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS `+tableName+` (
			type String,
			occurred_at DateTime64(6),
			server String,
			username String,
			ip String,
			message String,
			count Int32
		) ENGINE = MergeTree()
		ORDER BY (occurred_at, server)
	`)
	if err != nil {
		t.Fatalf("Failed to create table: %v", err)
	}

	return sink
}

func TestClickHouseSink_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx := context.Background()

	clickHouseContainer, addr := setupClickHouseContainer(ctx, t)
	defer func() {
		if err := clickHouseContainer.Terminate(ctx); err != nil {
			t.Errorf("Failed to terminate ClickHouse container: %v", err)
		}
	}()

	sink := setupSinkWithTable(ctx, t, addr, "mcconsole_events")
	defer func() {
		if err := sink.Close(); err != nil {
			t.Errorf("Failed to close sink: %v", err)
		}
	}()

	joinEvent := history.Event{
		Type:       history.EventPlayerJoin,
		OccurredAt: time.Now().UTC(),
		Server:     "survival",
		Username:   "alice",
		IP:         "10.0.0.1",
		Count:      1,
	}
	if err := sink.Send(ctx, joinEvent); err != nil {
		t.Fatalf("Failed to send join event: %v", err)
	}

	leaveEvent := history.Event{
		Type:       history.EventPlayerLeave,
		OccurredAt: time.Now().UTC(),
		Server:     "survival",
		Username:   "alice",
		Count:      0,
	}
	if err := sink.Send(ctx, leaveEvent); err != nil {
		t.Fatalf("Failed to send leave event: %v", err)
	}

	time.Sleep(100 * time.Millisecond)

	rows := sink.conn.QueryRow(ctx, "SELECT COUNT(*) FROM mcconsole_events WHERE server = ?", "survival")
	var count uint64
	if err := rows.Scan(&count); err != nil {
		t.Fatalf("Failed to query count: %v", err)
	}
	if count != 2 {
		t.Errorf("Expected 2 events, got %d", count)
	}
}

func TestClickHouseSink_ConnectionError(t *testing.T) {
	_, err := New("invalid-host:9000", "test_table")
	if err == nil {
		t.Error("Expected error with invalid connection, got nil")
	}
}
