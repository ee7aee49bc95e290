package influxdb

import (
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/grafikeye-bridge/internal/infrastructure/config"
)

// testConfig returns a configuration for a local dev InfluxDB.
func testConfig() config.InfluxDBConfig {
	return config.InfluxDBConfig{
		Enabled:       true,
		URL:           "http://127.0.0.1:8086",
		Token:         "grafikeye-dev-token",
		Org:           "grafikeye",
		Bucket:        "link",
		BatchSize:     100,
		FlushInterval: 1,
	}
}

// skipIfNoInfluxDB skips the test if InfluxDB is not running.
func skipIfNoInfluxDB(t *testing.T) {
	t.Helper()
	if os.Getenv("RUN_INTEGRATION") == "" {
		client, err := Connect(testConfig())
		if err != nil {
			t.Skip("InfluxDB not available, skipping integration test")
		}
		client.Close()
	}
}

// =============================================================================
// Offline Tests
// =============================================================================

func TestConnect_Disabled(t *testing.T) {
	cfg := testConfig()
	cfg.Enabled = false

	_, err := Connect(cfg)
	if !errors.Is(err, ErrDisabled) {
		t.Errorf("Connect() error = %v, want ErrDisabled", err)
	}
}

func TestConnect_Unreachable(t *testing.T) {
	cfg := testConfig()
	cfg.URL = "http://127.0.0.1:59999"

	_, err := Connect(cfg)
	if !errors.Is(err, ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}

func TestPositiveOr(t *testing.T) {
	tests := []struct {
		v, def, want int
	}{
		{0, 100, 100},
		{-5, 100, 100},
		{50, 100, 50},
	}
	for _, tt := range tests {
		if got := positiveOr(tt.v, tt.def); got != tt.want {
			t.Errorf("positiveOr(%d, %d) = %d, want %d", tt.v, tt.def, got, tt.want)
		}
	}
}

func TestNilClient_Safe(t *testing.T) {
	var c *Client
	if c.IsConnected() {
		t.Error("nil client reports connected")
	}
	if err := c.Close(); err != nil {
		t.Errorf("Close() on nil client error = %v", err)
	}
	c.WriteLinkStats("b", LinkStats{})
}

func TestLinkStatsPoint(t *testing.T) {
	ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	p := linkStatsPoint("bridge-1", LinkStats{
		State:         "ready",
		Connected:     true,
		PollsSent:     10,
		StatusReplies: 9,
		PollMisses:    1,
		ParseMisses:   2,
		ReadFailures:  3,
	}, ts)

	if p.Name() != MeasurementLink {
		t.Errorf("Name() = %q, want %q", p.Name(), MeasurementLink)
	}
	if !p.Time().Equal(ts) {
		t.Errorf("Time() = %v, want %v", p.Time(), ts)
	}

	tags := map[string]string{}
	for _, tag := range p.TagList() {
		tags[tag.Key] = tag.Value
	}
	if tags["bridge_id"] != "bridge-1" || tags["state"] != "ready" {
		t.Errorf("tags = %v", tags)
	}

	fields := map[string]interface{}{}
	for _, f := range p.FieldList() {
		fields[f.Key] = f.Value
	}
	if fields["polls_sent"] != uint64(10) {
		t.Errorf("polls_sent = %v (%T), want uint64 10", fields["polls_sent"], fields["polls_sent"])
	}
	if fields["parse_misses"] != uint64(2) {
		t.Errorf("parse_misses = %v, want uint64 2", fields["parse_misses"])
	}
	if fields["read_failures"] != uint64(3) {
		t.Errorf("read_failures = %v, want uint64 3", fields["read_failures"])
	}
	if fields["connected"] != true {
		t.Errorf("connected = %v, want true", fields["connected"])
	}
	if _, ok := fields["scene"]; ok {
		t.Error("link point must not carry scene values")
	}
}

// =============================================================================
// Server Tests
// =============================================================================

func TestWriteLinkStats(t *testing.T) {
	skipIfNoInfluxDB(t)

	client, err := Connect(testConfig())
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	var writeErr error
	var mu sync.Mutex
	client.SetOnError(func(err error) {
		mu.Lock()
		writeErr = err
		mu.Unlock()
	})

	client.WriteLinkStats("test-bridge", LinkStats{State: "ready", Connected: true, PollsSent: 1})
	if err := client.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	time.Sleep(100 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if writeErr != nil {
		t.Errorf("Write error = %v", writeErr)
	}
}

func TestClose(t *testing.T) {
	skipIfNoInfluxDB(t)

	client, err := Connect(testConfig())
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	client.WriteLinkStats("test-bridge", LinkStats{State: "ready"})

	if err := client.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if client.IsConnected() {
		t.Error("IsConnected() = true after Close()")
	}
}
