package envoy

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/attpc/conductor/internal/domain/daq"
	"github.com/attpc/conductor/pkg/common/logger"
	"github.com/attpc/conductor/pkg/common/timeutil"
)

const monitorBody = `1
/data/e20009
Filesystem 1K-blocks Used Available Use% Mounted
/dev/sdb1 1953125000 488281250 1464843750 25% /data
-rw-r--r-- 1 attpc attpc 1073741824 Aug 20 10:01 run_0042_cobo2_part0.graw
-rw-r--r-- 1 attpc attpc 536870912 Aug 20 10:03 run_0042_cobo2_part1.graw
-rw-r--r-- 1 attpc attpc 128 Aug 20 10:03 notes.txt
`

func TestParseMonitorResponse(t *testing.T) {
	snapshot, bytes, err := parseMonitorResponse(strings.NewReader(monitorBody), "192.168.41.62")
	require.NoError(t, err)

	assert.Equal(t, int32(1), snapshot.State)
	assert.True(t, snapshot.Reachable())
	assert.Equal(t, "192.168.41.62", snapshot.Address)
	assert.Equal(t, "/data/e20009", snapshot.Location)
	assert.Equal(t, uint64(1953125000)*512, snapshot.DiskSpace)
	assert.Equal(t, "25%", snapshot.PercentUsed)
	assert.Equal(t, daq.DiskFilled, snapshot.Disk)
	assert.Equal(t, int32(2), snapshot.Files)
	assert.Equal(t, uint64(1073741824+536870912), snapshot.BytesUsed)
	assert.Equal(t, snapshot.BytesUsed, bytes)
}

func TestParseMonitorResponse_ProcessDown(t *testing.T) {
	snapshot, bytes, err := parseMonitorResponse(strings.NewReader("0\n"), "192.168.41.62")
	require.NoError(t, err)

	assert.Equal(t, int32(0), snapshot.State)
	assert.False(t, snapshot.Reachable())
	assert.Zero(t, bytes)
	assert.Equal(t, "N/A", snapshot.Location)
}

func TestParseMonitorResponse_EmptyDisk(t *testing.T) {
	body := `1
/data/e20009
Filesystem 1K-blocks Used Available Use% Mounted
/dev/sdb1 1953125000 1000 1953124000 1% /data
-rw-r--r-- 1 attpc attpc 128 Aug 20 10:03 notes.txt
`
	snapshot, _, err := parseMonitorResponse(strings.NewReader(body), "192.168.41.62")
	require.NoError(t, err)

	assert.Equal(t, daq.DiskEmpty, snapshot.Disk)
	assert.Zero(t, snapshot.Files)
	assert.Zero(t, snapshot.BytesUsed)
}

func TestParseMonitorResponse_Malformed(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "empty body", body: ""},
		{name: "non numeric flag", body: "up\n"},
		{name: "truncated", body: "1\n/data\n"},
		{name: "short usage line", body: "1\n/data\nFilesystem\n/dev/sdb1 100\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := parseMonitorResponse(strings.NewReader(tt.body), "192.168.41.62")
			assert.Error(t, err)
		})
	}
}

func TestMonitorEnvoy_DataRate(t *testing.T) {
	clock := timeutil.NewMock(time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC))
	e := NewMonitorEnvoy(NewMonitorConfig(2), nil, logger.Noop(), clock)

	// First observation establishes the baseline.
	assert.Zero(t, e.dataRate(1_000_000, clock.Now()))
	e.lastBytes, e.lastPoll = 1_000_000, clock.Now()

	// 4 MB written over 2 seconds.
	clock.Advance(2 * time.Second)
	assert.InDelta(t, 2.0, e.dataRate(5_000_000, clock.Now()), 1e-9)

	// Shrinking byte count (files moved away) clamps to zero.
	assert.Zero(t, e.dataRate(500_000, clock.Now()))
}

func TestMonitorEnvoy_Run(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, monitorBody)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	outbound := make(chan daq.Message, 4)
	cfg := NewMonitorConfig(2)
	cfg.URL = srv.URL
	e := NewMonitorEnvoy(cfg, outbound, logger.Noop(), timeutil.Default())

	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()

	select {
	case msg := <-outbound:
		assert.Equal(t, daq.KindMonitorReport, msg.Kind)
		snapshot, err := msg.AsMonitorSnapshot()
		require.NoError(t, err)
		assert.True(t, snapshot.Reachable())
	case <-time.After(10 * time.Second):
		t.Fatal("no monitor report before deadline")
	}

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("monitor loop did not exit on cancel")
	}
}

func TestMonitorEnvoy_Run_UnreachableDegrades(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	outbound := make(chan daq.Message, 4)
	cfg := NewMonitorConfig(2)
	cfg.URL = "http://127.0.0.1:1"
	e := NewMonitorEnvoy(cfg, outbound, logger.Noop(), timeutil.Default())
	e.client.Timeout = 100 * time.Millisecond

	go e.Run(ctx)

	select {
	case msg := <-outbound:
		snapshot, err := msg.AsMonitorSnapshot()
		require.NoError(t, err)
		assert.False(t, snapshot.Reachable())
		assert.Equal(t, daq.DiskNA, snapshot.Disk)
	case <-time.After(10 * time.Second):
		t.Fatal("no monitor report before deadline")
	}
}
