package envoy

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/attpc/conductor/internal/domain/daq"
	"github.com/attpc/conductor/pkg/common/logger"
	"github.com/attpc/conductor/pkg/common/timeutil"
)

const (
	// monitorTimeout is short: monitors serve a static page and a dead one
	// should show up as unreachable quickly.
	monitorTimeout = 10 * time.Second

	monitorPollInterval = 2 * time.Second
)

// ErrEmptyMonitorBody is returned when a monitor serves an empty page.
var ErrEmptyMonitorBody = errors.New("empty monitor response body")

// MonitorEnvoy polls one front-end's disk monitor and reports snapshots of
// the data directory: disk usage, run file count, and the write rate. Only
// front-ends carry monitors; the master trigger routes no data.
type MonitorEnvoy struct {
	cfg      MonitorConfig
	client   *http.Client
	outbound chan<- daq.Message
	logger   *logger.Logger
	clock    timeutil.Provider

	lastBytes uint64
	lastPoll  time.Time
}

// NewMonitorEnvoy constructs a monitor envoy for one front-end.
func NewMonitorEnvoy(
	cfg MonitorConfig,
	outbound chan<- daq.Message,
	log *logger.Logger,
	clock timeutil.Provider,
) *MonitorEnvoy {
	return &MonitorEnvoy{
		cfg:      cfg,
		client:   &http.Client{Timeout: monitorTimeout},
		outbound: outbound,
		logger:   log.With("monitor_id", int(cfg.ID), "monitor_url", cfg.URL),
		clock:    clock,
	}
}

// Run polls the monitor on a fixed cadence until the context is cancelled.
// Any transport or parse failure degrades to the default unreachable
// snapshot so the operator always sees a current record.
func (e *MonitorEnvoy) Run(ctx context.Context) error {
	ticker := time.NewTicker(monitorPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case <-ticker.C:
			snapshot, err := e.poll(ctx)
			if err != nil {
				e.logger.Debug(ctx, "monitor poll failed, reporting unreachable", "error", err)
				snapshot = daq.NewMonitorSnapshot()
			}

			select {
			case e.outbound <- daq.NewMonitorMessage(snapshot, e.cfg.ID):
			case <-ctx.Done():
				return nil
			}
		}
	}
}

func (e *MonitorEnvoy) poll(ctx context.Context) (daq.MonitorSnapshot, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.cfg.URL, nil)
	if err != nil {
		return daq.MonitorSnapshot{}, err
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return daq.MonitorSnapshot{}, err
	}
	defer resp.Body.Close()

	now := e.clock.Now()
	snapshot, bytes, err := parseMonitorResponse(resp.Body, e.cfg.Address)
	if err != nil {
		return daq.MonitorSnapshot{}, err
	}

	if snapshot.Reachable() {
		snapshot.DataRateMB = e.dataRate(bytes, now)
		e.lastBytes = bytes
		e.lastPoll = now
	}

	return snapshot, nil
}

// dataRate computes the write rate in MB/s from the byte delta and the
// measured wall-clock time since the previous poll. Using the measured
// elapsed time keeps the rate honest when a request runs long. The rate is
// zero on the first poll and when the byte count shrinks (files moved away
// between runs).
func (e *MonitorEnvoy) dataRate(bytes uint64, now time.Time) float64 {
	if e.lastPoll.IsZero() || bytes < e.lastBytes {
		return 0
	}
	elapsed := now.Sub(e.lastPoll).Seconds()
	if elapsed <= 0 {
		return 0
	}
	return float64(bytes-e.lastBytes) * 1.0e-6 / elapsed
}

// parseMonitorResponse scrapes the monitor's fixed-layout page:
//
//	line 0: status flag (0 means the monitored process is down)
//	line 1: data directory path
//	line 3: filesystem usage in df format (blocks at column 1, use% at 4)
//	line 4+: one file listing per line; run files contain "graw" with the
//	         size at column 4
//
// It returns the snapshot plus the raw byte total used for the rate
// computation.
func parseMonitorResponse(r io.Reader, address string) (daq.MonitorSnapshot, uint64, error) {
	var lines []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return daq.MonitorSnapshot{}, 0, err
	}
	if len(lines) == 0 {
		return daq.MonitorSnapshot{}, 0, ErrEmptyMonitorBody
	}

	snapshot := daq.NewMonitorSnapshot()

	state, err := strconv.ParseInt(strings.TrimSpace(lines[0]), 10, 32)
	if err != nil {
		return daq.MonitorSnapshot{}, 0, fmt.Errorf("monitor status flag %q is not numeric", lines[0])
	}
	snapshot.State = int32(state)
	if snapshot.State == 0 {
		return snapshot, 0, nil
	}

	if len(lines) < 4 {
		return daq.MonitorSnapshot{}, 0, fmt.Errorf("monitor body truncated: %d lines", len(lines))
	}

	snapshot.Address = address
	snapshot.Location = lines[1]

	usage := strings.Fields(lines[3])
	if len(usage) < 5 {
		return daq.MonitorSnapshot{}, 0, fmt.Errorf("monitor usage line has %d columns", len(usage))
	}
	blocks, err := strconv.ParseUint(usage[1], 10, 64)
	if err != nil {
		return daq.MonitorSnapshot{}, 0, fmt.Errorf("monitor block count %q is not numeric", usage[1])
	}
	snapshot.DiskSpace = blocks * 512
	snapshot.PercentUsed = usage[4]

	var bytes uint64
	var files int32
	for _, line := range lines[4:] {
		if !strings.Contains(line, "graw") {
			continue
		}
		cols := strings.Fields(line)
		if len(cols) < 5 {
			continue
		}
		size, err := strconv.ParseUint(cols[4], 10, 64)
		if err != nil {
			return daq.MonitorSnapshot{}, 0, fmt.Errorf("monitor file size %q is not numeric", cols[4])
		}
		bytes += size
		files++
	}

	if files > 0 {
		snapshot.Disk = daq.DiskFilled
	} else {
		snapshot.Disk = daq.DiskEmpty
	}
	snapshot.Files = files
	snapshot.BytesUsed = bytes

	return snapshot, bytes, nil
}
