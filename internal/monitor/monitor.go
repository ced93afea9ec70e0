// Package monitor implements the controller's periodic poll loop: fan out
// concurrent /stats pulls across all configured nodes, commit each node's
// status row atomically, append a history sample for each successful poll,
// and trigger the hourly retention sweep.
package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/nodemesh/meshlb/internal/history"
	"github.com/nodemesh/meshlb/internal/meshapi"
	"github.com/nodemesh/meshlb/internal/metrics"
	"github.com/nodemesh/meshlb/internal/state"
)

// TickPeriod is the fixed interval between poll ticks.
const TickPeriod = 3 * time.Second

// PollTimeout bounds each node's per-tick /stats request.
const PollTimeout = 2 * time.Second

// Monitor owns the poll loop for one controller process.
type Monitor struct {
	state   *state.Controller
	history *history.Store
	metrics *metrics.Controller
	log     *zap.Logger
	client  *http.Client
	clock   meshapi.Clock
}

// New builds a Monitor over a controller state and history store.
func New(st *state.Controller, hist *history.Store, m *metrics.Controller, log *zap.Logger) *Monitor {
	return &Monitor{
		state:   st,
		history: hist,
		metrics: m,
		log:     log,
		client:  &http.Client{},
		clock:   meshapi.RealClock,
	}
}

// WithClock overrides the Monitor's time source, used by tests that need
// to land a tick exactly on the hourly sweep boundary.
func (m *Monitor) WithClock(clock meshapi.Clock) *Monitor {
	m.clock = clock
	return m
}

// Run executes the poll loop until ctx is canceled. Ticks are driven by a
// time.Ticker: if one tick overruns the period the next fires immediately
// on the ticker's buffered channel, matching spec.md §4.3's "the following
// tick starts immediately" requirement without an explicit catch-up timer.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(TickPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Tick(ctx)
		}
	}
}

// Tick runs exactly one poll cycle: concurrent per-node pulls, status/
// history commit, and a conditional retention sweep.
func (m *Monitor) Tick(ctx context.Context) {
	start := time.Now()
	timestamp := m.clock().Unix()
	nodes := m.state.Nodes()

	g, gctx := errgroup.WithContext(ctx)
	for _, node := range nodes {
		node := node
		g.Go(func() error {
			m.pollOne(gctx, node, timestamp)
			return nil
		})
	}
	_ = g.Wait()

	m.metrics.PollDuration.Observe(time.Since(start).Seconds())
	m.recordLivenessGauges(nodes)

	if timestamp%3600 == 0 {
		m.sweep(timestamp)
	}
}

func (m *Monitor) pollOne(ctx context.Context, node meshapi.NodeConfig, timestamp int64) {
	reqCtx, cancel := context.WithTimeout(ctx, PollTimeout)
	defer cancel()

	url := fmt.Sprintf("http://%s:%d/stats", node.IP, node.AgentPort)
	reqStart := time.Now()

	status, sample, err := m.fetch(reqCtx, url, node.Name, timestamp)
	latencyMS := float64(time.Since(reqStart).Microseconds()) / 1000.0

	if err != nil {
		m.log.Debug("poll failed", zap.String("node", node.Name), zap.Error(err))
		m.state.CommitStatus(node.Name, meshapi.NodeStatus{
			Alive:         false,
			PingMS:        9999,
			LastError:     err.Error(),
			LastUpdatedTS: timestamp,
			Maintenance:   m.state.MaintenanceOf(node.Name),
		})
		return
	}

	status.PingMS = latencyMS
	status.Alive = true
	status.LastUpdatedTS = timestamp
	status.Maintenance = m.state.MaintenanceOf(node.Name)
	m.state.CommitStatus(node.Name, status)

	sample.PingMS = latencyMS
	if err := m.history.AppendSample(node.Name, sample); err != nil {
		// Per spec.md §7, a history write failure must not fail the tick.
		m.log.Warn("history append failed", zap.String("node", node.Name), zap.Error(err))
	}
}

// rawStats mirrors the agent's response but leaves max_users optional so a
// missing field can be defaulted to 100 rather than to Go's zero value,
// per spec.md §7's parse-failure policy.
type rawStats struct {
	Name         string            `json:"name"`
	Region       string            `json:"region"`
	MaxUsers     *int              `json:"max_users"`
	CurrentUsers int               `json:"current_users"`
	CPULoad      float64           `json:"cpu_load"`
	RAMUsage     float64           `json:"ram_usage"`
	Temperature  *float64          `json:"temperature"`
	Watts        float64           `json:"watts"`
	Location     *meshapi.Location `json:"location"`
}

func (m *Monitor) fetch(ctx context.Context, url, nodeName string, timestamp int64) (meshapi.NodeStatus, meshapi.HistorySample, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return meshapi.NodeStatus{}, meshapi.HistorySample{}, fmt.Errorf("build request: %w", err)
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return meshapi.NodeStatus{}, meshapi.HistorySample{}, fmt.Errorf("request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return meshapi.NodeStatus{}, meshapi.HistorySample{}, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var raw rawStats
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return meshapi.NodeStatus{}, meshapi.HistorySample{}, fmt.Errorf("parse body: %w", err)
	}

	maxUsers := 100
	if raw.MaxUsers != nil {
		maxUsers = *raw.MaxUsers
	}

	status := meshapi.NodeStatus{
		CurrentUsers: raw.CurrentUsers,
		MaxUsers:     maxUsers,
		CPULoad:      raw.CPULoad,
		TemperatureC: raw.Temperature,
		Location:     raw.Location,
	}
	if raw.Watts != 0 {
		w := raw.Watts
		status.Watts = &w
	}

	sample := meshapi.HistorySample{
		TimestampS: timestamp,
		NodeName:   nodeName,
		CPULoad:    raw.CPULoad,
		Users:      raw.CurrentUsers,
	}
	return status, sample, nil
}

func (m *Monitor) recordLivenessGauges(nodes []meshapi.NodeConfig) {
	status, _, _ := m.state.Snapshot()
	alive, unhealthy := 0, 0
	for _, n := range nodes {
		if status[n.Name].Alive {
			alive++
		} else {
			unhealthy++
		}
	}
	m.metrics.NodesAlive.Set(float64(alive))
	m.metrics.NodesUnhealthy.Set(float64(unhealthy))
}

func (m *Monitor) sweep(timestamp int64) {
	cutoff := timestamp - int64(history.RetentionWindow.Seconds())
	deleted, err := m.history.Sweep(cutoff)
	if err != nil {
		m.log.Warn("retention sweep failed", zap.Error(err))
		return
	}
	m.metrics.HistorySweeps.Inc()
	m.log.Info("retention sweep complete", zap.Int("deleted", deleted), zap.Int64("cutoff", cutoff))
}
