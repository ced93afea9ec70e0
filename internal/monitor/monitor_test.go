package monitor

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/nodemesh/meshlb/internal/history"
	"github.com/nodemesh/meshlb/internal/meshapi"
	"github.com/nodemesh/meshlb/internal/metrics"
	"github.com/nodemesh/meshlb/internal/state"
)

func newTestMonitor(t *testing.T, nodes []meshapi.NodeConfig) (*Monitor, *state.Controller) {
	t.Helper()
	st := state.New(nodes, "")
	path := t.TempDir() + "/history.db"
	hist, err := history.Open(path)
	if err != nil {
		t.Fatalf("history.Open: %v", err)
	}
	t.Cleanup(func() { hist.Close() })
	return New(st, hist, metrics.NewController(), zap.NewNop()), st
}

func nodeFromServer(t *testing.T, name string, srv *httptest.Server) meshapi.NodeConfig {
	t.Helper()
	u, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatalf("parse url: %v", err)
	}
	port, err := strconv.Atoi(u.Port())
	if err != nil {
		t.Fatalf("parse port: %v", err)
	}
	return meshapi.NodeConfig{Name: name, IP: "127.0.0.1", AgentPort: port, WebPort: port}
}

func TestTick_SuccessfulPollCommitsAliveStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(meshapi.AgentStatsResponse{
			Name: "node-a", MaxUsers: 10, CurrentUsers: 2, CPULoad: 15, Status: "online",
		})
	}))
	defer srv.Close()

	node := nodeFromServer(t, "node-a", srv)
	mon, st := newTestMonitor(t, []meshapi.NodeConfig{node})

	mon.Tick(context.Background())

	status, _, _ := st.Snapshot()
	s, ok := status["node-a"]
	if !ok || !s.Alive {
		t.Fatalf("status[node-a] = %+v, want alive", s)
	}
	if s.MaxUsers != 10 || s.CurrentUsers != 2 {
		t.Fatalf("status[node-a] = %+v, want max_users=10 current_users=2", s)
	}

	samples, err := mon.history.RecentSamples("node-a", 10)
	if err != nil {
		t.Fatalf("RecentSamples: %v", err)
	}
	if len(samples) != 1 {
		t.Fatalf("len(samples) = %d, want 1", len(samples))
	}
}

func TestTick_FailedPollMarksUnreachableAndSkipsHistory(t *testing.T) {
	node := meshapi.NodeConfig{Name: "ghost", IP: "127.0.0.1", AgentPort: 1, WebPort: 1}
	mon, st := newTestMonitor(t, []meshapi.NodeConfig{node})

	mon.Tick(context.Background())

	status, _, _ := st.Snapshot()
	s := status["ghost"]
	if s.Alive {
		t.Fatalf("status[ghost].Alive = true, want false")
	}
	if s.PingMS != 9999 {
		t.Fatalf("PingMS = %v, want sentinel 9999", s.PingMS)
	}
	if s.LastError == "" {
		t.Fatalf("LastError empty, want a message")
	}

	samples, err := mon.history.RecentSamples("ghost", 10)
	if err != nil {
		t.Fatalf("RecentSamples: %v", err)
	}
	if len(samples) != 0 {
		t.Fatalf("len(samples) = %d, want 0 on failure", len(samples))
	}
}

func TestTick_MissingMaxUsersDefaultsTo100(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"name":"node-a","current_users":3,"cpu_load":5}`))
	}))
	defer srv.Close()

	node := nodeFromServer(t, "node-a", srv)
	mon, st := newTestMonitor(t, []meshapi.NodeConfig{node})
	mon.Tick(context.Background())

	status, _, _ := st.Snapshot()
	if status["node-a"].MaxUsers != 100 {
		t.Fatalf("MaxUsers = %d, want default 100", status["node-a"].MaxUsers)
	}
}

func TestTick_SweepRunsOnHourBoundary(t *testing.T) {
	node := meshapi.NodeConfig{Name: "ghost", IP: "127.0.0.1", AgentPort: 1, WebPort: 1}
	mon, _ := newTestMonitor(t, []meshapi.NodeConfig{node})
	_ = mon.history.AppendSample("ghost", meshapi.HistorySample{TimestampS: 0})

	mon.WithClock(func() time.Time { return time.Unix(90000, 0) })
	mon.Tick(context.Background())

	remaining, err := mon.history.RecentSamples("ghost", 10)
	if err != nil {
		t.Fatalf("RecentSamples: %v", err)
	}
	if len(remaining) != 0 {
		t.Fatalf("len(remaining) = %d, want 0 after sweep at hour boundary", len(remaining))
	}
}

func TestTick_PreservesCurrentMaintenanceOnFailure(t *testing.T) {
	node := meshapi.NodeConfig{Name: "ghost", IP: "127.0.0.1", AgentPort: 1, WebPort: 1}
	mon, st := newTestMonitor(t, []meshapi.NodeConfig{node})
	st.CommitStatus("ghost", meshapi.NodeStatus{})
	if err := st.SetMaintenance("ghost", true); err != nil {
		t.Fatalf("SetMaintenance: %v", err)
	}

	mon.Tick(context.Background())

	status, _, _ := st.Snapshot()
	if !status["ghost"].Maintenance {
		t.Fatalf("Maintenance = false, want preserved true")
	}
}
