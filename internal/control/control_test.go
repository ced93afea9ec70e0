package control

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"go.uber.org/zap"

	"github.com/nodemesh/meshlb/internal/history"
	"github.com/nodemesh/meshlb/internal/meshapi"
	"github.com/nodemesh/meshlb/internal/metrics"
	"github.com/nodemesh/meshlb/internal/state"
)

func newTestAPI(t *testing.T, nodes []meshapi.NodeConfig) (*API, *state.Controller, *history.Store) {
	t.Helper()
	st := state.New(nodes, "https://fallback")
	hist, err := history.Open(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("history.Open: %v", err)
	}
	t.Cleanup(func() { hist.Close() })
	return New(st, hist, metrics.NewController(), zap.NewNop()), st, hist
}

func TestHandleGetBest_NoServersReturns503(t *testing.T) {
	a, _, _ := newTestAPI(t, nil)
	mux := http.NewServeMux()
	a.Routes(mux)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/get-best", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
}

func TestHandleGetBest_SelectedNode(t *testing.T) {
	node := meshapi.NodeConfig{Name: "a", IP: "10.0.0.5", WebPort: 9090}
	a, st, _ := newTestAPI(t, []meshapi.NodeConfig{node})
	st.CommitStatus("a", meshapi.NodeStatus{Alive: true, MaxUsers: 10})

	mux := http.NewServeMux()
	a.Routes(mux)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/get-best", nil))

	var resp meshapi.BestNodeResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.IP != "10.0.0.5" || resp.Port != 9090 {
		t.Fatalf("resp = %+v, want node a", resp)
	}
}

func TestHandleMaintenance_UnknownNode404(t *testing.T) {
	a, _, _ := newTestAPI(t, nil)
	mux := http.NewServeMux()
	a.Routes(mux)

	body, _ := json.Marshal(meshapi.MaintenanceRequest{Node: "ghost", Enabled: true})
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/control/maintenance", bytes.NewReader(body)))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestHandleMaintenance_ExcludesNodeFromNextGetBest(t *testing.T) {
	a, st, _ := newTestAPI(t, []meshapi.NodeConfig{
		{Name: "a", IP: "10.0.0.1", WebPort: 1},
		{Name: "b", IP: "10.0.0.2", WebPort: 2},
	})
	st.CommitStatus("a", meshapi.NodeStatus{Alive: true, MaxUsers: 10, PingMS: 1})
	st.CommitStatus("b", meshapi.NodeStatus{Alive: true, MaxUsers: 10, PingMS: 50})

	mux := http.NewServeMux()
	a.Routes(mux)

	body, _ := json.Marshal(meshapi.MaintenanceRequest{Node: "a", Enabled: true})
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/control/maintenance", bytes.NewReader(body)))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	best := httptest.NewRecorder()
	mux.ServeHTTP(best, httptest.NewRequest(http.MethodGet, "/api/get-best", nil))
	var resp meshapi.BestNodeResponse
	_ = json.Unmarshal(best.Body.Bytes(), &resp)
	if resp.IP != "10.0.0.2" {
		t.Fatalf("resp = %+v, want node b selected after maintenance", resp)
	}
}

func TestHandlePanic_TogglesState(t *testing.T) {
	a, _, _ := newTestAPI(t, nil)
	mux := http.NewServeMux()
	a.Routes(mux)

	url := "https://panic.example"
	body, _ := json.Marshal(meshapi.PanicRequest{Enabled: true, URL: &url})
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/control/panic", bytes.NewReader(body)))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	best := httptest.NewRecorder()
	mux.ServeHTTP(best, httptest.NewRequest(http.MethodGet, "/api/get-best", nil))
	var resp meshapi.BestNodeResponse
	_ = json.Unmarshal(best.Body.Bytes(), &resp)
	if !resp.Panic || resp.RedirectURL != url {
		t.Fatalf("resp = %+v, want panic redirect to %q", resp, url)
	}
}

func TestHandleHistory_ReturnsOldestFirstCappedAt50(t *testing.T) {
	a, _, hist := newTestAPI(t, nil)
	for i := int64(0); i < 60; i++ {
		_ = hist.AppendSample("a", meshapi.HistorySample{TimestampS: i, CPULoad: float64(i), PingMS: float64(i)})
	}

	mux := http.NewServeMux()
	a.Routes(mux)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/history/a", nil))

	var points []meshapi.HistoryPoint
	if err := json.Unmarshal(rec.Body.Bytes(), &points); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(points) != 50 {
		t.Fatalf("len(points) = %d, want 50", len(points))
	}
	if points[0].Time != 10 || points[len(points)-1].Time != 59 {
		t.Fatalf("points range = [%d, %d], want [10, 59]", points[0].Time, points[len(points)-1].Time)
	}
}
