// Package control implements the mesh controller's HTTP surface: the
// read-only status/history/best-node queries and the operator mutators
// for maintenance and panic mode.
package control

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/nodemesh/meshlb/internal/history"
	"github.com/nodemesh/meshlb/internal/meshapi"
	"github.com/nodemesh/meshlb/internal/metrics"
	"github.com/nodemesh/meshlb/internal/selection"
	"github.com/nodemesh/meshlb/internal/state"
)

// historySampleLimit is the fixed page size of GET /api/history/<node>.
const historySampleLimit = 50

// API serves the controller's control/query HTTP surface.
type API struct {
	state   *state.Controller
	history *history.Store
	metrics *metrics.Controller
	log     *zap.Logger
}

// New builds an API bound to a controller's shared state.
func New(st *state.Controller, hist *history.Store, m *metrics.Controller, log *zap.Logger) *API {
	return &API{state: st, history: hist, metrics: m, log: log}
}

// Routes registers the API's handlers on mux.
func (a *API) Routes(mux *http.ServeMux) {
	mux.HandleFunc("/api/stats", a.handleStats)
	mux.HandleFunc("/api/get-best", a.handleGetBest)
	mux.HandleFunc("/api/control/maintenance", a.handleMaintenance)
	mux.HandleFunc("/api/control/panic", a.handlePanic)
	mux.HandleFunc("/api/history/", a.handleHistory)
	mux.HandleFunc("/healthz", a.handleHealthz)
	mux.Handle("/metrics", a.metrics.Handler())
}

func (a *API) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func (a *API) handleStats(w http.ResponseWriter, r *http.Request) {
	status, _, panicState := a.state.Snapshot()
	writeJSON(w, http.StatusOK, meshapi.StatsResponse{Nodes: status, Panic: panicState})
}

func (a *API) handleGetBest(w http.ResponseWriter, r *http.Request) {
	nodes := a.state.Nodes()
	status, settings, panicState := a.state.Snapshot()
	result := selection.Select(nodes, status, settings, panicState)

	switch result.Outcome {
	case selection.OutcomePanic:
		a.metrics.SelectionOutcome.WithLabelValues("panic").Inc()
		writeJSON(w, http.StatusOK, meshapi.BestNodeResponse{Panic: true, RedirectURL: result.Panic.RedirectURL})
	case selection.OutcomeNoServers:
		a.metrics.SelectionOutcome.WithLabelValues("no_servers").Inc()
		writeJSON(w, http.StatusServiceUnavailable, meshapi.BestNodeResponse{Error: "No servers available"})
	default:
		a.metrics.SelectionOutcome.WithLabelValues("selected").Inc()
		writeJSON(w, http.StatusOK, meshapi.BestNodeResponse{IP: result.Node.IP, Port: result.Node.WebPort})
	}
}

func (a *API) handleMaintenance(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req meshapi.MaintenanceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	if err := a.state.SetMaintenance(req.Node, req.Enabled); err != nil {
		if errors.Is(err, state.ErrUnknownNode) {
			http.NotFound(w, r)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (a *API) handlePanic(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req meshapi.PanicRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	newState := a.state.SetPanic(req.Enabled, req.URL)
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "state": newState})
}

func (a *API) handleHistory(w http.ResponseWriter, r *http.Request) {
	node := strings.TrimPrefix(r.URL.Path, "/api/history/")
	if node == "" {
		http.NotFound(w, r)
		return
	}
	samples, err := a.history.RecentSamples(node, historySampleLimit)
	if err != nil {
		a.log.Warn("history read failed", zap.String("node", node), zap.Error(err))
		http.Error(w, "history unavailable", http.StatusInternalServerError)
		return
	}
	points := make([]meshapi.HistoryPoint, 0, len(samples))
	for _, s := range samples {
		points = append(points, meshapi.HistoryPoint{Time: s.TimestampS, Load: s.CPULoad, Ping: s.PingMS})
	}
	writeJSON(w, http.StatusOK, points)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
