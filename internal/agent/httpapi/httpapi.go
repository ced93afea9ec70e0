// Package httpapi implements the node agent's HTTP surface: GET /stats,
// POST /connect, POST /disconnect.
package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
	"go.uber.org/zap"

	"github.com/nodemesh/meshlb/internal/agent/profile"
	"github.com/nodemesh/meshlb/internal/agent/session"
	"github.com/nodemesh/meshlb/internal/meshapi"
	"github.com/nodemesh/meshlb/internal/metrics"
)

// Agent serves the node agent's HTTP surface over a fixed profile and
// session counter.
type Agent struct {
	profile *profile.Profile
	users   *session.Counter
	metrics *metrics.Agent
	log     *zap.Logger
}

// New constructs an Agent bound to a loaded profile and its session
// counter.
func New(p *profile.Profile, users *session.Counter, m *metrics.Agent, log *zap.Logger) *Agent {
	return &Agent{profile: p, users: users, metrics: m, log: log}
}

// Routes registers the agent's handlers on mux.
func (a *Agent) Routes(mux *http.ServeMux) {
	mux.HandleFunc("/stats", a.handleStats)
	mux.HandleFunc("/connect", a.handleConnect)
	mux.HandleFunc("/disconnect", a.handleDisconnect)
}

func (a *Agent) handleStats(w http.ResponseWriter, r *http.Request) {
	cpuLoad := instantaneousCPUPercent()
	ramUsage := ramPercent()
	temp := cpuTemperature()

	resp := meshapi.AgentStatsResponse{
		Name:         a.profile.ServerName,
		Region:       a.profile.Region,
		MaxUsers:     a.profile.MaxUsers,
		CurrentUsers: a.users.Current(),
		CPULoad:      cpuLoad,
		RAMUsage:     ramUsage,
		Temperature:  temp,
		Location:     &a.profile.Location,
		Status:       "online",
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *Agent) handleConnect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if a.users.Connect() {
		a.metrics.ConnectTotal.WithLabelValues("connected").Inc()
		a.metrics.CurrentUsers.Set(float64(a.users.Current()))
		writeJSON(w, http.StatusOK, meshapi.ConnectResponse{Status: "connected", Server: a.profile.ServerName})
		return
	}
	a.metrics.ConnectTotal.WithLabelValues("full").Inc()
	writeJSON(w, http.StatusServiceUnavailable, meshapi.ConnectResponse{Status: "full"})
}

func (a *Agent) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	a.users.Disconnect()
	a.metrics.DisconnectTotal.Inc()
	a.metrics.CurrentUsers.Set(float64(a.users.Current()))
	writeJSON(w, http.StatusOK, meshapi.DisconnectResponse{Status: "disconnected"})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// instantaneousCPUPercent is a non-blocking read of the most recent CPU
// percent sample; gopsutil returns 0 until a prior interval has elapsed,
// which is acceptable for a liveness-style stats endpoint.
func instantaneousCPUPercent() float64 {
	percents, err := cpu.Percent(0, false)
	if err != nil || len(percents) == 0 {
		return 0
	}
	return percents[0]
}

func ramPercent() float64 {
	vm, err := mem.VirtualMemory()
	if err != nil {
		return 0
	}
	return vm.UsedPercent
}

// cpuTemperature returns nil when the platform exposes no sensors, per
// spec.md's "temperature may be null if unavailable".
func cpuTemperature() *float64 {
	sensors, err := host.SensorsTemperatures()
	if err != nil || len(sensors) == 0 {
		return nil
	}
	t := sensors[0].Temperature
	return &t
}
