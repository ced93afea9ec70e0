// Package meshapi defines the wire types shared by the mesh agent and the
// mesh controller: the node descriptor, the live status row, history
// samples, and the control-plane request/response shapes.
package meshapi

import "time"

// NodeConfig is the static, controller-side description of a node. It is
// immutable for the controller's lifetime.
type NodeConfig struct {
	Name      string `mapstructure:"name" json:"name"`
	IP        string `mapstructure:"ip" json:"ip"`
	AgentPort int    `mapstructure:"agent_port" json:"agent_port"`
	WebPort   int    `mapstructure:"web_port" json:"web_port"`
}

// Location is an optional, agent-reported geographic hint for a node.
type Location struct {
	Lat  float64 `json:"lat"`
	Lon  float64 `json:"lon"`
	City string  `json:"city"`
}

// NodeStatus is the dynamic, controller-side view of one node, fully
// overwritten on each successful poll and replaced wholesale (never
// partially patched) on failure. PingMS carries the sentinel 9999 when the
// node is unreachable.
type NodeStatus struct {
	Alive         bool      `json:"alive"`
	PingMS        float64   `json:"ping_ms"`
	CurrentUsers  int       `json:"current_users"`
	MaxUsers      int       `json:"max_users"`
	CPULoad       float64   `json:"cpu_load"`
	TemperatureC  *float64  `json:"temperature_c,omitempty"`
	Watts         *float64  `json:"watts,omitempty"`
	Location      *Location `json:"location,omitempty"`
	LastUpdatedTS int64     `json:"last_updated_ts"`
	LastError     string    `json:"last_error,omitempty"`
	Maintenance   bool      `json:"maintenance"`
}

// OperatorSettings are the per-node, control-plane-owned settings. They are
// created for every configured node when the controller state is built,
// and lazily for any other node on its first status commit; they are never
// deleted.
type OperatorSettings struct {
	Maintenance bool    `json:"maintenance"`
	Weight      float64 `json:"weight"`
}

// PanicState is the process-wide override that replaces selection with a
// static redirect.
type PanicState struct {
	Enabled     bool   `json:"enabled"`
	RedirectURL string `json:"redirect_url"`
}

// HistorySample is one time-series data point, appended once per successful
// poll.
type HistorySample struct {
	TimestampS int64   `json:"time"`
	NodeName   string  `json:"-"`
	CPULoad    float64 `json:"load"`
	PingMS     float64 `json:"ping"`
	Users      int     `json:"-"`
}

// AgentStatsResponse is the body of the agent's GET /stats.
type AgentStatsResponse struct {
	Name         string    `json:"name"`
	Region       string    `json:"region"`
	MaxUsers     int       `json:"max_users"`
	CurrentUsers int       `json:"current_users"`
	CPULoad      float64   `json:"cpu_load"`
	RAMUsage     float64   `json:"ram_usage"`
	Temperature  *float64  `json:"temperature"`
	Watts        float64   `json:"watts"`
	Location     *Location `json:"location"`
	Status       string    `json:"status"`
}

// ConnectResponse is the body returned by the agent's POST /connect.
type ConnectResponse struct {
	Status string `json:"status"`
	Server string `json:"server,omitempty"`
}

// DisconnectResponse is the body returned by the agent's POST /disconnect.
type DisconnectResponse struct {
	Status string `json:"status"`
}

// BestNodeResponse is the body of the controller's GET /api/get-best.
type BestNodeResponse struct {
	IP          string `json:"ip,omitempty"`
	Port        int    `json:"port,omitempty"`
	Panic       bool   `json:"panic,omitempty"`
	RedirectURL string `json:"redirect_url,omitempty"`
	Error       string `json:"error,omitempty"`
}

// MaintenanceRequest is the body of POST /api/control/maintenance.
type MaintenanceRequest struct {
	Node    string `json:"node"`
	Enabled bool   `json:"enabled"`
}

// PanicRequest is the body of POST /api/control/panic.
type PanicRequest struct {
	Enabled bool    `json:"enabled"`
	URL     *string `json:"url,omitempty"`
}

// StatsResponse is the body of GET /api/stats.
type StatsResponse struct {
	Nodes map[string]NodeStatus `json:"nodes"`
	Panic PanicState            `json:"panic"`
}

// HistoryPoint is one entry of the GET /api/history/<node> array.
type HistoryPoint struct {
	Time int64   `json:"time"`
	Load float64 `json:"load"`
	Ping float64 `json:"ping"`
}

// Clock lets callers stub out time in tests without patching the package
// clock globally.
type Clock func() time.Time

// RealClock is the production Clock.
func RealClock() time.Time { return time.Now() }
