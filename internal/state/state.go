// Package state owns the controller's single mutable value: the live
// status map, the per-node operator settings, and the global panic state,
// all mediated by one short-lived sync.RWMutex rather than the source's
// incidentally-synchronized global dictionaries.
package state

import (
	"errors"
	"sync"

	"github.com/nodemesh/meshlb/internal/meshapi"
)

// ErrUnknownNode is returned by control-plane mutators for a node name not
// present in the static configuration.
var ErrUnknownNode = errors.New("unknown node")

// Controller holds the status map, operator settings, and panic state for
// one controller process. The monitor loop is the only writer of status;
// control-plane handlers are the only writer of settings and panic state.
// Neither holds the lock across outbound I/O: callers snapshot needed
// fields, release, perform I/O, then re-acquire to commit.
type Controller struct {
	mu sync.RWMutex

	nodes    []meshapi.NodeConfig
	status   map[string]meshapi.NodeStatus
	settings map[string]meshapi.OperatorSettings
	panic    meshapi.PanicState
}

// New builds a Controller for a fixed, ordered node list. The order is
// preserved for selection's stable tie-break (spec.md §4.4).
func New(nodes []meshapi.NodeConfig, defaultPanicURL string) *Controller {
	settings := make(map[string]meshapi.OperatorSettings, len(nodes))
	for _, n := range nodes {
		settings[n.Name] = meshapi.OperatorSettings{Weight: 1.0}
	}
	return &Controller{
		nodes:    append([]meshapi.NodeConfig(nil), nodes...),
		status:   make(map[string]meshapi.NodeStatus, len(nodes)),
		settings: settings,
		panic:    meshapi.PanicState{Enabled: false, RedirectURL: defaultPanicURL},
	}
}

// Nodes returns the static node list in its configured order.
func (c *Controller) Nodes() []meshapi.NodeConfig {
	return append([]meshapi.NodeConfig(nil), c.nodes...)
}

// CommitStatus overwrites one node's status row atomically with respect to
// all other readers, lazily creating its operator settings entry if this
// is the node's first appearance (spec.md §3's data-model lifecycle rule).
func (c *Controller) CommitStatus(name string, status meshapi.NodeStatus) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.status[name] = status
	if _, ok := c.settings[name]; !ok {
		c.settings[name] = meshapi.OperatorSettings{Weight: 1.0}
	}
}

// Snapshot returns defensive copies of the status map, settings map, and
// panic state as of one consistent instant. Selection operates entirely
// against the returned snapshot, never against live maps.
func (c *Controller) Snapshot() (status map[string]meshapi.NodeStatus, settings map[string]meshapi.OperatorSettings, panicState meshapi.PanicState) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	status = make(map[string]meshapi.NodeStatus, len(c.status))
	for k, v := range c.status {
		status[k] = v
	}
	settings = make(map[string]meshapi.OperatorSettings, len(c.settings))
	for k, v := range c.settings {
		settings[k] = v
	}
	return status, settings, c.panic
}

// MaintenanceOf returns the current maintenance flag for a node, used by
// the monitor loop when reporting a poll failure (spec.md §4.3 step 4
// preserves the operator's current setting rather than resetting it).
func (c *Controller) MaintenanceOf(name string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.settings[name].Maintenance
}

// SetMaintenance toggles a node's maintenance flag. It fails with
// ErrUnknownNode if the node has no operator settings entry, that is, if it
// is neither in the configured node list nor has appeared in the status map.
func (c *Controller) SetMaintenance(name string, enabled bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.settings[name]
	if !ok {
		return ErrUnknownNode
	}
	s.Maintenance = enabled
	c.settings[name] = s
	return nil
}

// SetPanic updates the global panic state, leaving redirect_url unchanged
// when url is nil, and returns the new state.
func (c *Controller) SetPanic(enabled bool, url *string) meshapi.PanicState {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.panic.Enabled = enabled
	if url != nil {
		c.panic.RedirectURL = *url
	}
	return c.panic
}

// Panic returns the current panic state.
func (c *Controller) Panic() meshapi.PanicState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.panic
}
