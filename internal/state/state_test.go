package state

import (
	"errors"
	"sync"
	"testing"

	"github.com/nodemesh/meshlb/internal/meshapi"
)

func testNodes() []meshapi.NodeConfig {
	return []meshapi.NodeConfig{
		{Name: "a", IP: "10.0.0.1", AgentPort: 9000, WebPort: 8080},
		{Name: "b", IP: "10.0.0.2", AgentPort: 9000, WebPort: 8080},
	}
}

func TestNew_CreatesSettingsForConfiguredNodes(t *testing.T) {
	c := New(testNodes(), "https://fallback")
	_, settings, panicState := c.Snapshot()
	if len(settings) != 2 {
		t.Fatalf("len(settings) = %d, want 2", len(settings))
	}
	if panicState.Enabled {
		t.Fatalf("panic state should start disabled")
	}
	if panicState.RedirectURL != "https://fallback" {
		t.Fatalf("RedirectURL = %q, want default", panicState.RedirectURL)
	}
}

func TestCommitStatus_EveryStatusNodeHasSettings(t *testing.T) {
	c := New(nil, "")
	c.CommitStatus("new-node", meshapi.NodeStatus{Alive: true})

	status, settings, _ := c.Snapshot()
	if _, ok := status["new-node"]; !ok {
		t.Fatalf("status missing new-node")
	}
	if _, ok := settings["new-node"]; !ok {
		t.Fatalf("settings missing new-node after first appearance")
	}
}

func TestSetMaintenance_UnknownNodeErrors(t *testing.T) {
	c := New(testNodes(), "")
	if err := c.SetMaintenance("ghost", true); !errors.Is(err, ErrUnknownNode) {
		t.Fatalf("err = %v, want ErrUnknownNode", err)
	}
}

func TestSetMaintenance_KnownNode(t *testing.T) {
	c := New(testNodes(), "")
	if err := c.SetMaintenance("a", true); err != nil {
		t.Fatalf("SetMaintenance: %v", err)
	}
	_, settings, _ := c.Snapshot()
	if !settings["a"].Maintenance {
		t.Fatalf("settings[a].Maintenance = false, want true")
	}
}

func TestSetPanic_PreservesURLWhenNil(t *testing.T) {
	c := New(testNodes(), "https://default")
	c.SetPanic(true, nil)
	p := c.Panic()
	if !p.Enabled || p.RedirectURL != "https://default" {
		t.Fatalf("panic state = %+v, want enabled with default URL preserved", p)
	}

	url := "https://override"
	c.SetPanic(true, &url)
	p = c.Panic()
	if p.RedirectURL != "https://override" {
		t.Fatalf("RedirectURL = %q, want override", p.RedirectURL)
	}
}

func TestConcurrentCommitAndSnapshot_NoTornReads(t *testing.T) {
	c := New(testNodes(), "")
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c.CommitStatus("a", meshapi.NodeStatus{Alive: true, PingMS: float64(i), CPULoad: float64(i)})
		}(i)
	}
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			status, _, _ := c.Snapshot()
			s := status["a"]
			if s.PingMS != s.CPULoad && s.Alive {
				t.Errorf("torn read: ping=%v load=%v should always be set together in this test", s.PingMS, s.CPULoad)
			}
		}()
	}
	wg.Wait()
}
