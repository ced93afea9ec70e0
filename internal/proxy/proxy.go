// Package proxy implements the controller's reverse-proxy request path:
// select a backend per request, stream the request to it, and stream the
// response back unmodified except for a small set of hop-by-hop headers.
package proxy

import (
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/nodemesh/meshlb/internal/metrics"
	"github.com/nodemesh/meshlb/internal/selection"
	"github.com/nodemesh/meshlb/internal/state"
)

// BackendTimeout bounds the whole backend round trip; spec.md §5 leaves
// this implementation-defined and suggests 30s with no mid-stream
// cancellation.
const BackendTimeout = 30 * time.Second

// excludedResponseHeaders are hop-by-hop or transport-re-derived and must
// not be copied back to the client verbatim (spec.md §4.5 step 4).
var excludedResponseHeaders = map[string]struct{}{
	"Content-Encoding":  {},
	"Content-Length":    {},
	"Transfer-Encoding": {},
	"Connection":        {},
}

// Proxy serves one controller's reverse-proxy listener.
type Proxy struct {
	state   *state.Controller
	metrics *metrics.Controller
	log     *zap.Logger
	client  *http.Client
}

// New builds a Proxy bound to a controller state.
func New(st *state.Controller, m *metrics.Controller, log *zap.Logger) *Proxy {
	return &Proxy{
		state:   st,
		metrics: m,
		log:     log,
		client: &http.Client{
			Timeout: BackendTimeout,
			// The contract forwards backend redirects to the client
			// rather than following them (spec.md §4.5 step 3).
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

// ServeHTTP implements the per-request select → forward → relay path.
func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	nodes := p.state.Nodes()
	status, settings, panicState := p.state.Snapshot()
	result := selection.Select(nodes, status, settings, panicState)

	switch result.Outcome {
	case selection.OutcomeNoServers:
		p.metrics.SelectionOutcome.WithLabelValues("no_servers").Inc()
		http.Error(w, "No servers available", http.StatusServiceUnavailable)
		return
	case selection.OutcomePanic:
		p.metrics.SelectionOutcome.WithLabelValues("panic").Inc()
		http.Redirect(w, r, result.Panic.RedirectURL, http.StatusFound)
		return
	}
	p.metrics.SelectionOutcome.WithLabelValues("selected").Inc()

	backendURL := fmt.Sprintf("http://%s:%d%s", result.Node.IP, result.Node.WebPort, r.URL.RequestURI())

	req, err := http.NewRequestWithContext(r.Context(), r.Method, backendURL, r.Body)
	if err != nil {
		p.recordStatusClass(http.StatusInternalServerError)
		http.Error(w, "failed to build backend request: "+err.Error(), http.StatusInternalServerError)
		return
	}
	// Host is carried on req.Host, derived from backendURL above, not from
	// the cloned header map, so the client's Host is never forwarded.
	req.Header = r.Header.Clone()

	resp, err := p.client.Do(req)
	if err != nil {
		p.log.Warn("backend request failed", zap.String("node", result.Node.Name), zap.Error(err))
		p.recordStatusClass(http.StatusBadGateway)
		http.Error(w, "backend request failed: "+err.Error(), http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()

	for key, values := range resp.Header {
		if _, excluded := excludedResponseHeaders[http.CanonicalHeaderKey(key)]; excluded {
			continue
		}
		for _, v := range values {
			w.Header().Add(key, v)
		}
	}
	w.WriteHeader(resp.StatusCode)
	_, _ = io.Copy(w, resp.Body)

	p.recordStatusClass(resp.StatusCode)
}

func (p *Proxy) recordStatusClass(status int) {
	class := fmt.Sprintf("%dxx", status/100)
	p.metrics.ProxyRequests.WithLabelValues(class).Inc()
}

