// Package balancer forwards client requests to the worker pool.
//
// Workers are picked in strict rotation over the slot ports fixed at startup.
// The balancer does not look at worker health: a request routed to a dead
// worker fails with 500 and the next request moves on to the next port.
package balancer

import (
	"errors"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strconv"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/dreamware/usercluster/internal/metrics"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// RoundRobin hands out ports in rotation. Safe for concurrent use.
type RoundRobin struct {
	ports  []int
	cursor atomic.Uint64
}

// NewRoundRobin creates a rotation over ports. The list must not be empty.
func NewRoundRobin(ports []int) *RoundRobin {
	return &RoundRobin{ports: append([]int(nil), ports...)}
}

// Next returns the port for the next request and advances the cursor.
func (r *RoundRobin) Next() int {
	n := r.cursor.Inc() - 1
	return r.ports[n%uint64(len(r.ports))]
}

// Balancer is the public HTTP entry point of the coordinator.
type Balancer struct {
	rr      *RoundRobin
	proxies map[int]http.Handler
	logger  *zap.SugaredLogger
	metrics *metrics.Metrics
}

// New creates a balancer over workers listening on host:port for each port.
// The metrics may be nil.
func New(host string, ports []int, logger *zap.SugaredLogger, m *metrics.Metrics) (*Balancer, error) {
	if len(ports) == 0 {
		return nil, errors.New("balancer needs at least one worker port")
	}

	b := &Balancer{
		rr:      NewRoundRobin(ports),
		proxies: make(map[int]http.Handler, len(ports)),
		logger:  logger.Named("balancer"),
		metrics: m,
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	for _, port := range ports {
		target := &url.URL{Scheme: "http", Host: net.JoinHostPort(host, strconv.Itoa(port))}
		b.proxies[port] = b.newProxy(target, port, transport)
	}
	return b, nil
}

func (b *Balancer) newProxy(target *url.URL, port int, transport http.RoundTripper) *httputil.ReverseProxy {
	portLabel := strconv.Itoa(port)
	return &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(target)
			// Forward the client's Host header unchanged
			pr.Out.Host = pr.In.Host
		},
		Transport:     transport,
		FlushInterval: -1,
		ErrorHandler: func(w http.ResponseWriter, req *http.Request, err error) {
			b.metrics.IncProxyErrors(portLabel)
			b.logger.Errorf("proxy error for %s %s to port %d: %s", req.Method, req.URL.RequestURI(), port, err)
			writeInternalError(w)
		},
	}
}

// ServeHTTP forwards the request to the next worker and streams its response back.
func (b *Balancer) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	port := b.rr.Next()
	b.metrics.IncProxiedRequests(strconv.Itoa(port))
	b.logger.Debugf("%s %s -> port %d", req.Method, req.URL.RequestURI(), port)
	b.proxies[port].ServeHTTP(w, req)
}

func writeInternalError(w http.ResponseWriter) {
	body, _ := json.Marshal(map[string]string{"error": "Internal server error"})
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusInternalServerError)
	_, _ = w.Write(body)
}
