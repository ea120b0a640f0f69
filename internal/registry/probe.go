package registry

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Prober checks one agent and reports its observed status and latency.
// A returned error means the probe itself failed.
type Prober interface {
	Probe(ctx context.Context, a Agent) (Status, time.Duration, error)
}

// SimulatedProber reports agents as they are recorded, without network I/O.
// Agents in the error state recover to online on the next pass.
type SimulatedProber struct {
	Latency time.Duration
}

func (p SimulatedProber) Probe(ctx context.Context, a Agent) (Status, time.Duration, error) {
	if err := ctx.Err(); err != nil {
		return "", 0, err
	}
	latency := p.Latency
	if latency == 0 {
		latency = 100 * time.Millisecond
	}
	switch a.Status {
	case "", StatusError:
		return StatusOnline, latency, nil
	default:
		return a.Status, latency, nil
	}
}

// HTTPProber performs real liveness checks. HTTP agents get a GET on
// HealthPath; websocket and grpc agents get a TCP dial to the endpoint host.
type HTTPProber struct {
	Client     *http.Client
	HealthPath string
	Timeout    time.Duration
}

// NewHTTPProber returns a prober with the given per-probe timeout.
func NewHTTPProber(timeout time.Duration) *HTTPProber {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPProber{
		Client:     &http.Client{Timeout: timeout},
		HealthPath: "/health",
		Timeout:    timeout,
	}
}

func (p *HTTPProber) Probe(ctx context.Context, a Agent) (Status, time.Duration, error) {
	ctx, cancel := context.WithTimeout(ctx, p.Timeout)
	defer cancel()

	switch a.ConnectionType {
	case ConnWebSocket, ConnGRPC:
		return p.dial(ctx, a)
	default:
		return p.get(ctx, a)
	}
}

func (p *HTTPProber) get(ctx context.Context, a Agent) (Status, time.Duration, error) {
	target := strings.TrimRight(a.Endpoint, "/") + p.HealthPath
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return "", 0, fmt.Errorf("build probe request: %w", err)
	}

	start := time.Now()
	resp, err := p.Client.Do(req)
	if err != nil {
		return "", 0, fmt.Errorf("probe %s: %w", a.Name, err)
	}
	resp.Body.Close()
	elapsed := time.Since(start)

	switch {
	case resp.StatusCode < 300:
		return StatusOnline, elapsed, nil
	case resp.StatusCode == http.StatusTooManyRequests, resp.StatusCode == http.StatusServiceUnavailable:
		return StatusBusy, elapsed, nil
	default:
		return StatusOffline, elapsed, nil
	}
}

func (p *HTTPProber) dial(ctx context.Context, a Agent) (Status, time.Duration, error) {
	host := a.Endpoint
	if u, err := url.Parse(a.Endpoint); err == nil && u.Host != "" {
		host = u.Host
	}

	var d net.Dialer
	start := time.Now()
	conn, err := d.DialContext(ctx, "tcp", host)
	if err != nil {
		return "", 0, fmt.Errorf("dial %s: %w", a.Name, err)
	}
	conn.Close()
	return StatusOnline, time.Since(start), nil
}
