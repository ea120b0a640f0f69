package registry

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/nidhogg/mesh/internal/events"
	"github.com/nidhogg/mesh/internal/metrics"
	"go.uber.org/zap"
)

// Registry is the in-memory directory of known agents.
// Records are only ever inserted or overwritten; nothing is evicted.
type Registry struct {
	agents  map[string]*Agent
	mu      sync.RWMutex
	source  Source
	prober  Prober
	bus     events.Publisher
	metrics *metrics.Metrics
	now     func() time.Time
	logger  *zap.Logger
}

// Option configures a Registry.
type Option func(*Registry)

// WithPublisher emits agent status events to the bus.
func WithPublisher(p events.Publisher) Option {
	return func(r *Registry) { r.bus = p }
}

// WithMetrics records probe failures and status gauges.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Registry) { r.metrics = m }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// New creates a registry backed by the given discovery source and prober.
func New(source Source, prober Prober, logger *zap.Logger, opts ...Option) *Registry {
	r := &Registry{
		agents: make(map[string]*Agent),
		source: source,
		prober: prober,
		bus:    events.Nop{},
		now:    time.Now,
		logger: logger,
	}
	for _, o := range opts {
		o(r)
	}
	if r.prober == nil {
		r.prober = SimulatedProber{}
	}
	return r
}

// Register inserts or overwrites an agent by name.
func (r *Registry) Register(a Agent) error {
	if a.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidAgent)
	}
	if a.Status == "" {
		a.Status = StatusOffline
	}
	if a.ConnectionType == "" {
		a.ConnectionType = ConnHTTP
	}
	if a.LastSeen.IsZero() {
		a.LastSeen = r.now()
	}
	c := a.clone()

	r.mu.Lock()
	if prev, ok := r.agents[a.Name]; ok {
		c.Failures = prev.Failures
	}
	r.agents[a.Name] = &c
	r.mu.Unlock()

	r.logger.Info("registered agent",
		zap.String("agent", a.Name),
		zap.String("status", string(a.Status)))
	r.refreshGauge()
	return nil
}

// Discover queries the source, filters and truncates the candidates and
// merges them into the cache. Source failures are reported in the result.
func (r *Registry) Discover(ctx context.Context, f Filter) (*DiscoveryResult, error) {
	if f.MaxResults < 0 {
		return nil, fmt.Errorf("%w: max_results must not be negative", ErrInvalidFilter)
	}
	if f.MaxResults == 0 {
		f.MaxResults = DefaultMaxResults
	}

	meta := DiscoveryMetadata{
		Timestamp:       r.now(),
		FilterApplied:   f.Capability,
		ProtocolVersion: f.Protocol,
	}

	r.logger.Debug("discovering agents",
		zap.String("capability", f.Capability),
		zap.String("protocol", f.Protocol))

	candidates, err := r.source.Query(ctx, f)
	if err != nil {
		r.logger.Warn("agent discovery failed", zap.Error(err))
		meta.Error = true
		meta.TotalDiscovered = r.Len()
		return &DiscoveryResult{Agents: []Agent{}, Error: err.Error(), Metadata: meta}, nil
	}

	found := make([]Agent, 0, len(candidates))
	for i := range candidates {
		if !f.match(&candidates[i]) {
			continue
		}
		found = append(found, candidates[i])
		if len(found) == f.MaxResults {
			break
		}
	}

	now := r.now()
	r.mu.Lock()
	for i := range found {
		c := found[i].clone()
		c.LastSeen = now
		if prev, ok := r.agents[c.Name]; ok {
			c.Failures = prev.Failures
		}
		r.agents[c.Name] = &c
		found[i] = c.clone()
	}
	meta.TotalDiscovered = len(r.agents)
	r.mu.Unlock()

	r.refreshGauge()
	return &DiscoveryResult{Agents: found, Count: len(found), Metadata: meta}, nil
}

// Get returns a copy of the named agent.
func (r *Registry) Get(name string) (Agent, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.agents[name]
	if !ok {
		return Agent{}, false
	}
	return a.clone(), true
}

// GetStatus returns the status view of an agent, or false when unknown.
func (r *Registry) GetStatus(name string) (StatusSnapshot, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.agents[name]
	if !ok {
		return StatusSnapshot{}, false
	}
	c := a.clone()
	return StatusSnapshot{
		Name:           c.Name,
		Status:         c.Status,
		LastSeen:       c.LastSeen,
		ResponseTimeMS: c.ResponseTimeMS,
		Capabilities:   c.Capabilities,
		Endpoint:       c.Endpoint,
		Failures:       c.Failures,
	}, true
}

// ListAvailable returns the online agents, optionally narrowed to a capability.
func (r *Registry) ListAvailable(capability string) []Agent {
	r.mu.RLock()
	out := make([]Agent, 0, len(r.agents))
	for _, a := range r.agents {
		if a.Status != StatusOnline {
			continue
		}
		if capability != "" && !a.HasCapability(capability) {
			continue
		}
		out = append(out, a.clone())
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// List returns every known agent sorted by name.
func (r *Registry) List() []Agent {
	r.mu.RLock()
	out := make([]Agent, 0, len(r.agents))
	for _, a := range r.agents {
		out = append(out, a.clone())
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Len returns the cache size.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.agents)
}

// SetStatus overwrites an agent's status.
func (r *Registry) SetStatus(name string, s Status) bool {
	r.mu.Lock()
	a, ok := r.agents[name]
	var from Status
	if ok {
		from = a.Status
		a.Status = s
		a.LastSeen = r.now()
	}
	r.mu.Unlock()

	if ok && from != s {
		r.statusChanged(context.Background(), name, from, s)
	}
	return ok
}

// Failures returns the probe failure count of an agent.
func (r *Registry) Failures(name string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if a, ok := r.agents[name]; ok {
		return a.Failures
	}
	return 0
}

// HealthReport summarizes one health-check pass.
type HealthReport struct {
	Checked int               `json:"checked"`
	Failed  int               `json:"failed"`
	Status  map[string]Status `json:"status"`
}

// HealthCheckAll probes every known agent and records the outcome.
// Probes run without holding the registry lock.
func (r *Registry) HealthCheckAll(ctx context.Context) HealthReport {
	targets := r.List()
	report := HealthReport{Status: make(map[string]Status, len(targets))}

	for _, t := range targets {
		if ctx.Err() != nil {
			break
		}
		status, latency, err := r.prober.Probe(ctx, t)
		report.Checked++

		r.mu.Lock()
		a, ok := r.agents[t.Name]
		if !ok {
			r.mu.Unlock()
			continue
		}
		from := a.Status
		if err != nil {
			a.Status = StatusError
			a.Failures++
		} else {
			a.Status = status
			a.LastSeen = r.now()
			ms := latency.Milliseconds()
			a.ResponseTimeMS = &ms
		}
		to := a.Status
		failures := a.Failures
		r.mu.Unlock()

		report.Status[t.Name] = to
		if err != nil {
			report.Failed++
			r.metrics.ProbeFailed(t.Name)
			r.logger.Warn("health check failed",
				zap.String("agent", t.Name),
				zap.Int("failures", failures),
				zap.Error(err))
		}
		if from != to {
			r.statusChanged(ctx, t.Name, from, to)
		}
	}

	r.refreshGauge()
	r.logger.Debug("health check pass complete",
		zap.Int("checked", report.Checked),
		zap.Int("failed", report.Failed))
	return report
}

func (r *Registry) statusChanged(ctx context.Context, name string, from, to Status) {
	r.logger.Info("agent status changed",
		zap.String("agent", name),
		zap.String("from", string(from)),
		zap.String("to", string(to)))
	err := r.bus.Publish(ctx, &events.Event{
		Type:    events.AgentStatus,
		Subject: name,
		Payload: map[string]any{"from": string(from), "to": string(to)},
	})
	if err != nil {
		r.logger.Warn("publish agent status failed", zap.String("agent", name), zap.Error(err))
	}
}

func (r *Registry) refreshGauge() {
	if r.metrics == nil {
		return
	}
	counts := make(map[string]int)
	r.mu.RLock()
	for _, a := range r.agents {
		counts[string(a.Status)]++
	}
	r.mu.RUnlock()
	r.metrics.SetAgents(counts)
}
