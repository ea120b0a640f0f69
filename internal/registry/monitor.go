package registry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Pruner drops terminal records older than a retention window.
type Pruner interface {
	Prune(olderThan time.Duration) int
}

// MonitorConfig sets the monitor's job intervals. Zero disables a job.
type MonitorConfig struct {
	DiscoveryInterval time.Duration
	HeartbeatInterval time.Duration
	SweepInterval     time.Duration
	JobTimeout        time.Duration
}

type retention struct {
	name   string
	pruner Pruner
	window time.Duration
}

// Monitor owns the periodic discovery, heartbeat and retention jobs.
type Monitor struct {
	registry *Registry
	cfg      MonitorConfig
	cron     *cron.Cron
	pruners  []retention
	running  bool
	mu       sync.Mutex
	logger   *zap.Logger
}

// NewMonitor creates a stopped monitor for the registry.
func NewMonitor(r *Registry, cfg MonitorConfig, logger *zap.Logger) *Monitor {
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = 30 * time.Second
	}
	return &Monitor{registry: r, cfg: cfg, logger: logger}
}

// AddPruner registers a retention target swept by the monitor.
func (m *Monitor) AddPruner(name string, p Pruner, window time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pruners = append(m.pruners, retention{name: name, pruner: p, window: window})
}

// Start schedules the jobs. Calling Start twice is an error.
func (m *Monitor) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return fmt.Errorf("monitor already running")
	}

	jobLog := cronLogger{m.logger.Sugar()}
	c := cron.New(cron.WithChain(
		cron.SkipIfStillRunning(jobLog),
		cron.Recover(jobLog),
	))
	jobs := []struct {
		every time.Duration
		fn    func()
	}{
		{m.cfg.DiscoveryInterval, m.refresh},
		{m.cfg.HeartbeatInterval, m.heartbeat},
		{m.cfg.SweepInterval, func() { m.Sweep() }},
	}
	for _, j := range jobs {
		if j.every <= 0 {
			continue
		}
		if _, err := c.AddFunc("@every "+j.every.String(), j.fn); err != nil {
			return fmt.Errorf("schedule job: %w", err)
		}
	}
	c.Start()
	m.cron = c
	m.running = true

	m.logger.Info("monitor started",
		zap.Duration("discovery", m.cfg.DiscoveryInterval),
		zap.Duration("heartbeat", m.cfg.HeartbeatInterval),
		zap.Duration("sweep", m.cfg.SweepInterval))
	return nil
}

// Stop halts scheduling and waits for running jobs or ctx, whichever ends first.
func (m *Monitor) Stop(ctx context.Context) {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	done := m.cron.Stop()
	m.running = false
	m.mu.Unlock()

	select {
	case <-done.Done():
	case <-ctx.Done():
		m.logger.Warn("monitor stop timed out")
	}
	m.logger.Info("monitor stopped")
}

// Running reports whether the jobs are scheduled.
func (m *Monitor) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

func (m *Monitor) refresh() {
	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.JobTimeout)
	defer cancel()
	res, err := m.registry.Discover(ctx, Filter{})
	if err != nil {
		m.logger.Warn("discovery refresh failed", zap.Error(err))
		return
	}
	m.logger.Debug("discovery refresh", zap.Int("found", res.Count), zap.Bool("error", res.Metadata.Error))
}

func (m *Monitor) heartbeat() {
	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.JobTimeout)
	defer cancel()
	m.registry.HealthCheckAll(ctx)
}

// Sweep runs every registered pruner once and returns the total removed.
func (m *Monitor) Sweep() int {
	m.mu.Lock()
	targets := append([]retention(nil), m.pruners...)
	m.mu.Unlock()

	total := 0
	for _, t := range targets {
		n := t.pruner.Prune(t.window)
		if n > 0 {
			m.logger.Info("pruned records", zap.String("store", t.name), zap.Int("removed", n))
		}
		total += n
	}
	return total
}

// cronLogger routes job skips and recovered panics to zap.
type cronLogger struct {
	s *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.s.Infow("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.s.Errorw("cron: "+msg, append(keysAndValues, "error", err)...)
}
