package monitor

import (
	"context"
	"fmt"
	"time"

	"github.com/rdpwake/rdpwake/internal/logger"
	"github.com/rdpwake/rdpwake/pkg/metrics"
	"github.com/rdpwake/rdpwake/pkg/monitor/ts"
)

// DefaultRDPPort is the Remote Desktop service port.
const DefaultRDPPort = 3389

// DefaultAuxPort is the fixed auxiliary management port probed alongside
// the service port (RPC endpoint mapper).
const DefaultAuxPort = 135

// Options configures a Monitor. The zero value is usable; New fills every
// unset field with the production default.
type Options struct {
	// Client is the Terminal Services capability. Defaults to the native
	// implementation for the build platform.
	Client ts.Client

	// Metrics receives instrumentation events. Nil disables metrics with
	// zero overhead.
	Metrics metrics.MonitorMetrics

	// ProbeTimeout bounds each TCP connect probe. Default 200ms.
	ProbeTimeout time.Duration

	// OpenTimeout bounds opening a session-service connection.
	// Default 1s.
	OpenTimeout time.Duration

	// EnumTimeout bounds one enumeration pass. The native enumeration
	// calls have no timeout of their own, so the monitor imposes one.
	// Default 5s.
	EnumTimeout time.Duration

	// OsCacheTTL is the in-memory classification lifetime. Default 10m.
	OsCacheTTL time.Duration

	// HandleIdleTimeout is how long an unused pooled handle survives.
	// Default 30m.
	HandleIdleTimeout time.Duration

	// SweepInterval is the cadence of the idle-handle sweep. Default 5m.
	SweepInterval time.Duration

	// AuxPort is the auxiliary probe port. Default 135.
	AuxPort int

	// Dial overrides the TCP dialer used by the prober (tests).
	Dial DialFunc

	// Resolve overrides host-name qualification (tests).
	Resolve ResolveFunc

	// Now overrides the clock (tests).
	Now func() time.Time
}

// applyDefaults fills unset options with production values.
func (o *Options) applyDefaults() {
	if o.Client == nil {
		o.Client = ts.NewNative()
	}
	if o.ProbeTimeout == 0 {
		o.ProbeTimeout = 200 * time.Millisecond
	}
	if o.OpenTimeout == 0 {
		o.OpenTimeout = time.Second
	}
	if o.EnumTimeout == 0 {
		o.EnumTimeout = 5 * time.Second
	}
	if o.OsCacheTTL == 0 {
		o.OsCacheTTL = 10 * time.Minute
	}
	if o.HandleIdleTimeout == 0 {
		o.HandleIdleTimeout = 30 * time.Minute
	}
	if o.SweepInterval == 0 {
		o.SweepInterval = 5 * time.Minute
	}
	if o.AuxPort == 0 {
		o.AuxPort = DefaultAuxPort
	}
	if o.Dial == nil {
		o.Dial = defaultDialer
	}
	if o.Resolve == nil {
		o.Resolve = defaultResolver
	}
	if o.Now == nil {
		o.Now = time.Now
	}
}

// Monitor owns the session-check pipeline and all per-host caches. Create
// one with New, share it across the process, and Close it on shutdown to
// stop the sweep loop and release pooled handles.
type Monitor struct {
	opts    Options
	client  ts.Client
	mm      metrics.MonitorMetrics
	now     func() time.Time
	dial    DialFunc
	flags   flagStore
	handles *handlePool
	osCache *osCache

	stop chan struct{}
	done chan struct{}
}

// New creates a Monitor and starts its background sweep loop.
func New(opts Options) *Monitor {
	opts.applyDefaults()

	m := &Monitor{
		opts:   opts,
		client: opts.Client,
		mm:     opts.Metrics,
		now:    opts.Now,
		dial:   opts.Dial,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	m.handles = newHandlePool(opts.Client, opts.Metrics, opts.Now, opts.Resolve,
		opts.OpenTimeout, opts.HandleIdleTimeout)
	m.osCache = newOsCache(opts.OsCacheTTL, opts.Now)

	go m.sweepLoop()
	return m
}

// Close stops the sweep loop and releases every pooled handle.
func (m *Monitor) Close() {
	close(m.stop)
	<-m.done
	m.handles.closeAll()
}

// sweepLoop evicts idle handles on a fixed cadence until Close.
func (m *Monitor) sweepLoop() {
	defer close(m.done)

	ticker := time.NewTicker(m.opts.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.handles.sweep()
		case <-m.stop:
			return
		}
	}
}

// CurrentUser returns the local user name the policy comparison runs
// against.
func (m *Monitor) CurrentUser() string {
	return m.client.CurrentUser()
}

// CheckSessions runs the full check pipeline against host:port.
//
// cached, when non-nil, is a classification from long-term storage that
// the caller has already age-gated (<=30 days); it seeds the in-memory OS
// cache. The returned result is always non-nil: every failure mode
// manifests as result fields, never as a panic or error return. Internal
// faults fail open - the result carries the error text and
// Connectable=true, preferring to let the user proceed over blocking on a
// monitor bug.
func (m *Monitor) CheckSessions(ctx context.Context, host string, port int, cached *OsClassification) (result *SessionCheckResult) {
	if port == 0 {
		port = DefaultRDPPort
	}

	start := m.now()
	outcome := "ok"
	result = &SessionCheckResult{
		Host:        host,
		Os:          defaultClassification(),
		CurrentUser: m.client.CurrentUser(),
		Connectable: true,
	}

	defer func() {
		if r := recover(); r != nil {
			result.Error = fmt.Sprintf("internal error: %v", r)
			result.Connectable = true
			outcome = "error"
			logger.Error("session check panicked",
				logger.KeyHost, host, logger.KeyError, result.Error)
		}
		metrics.ObserveCheck(m.mm, outcome, m.now().Sub(start))
	}()

	flags := m.flags.getOrCreate(host)

	// Within the backoff window the host is answered from the negative
	// cache: no socket is opened at all.
	if flags.suppressed(m.now()) {
		logger.Debug("check suppressed by negative cache", logger.KeyHost, host)
		metrics.ObserveSuppression(m.mm)
		outcome = "unreachable"
		result.Error = "host unreachable (retry suppressed)"
		m.evaluate(result)
		return result
	}

	probe, probeDur := m.timeProbe(ctx, host, port)
	metrics.ObserveProbe(m.mm, probeOutcome(probe), probeDur)

	if !probe.reachable() {
		// Pure unreachability drives the same backoff bookkeeping as
		// an enumeration failure; the two failure sources share one
		// counter.
		flags.recordFailure(m.now())
		logger.Info("host unreachable",
			logger.KeyHost, host, logger.KeyPort, port)
		outcome = "unreachable"
		result.Error = fmt.Sprintf("host %s unreachable on ports %d and %d", host, port, m.opts.AuxPort)
		m.evaluate(result)
		return result
	}

	// Reachability proves liveness: clear any prior negative state even
	// if enumeration later fails for other reasons.
	flags.recordSuccess()

	result.Os = m.osCache.resolve(host, cached)

	sessions, err := m.enumerate(ctx, host, result.Os, flags)
	if err != nil {
		outcome = "error"
		result.Error = err.Error()
		m.evaluate(result)
		logger.Warn("session check failed, proceeding fail-open",
			logger.KeyHost, host, logger.KeyError, err)
		return result
	}
	result.Sessions = sessions

	m.evaluate(result)

	logger.Debug("session check complete",
		logger.KeyHost, host,
		logger.KeySessionCount, len(result.Sessions),
		logger.KeyInUse, result.InUseByOthers,
		logger.KeyConnectable, result.Connectable,
		logger.KeyDurationMs, logger.Duration(start))
	return result
}
