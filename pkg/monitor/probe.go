package monitor

import (
	"context"
	"net"
	"strconv"
	"time"
)

// DialFunc opens a TCP connection. It exists so tests can count and script
// probe attempts without touching the network.
type DialFunc func(ctx context.Context, network, address string) (net.Conn, error)

// defaultDialer is the production DialFunc.
func defaultDialer(ctx context.Context, network, address string) (net.Conn, error) {
	var d net.Dialer
	return d.DialContext(ctx, network, address)
}

// probeResult carries the outcome of one probe pair.
type probeResult struct {
	// servicePort is true when the target service port accepted a TCP
	// connection within the probe timeout.
	servicePort bool

	// auxPort is the same for the fixed auxiliary management port.
	auxPort bool
}

// reachable reports whether either probed port answered. One open port is
// enough to consider the host alive.
func (p probeResult) reachable() bool {
	return p.servicePort || p.auxPort
}

// probePorts fires both TCP connect probes concurrently, each bounded by
// the probe timeout. No retries happen at this layer; retry policy lives
// in the orchestrator's negative cache.
func (m *Monitor) probePorts(ctx context.Context, host string, port int) probeResult {
	probe := func(p int, out *bool, done chan<- struct{}) {
		defer close(done)

		dialCtx, cancel := context.WithTimeout(ctx, m.opts.ProbeTimeout)
		defer cancel()

		conn, err := m.dial(dialCtx, "tcp", net.JoinHostPort(host, strconv.Itoa(p)))
		if err != nil {
			return
		}
		_ = conn.Close()
		*out = true
	}

	var res probeResult
	serviceDone := make(chan struct{})
	auxDone := make(chan struct{})

	go probe(port, &res.servicePort, serviceDone)
	go probe(m.opts.AuxPort, &res.auxPort, auxDone)

	<-serviceDone
	<-auxDone
	return res
}

// probeOutcome maps a probe result to its metrics label.
func probeOutcome(p probeResult) string {
	if p.reachable() {
		return "reachable"
	}
	return "unreachable"
}

// timeProbe wraps probePorts with duration measurement for metrics.
func (m *Monitor) timeProbe(ctx context.Context, host string, port int) (probeResult, time.Duration) {
	start := m.now()
	res := m.probePorts(ctx, host, port)
	return res, m.now().Sub(start)
}
