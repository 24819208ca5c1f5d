// Package netmon watches reachability of the Sproutlog server and emits
// de-flickered network state transitions.
package netmon

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/sproutlog/sproutlog/internal/model"
)

const (
	defaultProbeInterval = 15 * time.Second
	probeTimeout         = 5 * time.Second
	transitionBufferSize = 4
)

// Probe checks whether the remote store currently answers. A nil error means
// the transport is present and validated, not merely that a link exists.
type Probe interface {
	Check(ctx context.Context) error
}

// ProbeFunc adapts a function to the Probe interface.
type ProbeFunc func(ctx context.Context) error

func (f ProbeFunc) Check(ctx context.Context) error { return f(ctx) }

// Monitor owns the authoritative network state. Transitions are edge
// triggered: the underlying transport may fire redundant "connected"
// callbacks for one logical reconnection, and the monitor collapses those
// into a single notification.
type Monitor struct {
	probe    Probe
	interval time.Duration

	mu    sync.RWMutex
	state model.NetworkState

	subMu sync.Mutex
	subs  []chan model.NetworkState

	kicks  chan struct{}
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a monitor in the unknown state. The first probe runs
// synchronously inside Start.
func New(probe Probe, interval time.Duration) *Monitor {
	if interval <= 0 {
		interval = defaultProbeInterval
	}
	return &Monitor{
		probe:    probe,
		interval: interval,
		state:    model.NetworkUnknown,
		kicks:    make(chan struct{}, 1),
	}
}

// Start probes once synchronously so the state is settled before any consumer
// reads it, then re-probes on a timer and on pushed capability callbacks.
func (m *Monitor) Start(ctx context.Context) {
	m.probeNow(ctx)

	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()

		// timer, not ticker, so a slow probe never queues ticks
		timer := time.NewTimer(m.interval)
		defer timer.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-timer.C:
				m.probeNow(ctx)
				timer.Reset(m.interval)
			case <-m.kicks:
				m.probeNow(ctx)
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(m.interval)
			}
		}
	}()
}

// Stop halts probing and closes all subscriber channels.
func (m *Monitor) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()

	m.subMu.Lock()
	defer m.subMu.Unlock()
	for _, sub := range m.subs {
		close(sub)
	}
	m.subs = nil
}

// State returns the current network state.
func (m *Monitor) State() model.NetworkState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Connected reports whether the remote store is currently reachable.
func (m *Monitor) Connected() bool {
	return m.State() == model.NetworkConnected
}

// Subscribe returns a channel of state transitions and an unsubscribe
// function. Only edges are delivered, never repeats of the current state.
func (m *Monitor) Subscribe() (<-chan model.NetworkState, func()) {
	m.subMu.Lock()
	defer m.subMu.Unlock()

	ch := make(chan model.NetworkState, transitionBufferSize)
	m.subs = append(m.subs, ch)

	unsubscribe := func() {
		m.subMu.Lock()
		defer m.subMu.Unlock()
		for i, sub := range m.subs {
			if sub == ch {
				close(sub)
				m.subs = append(m.subs[:i], m.subs[i+1:]...)
				break
			}
		}
	}
	return ch, unsubscribe
}

// Notify feeds a capability change from the transport layer. A loss of
// transport is authoritative; a gained transport only schedules a validation
// probe, so redundant "connected" callbacks collapse into one edge.
func (m *Monitor) Notify(online bool) {
	if !online {
		m.setState(model.NetworkDisconnected)
		return
	}
	select {
	case m.kicks <- struct{}{}:
	default:
	}
}

// CheckNow runs one probe synchronously and returns the resulting state.
func (m *Monitor) CheckNow(ctx context.Context) model.NetworkState {
	m.probeNow(ctx)
	return m.State()
}

func (m *Monitor) probeNow(ctx context.Context) {
	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	if err := m.probe.Check(probeCtx); err != nil {
		m.setState(model.NetworkDisconnected)
		return
	}
	m.setState(model.NetworkConnected)
}

func (m *Monitor) setState(next model.NetworkState) {
	m.mu.Lock()
	prev := m.state
	m.state = next
	m.mu.Unlock()

	if prev == next {
		return
	}

	slog.Info("network state", "from", prev, "to", next)

	m.subMu.Lock()
	defer m.subMu.Unlock()
	for _, sub := range m.subs {
		select {
		case sub <- next:
		default:
			// subscriber is not keeping up, drop rather than block
		}
	}
}
