// Package connectivity tracks whether the results store is reachable and turns
// reconnect storms into a single "back online" signal.
package connectivity

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Prober checks reachability. *pgxpool.Pool satisfies it.
type Prober interface {
	Ping(ctx context.Context) error
}

// AfterFunc schedules f after d and returns a function that cancels it.
type AfterFunc func(d time.Duration, f func()) (stop func() bool)

func realAfterFunc(d time.Duration, f func()) func() bool {
	return time.AfterFunc(d, f).Stop
}

// Monitor holds the current online state. Edges come from periodic probes or from
// Set. After an offline→online edge the OnOnline callbacks run once the state has
// stayed online for the debounce window.
type Monitor struct {
	prober   Prober
	interval time.Duration
	debounce time.Duration
	after    AfterFunc
	log      zerolog.Logger

	mu        sync.Mutex
	online    bool
	known     bool
	gen       uint64
	stopTimer func() bool
	onOnline  []func()
	onChange  []func(online bool)
}

// NewMonitor creates a monitor that starts in the offline state.
func NewMonitor(prober Prober, interval, debounce time.Duration, log zerolog.Logger) *Monitor {
	return &Monitor{
		prober:   prober,
		interval: interval,
		debounce: debounce,
		after:    realAfterFunc,
		log:      log.With().Str("component", "connectivity").Logger(),
	}
}

// WithAfterFunc replaces the timer used for debouncing.
func (m *Monitor) WithAfterFunc(f AfterFunc) *Monitor {
	m.after = f
	return m
}

// OnOnline registers fn to run after each debounced reconnect.
func (m *Monitor) OnOnline(fn func()) {
	m.mu.Lock()
	m.onOnline = append(m.onOnline, fn)
	m.mu.Unlock()
}

// OnChange registers fn to run on every edge, undebounced.
func (m *Monitor) OnChange(fn func(online bool)) {
	m.mu.Lock()
	m.onChange = append(m.onChange, fn)
	m.mu.Unlock()
}

// Online reports the last observed state.
func (m *Monitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// Set records an externally observed state.
func (m *Monitor) Set(online bool) {
	m.mu.Lock()
	if m.known && m.online == online {
		m.mu.Unlock()
		return
	}
	m.known = true
	m.online = online
	m.gen++
	gen := m.gen
	if m.stopTimer != nil {
		m.stopTimer()
		m.stopTimer = nil
	}
	if online {
		m.stopTimer = m.after(m.debounce, func() { m.settle(gen) })
	}
	listeners := append([]func(bool){}, m.onChange...)
	m.mu.Unlock()

	if online {
		m.log.Info().Msg("Results store reachable")
	} else {
		m.log.Warn().Msg("Results store unreachable")
	}
	for _, fn := range listeners {
		fn(online)
	}
}

// settle fires the online callbacks if no edge happened since gen.
func (m *Monitor) settle(gen uint64) {
	m.mu.Lock()
	if gen != m.gen || !m.online {
		m.mu.Unlock()
		return
	}
	m.stopTimer = nil
	callbacks := append([]func(){}, m.onOnline...)
	m.mu.Unlock()

	m.log.Debug().Msg("Reconnect settled")
	for _, fn := range callbacks {
		fn()
	}
}

// Probe pings the results store once and records the outcome.
func (m *Monitor) Probe(ctx context.Context) {
	pctx, cancel := context.WithTimeout(ctx, m.interval)
	defer cancel()
	err := m.prober.Ping(pctx)
	if err != nil && ctx.Err() != nil {
		return
	}
	if err != nil {
		m.log.Debug().Err(err).Msg("Probe failed")
	}
	m.Set(err == nil)
}

// Start probes immediately and then on every interval until ctx is cancelled.
func (m *Monitor) Start(ctx context.Context) {
	m.log.Info().Dur("interval", m.interval).Dur("debounce", m.debounce).Msg("Connectivity monitor started")
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.Probe(ctx)
	for {
		select {
		case <-ctx.Done():
			m.mu.Lock()
			if m.stopTimer != nil {
				m.stopTimer()
				m.stopTimer = nil
			}
			m.mu.Unlock()
			m.log.Info().Msg("Connectivity monitor stopped")
			return
		case <-ticker.C:
			m.Probe(ctx)
		}
	}
}
