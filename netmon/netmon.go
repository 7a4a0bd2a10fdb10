// Package netmon provides network reachability monitors for the reconnect
// policy.
//
// The polling monitor is the default used by the client. The manual monitor
// is for tests and for host applications that already receive connectivity
// signals from the platform and want to forward them.
package netmon

import (
	"net"
	"sync"
	"time"
)

// DefaultPollInterval is how often the polling monitor re-probes the
// network.
const DefaultPollInterval = 2 * time.Second

// PollingMonitor probes interface addresses on a ticker and reports
// reachable/unreachable transitions. It implements
// wavesock.ReachabilityMonitor.
type PollingMonitor struct {
	interval time.Duration

	mu          sync.Mutex
	reachable   bool
	onReachable func()
	onUnreach   func()
	stopCh      chan struct{}
}

// New creates a polling monitor with the default interval.
func New() *PollingMonitor {
	return NewWithInterval(DefaultPollInterval)
}

// NewWithInterval creates a polling monitor probing every interval.
func NewWithInterval(interval time.Duration) *PollingMonitor {
	return &PollingMonitor{interval: interval, reachable: probe()}
}

// IsReachable synchronously probes the network.
func (m *PollingMonitor) IsReachable() bool {
	reachable := probe()
	m.mu.Lock()
	m.reachable = reachable
	m.mu.Unlock()
	return reachable
}

// Start begins polling and registers the transition callbacks. Calling
// Start again replaces the callbacks and restarts polling.
func (m *PollingMonitor) Start(onReachable, onUnreachable func()) {
	m.mu.Lock()
	if m.stopCh != nil {
		close(m.stopCh)
	}
	stopCh := make(chan struct{})
	m.stopCh = stopCh
	m.onReachable = onReachable
	m.onUnreach = onUnreachable
	m.reachable = probe()
	m.mu.Unlock()

	go m.loop(stopCh)
}

// Stop ends polling.
func (m *PollingMonitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopCh != nil {
		close(m.stopCh)
		m.stopCh = nil
	}
}

func (m *PollingMonitor) loop(stopCh chan struct{}) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			reachable := probe()

			m.mu.Lock()
			if m.stopCh != stopCh {
				m.mu.Unlock()
				return
			}
			changed := reachable != m.reachable
			m.reachable = reachable
			var fire func()
			if changed {
				if reachable {
					fire = m.onReachable
				} else {
					fire = m.onUnreach
				}
			}
			m.mu.Unlock()

			if fire != nil {
				fire()
			}
		}
	}
}

// probe reports whether any non-loopback interface carries an address.
func probe() bool {
	ifaces, err := net.Interfaces()
	if err != nil {
		return false
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		if len(addrs) > 0 {
			return true
		}
	}
	return false
}

// ManualMonitor is flipped programmatically. Useful in tests and when the
// host platform delivers its own connectivity events.
type ManualMonitor struct {
	mu          sync.Mutex
	reachable   bool
	started     bool
	onReachable func()
	onUnreach   func()
}

// NewManual creates a manual monitor with the given initial state.
func NewManual(reachable bool) *ManualMonitor {
	return &ManualMonitor{reachable: reachable}
}

// IsReachable returns the last state passed to Set.
func (m *ManualMonitor) IsReachable() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reachable
}

// Start registers the transition callbacks.
func (m *ManualMonitor) Start(onReachable, onUnreachable func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.started = true
	m.onReachable = onReachable
	m.onUnreach = onUnreachable
}

// Stop unregisters the callbacks.
func (m *ManualMonitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.started = false
	m.onReachable = nil
	m.onUnreach = nil
}

// Set updates the state and fires the matching callback on a transition.
func (m *ManualMonitor) Set(reachable bool) {
	m.mu.Lock()
	changed := reachable != m.reachable
	m.reachable = reachable
	var fire func()
	if changed && m.started {
		if reachable {
			fire = m.onReachable
		} else {
			fire = m.onUnreach
		}
	}
	m.mu.Unlock()

	if fire != nil {
		fire()
	}
}
