package netmon

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestManualMonitorTransitions(t *testing.T) {
	m := NewManual(false)
	assert.False(t, m.IsReachable())

	reachable := make(chan struct{}, 4)
	unreachable := make(chan struct{}, 4)
	m.Start(
		func() { reachable <- struct{}{} },
		func() { unreachable <- struct{}{} },
	)

	m.Set(true)
	select {
	case <-reachable:
	case <-time.After(time.Second):
		t.Fatal("onReachable not invoked")
	}
	assert.True(t, m.IsReachable())

	// Setting the same state again must not re-fire.
	m.Set(true)
	select {
	case <-reachable:
		t.Fatal("onReachable fired without a transition")
	case <-time.After(50 * time.Millisecond):
	}

	m.Set(false)
	select {
	case <-unreachable:
	case <-time.After(time.Second):
		t.Fatal("onUnreachable not invoked")
	}
}

func TestManualMonitorStop(t *testing.T) {
	m := NewManual(false)
	fired := make(chan struct{}, 1)
	m.Start(func() { fired <- struct{}{} }, nil)
	m.Stop()

	m.Set(true)
	select {
	case <-fired:
		t.Fatal("callback invoked after Stop")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestManualMonitorNilCallbacks(t *testing.T) {
	m := NewManual(false)
	m.Start(nil, nil)
	m.Set(true)
	m.Set(false)
}

func TestPollingMonitorStartStop(t *testing.T) {
	m := NewWithInterval(10 * time.Millisecond)
	m.Start(nil, nil)
	time.Sleep(30 * time.Millisecond)
	m.Stop()
	// Stop twice must not panic.
	m.Stop()
}

func TestPollingMonitorProbe(t *testing.T) {
	m := New()
	// The probe result depends on the host; it must simply be consistent
	// between consecutive calls in a quiet environment.
	first := m.IsReachable()
	second := m.IsReachable()
	assert.Equal(t, first, second)
}
