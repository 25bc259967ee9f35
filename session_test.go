package main

import (
	"testing"
	"time"
)

// fakeProvider feeds the router a scripted stream of manager events.
type fakeProvider struct {
	events chan ManagerEvent
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{events: make(chan ManagerEvent, 8)}
}

func (p *fakeProvider) Events() <-chan ManagerEvent { return p.events }
func (p *fakeProvider) Close() error                { return nil }

func (p *fakeProvider) addSession(id string) chan SessionUpdate {
	updates := make(chan SessionUpdate, 8)
	p.events <- ManagerEvent{Type: SessionCreated, SessionID: id, Source: "fake", Updates: updates}
	return updates
}

func waitFor(t *testing.T, desc string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", desc)
}

// deliverPosition sends a timeline update until the estimator reflects it.
// Updates delivered while the session is not active are recorded but not
// applied, so a single send is not enough for a session racing for the slot.
func deliverPosition(t *testing.T, est *Estimator, updates chan SessionUpdate, positionMs, updatedAtMs int64) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		updates <- SessionUpdate{Timeline: &TimelineInfo{
			PositionTicks:   positionMs * ticksPerMillisecond,
			LastUpdatedAtMs: updatedAtMs,
		}}
		if est.Snapshot().BasePositionMs == positionMs {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for position %d to apply", positionMs)
}

func TestRouterAppliesSessionUpdates(t *testing.T) {
	est := NewEstimator()
	gate := NewOffsetGate(&Config{
		Songs: []SongOffset{{Title: "Song A", Artist: "Artist A", TimecodeOffset: 5000}},
	})
	router := NewRouter(est, gate)
	provider := newFakeProvider()
	go router.Run(provider)

	updates := provider.addSession("player-1")
	updates <- SessionUpdate{Timeline: &TimelineInfo{PositionTicks: 100000000, LastUpdatedAtMs: 7000}}
	updates <- SessionUpdate{Playback: &PlaybackInfo{Status: StatusPlaying}}
	updates <- SessionUpdate{Media: &MediaInfo{Title: "Song A", Artist: "Artist A"}}

	waitFor(t, "timeline and playback applied", func() bool {
		snap := est.Snapshot()
		return snap.BasePositionMs == 10000 && snap.LastUpdateMs == 7000 && snap.Playing
	})
	waitFor(t, "offset resolved", func() bool {
		offset, enabled := gate.Gate()
		return offset == 5000 && enabled
	})

	updates <- SessionUpdate{Playback: &PlaybackInfo{Status: StatusPaused}}
	waitFor(t, "pause applied", func() bool {
		return !est.Snapshot().Playing
	})

	close(updates)
	close(provider.events)
}

func TestRouterFirstSessionClaimsSlot(t *testing.T) {
	est := NewEstimator()
	gate := NewOffsetGate(&Config{})
	router := NewRouter(est, gate)
	provider := newFakeProvider()
	go router.Run(provider)

	first := provider.addSession("first")
	second := provider.addSession("second")

	deliverPosition(t, est, first, 10, 1)

	// the slot is taken; the second session's reports do not reach the estimator
	second <- SessionUpdate{Timeline: &TimelineInfo{PositionTicks: 99 * ticksPerMillisecond, LastUpdatedAtMs: 2}}
	time.Sleep(50 * time.Millisecond)
	if got := est.Snapshot().BasePositionMs; got != 10 {
		t.Fatalf("position = %d, want 10 from the claiming session", got)
	}

	close(first)
	close(second)
	close(provider.events)
}

func TestRouterFollowsCurrentSessionChange(t *testing.T) {
	est := NewEstimator()
	gate := NewOffsetGate(&Config{})
	router := NewRouter(est, gate)
	provider := newFakeProvider()
	go router.Run(provider)

	first := provider.addSession("first")
	second := provider.addSession("second")

	deliverPosition(t, est, first, 10, 1)

	provider.events <- ManagerEvent{Type: CurrentSessionChanged, SessionID: "second"}
	deliverPosition(t, est, second, 99, 2)

	// the demoted session no longer reaches the estimator
	first <- SessionUpdate{Timeline: &TimelineInfo{PositionTicks: 55 * ticksPerMillisecond, LastUpdatedAtMs: 3}}
	time.Sleep(50 * time.Millisecond)
	if got := est.Snapshot().BasePositionMs; got != 99 {
		t.Fatalf("position = %d, want 99 from the current session", got)
	}

	close(first)
	close(second)
	close(provider.events)
}

func TestRouterReplaysStateOnActivation(t *testing.T) {
	est := NewEstimator()
	gate := NewOffsetGate(&Config{
		Songs: []SongOffset{{Title: "Song B", Artist: "Artist B", TimecodeOffset: 750}},
	})
	router := NewRouter(est, gate)
	provider := newFakeProvider()
	go router.Run(provider)

	first := provider.addSession("first")
	second := provider.addSession("second")

	deliverPosition(t, est, first, 5000, 1)
	first <- SessionUpdate{Playback: &PlaybackInfo{Status: StatusPaused}}
	waitFor(t, "claiming session paused", func() bool {
		snap := est.Snapshot()
		return !snap.Playing && snap.BasePositionMs == 5000
	})

	// the second session starts playing before anything designates it current
	second <- SessionUpdate{Playback: &PlaybackInfo{Status: StatusPlaying}}
	second <- SessionUpdate{Media: &MediaInfo{Title: "Song B", Artist: "Artist B"}}
	second <- SessionUpdate{Timeline: &TimelineInfo{PositionTicks: 30000 * ticksPerMillisecond, LastUpdatedAtMs: 2}}

	provider.events <- ManagerEvent{Type: CurrentSessionChanged, SessionID: "second"}

	// promotion alone must surface everything the session reported earlier
	waitFor(t, "remembered transport state replayed", func() bool {
		snap := est.Snapshot()
		return snap.Playing && snap.BasePositionMs == 30000
	})
	waitFor(t, "remembered track replayed", func() bool {
		offset, enabled := gate.Gate()
		return offset == 750 && enabled
	})

	close(first)
	close(second)
	close(provider.events)
}

func TestRouterClaimReplaysEarlierReports(t *testing.T) {
	est := NewEstimator()
	gate := NewOffsetGate(&Config{})
	router := NewRouter(est, gate)
	provider := newFakeProvider()
	go router.Run(provider)

	first := provider.addSession("first")
	second := provider.addSession("second")

	deliverPosition(t, est, first, 10, 1)

	// recorded while inactive; must apply once the session claims the slot
	second <- SessionUpdate{Playback: &PlaybackInfo{Status: StatusPlaying}}

	provider.events <- ManagerEvent{Type: SessionRemoved, SessionID: "first"}
	close(first)

	deliverPosition(t, est, second, 42, 2)
	waitFor(t, "earlier playback report applied", func() bool {
		return est.Snapshot().Playing
	})

	close(second)
	close(provider.events)
}

func TestRouterIgnoresEmptyCurrentSession(t *testing.T) {
	est := NewEstimator()
	gate := NewOffsetGate(&Config{})
	router := NewRouter(est, gate)
	provider := newFakeProvider()
	go router.Run(provider)

	first := provider.addSession("first")
	deliverPosition(t, est, first, 10, 1)

	// "no current session" is informational; the designation survives it
	provider.events <- ManagerEvent{Type: CurrentSessionChanged, SessionID: ""}
	time.Sleep(50 * time.Millisecond)

	router.mu.Lock()
	active := router.activeID
	router.mu.Unlock()
	if active != "first" {
		t.Fatalf("active session = %q, want first", active)
	}

	deliverPosition(t, est, first, 20, 2)

	close(first)
	close(provider.events)
}

func TestRouterRemovalFreesSlot(t *testing.T) {
	est := NewEstimator()
	gate := NewOffsetGate(&Config{})
	router := NewRouter(est, gate)
	provider := newFakeProvider()
	go router.Run(provider)

	first := provider.addSession("first")
	second := provider.addSession("second")

	deliverPosition(t, est, first, 10, 1)

	provider.events <- ManagerEvent{Type: SessionRemoved, SessionID: "first"}
	close(first)

	// with the slot free, the surviving session takes over
	deliverPosition(t, est, second, 42, 2)

	close(second)
	close(provider.events)
}
