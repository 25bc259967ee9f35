package main

import "sync"

// PlaybackSnapshot is one self-consistent view of the shared playback state.
// The estimator hands these out by value so a reader never observes a base
// position paired with another update's timestamp.
type PlaybackSnapshot struct {
	BasePositionMs int64 // last position reported by the session provider
	LastUpdateMs   int64 // wall-clock epoch ms at which BasePositionMs was captured
	Playing        bool
}

// EstimateAt extrapolates the playback position at wall-clock instant nowMs.
// While paused the position is frozen at its base. Elapsed time saturates at
// zero, so a now reading that races a fresh update can never rewind the
// position below its base.
func (s PlaybackSnapshot) EstimateAt(nowMs int64) int64 {
	if !s.Playing {
		return s.BasePositionMs
	}
	elapsed := nowMs - s.LastUpdateMs
	if elapsed < 0 {
		elapsed = 0
	}
	return s.BasePositionMs + elapsed
}

// Estimator holds the playback state shared between the session router
// (writer) and the emission scheduler (reader). Timeline and playback status
// arrive as independent notifications and are applied independently; each
// write replaces the snapshot wholesale.
type Estimator struct {
	mu       sync.Mutex
	snap     PlaybackSnapshot
	lastSent int64 // LastUpdateMs value most recently emitted as a full frame
}

func NewEstimator() *Estimator {
	return &Estimator{}
}

// ApplyTimeline records a position report from the session provider.
func (e *Estimator) ApplyTimeline(positionMs, updatedAtMs int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.snap.BasePositionMs = positionMs
	e.snap.LastUpdateMs = updatedAtMs
}

// SetPlaying records a transport-status report from the session provider.
func (e *Estimator) SetPlaying(playing bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.snap.Playing = playing
}

// Snapshot returns the current playback state as one consistent value.
func (e *Estimator) Snapshot() PlaybackSnapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snap
}

// Estimate extrapolates the playback position at nowMs.
func (e *Estimator) Estimate(nowMs int64) int64 {
	return e.Snapshot().EstimateAt(nowMs)
}

// HasNewUpdate reports whether snap carries a timeline update that has not
// yet been announced with a full-frame message.
func (e *Estimator) HasNewUpdate(snap PlaybackSnapshot) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return snap.LastUpdateMs != e.lastSent
}

// MarkSent records that the timeline update captured in snap has been
// announced. Passing the snapshot rather than re-reading the live state keeps
// an update that lands mid-tick eligible for the next tick's full frame.
func (e *Estimator) MarkSent(snap PlaybackSnapshot) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.lastSent = snap.LastUpdateMs
}
