package main

import "time"

// tickInterval is one eighth of a video frame at 25 fps: a full quarter-frame
// cycle of 8 messages spans two frames, so receivers expect one message every
// 5 ms.
const tickInterval = time.Second / FrameRate / 8

// Scheduler drives MTC emission at the fixed quarter-frame cadence. It is the
// only writer to the sink; it reads the estimator and the offset gate and
// never mutates them beyond the full-frame bookkeeping.
type Scheduler struct {
	est    *Estimator
	gate   *OffsetGate
	sink   Sink
	cursor int // next quarter-frame message number (0-7)
}

func NewScheduler(est *Estimator, gate *OffsetGate, sink Sink) *Scheduler {
	return &Scheduler{est: est, gate: gate, sink: sink}
}

// Run ticks forever. There is no stop state: emission lasts for the life of
// the process.
func (s *Scheduler) Run() {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for range ticker.C {
		s.Tick(time.Now().UnixMilli())
	}
}

// Tick performs one emission cycle at wall-clock instant nowMs. The snapshot
// and gate are read once and reused for the whole tick, so the full frame and
// the quarter frame of one tick always agree on the position.
//
// A failed send is logged and the tick ends; emission resumes on the next
// tick.
func (s *Scheduler) Tick(nowMs int64) {
	snap := s.est.Snapshot()
	offsetMs, enabled := s.gate.Gate()

	var position int64
	if enabled {
		position = snap.EstimateAt(nowMs) + offsetMs
	}

	if s.est.HasNewUpdate(snap) {
		if err := s.sink.Send(encodeFullFrame(position)); err != nil {
			logger.Warn("mtc: full-frame send failed", "err", err)
			return
		}
		s.est.MarkSent(snap)
		logger.Debug("mtc: full frame sent", "position_ms", position, "playing", snap.Playing)
	}

	if snap.Playing && enabled {
		if err := s.sink.Send(encodeQuarterFrame(position, s.cursor)); err != nil {
			logger.Warn("mtc: quarter-frame send failed", "err", err)
			return
		}
		s.cursor = (s.cursor + 1) % 8
	}
}
