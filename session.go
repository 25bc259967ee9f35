package main

import "sync"

// ticksPerMillisecond converts the session provider's 100-nanosecond position
// ticks to milliseconds.
const ticksPerMillisecond = 10000

// PlaybackStatus is the transport state reported by a media session.
type PlaybackStatus int

const (
	StatusStopped PlaybackStatus = iota
	StatusPaused
	StatusPlaying
)

func (s PlaybackStatus) String() string {
	switch s {
	case StatusPlaying:
		return "playing"
	case StatusPaused:
		return "paused"
	}
	return "stopped"
}

// TimelineInfo is a position report. PositionTicks is in 100 ns units;
// LastUpdatedAtMs is the wall-clock epoch ms at which the position was valid.
type TimelineInfo struct {
	PositionTicks   int64
	LastUpdatedAtMs int64
}

// PlaybackInfo is a transport-status report.
type PlaybackInfo struct {
	Status PlaybackStatus
}

// MediaInfo identifies the media item a session is playing.
type MediaInfo struct {
	Title  string
	Artist string
}

// SessionUpdate is one notification from a session's update stream. Any
// subset of the three sections may be present.
type SessionUpdate struct {
	Timeline *TimelineInfo
	Playback *PlaybackInfo
	Media    *MediaInfo
}

// ManagerEventType classifies session-lifecycle notifications.
type ManagerEventType int

const (
	SessionCreated ManagerEventType = iota
	SessionRemoved
	CurrentSessionChanged
)

// ManagerEvent is one session-lifecycle notification from the provider.
// Updates is non-nil only for SessionCreated; a CurrentSessionChanged with an
// empty SessionID means there is no current session.
type ManagerEvent struct {
	Type      ManagerEventType
	SessionID string
	Source    string
	Updates   <-chan SessionUpdate
}

// SessionProvider streams media-session notifications from the host. The
// channel returned by Events is closed when the provider shuts down; each
// created session's update channel is closed when that session ends.
type SessionProvider interface {
	Events() <-chan ManagerEvent
	Close() error
}

// sessionState is the most recent report of each kind from one session, kept
// even while the session is not active so that promoting it does not start
// from a blank slate.
type sessionState struct {
	timeline *TimelineInfo
	playback *PlaybackInfo
	media    *MediaInfo
}

func (s *sessionState) remember(update SessionUpdate) {
	if update.Timeline != nil {
		s.timeline = update.Timeline
	}
	if update.Playback != nil {
		s.playback = update.Playback
	}
	if update.Media != nil {
		s.media = update.Media
	}
}

func (s *sessionState) snapshot() SessionUpdate {
	return SessionUpdate{Timeline: s.timeline, Playback: s.playback, Media: s.media}
}

// Router translates session-provider notifications into estimator and gate
// mutations. One goroutine consumes each created session's update stream, but
// only the active session's updates reach the shared state: the provider's
// current-session notifications designate the active session, the slot is
// claimed by the first session to deliver an update when nothing holds it,
// and removing the active session frees the slot again. Every session's
// latest reports are remembered while it is inactive and replayed the moment
// it becomes active, so transport status, track identity and position
// reported before a switch carry over.
type Router struct {
	est  *Estimator
	gate *OffsetGate

	mu       sync.Mutex
	activeID string
	sessions map[string]*sessionState
}

func NewRouter(est *Estimator, gate *OffsetGate) *Router {
	return &Router{est: est, gate: gate, sessions: make(map[string]*sessionState)}
}

// Run consumes manager events until the provider's event channel closes.
func (r *Router) Run(provider SessionProvider) {
	for evt := range provider.Events() {
		switch evt.Type {
		case SessionCreated:
			logger.Info("session: created", "id", evt.SessionID, "source", evt.Source)
			go r.consume(evt.SessionID, evt.Updates)
		case SessionRemoved:
			logger.Info("session: removed", "id", evt.SessionID)
			r.release(evt.SessionID)
		case CurrentSessionChanged:
			if evt.SessionID == "" {
				logger.Info("session: no current session")
				continue
			}
			logger.Info("session: current changed", "id", evt.SessionID)
			r.setActive(evt.SessionID)
		}
	}
	logger.Debug("session: provider event stream closed")
}

// consume drains one session's update stream. All state mutations happen
// under r.mu so an activation replay cannot interleave with fresher updates
// from the same session.
func (r *Router) consume(id string, updates <-chan SessionUpdate) {
	for update := range updates {
		r.mu.Lock()
		st := r.session(id)
		st.remember(update)

		claimed := r.activeID == ""
		if claimed {
			r.activeID = id
		}
		if r.activeID != id {
			r.mu.Unlock()
			logger.Debug("session: update from inactive session recorded", "id", id)
			continue
		}
		if claimed {
			logger.Debug("session: claimed active", "id", id)
			update = st.snapshot()
		}
		r.apply(id, update)
		r.mu.Unlock()
	}
	logger.Debug("session: update stream closed", "id", id)
}

// apply pushes one update's sections into the shared state. Callers hold r.mu.
func (r *Router) apply(id string, update SessionUpdate) {
	if update.Timeline != nil {
		positionMs := update.Timeline.PositionTicks / ticksPerMillisecond
		r.est.ApplyTimeline(positionMs, update.Timeline.LastUpdatedAtMs)
		logger.Debug("session: timeline",
			"id", id,
			"position_ms", positionMs,
			"updated_at_ms", update.Timeline.LastUpdatedAtMs,
		)
	}
	if update.Playback != nil {
		r.est.SetPlaying(update.Playback.Status == StatusPlaying)
		logger.Info("session: playback", "id", id, "status", update.Playback.Status.String())
	}
	if update.Media != nil {
		logger.Info("session: media changed", "id", id, "title", update.Media.Title, "artist", update.Media.Artist)
		r.gate.OnTrackChanged(update.Media.Title, update.Media.Artist)
	}
}

// session returns the state cell for id, creating it on first use. Callers
// hold r.mu.
func (r *Router) session(id string) *sessionState {
	st := r.sessions[id]
	if st == nil {
		st = &sessionState{}
		r.sessions[id] = st
	}
	return st
}

// setActive re-targets the shared state at id and replays that session's
// remembered reports, so anything it announced while inactive takes effect
// now.
func (r *Router) setActive(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.activeID == id {
		return
	}
	r.activeID = id
	if st := r.sessions[id]; st != nil {
		logger.Debug("session: replaying remembered state", "id", id)
		r.apply(id, st.snapshot())
	}
}

// release forgets id and frees the active slot if id holds it; the next
// session to deliver an update (or to be designated current) takes over.
func (r *Router) release(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
	if r.activeID == id {
		r.activeID = ""
	}
}
