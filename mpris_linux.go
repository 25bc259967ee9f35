//go:build linux

package main

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/godbus/dbus/v5"
)

const (
	mprisPrefix      = "org.mpris.MediaPlayer2."
	mprisPath        = dbus.ObjectPath("/org/mpris/MediaPlayer2")
	mprisPlayerIface = "org.mpris.MediaPlayer2.Player"

	// positionPollInterval is how often a playing session's position is
	// re-read. MPRIS does not push position changes (only Seeked jumps), so
	// the estimator's base is refreshed by polling.
	positionPollInterval = 1000 * time.Millisecond
)

// mprisSession is one MPRIS player on the session bus.
type mprisSession struct {
	name    string // well-known bus name, e.g. org.mpris.MediaPlayer2.spotify
	owner   string // unique bus name, e.g. :1.42 (signals carry this as sender)
	updates chan SessionUpdate
	done    chan struct{}
	playing bool
	removed bool
}

// MPRISProvider surfaces every org.mpris.MediaPlayer2 player on the D-Bus
// session bus as a media session: player appearance/disappearance becomes
// session created/removed, PropertiesChanged becomes playback and media
// updates, and Seeked plus a 1 s poll becomes timeline updates. A player
// transitioning to playing is announced as the current session.
type MPRISProvider struct {
	conn    *dbus.Conn
	events  chan ManagerEvent
	signals chan *dbus.Signal

	mu       sync.Mutex
	sessions map[string]*mprisSession // keyed by well-known name
}

// newSessionProvider connects to the session bus and starts watching for
// MPRIS players.
func newSessionProvider() (SessionProvider, error) {
	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return nil, fmt.Errorf("connect session bus: %w", err)
	}

	matches := [][]dbus.MatchOption{
		{
			dbus.WithMatchInterface("org.freedesktop.DBus.Properties"),
			dbus.WithMatchMember("PropertiesChanged"),
			dbus.WithMatchObjectPath(mprisPath),
		},
		{
			dbus.WithMatchInterface(mprisPlayerIface),
			dbus.WithMatchMember("Seeked"),
		},
		{
			dbus.WithMatchSender("org.freedesktop.DBus"),
			dbus.WithMatchInterface("org.freedesktop.DBus"),
			dbus.WithMatchMember("NameOwnerChanged"),
		},
	}
	for _, m := range matches {
		if err := conn.AddMatchSignal(m...); err != nil {
			conn.Close()
			return nil, fmt.Errorf("add match rule: %w", err)
		}
	}

	p := &MPRISProvider{
		conn:     conn,
		events:   make(chan ManagerEvent, 16),
		signals:  make(chan *dbus.Signal, 32),
		sessions: make(map[string]*mprisSession),
	}
	conn.Signal(p.signals)

	go p.run()
	return p, nil
}

func (p *MPRISProvider) Events() <-chan ManagerEvent {
	return p.events
}

// Close drops the bus connection; no further events are delivered.
func (p *MPRISProvider) Close() error {
	return p.conn.Close()
}

// run discovers players already on the bus, then dispatches signals.
func (p *MPRISProvider) run() {
	var names []string
	if err := p.conn.BusObject().Call("org.freedesktop.DBus.ListNames", 0).Store(&names); err != nil {
		logger.Error("mpris: list bus names failed", "err", err)
	}
	for _, name := range names {
		if !strings.HasPrefix(name, mprisPrefix) {
			continue
		}
		var owner string
		if err := p.conn.BusObject().Call("org.freedesktop.DBus.GetNameOwner", 0, name).Store(&owner); err != nil {
			logger.Warn("mpris: resolve owner failed", "name", name, "err", err)
			continue
		}
		p.addSession(name, owner)
	}

	for sig := range p.signals {
		switch sig.Name {
		case "org.freedesktop.DBus.NameOwnerChanged":
			p.onNameOwnerChanged(sig)
		case "org.freedesktop.DBus.Properties.PropertiesChanged":
			p.onPropertiesChanged(sig)
		case mprisPlayerIface + ".Seeked":
			p.onSeeked(sig)
		}
	}
}

func (p *MPRISProvider) onNameOwnerChanged(sig *dbus.Signal) {
	if len(sig.Body) != 3 {
		return
	}
	name, _ := sig.Body[0].(string)
	newOwner, _ := sig.Body[2].(string)
	if !strings.HasPrefix(name, mprisPrefix) {
		return
	}
	if newOwner == "" {
		p.removeSession(name)
		return
	}
	p.mu.Lock()
	sess, known := p.sessions[name]
	if known {
		sess.owner = newOwner // name changed hands, keep the session
	}
	p.mu.Unlock()
	if !known {
		p.addSession(name, newOwner)
	}
}

func (p *MPRISProvider) onPropertiesChanged(sig *dbus.Signal) {
	if len(sig.Body) < 2 {
		return
	}
	iface, _ := sig.Body[0].(string)
	if iface != mprisPlayerIface {
		return
	}
	changed, ok := sig.Body[1].(map[string]dbus.Variant)
	if !ok {
		return
	}
	sess := p.sessionByOwner(sig.Sender)
	if sess == nil {
		return
	}

	if v, ok := changed["PlaybackStatus"]; ok {
		if status, ok := v.Value().(string); ok {
			p.applyStatus(sess, status)
		}
	}
	if v, ok := changed["Metadata"]; ok {
		if meta, ok := v.Value().(map[string]dbus.Variant); ok {
			title, artist := mediaFromMetadata(meta)
			p.deliver(sess, SessionUpdate{Media: &MediaInfo{Title: title, Artist: artist}})
		}
	}
}

func (p *MPRISProvider) onSeeked(sig *dbus.Signal) {
	if len(sig.Body) != 1 {
		return
	}
	positionUs, ok := sig.Body[0].(int64)
	if !ok {
		return
	}
	sess := p.sessionByOwner(sig.Sender)
	if sess == nil {
		return
	}
	p.deliver(sess, timelineUpdate(positionUs))
}

func (p *MPRISProvider) addSession(name, owner string) {
	sess := &mprisSession{
		name:    name,
		owner:   owner,
		updates: make(chan SessionUpdate, 16),
		done:    make(chan struct{}),
	}
	p.mu.Lock()
	p.sessions[name] = sess
	p.mu.Unlock()

	p.events <- ManagerEvent{
		Type:      SessionCreated,
		SessionID: name,
		Source:    "mpris",
		Updates:   sess.updates,
	}

	// Seed the freshly-created session with the player's current state so a
	// session that is already mid-song syncs immediately.
	if status, err := p.getStringProp(name, "PlaybackStatus"); err == nil {
		p.applyStatus(sess, status)
	}
	if v, err := p.getProp(name, "Metadata"); err == nil {
		if meta, ok := v.Value().(map[string]dbus.Variant); ok {
			title, artist := mediaFromMetadata(meta)
			p.deliver(sess, SessionUpdate{Media: &MediaInfo{Title: title, Artist: artist}})
		}
	}
	p.pollPosition(sess)

	go p.poll(sess)
}

func (p *MPRISProvider) removeSession(name string) {
	p.mu.Lock()
	sess, ok := p.sessions[name]
	if ok {
		delete(p.sessions, name)
		sess.removed = true
		close(sess.done)
		close(sess.updates)
	}
	p.mu.Unlock()
	if ok {
		p.events <- ManagerEvent{Type: SessionRemoved, SessionID: name}
	}
}

func (p *MPRISProvider) sessionByOwner(owner string) *mprisSession {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, sess := range p.sessions {
		if sess.owner == owner {
			return sess
		}
	}
	return nil
}

// applyStatus records a transport-status string and refreshes the position
// base (a status flip usually comes with a position jump). A session that
// starts playing becomes the current session.
func (p *MPRISProvider) applyStatus(sess *mprisSession, status string) {
	playbackStatus := StatusStopped
	switch status {
	case "Playing":
		playbackStatus = StatusPlaying
	case "Paused":
		playbackStatus = StatusPaused
	}

	p.mu.Lock()
	startedPlaying := playbackStatus == StatusPlaying && !sess.playing
	sess.playing = playbackStatus == StatusPlaying
	p.mu.Unlock()

	p.deliver(sess, SessionUpdate{Playback: &PlaybackInfo{Status: playbackStatus}})
	p.pollPosition(sess)

	if startedPlaying {
		p.events <- ManagerEvent{Type: CurrentSessionChanged, SessionID: sess.name}
	}
}

// poll refreshes a playing session's position once per interval until the
// session ends.
func (p *MPRISProvider) poll(sess *mprisSession) {
	ticker := time.NewTicker(positionPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-sess.done:
			return
		case <-ticker.C:
			p.mu.Lock()
			playing := sess.playing
			p.mu.Unlock()
			if playing {
				p.pollPosition(sess)
			}
		}
	}
}

func (p *MPRISProvider) pollPosition(sess *mprisSession) {
	v, err := p.getProp(sess.name, "Position")
	if err != nil {
		logger.Debug("mpris: position read failed", "name", sess.name, "err", err)
		return
	}
	positionUs, ok := v.Value().(int64)
	if !ok {
		return
	}
	p.deliver(sess, timelineUpdate(positionUs))
}

// deliver hands an update to the session's stream without ever blocking the
// signal loop. A full buffer drops the update; the next poll re-syncs the
// timeline, while dropped playback and media reports catch up on their next
// change or when the router replays the session on activation.
func (p *MPRISProvider) deliver(sess *mprisSession, update SessionUpdate) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if sess.removed {
		return
	}
	select {
	case sess.updates <- update:
	default:
		logger.Debug("mpris: update dropped (slow consumer)", "name", sess.name)
	}
}

func (p *MPRISProvider) getProp(name, prop string) (dbus.Variant, error) {
	obj := p.conn.Object(name, mprisPath)
	return obj.GetProperty(mprisPlayerIface + "." + prop)
}

func (p *MPRISProvider) getStringProp(name, prop string) (string, error) {
	v, err := p.getProp(name, prop)
	if err != nil {
		return "", err
	}
	s, ok := v.Value().(string)
	if !ok {
		return "", fmt.Errorf("property %s is not a string", prop)
	}
	return s, nil
}

// timelineUpdate converts an MPRIS position (microseconds) into a timeline
// report in provider ticks (100 ns units), stamped now.
func timelineUpdate(positionUs int64) SessionUpdate {
	return SessionUpdate{Timeline: &TimelineInfo{
		PositionTicks:   positionUs * 10,
		LastUpdatedAtMs: time.Now().UnixMilli(),
	}}
}

// mediaFromMetadata pulls title and artist out of an MPRIS metadata map.
// xesam:artist is usually a string list; some players send a plain string.
func mediaFromMetadata(meta map[string]dbus.Variant) (title, artist string) {
	if v, ok := meta["xesam:title"]; ok {
		title, _ = v.Value().(string)
	}
	if v, ok := meta["xesam:artist"]; ok {
		switch val := v.Value().(type) {
		case []string:
			artist = strings.Join(val, ", ")
		case string:
			artist = val
		case []interface{}:
			parts := make([]string, 0, len(val))
			for _, item := range val {
				if s, ok := item.(string); ok {
					parts = append(parts, s)
				}
			}
			artist = strings.Join(parts, ", ")
		}
	}
	return title, artist
}
