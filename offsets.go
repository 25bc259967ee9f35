package main

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
)

// DefaultSerialBaud is the hardware MIDI line rate used when a serial device
// is configured without an explicit baud rate.
const DefaultSerialBaud = 31250

// SongOffset is one configured per-track timecode adjustment. Matching is
// exact string equality on both fields.
type SongOffset struct {
	Title          string `json:"title"`
	Artist         string `json:"artist"`
	TimecodeOffset int64  `json:"timecodeOffset"` // milliseconds, may be negative
}

// Config is the startup configuration. It is loaded once and read-only for
// the life of the process.
type Config struct {
	MIDIDevice                string       `json:"midiDevice,omitempty"`
	DisableSongsOutsideConfig bool         `json:"disableSongsOutsideConfig"`
	Songs                     []SongOffset `json:"songs"`

	// Optional serial output: when SerialDevice is set the MTC stream goes to
	// that port instead of a MIDI output (there is no fan-out).
	SerialDevice string `json:"serialDevice,omitempty"`
	SerialBaud   int    `json:"serialBaud,omitempty"`

	Debug bool `json:"debug,omitempty"`
}

// LoadConfig reads and parses the JSON configuration file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file %s: %w", path, err)
	}
	if cfg.SerialBaud == 0 {
		cfg.SerialBaud = DefaultSerialBaud
	}
	return cfg, nil
}

// OffsetGate holds the per-track offset and the emission gate shared between
// the session router (writer) and the emission scheduler (reader). With no
// songs configured and the disable flag unset it is a pass-through stage:
// offset 0, always enabled.
type OffsetGate struct {
	cfg *Config

	mu       sync.Mutex
	offsetMs int64
	enabled  bool
}

func NewOffsetGate(cfg *Config) *OffsetGate {
	return &OffsetGate{cfg: cfg, enabled: true}
}

// OnTrackChanged re-resolves offset and gate for a newly-identified track.
// An unmatched track is a normal outcome, not an error: it resets the offset
// to zero and only disables emission when disableSongsOutsideConfig is set.
// The branch is asymmetric: a disabled gate reopens only on a configured
// match, never on a further unmatched update.
func (g *OffsetGate) OnTrackChanged(title, artist string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	for i := range g.cfg.Songs {
		song := &g.cfg.Songs[i]
		if song.Title == title && song.Artist == artist {
			g.offsetMs = song.TimecodeOffset
			g.enabled = true
			logger.Info("offset: track matched",
				"title", title,
				"artist", artist,
				"offset_ms", song.TimecodeOffset,
			)
			return
		}
	}

	g.offsetMs = 0
	if g.cfg.DisableSongsOutsideConfig {
		g.enabled = false
		logger.Info("offset: track not in config – emission disabled", "title", title, "artist", artist)
		return
	}
	logger.Debug("offset: track not in config", "title", title, "artist", artist)
}

// Gate returns the current offset and whether emission is permitted, as one
// consistent pair.
func (g *OffsetGate) Gate() (offsetMs int64, enabled bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.offsetMs, g.enabled
}
