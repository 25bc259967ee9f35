package main

import (
	"log/slog"
	"os"
)

// -------------------- Logger --------------------

// logger is the package-wide structured logger. Safe to use before initLogger
// is called; defaults to slog.Default().
var logger = slog.Default()

// initLogger configures the shared slog logger and calls slog.SetDefault so
// the stdlib log package also routes through the same handler.
func initLogger(debug bool) {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	h := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level:     level,
		AddSource: debug, // include file:line in debug mode
	})
	logger = slog.New(h)
	slog.SetDefault(logger) // stdlib log.* now routes through slog
}

// -------------------- Main --------------------

func main() {
	configPath := "config.json"
	if len(os.Args) > 1 {
		configPath = os.Args[1]
	}

	cfg, err := LoadConfig(configPath)
	if err != nil {
		logger.Error("config load failed", "path", configPath, "err", err)
		os.Exit(1)
	}

	initLogger(cfg.Debug)
	logger.Info("playhead starting",
		"config", configPath,
		"midi_device", cfg.MIDIDevice,
		"serial_device", cfg.SerialDevice,
		"songs", len(cfg.Songs),
		"disable_outside_config", cfg.DisableSongsOutsideConfig,
		"frame_rate", FrameRate,
		"debug", cfg.Debug,
	)

	var sink Sink
	if cfg.SerialDevice != "" {
		s, err := OpenSerialMTC(cfg.SerialDevice, cfg.SerialBaud)
		if err != nil {
			logger.Error("serial output init failed", "device", cfg.SerialDevice, "err", err)
			os.Exit(1)
		}
		sink = s
	} else {
		out, err := OpenMTCOutput(cfg.MIDIDevice)
		if err != nil {
			logger.Error("midi output init failed", "err", err)
			os.Exit(1)
		}
		sink = out
	}
	defer sink.Close()

	est := NewEstimator()
	gate := NewOffsetGate(cfg)
	sched := NewScheduler(est, gate, sink)

	// Park downstream devices at zero until the first session update arrives.
	if err := sink.Send(encodeFullFrame(0)); err != nil {
		logger.Warn("initial full frame send failed", "err", err)
	}

	provider, err := newSessionProvider()
	if err != nil {
		logger.Error("session provider init failed", "err", err)
		os.Exit(1)
	}
	defer provider.Close()

	router := NewRouter(est, gate)
	go router.Run(provider)

	logger.Info("running – emitting timecode")
	sched.Run()
}
