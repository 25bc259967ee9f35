package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"gitlab.com/gomidi/midi/v2/drivers"
	"gitlab.com/gomidi/midi/v2/drivers/rtmididrv"
)

// Sink is where encoded MTC messages go. The emission scheduler is its only
// writer.
type Sink interface {
	Send(data []byte) error
	Close() error
}

var (
	ErrNoOutputPorts        = errors.New("no MIDI output port found")
	ErrInvalidPortSelection = errors.New("invalid output port selected")
	errOutputUnavailable    = errors.New("MIDI output unavailable")
)

const outputRescanInterval = 1000 * time.Millisecond

// MTCOutput sends MTC bytes to a MIDI output port. After a failed send it
// marks the port lost and tries to reopen it by name, at most once per
// outputRescanInterval, so a re-plugged interface picks the stream back up
// without restarting the process.
type MTCOutput struct {
	mu           sync.Mutex
	drv          *rtmididrv.Driver
	out          drivers.Out
	portName     string
	connected    bool
	lastRescanAt time.Time
}

// OpenMTCOutput initialises the rtmidi driver and opens an output port.
// Selection order: the configured device name (exact match first, then
// case-insensitive substring), the only available port when there is exactly
// one, otherwise an interactive numeric prompt. Zero ports or an invalid
// selection is an error; the caller treats any error here as fatal.
func OpenMTCOutput(configured string) (*MTCOutput, error) {
	drv, err := rtmididrv.New()
	if err != nil {
		return nil, fmt.Errorf("rtmididrv: %w", err)
	}

	outs, err := drv.Outs()
	if err != nil {
		drv.Close()
		return nil, fmt.Errorf("list MIDI outputs: %w", err)
	}
	if len(outs) == 0 {
		drv.Close()
		return nil, ErrNoOutputPorts
	}

	out, err := choosePort(outs, configured, os.Stdin)
	if err != nil {
		drv.Close()
		return nil, err
	}
	if err := out.Open(); err != nil {
		drv.Close()
		return nil, fmt.Errorf("open %q: %w", out.String(), err)
	}

	logger.Info("midi: output connected", "port", out.String())
	return &MTCOutput{
		drv:       drv,
		out:       out,
		portName:  out.String(),
		connected: true,
	}, nil
}

// choosePort resolves which of the available output ports to use. The
// numeric prompt reads its selection from input.
func choosePort(outs []drivers.Out, configured string, input io.Reader) (drivers.Out, error) {
	if configured != "" {
		for _, o := range outs {
			if o.String() == configured {
				return o, nil
			}
		}
		for _, o := range outs {
			if containsCI(o.String(), configured) {
				return o, nil
			}
		}
		logger.Warn("midi: configured device not found", "device", configured)
	}

	if len(outs) == 1 {
		logger.Info("midi: choosing the only available output port", "port", outs[0].String())
		return outs[0], nil
	}

	fmt.Println("\nAvailable output ports:")
	for i, o := range outs {
		fmt.Printf("%d: %s\n", i, o.String())
	}
	fmt.Print("Please select output port: ")
	line, err := bufio.NewReader(input).ReadString('\n')
	if err != nil {
		return nil, fmt.Errorf("read port selection: %w", err)
	}
	idx, err := strconv.Atoi(strings.TrimSpace(line))
	if err != nil || idx < 0 || idx >= len(outs) {
		return nil, ErrInvalidPortSelection
	}
	return outs[idx], nil
}

// Send writes one MTC message to the port. While the port is lost it
// attempts a rate-limited reconnect and reports errOutputUnavailable until
// that succeeds.
func (m *MTCOutput) Send(data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.connected && !m.reconnect() {
		return fmt.Errorf("%w: %s", errOutputUnavailable, m.portName)
	}
	if err := m.out.Send(data); err != nil {
		logger.Warn("midi: send failed – output lost", "port", m.portName, "err", err)
		m.dropConn()
		return fmt.Errorf("send to %q: %w", m.portName, err)
	}
	return nil
}

// Close shuts down the port and the rtmidi driver.
func (m *MTCOutput) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dropConn()
	return m.drv.Close()
}

// dropConn closes the current port handle. Callers hold m.mu.
func (m *MTCOutput) dropConn() {
	if m.out != nil {
		_ = m.out.Close()
		m.out = nil
	}
	m.connected = false
}

// reconnect tries to reopen the lost port by name. Callers hold m.mu.
func (m *MTCOutput) reconnect() bool {
	now := time.Now()
	if !m.lastRescanAt.IsZero() && now.Sub(m.lastRescanAt) < outputRescanInterval {
		return false
	}
	m.lastRescanAt = now

	outs, err := m.drv.Outs()
	if err != nil {
		logger.Debug("midi: rescan failed", "err", err)
		return false
	}
	for _, o := range outs {
		if o.String() != m.portName {
			continue
		}
		if err := o.Open(); err != nil {
			logger.Debug("midi: reopen failed", "port", m.portName, "err", err)
			return false
		}
		m.out = o
		m.connected = true
		logger.Info("midi: output reconnected", "port", m.portName)
		return true
	}
	logger.Debug("midi: port not present", "port", m.portName)
	return false
}

func containsCI(s, sub string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(sub))
}
