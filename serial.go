package main

import (
	"fmt"

	"go.bug.st/serial"
)

// SerialMTC sends MTC bytes over a serial line. Hardware MIDI is a 31250 baud
// UART, and several show controllers accept timecode on a DIN or USB-serial
// port directly; the wire bytes are identical to the MIDI-port path.
type SerialMTC struct {
	port   serial.Port
	device string
}

// OpenSerialMTC opens the named serial device at the given baud rate.
func OpenSerialMTC(device string, baud int) (*SerialMTC, error) {
	mode := &serial.Mode{BaudRate: baud}
	p, err := serial.Open(device, mode)
	if err != nil {
		return nil, fmt.Errorf("open serial port %s: %w", device, err)
	}
	logger.Info("serial: port opened", "device", device, "baud", baud)
	return &SerialMTC{port: p, device: device}, nil
}

// Send writes one MTC message to the serial port.
func (s *SerialMTC) Send(data []byte) error {
	if _, err := s.port.Write(data); err != nil {
		return fmt.Errorf("serial write to %s: %w", s.device, err)
	}
	return nil
}

// Close closes the underlying serial port.
func (s *SerialMTC) Close() error {
	logger.Info("serial: closing port", "device", s.device)
	return s.port.Close()
}
