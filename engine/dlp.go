package engine

import (
	"fmt"
	"io"
	"time"

	"go.bug.st/serial"
	"go.uber.org/zap"
)

// Port is the part of a serial port the handshake needs.
type Port interface {
	io.ReadWriteCloser
}

// PortOpener opens a named serial port.
type PortOpener func(name string, baud int, timeout time.Duration) (Port, error)

// OpenSerial opens a real serial port with 8N1 framing and a read timeout.
func OpenSerial(name string, baud int, timeout time.Duration) (Port, error) {
	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(name, mode)
	if err != nil {
		return nil, err
	}
	if err := port.SetReadTimeout(timeout); err != nil {
		port.Close()
		return nil, err
	}
	return port, nil
}

// ListSerialPorts returns the serial ports known to the OS.
func ListSerialPorts() ([]string, error) {
	return serial.GetPortsList()
}

// DeviceConfig selects the auxiliary signalling microcontroller.
type DeviceConfig struct {
	Candidates []string      `yaml:"candidates"`
	Baud       int           `yaml:"baud"`
	Handshake  byte          `yaml:"handshake"`
	Timeout    time.Duration `yaml:"timeout"`
	Enabled    bool          `yaml:"enabled"`
}

// Microcontroller is a serial device that echoes a handshake byte and
// drives TTL lines for auxiliary signalling.
type Microcontroller struct {
	port      Port
	name      string
	handshake byte
	log       *zap.Logger
}

// Discover tries each candidate in order and binds to the first one that
// echoes the handshake byte. Failures move on to the next candidate.
func Discover(cfg DeviceConfig, open PortOpener, log *zap.Logger) (*Microcontroller, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if open == nil {
		open = OpenSerial
	}
	candidates := cfg.Candidates
	if len(candidates) == 0 {
		var err error
		candidates, err = ListSerialPorts()
		if err != nil {
			return nil, fmt.Errorf("list serial ports: %w", err)
		}
	}
	for _, name := range candidates {
		port, err := open(name, cfg.Baud, cfg.Timeout)
		if err != nil {
			log.Debug("Skipping serial port", zap.String("port", name), zap.Error(err))
			continue
		}
		m := &Microcontroller{port: port, name: name, handshake: cfg.Handshake, log: log}
		if m.Ping() {
			log.Info("Bound microcontroller", zap.String("port", name))
			return m, nil
		}
		log.Debug("Bad handshake", zap.String("port", name))
		port.Close()
	}
	return nil, fmt.Errorf("%d candidate ports tried: %w", len(candidates), ErrNoDevice)
}

func (m *Microcontroller) Name() string { return m.name }

// Ping sends the handshake byte and checks the echo.
func (m *Microcontroller) Ping() bool {
	if _, err := m.port.Write([]byte{m.handshake}); err != nil {
		return false
	}
	buf := make([]byte, 1)
	n, err := m.port.Read(buf)
	return err == nil && n == 1 && buf[0] == m.handshake
}

// Set raises the given lines ("1".."8").
func (m *Microcontroller) Set(lines string) error {
	if err := checkLines(lines); err != nil {
		return err
	}
	_, err := m.port.Write([]byte(lines))
	return err
}

// Unset lowers the given lines.
func (m *Microcontroller) Unset(lines string) error {
	if err := checkLines(lines); err != nil {
		return err
	}
	cmd := []byte(lines)
	for i := range cmd {
		cmd[i] = lowerLine[cmd[i]-'1']
	}
	_, err := m.port.Write(cmd)
	return err
}

// Pulse raises line for d and lowers it again. It blocks for d.
func (m *Microcontroller) Pulse(line string, d time.Duration) error {
	if err := m.Set(line); err != nil {
		return err
	}
	time.Sleep(d)
	return m.Unset(line)
}

func (m *Microcontroller) Close() error {
	if m.port == nil {
		return nil
	}
	return m.port.Close()
}

var lowerLine = [8]byte{'Q', 'W', 'E', 'R', 'T', 'Y', 'U', 'I'}

func checkLines(lines string) error {
	if lines == "" {
		return fmt.Errorf("no lines given: %w", ErrInvalidArgument)
	}
	for i := 0; i < len(lines); i++ {
		if lines[i] < '1' || lines[i] > '8' {
			return fmt.Errorf("line %q: %w", lines[i], ErrInvalidArgument)
		}
	}
	return nil
}
