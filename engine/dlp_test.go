package engine

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakePort echoes the handshake when echo is set and records writes.
type fakePort struct {
	echo    bool
	pending []byte
	written bytes.Buffer
	closed  bool
}

func (p *fakePort) Write(b []byte) (int, error) {
	p.written.Write(b)
	if p.echo {
		p.pending = append(p.pending, b...)
	}
	return len(b), nil
}

func (p *fakePort) Read(b []byte) (int, error) {
	if len(p.pending) == 0 {
		return 0, nil
	}
	n := copy(b, p.pending)
	p.pending = p.pending[n:]
	return n, nil
}

func (p *fakePort) Close() error {
	p.closed = true
	return nil
}

func fakeOpener(ports map[string]*fakePort) PortOpener {
	return func(name string, baud int, timeout time.Duration) (Port, error) {
		p, ok := ports[name]
		if !ok {
			return nil, errors.New("no such port")
		}
		return p, nil
	}
}

func testDeviceConfig(candidates ...string) DeviceConfig {
	return DeviceConfig{Candidates: candidates, Baud: 9600, Handshake: 0x27, Timeout: time.Millisecond}
}

func TestDiscoverSkipsBadCandidates(t *testing.T) {
	silent := &fakePort{}
	good := &fakePort{echo: true}
	ports := map[string]*fakePort{"/dev/ttyUSB1": silent, "/dev/ttyUSB2": good}

	m, err := Discover(testDeviceConfig("/dev/ttyUSB0", "/dev/ttyUSB1", "/dev/ttyUSB2"), fakeOpener(ports), nil)
	require.NoError(t, err)
	assert.Equal(t, "/dev/ttyUSB2", m.Name())
	assert.True(t, silent.closed, "a port failing the handshake is released")
	assert.False(t, good.closed)
	assert.Equal(t, []byte{0x27}, silent.written.Bytes())
}

func TestDiscoverNoDevice(t *testing.T) {
	ports := map[string]*fakePort{"/dev/ttyACM0": {}}
	_, err := Discover(testDeviceConfig("/dev/ttyACM0", "/dev/ttyACM1"), fakeOpener(ports), nil)
	assert.ErrorIs(t, err, ErrNoDevice)
}

func TestMicrocontrollerLines(t *testing.T) {
	port := &fakePort{echo: true}
	m, err := Discover(testDeviceConfig("com3"), fakeOpener(map[string]*fakePort{"com3": port}), nil)
	require.NoError(t, err)
	port.echo = false
	port.written.Reset()

	require.NoError(t, m.Set("12"))
	require.NoError(t, m.Unset("18"))
	assert.Equal(t, "12QI", port.written.String())

	assert.ErrorIs(t, m.Set("9"), ErrInvalidArgument)
	assert.ErrorIs(t, m.Unset(""), ErrInvalidArgument)

	require.NoError(t, m.Pulse("3", time.Millisecond))
	assert.Equal(t, "12QI3E", port.written.String())

	assert.False(t, m.Ping())
	port.echo = true
	assert.True(t, m.Ping())

	require.NoError(t, m.Close())
	assert.True(t, port.closed)
}
