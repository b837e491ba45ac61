package sensor

import (
	"bytes"
	"io"
	"time"

	"github.com/ericogr/aeroponic-to-json/pkg/config"
	"github.com/joomcode/errorx"
	"go.bug.st/serial"
)

const (
	// MaxLineLength caps buffered bytes when the board never sends a newline.
	MaxLineLength = 4096

	defaultReadTimeout = 100 * time.Millisecond
)

type SerialSource struct {
	port    io.ReadCloser
	name    string
	pending []byte
	buf     []byte
}

// OpenSerial opens the configured device in 8N1 mode. Reads are bounded by
// ReadTimeoutMs so that Poll never blocks the loop for long.
func OpenSerial(cfg config.SerialConfig) (*SerialSource, error) {
	mode := &serial.Mode{
		BaudRate: cfg.BaudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(cfg.Port, mode)
	if err != nil {
		return nil, errorx.Decorate(err, "open serial port %s at %d baud", cfg.Port, cfg.BaudRate)
	}

	timeout := defaultReadTimeout
	if cfg.ReadTimeoutMs > 0 {
		timeout = time.Duration(cfg.ReadTimeoutMs) * time.Millisecond
	}
	if err := port.SetReadTimeout(timeout); err != nil {
		_ = port.Close()
		return nil, errorx.Decorate(err, "set read timeout on %s", cfg.Port)
	}
	return newSerialSource(port, cfg.Port), nil
}

func newSerialSource(port io.ReadCloser, name string) *SerialSource {
	return &SerialSource{port: port, name: name, buf: make([]byte, 256)}
}

func (s *SerialSource) Poll() ([]byte, bool, error) {
	if line, ok := s.nextLine(); ok {
		return line, true, nil
	}
	if s.port == nil {
		return nil, false, errorx.IllegalState.New("serial port %s is closed", s.name)
	}

	// A read timeout yields n == 0 and a nil error.
	n, err := s.port.Read(s.buf)
	if n > 0 {
		s.pending = append(s.pending, s.buf[:n]...)
	}
	if err != nil && err != io.EOF {
		return nil, false, errorx.Decorate(err, "read from %s", s.name)
	}

	if line, ok := s.nextLine(); ok {
		return line, true, nil
	}
	if len(s.pending) > MaxLineLength {
		dropped := len(s.pending)
		s.pending = s.pending[:0]
		return nil, false, errorx.IllegalFormat.New("no line terminator in %d bytes from %s, discarded", dropped, s.name)
	}
	return nil, false, nil
}

// nextLine pops the first newline-terminated line from the pending buffer.
func (s *SerialSource) nextLine() ([]byte, bool) {
	i := bytes.IndexByte(s.pending, '\n')
	if i < 0 {
		return nil, false
	}
	line := make([]byte, i)
	copy(line, s.pending[:i])
	s.pending = append(s.pending[:0], s.pending[i+1:]...)
	return line, true
}

func (s *SerialSource) Close() error {
	if s.port == nil {
		return nil
	}
	err := s.port.Close()
	s.port = nil
	if err != nil {
		return errorx.Decorate(err, "close serial port %s", s.name)
	}
	return nil
}
