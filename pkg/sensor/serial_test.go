package sensor

import (
	"errors"
	"strings"
	"testing"
	"time"
)

// chunkPort returns one chunk per Read, then timeouts (0, nil).
type chunkPort struct {
	chunks []string
	err    error
	closed int
}

func (p *chunkPort) Read(b []byte) (int, error) {
	if len(p.chunks) == 0 {
		return 0, p.err
	}
	n := copy(b, p.chunks[0])
	p.chunks[0] = p.chunks[0][n:]
	if p.chunks[0] == "" {
		p.chunks = p.chunks[1:]
	}
	return n, nil
}

func (p *chunkPort) Close() error {
	p.closed++
	return nil
}

func pollAll(t *testing.T, s *SerialSource, polls int) []string {
	t.Helper()
	var lines []string
	for i := 0; i < polls; i++ {
		line, ok, err := s.Poll()
		if err != nil {
			t.Fatalf("poll %d: %v", i, err)
		}
		if ok {
			lines = append(lines, string(line))
		}
	}
	return lines
}

func TestSerialSourceSplitsLines(t *testing.T) {
	port := &chunkPort{chunks: []string{"temp:22.5,hu", "mi:65.3,lumi:520\r\n# ok\n", "temp:1"}}
	s := newSerialSource(port, "test")

	got := pollAll(t, s, 6)
	want := []string{"temp:22.5,humi:65.3,lumi:520\r", "# ok"}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Fatalf("lines: got %q want %q", got, want)
	}
	if string(s.pending) != "temp:1" {
		t.Fatalf("pending: %q", s.pending)
	}
}

func TestSerialSourceNoDataIsNotAnError(t *testing.T) {
	s := newSerialSource(&chunkPort{}, "test")
	line, ok, err := s.Poll()
	if err != nil || ok || line != nil {
		t.Fatalf("got %q %v %v", line, ok, err)
	}
}

func TestSerialSourceDiscardsOverlongLine(t *testing.T) {
	port := &chunkPort{chunks: []string{strings.Repeat("x", MaxLineLength+1), "temp:1,humi:2,lumi:3\n"}}
	s := newSerialSource(port, "test")

	var gotErr bool
	var lines []string
	for i := 0; i < 50; i++ {
		line, ok, err := s.Poll()
		if err != nil {
			gotErr = true
			continue
		}
		if ok {
			lines = append(lines, string(line))
		}
	}
	if !gotErr {
		t.Fatalf("expected an error for an unterminated line")
	}
	if len(lines) != 1 || lines[0] != "temp:1,humi:2,lumi:3" {
		t.Fatalf("lines after discard: %q", lines)
	}
}

func TestSerialSourceReadError(t *testing.T) {
	s := newSerialSource(&chunkPort{err: errors.New("device unplugged")}, "test")
	if _, _, err := s.Poll(); err == nil || !strings.Contains(err.Error(), "device unplugged") {
		t.Fatalf("expected read error, got %v", err)
	}
}

func TestSerialSourceCloseIdempotent(t *testing.T) {
	port := &chunkPort{}
	s := newSerialSource(port, "test")
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	if port.closed != 1 {
		t.Fatalf("port closed %d times", port.closed)
	}
	if _, _, err := s.Poll(); err == nil {
		t.Fatalf("poll after close should fail")
	}
}

func TestFakeSourceEmitsValidLines(t *testing.T) {
	f := NewFakeSource(time.Second, 1)
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	f.now = func() time.Time { return now }

	line, ok, err := f.Poll()
	if err != nil || !ok {
		t.Fatalf("first poll: ok=%v err=%v", ok, err)
	}
	u, err := ParseLine(DecodeLine(line))
	if err != nil {
		t.Fatalf("fake line %q does not parse: %v", line, err)
	}
	if u.Temperature < 20 || u.Temperature > 25 || u.Humidity < 50 || u.Humidity > 60 || u.Luminosity < 400 || u.Luminosity >= 900 {
		t.Fatalf("values out of range: %+v", u)
	}

	if _, ok, _ := f.Poll(); ok {
		t.Fatalf("second poll within the interval should not emit")
	}
	now = now.Add(time.Second)
	if _, ok, _ := f.Poll(); !ok {
		t.Fatalf("poll after the interval should emit")
	}

	_ = f.Close()
	if _, _, err := f.Poll(); err == nil {
		t.Fatalf("poll after close should fail")
	}
}
