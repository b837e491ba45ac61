package sensor

import (
	"errors"
	"strings"
	"testing"
	"time"
	"unicode/utf8"
)

func TestParseLineValid(t *testing.T) {
	tests := []struct {
		in   string
		want Update
	}{
		{"temp:22.5,humi:65.3,lumi:520", Update{22.5, 65.3, 520}},
		{"lumi:520,temp:22.5,humi:65.3", Update{22.5, 65.3, 520}},
		{"humi:40,lumi:300,temp:-3.25", Update{-3.25, 40, 300}},
		{"  temp:22.5,humi:65.3,lumi:520\r\n", Update{22.5, 65.3, 520}},
		{"temp: 22.5,humi:65.3 ,lumi: 520 ", Update{22.5, 65.3, 520}},
		{"temp:22.5,humi:65.3,lumi:520,volt:4.9", Update{22.5, 65.3, 520}},
		{"temp:22.5,garbage,humi:65.3,lumi:520", Update{22.5, 65.3, 520}},
		{"temp:1e1,humi:0,lumi:0", Update{10, 0, 0}},
	}
	for _, tt := range tests {
		got, err := ParseLine(tt.in)
		if err != nil {
			t.Fatalf("ParseLine(%q) unexpected error: %v", tt.in, err)
		}
		if got != tt.want {
			t.Fatalf("ParseLine(%q) = %+v; want %+v", tt.in, got, tt.want)
		}
	}
}

func TestParseLineTruncatesLuminosity(t *testing.T) {
	tests := []struct {
		lumi string
		want int
	}{
		{"520.9", 520},
		{"520.1", 520},
		{"0.99", 0},
		{"-7.8", -7},
	}
	for _, tt := range tests {
		got, err := ParseLine("temp:20,humi:50,lumi:" + tt.lumi)
		if err != nil {
			t.Fatalf("lumi %s: %v", tt.lumi, err)
		}
		if got.Luminosity != tt.want {
			t.Fatalf("lumi %s: got %d want %d", tt.lumi, got.Luminosity, tt.want)
		}
	}
}

func TestParseLineRejected(t *testing.T) {
	tests := []struct {
		in   string
		want error
	}{
		{"", ErrEmpty},
		{"   \t ", ErrEmpty},
		{"# Arduino ready", ErrEmpty},
		{"  #temp:22.5,humi:65.3,lumi:520", ErrEmpty},
		{"temp:22.5,humi:65.3", ErrIncomplete},
		{"temp:22.5", ErrIncomplete},
		{"hello world", ErrIncomplete},
		{"Temp:22.5,humi:65.3,lumi:520", ErrIncomplete},
		{"temp:22.5, humi:65.3,lumi:520", ErrIncomplete},
		{"temp:22.5,humi :65.3,lumi:520", ErrIncomplete},
		{"lumi:300,temp:abc,humi:50", ErrInvalidValue},
		{"temp:22.5,humi:,lumi:520", ErrInvalidValue},
		{"temp:22.5,humi:65.3,lumi:12a", ErrInvalidValue},
		{"temp:NaN,humi:65.3,lumi:520", ErrInvalidValue},
		{"temp:22.5,humi:inf,lumi:520", ErrInvalidValue},
		{"temp:22.5,humi:65.3,lumi:1e300", ErrInvalidValue},
	}
	for _, tt := range tests {
		got, err := ParseLine(tt.in)
		if !errors.Is(err, tt.want) {
			t.Fatalf("ParseLine(%q) err = %v; want %v", tt.in, err, tt.want)
		}
		if got != (Update{}) {
			t.Fatalf("ParseLine(%q) returned partial record %+v", tt.in, got)
		}
	}
}

func TestDecodeLineReplacesInvalidBytes(t *testing.T) {
	raw := []byte("temp:22.5,humi:65.3,lumi:520,x:\xff\xfe")
	s := DecodeLine(raw)
	if !utf8.ValidString(s) {
		t.Fatalf("decoded line is not valid UTF-8: %q", s)
	}
	if !strings.ContainsRune(s, utf8.RuneError) {
		t.Fatalf("expected replacement character in %q", s)
	}
	if _, err := ParseLine(s); err != nil {
		t.Fatalf("line with garbage in an unknown key should still parse: %v", err)
	}

	if got := DecodeLine([]byte("température")); got != "température" {
		t.Fatalf("valid UTF-8 altered: %q", got)
	}
}

func TestReadingApplyAndJSON(t *testing.T) {
	var r Reading
	b, err := r.MarshalJSON()
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != `{"temperature":0,"humidite":0,"luminosite":0,"horodatage":""}` {
		t.Fatalf("zero reading: %s", b)
	}

	now := time.Date(2025, 3, 7, 9, 5, 2, 0, time.Local)
	r.Apply(Update{Temperature: 22.5, Humidity: 65.3, Luminosity: 520}, now)
	b, err = r.MarshalJSON()
	if err != nil {
		t.Fatal(err)
	}
	want := `{"temperature":22.5,"humidite":65.3,"luminosite":520,"horodatage":"07/03/2025 09:05:02"}`
	if string(b) != want {
		t.Fatalf("got %s\nwant %s", b, want)
	}
}
