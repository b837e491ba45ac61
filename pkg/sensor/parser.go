package sensor

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/unicode"
)

const (
	commentPrefix = "#"

	keyTemperature = "temp"
	keyHumidity    = "humi"
	keyLuminosity  = "lumi"
)

var (
	// ErrEmpty is returned for blank and comment lines. It is not a failure.
	ErrEmpty = errors.New("empty or comment line")
	// ErrIncomplete is returned when one of temp, humi or lumi is missing.
	ErrIncomplete = errors.New("incomplete line")
	// ErrInvalidValue is wrapped by errors about non-numeric values.
	ErrInvalidValue = errors.New("invalid value")
)

// ParseLine parses a "temp:22.5,humi:65.3,lumi:520" line. Keys may appear in
// any order; unknown keys and tokens without a colon are ignored. Keys must
// match exactly, whitespace is tolerated only around values. The line is
// accepted only if all three keys are present with numeric values.
func ParseLine(line string) (Update, error) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, commentPrefix) {
		return Update{}, ErrEmpty
	}

	var u Update
	var hasTemp, hasHumi, hasLumi bool
	for _, token := range strings.Split(line, ",") {
		key, value, found := strings.Cut(token, ":")
		if !found {
			continue
		}
		switch key {
		case keyTemperature, keyHumidity, keyLuminosity:
		default:
			continue
		}

		f, err := parseValue(key, value)
		if err != nil {
			return Update{}, err
		}
		switch key {
		case keyTemperature:
			u.Temperature, hasTemp = f, true
		case keyHumidity:
			u.Humidity, hasHumi = f, true
		case keyLuminosity:
			// truncated toward zero, not rounded
			if f <= math.MinInt || f >= math.MaxInt {
				return Update{}, fmt.Errorf("%s=%q out of range: %w", key, strings.TrimSpace(value), ErrInvalidValue)
			}
			u.Luminosity, hasLumi = int(f), true
		}
	}

	if !hasTemp || !hasHumi || !hasLumi {
		return Update{}, fmt.Errorf("%w: have temp=%t humi=%t lumi=%t", ErrIncomplete, hasTemp, hasHumi, hasLumi)
	}
	return u, nil
}

func parseValue(key, value string) (float64, error) {
	value = strings.TrimSpace(value)
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("%s=%q: %w", key, value, ErrInvalidValue)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("%s=%q is not finite: %w", key, value, ErrInvalidValue)
	}
	return f, nil
}

// DecodeLine converts raw serial bytes to a string. Invalid UTF-8 sequences
// are replaced with U+FFFD; decoding never fails.
func DecodeLine(raw []byte) string {
	if utf8.Valid(raw) {
		return string(raw)
	}
	s, err := unicode.UTF8.NewDecoder().String(string(raw))
	if err != nil {
		return strings.ToValidUTF8(string(raw), string(utf8.RuneError))
	}
	return s
}
