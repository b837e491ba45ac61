package sensor

import (
	"encoding/json"
	"time"
)

// TimestampLayout is the DD/MM/YYYY HH:MM:SS format the web front end expects.
const TimestampLayout = "02/01/2006 15:04:05"

// Reading is the latest known state of the sensor board. It is created once
// with zero values and updated in place; a rejected line never touches it.
type Reading struct {
	Temperature float64   `json:"temperature"`
	Humidity    float64   `json:"humidite"`
	Luminosity  int       `json:"luminosite"`
	Timestamp   time.Time `json:"-"`
}

// Update holds the three values of one complete, valid line.
type Update struct {
	Temperature float64
	Humidity    float64
	Luminosity  int
}

// Apply merges u into r and stamps it with now.
func (r *Reading) Apply(u Update, now time.Time) {
	r.Temperature = u.Temperature
	r.Humidity = u.Humidity
	r.Luminosity = u.Luminosity
	r.Timestamp = now
}

// FormattedTimestamp returns the local time of the last update, or "" if
// the reading was never updated.
func (r Reading) FormattedTimestamp() string {
	if r.Timestamp.IsZero() {
		return ""
	}
	return r.Timestamp.Local().Format(TimestampLayout)
}

func (r Reading) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Temperature float64 `json:"temperature"`
		Humidity    float64 `json:"humidite"`
		Luminosity  int     `json:"luminosite"`
		Timestamp   string  `json:"horodatage"`
	}{r.Temperature, r.Humidity, r.Luminosity, r.FormattedTimestamp()})
}

// Source delivers raw lines from the sensor board.
type Source interface {
	// Poll returns the next complete line without its terminator. ok is
	// false when no complete line is available yet.
	Poll() (line []byte, ok bool, err error)
	Close() error
}
