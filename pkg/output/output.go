package output

import "github.com/ericogr/aeroponic-to-json/pkg/sensor"

// Output receives the full current reading after every accepted line.
type Output interface {
	Publish(sensor.Reading) error
	Close() error
}

// Entry is a configured output together with the name used in logs.
type Entry struct {
	Name   string
	Output Output
}

// helper constructors are in subpackages
