package console

import (
	"fmt"
	"time"

	"github.com/ericogr/aeroponic-to-json/pkg/output"
	"github.com/ericogr/aeroponic-to-json/pkg/sensor"
	"periph.io/x/conn/v3/physic"
)

type ConsoleOutput struct{}

func NewConsole() output.Output { return &ConsoleOutput{} }

func (c *ConsoleOutput) Publish(r sensor.Reading) error {
	fmt.Printf("%s temperature=%s humidity=%s luminosity=%d lx\n",
		r.Timestamp.Format(time.RFC3339), celsius(r.Temperature), percentRH(r.Humidity), r.Luminosity)
	return nil
}

func (c *ConsoleOutput) Close() error { return nil }

func celsius(v float64) physic.Temperature {
	return physic.ZeroCelsius + physic.Temperature(v*float64(physic.Celsius))
}

func percentRH(v float64) physic.RelativeHumidity {
	return physic.RelativeHumidity(v * float64(physic.PercentRH))
}
