// Package envsensor implements the periph.io-backed reference
// ports.EnvSensor adapter, used to augment exposure headers with dome
// temperature/pressure/humidity when a sensor is wired to the host
// running the daemon (not the Archon itself). It mirrors
// devices/bmxx80's bus-open / bmxx80.NewI2C / Sense sequence from the
// retrieved periph.io example pack.
package envsensor

import (
	"context"
	"time"

	"periph.io/x/periph/conn/i2c"
	"periph.io/x/periph/conn/i2c/i2creg"
	"periph.io/x/periph/conn/physic"
	"periph.io/x/periph/devices/bmxx80"
	"periph.io/x/periph/host"

	"github.com/sdss/archond/internal/archonerr"
	"github.com/sdss/archond/internal/ports"
)

// Sensor wraps a bmxx80 device (BME280/BMP280) as a ports.EnvSensor.
type Sensor struct {
	dev *bmxx80.Dev
	bus i2c.BusCloser
}

// Options configures the I2C bus and address used to reach the sensor.
type Options struct {
	I2CBus  string // empty selects the default bus
	I2CAddr uint16 // 0x76 or 0x77; 0 selects the bmxx80 default
}

// Open initialises the host drivers, opens the named (or default) I2C
// bus, and attaches a bmxx80 device, grounded directly on
// cmd/bmxx80/main.go's setup sequence.
func Open(opts Options) (*Sensor, error) {
	if _, err := host.Init(); err != nil {
		return nil, archonerr.Wrap(archonerr.Device, "", "envsensor: host init failed", err)
	}
	bus, err := i2creg.Open(opts.I2CBus)
	if err != nil {
		return nil, archonerr.Wrap(archonerr.Device, "", "envsensor: open i2c bus failed", err)
	}
	addr := opts.I2CAddr
	if addr == 0 {
		addr = 0x76
	}
	devOpts := bmxx80.Opts{Temperature: bmxx80.O4x, Pressure: bmxx80.O4x, Humidity: bmxx80.O4x}
	dev, err := bmxx80.NewI2C(bus, addr, &devOpts)
	if err != nil {
		bus.Close()
		return nil, archonerr.Wrap(archonerr.Device, "", "envsensor: bmxx80.NewI2C failed", err)
	}
	return &Sensor{dev: dev, bus: bus}, nil
}

// Sense reads one environmental snapshot, satisfying ports.EnvSensor.
func (s *Sensor) Sense(ctx context.Context) (ports.Environment, error) {
	var env physic.Env
	if err := s.dev.Sense(&env); err != nil {
		return ports.Environment{}, archonerr.Wrap(archonerr.Device, "", "envsensor: sense failed", err)
	}
	return ports.Environment{
		TemperatureC: env.Temperature.Celsius(),
		PressureKPa:  float64(env.Pressure) / float64(physic.KiloPascal),
		HumidityPct:  float64(env.Humidity) / float64(physic.PercentRH),
	}, nil
}

// SenseContinuous streams periodic environmental snapshots at interval d,
// mirroring bmxx80.Dev's own SenseContinuous so callers don't have to
// poll Sense on a timer themselves. The returned channel is closed when
// ctx is cancelled.
func (s *Sensor) SenseContinuous(ctx context.Context, d time.Duration) (<-chan ports.Environment, error) {
	raw, err := s.dev.SenseContinuous(d)
	if err != nil {
		return nil, archonerr.Wrap(archonerr.Device, "", "envsensor: sense continuous failed", err)
	}
	out := make(chan ports.Environment)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				s.dev.Halt()
				return
			case env, ok := <-raw:
				if !ok {
					return
				}
				select {
				case out <- ports.Environment{
					TemperatureC: env.Temperature.Celsius(),
					PressureKPa:  float64(env.Pressure) / float64(physic.KiloPascal),
					HumidityPct:  float64(env.Humidity) / float64(physic.PercentRH),
				}:
				case <-ctx.Done():
					s.dev.Halt()
					return
				}
			}
		}
	}()
	return out, nil
}

// Close releases the device and the underlying bus.
func (s *Sensor) Close() error {
	err1 := s.dev.Halt()
	err2 := s.bus.Close()
	if err1 != nil {
		return err1
	}
	return err2
}
