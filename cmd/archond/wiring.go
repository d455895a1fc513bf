package main

import (
	"context"
	"fmt"
	"os"

	"github.com/sdss/archond/internal/acf"
	"github.com/sdss/archond/internal/archonerr"
	"github.com/sdss/archond/internal/client"
	"github.com/sdss/archond/internal/config"
	"github.com/sdss/archond/internal/envsensor"
	"github.com/sdss/archond/internal/exposure"
	"github.com/sdss/archond/internal/fitswriter"
	"github.com/sdss/archond/internal/logging"
	"github.com/sdss/archond/internal/orchestrator"
	"github.com/sdss/archond/internal/replysink"
	"github.com/sdss/archond/internal/seqfile"
)

// fleet bundles everything built from a loaded Config, so subcommands can
// tear it down (closing every controller socket) once they are done.
type fleet struct {
	orch  *orchestrator.Orchestrator
	units []*orchestrator.Unit
	sink  *replysink.FanOut
	env   *envsensor.Sensor
}

func (f *fleet) Close() {
	for _, u := range f.units {
		u.Client.Close()
	}
	if f.env != nil {
		f.env.Close()
	}
}

// buildFleet connects every configured controller, loads its ACF, and
// assembles the orchestrator, grounded on §4.6/§4.7's wiring of the
// client, acf.Manager, exposure.Engine and the injected ports together.
func buildFleet(ctx context.Context, cfg *config.Config) (*fleet, error) {
	counter, err := seqfile.New(cfg.CounterPath)
	if err != nil {
		return nil, err
	}

	slogSink := replysink.NewSlog(logging.Default())
	fanout := replysink.NewFanOut(slogSink)

	var units []*orchestrator.Unit
	for _, cc := range cfg.Controllers {
		desc := client.Descriptor{
			Name:          cc.Name,
			Host:          cc.Host,
			Port:          cc.Port,
			Backplane:     cc.Backplane,
			GainTaps:      cc.Gain,
			ReadnoiseTaps: cc.Readnoise,
		}
		for _, d := range cc.Detectors {
			desc.Detectors = append(desc.Detectors, client.Detector{
				Name: d.Name,
				Tap:  d.Tap,
				Area: client.Rect{X0: d.Area.X0, Y0: d.Area.Y0, X1: d.Area.X1, Y1: d.Area.Y1},
			})
		}

		conn := client.New(desc)
		if err := conn.Connect(ctx); err != nil {
			return nil, fmt.Errorf("connect %s: %w", cc.Name, err)
		}

		mgr := acf.NewManager(cc.Name, conn)
		if cc.ACFPath != "" {
			acfText, rerr := os.ReadFile(cc.ACFPath)
			if rerr != nil {
				return nil, archonerr.Wrap(archonerr.Config, cc.Name, "read ACF file failed", rerr)
			}
			if werr := mgr.WriteConfig(ctx, string(acfText), nil, []string{"APPLYALL"}); werr != nil {
				return nil, werr
			}
		}

		engine := exposure.New(cc.Name, conn, mgr)
		engine.Start(ctx)

		units = append(units, &orchestrator.Unit{Name: cc.Name, Client: conn, Config: mgr, Engine: engine})
	}

	fitsWriter := fitswriter.New(cfg.FITSWorkers)

	orch := orchestrator.New(units, fanout, fitsWriter, nil, counter)
	orch.PathTemplate = cfg.PathTemplate
	orch.Observatory = cfg.Observatory
	orch.Hemisphere = cfg.Hemisphere

	f := &fleet{orch: orch, units: units, sink: fanout}

	if cfg.EnvSensor.Enabled {
		sensor, err := envsensor.Open(envsensor.Options{I2CBus: cfg.EnvSensor.I2CBus, I2CAddr: cfg.EnvSensor.I2CAddr})
		if err != nil {
			logging.Default().Warn("envsensor disabled", "err", err)
		} else {
			orch.EnvSense = sensor
			f.env = sensor
		}
	}

	return f, nil
}

// exitErr maps a caller error through archonerr's taxonomy, used so every
// subcommand shares the same exit-code mapping at the top level.
func exitErr(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := archonerr.KindOf(err); ok {
		return err
	}
	return archonerr.Wrap(archonerr.Device, "", "archond: unclassified failure", err)
}
