package orchestrator

import (
	"context"
	"time"

	"github.com/sdss/archond/internal/acf"
	"github.com/sdss/archond/internal/archonerr"
	"github.com/sdss/archond/internal/exposure"
	"github.com/sdss/archond/internal/lockfile"
	"github.com/sdss/archond/internal/ports"
)

// writeDetectors crops frame into one HDU per detector configured on u's
// descriptor, and persists each through the lockfile-bracketed write
// sequence: create lockfile -> write to temp path -> rename -> delete
// lockfile.
func (o *Orchestrator) writeDetectors(ctx context.Context, u *Unit, expNo int64, frame exposure.Frame, started, finished time.Time, extras, preHeader, readHeader map[string]any, env ports.Environment) ([]string, error) {
	desc := u.Client.Descriptor()

	geom := acf.Geometry{Lines: frame.Height, Pixels: frame.Width, VerticalBinning: 1, HorizontalBinning: 1}
	if doc := u.Config.Document(); doc != nil {
		if g, err := acf.ComputeGeometry(doc); err == nil {
			geom = g
		}
	}

	var paths []string
	for _, det := range desc.Detectors {
		cropped := frame.Crop(det.Area.X0, det.Area.Y0, det.Area.X1, det.Area.Y1)
		path := o.ResolvePath(u.Name, det.Name, expNo)

		cards := defaultHeader(desc, det, geom, expNo, started, finished, preHeader, readHeader, extras, env)

		rec := lockfile.Record{
			ExposureNo: expNo,
			Controller: u.Name,
			Detector:   det.Name,
			Path:       path,
			Width:      cropped.Width,
			Height:     cropped.Height,
			Bitpix:     cropped.BitDepth,
			CreatedAt:  o.Clock.Now(),
			Header:     cards,
			Pix16:      cropped.Pix16,
			Pix32:      cropped.Pix32,
		}
		if err := lockfile.Write(rec); err != nil {
			return paths, err
		}

		hdu := ports.HDU{
			Header: cards,
			Width:  cropped.Width,
			Height: cropped.Height,
			Bitpix: cropped.BitDepth,
			Pix16:  cropped.Pix16,
			Pix32:  cropped.Pix32,
		}
		if err := o.Writer.Write(ctx, path, hdu); err != nil {
			// PersistError does not fail the exposure: the lockfile
			// retains the data and recovery reruns the write.
			o.publishError(ctx, u.Name, err.Error())
			continue
		}
		if err := lockfile.Remove(path); err != nil {
			return paths, archonerr.Wrap(archonerr.Persist, u.Name, "writeDetectors: lockfile cleanup failed", err)
		}
		paths = append(paths, path)
	}
	return paths, nil
}
