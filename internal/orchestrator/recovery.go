package orchestrator

import (
	"context"

	"github.com/sdss/archond/internal/lockfile"
	"github.com/sdss/archond/internal/ports"
)

// RecoverResult summarises one Recover pass.
type RecoverResult struct {
	Recovered []string // final paths successfully (re)written
	Failed    map[string]error
}

// Recover scans dirs for lockfiles left behind by a crash, re-writes their
// embedded frame+header to the final path, and removes the lockfile once
// the write succeeds. It is run once on daemon startup and again whenever
// the operator issues an explicit "recover" command.
func (o *Orchestrator) Recover(ctx context.Context, dirs []string) (RecoverResult, error) {
	result := RecoverResult{Failed: map[string]error{}}
	for _, dir := range dirs {
		finals, err := lockfile.Find(dir)
		if err != nil {
			continue
		}
		for _, path := range finals {
			rec, err := lockfile.Read(path)
			if err != nil {
				result.Failed[path] = err
				continue
			}
			hdu := ports.HDU{
				Header: rec.Header,
				Width:  rec.Width,
				Height: rec.Height,
				Bitpix: rec.Bitpix,
				Pix16:  rec.Pix16,
				Pix32:  rec.Pix32,
			}
			if err := o.Writer.Write(ctx, rec.Path, hdu); err != nil {
				result.Failed[path] = err
				o.publishError(ctx, rec.Controller, err.Error())
				continue
			}
			if err := lockfile.Remove(rec.Path); err != nil {
				result.Failed[path] = err
				continue
			}
			result.Recovered = append(result.Recovered, rec.Path)
		}
	}
	o.publish(ctx, "filenames", "fleet", map[string]any{"recovered": result.Recovered})
	return result, nil
}
