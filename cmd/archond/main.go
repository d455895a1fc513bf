// archond drives one or more STA Archon CCD controllers used in
// astronomical spectrographs: it translates high-level exposure requests
// into the controllers' line-oriented TCP protocol, tracks exposure
// progress, fetches frame buffers, and persists FITS files.
package main

import (
	"fmt"
	"os"

	"github.com/sdss/archond/internal/archonerr"
)

func main() {
	if err := Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "archond: %v\n", err)
		os.Exit(archonerr.ExitCode(err))
	}
}
