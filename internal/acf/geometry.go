package acf

// Geometry is the derived readout shape for a controller, computed from
// the ACF's Lines/Pixels parameters plus skip, overscan and binning.
type Geometry struct {
	Lines  int
	Pixels int

	PreSkipLines  int
	PreSkipPixels int

	PostSkipLines  int
	PostSkipPixels int

	OverscanLines  int
	OverscanPixels int

	VerticalBinning   int
	HorizontalBinning int

	// FrameLines/FramePixels are the total taplines written by the
	// hardware into the buffer, including skip and overscan regions, so
	// the CCD area map in the config file lines up with what gets
	// written. This is the "framemode" computation from §4.3.
	FrameLines  int
	FramePixels int
}

// ComputeGeometry derives a Geometry from the named parameters, defaulting
// any parameter that is absent from the table to zero (binning defaults to
// 1, never 0, since it is a divisor downstream).
func ComputeGeometry(d *Document) (Geometry, error) {
	g := Geometry{VerticalBinning: 1, HorizontalBinning: 1}

	intOrZero := func(name string) (int, bool) {
		n, err := d.Int(name)
		if err != nil {
			return 0, false
		}
		return n, true
	}

	if v, ok := intOrZero("Lines"); ok {
		g.Lines = v
	}
	if v, ok := intOrZero("Pixels"); ok {
		g.Pixels = v
	}
	if v, ok := intOrZero("PreSkipLines"); ok {
		g.PreSkipLines = v
	}
	if v, ok := intOrZero("PreSkipPixels"); ok {
		g.PreSkipPixels = v
	}
	if v, ok := intOrZero("PostSkipLines"); ok {
		g.PostSkipLines = v
	}
	if v, ok := intOrZero("PostSkipPixels"); ok {
		g.PostSkipPixels = v
	}
	if v, ok := intOrZero("OverscanLines"); ok {
		g.OverscanLines = v
	}
	if v, ok := intOrZero("OverscanPixels"); ok {
		g.OverscanPixels = v
	}
	if v, ok := intOrZero("VerticalBinning"); ok && v > 0 {
		g.VerticalBinning = v
	}
	if v, ok := intOrZero("HorizontalBinning"); ok && v > 0 {
		g.HorizontalBinning = v
	}

	g.FrameLines = g.Lines + g.PreSkipLines + g.PostSkipLines + g.OverscanLines
	g.FramePixels = g.Pixels + g.PreSkipPixels + g.PostSkipPixels + g.OverscanPixels

	return g, nil
}

// ActiveWidth and ActiveHeight are the binned dimensions of the active
// (non-skip, non-overscan) area, the shape a fetched buffer's pixel data
// should be cropped to per detector before writing a FITS HDU.
func (g Geometry) ActiveWidth() int {
	if g.HorizontalBinning <= 0 {
		return g.Pixels
	}
	return g.Pixels / g.HorizontalBinning
}

func (g Geometry) ActiveHeight() int {
	if g.VerticalBinning <= 0 {
		return g.Lines
	}
	return g.Lines / g.VerticalBinning
}
