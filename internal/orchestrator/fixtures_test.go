package orchestrator

import "github.com/sdss/archond/internal/acf"

// acfGeometryFixture builds a 100x100 active-area geometry with the given
// overscan pixel/line counts, for exercising biasSection in isolation.
func acfGeometryFixture(overscanPixels, overscanLines int) acf.Geometry {
	return acf.Geometry{
		Lines:             100,
		Pixels:            100,
		VerticalBinning:   1,
		HorizontalBinning: 1,
		OverscanPixels:    overscanPixels,
		OverscanLines:     overscanLines,
	}
}
