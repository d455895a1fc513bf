package orchestrator

import (
	"fmt"
	"strings"
	"time"

	"github.com/sdss/archond/internal/acf"
	"github.com/sdss/archond/internal/client"
	"github.com/sdss/archond/internal/ports"
)

const fitsTimeLayout = "2006-01-02T15:04:05.000"

// defaultHeader computes the FITS default header for one detector: geometry
// keys, timestamps, exposure number, software version, backplane id,
// gain/readnoise for the detector's tap, and bias section coordinates
// (the overscan region, expressed as a FITS-style "[x1:x2,y1:y2]" section),
// merged with cotask headers and the caller-supplied extras (extras win).
func defaultHeader(desc client.Descriptor, det client.Detector, geom acf.Geometry, expNo int64, started, finished time.Time, preHeader, readHeader, extras map[string]any, env ports.Environment) []ports.HeaderCard {
	cards := []ports.HeaderCard{
		{Key: "TELESCOP", Value: desc.Name, Comment: "controller name"},
		{Key: "DETECTOR", Value: det.Name, Comment: "detector name"},
		{Key: "TAPLINE", Value: det.Tap, Comment: "sensor tap"},
		{Key: "EXPOSURE", Value: expNo, Comment: "exposure sequence number"},
		{Key: "SWVER", Value: SoftwareVersion, Comment: "archond software version"},
		{Key: "BACKPLN", Value: desc.Backplane, Comment: "backplane/firmware revision"},
		{Key: "DATE-OBS", Value: started.UTC().Format(fitsTimeLayout), Comment: "exposure start, UTC"},
		{Key: "DATE-END", Value: finished.UTC().Format(fitsTimeLayout), Comment: "exposure end, UTC"},
		{Key: "LINES", Value: geom.Lines, Comment: "active lines"},
		{Key: "PIXELS", Value: geom.Pixels, Comment: "active pixels"},
		{Key: "PRESKL", Value: geom.PreSkipLines, Comment: "pre-skip lines"},
		{Key: "PRESKP", Value: geom.PreSkipPixels, Comment: "pre-skip pixels"},
		{Key: "POSTSKL", Value: geom.PostSkipLines, Comment: "post-skip lines"},
		{Key: "POSTSKP", Value: geom.PostSkipPixels, Comment: "post-skip pixels"},
		{Key: "OVERSCL", Value: geom.OverscanLines, Comment: "overscan lines"},
		{Key: "OVERSCP", Value: geom.OverscanPixels, Comment: "overscan pixels"},
		{Key: "VBIN", Value: geom.VerticalBinning, Comment: "vertical binning"},
		{Key: "HBIN", Value: geom.HorizontalBinning, Comment: "horizontal binning"},
		{Key: "BIASSEC", Value: biasSection(geom), Comment: "overscan/bias region"},
	}

	if gain, ok := desc.GainTaps[det.Tap]; ok {
		cards = append(cards, ports.HeaderCard{Key: "GAIN", Value: gain, Comment: fmt.Sprintf("e-/ADU, tap %s", det.Tap)})
	}
	if rn, ok := desc.ReadnoiseTaps[det.Tap]; ok {
		cards = append(cards, ports.HeaderCard{Key: "RDNOISE", Value: rn, Comment: fmt.Sprintf("e-, tap %s", det.Tap)})
	}

	if env != (ports.Environment{}) {
		cards = append(cards,
			ports.HeaderCard{Key: "DOMETEMP", Value: env.TemperatureC, Comment: "dome temperature, C"},
			ports.HeaderCard{Key: "DOMEPRES", Value: env.PressureKPa, Comment: "dome pressure, kPa"},
			ports.HeaderCard{Key: "DOMEHUM", Value: env.HumidityPct, Comment: "dome relative humidity, %"},
		)
	}

	index := make(map[string]int, len(cards))
	for i, c := range cards {
		index[c.Key] = i
	}
	for _, extra := range []map[string]any{preHeader, readHeader, extras} {
		for k, v := range extra {
			key := strings.ToUpper(k)
			if i, ok := index[key]; ok {
				cards[i] = ports.HeaderCard{Key: key, Value: v}
				continue
			}
			index[key] = len(cards)
			cards = append(cards, ports.HeaderCard{Key: key, Value: v})
		}
	}

	return cards
}

func biasSection(g acf.Geometry) string {
	if g.OverscanPixels == 0 && g.OverscanLines == 0 {
		return ""
	}
	x0 := g.PreSkipPixels + g.Pixels + 1
	x1 := x0 + g.OverscanPixels - 1
	y0 := g.PreSkipLines + g.Lines + 1
	y1 := y0 + g.OverscanLines - 1
	return fmt.Sprintf("[%d:%d,%d:%d]", x0, x1, y0, y1)
}
