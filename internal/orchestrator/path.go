package orchestrator

import (
	"fmt"
	"strings"
)

// ResolvePath expands PathTemplate's {observatory}, {hemisphere},
// {controller}, {exposure_no} placeholders for one controller/detector
// pair. A non-empty detector is appended as a further "-{detector}" suffix
// before the extension, so each detector gets a distinct file; an empty
// detector leaves the path unsuffixed.
func (o *Orchestrator) ResolvePath(controller, detector string, expNo int64) string {
	r := strings.NewReplacer(
		"{observatory}", o.Observatory,
		"{hemisphere}", o.Hemisphere,
		"{controller}", controller,
		"{exposure_no}", fmt.Sprintf("%d", expNo),
	)
	path := r.Replace(o.PathTemplate)
	if detector == "" {
		return path
	}
	dot := strings.LastIndex(path, ".")
	if dot < 0 {
		return path + "-" + detector
	}
	return path[:dot] + "-" + detector + path[dot:]
}
