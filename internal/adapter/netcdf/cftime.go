package netcdf

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// timeUnits is the encoding used for every time coordinate this package
// writes.
const timeUnits = "hours since 1900-01-01 00:00:00"

var epochLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
	"2006-1-2 15:04:05",
	"2006-1-2",
}

// cfUnits is a parsed CF "<unit> since <epoch>" attribute.
type cfUnits struct {
	step  time.Duration
	epoch time.Time
}

func isTimeUnits(units string) bool {
	return strings.Contains(units, " since ")
}

func parseCFUnits(units string) (cfUnits, error) {
	unit, ref, ok := strings.Cut(strings.TrimSpace(units), " since ")
	if !ok {
		return cfUnits{}, fmt.Errorf("not a time unit: %q", units)
	}

	var u cfUnits
	switch strings.ToLower(strings.TrimSpace(unit)) {
	case "seconds", "second", "secs", "sec", "s":
		u.step = time.Second
	case "minutes", "minute", "mins", "min":
		u.step = time.Minute
	case "hours", "hour", "hrs", "hr", "h":
		u.step = time.Hour
	case "days", "day", "d":
		u.step = 24 * time.Hour
	default:
		return cfUnits{}, fmt.Errorf("unsupported time unit %q", unit)
	}

	ref = strings.TrimSpace(ref)
	ref = strings.TrimSuffix(ref, "UTC")
	ref = strings.TrimSuffix(ref, "Z")
	ref = strings.TrimSpace(ref)
	// Drop fractional seconds such as "00:00:00.0".
	if i := strings.LastIndex(ref, "."); i > strings.LastIndex(ref, ":") && strings.Contains(ref, ":") {
		ref = ref[:i]
	}
	for _, layout := range epochLayouts {
		if t, err := time.Parse(layout, ref); err == nil {
			u.epoch = t.UTC()
			return u, nil
		}
	}
	return cfUnits{}, fmt.Errorf("unsupported epoch %q", ref)
}

// decode turns an offset into an instant, rounded to the second.
func (u cfUnits) decode(v float64) time.Time {
	secs := math.Round(v * u.step.Seconds())
	return u.epoch.Add(time.Duration(secs) * time.Second)
}

func (u cfUnits) encode(t time.Time) float64 {
	return t.Sub(u.epoch).Seconds() / u.step.Seconds()
}
