package domain

import (
	"fmt"
	"math"
)

// Descriptions attached to persisted index variables.
const (
	IndexDescription             = "station-based NAO index following Scaife et al. 2014 GRL"
	StandardizedIndexDescription = "Standardized station-based NAO index following Scaife et al. 2014 GRL"

	UnitsPascal        = "Pa"
	UnitsDimensionless = "none"
)

// Station is a fixed observing location.
type Station struct {
	Name string  `yaml:"name" validate:"required"`
	Lat  float64 `yaml:"lat" validate:"gte=-90,lte=90"`
	Lon  float64 `yaml:"lon" validate:"gte=-180,lte=360"`
}

// Default NAO stations.
var (
	Azores  = Station{Name: "azores", Lat: 37.74, Lon: -25.67}
	Iceland = Station{Name: "iceland", Lat: 64.15, Lon: -21.94}
)

// nearest returns the position of the coordinate closest to target. Ties go
// to the first candidate. Longitudes are compared modulo 360.
func nearest(a Axis, target float64, periodic bool) (int, error) {
	if a.IsTime() || a.Len() == 0 {
		return 0, fmt.Errorf("%w: axis %s cannot be searched for %v", ErrShape, a.Name, target)
	}
	best, bestDist := -1, math.Inf(1)
	for i, v := range a.Values {
		d := math.Abs(v - target)
		if periodic {
			d = math.Mod(d, 360)
			d = math.Min(d, 360-d)
		}
		if d < bestDist {
			best, bestDist = i, d
		}
	}
	return best, nil
}

// valueAt selects the grid cell nearest to s and drops the latitude and
// longitude axes.
func valueAt(f Field, s Station) (Field, error) {
	lat, ok := f.Axis(AxisLatitude)
	if !ok {
		return Field{}, fmt.Errorf("%w: field %s has no %s axis", ErrShape, f.Name, AxisLatitude)
	}
	lon, ok := f.Axis(AxisLongitude)
	if !ok {
		return Field{}, fmt.Errorf("%w: field %s has no %s axis", ErrShape, f.Name, AxisLongitude)
	}
	i, err := nearest(lat, s.Lat, false)
	if err != nil {
		return Field{}, err
	}
	j, err := nearest(lon, s.Lon, true)
	if err != nil {
		return Field{}, err
	}

	out, err := f.Isel(AxisLatitude, []int{i})
	if err != nil {
		return Field{}, err
	}
	if out, err = out.Isel(AxisLongitude, []int{j}); err != nil {
		return Field{}, err
	}
	if out, err = out.Squeeze(AxisLatitude); err != nil {
		return Field{}, err
	}
	return out.Squeeze(AxisLongitude)
}

// StationIndex computes value(a) - value(b) at the grid cells nearest to the
// two stations. Every axis other than latitude and longitude is kept.
func StationIndex(f Field, a, b Station) (Field, error) {
	va, err := valueAt(f, a)
	if err != nil {
		return Field{}, fmt.Errorf("station %s: %w", a.Name, err)
	}
	vb, err := valueAt(f, b)
	if err != nil {
		return Field{}, fmt.Errorf("station %s: %w", b.Name, err)
	}
	idx, err := Sub(va, vb)
	if err != nil {
		return Field{}, err
	}
	idx.Name = "nao"
	idx.Attrs = map[string]string{
		"description": IndexDescription,
		"units":       UnitsPascal,
	}
	return idx, nil
}
