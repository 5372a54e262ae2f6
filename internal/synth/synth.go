// Package synth generates deterministic synthetic mean-sea-level pressure
// files shaped like the archive's reanalysis and seasonal-forecast products.
// It backs the genmock command and the pipeline tests.
package synth

import (
	"math"
	"time"

	"github.com/couchcryptid/nao-forecast-etl/internal/adapter/netcdf"
	"github.com/couchcryptid/nao-forecast-etl/internal/domain"
)

// Grid is a regular latitude/longitude grid, latitudes north to south as the
// archive delivers them.
type Grid struct {
	Lats []float64
	Lons []float64
}

// DefaultGrid is the 1-degree North Atlantic box 74N..33N, 27W..45E.
func DefaultGrid() Grid {
	var g Grid
	for lat := 74.0; lat >= 33; lat-- {
		g.Lats = append(g.Lats, lat)
	}
	for lon := -27.0; lon <= 45; lon++ {
		g.Lons = append(g.Lons, lon)
	}
	return g
}

// SmallGrid covers both default stations with a handful of cells.
func SmallGrid() Grid {
	return Grid{
		Lats: []float64{66, 64, 52, 40, 38},
		Lons: []float64{-26, -22, -18},
	}
}

func (g Grid) axes() []domain.Axis {
	return []domain.Axis{
		domain.NumericAxis(domain.AxisLatitude, g.Lats...),
		domain.NumericAxis(domain.AxisLongitude, g.Lons...),
	}
}

// pressure is a smooth meridional gradient whose strength follows a seasonal
// cycle and a slow interannual oscillation, plus deterministic noise.
func pressure(m domain.Month, member int, lat, lon float64) float64 {
	t := float64(m.Year*12 + int(m.Month) - 1)
	strength := 1 + 0.4*math.Cos(2*math.Pi*t/12) + 0.3*math.Sin(2*math.Pi*t/43)
	base := 101300 - (lat-50)*25*strength + 0.5*lon
	return base + 150*noise(int(t), member, lat, lon)
}

// noise maps its inputs to [-1, 1) with an integer hash.
func noise(t, member int, lat, lon float64) float64 {
	h := uint64(t)*0x9E3779B97F4A7C15 ^ uint64(member+1)*0xBF58476D1CE4E5B9 ^
		uint64(int64(lat*100))*0x94D049BB133111EB ^ uint64(int64(lon*100)+100000)
	h ^= h >> 31
	h *= 0xD6E8FEB86659FD93
	h ^= h >> 32
	return float64(h%2000)/1000 - 1
}

// Reanalysis builds one ERA5 monthly mean as delivered by the archive:
// msl over (valid_time, latitude, longitude).
func Reanalysis(g Grid, m domain.Month) domain.Field {
	axes := append([]domain.Axis{domain.TimeAxis(domain.AxisValidTime, m.Time())}, g.axes()...)
	f := domain.Filled("msl", axes, 0)
	i := 0
	for _, lat := range g.Lats {
		for _, lon := range g.Lons {
			f.Data[i] = pressure(m, 0, lat, lon)
			i++
		}
	}
	f.Attrs = map[string]string{"units": "Pa", "long_name": "Mean sea level pressure", "standard_name": "air_pressure_at_mean_sea_level"}
	return f
}

// ReanalysisDataset is the archive file of m: msl plus an auxiliary expver
// variable the retriever drops.
func ReanalysisDataset(g Grid, m domain.Month) netcdf.Dataset {
	expver := domain.Filled("expver", []domain.Axis{domain.TimeAxis(domain.AxisValidTime, m.Time())}, 1)
	return netcdf.Dataset{
		Fields: []domain.Field{Reanalysis(g, m), expver},
		Attrs:  map[string]string{"Conventions": "CF-1.7", "institution": "synthetic"},
	}
}

// Forecast builds one seasonal-forecast initialization of model: msl over
// (number, <time label>, forecastMonth, latitude, longitude), with the
// centre's own initialization axis label.
func Forecast(g Grid, model domain.Model, init domain.Month, members, leads int) domain.Field {
	axes := append([]domain.Axis{
		domain.RangeAxis(domain.AxisMember, 0, members),
		domain.TimeAxis(model.TimeAxis(), init.Time()),
		domain.RangeAxis(domain.AxisLead, 1, leads),
	}, g.axes()...)
	f := domain.Filled("msl", axes, 0)
	i := 0
	for n := 0; n < members; n++ {
		for l := 1; l <= leads; l++ {
			valid := init.Add(l - 1)
			for _, lat := range g.Lats {
				for _, lon := range g.Lons {
					f.Data[i] = pressure(valid, n+1, lat, lon)
					i++
				}
			}
		}
	}
	f.Attrs = map[string]string{"units": "Pa", "long_name": "Mean sea level pressure"}
	return f
}

// WriteReanalysis writes the post-processed ERA5 files of months into the
// layout, as the retriever leaves them.
func WriteReanalysis(l domain.Layout, g Grid, months []domain.Month) error {
	for _, m := range months {
		f := Reanalysis(g, m).RenameAxis(domain.AxisValidTime, domain.AxisTime)
		if err := netcdf.WriteFields(l.RawReanalysis(m), f); err != nil {
			return err
		}
	}
	return nil
}

// WriteForecast writes one raw forecast file per initialization of model.
func WriteForecast(l domain.Layout, g Grid, model domain.Model, inits []domain.Month, members, leads int) error {
	system, err := l.System(model)
	if err != nil {
		return err
	}
	for _, init := range inits {
		f := Forecast(g, model, init, members, leads)
		if err := netcdf.WriteFields(l.RawForecast(model, system, init), f); err != nil {
			return err
		}
	}
	return nil
}

// EnsembleSize is a plausible member count per centre. Several centres run
// fewer members than the canonical 51 in hindcast mode.
func EnsembleSize(m domain.Model) int {
	switch m {
	case domain.ECMWF:
		return domain.CanonicalEnsembleSize
	case domain.DWD, domain.MeteoFrance:
		return 25
	case domain.JMA:
		return 10
	case domain.NCEP:
		return 20
	default:
		return 28
	}
}

// Epoch is the reference instant used by fixture generators.
var Epoch = time.Date(2025, time.June, 1, 6, 0, 0, 0, time.UTC)
