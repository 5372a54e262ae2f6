package cds

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/couchcryptid/nao-forecast-etl/internal/domain"
)

// Dataset identifiers in the Climate Data Store catalogue.
const (
	DatasetReanalysis = "reanalysis-era5-single-levels-monthly-means"
	DatasetSeasonal   = "seasonal-monthly-single-levels"
)

// Area is a bounding box in degrees.
type Area struct {
	North float64 `yaml:"north" validate:"gte=-90,lte=90"`
	West  float64 `yaml:"west" validate:"gte=-180,lte=360"`
	South float64 `yaml:"south" validate:"gte=-90,lte=90,ltefield=North"`
	East  float64 `yaml:"east" validate:"gte=-180,lte=360"`
}

// Grid is the output resolution in degrees.
type Grid struct {
	Lat float64 `yaml:"lat" validate:"gt=0"`
	Lon float64 `yaml:"lon" validate:"gt=0"`
}

// Request is the body of a retrieve job. Forecast-only keys are omitted for
// reanalysis.
type Request struct {
	ProductType       []string  `json:"product_type"`
	Variable          []string  `json:"variable"`
	Year              []string  `json:"year"`
	Month             []string  `json:"month"`
	Time              []string  `json:"time"`
	Area              []float64 `json:"area"`
	Grid              []float64 `json:"grid"`
	DataFormat        string    `json:"data_format"`
	DownloadFormat    string    `json:"download_format"`
	OriginatingCentre string    `json:"originating_centre,omitempty"`
	System            string    `json:"system,omitempty"`
	LeadtimeMonth     []string  `json:"leadtime_month,omitempty"`
}

// Key identifies the request in logs and metrics.
func (r Request) Key() string {
	parts := []string{strings.Join(r.Variable, ",")}
	if r.OriginatingCentre != "" {
		parts = append(parts, r.OriginatingCentre, r.System)
	}
	parts = append(parts, strings.Join(r.Year, ",")+"-"+strings.Join(r.Month, ","))
	return strings.Join(parts, "/")
}

func base(variable string, m domain.Month, area Area, grid Grid) Request {
	return Request{
		Variable:       []string{variable},
		Year:           []string{strconv.Itoa(m.Year)},
		Month:          []string{fmt.Sprintf("%02d", int(m.Month))},
		Time:           []string{"00:00"},
		Area:           []float64{area.North, area.West, area.South, area.East},
		Grid:           []float64{grid.Lat, grid.Lon},
		DataFormat:     "netcdf",
		DownloadFormat: "unarchived",
	}
}

// ReanalysisRequest asks for one ERA5 monthly mean.
func ReanalysisRequest(variable string, m domain.Month, area Area, grid Grid) Request {
	r := base(variable, m, area, grid)
	r.ProductType = []string{"monthly_averaged_reanalysis"}
	return r
}

// SeasonalRequest asks for the monthly means of one forecast initialization
// at the given lead months.
func SeasonalRequest(variable string, model domain.Model, system string, m domain.Month, leads []int, area Area, grid Grid) Request {
	r := base(variable, m, area, grid)
	r.ProductType = []string{"monthly_mean"}
	r.OriginatingCentre = string(model)
	r.System = system
	for _, l := range leads {
		r.LeadtimeMonth = append(r.LeadtimeMonth, strconv.Itoa(l))
	}
	return r
}
