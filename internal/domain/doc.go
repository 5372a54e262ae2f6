// Package domain models North Atlantic Oscillation (NAO) indices computed
// from gridded mean-sea-level pressure.
//
// # Data Sources
//
// Reanalysis comes from ERA5 monthly means
// (reanalysis-era5-single-levels-monthly-means); forecasts come from the
// C3S multi-system seasonal archive (seasonal-monthly-single-levels). Both
// are retrieved from the Copernicus Climate Data Store as NetCDF.
//
// # Arrays
//
// A [Field] is an n-dimensional array over named axes, stored row-major,
// with NaN as the only missing-value marker. Axes are either numeric
// (latitude, longitude, forecastMonth, number) or time-valued
// (forecast_reference_time, time). Operations never mutate their inputs.
//
// Forecast-format records share one layout:
//
//	forecast_reference_time  singleton, the initialization month
//	forecastMonth            lead months 1..N
//	number                   ensemble members 0..50 (forecasts only)
//	latitude, longitude      the common regional grid
//
// Three centres (jma, ncep, ukmo) label the initialization axis
// indexing_time; [Model.Canonicalize] renames it.
//
// # Index
//
// The station index is the pressure at the grid cell nearest to the Azores
// minus the pressure at the cell nearest to Iceland, following Scaife et
// al. 2014 GRL. Nearest-neighbour selection is independent on each axis.
// Standardization removes the mean and divides by the population standard
// deviation (ddof 0) over the reduced axes, skipping NaN.
//
// # Valid Months
//
// A forecast initialized in month I at lead L (1-based) is valid in
// I + (L-1) months. Comparisons pair observed and forecast values by valid
// month.
//
// # ID Generation
//
// Published index records carry deterministic SHA-256 IDs of
// source|system|init|lead. See [recordID].
package domain
