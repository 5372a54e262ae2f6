package domain

import (
	"fmt"
	"path/filepath"
)

// Dirs maps each data stage to its root directory.
type Dirs struct {
	RawEra5Monthly               string `yaml:"raw_era5_monthly" validate:"required"`
	RawForecastMonthly           string `yaml:"raw_forecast_monthly" validate:"required"`
	ProcessedEra5ForecastMonthly string `yaml:"processed_era5_forecast_monthly" validate:"required"`
	ProcessedForecastMonthly     string `yaml:"processed_forecast_monthly" validate:"required"`
	Fig                          string `yaml:"fig" validate:"required"`
}

// DefaultDirs mirrors the repository's data/ and fig/ tree.
func DefaultDirs() Dirs {
	return Dirs{
		RawEra5Monthly:               filepath.Join("data", "raw", "era5", "monthly"),
		RawForecastMonthly:           filepath.Join("data", "raw", "forecast", "monthly"),
		ProcessedEra5ForecastMonthly: filepath.Join("data", "processed", "era5", "forecast-format", "monthly"),
		ProcessedForecastMonthly:     filepath.Join("data", "processed", "forecast", "monthly"),
		Fig:                          "fig",
	}
}

// Under returns d with every relative directory placed below root.
func (d Dirs) Under(root string) Dirs {
	join := func(dir string) string {
		if filepath.IsAbs(dir) {
			return dir
		}
		return filepath.Join(root, dir)
	}
	return Dirs{
		RawEra5Monthly:               join(d.RawEra5Monthly),
		RawForecastMonthly:           join(d.RawForecastMonthly),
		ProcessedEra5ForecastMonthly: join(d.ProcessedEra5ForecastMonthly),
		ProcessedForecastMonthly:     join(d.ProcessedForecastMonthly),
		Fig:                          join(d.Fig),
	}
}

// Layout builds every file path the pipeline reads or writes.
type Layout struct {
	Dirs     Dirs
	Variable string
	Systems  map[Model]string
}

// System returns the configured system version of a centre.
func (l Layout) System(m Model) (string, error) {
	s, ok := l.Systems[m]
	if !ok || s == "" {
		return "", fmt.Errorf("no system configured for model %s", m)
	}
	return s, nil
}

// RawReanalysis is the monthly ERA5 file for m.
func (l Layout) RawReanalysis(m Month) string {
	return filepath.Join(l.Dirs.RawEra5Monthly, l.Variable, fmt.Sprintf("%s_%s.nc", l.Variable, m))
}

// RawForecast is the seasonal-forecast file of a centre initialized at m.
func (l Layout) RawForecast(model Model, system string, m Month) string {
	return filepath.Join(l.Dirs.RawForecastMonthly, string(model), l.Variable,
		fmt.Sprintf("%s_%s_%s_%s.nc", l.Variable, model, system, m))
}

// Reshaped is the forecast-format ERA5 record initialized at m.
func (l Layout) Reshaped(m Month) string {
	return filepath.Join(l.Dirs.ProcessedEra5ForecastMonthly, l.Variable, fmt.Sprintf("%s_%s.nc", l.Variable, m))
}

// ReanalysisIndex is the ERA5 NAO dataset covering from..to.
func (l Layout) ReanalysisIndex(from, to Month) string {
	return filepath.Join(l.Dirs.ProcessedEra5ForecastMonthly, "nao", fmt.Sprintf("nao_%s_%s.nc", from, to))
}

// ForecastIndex is the NAO dataset of one centre covering from..to.
func (l Layout) ForecastIndex(model Model, system string, from, to Month) string {
	return filepath.Join(l.Dirs.ProcessedForecastMonthly, fmt.Sprintf("nao_%s_%s_%s_%s.nc", model, system, from, to))
}

// Figure is a chart file under the forecast figure directory.
func (l Layout) Figure(name string) string {
	return filepath.Join(l.Dirs.Fig, "forecast", name)
}
