package domain

import (
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/stat"
)

// ValidSeries is an index restricted to one lead month and one target
// calendar month. Valid[i] is the valid month of the i-th initialization
// kept on the field's forecast_reference_time axis.
type ValidSeries struct {
	Lead   int
	Target time.Month
	Valid  []Month
	Field  Field
}

// FilterByValidMonth selects forecastMonth == lead and keeps only the
// initializations whose valid month, init + (lead-1) months, falls in the
// target calendar month. The forecastMonth axis is dropped.
func FilterByValidMonth(f Field, lead int, target time.Month) (ValidSeries, error) {
	leads, ok := f.Axis(AxisLead)
	if !ok {
		return ValidSeries{}, fmt.Errorf("%w: field %s has no %s axis", ErrShape, f.Name, AxisLead)
	}
	li := -1
	for i, v := range leads.Values {
		if int(math.Round(v)) == lead {
			li = i
			break
		}
	}
	if li < 0 {
		return ValidSeries{}, fmt.Errorf("%w: lead month %d not in field %s", ErrShape, lead, f.Name)
	}
	inits, ok := f.Axis(AxisInit)
	if !ok || !inits.IsTime() {
		return ValidSeries{}, fmt.Errorf("%w: field %s has no time-valued %s axis", ErrShape, f.Name, AxisInit)
	}

	sel, err := f.Isel(AxisLead, []int{li})
	if err != nil {
		return ValidSeries{}, err
	}
	if sel, err = sel.Squeeze(AxisLead); err != nil {
		return ValidSeries{}, err
	}

	var keep []int
	var valid []Month
	for i, t := range inits.Times {
		v := MonthOf(t).Add(lead - 1)
		if v.Month == target {
			keep = append(keep, i)
			valid = append(valid, v)
		}
	}
	if sel, err = sel.Isel(AxisInit, keep); err != nil {
		return ValidSeries{}, err
	}
	return ValidSeries{Lead: lead, Target: target, Valid: valid, Field: sel}, nil
}

// Values returns one value per valid month. The filtered field must have
// no axis other than forecast_reference_time.
func (s ValidSeries) Values() ([]float64, error) {
	if len(s.Field.Axes) != 1 || s.Field.Axes[0].Name != AxisInit {
		return nil, fmt.Errorf("%w: series %s has axes %v, want [%s]", ErrShape, s.Field.Name, s.Field.Dims(), AxisInit)
	}
	return s.Field.Clone().Data, nil
}

// Members returns, per valid month, every finite value across the remaining
// axes (typically the ensemble members).
func (s ValidSeries) Members() ([][]float64, error) {
	var over []string
	for _, a := range s.Field.Axes {
		if a.Name != AxisInit {
			over = append(over, a.Name)
		}
	}
	_, group, n, err := groups(s.Field, over)
	if err != nil {
		return nil, err
	}
	return finiteByGroup(s.Field, group, n), nil
}

// Correlate returns the Pearson correlation between two series over valid
// months present in both with finite values on both sides. Fewer than two
// such pairs yield NaN.
func Correlate(obsValid []Month, obs []float64, fcValid []Month, fc []float64) float64 {
	byMonth := make(map[Month]float64, len(obsValid))
	for i, m := range obsValid {
		byMonth[m] = obs[i]
	}
	var x, y []float64
	for i, m := range fcValid {
		o, ok := byMonth[m]
		if !ok || math.IsNaN(o) || math.IsInf(o, 0) || math.IsNaN(fc[i]) || math.IsInf(fc[i], 0) {
			continue
		}
		x = append(x, o)
		y = append(y, fc[i])
	}
	if len(x) < 2 {
		return math.NaN()
	}
	return stat.Correlation(x, y, nil)
}

// Comparison is everything needed to draw one observed-versus-forecast
// chart.
type Comparison struct {
	Lead        int
	Target      time.Month
	Units       string
	ObsValid    []Month
	Observed    []float64
	FcValid     []Month
	Mean        []float64
	Ensemble    [][]float64
	Correlation float64
}

// Title formats the chart heading.
func (c Comparison) Title() string {
	return fmt.Sprintf("Target month: %s, Lead month: %d, Correlation: %.2f",
		c.Target.String()[:3], c.Lead, c.Correlation)
}

// Compare filters observed, forecast mean and forecast ensemble to the same
// lead and target month and correlates observed with the forecast mean.
func Compare(obs, mean, ens Field, lead int, target time.Month) (Comparison, error) {
	o, err := FilterByValidMonth(obs, lead, target)
	if err != nil {
		return Comparison{}, fmt.Errorf("observed: %w", err)
	}
	m, err := FilterByValidMonth(mean, lead, target)
	if err != nil {
		return Comparison{}, fmt.Errorf("forecast mean: %w", err)
	}
	e, err := FilterByValidMonth(ens, lead, target)
	if err != nil {
		return Comparison{}, fmt.Errorf("forecast ensemble: %w", err)
	}

	c := Comparison{Lead: lead, Target: target, ObsValid: o.Valid, FcValid: m.Valid}
	if c.Observed, err = o.Values(); err != nil {
		return Comparison{}, fmt.Errorf("observed: %w", err)
	}
	if c.Mean, err = m.Values(); err != nil {
		return Comparison{}, fmt.Errorf("forecast mean: %w", err)
	}
	if c.Ensemble, err = e.Members(); err != nil {
		return Comparison{}, fmt.Errorf("forecast ensemble: %w", err)
	}
	if len(c.Ensemble) != len(c.FcValid) {
		return Comparison{}, fmt.Errorf("%w: ensemble has %d initializations, mean has %d",
			ErrCoordinateMismatch, len(c.Ensemble), len(c.FcValid))
	}
	c.Correlation = Correlate(c.ObsValid, c.Observed, c.FcValid, c.Mean)
	return c, nil
}
