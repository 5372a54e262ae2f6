package domain

import (
	"fmt"
	"math"
)

// Placeholder turns a reference field into a missing-value placeholder for
// init: every value becomes NaN and the initialization coordinate is patched.
func Placeholder(ref Field, init Month) (Field, error) {
	out := ref.Fill(math.NaN())
	if !out.HasAxis(AxisInit) {
		return PrependAxis(out, TimeAxis(AxisInit, init.Time()))
	}
	ax, _ := out.Axis(AxisInit)
	if ax.Len() != 1 {
		return Field{}, fmt.Errorf("%w: reference has %d initializations, want 1", ErrShape, ax.Len())
	}
	return out.SetAxis(TimeAxis(AxisInit, init.Time()))
}

// NormalizeEnsemble gives a forecast field the common schema: a
// forecast_reference_time axis and a number axis padded with NaN to the
// canonical ensemble size. Existing members are left untouched and larger
// ensembles are never truncated.
func NormalizeEnsemble(f Field, init Month) (Field, error) {
	var err error
	if !f.HasAxis(AxisInit) {
		if f, err = PrependAxis(f, TimeAxis(AxisInit, init.Time())); err != nil {
			return Field{}, err
		}
	}
	if !f.HasAxis(AxisMember) {
		if f, err = PrependAxis(f, NumericAxis(AxisMember, 0)); err != nil {
			return Field{}, err
		}
	}
	return PadAxis(f, AxisMember, CanonicalEnsembleSize, math.NaN())
}
