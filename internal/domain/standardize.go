package domain

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"
)

// groups maps every element of f to the index of its group when the named
// axes are reduced away. It returns the kept axes and the group count.
func groups(f Field, over []string) ([]Axis, []int, int, error) {
	reduced := make([]bool, len(f.Axes))
	for _, name := range over {
		i := f.AxisIndex(name)
		if i < 0 {
			return nil, nil, 0, fmt.Errorf("%w: field %s has no axis %s", ErrShape, f.Name, name)
		}
		reduced[i] = true
	}

	var kept []Axis
	keptStride := make([]int, len(f.Axes))
	s := 1
	for i := len(f.Axes) - 1; i >= 0; i-- {
		if reduced[i] {
			continue
		}
		keptStride[i] = s
		s *= f.Axes[i].Len()
	}
	for i, a := range f.Axes {
		if !reduced[i] {
			kept = append(kept, a.clone())
		}
	}

	shape := f.Shape()
	group := make([]int, len(f.Data))
	idx := make([]int, len(shape))
	for flat := range f.Data {
		rem := flat
		for d := len(shape) - 1; d >= 0; d-- {
			idx[d] = rem % shape[d]
			rem /= shape[d]
		}
		g := 0
		for d := range shape {
			if !reduced[d] {
				g += idx[d] * keptStride[d]
			}
		}
		group[flat] = g
	}
	return kept, group, s, nil
}

// finiteByGroup collects the non-NaN values of each group.
func finiteByGroup(f Field, group []int, n int) [][]float64 {
	vals := make([][]float64, n)
	for i, v := range f.Data {
		if math.IsNaN(v) {
			continue
		}
		vals[group[i]] = append(vals[group[i]], v)
	}
	return vals
}

// MeanOver averages f across the named axes, skipping NaN. Groups without a
// single finite value yield NaN.
func MeanOver(f Field, over ...string) (Field, error) {
	kept, group, n, err := groups(f, over)
	if err != nil {
		return Field{}, err
	}
	vals := finiteByGroup(f, group, n)

	out := Field{Name: f.Name, Axes: kept, Data: make([]float64, n), Attrs: f.Clone().Attrs}
	for g, v := range vals {
		if len(v) == 0 {
			out.Data[g] = math.NaN()
			continue
		}
		out.Data[g] = stat.Mean(v, nil)
	}
	return out, nil
}

// Standardize removes the mean and divides by the population standard
// deviation, both computed across the named axes with NaN skipped. Every
// other axis keeps its own reference distribution. Groups with no finite
// value or zero spread yield NaN.
func Standardize(f Field, over ...string) (Field, error) {
	_, group, n, err := groups(f, over)
	if err != nil {
		return Field{}, err
	}
	vals := finiteByGroup(f, group, n)

	mu := make([]float64, n)
	sd := make([]float64, n)
	for g, v := range vals {
		if len(v) == 0 {
			mu[g], sd[g] = math.NaN(), math.NaN()
			continue
		}
		mu[g], sd[g] = stat.PopMeanStdDev(v, nil)
	}

	out := f.Clone()
	for i, v := range f.Data {
		g := group[i]
		if sd[g] == 0 || math.IsNaN(sd[g]) {
			out.Data[i] = math.NaN()
			continue
		}
		out.Data[i] = (v - mu[g]) / sd[g]
	}
	return out, nil
}
