package domain

import (
	"fmt"
	"math"
	"slices"
	"time"
)

// Axis names shared by reanalysis and seasonal-forecast files.
const (
	AxisTime         = "time"
	AxisValidTime    = "valid_time"
	AxisInit         = "forecast_reference_time"
	AxisIndexingTime = "indexing_time"
	AxisLead         = "forecastMonth"
	AxisMember       = "number"
	AxisLatitude     = "latitude"
	AxisLongitude    = "longitude"
)

// coordTolerance is the absolute tolerance used when comparing numeric
// coordinates read back from disk.
const coordTolerance = 1e-6

// Axis is a named dimension with its coordinate values. Time-valued axes
// carry Times; all other axes carry Values.
type Axis struct {
	Name   string
	Values []float64
	Times  []time.Time
}

// NumericAxis builds an axis with numeric coordinates.
func NumericAxis(name string, values ...float64) Axis {
	return Axis{Name: name, Values: values}
}

// TimeAxis builds an axis with time coordinates.
func TimeAxis(name string, times ...time.Time) Axis {
	return Axis{Name: name, Times: times}
}

// RangeAxis builds a numeric axis holding start, start+1, ... (n values).
func RangeAxis(name string, start, n int) Axis {
	values := make([]float64, n)
	for i := range values {
		values[i] = float64(start + i)
	}
	return NumericAxis(name, values...)
}

// IsTime reports whether the axis holds time coordinates.
func (a Axis) IsTime() bool { return a.Times != nil }

// Len returns the number of coordinates.
func (a Axis) Len() int {
	if a.IsTime() {
		return len(a.Times)
	}
	return len(a.Values)
}

// Equal reports whether both axes have the same name and coordinates.
func (a Axis) Equal(b Axis) bool {
	if a.Name != b.Name || a.IsTime() != b.IsTime() || a.Len() != b.Len() {
		return false
	}
	if a.IsTime() {
		for i := range a.Times {
			if !a.Times[i].Equal(b.Times[i]) {
				return false
			}
		}
		return true
	}
	for i := range a.Values {
		if math.Abs(a.Values[i]-b.Values[i]) > coordTolerance {
			return false
		}
	}
	return true
}

func (a Axis) clone() Axis {
	out := Axis{Name: a.Name}
	if a.Times != nil {
		out.Times = slices.Clone(a.Times)
	}
	if a.Values != nil {
		out.Values = slices.Clone(a.Values)
	}
	return out
}

func (a Axis) pick(idx []int) Axis {
	out := Axis{Name: a.Name}
	if a.IsTime() {
		out.Times = make([]time.Time, len(idx))
		for i, j := range idx {
			out.Times[i] = a.Times[j]
		}
		return out
	}
	out.Values = make([]float64, len(idx))
	for i, j := range idx {
		out.Values[i] = a.Values[j]
	}
	return out
}

func (a Axis) appendAxis(b Axis) Axis {
	out := a.clone()
	if a.IsTime() {
		out.Times = append(out.Times, b.Times...)
		return out
	}
	out.Values = append(out.Values, b.Values...)
	return out
}

// Field is an n-dimensional array of a physical variable over named axes,
// stored row-major. Missing values are NaN.
type Field struct {
	Name  string
	Axes  []Axis
	Data  []float64
	Attrs map[string]string
}

// NewField validates that data fits the axes.
func NewField(name string, axes []Axis, data []float64) (Field, error) {
	f := Field{Name: name, Axes: axes, Data: data}
	if got, want := len(data), f.Size(); got != want {
		return Field{}, fmt.Errorf("%w: field %s has %d values for shape %v", ErrShape, name, got, f.Shape())
	}
	seen := make(map[string]bool, len(axes))
	for _, a := range axes {
		if seen[a.Name] {
			return Field{}, fmt.Errorf("%w: field %s repeats axis %s", ErrShape, name, a.Name)
		}
		seen[a.Name] = true
	}
	return f, nil
}

// Filled returns a field with every value set to v.
func Filled(name string, axes []Axis, v float64) Field {
	f := Field{Name: name, Axes: axes}
	f.Data = make([]float64, f.Size())
	for i := range f.Data {
		f.Data[i] = v
	}
	return f
}

// Shape returns the axis lengths.
func (f Field) Shape() []int {
	shape := make([]int, len(f.Axes))
	for i, a := range f.Axes {
		shape[i] = a.Len()
	}
	return shape
}

// Size returns the number of elements implied by the axes.
func (f Field) Size() int {
	n := 1
	for _, a := range f.Axes {
		n *= a.Len()
	}
	return n
}

// Dims returns the axis names in order.
func (f Field) Dims() []string {
	dims := make([]string, len(f.Axes))
	for i, a := range f.Axes {
		dims[i] = a.Name
	}
	return dims
}

// AxisIndex returns the position of the named axis, or -1.
func (f Field) AxisIndex(name string) int {
	for i, a := range f.Axes {
		if a.Name == name {
			return i
		}
	}
	return -1
}

// Axis returns the named axis.
func (f Field) Axis(name string) (Axis, bool) {
	i := f.AxisIndex(name)
	if i < 0 {
		return Axis{}, false
	}
	return f.Axes[i], true
}

// HasAxis reports whether the field has the named axis.
func (f Field) HasAxis(name string) bool { return f.AxisIndex(name) >= 0 }

func (f Field) strides() []int {
	shape := f.Shape()
	strides := make([]int, len(shape))
	s := 1
	for i := len(shape) - 1; i >= 0; i-- {
		strides[i] = s
		s *= shape[i]
	}
	return strides
}

// At returns the value at the given multi-index.
func (f Field) At(idx ...int) float64 {
	strides := f.strides()
	off := 0
	for i, j := range idx {
		off += j * strides[i]
	}
	return f.Data[off]
}

// Clone returns a deep copy.
func (f Field) Clone() Field {
	out := Field{Name: f.Name, Data: slices.Clone(f.Data)}
	out.Axes = make([]Axis, len(f.Axes))
	for i, a := range f.Axes {
		out.Axes[i] = a.clone()
	}
	if f.Attrs != nil {
		out.Attrs = make(map[string]string, len(f.Attrs))
		for k, v := range f.Attrs {
			out.Attrs[k] = v
		}
	}
	return out
}

// WithName returns a copy renamed to name.
func (f Field) WithName(name string) Field {
	out := f.Clone()
	out.Name = name
	return out
}

// WithAttrs returns a copy whose attributes are replaced by attrs.
func (f Field) WithAttrs(attrs map[string]string) Field {
	out := f.Clone()
	out.Attrs = make(map[string]string, len(attrs))
	for k, v := range attrs {
		out.Attrs[k] = v
	}
	return out
}

// RenameAxis returns a copy with axis old renamed to name. Renaming an axis
// that does not exist is a no-op.
func (f Field) RenameAxis(old, name string) Field {
	out := f.Clone()
	if i := out.AxisIndex(old); i >= 0 {
		out.Axes[i].Name = name
	}
	return out
}

// Fill returns a copy with every value replaced by v.
func (f Field) Fill(v float64) Field {
	out := f.Clone()
	for i := range out.Data {
		out.Data[i] = v
	}
	return out
}

// Map returns a copy with fn applied to every value.
func (f Field) Map(fn func(float64) float64) Field {
	out := f.Clone()
	for i, v := range out.Data {
		out.Data[i] = fn(v)
	}
	return out
}

// SetAxis replaces the coordinates of the axis with the same name. The new
// axis must have the same length.
func (f Field) SetAxis(a Axis) (Field, error) {
	i := f.AxisIndex(a.Name)
	if i < 0 {
		return Field{}, fmt.Errorf("%w: field %s has no axis %s", ErrShape, f.Name, a.Name)
	}
	if f.Axes[i].Len() != a.Len() {
		return Field{}, fmt.Errorf("%w: axis %s has length %d, replacement has %d", ErrShape, a.Name, f.Axes[i].Len(), a.Len())
	}
	out := f.Clone()
	out.Axes[i] = a.clone()
	return out, nil
}

// PrependAxis inserts a length-one axis in front of the existing ones.
func PrependAxis(f Field, a Axis) (Field, error) {
	if a.Len() != 1 {
		return Field{}, fmt.Errorf("%w: prepended axis %s must have length 1, got %d", ErrShape, a.Name, a.Len())
	}
	if f.HasAxis(a.Name) {
		return Field{}, fmt.Errorf("%w: field %s already has axis %s", ErrShape, f.Name, a.Name)
	}
	out := f.Clone()
	out.Axes = append([]Axis{a.clone()}, out.Axes...)
	return out, nil
}

// Squeeze removes a length-one axis.
func (f Field) Squeeze(name string) (Field, error) {
	i := f.AxisIndex(name)
	if i < 0 {
		return Field{}, fmt.Errorf("%w: field %s has no axis %s", ErrShape, f.Name, name)
	}
	if f.Axes[i].Len() != 1 {
		return Field{}, fmt.Errorf("%w: cannot squeeze axis %s of length %d", ErrShape, name, f.Axes[i].Len())
	}
	out := f.Clone()
	out.Axes = append(out.Axes[:i], out.Axes[i+1:]...)
	return out, nil
}

// Isel selects the given positions along the named axis.
func (f Field) Isel(name string, idx []int) (Field, error) {
	ax := f.AxisIndex(name)
	if ax < 0 {
		return Field{}, fmt.Errorf("%w: field %s has no axis %s", ErrShape, f.Name, name)
	}
	n := f.Axes[ax].Len()
	for _, j := range idx {
		if j < 0 || j >= n {
			return Field{}, fmt.Errorf("%w: index %d out of range for axis %s (len %d)", ErrShape, j, name, n)
		}
	}

	out := f.Clone()
	out.Axes[ax] = f.Axes[ax].pick(idx)
	out.Data = make([]float64, out.Size())

	outer, inner := f.blocks(ax)
	k := 0
	for o := 0; o < outer; o++ {
		for _, j := range idx {
			start := (o*n + j) * inner
			k += copy(out.Data[k:], f.Data[start:start+inner])
		}
	}
	return out, nil
}

// blocks splits the data around axis ax into outer repetitions and
// contiguous inner runs.
func (f Field) blocks(ax int) (outer, inner int) {
	outer, inner = 1, 1
	for i, a := range f.Axes {
		switch {
		case i < ax:
			outer *= a.Len()
		case i > ax:
			inner *= a.Len()
		}
	}
	return outer, inner
}

// Concat joins fields along the named axis. Every other axis must match in
// name, order and coordinates.
func Concat(name string, fields ...Field) (Field, error) {
	if len(fields) == 0 {
		return Field{}, fmt.Errorf("%w: nothing to concatenate", ErrShape)
	}
	first := fields[0]
	ax := first.AxisIndex(name)
	if ax < 0 {
		return Field{}, fmt.Errorf("%w: field %s has no axis %s", ErrShape, first.Name, name)
	}
	for _, f := range fields[1:] {
		if len(f.Axes) != len(first.Axes) {
			return Field{}, fmt.Errorf("%w: cannot concatenate %v with %v", ErrShape, first.Dims(), f.Dims())
		}
		for i, a := range f.Axes {
			if i == ax {
				if a.Name != name || a.IsTime() != first.Axes[ax].IsTime() {
					return Field{}, fmt.Errorf("%w: cannot concatenate %v with %v", ErrShape, first.Dims(), f.Dims())
				}
				continue
			}
			if !a.Equal(first.Axes[i]) {
				return Field{}, fmt.Errorf("%w: axis %s differs between concatenated fields", ErrCoordinateMismatch, a.Name)
			}
		}
	}

	out := first.Clone()
	for _, f := range fields[1:] {
		out.Axes[ax] = out.Axes[ax].appendAxis(f.Axes[ax])
	}
	out.Data = make([]float64, 0, out.Size())

	outer, _ := first.blocks(ax)
	for o := 0; o < outer; o++ {
		for _, f := range fields {
			_, inner := f.blocks(ax)
			run := f.Axes[ax].Len() * inner
			out.Data = append(out.Data, f.Data[o*run:(o+1)*run]...)
		}
	}
	return out, nil
}

// PadAxis extends the named axis to size entries by appending fill values.
// Numeric coordinates continue with consecutive integers after the last
// existing coordinate. Axes already at or above size are returned unchanged.
func PadAxis(f Field, name string, size int, fill float64) (Field, error) {
	ax := f.AxisIndex(name)
	if ax < 0 {
		return Field{}, fmt.Errorf("%w: field %s has no axis %s", ErrShape, f.Name, name)
	}
	n := f.Axes[ax].Len()
	if n >= size {
		return f.Clone(), nil
	}
	if f.Axes[ax].IsTime() {
		return Field{}, fmt.Errorf("%w: cannot pad time axis %s", ErrShape, name)
	}

	out := f.Clone()
	next := 0.0
	if n > 0 {
		next = out.Axes[ax].Values[n-1] + 1
	}
	for i := n; i < size; i++ {
		out.Axes[ax].Values = append(out.Axes[ax].Values, next)
		next++
	}

	outer, inner := f.blocks(ax)
	out.Data = make([]float64, 0, out.Size())
	for o := 0; o < outer; o++ {
		out.Data = append(out.Data, f.Data[o*n*inner:(o+1)*n*inner]...)
		for i := 0; i < (size-n)*inner; i++ {
			out.Data = append(out.Data, fill)
		}
	}
	return out, nil
}

// Sub returns a - b elementwise. Both fields must share axes.
func Sub(a, b Field) (Field, error) {
	if len(a.Axes) != len(b.Axes) {
		return Field{}, fmt.Errorf("%w: cannot subtract %v and %v", ErrShape, a.Dims(), b.Dims())
	}
	for i := range a.Axes {
		if a.Axes[i].Name != b.Axes[i].Name || a.Axes[i].Len() != b.Axes[i].Len() {
			return Field{}, fmt.Errorf("%w: cannot subtract %v and %v", ErrShape, a.Dims(), b.Dims())
		}
	}
	out := a.Clone()
	for i := range out.Data {
		out.Data[i] = a.Data[i] - b.Data[i]
	}
	return out, nil
}
