// Package netcdf reads and writes domain fields as NetCDF files.
//
// Reading goes through go-native-netcdf, which understands both classic
// (CDF) and NetCDF-4/HDF5 files. Writing always produces classic files. All
// writes land in a temporary file in the target directory and are renamed
// into place once complete.
package netcdf

import (
	"errors"
	"fmt"
	"math"
	"os"
	"reflect"
	"sort"
	"strconv"
	"time"

	nc "github.com/batchatco/go-native-netcdf/netcdf"
	"github.com/batchatco/go-native-netcdf/netcdf/api"

	"github.com/couchcryptid/nao-forecast-etl/internal/domain"
)

// Dataset is a set of fields sharing coordinates, plus global attributes.
type Dataset struct {
	Fields []domain.Field
	Attrs  map[string]string
}

// Field returns the named field.
func (d Dataset) Field(name string) (domain.Field, bool) {
	for _, f := range d.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return domain.Field{}, false
}

// Names lists the field names in order.
func (d Dataset) Names() []string {
	names := make([]string, len(d.Fields))
	for i, f := range d.Fields {
		names[i] = f.Name
	}
	return names
}

// Read loads the named variables from path together with their coordinates.
// With no names it loads every numeric data variable. A missing file is
// reported as domain.ErrMissingInput.
func Read(path string, names ...string) (Dataset, error) {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Dataset{}, fmt.Errorf("%w: %s", domain.ErrMissingInput, path)
		}
		return Dataset{}, fmt.Errorf("stat %s: %w", path, err)
	}
	g, err := nc.Open(path)
	if err != nil {
		return Dataset{}, fmt.Errorf("open %s: %w", path, err)
	}
	defer g.Close()

	ds := Dataset{Attrs: stringAttrs(g.Attributes())}
	if len(names) == 0 {
		names = dataVariables(g)
	}
	for _, name := range names {
		f, err := readField(g, name)
		if err != nil {
			return Dataset{}, fmt.Errorf("read %s from %s: %w", name, path, err)
		}
		ds.Fields = append(ds.Fields, f)
	}
	return ds, nil
}

// ReadField loads a single variable.
func ReadField(path, name string) (domain.Field, error) {
	ds, err := Read(path, name)
	if err != nil {
		return domain.Field{}, err
	}
	return ds.Fields[0], nil
}

// dataVariables lists numeric variables that are not coordinates.
func dataVariables(g api.Group) []string {
	var out []string
	for _, name := range g.ListVariables() {
		v, err := g.GetVariable(name)
		if err != nil || len(v.Dimensions) == 0 {
			continue
		}
		if len(v.Dimensions) == 1 && v.Dimensions[0] == name {
			continue
		}
		if _, _, err := flatten(v.Values); err != nil {
			continue
		}
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func readField(g api.Group, name string) (domain.Field, error) {
	v, err := g.GetVariable(name)
	if err != nil {
		return domain.Field{}, err
	}
	data, shape, err := flatten(v.Values)
	if err != nil {
		return domain.Field{}, err
	}
	if len(shape) != len(v.Dimensions) {
		return domain.Field{}, fmt.Errorf("%w: %d dimensions but data of rank %d", domain.ErrShape, len(v.Dimensions), len(shape))
	}
	unpack(data, v.Attributes)

	axes := make([]domain.Axis, len(v.Dimensions))
	for i, dim := range v.Dimensions {
		a, err := readAxis(g, dim, shape[i])
		if err != nil {
			return domain.Field{}, err
		}
		axes[i] = a
	}
	f, err := domain.NewField(name, axes, data)
	if err != nil {
		return domain.Field{}, err
	}
	f.Attrs = stringAttrs(v.Attributes)
	for _, k := range []string{"scale_factor", "add_offset", "_FillValue", "missing_value"} {
		delete(f.Attrs, k)
	}
	return f, nil
}

// readAxis loads the coordinate variable of a dimension. Dimensions without
// one get 0..n-1.
func readAxis(g api.Group, dim string, n int) (domain.Axis, error) {
	v, err := g.GetVariable(dim)
	if err != nil {
		return domain.RangeAxis(dim, 0, n), nil
	}
	values, _, err := flatten(v.Values)
	if err != nil {
		return domain.Axis{}, fmt.Errorf("coordinate %s: %w", dim, err)
	}
	if len(values) != n {
		return domain.Axis{}, fmt.Errorf("%w: coordinate %s has %d values, dimension has %d", domain.ErrShape, dim, len(values), n)
	}
	unpack(values, v.Attributes)

	units, _ := attrString(v.Attributes, "units")
	if !isTimeUnits(units) {
		return domain.NumericAxis(dim, values...), nil
	}
	u, err := parseCFUnits(units)
	if err != nil {
		return domain.Axis{}, fmt.Errorf("coordinate %s: %w", dim, err)
	}
	a := domain.Axis{Name: dim, Times: make([]time.Time, len(values))}
	for i, x := range values {
		a.Times[i] = u.decode(x)
	}
	return a, nil
}

// flatten turns the nested slices returned by go-native-netcdf into a flat
// row-major []float64 and its shape.
func flatten(values any) ([]float64, []int, error) {
	rv := reflect.ValueOf(values)
	if rv.Kind() != reflect.Slice {
		return nil, nil, fmt.Errorf("unsupported value type %T", values)
	}
	var shape []int
	for t, v := rv.Type(), rv; t.Kind() == reflect.Slice; t = t.Elem() {
		shape = append(shape, v.Len())
		if t.Elem().Kind() == reflect.Slice {
			if v.Len() == 0 {
				break
			}
			v = v.Index(0)
		}
	}

	var out []float64
	var walk func(v reflect.Value) error
	walk = func(v reflect.Value) error {
		if v.Kind() == reflect.Slice {
			for i := 0; i < v.Len(); i++ {
				if err := walk(v.Index(i)); err != nil {
					return err
				}
			}
			return nil
		}
		x, err := toFloat(v)
		if err != nil {
			return err
		}
		out = append(out, x)
		return nil
	}
	if err := walk(rv); err != nil {
		return nil, nil, err
	}
	return out, shape, nil
}

func toFloat(v reflect.Value) (float64, error) {
	switch v.Kind() {
	case reflect.Float32, reflect.Float64:
		return v.Float(), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(v.Int()), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(v.Uint()), nil
	default:
		return 0, fmt.Errorf("non-numeric value of kind %s", v.Kind())
	}
}

// unpack applies _FillValue/missing_value masking and CF packing in place.
func unpack(data []float64, attrs api.AttributeMap) {
	var fills []float64
	for _, k := range []string{"_FillValue", "missing_value"} {
		if x, ok := attrFloat(attrs, k); ok {
			fills = append(fills, x)
		}
	}
	scale, hasScale := attrFloat(attrs, "scale_factor")
	offset, hasOffset := attrFloat(attrs, "add_offset")
	if !hasScale {
		scale = 1
	}
	for i, x := range data {
		for _, fill := range fills {
			if x == fill {
				x = math.NaN()
				break
			}
		}
		if hasScale || hasOffset {
			x = x*scale + offset
		}
		data[i] = x
	}
}

func attrFloat(attrs api.AttributeMap, key string) (float64, bool) {
	if attrs == nil {
		return 0, false
	}
	raw, ok := attrs.Get(key)
	if !ok {
		return 0, false
	}
	rv := reflect.ValueOf(raw)
	if rv.Kind() == reflect.Slice {
		if rv.Len() == 0 {
			return 0, false
		}
		rv = rv.Index(0)
	}
	x, err := toFloat(rv)
	if err != nil {
		return 0, false
	}
	return x, true
}

func attrString(attrs api.AttributeMap, key string) (string, bool) {
	if attrs == nil {
		return "", false
	}
	raw, ok := attrs.Get(key)
	if !ok {
		return "", false
	}
	s, ok := raw.(string)
	return s, ok
}

func stringAttrs(attrs api.AttributeMap) map[string]string {
	out := map[string]string{}
	if attrs == nil {
		return out
	}
	for _, k := range attrs.Keys() {
		raw, _ := attrs.Get(k)
		switch v := raw.(type) {
		case string:
			out[k] = v
		case float64:
			out[k] = strconv.FormatFloat(v, 'g', -1, 64)
		case float32:
			out[k] = strconv.FormatFloat(float64(v), 'g', -1, 32)
		default:
			out[k] = fmt.Sprint(v)
		}
	}
	return out
}
