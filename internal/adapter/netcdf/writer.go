package netcdf

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"sort"

	"github.com/batchatco/go-native-netcdf/netcdf/api"
	"github.com/batchatco/go-native-netcdf/netcdf/cdf"
	"github.com/batchatco/go-native-netcdf/netcdf/util"

	"github.com/couchcryptid/nao-forecast-etl/internal/domain"
)

// coordAttrs are written on coordinate variables that carry none.
var coordAttrs = map[string]map[string]string{
	domain.AxisLatitude:  {"units": "degrees_north", "long_name": "latitude", "standard_name": "latitude"},
	domain.AxisLongitude: {"units": "degrees_east", "long_name": "longitude", "standard_name": "longitude"},
	domain.AxisLead:      {"units": "1", "long_name": "lead time in months"},
	domain.AxisMember:    {"units": "1", "long_name": "ensemble member numerical id"},
}

// WriteFile writes ds to path as a classic NetCDF file. Fields sharing an
// axis name must share its coordinates. The file appears at path only once
// fully written.
func WriteFile(path string, ds Dataset) error {
	if len(ds.Fields) == 0 {
		return fmt.Errorf("write %s: empty dataset", path)
	}
	coords, err := collectAxes(ds.Fields)
	if err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file for %s: %w", path, err)
	}
	tmpPath := tmp.Name()
	_ = tmp.Close()

	if err := writeCDF(tmpPath, ds, coords); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("finalize %s: %w", path, err)
	}
	return nil
}

// WriteFields is WriteFile for a dataset without global attributes.
func WriteFields(path string, fields ...domain.Field) error {
	return WriteFile(path, Dataset{Fields: fields})
}

func writeCDF(path string, ds Dataset, coords []domain.Axis) (err error) {
	// OpenWriter creates the file itself.
	_ = os.Remove(path)
	cw, err := cdf.OpenWriter(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := cw.Close(); err == nil {
			err = cerr
		}
	}()

	if len(ds.Attrs) > 0 {
		attrs, err := orderedAttrs(ds.Attrs, nil)
		if err != nil {
			return err
		}
		if err := cw.AddGlobalAttrs(attrs); err != nil {
			return fmt.Errorf("global attributes: %w", err)
		}
	}

	for _, a := range coords {
		v, err := axisVariable(a)
		if err != nil {
			return err
		}
		if err := cw.AddVar(a.Name, v); err != nil {
			return fmt.Errorf("coordinate %s: %w", a.Name, err)
		}
	}
	for _, f := range ds.Fields {
		attrs, err := orderedAttrs(f.Attrs, map[string]string{"long_name": f.Name})
		if err != nil {
			return err
		}
		v := api.Variable{
			Values:     nest(f.Data, f.Shape()),
			Dimensions: f.Dims(),
			Attributes: attrs,
		}
		if err := cw.AddVar(f.Name, v); err != nil {
			return fmt.Errorf("variable %s: %w", f.Name, err)
		}
	}
	return nil
}

// collectAxes returns every distinct axis in first-seen order.
func collectAxes(fields []domain.Field) ([]domain.Axis, error) {
	var out []domain.Axis
	seen := map[string]domain.Axis{}
	for _, f := range fields {
		if _, ok := seen[f.Name]; ok {
			return nil, fmt.Errorf("%w: variable %s shares its name with an axis", domain.ErrShape, f.Name)
		}
		for _, a := range f.Axes {
			if a.Len() == 0 {
				return nil, fmt.Errorf("%w: axis %s of %s is empty", domain.ErrShape, a.Name, f.Name)
			}
			prev, ok := seen[a.Name]
			if !ok {
				seen[a.Name] = a
				out = append(out, a)
				continue
			}
			if !prev.Equal(a) {
				return nil, fmt.Errorf("%w: axis %s differs between variables", domain.ErrCoordinateMismatch, a.Name)
			}
		}
	}
	return out, nil
}

func axisVariable(a domain.Axis) (api.Variable, error) {
	if !a.IsTime() {
		attrs, err := orderedAttrs(coordAttrs[a.Name], map[string]string{"long_name": a.Name})
		if err != nil {
			return api.Variable{}, err
		}
		return api.Variable{
			Values:     append([]float64(nil), a.Values...),
			Dimensions: []string{a.Name},
			Attributes: attrs,
		}, nil
	}

	u, err := parseCFUnits(timeUnits)
	if err != nil {
		return api.Variable{}, err
	}
	values := make([]float64, len(a.Times))
	for i, t := range a.Times {
		values[i] = u.encode(t)
	}
	attrs, err := orderedAttrs(map[string]string{
		"units":         timeUnits,
		"calendar":      "proleptic_gregorian",
		"standard_name": "time",
		"long_name":     a.Name,
	}, nil)
	if err != nil {
		return api.Variable{}, err
	}
	return api.Variable{Values: values, Dimensions: []string{a.Name}, Attributes: attrs}, nil
}

// orderedAttrs converts attributes into the sorted map go-native-netcdf
// expects. fallback is used when attrs is empty.
func orderedAttrs(attrs, fallback map[string]string) (api.AttributeMap, error) {
	if len(attrs) == 0 {
		attrs = fallback
	}
	keys := make([]string, 0, len(attrs))
	vals := make(map[string]any, len(attrs))
	for k, v := range attrs {
		keys = append(keys, k)
		vals[k] = v
	}
	sort.Strings(keys)
	m, err := util.NewOrderedMap(keys, vals)
	if err != nil {
		return nil, fmt.Errorf("attributes: %w", err)
	}
	return m, nil
}

// nest rebuilds the nested []...[]float64 shape go-native-netcdf writes from
// flat row-major data.
func nest(data []float64, shape []int) any {
	if len(shape) <= 1 {
		return append([]float64(nil), data...)
	}
	t := reflect.TypeOf([]float64(nil))
	for range shape[1:] {
		t = reflect.SliceOf(t)
	}
	var build func(t reflect.Type, data []float64, shape []int) reflect.Value
	build = func(t reflect.Type, data []float64, shape []int) reflect.Value {
		if len(shape) == 1 {
			return reflect.ValueOf(append([]float64(nil), data...))
		}
		n := shape[0]
		out := reflect.MakeSlice(t, n, n)
		step := len(data) / n
		for i := 0; i < n; i++ {
			out.Index(i).Set(build(t.Elem(), data[i*step:(i+1)*step], shape[1:]))
		}
		return out
	}
	return build(t, data, shape).Interface()
}
