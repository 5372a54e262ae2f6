// Command validate checks a NAO data tree for completeness and internal
// consistency: raw ERA5 inventory, forecast inventory per centre, a shared
// grid across every raw file, reshaped record coordinates and, when present,
// the reanalysis index statistics.
//
// Usage:
//
//	go run ./cmd/validate \
//	  -root data/mock \
//	  -from 2010-01 -to 2011-12 \
//	  -models ecmwf,jma
//
// Directories come from the pipeline file named by NAO_CONFIG; -root places
// relative ones under a different tree.
package main

import (
	"errors"
	"flag"
	"fmt"
	"math"
	"os"

	"github.com/couchcryptid/nao-forecast-etl/internal/adapter/netcdf"
	"github.com/couchcryptid/nao-forecast-etl/internal/config"
	"github.com/couchcryptid/nao-forecast-etl/internal/domain"
	"github.com/couchcryptid/nao-forecast-etl/internal/pipeline"
)

// phase tracks pass/fail for a validation phase.
type phase struct {
	name   string
	errors []string
	notes  []string
}

func (p *phase) errorf(format string, args ...any) {
	p.errors = append(p.errors, fmt.Sprintf(format, args...))
}

func (p *phase) notef(format string, args ...any) {
	p.notes = append(p.notes, fmt.Sprintf(format, args...))
}

func (p *phase) passed() bool { return len(p.errors) == 0 }

// tree is the part of the data tree under validation.
type tree struct {
	layout   domain.Layout
	pipeline config.Pipeline
	inits    []domain.Month
	models   []domain.Model
}

func main() {
	root := flag.String("root", "", "optional root for relative data directories")
	fromFlag := flag.String("from", "", "first initialization, YYYY-MM")
	toFlag := flag.String("to", "", "last initialization, YYYY-MM")
	modelsFlag := flag.String("models", "", "comma-separated centres to check; empty skips forecasts")
	flag.Parse()

	if *fromFlag == "" || *toFlag == "" {
		flag.Usage()
		os.Exit(1)
	}

	t, err := load(*root, *fromFlag, *toFlag, *modelsFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: %v\n", err)
		os.Exit(1)
	}
	os.Exit(run(t))
}

func load(root, from, to, models string) (tree, error) {
	p, err := config.LoadPipeline(os.Getenv("NAO_CONFIG"))
	if err != nil {
		return tree{}, err
	}
	if root != "" {
		p.Dirs = p.Dirs.Under(root)
	}
	f, err := domain.ParseMonth(from)
	if err != nil {
		return tree{}, err
	}
	l, err := domain.ParseMonth(to)
	if err != nil {
		return tree{}, err
	}
	if l.Before(f) {
		return tree{}, fmt.Errorf("-to %s is before -from %s", l, f)
	}
	t := tree{layout: p.Layout(), pipeline: p, inits: domain.MonthRange(f, l)}
	if models != "" {
		if t.models, err = domain.ParseModels(models); err != nil {
			return tree{}, err
		}
	}
	return t, nil
}

func run(t tree) int {
	fmt.Println("=== NAO Data Tree Validation ===")
	fmt.Println()

	phases := []*phase{
		validateReanalysisInventory(t),
		validateForecastInventory(t),
		validateGrid(t),
		validateReshaped(t),
		validateReanalysisIndex(t),
	}

	allPassed := true
	for _, p := range phases {
		status := "\033[32mPASS\033[0m"
		if !p.passed() {
			status = fmt.Sprintf("\033[31mFAIL (%d errors)\033[0m", len(p.errors))
			allPassed = false
		}
		fmt.Printf("  %-42s %s\n", p.name, status)
	}

	for _, p := range phases {
		if len(p.notes) == 0 && p.passed() {
			continue
		}
		fmt.Printf("\n--- %s ---\n", p.name)
		for _, n := range p.notes {
			fmt.Printf("  note: %s\n", n)
		}
		for i, e := range p.errors {
			fmt.Printf("  [%d] %s\n", i+1, e)
		}
	}

	if allPassed {
		fmt.Println("\nAll validations passed.")
		return 0
	}
	fmt.Println("\nValidation FAILED.")
	return 1
}

// rawMonths are the ERA5 months the reshaped records of t reach into.
func (t tree) rawMonths() []domain.Month {
	last := t.inits[len(t.inits)-1]
	return domain.MonthRange(t.inits[0], last.Add(t.pipeline.LeadMonths-1))
}

// ── Phase 1: ERA5 inventory ──

func validateReanalysisInventory(t tree) *phase {
	p := &phase{name: "Phase 1: ERA5 inventory"}
	for _, m := range t.rawMonths() {
		path := t.layout.RawReanalysis(m)
		f, err := netcdf.ReadField(path, t.layout.Variable)
		if err != nil {
			p.errorf("%s: %v", m, err)
			continue
		}
		tm, ok := f.Axis(domain.AxisTime)
		if !ok || tm.Len() != 1 {
			p.errorf("%s: want a single %s step, dims %v", m, domain.AxisTime, f.Dims())
			continue
		}
		if got := domain.MonthOf(tm.Times[0]); got != m {
			p.errorf("%s: file holds %s", m, got)
		}
	}
	return p
}

// ── Phase 2: forecast inventory ──
// Missing initializations are imputed downstream and only noted; a missing
// fallback reference is an error.

func validateForecastInventory(t tree) *phase {
	p := &phase{name: "Phase 2: Forecast inventory"}
	fallback := t.pipeline.Fallback()
	for _, model := range t.models {
		system, err := t.layout.System(model)
		if err != nil {
			p.errorf("%v", err)
			continue
		}
		if !exists(t.layout.RawForecast(model, system, fallback)) {
			p.errorf("%s: fallback reference %s is missing", model, fallback)
		}
		var missing []string
		for _, init := range t.inits {
			path := t.layout.RawForecast(model, system, init)
			if !exists(path) {
				missing = append(missing, init.String())
				continue
			}
			f, err := netcdf.ReadField(path, t.layout.Variable)
			if err != nil {
				p.errorf("%s %s: %v", model, init, err)
				continue
			}
			if !f.HasAxis(model.TimeAxis()) || !f.HasAxis(domain.AxisLead) {
				p.errorf("%s %s: unexpected dims %v", model, init, f.Dims())
			}
		}
		if len(missing) > 0 {
			p.notef("%s: %d initializations will be imputed: %v", model, len(missing), missing)
		}
	}
	return p
}

// ── Phase 3: grid consistency ──

func validateGrid(t tree) *phase {
	p := &phase{name: "Phase 3: Grid consistency"}
	var paths []string
	for _, m := range t.rawMonths() {
		paths = append(paths, t.layout.RawReanalysis(m))
	}
	for _, model := range t.models {
		system, err := t.layout.System(model)
		if err != nil {
			continue
		}
		for _, init := range t.inits {
			paths = append(paths, t.layout.RawForecast(model, system, init))
		}
	}

	var ref domain.Field
	var refPath string
	for _, path := range paths {
		if !exists(path) {
			continue
		}
		f, err := netcdf.ReadField(path, t.layout.Variable)
		if err != nil {
			continue // reported by the inventory phases
		}
		if refPath == "" {
			ref, refPath = f, path
			continue
		}
		for _, name := range []string{domain.AxisLatitude, domain.AxisLongitude} {
			a, okA := ref.Axis(name)
			b, okB := f.Axis(name)
			if !okA || !okB || !a.Equal(b) {
				p.errorf("%s: %s differs from %s", path, name, refPath)
			}
		}
	}
	if refPath == "" {
		p.errorf("no readable raw files")
	}
	return p
}

// ── Phase 4: reshaped records ──

func validateReshaped(t tree) *phase {
	p := &phase{name: "Phase 4: Reshaped records"}
	want := domain.RangeAxis(domain.AxisLead, 1, t.pipeline.LeadMonths)
	var missing int
	for _, init := range t.inits {
		path := t.layout.Reshaped(init)
		if !exists(path) {
			missing++
			continue
		}
		f, err := netcdf.ReadField(path, t.layout.Variable)
		if err != nil {
			p.errorf("%s: %v", init, err)
			continue
		}
		frt, ok := f.Axis(domain.AxisInit)
		if !ok || frt.Len() != 1 || domain.MonthOf(frt.Times[0]) != init {
			p.errorf("%s: bad %s coordinate", init, domain.AxisInit)
		}
		if lead, ok := f.Axis(domain.AxisLead); !ok || !lead.Equal(want) {
			p.errorf("%s: %s is not 1..%d", init, domain.AxisLead, t.pipeline.LeadMonths)
		}
	}
	if missing > 0 {
		p.notef("%d of %d records not reshaped yet", missing, len(t.inits))
	}
	return p
}

// ── Phase 5: reanalysis index ──

func validateReanalysisIndex(t tree) *phase {
	p := &phase{name: "Phase 5: Reanalysis index"}
	path := t.layout.ReanalysisIndex(t.inits[0], t.inits[len(t.inits)-1])
	if !exists(path) {
		p.notef("%s not computed yet", path)
		return p
	}
	std, err := netcdf.ReadField(path, pipeline.VarReanalysisStandardized)
	if err != nil {
		p.errorf("%v", err)
		return p
	}
	mean, err := domain.MeanOver(std, domain.AxisInit)
	if err != nil {
		p.errorf("%v", err)
		return p
	}
	for j, v := range mean.Data {
		if math.IsNaN(v) || math.Abs(v) > 1e-6 {
			p.errorf("lead %d: standardized mean %g, want 0", j+1, v)
		}
	}
	return p
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return !errors.Is(err, os.ErrNotExist)
}
