// Command genmock writes a synthetic data tree shaped like the archive's
// products: raw ERA5 monthly means and raw seasonal forecasts per centre.
// Optionally it runs the reanalysis steps over the tree and writes the
// published index records as a JSON fixture.
//
// Usage:
//
//	go run ./cmd/genmock \
//	  -root data/mock \
//	  -from 2010-01 -to 2011-12 \
//	  -models ecmwf,jma \
//	  -drop jma:2011-01 \
//	  -records data/mock/nao_records.json
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/nao-forecast-etl/internal/adapter/netcdf"
	"github.com/couchcryptid/nao-forecast-etl/internal/config"
	"github.com/couchcryptid/nao-forecast-etl/internal/domain"
	"github.com/couchcryptid/nao-forecast-etl/internal/observability"
	"github.com/couchcryptid/nao-forecast-etl/internal/pipeline"
	"github.com/couchcryptid/nao-forecast-etl/internal/synth"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	root := flag.String("root", "", "directory the data tree is written under")
	fromFlag := flag.String("from", "2010-01", "first initialization, YYYY-MM")
	toFlag := flag.String("to", "2011-12", "last initialization, YYYY-MM")
	modelsFlag := flag.String("models", "ecmwf,jma", "comma-separated centres")
	dropFlag := flag.String("drop", "", "comma-separated model:YYYY-MM initializations to leave out")
	gridFlag := flag.String("grid", "default", "grid: default or small")
	recordsOut := flag.String("records", "", "optional output path for the reanalysis index records fixture")
	flag.Parse()

	if *root == "" {
		flag.Usage()
		return fmt.Errorf("missing required flag: -root")
	}
	from, err := domain.ParseMonth(*fromFlag)
	if err != nil {
		return err
	}
	to, err := domain.ParseMonth(*toFlag)
	if err != nil {
		return err
	}
	models, err := domain.ParseModels(*modelsFlag)
	if err != nil {
		return err
	}
	drop, err := parseDrops(*dropFlag)
	if err != nil {
		return err
	}
	grid := synth.DefaultGrid()
	if *gridFlag == "small" {
		grid = synth.SmallGrid()
	}

	p := config.DefaultPipeline()
	p.Dirs = p.Dirs.Under(*root)
	layout := p.Layout()
	leads := p.LeadMonths
	inits := domain.MonthRange(from, to)

	// Reanalysis months cover every lead of the last initialization.
	months := domain.MonthRange(from, to.Add(leads-1))
	if err := synth.WriteReanalysis(layout, grid, months); err != nil {
		return fmt.Errorf("writing reanalysis: %w", err)
	}
	log.Printf("era5: %d months", len(months))

	for _, m := range models {
		var keep []domain.Month
		for _, init := range inits {
			if !drop[m][init] {
				keep = append(keep, init)
			}
		}
		if err := synth.WriteForecast(layout, grid, m, keep, synth.EnsembleSize(m), leads); err != nil {
			return fmt.Errorf("writing %s forecasts: %w", m, err)
		}
		log.Printf("%s: %d initializations, %d members, %d dropped", m, len(keep), synth.EnsembleSize(m), len(inits)-len(keep))
	}

	if *recordsOut == "" {
		return nil
	}
	return writeRecords(*recordsOut, layout, p, from, to)
}

// writeRecords reshapes the synthetic months, computes the reanalysis index
// and writes the records it publishes.
func writeRecords(path string, layout domain.Layout, p config.Pipeline, from, to domain.Month) error {
	// Set a fixed clock for reproducible ProcessedAt timestamps.
	domain.SetClock(clockwork.NewFakeClockAt(synth.Epoch))
	defer domain.SetClock(nil)

	ctx := context.Background()
	logger := observability.DiscardLogger()
	metrics := observability.NewMetricsForTesting()

	r := pipeline.NewReshaper(netcdf.NewCachedLoader(netcdf.FileLoader{}, p.LeadMonths), layout, p.LeadMonths, logger, metrics)
	if _, err := r.Run(ctx, domain.MonthRange(from, to)); err != nil {
		return err
	}

	sink := &collector{}
	pub := pipeline.NewPublisher(sink, logger, metrics)
	x := pipeline.NewReanalysisIndexer(netcdf.FileLoader{}, layout, p.Stations.South, p.Stations.North, pub, logger, metrics)
	if _, err := x.Run(ctx, from, to); err != nil {
		return err
	}

	if err := writeJSON(path, sink.values); err != nil {
		return fmt.Errorf("writing records fixture: %w", err)
	}
	log.Printf("wrote records fixture: %s (%d records)", path, len(sink.values))
	return nil
}

// collector keeps published record bodies in order.
type collector struct {
	mu     sync.Mutex
	values []json.RawMessage
}

func (c *collector) LoadBatch(_ context.Context, events []domain.OutputEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ev := range events {
		c.values = append(c.values, json.RawMessage(ev.Value))
	}
	return nil
}

func parseDrops(s string) (map[domain.Model]map[domain.Month]bool, error) {
	out := map[domain.Model]map[domain.Month]bool{}
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, month, ok := strings.Cut(part, ":")
		if !ok {
			return nil, fmt.Errorf("drop %q: want model:YYYY-MM", part)
		}
		m, err := domain.ParseModel(name)
		if err != nil {
			return nil, err
		}
		init, err := domain.ParseMonth(month)
		if err != nil {
			return nil, err
		}
		if out[m] == nil {
			out[m] = map[domain.Month]bool{}
		}
		out[m][init] = true
	}
	return out, nil
}

func writeJSON(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	return os.WriteFile(path, data, 0o600)
}
