package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"time"
)

// SourceERA5 labels index records derived from reanalysis.
const SourceERA5 = "era5"

// IndexRecord is one (source, init, lead) value of an NAO index, as
// published downstream. Missing values serialize as null.
type IndexRecord struct {
	ID           string    `json:"id"`
	Source       string    `json:"source"`
	System       string    `json:"system,omitempty"`
	Init         string    `json:"init"`
	Lead         int       `json:"lead"`
	Valid        string    `json:"valid"`
	Raw          *float64  `json:"nao_raw"`
	Standardized *float64  `json:"nao"`
	Provenance   string    `json:"provenance"`
	ProcessedAt  time.Time `json:"processed_at"`
}

// OutputEvent is the serialized form destined for the sink topic.
type OutputEvent struct {
	Key     []byte
	Value   []byte
	Headers map[string]string
}

// RecordsFromIndex flattens a raw and a standardized index, both over
// (forecast_reference_time, forecastMonth), into records ordered by init
// then lead. imputed marks initializations that were placeholders.
func RecordsFromIndex(source, system string, raw, std Field, imputed map[Month]bool) ([]IndexRecord, error) {
	if err := checkIndexAxes(raw); err != nil {
		return nil, err
	}
	if err := checkIndexAxes(std); err != nil {
		return nil, err
	}
	inits, _ := raw.Axis(AxisInit)
	leads, _ := raw.Axis(AxisLead)
	stdInits, _ := std.Axis(AxisInit)
	stdLeads, _ := std.Axis(AxisLead)
	if !inits.Equal(stdInits) || !leads.Equal(stdLeads) {
		return nil, fmt.Errorf("%w: raw and standardized index disagree", ErrCoordinateMismatch)
	}

	now := clock.Now().UTC()
	out := make([]IndexRecord, 0, raw.Size())
	for i, t := range inits.Times {
		init := MonthOf(t)
		prov := Observed
		if imputed[init] {
			prov = Imputed
		}
		for j, l := range leads.Values {
			lead := int(math.Round(l))
			r := IndexRecord{
				Source:       source,
				System:       system,
				Init:         init.String(),
				Lead:         lead,
				Valid:        init.Add(lead - 1).String(),
				Raw:          finitePtr(valueAt2(raw, i, j)),
				Standardized: finitePtr(valueAt2(std, i, j)),
				Provenance:   prov.String(),
				ProcessedAt:  now,
			}
			r.ID = recordID(r.Source, r.System, r.Init, r.Lead)
			out = append(out, r)
		}
	}
	return out, nil
}

// SerializeIndexRecord marshals a record into an output event keyed by its
// deterministic ID.
func SerializeIndexRecord(r IndexRecord) (OutputEvent, error) {
	value, err := json.Marshal(r)
	if err != nil {
		return OutputEvent{}, fmt.Errorf("marshal index record %s: %w", r.ID, err)
	}
	return OutputEvent{
		Key:   []byte(r.ID),
		Value: value,
		Headers: map[string]string{
			"source":     r.Source,
			"provenance": r.Provenance,
		},
	}, nil
}

func checkIndexAxes(f Field) error {
	if len(f.Axes) != 2 || !f.HasAxis(AxisInit) || !f.HasAxis(AxisLead) {
		return fmt.Errorf("%w: index %s has axes %v, want %s and %s", ErrShape, f.Name, f.Dims(), AxisInit, AxisLead)
	}
	return nil
}

// valueAt2 reads the element at init position i and lead position j
// regardless of axis order.
func valueAt2(f Field, i, j int) float64 {
	idx := make([]int, 2)
	idx[f.AxisIndex(AxisInit)] = i
	idx[f.AxisIndex(AxisLead)] = j
	return f.At(idx...)
}

func finitePtr(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

// recordID is a deterministic SHA-256 of source|system|init|lead, so
// republishing a recomputed index overwrites rather than duplicates.
func recordID(source, system, init string, lead int) string {
	hash := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%s|%d", source, system, init, lead)))
	return source + "-" + hex.EncodeToString(hash[:8])
}
