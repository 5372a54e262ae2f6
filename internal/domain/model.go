package domain

import (
	"fmt"
	"strings"
)

// CanonicalEnsembleSize is the member count every forecast source is padded
// to before sources are compared.
const CanonicalEnsembleSize = 51

// Model identifies a seasonal-forecast originating centre.
type Model string

const (
	CMCC        Model = "cmcc"
	DWD         Model = "dwd"
	ECCC        Model = "eccc"
	ECMWF       Model = "ecmwf"
	JMA         Model = "jma"
	MeteoFrance Model = "meteo_france"
	NCEP        Model = "ncep"
	UKMO        Model = "ukmo"
)

// Models lists every supported centre.
var Models = []Model{CMCC, DWD, ECCC, ECMWF, JMA, MeteoFrance, NCEP, UKMO}

// ParseModel validates a centre identifier.
func ParseModel(s string) (Model, error) {
	m := Model(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Models {
		if m == known {
			return m, nil
		}
	}
	return "", fmt.Errorf("unknown model %q", s)
}

// ParseModels parses a comma-separated list of centres.
func ParseModels(s string) ([]Model, error) {
	var out []Model
	for _, part := range strings.Split(s, ",") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		m, err := ParseModel(part)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no models in %q", s)
	}
	return out, nil
}

// TimeAxis returns the label the centre uses for its initialization axis.
func (m Model) TimeAxis() string {
	switch m {
	case JMA, NCEP, UKMO:
		return AxisIndexingTime
	default:
		return AxisInit
	}
}

// Canonicalize renames the centre's initialization axis to
// forecast_reference_time.
func (m Model) Canonicalize(f Field) Field {
	if label := m.TimeAxis(); label != AxisInit {
		return f.RenameAxis(label, AxisInit)
	}
	return f
}

// Provenance tells whether a record holds data read from its own source
// file or a missing-value placeholder.
type Provenance int

const (
	Observed Provenance = iota
	Imputed
)

func (p Provenance) String() string {
	if p == Imputed {
		return "imputed"
	}
	return "observed"
}

// InitRecord is one initialization of one source.
type InitRecord struct {
	Init       Month
	Field      Field
	Provenance Provenance
	Reason     string
}

// ImputePolicy decides what happens when a forecast input is missing.
type ImputePolicy string

const (
	// ImputeFill substitutes a NaN-filled placeholder and tags it Imputed.
	ImputeFill ImputePolicy = "fill"
	// ImputeReject fails the run.
	ImputeReject ImputePolicy = "reject"
)

// ParseImputePolicy validates a policy name.
func ParseImputePolicy(s string) (ImputePolicy, error) {
	switch p := ImputePolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case ImputeFill, ImputeReject:
		return p, nil
	default:
		return "", fmt.Errorf("unknown impute policy %q", s)
	}
}
