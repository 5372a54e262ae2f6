package netcdf

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCFUnits(t *testing.T) {
	tests := []struct {
		units string
		value float64
		want  time.Time
	}{
		{"hours since 1900-01-01 00:00:00.0", 876576, time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)},
		{"seconds since 1970-01-01", 1262304000, time.Date(2010, 1, 1, 0, 0, 0, 0, time.UTC)},
		{"days since 2010-01-01 00:00:00", 31, time.Date(2010, 2, 1, 0, 0, 0, 0, time.UTC)},
		{"minutes since 2010-01-01T00:00:00Z", 60, time.Date(2010, 1, 1, 1, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(tt.units, func(t *testing.T) {
			u, err := parseCFUnits(tt.units)
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(u.decode(tt.value)), "got %v", u.decode(tt.value))
			assert.InDelta(t, tt.value, u.encode(tt.want), 1e-6)
		})
	}
}

func TestParseCFUnits_Invalid(t *testing.T) {
	for _, units := range []string{"Pa", "fortnights since 2000-01-01", "hours since yesterday"} {
		_, err := parseCFUnits(units)
		assert.Error(t, err, units)
	}
}
