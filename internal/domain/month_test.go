package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMonth_Add(t *testing.T) {
	tests := []struct {
		name string
		from Month
		n    int
		want Month
	}{
		{"same year", NewMonth(2024, time.March), 2, NewMonth(2024, time.May)},
		{"year rollover", NewMonth(2024, time.November), 3, NewMonth(2025, time.February)},
		{"backwards", NewMonth(2024, time.January), -1, NewMonth(2023, time.December)},
		{"zero", NewMonth(2024, time.July), 0, NewMonth(2024, time.July)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.from.Add(tt.n))
		})
	}
}

func TestParseMonth(t *testing.T) {
	m, err := ParseMonth("2010-01")
	require.NoError(t, err)
	assert.Equal(t, NewMonth(2010, time.January), m)
	assert.Equal(t, "2010-01", m.String())

	_, err = ParseMonth("2010/01")
	assert.Error(t, err)
}

func TestMonthRange(t *testing.T) {
	got := MonthRange(NewMonth(2024, time.November), NewMonth(2025, time.February))
	require.Len(t, got, 4)
	assert.Equal(t, "2024-11", got[0].String())
	assert.Equal(t, "2025-02", got[3].String())

	assert.Empty(t, MonthRange(NewMonth(2025, time.February), NewMonth(2024, time.November)))
	assert.Len(t, YearMonths(2023, 2024), 24)
}

func TestWindow(t *testing.T) {
	got := Window(NewMonth(2024, time.December), 3)
	assert.Equal(t, []Month{
		NewMonth(2024, time.December),
		NewMonth(2025, time.January),
		NewMonth(2025, time.February),
	}, got)
}
