package shadow

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDeriveHeight(t *testing.T) {
	tests := []struct {
		name   string
		levels string
		height string
		want   float64
	}{
		{"levels win", "4", "30", 4 * FloorHeight},
		{"height fallback", "", "12.5", 12.5},
		{"height with unit", "", "12 m", 12},
		{"garbage levels falls back", "many", "9", 9},
		{"semicolon list", "3;5", "", 3 * FloorHeight},
		{"comma decimal", "", "7,5", 7.5},
		{"neither", "", "", 0},
		{"negative clamps", "", "-4", 0},
		{"nan rejected", "NaN", "6", 6},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, DeriveHeight(tt.levels, tt.height), 1e-9)
		})
	}
}

func TestNumericHouseNumber(t *testing.T) {
	assert.Equal(t, "12", NumericHouseNumber("12א"))
	assert.Equal(t, "79", NumericHouseNumber("7-9"))
	assert.Equal(t, "", NumericHouseNumber("none"))
}
