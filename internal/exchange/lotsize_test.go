package exchange

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatQuantity(t *testing.T) {
	tests := []struct {
		name string
		qty  float64
		step string
		want string
	}{
		{"fractional step floors to precision", 1.23456789, "0.001", "1.234"},
		{"trailing zeros in step", 0.98765, "0.01000000", "0.98"},
		{"odd fractional step uses implied decimals", 1.2399, "0.005", "1.239"},
		{"integer step", 157, "10", "150"},
		{"unit step", 3.99, "1", "3"},
		{"unit step with decimals", 3.99, "1.00000000", "3"},
		{"never rounds up", 0.0999999, "0.1", "0.0"},
		{"zero quantity", 0, "0.001", "0"},
		{"invalid step keeps eight decimals", 0.123456789123, "", "0.12345678"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := FormatQuantity(tt.qty, tt.step)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestStepPrecision(t *testing.T) {
	assert.Equal(t, int32(3), stepPrecision("0.00100000"))
	assert.Equal(t, int32(0), stepPrecision("1"))
	assert.Equal(t, int32(8), stepPrecision("0.00000001"))
}
