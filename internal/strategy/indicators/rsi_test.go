package indicators

import (
	"testing"
)

func TestRSI(t *testing.T) {
	tests := []struct {
		name          string
		closes        []float64
		period        int
		expectedValue float64
	}{
		{
			name:          "RSI with sufficient data",
			closes:        []float64{100, 102, 101, 103, 102, 104},
			period:        3,
			expectedValue: 77.272727, // Wilder's smoothing
		},
		{
			name:          "Insufficient data returns neutral",
			closes:        []float64{100, 102, 101, 103, 102, 104},
			period:        7,
			expectedValue: 50,
		},
		{
			name:          "All gains",
			closes:        []float64{100, 102, 104, 106},
			period:        3,
			expectedValue: 100,
		},
		{
			name:          "All losses",
			closes:        []float64{106, 104, 102, 100},
			period:        3,
			expectedValue: 0,
		},
		{
			name:          "Flat series",
			closes:        []float64{100, 100, 100, 100, 100},
			period:        3,
			expectedValue: 50,
		},
		{
			name:          "Fifteen closes period fourteen",
			closes:        []float64{44, 47, 45, 50, 52, 48, 46, 44, 43, 42, 44, 46, 48, 50, 52},
			period:        14,
			expectedValue: 62.5,
		},
		{
			name:          "Fourteen closes period fourteen",
			closes:        []float64{44, 47, 45, 50, 52, 48, 46, 44, 43, 42, 44, 46, 48, 50},
			period:        14,
			expectedValue: 50,
		},
		{
			name:          "Zero period",
			closes:        []float64{1, 2, 3},
			period:        0,
			expectedValue: 50,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			value := RSI(tt.closes, tt.period)

			if value < 0 || value > 100 {
				t.Fatalf("RSI out of range: %f", value)
			}
			// Allow for small floating point differences
			if value-tt.expectedValue > 0.0001 || value-tt.expectedValue < -0.0001 {
				t.Errorf("Expected value %f, got %f", tt.expectedValue, value)
			}
		})
	}
}
