package calculator

import (
	"math"
	"testing"
)

func TestComputeSplit(t *testing.T) {
	tests := []struct {
		name   string
		total  float64
		people int
		want   float64
		wantOK bool
	}{
		{"even split", 10, 5, 2, true},
		{"uneven split", 7, 3, 7.0 / 3.0, true},
		{"single person", 42.5, 1, 42.5, true},
		{"zero people", 7, 0, 0, false},
		{"negative people", 10, -2, 0, false},
		{"zero total", 0, 4, 0, false},
		{"negative total", -5, 4, 0, false},
		{"NaN total", math.NaN(), 4, 0, false},
		{"infinite total", math.Inf(1), 4, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ComputeSplit(tt.total, tt.people)
			if ok != tt.wantOK {
				t.Fatalf("ComputeSplit(%v, %d) ok = %v, want %v", tt.total, tt.people, ok, tt.wantOK)
			}
			if got != tt.want {
				t.Errorf("ComputeSplit(%v, %d) = %v, want %v", tt.total, tt.people, got, tt.want)
			}
		})
	}
}

func TestComputeSplitExactDivision(t *testing.T) {
	// The share must be the exact float64 quotient; rounding is display-only.
	got, ok := ComputeSplit(10, 3)
	if !ok {
		t.Fatal("expected a defined split")
	}
	if got != 10.0/3.0 {
		t.Errorf("split = %v, want exact quotient %v", got, 10.0/3.0)
	}
	if RoundForDisplay(got) != 3.33 {
		t.Errorf("display rounding = %v, want 3.33", RoundForDisplay(got))
	}
}

func TestToLamports(t *testing.T) {
	tests := []struct {
		name    string
		amount  float64
		want    uint64
		wantErr bool
	}{
		{"one sol", 1, 1_000_000_000, false},
		{"two sol", 2, 2_000_000_000, false},
		{"fractional", 1.5, 1_500_000_000, false},
		{"quarter sol", 0.25, 250_000_000, false},
		{"rounds to nearest", 0.0000000014, 1, false},
		{"zero", 0, 0, false},
		{"negative", -1, 0, true},
		{"NaN", math.NaN(), 0, true},
		{"infinite", math.Inf(1), 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ToLamports(tt.amount)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ToLamports(%v) error = %v, wantErr %v", tt.amount, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ToLamports(%v) = %d, want %d", tt.amount, got, tt.want)
			}
		})
	}
}
