package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func tableLookup(table map[string]string) func(string) (string, bool) {
	return func(prefix string) (string, bool) {
		v, ok := table[prefix]
		return v, ok
	}
}

func TestExtractPrefix(t *testing.T) {
	tests := []struct {
		name     string
		firmware string
		prefix   string
		ok       bool
	}{
		{"rut9 firmware", "RUT9_R_00.07.06.11", "RUT9", true},
		{"rutx firmware", "RUTX_R_00.07.13.2", "RUTX", true},
		{"numeric family", "RUT952_R_00.07.06.11", "RUT952", true},
		{"no underscore", "RUT9", "", false},
		{"lowercase", "rut9_R_00.07.06.11", "", false},
		{"empty", "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			prefix, ok := ExtractPrefix(tt.firmware)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.prefix, prefix)
		})
	}
}

func TestCompare(t *testing.T) {
	tests := []struct {
		name string
		a, b string
		want int
	}{
		{"equal", "RUT9_R_00.07.06.11", "RUT9_R_00.07.06.11", 0},
		{"patch newer", "RUT9_R_00.07.06.20", "RUT9_R_00.07.06.11", 1},
		{"patch older", "RUT9_R_00.07.06.11", "RUT9_R_00.07.06.20", -1},
		{"minor beats patch", "RUT9_R_00.07.07.00", "RUT9_R_00.07.06.99", 1},
		{"numeric not lexicographic", "RUT9_R_00.07.06.10", "RUT9_R_00.07.06.9", 1},
		{"major decides first", "RUT9_R_01.00.00.00", "RUT9_R_00.99.99.99", 1},
		{"no tail falls back to strings", "alpha", "beta", -1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Compare(tt.a, tt.b)
			switch {
			case tt.want == 0:
				assert.Zero(t, got)
			case tt.want > 0:
				assert.Positive(t, got)
			default:
				assert.Negative(t, got)
			}
		})
	}
}

func TestCompareAntisymmetric(t *testing.T) {
	a := "RUT9_R_00.07.06.11"
	b := "RUT9_R_00.07.06.20"

	assert.Equal(t, -Compare(b, a), Compare(a, b))
	assert.Zero(t, Compare(a, a))
}

func TestEvaluate(t *testing.T) {
	table := map[string]string{
		"RUT9": "RUT9_R_00.07.06.20",
		"RUTX": "RUTX_R_00.07.13.2",
	}

	tests := []struct {
		name      string
		current   string
		available bool
		latest    string
	}{
		{
			name:      "older current is updatable",
			current:   "RUT9_R_00.07.06.11",
			available: true,
			latest:    "RUT9_R_00.07.06.20",
		},
		{
			name:      "current ahead of table is not updatable",
			current:   "RUT9_R_00.07.07.00",
			available: false,
			latest:    "RUT9_R_00.07.06.20",
		},
		{
			name:      "same version is not updatable",
			current:   "RUT9_R_00.07.06.20",
			available: false,
			latest:    "RUT9_R_00.07.06.20",
		},
		{
			name:      "unknown family",
			current:   "TRB1_R_00.02.06.1",
			available: false,
			latest:    "",
		},
		{
			name:      "unparseable current",
			current:   "garbage",
			available: false,
			latest:    "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Evaluate(tt.current, tableLookup(table))
			assert.Equal(t, tt.available, got.Available)
			assert.Equal(t, tt.latest, got.LatestVersion)
		})
	}
}

func TestEvaluateStringFallback(t *testing.T) {
	// Table row without a numeric tail: any difference counts as an update.
	table := map[string]string{"RUT9": "RUT9_R_custom"}

	got := Evaluate("RUT9_R_00.07.06.11", tableLookup(table))
	assert.True(t, got.Available)

	got = Evaluate("RUT9_R_custom", tableLookup(table))
	assert.False(t, got.Available)
}

func TestValidateEntry(t *testing.T) {
	tests := []struct {
		name    string
		prefix  string
		version string
		wantErr bool
	}{
		{"valid", "RUT9", "RUT9_R_00.07.06.20", false},
		{"valid numeric prefix", "RUT952", "RUT952_R_00.07.06.20", false},
		{"lowercase prefix", "rut9", "RUT9_R_00.07.06.20", true},
		{"empty prefix", "", "RUT9_R_00.07.06.20", true},
		{"version missing release marker", "RUT9", "RUT9_00.07.06.20", true},
		{"version with three parts", "RUT9", "RUT9_R_00.07.06", true},
		{"empty version", "RUT9", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateEntry(tt.prefix, tt.version)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
