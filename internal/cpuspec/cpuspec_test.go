package cpuspec

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetCPUSpec(t *testing.T) {
	spec := GetCPUSpec()

	assert.NotEmpty(t, spec.BrandName)
	assert.Equal(t, runtime.NumCPU(), spec.AvailableCPUs)
	assert.NotNil(t, spec.Features)
}

func TestConstrained(t *testing.T) {
	tests := []struct {
		name string
		spec CPUSpec
		want bool
	}{
		{"quota", CPUSpec{LogicalCores: 16, AvailableCPUs: 2}, true},
		{"full host", CPUSpec{LogicalCores: 8, AvailableCPUs: 8}, false},
		{"unknown topology", CPUSpec{AvailableCPUs: 4}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.spec.Constrained())
		})
	}
}
