// Package cpuspec reports the host CPU for diagnostics.
package cpuspec

import (
	"runtime"

	"github.com/klauspost/cpuid/v2"
)

// featureNames are the instruction set extensions worth reporting for image
// processing, in display order
var featureNames = []struct {
	id   cpuid.FeatureID
	name string
}{
	{cpuid.SSE4, "sse4.1"},
	{cpuid.SSE42, "sse4.2"},
	{cpuid.AVX, "avx"},
	{cpuid.AVX2, "avx2"},
	{cpuid.AVX512F, "avx512f"},
	{cpuid.FMA3, "fma3"},
	{cpuid.ASIMD, "neon"},
}

// CPUSpec contains information about CPU specifications
type CPUSpec struct {
	BrandName     string   `json:"brand_name" yaml:"brand_name"`
	Vendor        string   `json:"vendor" yaml:"vendor"`
	PhysicalCores int      `json:"physical_cores" yaml:"physical_cores"`
	LogicalCores  int      `json:"logical_cores" yaml:"logical_cores"`
	AvailableCPUs int      `json:"available_cpus" yaml:"available_cpus"`
	Features      []string `json:"features" yaml:"features"`
}

// GetCPUSpec returns the specification of the host CPU
func GetCPUSpec() CPUSpec {
	spec := CPUSpec{
		BrandName:     cpuid.CPU.BrandName,
		Vendor:        cpuid.CPU.VendorString,
		PhysicalCores: cpuid.CPU.PhysicalCores,
		LogicalCores:  cpuid.CPU.LogicalCores,
		AvailableCPUs: runtime.NumCPU(),
		Features:      []string{},
	}
	if spec.BrandName == "" {
		spec.BrandName = "unknown"
	}

	for _, f := range featureNames {
		if cpuid.CPU.Supports(f.id) {
			spec.Features = append(spec.Features, f.name)
		}
	}
	return spec
}

// Constrained reports whether the process sees fewer CPUs than the host has,
// as in a container with a CPU quota. Worker stages then share cores with
// the detection engine.
func (c CPUSpec) Constrained() bool {
	return c.LogicalCores > 0 && c.AvailableCPUs < c.LogicalCores
}
