package resources

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCPUInfoFallsBackToLogicalCores(t *testing.T) {
	info := CPUInfo()
	assert.Greater(t, info.Millicores, int64(0), "must report a positive millicore budget even with no cgroup limit")
}

func TestMemoryMBReturnsPositiveValue(t *testing.T) {
	mb := MemoryMB()
	assert.Greater(t, mb, int64(0))
}

func TestGPUInfoAbsenceIsNotAnError(t *testing.T) {
	gpu := GPUInfo(context.Background())
	// Most hosts have no NVIDIA driver; this must not panic or hang.
	_ = gpu
}

func TestIntrospectAssemblesInventory(t *testing.T) {
	inv, err := Introspect(context.Background())
	assert.NoError(t, err)
	assert.Greater(t, inv.CPU.Millicores, int64(0))
}
