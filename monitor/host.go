package monitor

import (
	"runtime"

	"github.com/klauspost/cpuid/v2"
	"go.uber.org/zap"
)

// HostFields 启动日志里的 CPU 信息，GEMM 的速度主要取决于这些
func HostFields() []zap.Field {
	return []zap.Field{
		zap.String("cpu", cpuid.CPU.BrandName),
		zap.Int("physical_cores", cpuid.CPU.PhysicalCores),
		zap.Int("logical_cores", cpuid.CPU.LogicalCores),
		zap.Bool("avx2", cpuid.CPU.Supports(cpuid.AVX2)),
		zap.Bool("fma3", cpuid.CPU.Supports(cpuid.FMA3)),
		zap.Int("gomaxprocs", runtime.GOMAXPROCS(0)),
	}
}
