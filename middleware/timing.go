package middleware

import (
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-pipeline/container"
	"github.com/saiset-co/sai-pipeline/di"
	"github.com/saiset-co/sai-pipeline/pipeline"
)

type TimerMiddleware struct {
	slowThreshold time.Duration
}

// NewTimer records the duration of the inner chain. Calls slower than
// slowThreshold are logged as warnings; zero disables that.
func NewTimer(slowThreshold time.Duration) *TimerMiddleware {
	return &TimerMiddleware{slowThreshold: slowThreshold}
}

func (t *TimerMiddleware) Name() string { return "time" }

func (t *TimerMiddleware) Dependencies() []container.AnyKey {
	return container.Keys(di.LoggerKey, di.MetricsKey)
}

func (t *TimerMiddleware) Invoke(ctx *pipeline.Context, next pipeline.Next, deps container.Deps) (any, error) {
	logger := container.Dep(deps, di.LoggerKey)
	registry := container.Dep(deps, di.MetricsKey)
	name := handlerName(ctx)

	start := time.Now()
	result, err := next()
	elapsed := time.Since(start)

	registry.ObserveHandler(name, elapsed, err)
	registry.CountResult(name, statusOf(result, err))

	if t.slowThreshold > 0 && elapsed > t.slowThreshold {
		logger.Warn("Slow handler", zap.String("handler", name), zap.Duration("duration", elapsed))
	} else {
		logger.Debug("Handler timing", zap.String("handler", name), zap.Duration("duration", elapsed))
	}

	return result, err
}

// Sampler reads system-wide CPU and memory utilisation in percent.
type Sampler func() (cpuPercent, memoryPercent float64)

func SystemSampler() (float64, float64) {
	var cpuPercent, memoryPercent float64

	if values, err := cpu.Percent(0, false); err == nil && len(values) > 0 {
		cpuPercent = values[0]
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		memoryPercent = vm.UsedPercent
	}

	return cpuPercent, memoryPercent
}

type PerformanceMiddleware struct {
	sample Sampler
}

// NewPerformance samples system utilisation around the inner chain and
// records the deltas. A nil sampler uses SystemSampler.
func NewPerformance(sample Sampler) *PerformanceMiddleware {
	if sample == nil {
		sample = SystemSampler
	}
	return &PerformanceMiddleware{sample: sample}
}

func (p *PerformanceMiddleware) Name() string { return "performance" }

func (p *PerformanceMiddleware) Dependencies() []container.AnyKey {
	return container.Keys(di.LoggerKey, di.MetricsKey)
}

func (p *PerformanceMiddleware) Invoke(ctx *pipeline.Context, next pipeline.Next, deps container.Deps) (any, error) {
	logger := container.Dep(deps, di.LoggerKey)
	registry := container.Dep(deps, di.MetricsKey)
	name := handlerName(ctx)

	startCPU, startMemory := p.sample()
	start := time.Now()

	result, err := next()

	elapsed := time.Since(start)
	if err != nil {
		logger.Error("Handler failed", zap.String("handler", name), zap.Duration("duration", elapsed), zap.Error(err))
		return result, err
	}

	endCPU, endMemory := p.sample()
	cpuDelta, memoryDelta := endCPU-startCPU, endMemory-startMemory

	registry.ObservePerformance(name, cpuDelta, memoryDelta)

	logger.Debug("Handler performance",
		zap.String("handler", name),
		zap.Duration("duration", elapsed),
		zap.Float64("cpu_delta", cpuDelta),
		zap.Float64("memory_delta", memoryDelta))

	return result, err
}
