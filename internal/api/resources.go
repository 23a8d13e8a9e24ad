package api

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"

	"cryptofeeds/logger"
)

// hostSample is one reading of host utilisation.
type hostSample struct {
	Timestamp   time.Time `json:"timestamp"`
	CPUPercent  float64   `json:"cpu_percent"`
	MemoryUsed  uint64    `json:"memory_used"`
	MemoryTotal uint64    `json:"memory_total"`
	MemoryPct   float64   `json:"memory_percent"`
	DiskUsed    uint64    `json:"disk_used"`
	DiskTotal   uint64    `json:"disk_total"`
	DiskPct     float64   `json:"disk_percent"`
}

// hostSampler keeps the most recent limit samples.
type hostSampler struct {
	mu       sync.RWMutex
	items    []hostSample
	limit    int
	interval time.Duration
	diskPath string

	running atomic.Bool
	wg      sync.WaitGroup
	log     *logger.Log
}

var (
	cpuPercentFn = func(ctx context.Context, interval time.Duration) ([]float64, error) {
		return cpu.PercentWithContext(ctx, interval, false)
	}
	memoryStatsFn = mem.VirtualMemoryWithContext
	diskUsageFn   = disk.UsageWithContext
)

func newHostSampler(limit int, interval time.Duration, diskPath string, log *logger.Log) *hostSampler {
	if limit <= 0 {
		limit = 120
	}
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if diskPath == "" {
		diskPath = "/"
	}
	return &hostSampler{limit: limit, interval: interval, diskPath: diskPath, log: log}
}

// start samples until ctx is cancelled. Calls after the first are no-ops.
func (s *hostSampler) start(ctx context.Context) {
	if s.running.Swap(true) {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.running.Store(false)
		s.run(ctx)
	}()
}

func (s *hostSampler) wait() { s.wg.Wait() }

func (s *hostSampler) snapshot() []hostSample {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]hostSample, len(s.items))
	copy(out, s.items)
	return out
}

func (s *hostSampler) add(sample hostSample) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = append(s.items, sample)
	if len(s.items) > s.limit {
		s.items = append([]hostSample(nil), s.items[len(s.items)-s.limit:]...)
	}
}

func (s *hostSampler) run(ctx context.Context) {
	log := s.log.WithComponent("host_sampler")
	for ctx.Err() == nil {
		// cpu.Percent blocks for the interval and paces the loop.
		cpuSamples, err := cpuPercentFn(ctx, s.interval)
		if err != nil {
			log.WithError(err).Debug("failed to sample cpu usage")
			if !sleep(ctx, s.interval) {
				return
			}
			continue
		}
		sample := hostSample{Timestamp: time.Now()}
		if len(cpuSamples) > 0 {
			sample.CPUPercent = cpuSamples[0]
		}
		if vm, err := memoryStatsFn(ctx); err == nil {
			sample.MemoryUsed, sample.MemoryTotal, sample.MemoryPct = vm.Used, vm.Total, vm.UsedPercent
		} else {
			log.WithError(err).Debug("failed to sample memory usage")
		}
		if du, err := diskUsageFn(ctx, s.diskPath); err == nil {
			sample.DiskUsed, sample.DiskTotal, sample.DiskPct = du.Used, du.Total, du.UsedPercent
		} else {
			log.WithError(err).Debug("failed to sample disk usage")
		}
		s.add(sample)
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
