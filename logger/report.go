package logger

import (
	"context"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	gnet "github.com/shirou/gopsutil/v3/net"
)

type feedStat struct {
	frames      int64
	bytes       int64
	updates     int64
	parseErrors int64
	dropped     int64
	reconnects  int64
}

type levelStat struct {
	warns  int64
	errors int64
}

// FeedStats is a point-in-time copy of one connection's counters.
type FeedStats struct {
	Frames      int64 `json:"frames"`
	Bytes       int64 `json:"bytes"`
	Updates     int64 `json:"updates"`
	ParseErrors int64 `json:"parse_errors"`
	Dropped     int64 `json:"dropped"`
	Reconnects  int64 `json:"reconnects"`
}

var (
	feeds      sync.Map // map[string]*feedStat
	components sync.Map // map[string]*levelStat
)

func feed(name string) *feedStat {
	v, _ := feeds.LoadOrStore(name, &feedStat{})
	return v.(*feedStat)
}

func component(name string) *levelStat {
	v, _ := components.LoadOrStore(name, &levelStat{})
	return v.(*levelStat)
}

func recordWarn(name string) {
	atomic.AddInt64(&component(name).warns, 1)
}

func recordError(name string) {
	atomic.AddInt64(&component(name).errors, 1)
}

// RecordFrame counts an inbound websocket frame.
func RecordFrame(name string, size int) {
	fs := feed(name)
	atomic.AddInt64(&fs.frames, 1)
	atomic.AddInt64(&fs.bytes, int64(size))
}

// RecordUpdate counts a quote written to the store.
func RecordUpdate(name string) {
	atomic.AddInt64(&feed(name).updates, 1)
}

func RecordParseError(name string) {
	atomic.AddInt64(&feed(name).parseErrors, 1)
}

// RecordDropped counts a parsed quote that was not stored.
func RecordDropped(name string) {
	atomic.AddInt64(&feed(name).dropped, 1)
}

func RecordReconnect(name string) {
	atomic.AddInt64(&feed(name).reconnects, 1)
}

// Stats returns the counters of every feed seen so far.
func Stats() map[string]FeedStats {
	out := make(map[string]FeedStats)
	feeds.Range(func(k, v any) bool {
		fs := v.(*feedStat)
		out[k.(string)] = FeedStats{
			Frames:      atomic.LoadInt64(&fs.frames),
			Bytes:       atomic.LoadInt64(&fs.bytes),
			Updates:     atomic.LoadInt64(&fs.updates),
			ParseErrors: atomic.LoadInt64(&fs.parseErrors),
			Dropped:     atomic.LoadInt64(&fs.dropped),
			Reconnects:  atomic.LoadInt64(&fs.reconnects),
		}
		return true
	})
	return out
}

// StartReport begins periodic logging of system and feed statistics until ctx
// is cancelled.
func StartReport(ctx context.Context, log *Log, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				logReport(ctx, log)
			}
		}
	}()
}

func logReport(ctx context.Context, log *Log) {
	cpuPct := 0.0
	if pct, err := cpu.Percent(0, false); err == nil && len(pct) > 0 {
		cpuPct = pct[0]
	}
	memUsedMB := 0.0
	if vm, err := mem.VirtualMemory(); err == nil {
		memUsedMB = float64(vm.Used) / 1024 / 1024
	}
	var bytesSent, bytesRecv uint64
	if netStats, err := gnet.IOCounters(false); err == nil && len(netStats) > 0 {
		bytesSent = netStats[0].BytesSent
		bytesRecv = netStats[0].BytesRecv
	}

	stats := Stats()
	levels := map[string]map[string]int64{}
	components.Range(func(k, v any) bool {
		ls := v.(*levelStat)
		levels[k.(string)] = map[string]int64{
			"warns":  atomic.LoadInt64(&ls.warns),
			"errors": atomic.LoadInt64(&ls.errors),
		}
		return true
	})

	log.WithComponent("report").WithFields(Fields{
		"goroutines":     runtime.NumGoroutine(),
		"cpu_percent":    cpuPct,
		"memory_mb":      int64(memUsedMB),
		"net_bytes_sent": int64(bytesSent),
		"net_bytes_recv": int64(bytesRecv),
		"feeds":          stats,
		"levels":         levels,
	}).Info("runtime report")

	data := []cwtypes.MetricDatum{
		{MetricName: aws.String("CPUPercent"), Unit: cwtypes.StandardUnitPercent, Value: aws.Float64(cpuPct)},
		{MetricName: aws.String("MemoryMB"), Unit: cwtypes.StandardUnitMegabytes, Value: aws.Float64(memUsedMB)},
		{MetricName: aws.String("NetBytesSent"), Unit: cwtypes.StandardUnitBytes, Value: aws.Float64(float64(bytesSent))},
		{MetricName: aws.String("NetBytesRecv"), Unit: cwtypes.StandardUnitBytes, Value: aws.Float64(float64(bytesRecv))},
	}

	names := make([]string, 0, len(stats))
	for name := range stats {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		s := stats[name]
		dims := []cwtypes.Dimension{{Name: aws.String("Feed"), Value: aws.String(name)}}
		data = append(data,
			cwtypes.MetricDatum{MetricName: aws.String("FeedFrames"), Unit: cwtypes.StandardUnitCount, Dimensions: dims, Value: aws.Float64(float64(s.Frames))},
			cwtypes.MetricDatum{MetricName: aws.String("FeedUpdates"), Unit: cwtypes.StandardUnitCount, Dimensions: dims, Value: aws.Float64(float64(s.Updates))},
			cwtypes.MetricDatum{MetricName: aws.String("FeedParseErrors"), Unit: cwtypes.StandardUnitCount, Dimensions: dims, Value: aws.Float64(float64(s.ParseErrors))},
			cwtypes.MetricDatum{MetricName: aws.String("FeedReconnects"), Unit: cwtypes.StandardUnitCount, Dimensions: dims, Value: aws.Float64(float64(s.Reconnects))},
		)
	}

	publishMetrics(ctx, data)
}
