package metrics

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"
)

// StoreSizer reports on-disk store size. The sqlite backend implements it.
type StoreSizer interface {
	DBSizeBytes() int64
	WALSizeBytes() int64
}

// Collector periodically samples process and store gauges into a Recorder.
type Collector struct {
	interval time.Duration
	recorder *Recorder
	store    StoreSizer

	lastCPUSample *cpuSample
}

type cpuSample struct {
	usageUsec int64
	at        time.Time
}

// NewCollector builds a sampler. store may be nil.
func NewCollector(interval time.Duration, recorder *Recorder, store StoreSizer) *Collector {
	return &Collector{
		interval: interval,
		recorder: recorder,
		store:    store,
	}
}

func (c *Collector) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	c.Sample(time.Now())
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			c.Sample(now)
		}
	}
}

// Sample reads every source once. Unavailable sources leave their gauge
// untouched.
func (c *Collector) Sample(now time.Time) {
	if c.recorder == nil {
		return
	}
	if rss, err := CurrentRSSBytes(); err == nil {
		c.recorder.processRSS.Set(float64(rss))
	}
	if memCurrent, _ := readMemoryCgroup(); memCurrent > 0 {
		c.recorder.cgroupMemory.Set(float64(memCurrent))
	}
	if pct, ok := c.cpuPercent(now); ok {
		c.recorder.processCPU.Set(pct)
	}
	if c.store != nil {
		c.recorder.storeBytes.WithLabelValues("db").Set(float64(c.store.DBSizeBytes()))
		c.recorder.storeBytes.WithLabelValues("wal").Set(float64(c.store.WALSizeBytes()))
	}
}

// cpuPercent discards the first sample; a rate needs two.
func (c *Collector) cpuPercent(now time.Time) (float64, bool) {
	usageUsec, err := readCPUUsageUsec()
	if err != nil {
		return 0, false
	}
	cur := &cpuSample{usageUsec: usageUsec, at: now}
	prev := c.lastCPUSample
	c.lastCPUSample = cur
	if prev == nil {
		return 0, false
	}
	deltaUsage := float64(cur.usageUsec-prev.usageUsec) / 1_000_000.0
	deltaTime := cur.at.Sub(prev.at).Seconds()
	if deltaTime <= 0 {
		return 0, false
	}
	pct := (deltaUsage / deltaTime) * 100.0 / readCPUCgroupCores()
	if pct < 0 {
		pct = 0
	}
	return pct, true
}

func readCPUUsageUsec() (int64, error) {
	data, err := os.ReadFile("/sys/fs/cgroup/cpu.stat")
	if err != nil {
		return 0, err
	}
	for _, line := range strings.Split(string(data), "\n") {
		fields := strings.Fields(line)
		if len(fields) != 2 {
			continue
		}
		if fields[0] == "usage_usec" {
			return strconv.ParseInt(fields[1], 10, 64)
		}
	}
	return 0, fmt.Errorf("usage_usec not found")
}

func readCPUCgroupCores() float64 {
	data, err := os.ReadFile("/sys/fs/cgroup/cpu.max")
	if err != nil {
		return float64(runtime.NumCPU())
	}
	fields := strings.Fields(string(data))
	if len(fields) != 2 || fields[0] == "max" {
		return float64(runtime.NumCPU())
	}
	quota, err1 := strconv.ParseFloat(fields[0], 64)
	period, err2 := strconv.ParseFloat(fields[1], 64)
	if err1 != nil || err2 != nil || period <= 0 {
		return float64(runtime.NumCPU())
	}
	cores := quota / period
	if cores < 1 {
		return 1
	}
	return cores
}

func readMemoryCgroup() (current int64, total int64) {
	curBytes, err := os.ReadFile("/sys/fs/cgroup/memory.current")
	if err != nil {
		return 0, 0
	}
	current, _ = strconv.ParseInt(strings.TrimSpace(string(curBytes)), 10, 64)

	maxBytes, err := os.ReadFile("/sys/fs/cgroup/memory.max")
	if err != nil {
		return current, 0
	}
	maxStr := strings.TrimSpace(string(maxBytes))
	if maxStr == "max" {
		return current, 0
	}
	total, _ = strconv.ParseInt(maxStr, 10, 64)
	return current, total
}
