// Package sysinfo collects a snapshot of host metrics for the status endpoint
package sysinfo

import (
	"time"

	cache "github.com/go-pkgz/expirable-cache/v3"
	log "github.com/go-pkgz/lgr"
	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/load"
	"github.com/shirou/gopsutil/v4/mem"
)

const defaultCacheTTL = 5 * time.Second

// Stats is a host metrics snapshot. Fields stay zero if the metric can't be read on this platform.
type Stats struct {
	CPUs           int     `json:"cpus"`
	MemTotal       uint64  `json:"mem_total"`
	MemUsedPercent float64 `json:"mem_used_percent"`
	Load1          float64 `json:"load1"`
	Load5          float64 `json:"load5"`
	Load15         float64 `json:"load15"`
	DiskPath       string  `json:"disk_path"`
	DiskFreePct    float64 `json:"disk_free_percent"`
}

// Collector reads host metrics and caches the result for a short time,
// so frequent status polling doesn't hit the system on every request
type Collector struct {
	diskPath string
	cacheTTL time.Duration
	cache    cache.Cache[string, Stats] // keyed by disk path
}

// NewCollector makes a Collector reporting disk usage for diskPath ("/" if empty).
// Zero cacheTTL uses 5s default.
func NewCollector(diskPath string, cacheTTL time.Duration) *Collector {
	if diskPath == "" {
		diskPath = "/"
	}
	if cacheTTL <= 0 {
		cacheTTL = defaultCacheTTL
	}
	return &Collector{
		diskPath: diskPath,
		cacheTTL: cacheTTL,
		cache:    cache.NewCache[string, Stats]().WithTTL(cacheTTL).WithMaxKeys(1),
	}
}

// Collect returns current host stats, cached up to cacheTTL
func (c *Collector) Collect() Stats {
	if st, ok := c.cache.Get(c.diskPath); ok {
		return st
	}
	st := c.read()
	c.cache.Set(c.diskPath, st, c.cacheTTL)
	return st
}

func (c *Collector) read() Stats {
	res := Stats{DiskPath: c.diskPath}

	if n, err := cpu.Counts(true); err == nil {
		res.CPUs = n
	} else {
		log.Printf("[DEBUG] failed to get cpu count: %v", err)
	}

	if v, err := mem.VirtualMemory(); err == nil {
		res.MemTotal = v.Total
		res.MemUsedPercent = v.UsedPercent
	} else {
		log.Printf("[DEBUG] failed to get memory: %v", err)
	}

	if l, err := load.Avg(); err == nil {
		res.Load1, res.Load5, res.Load15 = l.Load1, l.Load5, l.Load15
	} else {
		log.Printf("[DEBUG] failed to get load average: %v", err)
	}

	if u, err := disk.Usage(c.diskPath); err == nil {
		res.DiskFreePct = 100 - u.UsedPercent
	} else {
		log.Printf("[DEBUG] failed to get disk usage for %s: %v", c.diskPath, err)
	}

	return res
}
