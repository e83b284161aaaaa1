package metrics

import (
	"sync/atomic"
	"time"
)

type Collector struct {
	totalRequests     uint64
	errorRequests     uint64
	rateLimited       uint64
	totalDurationMs   uint64
	runsGenerated     uint64
	runsCommitted     uint64
	commitConflicts   uint64
	validationFailure uint64
}

func New() *Collector {
	return &Collector{}
}

func (c *Collector) Record(status int, duration time.Duration) {
	atomic.AddUint64(&c.totalRequests, 1)
	if status >= 500 {
		atomic.AddUint64(&c.errorRequests, 1)
	}
	if status == 429 {
		atomic.AddUint64(&c.rateLimited, 1)
	}
	atomic.AddUint64(&c.totalDurationMs, uint64(duration.Milliseconds()))
}

func (c *Collector) RunGenerated() {
	atomic.AddUint64(&c.runsGenerated, 1)
}

func (c *Collector) RunCommitted() {
	atomic.AddUint64(&c.runsCommitted, 1)
}

func (c *Collector) CommitConflict() {
	atomic.AddUint64(&c.commitConflicts, 1)
}

func (c *Collector) ValidationFailed() {
	atomic.AddUint64(&c.validationFailure, 1)
}

func (c *Collector) Snapshot() map[string]any {
	total := atomic.LoadUint64(&c.totalRequests)
	errs := atomic.LoadUint64(&c.errorRequests)
	limited := atomic.LoadUint64(&c.rateLimited)
	totalMs := atomic.LoadUint64(&c.totalDurationMs)
	avg := float64(0)
	if total > 0 {
		avg = float64(totalMs) / float64(total)
	}
	return map[string]any{
		"requestsTotal":          total,
		"errorsTotal":            errs,
		"rateLimitedTotal":       limited,
		"avgDurationMs":          avg,
		"totalDurationMs":        totalMs,
		"payrollRunsGenerated":   atomic.LoadUint64(&c.runsGenerated),
		"payrollRunsCommitted":   atomic.LoadUint64(&c.runsCommitted),
		"payrollCommitConflicts": atomic.LoadUint64(&c.commitConflicts),
		"payrollValidationFails": atomic.LoadUint64(&c.validationFailure),
	}
}
