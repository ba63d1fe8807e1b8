// Package profiler - Operation timing for forward passes.
package profiler

import (
	"fmt"
	"runtime"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

const defaultMaxSamples = 600

// Profiler tracks timing statistics per named operation. It is safe for
// concurrent use.
type Profiler struct {
	mu         sync.RWMutex
	startTime  time.Time
	maxSamples int
	operations map[string]*timeTracker
}

// timeTracker keeps a sliding window of durations for one operation.
type timeTracker struct {
	durations []time.Duration
	totalTime time.Duration
	minTime   time.Duration
	maxTime   time.Duration
	count     int64
}

// Stats is a snapshot of one operation's timings over the sample window.
type Stats struct {
	Name string
	// Count is the number of recorded runs since the last reset, including
	// runs that fell out of the window.
	Count int64
	// Samples is the number of runs in the window.
	Samples int
	Mean    time.Duration
	Min     time.Duration
	Max     time.Duration
}

// New creates a profiler keeping at most maxSamples durations per operation.
//
// Arguments:
// - maxSamples: The window size; values <= 0 select 600.
//
// Returns:
// - A profiler with no recorded operations.
func New(maxSamples int) *Profiler {
	if maxSamples <= 0 {
		maxSamples = defaultMaxSamples
	}
	return &Profiler{
		startTime:  time.Now(),
		maxSamples: maxSamples,
		operations: make(map[string]*timeTracker),
	}
}

// StartOperation begins timing an operation.
//
// Arguments:
// - name: The name of the operation to track
//
// Returns:
// - A function to call when the operation completes
func (p *Profiler) StartOperation(name string) func() {
	start := time.Now()
	return func() {
		p.Record(name, time.Since(start))
	}
}

// Record adds one duration for name.
func (p *Profiler) Record(name string, duration time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	tracker, exists := p.operations[name]
	if !exists {
		tracker = &timeTracker{}
		p.operations[name] = tracker
	}

	tracker.durations = append(tracker.durations, duration)
	tracker.totalTime += duration
	if len(tracker.durations) > p.maxSamples {
		tracker.totalTime -= tracker.durations[0]
		tracker.durations = tracker.durations[1:]
	}
	tracker.count++

	// min and max are recomputed over the window so they age out with it.
	tracker.minTime, tracker.maxTime = tracker.durations[0], tracker.durations[0]
	for _, d := range tracker.durations[1:] {
		if d < tracker.minTime {
			tracker.minTime = d
		}
		if d > tracker.maxTime {
			tracker.maxTime = d
		}
	}
}

// Stats returns the statistics of name and whether it was recorded.
func (p *Profiler) Stats(name string) (Stats, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	tracker, ok := p.operations[name]
	if !ok {
		return Stats{}, false
	}
	return tracker.stats(name), true
}

// Snapshot returns the statistics of every operation sorted by name.
func (p *Profiler) Snapshot() []Stats {
	p.mu.RLock()
	defer p.mu.RUnlock()

	stats := make([]Stats, 0, len(p.operations))
	for name, tracker := range p.operations {
		stats = append(stats, tracker.stats(name))
	}
	sort.Slice(stats, func(i, j int) bool { return stats[i].Name < stats[j].Name })
	return stats
}

// Reset drops every recorded operation.
func (p *Profiler) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.operations = make(map[string]*timeTracker)
	p.startTime = time.Now()
}

// Report logs the operation timings and memory usage.
func (p *Profiler) Report(logger *zap.Logger) {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	p.mu.RLock()
	uptime := time.Since(p.startTime)
	p.mu.RUnlock()

	logger.Info("profiler report",
		zap.Duration("uptime", uptime.Truncate(time.Millisecond)),
		zap.Int("goroutines", runtime.NumGoroutine()),
		zap.String("heap_alloc", formatBytes(mem.HeapAlloc)),
		zap.String("sys", formatBytes(mem.Sys)),
		zap.Uint32("gc_cycles", mem.NumGC))

	for _, s := range p.Snapshot() {
		logger.Info("operation timing",
			zap.String("operation", s.Name),
			zap.Duration("avg", s.Mean.Truncate(time.Microsecond)),
			zap.Duration("min", s.Min.Truncate(time.Microsecond)),
			zap.Duration("max", s.Max.Truncate(time.Microsecond)),
			zap.Int64("count", s.Count))
	}
}

func (t *timeTracker) stats(name string) Stats {
	s := Stats{
		Name:    name,
		Count:   t.count,
		Samples: len(t.durations),
		Min:     t.minTime,
		Max:     t.maxTime,
	}
	if len(t.durations) > 0 {
		s.Mean = t.totalTime / time.Duration(len(t.durations))
	}
	return s
}

// formatBytes formats byte counts in human-readable format.
func formatBytes(bytes uint64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
