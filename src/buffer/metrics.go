package buffer

import (
	"github.com/prometheus/client_golang/prometheus"

	"paged-db-golang/src/disk"
)

// Metrics counts buffer pool activity. Collectors are created unregistered so
// tests can construct pools freely; a process that wants them exported calls
// MustRegister once on its registry.
type Metrics struct {
	Hits       prometheus.Counter
	Misses     prometheus.Counter
	Evictions  prometheus.Counter
	WriteBacks prometheus.Counter
	Flushes    prometheus.Counter
}

func NewMetrics() *Metrics {
	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pageddb",
			Subsystem: "buffer",
			Name:      name,
			Help:      help,
		})
	}
	return &Metrics{
		Hits:       counter("hits_total", "Page requests served from a resident frame."),
		Misses:     counter("misses_total", "Page requests that had to read from disk."),
		Evictions:  counter("evictions_total", "Frames reclaimed from the replacer."),
		WriteBacks: counter("writebacks_total", "Dirty victim pages written back before reuse."),
		Flushes:    counter("flushes_total", "Explicit page flushes."),
	}
}

func (m *Metrics) MustRegister(reg prometheus.Registerer) {
	reg.MustRegister(m.Hits, m.Misses, m.Evictions, m.WriteBacks, m.Flushes)
}

// RegisterDiskCounters exports the disk manager's write and log-flush
// counters on the given registry.
func RegisterDiskCounters(reg prometheus.Registerer, dm *disk.DiskManager) {
	reg.MustRegister(prometheus.NewCounterFunc(prometheus.CounterOpts{
		Namespace: "pageddb",
		Subsystem: "disk",
		Name:      "page_writes_total",
		Help:      "Pages written to the database file.",
	}, func() float64 { return float64(dm.NumWrites()) }))
	reg.MustRegister(prometheus.NewCounterFunc(prometheus.CounterOpts{
		Namespace: "pageddb",
		Subsystem: "disk",
		Name:      "log_flushes_total",
		Help:      "Log appends persisted to the log file.",
	}, func() float64 { return float64(dm.NumFlushes()) }))
}
