// Command pageddb runs the storage engine as a small daemon: it opens the
// database file, wires the buffer pool, background flusher, log manager and a
// table heap together, exposes Prometheus metrics, and exercises the heap
// with a sample workload until it is signalled to stop.
package main

import (
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"paged-db-golang/src/buffer"
	"paged-db-golang/src/config"
	"paged-db-golang/src/disk"
	"paged-db-golang/src/table"
	"paged-db-golang/src/wal"
)

func main() {
	configPath := flag.String("config", "", "path to the YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.WithError(err).Fatalf("Cannot load configuration.")
	}
	level, err := log.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.WithError(err).Fatalf("Unknown log level %q.", cfg.LogLevel)
	}
	log.SetLevel(level)

	_, err = os.Stat(cfg.DBFile)
	isNew := os.IsNotExist(err)

	diskManager := disk.NewDiskManager(cfg.DBFile)
	pool := buffer.NewBufferPoolManager(cfg.PoolSize, diskManager, cfg.ReplacerK)
	logManager := wal.NewLogManager(diskManager)

	registry := prometheus.NewRegistry()
	pool.Metrics().MustRegister(registry)
	buffer.RegisterDiskCounters(registry, diskManager)
	http.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	go func() {
		log.Infof("Serving metrics on %s.", cfg.MetricsAddr)
		if err := http.ListenAndServe(cfg.MetricsAddr, nil); err != nil {
			log.WithError(err).Warnf("Metrics server stopped.")
		}
	}()

	var flusher *buffer.Flusher
	if cfg.Flusher.Enabled {
		flusher = buffer.NewFlusher(pool,
			time.Duration(cfg.Flusher.IntervalMs)*time.Millisecond,
			cfg.Flusher.DirtyRatio,
			cfg.Flusher.RateBytesPerSec)
		flusher.Start()
	}

	heap, err := table.NewTableHeap(pool, isNew)
	if err != nil {
		log.WithError(err).Fatalf("Cannot open table heap.")
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	workloadDone := make(chan struct{})
	go runWorkload(heap, logManager, stop, workloadDone)
	<-workloadDone

	// Teardown order: flusher first so it stops issuing I/O, then the pool
	// (flush + scheduler join), the log, and finally the files.
	if flusher != nil {
		flusher.Stop()
	}
	pool.Close()
	if err := logManager.Flush(); err != nil {
		log.WithError(err).Warnf("Cannot flush log on shutdown.")
	}
	if err := diskManager.Close(); err != nil {
		log.WithError(err).Warnf("Cannot close database files.")
	}
	log.Infof("Shut down cleanly.")
}

// runWorkload inserts and reads back records in a loop, logging one record per
// insert, until a signal arrives.
func runWorkload(heap *table.TableHeap, logManager *wal.LogManager, stop <-chan os.Signal, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	seq := 0
	for {
		select {
		case sig := <-stop:
			log.Infof("Received %s, shutting down.", sig)
			return
		case <-ticker.C:
			record := []byte(fmt.Sprintf("sample record %d at %s", seq, time.Now().Format(time.RFC3339Nano)))
			rid, err := heap.Insert(record)
			if err != nil {
				log.WithError(err).Warnf("Insert failed.")
				continue
			}
			logManager.AppendRecord(record)
			got, err := heap.Get(rid)
			if err != nil {
				log.WithError(err).Warnf("Cannot read back record %s.", rid)
				continue
			}
			log.Debugf("Inserted %d bytes at %s.", len(got), rid)
			seq++
			if seq%100 == 0 {
				if err := logManager.Flush(); err != nil {
					log.WithError(err).Warnf("Cannot flush log.")
				}
			}
		}
	}
}
