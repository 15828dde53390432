package buffer

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"paged-db-golang/src/common"
)

// Flusher writes dirty pages back in the background so that eviction rarely
// has to. Each tick it checks the pool's dirty ratio; past the threshold it
// flushes every dirty page, throttled to a bytes-per-second budget so the
// write-back never monopolizes the disk worker.
type Flusher struct {
	pool       *BufferPoolManager
	interval   time.Duration
	dirtyRatio float64
	limiter    *rate.Limiter

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewFlusher(pool *BufferPoolManager, interval time.Duration, dirtyRatio float64, bytesPerSec int) *Flusher {
	ctx, cancel := context.WithCancel(context.Background())
	return &Flusher{
		pool:       pool,
		interval:   interval,
		dirtyRatio: dirtyRatio,
		limiter:    rate.NewLimiter(rate.Limit(bytesPerSec), common.PageSize),
		ctx:        ctx,
		cancel:     cancel,
	}
}

func (f *Flusher) Start() {
	f.wg.Add(1)
	go f.loop()
}

// Stop cancels the loop and waits for it to exit. A flush round in progress
// finishes its current page and bails out.
func (f *Flusher) Stop() {
	f.cancel()
	f.wg.Wait()
}

func (f *Flusher) loop() {
	defer f.wg.Done()
	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()
	for {
		select {
		case <-f.ctx.Done():
			return
		case <-ticker.C:
			f.flushRound()
		}
	}
}

func (f *Flusher) flushRound() {
	ids := f.pool.DirtyPageIds()
	if float64(len(ids)) < f.dirtyRatio*float64(f.pool.PoolSize()) {
		return
	}
	flushed := 0
	for _, id := range ids {
		if err := f.limiter.WaitN(f.ctx, common.PageSize); err != nil {
			return
		}
		if f.pool.FlushPage(id) {
			flushed++
		}
	}
	log.Debugf("Background flusher wrote %d pages back.", flushed)
}
