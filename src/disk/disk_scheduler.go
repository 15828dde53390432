package disk

import (
	log "github.com/sirupsen/logrus"

	"paged-db-golang/src/common"
	"paged-db-golang/src/page"
)

const requestQueueDepth = 64

// Request asks the scheduler's worker to move one page between memory and
// disk. PageId is the target slot in the database file, captured by value so
// a later reassignment of the frame cannot redirect a queued transfer. Done
// is closed by the worker once the transfer completed; callers that need
// synchronous semantics block on it.
type Request struct {
	IsWrite bool
	PageId  common.PageId
	Page    *page.Page
	Done    chan struct{}
}

// DiskScheduler serializes page I/O through a single background worker
// goroutine fed by a FIFO request queue. Requests from any number of
// goroutines complete strictly in the order they were scheduled.
type DiskScheduler struct {
	diskManager *DiskManager
	requests    chan *Request
	workerDone  chan struct{}
}

// NewDiskScheduler starts the background worker. The caller keeps ownership
// of the disk manager and closes it after the scheduler.
func NewDiskScheduler(diskManager *DiskManager) *DiskScheduler {
	ds := &DiskScheduler{
		diskManager: diskManager,
		requests:    make(chan *Request, requestQueueDepth),
		workerDone:  make(chan struct{}),
	}
	go ds.workerLoop()
	return ds
}

// Schedule enqueues a request. Scheduling only blocks while the queue is
// saturated. Scheduling after Close is a programmer error.
func (ds *DiskScheduler) Schedule(r *Request) {
	ds.requests <- r
}

// Close stops the scheduler: the closed channel is the shutdown sentinel, the
// worker drains every queued request before exiting, and Close returns only
// after the worker is gone. No scheduled request is ever abandoned.
func (ds *DiskScheduler) Close() {
	close(ds.requests)
	<-ds.workerDone
}

func (ds *DiskScheduler) workerLoop() {
	for r := range ds.requests {
		if r.IsWrite {
			r.Page.RLock()
			err := ds.diskManager.WritePage(r.PageId, r.Page.Data())
			r.Page.RUnlock()
			if err != nil {
				log.WithError(err).Fatalf("Cannot write page %d back.", r.PageId)
			}
		} else {
			r.Page.Lock()
			err := ds.diskManager.ReadPage(r.PageId, r.Page.Data())
			r.Page.Unlock()
			if err != nil {
				log.WithError(err).Fatalf("Cannot read page %d from disk.", r.PageId)
			}
		}
		close(r.Done)
	}
	close(ds.workerDone)
}
