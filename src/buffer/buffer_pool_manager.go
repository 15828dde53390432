package buffer

import (
	"container/list"
	"sync"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"paged-db-golang/src/common"
	"paged-db-golang/src/disk"
	"paged-db-golang/src/page"
)

// ErrPoolFull is returned when every frame is pinned and none can be evicted.
// Callers treat it as a normal outcome: unpin something and retry.
var ErrPoolFull = errors.New("Buffer pool is full.")

// BufferPoolManager owns a fixed array of frames and moves pages between them
// and disk on demand. The pool mutex guards the page table, the free list, the
// in-flight-load map and the id counter; it is never held across an I/O wait.
// Disk requests are enqueued while the mutex is held and awaited after it is
// released, so the scheduler's FIFO order guarantees that a victim's write-back
// always drains before any read that could refill its frame.
type BufferPoolManager struct {
	size      int
	pages     []*page.Page
	replacer  *LRUKReplacer
	scheduler *disk.DiskScheduler
	metrics   *Metrics

	mu         sync.Mutex
	nextPageId common.PageId
	pageTable  map[common.PageId]int
	freeList   list.List
	// loads holds one channel per page whose frame is still being filled
	// (zeroed for a new page, read from disk for a fetched one). Concurrent
	// fetchers of the same id block on it instead of issuing a second read.
	loads map[common.PageId]chan struct{}
	// pendingWrites[frameId] is the Done channel of the last write enqueued
	// for that frame (flush or victim write-back). Reads are ordered behind
	// it by the scheduler's FIFO, but NewPage zeroes a reclaimed frame in
	// memory without going through the queue, so it must wait on this channel
	// first or the queued write would persist the zeroed buffer into the old
	// page's disk slot.
	pendingWrites []chan struct{}
}

func NewBufferPoolManager(size int, diskManager *disk.DiskManager, replacerK int) *BufferPoolManager {
	bpm := &BufferPoolManager{
		size:          size,
		pages:         make([]*page.Page, size),
		replacer:      NewLRUKReplacer(size, replacerK),
		scheduler:     disk.NewDiskScheduler(diskManager),
		metrics:       NewMetrics(),
		pageTable:     make(map[common.PageId]int),
		loads:         make(map[common.PageId]chan struct{}),
		pendingWrites: make([]chan struct{}, size),
	}
	for i := 0; i < size; i++ {
		bpm.pages[i] = page.New()
		bpm.freeList.PushBack(i)
	}
	// Ids already present in the file stay reserved across reopens.
	numPages, err := diskManager.NumPages()
	if err != nil {
		log.WithError(err).Fatalf("Cannot determine database file size.")
	}
	bpm.nextPageId = common.PageId(numPages)
	return bpm
}

// Close flushes every dirty page and stops the scheduler. The caller closes
// the disk manager afterwards.
func (bpm *BufferPoolManager) Close() {
	bpm.FlushAllPages()
	bpm.scheduler.Close()
}

func (bpm *BufferPoolManager) PoolSize() int { return bpm.size }

func (bpm *BufferPoolManager) Metrics() *Metrics { return bpm.metrics }

// NewPage allocates a fresh page id, binds it to a frame and returns the page
// pinned to 1. Fails with ErrPoolFull when no frame is free or evictable.
func (bpm *BufferPoolManager) NewPage() (*page.Page, error) {
	bpm.mu.Lock()
	frameId, pendingWrite, found := bpm.findAvailableFrame()
	if !found {
		bpm.mu.Unlock()
		log.Warnf("Buffer pool is full.")
		return nil, ErrPoolFull
	}
	pageId := bpm.allocatePage()
	p := bpm.pages[frameId]
	p.SetPageId(pageId)
	p.Pin()
	bpm.pageTable[pageId] = frameId
	bpm.replacer.RecordAccess(frameId)
	bpm.replacer.SetEvictable(frameId, false)
	load := make(chan struct{})
	bpm.loads[pageId] = load
	bpm.mu.Unlock()

	// Zeroing bypasses the disk queue, so any write still queued for this
	// frame must land first: otherwise it would persist the zeroed buffer
	// into the old page's disk slot.
	if pendingWrite != nil {
		<-pendingWrite
	}
	p.Lock()
	p.ResetData()
	p.Unlock()
	bpm.finishLoad(pageId, load)
	return p, nil
}

// FetchPage returns the page pinned, reading it from disk if it is not
// resident. Fails with ErrPoolFull when a miss finds no usable frame.
func (bpm *BufferPoolManager) FetchPage(pageId common.PageId) (*page.Page, error) {
	bpm.mu.Lock()
	if frameId, ok := bpm.pageTable[pageId]; ok {
		p := bpm.pages[frameId]
		p.Pin()
		bpm.replacer.RecordAccess(frameId)
		bpm.replacer.SetEvictable(frameId, false)
		load := bpm.loads[pageId]
		bpm.mu.Unlock()
		bpm.metrics.Hits.Inc()
		if load != nil {
			<-load
		}
		return p, nil
	}

	frameId, pendingWrite, found := bpm.findAvailableFrame()
	if !found {
		bpm.mu.Unlock()
		log.Warnf("Buffer pool is full.")
		return nil, ErrPoolFull
	}
	p := bpm.pages[frameId]
	p.SetPageId(pageId)
	p.Pin()
	bpm.pageTable[pageId] = frameId
	bpm.replacer.RecordAccess(frameId)
	bpm.replacer.SetEvictable(frameId, false)
	// Enqueued under the mutex, after any victim write-back: FIFO keeps the
	// two from racing even though both run after we unlock.
	read := &disk.Request{PageId: pageId, Page: p, Done: make(chan struct{})}
	bpm.scheduler.Schedule(read)
	load := make(chan struct{})
	bpm.loads[pageId] = load
	bpm.mu.Unlock()
	bpm.metrics.Misses.Inc()

	if pendingWrite != nil {
		<-pendingWrite
	}
	<-read.Done
	bpm.finishLoad(pageId, load)
	return p, nil
}

// UnpinPage drops one pin and ORs the dirty flag. The frame becomes evictable
// exactly when the pin count reaches zero. Returns false, without touching
// anything, if the page is not resident or was not pinned.
func (bpm *BufferPoolManager) UnpinPage(pageId common.PageId, isDirty bool) bool {
	bpm.mu.Lock()
	defer bpm.mu.Unlock()

	frameId, ok := bpm.pageTable[pageId]
	if !ok {
		log.Warnf("Trying to unpin page %d, but the page is not in the buffer.", pageId)
		return false
	}
	p := bpm.pages[frameId]
	if p.PinCount() == 0 {
		log.Warnf("Trying to unpin page %d, but its pin count is already zero.", pageId)
		return false
	}
	if isDirty {
		p.SetDirty(true)
	}
	if p.Unpin() == 0 {
		bpm.replacer.SetEvictable(frameId, true)
	}
	return true
}

// FlushPage writes the page to disk regardless of its dirty flag and waits for
// the write to complete. Does not unpin. Returns false if the page is not
// resident. The dirty flag is cleared when the write is enqueued, so an unpin
// that re-dirties the page mid-flush is never lost.
func (bpm *BufferPoolManager) FlushPage(pageId common.PageId) bool {
	bpm.mu.Lock()
	frameId, ok := bpm.pageTable[pageId]
	if !ok {
		bpm.mu.Unlock()
		log.Warnf("Page %d is not in the buffer. Cannot flush page.", pageId)
		return false
	}
	p := bpm.pages[frameId]
	p.SetDirty(false)
	r := &disk.Request{IsWrite: true, PageId: pageId, Page: p, Done: make(chan struct{})}
	bpm.scheduler.Schedule(r)
	bpm.pendingWrites[frameId] = r.Done
	bpm.mu.Unlock()
	bpm.metrics.Flushes.Inc()

	<-r.Done
	return true
}

// FlushAllPages flushes every resident page whose dirty flag is set and waits
// for all of the writes.
func (bpm *BufferPoolManager) FlushAllPages() {
	bpm.mu.Lock()
	var pending []chan struct{}
	for pageId, frameId := range bpm.pageTable {
		p := bpm.pages[frameId]
		if !p.IsDirty() {
			continue
		}
		p.SetDirty(false)
		r := &disk.Request{IsWrite: true, PageId: pageId, Page: p, Done: make(chan struct{})}
		bpm.scheduler.Schedule(r)
		bpm.pendingWrites[frameId] = r.Done
		bpm.metrics.Flushes.Inc()
		pending = append(pending, r.Done)
	}
	bpm.mu.Unlock()

	for _, done := range pending {
		<-done
	}
}

// DeletePage drops a resident page without writing it back; its content is
// discarded and its frame returns to the free list. Returns true if the page
// is absent (nothing to do), false if it is still pinned. The page id itself
// is never handed out again.
func (bpm *BufferPoolManager) DeletePage(pageId common.PageId) bool {
	bpm.mu.Lock()
	defer bpm.mu.Unlock()

	frameId, ok := bpm.pageTable[pageId]
	if !ok {
		return true
	}
	p := bpm.pages[frameId]
	if p.PinCount() > 0 {
		log.Warnf("Page %d is still pinned. Cannot delete page.", pageId)
		return false
	}
	delete(bpm.pageTable, pageId)
	bpm.replacer.Remove(frameId)
	bpm.freeList.PushBack(frameId)
	p.Reset()
	bpm.deallocatePage(pageId)
	return true
}

// DirtyPageIds snapshots the ids of resident dirty pages that are not pinned,
// for the background flusher. Pinned pages are left to their holders: a pin
// holder may be sitting on the page latch, and a queued write behind that
// latch would stall the disk worker.
func (bpm *BufferPoolManager) DirtyPageIds() []common.PageId {
	bpm.mu.Lock()
	defer bpm.mu.Unlock()

	var ids []common.PageId
	for pageId, frameId := range bpm.pageTable {
		p := bpm.pages[frameId]
		if p.IsDirty() && p.PinCount() == 0 {
			ids = append(ids, pageId)
		}
	}
	return ids
}

// findAvailableFrame hands out a frame from the free list, or evicts one. A
// dirty victim's write-back is enqueued here, under the pool mutex. The
// returned channel is the last write still queued for the frame: the fresh
// write-back, or an earlier explicit flush whose dirty-clear made the victim
// look clean. The caller must wait on it before touching the buffer outside
// the disk queue. The caller holds the pool mutex.
func (bpm *BufferPoolManager) findAvailableFrame() (int, chan struct{}, bool) {
	if bpm.freeList.Len() > 0 {
		elem := bpm.freeList.Front()
		bpm.freeList.Remove(elem)
		frameId := elem.Value.(int)
		return frameId, bpm.pendingWrites[frameId], true
	}
	frameId, found := bpm.replacer.Evict()
	if !found {
		return 0, nil, false
	}
	bpm.metrics.Evictions.Inc()
	p := bpm.pages[frameId]
	oldPageId := p.PageId()
	if p.IsDirty() {
		r := &disk.Request{IsWrite: true, PageId: oldPageId, Page: p, Done: make(chan struct{})}
		bpm.scheduler.Schedule(r)
		bpm.pendingWrites[frameId] = r.Done
		p.SetDirty(false)
		bpm.metrics.WriteBacks.Inc()
	}
	delete(bpm.pageTable, oldPageId)
	return frameId, bpm.pendingWrites[frameId], true
}

// finishLoad publishes a filled frame: waiters blocked on the load channel may
// use the page once it is closed.
func (bpm *BufferPoolManager) finishLoad(pageId common.PageId, load chan struct{}) {
	bpm.mu.Lock()
	delete(bpm.loads, pageId)
	bpm.mu.Unlock()
	close(load)
}

// allocatePage hands out the next page id. Ids grow monotonically and are
// never reused, even after deletion. The caller holds the pool mutex.
func (bpm *BufferPoolManager) allocatePage() common.PageId {
	pageId := bpm.nextPageId
	bpm.nextPageId++
	return pageId
}

// deallocatePage is where a disk-side allocator would reclaim the id. There is
// none, so this is a documented no-op.
func (bpm *BufferPoolManager) deallocatePage(pageId common.PageId) {
}
