package buffer

import (
	"paged-db-golang/src/common"
	"paged-db-golang/src/page"
)

// BasicPageGuard couples a pinned page to the obligation to unpin it exactly
// once. Callers pair every acquisition with a deferred Release; a released
// guard is inert and safe to release again. DataMut marks the guard dirty, and
// the accumulated flag reaches the pool at release time.
type BasicPageGuard struct {
	bpm     *BufferPoolManager
	page    *page.Page
	isDirty bool
}

// NewPageGuarded is NewPage returning a guard instead of a bare page.
func (bpm *BufferPoolManager) NewPageGuarded() (*BasicPageGuard, error) {
	p, err := bpm.NewPage()
	if err != nil {
		return nil, err
	}
	return &BasicPageGuard{bpm: bpm, page: p}, nil
}

// FetchPageBasic is FetchPage returning a guard instead of a bare page.
func (bpm *BufferPoolManager) FetchPageBasic(pageId common.PageId) (*BasicPageGuard, error) {
	p, err := bpm.FetchPage(pageId)
	if err != nil {
		return nil, err
	}
	return &BasicPageGuard{bpm: bpm, page: p}, nil
}

// FetchPageRead fetches the page and returns a guard already holding its read
// latch.
func (bpm *BufferPoolManager) FetchPageRead(pageId common.PageId) (*ReadPageGuard, error) {
	g, err := bpm.FetchPageBasic(pageId)
	if err != nil {
		return nil, err
	}
	return g.UpgradeRead(), nil
}

// FetchPageWrite fetches the page and returns a guard already holding its
// write latch.
func (bpm *BufferPoolManager) FetchPageWrite(pageId common.PageId) (*WritePageGuard, error) {
	g, err := bpm.FetchPageBasic(pageId)
	if err != nil {
		return nil, err
	}
	return g.UpgradeWrite(), nil
}

func (g *BasicPageGuard) PageId() common.PageId {
	if g.page == nil {
		return common.InvalidPageId
	}
	return g.page.PageId()
}

// Data returns the page buffer for reading. The basic guard holds no latch;
// callers coordinating with writers upgrade instead.
func (g *BasicPageGuard) Data() []byte { return g.page.Data() }

// DataMut returns the page buffer for writing and marks the guard dirty.
func (g *BasicPageGuard) DataMut() []byte {
	g.isDirty = true
	return g.page.Data()
}

// Release unpins the page with the guard's dirty flag and neuters the guard.
// Releasing twice is a no-op.
func (g *BasicPageGuard) Release() {
	if g.page == nil {
		return
	}
	g.bpm.UnpinPage(g.page.PageId(), g.isDirty)
	g.page = nil
	g.isDirty = false
}

// UpgradeRead converts the guard into a ReadPageGuard. The pin carries over
// untouched, and the latch is taken before the basic guard is neutered, so the
// page can be neither evicted nor mutated in between.
func (g *BasicPageGuard) UpgradeRead() *ReadPageGuard {
	g.page.RLock()
	rg := &ReadPageGuard{guard: BasicPageGuard{bpm: g.bpm, page: g.page, isDirty: g.isDirty}}
	g.page = nil
	g.isDirty = false
	return rg
}

// UpgradeWrite converts the guard into a WritePageGuard, preserving the pin
// the same way UpgradeRead does.
func (g *BasicPageGuard) UpgradeWrite() *WritePageGuard {
	g.page.Lock()
	wg := &WritePageGuard{guard: BasicPageGuard{bpm: g.bpm, page: g.page, isDirty: g.isDirty}}
	g.page = nil
	g.isDirty = false
	return wg
}

// ReadPageGuard holds the page's read latch for its lifetime: the content
// cannot change while the guard lives.
type ReadPageGuard struct {
	guard BasicPageGuard
}

func (g *ReadPageGuard) PageId() common.PageId { return g.guard.PageId() }

func (g *ReadPageGuard) Data() []byte { return g.guard.Data() }

// Release drops the read latch, then unpins. The order matters: after the
// unpin the frame may be evicted and reassigned at any moment.
func (g *ReadPageGuard) Release() {
	if g.guard.page == nil {
		return
	}
	g.guard.page.RUnlock()
	g.guard.Release()
}

// WritePageGuard holds the page's write latch for its lifetime: no other
// reader or writer can touch the content while the guard lives.
type WritePageGuard struct {
	guard BasicPageGuard
}

func (g *WritePageGuard) PageId() common.PageId { return g.guard.PageId() }

func (g *WritePageGuard) Data() []byte { return g.guard.Data() }

func (g *WritePageGuard) DataMut() []byte { return g.guard.DataMut() }

// Lsn reads the page header's log sequence number.
func (g *WritePageGuard) Lsn() common.Lsn { return g.guard.page.Lsn() }

// SetLsn stamps the page header's log sequence number and marks the guard
// dirty.
func (g *WritePageGuard) SetLsn(lsn common.Lsn) {
	g.guard.isDirty = true
	g.guard.page.SetLsn(lsn)
}

// Release drops the write latch, then unpins, mirroring ReadPageGuard.
func (g *WritePageGuard) Release() {
	if g.guard.page == nil {
		return
	}
	g.guard.page.Unlock()
	g.guard.Release()
}
