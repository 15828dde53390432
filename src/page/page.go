package page

import (
	"encoding/binary"
	"sync"

	"github.com/ncw/directio"

	"paged-db-golang/src/common"
)

// Page wraps one buffer-pool frame's worth of data plus the bookkeeping the
// pool needs: page id, pin count and dirty flag. The embedded RWMutex is the
// page latch and guards the data buffer only; the metadata fields have their
// own mutex so pin/unpin never contend with content access.
type Page struct {
	sync.RWMutex

	data []byte

	mu       sync.Mutex
	pageId   common.PageId
	pinCount int
	isDirty  bool
}

// New allocates a zeroed page with an aligned buffer, so the same buffer can
// be handed directly to the O_DIRECT database file.
func New() *Page {
	return &Page{
		data:   directio.AlignedBlock(common.PageSize),
		pageId: common.InvalidPageId,
	}
}

// Data returns the page buffer. Callers synchronize access through the page
// latch (Lock/RLock on the Page itself).
func (p *Page) Data() []byte { return p.data }

func (p *Page) PageId() common.PageId {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pageId
}

func (p *Page) SetPageId(pageId common.PageId) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pageId = pageId
}

func (p *Page) PinCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pinCount
}

// Pin increments the pin count and returns the new value.
func (p *Page) Pin() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pinCount++
	return p.pinCount
}

// Unpin decrements the pin count and returns the new value. The pool checks
// PinCount before calling, so the count never goes negative.
func (p *Page) Unpin() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pinCount--
	return p.pinCount
}

func (p *Page) IsDirty() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.isDirty
}

func (p *Page) SetDirty(isDirty bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.isDirty = isDirty
}

// Lsn reads the log sequence number stored in the page header. The caller
// holds the page latch.
func (p *Page) Lsn() common.Lsn {
	return common.Lsn(binary.LittleEndian.Uint64(p.data[common.OffsetLsn:]))
}

// SetLsn stores the log sequence number in the page header. The caller holds
// the page latch.
func (p *Page) SetLsn(lsn common.Lsn) {
	binary.LittleEndian.PutUint64(p.data[common.OffsetLsn:], uint64(lsn))
}

// ResetData zeroes the buffer. The caller holds the page latch.
func (p *Page) ResetData() {
	for i := range p.data {
		p.data[i] = 0
	}
}

// Reset returns the page to its just-constructed state: zero buffer, no id,
// unpinned, clean. Only called while no other holder can reach the page.
func (p *Page) Reset() {
	p.Lock()
	p.ResetData()
	p.Unlock()

	p.mu.Lock()
	p.pageId = common.InvalidPageId
	p.pinCount = 0
	p.isDirty = false
	p.mu.Unlock()
}
