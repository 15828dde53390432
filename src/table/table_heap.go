// Package table stores variable-length records in a heap of slotted pages. It
// is deliberately built on nothing but the buffer pool's guard API: all
// latching and pinning runs through Read/Write page guards.
package table

import (
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"paged-db-golang/src/buffer"
	"paged-db-golang/src/common"
)

// The header page is the first page the heap allocates, so on a fresh pool it
// always gets page id 0.
const heapHeaderPageId = common.PageId(0)

var ErrNotFound = errors.New("Record not found.")

type TableHeap struct {
	pool *buffer.BufferPoolManager
}

// NewTableHeap opens a heap on the pool. With isNew the header page is
// allocated and initialized; otherwise it is assumed to exist on disk already.
func NewTableHeap(pool *buffer.BufferPoolManager, isNew bool) (*TableHeap, error) {
	th := &TableHeap{pool: pool}
	if !isNew {
		return th, nil
	}
	g, err := pool.NewPageGuarded()
	if err != nil {
		return nil, errors.Wrap(err, "Cannot create heap header page.")
	}
	if g.PageId() != heapHeaderPageId {
		log.Fatalf("Heap header page got id %d, want %d.", g.PageId(), heapHeaderPageId)
	}
	wg := g.UpgradeWrite()
	heapHeaderFrom(wg.DataMut()).init()
	wg.Release()
	return th, nil
}

// Insert stores the record and returns its RID. A record that can never fit a
// page is rejected up front.
func (th *TableHeap) Insert(record []byte) (common.RID, error) {
	if len(record) == 0 || len(record) > MaxRecordSize {
		return common.RID{}, errors.Errorf("Record of %d bytes cannot be stored.", len(record))
	}
	for {
		pageId, found, err := th.findPageWithSpace(int32(len(record)))
		if err != nil {
			return common.RID{}, err
		}
		if !found {
			return th.insertIntoNewPage(record)
		}
		rid, ok, err := th.insertIntoPage(record, pageId)
		if err != nil {
			return common.RID{}, err
		}
		if ok {
			return rid, nil
		}
		// The page filled up between the header scan and the insert. The
		// header was refreshed with the real capacity, so retry.
		log.Debugf("Insert of %d bytes into page %d lost the race, retrying.", len(record), pageId)
	}
}

// Get returns a copy of the record, or ErrNotFound.
func (th *TableHeap) Get(rid common.RID) ([]byte, error) {
	known, err := th.knownPage(rid.PageId)
	if err != nil {
		return nil, err
	}
	if !known {
		return nil, errors.Wrapf(ErrNotFound, "Page %d is not part of the heap.", rid.PageId)
	}
	rg, err := th.pool.FetchPageRead(rid.PageId)
	if err != nil {
		return nil, errors.Wrapf(err, "Cannot fetch table page %d.", rid.PageId)
	}
	record, ok := tablePageFrom(rg.Data()).get(rid.SlotNum)
	rg.Release()
	if !ok {
		return nil, errors.Wrapf(ErrNotFound, "Slot %d of page %d holds no record.", rid.SlotNum, rid.PageId)
	}
	return record, nil
}

// Delete removes the record, or returns ErrNotFound.
func (th *TableHeap) Delete(rid common.RID) error {
	known, err := th.knownPage(rid.PageId)
	if err != nil {
		return err
	}
	if !known {
		return errors.Wrapf(ErrNotFound, "Page %d is not part of the heap.", rid.PageId)
	}
	wg, err := th.pool.FetchPageWrite(rid.PageId)
	if err != nil {
		return errors.Wrapf(err, "Cannot fetch table page %d.", rid.PageId)
	}
	ok := tablePageFrom(wg.DataMut()).delete(rid.SlotNum)
	wg.Release()
	if !ok {
		return errors.Wrapf(ErrNotFound, "Slot %d of page %d holds no record.", rid.SlotNum, rid.PageId)
	}
	return nil
}

func (th *TableHeap) knownPage(pageId common.PageId) (bool, error) {
	rg, err := th.pool.FetchPageRead(heapHeaderPageId)
	if err != nil {
		return false, errors.Wrap(err, "Cannot fetch heap header page.")
	}
	_, known := heapHeaderFrom(rg.Data()).getPageInfo(pageId)
	rg.Release()
	return known, nil
}

func (th *TableHeap) findPageWithSpace(size int32) (common.PageId, bool, error) {
	rg, err := th.pool.FetchPageRead(heapHeaderPageId)
	if err != nil {
		return common.InvalidPageId, false, errors.Wrap(err, "Cannot fetch heap header page.")
	}
	pageId, found := heapHeaderFrom(rg.Data()).findPage(size)
	rg.Release()
	return pageId, found, nil
}

// insertIntoPage inserts into an existing data page and refreshes its header
// entry. The data page's write guard is held across the header update; the
// lock order is always data page first, header second.
func (th *TableHeap) insertIntoPage(record []byte, pageId common.PageId) (common.RID, bool, error) {
	wg, err := th.pool.FetchPageWrite(pageId)
	if err != nil {
		return common.RID{}, false, errors.Wrapf(err, "Cannot fetch table page %d.", pageId)
	}
	tp := tablePageFrom(wg.DataMut())
	slotNum, ok := tp.insert(record)
	freeSpace := tp.freeSpaceForInsert()

	hg, err := th.pool.FetchPageWrite(heapHeaderPageId)
	if err != nil {
		wg.Release()
		return common.RID{}, false, errors.Wrap(err, "Cannot fetch heap header page.")
	}
	heapHeaderFrom(hg.DataMut()).setPageInfo(pageId, freeSpace)
	hg.Release()
	wg.Release()

	if !ok {
		return common.RID{}, false, nil
	}
	return common.RID{PageId: pageId, SlotNum: slotNum}, true, nil
}

func (th *TableHeap) insertIntoNewPage(record []byte) (common.RID, error) {
	g, err := th.pool.NewPageGuarded()
	if err != nil {
		return common.RID{}, errors.Wrap(err, "Cannot allocate new table page.")
	}
	wg := g.UpgradeWrite()
	tp := tablePageFrom(wg.DataMut())
	tp.init()
	slotNum, ok := tp.insert(record)
	if !ok {
		log.Fatalf("Cannot insert %d bytes into a fresh page.", len(record))
	}
	pageId := wg.PageId()
	freeSpace := tp.freeSpaceForInsert()

	hg, err := th.pool.FetchPageWrite(heapHeaderPageId)
	if err != nil {
		wg.Release()
		return common.RID{}, errors.Wrap(err, "Cannot fetch heap header page.")
	}
	if !heapHeaderFrom(hg.DataMut()).pushPageInfo(pageInfo{pageId: pageId, freeSpace: freeSpace}) {
		log.Fatalf("Heap header page is full, cannot register page %d.", pageId)
	}
	hg.Release()
	wg.Release()
	return common.RID{PageId: pageId, SlotNum: slotNum}, nil
}
