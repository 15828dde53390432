package table

import (
	"unsafe"

	"paged-db-golang/src/common"
)

// tablePage is a slotted record page, mapped straight onto a page buffer. The
// first SizePageHeader bytes stay untouched so the page-level LSN survives
// table writes. The slot array grows up from the header; record payloads grow
// down from the end of the page. Deleting a record tombstones its slot; the
// payload bytes are not reclaimed.
type tablePage struct {
	_            [common.SizePageHeader]byte
	numSlots     int32
	freeSpacePtr int32
	ptr          struct{}
}

type recordSlot struct {
	offset int32
	size   int32
}

const (
	tablePageHeaderSize = int32(common.SizePageHeader + 8)
	recordSlotSize      = int32(unsafe.Sizeof(recordSlot{}))
	maxSlots            = (common.PageSize - int(tablePageHeaderSize)) / int(recordSlotSize)

	// MaxRecordSize is the largest record a single page can hold.
	MaxRecordSize = common.PageSize - int(tablePageHeaderSize) - int(recordSlotSize)

	tombstone = int32(-1)
)

func tablePageFrom(data []byte) *tablePage {
	return (*tablePage)(unsafe.Pointer(&data[0]))
}

func (tp *tablePage) init() {
	tp.numSlots = 0
	tp.freeSpacePtr = common.PageSize
}

func (tp *tablePage) raw() []byte {
	return (*[common.PageSize]byte)(unsafe.Pointer(tp))[:]
}

func (tp *tablePage) slots() []recordSlot {
	return (*[maxSlots]recordSlot)(unsafe.Pointer(&tp.ptr))[:int(tp.numSlots)]
}

// freeSpaceForInsert is the payload size the next insert can still fit,
// accounting for the slot entry it would add.
func (tp *tablePage) freeSpaceForInsert() int32 {
	free := tp.freeSpacePtr - tablePageHeaderSize - (tp.numSlots+1)*recordSlotSize
	if free < 0 {
		return 0
	}
	return free
}

// insert places the record and returns its slot number, or false if the page
// cannot fit it.
func (tp *tablePage) insert(record []byte) (int, bool) {
	size := int32(len(record))
	if size > tp.freeSpaceForInsert() {
		return 0, false
	}
	tp.freeSpacePtr -= size
	copy(tp.raw()[tp.freeSpacePtr:], record)
	slotNum := int(tp.numSlots)
	tp.numSlots++
	tp.slots()[slotNum] = recordSlot{offset: tp.freeSpacePtr, size: size}
	return slotNum, true
}

// get returns a copy of the record, so the bytes stay valid after the page
// guard is released. False for an out-of-range or tombstoned slot.
func (tp *tablePage) get(slotNum int) ([]byte, bool) {
	if slotNum < 0 || slotNum >= int(tp.numSlots) {
		return nil, false
	}
	slot := tp.slots()[slotNum]
	if slot.size == tombstone {
		return nil, false
	}
	record := make([]byte, slot.size)
	copy(record, tp.raw()[slot.offset:slot.offset+slot.size])
	return record, true
}

// delete tombstones the slot. False for an out-of-range or already-deleted
// slot.
func (tp *tablePage) delete(slotNum int) bool {
	if slotNum < 0 || slotNum >= int(tp.numSlots) {
		return false
	}
	slots := tp.slots()
	if slots[slotNum].size == tombstone {
		return false
	}
	slots[slotNum].size = tombstone
	return true
}
