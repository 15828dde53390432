package table

import (
	"unsafe"

	"paged-db-golang/src/common"
)

// heapHeader is the heap file's directory, mapped onto the header page. Like
// tablePage it skips the reserved page header region. One entry per data page,
// carrying the page's remaining insert capacity so Insert can pick a page
// without fetching them all.
type heapHeader struct {
	_        [common.SizePageHeader]byte
	numPages int32
	ptr      struct{}
}

type pageInfo struct {
	pageId    common.PageId
	freeSpace int32
}

const (
	heapHeaderSize = common.SizePageHeader + 4
	pageInfoSize   = int(unsafe.Sizeof(pageInfo{}))
	maxPageInfos   = (common.PageSize - heapHeaderSize) / pageInfoSize
)

func heapHeaderFrom(data []byte) *heapHeader {
	return (*heapHeader)(unsafe.Pointer(&data[0]))
}

func (hdr *heapHeader) init() {
	hdr.numPages = 0
}

func (hdr *heapHeader) pageInfoList() []pageInfo {
	return (*[maxPageInfos]pageInfo)(unsafe.Pointer(&hdr.ptr))[:int(hdr.numPages)]
}

func (hdr *heapHeader) getPageInfo(pageId common.PageId) (pageInfo, bool) {
	for _, info := range hdr.pageInfoList() {
		if info.pageId == pageId {
			return info, true
		}
	}
	return pageInfo{}, false
}

func (hdr *heapHeader) setPageInfo(pageId common.PageId, freeSpace int32) bool {
	infos := hdr.pageInfoList()
	for i := range infos {
		if infos[i].pageId == pageId {
			infos[i].freeSpace = freeSpace
			return true
		}
	}
	return false
}

// pushPageInfo registers a new data page. False once the directory is full.
func (hdr *heapHeader) pushPageInfo(info pageInfo) bool {
	if int(hdr.numPages) >= maxPageInfos {
		return false
	}
	hdr.numPages++
	hdr.pageInfoList()[int(hdr.numPages)-1] = info
	return true
}

// findPage returns the first data page with at least minSpace insert capacity.
func (hdr *heapHeader) findPage(minSpace int32) (common.PageId, bool) {
	for _, info := range hdr.pageInfoList() {
		if info.freeSpace >= minSpace {
			return info.pageId, true
		}
	}
	return common.InvalidPageId, false
}
