package common

// PageId is the logical id of a page inside the database file. Ids are
// allocated monotonically and never reused.
type PageId int32

// Lsn is a log sequence number stored in every page header.
type Lsn uint64

const (
	// PageSize is the size of every page, on disk and in memory.
	PageSize = 4096

	InvalidPageId = PageId(-1)
	InvalidLsn    = Lsn(0)

	// OffsetLsn is the byte offset of the 8-byte LSN field inside a page.
	OffsetLsn = 4
	// SizePageHeader is the reserved header region at the start of a page.
	SizePageHeader = 12
)
