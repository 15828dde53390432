package common

import "fmt"

// RID identifies a record by the page holding it and its slot inside that page.
type RID struct {
	PageId  PageId
	SlotNum int
}

func (rid RID) String() string {
	return fmt.Sprintf("[Page id %d, slot num %d]", rid.PageId, rid.SlotNum)
}
