package buffer

import (
	"fmt"
	"math/rand"
	"os"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"paged-db-golang/src/common"
	"paged-db-golang/src/disk"
)

// The database file is opened with O_DIRECT, which tmpfs rejects, so test
// files live in the package directory rather than t.TempDir().
const testFileName = "tmp-pool.db"

func removeTestFiles() {
	os.Remove(testFileName)
	os.Remove("tmp-pool.log")
}

func newPoolForTest(poolSize, k int) (*BufferPoolManager, *disk.DiskManager) {
	dm := disk.NewDiskManager(testFileName)
	return NewBufferPoolManager(poolSize, dm, k), dm
}

func TestBufferPoolManager_NewPage(t *testing.T) {
	defer removeTestFiles()
	const poolSize = 10
	bpm, dm := newPoolForTest(poolSize, 2)
	defer dm.Close()
	defer bpm.Close()

	// Page ids are handed out in order while frames last.
	for i := 0; i < poolSize; i++ {
		p, err := bpm.NewPage()
		require.NoError(t, err)
		require.Equal(t, common.PageId(i), p.PageId())
		require.Equal(t, 1, p.PinCount())
	}

	// Every frame is pinned, so the pool is full.
	for i := 0; i < 3; i++ {
		_, err := bpm.NewPage()
		require.ErrorIs(t, err, ErrPoolFull)
		_, err = bpm.FetchPage(common.PageId(100))
		require.ErrorIs(t, err, ErrPoolFull)
	}

	// Unpinning k pages frees exactly k slots.
	for i := 0; i < 4; i++ {
		require.True(t, bpm.UnpinPage(common.PageId(i), false))
	}
	for i := 0; i < 4; i++ {
		_, err := bpm.NewPage()
		require.NoError(t, err)
	}
	_, err := bpm.NewPage()
	require.ErrorIs(t, err, ErrPoolFull)
}

func TestBufferPoolManager_BinaryData(t *testing.T) {
	defer removeTestFiles()
	const poolSize = 10
	bpm, dm := newPoolForTest(poolSize, 2)
	defer dm.Close()
	defer bpm.Close()

	content := make([]byte, common.PageSize)
	rand.Read(content)

	p, err := bpm.NewPage()
	require.NoError(t, err)
	pageId := p.PageId()
	p.Lock()
	copy(p.Data(), content)
	p.Unlock()
	require.True(t, bpm.UnpinPage(pageId, true))

	// Evict the page by churning through the rest of the pool.
	for i := 0; i < 2*poolSize; i++ {
		churn, err := bpm.NewPage()
		require.NoError(t, err)
		require.True(t, bpm.UnpinPage(churn.PageId(), false))
	}

	// Re-fetching reads the written-back content from disk.
	p, err = bpm.FetchPage(pageId)
	require.NoError(t, err)
	p.RLock()
	require.Equal(t, content, p.Data())
	p.RUnlock()
	require.True(t, bpm.UnpinPage(pageId, false))
}

func TestBufferPoolManager_FetchHit(t *testing.T) {
	defer removeTestFiles()
	bpm, dm := newPoolForTest(4, 2)
	defer dm.Close()
	defer bpm.Close()

	p, err := bpm.NewPage()
	require.NoError(t, err)
	pageId := p.PageId()

	// A hit pins the same frame again; no disk read happens.
	same, err := bpm.FetchPage(pageId)
	require.NoError(t, err)
	require.Same(t, p, same)
	require.Equal(t, 2, p.PinCount())

	require.True(t, bpm.UnpinPage(pageId, false))
	require.True(t, bpm.UnpinPage(pageId, false))
	require.Equal(t, 0, p.PinCount())
}

func TestBufferPoolManager_UnpinAtZero(t *testing.T) {
	defer removeTestFiles()
	bpm, dm := newPoolForTest(4, 2)
	defer dm.Close()
	defer bpm.Close()

	p, err := bpm.NewPage()
	require.NoError(t, err)
	pageId := p.PageId()

	require.True(t, bpm.UnpinPage(pageId, false))
	sizeBefore := bpm.replacer.Size()

	// A second unpin is refused and leaves the evictable set alone.
	require.False(t, bpm.UnpinPage(pageId, false))
	require.Equal(t, sizeBefore, bpm.replacer.Size())

	// So is unpinning a page that was never resident.
	require.False(t, bpm.UnpinPage(common.PageId(999), false))
}

func TestBufferPoolManager_UnpinDirtyIsSticky(t *testing.T) {
	defer removeTestFiles()
	bpm, dm := newPoolForTest(4, 2)
	defer dm.Close()
	defer bpm.Close()

	p, err := bpm.NewPage()
	require.NoError(t, err)
	pageId := p.PageId()

	_, err = bpm.FetchPage(pageId)
	require.NoError(t, err)

	// A clean unpin after a dirty one must not wash the flag out.
	require.True(t, bpm.UnpinPage(pageId, true))
	require.True(t, bpm.UnpinPage(pageId, false))
	require.True(t, p.IsDirty())
}

func TestBufferPoolManager_FlushPage(t *testing.T) {
	defer removeTestFiles()
	bpm, dm := newPoolForTest(4, 2)
	defer dm.Close()
	defer bpm.Close()

	p, err := bpm.NewPage()
	require.NoError(t, err)
	pageId := p.PageId()
	p.Lock()
	copy(p.Data(), []byte("flush me"))
	p.Unlock()
	p.SetDirty(true)

	writesBefore := dm.NumWrites()
	require.True(t, bpm.FlushPage(pageId))
	require.False(t, p.IsDirty())
	require.Equal(t, writesBefore+1, dm.NumWrites())
	// Flushing does not unpin.
	require.Equal(t, 1, p.PinCount())

	// Flushing is unconditional: a clean page is written again.
	require.True(t, bpm.FlushPage(pageId))
	require.Equal(t, writesBefore+2, dm.NumWrites())

	require.False(t, bpm.FlushPage(common.PageId(999)))
}

func TestBufferPoolManager_FlushAllPages(t *testing.T) {
	defer removeTestFiles()
	bpm, dm := newPoolForTest(8, 2)
	defer dm.Close()
	defer bpm.Close()

	var pages []common.PageId
	for i := 0; i < 4; i++ {
		p, err := bpm.NewPage()
		require.NoError(t, err)
		pages = append(pages, p.PageId())
		dirty := i%2 == 0
		if dirty {
			p.SetDirty(true)
		}
	}

	writesBefore := dm.NumWrites()
	bpm.FlushAllPages()
	// Only the two dirty pages went to disk.
	require.Equal(t, writesBefore+2, dm.NumWrites())
	for _, pageId := range pages {
		require.True(t, bpm.UnpinPage(pageId, false))
	}
}

func TestBufferPoolManager_DeletePage(t *testing.T) {
	defer removeTestFiles()
	const poolSize = 4
	bpm, dm := newPoolForTest(poolSize, 2)
	defer dm.Close()
	defer bpm.Close()

	p, err := bpm.NewPage()
	require.NoError(t, err)
	pageId := p.PageId()

	// Deleting a pinned page fails and changes nothing.
	require.False(t, bpm.DeletePage(pageId))
	_, err = bpm.FetchPage(pageId)
	require.NoError(t, err)
	require.Equal(t, 2, p.PinCount())
	require.True(t, bpm.UnpinPage(pageId, false))
	require.True(t, bpm.UnpinPage(pageId, false))

	// Deleting an unpinned page frees its frame.
	require.True(t, bpm.DeletePage(pageId))
	require.Equal(t, common.InvalidPageId, p.PageId())

	// Deleting an absent page is a no-op success.
	require.True(t, bpm.DeletePage(pageId))

	// The freed frame is immediately reusable, and the pool can still fill
	// completely.
	for i := 0; i < poolSize; i++ {
		_, err := bpm.NewPage()
		require.NoError(t, err)
	}
	_, err = bpm.NewPage()
	require.ErrorIs(t, err, ErrPoolFull)
}

func TestBufferPoolManager_DeletedPageMissesToDisk(t *testing.T) {
	defer removeTestFiles()
	bpm, dm := newPoolForTest(4, 2)
	defer dm.Close()
	defer bpm.Close()

	p, err := bpm.NewPage()
	require.NoError(t, err)
	pageId := p.PageId()
	p.Lock()
	copy(p.Data(), []byte("persisted"))
	p.Unlock()
	require.True(t, bpm.FlushPage(pageId))
	require.True(t, bpm.UnpinPage(pageId, false))

	p.Lock()
	copy(p.Data(), []byte("in-memory only"))
	p.Unlock()
	require.True(t, bpm.DeletePage(pageId))

	// The re-fetch must come from disk, not from stale frame contents.
	p, err = bpm.FetchPage(pageId)
	require.NoError(t, err)
	p.RLock()
	require.Equal(t, []byte("persisted"), p.Data()[:len("persisted")])
	p.RUnlock()
	require.True(t, bpm.UnpinPage(pageId, false))
}

func TestBufferPoolManager_FlushSurvivesFrameReuse(t *testing.T) {
	defer removeTestFiles()
	// Few enough free frames that the churn below must evict flushed pages.
	const poolSize = 48
	bpm, dm := newPoolForTest(poolSize, 2)
	defer dm.Close()
	defer bpm.Close()

	// Fill the pool with dirty, unpinned pages carrying known payloads.
	const numPages = 40
	var pageIds []common.PageId
	for i := 0; i < numPages; i++ {
		p, err := bpm.NewPage()
		require.NoError(t, err)
		p.Lock()
		copy(p.Data()[common.SizePageHeader:], []byte(fmt.Sprintf("payload-of-page-%03d", p.PageId())))
		p.Unlock()
		pageIds = append(pageIds, p.PageId())
		require.True(t, bpm.UnpinPage(p.PageId(), true))
	}

	// Race the flush against allocation churn: a flush clears the dirty
	// flag, so the churn will evict flushed frames without a write-back and
	// zero them in memory. The queued flush writes must still persist the
	// payloads, not the reused buffers.
	flushDone := make(chan struct{})
	go func() {
		defer close(flushDone)
		bpm.FlushAllPages()
	}()
	for i := 0; i < numPages/2; i++ {
		p, err := bpm.NewPage()
		require.NoError(t, err)
		require.True(t, bpm.UnpinPage(p.PageId(), false))
	}
	<-flushDone

	// Evict everything still resident so every read below comes from disk.
	for i := 0; i < 2*poolSize; i++ {
		p, err := bpm.NewPage()
		require.NoError(t, err)
		require.True(t, bpm.UnpinPage(p.PageId(), false))
	}

	for _, pageId := range pageIds {
		want := fmt.Sprintf("payload-of-page-%03d", pageId)
		p, err := bpm.FetchPage(pageId)
		require.NoError(t, err)
		p.RLock()
		got := string(p.Data()[common.SizePageHeader : common.SizePageHeader+len(want)])
		p.RUnlock()
		require.Equal(t, want, got, "page %d lost its flushed content", pageId)
		require.True(t, bpm.UnpinPage(pageId, false))
	}
}

func TestBufferPoolManager_Concurrent(t *testing.T) {
	defer removeTestFiles()
	const poolSize = 16
	bpm, dm := newPoolForTest(poolSize, 2)
	defer dm.Close()
	defer bpm.Close()

	// Seed pages, each carrying its own id in the payload.
	const numPages = 64
	for i := 0; i < numPages; i++ {
		p, err := bpm.NewPage()
		require.NoError(t, err)
		p.Lock()
		copy(p.Data()[common.SizePageHeader:], []byte(fmt.Sprintf("page-%03d", p.PageId())))
		p.Unlock()
		require.True(t, bpm.UnpinPage(p.PageId(), true))
	}

	// Hammer the pool from many goroutines; every fetch must observe the
	// content written for that id.
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(seed))
			for i := 0; i < 200; i++ {
				pageId := common.PageId(rng.Intn(numPages))
				p, err := bpm.FetchPage(pageId)
				if err != nil {
					// Transiently full pool: every frame pinned by peers.
					continue
				}
				want := fmt.Sprintf("page-%03d", pageId)
				p.RLock()
				got := string(p.Data()[common.SizePageHeader : common.SizePageHeader+len(want)])
				p.RUnlock()
				require.Equal(t, want, got)
				require.True(t, bpm.UnpinPage(pageId, false))
			}
		}(int64(g))
	}
	wg.Wait()
}
