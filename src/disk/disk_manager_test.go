package disk

import (
	"os"
	"testing"

	"github.com/ncw/directio"
	"github.com/stretchr/testify/require"

	"paged-db-golang/src/common"
)

var testFileName = "tmp-file"

func removeTestFiles() {
	os.Remove(testFileName)
	os.Remove(logFileName(testFileName))
}

func TestNewDiskManager(t *testing.T) {
	defer removeTestFiles()
	dm := NewDiskManager(testFileName)
	defer dm.Close()

	require.Equal(t, testFileName, dm.fileName)
	require.Equal(t, "tmp-file.log", dm.logName)
	require.Equal(t, 0, dm.NumWrites())
	require.Equal(t, 0, dm.NumFlushes())

	_, err := os.Stat(testFileName)
	require.Nil(t, err)
	_, err = os.Stat(dm.logName)
	require.Nil(t, err)
}

func TestLogFileName(t *testing.T) {
	require.Equal(t, "test.log", logFileName("test.db"))
	require.Equal(t, "dir/test.log", logFileName("dir/test.db"))
	require.Equal(t, "test.log", logFileName("test"))
}

func TestDiskManager_ReadWritePage(t *testing.T) {
	defer removeTestFiles()
	dm := NewDiskManager(testFileName)
	defer dm.Close()

	buf := directio.AlignedBlock(common.PageSize)
	data := directio.AlignedBlock(common.PageSize)
	copy(data, "A test string.")

	// Tolerate reading a page that was never written.
	require.Nil(t, dm.ReadPage(common.PageId(0), buf))
	require.Equal(t, directio.AlignedBlock(common.PageSize), buf)

	require.Nil(t, dm.WritePage(common.PageId(0), data))
	require.Nil(t, dm.ReadPage(common.PageId(0), buf))
	require.Equal(t, data, buf)

	// Writing a later page extends the file.
	zeroFill(buf)
	require.Nil(t, dm.WritePage(common.PageId(5), data))
	require.Nil(t, dm.ReadPage(common.PageId(5), buf))
	require.Equal(t, data, buf)

	// The gap pages in between read back as zeroes.
	require.Nil(t, dm.ReadPage(common.PageId(3), buf))
	require.Equal(t, directio.AlignedBlock(common.PageSize), buf)

	require.Equal(t, 2, dm.NumWrites())
}

func TestDiskManager_ReadPastEndOfFile(t *testing.T) {
	defer removeTestFiles()
	dm := NewDiskManager(testFileName)
	defer dm.Close()

	buf := directio.AlignedBlock(common.PageSize)
	for i := range buf {
		buf[i] = 0xab
	}
	require.Nil(t, dm.ReadPage(common.PageId(100), buf))
	require.Equal(t, directio.AlignedBlock(common.PageSize), buf)
}

func TestDiskManager_BadArguments(t *testing.T) {
	defer removeTestFiles()
	dm := NewDiskManager(testFileName)
	defer dm.Close()

	buf := directio.AlignedBlock(common.PageSize)
	require.NotNil(t, dm.ReadPage(common.PageId(-1), buf))
	require.NotNil(t, dm.WritePage(common.PageId(-1), buf))
	require.NotNil(t, dm.WritePage(common.PageId(0), buf[:100]))
	require.NotNil(t, dm.ReadPage(common.PageId(0), buf[:100]))
}

func TestDiskManager_ReadWriteLog(t *testing.T) {
	defer removeTestFiles()
	dm := NewDiskManager(testFileName)
	defer dm.Close()

	logData := []byte("A test string.")
	buf := make([]byte, len(logData))

	// Tolerate reading an empty log.
	ok, err := dm.ReadLog(buf, 0)
	require.Nil(t, err)
	require.Equal(t, false, ok)

	require.Nil(t, dm.WriteLog(logData))
	ok, err = dm.ReadLog(buf, 0)
	require.Nil(t, err)
	require.Equal(t, true, ok)
	require.Equal(t, logData, buf)

	// Appends land after the first record.
	require.Nil(t, dm.WriteLog([]byte("more")))
	moreBuf := make([]byte, 4)
	ok, err = dm.ReadLog(moreBuf, int64(len(logData)))
	require.Nil(t, err)
	require.Equal(t, true, ok)
	require.Equal(t, []byte("more"), moreBuf)

	// A short tail is zero-filled.
	tailBuf := make([]byte, 16)
	ok, err = dm.ReadLog(tailBuf, int64(len(logData)))
	require.Nil(t, err)
	require.Equal(t, true, ok)
	require.Equal(t, []byte("more"), tailBuf[:4])
	require.Equal(t, make([]byte, 12), tailBuf[4:])

	require.Equal(t, 2, dm.NumFlushes())

	// Empty writes do not count as flushes.
	require.Nil(t, dm.WriteLog(nil))
	require.Equal(t, 2, dm.NumFlushes())
}

func TestDiskManager_Reopen(t *testing.T) {
	defer removeTestFiles()
	data := directio.AlignedBlock(common.PageSize)
	copy(data, "persists")

	dm := NewDiskManager(testFileName)
	require.Nil(t, dm.WritePage(common.PageId(2), data))
	require.Nil(t, dm.Close())

	dm = NewDiskManager(testFileName)
	defer dm.Close()
	buf := directio.AlignedBlock(common.PageSize)
	require.Nil(t, dm.ReadPage(common.PageId(2), buf))
	require.Equal(t, data, buf)
}
