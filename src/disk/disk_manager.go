package disk

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/ncw/directio"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"paged-db-golang/src/common"
)

// DiskManager performs positioned page I/O against the database file and
// sequential I/O against its companion log file. Page i lives at byte offset
// i*PageSize. The database file is opened with O_DIRECT, so every page buffer
// that crosses this boundary must come from directio.AlignedBlock.
type DiskManager struct {
	fileName string
	logName  string

	dbMu      sync.Mutex
	dbIo      *os.File
	numWrites int

	logMu      sync.Mutex
	logIo      *os.File
	numFlushes int
}

// NewDiskManager opens (creating if needed) the database file and the log
// file sharing its base name with a ".log" extension.
func NewDiskManager(fileName string) *DiskManager {
	dbIo, err := directio.OpenFile(fileName, os.O_CREATE|os.O_RDWR|os.O_SYNC, 0644)
	if err != nil {
		log.WithError(err).Fatalf("Cannot open database file %s.", fileName)
	}
	logName := logFileName(fileName)
	logIo, err := os.OpenFile(logName, os.O_CREATE|os.O_RDWR|os.O_SYNC, 0644)
	if err != nil {
		log.WithError(err).Fatalf("Cannot open log file %s.", logName)
	}
	return &DiskManager{
		fileName: fileName,
		logName:  logName,
		dbIo:     dbIo,
		logIo:    logIo,
	}
}

func logFileName(fileName string) string {
	return strings.TrimSuffix(fileName, filepath.Ext(fileName)) + ".log"
}

func (dm *DiskManager) Close() error {
	dbErr := dm.dbIo.Close()
	logErr := dm.logIo.Close()
	if dbErr != nil {
		return errors.Wrapf(dbErr, "Cannot close database file %s.", dm.fileName)
	}
	if logErr != nil {
		return errors.Wrapf(logErr, "Cannot close log file %s.", dm.logName)
	}
	return nil
}

// WritePage writes exactly one page at the page's offset and persists it.
func (dm *DiskManager) WritePage(pageId common.PageId, data []byte) error {
	if pageId < 0 {
		return errors.Errorf("Page id %d is negative.", pageId)
	}
	if len(data) != common.PageSize {
		return errors.Errorf("Page data is %d bytes, want %d.", len(data), common.PageSize)
	}
	offset := int64(pageId) * common.PageSize

	dm.dbMu.Lock()
	defer dm.dbMu.Unlock()
	dm.numWrites++
	if _, err := dm.dbIo.Seek(offset, io.SeekStart); err != nil {
		return err
	}
	if _, err := dm.dbIo.Write(data); err != nil {
		return err
	}
	return nil
}

// ReadPage fills data with the page's on-disk content. Offsets at or past the
// end of the file, and short tails, read back as zeroes: a page that was
// never written is a zero page, not an error.
func (dm *DiskManager) ReadPage(pageId common.PageId, data []byte) error {
	if pageId < 0 {
		return errors.Errorf("Page id %d is negative.", pageId)
	}
	if len(data) != common.PageSize {
		return errors.Errorf("Page buffer is %d bytes, want %d.", len(data), common.PageSize)
	}
	offset := int64(pageId) * common.PageSize

	dm.dbMu.Lock()
	defer dm.dbMu.Unlock()
	size, err := fileSize(dm.dbIo)
	if err != nil {
		return err
	}
	if offset >= size {
		log.Debugf("Read of page %d is past end of file.", pageId)
		zeroFill(data)
		return nil
	}
	if _, err := dm.dbIo.Seek(offset, io.SeekStart); err != nil {
		return err
	}
	n, err := dm.dbIo.Read(data)
	if err != nil && err != io.EOF {
		return err
	}
	if n < common.PageSize {
		log.Debugf("Read less than a page.")
		zeroFill(data[n:])
	}
	return nil
}

// WriteLog appends data to the log file and persists it. An empty buffer is a
// no-op and does not count as a flush.
func (dm *DiskManager) WriteLog(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	dm.logMu.Lock()
	defer dm.logMu.Unlock()
	dm.numFlushes++
	if _, err := dm.logIo.Seek(0, io.SeekEnd); err != nil {
		return err
	}
	if _, err := dm.logIo.Write(data); err != nil {
		return err
	}
	return nil
}

// ReadLog fills buf with log bytes starting at offset. Returns false when the
// offset is at or past the end of the log. A short tail is zero-filled.
func (dm *DiskManager) ReadLog(buf []byte, offset int64) (bool, error) {
	dm.logMu.Lock()
	defer dm.logMu.Unlock()
	size, err := fileSize(dm.logIo)
	if err != nil {
		return false, err
	}
	if offset >= size {
		log.Debugf("Read past end of log file.")
		return false, nil
	}
	if _, err := dm.logIo.Seek(offset, io.SeekStart); err != nil {
		return false, err
	}
	n, err := dm.logIo.Read(buf)
	if err != nil && err != io.EOF {
		return false, err
	}
	if n < len(buf) {
		zeroFill(buf[n:])
	}
	return true, nil
}

// NumPages reports how many pages the database file currently holds.
func (dm *DiskManager) NumPages() (int, error) {
	dm.dbMu.Lock()
	defer dm.dbMu.Unlock()
	size, err := fileSize(dm.dbIo)
	if err != nil {
		return 0, err
	}
	return int((size + common.PageSize - 1) / common.PageSize), nil
}

// NumWrites reports how many page writes have been issued.
func (dm *DiskManager) NumWrites() int {
	dm.dbMu.Lock()
	defer dm.dbMu.Unlock()
	return dm.numWrites
}

// NumFlushes reports how many log flushes have been issued.
func (dm *DiskManager) NumFlushes() int {
	dm.logMu.Lock()
	defer dm.logMu.Unlock()
	return dm.numFlushes
}

func fileSize(fi *os.File) (int64, error) {
	stat, err := fi.Stat()
	if err != nil {
		return 0, err
	}
	return stat.Size(), nil
}

func zeroFill(buf []byte) {
	for i := range buf {
		buf[i] = 0
	}
}
