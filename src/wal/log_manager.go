// Package wal frames log records over the disk manager's append-only log
// file. It exists as a collaborator slot for a future recovery component:
// records are appended, flushed and scanned, but nothing replays them.
package wal

import (
	"encoding/binary"
	"sync"

	"github.com/pkg/errors"

	"paged-db-golang/src/common"
	"paged-db-golang/src/disk"
)

// Each record is a fixed header followed by the payload: 8-byte LSN, 4-byte
// payload length, both little-endian.
const recordHeaderSize = 12

type LogManager struct {
	mu          sync.Mutex
	diskManager *disk.DiskManager
	nextLsn     common.Lsn
	buf         []byte
}

func NewLogManager(diskManager *disk.DiskManager) *LogManager {
	return &LogManager{
		diskManager: diskManager,
		nextLsn:     common.InvalidLsn + 1,
	}
}

// AppendRecord stamps the payload with the next LSN and buffers it. The
// record is not durable until Flush.
func (lm *LogManager) AppendRecord(payload []byte) common.Lsn {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	lsn := lm.nextLsn
	lm.nextLsn++
	var header [recordHeaderSize]byte
	binary.LittleEndian.PutUint64(header[0:], uint64(lsn))
	binary.LittleEndian.PutUint32(header[8:], uint32(len(payload)))
	lm.buf = append(lm.buf, header[:]...)
	lm.buf = append(lm.buf, payload...)
	return lsn
}

// Flush appends every buffered record to the log file and persists them.
func (lm *LogManager) Flush() error {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	if len(lm.buf) == 0 {
		return nil
	}
	if err := lm.diskManager.WriteLog(lm.buf); err != nil {
		return errors.Wrap(err, "Cannot flush log buffer.")
	}
	lm.buf = lm.buf[:0]
	return nil
}

// Record is one framed log entry read back from the file.
type Record struct {
	Lsn     common.Lsn
	Payload []byte
}

// ReadRecord reads the record starting at the given file offset and returns
// it with the offset of the next record. A nil record means the offset is
// past the flushed log.
func (lm *LogManager) ReadRecord(offset int64) (*Record, int64, error) {
	var header [recordHeaderSize]byte
	ok, err := lm.diskManager.ReadLog(header[:], offset)
	if err != nil {
		return nil, 0, errors.Wrapf(err, "Cannot read log header at offset %d.", offset)
	}
	if !ok {
		return nil, 0, nil
	}
	lsn := common.Lsn(binary.LittleEndian.Uint64(header[0:]))
	length := binary.LittleEndian.Uint32(header[8:])
	if lsn == common.InvalidLsn {
		// Zero-filled tail past the last written record.
		return nil, 0, nil
	}
	payload := make([]byte, length)
	if length > 0 {
		if _, err := lm.diskManager.ReadLog(payload, offset+recordHeaderSize); err != nil {
			return nil, 0, errors.Wrapf(err, "Cannot read log payload at offset %d.", offset+recordHeaderSize)
		}
	}
	return &Record{Lsn: lsn, Payload: payload}, offset + recordHeaderSize + int64(length), nil
}
