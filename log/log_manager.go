package log

import (
	"sync"

	"github.com/solivaf/kafka/errs"
	"github.com/solivaf/kafka/segment"
)

// LogManager wraps a Log with the replication bookkeeping the partition layer
// needs: log end offset, log start offset, and the cached high watermark.
type LogManager struct {
	mu sync.RWMutex
	*Log
	leo            uint64 // log end offset: next offset to write
	highWatermark  uint64
	maxRecordBytes int
}

func NewLogManager(dir string, maxRecordBytes int) (*LogManager, error) {
	l, err := NewLog(dir)
	if err != nil {
		return nil, err
	}
	// Seed LEO from the active segment (restart scenario); NextOffset is the
	// next offset to write, which is exactly what LEO represents.
	return &LogManager{
		Log:            l,
		leo:            l.NextOffset(),
		maxRecordBytes: maxRecordBytes,
	}, nil
}

func (l *LogManager) LEO() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.leo
}

func (l *LogManager) LogStartOffset() uint64 {
	return l.Log.LowestOffset()
}

func (l *LogManager) HighWatermark() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.highWatermark
}

// SetHighWatermark caps the watermark at LEO; the partition layer is
// responsible for never moving it backwards while leader.
func (l *LogManager) SetHighWatermark(hw uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if hw > l.leo {
		hw = l.leo
	}
	l.highWatermark = hw
}

// Append appends one record and advances LEO.
func (l *LogManager) Append(value []byte) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.appendLocked(value)
}

// AppendBatch appends records atomically with respect to other appends and
// returns the offset range [base, last].
func (l *LogManager) AppendBatch(values [][]byte) (base uint64, last uint64, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, v := range values {
		if l.maxRecordBytes > 0 && len(v) > l.maxRecordBytes {
			return 0, 0, errs.ErrRecordTooLargef(len(v), l.maxRecordBytes)
		}
	}
	for i, v := range values {
		off, appendErr := l.appendLocked(v)
		if appendErr != nil {
			return 0, 0, appendErr
		}
		if i == 0 {
			base = off
		}
		last = off
	}
	return base, last, nil
}

func (l *LogManager) appendLocked(value []byte) (uint64, error) {
	if l.maxRecordBytes > 0 && len(value) > l.maxRecordBytes {
		return 0, errs.ErrRecordTooLargef(len(value), l.maxRecordBytes)
	}
	offset, err := l.Log.Append(value)
	if err != nil {
		return 0, err
	}
	l.leo = offset + 1
	return offset, nil
}

// ReadRange reads entries from `from`, never at or past maxOffset, bounded by
// maxBytes. Reading exactly at the bound (or at LEO) yields no entries and no
// error; reading past LEO is an out-of-range error.
func (l *LogManager) ReadRange(from uint64, maxBytes uint32, maxOffset uint64) ([]segment.Entry, error) {
	l.mu.RLock()
	leo := l.leo
	l.mu.RUnlock()

	if maxOffset > leo {
		maxOffset = leo
	}
	if from > leo {
		return nil, errs.ErrLogOffsetOutOfRangef(from)
	}
	if from >= maxOffset {
		return nil, nil
	}
	return l.Log.ReadRange(from, maxBytes, maxOffset)
}
