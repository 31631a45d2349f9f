package log

import (
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/solivaf/kafka/errs"
	"github.com/solivaf/kafka/segment"
)

// Log is the on-disk record store for one partition replica: an ordered list
// of segments with one active segment receiving appends.
type Log struct {
	mu            sync.RWMutex
	Dir           string
	segments      []*segment.Segment
	activeSegment *segment.Segment
}

func NewLog(dir string) (*Log, error) {
	l := &Log{
		Dir:      dir,
		segments: make([]*segment.Segment, 0),
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	dirEnt, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var baseOffsets []uint64
	for _, entry := range dirEnt {
		var baseOffset uint64
		n, err := fmt.Sscanf(entry.Name(), "%020d.log", &baseOffset)
		if n == 1 && err == nil {
			baseOffsets = append(baseOffsets, baseOffset)
		}
	}
	if len(baseOffsets) > 0 {
		sort.Slice(baseOffsets, func(i, j int) bool {
			return baseOffsets[i] < baseOffsets[j]
		})
		for _, baseOffset := range baseOffsets {
			seg, err := segment.LoadExistingSegment(baseOffset, dir)
			if err != nil {
				return nil, err
			}
			l.segments = append(l.segments, seg)
		}
		l.activeSegment = l.segments[len(l.segments)-1]
		return l, nil
	}

	activeSegment, err := segment.NewSegment(0, dir)
	if err != nil {
		return nil, err
	}
	l.segments = append(l.segments, activeSegment)
	l.activeSegment = activeSegment
	return l, nil
}

func (l *Log) Append(value []byte) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	off, err := l.activeSegment.Append(value)
	if err != nil {
		return 0, err
	}
	// Rolled segments stay open for reads; Close walks all of them.
	if l.activeSegment.IsFull() {
		if err := l.activeSegment.Flush(); err != nil {
			return 0, err
		}
		l.activeSegment, err = segment.NewSegment(l.activeSegment.NextOffset, l.Dir)
		if err != nil {
			return 0, err
		}
		l.segments = append(l.segments, l.activeSegment)
	}
	return off, nil
}

// ReadRange reads entries from offset `from`, stopping before maxOffset and
// once accumulated bytes would exceed maxBytes (at least one entry is
// returned when any is in range). It may cross segment boundaries.
func (l *Log) ReadRange(from uint64, maxBytes uint32, maxOffset uint64) ([]segment.Entry, error) {
	l.mu.RLock()
	segments := make([]*segment.Segment, len(l.segments))
	copy(segments, l.segments)
	l.mu.RUnlock()

	var startIdx = -1
	for i, seg := range segments {
		if from >= seg.BaseOffset && from < seg.NextOffset {
			startIdx = i
			break
		}
	}
	if startIdx < 0 {
		return nil, errs.ErrLogOffsetOutOfRangef(from)
	}

	var (
		entries []segment.Entry
		total   uint32
	)
	next := from
	for i := startIdx; i < len(segments); i++ {
		budget := uint32(0)
		if maxBytes > 0 {
			if total >= maxBytes {
				break
			}
			budget = maxBytes - total
		}
		part, err := segments[i].ReadRange(next, budget, maxOffset)
		if err != nil {
			return nil, err
		}
		if len(part) == 0 {
			break
		}
		for _, e := range part {
			total += uint32(e.Size())
		}
		entries = append(entries, part...)
		if maxBytes > 0 && total >= maxBytes {
			break
		}
		next = part[len(part)-1].Offset + 1
		if next >= maxOffset {
			break
		}
	}
	return entries, nil
}

// LowestOffset is the log start offset.
func (l *Log) LowestOffset() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if len(l.segments) == 0 {
		return 0
	}
	return l.segments[0].BaseOffset
}

// NextOffset is the offset the next append will receive.
func (l *Log) NextOffset() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.activeSegment == nil {
		return 0
	}
	return l.activeSegment.NextOffset
}

func (l *Log) Flush() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.activeSegment == nil {
		return nil
	}
	return l.activeSegment.Flush()
}

func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, seg := range l.segments {
		if err := seg.Close(); err != nil {
			return err
		}
	}
	return nil
}

func (l *Log) Delete() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, seg := range l.segments {
		if err := seg.Close(); err != nil {
			return err
		}
	}
	return os.RemoveAll(l.Dir)
}
