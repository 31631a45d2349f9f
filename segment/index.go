package segment

import (
	"encoding/binary"
	"os"

	"github.com/tysonmote/gommap"
)

// IndexEntry is one entry in the sparse index; written once every
// IndexIntervalBytes of store data. Physical layout:
// +----------------+----------------+
// |   RelOffset    |    Position    |
// +----------------+----------------+
// |    4 bytes     |    8 bytes     |
// +----------------+----------------+

const (
	IndexEntrySize   = 4 + 8
	InitialIndexSize = 12 * 1024 // 1024 entries
)

var indexEndian = binary.BigEndian

type IndexEntry struct {
	RelativeOffset uint32
	Position       uint64
}

// Index is the mmap-backed sparse index for a segment.
type Index struct {
	file *os.File
	mmap gommap.MMap
	size int64
}

func OpenIndex(filePath string) (*Index, error) {
	file, err := os.OpenFile(filePath, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, err
	}
	stat, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, err
	}
	size := stat.Size()
	if size == 0 {
		if err := file.Truncate(InitialIndexSize); err != nil {
			file.Close()
			return nil, err
		}
	}
	m, err := gommap.Map(file.Fd(), gommap.PROT_READ|gommap.PROT_WRITE, gommap.MAP_SHARED)
	if err != nil {
		file.Close()
		return nil, err
	}
	return &Index{file: file, mmap: m, size: size}, nil
}

func (idx *Index) Write(relOffset uint32, position uint64) error {
	if idx.size+IndexEntrySize > int64(len(idx.mmap)) {
		if err := idx.grow(); err != nil {
			return err
		}
	}
	buf := idx.mmap[idx.size : idx.size+IndexEntrySize]
	indexEndian.PutUint32(buf[0:4], relOffset)
	indexEndian.PutUint64(buf[4:12], position)
	idx.size += IndexEntrySize
	return nil
}

func (idx *Index) grow() error {
	newSize := int64(len(idx.mmap)) * 2
	if err := idx.mmap.UnsafeUnmap(); err != nil {
		return err
	}
	if err := idx.file.Truncate(newSize); err != nil {
		return err
	}
	m, err := gommap.Map(idx.file.Fd(), gommap.PROT_READ|gommap.PROT_WRITE, gommap.MAP_SHARED)
	if err != nil {
		return err
	}
	idx.mmap = m
	return nil
}

func (idx *Index) entry(i int64) IndexEntry {
	pos := i * IndexEntrySize
	buf := idx.mmap[pos : pos+IndexEntrySize]
	return IndexEntry{
		RelativeOffset: indexEndian.Uint32(buf[0:4]),
		Position:       indexEndian.Uint64(buf[4:12]),
	}
}

// Find returns the entry with the greatest RelativeOffset <= relOffset.
func (idx *Index) Find(relOffset uint32) (IndexEntry, bool) {
	count := idx.size / IndexEntrySize
	if count == 0 {
		return IndexEntry{}, false
	}

	var (
		result IndexEntry
		found  bool
	)
	low, high := int64(0), count-1
	for low <= high {
		mid := (low + high) / 2
		e := idx.entry(mid)
		if e.RelativeOffset <= relOffset {
			result = e
			found = true
			low = mid + 1
		} else {
			high = mid - 1
		}
	}
	return result, found
}

func (idx *Index) Last() (IndexEntry, bool) {
	count := idx.size / IndexEntrySize
	if count == 0 {
		return IndexEntry{}, false
	}
	return idx.entry(count - 1), true
}

// TruncateAfter drops entries pointing past position (used after store
// recovery truncates a partial record). Only the logical size shrinks; the
// file keeps its length so the mapping stays valid, and Close truncates to
// the logical size.
func (idx *Index) TruncateAfter(position uint64) error {
	truncateSize := idx.size
	count := idx.size / IndexEntrySize
	for i := count - 1; i >= 0; i-- {
		if idx.entry(i).Position <= position {
			break
		}
		truncateSize -= IndexEntrySize
	}
	idx.size = truncateSize
	return nil
}

func (idx *Index) Size() int64 {
	return idx.size
}

func (idx *Index) Close() error {
	if err := idx.mmap.Sync(gommap.MS_SYNC); err != nil {
		return err
	}
	if err := idx.file.Sync(); err != nil {
		return err
	}
	if err := idx.file.Truncate(idx.size); err != nil {
		return err
	}
	return idx.file.Close()
}
