package segment

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/solivaf/kafka/errs"
)

const (
	IndexIntervalBytes = 4 * 1024    // 4KB
	MaxSegmentBytes    = 1024 * 1024 // 1MB
	WriteBufferSize    = 64 * 1024   // 64KB

	lenWidth         = 4 // 4 bytes for record length
	offWidth         = 8
	totalHeaderWidth = lenWidth + offWidth
)

var endian = binary.BigEndian

// Entry is one stored record.
type Entry struct {
	Offset uint64
	Value  []byte
}

// Size returns the on-disk footprint of the entry, header included.
func (e Entry) Size() int {
	return totalHeaderWidth + len(e.Value)
}

// Segment is a log segment consisting of a store file and a sparse index file.
// BaseOffset is the first offset of the segment, NextOffset the next offset to
// be assigned. Files are named {baseOffset}.log and {baseOffset}.idx.
type Segment struct {
	BaseOffset          uint64
	NextOffset          uint64
	logFile             *os.File
	bufWriter           *bufio.Writer
	index               *Index
	bytesSinceLastIndex uint64
	writePos            int64      // current end-of-log position
	mu                  sync.Mutex // protects writes
}

func NewSegment(baseOffset uint64, dir string) (*Segment, error) {
	logFile, err := os.OpenFile(dir+"/"+formatLogFileName(baseOffset), os.O_RDWR|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		return nil, err
	}
	index, err := OpenIndex(dir + "/" + formatIndexFileName(baseOffset))
	if err != nil {
		logFile.Close()
		return nil, err
	}
	return &Segment{
		BaseOffset: baseOffset,
		NextOffset: baseOffset,
		logFile:    logFile,
		bufWriter:  bufio.NewWriterSize(logFile, WriteBufferSize),
		index:      index,
	}, nil
}

func LoadExistingSegment(baseOffset uint64, dir string) (*Segment, error) {
	logFile, err := os.OpenFile(dir+"/"+formatLogFileName(baseOffset), os.O_RDWR|os.O_APPEND, 0644)
	if err != nil {
		return nil, err
	}
	index, err := OpenIndex(dir + "/" + formatIndexFileName(baseOffset))
	if err != nil {
		logFile.Close()
		return nil, err
	}
	s := &Segment{
		BaseOffset: baseOffset,
		NextOffset: baseOffset,
		logFile:    logFile,
		bufWriter:  bufio.NewWriterSize(logFile, WriteBufferSize),
		index:      index,
	}
	if err := s.Recover(); err != nil {
		logFile.Close()
		index.Close()
		return nil, err
	}
	return s, nil
}

func formatLogFileName(baseOffset uint64) string {
	return fmt.Sprintf("%020d.log", baseOffset)
}

func formatIndexFileName(baseOffset uint64) string {
	return fmt.Sprintf("%020d.idx", baseOffset)
}

// Append writes one record and returns its offset. The record layout is
// [Offset 8][Len 4][Value].
func (s *Segment) Append(value []byte) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	offset := s.NextOffset
	header := make([]byte, totalHeaderWidth)
	endian.PutUint64(header[0:offWidth], offset)
	endian.PutUint32(header[offWidth:totalHeaderWidth], uint32(len(value)))
	if _, err := s.bufWriter.Write(header); err != nil {
		return 0, err
	}
	if _, err := s.bufWriter.Write(value); err != nil {
		return 0, err
	}

	s.bytesSinceLastIndex += uint64(totalHeaderWidth + len(value))
	if s.bytesSinceLastIndex >= IndexIntervalBytes || offset == s.BaseOffset {
		// Flush before indexing so the indexed position is durable.
		if err := s.bufWriter.Flush(); err != nil {
			return 0, err
		}
		if err := s.index.Write(uint32(offset-s.BaseOffset), uint64(s.writePos)); err != nil {
			return 0, err
		}
		s.bytesSinceLastIndex = 0
	}
	s.writePos += int64(totalHeaderWidth + len(value))
	s.NextOffset++
	return offset, nil
}

// Read returns the value stored at offset.
func (s *Segment) Read(offset uint64) ([]byte, error) {
	entries, err := s.ReadRange(offset, 0, offset+1)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, errs.ErrSegmentOffsetOutOfRange(offset, s.BaseOffset, s.NextOffset)
	}
	return entries[0].Value, nil
}

// ReadRange returns entries starting at from, stopping before maxOffset and
// once accumulated entry bytes would exceed maxBytes. maxBytes 0 means one
// entry with no byte cap. At least one entry is returned when any is in
// range, so a single record larger than maxBytes can still be consumed.
func (s *Segment) ReadRange(from uint64, maxBytes uint32, maxOffset uint64) ([]Entry, error) {
	s.mu.Lock()
	if s.bufWriter != nil {
		_ = s.bufWriter.Flush()
	}
	writePos := s.writePos
	next := s.NextOffset
	s.mu.Unlock()

	if from < s.BaseOffset || from >= next {
		return nil, errs.ErrSegmentOffsetOutOfRange(from, s.BaseOffset, next)
	}

	// Start position: sparse index gives the position of a record <= from,
	// or the segment start when nothing is indexed yet.
	var currPos int64
	if entry, found := s.index.Find(uint32(from - s.BaseOffset)); found {
		currPos = int64(entry.Position)
	}

	var (
		entries []Entry
		total   uint32
	)
	header := make([]byte, totalHeaderWidth)
	for currPos < writePos {
		n, err := s.logFile.ReadAt(header, currPos)
		if err != nil && err != io.EOF {
			return nil, err
		}
		if n < totalHeaderWidth {
			return entries, nil
		}
		foundOffset := endian.Uint64(header[0:offWidth])
		msgLen := endian.Uint32(header[offWidth:totalHeaderWidth])
		entrySize := int64(totalHeaderWidth) + int64(msgLen)
		if currPos+entrySize > writePos {
			return entries, nil // partial record at end of file
		}
		if foundOffset >= maxOffset {
			return entries, nil
		}
		if foundOffset >= from {
			if len(entries) > 0 && maxBytes > 0 && total+uint32(entrySize) > maxBytes {
				return entries, nil
			}
			value := make([]byte, msgLen)
			if _, err := s.logFile.ReadAt(value, currPos+totalHeaderWidth); err != nil {
				return nil, err
			}
			entries = append(entries, Entry{Offset: foundOffset, Value: value})
			total += uint32(entrySize)
			if maxBytes == 0 || total >= maxBytes {
				return entries, nil
			}
		}
		currPos += entrySize
	}
	return entries, nil
}

// Recover rebuilds NextOffset and writePos after a restart, truncating any
// partial record left by a crash.
func (s *Segment) Recover() error {
	var (
		startPos   int64
		nextOffset = s.BaseOffset
	)

	// Start from the last healthy index entry when one exists.
	if lastEntry, ok := s.index.Last(); ok {
		startPos = int64(lastEntry.Position)
		nextOffset = s.BaseOffset + uint64(lastEntry.RelativeOffset)
	}

	if _, err := s.logFile.Seek(startPos, io.SeekStart); err != nil {
		return errs.ErrSeekFailed(err)
	}

	reader := bufio.NewReader(s.logFile)
	currPos := startPos
	currOffset := nextOffset

	for {
		header, err := reader.Peek(totalHeaderWidth)
		if err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				break
			}
			return err
		}

		recOffset := endian.Uint64(header[0:offWidth])
		recLen := endian.Uint32(header[offWidth:totalHeaderWidth])

		// Stop at the first record that is not the one expected next; it is
		// either a ghost write from a crash or corruption.
		if recOffset != currOffset {
			break
		}

		entrySize := int64(totalHeaderWidth) + int64(recLen)
		if _, err := reader.Discard(int(entrySize)); err != nil {
			break // partial record at end of file
		}

		currPos += entrySize
		currOffset++
	}

	if err := s.logFile.Truncate(currPos); err != nil {
		return errs.ErrTruncateFailed(err)
	}
	// Truncate does not move the file cursor; the buffered writer needs it at
	// the new end of file.
	if _, err := s.logFile.Seek(currPos, io.SeekStart); err != nil {
		return errs.ErrSeekFailed(err)
	}

	s.writePos = currPos
	s.NextOffset = currOffset
	if s.bufWriter != nil {
		s.bufWriter.Reset(s.logFile)
	}

	if err := s.index.TruncateAfter(uint64(currPos)); err != nil {
		return errs.ErrIndexSyncFailed(err)
	}
	return nil
}

func (s *Segment) IsFull() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writePos >= MaxSegmentBytes
}

func (s *Segment) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bufWriter.Flush()
}

func (s *Segment) Remove() error {
	if err := s.Close(); err != nil {
		return err
	}
	if err := os.Remove(s.index.file.Name()); err != nil {
		return err
	}
	return os.Remove(s.logFile.Name())
}

func (s *Segment) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.bufWriter != nil {
		if err := s.bufWriter.Flush(); err != nil {
			return err
		}
	}
	if err := s.logFile.Close(); err != nil {
		return err
	}
	return s.index.Close()
}
