package segment

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/solivaf/kafka/errs"
)

func setupTestSegment(t *testing.T, baseOffset uint64) (*Segment, string) {
	t.Helper()
	dir := t.TempDir()
	s, err := NewSegment(baseOffset, dir)
	if err != nil {
		t.Fatalf("failed to create segment: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s, dir
}

func TestSegmentAppendRead(t *testing.T) {
	s, _ := setupTestSegment(t, 0)

	records := [][]byte{
		[]byte("first record"),
		[]byte("second record"),
		[]byte("third record"),
	}
	for i, r := range records {
		offset, err := s.Append(r)
		if err != nil {
			t.Fatalf("failed to append record: %v", err)
		}
		if offset != uint64(i) {
			t.Fatalf("expected offset %d, got %d", i, offset)
		}
	}

	for i, r := range records {
		got, err := s.Read(uint64(i))
		if err != nil {
			t.Fatalf("failed to read offset %d: %v", i, err)
		}
		if string(got) != string(r) {
			t.Errorf("record mismatch at %d: got %s, want %s", i, got, r)
		}
	}
}

func TestSegmentBaseOffset(t *testing.T) {
	s, _ := setupTestSegment(t, 100)

	offset, err := s.Append([]byte("payload"))
	if err != nil {
		t.Fatalf("failed to append record: %v", err)
	}
	if offset != 100 {
		t.Fatalf("expected offset 100, got %d", offset)
	}

	if _, err := s.Read(99); !errors.Is(err, errs.ErrSegmentOffsetNotFound) {
		t.Fatalf("expected offset not found below base, got %v", err)
	}
}

func TestSegmentReadRange(t *testing.T) {
	s, _ := setupTestSegment(t, 0)

	for i := 0; i < 10; i++ {
		if _, err := s.Append([]byte("record " + strconv.Itoa(i))); err != nil {
			t.Fatalf("failed to append record: %v", err)
		}
	}

	entries, err := s.ReadRange(3, 0, 6)
	if err != nil {
		t.Fatalf("read range failed: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("maxBytes 0 caps at one entry, got %d", len(entries))
	}
	if entries[0].Offset != 3 {
		t.Fatalf("expected offset 3, got %d", entries[0].Offset)
	}

	entries, err = s.ReadRange(3, 1<<20, 6)
	if err != nil {
		t.Fatalf("read range failed: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries before bound, got %d", len(entries))
	}
	if entries[2].Offset != 5 {
		t.Fatalf("bound is exclusive, last offset should be 5, got %d", entries[2].Offset)
	}
}

func TestSegmentReadRangeByteBudget(t *testing.T) {
	s, _ := setupTestSegment(t, 0)

	large := make([]byte, 512)
	for i := 0; i < 4; i++ {
		if _, err := s.Append(large); err != nil {
			t.Fatalf("failed to append record: %v", err)
		}
	}

	// The budget covers one entry plus change: the second entry must not be
	// included.
	entries, err := s.ReadRange(0, 600, 4)
	if err != nil {
		t.Fatalf("read range failed: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected budget to cap at 1 entry, got %d", len(entries))
	}

	// A budget smaller than any record still returns the first entry so the
	// reader can make progress.
	entries, err = s.ReadRange(1, 10, 4)
	if err != nil {
		t.Fatalf("read range failed: %v", err)
	}
	if len(entries) != 1 || entries[0].Offset != 1 {
		t.Fatalf("undersized budget must still return one entry, got %d", len(entries))
	}
}

func TestSegmentRecover(t *testing.T) {
	dir := t.TempDir()
	s, err := NewSegment(0, dir)
	if err != nil {
		t.Fatalf("failed to create segment: %v", err)
	}
	for i := 0; i < 100; i++ {
		if _, err := s.Append([]byte("record " + strconv.Itoa(i))); err != nil {
			t.Fatalf("failed to append record: %v", err)
		}
	}
	if err := s.Close(); err != nil {
		t.Fatalf("failed to close segment: %v", err)
	}

	reopened, err := LoadExistingSegment(0, dir)
	if err != nil {
		t.Fatalf("failed to load segment: %v", err)
	}
	defer reopened.Close()

	if reopened.NextOffset != 100 {
		t.Fatalf("expected recovered next offset 100, got %d", reopened.NextOffset)
	}
	got, err := reopened.Read(99)
	if err != nil {
		t.Fatalf("failed to read after recovery: %v", err)
	}
	if string(got) != "record 99" {
		t.Errorf("unexpected payload after recovery: %s", got)
	}

	// Appends continue with the next offset.
	offset, err := reopened.Append([]byte("record 100"))
	if err != nil {
		t.Fatalf("failed to append after recovery: %v", err)
	}
	if offset != 100 {
		t.Fatalf("expected offset 100, got %d", offset)
	}
}

func TestSegmentRecoverTruncatesPartialRecord(t *testing.T) {
	dir := t.TempDir()
	s, err := NewSegment(0, dir)
	if err != nil {
		t.Fatalf("failed to create segment: %v", err)
	}
	for i := 0; i < 10; i++ {
		if _, err := s.Append([]byte("record " + strconv.Itoa(i))); err != nil {
			t.Fatalf("failed to append record: %v", err)
		}
	}
	if err := s.Close(); err != nil {
		t.Fatalf("failed to close segment: %v", err)
	}

	// Chop the tail mid-record, as a crash during a write would.
	logPath := filepath.Join(dir, formatLogFileName(0))
	stat, err := os.Stat(logPath)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Truncate(logPath, stat.Size()-5); err != nil {
		t.Fatal(err)
	}

	reopened, err := LoadExistingSegment(0, dir)
	if err != nil {
		t.Fatalf("failed to load segment: %v", err)
	}
	defer reopened.Close()

	if reopened.NextOffset != 9 {
		t.Fatalf("expected partial record dropped, next offset 9, got %d", reopened.NextOffset)
	}
	if _, err := reopened.Read(9); !errors.Is(err, errs.ErrSegmentOffsetNotFound) {
		t.Fatalf("truncated record must not be readable, got %v", err)
	}
}
