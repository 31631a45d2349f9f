package log

import (
	"errors"
	"strconv"
	"testing"

	"github.com/solivaf/kafka/errs"
)

func setupTestLog(t *testing.T) (*Log, string) {
	t.Helper()
	dir := t.TempDir()
	l, err := NewLog(dir)
	if err != nil {
		t.Fatalf("failed to create log: %v", err)
	}
	t.Cleanup(func() { l.Close() })
	return l, dir
}

func TestLogAppendRead(t *testing.T) {
	l, _ := setupTestLog(t)

	records := [][]byte{
		[]byte("first log record"),
		[]byte("second log record"),
		[]byte("third log record"),
	}
	for _, r := range records {
		if _, err := l.Append(r); err != nil {
			t.Fatalf("failed to append record: %v", err)
		}
	}

	entries, err := l.ReadRange(0, 1<<20, l.NextOffset())
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	for i, r := range records {
		if string(entries[i].Value) != string(r) {
			t.Errorf("record mismatch at %d: got %s, want %s", i, entries[i].Value, r)
		}
	}
}

func TestLogOutOfRangeRead(t *testing.T) {
	l, _ := setupTestLog(t)

	if _, err := l.ReadRange(999, 0, 1000); !errors.Is(err, errs.ErrLogOffsetOutOfRange) {
		t.Fatalf("expected out of range error, got %v", err)
	}
}

func TestLogSegmentRotation(t *testing.T) {
	l, _ := setupTestLog(t)

	numRecords := 100000
	for i := 0; i < numRecords; i++ {
		if _, err := l.Append([]byte("log record " + strconv.Itoa(i))); err != nil {
			t.Fatalf("failed to append record: %v", err)
		}
	}
	if len(l.segments) < 2 {
		t.Fatalf("expected multiple segments, got %d", len(l.segments))
	}

	// Reads work across the rolled segments.
	last := l.NextOffset() - 1
	entries, err := l.ReadRange(last, 0, last+1)
	if err != nil {
		t.Fatalf("failed to read last record: %v", err)
	}
	want := "log record " + strconv.Itoa(numRecords-1)
	if len(entries) != 1 || string(entries[0].Value) != want {
		t.Fatalf("last record mismatch: got %q, want %q", entries[0].Value, want)
	}

	boundary := l.segments[1].BaseOffset
	entries, err = l.ReadRange(boundary-1, 1<<20, boundary+2)
	if err != nil {
		t.Fatalf("failed to read across segment boundary: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries across boundary, got %d", len(entries))
	}
	for i, e := range entries {
		if e.Offset != boundary-1+uint64(i) {
			t.Fatalf("unexpected offset sequence %v", entries)
		}
	}
}

func TestLogReopen(t *testing.T) {
	dir := t.TempDir()
	l, err := NewLog(dir)
	if err != nil {
		t.Fatalf("failed to create log: %v", err)
	}
	for i := 0; i < 10; i++ {
		if _, err := l.Append([]byte("record " + strconv.Itoa(i))); err != nil {
			t.Fatalf("failed to append record: %v", err)
		}
	}
	if err := l.Close(); err != nil {
		t.Fatalf("failed to close log: %v", err)
	}

	reopened, err := NewLog(dir)
	if err != nil {
		t.Fatalf("failed to reopen log: %v", err)
	}
	defer reopened.Close()

	if reopened.NextOffset() != 10 {
		t.Fatalf("expected next offset 10 after reopen, got %d", reopened.NextOffset())
	}
	offset, err := reopened.Append([]byte("record 10"))
	if err != nil {
		t.Fatalf("failed to append after reopen: %v", err)
	}
	if offset != 10 {
		t.Fatalf("expected offset 10, got %d", offset)
	}
}
