// Package checkpoint persists per-partition high watermarks, one file per
// data directory. Format: version line, count line, then one
// "topic partition offset" line per partition. The file is rewritten
// wholesale through a temp file and rename so readers never observe a
// partial checkpoint.
package checkpoint

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/solivaf/kafka/common"
	"github.com/solivaf/kafka/errs"
)

const (
	FileName = "replication-offset-checkpoint"
	version  = 0
)

type File struct {
	mu   sync.Mutex
	path string
}

func NewFile(dir string) *File {
	return &File{path: filepath.Join(dir, FileName)}
}

func (f *File) Path() string { return f.path }

// Write replaces the checkpoint with the given offsets.
func (f *File) Write(offsets map[common.TopicPartition]uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	tmp := f.path + ".tmp"
	file, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return errs.ErrWriteCheckpoint(err)
	}

	w := bufio.NewWriter(file)
	fmt.Fprintf(w, "%d\n", version)
	fmt.Fprintf(w, "%d\n", len(offsets))
	for tp, off := range offsets {
		fmt.Fprintf(w, "%s %d %d\n", tp.Topic, tp.Partition, off)
	}
	if err := w.Flush(); err != nil {
		file.Close()
		os.Remove(tmp)
		return errs.ErrWriteCheckpoint(err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(tmp)
		return errs.ErrWriteCheckpoint(err)
	}
	if err := file.Close(); err != nil {
		os.Remove(tmp)
		return errs.ErrWriteCheckpoint(err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		os.Remove(tmp)
		return errs.ErrWriteCheckpoint(err)
	}
	return nil
}

// Read returns the persisted offsets. A missing file is an empty checkpoint,
// not an error.
func (f *File) Read() (map[common.TopicPartition]uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	file, err := os.Open(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[common.TopicPartition]uint64{}, nil
		}
		return nil, err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	line := 0

	readLine := func() (string, bool) {
		if !scanner.Scan() {
			return "", false
		}
		line++
		return scanner.Text(), true
	}

	versionLine, ok := readLine()
	if !ok {
		return nil, errs.ErrCheckpointCorruptf(f.path, line)
	}
	var v int
	if _, err := fmt.Sscanf(versionLine, "%d", &v); err != nil || v != version {
		return nil, errs.ErrCheckpointCorruptf(f.path, line)
	}

	countLine, ok := readLine()
	if !ok {
		return nil, errs.ErrCheckpointCorruptf(f.path, line)
	}
	var count int
	if _, err := fmt.Sscanf(countLine, "%d", &count); err != nil {
		return nil, errs.ErrCheckpointCorruptf(f.path, line)
	}

	offsets := make(map[common.TopicPartition]uint64, count)
	for i := 0; i < count; i++ {
		entry, ok := readLine()
		if !ok {
			return nil, errs.ErrCheckpointCorruptf(f.path, line)
		}
		var (
			topic     string
			partition int32
			offset    uint64
		)
		if _, err := fmt.Sscanf(entry, "%s %d %d", &topic, &partition, &offset); err != nil {
			return nil, errs.ErrCheckpointCorruptf(f.path, line)
		}
		offsets[common.NewTopicPartition(topic, partition)] = offset
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return offsets, nil
}
