package log

import (
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"sync"

	"github.com/solivaf/kafka/checkpoint"
	"github.com/solivaf/kafka/common"
	"go.uber.org/zap"
)

// Provider resolves or creates the LogManager for a partition, spreading
// partitions across the configured data directories. It owns checkpoint
// placement: one high-watermark checkpoint file per directory, read once at
// startup to seed the initial watermark of freshly opened logs.
type Provider struct {
	mu             sync.RWMutex
	dirs           []string
	logs           map[common.TopicPartition]*LogManager
	seeds          map[string]map[common.TopicPartition]uint64
	checkpoints    map[string]*checkpoint.File
	maxRecordBytes int
	logger         *zap.Logger
}

func NewProvider(dirs []string, maxRecordBytes int, logger *zap.Logger) (*Provider, error) {
	if len(dirs) == 0 {
		return nil, fmt.Errorf("log provider: at least one data dir required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Provider{
		dirs:           dirs,
		logs:           make(map[common.TopicPartition]*LogManager),
		seeds:          make(map[string]map[common.TopicPartition]uint64),
		checkpoints:    make(map[string]*checkpoint.File),
		maxRecordBytes: maxRecordBytes,
		logger:         logger,
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, err
		}
		cp := checkpoint.NewFile(dir)
		p.checkpoints[dir] = cp
		seeds, err := cp.Read()
		if err != nil {
			return nil, err
		}
		p.seeds[dir] = seeds
	}
	return p, nil
}

// DirFor returns the data directory hosting (or that would host) the
// partition's log. Placement is deterministic so restarts find their data.
func (p *Provider) DirFor(tp common.TopicPartition) string {
	h := fnv.New32a()
	h.Write([]byte(tp.String()))
	return p.dirs[int(h.Sum32())%len(p.dirs)]
}

// CheckpointFor returns the checkpoint file of a data directory.
func (p *Provider) CheckpointFor(dir string) *checkpoint.File {
	return p.checkpoints[dir]
}

func (p *Provider) Dirs() []string { return p.dirs }

// GetOrCreate returns the partition's log, opening it on first reference.
// Concurrent callers for the same partition observe the same instance.
func (p *Provider) GetOrCreate(tp common.TopicPartition) (*LogManager, error) {
	p.mu.RLock()
	lm, ok := p.logs[tp]
	p.mu.RUnlock()
	if ok {
		return lm, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if lm, ok := p.logs[tp]; ok {
		return lm, nil
	}

	dir := p.DirFor(tp)
	lm, err := NewLogManager(filepath.Join(dir, tp.String()), p.maxRecordBytes)
	if err != nil {
		return nil, err
	}
	if seed, ok := p.seeds[dir][tp]; ok {
		// The checkpoint may be ahead of a truncated log; SetHighWatermark
		// caps at LEO.
		lm.SetHighWatermark(seed)
		p.logger.Debug("seeded high watermark from checkpoint",
			zap.String("partition", tp.String()),
			zap.Uint64("checkpointed", seed),
			zap.Uint64("high_watermark", lm.HighWatermark()))
	}
	p.logs[tp] = lm
	return lm, nil
}

func (p *Provider) Get(tp common.TopicPartition) (*LogManager, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	lm, ok := p.logs[tp]
	return lm, ok
}

// PartitionsByDir snapshots the open logs grouped by their data directory.
func (p *Provider) PartitionsByDir() map[string][]common.TopicPartition {
	p.mu.RLock()
	defer p.mu.RUnlock()
	byDir := make(map[string][]common.TopicPartition)
	for tp := range p.logs {
		dir := p.DirFor(tp)
		byDir[dir] = append(byDir[dir], tp)
	}
	return byDir
}

// Remove closes and deletes the partition's log.
func (p *Provider) Remove(tp common.TopicPartition) error {
	p.mu.Lock()
	lm, ok := p.logs[tp]
	delete(p.logs, tp)
	p.mu.Unlock()
	if !ok {
		return nil
	}
	return lm.Delete()
}

func (p *Provider) CloseAll() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var firstErr error
	for tp, lm := range p.logs {
		if err := lm.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(p.logs, tp)
	}
	return firstErr
}
