package replication

import (
	"sync"

	"github.com/solivaf/kafka/common"
)

// PartitionRegistry holds every partition hosted on this broker.
type PartitionRegistry struct {
	mu         sync.RWMutex
	partitions map[common.TopicPartition]*Partition
}

func NewPartitionRegistry() *PartitionRegistry {
	return &PartitionRegistry{partitions: make(map[common.TopicPartition]*Partition)}
}

func (r *PartitionRegistry) Get(tp common.TopicPartition) (*Partition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.partitions[tp]
	return p, ok
}

// GetOrCreate returns the existing partition or installs the one built by
// create. Concurrent callers observe a single instance; create runs under
// the registry lock and must not call back into the registry.
func (r *PartitionRegistry) GetOrCreate(tp common.TopicPartition, create func() (*Partition, error)) (*Partition, error) {
	r.mu.RLock()
	p, ok := r.partitions[tp]
	r.mu.RUnlock()
	if ok {
		return p, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.partitions[tp]; ok {
		return p, nil
	}
	p, err := create()
	if err != nil {
		return nil, err
	}
	r.partitions[tp] = p
	return p, nil
}

func (r *PartitionRegistry) Remove(tp common.TopicPartition) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.partitions, tp)
}

// All snapshots the hosted partitions.
func (r *PartitionRegistry) All() []*Partition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Partition, 0, len(r.partitions))
	for _, p := range r.partitions {
		out = append(out, p)
	}
	return out
}

func (r *PartitionRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.partitions)
}
