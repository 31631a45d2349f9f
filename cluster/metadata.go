package cluster

import (
	"sync"

	"github.com/solivaf/kafka/protocol"
)

// MetadataCache is the broker's view of the live cluster members, refreshed
// from controller requests and serf membership events. Follower fetch loops
// resolve leader addresses through it.
type MetadataCache struct {
	mu      sync.RWMutex
	brokers map[int32]protocol.BrokerInfo
}

func NewMetadataCache() *MetadataCache {
	return &MetadataCache{brokers: make(map[int32]protocol.BrokerInfo)}
}

// UpdateBrokers merges the controller's live broker list into the cache.
func (c *MetadataCache) UpdateBrokers(brokers []protocol.BrokerInfo) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, b := range brokers {
		c.brokers[b.ID] = b
	}
}

// SetBroker records one member (serf join path).
func (c *MetadataCache) SetBroker(b protocol.BrokerInfo) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.brokers[b.ID] = b
}

// RemoveBroker drops a departed member.
func (c *MetadataCache) RemoveBroker(id int32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.brokers, id)
}

func (c *MetadataCache) Broker(id int32) (protocol.BrokerInfo, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	b, ok := c.brokers[id]
	return b, ok
}

func (c *MetadataCache) IsAlive(id int32) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.brokers[id]
	return ok
}

// Brokers snapshots the known members.
func (c *MetadataCache) Brokers() []protocol.BrokerInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]protocol.BrokerInfo, 0, len(c.brokers))
	for _, b := range c.brokers {
		out = append(out, b)
	}
	return out
}
