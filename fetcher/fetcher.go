// Package fetcher runs the follower side of replication: one loop per
// followed partition, pulling records from the leader and adopting its high
// watermark. The leader address is resolved through the metadata cache on
// every round so leadership moves are picked up without restarting the loop.
package fetcher

import (
	"sync"
	"time"

	"github.com/solivaf/kafka/cluster"
	"github.com/solivaf/kafka/common"
	"github.com/solivaf/kafka/config"
	"github.com/solivaf/kafka/protocol"
	"github.com/solivaf/kafka/replication"
	"go.uber.org/zap"
)

const fetchMaxWaitMs = 500

// Manager implements replication.FetcherManager. The partition registry is
// bound after the replica manager is built; no fetch loop starts before
// that.
type Manager struct {
	localID  int32
	cfg      config.ReplicationConfig
	metadata *cluster.MetadataCache
	pool     *cluster.BrokerPool
	logger   *zap.Logger

	mu       sync.Mutex
	registry *replication.PartitionRegistry
	loops    map[common.TopicPartition]*fetchLoop
	closed   bool
}

func NewManager(localID int32, cfg config.ReplicationConfig, metadata *cluster.MetadataCache, pool *cluster.BrokerPool, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		localID:  localID,
		cfg:      cfg,
		metadata: metadata,
		pool:     pool,
		logger:   logger.Named("fetcher"),
		loops:    make(map[common.TopicPartition]*fetchLoop),
	}
}

// Bind attaches the partition registry once the replica manager exists.
func (m *Manager) Bind(registry *replication.PartitionRegistry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.registry = registry
}

func (m *Manager) StartFetcher(tp common.TopicPartition, leaderID, leaderEpoch int32, fetchOffset uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed || m.registry == nil {
		return
	}
	if old, ok := m.loops[tp]; ok {
		old.stop()
	}
	loop := &fetchLoop{
		manager:     m,
		tp:          tp,
		leaderID:    leaderID,
		fetchOffset: fetchOffset,
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}
	m.loops[tp] = loop
	go loop.run()
	m.logger.Info("fetch loop started",
		zap.String("partition", tp.String()),
		zap.Int32("leader", leaderID),
		zap.Int32("epoch", leaderEpoch),
		zap.Uint64("fetch_offset", fetchOffset))
}

func (m *Manager) StopFetcher(tp common.TopicPartition) {
	m.mu.Lock()
	loop, ok := m.loops[tp]
	delete(m.loops, tp)
	m.mu.Unlock()
	if ok {
		loop.stop()
		m.logger.Info("fetch loop stopped", zap.String("partition", tp.String()))
	}
}

func (m *Manager) CloseAll() {
	m.mu.Lock()
	m.closed = true
	loops := make([]*fetchLoop, 0, len(m.loops))
	for tp, loop := range m.loops {
		loops = append(loops, loop)
		delete(m.loops, tp)
	}
	m.mu.Unlock()
	for _, loop := range loops {
		loop.stop()
	}
}

type fetchLoop struct {
	manager     *Manager
	tp          common.TopicPartition
	leaderID    int32
	fetchOffset uint64

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

func (l *fetchLoop) stop() {
	l.stopOnce.Do(func() { close(l.stopCh) })
	<-l.doneCh
}

func (l *fetchLoop) run() {
	defer close(l.doneCh)
	backoff := l.manager.cfg.FetchBackoffOrDefault()
	for {
		select {
		case <-l.stopCh:
			return
		default:
		}
		if err := l.fetchOnce(); err != nil {
			l.manager.logger.Debug("fetch round failed",
				zap.String("partition", l.tp.String()), zap.Error(err))
			select {
			case <-l.stopCh:
				return
			case <-time.After(backoff):
			}
		}
	}
}

func (l *fetchLoop) fetchOnce() error {
	part, ok := l.manager.registry.Get(l.tp)
	if !ok {
		return errPartitionGone
	}
	if part.Role() != replication.RoleFollower {
		return errNotFollowing
	}
	// The partition's leadership may have moved since the loop started.
	leaderID := part.LeaderID()
	info, ok := l.manager.metadata.Broker(leaderID)
	if !ok {
		return errLeaderUnknown
	}
	broker := l.manager.pool.Get(leaderID, info.Addr)

	fetchOffset := part.LEO()
	resp, err := broker.Call(&protocol.FetchRequest{
		ReplicaID: l.manager.localID,
		MaxWaitMs: fetchMaxWaitMs,
		MinBytes:  1,
		Partitions: []protocol.FetchPartition{{
			Topic:       l.tp.Topic,
			Partition:   l.tp.Partition,
			FetchOffset: fetchOffset,
			MaxBytes:    l.manager.cfg.FetchMaxBytesOrDefault(),
		}},
	})
	if err != nil {
		return err
	}
	fr, ok := resp.(*protocol.FetchResponse)
	if !ok || len(fr.Results) != 1 {
		return errBadResponse
	}
	res := fr.Results[0]
	if res.ErrorCode != protocol.ErrNone {
		return res.ErrorCode.Err()
	}

	if len(res.RecordBatch) > 0 {
		records, err := protocol.DecodeRecordBatch(res.RecordBatch)
		if err != nil {
			return err
		}
		values := make([][]byte, len(records))
		for i, r := range records {
			values[i] = r.Value
		}
		if _, err := part.AppendAsFollower(values); err != nil {
			return err
		}
	}
	// Capped at the local log end offset, which may trail the leader's.
	part.SetFollowerHighWatermark(res.HighWatermark)
	return nil
}
