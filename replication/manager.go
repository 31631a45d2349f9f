// Package replication implements the broker's replica management core:
// per-partition role state guarded by leader epochs, the produce and fetch
// paths with deferred completion, high watermark maintenance and periodic
// checkpointing. Role assignments come from an external controller; this
// layer applies them and keeps every invariant local to the broker.
package replication

import (
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/solivaf/kafka/cluster"
	"github.com/solivaf/kafka/common"
	"github.com/solivaf/kafka/config"
	"github.com/solivaf/kafka/errs"
	"github.com/solivaf/kafka/log"
	"github.com/solivaf/kafka/protocol"
	"github.com/solivaf/kafka/purgatory"
	"go.uber.org/zap"
)

// FetcherManager runs the follower side of replication: one fetch loop per
// partition this broker follows. Implemented by the fetcher package;
// declared here so the manager does not depend on the transport.
type FetcherManager interface {
	StartFetcher(tp common.TopicPartition, leaderID, leaderEpoch int32, fetchOffset uint64)
	StopFetcher(tp common.TopicPartition)
	CloseAll()
}

// NoopFetcherManager satisfies FetcherManager for single-broker deployments
// and tests that drive follower state by hand.
type NoopFetcherManager struct{}

func (NoopFetcherManager) StartFetcher(common.TopicPartition, int32, int32, uint64) {}
func (NoopFetcherManager) StopFetcher(common.TopicPartition)                        {}
func (NoopFetcherManager) CloseAll()                                                {}

// ReplicaManager owns every partition hosted on this broker and serves the
// produce, fetch and leader-and-isr paths. Responses are delivered through
// callbacks so deferred requests answer from purgatory without holding a
// request thread.
type ReplicaManager struct {
	localID int32
	cfg     config.ReplicationConfig
	logger  *zap.Logger
	clock   common.Clock

	provider *log.Provider
	registry *PartitionRegistry
	metadata *cluster.MetadataCache
	fetchers FetcherManager

	producePurgatory *purgatory.DelayedOperationPurgatory
	fetchPurgatory   *purgatory.DelayedOperationPurgatory

	mu              sync.Mutex
	controllerEpoch int32

	shutdownOnce sync.Once
	shuttingDown atomic.Bool
	stopCh       chan struct{}
	doneCh       chan struct{}
}

func NewReplicaManager(
	localID int32,
	cfg config.ReplicationConfig,
	provider *log.Provider,
	metadata *cluster.MetadataCache,
	fetchers FetcherManager,
	clock common.Clock,
	logger *zap.Logger,
) *ReplicaManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if clock == nil {
		clock = common.NewSystemClock()
	}
	if fetchers == nil {
		fetchers = NoopFetcherManager{}
	}
	m := &ReplicaManager{
		localID:          localID,
		cfg:              cfg,
		logger:           logger.Named("replica-manager"),
		clock:            clock,
		provider:         provider,
		registry:         NewPartitionRegistry(),
		metadata:         metadata,
		fetchers:         fetchers,
		producePurgatory: purgatory.New("produce", clock, logger),
		fetchPurgatory:   purgatory.New("fetch", clock, logger),
		controllerEpoch:  -1,
		stopCh:           make(chan struct{}),
		doneCh:           make(chan struct{}),
	}
	go m.checkpointLoop()
	return m
}

func (m *ReplicaManager) LocalID() int32 { return m.localID }

func (m *ReplicaManager) Registry() *PartitionRegistry { return m.registry }

func (m *ReplicaManager) Metadata() *cluster.MetadataCache { return m.metadata }

func (m *ReplicaManager) GetPartition(tp common.TopicPartition) (*Partition, bool) {
	return m.registry.Get(tp)
}

// isInternalTopic reports whether a topic is broker-internal; producers must
// opt in explicitly to write to one.
func isInternalTopic(topic string) bool { return strings.HasPrefix(topic, "__") }

// Append handles a produce request. Records are appended to every addressed
// partition this broker leads; the acknowledgment level decides when respond
// fires. acks=0 acknowledges receipt without outcomes, acks=1 acknowledges
// after the leader append, acks=-1 defers until the high watermark covers
// the appended records on every partition.
func (m *ReplicaManager) Append(req *protocol.ProduceRequest, respond func(*protocol.ProduceResponse)) {
	acks := protocol.RequiredAcks(req.RequiredAcks)
	if !acks.Valid() {
		// Rejected before any append; no partial side effects.
		m.respondAllProduce(req, respond, errs.ErrInvalidAcksf(req.RequiredAcks))
		return
	}
	if m.shuttingDown.Load() {
		m.respondAllProduce(req, respond, errs.ErrShuttingDown)
		return
	}

	order := make([]common.TopicPartition, 0, len(req.Entries))
	statuses := make(map[common.TopicPartition]*produceStatus, len(req.Entries))
	for _, e := range req.Entries {
		tp := common.NewTopicPartition(e.Topic, e.Partition)
		st := &produceStatus{}
		order = append(order, tp)
		statuses[tp] = st

		if isInternalTopic(e.Topic) && !req.InternalTopicsAllowed {
			st.err = errs.ErrInternalTopicf(e.Topic)
			continue
		}
		part, ok := m.registry.Get(tp)
		if !ok {
			st.err = errs.ErrNotLeaderf(tp)
			continue
		}
		base, last, err := part.AppendAsLeader(e.Records)
		if err != nil {
			st.err = err
			continue
		}
		st.baseOffset = base
		st.lastOffset = last
		st.requiredOffset = last + 1
		st.acksPending = acks == protocol.AcksAll && len(e.Records) > 0
	}

	// New data may satisfy parked fetches (followers immediately, consumers
	// once the high watermark moved, which AppendAsLeader does for a
	// single-member ISR).
	for tp, st := range statuses {
		if st.err == nil {
			m.fetchPurgatory.CheckAndComplete(tp)
		}
	}

	switch acks {
	case protocol.AcksNone:
		respond(&protocol.ProduceResponse{})
	case protocol.AcksLeader:
		respond(produceResponse(order, statuses))
	case protocol.AcksAll:
		keys := pendingKeys(order, statuses)
		if len(keys) == 0 {
			respond(produceResponse(order, statuses))
			return
		}
		deadline := m.clock.Now().Add(time.Duration(req.TimeoutMs) * time.Millisecond)
		op := NewDelayedProduce(deadline, m.registry, order, statuses, respond)
		m.producePurgatory.TryCompleteElseWatch(op, keys)
	}
}

func (m *ReplicaManager) respondAllProduce(req *protocol.ProduceRequest, respond func(*protocol.ProduceResponse), err error) {
	code := protocol.CodeForErr(err)
	resp := &protocol.ProduceResponse{Results: make([]protocol.ProducePartitionResult, 0, len(req.Entries))}
	for _, e := range req.Entries {
		resp.Results = append(resp.Results, protocol.ProducePartitionResult{
			Topic:     e.Topic,
			Partition: e.Partition,
			ErrorCode: code,
		})
	}
	respond(resp)
}

func produceResponse(order []common.TopicPartition, statuses map[common.TopicPartition]*produceStatus) *protocol.ProduceResponse {
	resp := &protocol.ProduceResponse{Results: make([]protocol.ProducePartitionResult, 0, len(order))}
	for _, tp := range order {
		st := statuses[tp]
		resp.Results = append(resp.Results, protocol.ProducePartitionResult{
			Topic:      tp.Topic,
			Partition:  tp.Partition,
			ErrorCode:  protocol.CodeForErr(st.err),
			BaseOffset: st.baseOffset,
			LastOffset: st.lastOffset,
		})
	}
	return resp
}

func pendingKeys(order []common.TopicPartition, statuses map[common.TopicPartition]*produceStatus) []common.TopicPartition {
	var keys []common.TopicPartition
	for _, tp := range order {
		if statuses[tp].acksPending {
			keys = append(keys, tp)
		}
	}
	return keys
}

// Fetch handles a fetch request from a consumer or a follower broker. A
// follower fetch doubles as a progress report: its fetch offset is its log
// end offset, which may advance the high watermark and in turn release
// waiting acks=-1 produces. When too little data is readable and the
// request allows waiting, the fetch parks in purgatory.
func (m *ReplicaManager) Fetch(req *protocol.FetchRequest, respond func(*protocol.FetchResponse)) {
	consumer := req.ReplicaID < 0
	now := m.clock.Now()
	maxBytesCap := m.cfg.FetchMaxBytesOrDefault()

	statuses := make([]*fetchStatus, 0, len(req.Partitions))
	var hwAdvanced []common.TopicPartition
	for _, fp := range req.Partitions {
		tp := common.NewTopicPartition(fp.Topic, fp.Partition)
		st := &fetchStatus{tp: tp, fetchOffset: fp.FetchOffset, maxBytes: fp.MaxBytes}
		if st.maxBytes == 0 || st.maxBytes > maxBytesCap {
			st.maxBytes = maxBytesCap
		}
		statuses = append(statuses, st)

		part, ok := m.registry.Get(tp)
		if !ok {
			st.err = errs.ErrNotLeaderf(tp)
			continue
		}
		if !consumer {
			advanced, err := part.UpdateFollowerFetchState(req.ReplicaID, fp.FetchOffset, now)
			if err != nil {
				st.err = err
				continue
			}
			if advanced {
				hwAdvanced = append(hwAdvanced, tp)
			}
		}
	}

	// Completion callbacks run here, outside any partition lock.
	for _, tp := range hwAdvanced {
		m.producePurgatory.CheckAndComplete(tp)
		m.fetchPurgatory.CheckAndComplete(tp)
	}

	resp, bytesRead, hasError := m.readFetchResultsAccounted(statuses, consumer)
	if req.MaxWaitMs <= 0 || req.MinBytes <= 0 || bytesRead >= int(req.MinBytes) || hasError || m.shuttingDown.Load() {
		respond(resp)
		return
	}

	deadline := now.Add(time.Duration(req.MaxWaitMs) * time.Millisecond)
	op := NewDelayedFetch(deadline, m, consumer, req.MinBytes, statuses, respond)
	keys := make([]common.TopicPartition, 0, len(statuses))
	for _, st := range statuses {
		keys = append(keys, st.tp)
	}
	m.fetchPurgatory.TryCompleteElseWatch(op, keys)
}

// readFetchResults builds the response for a fetch, reading each partition
// once. Reads are idempotent so the delayed path can call this at completion
// time and observe the data that satisfied it.
func (m *ReplicaManager) readFetchResults(statuses []*fetchStatus, consumer bool) *protocol.FetchResponse {
	resp, _, _ := m.readFetchResultsAccounted(statuses, consumer)
	return resp
}

func (m *ReplicaManager) readFetchResultsAccounted(statuses []*fetchStatus, consumer bool) (*protocol.FetchResponse, int, bool) {
	resp := &protocol.FetchResponse{Results: make([]protocol.FetchPartitionResult, 0, len(statuses))}
	bytesRead := 0
	hasError := false
	for _, st := range statuses {
		res := protocol.FetchPartitionResult{Topic: st.tp.Topic, Partition: st.tp.Partition}
		err := st.err
		var part *Partition
		if err == nil {
			var ok bool
			part, ok = m.registry.Get(st.tp)
			if !ok {
				err = errs.ErrNotLeaderf(st.tp)
			}
		}
		if err == nil {
			entries, hw, logStart, readErr := part.ReadRecords(st.fetchOffset, st.maxBytes, consumer)
			if readErr != nil {
				err = readErr
			} else {
				res.HighWatermark = hw
				res.LogStartOffset = logStart
				if len(entries) > 0 {
					records := make([]protocol.Record, len(entries))
					for i, e := range entries {
						records[i] = protocol.Record{Offset: e.Offset, Value: e.Value}
						bytesRead += len(e.Value)
					}
					res.RecordBatch = protocol.EncodeRecordBatch(records, part.LeaderEpoch())
				}
			}
		}
		if err != nil {
			res.ErrorCode = protocol.CodeForErr(err)
			hasError = true
		}
		resp.Results = append(resp.Results, res)
	}
	return resp, bytesRead, hasError
}

// BecomeLeaderOrFollower applies a controller role assignment. Per
// partition, a request epoch not newer than the current one is ignored and
// reported as success so controller retries stay idempotent. Demotion to
// follower resolves pending leader-side operations with a not-leader error
// rather than letting them time out.
func (m *ReplicaManager) BecomeLeaderOrFollower(req *protocol.LeaderAndISRRequest) *protocol.LeaderAndISRResponse {
	if len(req.LiveBrokers) > 0 {
		m.metadata.UpdateBrokers(req.LiveBrokers)
	}
	m.mu.Lock()
	if req.ControllerEpoch > m.controllerEpoch {
		m.controllerEpoch = req.ControllerEpoch
	}
	m.mu.Unlock()

	resp := &protocol.LeaderAndISRResponse{Results: make([]protocol.LeaderAndISRPartitionResult, 0, len(req.Partitions))}
	for _, state := range req.Partitions {
		tp := common.NewTopicPartition(state.Topic, state.Partition)
		res := protocol.LeaderAndISRPartitionResult{Topic: state.Topic, Partition: state.Partition}

		part, err := m.getOrCreatePartition(tp)
		if err != nil {
			m.logger.Error("failed to open partition log",
				zap.String("partition", tp.String()), zap.Error(err))
			res.ErrorCode = protocol.ErrUnknown
			resp.Results = append(resp.Results, res)
			continue
		}

		if state.Leader == m.localID {
			if part.MakeLeader(state) {
				m.fetchers.StopFetcher(tp)
				// A shrunk ISR (or one containing only this broker) may
				// already satisfy parked operations.
				m.producePurgatory.CheckAndComplete(tp)
				m.fetchPurgatory.CheckAndComplete(tp)
			}
		} else {
			if part.MakeFollower(state) {
				m.producePurgatory.CheckAndComplete(tp)
				m.fetchPurgatory.CheckAndComplete(tp)
				m.fetchers.StartFetcher(tp, state.Leader, state.LeaderEpoch, part.LEO())
			}
		}
		resp.Results = append(resp.Results, res)
	}
	return resp
}

func (m *ReplicaManager) getOrCreatePartition(tp common.TopicPartition) (*Partition, error) {
	return m.registry.GetOrCreate(tp, func() (*Partition, error) {
		lm, err := m.provider.GetOrCreate(tp)
		if err != nil {
			return nil, err
		}
		return NewPartition(tp, m.localID, lm, m.logger), nil
	})
}

// CheckpointHighWatermarks persists the high watermark of every open
// partition, one checkpoint file per data directory. Recovery reads these to
// seed watermarks before any replication traffic.
func (m *ReplicaManager) CheckpointHighWatermarks() {
	for dir, tps := range m.provider.PartitionsByDir() {
		offsets := make(map[common.TopicPartition]uint64, len(tps))
		for _, tp := range tps {
			if lm, ok := m.provider.Get(tp); ok {
				offsets[tp] = lm.HighWatermark()
			}
		}
		if err := m.provider.CheckpointFor(dir).Write(offsets); err != nil {
			m.logger.Error("high watermark checkpoint failed",
				zap.String("dir", dir), zap.Error(err))
		}
	}
}

func (m *ReplicaManager) checkpointLoop() {
	defer close(m.doneCh)
	interval := m.cfg.CheckpointIntervalOrDefault()
	for {
		select {
		case <-m.stopCh:
			return
		case <-m.clock.After(interval):
			m.CheckpointHighWatermarks()
		}
	}
}

// Shutdown stops background work, fails pending delayed operations, writes a
// final checkpoint and closes the logs. Idempotent; requests arriving
// afterwards are answered with a shutting-down error.
func (m *ReplicaManager) Shutdown() error {
	var err error
	m.shutdownOnce.Do(func() {
		m.shuttingDown.Store(true)
		close(m.stopCh)
		<-m.doneCh
		m.fetchers.CloseAll()
		m.producePurgatory.Shutdown(errs.ErrShuttingDown)
		m.fetchPurgatory.Shutdown(errs.ErrShuttingDown)
		m.CheckpointHighWatermarks()
		err = m.provider.CloseAll()
		m.logger.Info("replica manager stopped")
	})
	return err
}
