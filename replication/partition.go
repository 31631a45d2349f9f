package replication

import (
	"sync"
	"time"

	"github.com/solivaf/kafka/common"
	"github.com/solivaf/kafka/errs"
	"github.com/solivaf/kafka/log"
	"github.com/solivaf/kafka/protocol"
	"github.com/solivaf/kafka/segment"
	"go.uber.org/zap"
)

// Role is the broker's current relationship to a partition.
type Role int32

const (
	RoleNone Role = iota
	RoleLeader
	RoleFollower
)

func (r Role) String() string {
	switch r {
	case RoleLeader:
		return "leader"
	case RoleFollower:
		return "follower"
	default:
		return "none"
	}
}

// Partition is one topic partition hosted on this broker: its log, its role,
// the leader epoch that guards role transitions, and (while leader) the
// follower progress used to advance the high watermark.
//
// Locking: the partition mutex covers role, epoch, ISR and the replica map.
// Log reads and the high watermark live in the LogManager with their own
// synchronization, so fetches do not serialize behind role changes.
type Partition struct {
	tp      common.TopicPartition
	localID int32
	logger  *zap.Logger

	mu          sync.RWMutex
	role        Role
	leaderID    int32
	leaderEpoch int32
	isr         []int32
	replicas    map[int32]*Replica

	log *log.LogManager
}

func NewPartition(tp common.TopicPartition, localID int32, lm *log.LogManager, logger *zap.Logger) *Partition {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Partition{
		tp:          tp,
		localID:     localID,
		logger:      logger,
		role:        RoleNone,
		leaderID:    -1,
		leaderEpoch: -1,
		replicas:    make(map[int32]*Replica),
		log:         lm,
	}
}

func (p *Partition) TopicPartition() common.TopicPartition { return p.tp }

func (p *Partition) Log() *log.LogManager { return p.log }

func (p *Partition) Role() Role {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.role
}

func (p *Partition) LeaderID() int32 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.leaderID
}

func (p *Partition) LeaderEpoch() int32 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.leaderEpoch
}

func (p *Partition) ISR() []int32 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]int32, len(p.isr))
	copy(out, p.isr)
	return out
}

func (p *Partition) HighWatermark() uint64 { return p.log.HighWatermark() }

func (p *Partition) LEO() uint64 { return p.log.LEO() }

// MakeLeader applies a leader assignment. Assignments whose epoch is not
// newer than the current one are stale and ignored; reordered controller
// messages must never regress state. Returns whether the call changed
// anything.
func (p *Partition) MakeLeader(state protocol.PartitionState) bool {
	p.mu.Lock()
	if state.LeaderEpoch <= p.leaderEpoch {
		p.mu.Unlock()
		p.logger.Debug("ignoring stale leader assignment",
			zap.String("partition", p.tp.String()),
			zap.Int32("epoch", state.LeaderEpoch),
			zap.Int32("current_epoch", p.leaderEpoch))
		return false
	}
	p.role = RoleLeader
	p.leaderID = p.localID
	p.leaderEpoch = state.LeaderEpoch
	p.isr = append([]int32(nil), state.ISR...)

	// Follower progress from a previous leadership is stale; every follower
	// re-reports its log end offset on its first fetch.
	p.replicas = make(map[int32]*Replica, len(state.Replicas))
	for _, id := range state.Replicas {
		if id == p.localID {
			continue
		}
		p.replicas[id] = NewReplica(id)
	}
	p.maybeIncrementLeaderHWLocked()
	epoch := p.leaderEpoch
	p.mu.Unlock()

	p.logger.Info("became leader",
		zap.String("partition", p.tp.String()),
		zap.Int32("epoch", epoch),
		zap.Int32s("isr", state.ISR))
	return true
}

// MakeFollower applies a follower assignment, guarded by the same epoch rule
// as MakeLeader. The high watermark is retained; the follower fetch loop
// converges it toward the new leader's.
func (p *Partition) MakeFollower(state protocol.PartitionState) bool {
	p.mu.Lock()
	if state.LeaderEpoch <= p.leaderEpoch {
		p.mu.Unlock()
		p.logger.Debug("ignoring stale follower assignment",
			zap.String("partition", p.tp.String()),
			zap.Int32("epoch", state.LeaderEpoch),
			zap.Int32("current_epoch", p.leaderEpoch))
		return false
	}
	p.role = RoleFollower
	p.leaderID = state.Leader
	p.leaderEpoch = state.LeaderEpoch
	p.isr = append([]int32(nil), state.ISR...)
	p.replicas = make(map[int32]*Replica)
	p.mu.Unlock()

	p.logger.Info("became follower",
		zap.String("partition", p.tp.String()),
		zap.Int32("epoch", state.LeaderEpoch),
		zap.Int32("leader", state.Leader))
	return true
}

// AppendAsLeader appends producer records and returns the assigned offset
// range. When the local broker is the only in-sync replica the high
// watermark advances in the same call.
func (p *Partition) AppendAsLeader(values [][]byte) (base, last uint64, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.role != RoleLeader {
		return 0, 0, errs.ErrNotLeaderf(p.tp)
	}
	base, last, err = p.log.AppendBatch(values)
	if err != nil {
		return 0, 0, err
	}
	p.maybeIncrementLeaderHWLocked()
	return base, last, nil
}

// AppendAsFollower appends records replicated from the leader.
func (p *Partition) AppendAsFollower(values [][]byte) (last uint64, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.role != RoleFollower {
		return 0, errs.ErrNotLeaderf(p.tp)
	}
	_, last, err = p.log.AppendBatch(values)
	return last, err
}

// SetFollowerHighWatermark adopts the leader's high watermark, capped at the
// local log end offset.
func (p *Partition) SetFollowerHighWatermark(hw uint64) {
	p.log.SetHighWatermark(hw)
}

// UpdateFollowerFetchState records a follower's fetch position and reports
// whether the high watermark advanced as a result.
func (p *Partition) UpdateFollowerFetchState(brokerID int32, logEndOffset uint64, at time.Time) (hwAdvanced bool, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.role != RoleLeader {
		return false, errs.ErrNotLeaderf(p.tp)
	}
	r, ok := p.replicas[brokerID]
	if !ok {
		return false, errs.ErrReplicaNotFoundf(brokerID, p.tp)
	}
	r.UpdateFetchState(logEndOffset, at)
	return p.maybeIncrementLeaderHWLocked(), nil
}

// maybeIncrementLeaderHWLocked recomputes the high watermark as the minimum
// log end offset across the in-sync replicas, bounded by the leader's own
// log end offset. The watermark never moves backwards here: a smaller
// candidate (an ISR member that has not fetched yet) leaves it untouched.
func (p *Partition) maybeIncrementLeaderHWLocked() bool {
	newHW := p.log.LEO()
	for _, id := range p.isr {
		if id == p.localID {
			continue
		}
		r, ok := p.replicas[id]
		if !ok {
			return false
		}
		if leo := r.LogEndOffset(); leo < newHW {
			newHW = leo
		}
	}
	if newHW <= p.log.HighWatermark() {
		return false
	}
	p.log.SetHighWatermark(newHW)
	p.logger.Debug("high watermark advanced",
		zap.String("partition", p.tp.String()),
		zap.Uint64("high_watermark", newHW))
	return true
}

// CheckEnoughReplicasReachOffset reports whether every in-sync replica has
// replicated up to requiredOffset, i.e. the high watermark covers it. A
// partition this broker no longer leads resolves with an error so waiting
// produces fail instead of hanging.
func (p *Partition) CheckEnoughReplicasReachOffset(requiredOffset uint64) (bool, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.role != RoleLeader {
		return false, errs.ErrNotLeaderf(p.tp)
	}
	return p.log.HighWatermark() >= requiredOffset, nil
}

// ReadRecords serves a fetch. Consumer reads stop at the high watermark;
// follower reads go up to the log end offset. Reading exactly at the bound
// yields no entries and no error.
func (p *Partition) ReadRecords(fetchOffset uint64, maxBytes uint32, consumer bool) (entries []segment.Entry, hw uint64, logStart uint64, err error) {
	p.mu.RLock()
	if p.role != RoleLeader {
		p.mu.RUnlock()
		return nil, 0, 0, errs.ErrNotLeaderf(p.tp)
	}
	p.mu.RUnlock()

	hw = p.log.HighWatermark()
	bound := p.log.LEO()
	if consumer {
		bound = hw
	}
	entries, err = p.log.ReadRange(fetchOffset, maxBytes, bound)
	if err != nil {
		return nil, 0, 0, err
	}
	return entries, hw, p.log.LogStartOffset(), nil
}
