package protocol

import (
	"errors"

	"github.com/solivaf/kafka/errs"
)

// RequiredAcks is the producer acknowledgment level.
type RequiredAcks int16

const (
	AcksNone   RequiredAcks = 0  // fire-and-forget
	AcksLeader RequiredAcks = 1  // leader append only
	AcksAll    RequiredAcks = -1 // every current ISR member
)

func (a RequiredAcks) Valid() bool {
	return a == AcksNone || a == AcksLeader || a == AcksAll
}

// ConsumerReplicaID marks a fetch as coming from a consumer rather than a
// follower broker.
const ConsumerReplicaID int32 = -1

// ErrorCode is the wire form of per-partition outcomes.
type ErrorCode int16

const (
	ErrNone             ErrorCode = 0
	ErrUnknown          ErrorCode = 1
	ErrNotLeader        ErrorCode = 2
	ErrInvalidAcks      ErrorCode = 3
	ErrRequestTimedOut  ErrorCode = 4
	ErrOffsetOutOfRange ErrorCode = 5
	ErrRecordTooLarge   ErrorCode = 6
	ErrCorruptRecord    ErrorCode = 7
	ErrShuttingDown     ErrorCode = 8
)

// CodeForErr maps core errors to wire codes. Storage-layer errors keep their
// own codes so clients see them unchanged.
func CodeForErr(err error) ErrorCode {
	switch {
	case err == nil:
		return ErrNone
	case errors.Is(err, errs.ErrNotLeader):
		return ErrNotLeader
	case errors.Is(err, errs.ErrInvalidAcks):
		return ErrInvalidAcks
	case errors.Is(err, errs.ErrTimedOut):
		return ErrRequestTimedOut
	case errors.Is(err, errs.ErrLogOffsetOutOfRange), errors.Is(err, errs.ErrSegmentOffsetNotFound):
		return ErrOffsetOutOfRange
	case errors.Is(err, errs.ErrRecordTooLarge):
		return ErrRecordTooLarge
	case errors.Is(err, errs.ErrCorruptRecord), errors.Is(err, errs.ErrRecordBatchCRC):
		return ErrCorruptRecord
	case errors.Is(err, errs.ErrShuttingDown):
		return ErrShuttingDown
	default:
		return ErrUnknown
	}
}

// Err converts a wire code back to the matching sentinel (client side).
func (c ErrorCode) Err() error {
	switch c {
	case ErrNone:
		return nil
	case ErrNotLeader:
		return errs.ErrNotLeader
	case ErrInvalidAcks:
		return errs.ErrInvalidAcks
	case ErrRequestTimedOut:
		return errs.ErrTimedOut
	case ErrOffsetOutOfRange:
		return errs.ErrLogOffsetOutOfRange
	case ErrRecordTooLarge:
		return errs.ErrRecordTooLarge
	case ErrCorruptRecord:
		return errs.ErrCorruptRecord
	case ErrShuttingDown:
		return errs.ErrShuttingDown
	default:
		return errors.New("unknown broker error")
	}
}

// Record is a stored record with its offset.
type Record struct {
	Offset uint64
	Value  []byte
}

// Produce types.

type ProducePartitionEntry struct {
	Topic     string
	Partition int32
	Records   [][]byte
}

type ProduceRequest struct {
	RequiredAcks          int16
	TimeoutMs             int32
	InternalTopicsAllowed bool
	Entries               []ProducePartitionEntry
}

type ProducePartitionResult struct {
	Topic      string
	Partition  int32
	ErrorCode  ErrorCode
	BaseOffset uint64
	LastOffset uint64
}

type ProduceResponse struct {
	Results []ProducePartitionResult
}

// Fetch types. A fetch with ReplicaID >= 0 is a follower replicating from the
// leader; ConsumerReplicaID marks a consumer read bounded by the high
// watermark.

type FetchPartition struct {
	Topic       string
	Partition   int32
	FetchOffset uint64
	MaxBytes    uint32
}

type FetchRequest struct {
	ReplicaID  int32
	MaxWaitMs  int32
	MinBytes   int32
	Partitions []FetchPartition
}

type FetchPartitionResult struct {
	Topic          string
	Partition      int32
	ErrorCode      ErrorCode
	HighWatermark  uint64
	LogStartOffset uint64
	// RecordBatch is an encoded (CRC-checked, optionally compressed) batch;
	// empty when no records are readable.
	RecordBatch []byte
}

type FetchResponse struct {
	Results []FetchPartitionResult
}

// Controller types. The external controller assigns roles per partition; a
// request entry whose LeaderEpoch is not newer than the partition's current
// epoch is ignored.

type PartitionState struct {
	Topic       string
	Partition   int32
	LeaderEpoch int32
	Leader      int32 // broker id of the assigned leader
	Replicas    []int32
	ISR         []int32
}

type BrokerInfo struct {
	ID   int32
	Addr string
}

type LeaderAndISRRequest struct {
	ControllerID    int32
	ControllerEpoch int32
	Partitions      []PartitionState
	LiveBrokers     []BrokerInfo
}

type LeaderAndISRPartitionResult struct {
	Topic     string
	Partition int32
	ErrorCode ErrorCode
}

type LeaderAndISRResponse struct {
	Results []LeaderAndISRPartitionResult
}

// RPCErrorResponse reports a request-level failure (decode errors and the
// like); partition-level outcomes travel in the typed responses.
type RPCErrorResponse struct {
	Code    ErrorCode
	Message string
}
