// Package errs provides shared errors for the broker, grouped by layer
// (segment, log, replication, checkpoint, protocol). Check errors with
// errors.Is(err, errs.ErrX). Wire error-code mapping lives in protocol.CodeForErr.
package errs

import (
	"errors"
	"fmt"
)

// Segment errors (offset/index not found, seek/truncate/index sync failures).

var (
	ErrSegmentOffsetNotFound = errors.New("offset not found")
	ErrSegmentIndexNotFound  = errors.New("index not found")
)

func ErrSegmentOffsetOutOfRange(offset, base, next uint64) error {
	return fmt.Errorf("offset %d out of range [%d, %d): %w", offset, base, next, ErrSegmentOffsetNotFound)
}

func ErrSeekFailed(err error) error      { return fmt.Errorf("failed to seek: %w", err) }
func ErrTruncateFailed(err error) error  { return fmt.Errorf("truncate failed: %w", err) }
func ErrIndexSyncFailed(err error) error { return fmt.Errorf("index sync failed: %w", err) }

// Log errors (offset range, record size).

var (
	ErrLogOffsetOutOfRange = errors.New("log: offset out of range")
	ErrRecordTooLarge      = errors.New("log: record exceeds max size")
	ErrCorruptRecord       = errors.New("log: corrupt record")
)

func ErrLogOffsetOutOfRangef(offset uint64) error {
	return fmt.Errorf("offset %d out of range: %w", offset, ErrLogOffsetOutOfRange)
}

func ErrRecordTooLargef(size, max int) error {
	return fmt.Errorf("record of %d bytes exceeds max %d: %w", size, max, ErrRecordTooLarge)
}

// Replication errors (leadership, acks, timeouts, shutdown).

var (
	ErrNotLeader       = errors.New("this broker is not leader for partition")
	ErrInvalidAcks     = errors.New("invalid required acks")
	ErrTimedOut        = errors.New("request timed out")
	ErrShuttingDown    = errors.New("replica manager shutting down")
	ErrInternalTopic   = errors.New("append to internal topic not permitted")
	ErrReplicaNotFound = errors.New("replica not found for partition")
)

func ErrNotLeaderf(tp fmt.Stringer) error {
	return fmt.Errorf("partition %s: %w", tp, ErrNotLeader)
}

func ErrInvalidAcksf(acks int16) error {
	return fmt.Errorf("required acks %d: %w", acks, ErrInvalidAcks)
}

func ErrTimedOutf(tp fmt.Stringer, offset uint64) error {
	return fmt.Errorf("partition %s did not reach offset %d before deadline: %w", tp, offset, ErrTimedOut)
}

func ErrInternalTopicf(topic string) error {
	return fmt.Errorf("topic %s: %w", topic, ErrInternalTopic)
}

func ErrReplicaNotFoundf(brokerID int32, tp fmt.Stringer) error {
	return fmt.Errorf("replica %d not found for partition %s: %w", brokerID, tp, ErrReplicaNotFound)
}

// Checkpoint errors.

var ErrCheckpointCorrupt = errors.New("checkpoint: malformed file")

func ErrCheckpointCorruptf(path string, line int) error {
	return fmt.Errorf("%s line %d: %w", path, line, ErrCheckpointCorrupt)
}

func ErrWriteCheckpoint(err error) error { return fmt.Errorf("write checkpoint: %w", err) }

// Protocol / transport errors (frame size, CRC, unknown message type).

var (
	ErrFrameTooLarge  = errors.New("protocol: frame exceeds max size")
	ErrRecordBatchCRC = errors.New("protocol: record batch CRC mismatch")
)

func ErrUnknownMessageType(mType int) error {
	return fmt.Errorf("protocol: unknown message type: %d", mType)
}
