package protocol

import (
	"encoding/binary"
	"hash/crc32"
	"io"

	"github.com/golang/snappy"
	"github.com/solivaf/kafka/errs"
)

// Record batch wire format. Fetch responses carry batches of records.
// Batch header: baseOffset, bodyLength, leaderEpoch, crc, attributes,
// lastOffsetDelta. Body: for each record [offset 8][size 4][value], snappy
// compressed when the attribute byte says so. The CRC covers the body as
// shipped, so corruption is caught before decompression.

const (
	CompressionNone   byte = 0
	CompressionSnappy byte = 1

	batchHeaderSize  = 8 + 4 + 4 + 4 + 1 + 4
	recordHeaderSize = 8 + 4

	// Batches below this size are not worth compressing.
	compressionThreshold = 256
)

var batchByteOrder = binary.BigEndian

// EncodeRecordBatch encodes records into the wire format, compressing the
// body when it pays off. nil in, nil out.
func EncodeRecordBatch(records []Record, leaderEpoch int32) []byte {
	if len(records) == 0 {
		return nil
	}
	baseOffset := records[0].Offset
	lastOffsetDelta := uint32(records[len(records)-1].Offset - baseOffset)

	var body []byte
	for _, r := range records {
		body = append(body, encodeRecord(r)...)
	}

	attributes := CompressionNone
	if len(body) >= compressionThreshold {
		compressed := snappy.Encode(nil, body)
		if len(compressed) < len(body) {
			body = compressed
			attributes = CompressionSnappy
		}
	}
	crc := crc32.ChecksumIEEE(body)

	buf := make([]byte, batchHeaderSize+len(body))
	off := 0
	batchByteOrder.PutUint64(buf[off:off+8], baseOffset)
	off += 8
	batchByteOrder.PutUint32(buf[off:off+4], uint32(len(body)))
	off += 4
	batchByteOrder.PutUint32(buf[off:off+4], uint32(leaderEpoch))
	off += 4
	batchByteOrder.PutUint32(buf[off:off+4], crc)
	off += 4
	buf[off] = attributes
	off++
	batchByteOrder.PutUint32(buf[off:off+4], lastOffsetDelta)
	off += 4
	copy(buf[off:], body)
	return buf
}

func encodeRecord(r Record) []byte {
	buf := make([]byte, recordHeaderSize+len(r.Value))
	batchByteOrder.PutUint64(buf[0:8], r.Offset)
	batchByteOrder.PutUint32(buf[8:12], uint32(len(r.Value)))
	copy(buf[12:], r.Value)
	return buf
}

// DecodeRecordBatch verifies the CRC, decompresses if needed, and returns the
// records. nil in, nil out.
func DecodeRecordBatch(data []byte) ([]Record, error) {
	if len(data) == 0 {
		return nil, nil
	}
	if len(data) < batchHeaderSize {
		return nil, io.ErrUnexpectedEOF
	}
	bodyLength := batchByteOrder.Uint32(data[8:12])
	crcStored := batchByteOrder.Uint32(data[16:20])
	attributes := data[20]

	body := data[batchHeaderSize:]
	if uint32(len(body)) != bodyLength {
		return nil, io.ErrUnexpectedEOF
	}
	if crc32.ChecksumIEEE(body) != crcStored {
		return nil, errs.ErrRecordBatchCRC
	}
	if attributes == CompressionSnappy {
		decoded, err := snappy.Decode(nil, body)
		if err != nil {
			return nil, errs.ErrCorruptRecord
		}
		body = decoded
	}

	var records []Record
	for len(body) >= recordHeaderSize {
		offset := batchByteOrder.Uint64(body[0:8])
		size := batchByteOrder.Uint32(body[8:12])
		if recordHeaderSize+int(size) > len(body) {
			return nil, io.ErrUnexpectedEOF
		}
		value := make([]byte, size)
		copy(value, body[recordHeaderSize:recordHeaderSize+int(size)])
		records = append(records, Record{Offset: offset, Value: value})
		body = body[recordHeaderSize+int(size):]
	}
	return records, nil
}
