package protocol

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/solivaf/kafka/errs"
)

func TestCodecRoundTrip(t *testing.T) {
	var codec Codec
	var buf bytes.Buffer

	req := &FetchRequest{
		ReplicaID: ConsumerReplicaID,
		MaxWaitMs: 500,
		MinBytes:  1,
		Partitions: []FetchPartition{
			{Topic: "orders", Partition: 0, FetchOffset: 42, MaxBytes: 1024},
		},
	}
	if err := codec.Encode(&buf, req); err != nil {
		t.Fatalf("encode failed: %v", err)
	}

	mType, msg, err := codec.Decode(&buf)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if mType != MsgFetch {
		t.Fatalf("expected MsgFetch, got %d", mType)
	}
	got, ok := msg.(*FetchRequest)
	if !ok {
		t.Fatalf("expected *FetchRequest, got %T", msg)
	}
	if got.ReplicaID != req.ReplicaID || len(got.Partitions) != 1 || got.Partitions[0].FetchOffset != 42 {
		t.Fatalf("request mismatch: %+v", got)
	}
}

func TestCodecSequentialFrames(t *testing.T) {
	var codec Codec
	var buf bytes.Buffer

	if err := codec.Encode(&buf, &ProduceRequest{RequiredAcks: int16(AcksAll)}); err != nil {
		t.Fatal(err)
	}
	if err := codec.Encode(&buf, &ProduceResponse{Results: []ProducePartitionResult{
		{Topic: "orders", Partition: 0, BaseOffset: 7, LastOffset: 9},
	}}); err != nil {
		t.Fatal(err)
	}

	mType, _, err := codec.Decode(&buf)
	if err != nil || mType != MsgProduce {
		t.Fatalf("first frame: type=%d err=%v", mType, err)
	}
	mType, msg, err := codec.Decode(&buf)
	if err != nil || mType != MsgProduceResp {
		t.Fatalf("second frame: type=%d err=%v", mType, err)
	}
	resp := msg.(*ProduceResponse)
	if resp.Results[0].LastOffset != 9 {
		t.Fatalf("response mismatch: %+v", resp)
	}
}

func TestCodecUnknownType(t *testing.T) {
	var codec Codec
	if err := codec.Encode(io.Discard, struct{ X int }{1}); err == nil {
		t.Fatal("expected error for unregistered message type")
	}

	frame := []byte{0xff, 0xff, 0, 0, 0, 2, '{', '}'}
	if _, _, err := codec.Decode(bytes.NewReader(frame)); err == nil {
		t.Fatal("expected error for unknown frame type")
	}
}

func TestCodecOversizedFrame(t *testing.T) {
	var codec Codec
	header := []byte{0, 1, 0xff, 0xff, 0xff, 0xff}
	if _, _, err := codec.Decode(bytes.NewReader(header)); !errors.Is(err, errs.ErrFrameTooLarge) {
		t.Fatalf("expected frame size error, got %v", err)
	}
}

func TestCodecShortRead(t *testing.T) {
	var codec Codec
	var buf bytes.Buffer
	if err := codec.Encode(&buf, &FetchResponse{}); err != nil {
		t.Fatal(err)
	}
	truncated := buf.Bytes()[:buf.Len()-1]
	if _, _, err := codec.Decode(bytes.NewReader(truncated)); !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("expected unexpected EOF, got %v", err)
	}
}
