package rpc

import (
	"testing"

	"github.com/solivaf/kafka/cluster"
	"github.com/solivaf/kafka/config"
	"github.com/solivaf/kafka/log"
	"github.com/solivaf/kafka/protocol"
	"github.com/solivaf/kafka/replication"
)

func startTestServer(t *testing.T) (*Server, *replication.ReplicaManager) {
	t.Helper()
	provider, err := log.NewProvider([]string{t.TempDir()}, 1<<20, nil)
	if err != nil {
		t.Fatalf("failed to create provider: %v", err)
	}
	manager := replication.NewReplicaManager(1, config.ReplicationConfig{}, provider,
		cluster.NewMetadataCache(), nil, nil, nil)
	t.Cleanup(func() { manager.Shutdown() })

	srv := NewServer(manager, nil, nil)
	if err := srv.Start("127.0.0.1:0"); err != nil {
		t.Fatalf("failed to start server: %v", err)
	}
	t.Cleanup(func() { srv.Close() })
	return srv, manager
}

func TestProduceFetchRoundTrip(t *testing.T) {
	srv, _ := startTestServer(t)

	client, err := DialBroker(srv.Addr())
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer client.Close()

	lisr, err := client.LeaderAndISR(&protocol.LeaderAndISRRequest{
		ControllerID:    100,
		ControllerEpoch: 1,
		Partitions: []protocol.PartitionState{{
			Topic: "orders", Partition: 0, LeaderEpoch: 0, Leader: 1,
			Replicas: []int32{1}, ISR: []int32{1},
		}},
	})
	if err != nil {
		t.Fatalf("leader-and-isr failed: %v", err)
	}
	if lisr.Results[0].ErrorCode != protocol.ErrNone {
		t.Fatalf("role assignment failed with code %d", lisr.Results[0].ErrorCode)
	}

	presp, err := client.Produce(&protocol.ProduceRequest{
		RequiredAcks: -1,
		TimeoutMs:    5000,
		Entries: []protocol.ProducePartitionEntry{{
			Topic: "orders", Partition: 0,
			Records: [][]byte{[]byte("a"), []byte("b")},
		}},
	})
	if err != nil {
		t.Fatalf("produce failed: %v", err)
	}
	pres := presp.Results[0]
	if pres.ErrorCode != protocol.ErrNone || pres.BaseOffset != 0 || pres.LastOffset != 1 {
		t.Fatalf("unexpected produce result %+v", pres)
	}

	fresp, err := client.Fetch(&protocol.FetchRequest{
		ReplicaID: protocol.ConsumerReplicaID,
		Partitions: []protocol.FetchPartition{{
			Topic: "orders", Partition: 0, FetchOffset: 0,
		}},
	})
	if err != nil {
		t.Fatalf("fetch failed: %v", err)
	}
	fres := fresp.Results[0]
	if fres.ErrorCode != protocol.ErrNone {
		t.Fatalf("fetch error code %d", fres.ErrorCode)
	}
	if fres.HighWatermark != 2 {
		t.Fatalf("expected high watermark 2, got %d", fres.HighWatermark)
	}
	records, err := protocol.DecodeRecordBatch(fres.RecordBatch)
	if err != nil {
		t.Fatalf("failed to decode batch: %v", err)
	}
	if len(records) != 2 || string(records[0].Value) != "a" || string(records[1].Value) != "b" {
		t.Fatalf("unexpected records %+v", records)
	}
}

func TestAcksNoneHasNoResponseFrame(t *testing.T) {
	srv, _ := startTestServer(t)

	client, err := DialBroker(srv.Addr())
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer client.Close()

	if _, err := client.LeaderAndISR(&protocol.LeaderAndISRRequest{
		ControllerEpoch: 1,
		Partitions: []protocol.PartitionState{{
			Topic: "orders", Partition: 0, LeaderEpoch: 0, Leader: 1,
			Replicas: []int32{1}, ISR: []int32{1},
		}},
	}); err != nil {
		t.Fatalf("leader-and-isr failed: %v", err)
	}

	resp, err := client.Produce(&protocol.ProduceRequest{
		RequiredAcks: 0,
		Entries: []protocol.ProducePartitionEntry{{
			Topic: "orders", Partition: 0, Records: [][]byte{[]byte("x")},
		}},
	})
	if err != nil {
		t.Fatalf("produce failed: %v", err)
	}
	if resp != nil {
		t.Fatalf("acks=0 must not return a response")
	}

	// The next framed call still lines up: nothing was written for the
	// acks=0 produce.
	fresp, err := client.Fetch(&protocol.FetchRequest{
		ReplicaID: protocol.ConsumerReplicaID,
		MaxWaitMs: 5000,
		MinBytes:  1,
		Partitions: []protocol.FetchPartition{{
			Topic: "orders", Partition: 0, FetchOffset: 0,
		}},
	})
	if err != nil {
		t.Fatalf("fetch failed: %v", err)
	}
	if fresp.Results[0].ErrorCode != protocol.ErrNone {
		t.Fatalf("fetch error code %d", fresp.Results[0].ErrorCode)
	}
	records, err := protocol.DecodeRecordBatch(fresp.Results[0].RecordBatch)
	if err != nil {
		t.Fatalf("failed to decode batch: %v", err)
	}
	if len(records) != 1 || string(records[0].Value) != "x" {
		t.Fatalf("unexpected records %+v", records)
	}
}
