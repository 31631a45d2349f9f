// Package testutil builds broker components wired together for tests.
package testutil

import (
	"testing"
	"time"

	"github.com/solivaf/kafka/cluster"
	"github.com/solivaf/kafka/common"
	"github.com/solivaf/kafka/config"
	"github.com/solivaf/kafka/fetcher"
	"github.com/solivaf/kafka/log"
	"github.com/solivaf/kafka/protocol"
	"github.com/solivaf/kafka/replication"
	"github.com/solivaf/kafka/rpc"
)

// TestBroker is a full broker (replica manager, fetcher, RPC server) bound
// to an ephemeral port, registered in the shared metadata cache.
type TestBroker struct {
	ID       int32
	Manager  *replication.ReplicaManager
	Server   *rpc.Server
	Metadata *cluster.MetadataCache
}

// StartBroker brings up a broker sharing metadata with its peers. Cleanup is
// registered on t.
func StartBroker(t testing.TB, id int32, metadata *cluster.MetadataCache) *TestBroker {
	t.Helper()

	provider, err := log.NewProvider([]string{t.TempDir()}, 1<<20, nil)
	if err != nil {
		t.Fatalf("failed to create provider: %v", err)
	}
	cfg := config.ReplicationConfig{FetchBackoff: 5 * time.Millisecond}
	pool := cluster.NewBrokerPool()
	t.Cleanup(pool.CloseAll)

	fetchers := fetcher.NewManager(id, cfg, metadata, pool, nil)
	manager := replication.NewReplicaManager(id, cfg, provider, metadata, fetchers, nil, nil)
	fetchers.Bind(manager.Registry())
	t.Cleanup(func() { manager.Shutdown() })

	srv := rpc.NewServer(manager, nil, nil)
	if err := srv.Start("127.0.0.1:0"); err != nil {
		t.Fatalf("failed to start rpc server: %v", err)
	}
	t.Cleanup(func() { srv.Close() })

	metadata.SetBroker(protocol.BrokerInfo{ID: id, Addr: srv.Addr()})
	return &TestBroker{ID: id, Manager: manager, Server: srv, Metadata: metadata}
}

// Assign applies one partition assignment on the broker and fails the test
// on any per-partition error.
func (b *TestBroker) Assign(t testing.TB, state protocol.PartitionState) {
	t.Helper()
	resp := b.Manager.BecomeLeaderOrFollower(&protocol.LeaderAndISRRequest{
		ControllerEpoch: state.LeaderEpoch,
		Partitions:      []protocol.PartitionState{state},
	})
	if code := resp.Results[0].ErrorCode; code != protocol.ErrNone {
		t.Fatalf("assignment of %s-%d failed on broker %d: code %d",
			state.Topic, state.Partition, b.ID, code)
	}
}

// WaitForConverged blocks until the broker's copy of the partition reaches
// the wanted log end offset and high watermark.
func (b *TestBroker) WaitForConverged(t testing.TB, tp common.TopicPartition, leo, hw uint64) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		p, ok := b.Manager.GetPartition(tp)
		if ok && p.LEO() == leo && p.HighWatermark() == hw {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("broker %d did not converge on %s: want leo=%d hw=%d", b.ID, tp, leo, hw)
		}
		time.Sleep(10 * time.Millisecond)
	}
}
