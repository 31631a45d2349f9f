// Package rpc exposes the replica manager over the framed TCP protocol:
// produce, fetch and leader-and-isr. One handler per message type; delayed
// operations answer through the manager's response callbacks, so a handler
// blocks its connection, not a partition.
package rpc

import (
	"context"

	"github.com/solivaf/kafka/protocol"
	"github.com/solivaf/kafka/quota"
	"github.com/solivaf/kafka/replication"
	"github.com/solivaf/kafka/transport"
	"go.uber.org/zap"
)

type Server struct {
	manager   *replication.ReplicaManager
	transport *transport.Transport
	quota     quota.Authority
	logger    *zap.Logger
}

func NewServer(manager *replication.ReplicaManager, quotaAuth quota.Authority, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if quotaAuth == nil {
		quotaAuth = quota.Unlimited()
	}
	s := &Server{
		manager:   manager,
		transport: transport.NewTransport(logger),
		quota:     quotaAuth,
		logger:    logger.Named("rpc"),
	}
	s.transport.RegisterHandler(protocol.MsgProduce, s.handleProduce)
	s.transport.RegisterHandler(protocol.MsgFetch, s.handleFetch)
	s.transport.RegisterHandler(protocol.MsgLeaderAndISR, s.handleLeaderAndISR)
	return s
}

func (s *Server) ListenAndServe(addr string) error {
	return s.transport.ListenAndServe(addr)
}

// Start binds addr and serves in the background. Tests use addr ":0" and
// read the bound address back with Addr.
func (s *Server) Start(addr string) error {
	ln, err := s.transport.Listen(addr)
	if err != nil {
		return err
	}
	go s.transport.Serve(ln)
	return nil
}

func (s *Server) Addr() string { return s.transport.Addr() }

func (s *Server) Close() error { return s.transport.Close() }

func (s *Server) handleProduce(msg any) (any, error) {
	req := msg.(*protocol.ProduceRequest)
	if err := s.quota.Record(context.Background(), produceBytes(req)); err != nil {
		return nil, err
	}
	ch := make(chan *protocol.ProduceResponse, 1)
	s.manager.Append(req, func(r *protocol.ProduceResponse) { ch <- r })
	resp := <-ch
	if protocol.RequiredAcks(req.RequiredAcks) == protocol.AcksNone {
		// Fire-and-forget: receipt only, no outcome frame.
		return nil, nil
	}
	return resp, nil
}

func (s *Server) handleFetch(msg any) (any, error) {
	req := msg.(*protocol.FetchRequest)
	ch := make(chan *protocol.FetchResponse, 1)
	s.manager.Fetch(req, func(r *protocol.FetchResponse) { ch <- r })
	resp := <-ch
	if err := s.quota.Record(context.Background(), fetchBytes(resp)); err != nil {
		return nil, err
	}
	return resp, nil
}

func (s *Server) handleLeaderAndISR(msg any) (any, error) {
	req := msg.(*protocol.LeaderAndISRRequest)
	return s.manager.BecomeLeaderOrFollower(req), nil
}

func produceBytes(req *protocol.ProduceRequest) int {
	n := 0
	for _, e := range req.Entries {
		for _, r := range e.Records {
			n += len(r)
		}
	}
	return n
}

func fetchBytes(resp *protocol.FetchResponse) int {
	n := 0
	for _, r := range resp.Results {
		n += len(r.RecordBatch)
	}
	return n
}
