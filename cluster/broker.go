package cluster

import (
	"sync"

	"github.com/solivaf/kafka/transport"
)

// Broker is a peer broker with a lazily established connection. The
// connection is created on first use and dropped on error so the next call
// redials.
type Broker struct {
	ID   int32
	Addr string

	mu     sync.Mutex // guards client
	callMu sync.Mutex // serializes request/response pairs on the connection
	client *transport.TransportClient
}

func NewBroker(id int32, addr string) *Broker {
	return &Broker{ID: id, Addr: addr}
}

func (b *Broker) conn() (*transport.TransportClient, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.client != nil {
		return b.client, nil
	}
	client, err := transport.Dial(b.Addr)
	if err != nil {
		return nil, err
	}
	b.client = client
	return b.client, nil
}

// Call sends one request and blocks for the response. Calls from different
// fetch loops are serialized so frames never interleave on the connection.
func (b *Broker) Call(msg any) (any, error) {
	b.callMu.Lock()
	defer b.callMu.Unlock()
	client, err := b.conn()
	if err != nil {
		return nil, err
	}
	resp, err := client.Call(msg)
	if err != nil {
		b.dropConn()
		return nil, err
	}
	return resp, nil
}

func (b *Broker) dropConn() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.client != nil {
		b.client.Close()
		b.client = nil
	}
}

func (b *Broker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.client != nil {
		err := b.client.Close()
		b.client = nil
		return err
	}
	return nil
}

// BrokerPool caches peer connections by broker id.
type BrokerPool struct {
	mu      sync.Mutex
	brokers map[int32]*Broker
}

func NewBrokerPool() *BrokerPool {
	return &BrokerPool{brokers: make(map[int32]*Broker)}
}

// Get returns the cached broker for id, redialing a fresh one when the
// address changed (broker restarted elsewhere).
func (p *BrokerPool) Get(id int32, addr string) *Broker {
	p.mu.Lock()
	defer p.mu.Unlock()
	b, ok := p.brokers[id]
	if ok && b.Addr == addr {
		return b
	}
	if ok {
		b.Close()
	}
	b = NewBroker(id, addr)
	p.brokers[id] = b
	return b
}

func (p *BrokerPool) Remove(id int32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if b, ok := p.brokers[id]; ok {
		b.Close()
		delete(p.brokers, id)
	}
}

func (p *BrokerPool) CloseAll() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for id, b := range p.brokers {
		b.Close()
		delete(p.brokers, id)
	}
}
