package rpc

import (
	"fmt"

	"github.com/solivaf/kafka/protocol"
	"github.com/solivaf/kafka/transport"
)

// Client is a typed wrapper over one broker connection. Not safe for
// concurrent use; callers owning multiple goroutines hold one client each.
type Client struct {
	tc *transport.TransportClient
}

func DialBroker(addr string) (*Client, error) {
	tc, err := transport.Dial(addr)
	if err != nil {
		return nil, err
	}
	return &Client{tc: tc}, nil
}

func (c *Client) Close() error { return c.tc.Close() }

// Produce sends records and waits for the per-partition outcomes. acks=0
// requests return immediately with a nil response: the broker sends none.
func (c *Client) Produce(req *protocol.ProduceRequest) (*protocol.ProduceResponse, error) {
	if protocol.RequiredAcks(req.RequiredAcks) == protocol.AcksNone {
		return nil, c.tc.Write(req)
	}
	resp, err := c.tc.Call(req)
	if err != nil {
		return nil, err
	}
	pr, ok := resp.(*protocol.ProduceResponse)
	if !ok {
		return nil, fmt.Errorf("unexpected produce response type %T", resp)
	}
	return pr, nil
}

func (c *Client) Fetch(req *protocol.FetchRequest) (*protocol.FetchResponse, error) {
	resp, err := c.tc.Call(req)
	if err != nil {
		return nil, err
	}
	fr, ok := resp.(*protocol.FetchResponse)
	if !ok {
		return nil, fmt.Errorf("unexpected fetch response type %T", resp)
	}
	return fr, nil
}

func (c *Client) LeaderAndISR(req *protocol.LeaderAndISRRequest) (*protocol.LeaderAndISRResponse, error) {
	resp, err := c.tc.Call(req)
	if err != nil {
		return nil, err
	}
	lr, ok := resp.(*protocol.LeaderAndISRResponse)
	if !ok {
		return nil, fmt.Errorf("unexpected leader-and-isr response type %T", resp)
	}
	return lr, nil
}
