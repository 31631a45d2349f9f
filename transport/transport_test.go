package transport

import (
	"testing"

	"github.com/solivaf/kafka/protocol"
)

func TestRequestResponse(t *testing.T) {
	tr := NewTransport(nil)
	tr.RegisterHandler(protocol.MsgProduce, func(msg any) (any, error) {
		req := msg.(*protocol.ProduceRequest)
		resp := &protocol.ProduceResponse{}
		for _, e := range req.Entries {
			resp.Results = append(resp.Results, protocol.ProducePartitionResult{
				Topic: e.Topic, Partition: e.Partition,
			})
		}
		return resp, nil
	})

	ln, err := tr.Listen("127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer tr.Close()
	go tr.Serve(ln)

	client, err := Dial(tr.Addr())
	if err != nil {
		t.Fatal(err)
	}
	defer client.Close()

	resp, err := client.Call(&protocol.ProduceRequest{
		RequiredAcks: 1,
		Entries:      []protocol.ProducePartitionEntry{{Topic: "orders", Partition: 3}},
	})
	if err != nil {
		t.Fatal(err)
	}
	pr, ok := resp.(*protocol.ProduceResponse)
	if !ok {
		t.Fatalf("unexpected response type %T", resp)
	}
	if len(pr.Results) != 1 || pr.Results[0].Partition != 3 {
		t.Fatalf("unexpected results %+v", pr.Results)
	}
}

func TestNilResponseWritesNothing(t *testing.T) {
	tr := NewTransport(nil)
	tr.RegisterHandler(protocol.MsgProduce, func(msg any) (any, error) {
		return nil, nil
	})
	tr.RegisterHandler(protocol.MsgFetch, func(msg any) (any, error) {
		return &protocol.FetchResponse{}, nil
	})

	ln, err := tr.Listen("127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer tr.Close()
	go tr.Serve(ln)

	client, err := Dial(tr.Addr())
	if err != nil {
		t.Fatal(err)
	}
	defer client.Close()

	// Fire-and-forget produce, then a fetch: the first response frame on the
	// wire must belong to the fetch.
	if err := client.Write(&protocol.ProduceRequest{RequiredAcks: 0}); err != nil {
		t.Fatal(err)
	}
	resp, err := client.Call(&protocol.FetchRequest{ReplicaID: -1})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := resp.(*protocol.FetchResponse); !ok {
		t.Fatalf("expected fetch response, got %T", resp)
	}
}
