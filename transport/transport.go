// Package transport manages TCP connections carrying the framed broker
// protocol. The server dispatches decoded requests to registered handlers;
// the client multiplexes nothing: one request, one response, in order, per
// connection.
package transport

import (
	"errors"
	"io"
	"net"

	"github.com/solivaf/kafka/protocol"
	"go.uber.org/zap"
)

var ErrClosed = errors.New("transport: connection closed")

// Handler answers one decoded request. A nil response means no frame is
// written back (fire-and-forget requests).
type Handler func(msg any) (any, error)

type Transport struct {
	Codec    *protocol.Codec
	logger   *zap.Logger
	handlers map[protocol.MessageType]Handler
	ln       net.Listener
}

func NewTransport(logger *zap.Logger) *Transport {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Transport{
		Codec:    &protocol.Codec{},
		logger:   logger.Named("transport"),
		handlers: make(map[protocol.MessageType]Handler),
	}
}

func (t *Transport) RegisterHandler(msgType protocol.MessageType, handler Handler) {
	t.handlers[msgType] = handler
}

func (t *Transport) Listen(addr string) (net.Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	t.ln = ln
	return ln, nil
}

func (t *Transport) Addr() string {
	if t.ln != nil {
		return t.ln.Addr().String()
	}
	return ""
}

func (t *Transport) Close() error {
	if t.ln != nil {
		err := t.ln.Close()
		t.ln = nil
		return err
	}
	return nil
}

func (t *Transport) Serve(ln net.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		go t.handleConn(conn)
	}
}

func (t *Transport) ListenAndServe(addr string) error {
	ln, err := t.Listen(addr)
	if err != nil {
		return err
	}
	t.logger.Info("listening", zap.String("addr", ln.Addr().String()))
	t.Serve(ln)
	return nil
}

func (t *Transport) handleConn(conn net.Conn) {
	defer conn.Close()
	for {
		mType, msg, err := t.Codec.Decode(conn)
		if err != nil {
			if err != io.EOF {
				t.logger.Debug("read error", zap.Error(err))
			}
			return
		}
		handler := t.handlers[mType]
		if handler == nil {
			t.logger.Warn("no handler for message type", zap.Uint16("type", uint16(mType)))
			continue
		}
		resp, err := handler(msg)
		if err != nil {
			// Close so the client sees a failure instead of hanging.
			t.logger.Error("handler error", zap.Uint16("type", uint16(mType)), zap.Error(err))
			return
		}
		if resp == nil {
			continue
		}
		if err := t.Codec.Encode(conn, resp); err != nil {
			t.logger.Debug("encode error", zap.Error(err))
			return
		}
	}
}

// TransportClient is a single blocking connection to a broker.
type TransportClient struct {
	conn  net.Conn
	codec *protocol.Codec
}

func Dial(addr string) (*TransportClient, error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, err
	}
	return &TransportClient{conn: conn, codec: &protocol.Codec{}}, nil
}

func (c *TransportClient) Call(msg any) (any, error) {
	if err := c.Write(msg); err != nil {
		return nil, err
	}
	return c.Read()
}

func (c *TransportClient) Write(msg any) error {
	return c.codec.Encode(c.conn, msg)
}

func (c *TransportClient) Read() (any, error) {
	_, resp, err := c.codec.Decode(c.conn)
	return resp, err
}

func (c *TransportClient) Close() error {
	return c.conn.Close()
}
