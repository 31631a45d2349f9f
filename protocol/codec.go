package protocol

import (
	"encoding/binary"
	"encoding/json"
	"io"

	"github.com/solivaf/kafka/errs"
)

// MessageType tags each frame (2-byte big-endian).
type MessageType uint16

const (
	MsgProduce          MessageType = 1
	MsgProduceResp      MessageType = 2
	MsgFetch            MessageType = 3
	MsgFetchResp        MessageType = 4
	MsgLeaderAndISR     MessageType = 5
	MsgLeaderAndISRResp MessageType = 6
	MsgRPCError         MessageType = 7
)

const (
	messageTypeSize = 2
	lengthSize      = 4
	frameHeaderSize = messageTypeSize + lengthSize
	MaxFrameSize    = 16 * 1024 * 1024
)

var byteOrder = binary.BigEndian

// Codec frames messages as [type 2][length 4][JSON body].
type Codec struct{}

func (c *Codec) Encode(w io.Writer, msg any) error {
	var mType MessageType
	switch msg.(type) {
	case ProduceRequest, *ProduceRequest:
		mType = MsgProduce
	case ProduceResponse, *ProduceResponse:
		mType = MsgProduceResp
	case FetchRequest, *FetchRequest:
		mType = MsgFetch
	case FetchResponse, *FetchResponse:
		mType = MsgFetchResp
	case LeaderAndISRRequest, *LeaderAndISRRequest:
		mType = MsgLeaderAndISR
	case LeaderAndISRResponse, *LeaderAndISRResponse:
		mType = MsgLeaderAndISRResp
	case RPCErrorResponse, *RPCErrorResponse:
		mType = MsgRPCError
	default:
		return errs.ErrUnknownMessageType(int(mType))
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return c.encodeFrame(w, mType, payload)
}

func (c *Codec) Decode(r io.Reader) (MessageType, any, error) {
	mType, payload, err := c.decodeFrame(r)
	if err != nil {
		return 0, nil, err
	}
	var msg any
	switch mType {
	case MsgProduce:
		msg = &ProduceRequest{}
	case MsgProduceResp:
		msg = &ProduceResponse{}
	case MsgFetch:
		msg = &FetchRequest{}
	case MsgFetchResp:
		msg = &FetchResponse{}
	case MsgLeaderAndISR:
		msg = &LeaderAndISRRequest{}
	case MsgLeaderAndISRResp:
		msg = &LeaderAndISRResponse{}
	case MsgRPCError:
		msg = &RPCErrorResponse{}
	default:
		return 0, nil, errs.ErrUnknownMessageType(int(mType))
	}
	if err := json.Unmarshal(payload, msg); err != nil {
		return 0, nil, err
	}
	return mType, msg, nil
}

func (c *Codec) encodeFrame(w io.Writer, mType MessageType, payload []byte) error {
	length := uint32(len(payload))
	if length > MaxFrameSize {
		return errs.ErrFrameTooLarge
	}
	header := make([]byte, frameHeaderSize)
	byteOrder.PutUint16(header, uint16(mType))
	byteOrder.PutUint32(header[messageTypeSize:], length)
	if _, err := w.Write(header); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

func (c *Codec) decodeFrame(r io.Reader) (mType MessageType, payload []byte, err error) {
	header := make([]byte, frameHeaderSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return 0, nil, err
	}
	mType = MessageType(byteOrder.Uint16(header))
	length := byteOrder.Uint32(header[messageTypeSize:])
	if length > MaxFrameSize {
		return 0, nil, errs.ErrFrameTooLarge
	}
	payload = make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return 0, nil, err
	}
	return mType, payload, nil
}
