package scom

import (
	"encoding/binary"
	"fmt"
)

const messageRspSize = 18

// MessageRsp is the payload of a message read response from the RCC's
// pending message queue.
type MessageRsp struct {
	Total      uint32 // messages pending
	Number     uint16 // message number
	SourceAddr uint32 // device the message originated from
	Timestamp  uint32
	Value      int32
}

// UnpackMessageRsp decodes a message read response payload.
func UnpackMessageRsp(buf []byte) (MessageRsp, error) {
	if len(buf) < messageRspSize {
		return MessageRsp{}, fmt.Errorf("UnpackMessageRsp: need %d bytes, have %d", messageRspSize, len(buf))
	}
	return MessageRsp{
		Total:      binary.LittleEndian.Uint32(buf),
		Number:     binary.LittleEndian.Uint16(buf[4:]),
		SourceAddr: binary.LittleEndian.Uint32(buf[6:]),
		Timestamp:  binary.LittleEndian.Uint32(buf[10:]),
		Value:      int32(binary.LittleEndian.Uint32(buf[14:])),
	}, nil
}

// Pack serializes the message response payload.
func (m MessageRsp) Pack() []byte {
	out := make([]byte, messageRspSize)
	binary.LittleEndian.PutUint32(out, m.Total)
	binary.LittleEndian.PutUint16(out[4:], m.Number)
	binary.LittleEndian.PutUint32(out[6:], m.SourceAddr)
	binary.LittleEndian.PutUint32(out[10:], m.Timestamp)
	binary.LittleEndian.PutUint32(out[14:], uint32(m.Value))
	return out
}
