package scom

import (
	"encoding/binary"
	"fmt"
	"math"
)

// MultiInfoReqItem is one entry of a multi-info request: which user info
// number to read and from which device(s).
type MultiInfoReqItem struct {
	UserInfoRef uint16
	Aggregation Aggregation
}

// MultiInfoReq is the payload of a multi-info read request.
type MultiInfoReq struct {
	Items []MultiInfoReqItem
}

// Pack serializes the request items, 3 bytes per item.
func (r MultiInfoReq) Pack() ([]byte, error) {
	if len(r.Items) == 0 || len(r.Items) > MultiInfoReqMax {
		return nil, fmt.Errorf("MultiInfoReq.Pack: %d items, want 1..%d", len(r.Items), MultiInfoReqMax)
	}
	out := make([]byte, 0, 3*len(r.Items))
	for _, item := range r.Items {
		var nr [2]byte
		binary.LittleEndian.PutUint16(nr[:], item.UserInfoRef)
		out = append(out, nr[0], nr[1], byte(item.Aggregation))
	}
	return out, nil
}

// UnpackMultiInfoReq decodes a multi-info request payload. Trailing bytes
// that do not form a whole item are ignored.
func UnpackMultiInfoReq(buf []byte) MultiInfoReq {
	var req MultiInfoReq
	for len(buf) >= 3 {
		req.Items = append(req.Items, MultiInfoReqItem{
			UserInfoRef: binary.LittleEndian.Uint16(buf),
			Aggregation: Aggregation(buf[2]),
		})
		buf = buf[3:]
	}
	return req
}

// MultiInfoRspItem is one entry of a multi-info response. Values always
// arrive as floats; use Cast to coerce to the datapoint's format.
type MultiInfoRspItem struct {
	UserInfoRef uint16
	Aggregation Aggregation
	Value       float32
}

// MultiInfoRsp is the payload of a multi-info read response.
type MultiInfoRsp struct {
	Flags    uint32
	Datetime uint32
	Items    []MultiInfoRspItem
}

// Pack serializes the response: 8 byte preamble plus 7 bytes per item.
func (r MultiInfoRsp) Pack() []byte {
	out := make([]byte, 8, 8+7*len(r.Items))
	binary.LittleEndian.PutUint32(out, r.Flags)
	binary.LittleEndian.PutUint32(out[4:], r.Datetime)
	for _, item := range r.Items {
		var b [7]byte
		binary.LittleEndian.PutUint16(b[:], item.UserInfoRef)
		b[2] = byte(item.Aggregation)
		binary.LittleEndian.PutUint32(b[3:], math.Float32bits(item.Value))
		out = append(out, b[:]...)
	}
	return out
}

// UnpackMultiInfoRsp decodes a multi-info response payload.
func UnpackMultiInfoRsp(buf []byte) (MultiInfoRsp, error) {
	if len(buf) < 8 {
		return MultiInfoRsp{}, fmt.Errorf("UnpackMultiInfoRsp: short payload (%d bytes)", len(buf))
	}
	rsp := MultiInfoRsp{
		Flags:    binary.LittleEndian.Uint32(buf),
		Datetime: binary.LittleEndian.Uint32(buf[4:]),
	}
	buf = buf[8:]
	for len(buf) >= 7 {
		rsp.Items = append(rsp.Items, MultiInfoRspItem{
			UserInfoRef: binary.LittleEndian.Uint16(buf),
			Aggregation: Aggregation(buf[2]),
			Value:       math.Float32frombits(binary.LittleEndian.Uint32(buf[3:])),
		})
		buf = buf[7:]
	}
	return rsp, nil
}
