// Package scom implements the Studer scom wire protocol used by Xcom
// gateways (Xcom-232i, Xcom-LAN, Moxa NPort). It covers the framed package
// codec with checksums, the typed property value codec, and the multi-info
// and message payload formats.
//
// See the Studer document "Technical Specification - Xtender serial protocol".
package scom

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// StartByte marks the beginning of every package on the wire.
const StartByte byte = 0xAA

const (
	headerSize      = 11 // flags + src + dst + dataLength
	frameHeaderSize = 10 // serviceFlags + serviceID + objectType + objectID + propertyID
	checksumSize    = 2
)

// ErrChecksum is returned when a received package fails checksum
// verification. The connection should be treated as desynchronized.
var ErrChecksum = errors.New("checksum mismatch")

// checksum computes the two scom checksum bytes over data.
func checksum(data []byte) (byte, byte) {
	a, b := 0xFF, 0x00
	for _, c := range data {
		a = (a + int(c)) % 0x100
		b = (b + a) % 0x100
	}
	return byte(a), byte(b)
}

// verifyChecksum reports whether the trailing two bytes of buf match the
// checksum of the preceding bytes.
func verifyChecksum(data, sum []byte) bool {
	a, b := checksum(data)
	return len(sum) == 2 && sum[0] == a && sum[1] == b
}

// Header is the package header preceding every frame.
type Header struct {
	Flags      byte
	Src        uint32
	Dst        uint32
	DataLength uint16
}

func (h Header) marshal() []byte {
	out := make([]byte, headerSize)
	out[0] = h.Flags
	binary.LittleEndian.PutUint32(out[1:], h.Src)
	binary.LittleEndian.PutUint32(out[5:], h.Dst)
	binary.LittleEndian.PutUint16(out[9:], h.DataLength)
	return out
}

func unmarshalHeader(buf []byte) (Header, error) {
	if len(buf) < headerSize {
		return Header{}, fmt.Errorf("unmarshalHeader: need %d bytes, have %d", headerSize, len(buf))
	}
	return Header{
		Flags:      buf[0],
		Src:        binary.LittleEndian.Uint32(buf[1:]),
		Dst:        binary.LittleEndian.Uint32(buf[5:]),
		DataLength: binary.LittleEndian.Uint16(buf[9:]),
	}, nil
}

// Frame is the service frame carried by a package.
type Frame struct {
	ServiceFlags byte
	ServiceID    byte
	ObjectType   uint16
	ObjectID     uint32
	PropertyID   uint16
	Data         []byte
}

func (f Frame) marshal() []byte {
	out := make([]byte, frameHeaderSize, frameHeaderSize+len(f.Data))
	out[0] = f.ServiceFlags
	out[1] = f.ServiceID
	binary.LittleEndian.PutUint16(out[2:], f.ObjectType)
	binary.LittleEndian.PutUint32(out[4:], f.ObjectID)
	binary.LittleEndian.PutUint16(out[8:], f.PropertyID)
	return append(out, f.Data...)
}

func unmarshalFrame(buf []byte) (Frame, error) {
	if len(buf) < frameHeaderSize {
		return Frame{}, fmt.Errorf("unmarshalFrame: need at least %d bytes, have %d", frameHeaderSize, len(buf))
	}
	f := Frame{
		ServiceFlags: buf[0],
		ServiceID:    buf[1],
		ObjectType:   binary.LittleEndian.Uint16(buf[2:]),
		ObjectID:     binary.LittleEndian.Uint32(buf[4:]),
		PropertyID:   binary.LittleEndian.Uint16(buf[8:]),
	}
	f.Data = append([]byte(nil), buf[frameHeaderSize:]...)
	return f, nil
}

// IsResponse reports whether the frame is a response to a request.
func (f Frame) IsResponse() bool { return f.ServiceFlags&flagResponse != 0 }

// IsError reports whether the frame carries an scom error code as payload.
func (f Frame) IsError() bool { return f.ServiceFlags&flagError != 0 }

// ErrorCode unpacks the error code from an error frame's payload.
func (f Frame) ErrorCode() uint16 {
	if len(f.Data) < 2 {
		return ErrCodeNoError
	}
	return binary.LittleEndian.Uint16(f.Data)
}

// ErrorString returns the decoded error name of an error frame.
func (f Frame) ErrorString() string { return ErrorName(f.ErrorCode()) }

// Package is a complete scom package: header plus frame.
type Package struct {
	Header Header
	Frame  Frame
}

// GenPackage builds a request package for the given service and object.
// The source address is always the local client address.
func GenPackage(serviceID byte, objectType uint16, objectID uint32, propertyID uint16, data []byte, dst uint32) *Package {
	frame := Frame{
		ServiceID:  serviceID,
		ObjectType: objectType,
		ObjectID:   objectID,
		PropertyID: propertyID,
		Data:       data,
	}
	return &Package{
		Header: Header{
			Src:        AddrSource,
			Dst:        dst,
			DataLength: uint16(frameHeaderSize + len(data)),
		},
		Frame: frame,
	}
}

// Marshal serializes the package with start byte and both checksums.
func (p *Package) Marshal() []byte {
	header := p.Header.marshal()
	frame := p.Frame.marshal()

	out := make([]byte, 0, 1+len(header)+checksumSize+len(frame)+checksumSize)
	out = append(out, StartByte)
	out = append(out, header...)
	ha, hb := checksum(header)
	out = append(out, ha, hb)
	out = append(out, frame...)
	fa, fb := checksum(frame)
	return append(out, fa, fb)
}

// Matches reports whether p is the response answering request req.
func (p *Package) Matches(req *Package) bool {
	return p.Frame.IsResponse() &&
		p.Frame.ServiceID == req.Frame.ServiceID &&
		p.Frame.ObjectID == req.Frame.ObjectID &&
		p.Frame.PropertyID == req.Frame.PropertyID
}

// ParseBytes decodes one package from buf. Leading bytes before the start
// byte are skipped; trailing garbage after the package is ignored.
func ParseBytes(buf []byte) (*Package, error) {
	start := bytes.IndexByte(buf, StartByte)
	if start < 0 {
		return nil, errors.New("ParseBytes: no start byte found")
	}
	buf = buf[start+1:]

	if len(buf) < headerSize+checksumSize {
		return nil, fmt.Errorf("ParseBytes: truncated header (%d bytes)", len(buf))
	}
	if !verifyChecksum(buf[:headerSize], buf[headerSize:headerSize+checksumSize]) {
		return nil, fmt.Errorf("ParseBytes: header %w", ErrChecksum)
	}
	header, err := unmarshalHeader(buf)
	if err != nil {
		return nil, fmt.Errorf("ParseBytes: %w", err)
	}

	buf = buf[headerSize+checksumSize:]
	n := int(header.DataLength)
	if len(buf) < n+checksumSize {
		return nil, fmt.Errorf("ParseBytes: truncated frame (%d of %d bytes)", len(buf), n+checksumSize)
	}
	if !verifyChecksum(buf[:n], buf[n:n+checksumSize]) {
		return nil, fmt.Errorf("ParseBytes: frame %w", ErrChecksum)
	}
	frame, err := unmarshalFrame(buf[:n])
	if err != nil {
		return nil, fmt.Errorf("ParseBytes: %w", err)
	}

	return &Package{Header: header, Frame: frame}, nil
}

// ReadPackage reads one complete package from r, skipping any noise bytes
// ahead of the start byte. It blocks until a full package arrives or the
// reader fails.
func ReadPackage(r io.Reader) (*Package, error) {
	// Scan for the start byte one octet at a time.
	one := make([]byte, 1)
	for {
		if _, err := io.ReadFull(r, one); err != nil {
			return nil, fmt.Errorf("ReadPackage: %w", err)
		}
		if one[0] == StartByte {
			break
		}
	}

	hbuf := make([]byte, headerSize+checksumSize)
	if _, err := io.ReadFull(r, hbuf); err != nil {
		return nil, fmt.Errorf("ReadPackage: header: %w", err)
	}
	if !verifyChecksum(hbuf[:headerSize], hbuf[headerSize:]) {
		return nil, fmt.Errorf("ReadPackage: header %w", ErrChecksum)
	}
	header, err := unmarshalHeader(hbuf)
	if err != nil {
		return nil, fmt.Errorf("ReadPackage: %w", err)
	}

	fbuf := make([]byte, int(header.DataLength)+checksumSize)
	if _, err := io.ReadFull(r, fbuf); err != nil {
		return nil, fmt.Errorf("ReadPackage: frame: %w", err)
	}
	n := int(header.DataLength)
	if !verifyChecksum(fbuf[:n], fbuf[n:]) {
		return nil, fmt.Errorf("ReadPackage: frame %w", ErrChecksum)
	}
	frame, err := unmarshalFrame(fbuf[:n])
	if err != nil {
		return nil, fmt.Errorf("ReadPackage: %w", err)
	}

	return &Package{Header: header, Frame: frame}, nil
}
