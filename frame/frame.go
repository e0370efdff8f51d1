// Package frame encodes and decodes the binary frames spoken by the UHF
// reader on its serial link.
//
// Wire layout: "RF" [type] [addr hi] [addr lo] [code] [len hi] [len lo] [params...] [checksum]
// The checksum is the two's-complement negation of the byte sum of everything before it.
package frame

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Frame types.
const (
	TypeCommand      byte = 0x00
	TypeNotification byte = 0x02
)

// Frame codes.
const (
	CodeStartInventory  byte = 0x21
	CodeStopInventory   byte = 0x23
	CodeTagNotification byte = 0x80
)

// HeaderLen is the fixed length of marker, type, address, code and length fields.
const HeaderLen = 8

// Marker starts every frame.
const Marker = "RF"

// MaxParams is the longest parameter block the reader sends. A larger
// declared length means the header is corrupt.
const MaxParams = 512

var (
	ErrIncomplete      = errors.New("incomplete frame")
	ErrNoMarker        = errors.New("no frame marker")
	ErrInvalidChecksum = errors.New("invalid checksum")
)

// Frame is one decoded protocol message.
type Frame struct {
	Type     byte
	Address  [2]byte
	Code     byte
	Params   []byte
	Checksum byte
}

// Checksum returns the value that makes the byte sum of b plus the checksum zero.
func Checksum(b []byte) byte {
	var sum byte
	for _, c := range b {
		sum += c
	}
	return ^sum + 1
}

// Bytes serializes the frame, computing a fresh checksum.
func (f Frame) Bytes() []byte {
	out := make([]byte, 0, HeaderLen+len(f.Params)+1)
	out = append(out, Marker...)
	out = append(out, f.Type, f.Address[0], f.Address[1], f.Code)
	out = binary.BigEndian.AppendUint16(out, uint16(len(f.Params)))
	out = append(out, f.Params...)
	return append(out, Checksum(out))
}

// IsTagNotification reports whether f carries a tag read.
func (f Frame) IsTagNotification() bool {
	return f.Type == TypeNotification && f.Code == CodeTagNotification
}

func (f Frame) String() string {
	return fmt.Sprintf("frame type=0x%02x addr=%02x%02x code=0x%02x params=%d", f.Type, f.Address[0], f.Address[1], f.Code, len(f.Params))
}

// Encode builds a command frame for the reader at address.
func Encode(address [2]byte, code byte, params []byte) []byte {
	return Frame{Type: TypeCommand, Address: address, Code: code, Params: params}.Bytes()
}

// Command builds a command frame for the default reader address 0x0000.
func Command(code byte, params []byte) []byte {
	return Encode([2]byte{}, code, params)
}

// TryDecode decodes the frame at the start of buf.
//
// It returns the number of bytes consumed alongside the frame. ErrIncomplete
// and ErrNoMarker consume nothing; the caller decides whether to wait for
// more input or report the bytes as unframed. A header declaring more than
// MaxParams parameter bytes is reported as ErrNoMarker. ErrInvalidChecksum
// consumes the whole frame so that the caller drops it and resynchronizes
// after it.
func TryDecode(buf []byte) (Frame, int, error) {
	if len(buf) < HeaderLen {
		return Frame{}, 0, ErrIncomplete
	}
	if string(buf[:2]) != Marker {
		return Frame{}, 0, ErrNoMarker
	}

	paramLen := int(binary.BigEndian.Uint16(buf[6:8]))
	if paramLen > MaxParams {
		return Frame{}, 0, fmt.Errorf("%w: declared length %d", ErrNoMarker, paramLen)
	}
	total := HeaderLen + paramLen + 1
	if len(buf) < total {
		return Frame{}, 0, ErrIncomplete
	}

	sum := buf[total-1]
	if Checksum(buf[:total-1]) != sum {
		return Frame{}, total, fmt.Errorf("%w: code 0x%02x got 0x%02x", ErrInvalidChecksum, buf[5], sum)
	}

	params := make([]byte, paramLen)
	copy(params, buf[HeaderLen:total-1])

	return Frame{
		Type:     buf[2],
		Address:  [2]byte{buf[3], buf[4]},
		Code:     buf[5],
		Params:   params,
		Checksum: sum,
	}, total, nil
}
