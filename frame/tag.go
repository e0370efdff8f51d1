package frame

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// TLV types inside a tag notification.
const (
	TLVEPC       byte = 0x01
	TLVRSSI      byte = 0x05
	TLVTimestamp byte = 0x06
)

var (
	ErrNotTag          = errors.New("not a tag notification")
	ErrMalformedTLV    = errors.New("malformed TLV")
	ErrShortIdentifier = errors.New("tag payload too short for identifier")
)

// IDMode selects how the tag identifier is cut out of a notification.
type IDMode string

const (
	// IDLegacy takes hex characters 8..32 of the payload minus its last two
	// bytes, which is what the deployed registries were provisioned with.
	IDLegacy IDMode = "legacy"

	// IDEPC takes the EPC TLV value as declared by its length field and
	// drops the leading 2-byte protocol-control word.
	IDEPC IDMode = "epc"
)

// Tag is one tag read decoded from a notification frame.
type Tag struct {
	EPC       string
	RSSI      uint32
	Timestamp uint32
	RawTLV    []byte

	epcValue []byte
}

// TLV encodes one type-length-value triple.
func TLV(typ byte, value []byte) []byte {
	out := make([]byte, 0, len(value)+2)
	out = append(out, typ, byte(len(value)))
	return append(out, value...)
}

// TagNotification builds the frame a reader emits for a tag read.
func TagNotification(tlv []byte) []byte {
	return Frame{Type: TypeNotification, Code: CodeTagNotification, Params: tlv}.Bytes()
}

// ParseTag decodes the TLV payload of a tag notification. Unknown TLV types
// are skipped by their declared length.
func ParseTag(f Frame) (Tag, error) {
	if !f.IsTagNotification() {
		return Tag{}, ErrNotTag
	}

	raw := f.Params
	tag := Tag{RawTLV: raw}
	for i := 0; i < len(raw); {
		if i+2 > len(raw) {
			return Tag{}, fmt.Errorf("%w: truncated header at offset %d", ErrMalformedTLV, i)
		}
		typ, length := raw[i], int(raw[i+1])
		end := i + 2 + length
		if end > len(raw) {
			return Tag{}, fmt.Errorf("%w: type 0x%02x length %d overruns %d bytes", ErrMalformedTLV, typ, length, len(raw)-i-2)
		}
		value := raw[i+2 : end]

		switch typ {
		case TLVEPC:
			tag.EPC = hex.EncodeToString(value)
			tag.epcValue = value
		case TLVRSSI:
			tag.RSSI = beUint32(value)
		case TLVTimestamp:
			tag.Timestamp = beUint32(value)
		}
		i = end
	}
	return tag, nil
}

// Identifier returns the normalized (uppercase hex) identifier used for
// deduplication and identity checks.
func (t Tag) Identifier(mode IDMode) (string, error) {
	switch mode {
	case IDEPC:
		if len(t.epcValue) <= 2 {
			return "", fmt.Errorf("%w: EPC value is %d bytes", ErrShortIdentifier, len(t.epcValue))
		}
		return strings.ToUpper(hex.EncodeToString(t.epcValue[2:])), nil
	case IDLegacy, "":
		if len(t.RawTLV) < 2 {
			return "", ErrShortIdentifier
		}
		h := strings.ToUpper(hex.EncodeToString(t.RawTLV[:len(t.RawTLV)-2]))
		if len(h) < 32 {
			return "", fmt.Errorf("%w: %d hex chars", ErrShortIdentifier, len(h))
		}
		return h[8:32], nil
	default:
		return "", fmt.Errorf("unknown identifier mode %q", mode)
	}
}

func beUint32(b []byte) uint32 {
	var v uint32
	for _, c := range b {
		v = v<<8 | uint32(c)
	}
	return v
}
