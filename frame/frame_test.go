package frame

import (
	"bytes"
	"encoding/hex"
	"errors"
	"testing"
)

func TestCommandBytes(t *testing.T) {
	got := Command(CodeStartInventory, nil)
	want := []byte{'R', 'F', 0x00, 0x00, 0x00, 0x21, 0x00, 0x00}
	want = append(want, Checksum(want))
	if !bytes.Equal(got, want) {
		t.Fatalf("start inventory = %x, want %x", got, want)
	}

	var sum byte
	for _, c := range got {
		sum += c
	}
	if sum != 0 {
		t.Errorf("frame byte sum = 0x%02x, want 0", sum)
	}
}

func TestRoundTrip(t *testing.T) {
	cases := []struct {
		name   string
		code   byte
		params []byte
	}{
		{"empty", CodeStopInventory, nil},
		{"one byte", 0x10, []byte{0xff}},
		{"ascii", 0x42, []byte("hello reader")},
		{"long", 0x99, bytes.Repeat([]byte{0xa5, 0x5a, 0x00}, 400)},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			enc := Encode([2]byte{0x12, 0x34}, tc.code, tc.params)
			f, n, err := TryDecode(enc)
			if err != nil {
				t.Fatalf("TryDecode: %v", err)
			}
			if n != len(enc) {
				t.Errorf("consumed %d, want %d", n, len(enc))
			}
			if f.Code != tc.code {
				t.Errorf("code = 0x%02x, want 0x%02x", f.Code, tc.code)
			}
			if !bytes.Equal(f.Params, tc.params) {
				t.Errorf("params = %x, want %x", f.Params, tc.params)
			}
			if f.Address != [2]byte{0x12, 0x34} {
				t.Errorf("address = %x", f.Address)
			}
		})
	}
}

func TestTryDecodeBitFlipNeverYieldsOriginal(t *testing.T) {
	params := []byte{0x01, 0x02, 0x03, 0x04, 0x80, 0xfe}
	enc := Command(0x55, params)

	for i := 2; i < len(enc); i++ {
		for bit := 0; bit < 8; bit++ {
			mut := append([]byte(nil), enc...)
			mut[i] ^= 1 << bit

			f, _, err := TryDecode(mut)
			if err == nil && f.Code == 0x55 && bytes.Equal(f.Params, params) {
				t.Fatalf("flip byte %d bit %d decoded to original parameters", i, bit)
			}
		}
	}
}

func TestTryDecodeChecksumMismatch(t *testing.T) {
	enc := Command(0x21, []byte{0x01, 0x02})
	enc[len(enc)-2] ^= 0x40

	_, n, err := TryDecode(enc)
	if !errors.Is(err, ErrInvalidChecksum) {
		t.Fatalf("err = %v, want ErrInvalidChecksum", err)
	}
	if n != len(enc) {
		t.Errorf("consumed %d, want whole frame %d", n, len(enc))
	}
}

func TestTryDecodeIncompleteAndUnframed(t *testing.T) {
	enc := Command(0x21, []byte{1, 2, 3})

	for _, cut := range []int{0, 1, 7, 8, len(enc) - 1} {
		_, n, err := TryDecode(enc[:cut])
		if !errors.Is(err, ErrIncomplete) {
			t.Errorf("cut %d: err = %v, want ErrIncomplete", cut, err)
		}
		if n != 0 {
			t.Errorf("cut %d: consumed %d", cut, n)
		}
	}

	junk := []byte("XXRF\x00\x00\x00\x21\x00\x00")
	_, n, err := TryDecode(junk)
	if !errors.Is(err, ErrNoMarker) {
		t.Fatalf("err = %v, want ErrNoMarker", err)
	}
	if n != 0 {
		t.Errorf("consumed %d on unframed data", n)
	}
}

func TestTryDecodeOversizedLength(t *testing.T) {
	enc := Command(0x21, []byte{1, 2, 3})
	enc[6], enc[7] = 0x7f, 0xff

	_, n, err := TryDecode(enc)
	if !errors.Is(err, ErrNoMarker) {
		t.Fatalf("err = %v, want ErrNoMarker", err)
	}
	if n != 0 {
		t.Errorf("consumed %d", n)
	}

	ok := Command(0x21, make([]byte, MaxParams))
	if _, _, err := TryDecode(ok); err != nil {
		t.Errorf("MaxParams frame: %v", err)
	}
}

func TestTryDecodeConsumesOneFrame(t *testing.T) {
	a := Command(0x21, []byte{0xaa})
	b := Command(0x23, nil)
	buf := append(append([]byte(nil), a...), b...)

	f, n, err := TryDecode(buf)
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	if f.Code != 0x21 || n != len(a) {
		t.Fatalf("first frame code 0x%02x consumed %d", f.Code, n)
	}

	f, _, err = TryDecode(buf[n:])
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	if f.Code != 0x23 {
		t.Errorf("second frame code 0x%02x", f.Code)
	}
}

func mustHex(t *testing.T, s string) []byte {
	t.Helper()
	b, err := hex.DecodeString(s)
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func sampleTLV(t *testing.T) []byte {
	t.Helper()
	var tlv []byte
	tlv = append(tlv, TLV(TLVEPC, mustHex(t, "3000E2000017221101511234ABCD"))...)
	tlv = append(tlv, TLV(0x09, []byte{0xde, 0xad})...) // unknown, skipped
	tlv = append(tlv, TLV(TLVRSSI, []byte{0x00, 0xc8})...)
	tlv = append(tlv, TLV(TLVTimestamp, []byte{0x00, 0x01, 0x02, 0x03})...)
	return tlv
}

func TestParseTag(t *testing.T) {
	f, _, err := TryDecode(TagNotification(sampleTLV(t)))
	if err != nil {
		t.Fatalf("TryDecode: %v", err)
	}

	tag, err := ParseTag(f)
	if err != nil {
		t.Fatalf("ParseTag: %v", err)
	}
	if tag.EPC != "3000e2000017221101511234abcd" {
		t.Errorf("EPC = %s", tag.EPC)
	}
	if tag.RSSI != 200 {
		t.Errorf("RSSI = %d, want 200", tag.RSSI)
	}
	if tag.Timestamp != 0x00010203 {
		t.Errorf("Timestamp = 0x%x", tag.Timestamp)
	}

	for _, mode := range []IDMode{IDLegacy, IDEPC} {
		id, err := tag.Identifier(mode)
		if err != nil {
			t.Fatalf("Identifier(%s): %v", mode, err)
		}
		if id != "E2000017221101511234ABCD" {
			t.Errorf("Identifier(%s) = %s", mode, id)
		}
	}
}

func TestParseTagMalformed(t *testing.T) {
	cases := map[string][]byte{
		"value overrun":    {TLVEPC, 0x10, 0x01, 0x02},
		"dangling type":    append(TLV(TLVRSSI, []byte{1}), TLVTimestamp),
		"unknown overruns": append(TLV(TLVEPC, []byte{1, 2, 3}), 0x7f, 0x05, 0x00),
	}

	for name, tlv := range cases {
		t.Run(name, func(t *testing.T) {
			f, _, err := TryDecode(TagNotification(tlv))
			if err != nil {
				t.Fatalf("TryDecode: %v", err)
			}
			if _, err := ParseTag(f); !errors.Is(err, ErrMalformedTLV) {
				t.Errorf("err = %v, want ErrMalformedTLV", err)
			}
		})
	}
}

func TestParseTagRejectsOtherFrames(t *testing.T) {
	f, _, err := TryDecode(Command(CodeStartInventory, nil))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := ParseTag(f); !errors.Is(err, ErrNotTag) {
		t.Errorf("err = %v, want ErrNotTag", err)
	}
}

func TestIdentifierShortPayload(t *testing.T) {
	f, _, err := TryDecode(TagNotification(TLV(TLVEPC, []byte{0x30, 0x00, 0x01})))
	if err != nil {
		t.Fatal(err)
	}
	tag, err := ParseTag(f)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := tag.Identifier(IDLegacy); !errors.Is(err, ErrShortIdentifier) {
		t.Errorf("legacy err = %v", err)
	}
	if id, err := tag.Identifier(IDEPC); err != nil || id != "01" {
		t.Errorf("epc = %q, %v", id, err)
	}
}
