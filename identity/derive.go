// Package identity binds an RFID tag to an enrolled (name, plate) pair.
//
// The registry stores each vehicle's tag encrypted under its own RSA key.
// The key row is found through an identifier derived from the name and the
// plate, so the ciphertext and the key that opens it are never stored side
// by side.
package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"math"
	"math/big"
	"strconv"
	"strings"
	"unicode"
)

var (
	ErrNoDigits  = errors.New("plate has no digits")
	ErrZeroPlate = errors.New("plate digits are zero")
	ErrEmptyName = errors.New("empty name")
	ErrOverflow  = errors.New("quotient out of float range")
)

// DeriveKeyID returns the hex SHA-256 key identifier for (name, plate).
//
// The plate's digits form a number N. The name is rotated right by N mod 10
// characters (reduced modulo the name length), its code points are joined
// as decimal text into an integer A, and the float64 quotient A/N is hashed
// in its shortest round-trip decimal form.
func DeriveKeyID(name, plate string) (string, error) {
	var digits strings.Builder
	for _, c := range plate {
		if v, ok := decimalValue(c); ok {
			digits.WriteByte('0' + v)
		}
	}
	if digits.Len() == 0 {
		return "", ErrNoDigits
	}
	numeric, _ := new(big.Int).SetString(digits.String(), 10)
	if numeric.Sign() == 0 {
		return "", ErrZeroPlate
	}

	runes := []rune(name)
	if len(runes) == 0 {
		return "", ErrEmptyName
	}
	n := int(new(big.Int).Mod(numeric, big.NewInt(10)).Int64()) % len(runes)
	rotated := append(append([]rune{}, runes[len(runes)-n:]...), runes[:len(runes)-n]...)

	var codes strings.Builder
	for _, c := range rotated {
		codes.WriteString(strconv.Itoa(int(c)))
	}
	ascii, _ := new(big.Int).SetString(codes.String(), 10)

	q, _ := new(big.Rat).SetFrac(ascii, numeric).Float64()
	if math.IsInf(q, 0) {
		return "", ErrOverflow
	}

	sum := sha256.Sum256([]byte(formatFloat(q)))
	return hex.EncodeToString(sum[:]), nil
}

// formatFloat renders f the way the enrolment tooling printed floats:
// shortest round-trip digits, fixed notation with a trailing ".0" for
// integral values, and exponent notation below 1e-4 or from 1e16 up.
func formatFloat(f float64) string {
	if f == 0 {
		return "0.0"
	}
	e := strconv.FormatFloat(f, 'e', -1, 64)
	i := strings.LastIndexByte(e, 'e')
	exp, _ := strconv.Atoi(e[i+1:])
	if exp < -4 || exp >= 16 {
		return e
	}
	s := strconv.FormatFloat(f, 'f', -1, 64)
	if !strings.ContainsRune(s, '.') {
		s += ".0"
	}
	return s
}

// decimalValue maps any Unicode decimal digit (category Nd) to its value.
// Nd digits come in runs of ten starting at zero, so the offset into the
// range table entry gives the value.
func decimalValue(c rune) (byte, bool) {
	if c >= '0' && c <= '9' {
		return byte(c - '0'), true
	}
	if !unicode.Is(unicode.Nd, c) {
		return 0, false
	}
	for _, r := range unicode.Nd.R16 {
		if lo, hi := rune(r.Lo), rune(r.Hi); r.Stride == 1 && c >= lo && c <= hi {
			return byte((c - lo) % 10), true
		}
	}
	for _, r := range unicode.Nd.R32 {
		if lo, hi := rune(r.Lo), rune(r.Hi); r.Stride == 1 && c >= lo && c <= hi {
			return byte((c - lo) % 10), true
		}
	}
	return 0, false
}
