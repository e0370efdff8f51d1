package identity

import (
	"context"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
	"log"
	"strings"

	"sags/registry"
)

// Reason names why a verification failed. The zero value means success.
type Reason string

const (
	NoVehicleMatch Reason = "NoVehicleMatch"
	NoKeyMatch     Reason = "NoKeyMatch"
	DecryptFailure Reason = "DecryptFailure"
	TagMismatch    Reason = "TagMismatch"
)

// Store is the part of the registry the verifier reads.
type Store interface {
	FindVehicleByNameAndPlate(ctx context.Context, name, plate string) (registry.Vehicle, error)
	FindPrivateKeyByID(ctx context.Context, id string) (string, error)
}

// Verifier checks an observed tag against a vehicle's encrypted enrolment.
type Verifier struct {
	store  Store
	logger *log.Logger
}

func NewVerifier(store Store, logger *log.Logger) *Verifier {
	if logger == nil {
		logger = log.Default()
	}
	return &Verifier{store: store, logger: logger}
}

// Verify reports whether tag is the tag enrolled for (name, plate). It never
// returns an error: every failure is logged and reported as a Reason.
func (v *Verifier) Verify(ctx context.Context, name, plate, tag string) (bool, Reason) {
	reason, err := v.verify(ctx, name, plate, tag)
	if reason != "" {
		v.logger.Printf("verify %s/%s: %s: %v", name, plate, reason, err)
		return false, reason
	}
	v.logger.Printf("verify %s/%s: tag matches", name, plate)
	return true, ""
}

func (v *Verifier) verify(ctx context.Context, name, plate, tag string) (Reason, error) {
	veh, err := v.store.FindVehicleByNameAndPlate(ctx, name, plate)
	if err != nil {
		return NoVehicleMatch, err
	}

	id, err := DeriveKeyID(name, plate)
	if err != nil {
		return NoKeyMatch, err
	}
	keyPEM, err := v.store.FindPrivateKeyByID(ctx, id)
	if err != nil {
		return NoKeyMatch, fmt.Errorf("key %s: %w", id, err)
	}

	plain, err := Decrypt(veh.EncryptedTag, keyPEM)
	if err != nil {
		return DecryptFailure, err
	}
	if plain != tag {
		return TagMismatch, fmt.Errorf("observed %q", tag)
	}
	return "", nil
}

// Decrypt opens hex RSA-OAEP(SHA-256) ciphertext with a PEM private key.
func Decrypt(cipherHex, keyPEM string) (string, error) {
	key, err := ParsePrivateKey([]byte(keyPEM))
	if err != nil {
		return "", err
	}
	ct, err := hex.DecodeString(strings.TrimSpace(cipherHex))
	if err != nil {
		return "", fmt.Errorf("decode ciphertext: %w", err)
	}
	plain, err := rsa.DecryptOAEP(sha256.New(), nil, key, ct, nil)
	if err != nil {
		return "", fmt.Errorf("decrypt: %w", err)
	}
	return string(plain), nil
}

// ParsePrivateKey accepts PKCS#1 ("RSA PRIVATE KEY") and PKCS#8
// ("PRIVATE KEY") PEM.
func ParsePrivateKey(b []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(b)
	if block == nil {
		return nil, errors.New("no PEM block in private key")
	}
	switch block.Type {
	case "RSA PRIVATE KEY":
		return x509.ParsePKCS1PrivateKey(block.Bytes)
	case "PRIVATE KEY":
		k, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, err
		}
		rk, ok := k.(*rsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("private key is %T, not RSA", k)
		}
		return rk, nil
	default:
		return nil, fmt.Errorf("unsupported PEM block %q", block.Type)
	}
}
