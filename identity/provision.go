package identity

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"fmt"

	"sags/registry"
)

// DefaultKeyBits is the RSA modulus size used for new enrolments.
const DefaultKeyBits = 2048

// Enrolment is the material stored for one vehicle.
type Enrolment struct {
	KeyID         string
	EncryptedTag  string
	PrivateKeyPEM string
}

// Provision generates a key pair for (name, plate) and encrypts tag under it.
func Provision(name, plate, tag string, bits int) (Enrolment, error) {
	id, err := DeriveKeyID(name, plate)
	if err != nil {
		return Enrolment{}, err
	}
	if bits == 0 {
		bits = DefaultKeyBits
	}
	key, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return Enrolment{}, fmt.Errorf("generate key: %w", err)
	}
	ct, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, &key.PublicKey, []byte(tag), nil)
	if err != nil {
		return Enrolment{}, fmt.Errorf("encrypt tag: %w", err)
	}
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return Enrolment{}, fmt.Errorf("marshal key: %w", err)
	}
	return Enrolment{
		KeyID:         id,
		EncryptedTag:  hex.EncodeToString(ct),
		PrivateKeyPEM: string(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})),
	}, nil
}

// Enrol provisions (name, plate, tag) and writes the vehicle and key rows.
func Enrol(ctx context.Context, r registry.Registry, name, plate, tag string, bits int) (Enrolment, error) {
	e, err := Provision(name, plate, tag, bits)
	if err != nil {
		return e, err
	}
	if err := r.PutKey(ctx, e.KeyID, e.PrivateKeyPEM); err != nil {
		return e, err
	}
	if err := r.PutVehicle(ctx, registry.Vehicle{Name: name, Plate: plate, EncryptedTag: e.EncryptedTag}); err != nil {
		return e, err
	}
	return e, nil
}
