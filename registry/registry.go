// Package registry stores the vehicles allowed through the gate and the
// private keys that unlock their enrolled tags.
package registry

import (
	"context"
	"errors"
)

// ErrNotFound is returned by lookups that match no row.
var ErrNotFound = errors.New("not found")

// Vehicle is one enrolled vehicle. EncryptedTag is the hex ciphertext of
// the vehicle's tag identifier.
type Vehicle struct {
	Name         string
	Plate        string
	EncryptedTag string
}

// Registry is the query contract the gate needs.
type Registry interface {
	FindVehicleByPlate(ctx context.Context, plate string) (Vehicle, error)
	FindVehicleByNameAndPlate(ctx context.Context, name, plate string) (Vehicle, error)
	FindPrivateKeyByID(ctx context.Context, id string) (string, error)

	PutVehicle(ctx context.Context, v Vehicle) error
	PutKey(ctx context.Context, id, privateKeyPEM string) error
}

// Config selects the backing store.
type Config struct {
	Type string `yaml:"type"` // "sqlite" (default) or "memory"
	Path string `yaml:"path"` // e.g. "./data/vehicles.db"
}

// New opens the configured registry. The returned close function releases
// it and is never nil.
func New(ctx context.Context, cfg Config) (Registry, func() error, error) {
	switch cfg.Type {
	case "memory":
		return NewMemory(), func() error { return nil }, nil
	case "sqlite", "":
		s, err := Open(ctx, cfg)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	default:
		return nil, nil, errors.New("unknown registry type " + cfg.Type)
	}
}
