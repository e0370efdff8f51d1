package registry

import (
	"context"
	"strings"
	"sync"
)

// Memory is a map-backed Registry for tests and bench setups.
type Memory struct {
	mu       sync.RWMutex
	vehicles []Vehicle
	keys     map[string]string
}

func NewMemory() *Memory {
	return &Memory{keys: make(map[string]string)}
}

func (m *Memory) FindVehicleByPlate(_ context.Context, plate string) (Vehicle, error) {
	plate = strings.TrimSpace(plate)
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, v := range m.vehicles {
		if v.Plate == plate {
			return v, nil
		}
	}
	return Vehicle{}, ErrNotFound
}

func (m *Memory) FindVehicleByNameAndPlate(_ context.Context, name, plate string) (Vehicle, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, v := range m.vehicles {
		if v.Name == name && v.Plate == plate {
			return v, nil
		}
	}
	return Vehicle{}, ErrNotFound
}

func (m *Memory) FindPrivateKeyByID(_ context.Context, id string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	pem, ok := m.keys[id]
	if !ok {
		return "", ErrNotFound
	}
	return pem, nil
}

func (m *Memory) PutVehicle(_ context.Context, v Vehicle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.vehicles {
		if m.vehicles[i].Name == v.Name && m.vehicles[i].Plate == v.Plate {
			m.vehicles[i] = v
			return nil
		}
	}
	m.vehicles = append(m.vehicles, v)
	return nil
}

func (m *Memory) PutKey(_ context.Context, id, privateKeyPEM string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.keys[id] = privateKeyPEM
	return nil
}
