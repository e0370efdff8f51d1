// Package access runs the gate cycle: a vehicle arrives, its tag and plate
// are read and cross-checked, and the gate opens until the vehicle has
// passed.
package access

import (
	"context"
	"time"

	"sags/identity"
	"sags/plate"
	"sags/reader"
	"sags/registry"
)

// State is a step of the gate cycle.
type State int

const (
	Idle State = iota
	VehiclePresent
	AwaitingTag
	AwaitingPlate
	Verifying
	GateOpen
	AwaitingClear
	Rejected
)

var stateNames = [...]string{
	Idle:           "Idle",
	VehiclePresent: "VehiclePresent",
	AwaitingTag:    "AwaitingTag",
	AwaitingPlate:  "AwaitingPlate",
	Verifying:      "Verifying",
	GateOpen:       "GateOpen",
	AwaitingClear:  "AwaitingClear",
	Rejected:       "Rejected",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "Unknown"
	}
	return stateNames[s]
}

// Reason names why a cycle did not end with the vehicle passing normally.
// The zero value means it did.
type Reason string

const (
	NoTag            Reason = "NoTag"
	NoImage          Reason = "NoImage"
	NoPlate          Reason = "NoPlate"
	NoVehicleMatch   Reason = "NoVehicleMatch"
	IdentityMismatch Reason = "IdentityMismatch"
	GateFault        Reason = "GateFault"
	ClearTimeout     Reason = "ClearTimeout"
	Aborted          Reason = "Aborted"
)

// Session is the state of one cycle. It exists from the moment a vehicle is
// seen until the cycle returns to Idle.
type Session struct {
	ID              string
	StartedAt       time.Time
	State           State
	VehicleDetected bool
	Tag             *reader.Observation
	ImagePath       string
	Plate           string
	Name            string
	Verified        bool
	// VerifyReason is the verifier's detail when Verified is false.
	VerifyReason  identity.Reason
	LastTriggerAt time.Time
	// Reason is set once the cycle has an outcome other than a clean pass.
	Reason Reason
}

// Result is how a cycle ended.
type Result struct {
	Session Session
	Opened  bool
	Reason  Reason
}

// Granted reports whether the gate opened for this cycle.
func (r Result) Granted() bool { return r.Opened }

// Sensor reports vehicle presence.
type Sensor interface {
	Present() (bool, error)
}

// TagSource hands out the freshest new tag without blocking.
type TagSource interface {
	Poll() (reader.Observation, bool, error)
}

// ImageSource produces the frame a cycle reads the plate from.
type ImageSource interface {
	Image(ctx context.Context, s *Session) (string, error)
}

// PlateReader turns a frame into a plate string.
type PlateReader interface {
	Read(ctx context.Context, imagePath string) (string, *plate.Detection, error)
}

// Vehicles finds the enrolled vehicle for a plate.
type Vehicles interface {
	FindVehicleByPlate(ctx context.Context, plate string) (registry.Vehicle, error)
}

// Verifier confirms a tag belongs to a vehicle.
type Verifier interface {
	Verify(ctx context.Context, name, plate, tag string) (bool, identity.Reason)
}

// Gate is the barrier actuator.
type Gate interface {
	Open() error
	Close() error
}

// Observer is told about every state change and every finished cycle.
// Calls are made on the cycle goroutine and must not block.
type Observer interface {
	StateChanged(s Session)
	CycleDone(r Result)
}

type noopObserver struct{}

func (noopObserver) StateChanged(Session) {}
func (noopObserver) CycleDone(Result)     {}
