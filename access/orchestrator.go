package access

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"sags/reader"
	"sags/registry"
	"sags/retry"
)

// Config holds the cycle's timing policy.
type Config struct {
	TagAttempts      int `yaml:"tag_attempts"`       // reader polls per cycle, default 5
	TagIntervalMs    int `yaml:"tag_interval_ms"`    // delay between polls, default 1000
	SensorPollMs     int `yaml:"sensor_poll_ms"`     // idle sensor poll, default 100
	ClearPollMs      int `yaml:"clear_poll_ms"`      // sensor poll while the gate is open, default 500
	ClearTimeoutSecs int `yaml:"clear_timeout_secs"` // close anyway after this long, 0 = wait for the vehicle
}

// Dependencies are the collaborators of an Orchestrator.
type Dependencies struct {
	Logger   *log.Logger
	Clock    retry.Clock
	Sensor   Sensor
	Tags     TagSource
	Images   ImageSource
	Plates   PlateReader
	Vehicles Vehicles
	Verifier Verifier
	Gate     Gate
	Observer Observer
	NewID    func() string
}

// Orchestrator owns the gate cycle. Only one cycle runs at a time.
type Orchestrator struct {
	d            Dependencies
	tagPolicy    retry.Policy
	sensorPoll   time.Duration
	clearPoll    time.Duration
	clearTimeout time.Duration

	cycleMu  sync.Mutex
	detected bool
}

func New(cfg Config, d Dependencies) *Orchestrator {
	if d.Logger == nil {
		d.Logger = log.Default()
	}
	if d.Clock == nil {
		d.Clock = retry.RealClock
	}
	if d.Observer == nil {
		d.Observer = noopObserver{}
	}
	if d.NewID == nil {
		d.NewID = uuid.NewString
	}
	return &Orchestrator{
		d: d,
		tagPolicy: retry.Policy{
			Attempts: orDefault(cfg.TagAttempts, 5),
			Interval: ms(cfg.TagIntervalMs, 1000),
			Clock:    d.Clock,
		},
		sensorPoll:   ms(cfg.SensorPollMs, 100),
		clearPoll:    ms(cfg.ClearPollMs, 500),
		clearTimeout: time.Duration(cfg.ClearTimeoutSecs) * time.Second,
	}
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

func ms(v, def int) time.Duration {
	return time.Duration(orDefault(v, def)) * time.Millisecond
}

// Run polls the sensor until ctx is done and runs a cycle for each vehicle
// arrival. A vehicle that stays on the sensor after its cycle does not start
// another one until the sensor has cleared.
func (o *Orchestrator) Run(ctx context.Context) error {
	var lastErr string
	for {
		present, err := o.d.Sensor.Present()
		switch {
		case err != nil:
			if err.Error() != lastErr {
				o.d.Logger.Printf("sensor read: %v", err)
				lastErr = err.Error()
			}
		case present && !o.detected:
			lastErr = ""
			o.detected = true
			o.d.Logger.Println("vehicle detected")
			o.Cycle(ctx)
		case !present && o.detected:
			lastErr = ""
			o.detected = false
			o.d.Logger.Println("sensor clear")
		default:
			lastErr = ""
		}

		if err := retry.Sleep(ctx, o.d.Clock, o.sensorPoll); err != nil {
			return err
		}
	}
}

// Cycle runs one full cycle, fetching the frame from the ImageSource.
func (o *Orchestrator) Cycle(ctx context.Context) Result {
	o.cycleMu.Lock()
	defer o.cycleMu.Unlock()
	return o.run(ctx, o.d.Images.Image)
}

// CycleWithImage runs a cycle against a frame that has already arrived, for
// uploads that no running cycle was waiting for. It returns false without
// doing anything when another cycle is in progress.
func (o *Orchestrator) CycleWithImage(ctx context.Context, imagePath string) (Result, bool) {
	if !o.cycleMu.TryLock() {
		return Result{}, false
	}
	defer o.cycleMu.Unlock()
	return o.run(ctx, func(context.Context, *Session) (string, error) {
		return imagePath, nil
	}), true
}

// ManualOpen opens the gate without reading a tag or plate, then closes it
// once the sensor clears, as a normal cycle would. It waits for any cycle in
// progress to finish first.
func (o *Orchestrator) ManualOpen(ctx context.Context, operator string) Result {
	o.cycleMu.Lock()
	defer o.cycleMu.Unlock()

	s := &Session{
		ID:        o.d.NewID(),
		StartedAt: o.d.Clock.Now(),
		Name:      operator,
		Verified:  true,
	}
	if ctx.Err() != nil {
		o.d.Logger.Printf("cycle %s: manual open by %s dropped: shutting down", s.ID, operator)
		s.Reason = Aborted
		return Result{Session: *s, Reason: Aborted}
	}
	o.d.Logger.Printf("cycle %s: manual open by %s", s.ID, operator)

	var r Result
	if err := o.d.Gate.Open(); err != nil {
		o.d.Logger.Printf("cycle %s: gate open: %v", s.ID, err)
		r.Reason = GateFault
		s.Reason = r.Reason
		o.set(s, Rejected)
	} else {
		o.set(s, GateOpen)
		r = o.awaitClear(ctx, s)
		s.Reason = r.Reason
	}
	o.set(s, Idle)

	r.Session = *s
	o.d.Observer.CycleDone(r)
	return r
}

func (o *Orchestrator) set(s *Session, st State) {
	s.State = st
	o.d.Observer.StateChanged(*s)
}

func (o *Orchestrator) run(ctx context.Context, image func(context.Context, *Session) (string, error)) Result {
	s := &Session{
		ID:              o.d.NewID(),
		StartedAt:       o.d.Clock.Now(),
		VehicleDetected: true,
	}
	o.set(s, VehiclePresent)

	r := o.cycle(ctx, s, image)
	s.Reason = r.Reason
	if !r.Opened {
		o.d.Logger.Printf("cycle %s: rejected: %s", s.ID, r.Reason)
		o.set(s, Rejected)
	} else if r.Reason != "" {
		o.d.Logger.Printf("cycle %s: plate=%s name=%s passed, gate closed on %s", s.ID, s.Plate, s.Name, r.Reason)
	} else {
		o.d.Logger.Printf("cycle %s: plate=%s name=%s passed", s.ID, s.Plate, s.Name)
	}
	o.set(s, Idle)

	r.Session = *s
	o.d.Observer.CycleDone(r)
	return r
}

func (o *Orchestrator) cycle(ctx context.Context, s *Session, image func(context.Context, *Session) (string, error)) Result {
	o.set(s, AwaitingTag)
	obs, err := o.acquireTag(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return Result{Reason: Aborted}
		}
		return Result{Reason: NoTag}
	}
	s.Tag = &obs
	o.d.Logger.Printf("cycle %s: tag %s", s.ID, obs.ID)

	o.set(s, AwaitingPlate)
	path, err := image(ctx, s)
	if err != nil {
		if ctx.Err() != nil {
			return Result{Reason: Aborted}
		}
		o.d.Logger.Printf("cycle %s: image: %v", s.ID, err)
		return Result{Reason: NoImage}
	}
	s.ImagePath = path

	p, _, err := o.d.Plates.Read(ctx, path)
	if err != nil {
		o.d.Logger.Printf("cycle %s: plate: %v", s.ID, err)
		return Result{Reason: NoPlate}
	}
	s.Plate = p

	veh, err := o.d.Vehicles.FindVehicleByPlate(ctx, p)
	if err != nil {
		if !errors.Is(err, registry.ErrNotFound) {
			o.d.Logger.Printf("cycle %s: registry: %v", s.ID, err)
		}
		return Result{Reason: NoVehicleMatch}
	}
	s.Name = veh.Name

	o.set(s, Verifying)
	ok, why := o.d.Verifier.Verify(ctx, veh.Name, p, obs.ID)
	s.Verified = ok
	if !ok {
		s.VerifyReason = why
		return Result{Reason: IdentityMismatch}
	}

	if err := o.d.Gate.Open(); err != nil {
		o.d.Logger.Printf("cycle %s: gate open: %v", s.ID, err)
		return Result{Reason: GateFault}
	}
	o.set(s, GateOpen)

	return o.awaitClear(ctx, s)
}

// acquireTag polls the tag source on the tag policy. Source errors count as
// an empty poll.
func (o *Orchestrator) acquireTag(ctx context.Context) (reader.Observation, error) {
	var got reader.Observation
	var lastErr error
	_, err := o.tagPolicy.Do(ctx, func(attempt int) (bool, error) {
		obs, ok, err := o.d.Tags.Poll()
		if err != nil {
			if lastErr == nil || err.Error() != lastErr.Error() {
				o.d.Logger.Printf("tag poll %d: %v", attempt, err)
			}
			lastErr = err
			return false, nil
		}
		if ok {
			got = obs
		}
		return ok, nil
	})
	if errors.Is(err, retry.ErrExhausted) {
		o.d.Logger.Println("RFID not found")
	}
	return got, err
}

// awaitClear holds the gate open until the sensor clears, then closes it.
// The gate is closed on every path out, including timeout and shutdown.
func (o *Orchestrator) awaitClear(ctx context.Context, s *Session) Result {
	o.set(s, AwaitingClear)

	var lastErr error
	err := retry.Until(ctx, o.d.Clock, o.clearPoll, o.clearTimeout, func() (bool, error) {
		present, err := o.d.Sensor.Present()
		if err != nil {
			if lastErr == nil {
				o.d.Logger.Printf("cycle %s: sensor read: %v", s.ID, err)
			}
			lastErr = err
			return false, nil
		}
		return !present, nil
	})

	r := Result{Opened: true}
	switch {
	case errors.Is(err, retry.ErrTimeout):
		r.Reason = ClearTimeout
	case err != nil:
		r.Reason = Aborted
	}

	if err := o.d.Gate.Close(); err != nil {
		o.d.Logger.Printf("cycle %s: gate close: %v", s.ID, err)
		if r.Reason == "" {
			r.Reason = GateFault
		}
	}
	return r
}
