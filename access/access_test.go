package access_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"reflect"
	"sync"
	"testing"
	"time"

	"sags/access"
	"sags/identity"
	"sags/plate"
	"sags/reader"
	"sags/registry"
	"sags/retry"
	"sags/trigger"
)

const (
	testTag   = "E2000017221101511234ABCD"
	otherTag  = "E2000017221101511234WXYZ"
	testPlate = "ABC1234"
	testName  = "Alice"
)

var epoch = time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)

// scriptSensor plays back presence values, then repeats the last one or
// calls onEnd once the script is used up.
type scriptSensor struct {
	mu     sync.Mutex
	values []bool
	reads  int
	onEnd  func()
}

func (s *scriptSensor) Present() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.reads
	s.reads++
	if i < len(s.values) {
		return s.values[i], nil
	}
	if s.onEnd != nil {
		s.onEnd()
	}
	if len(s.values) == 0 {
		return false, nil
	}
	return s.values[len(s.values)-1], nil
}

// tagsAfter yields id on poll number hit (1-based); 0 never yields.
type tagsAfter struct {
	hit   int
	id    string
	polls int
}

func (t *tagsAfter) Poll() (reader.Observation, bool, error) {
	t.polls++
	if t.hit > 0 && t.polls == t.hit {
		return reader.Observation{ID: t.id, At: epoch}, true, nil
	}
	return reader.Observation{}, false, nil
}

type fixedImage struct {
	path string
	err  error
}

func (f fixedImage) Image(ctx context.Context, s *access.Session) (string, error) {
	return f.path, f.err
}

type fixedPlate struct {
	plate string
	err   error
	paths []string
}

func (f *fixedPlate) Read(ctx context.Context, path string) (string, *plate.Detection, error) {
	f.paths = append(f.paths, path)
	return f.plate, nil, f.err
}

type recordGate struct {
	mu      sync.Mutex
	opens   int
	closes  int
	openErr error
}

func (g *recordGate) Open() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.openErr != nil {
		return g.openErr
	}
	g.opens++
	return nil
}

func (g *recordGate) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.closes++
	return nil
}

type recorder struct {
	mu      sync.Mutex
	states  []access.State
	results []access.Result
}

func (r *recorder) StateChanged(s access.Session) {
	r.mu.Lock()
	r.states = append(r.states, s.State)
	r.mu.Unlock()
}

func (r *recorder) CycleDone(res access.Result) {
	r.mu.Lock()
	r.results = append(r.results, res)
	r.mu.Unlock()
}

type env struct {
	clk    *retry.FakeClock
	sensor *scriptSensor
	tags   *tagsAfter
	plates *fixedPlate
	gate   *recordGate
	obs    *recorder
	reg    *registry.Memory
	images access.ImageSource
	cfg    access.Config
}

// newEnv enrols testName/testPlate with enrolledTag and scripts a vehicle
// whose reader sees testTag on the second poll.
func newEnv(t *testing.T, enrolledTag string) *env {
	t.Helper()
	reg := registry.NewMemory()
	if _, err := identity.Enrol(context.Background(), reg, testName, testPlate, enrolledTag, 1024); err != nil {
		t.Fatalf("Enrol: %v", err)
	}
	return &env{
		clk:    retry.NewFakeClock(epoch),
		sensor: &scriptSensor{values: []bool{true, true, false}},
		tags:   &tagsAfter{hit: 2, id: testTag},
		plates: &fixedPlate{plate: testPlate},
		gate:   &recordGate{},
		obs:    &recorder{},
		reg:    reg,
		images: fixedImage{path: "frame.jpg"},
	}
}

func (e *env) orchestrator() *access.Orchestrator {
	logger := log.New(io.Discard, "", 0)
	n := 0
	return access.New(e.cfg, access.Dependencies{
		Logger:   logger,
		Clock:    e.clk,
		Sensor:   e.sensor,
		Tags:     e.tags,
		Images:   e.images,
		Plates:   e.plates,
		Vehicles: e.reg,
		Verifier: identity.NewVerifier(e.reg, logger),
		Gate:     e.gate,
		Observer: e.obs,
		NewID: func() string {
			n++
			return fmt.Sprintf("cycle-%d", n)
		},
	})
}

func TestCycleGranted(t *testing.T) {
	e := newEnv(t, testTag)
	r := e.orchestrator().Cycle(context.Background())

	if !r.Opened || r.Reason != "" {
		t.Fatalf("result = %+v, want opened without reason", r)
	}
	want := []access.State{
		access.VehiclePresent, access.AwaitingTag, access.AwaitingPlate,
		access.Verifying, access.GateOpen, access.AwaitingClear, access.Idle,
	}
	if !reflect.DeepEqual(e.obs.states, want) {
		t.Errorf("states = %v, want %v", e.obs.states, want)
	}
	if e.gate.opens != 1 || e.gate.closes != 1 {
		t.Errorf("gate opens=%d closes=%d, want 1/1", e.gate.opens, e.gate.closes)
	}
	s := r.Session
	if s.ID != "cycle-1" || s.Tag == nil || s.Tag.ID != testTag || s.Plate != testPlate || s.Name != testName || !s.Verified {
		t.Errorf("session = %+v", s)
	}
	if len(e.obs.results) != 1 {
		t.Errorf("CycleDone calls = %d", len(e.obs.results))
	}
	// one wait between tag polls, then two clear polls
	wantSlept := []time.Duration{time.Second, 500 * time.Millisecond, 500 * time.Millisecond}
	if got := e.clk.Slept(); !reflect.DeepEqual(got, wantSlept) {
		t.Errorf("slept = %v, want %v", got, wantSlept)
	}
}

func TestCycleIdentityMismatch(t *testing.T) {
	e := newEnv(t, otherTag)
	r := e.orchestrator().Cycle(context.Background())

	if r.Opened || r.Reason != access.IdentityMismatch {
		t.Fatalf("result = %+v, want IdentityMismatch", r)
	}
	if r.Session.VerifyReason != identity.TagMismatch {
		t.Errorf("verify reason = %q", r.Session.VerifyReason)
	}
	if e.gate.opens != 0 || e.gate.closes != 0 {
		t.Errorf("gate actuated: opens=%d closes=%d", e.gate.opens, e.gate.closes)
	}
	n := len(e.obs.states)
	if n < 2 || e.obs.states[n-2] != access.Rejected || e.obs.states[n-1] != access.Idle {
		t.Errorf("states = %v, want ... Rejected Idle", e.obs.states)
	}
}

func TestCycleNoTag(t *testing.T) {
	e := newEnv(t, testTag)
	e.tags.hit = 0
	r := e.orchestrator().Cycle(context.Background())

	if r.Reason != access.NoTag {
		t.Fatalf("reason = %q, want NoTag", r.Reason)
	}
	if e.tags.polls != 5 {
		t.Errorf("polls = %d, want 5", e.tags.polls)
	}
	want := []time.Duration{time.Second, time.Second, time.Second, time.Second}
	if got := e.clk.Slept(); !reflect.DeepEqual(got, want) {
		t.Errorf("slept = %v, want %v", got, want)
	}
	if len(e.plates.paths) != 0 {
		t.Error("plate read before a tag was found")
	}
}

func TestCycleRejections(t *testing.T) {
	tests := []struct {
		name  string
		setup func(*env)
		want  access.Reason
	}{
		{"no image", func(e *env) { e.images = fixedImage{err: errors.New("camera offline")} }, access.NoImage},
		{"no plate", func(e *env) { e.plates.err = plate.ErrNoPlate }, access.NoPlate},
		{"plate service down", func(e *env) { e.plates.err = errors.New("503") }, access.NoPlate},
		{"unknown plate", func(e *env) { e.plates.plate = "XYZ999" }, access.NoVehicleMatch},
		{"gate fault", func(e *env) { e.gate.openErr = errors.New("pwm") }, access.GateFault},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEnv(t, testTag)
			tt.setup(e)
			r := e.orchestrator().Cycle(context.Background())
			if r.Opened || r.Reason != tt.want {
				t.Errorf("result = opened %v reason %q, want %q", r.Opened, r.Reason, tt.want)
			}
			if e.gate.opens != 0 {
				t.Errorf("gate opened")
			}
		})
	}
}

func TestClearTimeout(t *testing.T) {
	e := newEnv(t, testTag)
	e.sensor.values = []bool{true}
	e.cfg.ClearTimeoutSecs = 2
	r := e.orchestrator().Cycle(context.Background())

	if !r.Opened || r.Reason != access.ClearTimeout {
		t.Fatalf("result = %+v, want opened with ClearTimeout", r)
	}
	if e.gate.closes != 1 {
		t.Errorf("gate closes = %d, want 1", e.gate.closes)
	}
}

func TestClearWaitsIndefinitely(t *testing.T) {
	e := newEnv(t, testTag)
	vals := make([]bool, 200)
	for i := range vals {
		vals[i] = true
	}
	e.sensor.values = append(vals, false)
	r := e.orchestrator().Cycle(context.Background())

	if !r.Opened || r.Reason != "" {
		t.Fatalf("result = %+v", r)
	}
	if e.sensor.reads != 201 {
		t.Errorf("sensor reads = %d, want 201", e.sensor.reads)
	}
}

func TestClearAbortedClosesGate(t *testing.T) {
	e := newEnv(t, testTag)
	ctx, cancel := context.WithCancel(context.Background())
	e.sensor.values = []bool{true}
	e.sensor.onEnd = cancel
	r := e.orchestrator().Cycle(ctx)

	if r.Reason != access.Aborted || e.gate.closes != 1 {
		t.Errorf("result = %+v closes = %d, want Aborted and closed", r, e.gate.closes)
	}
}

func TestRunOneCyclePerArrival(t *testing.T) {
	e := newEnv(t, testTag)
	e.tags.hit = 0
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	// two arrivals; the vehicle lingers after the first
	e.sensor.values = []bool{false, true, true, true, false, true, true}
	e.sensor.onEnd = cancel

	err := e.orchestrator().Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Run = %v, want context.Canceled", err)
	}
	if len(e.obs.results) != 2 {
		t.Fatalf("cycles = %d, want 2", len(e.obs.results))
	}
	for _, r := range e.obs.results {
		if r.Reason != access.NoTag {
			t.Errorf("reason = %q", r.Reason)
		}
	}
}

type blockingImage struct {
	entered chan struct{}
	release chan struct{}
}

func (b blockingImage) Image(ctx context.Context, s *access.Session) (string, error) {
	close(b.entered)
	<-b.release
	return "frame.jpg", nil
}

func TestCycleWithImage(t *testing.T) {
	e := newEnv(t, testTag)
	e.tags.hit = 1
	img := blockingImage{entered: make(chan struct{}), release: make(chan struct{})}
	e.images = img
	o := e.orchestrator()

	done := make(chan access.Result)
	go func() { done <- o.Cycle(context.Background()) }()
	<-img.entered

	if _, ok := o.CycleWithImage(context.Background(), "upload.jpg"); ok {
		t.Error("CycleWithImage ran while a cycle was in progress")
	}
	close(img.release)
	<-done

	e.tags.polls = 0
	e.sensor.reads = 0
	r, ok := o.CycleWithImage(context.Background(), "upload.jpg")
	if !ok || !r.Opened {
		t.Fatalf("CycleWithImage = %+v, %v", r, ok)
	}
	if last := e.plates.paths[len(e.plates.paths)-1]; last != "upload.jpg" {
		t.Errorf("plate read from %q", last)
	}
}

type fakePeer struct {
	deliver func()
	err     error
	calls   int
}

func (f *fakePeer) SendTrigger(ctx context.Context) error {
	f.calls++
	if f.deliver != nil {
		f.deliver()
	}
	return f.err
}

func TestPeerImage(t *testing.T) {
	clk := retry.NewFakeClock(epoch)
	peer := &fakePeer{}
	p := access.NewPeerImage(peer, 10*time.Second, clk)
	peer.deliver = func() {
		if !p.Deliver("uploads/frame.jpg") {
			t.Error("Deliver with a waiting cycle returned false")
		}
	}

	s := &access.Session{}
	path, err := p.Image(context.Background(), s)
	if err != nil || path != "uploads/frame.jpg" {
		t.Fatalf("Image = %q, %v", path, err)
	}
	if !s.LastTriggerAt.Equal(epoch) {
		t.Errorf("LastTriggerAt = %v", s.LastTriggerAt)
	}
	if p.Deliver("late.jpg") {
		t.Error("Deliver with no waiting cycle returned true")
	}
}

func TestPeerImageFailures(t *testing.T) {
	clk := retry.NewFakeClock(epoch)

	p := access.NewPeerImage(&fakePeer{}, 10*time.Second, clk)
	if _, err := p.Image(context.Background(), &access.Session{}); !errors.Is(err, access.ErrNoUpload) {
		t.Errorf("no upload: err = %v", err)
	}
	if got := clk.Slept(); len(got) != 1 || got[0] != 10*time.Second {
		t.Errorf("waited %v", got)
	}

	p = access.NewPeerImage(&fakePeer{err: trigger.ErrCooldown}, time.Second, clk)
	if _, err := p.Image(context.Background(), &access.Session{}); !errors.Is(err, trigger.ErrCooldown) {
		t.Errorf("cooldown: err = %v", err)
	}
}

type staticFrames []byte

func (f staticFrames) Latest() ([]byte, time.Time, error) {
	if f == nil {
		return nil, time.Time{}, errors.New("no frame")
	}
	return f, epoch, nil
}

func TestSlotImage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "captured_image.jpg")
	si := &access.SlotImage{Frames: staticFrames("jpeg"), Path: path, Clock: retry.NewFakeClock(epoch)}
	s := &access.Session{}
	got, err := si.Image(context.Background(), s)
	if err != nil || got != path {
		t.Fatalf("Image = %q, %v", got, err)
	}
	if b, _ := os.ReadFile(path); string(b) != "jpeg" {
		t.Errorf("file = %q", b)
	}
	if !s.LastTriggerAt.Equal(epoch) {
		t.Errorf("LastTriggerAt = %v", s.LastTriggerAt)
	}

	si.Frames = staticFrames(nil)
	if _, err := si.Image(context.Background(), s); err == nil {
		t.Error("Image without a frame succeeded")
	}
}

func TestManualOpen(t *testing.T) {
	e := newEnv(t, testTag)
	r := e.orchestrator().ManualOpen(context.Background(), "guard")

	if !r.Opened || r.Reason != "" || r.Session.Name != "guard" {
		t.Fatalf("result = %+v", r)
	}
	if e.gate.opens != 1 || e.gate.closes != 1 {
		t.Errorf("gate opens=%d closes=%d", e.gate.opens, e.gate.closes)
	}
	if e.tags.polls != 0 || len(e.plates.paths) != 0 {
		t.Error("manual open read a tag or plate")
	}
}

func TestManualOpenAfterShutdown(t *testing.T) {
	e := newEnv(t, testTag)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r := e.orchestrator().ManualOpen(ctx, "guard")
	if r.Opened || r.Reason != access.Aborted {
		t.Fatalf("result = %+v", r)
	}
	if e.gate.opens != 0 {
		t.Errorf("gate opened %d times after shutdown", e.gate.opens)
	}
}

func TestStateString(t *testing.T) {
	if access.AwaitingClear.String() != "AwaitingClear" || access.State(99).String() != "Unknown" {
		t.Error("State.String")
	}
}
