package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"sags/access"
	"sags/camera"
	"sags/door"
	"sags/eventpipe"
	"sags/identity"
	"sags/indicator"
	"sags/mqtt"
	"sags/plate"
	"sags/reader"
	"sags/registry"
	"sags/sensor"
	"sags/trigger"
)

var myBuild string

// App holds the application state and dependencies.
type App struct {
	cfg       *Config
	mqtt      *mqtt.Client
	indicator indicator.Indicator
	lights    *lights
	gate      door.Gate
	sensor    sensor.Sensor
	tags      reader.Source
	reg       registry.Registry
	closeReg  func() error
	slot      *camera.Slot
	peer      *trigger.Client
	images    *access.PeerImage
	orch      *access.Orchestrator
	server    *trigger.Server
	pipe      *eventpipe.EventPipe
	manual    sync.WaitGroup // remote opens in flight
	ctx       context.Context
	cancel    context.CancelFunc
}

func main() {
	fmt.Printf("sags build %s\n", myBuild)

	openflag := flag.Bool("holdopen", false, "Hold gate open until interrupted")
	cfgfile := flag.String("cfg", "sags.cfg", "Config file")
	provision := flag.String("provision", "", "Enrol a vehicle as name,plate,tag and exit")
	flag.Parse()

	cfg, err := loadConfig(*cfgfile)
	if err != nil {
		log.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	app := &App{
		cfg:    cfg,
		ctx:    ctx,
		cancel: cancel,
	}

	if cfg.hasGate() || *provision != "" {
		app.reg, app.closeReg, err = registry.New(ctx, cfg.Registry)
		if err != nil {
			log.Fatalf("Open registry: %v", err)
		}
	}

	if *provision != "" {
		err := app.provision(*provision)
		app.closeReg()
		if err != nil {
			log.Fatalf("Provision: %v", err)
		}
		return
	}

	// Initialize indicator (LEDs, neopixels)
	app.indicator, err = indicator.New(cfg.Indicator)
	if err != nil {
		log.Fatalf("Init indicator: %v", err)
	}
	app.indicator.ConnectionLost() // Start with connection lost state
	app.lights = newLights(app.indicator, 3*time.Second)

	if cfg.hasGate() {
		app.gate, err = door.New(cfg.Door)
		if err != nil {
			log.Fatalf("Init gate: %v", err)
		}
	}

	// Handle holdopen flag
	if *openflag {
		if app.gate == nil {
			log.Fatal("holdopen needs a gate")
		}
		if err := app.gate.Open(); err != nil {
			log.Fatalf("Gate open: %v", err)
		}
		fmt.Println("Gate held open, interrupt to close")
		waitSignal()
		app.gate.Release()
		app.indicator.Release()
		return
	}

	app.mqtt, err = mqtt.New(cfg.MQTT, cfg.ClientID, mqtt.Handlers{
		OnConnect:    app.onMQTTConnect,
		OnDisconnect: app.onMQTTDisconnect,
		OnMessage:    app.onMQTTMessage,
	})
	if err != nil {
		log.Fatalf("Init MQTT: %v", err)
	}

	if cfg.Trigger.PeerURL != "" {
		app.peer = trigger.NewClient(cfg.Trigger)
	}
	if cfg.hasCamera() {
		app.slot = &camera.Slot{}
	}
	if cfg.hasGate() {
		app.initGate()
	}
	app.initServer()

	app.pipe, err = eventpipe.New(cfg.EventPipe, app.onPipeEvent)
	if err != nil {
		log.Fatalf("Init event pipe: %v", err)
	}

	// Start background goroutines
	go func() {
		if err := app.mqtt.Connect(); err != nil {
			log.Printf("MQTT connect: %v", err)
		}
	}()
	go app.mqtt.PingLoop(ctx)

	if app.slot != nil && cfg.Camera.SnapshotURL != "" {
		go camera.New(cfg.Camera, app.slot, nil).Capture(ctx)
	}
	if app.pipe != nil {
		go app.pipe.Start()
	}
	if app.server != nil {
		go func() {
			if err := app.server.Start(); err != nil {
				log.Printf("Trigger server: %v", err)
			}
		}()
	}

	orchDone := make(chan struct{})
	if app.orch != nil {
		if err := app.tags.Start(ctx); err != nil {
			// only a transport failure at startup ends the process
			log.Fatalf("Start reader: %v", err)
		}
		go func() {
			defer close(orchDone)
			app.orch.Run(ctx)
		}()
	} else {
		close(orchDone)
	}

	app.waitShutdown()

	fmt.Println("Shutting down...")
	cancel()
	<-orchDone

	shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
	defer done()
	if app.server != nil {
		if err := app.server.Shutdown(shutdownCtx); err != nil {
			log.Printf("Trigger server shutdown: %v", err)
		}
	}
	if app.pipe != nil {
		app.pipe.Close()
	}
	app.mqtt.Disconnect()
	app.manual.Wait()
	if app.tags != nil {
		if err := app.tags.Stop(); err != nil {
			log.Printf("Stop reader: %v", err)
		}
	}
	if app.gate != nil {
		app.gate.Release()
	}
	if app.sensor != nil {
		app.sensor.Release()
	}
	app.lights.Stop()
	app.indicator.Shutdown()
	app.indicator.Release()
	if app.closeReg != nil {
		app.closeReg()
	}

	fmt.Println("Shutdown complete")
}

func (app *App) initGate() {
	cfg := app.cfg
	var err error

	app.sensor, err = sensor.New(cfg.Sensor)
	if err != nil {
		log.Fatalf("Init sensor: %v", err)
	}

	app.tags, err = reader.New(cfg.Reader, nil)
	if err != nil {
		log.Fatalf("Init reader: %v", err)
	}

	var images access.ImageSource
	if cfg.Role == RoleStandalone {
		path := cfg.Camera.FramePath
		if path == "" {
			path = "captured_image.jpg"
		}
		images = &access.SlotImage{Frames: app.slot, Path: path}
	} else {
		app.images = access.NewPeerImage(app.peer, time.Duration(cfg.Trigger.UploadWaitSecs)*time.Second, nil)
		images = app.images
	}

	app.orch = access.New(cfg.Access, access.Dependencies{
		Sensor:   app.sensor,
		Tags:     app.tags,
		Images:   images,
		Plates:   plate.NewReader(cfg.Plate),
		Vehicles: app.reg,
		Verifier: identity.NewVerifier(app.reg, nil),
		Gate:     app.gate,
		Observer: app,
	})
}

// initServer sets up the routes this role answers: /trigger wherever the
// camera is, /upload wherever the gate is.
func (app *App) initServer() {
	cfg := app.cfg
	if cfg.Trigger.Listen == "" {
		return
	}

	deps := trigger.Dependencies{Addr: cfg.Trigger.Listen}
	if cfg.hasCamera() {
		deps.Cooldown = trigger.NewCooldown(time.Duration(cfg.Trigger.CooldownSecs)*time.Second, nil)
		deps.Frames = app.slot
		deps.FramePath = cfg.Trigger.FramePath
		deps.OnFrame = app.onTriggerFrame
	}
	if cfg.hasGate() {
		deps.UploadDir = cfg.Trigger.UploadDir
		if deps.UploadDir == "" {
			deps.UploadDir = "uploads"
		}
		if err := os.MkdirAll(deps.UploadDir, 0o755); err != nil {
			log.Fatalf("Create upload dir: %v", err)
		}
		deps.OnUpload = app.onUpload
	}
	app.server = trigger.NewServer(deps)
	log.Printf("Trigger server listening on %s", cfg.Trigger.Listen)
}

func (app *App) provision(arg string) error {
	parts := strings.Split(arg, ",")
	if len(parts) != 3 {
		return fmt.Errorf("want name,plate,tag, got %q", arg)
	}
	name, plateText, tag := strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1]), strings.TrimSpace(parts[2])
	e, err := identity.Enrol(app.ctx, app.reg, name, plateText, strings.ToUpper(tag), 0)
	if err != nil {
		return err
	}
	fmt.Printf("Enrolled %s / %s, key id %s\n", name, plateText, e.KeyID)
	return nil
}

// waitShutdown blocks until SIGINT or SIGTERM. SIGHUP restarts the reader.
func (app *App) waitShutdown() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)
	for sig := range sigCh {
		if sig != syscall.SIGHUP {
			return
		}
		s, ok := app.tags.(*reader.Session)
		if !ok {
			continue
		}
		log.Println("Restarting reader")
		if err := s.Restart(app.ctx); err != nil {
			log.Printf("Restart reader: %v", err)
		}
	}
}

func waitSignal() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
}

// sendFrame persists the latest local frame and uploads it to the gate.
func (app *App) sendFrame(ctx context.Context) {
	frame, _, err := app.slot.Latest()
	if err != nil {
		log.Printf("Send frame: %v", err)
		return
	}
	path := app.cfg.Trigger.FramePath
	if path == "" {
		path = "frame.jpg"
	}
	if err := camera.WriteAtomic(path, frame); err != nil {
		log.Printf("Persist frame: %v", err)
		return
	}
	app.onTriggerFrame(ctx, path)
}
