package main

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"sags/access"
	"sags/eventpipe"
	"sags/indicator"
	"sags/mqtt"
	"sags/reader"
	"sags/sensor"
)

// lights drives the indicator from cycle states. A denial stays on for a
// while before the indicator falls back to idle, unless a new cycle starts.
type lights struct {
	ind  indicator.Indicator
	hold time.Duration

	mu       sync.Mutex
	rejected bool
	gen      int
}

func newLights(ind indicator.Indicator, hold time.Duration) *lights {
	return &lights{ind: ind, hold: hold}
}

func (l *lights) state(s access.Session) {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch s.State {
	case access.AwaitingTag:
		l.gen++
		l.ind.Verifying()
	case access.GateOpen:
		l.gen++
		l.ind.Granted(s.Plate)
	case access.Rejected:
		l.gen++
		l.rejected = true
		l.ind.Denied(string(s.Reason))
	case access.Idle:
		if !l.rejected {
			l.ind.Idle()
			return
		}
		l.rejected = false
		gen := l.gen
		time.AfterFunc(l.hold, func() {
			l.mu.Lock()
			defer l.mu.Unlock()
			if l.gen == gen {
				l.ind.Idle()
			}
		})
	}
}

// Stop cancels a pending return to idle.
func (l *lights) Stop() {
	l.mu.Lock()
	l.gen++
	l.mu.Unlock()
}

// StateChanged implements access.Observer.
func (app *App) StateChanged(s access.Session) {
	app.lights.state(s)
}

// CycleDone implements access.Observer.
func (app *App) CycleDone(r access.Result) {
	s := r.Session
	if r.Opened {
		fmt.Printf("Plate %s: %s allowed\n", s.Plate, s.Name)
	} else {
		fmt.Printf("Plate %s: denied (%s)\n", s.Plate, r.Reason)
	}
	app.mqtt.PublishAccess(mqtt.AccessEvent{
		Allowed: r.Opened,
		Plate:   s.Plate,
		Reason:  string(r.Reason),
		Cycle:   s.ID,
	})
}

func (app *App) onMQTTConnect() {
	if app.orch != nil {
		if err := app.mqtt.Subscribe(mqtt.OpenTopic(app.cfg.ClientID)); err != nil {
			log.Printf("Subscribe error: %v", err)
		}
	}
	app.indicator.Connected()
}

func (app *App) onMQTTDisconnect() {
	app.indicator.ConnectionLost()
}

func (app *App) onMQTTMessage(topic string, payload []byte) {
	if topic != mqtt.OpenTopic(app.cfg.ClientID) || app.orch == nil {
		return
	}
	req, err := app.mqtt.ParseOpen(payload, time.Now())
	if err != nil {
		log.Printf("Open request rejected: %v", err)
		return
	}
	fmt.Printf("Remote open request from %s\n", req.Operator)
	app.manual.Add(1)
	go func() {
		defer app.manual.Done()
		app.orch.ManualOpen(app.ctx, req.Operator)
	}()
}

// onUpload receives a frame from the camera machine.
func (app *App) onUpload(ctx context.Context, path string) {
	if app.images != nil && app.images.Deliver(path) {
		return
	}
	if app.orch == nil {
		return
	}
	if _, ok := app.orch.CycleWithImage(ctx, path); !ok {
		log.Printf("Upload %s ignored: cycle in progress", path)
	}
}

// onTriggerFrame handles a frame persisted after an accepted trigger.
func (app *App) onTriggerFrame(ctx context.Context, path string) {
	if app.orch != nil {
		if _, ok := app.orch.CycleWithImage(ctx, path); !ok {
			log.Printf("Trigger frame %s ignored: cycle in progress", path)
		}
		return
	}
	if app.peer == nil {
		return
	}
	if err := app.peer.Upload(ctx, path); err != nil {
		log.Printf("Upload %s: %v", path, err)
		return
	}
	log.Printf("Uploaded %s", path)
}

func (app *App) onPipeEvent(ev eventpipe.Event) {
	switch ev.Type {
	case eventpipe.EventSensor:
		sim, ok := app.sensor.(*sensor.Simulated)
		if !ok {
			log.Println("Event pipe: sensor is not simulated")
			return
		}
		sim.Set(ev.Present)

	case eventpipe.EventTag:
		inj, ok := app.tags.(reader.Injector)
		if !ok {
			log.Println("Event pipe: reader does not accept injected tags")
			return
		}
		if !inj.Inject(ev.TagID) {
			log.Printf("Event pipe: tag %s suppressed as duplicate", ev.TagID)
		}

	case eventpipe.EventTrigger:
		switch {
		case app.slot != nil:
			go app.sendFrame(app.ctx)
		case app.peer != nil:
			go func() {
				if err := app.peer.SendTrigger(app.ctx); err != nil {
					log.Printf("Send trigger: %v", err)
				}
			}()
		}
	}
}
