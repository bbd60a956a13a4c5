package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/sweeney/irrigator/internal/config"
	"github.com/sweeney/irrigator/internal/gpio"
	"github.com/sweeney/irrigator/internal/logic"
	"github.com/sweeney/irrigator/internal/metrics"
	"github.com/sweeney/irrigator/internal/mqtt"
	"github.com/sweeney/irrigator/internal/status"
	"github.com/sweeney/irrigator/internal/store"
	"github.com/sweeney/irrigator/internal/web"
)

func runDaemon(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	return run(cfg)
}

func run(cfg *config.Config) error {
	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	// Initialize GPIO
	relays, err := gpio.NewRealWriter(cfg.GPIO.Chip, cfg.GPIO.Pins, cfg.GPIO.ActiveLow)
	if err != nil {
		return fmt.Errorf("init gpio: %w", err)
	}
	defer relays.Close()

	startTime := time.Now()
	bank := gpio.NewBank(relays)
	ctrl := logic.NewValveController(bank, len(cfg.GPIO.Pins))
	sched := logic.NewSchedule(ctrl, startTime)
	dir := store.NewDir(cfg.Schedule.Dir)

	// Initialize MQTT
	publisher := mqtt.NewRealPublisher(cfg.Broker, cfg.Site)
	defer publisher.Close()

	// Initialize status tracker (before STARTUP so snapshot is available)
	tracker := status.NewTracker(startTime, status.Config{
		PollMs:      cfg.Poll.Milliseconds(),
		HeartbeatMs: cfg.Heartbeat.Milliseconds(),
		Broker:      cfg.Broker,
		Site:        cfg.Site,
		HTTPAddr:    cfg.HTTPAddr,
		Valves:      len(cfg.GPIO.Pins),
		ScheduleDir: cfg.Schedule.Dir,
		Timezone:    loc.String(),
	})
	if net := readNetworkInfo(); net != nil {
		tracker.SetNetwork(net)
	}
	m := metrics.New()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return publisher.Connect(ctx) })

	var changes <-chan store.Change
	if cfg.Schedule.Watch {
		w, err := store.NewWatcher(cfg.Schedule.Dir, cfg.Schedule.WatchDebounce)
		if err != nil {
			log.Printf("store: %v (reload on change disabled)", err)
		} else {
			changes = w.Changes()
			g.Go(func() error { return w.Run(ctx) })
		}
	}

	// Start HTTP status server
	if cfg.HTTPAddr != "" {
		srv := web.New(cfg.HTTPAddr, tracker, m.Handler())
		g.Go(func() error {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Printf("http server error: %v", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			return srv.Shutdown(context.Background())
		})
		log.Printf("http status server listening on %s", cfg.HTTPAddr)
	}

	log.Printf("started: valves=%d poll=%v broker=%s site=%s heartbeat=%v tz=%s",
		len(cfg.GPIO.Pins), cfg.Poll, cfg.Broker, cfg.Site, cfg.Heartbeat, loc)

	ticker := time.NewTicker(cfg.Poll)
	defer ticker.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	d := &daemon{
		sched:      sched,
		bank:       bank,
		dir:        dir,
		publisher:  publisher,
		mqttStatus: publisher,
		tracker:    tracker,
		metrics:    m,
		heartbeat:  cfg.Heartbeat,
		loc:        loc,
		now:        time.Now,
	}
	g.Go(func() error {
		defer cancel()
		return runLoop(d, ticker.C, sigCh, changes)
	})
	return g.Wait()
}

// daemon bundles what the polling loop touches. Only runLoop's goroutine
// may use sched.
type daemon struct {
	sched      *logic.Schedule
	bank       *gpio.Bank
	dir        *store.Dir
	publisher  mqtt.Publisher
	mqttStatus mqtt.ConnectionStatus
	tracker    *status.Tracker
	metrics    *metrics.Metrics
	heartbeat  time.Duration
	loc        *time.Location
	now        func() time.Time

	origin time.Time
}

// clock samples both time sources. Mono is measured from the first sample.
func (d *daemon) clock() logic.Clock {
	t := d.now()
	if d.origin.IsZero() {
		d.origin = t
	}
	return logic.Clock{Wall: t.In(d.loc), Mono: t.Sub(d.origin)}
}

func runLoop(d *daemon, tick <-chan time.Time, sig <-chan os.Signal, changes <-chan store.Change) error {
	clk := d.clock()
	d.loadAll(clk)
	d.refresh(nil)
	d.publishStatus("STARTUP", "", clk.Wall)

	for {
		select {
		case s := <-sig:
			log.Printf("received %v, shutting down", s)
			signalName := "UNKNOWN"
			if s == syscall.SIGINT {
				signalName = "SIGINT"
			} else if s == syscall.SIGTERM {
				signalName = "SIGTERM"
			}
			d.sched.Controller().CloseAll()
			d.refresh(nil)
			d.publishStatus("SHUTDOWN", signalName, d.clock().Wall)
			return nil

		case c := <-changes:
			d.reload(c, d.clock())

		case <-tick:
			clk := d.clock()
			transitions := d.sched.Pass(clk)
			for _, t := range transitions {
				log.Printf("event %s: %s valve=%d state=%s cycle=%s remaining=%v",
					t.Event, t.Type, t.Valve, t.State, t.Cycle, t.Remaining)
				if err := d.publisher.Publish(t); err != nil {
					log.Printf("publish error: %v", err)
					// Don't crash on publish failure
				}
			}
			d.refresh(transitions)

			// Check for heartbeat
			if hb := d.sched.CheckHeartbeat(clk.Wall, d.heartbeat); hb != nil {
				log.Printf("heartbeat: uptime=%v armed=%d finished=%d skipped=%d grants=%d denials=%d",
					hb.Uptime.Truncate(time.Second), hb.Counts.Armed, hb.Counts.Finished, hb.Counts.Skipped,
					hb.Stats.Grants, hb.Stats.Denials)
				// Refresh network info for heartbeat
				if net := readNetworkInfo(); net != nil && d.tracker != nil {
					d.tracker.SetNetwork(net)
				}
				d.publishStatus("HEARTBEAT", "", hb.Timestamp)
			}
		}
	}
}

// refresh pushes the schedule state to the status and metrics consumers.
func (d *daemon) refresh(transitions []logic.Transition) {
	var failures, queued int
	if d.bank != nil {
		failures = d.bank.Failures()
	}
	if d.mqttStatus != nil {
		queued = d.mqttStatus.Queued()
	}

	if d.metrics != nil {
		d.metrics.Observe(transitions)
		d.metrics.Update(d.sched)
		d.metrics.Health(failures, queued)
	}
	if d.tracker != nil {
		d.tracker.Update(d.sched)
		d.tracker.SetRelayFailures(failures)
		d.tracker.SetMQTTQueued(queued)
		if d.mqttStatus != nil {
			d.tracker.SetMQTTConnected(d.mqttStatus.IsConnected())
		}
	}
}

func (d *daemon) publishStatus(event, reason string, at time.Time) {
	ev := mqtt.SystemEvent{
		Timestamp: at,
		Event:     event,
		Reason:    reason,
		Retained:  event != "HEARTBEAT",
	}
	if d.tracker != nil {
		ev.RawPayload = status.FormatStatusEvent(d.tracker.Snapshot(), event, reason)
	}
	if err := d.publisher.PublishSystem(ev); err != nil {
		log.Printf("failed to publish %s event: %v", event, err)
	}
}

// loadAll adds every readable event file to the schedule.
func (d *daemon) loadAll(clk logic.Clock) {
	loaded, errs := d.dir.LoadAll()
	for _, err := range errs {
		log.Printf("store: %v", err)
	}
	for _, l := range loaded {
		if err := d.sched.Add(l.Event); err != nil {
			log.Printf("store: event %s: %v", l.Event.ID(), err)
			continue
		}
		d.apply(l, clk)
	}
	log.Printf("loaded %d events from %s", len(d.sched.Events()), d.dir.Path())
}

// reload applies a change to one event file between passes. Rewrites that
// only touch event_scheduled keep the event's progress.
func (d *daemon) reload(c store.Change, clk logic.Clock) {
	if c.Removed {
		if d.sched.Remove(c.ID, clk) {
			log.Printf("event %s: removed", c.ID)
		}
		return
	}

	l, err := d.dir.Load(c.ID)
	if err != nil {
		log.Printf("store: %v", err)
		return
	}
	if old, ok := d.sched.Get(c.ID); ok {
		have, want := store.FromEvent(old), store.FromEvent(l.Event)
		have.Scheduled, want.Scheduled = false, false
		if have == want {
			if on := old.State() != logic.Unscheduled; on != l.Scheduled {
				d.sched.SetScheduled(c.ID, l.Scheduled, clk)
				log.Printf("event %s: scheduled=%v", c.ID, l.Scheduled)
			}
			return
		}
	}
	if err := d.sched.Replace(l.Event, clk); err != nil {
		log.Printf("store: event %s: %v", c.ID, err)
		return
	}
	log.Printf("event %s: reloaded", c.ID)
	d.apply(l, clk)
}

func (d *daemon) apply(l store.Loaded, clk logic.Clock) {
	for _, line := range l.Report.Malformed {
		log.Printf("store: event %s: skipped malformed line %d", l.Event.ID(), line)
	}
	for _, key := range l.Report.Unknown {
		log.Printf("store: event %s: ignored unknown key %q", l.Event.ID(), key)
	}
	if !l.Scheduled {
		return
	}
	if _, err := d.sched.SetScheduled(l.Event.ID(), true, clk); err != nil {
		log.Printf("store: event %s: %v", l.Event.ID(), err)
	}
}
