// Package daemon composes the fieldsync agent: the durable store, the
// operation queue, the connectivity monitor, the sync processor, the capture
// session manager, and the optional admin server, scheduler and event bridge.
package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/jonboulle/clockwork"
	prom "github.com/prometheus/client_golang/prometheus"

	"github.com/divertscan/fieldsync/internal/config"
	"github.com/divertscan/fieldsync/internal/connectivity"
	"github.com/divertscan/fieldsync/internal/events"
	ferrors "github.com/divertscan/fieldsync/internal/foundation/errors"
	"github.com/divertscan/fieldsync/internal/logfields"
	"github.com/divertscan/fieldsync/internal/metrics"
	"github.com/divertscan/fieldsync/internal/queue"
	"github.com/divertscan/fieldsync/internal/retry"
	"github.com/divertscan/fieldsync/internal/session"
	"github.com/divertscan/fieldsync/internal/store"
	"github.com/divertscan/fieldsync/internal/syncer"
)

// Options carries test seams and optional hardware collaborators into New.
// Zero values select production defaults.
type Options struct {
	Clock     clockwork.Clock
	Location  session.LocationProvider
	Camera    session.PhotoCapturer
	Signature session.SignatureCapturer
	// Store overrides the SQLite store, for composing over an in-memory one.
	Store store.Store
}

// Daemon is the long-running fieldsync agent process.
type Daemon struct {
	cfg   *config.Config
	clock clockwork.Clock

	st        store.Store
	queue     *queue.OperationQueue
	monitor   *connectivity.Monitor
	processor *syncer.Processor
	sessions  *session.Manager
	recorder  metrics.Recorder
	registry  *prom.Registry
	publisher *events.Publisher

	admin     *http.Server
	scheduler gocron.Scheduler
	watcher   *configWatcher

	startTime time.Time
	stop      context.CancelFunc
	done      sync.WaitGroup
}

// New builds a fully wired daemon from configuration. Nothing starts running
// until Run is called.
func New(cfg *config.Config, opts Options) (*Daemon, error) {
	clock := opts.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	registry := prom.NewRegistry()
	recorder := metrics.NewPrometheusRecorder(registry)

	st := opts.Store
	if st == nil {
		sqlite, err := store.NewSQLiteStore(cfg.Store.Path, clock)
		if err != nil {
			return nil, err
		}
		st = sqlite
	}

	q := queue.New(st, clock, nil)

	httpClient := &http.Client{Timeout: cfg.Remote.RequestTimeout}
	prober := connectivity.NewHTTPProber(httpClient, cfg.Remote.BaseURL+cfg.Remote.HealthPath)
	monitor := connectivity.NewMonitor(prober, clock, cfg.Connectivity.ProbeInterval, cfg.Connectivity.ProbeTimeout)

	policy := retry.NewPolicy(cfg.Sync.BackoffMode, cfg.Sync.BackoffInitial, cfg.Sync.BackoffMax, cfg.Sync.MaxAttempts)
	processor := syncer.New(q, monitor, httpClient, cfg.Remote.BaseURL, policy, clock, recorder)

	sessions := session.NewManager(st, q, opts.Location, opts.Camera, opts.Signature, clock, nil, recorder)

	var publisher *events.Publisher
	if cfg.Events.Enabled {
		p, err := events.NewPublisher(cfg.Tenant.ID, cfg.Events)
		if err != nil {
			// The agent must keep capturing tickets when the broker is down.
			slog.Warn("Event bridge unavailable, continuing without it", logfields.Error(err))
		} else {
			publisher = p
		}
	}

	d := &Daemon{
		cfg:       cfg,
		clock:     clock,
		st:        st,
		queue:     q,
		monitor:   monitor,
		processor: processor,
		sessions:  sessions,
		recorder:  recorder,
		registry:  registry,
		publisher: publisher,
	}

	if cfg.Admin.Enabled {
		d.admin = d.newAdminServer(cfg.Admin.Listen)
	}
	return d, nil
}

// Sessions exposes the capture session manager for the local UI layer.
func (d *Daemon) Sessions() *session.Manager { return d.sessions }

// Queue exposes the operation queue for inspection commands.
func (d *Daemon) Queue() *queue.OperationQueue { return d.queue }

// Run starts every component and blocks until ctx is cancelled, then shuts
// down gracefully.
func (d *Daemon) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	d.stop = cancel
	d.startTime = d.clock.Now()

	slog.Info("Starting fieldsync agent",
		logfields.Tenant(d.cfg.Tenant.ID),
		"device_id", d.cfg.Tenant.DeviceID,
		"remote", d.cfg.Remote.BaseURL)

	// Recover durable state before anything may mutate it.
	if err := d.queue.Rehydrate(ctx); err != nil {
		cancel()
		return err
	}
	d.recorder.SetQueueDepth(d.queue.Depth())
	if _, err := d.sessions.Recover(ctx); err != nil {
		cancel()
		return err
	}

	d.queue.SetWake(d.monitor.Reachable, d.processor.Kick)
	d.monitor.Start(ctx)

	d.done.Add(1)
	go func() {
		defer d.done.Done()
		d.processor.Run(ctx)
	}()

	d.startTelemetry(ctx)

	if err := d.startScheduler(); err != nil {
		cancel()
		return err
	}
	if err := d.startConfigWatcher(ctx); err != nil {
		// Hot reload is a convenience, not a requirement.
		slog.Warn("Config watcher unavailable", logfields.Error(err))
	}
	if d.admin != nil {
		d.startAdmin()
	}

	<-ctx.Done()
	return d.shutdown()
}

// Stop requests a graceful shutdown.
func (d *Daemon) Stop() {
	if d.stop != nil {
		d.stop()
	}
}

// startTelemetry fans the component channels out to metrics, logs and the
// event bridge.
func (d *Daemon) startTelemetry(ctx context.Context) {
	depths := d.queue.SubscribeDepth()
	results := d.processor.Results()
	states := d.monitor.Subscribe()
	sessionEvents := d.sessions.Subscribe()

	d.done.Add(1)
	go func() {
		defer d.done.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case n := <-depths:
				d.recorder.SetQueueDepth(n)
				d.publisher.PublishQueueDepth(n, d.clock.Now())
			case res := <-results:
				d.logResult(res)
				d.publisher.PublishDelivery(res, d.clock.Now())
			case st := <-states:
				d.recorder.SetConnectivity(st == connectivity.StateReachable)
			case ev := <-sessionEvents:
				d.publisher.PublishSession(ev, d.clock.Now())
			}
		}
	}()
}

func (d *Daemon) logResult(res syncer.Result) {
	switch res.Outcome {
	case syncer.OutcomeDelivered:
		slog.Info("Operation delivered",
			logfields.OpID(res.Operation.ID),
			logfields.Endpoint(res.Operation.Endpoint),
			logfields.Attempts(res.Operation.Attempts))
	case syncer.OutcomePermanent:
		slog.Error("Operation rejected by remote, dropped",
			logfields.OpID(res.Operation.ID),
			logfields.Endpoint(res.Operation.Endpoint),
			logfields.Status(res.StatusCode))
	case syncer.OutcomeExhausted:
		slog.Error("Operation retry budget exhausted, dropped",
			logfields.OpID(res.Operation.ID),
			logfields.Endpoint(res.Operation.Endpoint),
			logfields.Attempts(res.Operation.Attempts))
	}
}

// startScheduler runs the stale-session cleanup on its configured interval.
func (d *Daemon) startScheduler() error {
	sched, err := gocron.NewScheduler(gocron.WithClock(d.clock))
	if err != nil {
		return ferrors.WrapError(err, ferrors.CategoryDaemon, "create scheduler").Build()
	}

	_, err = sched.NewJob(
		gocron.DurationJob(d.cfg.Sessions.CleanupInterval),
		gocron.NewTask(func() {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			purged, cerr := d.sessions.CleanupStale(ctx, d.cfg.Sessions.StaleAfter)
			if cerr != nil {
				slog.Error("Stale session cleanup failed", logfields.Error(cerr))
				return
			}
			if purged > 0 {
				slog.Info("Stale session cleanup complete", "purged", purged)
			}
		}),
	)
	if err != nil {
		return ferrors.WrapError(err, ferrors.CategoryDaemon, "schedule session cleanup").Build()
	}

	sched.Start()
	d.scheduler = sched
	return nil
}

func (d *Daemon) startConfigWatcher(ctx context.Context) error {
	if d.cfg.Path() == "" {
		return nil
	}
	w, err := newConfigWatcher(d.cfg.Path(), d)
	if err != nil {
		return err
	}
	if err := w.Start(ctx); err != nil {
		return err
	}
	d.watcher = w
	return nil
}

func (d *Daemon) startAdmin() {
	d.done.Add(1)
	go func() {
		defer d.done.Done()
		slog.Info("Admin server listening", "addr", d.admin.Addr)
		if err := d.admin.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("Admin server failed", logfields.Error(err))
		}
	}()
}

// applyReload applies the hot-reloadable subset of a freshly loaded config.
func (d *Daemon) applyReload(next *config.Config) {
	if next.Connectivity.ProbeInterval != d.cfg.Connectivity.ProbeInterval {
		d.monitor.SetInterval(next.Connectivity.ProbeInterval)
		slog.Info("Probe interval updated", "interval", next.Connectivity.ProbeInterval)
	}
	if next.Logging.Level != d.cfg.Logging.Level {
		config.SetLogLevel(next.Logging.Level)
		slog.Info("Log level updated", "level", next.Logging.Level)
	}
	d.cfg.Connectivity = next.Connectivity
	d.cfg.Logging = next.Logging
	d.cfg.Sessions = next.Sessions
}

func (d *Daemon) shutdown() error {
	slog.Info("Shutting down fieldsync agent")

	if d.watcher != nil {
		d.watcher.Stop()
	}
	if d.scheduler != nil {
		if err := d.scheduler.Shutdown(); err != nil {
			slog.Error("Scheduler shutdown failed", logfields.Error(err))
		}
	}
	if d.admin != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := d.admin.Shutdown(shutdownCtx); err != nil {
			slog.Error("Admin server shutdown failed", logfields.Error(err))
		}
		cancel()
	}
	d.monitor.Stop()
	d.publisher.Close()

	waited := make(chan struct{})
	go func() {
		d.done.Wait()
		close(waited)
	}()
	select {
	case <-waited:
	case <-time.After(10 * time.Second):
		slog.Warn("Shutdown timed out waiting for workers")
	}

	if err := d.st.Close(); err != nil {
		return fmt.Errorf("close store: %w", err)
	}
	slog.Info("Shutdown complete")
	return nil
}
