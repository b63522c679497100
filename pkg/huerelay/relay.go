package huerelay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/caboose014/Hue-Savant-Coprocessor/internal/config"
	"github.com/caboose014/Hue-Savant-Coprocessor/internal/core/bridge"
	"github.com/caboose014/Hue-Savant-Coprocessor/internal/core/color"
	"github.com/caboose014/Hue-Savant-Coprocessor/internal/core/hub"
	"github.com/caboose014/Hue-Savant-Coprocessor/internal/core/queue"
	"github.com/caboose014/Hue-Savant-Coprocessor/internal/core/relay"
	"github.com/caboose014/Hue-Savant-Coprocessor/internal/core/state"
	"github.com/caboose014/Hue-Savant-Coprocessor/internal/history"
	"github.com/caboose014/Hue-Savant-Coprocessor/internal/httpapi"
	"github.com/caboose014/Hue-Savant-Coprocessor/internal/mqtt"
	"github.com/caboose014/Hue-Savant-Coprocessor/internal/settings"
	"github.com/caboose014/Hue-Savant-Coprocessor/internal/supervisor"
)

// drainTimeout bounds how long a signalled shutdown may take to flow
// through the queue before the run is cancelled outright.
const drainTimeout = 5 * time.Second

// ResolveHub fills in a missing hub address or API key. Values already in
// cfg win, then the settings file, then discovery and pairing. Newly
// learned values are written back to the settings file.
func ResolveHub(ctx context.Context, cfg config.HubConfig, path string, log *slog.Logger) (config.HubConfig, error) {
	if cfg.Address != "" && cfg.Key != "" {
		return cfg, nil
	}

	saved, err := settings.Load(path)
	if err != nil {
		return cfg, err
	}
	if cfg.Address == "" && saved.InternalIPAddress != "" {
		cfg.Address = saved.InternalIPAddress
		log.Debug("hub address loaded from settings", "address", cfg.Address)
	}
	if cfg.Key == "" && saved.Key != "" {
		cfg.Key = saved.Key
		log.Debug("hub key loaded from settings")
	}

	if cfg.Address == "" {
		addr, err := hub.Discover(ctx, cfg.DiscoveryURL, cfg.Timeout)
		if err != nil {
			return cfg, err
		}
		cfg.Address = addr
		log.Info("hub discovered", "address", addr)
	}
	if cfg.Key == "" {
		key, err := hub.Pair(ctx, cfg.Address, cfg.DeviceName, cfg.PairRetry, log)
		if err != nil {
			return cfg, err
		}
		cfg.Key = key
	}

	next := settings.Settings{Key: cfg.Key, InternalIPAddress: cfg.Address}
	if next != saved {
		if err := settings.Save(path, next); err != nil {
			return cfg, err
		}
		log.Info("hub settings saved", "path", path)
	}
	return cfg, nil
}

// Relay is the whole service: hub poller, line-protocol server and the
// optional MQTT, InfluxDB and HTTP surfaces.
type Relay struct {
	cfg     config.Config
	version string
	log     *slog.Logger
}

// New creates a relay from a validated configuration.
func New(cfg config.Config, version string, log *slog.Logger) *Relay {
	return &Relay{cfg: cfg, version: version, log: log}
}

// Run resolves the hub identity, then runs the relay under supervision
// until ctx is cancelled, a client-independent shutdown completes or the
// restart budget is spent.
func (r *Relay) Run(ctx context.Context) error {
	hubCfg, err := ResolveHub(ctx, r.cfg.Hub, r.cfg.Settings.Path, r.log)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("huerelay: resolve hub: %w", err)
	}
	r.cfg.Hub = hubCfg
	r.log.Info("relay starting", "hub", hubCfg.Address, "addr", r.cfg.Server.Addr, "version", r.version)

	return supervisor.Run(ctx, supervisor.Config{
		MaxRestarts:  r.cfg.Supervisor.MaxRestarts,
		RestartDelay: r.cfg.Supervisor.RestartDelay,
		MaxDelay:     r.cfg.Supervisor.MaxDelay,
		StableAfter:  r.cfg.Supervisor.StableAfter,
	}, r.log, r.RunOnce)
}

// RunOnce builds a fresh relay and serves until it stops. It returns nil
// on shutdown and an error when the relay should be rebuilt.
func (r *Relay) RunOnce(ctx context.Context) error {
	cfg := r.cfg
	log := r.log

	gamut, err := color.GamutByName(cfg.Hub.Gamut)
	if err != nil {
		return fmt.Errorf("huerelay: %w", err)
	}
	store := state.NewStore(state.Options{
		DeviceTypes:   cfg.Hub.DeviceTypes,
		ExcludedKeys:  cfg.Hub.ExcludedKeys,
		TransientKeys: cfg.Hub.TransientKeys,
		Gamut:         gamut,
	}, log)
	out := queue.New(cfg.Server.QueueCapacity)

	hubClient := hub.NewClient(cfg.Hub.Address, cfg.Hub.Key, cfg.Hub.Timeout, log)
	exec, err := bridge.NewExecutor(hubClient, store.Normalizer(), log)
	if err != nil {
		return fmt.Errorf("huerelay: %w", err)
	}
	poller := bridge.NewPoller(hubClient, store, out, cfg.Hub.PollInterval, log)
	watchdog := bridge.NewWatchdog("poller", poller.Run, cfg.Server.WatchdogInterval, log)

	registry := relay.NewRegistry()
	handler := relay.NewHandler(relay.HandlerConfig{
		Version:     r.version,
		ReplayDelay: cfg.Server.ReplayDelay,
	}, exec, store, registry, out, log)

	// Sinks
	var sinks []relay.Sink
	var publisher mqtt.Publisher = mqtt.NewStubPublisher(log)
	if cfg.MQTT.Enabled {
		mirror := mqtt.NewMirror(mqtt.Config{
			Broker:      cfg.MQTT.Broker,
			Username:    cfg.MQTT.Username,
			Password:    cfg.MQTT.Password,
			TopicPrefix: cfg.MQTT.TopicPrefix,
			ClientID:    cfg.MQTT.ClientID,
		}, handler, store, log)
		publisher = mirror
		sinks = append(sinks, mirror)
	}
	if err := publisher.Start(ctx); err != nil {
		return fmt.Errorf("huerelay: %w", err)
	}
	defer publisher.Stop(context.Background())

	if cfg.InfluxDB.Enabled {
		recorder, err := history.Connect(ctx, history.Config{
			URL:             cfg.InfluxDB.URL,
			Token:           cfg.InfluxDB.Token,
			Org:             cfg.InfluxDB.Org,
			Bucket:          cfg.InfluxDB.Bucket,
			Measurement:     cfg.InfluxDB.Measurement,
			BatchSize:       cfg.InfluxDB.BatchSize,
			FlushIntervalMS: cfg.InfluxDB.FlushIntervalMS,
		}, log)
		if err != nil {
			return fmt.Errorf("huerelay: %w", err)
		}
		defer recorder.Close()
		sinks = append(sinks, recorder)
	}

	dispatcher := relay.NewDispatcher(out, registry, sinks, log)
	monitor := relay.NewMonitor(out, dispatcher.Probes(), cfg.Server.ProbeInterval, cfg.Server.ProbeTimeout, log)
	server := relay.NewServer(relay.ServerConfig{
		Addr:         cfg.Server.Addr,
		BindRetry:    cfg.Server.BindRetry,
		WriteTimeout: cfg.Server.WriteTimeout,
	}, handler, registry, dispatcher, monitor, log)

	// The run outlives ctx until the shutdown message has drained the
	// queue; it is cancelled when the server stops.
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	defer cancel()
	stopSignal := context.AfterFunc(ctx, func() {
		if !out.TryPut(queue.Shutdown()) {
			log.Warn("queue full, cancelling relay without drain")
			cancel()
			return
		}
		time.AfterFunc(drainTimeout, cancel)
	})
	defer stopSignal()

	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error {
		defer cancel()
		return server.Run(gctx)
	})
	g.Go(func() error {
		return watchdog.Run(gctx)
	})
	if cfg.HTTP.Enabled {
		api := httpapi.NewServer(httpapi.Config{
			Addr:         cfg.HTTP.Addr,
			Version:      r.version,
			WriteTimeout: cfg.Server.WriteTimeout,
		}, handler, registry, store, httpapi.Stats{
			Poll:       poller.Stats,
			Restarts:   watchdog.Restarts,
			QueueDepth: out.Len,
			Delivered:  dispatcher.Delivered,
			Dropped:    dispatcher.Dropped,
		}, log)
		g.Go(func() error {
			return api.Run(gctx)
		})
	}

	err = g.Wait()
	switch {
	case err == nil, ctx.Err() != nil:
		return nil
	case errors.Is(err, relay.ErrRestartRequested), errors.Is(err, relay.ErrQueueWedged):
		return err
	default:
		return fmt.Errorf("huerelay: %w", err)
	}
}
