// Package daemon implements the daemon lifecycle manager.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"firestige.xyz/needle/internal/capture"
	"firestige.xyz/needle/internal/command"
	"firestige.xyz/needle/internal/config"
	"firestige.xyz/needle/internal/dispatch"
	"firestige.xyz/needle/internal/framework"
	logpkg "firestige.xyz/needle/internal/log"
	"firestige.xyz/needle/internal/metrics"
	"firestige.xyz/needle/internal/netinfo"
	pluginload "firestige.xyz/needle/internal/plugin"
	"firestige.xyz/needle/pkg/host"
	"firestige.xyz/needle/plugins"
)

// Daemon manages the needle daemon process lifecycle.
type Daemon struct {
	// Configuration
	config     *config.GlobalConfig
	configPath string
	socketPath string
	pidFile    string
	resolver   *netinfo.Resolver

	// Core components
	hosts      *host.Manager
	fw         *framework.Framework
	loader     *pluginload.Loader
	dispatcher *dispatch.Dispatcher
	source     capture.Source // nil if capture.type=none
	sink       capture.Sink
	ownsSink   bool

	// Control plane
	cmdHandler    *command.CommandHandler
	udsServer     *command.UDSServer
	kafkaConsumer *command.KafkaCommandConsumer // nil if kafka control disabled
	metricsServer *metrics.Server               // nil if metrics disabled

	// Lifecycle management
	ctx          context.Context
	cancel       context.CancelFunc
	captureDone  chan struct{}
	workers      sync.WaitGroup
	shutdownChan chan struct{}
	shutdownOnce sync.Once
	stopOnce     sync.Once
	sigChan      chan os.Signal
}

// Option customizes a Daemon.
type Option func(*Daemon)

// WithResolver replaces the netlink-backed identity resolver.
func WithResolver(r *netinfo.Resolver) Option {
	return func(d *Daemon) {
		d.resolver = r
	}
}

// New creates a new Daemon instance. Empty socketPath and pidFile fall back
// to control.socket and control.pid_file.
func New(configPath, socketPath, pidFile string, opts ...Option) (*Daemon, error) {
	globalConfig, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if socketPath == "" {
		socketPath = globalConfig.Control.Socket
	}
	if pidFile == "" {
		pidFile = globalConfig.Control.PIDFile
	}

	d := &Daemon{
		config:       globalConfig,
		configPath:   configPath,
		socketPath:   socketPath,
		pidFile:      pidFile,
		captureDone:  make(chan struct{}),
		shutdownChan: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.resolver == nil {
		d.resolver = netinfo.NewResolver(nil)
	}

	d.ctx, d.cancel = context.WithCancel(context.Background())
	return d, nil
}

// Framework returns the hook framework. It is nil before Start.
func (d *Daemon) Framework() *framework.Framework {
	return d.fw
}

// Start initializes and starts all daemon components.
func (d *Daemon) Start() error {
	// 1. Initialize logging system
	if err := logpkg.Init(d.config.Log); err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}

	slog.Info("starting needle daemon",
		"version", command.Version,
		"hostname", d.config.Node.Hostname,
		"config", d.configPath,
		"socket", d.socketPath,
	)

	// 2. Write PID file
	if err := WritePIDFile(d.pidFile); err != nil {
		return err
	}

	// 3. Start metrics server
	if err := d.startMetrics(); err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}

	// 4. Resolve the gateway and local pairs
	if err := d.initHosts(); err != nil {
		return fmt.Errorf("failed to resolve network identity: %w", err)
	}

	// 5. Open the link-layer collaborator
	if err := d.openCapture(); err != nil {
		return fmt.Errorf("failed to open capture: %w", err)
	}

	// 6. Create the framework and register hooks
	d.fw = framework.New(d.hosts, framework.WithTransmitter(d.sink))
	if err := d.loadPlugins(); err != nil {
		return err
	}

	// 7. Command handler and local control socket
	d.cmdHandler = command.NewCommandHandler(d.fw, d.loader)
	d.cmdHandler.SetStopTimeout(d.config.Modules.StopTimeout)
	d.cmdHandler.SetShutdownFunc(func() {
		slog.Info("shutdown triggered via daemon.shutdown command")
		d.TriggerShutdown()
	})

	d.udsServer = command.NewUDSServer(d.socketPath, d.cmdHandler)
	d.workers.Add(1)
	go func() {
		defer d.workers.Done()
		if err := d.udsServer.Start(d.ctx); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("uds server failed", "error", err)
		}
	}()

	// 8. Remote command channel
	if d.config.Control.Kafka.Enabled {
		if err := d.startKafkaConsumer(); err != nil {
			// Non-fatal: the daemon can still run with UDS-only control
			slog.Error("failed to start kafka consumer", "error", err)
		}
	}

	// 9. Dispatch captured frames to modules
	d.startCapture()

	// 10. Periodically collect modules whose workers exited on their own
	d.startReaper()

	slog.Info("daemon started successfully", "hooks", len(d.fw.Names()))
	return nil
}

func (d *Daemon) initHosts() error {
	id, err := d.resolver.Resolve(d.config.Node)
	if err != nil {
		return err
	}
	d.hosts = host.NewManager(id.Gateway, id.Self)
	slog.Info("network identity",
		"interface", id.Interface,
		"gateway", id.Gateway.String(),
		"self", id.Self.String(),
	)

	if d.config.Capture.Interface == "" {
		d.config.Capture.Interface = id.Interface
	}

	if !d.config.Node.Neighbors || id.Index == 0 {
		return nil
	}
	neighbors, err := d.resolver.Neighbors(id.Index)
	if err != nil {
		slog.Warn("failed to read neighbour table", "interface", id.Interface, "error", err)
		return nil
	}
	skip := map[netip.Addr]bool{id.Gateway.Addr(): true, id.Self.Addr(): true}
	err = d.hosts.WithHosts(func(l *host.NetPairList) {
		for _, p := range neighbors {
			if !skip[p.Addr()] {
				l.Resolve(p.Addr(), p.HardwareAddr())
			}
		}
	})
	if err != nil {
		return err
	}
	slog.Info("host list seeded from neighbour table", "hosts", d.hosts.HostsSnapshot().Len())
	return nil
}

func (d *Daemon) openCapture() error {
	src, dev, err := openSource(d.config.Capture)
	if err != nil {
		return err
	}
	sink, owns, err := openSink(d.config.Capture, dev)
	if err != nil {
		if src != nil {
			src.Close()
		}
		return err
	}
	d.source, d.sink, d.ownsSink = src, sink, owns
	slog.Info("capture opened",
		"type", d.config.Capture.Type,
		"interface", d.config.Capture.Interface,
		"sink", d.config.Capture.Sink.Type,
	)
	return nil
}

// loadPlugins registers the builtins, then every library in the plugin
// directory. Dynamic library failures are logged and skipped.
func (d *Daemon) loadPlugins() error {
	entries, err := plugins.Entries(d.config.Plugins.Builtins)
	if err != nil {
		return err
	}
	if err := d.fw.LoadBatch(entries); err != nil {
		return fmt.Errorf("failed to register builtin hooks: %w", err)
	}

	d.loader = pluginload.NewLoader(pluginload.LoaderConfig{
		Path:     d.config.Plugins.Dir,
		Patterns: d.config.Plugins.Patterns,
	}, d.fw, nil)

	if !d.config.Plugins.Autoload {
		return nil
	}
	if _, err := os.Stat(d.config.Plugins.Dir); os.IsNotExist(err) {
		slog.Info("plugin directory absent, autoload skipped", "dir", d.config.Plugins.Dir)
		return nil
	}
	results, err := d.loader.LoadAll()
	if err != nil {
		slog.Warn("some plugins failed to load", "error", err)
	}
	slog.Info("plugins autoloaded", "files", len(results))
	return nil
}

func (d *Daemon) startCapture() {
	d.dispatcher = dispatch.New(d.fw)
	if d.source == nil {
		close(d.captureDone)
		slog.Info("capture disabled")
		return
	}

	engine := capture.NewEngine(d.config.Capture.Type, d.source, d.dispatcher)
	go func() {
		defer close(d.captureDone)
		if err := engine.Run(d.ctx); err != nil {
			slog.Error("capture engine failed", "error", err)
		}
	}()
}

func (d *Daemon) startReaper() {
	interval := d.config.Modules.ReapInterval
	if interval <= 0 {
		return
	}
	d.workers.Add(1)
	go func() {
		defer d.workers.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				d.reap()
			case <-d.ctx.Done():
				return
			}
		}
	}()
}

func (d *Daemon) reap() {
	for name, err := range d.fw.Reap() {
		if err != nil {
			slog.Warn("module exited with error", "module", name, "error", err)
		} else {
			slog.Info("module exited", "module", name)
		}
	}
}

// Stop performs graceful shutdown of all daemon components. It is safe to
// call more than once.
func (d *Daemon) Stop() {
	d.stopOnce.Do(d.stop)
}

func (d *Daemon) stop() {
	slog.Info("initiating graceful shutdown")

	// 1. Stop Kafka command consumer first (no new remote commands)
	if d.kafkaConsumer != nil {
		slog.Info("stopping kafka command consumer")
		if err := d.kafkaConsumer.Stop(); err != nil {
			slog.Error("error stopping kafka consumer", "error", err)
		}
	}

	// 2. Stop capture, so no frame reaches a module that is going away
	d.cancel()
	timeout := d.config.Modules.StopTimeout
	select {
	case <-d.captureDone:
	case <-time.After(timeout):
		slog.Warn("capture engine did not exit in time", "timeout", timeout)
	}

	// 3. Stop all running modules
	if d.fw != nil {
		slog.Info("stopping all modules", "modules", len(d.fw.Modules()))
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		if err := d.fw.StopAll(ctx); err != nil {
			slog.Error("error stopping modules", "error", err)
		}
		cancel()
	}

	// 4. Stop UDS server (no new CLI commands)
	if d.udsServer != nil {
		slog.Info("stopping uds server")
		if err := d.udsServer.Stop(); err != nil {
			slog.Error("error stopping uds server", "error", err)
		}
	}

	// 5. Stop metrics server
	if d.metricsServer != nil {
		slog.Info("stopping metrics server")
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := d.metricsServer.Stop(ctx); err != nil {
			slog.Error("error stopping metrics server", "error", err)
		}
		cancel()
	}
	d.workers.Wait()

	// 6. Close the link-layer collaborator
	if d.ownsSink && d.sink != nil {
		if err := d.sink.Close(); err != nil {
			slog.Error("error closing sink", "error", err)
		}
	}
	if d.source != nil {
		if err := d.source.Close(); err != nil {
			slog.Error("error closing capture source", "error", err)
		}
	}
	if d.dispatcher != nil {
		st := d.dispatcher.Stats()
		slog.Info("dispatch totals", "frames", st.Frames, "delivered", st.Delivered, "dropped", st.Dropped)
	}

	// 7. Unregister signal handler
	if d.sigChan != nil {
		signal.Stop(d.sigChan)
	}

	// 8. Remove PID file
	if err := RemovePIDFile(d.pidFile); err != nil {
		slog.Error("error removing PID file", "error", err)
	}

	slog.Info("daemon stopped gracefully")
	logpkg.Close()
}

// Run runs the daemon main loop, blocking until shutdown is triggered.
// Shutdown can be triggered by:
//  1. OS signals (SIGTERM, SIGINT)
//  2. daemon.shutdown command via UDS/Kafka
//
// SIGHUP reloads the log configuration.
func (d *Daemon) Run() error {
	d.sigChan = make(chan os.Signal, 1)
	signal.Notify(d.sigChan, syscall.SIGTERM, syscall.SIGINT, syscall.SIGHUP)

	slog.Info("daemon running, waiting for signals or commands")

	for {
		select {
		case sig := <-d.sigChan:
			switch sig {
			case syscall.SIGTERM, syscall.SIGINT:
				slog.Info("received shutdown signal", "signal", sig)
				d.Stop()
				return nil

			case syscall.SIGHUP:
				slog.Info("received reload signal")
				if err := d.Reload(); err != nil {
					slog.Error("failed to reload config", "error", err)
				}
			}

		case <-d.shutdownChan:
			slog.Info("shutdown triggered by command")
			d.Stop()
			return nil

		case <-d.ctx.Done():
			slog.Info("context cancelled", "error", d.ctx.Err())
			d.Stop()
			return d.ctx.Err()
		}
	}
}

// Reload re-reads the configuration file.
// Hot-reloadable: log level/format/outputs.
// Cold (requires restart): node identity, capture, plugins, control.
func (d *Daemon) Reload() error {
	slog.Info("reloading configuration", "path", d.configPath)

	newConfig, err := config.Load(d.configPath)
	if err != nil {
		return fmt.Errorf("failed to load new config: %w", err)
	}

	hotReloaded := []string{}
	if newConfig.Log != d.config.Log {
		if err := logpkg.Init(newConfig.Log); err != nil {
			return fmt.Errorf("failed to reinitialize logging: %w", err)
		}
		d.config.Log = newConfig.Log
		hotReloaded = append(hotReloaded, "log")
	}

	requiresRestart := []string{}
	if newConfig.Node != d.config.Node {
		requiresRestart = append(requiresRestart, "node")
	}
	if newConfig.Capture.Type != d.config.Capture.Type || newConfig.Capture.Sink != d.config.Capture.Sink {
		requiresRestart = append(requiresRestart, "capture")
	}
	if newConfig.Metrics != d.config.Metrics {
		requiresRestart = append(requiresRestart, "metrics")
	}

	slog.Info("configuration reloaded",
		"hot_reloaded", hotReloaded,
		"requires_restart", requiresRestart,
	)
	return nil
}

// TriggerShutdown triggers graceful shutdown from an external caller.
func (d *Daemon) TriggerShutdown() {
	d.shutdownOnce.Do(func() {
		close(d.shutdownChan)
	})
}

// startKafkaConsumer starts the Kafka command consumer in background.
func (d *Daemon) startKafkaConsumer() error {
	consumer, err := command.NewKafkaCommandConsumer(
		d.config.Control.Kafka,
		d.config.Node.Hostname,
		d.cmdHandler,
	)
	if err != nil {
		return fmt.Errorf("failed to create kafka consumer: %w", err)
	}
	d.kafkaConsumer = consumer

	d.workers.Add(1)
	go func() {
		defer d.workers.Done()
		if err := consumer.Start(d.ctx); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("kafka consumer stopped with error", "error", err)
		}
	}()
	return nil
}

// startMetrics starts the metrics HTTP server if enabled.
func (d *Daemon) startMetrics() error {
	if !d.config.Metrics.Enabled {
		slog.Info("metrics server disabled")
		return nil
	}

	d.metricsServer = metrics.NewServer(d.config.Metrics.Listen, d.config.Metrics.Path)
	if err := d.metricsServer.Start(d.ctx); err != nil {
		return err
	}
	return nil
}
