// Command daemon boots the agent daemon: it loads configuration, wires
// every subsystem through internal/daemonctl, listens on its RPC socket,
// and runs until asked to stop.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"alfred-ai/internal/adapter/channel"
	"alfred-ai/internal/coordinator"
	"alfred-ai/internal/conversation"
	"alfred-ai/internal/daemonctl"
	"alfred-ai/internal/domain"
	"alfred-ai/internal/infra/config"
	"alfred-ai/internal/infra/logger"
	"alfred-ai/internal/infra/tracer"
	"alfred-ai/internal/lastactive"
	"alfred-ai/internal/router"
	"alfred-ai/internal/rpcserver"
	"alfred-ai/internal/scheduler"
	"alfred-ai/internal/shutdown"
	"alfred-ai/internal/subscription"
	"alfred-ai/internal/transport"
)

type cliFlags struct {
	ConfigPath   string
	Socket       string
	LogLevel     string
	DataDir      string
	GuidancePath string
	Help         bool
}

func parseFlags(args []string) cliFlags {
	var f cliFlags
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "-h", "--help":
			f.Help = true
		case "-c", "--config":
			if i+1 < len(args) {
				f.ConfigPath = args[i+1]
				i++
			}
		case "-s", "--socket":
			if i+1 < len(args) {
				f.Socket = args[i+1]
				i++
			}
		case "-l", "--log-level":
			if i+1 < len(args) {
				f.LogLevel = args[i+1]
				i++
			}
		case "-d", "--data":
			if i+1 < len(args) {
				f.DataDir = args[i+1]
				i++
			}
		case "-g", "--guidance":
			if i+1 < len(args) {
				f.GuidancePath = args[i+1]
				i++
			}
		default:
			switch {
			case strings.HasPrefix(args[i], "--config="):
				f.ConfigPath = strings.TrimPrefix(args[i], "--config=")
			case strings.HasPrefix(args[i], "--socket="):
				f.Socket = strings.TrimPrefix(args[i], "--socket=")
			case strings.HasPrefix(args[i], "--log-level="):
				f.LogLevel = strings.TrimPrefix(args[i], "--log-level=")
			case strings.HasPrefix(args[i], "--data="):
				f.DataDir = strings.TrimPrefix(args[i], "--data=")
			case strings.HasPrefix(args[i], "--guidance="):
				f.GuidancePath = strings.TrimPrefix(args[i], "--guidance=")
			}
		}
	}
	return f
}

// errMissingChannelCredentials reports a configured channel missing the
// fields its adapter needs to connect.
func errMissingChannelCredentials(channelType string) error {
	return fmt.Errorf("%s channel configured but missing required credentials", channelType)
}

func usage() {
	fmt.Println(`alfred-daemon - local agent daemon

USAGE:
    alfred-daemon [FLAGS]

FLAGS:
    -c, --config PATH        Config file path (default: ./daemon.yaml)
    -s, --socket PATH        Override the RPC unix socket path
    -l, --log-level LEVEL    Override the log level (debug|info|warn|error)
    -d, --data PATH          Override the data directory
    -g, --guidance PATH      Override the guidance document path
    -h, --help               Show this help message

SIGNALS:
    SIGINT, SIGTERM   Graceful shutdown
    SIGUSR1           Reload guidance document (no-op if unsupported)

Environment variables prefixed ALFREDD_ override the corresponding config
field; see internal/infra/config for the full list.`)
}

func main() {
	flags := parseFlags(os.Args[1:])
	if flags.Help {
		usage()
		return
	}

	if err := run(flags); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run(flags cliFlags) error {
	cfgPath := flags.ConfigPath
	if cfgPath == "" {
		cfgPath = "daemon.yaml"
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	applyFlagOverrides(cfg, flags)

	log, logCloser, err := logger.New(cfg.Logger)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer logCloser()

	ctx := context.Background()
	tracerShutdown, err := tracer.Setup(ctx, cfg.Tracer)
	if err != nil {
		return fmt.Errorf("tracer: %w", err)
	}
	defer tracerShutdown(ctx)

	if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
		return fmt.Errorf("data dir: %w", err)
	}

	modelFactory, err := buildModelFactory(log)
	if err != nil {
		return fmt.Errorf("model factory: %w", err)
	}

	channelRegistry := channel.NewRegistry(log)
	connectors, err := buildChannelConnectors(cfg, log)
	if err != nil {
		return fmt.Errorf("channels: %w", err)
	}

	checkpointStore := coordinator.NewFileCheckpointStore(filepath.Join(cfg.DataDir, "checkpoints.json"), log)
	coord := coordinator.New(checkpointStore, log)

	convStore := conversation.NewFileStore(filepath.Join(cfg.DataDir, "conversations.json"), log)
	convManager := conversation.NewManager(convStore, log)

	lastActive := lastactive.NewTracker(filepath.Join(cfg.DataDir, "lastactive.json"), log)

	routerCfg := router.Config{DefaultGuidancePath: cfg.GuidancePath}
	rtr := router.New(channelRegistry, coord, convManager, lastActive, routerCfg, log)
	if modelFactory != nil {
		rtr.SetDefaultAdapterResolver(func(ctx context.Context) (domain.ModelAdapter, error) {
			return modelFactory.Create(ctx, "", "")
		})
	}

	sched := scheduler.New(log)
	if cfg.Pulse.Enabled {
		pulseCfg, err := buildPulseConfig(cfg.Pulse)
		if err != nil {
			return fmt.Errorf("pulse config: %w", err)
		}
		pulseJob := scheduler.NewPulseJob(coord, channelRegistry, lastActive, pulseCfg, pulseAdapterResolver(modelFactory), log)
		if err := sched.Register(pulseJob, cfg.Pulse.Schedule); err != nil {
			return fmt.Errorf("pulse job: %w", err)
		}
	}
	if cfg.Scheduler.Enabled {
		for _, task := range cfg.Scheduler.Tasks {
			log.Warn("scheduler: named task has no executable job body in this build, skipping",
				"task", task.Name, "schedule", task.Schedule)
		}
	}

	shutdownMgr := shutdown.NewManager(10*time.Second, log)

	transportSrv := transport.NewServer(cfg.Socket, log)
	if cfg.RPC.SocketPermissions != "" {
		if mode, err := strconv.ParseUint(cfg.RPC.SocketPermissions, 8, 32); err == nil {
			transportSrv.SetPermissions(os.FileMode(mode))
		} else {
			log.Warn("rpc: invalid socket_permissions, using default", "value", cfg.RPC.SocketPermissions)
		}
	}

	subs := subscription.NewManager(transportSrv.Connection, log)

	reader := config.NewReader(cfg)

	daemonInfo := daemonctl.NewDaemonInfoHolder()
	rpcSrv := rpcserver.New(rpcserver.Deps{
		Coordinator:   coord,
		Channels:      channelRegistry,
		Conversations: convManager,
		Subscriptions: subs,
		Shutdown:      shutdownMgr,
		Daemon:        daemonInfo,
		ModelFactory:  modelFactory,
		AppConfig:     reader,
		Logger:        log,
	})

	ctrl := daemonctl.New(daemonctl.Deps{
		Coordinator:         coord,
		Channels:            channelRegistry,
		Conversations:       convManager,
		LastActive:          lastActive,
		Router:              rtr,
		Scheduler:           sched,
		Shutdown:            shutdownMgr,
		Transport:           transportSrv,
		RPCServer:           rpcSrv,
		ChannelConnectors:   connectors,
		ShutdownHardTimeout: 10 * time.Second,
		Logger:              log,
	})
	daemonInfo.Bind(ctrl)

	if err := ctrl.Start(ctx); err != nil {
		return fmt.Errorf("start: %w", err)
	}
	log.Info("alfred-daemon started", "socket", cfg.Socket, "version", daemonctl.Version)

	waitForSignal(log)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := ctrl.Stop(shutdownCtx, true); err != nil {
		log.Error("shutdown error", "error", err)
	}
	return nil
}

// applyFlagOverrides applies CLI flags over whatever config.Load (with its
// own env-var overrides) already produced; flags win over both.
func applyFlagOverrides(cfg *config.Config, flags cliFlags) {
	if flags.Socket != "" {
		cfg.Socket = flags.Socket
	}
	if flags.LogLevel != "" {
		cfg.Logger.Level = flags.LogLevel
	}
	if flags.DataDir != "" {
		cfg.DataDir = flags.DataDir
	}
	if flags.GuidancePath != "" {
		cfg.GuidancePath = flags.GuidancePath
	}
}

func buildChannelConnectors(cfg *config.Config, log *slog.Logger) ([]daemonctl.ChannelConnector, error) {
	var connectors []daemonctl.ChannelConnector
	for _, cc := range cfg.Channels {
		switch cc.Type {
		case "discord":
			ch, err := buildDiscordChannel(cc, log)
			if err != nil {
				log.Warn("channel unavailable, skipping", "type", cc.Type, "error", err)
				continue
			}
			connectors = append(connectors, daemonctl.ChannelConnector{Channel: ch})
		case "slack":
			ch, err := buildSlackChannel(cc, log)
			if err != nil {
				log.Warn("channel unavailable, skipping", "type", cc.Type, "error", err)
				continue
			}
			connectors = append(connectors, daemonctl.ChannelConnector{Channel: ch})
		default:
			log.Warn("unknown channel type, skipping", "type", cc.Type)
		}
	}
	return connectors, nil
}

// pulseAdapterResolver binds the pulse job's model adapter lookup to the
// daemon's model factory; without a factory the pulse job is registered but
// every tick fails fast with ErrMissingModelFactory instead of panicking.
func pulseAdapterResolver(factory domain.ModelFactory) func(ctx context.Context) (domain.ModelAdapter, error) {
	return func(ctx context.Context) (domain.ModelAdapter, error) {
		if factory == nil {
			return nil, domain.ErrMissingModelFactory
		}
		return factory.Create(ctx, "pulse", "")
	}
}

func buildPulseConfig(cfg config.PulseConfig) (domain.PulseConfig, error) {
	dests := make(map[string]domain.Destination, len(cfg.NamedDestinations))
	for name, dc := range cfg.NamedDestinations {
		dests[name] = domain.Destination{ChannelID: dc.ChannelID, Ref: dc.Ref, Metadata: dc.Metadata}
	}
	return domain.PulseConfig{
		Schedule:          cfg.Schedule,
		ResponseTo:        cfg.ResponseTo,
		PulsePromptPath:   cfg.PulsePromptPath,
		NamedDestinations: dests,
	}, nil
}

func waitForSignal(log *slog.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGUSR1)
	for sig := range sigCh {
		if sig == syscall.SIGUSR1 {
			log.Info("received SIGUSR1, reload not implemented in this build")
			continue
		}
		log.Info("received shutdown signal", "signal", sig.String())
		return
	}
}
