// Package cli wires the daemon together and exposes the command line:
// running the root command starts the daemon in the foreground, the
// subcommands talk to a running daemon over IPC.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/berrythewa/cliped-daemon/internal/clipboard"
	"github.com/berrythewa/cliped-daemon/internal/config"
	"github.com/berrythewa/cliped-daemon/internal/device"
	"github.com/berrythewa/cliped-daemon/internal/ipc"
	"github.com/berrythewa/cliped-daemon/internal/service"
	"github.com/berrythewa/cliped-daemon/internal/storage"
	"github.com/berrythewa/cliped-daemon/internal/sync"
	"github.com/berrythewa/cliped-daemon/internal/types"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	cfgFile    string
	logLevel   string
	deviceName string
	socketPath string

	cfg    *config.Config
	logger *zap.Logger

	// Version information, set by main.
	Version   = "dev"
	BuildTime = "unknown"
)

// RootCmd is the base command. Without a subcommand it runs the daemon in
// the foreground.
var RootCmd = &cobra.Command{
	Use:   "clipedd",
	Short: "Cliped is a clipboard manager with device sync",
	Long: `Cliped records clipboard history and synchronizes it with other
devices on the local network. Devices find each other via UDP discovery
and connect only after an explicit accept on the receiving side.

Running clipedd without a subcommand starts the daemon in the foreground.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDaemon(cmd.Context())
	},
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		if logLevel != "" {
			cfg.Log.Level = logLevel
		}
		if deviceName != "" {
			cfg.DeviceName = deviceName
		}

		logger, err = newLogger(cfg)
		if err != nil {
			return fmt.Errorf("failed to build logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			logger.Sync()
		}
	},
}

func init() {
	RootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file path")
	RootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
	RootCmd.PersistentFlags().StringVar(&deviceName, "device-name", "", "override the device display name")
	RootCmd.PersistentFlags().StringVar(&socketPath, "socket", ipc.DefaultSocketPath, "daemon IPC socket path")
}

// Execute runs the root command.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runDaemon(ctx context.Context) error {
	logger.Info("Starting cliped daemon",
		zap.String("version", Version),
		zap.String("device_id", cfg.DeviceID),
		zap.String("device_name", cfg.DeviceName))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	store, err := storage.NewBoltStore(storage.StoreConfig{
		DBPath:     cfg.Storage.DBPath,
		MaxEntries: cfg.Storage.MaxEntries,
		Logger:     logger,
	})
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer store.Close()

	registry := device.NewRegistry(types.Device{
		ID:   cfg.DeviceID,
		Name: cfg.DeviceName,
	}, logger)

	monitor := clipboard.NewMonitor(nil,
		time.Duration(cfg.PollingInterval)*time.Millisecond, logger)

	engine := sync.NewEngine(registry, store, sync.EngineConfig{
		ListenAddr:   fmt.Sprintf(":%d", cfg.Sync.ListenPort),
		QueueSize:    cfg.Sync.QueueSize,
		SendTimeout:  time.Duration(cfg.Sync.SendTimeout) * time.Second,
		DownloadsDir: cfg.Sync.DownloadsDir,
		TotalSync:    cfg.Sync.Mode == "total",
	}, logger)
	engine.SetClipboardWriter(monitor.Set)
	if err := engine.Start(ctx); err != nil {
		return fmt.Errorf("failed to start sync engine: %w", err)
	}
	defer engine.Stop()

	discovery := sync.NewDiscovery(registry, sync.DiscoveryConfig{
		Port:     cfg.Sync.DiscoveryPort,
		SyncPort: engine.Port(),
		Window:   time.Duration(cfg.Sync.DiscoveryWindow) * time.Millisecond,
		Interval: time.Duration(cfg.Sync.DiscoveryInterval) * time.Second,
	}, logger)
	if err := discovery.Start(ctx); err != nil {
		return fmt.Errorf("failed to start discovery: %w", err)
	}
	defer discovery.Stop()

	svc := service.New(cfg, store, registry, engine, discovery, monitor, logger)

	monitor.SetOnChange(svc.CaptureText)
	monitor.Start(ctx)
	defer monitor.Stop()

	ipcErr := make(chan error, 1)
	go func() {
		ipcErr <- ipc.ListenAndServe(ctx, socketPath, svc.HandleIPC)
	}()

	// Initial sweep so the device list is warm before the first cycle.
	go func() {
		if _, err := svc.DiscoverDevices(ctx); err != nil {
			logger.Warn("Initial discovery failed", zap.Error(err))
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case s := <-sig:
		logger.Info("Shutting down", zap.String("signal", s.String()))
		cancel()
		<-ipcErr
		return nil
	case err := <-ipcErr:
		if err != nil {
			return fmt.Errorf("ipc server failed: %w", err)
		}
		return nil
	}
}
