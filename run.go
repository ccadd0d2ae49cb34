package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-ble/ble"
	"github.com/go-ble/ble/linux"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	versioncollector "github.com/prometheus/client_golang/prometheus/collectors/version"
	"github.com/spf13/cobra"

	"github.com/alepar/wp6003/airquality/wp6003"
	"github.com/alepar/wp6003/config"
	"github.com/alepar/wp6003/hub"
	"github.com/alepar/wp6003/integration"
	"github.com/alepar/wp6003/projection"
)

const (
	mqttConnectTimeout = 15 * time.Second
	shutdownTimeout    = 5 * time.Second
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the exporter",
	Long: `Opens the HCI device, follows every configured sensor and serves /metrics.
SIGHUP re-reads the entries from the config file and reloads them, SIGINT and
SIGTERM shut down.`,
	Args: cobra.NoArgs,
	RunE: runDaemon,
}

var configPath string

func init() {
	runCmd.Flags().StringVarP(&configPath, "config", "c", "config.yaml", "Path to the YAML config file")
}

func runDaemon(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger, err := cfg.NewLogger()
	if err != nil {
		return err
	}
	cfg.PrintConfig(logger)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// open BLE
	dev, err := linux.NewDevice(ble.OptDeviceID(cfg.BLE.HCIDevice))
	if err != nil {
		return errors.Wrap(err, "failed to open ble")
	}
	defer dev.Stop()

	registry := prometheus.NewRegistry()
	registry.MustRegister(wp6003.Collectors()...)
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewBuildInfoCollector(),
		versioncollector.NewCollector(programName),
	)

	scanner := hub.NewScanner(dev, cfg.ScannerOptions(), logger)
	bus := hub.NewBus(logger)
	services := hub.NewServices()
	dialer := hub.NewDialer(dev, cfg.BLE.ConnectTimeout)
	sessions := wp6003.NewSessionManager(scanner, wp6003.DialFunc(func(ctx context.Context, addr ble.Addr) (wp6003.Client, error) {
		cln, err := dialer.Dial(ctx, addr)
		if err != nil {
			return nil, err
		}
		return cln, nil
	}), bus, cfg.SessionOptions(), logger)

	var (
		sink     projection.StateSink
		mqttSink *projection.MQTTSink
	)
	if cfg.MQTT.Enabled {
		mqttSink = projection.NewMQTTSink(cfg.MQTTOptions(), logger)
		defer mqttSink.Disconnect()
		sink = mqttSink
	}

	platform, err := projection.NewPlatform(bus, registry, sink, logger)
	if err != nil {
		return err
	}

	if mqttSink != nil {
		mqttSink.OnConnect(platform.Announce)
		connectCtx, cancel := context.WithTimeout(ctx, mqttConnectTimeout)
		if err := mqttSink.Connect(connectCtx); err != nil {
			logger.WithError(err).Warn("mqtt not connected yet, discovery is sent once it is")
		}
		cancel()
	}

	coord := integration.New(integration.Host{
		Scanner:   scanner,
		Bus:       bus,
		Sessions:  sessions,
		Services:  services,
		Platforms: []integration.Platform{platform},
	}, logger)
	if !coord.Setup() {
		return errors.New("integration setup failed")
	}
	defer coord.Shutdown()

	entries := newEntrySet(coord, logger)
	entries.apply(cfg.Entries)

	scanErr := make(chan error, 1)
	go func() {
		scanErr <- scanner.Run(ctx)
	}()

	srv := &http.Server{
		Addr:              cfg.HTTP.ListenAddress,
		Handler:           newMux(registry, services, scanner, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Error("http server stopped")
			stop()
		}
	}()
	logger.WithField("address", cfg.HTTP.ListenAddress).Info("started")

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	var runErr error
loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case err := <-scanErr:
			runErr = errors.Wrap(err, "scanning stopped")
			break loop
		case <-hup:
			entries.reload(configPath)
		}
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("http shutdown")
	}
	return runErr
}
