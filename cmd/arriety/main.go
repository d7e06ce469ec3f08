// Arriety is the network client for the login server.
//
// It connects to the configured endpoint, runs the login handshake on a
// fixed-rate tick loop, reconnects after socket loss and exposes its
// state over a local REST API, an interactive CLI and optional MQTT
// telemetry.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/tramquy-network/arriety/internal/api"
	"github.com/tramquy-network/arriety/internal/cli"
	"github.com/tramquy-network/arriety/internal/client"
	"github.com/tramquy-network/arriety/internal/config"
	"github.com/tramquy-network/arriety/internal/db"
	"github.com/tramquy-network/arriety/internal/events"
	"github.com/tramquy-network/arriety/internal/health"
	"github.com/tramquy-network/arriety/internal/telemetry"
	"github.com/tramquy-network/arriety/internal/util"
)

const (
	AppName    = "Arriety"
	AppVersion = "0.3.0"
)

func main() {
	configDir := flag.String("config", config.DefaultConfigDir, "configuration directory")
	host := flag.String("host", "", "login server host (overrides config)")
	port := flag.Int("port", 0, "login server port (overrides config)")
	noCLI := flag.Bool("no-cli", false, "disable the interactive CLI")
	flag.Parse()

	fmt.Printf("%s v%s\n\n", AppName, AppVersion)

	// Initialize logger with defaults first (will be reconfigured after config load)
	if err := util.InitLogger(util.DefaultLogConfig()); err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	log.Info().
		Str("version", AppVersion).
		Str("platform", runtime.GOOS).
		Str("arch", runtime.GOARCH).
		Msg("starting Arriety")

	cfg, err := config.Load(*configDir)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	if err := config.ApplyEnv(cfg); err != nil {
		log.Fatal().Err(err).Msg("failed to apply environment overrides")
	}
	if *host != "" || *port != 0 {
		ep := cfg.GetEndpoint()
		if *host != "" {
			ep.Host = *host
		}
		if *port != 0 {
			ep.Port = *port
		}
		cfg.SetEndpoint(ep.Host, ep.Port)
	}

	logCfg := util.LogConfig{
		Level:       cfg.Logging.Level,
		Directory:   cfg.Logging.Directory,
		FileEnabled: cfg.Logging.FileEnabled,
		MaxBackups:  cfg.Logging.MaxBackups,
		Console:     cfg.Logging.Console,
	}
	if err := util.InitLogger(logCfg); err != nil {
		log.Warn().Err(err).Msg("failed to reconfigure logger, using defaults")
	}

	validation := config.Validate(cfg)
	for _, w := range validation.Warnings {
		log.Warn().Str("field", w.Field).Msg(w.Message)
	}
	if !validation.IsValid() {
		for _, e := range validation.Errors {
			log.Error().Str("field", e.Field).Msg(e.Message)
		}
		log.Fatal().Msg("configuration validation failed, please fix the errors above")
	}

	sysInfo := util.GetSystemInfo()
	log.Info().
		Str("hostname", sysInfo.Hostname).
		Str("os", sysInfo.OS).
		Str("cpu", sysInfo.CPUModel).
		Int("cores", sysInfo.CPUCores).
		Uint64("memory_mb", sysInfo.TotalMemory).
		Msg("system information")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	eventBus := events.NewEventBus()

	var journal *db.Journal
	if cfg.Journal.Enabled {
		journal, err = db.NewJournal(cfg.Journal.Path)
		if err != nil {
			log.Warn().Err(err).Msg("failed to open session journal, journal disabled")
		} else {
			journal.Subscribe(eventBus)
		}
	}

	var mqttPublisher *telemetry.MQTTPublisher
	if cfg.MQTT.Enabled {
		mqttPublisher, err = telemetry.NewMQTTPublisher(cfg, eventBus)
		if err != nil {
			log.Warn().Err(err).Msg("failed to initialize MQTT, telemetry disabled")
		}
	}

	mgr := client.NewManager(cfg, eventBus, client.WithHandlers(client.Handlers{
		OnConnected: func() {
			log.Info().Msg("connected to login server")
		},
		OnDisconnected: func() {
			log.Info().Msg("disconnected from login server")
		},
		OnLoginSuccess: func() {
			log.Info().Msg("login succeeded")
		},
		OnLoginFailed: func(message string) {
			log.Warn().Str("reason", message).Msg("login failed")
		},
	}))

	var wg sync.WaitGroup
	shutdownCh := make(chan struct{}, 1)
	eventBus.Subscribe(events.EventShutdown, "main.shutdown", func(ctx context.Context, e events.Event) error {
		select {
		case shutdownCh <- struct{}{}:
		default:
		}
		return nil
	})

	if mqttPublisher != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			log.Info().Msg("starting MQTT telemetry")
			if err := mqttPublisher.Start(ctx); err != nil {
				log.Warn().Err(err).Msg("MQTT telemetry failed")
			}
		}()
	}

	ep := cfg.GetEndpoint()
	if err := mgr.Connect(ep.Host, ep.Port); err != nil {
		log.Fatal().Err(err).Msg("failed to start network manager")
	}

	healthMgr := health.NewManager(cfg.Health, eventBus, mgr, nil)
	wg.Add(1)
	go func() {
		defer wg.Done()
		healthMgr.Start(ctx)
	}()

	if cfg.API.Enabled {
		apiServer := api.NewServer(cfg, eventBus, mgr, journal)
		wg.Add(1)
		go func() {
			defer wg.Done()
			log.Info().Int("port", cfg.API.Port).Msg("starting REST API server")
			if err := apiServer.Start(ctx); err != nil {
				log.Warn().Err(err).Msg("API server failed (non-fatal)")
			}
		}()
	}

	if !*noCLI {
		cliHandler := cli.NewCLI(cfg, eventBus, mgr, os.Stdin, os.Stdout)
		// The CLI goroutine is not joined: it may be blocked reading stdin.
		go func() {
			log.Info().Msg("starting interactive CLI")
			cliHandler.Start(ctx)
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("received shutdown signal")
	case <-shutdownCh:
		log.Info().Msg("shutdown requested")
	}

	log.Info().Msg("initiating graceful shutdown...")

	mgr.Disconnect()
	cancel()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info().Msg("all tasks stopped gracefully")
	case <-time.After(cfg.Network.ShutdownTimeout() + 10*time.Second):
		log.Warn().Msg("shutdown timed out, forcing exit")
	}

	eventBus.Stop()

	if journal != nil {
		if err := journal.Close(); err != nil {
			log.Warn().Err(err).Msg("failed to close session journal")
		}
	}

	log.Info().Msg("Arriety stopped")
}
