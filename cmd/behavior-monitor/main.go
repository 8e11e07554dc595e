package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/behavior-monitor/internal/config"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/behavior-monitor/internal/driver"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/behavior-monitor/internal/events"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/behavior-monitor/internal/frame"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/behavior-monitor/internal/httpapi"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/behavior-monitor/internal/inference"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/behavior-monitor/internal/journal"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/behavior-monitor/internal/logger"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/behavior-monitor/internal/metrics"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/behavior-monitor/internal/monitor"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/behavior-monitor/internal/override"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/behavior-monitor/internal/webrtc"
)

var (
	// Command-line flags
	configPath   = flag.String("config", "", "YAML config file (defaults are used when empty)")
	httpAddr     = flag.String("http", "", "HTTP server address (overrides server.http_addr)")
	frameURL     = flag.String("frame-url", "", "Snapshot URL (overrides frame.url)")
	frameFile    = flag.String("frame-file", "", "JPEG file to poll instead of a snapshot URL")
	inferURL     = flag.String("inference-url", "", "Model server URL (overrides inference.url)")
	journalOnRun = flag.Bool("journal", false, "Start the event journal at boot")
	once         = flag.Bool("once", false, "Run a single tick, print the detections and exit")
	logLevel     = flag.String("log-level", "info", "Log level (debug, info, warn, error, silent)")
	logColor     = flag.Bool("log-color", true, "Enable colored log output")
)

// App wires the pipeline and its collaborators.
type App struct {
	cfg        config.Config
	metrics    *metrics.Metrics
	dispatcher *events.Dispatcher
	journal    *journal.Journal
	webrtc     *webrtc.Server
	events     *httpapi.EventBroadcaster
	monitor    *monitor.Monitor
	driver     *driver.Driver
	httpServer *http.Server
	wg         sync.WaitGroup
}

func main() {
	flag.Parse()

	level, err := logger.ParseLevel(*logLevel)
	if err != nil {
		log.Fatalf("Invalid log level: %v", err)
	}
	logger.Init(level, os.Stderr, *logColor)

	cfg, err := loadConfig()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logger.Info("Main", "Behavior monitor starting...")
	logger.Info("Main", "Log level: %s", level)

	app := NewApp(cfg)

	if *once {
		os.Exit(app.RunOnce())
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := app.Start(ctx); err != nil {
		log.Fatalf("Failed to start: %v", err)
	}

	<-ctx.Done()
	logger.Info("Main", "Shutting down...")

	if err := app.Shutdown(); err != nil {
		logger.Error("Main", "Error during shutdown: %v", err)
	}
	logger.Info("Main", "Stopped")
}

func loadConfig() (config.Config, error) {
	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			return config.Config{}, err
		}
		cfg = loaded
	}

	if *httpAddr != "" {
		cfg.Server.HTTPAddr = *httpAddr
	}
	if *frameFile != "" {
		cfg.Frame.File = *frameFile
		cfg.Frame.URL = ""
	}
	if *frameURL != "" {
		cfg.Frame.URL = *frameURL
	}
	if *inferURL != "" {
		cfg.Inference.URL = *inferURL
	}
	return cfg, cfg.Validate()
}

// NewApp builds every component from cfg without starting anything.
func NewApp(cfg config.Config) *App {
	m := metrics.New()
	store := override.NewStore()

	jrnl := journal.New(cfg.Server.JournalDir)
	rtc := webrtc.NewServer(cfg.Server.STUNServers, cfg.Server.MaxWebRTCClients, m)
	sse := httpapi.NewEventBroadcaster(m)
	dispatcher := events.NewDispatcher(cfg.Server.EventBuffer, m, events.LogSink{}, jrnl, rtc, sse)

	mon := monitor.New(cfg.Monitor(), cfg.Decoder(), dispatcher, store, m)

	var frames frame.Source
	if cfg.Frame.URL != "" {
		frames = frame.NewHTTPSource(cfg.Frame.URL, cfg.Frame.Timeout)
	} else {
		frames = frame.NewFileSource(cfg.Frame.File)
	}
	infer := inference.NewHTTPClient(cfg.Inference.URL, cfg.Model.InputWidth, cfg.Model.InputHeight, cfg.Inference.Timeout)
	drv := driver.New(cfg.Polling(), frames, infer, mon, m, clock.New())

	api := httpapi.NewServer(httpapi.Config{Addr: cfg.Server.HTTPAddr}, httpapi.Deps{
		Monitor:  mon,
		Override: store,
		Journal:  jrnl,
		WebRTC:   rtc,
		Frames:   drv,
		Events:   sse,
		Metrics:  m,
	})

	return &App{
		cfg:        cfg,
		metrics:    m,
		dispatcher: dispatcher,
		journal:    jrnl,
		webrtc:     rtc,
		events:     sse,
		monitor:    mon,
		driver:     drv,
		httpServer: &http.Server{
			Addr:              cfg.Server.HTTPAddr,
			Handler:           api.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
}

// Start launches event delivery, the HTTP server and the polling loop.
func (a *App) Start(ctx context.Context) error {
	a.dispatcher.Start()

	if *journalOnRun {
		if err := a.journal.Start(); err != nil {
			return fmt.Errorf("failed to start journal: %w", err)
		}
	}

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		logger.Info("Main", "HTTP server listening on %s", a.cfg.Server.HTTPAddr)
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Main", "HTTP server error: %v", err)
		}
	}()

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		if err := a.driver.Run(ctx); err != nil {
			logger.Error("Main", "Driver error: %v", err)
		}
	}()

	return nil
}

// RunOnce runs a single tick and prints the detections as JSON. It returns the exit code.
func (a *App) RunOnce() int {
	a.dispatcher.Start()
	defer a.dispatcher.Close()

	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.Inference.Timeout+a.cfg.Frame.Timeout)
	defer cancel()

	if err := a.driver.RunOnce(ctx); err != nil {
		logger.Error("Main", "Tick failed: %v", err)
		return 1
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(a.monitor.LastDetections()); err != nil {
		logger.Error("Main", "Failed to print detections: %v", err)
		return 1
	}
	return 0
}

// Shutdown stops the driver first so no new events are produced, then drains the sinks.
func (a *App) Shutdown() error {
	a.driver.Stop()
	a.driver.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	a.events.Close()
	err := a.httpServer.Shutdown(ctx)

	a.wg.Wait()
	a.dispatcher.Close()

	if jerr := a.journal.Close(); jerr != nil && err == nil {
		err = jerr
	}
	a.webrtc.Close()
	return err
}
