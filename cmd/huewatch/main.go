package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/rs/zerolog"

	"huewatch/internal/analysis"
	"huewatch/internal/auth"
	"huewatch/internal/camera"
	"huewatch/internal/camera/gstreamer"
	"huewatch/internal/camera/opencv"
	"huewatch/internal/config"
	"huewatch/internal/detection"
	"huewatch/internal/emitter"
	"huewatch/internal/logging"
	"huewatch/internal/pipeline"
	"huewatch/internal/services"
	"huewatch/internal/stream"
	"huewatch/internal/supervisor"
	"huewatch/internal/telegram"
	"huewatch/internal/vision"
	"huewatch/internal/ws"
)

func main() {
	var (
		configF = flag.String("config", os.Getenv("HUEWATCH_CONFIG"), "Path to the YAML configuration file")
		uriF    = flag.String("uri", "", "Camera source URI (overrides camera.uri)")
		driverF = flag.String("driver", "", "Capture driver: opencv or gstreamer (overrides camera.driver)")
		addrF   = flag.String("addr", "", "HTTP listen address (overrides http.addr)")
		dbgF    = flag.Bool("debug", false, "Log request and response bodies")
		hashF   = flag.String("hash-password", "", "Print the bcrypt hash of the given password and exit")
	)
	flag.Parse()

	if *hashF != "" {
		hash, err := auth.HashPassword(*hashF)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		fmt.Println(hash)
		return
	}

	cfg, err := config.Load(*configF, func(c *config.Config) {
		if *uriF != "" {
			c.Camera.URI = *uriF
		}
		if *driverF != "" {
			c.Camera.Driver = *driverF
		}
		if *addrF != "" {
			c.HTTP.Addr = *addrF
		}
		if *dbgF {
			c.HTTP.Debug = true
		}
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "huewatch: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.Log, nil)
	logger.Info().
		Str("driver", cfg.Camera.Driver).
		Str("uri", camera.RedactURI(cfg.Camera.URI)).
		Str("strategy", cfg.Detection.Strategy).
		Msg("starting huewatch")

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup

	// Camera connection and its supervisor.
	var sup *supervisor.Supervisor
	{
		driver, err := selectDriver(cfg.Camera.Driver)
		if err != nil {
			logger.Fatal().Err(err).Msg("invalid camera driver")
		}
		sup = supervisor.New(driver, cameraConfig(cfg), supervisor.Policy{
			FailureThreshold: cfg.Reconnect.FailureThreshold,
			MaxAttempts:      cfg.Reconnect.MaxAttempts,
			BaseDelay:        cfg.Reconnect.BaseDelay,
			MaxDelay:         cfg.Reconnect.MaxDelay,
			SettleDelay:      cfg.Reconnect.SettleDelay,
		}, supervisor.WithLogger(logging.Component(logger, "supervisor")))
	}

	strategy, err := analysis.ParseStrategy(cfg.Detection.Strategy)
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid detection strategy")
	}
	classifier := vision.NewClassifier(strategy, cfg.Detection.RegionSize)
	defer classifier.Close()

	// Acquisition loop, its cache and the detection event bus.
	var (
		cache = pipeline.NewStreamCache()
		bus   = pipeline.NewEventBus()
		loop  *pipeline.Loop
	)
	{
		loop = pipeline.NewLoop(
			sup,
			cache,
			classifier,
			vision.NewAnnotator(cfg.Display),
			stream.NewPresenter(cfg.Display.JPEGQuality),
			pipeline.LoopConfig{
				RetryPause:     cfg.Stream.RetryPause,
				TransientPause: cfg.Stream.TransientPause,
			},
			pipeline.WithLoopLogger(logging.Component(logger, "loop")),
			pipeline.WithEventBus(bus),
		)
	}

	detector := detection.NewService(cache, sup, classifier, detection.Options{
		StaleAfter:     cfg.Detection.StaleAfter,
		MaxFallbackAge: cfg.Detection.MaxFallbackAge,
		ReadTimeout:    cfg.Camera.ReadTimeout(),
	}, logging.Component(logger, "detection"))

	// Telemetry fan-out.
	hub := ws.NewDetectionHub(16, logging.Component(logger, "ws"))
	bus.Subscribe(hub)
	sup.OnStateChange(hub.OnStateChange)

	var mqttEmitter *emitter.MQTTEmitter
	if cfg.MQTT.Enabled {
		mqttEmitter = emitter.NewMQTTEmitter(cfg.MQTT, logging.Component(logger, "mqtt"))
		if err := mqttEmitter.Connect(ctx); err != nil {
			logger.Warn().Err(err).Msg("mqtt broker not reachable yet, continuing with auto-reconnect")
		}
		events, unsubscribe := bus.SubscribeChannel(64)
		sup.OnStateChange(mqttEmitter.OnStateChange)

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer unsubscribe()
			mqttEmitter.Run(ctx, events)
		}()
	}

	if cfg.Telegram.Enabled {
		startTelegram(ctx, &wg, cfg.Telegram, sup, loop, detector, logging.Component(logger, "telegram"))
	}

	authenticator, err := auth.NewAuthenticator(cfg.Auth)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize authentication")
	}
	if authenticator.IsEnabled() {
		logger.Info().Str("username", cfg.Auth.Username).Msg("authentication enabled for operator endpoints")
	}

	mjpeg := stream.NewMJPEGHandler(loop, cfg.Stream.ClientBuffer, logging.Component(logger, "mjpeg"))

	var svc services.Services
	{
		deps := services.SystemDeps{
			Camera:        sup,
			Loop:          loop.Stats,
			CacheAge:      cache.AgeSeconds,
			StreamClients: mjpeg.Clients,
			WSClients:     hub.ClientCount,
			WSDropped:     hub.Dropped,
			Strategy:      string(strategy),
		}
		if mqttEmitter != nil {
			deps.MQTT = mqttEmitter.Stats
		}
		svc = services.Services{
			Health: services.NewHealthService(sup),
			System: services.NewSystemService(deps),
			Auth:   services.NewAuthService(authenticator),
		}
	}

	// Create channel used by both the signal handler and server goroutines
	// to notify the main goroutine when to stop the server.
	errc := make(chan error)

	go func() {
		c := make(chan os.Signal, 1)
		signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
		errc <- fmt.Errorf("%s", <-c)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := loop.Run(ctx); err != nil {
			errc <- err
		}
	}()

	handleHTTPServer(ctx, cfg.HTTP, httpHandlers{
		services:  svc,
		stream:    mjpeg,
		snapshot:  stream.NewSnapshotHandler(loop),
		detect:    detector,
		ws:        ws.NewHandler(hub, logging.Component(logger, "ws")),
		protector: authenticator,
	}, &wg, errc, logger)

	// Wait for signal.
	logger.Info().Msgf("exiting (%v)", <-errc)

	// Send cancellation signal to the goroutines.
	cancel()

	wg.Wait()

	hub.Close()
	bus.Close()
	if mqttEmitter != nil {
		mqttEmitter.Disconnect()
	}
	if err := sup.Close(); err != nil {
		logger.Warn().Err(err).Msg("failed to release camera")
	}
	logger.Info().Msg("exited")
}

func selectDriver(name string) (camera.Driver, error) {
	switch name {
	case "", "opencv":
		return opencv.NewDriver(), nil
	case "gstreamer":
		return gstreamer.NewDriver(), nil
	default:
		return nil, fmt.Errorf("unknown driver %q (valid drivers: opencv|gstreamer)", name)
	}
}

func cameraConfig(cfg *config.Config) camera.Config {
	return camera.Config{
		URI:         cfg.Camera.URI,
		Width:       cfg.Camera.Width,
		Height:      cfg.Camera.Height,
		FPS:         cfg.Camera.FPS,
		BufferSize:  cfg.Camera.BufferSize,
		OpenTimeout: cfg.Camera.OpenTimeout(),
		ReadTimeout: cfg.Camera.ReadTimeout(),
		JPEGQuality: cfg.Display.JPEGQuality,
	}
}

// startTelegram wires operator alerts and chat commands. A bad token is
// logged and alerts stay off; the camera service runs regardless.
func startTelegram(ctx context.Context, wg *sync.WaitGroup, cfg config.TelegramConfig, sup *supervisor.Supervisor, loop *pipeline.Loop, detector *detection.Service, log zerolog.Logger) {
	bot := telegram.NewBot(cfg, telegram.WithBotLogger(log))

	info, err := bot.GetBotInfo(ctx)
	if err != nil {
		log.Error().Err(err).Msg("telegram bot unavailable, alerts disabled")
		return
	}
	log.Info().Str("bot", info.Username).Msg("telegram alerts enabled")

	alerter := telegram.NewAlerter(bot, log)
	sup.OnStateChange(alerter.OnStateChange)

	commands := telegram.NewCommandHandler(bot, sup, loop, detector, log)

	wg.Add(2)
	go func() {
		defer wg.Done()
		alerter.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		if err := commands.StartPolling(ctx); err != nil {
			log.Error().Err(err).Msg("telegram command polling failed")
		}
	}()
}
