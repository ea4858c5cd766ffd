package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	ossignal "os/signal"
	"syscall"
	"time"

	pionwebrtc "github.com/pion/webrtc/v3"

	"streamcart/internal/core/domain"
	"streamcart/internal/core/services"
	httphandlers "streamcart/internal/handlers/http"
	"streamcart/internal/infrastructure/catalog"
	"streamcart/internal/infrastructure/media"
	"streamcart/internal/infrastructure/monitoring"
	"streamcart/internal/infrastructure/signal"
	"streamcart/internal/infrastructure/webrtc"
	"streamcart/pkg/circuitbreaker"
	"streamcart/pkg/config"
	"streamcart/pkg/logger"
	"streamcart/pkg/retry"
	"streamcart/pkg/tracing"
	"streamcart/pkg/utils"
)

func main() {
	var (
		configPath = flag.String("config", "configs/config.yaml", "path to config file")
		sellerKey  = flag.String("seller", "", "seller key, becomes the seller client id")
		room       = flag.String("room", "", "room id to broadcast into")
	)
	flag.Parse()

	if *sellerKey == "" || *room == "" {
		fmt.Fprintln(os.Stderr, "both -seller and -room are required")
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.NewComponent(cfg.Logging.Level, cfg.Logging.Format, "broadcaster")
	defer log.Sync()

	tp, err := tracing.Init(tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: "streamcart-broadcaster",
		JaegerURL:   cfg.Tracing.JaegerURL,
		Environment: cfg.Tracing.Environment,
		SampleRate:  cfg.Tracing.SampleRate,
	})
	if err != nil {
		log.Fatalw("init tracing", "error", err)
	}

	collector := monitoring.NewPrometheusCollector()

	sellerID := domain.ClientID(utils.GenerateSellerID(*sellerKey))
	roomID := domain.RoomID(*room)

	channel, err := signal.NewChannel(signal.Options{
		URL:                  cfg.Endpoints.SignalURL,
		MaxReconnectAttempts: cfg.Signaling.MaxReconnectAttempts,
		ReconnectBaseDelay:   cfg.Signaling.ReconnectBaseDelay,
		PingInterval:         cfg.Signaling.PingInterval,
		PongTimeout:          cfg.Signaling.PongTimeout,
		WriteTimeout:         cfg.Signaling.WriteTimeout,
		MessagesPerSecond:    cfg.Signaling.MessagesPerSecond,
		MessageBurst:         cfg.Signaling.MessageBurst,
		Recorder:             collector,
		Callbacks: signal.Callbacks{
			OnDisconnected: func(code int, reason string) {
				log.Warnw("signaling dropped", "code", code, "reason", reason)
			},
		},
	}, log)
	if err != nil {
		log.Fatalw("build signaling channel", "error", err)
	}

	webrtcCfg := webrtcConfig(cfg)
	sessions := webrtc.NewSessionManager(webrtcCfg, channel, log)
	relay := webrtc.NewRelayClient(webrtcCfg, webrtc.RelayOptions{
		URL:         cfg.Endpoints.RelayURL,
		JoinTimeout: cfg.Relay.JoinTimeout,
	}, sellerID, log)

	observe := monitoring.ObserveSessions(collector)
	unobserveSessions := sessions.Notify(observe)
	defer unobserveSessions()
	unobserveRelay := relay.Notify(observe)
	defer unobserveRelay()

	source, err := media.NewRTPSource(media.RTPSourceConfig{
		VideoPort:    cfg.Media.VideoRTPPort,
		AudioPort:    cfg.Media.AudioRTPPort,
		ProbeTimeout: cfg.Media.ProbeTimeout,
	}, log)
	if err != nil {
		log.Fatalw("open local media", "error", err)
	}
	defer source.Stop()

	grabber, err := media.NewMJPEGGrabber(cfg.Capture.FrameURL, log)
	if err != nil {
		log.Fatalw("open frame grabber", "error", err)
	}
	grabber.Start(context.Background())
	defer grabber.Stop()

	catalogClient, err := catalog.NewClient(catalog.ClientOptions{
		BaseURL: cfg.Endpoints.APIBaseURL,
		Token:   cfg.Auth.Token,
		Retry:   retry.DefaultConfig(),
	}, log)
	if err != nil {
		log.Fatalw("build catalog client", "error", err)
	}

	prediction, err := catalog.NewPredictionClient(cfg.Endpoints.APIBaseURL, 0, log)
	if err != nil {
		log.Fatalw("build prediction client", "error", err)
	}

	capture := services.NewCaptureService(
		grabber, prediction,
		circuitbreaker.DefaultConfig(),
		cfg.Capture.Interval,
		string(sellerID),
		log,
	)
	capture.SetRecorder(collector)

	broadcast := services.NewBroadcastService(
		channel, sessions, catalogClient, source, capture,
		sellerID, roomID, log,
	)
	broadcast.UseRelay(relay, cfg.Relay.MaxDirectViewers)
	broadcast.Chat.SetRateLimit(cfg.Chat.MessagesPerSecond, cfg.Chat.Burst)

	health := monitoring.NewHealthChecker()
	health.Add("catalog", 2*time.Second, monitoring.CatalogProbe(catalogClient))
	health.Add("signaling", time.Second, func(ctx context.Context) error {
		if !broadcast.Live() {
			return nil
		}
		return monitoring.SignalingProbe(channel)(ctx)
	})

	handler := httphandlers.NewControlHandler(broadcast, capture, health, log)
	srv := &http.Server{
		Addr:    cfg.Control.Address,
		Handler: handler.Router(cfg.Control.RequestsPerSecond, cfg.Control.Burst, cfg.Monitoring.PrometheusEnabled),
	}

	go func() {
		log.Infow("control API listening", "address", cfg.Control.Address)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalw("control API failed", "error", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	ossignal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	log.Infow("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if broadcast.Live() {
		if err := broadcast.Stop(ctx); err != nil {
			log.Warnw("stop broadcast", "error", err)
		}
	}
	if err := srv.Shutdown(ctx); err != nil {
		log.Warnw("shutdown control API", "error", err)
	}
	if err := tp.Shutdown(ctx); err != nil {
		log.Warnw("shutdown tracing", "error", err)
	}
}

func webrtcConfig(cfg *config.Config) webrtc.Config {
	out := webrtc.Config{
		CloseGraceWindow:        cfg.WebRTC.CloseGraceWindow,
		CandidateErrorThreshold: cfg.WebRTC.CandidateErrorThreshold,
	}
	out.PortRange.Min = cfg.WebRTC.PortRange.Min
	out.PortRange.Max = cfg.WebRTC.PortRange.Max
	for _, s := range cfg.WebRTC.ICEServers {
		out.ICEServers = append(out.ICEServers, pionwebrtc.ICEServer{
			URLs:       s.URLs,
			Username:   s.Username,
			Credential: s.Credential,
		})
	}
	return out
}
