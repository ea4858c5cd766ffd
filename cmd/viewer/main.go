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
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"streamcart/internal/core/domain"
	"streamcart/internal/core/services"
	"streamcart/internal/infrastructure/catalog"
	"streamcart/internal/infrastructure/monitoring"
	"streamcart/internal/infrastructure/signal"
	"streamcart/internal/infrastructure/webrtc"
	"streamcart/pkg/config"
	"streamcart/pkg/logger"
	"streamcart/pkg/retry"
	"streamcart/pkg/tracing"
	"streamcart/pkg/utils"
)

func main() {
	var (
		configPath = flag.String("config", "configs/config.yaml", "path to config file")
		room       = flag.String("room", "", "room id to join")
		seller     = flag.String("seller", "", "seller key to watch directly")
		viaRelay   = flag.Bool("relay", false, "receive media through the relay instead of a direct session")
	)
	flag.Parse()

	if *room == "" {
		fmt.Fprintln(os.Stderr, "-room is required")
		os.Exit(2)
	}
	if !*viaRelay && *seller == "" {
		fmt.Fprintln(os.Stderr, "either -seller or -relay is required")
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.NewComponent(cfg.Logging.Level, cfg.Logging.Format, "viewer")
	defer log.Sync()

	tp, err := tracing.Init(tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: "streamcart-viewer",
		JaegerURL:   cfg.Tracing.JaegerURL,
		Environment: cfg.Tracing.Environment,
		SampleRate:  cfg.Tracing.SampleRate,
	})
	if err != nil {
		log.Fatalw("init tracing", "error", err)
	}

	collector := monitoring.NewPrometheusCollector()
	if cfg.Monitoring.PrometheusEnabled {
		go serveMetrics(cfg.Monitoring.PrometheusPort, log)
	}

	viewerID := domain.ClientID(utils.GenerateViewerID())
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
	}, log)
	if err != nil {
		log.Fatalw("build signaling channel", "error", err)
	}

	webrtcCfg := webrtcConfig(cfg)
	sessions := webrtc.NewSessionManager(webrtcCfg, channel, log)
	relay := webrtc.NewRelayClient(webrtcCfg, webrtc.RelayOptions{
		URL:         cfg.Endpoints.RelayURL,
		JoinTimeout: cfg.Relay.JoinTimeout,
	}, viewerID, log)

	observe := monitoring.ObserveSessions(collector)
	unobserveSessions := sessions.Notify(observe)
	defer unobserveSessions()
	unobserveRelay := relay.Notify(observe)
	defer unobserveRelay()

	catalogClient, err := catalog.NewClient(catalog.ClientOptions{
		BaseURL: cfg.Endpoints.APIBaseURL,
		Token:   cfg.Auth.Token,
		Retry:   retry.DefaultConfig(),
	}, log)
	if err != nil {
		log.Fatalw("build catalog client", "error", err)
	}

	viewer := services.NewViewerService(
		channel, sessions, relay, catalogClient,
		viewerID, roomID, log,
	)
	viewer.Chat.SetRateLimit(cfg.Chat.MessagesPerSecond, cfg.Chat.Burst)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := viewer.Join(ctx); err != nil {
		cancel()
		log.Fatalw("join room", "error", err)
	}

	if *viaRelay {
		err = viewer.WatchViaRelay(ctx)
	} else {
		err = viewer.Watch(ctx, domain.ClientID(utils.GenerateSellerID(*seller)))
	}
	cancel()
	if err != nil {
		viewer.Leave()
		log.Fatalw("start watching", "error", err)
	}
	log.Infow("watching", "room", roomID, "via_relay", *viaRelay)

	stop := make(chan os.Signal, 1)
	ossignal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	log.Infow("leaving room")

	viewer.Leave()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := tp.Shutdown(shutdownCtx); err != nil {
		log.Warnw("shutdown tracing", "error", err)
	}
}

func serveMetrics(port int, log *zap.SugaredLogger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	addr := fmt.Sprintf(":%d", port)
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Fatalw("metrics server failed", "error", err)
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
