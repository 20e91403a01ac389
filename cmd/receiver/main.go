package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"tvlink/internal/core/domain"
	"tvlink/internal/core/ports"
	"tvlink/internal/core/services"
	"tvlink/internal/infrastructure/callapi"
	"tvlink/internal/infrastructure/discovery"
	"tvlink/internal/infrastructure/middleware"
	"tvlink/internal/infrastructure/monitoring"
	"tvlink/internal/infrastructure/protocol"
	signalserver "tvlink/internal/infrastructure/signal"
	"tvlink/pkg/config"
	"tvlink/pkg/logger"
)

// loggingExecutor is a placeholder display layer: it logs every command the
// way a real TV shell would execute it and tracks the current page. Each
// attached remote dispatches from its own connection goroutine, so the page
// is guarded.
type loggingExecutor struct {
	log *zap.SugaredLogger

	mu   sync.Mutex
	page string
}

func (e *loggingExecutor) Navigate(page string) error {
	e.log.Infow("navigate", "page", page)
	e.mu.Lock()
	e.page = page
	e.mu.Unlock()
	return nil
}

func (e *loggingExecutor) Activate(selector string) error {
	e.log.Infow("activate", "selector", selector)
	return nil
}

func (e *loggingExecutor) Input(selector, value string) error {
	e.log.Infow("input", "selector", selector, "chars", len(value))
	return nil
}

func (e *loggingExecutor) KeyPress(key string) error {
	e.log.Infow("keypress", "key", key)
	return nil
}

func (e *loggingExecutor) Volume(action string) error {
	e.log.Infow("volume", "action", action)
	return nil
}

func (e *loggingExecutor) AppState() (domain.AppState, error) {
	e.mu.Lock()
	page := e.page
	e.mu.Unlock()
	return domain.AppState{CurrentPage: page, Title: page}, nil
}

// broadcastCallUI projects call state onto every attached remote.
type broadcastCallUI struct {
	server *signalserver.Server
	log    *zap.SugaredLogger
}

func (u *broadcastCallUI) ShowIncomingCall(call *domain.Call) {
	msg, err := protocol.NewMessage(domain.KindIncomingCall, map[string]string{
		"call_id": call.ID,
		"caller":  call.Caller,
		"callee":  call.Callee,
	})
	if err != nil {
		return
	}
	u.server.Broadcast(msg)
	u.log.Infow("showing incoming call", "call_id", call.ID, "caller", call.Caller)
}

func (u *broadcastCallUI) HideIncomingCall(callID string) {
	msg, err := protocol.NewMessage(domain.KindCallEnded, map[string]string{"call_id": callID})
	if err != nil {
		return
	}
	u.server.Broadcast(msg)
}

func (u *broadcastCallUI) StartVideo(room string, call *domain.Call) {
	msg, err := protocol.NewMessage(domain.KindCallAnswered, map[string]string{
		"call_id": call.ID,
		"room":    room,
	})
	if err != nil {
		return
	}
	u.server.Broadcast(msg)
	u.log.Infow("starting video", "call_id", call.ID, "room", room)
}

func (u *broadcastCallUI) ShowError(message string) {
	u.log.Warnw("call error surface", "message", message)
}

func main() {
	configPath := "configs/config.yaml"
	if len(os.Args) > 1 {
		configPath = os.Args[1]
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "could not load config: %v\n", err)
		os.Exit(1)
	}

	zapLogger := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	defer zapLogger.Sync()
	log := zapLogger.Sugar()

	var metrics *monitoring.Metrics
	if cfg.Monitoring.PrometheusEnabled {
		metrics = monitoring.NewMetrics()
	}

	// Command execution and the control-channel endpoint.
	exec := &loggingExecutor{log: log, page: "home"}
	dispatcher := protocol.NewDispatcher(exec, log)

	server := signalserver.NewServer(signalserver.Identity{
		DeviceName:   cfg.Receiver.DeviceName,
		Version:      cfg.Receiver.Version,
		Capabilities: cfg.Receiver.Capabilities,
	}, dispatcher, log, metrics)

	// Call signaling.
	var callSvc *services.CallService
	if cfg.Calls.Username != "" {
		api := callapi.NewClient(cfg.Calls.ServerURL, cfg.Calls.RequestTimeout, log)
		var callUI ports.CallUI = &broadcastCallUI{server: server, log: log}
		callSvc = services.NewCallService(services.CallConfig{
			Username:     cfg.Calls.Username,
			RingTimeout:  cfg.Calls.RingTimeout,
			PollInterval: cfg.Calls.PollInterval,
		}, api, callUI, nil, log, metrics)
		dispatcher.SetCallSink(callSvc.HandleMessage)
	} else {
		log.Info("no call username configured, call signaling disabled")
	}

	// UDP presence announcements so remotes find us without scanning.
	port := listenPort(cfg.Receiver.Address)
	advertiser := discovery.NewAdvertiser(cfg.Discovery.AdvertisePort, cfg.Discovery.AdvertiseInterval, discovery.Advertisement{
		Name:         cfg.Receiver.DeviceName,
		DeviceType:   domain.DeviceTypeMarker,
		Port:         port,
		Version:      cfg.Receiver.Version,
		Capabilities: cfg.Receiver.Capabilities,
	}, log)
	if err := advertiser.Start(); err != nil {
		log.Warnw("presence advertising unavailable", "error", err)
	}

	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.NewHTTPRateLimitMiddleware(cfg))
	server.Register(router)

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "healthy",
			"clients":   len(server.ConnectedClients()),
			"timestamp": time.Now().Unix(),
		})
	})

	if cfg.Monitoring.PrometheusEnabled {
		go func() {
			addr := fmt.Sprintf(":%d", cfg.Monitoring.PrometheusPort)
			log.Infow("prometheus endpoint listening", "address", addr)
			if err := http.ListenAndServe(addr, promhttp.Handler()); err != nil {
				log.Errorw("prometheus endpoint failed", "error", err)
			}
		}()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if callSvc != nil {
		callSvc.SetVisibility(ctx, true)
		callSvc.StartPolling(ctx)
	}

	httpServer := &http.Server{
		Addr:    cfg.Receiver.Address,
		Handler: router,
	}
	go func() {
		log.Infow("receiver listening", "address", cfg.Receiver.Address, "device", cfg.Receiver.DeviceName)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalw("receiver server failed", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down")
	advertiser.Stop()
	if callSvc != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		callSvc.Close(shutdownCtx)
		shutdownCancel()
	}
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warnw("forced shutdown", "error", err)
	}
}

// listenPort extracts the numeric port from a listen address like ":8080".
func listenPort(address string) int {
	port := 0
	for i := len(address) - 1; i >= 0; i-- {
		if address[i] == ':' {
			fmt.Sscanf(address[i+1:], "%d", &port)
			break
		}
	}
	return port
}
