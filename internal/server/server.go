package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/kurodenjiro/cryto-chat/internal/engine"
	"github.com/kurodenjiro/cryto-chat/internal/instrument"
	"github.com/kurodenjiro/cryto-chat/internal/router"
	"github.com/kurodenjiro/cryto-chat/internal/server/middleware"
	"github.com/kurodenjiro/cryto-chat/pkg/config"
	"github.com/kurodenjiro/cryto-chat/pkg/signing"
	"github.com/kurodenjiro/cryto-chat/pkg/state"
	"github.com/kurodenjiro/cryto-chat/pkg/state/statemanager"
	"github.com/kurodenjiro/cryto-chat/pkg/transport"
)

var (
	errCycled   = errors.New("connection cycled by new connection")
	errShutdown = errors.New("graceful shutdown")
)

// App is the relay. Socket events from every connection are funnelled into
// one event loop, so session state is only touched from that goroutine.
type App struct {
	logger       *slog.Logger
	stateManager state.Manager
	eventRouter  *router.EventRouter
	metrics      *instrument.Metrics
	wg           sync.WaitGroup
	http         *http.Server
	config       *config.RelayConfig

	events   chan func()
	stop     chan struct{}
	stopOnce sync.Once
	loopDone chan struct{}

	ctx context.Context
}

func NewApp(logger *slog.Logger, rootCtx context.Context, cfg *config.RelayConfig, signer *signing.Signer) (*App, error) {
	stateManager := statemanager.NewInMemoryManager(logger)

	registry := engine.New(logger)
	registry.RegisterCore()
	pipelines, err := registry.BuildPipelines(cfg.Events)
	if err != nil {
		return nil, err
	}

	metrics := instrument.New()
	app := &App{
		logger:       logger.With(slog.String("component", "server")),
		stateManager: stateManager,
		eventRouter:  router.NewEventRouter(logger, stateManager, signer, pipelines, metrics),
		metrics:      metrics,
		config:       cfg,
		events:       make(chan func(), 1024),
		stop:         make(chan struct{}),
		loopDone:     make(chan struct{}),
		ctx:          rootCtx,
	}

	mux := http.NewServeMux()
	if cfg.Server.MetricsPath != "" {
		mux.Handle(cfg.Server.MetricsPath, metrics.Handler())
	}

	connCycler := func(ip string) {
		if oldest, found := stateManager.FindOldestByIP(ip); found {
			app.logger.Info("Cycling connection: closing oldest", slog.String("ip", ip), slog.String("connID", oldest.ID))
			oldest.Transport.Close(errCycled)
		}
	}
	mux.Handle(cfg.Server.Path,
		middleware.Chain(http.HandlerFunc(app.upgradeHandler),
			middleware.RequestMetadataMiddleware(cfg.Server.TrustProxy),
			middleware.NewRequestLogger(app.logger),
			middleware.NewConnectionLimiter(
				app.logger,
				stateManager.CountByIP,
				connCycler,
				cfg.Server.ConnectionLimit,
			),
			middleware.NewAuthMiddleware(app.logger, cfg.Server.Auth.JWTSecret),
		),
	)

	app.http = &http.Server{
		Addr:              cfg.Server.Address,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(l net.Listener) context.Context {
			return app.ctx
		},
	}

	go app.loop()
	return app, nil
}

// Handler exposes the relay's HTTP handler.
func (a *App) Handler() http.Handler {
	return a.http.Handler
}

func (a *App) Run() error {
	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("Relay starting", slog.String("addr", a.http.Addr), slog.String("path", a.config.Server.Path))
		if err := a.http.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-a.ctx.Done():
		return a.Shutdown()
	case err := <-errCh:
		a.logger.Error("HTTP server failed", slog.Any("error", err))
		_ = a.Shutdown()
		return err
	}
}

// --- Event loop ---

func (a *App) loop() {
	defer close(a.loopDone)
	for {
		select {
		case fn := <-a.events:
			fn()
		case <-a.stop:
			return
		}
	}
}

// dispatch queues fn on the event loop. It is dropped once the loop stopped.
func (a *App) dispatch(fn func()) {
	select {
	case a.events <- fn:
	case <-a.loopDone:
	}
}

func (a *App) upgradeHandler(w http.ResponseWriter, r *http.Request) {
	reqMeta, _ := middleware.ReqMetadataFrom(r.Context())
	connID := transport.NewConnectionID()
	connLogger := a.logger.With(
		slog.String("remoteAddr", reqMeta.IP),
		slog.String("connID", connID),
	)

	wsConn, err := transport.Accept(w, r)
	if err != nil {
		connLogger.Error("Failed to accept websocket connection", slog.Any("error", err))
		return
	}

	conn := transport.NewConnection(
		r.Context(),
		&a.wg,
		connID,
		wsConn,
		transport.ConnectionConfig(a.config.Transport),
		nil,
		nil,
		a.logger,
	)
	conn.SetOnMessageHandler(func(ctx context.Context, id string, frame string) {
		a.dispatch(func() { a.eventRouter.HandleMessage(ctx, id, frame) })
	})
	conn.SetOnCloseHandler(func(id string, err error) {
		a.dispatch(func() { a.eventRouter.HandleClose(id, err) })
	})

	ctx := r.Context()
	a.dispatch(func() {
		if err := a.eventRouter.HandleAccept(ctx, connID, reqMeta.IP, conn); err != nil {
			connLogger.Error("Failed to open session", slog.Any("error", err))
			go conn.Close(err)
		}
	})

	if reqMeta.Subject != "" {
		connLogger.Debug("Admitted by token", slog.String("subject", reqMeta.Subject))
	}
	conn.Run()
	<-conn.Done()
}

// graceful shutdown sequence.
func (a *App) Shutdown() error {
	a.logger.Info("Shutting down relay...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := a.http.Shutdown(shutdownCtx)

	// close all active WebSocket connections.
	sessions := a.stateManager.Sessions()
	a.logger.Info("Closing all active connections...", slog.Int("count", len(sessions)))
	for _, s := range sessions {
		s.Transport.Close(errShutdown)
	}

	// wait for all connection goroutines to finish their cleanup.
	a.wg.Wait()
	a.stopOnce.Do(func() { close(a.stop) })
	<-a.loopDone
	a.logger.Info("Relay shut down gracefully.")
	return err
}
