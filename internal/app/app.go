package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/panashe-dev/kombi-go/config"
	"github.com/panashe-dev/kombi-go/internal/adapter/ledger"
	"github.com/panashe-dev/kombi-go/internal/adapter/realtime"
	"github.com/panashe-dev/kombi-go/internal/domain/types"
	"github.com/panashe-dev/kombi-go/internal/service/session"
	"github.com/panashe-dev/kombi-go/internal/service/trip"
	"github.com/panashe-dev/kombi-go/pkg/logger"
	wrap "github.com/panashe-dev/kombi-go/pkg/logger/wrapper"
)

// App assembles the client: Ledger transport, session lifecycle, realtime
// router and the mode-specific trip service.
type App struct {
	cfg *config.Config
	log logger.Logger

	client  *ledger.Client
	session *session.Manager
	router  *realtime.Router

	rider  *trip.Rider
	driver *trip.Driver

	metricsSrv *http.Server
}

func New(cfg *config.Config) (*App, error) {
	if !logger.ValidateLogLevel(cfg.Log.Level) {
		return nil, fmt.Errorf("invalid log level %q", cfg.Log.Level)
	}
	log := logger.InitLogger("kombi", cfg.Log.Level)

	client := ledger.New(cfg.Ledger, log)

	transport, err := newTransport(cfg.Realtime, log)
	if err != nil {
		return nil, err
	}
	router := realtime.NewRouter(transport, log)

	store := session.NewFileStore(cfg.Session.StorePath)
	sess := session.NewManager(client, store, router, cfg.Session, log)

	a := &App{
		cfg:     cfg,
		log:     log,
		client:  client,
		session: sess,
		router:  router,
	}

	switch cfg.Mode {
	case types.RoleDriver:
		a.driver = trip.NewDriver(client, router, sess, cfg.Trip, cfg.Dispatch, log)
	default:
		a.rider = trip.NewRider(client, router, sess, cfg.Trip, log)
	}

	return a, nil
}

// newTransport picks the pub/sub backend from configuration.
func newTransport(cfg config.RealtimeConfig, log logger.Logger) (realtime.Transport, error) {
	switch cfg.Transport {
	case "ws":
		return realtime.NewWSTransport(cfg.GatewayURL, log), nil
	case "redis":
		return realtime.NewRedisTransport(cfg.RedisAddr, cfg.RedisPassword, log), nil
	case "rabbit":
		return realtime.NewRabbitTransport(cfg.RabbitDSN(), log), nil
	default:
		return nil, fmt.Errorf("unknown realtime transport %q", cfg.Transport)
	}
}

// Run bootstraps the session, connects the realtime transport and blocks
// until the context is cancelled, then shuts everything down in order.
func (a *App) Run(ctx context.Context) error {
	if err := a.session.Bootstrap(ctx); err != nil {
		a.log.Warn(wrap.ErrorCtx(ctx, err), "session bootstrap degraded", "err", err.Error())
	}

	if err := a.router.Connect(ctx); err != nil {
		a.log.Warn(ctx, "realtime unavailable, continuing without live events", "err", err.Error())
	}

	a.startMetrics(ctx)

	a.log.Info(ctx, "client running", "mode", a.cfg.Mode.String())
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	a.Shutdown(shutdownCtx)
	return nil
}

// Shutdown stops trip services, exits presence and closes the transport.
// The session itself is kept on disk for the next start.
func (a *App) Shutdown(ctx context.Context) {
	if a.rider != nil {
		a.rider.Teardown(ctx)
	}
	if a.driver != nil {
		a.driver.Teardown(ctx)
	}
	if err := a.router.Close(ctx); err != nil {
		a.log.Warn(ctx, "realtime close failed", "err", err.Error())
	}
	if a.metricsSrv != nil {
		if err := a.metricsSrv.Shutdown(ctx); err != nil {
			a.log.Warn(ctx, "metrics server shutdown failed", "err", err.Error())
		}
	}
	a.log.Info(ctx, "client stopped")
}

func (a *App) startMetrics(ctx context.Context) {
	if a.cfg.Metrics.Addr == "" {
		return
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	a.metricsSrv = &http.Server{Addr: a.cfg.Metrics.Addr, Handler: mux}

	go func() {
		if err := a.metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.log.Error(wrap.ErrorCtx(ctx, err), "metrics server failed", err)
		}
	}()
	a.log.Info(ctx, "metrics endpoint up", "addr", a.cfg.Metrics.Addr)
}

// Session exposes the lifecycle manager to the presentation layer.
func (a *App) Session() *session.Manager { return a.session }

// Rider is non-nil in rider mode.
func (a *App) Rider() *trip.Rider { return a.rider }

// Driver is non-nil in driver mode.
func (a *App) Driver() *trip.Driver { return a.driver }

// Realtime exposes the channel router.
func (a *App) Realtime() *realtime.Router { return a.router }

// Ledger exposes the request client.
func (a *App) Ledger() *ledger.Client { return a.client }
