package server

import (
	"net/http"
	_ "net/http/pprof"

	"github.com/Nzyazin/arenapay/internal/core/handler"
	"github.com/Nzyazin/arenapay/internal/core/jointoken"
	"github.com/Nzyazin/arenapay/internal/core/logger"
	"github.com/Nzyazin/arenapay/internal/core/metrics"
	middlWre "github.com/Nzyazin/arenapay/internal/core/middleware"
	"github.com/Nzyazin/arenapay/internal/core/notify"
	"github.com/Nzyazin/arenapay/internal/core/pix"
	"github.com/Nzyazin/arenapay/internal/core/repository"
	"github.com/Nzyazin/arenapay/internal/core/runevent"
	"github.com/Nzyazin/arenapay/internal/core/usecase"
	"github.com/Nzyazin/arenapay/internal/worker"
	"github.com/Nzyazin/arenapay/pkg/config"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	metricsprom "github.com/slok/go-http-metrics/metrics/prometheus"
	"github.com/slok/go-http-metrics/middleware"
	"github.com/slok/go-http-metrics/middleware/std"
)

// Deps are the outer collaborators an App is assembled from.
type Deps struct {
	Config   *config.Config
	Store    repository.Store
	Gateway  pix.ChargeGateway
	Payouts  pix.PayoutExecutor
	Nonces   runevent.NonceStore
	Events   notify.Publisher
	Registry *prometheus.Registry
	Log      logger.Logger
}

// App is the wired service without its listeners.
type App struct {
	Router     *mux.Router
	Wallets    usecase.WalletUsecase
	Pix        usecase.PixUsecase
	Runs       usecase.RunUsecase
	Schedulers []*worker.Scheduler
}

func NewApp(d Deps) *App {
	cfg := d.Config
	m := metrics.New(d.Registry)
	core := usecase.Deps{Store: d.Store, Events: d.Events, Metrics: m, Log: d.Log}

	walletUsecase := usecase.NewWalletUsecase(core)
	pixUsecase := usecase.NewPixUsecase(core, d.Gateway, cfg.Game.PixPayoutProvider)
	runUsecase := usecase.NewRunUsecase(core, usecase.RunRules{
		MinStakeCents: cfg.Game.MinStakeCents,
		MaxStakeCents: cfg.Game.MaxStakeCents,
		HouseFeeBps:   cfg.Game.HouseFeeBps,
	}, jointoken.NewIssuer(cfg.Game.JoinTokenSecret, cfg.Game.JoinTokenTTL))

	app := &App{
		Router:  mux.NewRouter(),
		Wallets: walletUsecase,
		Pix:     pixUsecase,
		Runs:    runUsecase,
	}
	app.registerRoutes(d)
	app.Schedulers = newSchedulers(d, pixUsecase, m)
	return app
}

func (a *App) registerRoutes(d Deps) {
	cfg, log := d.Config, d.Log

	a.Router.Use(loggingMiddleware(log))
	if d.Registry != nil {
		mw := middleware.New(middleware.Config{
			Recorder: metricsprom.NewRecorder(metricsprom.Config{Registry: d.Registry}),
		})
		a.Router.Use(func(next http.Handler) http.Handler {
			return std.Handler("", mw, next)
		})
		a.Router.Handle("/metrics", promhttp.HandlerFor(d.Registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}
	a.Router.Use(middlWre.Recovery(log))
	if cfg.App.Development() {
		a.Router.PathPrefix("/debug/pprof/").Handler(http.DefaultServeMux)
	}

	webhooks := handler.NewWebhookHandler(a.Pix, a.Runs,
		runevent.NewVerifier(cfg.Game.RunEventSecret, cfg.Game.RunEventMaxAge, d.Nonces), log)
	hooks := a.Router.PathPrefix("/webhooks").Subrouter()
	webhooks.RegisterRoutes(hooks, middlWre.RequireToken(handler.HeaderWebhookToken, cfg.App.WebhookToken, log))

	admin := a.Router.PathPrefix("/api/v1/admin").Subrouter()
	admin.Use(middlWre.RequireToken(handler.HeaderAdminToken, cfg.App.AdminToken, log))
	handler.NewAdminHandler(a.Wallets, log).RegisterRoutes(admin)

	api := a.Router.PathPrefix("/api/v1").Subrouter()
	api.Use(middlWre.RequireAccount(log))
	handler.NewWalletHandler(a.Wallets, log).RegisterRoutes(api)
	handler.NewPixHandler(a.Pix, log).RegisterRoutes(api)
	handler.NewRunHandler(a.Runs, log).RegisterRoutes(api)
}

func newSchedulers(d Deps, pixUsecase usecase.PixUsecase, m *metrics.Metrics) []*worker.Scheduler {
	wc := d.Config.Worker
	opt := &worker.Options{
		BatchSize:       wc.BatchSize,
		Lookback:        wc.ReconcileLookback,
		MinWindow:       wc.DepositMinWindow,
		MaxItemFailures: wc.MaxItemFailures,
	}
	pixRepo := d.Store.Pix()
	return []*worker.Scheduler{
		worker.NewScheduler(worker.NewReconciliationWorker(pixRepo, pixUsecase, d.Log, m, opt), wc.ReconcileInterval, d.Log, m),
		worker.NewScheduler(worker.NewWithdrawalPayoutWorker(pixRepo, pixUsecase, d.Payouts, d.Log, m, opt), wc.PayoutInterval, d.Log, m),
		worker.NewScheduler(worker.NewDepositExpirationWorker(pixRepo, pixUsecase, d.Log, m, opt), wc.ExpirationInterval, d.Log, m),
	}
}

func loggingMiddleware(log logger.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			log.Info("HTTP request",
				logger.StringField("method", r.Method),
				logger.StringField("path", r.URL.Path),
				logger.StringField("remote_addr", r.RemoteAddr),
				logger.StringField("user_agent", r.UserAgent()),
			)
			next.ServeHTTP(w, r)
		})
	}
}
