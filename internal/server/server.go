package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/Nzyazin/arenapay/internal/core/logger"
	"github.com/Nzyazin/arenapay/internal/core/notify"
	"github.com/Nzyazin/arenapay/internal/core/pix"
	"github.com/Nzyazin/arenapay/internal/core/repository/postgres"
	"github.com/Nzyazin/arenapay/internal/core/runevent"
	"github.com/Nzyazin/arenapay/pkg/config"
	"github.com/Nzyazin/arenapay/pkg/postgresdb"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
)

type Server struct {
	cfg        *config.Config
	app        *App
	log        logger.Logger
	httpServer *http.Server
	db         *postgresdb.Database
	closers    []func() error

	stopWorkers context.CancelFunc
	workers     sync.WaitGroup
}

func NewServer(cfg *config.Config, log logger.Logger) (*Server, error) {
	if cfg.Game.PixPayoutProvider != pix.SandboxProvider {
		return nil, fmt.Errorf("unsupported pix provider %q", cfg.Game.PixPayoutProvider)
	}
	if !cfg.App.Development() {
		log.Warn("Sandbox pix provider in use outside development", logger.StringField("env", cfg.App.Env))
	}

	db, err := postgresdb.NewPostgresDB(cfg.DB, log)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		return nil, err
	}

	s := &Server{cfg: cfg, log: log, db: db}

	nonces, err := s.nonceStore()
	if err != nil {
		s.closeAll()
		return nil, err
	}
	events, err := s.publisher()
	if err != nil {
		s.closeAll()
		return nil, err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	sandbox := pix.NewSandbox(cfg.Game.PixChargeTTL)
	s.app = NewApp(Deps{
		Config:   cfg,
		Store:    postgres.NewPostgresStore(db.DB, log),
		Gateway:  sandbox,
		Payouts:  sandbox,
		Nonces:   nonces,
		Events:   events,
		Registry: reg,
		Log:      log,
	})
	return s, nil
}

func (s *Server) nonceStore() (runevent.NonceStore, error) {
	rc := s.cfg.Redis
	if rc.Addr == "" {
		s.log.Info("Using in-process run event nonce store")
		return runevent.NewMemoryNonceStore(), nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     rc.Addr,
		Password: rc.Password,
		DB:       rc.DB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	s.closers = append(s.closers, client.Close)
	return runevent.NewRedisNonceStore(client, ""), nil
}

func (s *Server) publisher() (notify.Publisher, error) {
	nc := s.cfg.NATS
	if nc.URL == "" {
		return notify.Nop{}, nil
	}
	pub, err := notify.NewNATSPublisher(nc.URL, nc.SubjectPrefix)
	if err != nil {
		return nil, err
	}
	s.closers = append(s.closers, pub.Close)
	return pub, nil
}

// startWorkers runs every scheduler until Shutdown.
func (s *Server) startWorkers() {
	if !s.cfg.Worker.Enabled {
		s.log.Info("Background workers disabled")
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.stopWorkers = cancel
	for _, sch := range s.app.Schedulers {
		s.workers.Add(1)
		go func() {
			defer s.workers.Done()
			sch.Run(ctx)
		}()
	}
}

func (s *Server) Run(addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.app.Router,
		ReadTimeout:       9 * time.Second,
		WriteTimeout:      12 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 6 * time.Second,
	}

	s.httpServer = srv
	s.startWorkers()

	return srv.ListenAndServe()
}

func (s *Server) RunTLS(addr, certFile, keyFile string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.app.Router,
		ReadTimeout:       9 * time.Second,
		WriteTimeout:      9 * time.Second,
		IdleTimeout:       120 * time.Second,
		ReadHeaderTimeout: 6 * time.Second,
		TLSConfig:         &tls.Config{MinVersion: tls.VersionTLS12},
	}

	s.httpServer = srv
	s.startWorkers()
	return srv.ListenAndServeTLS(certFile, keyFile)
}

func (s *Server) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	var shutdownErr error

	go func() {
		defer close(done)
		if s.httpServer != nil {
			if err := s.httpServer.Shutdown(ctx); err != nil {
				s.log.Error("failed to shutdown HTTP server", logger.ErrorField("error", err))
				shutdownErr = errors.Join(shutdownErr, fmt.Errorf("HTTP server shutdown error: %w", err))
			}
		}

		if s.stopWorkers != nil {
			s.stopWorkers()
			s.workers.Wait()
		}

		if err := s.closeAll(); err != nil {
			shutdownErr = errors.Join(shutdownErr, err)
		}
	}()

	select {
	case <-done:
		return shutdownErr
	case <-ctx.Done():
		return fmt.Errorf("shutdown timed out: %w", ctx.Err())
	}
}

func (s *Server) closeAll() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			s.log.Error("failed to close dependency", logger.ErrorField("error", err))
			errs = append(errs, err)
		}
	}
	s.closers = nil
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.log.Error("failed to close database connection", logger.ErrorField("error", err))
			errs = append(errs, fmt.Errorf("database shutdown error: %w", err))
		}
		s.db = nil
	}
	return errors.Join(errs...)
}
