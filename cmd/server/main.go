// cmd/server/main.go
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/unclebandit/smsleopard-broadcast/internal/config"
	"github.com/unclebandit/smsleopard-broadcast/internal/controller"
	"github.com/unclebandit/smsleopard-broadcast/internal/db"
	"github.com/unclebandit/smsleopard-broadcast/internal/dispatcher"
	"github.com/unclebandit/smsleopard-broadcast/internal/handler"
	"github.com/unclebandit/smsleopard-broadcast/internal/logging"
	"github.com/unclebandit/smsleopard-broadcast/internal/poller"
	"github.com/unclebandit/smsleopard-broadcast/internal/queue"
	"github.com/unclebandit/smsleopard-broadcast/internal/repository"
	"github.com/unclebandit/smsleopard-broadcast/internal/service"
	"github.com/unclebandit/smsleopard-broadcast/internal/transport"
)

func main() {
	cfg, err := config.Load()
	log := logging.New(cfg.Log)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	if !cfg.EnvFileLoaded {
		log.Warn().Msg("no .env file found, relying on OS environment variables")
	}

	if err := run(cfg, log); err != nil {
		log.Fatal().Err(err).Msg("server stopped with error")
	}
}

func run(cfg config.Config, log zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	conn, dialect, err := db.Open(cfg.Database)
	if err != nil {
		return err
	}
	defer conn.Close()
	if cfg.Database.Migrate {
		if err := db.Migrate(ctx, conn, dialect); err != nil {
			return err
		}
	}

	tenantRepo := &repository.TenantRepository{DB: conn, Dialect: dialect}
	recordRepo := &repository.DeliveryRecordRepository{DB: conn, Dialect: dialect}
	jobRepo := &repository.DeferredJobRepository{DB: conn, Dialect: dialect}
	groupRepo := &repository.ContactGroupRepository{DB: conn, Dialect: dialect}

	messenger, err := transport.New(cfg.Transport, log)
	if err != nil {
		return err
	}
	disp := dispatcher.New(messenger, dispatcher.NewRecorder(recordRepo, log), dispatcher.NewLimiter(cfg.Dispatch.RatePerSec), log)

	broadcastService := &service.BroadcastService{
		Tenants:    tenantRepo,
		Jobs:       jobRepo,
		Records:    recordRepo,
		Dispatcher: disp,
		Normalizer: service.NormalizerOptions{
			DefaultCountryCode: cfg.Normalizer.DefaultCountryCode,
			MinDigits:          cfg.Normalizer.MinDigits,
			MaxDigits:          cfg.Normalizer.MaxDigits,
		},
		Defaults: cfg.Dispatch.Batch,
		Log:      logging.Component(log, "broadcast"),
	}

	var pool *queue.Pool
	switch cfg.Queue.Driver {
	case "amqp":
		q, err := queue.DialAMQP(cfg.Queue.AMQPURL, cfg.Queue.Name, log)
		if err != nil {
			return err
		}
		defer q.Close()
		broadcastService.Queue = q
		log.Info().Str("queue", cfg.Queue.Name).Msg("publishing dispatch tasks to RabbitMQ")
	default:
		pool = queue.NewPool(cfg.Queue.Workers, cfg.Queue.Buffer, broadcastService.HandleTask, broadcastService.ReportFailure, log)
		broadcastService.Queue = pool
	}

	historyService := &service.HistoryService{Records: recordRepo, Jobs: jobRepo}
	groupService := &service.ContactGroupService{Repo: groupRepo}
	poll := poller.New(cfg.Poller, jobRepo, tenantRepo, recordRepo, broadcastService.Queue, cfg.Dispatch.Batch, log)

	router := newRouter(cfg.HTTP, routes{
		broadcasts: &controller.BroadcastController{Broadcasts: broadcastService, History: historyService, Log: logging.Component(log, "http")},
		groups:     &controller.ContactGroupController{Groups: groupService, Log: logging.Component(log, "http")},
		poller:     &handler.PollerHandler{Poller: poll, Log: logging.Component(log, "http")},
		health:     &handler.HealthHandler{DB: conn},
	})
	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	if pool != nil {
		pool.Start(ctx)
	}
	if cfg.Poller.Enabled {
		if err := poll.Start(ctx); err != nil {
			return err
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", cfg.HTTP.Addr).Str("db", string(dialect)).Msg("server running")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()
		err := srv.Shutdown(shutdownCtx)
		poll.Stop(shutdownCtx)
		if pool != nil {
			pool.Stop(shutdownCtx)
		}
		return err
	})
	return g.Wait()
}
