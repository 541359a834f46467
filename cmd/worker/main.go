// cmd/worker/main.go
package main

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/unclebandit/smsleopard-broadcast/internal/config"
	"github.com/unclebandit/smsleopard-broadcast/internal/db"
	"github.com/unclebandit/smsleopard-broadcast/internal/dispatcher"
	"github.com/unclebandit/smsleopard-broadcast/internal/logging"
	"github.com/unclebandit/smsleopard-broadcast/internal/queue"
	"github.com/unclebandit/smsleopard-broadcast/internal/repository"
	"github.com/unclebandit/smsleopard-broadcast/internal/service"
	"github.com/unclebandit/smsleopard-broadcast/internal/transport"
)

// The worker consumes dispatch tasks published by the server when QUEUE_DRIVER=amqp.
func main() {
	cfg, err := config.Load()
	log := logging.Component(logging.New(cfg.Log), "worker")
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	conn, dialect, err := db.Open(cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer conn.Close()
	if cfg.Database.Migrate {
		if err := db.Migrate(ctx, conn, dialect); err != nil {
			log.Fatal().Err(err).Msg("migration failed")
		}
	}

	svc, err := newBroadcastService(cfg, conn, dialect, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build dispatcher")
	}

	q, err := queue.DialAMQP(cfg.Queue.AMQPURL, cfg.Queue.Name, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to RabbitMQ")
	}
	defer q.Close()

	if err := q.Consume(ctx, cfg.Queue.Workers, svc.HandleTask, svc.ReportFailure); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal().Err(err).Msg("consumer stopped")
	}
	log.Info().Msg("worker stopped")
}

// newBroadcastService wires the dispatch side of the service. The worker never publishes, so Queue stays nil.
func newBroadcastService(cfg config.Config, conn *sql.DB, dialect db.Dialect, log zerolog.Logger) (*service.BroadcastService, error) {
	records := &repository.DeliveryRecordRepository{DB: conn, Dialect: dialect}

	messenger, err := transport.New(cfg.Transport, log)
	if err != nil {
		return nil, err
	}
	disp := dispatcher.New(messenger, dispatcher.NewRecorder(records, log), dispatcher.NewLimiter(cfg.Dispatch.RatePerSec), log)

	return &service.BroadcastService{
		Tenants:    &repository.TenantRepository{DB: conn, Dialect: dialect},
		Jobs:       &repository.DeferredJobRepository{DB: conn, Dialect: dialect},
		Records:    records,
		Dispatcher: disp,
		Defaults:   cfg.Dispatch.Batch,
		Log:        log,
	}, nil
}
