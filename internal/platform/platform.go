// Package platform wires the storage, lock and notification stack shared by
// the binaries.
package platform

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/hackgods/consultation-scheduling/internal/appointment"
	"github.com/hackgods/consultation-scheduling/internal/catalog"
	"github.com/hackgods/consultation-scheduling/internal/config"
	"github.com/hackgods/consultation-scheduling/internal/db"
	"github.com/hackgods/consultation-scheduling/internal/notify"
	redisclient "github.com/hackgods/consultation-scheduling/internal/redis"
	"github.com/hackgods/consultation-scheduling/internal/scheduler"
)

// Stack holds the opened dependencies. Pool and Redis are nil when the memory
// driver or local locks are in use.
type Stack struct {
	Config     config.Config
	Pool       *pgxpool.Pool
	Redis      *redis.Client
	Repo       appointment.Repository
	Catalog    catalog.Reader
	Locker     redisclient.Locker
	Dispatcher *notify.Dispatcher

	logger  zerolog.Logger
	closers []func(context.Context) error
}

func SignalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

// Open connects storage and locks and starts the notification dispatcher.
// On error everything opened so far is closed.
func Open(ctx context.Context, cfg config.Config, logger zerolog.Logger) (*Stack, error) {
	s := &Stack{Config: cfg, logger: logger}
	if err := s.open(ctx); err != nil {
		closeCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		s.Close(closeCtx)
		return nil, err
	}
	return s, nil
}

func (s *Stack) open(ctx context.Context) error {
	cfg := s.Config

	switch cfg.StorageDriver {
	case config.StorageDriverPostgres:
		pgCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		pool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN, db.PoolConfig{MaxConns: cfg.PGMaxConns})
		cancel()
		if err != nil {
			return fmt.Errorf("postgres connection error: %w", err)
		}
		s.Pool = pool
		s.closers = append(s.closers, func(context.Context) error { pool.Close(); return nil })
		s.logger.Info().Msg("connected to Postgres")

		if cfg.DBAutoMigrate {
			if err := db.Migrate(ctx, pool); err != nil {
				return err
			}
			s.logger.Info().Msg("schema applied")
		}

		s.Repo = appointment.NewPgRepository(pool)
		s.Catalog = catalog.NewPgReader(pool)
		if cfg.CatalogCacheSize > 0 {
			cached, err := catalog.NewCachedReader(s.Catalog, cfg.CatalogCacheSize)
			if err != nil {
				return fmt.Errorf("catalog cache: %w", err)
			}
			s.Catalog = cached
		}

	case config.StorageDriverMemory:
		repo := appointment.NewMemoryRepository()
		reader := catalog.NewMemoryReader()
		demo := GenerateDemo(uint64(time.Now().UnixNano()), DemoSizes{Consultants: 5, Customers: 3})
		demo.LoadMemory(repo, reader)
		s.Repo = repo
		s.Catalog = reader

		for _, c := range demo.Customers {
			s.logger.Info().Str("customer_id", c.ID.String()).Str("name", c.Name).Msg("demo customer")
		}
		s.logger.Warn().Int("consultants", len(demo.Consultants)).Msg("memory storage driver, data is lost on exit")
	}

	if cfg.RedisAddr != "" {
		rdb, err := redisclient.Connect(ctx, redisclient.Options{
			Addr:     cfg.RedisAddr,
			Username: cfg.RedisUsername,
			Password: cfg.RedisPassword,
		})
		if err != nil {
			return fmt.Errorf("redis connection error: %w", err)
		}
		s.Redis = rdb
		s.closers = append(s.closers, func(context.Context) error { return rdb.Close() })
		s.Locker = redisclient.NewRedisSlotLocker(rdb, cfg.LockTTL, cfg.LockWait)
		s.logger.Info().Msg("connected to Redis")
	} else {
		s.Locker = redisclient.NewLocalLocker(cfg.LockWait)
		s.logger.Warn().Msg("REDIS_ADDR not set, using in-process locks")
	}

	s.Dispatcher = notify.NewDispatcher(notify.DispatcherConfig{
		Workers:   cfg.NotifyWorkers,
		QueueSize: cfg.NotifyQueueSize,
	}, s.sinks()...)
	s.Dispatcher.Start()
	s.closers = append(s.closers, s.Dispatcher.Stop)
	return nil
}

func (s *Stack) sinks() []notify.Sink {
	cfg := s.Config
	var sinks []notify.Sink

	if s.Pool != nil {
		sinks = append(sinks, notify.NewInAppSink(s.Pool))
		if cfg.SMTPHost != "" {
			mailer := notify.NewSMTPMailer(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPFrom)
			sinks = append(sinks, notify.NewEmailSink(notify.NewPgDirectory(s.Pool), mailer))
		}
	}

	if brokers := notify.SplitBrokers(cfg.KafkaBrokers); len(brokers) > 0 {
		kafkaSink := notify.NewKafkaSink(brokers, cfg.KafkaNotificationTopic)
		sinks = append(sinks, kafkaSink)
		s.closers = append(s.closers, func(context.Context) error { return kafkaSink.Close() })
	}

	if s.Pool == nil {
		sinks = append(sinks, notify.NewLogSink(s.logger))
	}

	names := make([]string, len(sinks))
	for i, sink := range sinks {
		names[i] = sink.Name()
	}
	s.logger.Info().Strs("sinks", names).Msg("notification sinks configured")
	return sinks
}

// NewService builds the appointment service over the stack.
func (s *Stack) NewService() *appointment.Service {
	return appointment.NewService(s.Repo, s.Catalog, s.Locker, s.Dispatcher, s.Config)
}

// NewRunner registers the reconciliation jobs over the stack. With the memory
// driver the runner must live in the process that serves the API, since
// nothing else can see its rows.
func (s *Stack) NewRunner(svc *appointment.Service) *scheduler.Runner {
	cfg := s.Config
	runner := scheduler.NewRunner(s.Locker, scheduler.RunnerConfig{
		Location:   cfg.Location,
		JobTimeout: cfg.JobTimeout,
	})
	runner.Every(scheduler.NewAutoCancelLate(s.Repo, svc), cfg.LateCancelInterval)
	runner.Every(scheduler.NewReminders(s.Repo, s.Dispatcher, cfg.Location, cfg.ActionBaseURL), cfg.ReminderInterval)
	runner.Daily(scheduler.NewAutoCancelUnpaid(s.Repo, svc, cfg.Location), cfg.UnpaidSweepAt)
	return runner
}

// Close releases dependencies in reverse order of opening. The dispatcher is
// drained before the sinks' connections go away.
func (s *Stack) Close(ctx context.Context) {
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](ctx); err != nil {
			s.logger.Error().Err(err).Msg("close dependency")
		}
	}
	s.closers = nil
}

// Serve runs srv until ctx is cancelled, then shuts it down gracefully.
func Serve(ctx context.Context, srv *http.Server, shutdownTimeout time.Duration, logger zerolog.Logger) error {
	ln, err := net.Listen("tcp", srv.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", srv.Addr, err)
	}
	logger.Info().Str("addr", ln.Addr().String()).Msg("http server listening")

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}
