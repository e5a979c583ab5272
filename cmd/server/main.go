package main // Entry point package

import (
	"context"
	"database/sql"
	"errors"
	"log" // Logging library
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4" // Echo web framework
	echomw "github.com/labstack/echo/v4/middleware"
	glog "github.com/labstack/gommon/log"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/iliyamo/badminton-sessions/internal/config" // Internal config loader
	"github.com/iliyamo/badminton-sessions/internal/database"
	"github.com/iliyamo/badminton-sessions/internal/engine"
	"github.com/iliyamo/badminton-sessions/internal/events"
	"github.com/iliyamo/badminton-sessions/internal/handler"
	"github.com/iliyamo/badminton-sessions/internal/idempotency"
	"github.com/iliyamo/badminton-sessions/internal/journal"
	"github.com/iliyamo/badminton-sessions/internal/middleware"
	"github.com/iliyamo/badminton-sessions/internal/queue"
	"github.com/iliyamo/badminton-sessions/internal/repository"
	"github.com/iliyamo/badminton-sessions/internal/router" // Internal router setup
	"github.com/iliyamo/badminton-sessions/internal/tracker"
)

// notifiers fans engine notifications out in order.
type notifiers []engine.Notifier

func (ns notifiers) SessionChanged(id string) {
	for _, n := range ns {
		n.SessionChanged(id)
	}
}

func (ns notifiers) RequestChanged(id string) {
	for _, n := range ns {
		n.RequestChanged(id)
	}
}

func main() {
	cfg := config.Load() // Load environment config
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, lock, closeStore := openStore(ctx, cfg)
	defer closeStore()

	rdb := config.NewRedisClient()
	if rdb == nil {
		log.Printf("redis: unavailable; idempotency is in-process, cache and rate limits disabled")
	} else {
		defer rdb.Close()
	}
	idem := newIdempotencyStore(cfg, rdb)
	cache := middleware.NewRedisCache(config.LoadCacheConfig(), rdb)

	// Events: local hub, optionally relayed between instances.
	hub := events.NewHub()
	var fwd events.Forwarder
	var pub *queue.Publisher
	if cfg.RabbitMQURL != "" {
		pub = queue.NewPublisher(cfg.RabbitMQURL, cfg.EventsExchange, 0)
		fwd = pub
	}
	bus := events.NewBus(hub, uuid.NewString(), fwd)

	eng := engine.New(store, engine.Config{
		LockTimeout: cfg.Engine.LockTimeout,
		Policy: engine.Policy{
			CancelLockWindow:      cfg.Engine.CancelLockWindow,
			SameDayPenaltyPercent: int64(cfg.Engine.SameDayPenaltyPercent),
		},
	}, engine.WithNotifier(notifiers{cache, bus}))
	trk := tracker.New(eng, store, bus, tracker.Config{
		Workers:        cfg.Engine.Workers,
		QueueSize:      cfg.Engine.QueueSize,
		EnqueueTimeout: cfg.Engine.EnqueueTimeout,
	})

	snap, err := store.Load(ctx)
	if err != nil {
		log.Fatalf("restore: load: %v", err)
	}
	if err := eng.Restore(snap); err != nil {
		log.Fatalf("restore: %v", err)
	}
	trk.Restore(snap.Requests)
	log.Printf("restore: %d sessions, %d registrations, %d ledger entries, %d requests",
		len(snap.Sessions), len(snap.Registrations), len(snap.Entries), len(snap.Requests))

	e := echo.New() // Create Echo instance
	e.HideBanner = true
	e.Logger.SetLevel(logLevel(cfg.LogLevel))
	e.Use(echomw.Recover())
	e.Use(echomw.RequestID())
	e.Use(echomw.RequestLoggerWithConfig(echomw.RequestLoggerConfig{
		LogMethod:    true,
		LogURI:       true,
		LogStatus:    true,
		LogLatency:   true,
		LogRequestID: true,
		LogValuesFunc: func(c echo.Context, v echomw.RequestLoggerValues) error {
			log.Printf("http: %s %s %d %s id=%s", v.Method, v.URI, v.Status, v.Latency, v.RequestID)
			return nil
		},
	}))
	router.Register(e, router.Deps{
		JWTSecret:      cfg.JWTSecret,
		Redis:          rdb,
		RateLimit:      config.LoadRateLimitConfig(),
		WriteRateLimit: config.LoadWriteRateLimitConfig(),
		Cache:          cache,
		Sessions:       handler.NewSessionHandler(eng),
		Registrations:  handler.NewRegistrationHandler(eng, trk, idem),
		Wallet:         handler.NewWalletHandler(eng),
		Admin:          handler.NewAdminHandler(eng, idem),
		Events:         handler.NewEventsHandler(hub, eng, trk, 15*time.Second),
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return ignoreCanceled(trk.Run(gctx)) })
	if pub != nil {
		g.Go(func() error { return ignoreCanceled(pub.Run(gctx)) })
		g.Go(func() error {
			return ignoreCanceled(queue.StartSignalConsumer(gctx, cfg.RabbitMQURL, cfg.EventsExchange, bus.Inject))
		})
	}
	if lock != nil {
		g.Go(func() error { return lock.Watch(gctx, cfg.WriterLockCheck) })
	}
	if cfg.Engine.SettleInterval > 0 {
		g.Go(func() error { return settleLoop(gctx, eng, cfg.Engine.SettleInterval) })
	}
	g.Go(func() error {
		addr := ":" + cfg.Port                                // Address string with port
		log.Printf("listening on %s (env=%s)", addr, cfg.Env) // Print startup info
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return e.Shutdown(shutdownCtx)
	})
	if err := g.Wait(); err != nil {
		log.Fatal(err) // Log and exit if server fails
	}
	log.Printf("shutdown complete")
}

// openStore returns the durable journal selected by STORE.  A MySQL
// journal is only returned once this process holds the writer lock; until
// then the instance stays on standby and serves nothing.
func openStore(ctx context.Context, cfg config.Config) (journal.Store, *repository.WriterLock, func()) {
	if cfg.Store == config.StoreMemory {
		log.Printf("store: in-memory journal; state is lost on restart")
		return journal.NewMemory(), nil, func() {}
	}
	db, err := database.Open(database.Options{
		User: cfg.DBUser,
		Pass: cfg.DBPass,
		Host: cfg.DBHost,
		Port: cfg.DBPort,
		Name: cfg.DBName,
	})
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	lock, err := acquireWriter(ctx, db, cfg)
	if err != nil {
		_ = db.Close()
		log.Fatalf("db: writer lock: %v", err)
	}
	if err := database.Migrate(ctx, db); err != nil {
		log.Fatalf("db: migrate: %v", err)
	}
	return repository.NewJournal(db), lock, func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := lock.Release(releaseCtx); err != nil {
			log.Printf("db: release writer lock: %v", err)
		}
		_ = db.Close()
	}
}

// acquireWriter blocks until this process owns the writer lock or ctx ends.
func acquireWriter(ctx context.Context, db *sql.DB, cfg config.Config) (*repository.WriterLock, error) {
	for {
		lock, err := repository.AcquireWriterLock(ctx, db, cfg.WriterLockName, cfg.WriterLockWait)
		if err == nil {
			log.Printf("db: holding writer lock %q", cfg.WriterLockName)
			return lock, nil
		}
		if !errors.Is(err, repository.ErrWriterLockHeld) {
			return nil, err
		}
		log.Printf("db: another instance holds %q; waiting for writer lock", cfg.WriterLockName)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Second):
		}
	}
}

func newIdempotencyStore(cfg config.Config, rdb *redis.Client) idempotency.Store {
	if rdb == nil {
		return idempotency.NewMemory(cfg.Idempotency.Wait)
	}
	return idempotency.NewRedis(rdb, cfg.Idempotency.Prefix, cfg.Idempotency.Lease, cfg.Idempotency.Wait)
}

// settleLoop captures fees of started sessions on every tick.
func settleLoop(ctx context.Context, eng *engine.Engine, every time.Duration) error {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			if n := eng.SettleDue(ctx); n > 0 {
				log.Printf("settler: settled %d sessions", n)
			}
		}
	}
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func logLevel(s string) glog.Lvl {
	switch strings.ToLower(s) {
	case "debug":
		return glog.DEBUG
	case "warn":
		return glog.WARN
	case "error":
		return glog.ERROR
	case "off":
		return glog.OFF
	}
	return glog.INFO
}
