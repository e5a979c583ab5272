package config // package config loads application configuration from environment variables

import (
	"log"     // log is used to report configuration errors and halt execution
	"os"      // os provides access to environment variables
	"strconv" // strconv converts strings to other types
	"time"

	"github.com/joho/godotenv"
)

// Store backends.
const (
	StoreMySQL  = "mysql"
	StoreMemory = "memory"
)

// Config holds all runtime configuration values.  Each field corresponds to
// an environment variable.
type Config struct {
	Env       string // application environment (e.g. "dev", "production")
	Port      string // HTTP port to listen on
	JWTSecret string // secret used to verify (and, for devtoken, sign) JWTs
	LogLevel  string // debug, info, warn, error

	Store  string // mysql or memory
	DBUser string // database username
	DBPass string // database password (optional)
	DBHost string // database host address
	DBPort string // database port number
	DBName string // database name

	WriterLockName  string        // MySQL named lock held by the serving instance
	WriterLockWait  time.Duration // wait per GET_LOCK attempt while on standby
	WriterLockCheck time.Duration // how often the held lock is verified

	RabbitMQURL    string // empty disables the cross-instance event relay
	EventsExchange string // fanout exchange for relayed signals

	Engine      EngineConfig
	Idempotency IdempotencyConfig
}

// EngineConfig tunes the registration engine, the request tracker and
// the settler.
type EngineConfig struct {
	LockTimeout           time.Duration // bounded wait for session and wallet locks
	CancelLockWindow      time.Duration // cancellations refused this long before start
	SameDayPenaltyPercent int           // share kept on same-day cancellations
	Workers               int           // admission workers
	QueueSize             int           // queued requests waiting for a worker
	EnqueueTimeout        time.Duration // how long a submission waits for queue space
	SettleInterval        time.Duration // how often started sessions are settled; 0 disables
}

// IdempotencyConfig tunes the idempotency store.
type IdempotencyConfig struct {
	Prefix string        // Redis key prefix
	Lease  time.Duration // how long a crashed execution keeps its key pending
	Wait   time.Duration // how long a concurrent retry waits for the first execution
}

// Load reads configuration values from environment variables and returns a
// Config.  Outside production a .env file in the working directory is read
// first.  Required variables are enforced by must() and missing values
// cause the program to exit with a fatal log message.
func Load() Config {
	if os.Getenv("APP_ENV") != "production" {
		if err := godotenv.Load(); err == nil {
			log.Printf("config: loaded .env")
		}
	}
	cfg := Config{
		Env:            must("APP_ENV"),    // environment (dev/test/production)
		Port:           must("APP_PORT"),   // port to bind the HTTP server
		JWTSecret:      must("JWT_SECRET"), // secret used for verifying JWTs
		LogLevel:       envStr("LOG_LEVEL", "info"),
		Store:          envStr("STORE", StoreMySQL),
		RabbitMQURL:    os.Getenv("RABBITMQ_URL"),
		EventsExchange: envStr("EVENTS_EXCHANGE", "badminton.events"),
		Engine: EngineConfig{
			LockTimeout:           envDur("LOCK_TIMEOUT", 3*time.Second),
			CancelLockWindow:      envDur("CANCEL_LOCK_WINDOW", time.Hour),
			SameDayPenaltyPercent: envInt("SAME_DAY_PENALTY_PERCENT", 50),
			Workers:               4,
			QueueSize:             envInt("QUEUE_SIZE", 1024),
			EnqueueTimeout:        envDur("ENQUEUE_TIMEOUT", 2*time.Second),
			SettleInterval:        envDur("SETTLE_INTERVAL", time.Minute),
		},
		Idempotency: IdempotencyConfig{
			Prefix: envStr("IDEMPOTENCY_PREFIX", "idem"),
			Lease:  envDur("IDEMPOTENCY_LEASE", 30*time.Second),
			Wait:   envDur("IDEMPOTENCY_WAIT", 5*time.Second),
		},
	}
	switch cfg.Store {
	case StoreMySQL:
		cfg.DBUser = must("DB_USER")      // database user
		cfg.DBPass = os.Getenv("DB_PASS") // database password (empty allowed)
		cfg.DBHost = must("DB_HOST")      // database host
		cfg.DBPort = must("DB_PORT")      // database port
		cfg.DBName = must("DB_NAME")      // database name
		cfg.WriterLockName = envStr("WRITER_LOCK_NAME", "badminton-sessions.writer")
		cfg.WriterLockWait = envDur("WRITER_LOCK_WAIT", 5*time.Second)
		cfg.WriterLockCheck = envDur("WRITER_LOCK_CHECK", 5*time.Second)
		if cfg.WriterLockCheck <= 0 {
			cfg.WriterLockCheck = 5 * time.Second
		}
	case StoreMemory:
	default:
		log.Fatalf("invalid STORE %q: want %s or %s", cfg.Store, StoreMySQL, StoreMemory)
	}
	if v := os.Getenv("WORKERS"); v != "" {
		cfg.Engine.Workers = mustInt("WORKERS")
	}
	return cfg
}

// Production reports whether the service runs in production.
func (c Config) Production() bool { return c.Env == "production" }

// must retrieves the value of a required environment variable.  If the
// variable is unset or empty, the application logs a fatal error and exits.
func must(key string) string {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		log.Fatalf("missing required env var: %s", key)
	}
	return v
}

// mustInt is like must() but converts the retrieved string into an integer.
// If conversion fails, the application logs a fatal error and exits.
func mustInt(key string) int {
	s := must(key)
	n, err := strconv.Atoi(s)
	if err != nil {
		log.Fatalf("invalid int for %s: %q", key, s)
	}
	return n
}
