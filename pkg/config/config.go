package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

const DefaultFile = "config.env"

type DBConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Name         string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
}

type AppConfig struct {
	Env          string
	HTTPAddr     string
	LogDir       string
	WebhookToken string
	// AdminToken enables the admin routes when set.
	AdminToken string
}

func (c AppConfig) Development() bool { return c.Env == "" || c.Env == "development" }

type GameConfig struct {
	MinStakeCents     int64
	MaxStakeCents     int64
	HouseFeeBps       int64
	RunEventSecret    string
	RunEventMaxAge    time.Duration
	JoinTokenSecret   string
	JoinTokenTTL      time.Duration
	PixChargeTTL      time.Duration
	PixPayoutProvider string
}

type WorkerConfig struct {
	Enabled            bool
	ReconcileInterval  time.Duration
	PayoutInterval     time.Duration
	ExpirationInterval time.Duration
	BatchSize          int
	ReconcileLookback  time.Duration
	DepositMinWindow   time.Duration
	MaxItemFailures    int
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type NATSConfig struct {
	URL           string
	SubjectPrefix string
}

type Config struct {
	DB     DBConfig
	App    AppConfig
	Game   GameConfig
	Worker WorkerConfig
	Redis  RedisConfig
	NATS   NATSConfig
}

// Load reads path as a dotenv file when it exists, then the environment.
// Variables already set in the environment win over the file.
func Load(path string) (*Config, error) {
	if path != "" {
		if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", path, err)
		}
	}

	r := &reader{}
	cfg := &Config{
		DB: DBConfig{
			Host:         r.str("DB_HOST", "localhost"),
			Port:         r.int("DB_PORT", 5432),
			User:         r.str("DB_USER", "postgres"),
			Password:     r.str("DB_PASSWORD", ""),
			Name:         r.str("DB_NAME", "arenapay"),
			SSLMode:      r.str("DB_SSLMODE", "disable"),
			MaxOpenConns: r.int("DB_MAX_OPEN_CONNS", 20),
			MaxIdleConns: r.int("DB_MAX_IDLE_CONNS", 10),
		},
		App: AppConfig{
			Env:          r.str("APP_ENV", "development"),
			HTTPAddr:     r.str("HTTP_ADDR", ":8080"),
			LogDir:       r.str("LOG_DIR", "logs"),
			WebhookToken: r.str("PIX_WEBHOOK_TOKEN", ""),
			AdminToken:   r.str("ADMIN_TOKEN", ""),
		},
		Game: GameConfig{
			MinStakeCents:     r.int64("MIN_STAKE_CENTS", 100),
			MaxStakeCents:     r.int64("MAX_STAKE_CENTS", 100000),
			HouseFeeBps:       r.int64("HOUSE_FEE_BPS", 500),
			RunEventSecret:    r.str("RUN_EVENT_SECRET", ""),
			RunEventMaxAge:    r.seconds("RUN_EVENT_MAX_AGE_SECONDS", 300),
			JoinTokenSecret:   r.str("JOIN_TOKEN_SECRET", ""),
			JoinTokenTTL:      r.seconds("JOIN_TOKEN_TTL_SECONDS", 300),
			PixChargeTTL:      r.seconds("PIX_CHARGE_TTL_SECONDS", 3600),
			PixPayoutProvider: r.str("PIX_PAYOUT_PROVIDER", "sandbox"),
		},
		Worker: WorkerConfig{
			Enabled:            r.bool("WORKERS_ENABLED", true),
			ReconcileInterval:  r.seconds("RECONCILE_INTERVAL_SECONDS", 60),
			PayoutInterval:     r.seconds("PAYOUT_INTERVAL_SECONDS", 10),
			ExpirationInterval: r.seconds("DEPOSIT_EXPIRATION_INTERVAL_SECONDS", 60),
			BatchSize:          r.int("WORKER_BATCH_SIZE", 20),
			ReconcileLookback:  r.seconds("RECONCILE_LOOKBACK_SECONDS", 86400),
			DepositMinWindow:   r.seconds("DEPOSIT_MIN_WINDOW_SECONDS", 1800),
			MaxItemFailures:    r.int("WORKER_MAX_ITEM_FAILURES", 0),
		},
		Redis: RedisConfig{
			Addr:     r.str("REDIS_ADDR", ""),
			Password: r.str("REDIS_PASSWORD", ""),
			DB:       r.int("REDIS_DB", 0),
		},
		NATS: NATSConfig{
			URL:           r.str("NATS_URL", ""),
			SubjectPrefix: r.str("NATS_SUBJECT_PREFIX", "arenapay"),
		},
	}
	if r.err != nil {
		return nil, r.err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	var errs []error
	if c.Game.MinStakeCents <= 0 || c.Game.MaxStakeCents < c.Game.MinStakeCents {
		errs = append(errs, fmt.Errorf("stake bounds [%d, %d] are invalid", c.Game.MinStakeCents, c.Game.MaxStakeCents))
	}
	if c.Game.HouseFeeBps < 0 || c.Game.HouseFeeBps > 10000 {
		errs = append(errs, fmt.Errorf("HOUSE_FEE_BPS %d outside [0, 10000]", c.Game.HouseFeeBps))
	}
	if c.Worker.BatchSize <= 0 {
		errs = append(errs, fmt.Errorf("WORKER_BATCH_SIZE must be positive"))
	}
	if c.Worker.MaxItemFailures < 0 {
		errs = append(errs, fmt.Errorf("WORKER_MAX_ITEM_FAILURES must not be negative"))
	}
	if !c.App.Development() {
		if c.Game.RunEventSecret == "" {
			errs = append(errs, fmt.Errorf("RUN_EVENT_SECRET is required outside development"))
		}
		if c.Game.JoinTokenSecret == "" {
			errs = append(errs, fmt.Errorf("JOIN_TOKEN_SECRET is required outside development"))
		}
		if c.App.WebhookToken == "" {
			errs = append(errs, fmt.Errorf("PIX_WEBHOOK_TOKEN is required outside development"))
		}
	}
	return errors.Join(errs...)
}

// reader keeps the first parse error so Load can report it once.
type reader struct {
	err error
}

func (r *reader) str(key, def string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return def
}

func (r *reader) int(key string, def int) int {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		r.fail(key, err)
		return def
	}
	return n
}

func (r *reader) int64(key string, def int64) int64 {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		r.fail(key, err)
		return def
	}
	return n
}

func (r *reader) bool(key string, def bool) bool {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		r.fail(key, err)
		return def
	}
	return b
}

func (r *reader) seconds(key string, def int64) time.Duration {
	return time.Duration(r.int64(key, def)) * time.Second
}

func (r *reader) fail(key string, err error) {
	if r.err == nil {
		r.err = fmt.Errorf("invalid %s: %w", key, err)
	}
}
