package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	App         AppConfig         `mapstructure:"app"`
	Log         LogConfig         `mapstructure:"log"`
	Redis       RedisConfig       `mapstructure:"redis"`
	DB          DBConfig          `mapstructure:"db"`
	Cron        CronConfig        `mapstructure:"cron"`
	Supervisor  SupervisorConfig  `mapstructure:"supervisor"`
	Worker      WorkerConfig      `mapstructure:"worker"`
	Queue       QueueConfig       `mapstructure:"queue"`
	Providers   ProvidersConfig   `mapstructure:"providers"`
	Credentials CredentialsConfig `mapstructure:"credentials"`
	Usage       UsageConfig       `mapstructure:"usage"`
	Alerts      AlertsConfig      `mapstructure:"alerts"`
	Execution   ExecutionConfig   `mapstructure:"execution"`
	Auth        AuthConfig        `mapstructure:"auth"`
}

type AppConfig struct {
	Env string `mapstructure:"env"`
}

type LogConfig struct {
	Level             string `mapstructure:"level"`
	Encoding          string `mapstructure:"encoding"`
	Development       bool   `mapstructure:"development"`
	Sampling          bool   `mapstructure:"sampling"`
	DisableCaller     bool   `mapstructure:"disable_caller"`
	DisableStacktrace bool   `mapstructure:"disable_stacktrace"`
}

type RedisConfig struct {
	// URL is a redis:// connection string, e.g. redis://:pass@localhost:6379/0.
	URL string `mapstructure:"url"`
}

type DBConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	Timezone        string        `mapstructure:"timezone"`
	// AuditRetention bounds trade_records; 0 keeps every row.
	AuditRetention time.Duration `mapstructure:"audit_retention"`
}

type CronConfig struct {
	Enabled         bool   `mapstructure:"enabled"`
	UsageReset      string `mapstructure:"usage_reset"`
	QueuePrune      string `mapstructure:"queue_prune"`
	AssignmentRenew string `mapstructure:"assignment_renew"`
	AuditPrune      string `mapstructure:"audit_prune"`
}

type SupervisorConfig struct {
	Workers            int           `mapstructure:"workers"`
	HTTPAddr           string        `mapstructure:"http_addr"`
	WorkerBinary       string        `mapstructure:"worker_binary"`
	MonitorInterval    time.Duration `mapstructure:"monitor_interval"`
	StartupGrace       time.Duration `mapstructure:"startup_grace"`
	RestartBackoffBase time.Duration `mapstructure:"restart_backoff_base"`
	RestartBackoffMax  time.Duration `mapstructure:"restart_backoff_max"`
	TerminateTimeout   time.Duration `mapstructure:"terminate_timeout"`
	AssignmentTTL      time.Duration `mapstructure:"assignment_ttl"`
	// UserSource is "config" (UserIDs below) or "db" (active rows of the users table).
	UserSource string   `mapstructure:"user_source"`
	UserIDs    []string `mapstructure:"user_ids"`
}

type WorkerConfig struct {
	ScanInterval      time.Duration `mapstructure:"scan_interval"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	HeartbeatTTL      time.Duration `mapstructure:"heartbeat_ttl"`
	HeartbeatRetry    time.Duration `mapstructure:"heartbeat_retry"`
	// StopTimeout bounds runtime shutdown before the trade queue drains.
	StopTimeout time.Duration `mapstructure:"stop_timeout"`
	HTTPHost          string        `mapstructure:"http_host"`
	HTTPBasePort      int           `mapstructure:"http_base_port"`
}

type QueueConfig struct {
	PopWait      time.Duration `mapstructure:"pop_wait"`
	StopTimeout  time.Duration `mapstructure:"stop_timeout"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	Retention    time.Duration `mapstructure:"retention"`
}

type ProvidersConfig struct {
	Name      string           `mapstructure:"name"`
	Timeout   time.Duration    `mapstructure:"timeout"`
	Endpoints []EndpointConfig `mapstructure:"endpoints"`
}

type EndpointConfig struct {
	Name        string `mapstructure:"name"`
	URL         string `mapstructure:"url"`
	Priority    int    `mapstructure:"priority"`
	MaxFailures int    `mapstructure:"max_failures"`
	DailyLimit  int64  `mapstructure:"daily_limit"`
}

type CredentialsConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	URLs        []string      `mapstructure:"urls"`
	DailyLimit  int64         `mapstructure:"daily_limit"`
	MaxFailures int           `mapstructure:"max_failures"`
	Cooldown    time.Duration `mapstructure:"cooldown"`
	// Assignments pins user ids to slot indexes; unlisted users are spread round-robin.
	Assignments map[string]int `mapstructure:"assignments"`
}

type UsageConfig struct {
	WarningRatio  float64 `mapstructure:"warning_ratio"`
	CriticalRatio float64 `mapstructure:"critical_ratio"`
}

type AlertsConfig struct {
	Project          string `mapstructure:"project"`
	WebhookURL       string `mapstructure:"webhook_url"`
	TelegramBotToken string `mapstructure:"telegram_bot_token"`
	TelegramChatID   string `mapstructure:"telegram_chat_id"`
}

// AuthConfig guards the mutating HTTP routes with HS256 bearer tokens.
// An empty secret leaves those routes refusing every request.
type AuthConfig struct {
	JWTSecret string        `mapstructure:"jwt_secret"`
	TokenTTL  time.Duration `mapstructure:"token_ttl"`
	Issuer    string        `mapstructure:"issuer"`
}

type ExecutionConfig struct {
	SendMethod       string        `mapstructure:"send_method"`
	PriceMethod      string        `mapstructure:"price_method"`
	SignMethod       string        `mapstructure:"sign_method"`
	SignerURL        string        `mapstructure:"signer_url"`
	LockTTL          time.Duration `mapstructure:"lock_ttl"`
	PriceCacheTTL    time.Duration `mapstructure:"price_cache_ttl"`
	StrategyCacheTTL time.Duration `mapstructure:"strategy_cache_ttl"`
	Strategies       []string      `mapstructure:"strategies"`
	// Wallets maps user id to funding address; the users table adds to it when a DB is configured.
	Wallets map[string]string `mapstructure:"wallets"`
}

func Load(path string, envOnly bool) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("HARVEST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.AutomaticEnv()
	setDefaults(v)

	if !envOnly {
		if err := v.ReadInConfig(); err != nil {
			return Config{}, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects a terminate timeout that would kill a worker while it is
// still allowed to drain its in-flight trade.
func (c Config) Validate() error {
	need := c.Worker.StopTimeout + c.Queue.StopTimeout
	if c.Supervisor.TerminateTimeout < need {
		return fmt.Errorf("supervisor.terminate_timeout %s must be at least worker.stop_timeout + queue.stop_timeout (%s)",
			c.Supervisor.TerminateTimeout, need)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.env", "dev")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.encoding", "console")
	v.SetDefault("log.development", true)
	v.SetDefault("log.sampling", false)
	v.SetDefault("log.disable_caller", false)
	v.SetDefault("log.disable_stacktrace", false)

	v.SetDefault("redis.url", "redis://localhost:6379/0")

	v.SetDefault("db.dsn", "")
	v.SetDefault("db.max_open_conns", 10)
	v.SetDefault("db.max_idle_conns", 2)
	v.SetDefault("db.conn_max_lifetime", "30m")
	v.SetDefault("db.conn_max_idle_time", "5m")
	v.SetDefault("db.timezone", "UTC")
	v.SetDefault("db.audit_retention", "720h")

	v.SetDefault("cron.enabled", true)
	v.SetDefault("cron.usage_reset", "0 0 0 * * *")
	v.SetDefault("cron.queue_prune", "@every 10m")
	v.SetDefault("cron.assignment_renew", "@every 12h")
	v.SetDefault("cron.audit_prune", "0 30 3 * * *")

	v.SetDefault("supervisor.workers", 3)
	v.SetDefault("supervisor.http_addr", ":8090")
	v.SetDefault("supervisor.worker_binary", "./bin/worker")
	v.SetDefault("supervisor.monitor_interval", "30s")
	v.SetDefault("supervisor.startup_grace", "60s")
	v.SetDefault("supervisor.restart_backoff_base", "0s")
	v.SetDefault("supervisor.restart_backoff_max", "5m")
	v.SetDefault("supervisor.terminate_timeout", "40s")
	v.SetDefault("supervisor.assignment_ttl", "24h")
	v.SetDefault("supervisor.user_source", "config")

	v.SetDefault("worker.scan_interval", "300s")
	v.SetDefault("worker.heartbeat_interval", "30s")
	v.SetDefault("worker.heartbeat_ttl", "60s")
	v.SetDefault("worker.heartbeat_retry", "5s")
	v.SetDefault("worker.stop_timeout", "5s")
	v.SetDefault("worker.http_host", "127.0.0.1")
	v.SetDefault("worker.http_base_port", 8100)

	v.SetDefault("queue.pop_wait", "1s")
	v.SetDefault("queue.stop_timeout", "30s")
	v.SetDefault("queue.poll_interval", "500ms")
	v.SetDefault("queue.retention", "1h")

	v.SetDefault("providers.name", "rpc")
	v.SetDefault("providers.timeout", "15s")

	v.SetDefault("credentials.enabled", false)
	v.SetDefault("credentials.daily_limit", 100000)
	v.SetDefault("credentials.max_failures", 3)
	v.SetDefault("credentials.cooldown", "60s")

	v.SetDefault("usage.warning_ratio", 0.80)
	v.SetDefault("usage.critical_ratio", 0.95)

	v.SetDefault("alerts.project", "harvest")

	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.token_ttl", "24h")
	v.SetDefault("auth.issuer", "harvest")

	v.SetDefault("execution.send_method", "sendTransaction")
	v.SetDefault("execution.price_method", "getTokenPrice")
	v.SetDefault("execution.lock_ttl", "10s")
	v.SetDefault("execution.sign_method", "signTransaction")
	v.SetDefault("execution.price_cache_ttl", "60s")
	v.SetDefault("execution.strategy_cache_ttl", "30s")
}
