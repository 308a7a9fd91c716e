package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// 账本后端
const (
	BackendEVM  = "evm"
	BackendNATS = "nats"

	ReaderPostgres = "postgres"
)

type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Ledger    LedgerConfig    `mapstructure:"ledger"`
	Reconcile ReconcileConfig `mapstructure:"reconcile"`
	Decoder   DecoderConfig   `mapstructure:"decoder"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	NATS      NATSConfig      `mapstructure:"nats"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
}

type AppConfig struct {
	Name     string `mapstructure:"name"`
	LogLevel string `mapstructure:"log_level"`
	Account  string `mapstructure:"account"` // 本地钱包地址
}

type LedgerConfig struct {
	Backend        string        `mapstructure:"backend"` // evm / nats
	Reader         string        `mapstructure:"reader"`  // 为空时读写同一后端；postgres 表示从索引库读取
	RPCURL         string        `mapstructure:"rpc_url"`
	Contract       string        `mapstructure:"contract"`
	ReceiptTimeout time.Duration `mapstructure:"receipt_timeout"`
	ReceiptPoll    time.Duration `mapstructure:"receipt_poll"`
}

type ReconcileConfig struct {
	LoadTimeout  time.Duration `mapstructure:"load_timeout"`
	StartGrace   time.Duration `mapstructure:"start_grace"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	ProbeLedger  bool          `mapstructure:"probe_ledger"`
}

type DecoderConfig struct {
	LayoutsFile string `mapstructure:"layouts_file"`
}

type HTTPConfig struct {
	Addr string `mapstructure:"addr"`
	Mode string `mapstructure:"mode"`
}

type NATSConfig struct {
	URL            string        `mapstructure:"url"`
	MaxReconnects  int           `mapstructure:"max_reconnects"`
	ReconnectWait  time.Duration `mapstructure:"reconnect_wait"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	SubjectPrefix  string        `mapstructure:"subject_prefix"`
}

type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Name            string        `mapstructure:"name"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// DSN 生成 PostgreSQL 连接串
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		d.User, d.Password, d.Host, d.Port, d.Name)
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`
}

// Enabled 是否配置了 Redis
func (r RedisConfig) Enabled() bool {
	return r.Host != ""
}

// Addr Redis 地址
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "cardgame-client")
	v.SetDefault("app.log_level", "info")
	v.SetDefault("app.account", "")

	v.SetDefault("ledger.backend", BackendEVM)
	v.SetDefault("ledger.reader", "")
	v.SetDefault("ledger.rpc_url", "http://localhost:8545")
	v.SetDefault("ledger.contract", "")
	v.SetDefault("ledger.receipt_timeout", 30*time.Second)
	v.SetDefault("ledger.receipt_poll", 500*time.Millisecond)

	v.SetDefault("reconcile.load_timeout", 5000*time.Millisecond)
	v.SetDefault("reconcile.start_grace", 2000*time.Millisecond)
	v.SetDefault("reconcile.poll_interval", 2000*time.Millisecond)
	v.SetDefault("reconcile.probe_ledger", true)

	v.SetDefault("http.addr", "127.0.0.1:8088")
	v.SetDefault("http.mode", "release")

	v.SetDefault("decoder.layouts_file", "")

	v.SetDefault("nats.url", "")
	v.SetDefault("nats.max_reconnects", 10)
	v.SetDefault("nats.reconnect_wait", 2*time.Second)
	v.SetDefault("nats.request_timeout", 5*time.Second)
	v.SetDefault("nats.subject_prefix", "cardgame.ledger")

	v.SetDefault("database.host", "")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "")
	v.SetDefault("database.user", "")
	v.SetDefault("database.password", "")
	v.SetDefault("database.max_open_conns", 5)

	v.SetDefault("redis.host", "")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.pool_size", 5)
}

// Load 从指定路径加载配置，环境变量 CARDCLIENT_* 覆盖文件中的值
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("CARDCLIENT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate 校验配置组合
func (c *Config) Validate() error {
	switch c.Ledger.Backend {
	case BackendEVM:
		if c.Ledger.Contract == "" {
			return fmt.Errorf("ledger.contract is required for the evm backend")
		}
	case BackendNATS:
		if c.NATS.URL == "" {
			return fmt.Errorf("nats.url is required for the nats backend")
		}
	default:
		return fmt.Errorf("unknown ledger.backend %q", c.Ledger.Backend)
	}

	if c.Ledger.Reader != "" && c.Ledger.Reader != ReaderPostgres {
		return fmt.Errorf("unknown ledger.reader %q", c.Ledger.Reader)
	}
	if c.Ledger.Reader == ReaderPostgres && c.Database.Host == "" {
		return fmt.Errorf("database.host is required when ledger.reader is postgres")
	}
	return nil
}
