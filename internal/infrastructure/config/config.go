package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	Environment string           `mapstructure:"environment"`
	LogLevel    string           `mapstructure:"log_level"`
	Server      ServerConfig     `mapstructure:"server"`
	Database    DatabaseConfig   `mapstructure:"database"`
	Redis       RedisConfig      `mapstructure:"redis"`
	Chains      ChainsConfig     `mapstructure:"chains"`
	Oracle      OracleConfig     `mapstructure:"oracle"`
	Vault       VaultConfig      `mapstructure:"vault"`
	Sweep       SweepConfig      `mapstructure:"sweep"`
	Withdrawal  WithdrawalConfig `mapstructure:"withdrawal"`
	Tracing     TracingConfig    `mapstructure:"tracing"`
}

type ServerConfig struct {
	Port            int      `mapstructure:"port"`
	ReadTimeout     int      `mapstructure:"read_timeout"`
	WriteTimeout    int      `mapstructure:"write_timeout"`
	AllowedOrigins  []string `mapstructure:"allowed_origins"`
	RateLimitPerMin int      `mapstructure:"rate_limit_per_min"`
}

type DatabaseConfig struct {
	URL             string `mapstructure:"url"`
	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port"`
	Name            string `mapstructure:"name"`
	User            string `mapstructure:"user"`
	Password        string `mapstructure:"password"`
	SSLMode         string `mapstructure:"ssl_mode"`
	MaxOpenConns    int    `mapstructure:"max_open_conns"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns"`
	ConnMaxLifetime int    `mapstructure:"conn_max_lifetime"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// ChainsConfig holds per-chain node and pool settings
type ChainsConfig struct {
	Solana   ChainConfig `mapstructure:"solana"`
	Ethereum ChainConfig `mapstructure:"ethereum"`
	Tron     ChainConfig `mapstructure:"tron"`
}

// ChainConfig configures one chain adapter and its custody pool
type ChainConfig struct {
	Enabled bool     `mapstructure:"enabled"`
	RPCURLs []string `mapstructure:"rpc_urls"`
	Network string   `mapstructure:"network"`

	// PollInterval is the poller cadence in seconds; a tunable, not a
	// correctness property
	PollInterval int `mapstructure:"poll_interval"`
	ScanLimit    int `mapstructure:"scan_limit"`

	// Confirmations is the depth at which a deposit is recorded confirmed
	Confirmations int `mapstructure:"confirmations"`

	// ConfirmationTimeout bounds WaitForConfirmation, in seconds
	ConfirmationTimeout int `mapstructure:"confirmation_timeout"`

	// Main pool custody account
	PoolAddress      string `mapstructure:"pool_address"`
	PoolEncryptedKey string `mapstructure:"pool_encrypted_key"`
}

// ConfirmationWait returns the WaitForConfirmation bound as a duration
func (c ChainConfig) ConfirmationWait() time.Duration {
	if c.ConfirmationTimeout <= 0 {
		return 90 * time.Second
	}
	return time.Duration(c.ConfirmationTimeout) * time.Second
}

// ByChain returns the config for a chain name
func (c ChainsConfig) ByChain(chain string) (ChainConfig, bool) {
	switch chain {
	case "solana":
		return c.Solana, true
	case "ethereum":
		return c.Ethereum, true
	case "tron":
		return c.Tron, true
	}
	return ChainConfig{}, false
}

type OracleConfig struct {
	BaseURL    string `mapstructure:"base_url"`
	APIKey     string `mapstructure:"api_key"`
	Timeout    int    `mapstructure:"timeout"`
	MaxRetries int    `mapstructure:"max_retries"`
}

type VaultConfig struct {
	MasterKey string `mapstructure:"master_key"`
}

// SweepConfig drives consolidation from deposit addresses into the pool
type SweepConfig struct {
	Enabled bool `mapstructure:"enabled"`

	// CronSpec schedules the balance-check cycle
	CronSpec string `mapstructure:"cron_spec"`

	// Thresholds maps currency symbol to the minimum balance that
	// triggers a sweep, as a decimal string
	Thresholds map[string]string `mapstructure:"thresholds"`

	// GasTopUp maps chain name to the fixed native top-up sent to a
	// deposit address that cannot pay sweep fees, as a decimal string
	GasTopUp map[string]string `mapstructure:"gas_top_up"`

	// NativeFeeBuffer maps chain name to the flat amount left behind on
	// native-asset sweeps to cover the transfer fee, as a decimal string
	NativeFeeBuffer map[string]string `mapstructure:"native_fee_buffer"`
}

// WithdrawalConfig carries fee and solvency policy
type WithdrawalConfig struct {
	// Fees maps currency symbol to the flat withdrawal fee retained by
	// the pool, as a decimal string
	Fees map[string]string `mapstructure:"fees"`

	// MinimumReserves maps currency symbol to the balance floor the pool
	// must retain after any withdrawal, as a decimal string
	MinimumReserves map[string]string `mapstructure:"minimum_reserves"`
}

type TracingConfig struct {
	Enabled      bool    `mapstructure:"enabled"`
	CollectorURL string  `mapstructure:"collector_url"`
	SampleRate   float64 `mapstructure:"sample_rate"`
}

// Load reads configuration from file and environment
func Load() (*Config, error) {
	// .env is optional; real deployments use environment variables
	_ = godotenv.Load()

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	viper.SetEnvPrefix("CUSTODY")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Build database URL if not provided
	if config.Database.URL == "" {
		config.Database.URL = fmt.Sprintf(
			"postgres://%s:%s@%s:%d/%s?sslmode=%s",
			config.Database.User,
			config.Database.Password,
			config.Database.Host,
			config.Database.Port,
			config.Database.Name,
			config.Database.SSLMode,
		)
	}

	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func setDefaults() {
	viper.SetDefault("environment", "development")
	viper.SetDefault("log_level", "info")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.read_timeout", 30)
	viper.SetDefault("server.write_timeout", 30)
	viper.SetDefault("server.allowed_origins", []string{"*"})
	viper.SetDefault("server.rate_limit_per_min", 300)

	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.name", "custody_service")
	viper.SetDefault("database.user", "postgres")
	viper.SetDefault("database.ssl_mode", "disable")
	viper.SetDefault("database.max_open_conns", 25)
	viper.SetDefault("database.max_idle_conns", 5)
	viper.SetDefault("database.conn_max_lifetime", 300)

	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.db", 0)

	// Poll cadences follow each chain's block pace
	viper.SetDefault("chains.solana.enabled", true)
	viper.SetDefault("chains.solana.network", "mainnet-beta")
	viper.SetDefault("chains.solana.poll_interval", 3)
	viper.SetDefault("chains.solana.scan_limit", 20)
	viper.SetDefault("chains.solana.confirmations", 1)
	viper.SetDefault("chains.solana.confirmation_timeout", 90)

	viper.SetDefault("chains.ethereum.enabled", true)
	viper.SetDefault("chains.ethereum.network", "mainnet")
	viper.SetDefault("chains.ethereum.poll_interval", 10)
	viper.SetDefault("chains.ethereum.scan_limit", 50)
	viper.SetDefault("chains.ethereum.confirmations", 1)
	viper.SetDefault("chains.ethereum.confirmation_timeout", 180)

	viper.SetDefault("chains.tron.enabled", true)
	viper.SetDefault("chains.tron.network", "mainnet")
	viper.SetDefault("chains.tron.poll_interval", 5)
	viper.SetDefault("chains.tron.scan_limit", 30)
	viper.SetDefault("chains.tron.confirmations", 1)
	viper.SetDefault("chains.tron.confirmation_timeout", 120)

	viper.SetDefault("oracle.timeout", 10)
	viper.SetDefault("oracle.max_retries", 3)

	viper.SetDefault("sweep.enabled", true)
	viper.SetDefault("sweep.cron_spec", "*/2 * * * *")
	viper.SetDefault("sweep.thresholds", map[string]string{
		"USDT": "10",
		"USDC": "10",
		"TRX":  "50",
	})
	viper.SetDefault("sweep.gas_top_up", map[string]string{
		"tron":   "30",
		"solana": "0.003",
	})
	viper.SetDefault("sweep.native_fee_buffer", map[string]string{
		"tron":   "1.1",
		"solana": "0.000005",
	})

	viper.SetDefault("withdrawal.fees", map[string]string{
		"SOL":  "0.001",
		"ETH":  "0.0008",
		"TRX":  "1",
		"USDC": "1",
		"USDT": "1",
	})
	viper.SetDefault("withdrawal.minimum_reserves", map[string]string{
		"SOL":  "0.05",
		"ETH":  "0.01",
		"TRX":  "100",
		"USDC": "1",
		"USDT": "1",
	})

	viper.SetDefault("tracing.enabled", false)
	viper.SetDefault("tracing.collector_url", "localhost:4317")
	viper.SetDefault("tracing.sample_rate", 1.0)
}

func validate(cfg *Config) error {
	if cfg.Environment == "production" {
		if cfg.Vault.MasterKey == "" {
			return fmt.Errorf("vault.master_key is required in production")
		}
		for _, chain := range []struct {
			name string
			cc   ChainConfig
		}{
			{"solana", cfg.Chains.Solana},
			{"ethereum", cfg.Chains.Ethereum},
			{"tron", cfg.Chains.Tron},
		} {
			if !chain.cc.Enabled {
				continue
			}
			if len(chain.cc.RPCURLs) == 0 {
				return fmt.Errorf("chains.%s.rpc_urls is required", chain.name)
			}
			if chain.cc.PoolAddress == "" {
				return fmt.Errorf("chains.%s.pool_address is required", chain.name)
			}
		}
	}

	if cfg.Database.URL == "" && os.Getenv("DATABASE_URL") == "" {
		return fmt.Errorf("database configuration is required")
	}

	return nil
}
