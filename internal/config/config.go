package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type GlobalFlags struct {
	ConfigPath  string
	EnvFile     string
	LogLevel    string
	MetricsAddr string
	Timeout     string
	Retries     int
}

// VenueSettings configures one venue adapter. Pooled venues need the
// intermediate assets for route fallback; curve venues do not.
type VenueSettings struct {
	Name    string
	BaseURL string
}

type Settings struct {
	TelegramToken string
	WalletSecret  string

	RPCURL string

	RegistryURL             string
	RegistryRefreshInterval time.Duration

	TradeAsset  string
	TradeSymbol string
	StableAsset string
	BaseAsset   string

	PooledVenues []VenueSettings
	CurveVenues  []VenueSettings

	ServiceFeeBps      int64
	DefaultSlippageBps int64
	DustThreshold      float64

	StorePath     string
	StoreLockPath string

	SessionIdleTTL       time.Duration
	SessionSweepInterval time.Duration

	Timeout     time.Duration
	Retries     int
	LogLevel    string
	MetricsAddr string
}

type venueFile struct {
	Name    string `yaml:"name"`
	BaseURL string `yaml:"base_url"`
}

type fileConfig struct {
	Telegram struct {
		Token    string `yaml:"token"`
		TokenEnv string `yaml:"token_env"`
	} `yaml:"telegram"`
	Wallet struct {
		Secret    string `yaml:"secret"`
		SecretEnv string `yaml:"secret_env"`
	} `yaml:"wallet"`
	Chain struct {
		RPCURL string `yaml:"rpc_url"`
	} `yaml:"chain"`
	Registry struct {
		URL             string `yaml:"url"`
		RefreshInterval string `yaml:"refresh_interval"`
	} `yaml:"registry"`
	Assets struct {
		Trade       string `yaml:"trade"`
		TradeSymbol string `yaml:"trade_symbol"`
		Stable      string `yaml:"stable"`
		Base        string `yaml:"base"`
	} `yaml:"assets"`
	Venues struct {
		Pooled []venueFile `yaml:"pooled"`
		Curve  []venueFile `yaml:"curve"`
	} `yaml:"venues"`
	Trading struct {
		ServiceFeeBps      *int64   `yaml:"service_fee_bps"`
		DefaultSlippageBps *int64   `yaml:"default_slippage_bps"`
		DustThreshold      *float64 `yaml:"dust_threshold"`
	} `yaml:"trading"`
	Store struct {
		Path     string `yaml:"path"`
		LockPath string `yaml:"lock_path"`
	} `yaml:"store"`
	Sessions struct {
		IdleTTL       string `yaml:"idle_ttl"`
		SweepInterval string `yaml:"sweep_interval"`
	} `yaml:"sessions"`
	Timeout     string `yaml:"timeout"`
	Retries     *int   `yaml:"retries"`
	LogLevel    string `yaml:"log_level"`
	MetricsAddr string `yaml:"metrics_addr"`
}

// Load resolves settings in layers: built-in defaults, then the yaml file,
// then environment variables, then command-line flags.
func Load(flags GlobalFlags) (Settings, error) {
	loadEnvFile(flags.EnvFile)

	settings, err := defaultSettings()
	if err != nil {
		return Settings{}, err
	}

	cfgPath, err := resolveConfigPath(flags.ConfigPath)
	if err != nil {
		return Settings{}, err
	}
	if err := applyFileConfig(cfgPath, &settings); err != nil {
		return Settings{}, err
	}

	applyEnv(&settings)

	if err := applyFlags(flags, &settings); err != nil {
		return Settings{}, err
	}

	return settings, validate(settings)
}

func loadEnvFile(path string) {
	if path != "" {
		_ = godotenv.Load(path)
		return
	}
	if _, err := os.Stat(".env"); err == nil {
		_ = godotenv.Load()
	}
}

func defaultSettings() (Settings, error) {
	storePath, lockPath, err := defaultStorePaths()
	if err != nil {
		return Settings{}, err
	}
	return Settings{
		RegistryRefreshInterval: 30 * time.Minute,
		TradeSymbol:             "ETH",
		ServiceFeeBps:           100,
		DefaultSlippageBps:      100,
		DustThreshold:           1e-9,
		StorePath:               storePath,
		StoreLockPath:           lockPath,
		SessionIdleTTL:          30 * time.Minute,
		SessionSweepInterval:    5 * time.Minute,
		Timeout:                 10 * time.Second,
		Retries:                 2,
		LogLevel:                "info",
	}, nil
}

func resolveConfigPath(input string) (string, error) {
	if strings.TrimSpace(input) != "" {
		return input, nil
	}
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, "dexbot", "config.yaml"), nil
}

func defaultStorePaths() (string, string, error) {
	base := os.Getenv("XDG_DATA_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", "", err
		}
		base = filepath.Join(home, ".local", "share")
	}
	dir := filepath.Join(base, "dexbot")
	return filepath.Join(dir, "wallets.db"), filepath.Join(dir, "wallets.lock"), nil
}

func applyFileConfig(path string, settings *Settings) error {
	buf, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}

	var cfg fileConfig
	if err := yaml.Unmarshal(buf, &cfg); err != nil {
		return fmt.Errorf("parse config yaml: %w", err)
	}

	if cfg.Telegram.Token != "" {
		settings.TelegramToken = cfg.Telegram.Token
	}
	if cfg.Telegram.TokenEnv != "" {
		settings.TelegramToken = os.Getenv(cfg.Telegram.TokenEnv)
	}
	if cfg.Wallet.Secret != "" {
		settings.WalletSecret = cfg.Wallet.Secret
	}
	if cfg.Wallet.SecretEnv != "" {
		settings.WalletSecret = os.Getenv(cfg.Wallet.SecretEnv)
	}
	if cfg.Chain.RPCURL != "" {
		settings.RPCURL = cfg.Chain.RPCURL
	}
	if cfg.Registry.URL != "" {
		settings.RegistryURL = cfg.Registry.URL
	}
	if cfg.Registry.RefreshInterval != "" {
		d, err := time.ParseDuration(cfg.Registry.RefreshInterval)
		if err != nil {
			return fmt.Errorf("config registry.refresh_interval: %w", err)
		}
		settings.RegistryRefreshInterval = d
	}
	if cfg.Assets.Trade != "" {
		settings.TradeAsset = cfg.Assets.Trade
	}
	if cfg.Assets.TradeSymbol != "" {
		settings.TradeSymbol = cfg.Assets.TradeSymbol
	}
	if cfg.Assets.Stable != "" {
		settings.StableAsset = cfg.Assets.Stable
	}
	if cfg.Assets.Base != "" {
		settings.BaseAsset = cfg.Assets.Base
	}
	for _, v := range cfg.Venues.Pooled {
		settings.PooledVenues = append(settings.PooledVenues, VenueSettings(v))
	}
	for _, v := range cfg.Venues.Curve {
		settings.CurveVenues = append(settings.CurveVenues, VenueSettings(v))
	}
	if cfg.Trading.ServiceFeeBps != nil {
		settings.ServiceFeeBps = *cfg.Trading.ServiceFeeBps
	}
	if cfg.Trading.DefaultSlippageBps != nil {
		settings.DefaultSlippageBps = *cfg.Trading.DefaultSlippageBps
	}
	if cfg.Trading.DustThreshold != nil {
		settings.DustThreshold = *cfg.Trading.DustThreshold
	}
	if cfg.Store.Path != "" {
		settings.StorePath = cfg.Store.Path
	}
	if cfg.Store.LockPath != "" {
		settings.StoreLockPath = cfg.Store.LockPath
	}
	if cfg.Sessions.IdleTTL != "" {
		d, err := time.ParseDuration(cfg.Sessions.IdleTTL)
		if err != nil {
			return fmt.Errorf("config sessions.idle_ttl: %w", err)
		}
		settings.SessionIdleTTL = d
	}
	if cfg.Sessions.SweepInterval != "" {
		d, err := time.ParseDuration(cfg.Sessions.SweepInterval)
		if err != nil {
			return fmt.Errorf("config sessions.sweep_interval: %w", err)
		}
		settings.SessionSweepInterval = d
	}
	if cfg.Timeout != "" {
		d, err := time.ParseDuration(cfg.Timeout)
		if err != nil {
			return fmt.Errorf("config timeout: %w", err)
		}
		settings.Timeout = d
	}
	if cfg.Retries != nil {
		settings.Retries = *cfg.Retries
	}
	if cfg.LogLevel != "" {
		settings.LogLevel = cfg.LogLevel
	}
	if cfg.MetricsAddr != "" {
		settings.MetricsAddr = cfg.MetricsAddr
	}

	return nil
}

func applyEnv(settings *Settings) {
	if v := os.Getenv("DEXBOT_TELEGRAM_TOKEN"); v != "" {
		settings.TelegramToken = v
	}
	if v := os.Getenv("DEXBOT_WALLET_SECRET"); v != "" {
		settings.WalletSecret = v
	}
	if v := os.Getenv("DEXBOT_RPC_URL"); v != "" {
		settings.RPCURL = v
	}
	if v := os.Getenv("DEXBOT_REGISTRY_URL"); v != "" {
		settings.RegistryURL = v
	}
	if v := os.Getenv("DEXBOT_STORE_PATH"); v != "" {
		settings.StorePath = v
	}
	if v := os.Getenv("DEXBOT_STORE_LOCK_PATH"); v != "" {
		settings.StoreLockPath = v
	}
	if v := os.Getenv("DEXBOT_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			settings.Timeout = d
		}
	}
	if v := os.Getenv("DEXBOT_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			settings.Retries = n
		}
	}
	if v := os.Getenv("DEXBOT_LOG_LEVEL"); v != "" {
		settings.LogLevel = v
	}
	if v := os.Getenv("DEXBOT_METRICS_ADDR"); v != "" {
		settings.MetricsAddr = v
	}
}

func applyFlags(flags GlobalFlags, settings *Settings) error {
	if flags.Timeout != "" {
		d, err := time.ParseDuration(flags.Timeout)
		if err != nil {
			return fmt.Errorf("parse --timeout: %w", err)
		}
		settings.Timeout = d
	}
	if flags.Retries >= 0 {
		settings.Retries = flags.Retries
	}
	if flags.LogLevel != "" {
		settings.LogLevel = flags.LogLevel
	}
	if flags.MetricsAddr != "" {
		settings.MetricsAddr = flags.MetricsAddr
	}
	return nil
}

func validate(s Settings) error {
	if s.TelegramToken == "" {
		return fmt.Errorf("telegram token is required (telegram.token or DEXBOT_TELEGRAM_TOKEN)")
	}
	if s.WalletSecret == "" {
		return fmt.Errorf("wallet secret is required (wallet.secret or DEXBOT_WALLET_SECRET)")
	}
	if s.RPCURL == "" {
		return fmt.Errorf("chain rpc url is required (chain.rpc_url or DEXBOT_RPC_URL)")
	}
	if s.TradeAsset == "" {
		return fmt.Errorf("assets.trade is required")
	}
	if s.ServiceFeeBps < 0 || s.ServiceFeeBps >= 10000 {
		return fmt.Errorf("trading.service_fee_bps must be in [0,10000)")
	}
	if s.DefaultSlippageBps < 0 || s.DefaultSlippageBps >= 10000 {
		return fmt.Errorf("trading.default_slippage_bps must be in [0,10000)")
	}
	if len(s.PooledVenues) == 0 && len(s.CurveVenues) == 0 {
		return fmt.Errorf("at least one venue must be configured")
	}
	return nil
}
