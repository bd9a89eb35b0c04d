package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	WeexConfig       WeexConfig       `json:"weex"`
	TradingConfig    TradingConfig    `json:"trading"`
	ProtectionConfig ProtectionConfig `json:"protection"`
	GuardConfig      GuardConfig      `json:"guards"`
	LifecycleConfig  LifecycleConfig  `json:"lifecycle"`
	ReconcileConfig  ReconcileConfig  `json:"reconcile"`
	ComplianceConfig ComplianceConfig `json:"compliance"`
	LoggingConfig    LoggingConfig    `json:"logging"`
	ServerConfig     ServerConfig     `json:"server"`
	AuthConfig       AuthConfig       `json:"auth"`
	VaultConfig      VaultConfig      `json:"vault"`
	RedisConfig      RedisConfig      `json:"redis"`
	DatabaseConfig   DatabaseConfig   `json:"database"`
}

// WeexConfig holds WEEX contract API credentials and transport settings
type WeexConfig struct {
	APIKey         string `json:"api_key"`
	SecretKey      string `json:"secret_key"`
	Passphrase     string `json:"passphrase"`
	BaseURL        string `json:"base_url"`
	MockMode       bool   `json:"mock_mode"`       // Use the in-memory exchange instead of the live API
	RequestTimeout int    `json:"request_timeout"` // Seconds per HTTP request
	RateLimitRPS   int    `json:"rate_limit_rps"`  // Requests per second budget
}

// TradingConfig holds the symbol universe and loop cadence
type TradingConfig struct {
	Symbols        []string `json:"symbols"`
	Leverage       int      `json:"leverage"`
	TickInterval   int      `json:"tick_interval"`   // Seconds between symbol sweeps
	TickWindow     int      `json:"tick_window"`     // Ticks retained per symbol for ATR/signal
	EquityInterval int      `json:"equity_interval"` // Seconds between equity refreshes
	InitialEquity  float64  `json:"initial_equity"`  // Fallback when the account query fails at startup
	DryRun         bool     `json:"dry_run"`
}

// RegimeMultipliers is one row of the per-regime stop/target table
type RegimeMultipliers struct {
	Stop   float64 `json:"stop"`
	Target float64 `json:"target"`
}

// ProtectionConfig drives the stop-loss/take-profit calculator
type ProtectionConfig struct {
	MinRiskReward   float64                      `json:"min_risk_reward"`
	ATRFloorPercent float64                      `json:"atr_floor_percent"` // ATR floor as fraction of entry price
	RegimeTable     map[string]RegimeMultipliers `json:"regime_table"`
	DefaultStop     float64                      `json:"default_stop"` // Multipliers for unknown regimes
	DefaultTarget   float64                      `json:"default_target"`
}

// GuardConfig holds trade guard thresholds
type GuardConfig struct {
	CooldownSeconds    int     `json:"cooldown_seconds"`
	MaxNotional        float64 `json:"max_notional"`         // Per-order notional ceiling in USDT
	MaxDrawdownPercent float64 `json:"max_drawdown_percent"` // Account drawdown halt threshold
}

// ProfitLockTier maps an ROI threshold to the profit percentage locked by the stop
type ProfitLockTier struct {
	ROIPercent  float64 `json:"roi_percent"`
	LockPercent float64 `json:"lock_percent"`
}

// LifecycleConfig drives the trade lifecycle manager
type LifecycleConfig struct {
	MinConfidence       float64          `json:"min_confidence"`
	RiskPercent         float64          `json:"risk_percent"`       // Base per-trade risk as fraction of equity
	PortfolioRiskCap    float64          `json:"portfolio_risk_cap"` // Max summed risk fraction across open trades
	MaxTradesPerSymbol  int              `json:"max_trades_per_symbol"`
	TrendConfidence     float64          `json:"trend_confidence"`       // At or above → trend class, below → scalp
	PyramidOverride     float64          `json:"pyramid_override"`       // Confidence that bypasses the profit-direction rule
	FlipConfidence      float64          `json:"flip_confidence"`        // Opposing signal confidence that flips a position
	MaxPositionAgeHours int              `json:"max_position_age_hours"` // Older trades stop blocking new entries
	ProtectionDelaySecs int              `json:"protection_delay_secs"`  // Noise-absorption time bound
	ProtectionMoveATR   float64          `json:"protection_move_atr"`    // Noise-absorption price bound, in ATR units
	ProfitLockTiers     []ProfitLockTier `json:"profit_lock_tiers"`
}

// ReconcileConfig drives the protective-order reconciliation engine
type ReconcileConfig struct {
	Interval          int     `json:"interval"`            // Seconds between reconciliation passes
	DefaultStopPct    float64 `json:"default_stop_pct"`    // Repair stop distance as fraction of price
	DefaultTargetPct  float64 `json:"default_target_pct"`  // Repair target distance as fraction of price
	ClampPct          float64 `json:"clamp_pct"`           // Min distance from current price for repaired levels
	HedgeNetThreshold float64 `json:"hedge_net_threshold"` // Net/gross fraction below which a hedge is collapsed
}

// ComplianceConfig drives decision-log submission
type ComplianceConfig struct {
	Enabled        bool   `json:"enabled"`
	Endpoint       string `json:"endpoint"`
	ModelName      string `json:"model_name"`
	LocalLogFile   string `json:"local_log_file"`
	MaxRetries     int    `json:"max_retries"`
	MaxExplanation int    `json:"max_explanation"`
}

type LoggingConfig struct {
	Level      string `json:"level"`       // DEBUG, INFO, WARN, ERROR
	Output     string `json:"output"`      // stdout, stderr, or file path
	JSONFormat bool   `json:"json_format"` // Output as JSON
}

// ServerConfig holds the ops API settings
type ServerConfig struct {
	Enabled        bool     `json:"enabled"`
	Host           string   `json:"host"`
	Port           int      `json:"port"`
	AllowedOrigins []string `json:"allowed_origins"`
}

// AuthConfig holds ops API authentication settings
type AuthConfig struct {
	JWTSecret           string        `json:"jwt_secret"`
	AccessTokenDuration time.Duration `json:"access_token_duration"`
	AdminUser           string        `json:"admin_user"`
	AdminPasswordHash   string        `json:"admin_password_hash"` // bcrypt hash
}

// VaultConfig holds HashiCorp Vault settings for credential storage
type VaultConfig struct {
	Enabled    bool   `json:"enabled"`
	Address    string `json:"address"`
	Token      string `json:"token"`
	SecretPath string `json:"secret_path"`
	TLSEnabled bool   `json:"tls_enabled"`
	CACert     string `json:"ca_cert"`
}

// RedisConfig holds Redis settings for protective-order tracking
type RedisConfig struct {
	Enabled  bool   `json:"enabled"`
	Address  string `json:"address"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

// DatabaseConfig holds PostgreSQL settings for trade/compliance history
type DatabaseConfig struct {
	Enabled  bool   `json:"enabled"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	Database string `json:"database"`
	SSLMode  string `json:"ssl_mode"`
}

// Load reads configuration from the optional config file and applies
// environment overrides on top
func Load() (*Config, error) {
	cfg := defaultConfig()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		fileCfg, err := loadFromFile(path)
		if err != nil {
			return nil, err
		}
		cfg = fileCfg
	} else if _, err := os.Stat("config.json"); err == nil {
		fileCfg, err := loadFromFile("config.json")
		if err != nil {
			return nil, err
		}
		cfg = fileCfg
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func defaultConfig() *Config {
	return &Config{
		WeexConfig: WeexConfig{
			BaseURL:        "https://api-contract.weex.com",
			RequestTimeout: 10,
			RateLimitRPS:   8,
		},
		TradingConfig: TradingConfig{
			Symbols:        []string{"cmt_btcusdt", "cmt_ethusdt", "cmt_solusdt"},
			Leverage:       4,
			TickInterval:   20,
			TickWindow:     100,
			EquityInterval: 60,
			InitialEquity:  1000.0,
		},
		ProtectionConfig: ProtectionConfig{
			MinRiskReward:   1.2,
			ATRFloorPercent: 0.012,
			RegimeTable: map[string]RegimeMultipliers{
				"TREND_UP":               {Stop: 2.5, Target: 5.0},
				"TREND_DOWN":             {Stop: 2.5, Target: 5.0},
				"RANGE":                  {Stop: 2.0, Target: 3.5},
				"MEAN_REVERSION":         {Stop: 2.0, Target: 3.5},
				"VOLATILITY_COMPRESSION": {Stop: 1.8, Target: 3.0},
				"HIGH_VOLATILITY":        {Stop: 2.0, Target: 3.5},
				"VOLATILE":               {Stop: 2.0, Target: 3.5},
			},
			DefaultStop:   1.0,
			DefaultTarget: 2.0,
		},
		GuardConfig: GuardConfig{
			CooldownSeconds:    180,
			MaxNotional:        500.0,
			MaxDrawdownPercent: 2.0,
		},
		LifecycleConfig: LifecycleConfig{
			MinConfidence:       0.55,
			RiskPercent:         0.01,
			PortfolioRiskCap:    0.05,
			MaxTradesPerSymbol:  2,
			TrendConfidence:     0.70,
			PyramidOverride:     0.85,
			FlipConfidence:      0.80,
			MaxPositionAgeHours: 24,
			ProtectionDelaySecs: 3,
			ProtectionMoveATR:   0.4,
			ProfitLockTiers: []ProfitLockTier{
				{ROIPercent: 2, LockPercent: 0},
				{ROIPercent: 5, LockPercent: 1},
				{ROIPercent: 10, LockPercent: 3},
				{ROIPercent: 15, LockPercent: 5},
				{ROIPercent: 20, LockPercent: 8},
				{ROIPercent: 25, LockPercent: 12},
			},
		},
		ReconcileConfig: ReconcileConfig{
			Interval:          120,
			DefaultStopPct:    0.02,
			DefaultTargetPct:  0.03,
			ClampPct:          0.005,
			HedgeNetThreshold: 0.05,
		},
		ComplianceConfig: ComplianceConfig{
			Endpoint:       "/capi/v2/order/uploadAiLog",
			ModelName:      "regime-classifier-v2",
			LocalLogFile:   "logs/compliance_submissions.jsonl",
			MaxRetries:     3,
			MaxExplanation: 1000,
		},
		LoggingConfig: LoggingConfig{
			Level:      "INFO",
			Output:     "stdout",
			JSONFormat: true,
		},
		ServerConfig: ServerConfig{
			Enabled:        true,
			Host:           "0.0.0.0",
			Port:           8080,
			AllowedOrigins: []string{"http://localhost:3000"},
		},
		AuthConfig: AuthConfig{
			AccessTokenDuration: 15 * time.Minute,
			AdminUser:           "admin",
		},
		VaultConfig: VaultConfig{
			SecretPath: "secret/data/weex/credentials",
		},
		RedisConfig: RedisConfig{
			Address: "localhost:6379",
		},
		DatabaseConfig: DatabaseConfig{
			Host:    "localhost",
			Port:    5432,
			SSLMode: "disable",
		},
	}
}

func applyEnvOverrides(cfg *Config) {
	cfg.WeexConfig.APIKey = getEnvOrDefault("WEEX_API_KEY", cfg.WeexConfig.APIKey)
	cfg.WeexConfig.SecretKey = getEnvOrDefault("WEEX_SECRET_KEY", cfg.WeexConfig.SecretKey)
	cfg.WeexConfig.Passphrase = getEnvOrDefault("WEEX_PASSPHRASE", cfg.WeexConfig.Passphrase)
	cfg.WeexConfig.BaseURL = getEnvOrDefault("WEEX_BASE_URL", cfg.WeexConfig.BaseURL)
	cfg.WeexConfig.MockMode = getEnvBoolOrDefault("WEEX_MOCK_MODE", cfg.WeexConfig.MockMode)
	cfg.WeexConfig.RequestTimeout = getEnvIntOrDefault("WEEX_REQUEST_TIMEOUT", cfg.WeexConfig.RequestTimeout)

	if symbols := os.Getenv("TRADING_SYMBOLS"); symbols != "" {
		cfg.TradingConfig.Symbols = strings.Split(symbols, ",")
	}
	cfg.TradingConfig.Leverage = getEnvIntOrDefault("TRADING_LEVERAGE", cfg.TradingConfig.Leverage)
	cfg.TradingConfig.TickInterval = getEnvIntOrDefault("TRADING_TICK_INTERVAL", cfg.TradingConfig.TickInterval)
	cfg.TradingConfig.DryRun = getEnvBoolOrDefault("TRADING_DRY_RUN", cfg.TradingConfig.DryRun)

	cfg.GuardConfig.CooldownSeconds = getEnvIntOrDefault("GUARD_COOLDOWN_SECONDS", cfg.GuardConfig.CooldownSeconds)
	cfg.GuardConfig.MaxNotional = getEnvFloatOrDefault("GUARD_MAX_NOTIONAL", cfg.GuardConfig.MaxNotional)
	cfg.GuardConfig.MaxDrawdownPercent = getEnvFloatOrDefault("GUARD_MAX_DRAWDOWN_PERCENT", cfg.GuardConfig.MaxDrawdownPercent)

	cfg.LifecycleConfig.MinConfidence = getEnvFloatOrDefault("LIFECYCLE_MIN_CONFIDENCE", cfg.LifecycleConfig.MinConfidence)
	cfg.LifecycleConfig.RiskPercent = getEnvFloatOrDefault("LIFECYCLE_RISK_PERCENT", cfg.LifecycleConfig.RiskPercent)
	cfg.LifecycleConfig.PortfolioRiskCap = getEnvFloatOrDefault("LIFECYCLE_PORTFOLIO_RISK_CAP", cfg.LifecycleConfig.PortfolioRiskCap)

	cfg.ReconcileConfig.Interval = getEnvIntOrDefault("RECONCILE_INTERVAL", cfg.ReconcileConfig.Interval)

	cfg.ComplianceConfig.Enabled = getEnvBoolOrDefault("COMPLIANCE_ENABLED", cfg.ComplianceConfig.Enabled)

	cfg.LoggingConfig.Level = getEnvOrDefault("LOG_LEVEL", cfg.LoggingConfig.Level)
	cfg.LoggingConfig.Output = getEnvOrDefault("LOG_OUTPUT", cfg.LoggingConfig.Output)

	cfg.ServerConfig.Enabled = getEnvBoolOrDefault("SERVER_ENABLED", cfg.ServerConfig.Enabled)
	cfg.ServerConfig.Port = getEnvIntOrDefault("SERVER_PORT", cfg.ServerConfig.Port)

	cfg.AuthConfig.JWTSecret = getEnvOrDefault("AUTH_JWT_SECRET", cfg.AuthConfig.JWTSecret)
	cfg.AuthConfig.AdminUser = getEnvOrDefault("AUTH_ADMIN_USER", cfg.AuthConfig.AdminUser)
	cfg.AuthConfig.AdminPasswordHash = getEnvOrDefault("AUTH_ADMIN_PASSWORD_HASH", cfg.AuthConfig.AdminPasswordHash)

	cfg.VaultConfig.Enabled = getEnvBoolOrDefault("VAULT_ENABLED", cfg.VaultConfig.Enabled)
	cfg.VaultConfig.Address = getEnvOrDefault("VAULT_ADDR", cfg.VaultConfig.Address)
	cfg.VaultConfig.Token = getEnvOrDefault("VAULT_TOKEN", cfg.VaultConfig.Token)
	cfg.VaultConfig.SecretPath = getEnvOrDefault("VAULT_SECRET_PATH", cfg.VaultConfig.SecretPath)

	cfg.RedisConfig.Enabled = getEnvBoolOrDefault("REDIS_ENABLED", cfg.RedisConfig.Enabled)
	cfg.RedisConfig.Address = getEnvOrDefault("REDIS_ADDRESS", cfg.RedisConfig.Address)
	cfg.RedisConfig.Password = getEnvOrDefault("REDIS_PASSWORD", cfg.RedisConfig.Password)

	cfg.DatabaseConfig.Enabled = getEnvBoolOrDefault("DATABASE_ENABLED", cfg.DatabaseConfig.Enabled)
	cfg.DatabaseConfig.Host = getEnvOrDefault("DATABASE_HOST", cfg.DatabaseConfig.Host)
	cfg.DatabaseConfig.Port = getEnvIntOrDefault("DATABASE_PORT", cfg.DatabaseConfig.Port)
	cfg.DatabaseConfig.User = getEnvOrDefault("DATABASE_USER", cfg.DatabaseConfig.User)
	cfg.DatabaseConfig.Password = getEnvOrDefault("DATABASE_PASSWORD", cfg.DatabaseConfig.Password)
	cfg.DatabaseConfig.Database = getEnvOrDefault("DATABASE_NAME", cfg.DatabaseConfig.Database)
}

// Validate rejects configurations the state machine cannot run with
func (c *Config) Validate() error {
	if len(c.TradingConfig.Symbols) == 0 {
		return fmt.Errorf("config: at least one trading symbol required")
	}
	if c.ProtectionConfig.MinRiskReward <= 0 {
		return fmt.Errorf("config: min_risk_reward must be positive")
	}
	if c.LifecycleConfig.PortfolioRiskCap < c.LifecycleConfig.RiskPercent {
		return fmt.Errorf("config: portfolio_risk_cap below per-trade risk_percent")
	}
	for i := 1; i < len(c.LifecycleConfig.ProfitLockTiers); i++ {
		prev := c.LifecycleConfig.ProfitLockTiers[i-1]
		cur := c.LifecycleConfig.ProfitLockTiers[i]
		if cur.ROIPercent <= prev.ROIPercent || cur.LockPercent < prev.LockPercent {
			return fmt.Errorf("config: profit_lock_tiers must be strictly increasing")
		}
	}
	if !c.WeexConfig.MockMode && !c.VaultConfig.Enabled && c.WeexConfig.APIKey == "" {
		return fmt.Errorf("config: WEEX credentials required outside mock mode")
	}
	return nil
}

func loadFromFile(filename string) (*Config, error) {
	file, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	config := defaultConfig()
	if err := json.Unmarshal(file, config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	return config, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1"
	}
	return defaultValue
}
