package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

const (
	ModePaper = "paper"
	ModeLive  = "live"

	// Hard ceiling on executed leverage regardless of configuration.
	HardLeverageCap = 20

	maxTradingAssets = 10
)

type Config struct {
	// Anthropic
	AnthropicAPIKey string
	AnthropicModel  string

	// Hyperliquid
	WalletPrivateKey string
	AccountAddress   string // optional override, derived from key when empty
	Testnet          bool

	// Trading
	TradingMode        string
	TradingAssets      []string // canonical form, e.g. BTC/USDC:USDC
	MaxPositionSizeUSD float64
	MaxLeverage        int
	DailyLossLimitUSD  float64
	IntervalSeconds    int
	PaperInitialBalance float64

	// Server
	APIPort   string
	AccessKey string

	// Storage / files
	DataDir string

	// Observability
	LogLevel string

	// Redis cache (optional)
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Telegram notifications (optional)
	TelegramToken  string
	TelegramChatID int64
}

var cfg *Config

func Load() *Config {
	godotenv.Load()

	cfg = &Config{
		AnthropicAPIKey: getEnv("ANTHROPIC_API_KEY", ""),
		AnthropicModel:  getEnv("ANTHROPIC_MODEL", "claude-sonnet-4-5-20250929"),

		WalletPrivateKey: getEnv("HYPERLIQUID_WALLET_PRIVATE_KEY", ""),
		AccountAddress:   getEnv("HYPERLIQUID_ACCOUNT_ADDRESS", ""),
		Testnet:          getEnvBool("HYPERLIQUID_TESTNET", false),

		TradingMode:         getEnv("TRADING_MODE", ModePaper),
		TradingAssets:       parseAssets(getEnv("TRADING_ASSETS", "BTC,ETH,SOL")),
		MaxPositionSizeUSD:  getEnvFloat("MAX_POSITION_SIZE_USD", 50),
		MaxLeverage:         getEnvInt("MAX_LEVERAGE", 5),
		DailyLossLimitUSD:   getEnvFloat("DAILY_LOSS_LIMIT_USD", 20),
		IntervalSeconds:     getEnvInt("EXECUTION_INTERVAL_SECONDS", 180),
		PaperInitialBalance: getEnvFloat("PAPER_INITIAL_BALANCE", 1000),

		APIPort:   getEnv("PORT", "8080"),
		AccessKey: getEnv("ACCESS_KEY", ""),

		DataDir: getEnv("DATA_DIR", "data"),

		LogLevel: getEnv("LOG_LEVEL", "info"),

		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		TelegramToken:  getEnv("TELEGRAM_BOT_TOKEN", ""),
		TelegramChatID: getEnvInt64("TELEGRAM_CHAT_ID", 0),
	}

	// Clamp to safe operating bounds rather than erroring: these have
	// well-defined maxima no configuration is allowed to exceed.
	if cfg.MaxLeverage > HardLeverageCap {
		cfg.MaxLeverage = HardLeverageCap
	}
	if cfg.IntervalSeconds < 10 {
		cfg.IntervalSeconds = 10
	}

	return cfg
}

func Get() *Config {
	if cfg == nil {
		Load()
	}
	return cfg
}

// Validate reports configuration problems that must abort startup.
func (c *Config) Validate() error {
	if c.TradingMode != ModePaper && c.TradingMode != ModeLive {
		return fmt.Errorf("invalid TRADING_MODE %q (want %q or %q)", c.TradingMode, ModePaper, ModeLive)
	}
	if c.AnthropicAPIKey == "" {
		return fmt.Errorf("ANTHROPIC_API_KEY is required")
	}
	if c.TradingMode == ModeLive && c.WalletPrivateKey == "" {
		return fmt.Errorf("HYPERLIQUID_WALLET_PRIVATE_KEY is required in live mode")
	}
	if len(c.TradingAssets) == 0 {
		return fmt.Errorf("TRADING_ASSETS must name at least one asset")
	}
	if c.MaxPositionSizeUSD <= 0 {
		return fmt.Errorf("MAX_POSITION_SIZE_USD must be positive")
	}
	if c.MaxLeverage <= 0 {
		return fmt.Errorf("MAX_LEVERAGE must be positive")
	}
	return nil
}

func (c *Config) IsLive() bool {
	return c.TradingMode == ModeLive
}

// PrimaryAsset is the first configured asset; the cycle always analyzes it
// even when no position is open.
func (c *Config) PrimaryAsset() string {
	if len(c.TradingAssets) == 0 {
		return "BTC/USDC:USDC"
	}
	return c.TradingAssets[0]
}

// CanonicalSymbol normalizes a bare coin name ("BTC") to the canonical
// perp form ("BTC/USDC:USDC"). Strings already carrying both separators
// are left alone.
func CanonicalSymbol(s string) string {
	s = strings.TrimSpace(s)
	if strings.Contains(s, "/") && strings.Contains(s, ":") {
		return s
	}
	return strings.ToUpper(s) + "/USDC:USDC"
}

func parseAssets(csv string) []string {
	var assets []string
	for _, part := range strings.Split(csv, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		assets = append(assets, CanonicalSymbol(part))
		if len(assets) == maxTradingAssets {
			break
		}
	}
	return assets
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		b, err := strconv.ParseBool(val)
		if err == nil {
			return b
		}
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		i, err := strconv.Atoi(val)
		if err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvInt64(key string, defaultVal int64) int64 {
	if val := os.Getenv(key); val != "" {
		i, err := strconv.ParseInt(val, 10, 64)
		if err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		f, err := strconv.ParseFloat(val, 64)
		if err == nil {
			return f
		}
	}
	return defaultVal
}
