package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"defiLoopBot/internal/adapters/logger"
	"defiLoopBot/internal/domain"
	"defiLoopBot/internal/risk"
)

// Config holds all application configuration.
type Config struct {
	// Binance (price oracle; public endpoints, keys optional)
	BinanceAPIKey    string
	BinanceSecretKey string

	// Protocol defaults
	BorrowingProtocol string
	LendingProtocol   string
	RecursiveSwap     bool // Swap borrowed stables back into collateral
	SlippageBps       int

	// Engine
	AgentTag            string
	OperatingCapitalUSD float64
	MonitorInterval     time.Duration

	// Optional startup deployment
	AutoDeploy       bool
	DeployCapitalUSD float64
	DeployAsset      string
	DeploySentiment  domain.Sentiment
	DeployIterations int

	// Risk policy (defaults, optionally overridden by a YAML file)
	PolicyPath string
	Policy     risk.Policy

	// Database
	DBPath string

	// Logging
	LogLevel  logger.LogLevel
	LogFormat string // "text" or "json"
}

// LoadConfig loads configuration from environment variables (.env file) and
// the optional YAML risk-policy file.
func LoadConfig() (*Config, error) {
	// Load .env file, but don't fail if it doesn't exist (allow pure env vars)
	_ = godotenv.Load()

	cfg := &Config{}
	var err error
	var errs []string // Collect validation errors

	cfg.BinanceAPIKey = getEnv("BINANCE_API_KEY", "")
	cfg.BinanceSecretKey = getEnv("BINANCE_API_SECRET", "")

	cfg.BorrowingProtocol = getEnv("BORROWING_PROTOCOL", domain.ProtocolMarginFi)
	cfg.LendingProtocol = getEnv("LENDING_PROTOCOL", domain.ProtocolSolend)
	cfg.RecursiveSwap = getEnvAsBool("RECURSIVE_SWAP", true)

	cfg.SlippageBps = getEnvAsInt("SLIPPAGE_BPS", 50)
	if cfg.SlippageBps < 0 || cfg.SlippageBps >= 10000 {
		errs = append(errs, "SLIPPAGE_BPS must be in [0, 10000)")
	}

	cfg.AgentTag = getEnv("AGENT_TAG", "leverage-engine")

	cfg.OperatingCapitalUSD, err = getEnvAsFloatRequired("OPERATING_CAPITAL_USD", 10000.0)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid OPERATING_CAPITAL_USD: %v", err))
	} else if cfg.OperatingCapitalUSD <= 0 {
		errs = append(errs, "OPERATING_CAPITAL_USD must be positive")
	}

	monitorSeconds := getEnvAsInt("MONITOR_INTERVAL_SECONDS", 60)
	if monitorSeconds <= 0 {
		errs = append(errs, "MONITOR_INTERVAL_SECONDS must be positive")
	}
	cfg.MonitorInterval = time.Duration(monitorSeconds) * time.Second

	cfg.AutoDeploy = getEnvAsBool("AUTO_DEPLOY", false)
	if cfg.AutoDeploy {
		cfg.DeployCapitalUSD, err = getEnvAsFloatRequired("DEPLOY_CAPITAL_USD", 0)
		if err != nil || cfg.DeployCapitalUSD <= 0 {
			errs = append(errs, "DEPLOY_CAPITAL_USD must be a positive number when AUTO_DEPLOY is set")
		}
		cfg.DeployAsset = getEnv("DEPLOY_ASSET", "SOL")
		cfg.DeploySentiment = parseSentiment(getEnv("DEPLOY_SENTIMENT", "neutral"))
		cfg.DeployIterations = getEnvAsInt("DEPLOY_ITERATIONS", risk.HardMaxIterations)
		if cfg.DeployIterations <= 0 {
			errs = append(errs, "DEPLOY_ITERATIONS must be positive")
		}
	}

	cfg.PolicyPath = getEnv("RISK_POLICY_PATH", "")
	cfg.Policy, err = loadPolicy(cfg.PolicyPath)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid risk policy: %v", err))
	}

	cfg.DBPath = getEnv("DB_PATH", "./data/leverage_loops.db")
	if cfg.DBPath == "" {
		errs = append(errs, "DB_PATH must be set")
	}

	cfg.LogLevel = logger.ParseLevel(getEnv("LOG_LEVEL", "INFO"))
	cfg.LogFormat = strings.ToLower(getEnv("LOG_FORMAT", "text"))
	if cfg.LogFormat != "text" && cfg.LogFormat != "json" {
		errs = append(errs, "LOG_FORMAT must be 'text' or 'json'")
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}

	return cfg, nil
}

// loadPolicy reads the YAML risk-policy file when a path is given, otherwise
// returns the default policy. Zero-valued YAML fields fall back to defaults.
func loadPolicy(path string) (risk.Policy, error) {
	policy := risk.DefaultPolicy()
	if path == "" {
		return policy, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return policy, fmt.Errorf("read %q: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &policy); err != nil {
		return policy, fmt.Errorf("parse %q: %w", path, err)
	}
	if err := policy.Normalize(); err != nil {
		return policy, fmt.Errorf("normalize %q: %w", path, err)
	}
	return policy, nil
}

func parseSentiment(s string) domain.Sentiment {
	switch strings.ToLower(s) {
	case "bullish":
		return domain.SentimentBullish
	case "bearish":
		return domain.SentimentBearish
	default:
		return domain.SentimentNeutral
	}
}

// --- Env Var Helpers ---

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloatRequired(key string, defaultValue float64) (float64, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		// Use default if env var is not set at all
		return defaultValue, nil
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		// Return error if env var is set but invalid
		return 0, fmt.Errorf("invalid float value '%s' for key %s: %w", valueStr, key, err)
	}
	return value, nil
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
