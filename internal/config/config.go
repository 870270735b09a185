package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type APIConfig struct {
	Addr         string        `yaml:"addr"`
	DatabaseURL  string        `yaml:"database_url"`
	AccessTTL    time.Duration `yaml:"access_ttl"`
	RefreshTTL   time.Duration `yaml:"refresh_ttl"`
	Warmup       time.Duration `yaml:"warmup"`
	BcryptCost   int           `yaml:"bcrypt_cost"`
	MarketSeed   int64         `yaml:"market_seed"`
	StartingCash float64       `yaml:"starting_cash"`
	MaxDays      int           `yaml:"max_days"`
}

type CLIConfig struct {
	APIBaseURL        string
	Mode              string
	StateDir          string
	BootstrapAttempts int
	BootstrapDelay    time.Duration
	RateLimit         float64
}

const (
	ModeLocal  = "local"
	ModeRemote = "remote"
)

func defaultAPIConfig() APIConfig {
	return APIConfig{
		Addr:         ":8080",
		AccessTTL:    15 * time.Minute,
		RefreshTTL:   7 * 24 * time.Hour,
		Warmup:       0,
		BcryptCost:   10,
		MarketSeed:   12345,
		StartingCash: 10_000_000,
		MaxDays:      20,
	}
}

// LoadAPIFromEnv builds the server config from defaults, then the YAML file
// named by STOCKSIM_CONFIG, then environment variables.
func LoadAPIFromEnv() (APIConfig, error) {
	cfg := defaultAPIConfig()
	if path := strings.TrimSpace(os.Getenv("STOCKSIM_CONFIG")); path != "" {
		if err := loadYAML(path, &cfg); err != nil {
			return cfg, err
		}
	}

	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		if !strings.HasPrefix(port, ":") {
			port = ":" + port
		}
		cfg.Addr = port
	} else {
		cfg.Addr = envDefault("STOCKSIM_API_ADDR", cfg.Addr)
	}
	cfg.DatabaseURL = envDefault("DATABASE_URL", cfg.DatabaseURL)
	cfg.AccessTTL = envDurationDefault("STOCKSIM_ACCESS_TTL", cfg.AccessTTL)
	cfg.RefreshTTL = envDurationDefault("STOCKSIM_REFRESH_TTL", cfg.RefreshTTL)
	cfg.Warmup = envDurationDefault("STOCKSIM_WARMUP", cfg.Warmup)
	cfg.BcryptCost = envIntDefault("STOCKSIM_BCRYPT_COST", cfg.BcryptCost)
	cfg.StartingCash = envFloatDefault("STOCKSIM_STARTING_CASH", cfg.StartingCash)
	cfg.MaxDays = envIntDefault("STOCKSIM_MAX_DAYS", cfg.MaxDays)

	if cfg.AccessTTL <= 0 || cfg.RefreshTTL <= 0 {
		return cfg, fmt.Errorf("token ttls must be > 0")
	}
	if cfg.RefreshTTL < cfg.AccessTTL {
		return cfg, fmt.Errorf("refresh ttl %s is shorter than access ttl %s", cfg.RefreshTTL, cfg.AccessTTL)
	}
	if cfg.Warmup < 0 {
		return cfg, fmt.Errorf("warmup must be >= 0")
	}
	if cfg.StartingCash <= 0 {
		return cfg, fmt.Errorf("starting cash must be > 0")
	}
	if cfg.MaxDays < 1 {
		return cfg, fmt.Errorf("max days must be >= 1")
	}
	return cfg, nil
}

func LoadCLIFromEnv() (CLIConfig, error) {
	cfg := CLIConfig{
		APIBaseURL:        strings.TrimRight(envDefault("STK_API_BASE_URL", "http://localhost:8080/api"), "/"),
		Mode:              strings.ToLower(envDefault("STK_MODE", ModeLocal)),
		StateDir:          envDefault("STK_STATE_DIR", ""),
		BootstrapAttempts: envIntDefault("STK_BOOTSTRAP_ATTEMPTS", 3),
		BootstrapDelay:    envDurationDefault("STK_BOOTSTRAP_DELAY", 3*time.Second),
		RateLimit:         envFloatDefault("STK_RATE_LIMIT", 0),
	}
	if cfg.Mode != ModeLocal && cfg.Mode != ModeRemote {
		return cfg, fmt.Errorf("STK_MODE must be %q or %q, got %q", ModeLocal, ModeRemote, cfg.Mode)
	}
	if cfg.BootstrapAttempts < 1 {
		return cfg, fmt.Errorf("STK_BOOTSTRAP_ATTEMPTS must be >= 1")
	}
	return cfg, nil
}

func loadYAML(path string, cfg *APIConfig) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func envDefault(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func envDurationDefault(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func envFloatDefault(key string, fallback float64) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

func envIntDefault(key string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
