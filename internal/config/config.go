package config

import (
	"errors"
	"fmt"
	"net/netip"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Environments
const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

const productionBaseURL = "https://play-4096.com"

const defaultFourProbability = 0.5

// Config holds the application configuration
type Config struct {
	Environment string          `yaml:"environment"`
	BaseURL     string          `yaml:"base_url"`
	Server      ServerConfig    `yaml:"server"`
	Database    DatabaseConfig  `yaml:"database"`
	Auth        AuthConfig      `yaml:"auth"`
	Stripe      StripeConfig    `yaml:"stripe"`
	Game        GameConfig      `yaml:"game"`
	Log         LogConfig       `yaml:"log"`
	Events      EventsConfig    `yaml:"events"`
	RateLimit   RateLimitConfig `yaml:"rate_limit"`
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	ListenAddr    string        `yaml:"listen_addr"`
	HTTPPort      int           `yaml:"http_port"`
	StaticDir     string        `yaml:"static_dir"`
	AllowedOrigin string        `yaml:"allowed_origin"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
	// TrustedProxies lists the CIDRs or addresses whose X-Forwarded-For
	// and X-Real-IP headers are believed. Empty trusts nobody.
	TrustedProxies []string `yaml:"trusted_proxies"`
}

// DatabaseConfig holds SQLite settings
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// AuthConfig holds session and bearer token settings
type AuthConfig struct {
	SessionDuration    time.Duration `yaml:"session_duration"`
	SessionRenewWithin time.Duration `yaml:"session_renew_within"`
	JWTSecret          string        `yaml:"jwt_secret"`
	TokenDuration      time.Duration `yaml:"token_duration"`
}

// StripeConfig holds payment provider credentials
type StripeConfig struct {
	SecretKey      string `yaml:"secret_key"`
	PriceID        string `yaml:"price_id"`
	EndpointSecret string `yaml:"endpoint_secret"`
}

// GameConfig holds board rules
type GameConfig struct {
	BoardSize       int     `yaml:"board_size"`
	StartingTiles   int     `yaml:"starting_tiles"`
	WinTile         int     `yaml:"win_tile"`
	FourProbability float64 `yaml:"four_probability"`
}

// LogConfig holds logger settings
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// EventsConfig holds event bus settings. An empty NATSURL runs an
// embedded server.
type EventsConfig struct {
	NATSURL string `yaml:"nats_url"`
}

// RateLimitConfig holds the per-IP API limiter settings
type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

// IsProduction reports whether the production environment is selected
func (c *Config) IsProduction() bool {
	return c.Environment == EnvProduction
}

// Load reads configuration from a YAML file, then applies environment
// overrides and defaults. A .env file beside the config file is loaded
// first if present; variables already set are not overridden.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	loadDotEnv(filepath.Join(filepath.Dir(path), ".env"))

	return Parse(data)
}

// Parse builds a Config from YAML bytes
func Parse(data []byte) (*Config, error) {
	cfg := newConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.applyEnv()
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns a configuration with every default applied, for
// commands that run without a config file
func Default() *Config {
	cfg := newConfig()
	cfg.applyEnv()
	cfg.applyDefaults()
	return &cfg
}

// newConfig presets the values whose zero is meaningful, so a key absent
// from the file keeps its default while an explicit zero is honoured
func newConfig() Config {
	return Config{Game: GameConfig{FourProbability: defaultFourProbability}}
}

func loadDotEnv(path string) {
	if _, err := os.Stat(path); err == nil {
		_ = godotenv.Load(path)
		return
	}
	// Fall back to the working directory; a missing file is fine
	_ = godotenv.Load()
}

func (c *Config) applyEnv() {
	setFromEnv(&c.Environment, "ENVIRONMENT")
	setFromEnv(&c.BaseURL, "BASE_URL")
	setFromEnv(&c.Database.Path, "DATABASE_URL")
	setFromEnv(&c.Log.Level, "LOG_LEVEL")
	setFromEnv(&c.Auth.JWTSecret, "JWT_SECRET")
	setFromEnv(&c.Stripe.SecretKey, "STRIPE_PRIVATE_KEY")
	setFromEnv(&c.Stripe.PriceID, "STRIPE_PRICE_ID")
	setFromEnv(&c.Stripe.EndpointSecret, "STRIPE_ENDPOINT_SECRET")
}

func setFromEnv(field *string, key string) {
	if v := os.Getenv(key); v != "" {
		*field = v
	}
}

func (c *Config) applyDefaults() {
	if c.Environment == "" {
		c.Environment = EnvDevelopment
	}
	if c.Server.ListenAddr == "" {
		c.Server.ListenAddr = "127.0.0.1"
	}
	if c.Server.HTTPPort == 0 {
		c.Server.HTTPPort = 8080
	}
	if c.Server.SweepInterval == 0 {
		c.Server.SweepInterval = 10 * time.Minute
	}
	// Note: StaticDir intentionally has no default - empty means don't serve static files
	if c.BaseURL == "" {
		if c.IsProduction() {
			c.BaseURL = productionBaseURL
		} else {
			c.BaseURL = fmt.Sprintf("http://localhost:%d", c.Server.HTTPPort)
		}
	}
	if c.Database.Path == "" {
		c.Database.Path = "/var/lib/play4096/play4096.db"
	}

	// Auth defaults
	if c.Auth.SessionDuration == 0 {
		c.Auth.SessionDuration = 30 * 24 * time.Hour
	}
	if c.Auth.SessionRenewWithin == 0 {
		c.Auth.SessionRenewWithin = 15 * 24 * time.Hour
	}
	if c.Auth.TokenDuration == 0 {
		c.Auth.TokenDuration = 24 * time.Hour
	}

	if c.Game.BoardSize == 0 {
		c.Game.BoardSize = 4
	}
	if c.Game.StartingTiles == 0 {
		c.Game.StartingTiles = 2
	}
	if c.Game.WinTile == 0 {
		c.Game.WinTile = 2048
	}

	if c.Log.Level == "" {
		if c.IsProduction() {
			c.Log.Level = "info"
		} else {
			c.Log.Level = "debug"
		}
	}
	if c.Log.Format == "" {
		if c.IsProduction() {
			c.Log.Format = "json"
		} else {
			c.Log.Format = "text"
		}
	}

	if c.RateLimit.RequestsPerSecond == 0 {
		c.RateLimit.RequestsPerSecond = 20
	}
	if c.RateLimit.Burst == 0 {
		c.RateLimit.Burst = 40
	}
}

// TrustedNets parses TrustedProxies. A bare address is treated as a
// single-host prefix.
func (s ServerConfig) TrustedNets() ([]netip.Prefix, error) {
	nets := make([]netip.Prefix, 0, len(s.TrustedProxies))
	for _, p := range s.TrustedProxies {
		p = strings.TrimSpace(p)
		if !strings.Contains(p, "/") {
			addr, err := netip.ParseAddr(p)
			if err != nil {
				return nil, fmt.Errorf("server.trusted_proxies: invalid address %q", p)
			}
			nets = append(nets, netip.PrefixFrom(addr.Unmap(), addr.Unmap().BitLen()))
			continue
		}
		prefix, err := netip.ParsePrefix(p)
		if err != nil {
			return nil, fmt.Errorf("server.trusted_proxies: invalid CIDR %q", p)
		}
		nets = append(nets, prefix.Masked())
	}
	return nets, nil
}

// Validate checks values that defaults cannot repair
func (c *Config) Validate() error {
	var errs []error
	if c.Environment != EnvDevelopment && c.Environment != EnvProduction {
		errs = append(errs, fmt.Errorf("environment must be %q or %q", EnvDevelopment, EnvProduction))
	}
	if c.Game.BoardSize < 2 || c.Game.BoardSize > 8 {
		errs = append(errs, fmt.Errorf("game.board_size must be between 2 and 8"))
	}
	if c.Game.StartingTiles < 1 || c.Game.StartingTiles > c.Game.BoardSize*c.Game.BoardSize {
		errs = append(errs, fmt.Errorf("game.starting_tiles must fit on the board"))
	}
	if w := c.Game.WinTile; w < 8 || w&(w-1) != 0 {
		errs = append(errs, fmt.Errorf("game.win_tile must be a power of two of at least 8"))
	}
	if p := c.Game.FourProbability; p < 0 || p > 1 {
		errs = append(errs, fmt.Errorf("game.four_probability must be between 0 and 1"))
	}
	if c.Auth.SessionRenewWithin >= c.Auth.SessionDuration {
		errs = append(errs, fmt.Errorf("auth.session_renew_within must be shorter than auth.session_duration"))
	}
	if _, err := c.Server.TrustedNets(); err != nil {
		errs = append(errs, err)
	}
	if c.IsProduction() && c.Auth.JWTSecret == "" {
		errs = append(errs, fmt.Errorf("auth.jwt_secret is required in production"))
	}
	return errors.Join(errs...)
}
