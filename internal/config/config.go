package config

import (
	"errors"
	"fmt"
	"net/netip"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
)

// EnvPrefix namespaces every environment variable read by Load.
const EnvPrefix = "TASKFLOW_"

// Config is the full server configuration.
type Config struct {
	HTTP     HTTPConfig     `koanf:"http" envPrefix:"HTTP_"`
	GRPC     GRPCConfig     `koanf:"grpc" envPrefix:"GRPC_"`
	Auth     AuthConfig     `koanf:"auth" envPrefix:"AUTH_"`
	Database DatabaseConfig `koanf:"database" envPrefix:"DATABASE_"`
	Redis    RedisConfig    `koanf:"redis" envPrefix:"REDIS_"`
	Log      LogConfig      `koanf:"log" envPrefix:"LOG_"`
}

type HTTPConfig struct {
	Addr              string        `koanf:"addr" env:"ADDR"`
	AllowedOrigins    []string      `koanf:"allowed_origins" env:"ALLOWED_ORIGINS"`
	RateLimitRPS      float64       `koanf:"rate_limit_rps" env:"RATE_LIMIT_RPS"`
	RateLimitBurst    int           `koanf:"rate_limit_burst" env:"RATE_LIMIT_BURST"`
	ReadHeaderTimeout time.Duration `koanf:"read_header_timeout" env:"READ_HEADER_TIMEOUT"`
	ShutdownTimeout   time.Duration `koanf:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
	// TrustedProxies holds CIDRs or single addresses of reverse proxies.
	TrustedProxies    []string      `koanf:"trusted_proxies" env:"TRUSTED_PROXIES"`
}

// TrustedProxyPrefixes parses TrustedProxies. A bare address becomes a single-host prefix.
func (c HTTPConfig) TrustedProxyPrefixes() ([]netip.Prefix, error) {
	out := make([]netip.Prefix, 0, len(c.TrustedProxies))
	for _, raw := range c.TrustedProxies {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		if strings.Contains(raw, "/") {
			p, err := netip.ParsePrefix(raw)
			if err != nil {
				return nil, fmt.Errorf("http.trusted_proxies: %w", err)
			}
			out = append(out, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(raw)
		if err != nil {
			return nil, fmt.Errorf("http.trusted_proxies: %w", err)
		}
		addr = addr.Unmap()
		out = append(out, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return out, nil
}

// GRPCConfig configures the health listener. An empty address disables it.
type GRPCConfig struct {
	Addr string `koanf:"addr" env:"ADDR"`
}

type AuthConfig struct {
	Secret          string        `koanf:"secret" env:"SECRET"`
	Issuer          string        `koanf:"issuer" env:"ISSUER"`
	AccessTTL       time.Duration `koanf:"access_ttl" env:"ACCESS_TTL"`
	RefreshTTL      time.Duration `koanf:"refresh_ttl" env:"REFRESH_TTL"`
	BcryptCost      int           `koanf:"bcrypt_cost" env:"BCRYPT_COST"`
	HashConcurrency int           `koanf:"hash_concurrency" env:"HASH_CONCURRENCY"`
}

// DatabaseConfig selects PostgreSQL. An empty DSN keeps everything in memory.
type DatabaseConfig struct {
	DSN string `koanf:"dsn" env:"DSN"`
}

// RedisConfig enables the login throttle when Addr is set.
type RedisConfig struct {
	Addr        string        `koanf:"addr" env:"ADDR"`
	Password    string        `koanf:"password" env:"PASSWORD"`
	DB          int           `koanf:"db" env:"DB"`
	MaxFailures int           `koanf:"max_failures" env:"MAX_FAILURES"`
	Window      time.Duration `koanf:"window" env:"WINDOW"`
}

type LogConfig struct {
	Level string `koanf:"level" env:"LEVEL"`
}

// Default returns the configuration used when nothing overrides it.
func Default() Config {
	return Config{
		HTTP: HTTPConfig{
			Addr:              ":8080",
			RateLimitRPS:      20,
			RateLimitBurst:    40,
			ReadHeaderTimeout: 5 * time.Second,
			ShutdownTimeout:   10 * time.Second,
		},
		Auth: AuthConfig{
			Issuer:     "taskflow",
			AccessTTL:  15 * time.Minute,
			RefreshTTL: 14 * 24 * time.Hour,
			BcryptCost: 10,
		},
		Redis: RedisConfig{
			MaxFailures: 5,
			Window:      15 * time.Minute,
		},
		Log: LogConfig{Level: "info"},
	}
}

// flagKeys maps CLI flag names onto configuration keys.
var flagKeys = map[string]string{
	"http-addr":         "http.addr",
	"grpc-addr":         "grpc.addr",
	"database-dsn":      "database.dsn",
	"redis-addr":        "redis.addr",
	"log-level":         "log.level",
	"auth-issuer":       "auth.issuer",
	"auth-access-ttl":   "auth.access_ttl",
	"auth-refresh-ttl":  "auth.refresh_ttl",
	"auth-bcrypt-cost":  "auth.bcrypt_cost",
	"allowed-origins":   "http.allowed_origins",
	"rate-limit-rps":    "http.rate_limit_rps",
	"rate-limit-burst":  "http.rate_limit_burst",
	"shutdown-timeout":  "http.shutdown_timeout",
	"redis-max-failure": "redis.max_failures",
	"trusted-proxies":   "http.trusted_proxies",
}

// BindFlags registers the overridable settings on fs. Only flags the user sets
// take part in Load.
func BindFlags(fs *pflag.FlagSet) {
	d := Default()
	fs.String("config", "", "path to a YAML configuration file")
	fs.String("http-addr", d.HTTP.Addr, "HTTP listen address")
	fs.String("grpc-addr", d.GRPC.Addr, "gRPC health listen address (empty disables)")
	fs.String("database-dsn", d.Database.DSN, "PostgreSQL DSN (empty uses in-memory stores)")
	fs.String("redis-addr", d.Redis.Addr, "Redis address for the login throttle (empty disables)")
	fs.String("log-level", d.Log.Level, "log level: debug, info, warn, error")
	fs.String("auth-issuer", d.Auth.Issuer, "token issuer")
	fs.Duration("auth-access-ttl", d.Auth.AccessTTL, "access token lifetime")
	fs.Duration("auth-refresh-ttl", d.Auth.RefreshTTL, "refresh token lifetime")
	fs.Int("auth-bcrypt-cost", d.Auth.BcryptCost, "bcrypt cost")
	fs.StringSlice("allowed-origins", nil, "CORS allowed origins")
	fs.Float64("rate-limit-rps", d.HTTP.RateLimitRPS, "per-IP request rate")
	fs.Int("rate-limit-burst", d.HTTP.RateLimitBurst, "per-IP burst")
	fs.Duration("shutdown-timeout", d.HTTP.ShutdownTimeout, "graceful shutdown timeout")
	fs.Int("redis-max-failure", d.Redis.MaxFailures, "failed logins allowed per window")
	fs.StringSlice("trusted-proxies", nil, "proxy CIDRs whose X-Forwarded-For is trusted")
}

// Load resolves configuration: defaults, then the YAML file named by --config, then
// TASKFLOW_* environment variables, then flags set explicitly on fs. fs may be nil.
func Load(fs *pflag.FlagSet) (Config, error) {
	return load(fs, os.Environ())
}

func load(fs *pflag.FlagSet, environ []string) (Config, error) {
	cfg := Default()

	if path := configPath(fs); path != "" {
		k := koanf.New(".")
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return Config{}, fmt.Errorf("load config file %s: %w", path, err)
		}
		if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
			return Config{}, fmt.Errorf("decode config file %s: %w", path, err)
		}
	}

	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix, Environment: envMap(environ)}); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}

	if fs != nil {
		k := koanf.New(".")
		provider := posflag.ProviderWithFlag(fs, ".", k, func(f *pflag.Flag) (string, interface{}) {
			key, ok := flagKeys[f.Name]
			if !ok || !f.Changed {
				return "", nil
			}
			return key, posflag.FlagVal(fs, f)
		})
		if err := k.Load(provider, nil); err != nil {
			return Config{}, fmt.Errorf("load flags: %w", err)
		}
		if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
			return Config{}, fmt.Errorf("decode flags: %w", err)
		}
	}

	cfg.Auth.Secret = strings.TrimSpace(cfg.Auth.Secret)
	return cfg, nil
}

func configPath(fs *pflag.FlagSet) string {
	if fs == nil {
		return ""
	}
	path, err := fs.GetString("config")
	if err != nil {
		return ""
	}
	return strings.TrimSpace(path)
}

func envMap(environ []string) map[string]string {
	out := make(map[string]string, len(environ))
	for _, kv := range environ {
		if k, v, ok := strings.Cut(kv, "="); ok {
			out[k] = v
		}
	}
	return out
}

// Validate rejects configurations the server cannot start with.
func (c Config) Validate() error {
	var errs []error
	if c.Auth.Secret == "" {
		errs = append(errs, errors.New("auth.secret must not be empty"))
	}
	if c.Auth.AccessTTL < time.Second {
		errs = append(errs, errors.New("auth.access_ttl must be at least 1s"))
	}
	if c.Auth.RefreshTTL < time.Second {
		errs = append(errs, errors.New("auth.refresh_ttl must be at least 1s"))
	}
	if c.HTTP.Addr == "" {
		errs = append(errs, errors.New("http.addr must not be empty"))
	}
	if c.HTTP.RateLimitRPS <= 0 || c.HTTP.RateLimitBurst <= 0 {
		errs = append(errs, errors.New("http rate limit must be positive"))
	}
	if _, err := c.HTTP.TrustedProxyPrefixes(); err != nil {
		errs = append(errs, err)
	}
	if c.Redis.Addr != "" && (c.Redis.MaxFailures <= 0 || c.Redis.Window <= 0) {
		errs = append(errs, errors.New("redis throttle budget and window must be positive"))
	}
	return errors.Join(errs...)
}
