package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Config holds every option the client runtime reads at startup. Nothing in
// the runtime mutates it after Load returns.
type Config struct {
	Server        ServerConfig        `koanf:"server"`
	API           APIConfig           `koanf:"api"`
	OAuth         OAuthConfig         `koanf:"oauth"`
	Cache         CacheConfig         `koanf:"cache"`
	Polling       PollingConfig       `koanf:"polling"`
	Notifications NotificationsConfig `koanf:"notifications"`
	Dashboard     DashboardConfig     `koanf:"dashboard"`
}

// ServerConfig collects the view bridge listener and logging knobs.
type ServerConfig struct {
	Listen  ListenConfig  `koanf:"listen"`
	Logging LoggingConfig `koanf:"logging"`
}

// ListenConfig instructs the HTTP listener about bind address and port.
type ListenConfig struct {
	Address string `koanf:"address"`
	Port    int    `koanf:"port"`
}

// LoggingConfig expresses log level, format, and correlation ID wiring.
type LoggingConfig struct {
	Level             string `koanf:"level"`
	Format            string `koanf:"format"`
	CorrelationHeader string `koanf:"correlationHeader"`
}

// APIConfig points the client at the marketplace backend.
type APIConfig struct {
	BaseURL   string `koanf:"baseURL"`
	Token     string `koanf:"token"`
	Timeout   string `koanf:"timeout"`
	UserAgent string `koanf:"userAgent"`
}

// OAuthConfig carries the public client identifiers for the connect flows.
type OAuthConfig struct {
	Instagram OAuthProviderConfig `koanf:"instagram"`
	YouTube   OAuthProviderConfig `koanf:"youtube"`
}

type OAuthProviderConfig struct {
	ClientID    string `koanf:"clientID"`
	RedirectURL string `koanf:"redirectURL"`
}

type CacheConfig struct {
	StaleTime string        `koanf:"staleTime"`
	Persist   PersistConfig `koanf:"persist"`
}

type PersistConfig struct {
	Backend   string      `koanf:"backend"`
	TTL       string      `koanf:"ttl"`
	Namespace string      `koanf:"namespace"`
	Redis     RedisConfig `koanf:"redis"`
}

type RedisConfig struct {
	Address  string         `koanf:"address"`
	Username string         `koanf:"username"`
	Password string         `koanf:"password"`
	DB       int            `koanf:"db"`
	TLS      RedisTLSConfig `koanf:"tls"`
}

type RedisTLSConfig struct {
	Enabled bool   `koanf:"enabled"`
	CAFile  string `koanf:"caFile"`
}

type PollingConfig struct {
	Analytics PollConfig `koanf:"analytics"`
}

// PollConfig describes one periodic refetch. Retries applies per tick.
type PollConfig struct {
	Interval   string `koanf:"interval"`
	Retries    int    `koanf:"retries"`
	RetryDelay string `koanf:"retryDelay"`
}

type NotificationsConfig struct {
	Templates map[string]NoticeTemplateConfig `koanf:"templates"`
}

// NoticeTemplateConfig holds text/template sources keyed by terminal state.
type NoticeTemplateConfig struct {
	Success string `koanf:"success"`
	Error   string `koanf:"error"`
}

type DashboardConfig struct {
	Role string `koanf:"role"`
}

// APITimeout parses api.timeout. Validate guarantees it parses.
func (c Config) APITimeout() time.Duration { return mustDuration(c.API.Timeout) }

// StaleTime parses cache.staleTime.
func (c Config) StaleTime() time.Duration { return mustDuration(c.Cache.StaleTime) }

// PersistTTL parses cache.persist.ttl.
func (c Config) PersistTTL() time.Duration { return mustDuration(c.Cache.Persist.TTL) }

// Every parses the poll interval.
func (c PollConfig) Every() time.Duration { return mustDuration(c.Interval) }

// Delay parses the retry delay.
func (c PollConfig) Delay() time.Duration { return mustDuration(c.RetryDelay) }

func mustDuration(value string) time.Duration {
	if strings.TrimSpace(value) == "" {
		return 0
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0
	}
	return d
}

// Validate enforces invariants that keep the runtime predictable before serving views.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config: nil")
	}
	if c.Server.Listen.Port <= 0 || c.Server.Listen.Port > 65535 {
		return fmt.Errorf("config: listen.port invalid: %d", c.Server.Listen.Port)
	}
	base := strings.TrimSpace(c.API.BaseURL)
	if base == "" {
		return errors.New("config: api.baseURL required")
	}
	parsed, err := url.Parse(base)
	if err != nil || parsed.Host == "" || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return fmt.Errorf("config: api.baseURL invalid: %q", c.API.BaseURL)
	}
	durations := map[string]string{
		"api.timeout":                  c.API.Timeout,
		"cache.staleTime":              c.Cache.StaleTime,
		"cache.persist.ttl":            c.Cache.Persist.TTL,
		"polling.analytics.interval":   c.Polling.Analytics.Interval,
		"polling.analytics.retryDelay": c.Polling.Analytics.RetryDelay,
	}
	for name, value := range durations {
		if strings.TrimSpace(value) == "" {
			continue
		}
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("config: %s invalid: %w", name, err)
		}
		if d < 0 {
			return fmt.Errorf("config: %s negative: %s", name, value)
		}
	}
	if c.Polling.Analytics.Retries < 0 {
		return fmt.Errorf("config: polling.analytics.retries invalid: %d", c.Polling.Analytics.Retries)
	}
	backend := strings.TrimSpace(strings.ToLower(c.Cache.Persist.Backend))
	switch backend {
	case "", "none":
	case "redis":
		if strings.TrimSpace(c.Cache.Persist.Redis.Address) == "" {
			return errors.New("config: cache.persist.redis.address required for redis backend")
		}
	default:
		return fmt.Errorf("config: cache.persist.backend unsupported: %s", c.Cache.Persist.Backend)
	}
	role := strings.TrimSpace(strings.ToLower(c.Dashboard.Role))
	switch role {
	case "company", "influencer":
		c.Dashboard.Role = role
	default:
		return fmt.Errorf("config: dashboard.role unsupported: %q", c.Dashboard.Role)
	}
	for name, provider := range map[string]OAuthProviderConfig{"instagram": c.OAuth.Instagram, "youtube": c.OAuth.YouTube} {
		if provider.RedirectURL == "" {
			continue
		}
		if _, err := url.ParseRequestURI(provider.RedirectURL); err != nil {
			return fmt.Errorf("config: oauth.%s.redirectURL invalid: %w", name, err)
		}
	}
	return nil
}

// DefaultConfig returns the baseline values used when neither a file nor the
// environment overrides them.
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Listen: ListenConfig{
				Address: "127.0.0.1",
				Port:    8080,
			},
			Logging: LoggingConfig{
				Level:             "info",
				Format:            "json",
				CorrelationHeader: "X-Request-ID",
			},
		},
		API: APIConfig{
			BaseURL:   "http://localhost:8000/api",
			Timeout:   "15s",
			UserAgent: "influencehub",
		},
		Cache: CacheConfig{
			StaleTime: "30s",
			Persist: PersistConfig{
				Backend:   "none",
				TTL:       "10m",
				Namespace: "influencehub:query:v1",
			},
		},
		Polling: PollingConfig{
			Analytics: PollConfig{
				Interval:   "60s",
				Retries:    3,
				RetryDelay: "2s",
			},
		},
		Dashboard: DashboardConfig{
			Role: "company",
		},
	}
}
