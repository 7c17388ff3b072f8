package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config groups the service configuration, read with viper from the
// environment and optionally from a .env file.
type Config struct {
	App       AppConfig
	HTTP      HTTPConfig
	Provider  ProviderConfig
	Store     StoreConfig
	Redis     RedisConfig
	Lifecycle LifecycleConfig
}

// AppConfig is general application configuration.
type AppConfig struct {
	Env      string // development, staging, production
	Name     string
	LogLevel string

	// PublicURL is the externally reachable base URL the provider posts webhooks to.
	PublicURL string
}

// HTTPConfig is the HTTP listener configuration.
type HTTPConfig struct {
	Host string
	Port int
}

// Addr returns the listen address (host:port).
func (c HTTPConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// ProviderConfig points at the WhatsApp gateway.
type ProviderConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// StoreConfig selects and configures the instance store.
type StoreConfig struct {
	// Backend is "postgres", "memory" or empty for automatic selection.
	Backend       string
	DatabaseURL   string
	EncryptionKey string
}

// RedisConfig enables the read-through cache when Addr is set.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

// Enabled reports whether a cache is configured.
func (c RedisConfig) Enabled() bool {
	return c.Addr != ""
}

// LifecycleConfig tunes instance provisioning.
type LifecycleConfig struct {
	InstancesPerTenant int
	QRGraceInterval    time.Duration
}

// Load reads the configuration. Environment variables take precedence over
// the optional .env file.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName(".env")
	v.SetConfigType("env")
	v.AddConfigPath(".")
	_ = v.ReadInConfig() // optional

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	return fromViper(v)
}

func fromViper(v *viper.Viper) (*Config, error) {
	port := getInt(v, "HTTP_PORT", getInt(v, "PORT", 3000))

	cfg := &Config{
		App: AppConfig{
			Env:       getString(v, "APP_ENV", "development"),
			Name:      getString(v, "APP_NAME", "whatsapp-instance-service"),
			LogLevel:  getString(v, "LOG_LEVEL", "info"),
			PublicURL: strings.TrimRight(getString(v, "APP_URL", fmt.Sprintf("http://localhost:%d", port)), "/"),
		},
		HTTP: HTTPConfig{
			Host: getString(v, "HTTP_HOST", "0.0.0.0"),
			Port: port,
		},
		Provider: ProviderConfig{
			BaseURL: strings.TrimRight(getString(v, "EVOLUTION_API_URL", ""), "/"),
			APIKey:  getString(v, "EVOLUTION_API_KEY", ""),
			Timeout: getDuration(v, "EVOLUTION_TIMEOUT", 15*time.Second),
		},
		Store: StoreConfig{
			Backend:       strings.ToLower(getString(v, "STORE_BACKEND", "")),
			DatabaseURL:   getString(v, "DATABASE_URL", getString(v, "POSTGRES_URL", "")),
			EncryptionKey: getString(v, "EMAIL_ENCRYPTION_KEY", ""),
		},
		Redis: RedisConfig{
			Addr:     getString(v, "REDIS_ADDR", ""),
			Password: getString(v, "REDIS_PASSWORD", ""),
			DB:       getInt(v, "REDIS_DB", 0),
			TTL:      getDuration(v, "CACHE_TTL", 30*time.Second),
		},
		Lifecycle: LifecycleConfig{
			InstancesPerTenant: getInt(v, "INSTANCES_PER_TENANT", 5),
			QRGraceInterval:    getDuration(v, "QR_GRACE_INTERVAL", 2*time.Second),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Provider.BaseURL == "" {
		return fmt.Errorf("EVOLUTION_API_URL is required")
	}
	switch c.Store.Backend {
	case "", "postgres", "memory":
	default:
		return fmt.Errorf("unknown STORE_BACKEND %q", c.Store.Backend)
	}
	if c.Store.Backend == "postgres" && c.Store.DatabaseURL == "" {
		return fmt.Errorf("STORE_BACKEND=postgres requires DATABASE_URL")
	}
	switch len(c.Store.EncryptionKey) {
	case 0, 16, 24, 32:
	default:
		return fmt.Errorf("EMAIL_ENCRYPTION_KEY must be 16, 24 or 32 bytes")
	}
	if c.Lifecycle.InstancesPerTenant < 1 || c.Lifecycle.InstancesPerTenant > 20 {
		return fmt.Errorf("INSTANCES_PER_TENANT must be between 1 and 20")
	}
	return nil
}

func getString(v *viper.Viper, key, def string) string {
	if v.IsSet(key) {
		return v.GetString(key)
	}
	return def
}

func getInt(v *viper.Viper, key string, def int) int {
	if v.IsSet(key) {
		switch v.Get(key).(type) {
		case int:
			return v.GetInt(key)
		case string:
			n, err := strconv.Atoi(strings.TrimSpace(v.GetString(key)))
			if err != nil {
				return def
			}
			return n
		default:
			return v.GetInt(key)
		}
	}
	return def
}

// getDuration accepts Go durations ("2s") and bare numbers of seconds.
func getDuration(v *viper.Viper, key string, def time.Duration) time.Duration {
	if !v.IsSet(key) {
		return def
	}
	raw := strings.TrimSpace(v.GetString(key))
	if n, err := strconv.Atoi(raw); err == nil {
		return time.Duration(n) * time.Second
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return def
	}
	return d
}
