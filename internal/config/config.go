package config

import (
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Port      string
	PublicURL string

	// Backend API
	APIBaseURL     string
	DevAddress     string
	DevPort        string
	SystemUsername string
	SystemPassword string
	RequestTimeout time.Duration
	TokenFile      string
	TokenKey       string

	// Themes
	ThemesDir      string
	ModuleCacheTTL time.Duration

	// Message bus
	KafkaBrokers       string
	KafkaConsumerGroup string

	// HTTP surface
	AllowedOrigins  string
	AdminToken      string
	RateLimitRPS    float64
	RateLimitBurst  int
	ShutdownTimeout time.Duration

	LogLevel  string
	LogFormat string
}

func Load() *Config {
	return &Config{
		Port:      getEnv("PORT", "22100"),
		PublicURL: getEnv("PUBLIC_URL", ""),

		APIBaseURL:     getEnv("API_BASE_URL", "http://127.0.0.1:22000"),
		DevAddress:     getEnv("DEV_ADDRESS", "localhost"),
		DevPort:        getEnv("DEV_PORT", "22100"),
		SystemUsername: getEnv("SYSTEM_USERNAME", ""),
		SystemPassword: getEnv("SYSTEM_PASSWORD", ""),
		RequestTimeout: getDuration("REQUEST_TIMEOUT", 10*time.Second),
		TokenFile:      getEnv("TOKEN_FILE", ""),
		TokenKey:       getEnv("TOKEN_ENCRYPTION_KEY", ""),

		ThemesDir:      getEnv("THEMES_DIR", ""),
		ModuleCacheTTL: getDuration("MODULE_CACHE_TTL", 10*time.Minute),

		KafkaBrokers:       getEnv("KAFKA_BROKERS", ""),
		KafkaConsumerGroup: getEnv("KAFKA_CONSUMER_GROUP", "echoes-site"),

		AllowedOrigins:  getEnv("ALLOWED_ORIGINS", "http://localhost:3000"),
		AdminToken:      getEnv("ADMIN_TOKEN", ""),
		RateLimitRPS:    getFloat("RATE_LIMIT_RPS", 20),
		RateLimitBurst:  getInt("RATE_LIMIT_BURST", 40),
		ShutdownTimeout: getDuration("SHUTDOWN_TIMEOUT", 10*time.Second),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "text"),
	}
}

// SiteURL is the address clients reach this server at.
func (c *Config) SiteURL() string {
	if c.PublicURL != "" {
		return strings.TrimRight(c.PublicURL, "/")
	}
	return "http://localhost:" + c.Port
}

// DevBaseURL is the companion development process address. It listens one
// port above the configured dev port.
func (c *Config) DevBaseURL() string {
	port, err := strconv.Atoi(c.DevPort)
	if err != nil {
		port = 22100
	}
	u := url.URL{Scheme: "http", Host: c.DevAddress + ":" + strconv.Itoa(port+1)}
	return u.String()
}

// Origins splits AllowedOrigins into trimmed, non-empty entries.
func (c *Config) Origins() []string {
	var out []string
	for _, o := range strings.Split(c.AllowedOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// getDuration accepts Go duration strings ("15s") or a bare number of
// milliseconds.
func getDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if ms, err := strconv.Atoi(v); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	return fallback
}

func getInt(key string, fallback int) int {
	if n, err := strconv.Atoi(os.Getenv(key)); err == nil && n > 0 {
		return n
	}
	return fallback
}

func getFloat(key string, fallback float64) float64 {
	if f, err := strconv.ParseFloat(os.Getenv(key), 64); err == nil && f > 0 {
		return f
	}
	return fallback
}
