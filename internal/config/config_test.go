package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	assert.Equal(t, "22100", cfg.Port)
	assert.Equal(t, "http://127.0.0.1:22000", cfg.APIBaseURL)
	assert.Equal(t, 10*time.Second, cfg.RequestTimeout)
	assert.Equal(t, "echoes-site", cfg.KafkaConsumerGroup)
	assert.Empty(t, cfg.SystemUsername)
	assert.Empty(t, cfg.KafkaBrokers)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("API_BASE_URL", "api.example.com")
	t.Setenv("REQUEST_TIMEOUT", "2500")
	t.Setenv("MODULE_CACHE_TTL", "30s")

	cfg := Load()

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, "api.example.com", cfg.APIBaseURL)
	assert.Equal(t, 2500*time.Millisecond, cfg.RequestTimeout)
	assert.Equal(t, 30*time.Second, cfg.ModuleCacheTTL)
}

func TestDevBaseURL(t *testing.T) {
	t.Setenv("DEV_ADDRESS", "127.0.0.1")
	t.Setenv("DEV_PORT", "4000")

	assert.Equal(t, "http://127.0.0.1:4001", Load().DevBaseURL())
}

func TestSiteURL(t *testing.T) {
	cfg := &Config{Port: "8080"}
	assert.Equal(t, "http://localhost:8080", cfg.SiteURL())

	cfg.PublicURL = "https://blog.example.com/"
	assert.Equal(t, "https://blog.example.com", cfg.SiteURL())
}

func TestOrigins(t *testing.T) {
	cfg := &Config{AllowedOrigins: " http://a.test, ,http://b.test "}
	assert.Equal(t, []string{"http://a.test", "http://b.test"}, cfg.Origins())
}

func TestGetEnvFallback(t *testing.T) {
	assert.Equal(t, "fallback", getEnv("NONEXISTENT_VAR_12345", "fallback"))
	assert.Equal(t, time.Minute, getDuration("NONEXISTENT_VAR_12345", time.Minute))
}

func TestRateLimitSettings(t *testing.T) {
	cfg := Load()
	assert.Equal(t, 20.0, cfg.RateLimitRPS)
	assert.Equal(t, 40, cfg.RateLimitBurst)

	t.Setenv("RATE_LIMIT_RPS", "2.5")
	t.Setenv("RATE_LIMIT_BURST", "-1")
	cfg = Load()
	assert.Equal(t, 2.5, cfg.RateLimitRPS)
	assert.Equal(t, 40, cfg.RateLimitBurst)
}
