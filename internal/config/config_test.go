package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigMethods(t *testing.T) {
	t.Run("Addr returns formatted port", func(t *testing.T) {
		cfg := &Config{Port: 3000}
		assert.Equal(t, ":3000", cfg.Addr())
	})

	t.Run("TokenTTL converts hours to duration", func(t *testing.T) {
		cfg := &Config{TokenTTLHours: 72}
		assert.Equal(t, 72*time.Hour, cfg.TokenTTL())
	})

	t.Run("IdentityCacheTTL converts seconds to duration", func(t *testing.T) {
		cfg := &Config{IdentityCacheSec: 30}
		assert.Equal(t, 30*time.Second, cfg.IdentityCacheTTL())
	})
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		return &Config{
			Port:          8080,
			DatabaseURL:   "postgres://localhost/gateway",
			RedisURL:      "redis://localhost:6379",
			LANInterface:  "br0",
			PortalHost:    "10.0.0.1",
			TokenTTLHours: 72,
		}
	}

	t.Run("valid config passes", func(t *testing.T) {
		assert.NoError(t, base().Validate(false))
	})

	t.Run("rejects non-bcrypt admin hash", func(t *testing.T) {
		cfg := base()
		cfg.AdminPasswordHash = "plaintext-password"
		assert.Error(t, cfg.Validate(false))
	})

	t.Run("accepts bcrypt admin hash", func(t *testing.T) {
		cfg := base()
		cfg.AdminPasswordHash = "$2a$12$abcdefghijklmnopqrstuv"
		assert.NoError(t, cfg.Validate(false))
	})

	t.Run("rejects non-positive token ttl", func(t *testing.T) {
		cfg := base()
		cfg.TokenTTLHours = 0
		assert.Error(t, cfg.Validate(false))
	})

	t.Run("rejects empty lan interface", func(t *testing.T) {
		cfg := base()
		cfg.LANInterface = ""
		assert.Error(t, cfg.Validate(false))
	})
}

func TestLoad(t *testing.T) {
	originalEnv := map[string]string{
		"PORT":             os.Getenv("PORT"),
		"DATABASE_URL":     os.Getenv("DATABASE_URL"),
		"REDIS_URL":        os.Getenv("REDIS_URL"),
		"LAN_INTERFACE":    os.Getenv("LAN_INTERFACE"),
		"PORTAL_HOST":      os.Getenv("PORTAL_HOST"),
		"DHCP_LEASE_FILES": os.Getenv("DHCP_LEASE_FILES"),
		"TOKEN_TTL_HOURS":  os.Getenv("TOKEN_TTL_HOURS"),
	}
	defer func() {
		for k, v := range originalEnv {
			if v == "" {
				os.Unsetenv(k)
			} else {
				os.Setenv(k, v)
			}
		}
	}()

	t.Run("loads config with defaults", func(t *testing.T) {
		os.Setenv("DATABASE_URL", "postgres://localhost/gateway_test")
		os.Setenv("REDIS_URL", "redis://localhost:6379")
		os.Unsetenv("PORT")
		os.Unsetenv("LAN_INTERFACE")
		os.Unsetenv("PORTAL_HOST")
		os.Unsetenv("DHCP_LEASE_FILES")
		os.Unsetenv("TOKEN_TTL_HOURS")

		cfg, err := Load()
		require.NoError(t, err)
		assert.Equal(t, 8080, cfg.Port)
		assert.Equal(t, "br0", cfg.LANInterface)
		assert.Equal(t, "10.0.0.1", cfg.PortalHost)
		assert.Equal(t, []string{"/var/lib/misc/dnsmasq.leases"}, cfg.DHCPLeaseFiles)
		assert.Equal(t, 72, cfg.TokenTTLHours)
	})

	t.Run("splits lease files on colon", func(t *testing.T) {
		os.Setenv("DATABASE_URL", "postgres://localhost/gateway_test")
		os.Setenv("REDIS_URL", "redis://localhost:6379")
		os.Setenv("DHCP_LEASE_FILES", "/var/lib/misc/a.leases:/var/lib/misc/b.leases")

		cfg, err := Load()
		require.NoError(t, err)
		assert.Equal(t, []string{"/var/lib/misc/a.leases", "/var/lib/misc/b.leases"}, cfg.DHCPLeaseFiles)
	})

	t.Run("fails without database url", func(t *testing.T) {
		os.Unsetenv("DATABASE_URL")
		os.Setenv("REDIS_URL", "redis://localhost:6379")

		_, err := Load()
		assert.Error(t, err)
	})
}
