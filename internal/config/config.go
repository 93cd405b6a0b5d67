package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/rs/zerolog/log"
)

var knownWeakPasswords = []string{
	"change-me", "dev-secret-change-me", "secret", "admin", "password",
}

type Config struct {
	Port        int    `env:"PORT" envDefault:"8080"`
	DatabaseURL string `env:"DATABASE_URL,required"`
	RedisURL    string `env:"REDIS_URL,required"`

	// LANInterface is the interface facing the kiosk clients. Shaping
	// classes and the root qdisc hang off this interface unless a VLAN
	// serves the client address.
	LANInterface string `env:"LAN_INTERFACE" envDefault:"br0"`

	// PortalHost is the canonical host all unadmitted non-probe traffic is
	// redirected to, so the migration token lives on a single origin.
	PortalHost string `env:"PORTAL_HOST" envDefault:"10.0.0.1"`

	AdminPasswordHash string `env:"ADMIN_PASSWORD_HASH"`

	// Lease files scanned as the identity resolver's last resort.
	DHCPLeaseFiles []string `env:"DHCP_LEASE_FILES" envSeparator:":" envDefault:"/var/lib/misc/dnsmasq.leases"`

	TokenTTLHours    int    `env:"TOKEN_TTL_HOURS" envDefault:"72"`
	IdentityCacheSec int    `env:"IDENTITY_CACHE_SECONDS" envDefault:"30"`
	LogLevel         string `env:"LOG_LEVEL" envDefault:"info"`
}

func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

func (c *Config) TokenTTL() time.Duration {
	return time.Duration(c.TokenTTLHours) * time.Hour
}

func (c *Config) IdentityCacheTTL() time.Duration {
	return time.Duration(c.IdentityCacheSec) * time.Second
}

func (c *Config) Validate(isProduction bool) error {
	if c.AdminPasswordHash != "" {
		if !strings.HasPrefix(c.AdminPasswordHash, "$2a$") &&
			!strings.HasPrefix(c.AdminPasswordHash, "$2b$") &&
			!strings.HasPrefix(c.AdminPasswordHash, "$2y$") {
			return fmt.Errorf("ADMIN_PASSWORD_HASH must be a bcrypt hash (generate with: go run scripts/hash-password.go <password>)")
		}
	}

	if isProduction {
		if c.AdminPasswordHash == "" {
			log.Warn().Msg("ADMIN_PASSWORD_HASH is empty in production: admin endpoints disabled")
		}
		if strings.HasPrefix(c.RedisURL, "redis://") {
			log.Warn().Msg("REDIS_URL uses redis:// (not TLS) in production: consider using rediss://")
		}
	}

	if c.TokenTTLHours <= 0 {
		return fmt.Errorf("TOKEN_TTL_HOURS must be positive")
	}
	if c.LANInterface == "" {
		return fmt.Errorf("LAN_INTERFACE must not be empty")
	}

	return nil
}

func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
