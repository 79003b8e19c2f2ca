package config

import "time"

// DBConfig contains PostgreSQL database configuration.
type DBConfig struct {
	Host     string `env:"HOST"     envDefault:"localhost"`
	Port     int    `env:"PORT"     envDefault:"5432"`
	User     string `env:"USER"     envDefault:"skycourier"`
	Password string `env:"PASSWORD" envDefault:"skycourier"`
	Name     string `env:"NAME"     envDefault:"skycourier"`
	SSLMode  string `env:"SSL_MODE" envDefault:"disable"` // Use 'disable' for local dev, 'require' for production
	// RunMigrationsOnStart controls whether the application automatically applies migrations during startup.
	RunMigrationsOnStart bool `env:"RUN_MIGRATIONS_ON_START" envDefault:"true"`
}

// CacheConfig contains the Redis cache configuration for weather readings.
// Leave RedisAddr empty to disable caching and hit the provider directly.
type CacheConfig struct {
	RedisAddr     string `env:"REDIS_ADDR"     envDefault:""`
	RedisPassword string `env:"REDIS_PASSWORD" envDefault:""`
	RedisDB       int    `env:"REDIS_DB"       envDefault:"0"`

	// WeatherTTL is the TTL for cached weather readings.
	WeatherTTL time.Duration `env:"WEATHER_TTL" envDefault:"5m"`
}

// Enabled reports whether a cache backend is configured.
func (c *CacheConfig) Enabled() bool {
	return c.RedisAddr != ""
}
