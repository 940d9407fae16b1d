package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	HTTPAddr          string
	DatabaseURL       string
	JWTSecret         string
	JWTIssuer         string
	AccessTokenTTL    time.Duration
	OpenWeatherAPIKey string
	GeocodeBaseURL    string
	GeocodeTimeout    time.Duration
	GeocodeCacheTTL   time.Duration
	RedisAddr         string
	RedisPassword     string
}

func Load() Config {
	return Config{
		HTTPAddr:          getenv("HTTP_ADDR", ":8080"),
		DatabaseURL:       getenv("DATABASE_URL", ""),
		JWTSecret:         getenv("JWT_SECRET", ""),
		JWTIssuer:         getenv("JWT_ISSUER", "dair-api"),
		AccessTokenTTL:    getenvDuration("ACCESS_TOKEN_TTL", time.Hour),
		OpenWeatherAPIKey: getenv("OPENWEATHER_API_KEY", ""),
		GeocodeBaseURL:    getenv("GEOCODE_BASE_URL", "http://api.openweathermap.org/geo/1.0/direct"),
		GeocodeTimeout:    getenvDuration("GEOCODE_TIMEOUT", 10*time.Second),
		GeocodeCacheTTL:   getenvDuration("GEOCODE_CACHE_TTL", 24*time.Hour),
		RedisAddr:         getenv("REDIS_ADDR", ""),
		RedisPassword:     getenv("REDIS_PASSWORD", ""),
	}
}

// Validate reports every required variable that is unset. Secrets and
// connection strings have no fallback values on purpose.
func (c Config) Validate() error {
	var missing []string
	if c.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}
	if c.JWTSecret == "" {
		missing = append(missing, "JWT_SECRET")
	}
	if c.OpenWeatherAPIKey == "" {
		missing = append(missing, "OPENWEATHER_API_KEY")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required environment variables: %s", strings.Join(missing, ", "))
	}
	return nil
}

func getenv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if parsed, err := time.ParseDuration(val); err == nil {
			return parsed
		}
	}
	if val := os.Getenv(key + "_SECONDS"); val != "" {
		if seconds, err := strconv.Atoi(val); err == nil {
			return time.Duration(seconds) * time.Second
		}
	}
	return fallback
}
