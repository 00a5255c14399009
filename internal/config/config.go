package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

type Config struct {
	Port                   string
	AllowedOrigin          string
	DatabaseURL            string
	RedisAddr              string
	RedisPassword          string
	RedisDB                int
	AuthSecret             string
	AccessTokenTTLMinutes  int
	CatalogCacheTTLSeconds int
	SettleTimeoutSeconds   int
	CompositePlans         []string
	ManageUserPlans        []string
	BootstrapTenant        string
	BootstrapAdminUser     string
	BootstrapAdminPassword string
}

func Load() Config {
	redisDB, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))
	cacheTTL, err := strconv.Atoi(getEnv("CATALOG_CACHE_TTL_SECONDS", "20"))
	if err != nil || cacheTTL < 1 {
		cacheTTL = 20
	}
	tokenTTL, err := strconv.Atoi(getEnv("ACCESS_TOKEN_TTL_MINUTES", "480"))
	if err != nil || tokenTTL < 1 {
		tokenTTL = 480
	}
	settleTimeout, err := strconv.Atoi(getEnv("SETTLE_TIMEOUT_SECONDS", "5"))
	if err != nil || settleTimeout < 1 {
		settleTimeout = 5
	}

	cfg := Config{
		Port:                   getEnv("PORT", "8080"),
		AllowedOrigin:          getEnv("ALLOWED_ORIGIN", "http://127.0.0.1:3000"),
		DatabaseURL:            os.Getenv("DATABASE_URL"),
		RedisAddr:              os.Getenv("REDIS_ADDR"),
		RedisPassword:          os.Getenv("REDIS_PASSWORD"),
		RedisDB:                redisDB,
		AuthSecret:             strings.TrimSpace(os.Getenv("AUTH_SECRET")),
		AccessTokenTTLMinutes:  tokenTTL,
		CatalogCacheTTLSeconds: cacheTTL,
		SettleTimeoutSeconds:   settleTimeout,
		CompositePlans:         splitList(getEnv("COMPOSITE_PLANS", "pro,ultra")),
		ManageUserPlans:        splitList(getEnv("MANAGE_USER_PLANS", "ultra")),
		BootstrapTenant:        getEnv("BOOTSTRAP_TENANT", "Default Store"),
		BootstrapAdminUser:     strings.TrimSpace(os.Getenv("BOOTSTRAP_ADMIN_USER")),
		BootstrapAdminPassword: os.Getenv("BOOTSTRAP_ADMIN_PASSWORD"),
	}

	return cfg
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func getEnv(key string, fallback string) string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return val
}
