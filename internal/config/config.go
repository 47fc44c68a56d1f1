package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is the conversation client configuration.
type Config struct {
	Env        string
	APIBaseURL string
	WSURL      string
	Token      string

	PageSize     int
	RingTimeout  time.Duration
	PingInterval time.Duration

	GroupProximity time.Duration
	DayLocation    *time.Location
}

// Load reads the client configuration from the environment.
func Load() (*Config, error) {
	cfg := &Config{
		Env:        getEnv("APP_ENV", "development"),
		APIBaseURL: strings.TrimRight(getEnv("ZCHAT_API_URL", "http://localhost:8000/api"), "/"),
		WSURL:      os.Getenv("ZCHAT_WS_URL"),
		Token:      os.Getenv("ZCHAT_TOKEN"),

		PageSize:     getEnvAsInt("ZCHAT_PAGE_SIZE", 50),
		RingTimeout:  getEnvAsDuration("ZCHAT_RING_TIMEOUT", 30*time.Second),
		PingInterval: getEnvAsDuration("ZCHAT_PING_INTERVAL", 30*time.Second),

		GroupProximity: getEnvAsDuration("ZCHAT_GROUP_PROXIMITY", 3*time.Minute),
	}

	if cfg.Token == "" {
		return nil, fmt.Errorf("ZCHAT_TOKEN is required")
	}
	u, err := url.Parse(cfg.APIBaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("ZCHAT_API_URL is not a valid URL: %q", cfg.APIBaseURL)
	}
	if cfg.WSURL == "" {
		cfg.WSURL = deriveWSURL(u)
	}
	if cfg.PageSize <= 0 {
		return nil, fmt.Errorf("ZCHAT_PAGE_SIZE must be positive")
	}

	loc, err := time.LoadLocation(getEnv("ZCHAT_DAY_LOCATION", "Local"))
	if err != nil {
		return nil, fmt.Errorf("ZCHAT_DAY_LOCATION: %w", err)
	}
	cfg.DayLocation = loc

	return cfg, nil
}

// deriveWSURL maps http(s)://host/api to ws(s)://host/ws.
func deriveWSURL(api *url.URL) string {
	ws := *api
	ws.Scheme = "ws"
	if api.Scheme == "https" {
		ws.Scheme = "wss"
	}
	ws.Path = "/ws"
	ws.RawQuery = ""
	return ws.String()
}

// RelayConfig is the development relay configuration.
type RelayConfig struct {
	AppName string
	Env     string
	Host    string
	Port    int

	DBDriver    string
	DatabaseURL string
	RedisURL    string

	JWTSecret          string
	AccessTokenMinutes int

	CORSOrigins []string
	Debug       bool
	MaxPageSize int
}

// LoadRelay reads the relay configuration from the environment.
func LoadRelay() (*RelayConfig, error) {
	cfg := &RelayConfig{
		AppName: getEnv("APP_NAME", "zChat relay"),
		Env:     getEnv("APP_ENV", "development"),
		Host:    getEnv("HTTP_HOST", "0.0.0.0"),
		Port:    getEnvAsInt("HTTP_PORT", 8000),

		DBDriver: strings.ToLower(getEnv("DB_DRIVER", "sqlite")),
		RedisURL: os.Getenv("REDIS_URL"),

		JWTSecret:          os.Getenv("JWT_SECRET"),
		AccessTokenMinutes: getEnvAsInt("ACCESS_TOKEN_EXPIRE_MINUTES", 60*24),

		Debug:       getEnvAsBool("DEBUG", true),
		MaxPageSize: getEnvAsInt("MAX_PAGE_SIZE", 100),
	}

	switch cfg.DBDriver {
	case "sqlite":
		cfg.DatabaseURL = getEnv("SQLITE_PATH", "zchat.db")
	case "postgres":
		cfg.DatabaseURL = postgresURL()
	default:
		return nil, fmt.Errorf("DB_DRIVER must be sqlite or postgres, got %q", cfg.DBDriver)
	}

	cors := getEnv("CORS_ORIGINS", "")
	if cors != "" {
		parts := strings.Split(cors, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		cfg.CORSOrigins = parts
	} else {
		cfg.CORSOrigins = []string{"http://localhost:3000", "http://localhost:5173"}
	}

	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}
	if cfg.MaxPageSize <= 0 {
		return nil, fmt.Errorf("MAX_PAGE_SIZE must be positive")
	}

	return cfg, nil
}

func postgresURL() string {
	if v := os.Getenv("DATABASE_URL"); v != "" {
		return v
	}
	dbHost := getEnv("POSTGRES_HOST", "localhost")
	dbPort := getEnv("POSTGRES_PORT", "5432")
	dbUser := getEnv("POSTGRES_USER", "postgres")
	dbPass := getEnv("POSTGRES_PASSWORD", "postgres")
	dbName := getEnv("POSTGRES_DB", "zchat")

	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(dbUser, dbPass),
		Host:     fmt.Sprintf("%s:%s", dbHost, dbPort),
		Path:     dbName,
		RawQuery: "sslmode=disable",
	}
	return u.String()
}

func (c *RelayConfig) HTTPAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvAsInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getEnvAsBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func getEnvAsDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
