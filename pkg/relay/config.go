package relay

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tomaslejdung/superdesk/pkg/peer"
)

// Config is the relay configuration. Environment variables are read first;
// a YAML file given with --config overrides them field by field.
type Config struct {
	Port           string        `yaml:"port"`
	Environment    string        `yaml:"environment"`
	AllowedOrigins []string      `yaml:"allowedOrigins"`
	JWTSecret      string        `yaml:"jwtSecret"`
	SessionTTL     time.Duration `yaml:"sessionTTL"`
	Redis          RedisConfig   `yaml:"redis"`
	TURN           TURNConfig    `yaml:"turn"`

	// ICEServers are returned verbatim by /api/webrtc-config.
	ICEServers []peer.ServerConfig `yaml:"iceServers"`
}

// RedisConfig selects the session store. An empty Host keeps sessions in memory.
type RedisConfig struct {
	Host     string `yaml:"host"`
	Port     string `yaml:"port"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// Addr returns host:port.
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%s", r.Host, r.Port)
}

// TURNConfig enables time-limited TURN credentials minted from a shared secret.
type TURNConfig struct {
	Secret string        `yaml:"secret"`
	URLs   []string      `yaml:"urls"`
	TTL    time.Duration `yaml:"ttl"`
}

// Enabled reports whether credentials can be minted.
func (t TURNConfig) Enabled() bool {
	return t.Secret != "" && len(t.URLs) > 0
}

// Production reports whether the relay runs in production mode.
func (c *Config) Production() bool {
	return c.Environment == "production"
}

// AuthRequired reports whether websocket connections need a token.
func (c *Config) AuthRequired() bool {
	return c.JWTSecret != ""
}

// LoadEnv reads configuration from the environment.
func LoadEnv() (*Config, error) {
	sessionTTL, err := time.ParseDuration(getEnv("SESSION_TTL", "24h"))
	if err != nil {
		return nil, fmt.Errorf("SESSION_TTL: %w", err)
	}
	turnTTL, err := time.ParseDuration(getEnv("TURN_TTL", "12h"))
	if err != nil {
		return nil, fmt.Errorf("TURN_TTL: %w", err)
	}

	return &Config{
		Port:           getEnv("PORT", "8080"),
		Environment:    getEnv("ENVIRONMENT", "development"),
		AllowedOrigins: splitList(getEnv("ALLOWED_ORIGINS", "*")),
		JWTSecret:      os.Getenv("JWT_SECRET"),
		SessionTTL:     sessionTTL,
		Redis: RedisConfig{
			Host:     os.Getenv("REDIS_HOST"),
			Port:     getEnv("REDIS_PORT", "6379"),
			Password: os.Getenv("REDIS_PASSWORD"),
		},
		TURN: TURNConfig{
			Secret: os.Getenv("TURN_SECRET"),
			URLs:   splitList(os.Getenv("TURN_URLS")),
			TTL:    turnTTL,
		},
	}, nil
}

// LoadFile overlays the YAML file at path onto c.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

// Load reads the environment and then, when path is not empty, the YAML file.
func Load(path string) (*Config, error) {
	cfg, err := LoadEnv()
	if err != nil {
		return nil, err
	}
	if path != "" {
		if err := cfg.LoadFile(path); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// splitList splits a comma-separated value, dropping blanks.
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
