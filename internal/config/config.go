package config

import "time"

// Config is the root configuration for Switchboard.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Auth      AuthConfig      `yaml:"auth"`
	Database  DatabaseConfig  `yaml:"database"`
	Realtime  RealtimeConfig  `yaml:"realtime"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	MCP       MCPConfig       `yaml:"mcp"`
}

type ServerConfig struct {
	Host      string `yaml:"host"`
	Port      int    `yaml:"port"`
	PublicURL string `yaml:"public_url"`
	// ClientOrigin is the permitted cross-origin client address for the
	// websocket endpoint and the API. Comma-separated for several.
	ClientOrigin string `yaml:"client_origin"`
	LogLevel     string `yaml:"log_level"`
	LogFile      string `yaml:"log_file"`
}

type AuthConfig struct {
	// Secret signs session tokens. When empty, one is generated and kept
	// in SecretDir.
	Secret    string        `yaml:"secret"`
	SecretDir string        `yaml:"secret_dir"`
	TokenTTL  time.Duration `yaml:"token_ttl"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type RealtimeConfig struct {
	SendBuffer   int           `yaml:"send_buffer"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	JoinTimeout  time.Duration `yaml:"join_timeout"`
}

type RateLimitConfig struct {
	RequestsPerMinute int `yaml:"requests_per_minute"`
	// RedisAddr shares the limit across instances. Empty keeps it in memory.
	RedisAddr string `yaml:"redis_addr"`
}

type MCPConfig struct {
	Enabled bool `yaml:"enabled"`
}

// Defaults returns a Config with sensible default values.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Host:     "127.0.0.1",
			Port:     8420,
			LogLevel: "info",
		},
		Auth: AuthConfig{
			SecretDir: "~/.config/switchboard",
			TokenTTL:  24 * time.Hour,
		},
		Database: DatabaseConfig{
			Path: "~/.config/switchboard/switchboard.db",
		},
		Realtime: RealtimeConfig{
			SendBuffer:   64,
			WriteTimeout: 5 * time.Second,
			JoinTimeout:  10 * time.Second,
		},
		RateLimit: RateLimitConfig{
			RequestsPerMinute: 200,
		},
		MCP: MCPConfig{
			Enabled: true,
		},
	}
}
