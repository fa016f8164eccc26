package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// envOverrides maps environment variables onto config fields. They win over
// every file.
var envOverrides = []struct {
	name  string
	field func(*Config) *string
}{
	{"CLIENT_URI", func(c *Config) *string { return &c.Server.ClientOrigin }},
	{"SWITCHBOARD_SECRET", func(c *Config) *string { return &c.Auth.Secret }},
	{"REDIS_ADDR", func(c *Config) *string { return &c.RateLimit.RedisAddr }},
}

// searchPaths lists the optional config files, lowest priority first.
// The per-user file follows $XDG_CONFIG_HOME when it is set.
func searchPaths() []string {
	paths := []string{"/etc/switchboard/switchboard.yaml"}

	if dir := userConfigDir(); dir != "" {
		paths = append(paths, filepath.Join(dir, "switchboard", "switchboard.yaml"))
	}
	paths = append(paths, "switchboard.yaml")

	if envPath := os.Getenv("SWITCHBOARD_CONFIG"); envPath != "" {
		paths = append(paths, envPath)
	}
	return paths
}

func userConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); filepath.IsAbs(xdg) {
		return xdg
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config")
}

// Load merges every config file found on the search path over Defaults,
// then applies environment overrides.
func Load() (*Config, error) {
	cfg := Defaults()
	for _, path := range searchPaths() {
		if err := mergeFile(cfg, path, false); err != nil {
			return nil, err
		}
	}
	return finish(cfg)
}

// LoadFromFile reads exactly one config file over Defaults. Unlike Load,
// the file must exist.
func LoadFromFile(path string) (*Config, error) {
	cfg := Defaults()
	if err := mergeFile(cfg, path, true); err != nil {
		return nil, err
	}
	return finish(cfg)
}

func finish(cfg *Config) (*Config, error) {
	for _, o := range envOverrides {
		if v := os.Getenv(o.name); v != "" {
			*o.field(cfg) = v
		}
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	cfg.Database.Path = ExpandHome(cfg.Database.Path)
	cfg.Auth.SecretDir = ExpandHome(cfg.Auth.SecretDir)
	cfg.Server.LogFile = ExpandHome(cfg.Server.LogFile)
	return cfg, nil
}

// mergeFile decodes path over cfg after expanding ${VAR} references.
func mergeFile(cfg *Config, path string, required bool) error {
	data, err := os.ReadFile(path) //nolint:gosec // path comes from trusted config search paths
	if os.IsNotExist(err) && !required {
		return nil
	}
	if err != nil {
		return fmt.Errorf("loading config %s: %w", path, err)
	}

	slog.Debug("loading config file", "path", path)

	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), cfg); err != nil {
		return fmt.Errorf("loading config %s: parsing YAML: %w", path, err)
	}
	return nil
}

// ExpandHome replaces a leading "~" or "~/" with the user's home directory.
// Other users' homes ("~bob/...") are left as written.
func ExpandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path[1:], "/"))
}

// validate reports every problem at once.
func validate(cfg *Config) error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	check(cfg.Server.Port >= 1 && cfg.Server.Port <= 65535,
		"server.port must be between 1 and 65535, got %d", cfg.Server.Port)
	switch cfg.Server.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("server.log_level must be one of debug, info, warn, error, got %q", cfg.Server.LogLevel))
	}

	check(cfg.Auth.Secret == "" || len(cfg.Auth.Secret) >= 32, "auth.secret must be at least 32 characters")
	check(cfg.Auth.Secret != "" || cfg.Auth.SecretDir != "", "auth.secret_dir is required when auth.secret is empty")
	check(cfg.Auth.TokenTTL > 0, "auth.token_ttl must be positive")

	check(cfg.Database.Path != "", "database.path is required")

	check(cfg.Realtime.SendBuffer >= 1, "realtime.send_buffer must be at least 1")
	check(cfg.Realtime.WriteTimeout > 0, "realtime.write_timeout must be positive")
	check(cfg.Realtime.JoinTimeout > 0, "realtime.join_timeout must be positive")

	check(cfg.RateLimit.RequestsPerMinute >= 1, "rate_limit.requests_per_minute must be at least 1")

	return errors.Join(errs...)
}
