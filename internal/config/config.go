// Package config provides configuration for the HeyBooks binaries with support for command-line flags, environment variables, and .env files.
package config

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Config holds the configuration shared by catalogd and the heybooks client.
type Config struct {
	App    AppConfig
	Logger LoggerConfig
	Store  StoreConfig
	Server ServerConfig
	Auth   AuthConfig
	Client ClientConfig
	Assets AssetsConfig

	// Args holds the positional arguments left after flag parsing.
	Args []string
}

// AppConfig holds application-level configuration.
type AppConfig struct {
	Environment string
	Locale      string
}

// LoggerConfig holds logging configuration.
type LoggerConfig struct {
	Level string
}

// StoreConfig holds emulator storage configuration.
type StoreConfig struct {
	// DataPath is the root for the document database, the account database,
	// the token key and uploaded assets.
	DataPath string
}

// ServerConfig holds emulator HTTP server configuration.
type ServerConfig struct {
	Port         string
	PublicURL    string        // Base URL written into asset URLs
	ReadTimeout  time.Duration // default: 15s
	WriteTimeout time.Duration // default: 0, document streams are long lived
	IdleTimeout  time.Duration // default: 60s
}

// AuthConfig holds authentication configuration.
type AuthConfig struct {
	// OperationTimeout bounds every client-side auth operation.
	OperationTimeout    time.Duration
	AccessTokenDuration time.Duration
	// PASETO v4 symmetric key, loaded by auth.LoadOrGenerateKey.
	AccessTokenKey []byte
}

// ClientConfig holds configuration for the heybooks client.
type ClientConfig struct {
	RemoteURL    string
	ProbeAddress string // host:port dialed by the connectivity gate
	ProbeTimeout time.Duration
	Workers      int
}

// AssetsConfig holds image normalization configuration.
type AssetsConfig struct {
	MaxDimension int
	JPEGQuality  int
}

// LoadConfig loads configuration from multiple sources with precedence:
// 1. Command-line flags (highest priority).
// 2. Environment variables.
// 3. .env file.
// 4. Default values (lowest priority).
func LoadConfig(name string, args []string) (*Config, error) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)

	env := fs.String("env", "", "Environment (development, staging, production)")
	locale := fs.String("locale", "", "Locale for user-facing messages (default: en)")
	logLevel := fs.String("log-level", "", "Log level (debug, info, warn, error)")
	dataPath := fs.String("data-path", "", "Base path for emulator storage")

	serverPort := fs.String("port", "", "Server port (default: 8080)")
	publicURL := fs.String("public-url", "", "Public base URL of the emulator")
	readTimeout := fs.String("read-timeout", "", "HTTP read timeout (default: 15s)")
	writeTimeout := fs.String("write-timeout", "", "HTTP write timeout (default: 0)")
	idleTimeout := fs.String("idle-timeout", "", "HTTP idle timeout (default: 60s)")

	authTimeout := fs.String("auth-timeout", "", "Auth operation timeout (default: 10s)")
	accessTokenDuration := fs.String("access-token-duration", "", "Access token lifetime (default: 24h)")

	remoteURL := fs.String("remote-url", "", "Base URL of the catalog store")
	probeAddress := fs.String("probe-address", "", "host:port probed for connectivity (default: derived from remote-url)")
	probeTimeout := fs.String("probe-timeout", "", "Connectivity probe timeout (default: 2s)")
	workers := fs.String("workers", "", "Background worker count (default: 4)")

	maxDimension := fs.String("asset-max-dimension", "", "Longest edge of normalized images (default: 1024)")
	jpegQuality := fs.String("asset-jpeg-quality", "", "JPEG quality for normalized images (default: 85)")

	envFile := fs.String("env-file", ".env", "Path to .env file")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	// Load .env file if it exists (silently ignore if not found).
	_ = loadEnvFile(*envFile)

	cfg := &Config{
		App: AppConfig{
			Environment: getConfigValue(*env, "ENV", "development"),
			Locale:      getConfigValue(*locale, "HEYBOOKS_LOCALE", "en"),
		},
		Logger: LoggerConfig{
			Level: getConfigValue(*logLevel, "LOG_LEVEL", "info"),
		},
		Store: StoreConfig{
			DataPath: getConfigValue(*dataPath, "DATA_PATH", ""),
		},
		Server: ServerConfig{
			Port:      getConfigValue(*serverPort, "SERVER_PORT", "8080"),
			PublicURL: getConfigValue(*publicURL, "SERVER_PUBLIC_URL", ""),
		},
		Client: ClientConfig{
			RemoteURL:    getConfigValue(*remoteURL, "HEYBOOKS_REMOTE_URL", "http://localhost:8080"),
			ProbeAddress: getConfigValue(*probeAddress, "HEYBOOKS_PROBE_ADDRESS", ""),
			Workers:      getIntConfigValue(*workers, "HEYBOOKS_WORKERS", 4),
		},
		Assets: AssetsConfig{
			MaxDimension: getIntConfigValue(*maxDimension, "ASSET_MAX_DIMENSION", 1024),
			JPEGQuality:  getIntConfigValue(*jpegQuality, "ASSET_JPEG_QUALITY", 85),
		},
		Args: fs.Args(),
	}

	var err error
	if cfg.Server.ReadTimeout, err = getDurationConfigValue(*readTimeout, "SERVER_READ_TIMEOUT", "15s"); err != nil {
		return nil, err
	}
	if cfg.Server.WriteTimeout, err = getDurationConfigValue(*writeTimeout, "SERVER_WRITE_TIMEOUT", "0s"); err != nil {
		return nil, err
	}
	if cfg.Server.IdleTimeout, err = getDurationConfigValue(*idleTimeout, "SERVER_IDLE_TIMEOUT", "60s"); err != nil {
		return nil, err
	}
	if cfg.Auth.OperationTimeout, err = getDurationConfigValue(*authTimeout, "AUTH_TIMEOUT", "10s"); err != nil {
		return nil, err
	}
	if cfg.Auth.AccessTokenDuration, err = getDurationConfigValue(*accessTokenDuration, "ACCESS_TOKEN_DURATION", "24h"); err != nil {
		return nil, err
	}
	if cfg.Client.ProbeTimeout, err = getDurationConfigValue(*probeTimeout, "HEYBOOKS_PROBE_TIMEOUT", "2s"); err != nil {
		return nil, err
	}

	if err := cfg.expandDataPath(); err != nil {
		return nil, fmt.Errorf("invalid data path: %w", err)
	}
	if cfg.Server.PublicURL == "" {
		cfg.Server.PublicURL = "http://localhost:" + cfg.Server.Port
	}
	if cfg.Client.ProbeAddress == "" {
		cfg.Client.ProbeAddress = probeAddressFor(cfg.Client.RemoteURL)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required config values are present and valid.
func (c *Config) Validate() error {
	validEnvs := map[string]bool{
		"development": true,
		"staging":     true,
		"production":  true,
	}
	if !validEnvs[c.App.Environment] {
		return fmt.Errorf("invalid environment: %s (must be development, staging, or production)", c.App.Environment)
	}

	validLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLevels[strings.ToLower(c.Logger.Level)] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.Logger.Level)
	}

	if c.Store.DataPath == "" {
		return errors.New("data path cannot be empty after expansion")
	}

	if c.Auth.OperationTimeout <= 0 {
		return errors.New("auth timeout must be positive")
	}

	if _, err := url.ParseRequestURI(c.Client.RemoteURL); err != nil {
		return fmt.Errorf("invalid remote url %q: %w", c.Client.RemoteURL, err)
	}

	if c.Client.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", c.Client.Workers)
	}

	if c.Assets.JPEGQuality < 1 || c.Assets.JPEGQuality > 100 {
		return fmt.Errorf("jpeg quality must be within 1..100, got %d", c.Assets.JPEGQuality)
	}

	return nil
}

// DocumentsPath is where the emulator keeps its document database.
func (c *Config) DocumentsPath() string {
	return filepath.Join(c.Store.DataPath, "documents")
}

// AccountsPath is the emulator account database file.
func (c *Config) AccountsPath() string {
	return filepath.Join(c.Store.DataPath, "accounts.db")
}

// AssetsPath is the root of uploaded assets.
func (c *Config) AssetsPath() string {
	return filepath.Join(c.Store.DataPath, "assets")
}

// probeAddressFor derives host:port from a base URL.
func probeAddressFor(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return ""
	}
	if u.Port() != "" {
		return u.Host
	}
	port := "80"
	if u.Scheme == "https" {
		port = "443"
	}
	return net.JoinHostPort(u.Hostname(), port)
}

// expandPath expands ~ and makes the path absolute.
// If path is empty, defaultPath is used.
func expandPath(path, defaultPath string) (string, error) {
	if path == "" {
		return defaultPath, nil
	}

	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		path = filepath.Join(homeDir, path[2:])
	}

	if !filepath.IsAbs(path) {
		absPath, err := filepath.Abs(path)
		if err != nil {
			return "", fmt.Errorf("failed to get absolute path: %w", err)
		}
		path = absPath
	}

	return filepath.Clean(path), nil
}

func (c *Config) expandDataPath() error {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("failed to get home directory: %w", err)
	}
	expanded, err := expandPath(c.Store.DataPath, filepath.Join(homeDir, "HeyBooks", "data"))
	if err != nil {
		return err
	}
	c.Store.DataPath = expanded
	return nil
}

// getConfigValue returns the first non-empty value from flag, env var, or default.
func getConfigValue(flagValue, envKey, defaultValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if envValue := os.Getenv(envKey); envValue != "" {
		return envValue
	}
	return defaultValue
}

// getIntConfigValue returns an int from flag, env var, or default.
func getIntConfigValue(flagValue, envKey string, defaultValue int) int {
	strValue := getConfigValue(flagValue, envKey, "")
	if strValue == "" {
		return defaultValue
	}
	var result int
	if _, err := fmt.Sscanf(strValue, "%d", &result); err != nil {
		return defaultValue
	}
	return result
}

// getDurationConfigValue parses a duration from flag, env var, or default.
func getDurationConfigValue(flagValue, envKey, defaultValue string) (time.Duration, error) {
	strValue := getConfigValue(flagValue, envKey, defaultValue)
	d, err := time.ParseDuration(strValue)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", strings.ToLower(envKey), strValue, err)
	}
	return d, nil
}

// loadEnvFile loads environment variables from a .env file.
// Format: KEY=value (one per line, # for comments).
func loadEnvFile(path string) error {
	file, err := os.Open(path) //#nosec G304 -- Config file path from user input is expected
	if err != nil {
		return err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())

		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		key, value, ok := strings.Cut(line, "=")
		if !ok {
			return fmt.Errorf("invalid format at line %d: %s", lineNum, line)
		}

		key = strings.TrimSpace(key)
		value = strings.Trim(strings.TrimSpace(value), `"'`)

		// Real environment variables win over the file.
		if os.Getenv(key) == "" {
			if err := os.Setenv(key, value); err != nil {
				return fmt.Errorf("failed to set env var %s: %w", key, err)
			}
		}
	}

	return scanner.Err()
}
