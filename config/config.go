package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/ngenohkevin/portguard/internal/process"
)

// GenerateAPIKey generates a secure random API key
func GenerateAPIKey() (string, error) {
	bytes := make([]byte, 32)
	if _, err := rand.Read(bytes); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}
	return hex.EncodeToString(bytes), nil
}

// Config holds all configuration for portguard
type Config struct {
	// Server settings
	Port         int
	Host         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// Authentication
	APIKey    string
	JWTSecret string

	// Security
	AllowedOrigins []string
	RateLimitRPS   int

	// Features
	DockerEnabled  bool
	SystemdEnabled bool

	// Logging
	LogLevel string

	// Termination
	AllowSystemPorts   bool
	KillTimeout        time.Duration
	ProtectedNames     []string
	SystemPorts        []uint16
	KernelThreadParent uint32

	// Scanning
	ScanWorkers     int
	RefreshInterval time.Duration

	PolicyFile string
	EnvFile    string
}

// PolicyFile is the YAML document that may override the protection policy
type PolicyFile struct {
	ProtectedNames     []string `yaml:"protected_names"`
	SystemPorts        []uint16 `yaml:"system_ports"`
	KernelThreadParent *uint32  `yaml:"kernel_thread_parent"`
	AllowSystemPorts   *bool    `yaml:"allow_system_ports"`
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	envFile := getEnvFile()

	// Load .env file if it exists
	_ = godotenv.Load(envFile)

	cfg := &Config{
		Port:               getEnvInt("PORT", 8092),
		Host:               getEnv("HOST", "127.0.0.1"),
		ReadTimeout:        time.Duration(getEnvInt("READ_TIMEOUT_SECONDS", 30)) * time.Second,
		WriteTimeout:       time.Duration(getEnvInt("WRITE_TIMEOUT_SECONDS", 60)) * time.Second,
		APIKey:             getEnv("API_KEY", ""),
		JWTSecret:          getEnv("JWT_SECRET", ""),
		AllowedOrigins:     getEnvSlice("ALLOWED_ORIGINS", []string{"*"}),
		RateLimitRPS:       getEnvInt("RATE_LIMIT_RPS", 100),
		DockerEnabled:      getEnvBool("DOCKER_ENABLED", true),
		SystemdEnabled:     getEnvBool("SYSTEMD_ENABLED", true),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		AllowSystemPorts:   getEnvBool("ALLOW_SYSTEM_PORTS", false),
		KillTimeout:        time.Duration(getEnvInt("KILL_TIMEOUT_SECONDS", 10)) * time.Second,
		ProtectedNames:     getEnvSlice("PROTECTED_NAMES", process.DefaultProtectedNames()),
		SystemPorts:        getEnvPorts("SYSTEM_PORTS", process.DefaultSystemPorts()),
		KernelThreadParent: process.KernelThreadParent,
		ScanWorkers:        getEnvInt("SCAN_WORKERS", 8),
		RefreshInterval:    time.Duration(getEnvInt("REFRESH_INTERVAL_SECONDS", 3)) * time.Second,
		PolicyFile:         getEnv("POLICY_FILE", ""),
		EnvFile:            envFile,
	}

	if cfg.PolicyFile != "" {
		if err := cfg.ApplyPolicyFile(cfg.PolicyFile); err != nil {
			return nil, err
		}
	}

	if cfg.APIKey == "" && !cfg.IsLoopback() {
		return nil, fmt.Errorf("API_KEY is required when HOST %q is not a loopback address", cfg.Host)
	}

	if cfg.JWTSecret == "" {
		// Use API key as fallback for JWT secret
		cfg.JWTSecret = cfg.APIKey
	}

	return cfg, nil
}

// ApplyPolicyFile overrides the protection settings with the values present
// in the YAML file at path
func (c *Config) ApplyPolicyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read policy file: %w", err)
	}

	var pf PolicyFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return fmt.Errorf("failed to parse policy file %s: %w", path, err)
	}

	if len(pf.ProtectedNames) > 0 {
		c.ProtectedNames = pf.ProtectedNames
	}
	if len(pf.SystemPorts) > 0 {
		c.SystemPorts = pf.SystemPorts
	}
	if pf.KernelThreadParent != nil {
		c.KernelThreadParent = *pf.KernelThreadParent
	}
	if pf.AllowSystemPorts != nil {
		c.AllowSystemPorts = *pf.AllowSystemPorts
	}
	c.PolicyFile = path
	return nil
}

// getEnvFile returns the path to the .env file
func getEnvFile() string {
	if envFile := os.Getenv("ENV_FILE"); envFile != "" {
		return envFile
	}
	return ".env"
}

// LoadWithDefaults loads config with defaults for testing
func LoadWithDefaults() *Config {
	return &Config{
		Port:               8092,
		Host:               "127.0.0.1",
		ReadTimeout:        30 * time.Second,
		WriteTimeout:       60 * time.Second,
		APIKey:             "test-api-key",
		JWTSecret:          "test-jwt-secret",
		AllowedOrigins:     []string{"*"},
		RateLimitRPS:       100,
		DockerEnabled:      false,
		SystemdEnabled:     false,
		LogLevel:           "info",
		KillTimeout:        10 * time.Second,
		ProtectedNames:     process.DefaultProtectedNames(),
		SystemPorts:        process.DefaultSystemPorts(),
		KernelThreadParent: process.KernelThreadParent,
		ScanWorkers:        8,
		RefreshInterval:    3 * time.Second,
	}
}

// Addr returns the server address string
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// IsLoopback reports whether the server only listens on a loopback address
func (c *Config) IsLoopback() bool {
	if strings.EqualFold(c.Host, "localhost") {
		return true
	}
	ip := net.ParseIP(c.Host)
	return ip != nil && ip.IsLoopback()
}

// AuthRequired reports whether API requests must carry credentials
func (c *Config) AuthRequired() bool {
	return c.APIKey != ""
}

// Policy returns the protection policy options
func (c *Config) Policy() process.PolicyOptions {
	return process.PolicyOptions{
		ProtectedNames:     c.ProtectedNames,
		SystemPorts:        c.SystemPorts,
		KernelThreadParent: c.KernelThreadParent,
	}
}

// ManagerOptions returns the termination manager options
func (c *Config) ManagerOptions() process.Options {
	return process.Options{
		AllowSystemPorts: c.AllowSystemPorts,
		Timeout:          c.KillTimeout,
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		var out []string
		for _, s := range strings.Split(value, ",") {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
		return out
	}
	return defaultValue
}

// getEnvPorts parses a comma separated port list; invalid entries are skipped
func getEnvPorts(key string, defaultValue []uint16) []uint16 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	var out []uint16
	for _, s := range strings.Split(value, ",") {
		n, err := strconv.ParseUint(strings.TrimSpace(s), 10, 16)
		if err != nil || n == 0 {
			continue
		}
		out = append(out, uint16(n))
	}
	return out
}
