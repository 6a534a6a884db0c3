// Package config loads cdcron's configuration from environment variables.
//
// There is no config file and no dynamic reload — every value is read once
// at process startup and the resulting Config is immutable for the process
// lifetime (spec: workload and identity are fixed once the process starts).
package config

import (
	"crypto/rand"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

// Config holds all of cdcron's startup configuration.
type Config struct {
	// Workload
	WorkloadFile string

	// Coordinator (Consul-compatible HTTP API)
	ConsulScheme string
	ConsulHost   string
	ConsulPort   int
	ConsulToken  string

	// Service identity
	ServiceName string
	ServiceID   string

	// Health check, advertised to the coordinator and bound locally
	HealthcheckScheme string
	HealthcheckHost   string
	HealthcheckPort   int

	// Logging
	LogLevel  string
	LogFormat string
}

// Load reads configuration from the environment, applying the defaults from
// spec.md §6. A random 5-character alphanumeric SERVICE_ID is generated if
// one isn't supplied — matching the original Python implementation's
// `string.ascii_uppercase + string.digits` alphabet, not a UUID.
func Load() (*Config, error) {
	serviceID, err := serviceIDOrRandom(os.Getenv("SERVICE_ID"))
	if err != nil {
		return nil, fmt.Errorf("failed to generate service id: %w", err)
	}

	cfg := &Config{
		WorkloadFile: getEnv("WORKLOAD_FILE", defaultWorkloadFile()),

		ConsulScheme: getEnv("CONSUL_SCHEME", "http"),
		ConsulHost:   getEnv("CONSUL_HOSTNAME", "localhost"),
		ConsulPort:   getEnvInt("CONSUL_PORT", 8500),
		ConsulToken:  os.Getenv("CONSUL_TOKEN"),

		ServiceName: getEnv("SERVICE_NAME", "cdcron"),
		ServiceID:   serviceID,

		HealthcheckScheme: getEnv("HEALTHCHECK_SCHEME", "http"),
		HealthcheckHost:   getEnv("HEALTHCHECK_HOSTNAME", "host.docker.internal"),
		HealthcheckPort:   getEnvInt("HEALTHCHECK_PORT", 8080),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "json"),
	}

	return cfg, nil
}

// ConsulBaseURL returns the scheme://host:port prefix for every coordinator
// request.
func (c *Config) ConsulBaseURL() string {
	return fmt.Sprintf("%s://%s:%d", c.ConsulScheme, c.ConsulHost, c.ConsulPort)
}

// ElectionKey returns the single KV path this replica contends for.
func (c *Config) ElectionKey() string {
	return fmt.Sprintf("service/%s/leader", c.ServiceName)
}

// HealthcheckProbeURL is the URL the coordinator is told to probe.
func (c *Config) HealthcheckProbeURL() string {
	return fmt.Sprintf("%s://%s:%d", c.HealthcheckScheme, c.HealthcheckHost, c.HealthcheckPort)
}

// HealthcheckBindAddress is the local address the health server binds to.
// It always binds 0.0.0.0 regardless of the advertised hostname, per
// spec.md §4.1.
func (c *Config) HealthcheckBindAddress() string {
	return fmt.Sprintf("0.0.0.0:%d", c.HealthcheckPort)
}

func defaultWorkloadFile() string {
	exe, err := os.Executable()
	if err != nil {
		return "workload.json"
	}
	return filepath.Join(filepath.Dir(exe), "workload.json")
}

const serviceIDAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

func serviceIDOrRandom(existing string) (string, error) {
	if existing != "" {
		return existing, nil
	}
	return randomAlphanumeric(5)
}

func randomAlphanumeric(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	out := make([]byte, n)
	for i, b := range buf {
		out[i] = serviceIDAlphabet[int(b)%len(serviceIDAlphabet)]
	}
	return string(out), nil
}

// --- environment variable helpers ---

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	result, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return result
}
