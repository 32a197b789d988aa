package config

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/joho/godotenv"
)

// Environment variables
const (
	EnvPrivateKey       = "PRIVATE_KEY"
	EnvAggregatorAPIKey = "AGGREGATOR_API_KEY"
	EnvRPCURL           = "RPC_URL"
	EnvWSURL            = "WS_URL"
)

// Secrets are never read from the config file
type Secrets struct {
	PrivateKey       *ecdsa.PrivateKey
	AggregatorAPIKey string
}

// LoadEnv loads environment variables from .env file. A missing file is fine.
func LoadEnv() error {
	err := godotenv.Load()
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

// GetEnvWithDefault gets an environment variable with a default value
func GetEnvWithDefault(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// ApplyEnv lets RPC_URL and WS_URL override the configured endpoints
func (c *Config) ApplyEnv() {
	c.RPCEndpoint = GetEnvWithDefault(EnvRPCURL, c.RPCEndpoint)
	c.WSEndpoint = GetEnvWithDefault(EnvWSURL, c.WSEndpoint)
}

// LoadSecrets reads the signing key and API credentials from the environment.
// The key is optional; without it the engine runs in dry-run mode.
func LoadSecrets() (*Secrets, error) {
	s := &Secrets{AggregatorAPIKey: os.Getenv(EnvAggregatorAPIKey)}

	if raw := os.Getenv(EnvPrivateKey); raw != "" {
		key, err := ParsePrivateKey(raw)
		if err != nil {
			return nil, err
		}
		s.PrivateKey = key
	}
	return s, nil
}

// ParsePrivateKey accepts a hex key with or without the 0x prefix
func ParsePrivateKey(raw string) (*ecdsa.PrivateKey, error) {
	raw = strings.TrimPrefix(strings.TrimSpace(raw), "0x")
	key, err := crypto.HexToECDSA(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid %s: %w", EnvPrivateKey, err)
	}
	return key, nil
}
