package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
)

type Config struct {
	RpcURL                  string
	DbURL                   string
	KafkaBroker             string
	KafkaTopic              string
	KafkaGroupID            string
	RegistryContractAddress common.Address
	SignerPrivateKey        string
	ChainID                 uint64
	PollingInterval         time.Duration
	RPCTimeout              time.Duration
	DBTimeout               time.Duration
	GasMultiplier           float64
	DeployAction            uint64
	APIPort                 int
	RedisURL                string
	LeaderLeaseTTL          time.Duration
	AssetsFile              string
}

// NewConfig loads configuration from environment variables, reading a .env
// file first when one exists. All problems are reported together.
func NewConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	l := &loader{}
	cfg := &Config{
		RpcURL:           l.required("RPC_URL"),
		DbURL:            l.required("DB_URL"),
		KafkaBroker:      l.required("KAFKA_BROKER"),
		KafkaTopic:       l.required("KAFKA_TOPIC"),
		KafkaGroupID:     l.string("KAFKA_GROUP_ID", "settlement-tracker"),
		SignerPrivateKey: l.required("SIGNER_PRIVATE_KEY"),
		ChainID:          l.uint64("CHAIN_ID", 0),
		PollingInterval:  l.duration("POLLING_INTERVAL", 10*time.Second),
		RPCTimeout:       l.duration("RPC_TIMEOUT", 15*time.Second),
		DBTimeout:        l.duration("DB_TIMEOUT", 5*time.Second),
		GasMultiplier:    l.float64("GAS_MULTIPLIER", 3.0),
		DeployAction:     l.uint64("DEPLOY_ACTION", 1),
		APIPort:          l.int("API_PORT", 8080),
		RedisURL:         l.string("REDIS_URL", ""),
		LeaderLeaseTTL:   l.duration("LEADER_LEASE_TTL", 30*time.Second),
		AssetsFile:       l.string("ASSETS_FILE", ""),
	}

	if registry := l.required("REGISTRY_CONTRACT_ADDRESS"); registry != "" {
		if common.IsHexAddress(registry) {
			cfg.RegistryContractAddress = common.HexToAddress(registry)
		} else {
			l.fail("REGISTRY_CONTRACT_ADDRESS is not a valid address")
		}
	}

	if cfg.GasMultiplier < 1 {
		l.fail("GAS_MULTIPLIER must be at least 1")
	}
	if cfg.DeployAction > math.MaxInt64 {
		l.fail("DEPLOY_ACTION is out of range")
	}
	if cfg.APIPort <= 0 || cfg.APIPort > 65535 {
		l.fail("API_PORT must be between 1 and 65535")
	}
	for name, d := range map[string]time.Duration{
		"POLLING_INTERVAL": cfg.PollingInterval,
		"RPC_TIMEOUT":      cfg.RPCTimeout,
		"DB_TIMEOUT":       cfg.DBTimeout,
		"LEADER_LEASE_TTL": cfg.LeaderLeaseTTL,
	} {
		if d <= 0 {
			l.fail(name + " must be positive")
		}
	}
	if cfg.RedisURL != "" && cfg.LeaderLeaseTTL <= cfg.PollingInterval {
		l.fail("LEADER_LEASE_TTL must be longer than POLLING_INTERVAL")
	}

	if len(l.problems) > 0 {
		return nil, fmt.Errorf("invalid configuration: %s", strings.Join(l.problems, "; "))
	}
	return cfg, nil
}

type loader struct {
	problems []string
}

func (l *loader) fail(problem string) {
	l.problems = append(l.problems, problem)
}

func (l *loader) required(key string) string {
	value := os.Getenv(key)
	if value == "" {
		l.fail(fmt.Sprintf("environment variable %s not set", key))
	}
	return value
}

func (l *loader) string(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func (l *loader) uint64(key string, defaultValue uint64) uint64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseUint(value, 10, 64)
	if err != nil {
		l.fail(fmt.Sprintf("%s: %v", key, err))
		return defaultValue
	}
	return parsed
}

func (l *loader) int(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		l.fail(fmt.Sprintf("%s: %v", key, err))
		return defaultValue
	}
	return parsed
}

func (l *loader) float64(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		l.fail(fmt.Sprintf("%s: %v", key, err))
		return defaultValue
	}
	return parsed
}

func (l *loader) duration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		l.fail(fmt.Sprintf("%s: %v", key, err))
		return defaultValue
	}
	return parsed
}
