// Package config loads the relay's environment and the auction catalogue.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/char-123717/lelang/go/internal/models"
)

// DefaultMinBid applies to catalogue entries without a min_bid.
var DefaultMinBid = decimal.RequireFromString("0.0001")

// LoadDotEnv loads .env if it exists.
func LoadDotEnv() {
	if err := godotenv.Load(); err != nil {
		log.Warn().Err(err).Msg("could not load .env file")
	}
}

// GetEnv returns the value of key or defaultValue when unset.
func GetEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// GetEnvAsInt parses key as an int, falling back on a missing or bad value.
func GetEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
		log.Warn().Str("key", key).Str("value", value).Msg("invalid integer, using default")
	}
	return defaultValue
}

// GetEnvAsDuration parses key with time.ParseDuration ("30s", "1m30s").
func GetEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil && d > 0 {
			return d
		}
		log.Warn().Str("key", key).Str("value", value).Msg("invalid duration, using default")
	}
	return defaultValue
}

// DatabaseConfig holds Postgres connection settings.
type DatabaseConfig struct {
	URL      string
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

// NewDatabaseConfigFromEnv reads DATABASE_URL or the DB_* variables.
func NewDatabaseConfigFromEnv() DatabaseConfig {
	return DatabaseConfig{
		URL:      os.Getenv("DATABASE_URL"),
		Host:     GetEnv("DB_HOST", "localhost"),
		Port:     GetEnvAsInt("DB_PORT", 5432),
		User:     GetEnv("DB_USER", "postgres"),
		Password: GetEnv("DB_PASSWORD", "postgres"),
		Database: GetEnv("DB_NAME", "lelang"),
		SSLMode:  GetEnv("DB_SSLMODE", "disable"),
	}
}

// Enabled reports whether a user database was configured at all.
func (c DatabaseConfig) Enabled() bool {
	return c.URL != "" || os.Getenv("DB_HOST") != ""
}

// DSN returns the Postgres connection URL.
func (c DatabaseConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, c.SSLMode,
	)
}

type catalogue struct {
	Auctions []catalogueEntry `yaml:"auctions"`
}

type catalogueEntry struct {
	ID              string `yaml:"id"`
	Name            string `yaml:"name"`
	ContractAddress string `yaml:"contract_address"`
	MinBid          string `yaml:"min_bid"`
}

// DefaultAuctions returns the two built-in auctions. Their contract addresses
// can be overridden with CONTRACT_ADDRESS_101 and CONTRACT_ADDRESS_102.
func DefaultAuctions() []models.AuctionConfig {
	return []models.AuctionConfig{
		{
			ID:              "101",
			Name:            "Etherwave",
			ContractAddress: GetEnv("CONTRACT_ADDRESS_101", "0xF4800bcC6e0690F4c7524e4347e098F618a3ff3F"),
			MinBid:          DefaultMinBid,
		},
		{
			ID:              "102",
			Name:            "Satoshi",
			ContractAddress: GetEnv("CONTRACT_ADDRESS_102", "0x036b20234e5A20FB657fA698eB6c9853b40B2FaB"),
			MinBid:          DefaultMinBid,
		},
	}
}

// LoadAuctions reads the catalogue at path. A missing file yields DefaultAuctions.
func LoadAuctions(path string) ([]models.AuctionConfig, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		log.Info().Str("path", path).Msg("no auction catalogue, using defaults")
		return DefaultAuctions(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read auction catalogue: %w", err)
	}
	return ParseAuctions(data)
}

// ParseAuctions decodes and validates a YAML catalogue.
func ParseAuctions(data []byte) ([]models.AuctionConfig, error) {
	var c catalogue
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to parse auction catalogue: %w", err)
	}
	if len(c.Auctions) == 0 {
		return nil, errors.New("auction catalogue is empty")
	}

	seen := make(map[string]bool, len(c.Auctions))
	out := make([]models.AuctionConfig, 0, len(c.Auctions))
	for i, entry := range c.Auctions {
		id := strings.TrimSpace(entry.ID)
		switch {
		case id == "":
			return nil, fmt.Errorf("auction %d: id is required", i)
		case id == models.LobbyRoom:
			return nil, fmt.Errorf("auction %d: id %q is reserved", i, id)
		case seen[id]:
			return nil, fmt.Errorf("auction %q: duplicate id", id)
		case !common.IsHexAddress(entry.ContractAddress):
			return nil, fmt.Errorf("auction %q: invalid contract address %q", id, entry.ContractAddress)
		}
		seen[id] = true

		minBid := DefaultMinBid
		if entry.MinBid != "" {
			parsed, err := decimal.NewFromString(entry.MinBid)
			if err != nil {
				return nil, fmt.Errorf("auction %q: invalid min_bid: %w", id, err)
			}
			if parsed.IsNegative() {
				return nil, fmt.Errorf("auction %q: min_bid must not be negative", id)
			}
			minBid = parsed
		}

		out = append(out, models.AuctionConfig{
			ID:              id,
			Name:            entry.Name,
			ContractAddress: entry.ContractAddress,
			MinBid:          minBid,
		})
	}
	return out, nil
}
