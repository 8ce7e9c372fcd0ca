// Package config loads service configuration from the environment, with an
// optional .env file for local development.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// StockPolicyLedger makes dispensation decrement the inventory ledger;
// StockPolicyDetached leaves the ledger untouched.
const (
	StockPolicyLedger   = "ledger"
	StockPolicyDetached = "detached"
)

// ActorCredential maps one API key to a pharmacist.
type ActorCredential struct {
	APIKey       string
	PharmacistID string
	Name         string
	PharmacyID   string
}

// Config holds the full service configuration.
type Config struct {
	Port        string
	Environment string

	DatabaseURL string

	KafkaBrokers    []string
	AuditTopic      string
	DeadLetterTopic string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	OTLPEndpoint string

	DoctorAPIURL string
	DoctorAPIKey string

	StockPolicy string

	Credentials []ActorCredential
}

// Load reads configuration from the environment. A .env file in the working
// directory is applied first when present.
func Load() (*Config, error) {
	// Missing .env is the normal case outside local development.
	_ = godotenv.Load()

	cfg := &Config{
		Port:            getEnv("PORT", "8080"),
		Environment:     getEnv("ENVIRONMENT", "development"),
		DatabaseURL:     getEnv("DATABASE_URL", ""),
		AuditTopic:      getEnv("AUDIT_TOPIC", "fulfillment.audit"),
		DeadLetterTopic: getEnv("DEAD_LETTER_TOPIC", "fulfillment.audit.deadletter"),
		RedisAddr:       getEnv("REDIS_ADDR", ""),
		RedisPassword:   getEnv("REDIS_PASSWORD", ""),
		OTLPEndpoint:    getEnv("OTLP_ENDPOINT", ""),
		DoctorAPIURL:    getEnv("DOCTOR_API_URL", ""),
		DoctorAPIKey:    getEnv("DOCTOR_API_KEY", ""),
		StockPolicy:     getEnv("STOCK_POLICY", StockPolicyLedger),
	}

	if brokers := getEnv("KAFKA_BROKERS", ""); brokers != "" {
		cfg.KafkaBrokers = strings.Split(brokers, ",")
	}

	if db := getEnv("REDIS_DB", "0"); db != "" {
		n, err := strconv.Atoi(db)
		if err != nil {
			return nil, fmt.Errorf("invalid REDIS_DB %q: %w", db, err)
		}
		cfg.RedisDB = n
	}

	if cfg.StockPolicy != StockPolicyLedger && cfg.StockPolicy != StockPolicyDetached {
		return nil, fmt.Errorf("invalid STOCK_POLICY %q: want %q or %q",
			cfg.StockPolicy, StockPolicyLedger, StockPolicyDetached)
	}

	creds, err := parseCredentials(getEnv("API_KEYS", ""))
	if err != nil {
		return nil, err
	}
	cfg.Credentials = creds

	return cfg, nil
}

// parseCredentials parses API_KEYS entries of the form
// apikey:pharmacistID:pharmacyID:display name, separated by commas.
func parseCredentials(raw string) ([]ActorCredential, error) {
	if raw == "" {
		return nil, nil
	}
	var creds []ActorCredential
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.SplitN(entry, ":", 4)
		if len(parts) < 3 {
			return nil, fmt.Errorf("invalid API_KEYS entry %q: want apikey:pharmacist:pharmacy[:name]", entry)
		}
		cred := ActorCredential{
			APIKey:       parts[0],
			PharmacistID: parts[1],
			PharmacyID:   parts[2],
		}
		if len(parts) == 4 {
			cred.Name = parts[3]
		}
		creds = append(creds, cred)
	}
	return creds, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
