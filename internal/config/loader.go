package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads the TOML file at path (skipped when path is empty), merges it
// on top of Defaults, applies BUREAU_* environment overrides and returns the
// result. The returned Config has NOT been validated.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	// ── Server ──
	setInt(&cfg.Server.Port, "PORT") // compatibility alias
	setInt(&cfg.Server.Port, "BUREAU_SERVER_PORT")
	setDuration(&cfg.Server.ReadTimeout, "BUREAU_SERVER_READ_TIMEOUT")
	setDuration(&cfg.Server.WriteTimeout, "BUREAU_SERVER_WRITE_TIMEOUT")
	setDuration(&cfg.Server.ShutdownTimeout, "BUREAU_SERVER_SHUTDOWN_TIMEOUT")
	setStringSlice(&cfg.Server.CORSOrigins, "BUREAU_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.TLSCertFile, "BUREAU_SERVER_TLS_CERT_FILE")
	setStr(&cfg.Server.TLSKeyFile, "BUREAU_SERVER_TLS_KEY_FILE")
	setStr(&cfg.Server.TLSClientCAFile, "BUREAU_SERVER_TLS_CLIENT_CA_FILE")

	// ── Ledger ──
	setStr(&cfg.Ledger.Backend, "BUREAU_LEDGER_BACKEND")
	setStr(&cfg.Ledger.PostgresDSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Ledger.PostgresDSN, "BUREAU_LEDGER_POSTGRES_DSN")
	setStr(&cfg.Ledger.RedisURL, "REDIS_URL") // compatibility alias
	setStr(&cfg.Ledger.RedisURL, "BUREAU_LEDGER_REDIS_URL")
	setStr(&cfg.Ledger.RedisPrefix, "BUREAU_LEDGER_REDIS_PREFIX")

	// ── Custody ──
	setStr(&cfg.Custody.Mode, "BUREAU_CUSTODY_MODE")
	setStr(&cfg.Custody.ContractID, "BUREAU_CUSTODY_CONTRACT_ID")
	setStr(&cfg.Custody.URL, "BUREAU_CUSTODY_URL")
	setStr(&cfg.Custody.APIKey, "BUREAU_CUSTODY_API_KEY")
	setDuration(&cfg.Custody.Timeout, "BUREAU_CUSTODY_TIMEOUT")
	setInt32(&cfg.Custody.TokenDecimals, "BUREAU_CUSTODY_TOKEN_DECIMALS")
	setStr(&cfg.Custody.GasPercentage, "BUREAU_CUSTODY_GAS_PERCENTAGE")
	setStr(&cfg.Custody.GasMin, "BUREAU_CUSTODY_GAS_MIN")
	setStr(&cfg.Custody.Faucet, "BUREAU_CUSTODY_FAUCET")

	// ── Contract ──
	setStr(&cfg.Contract.BaseToken, "BUREAU_CONTRACT_BASE_TOKEN")
	setStr(&cfg.Contract.AdminID, "BUREAU_CONTRACT_ADMIN_ID")
	setStr(&cfg.Contract.AdminName, "BUREAU_CONTRACT_ADMIN_NAME")
	setStr(&cfg.Contract.AccountID, "BUREAU_CONTRACT_ACCOUNT_ID")
	setStr(&cfg.Contract.AccountName, "BUREAU_CONTRACT_ACCOUNT_NAME")

	// ── NATS ──
	setStr(&cfg.NATS.URL, "BUREAU_NATS_URL")
	setStr(&cfg.NATS.Subject, "BUREAU_NATS_SUBJECT")

	// ── Top-level ──
	setStr(&cfg.LogLevel, "BUREAU_LOG_LEVEL")
}

// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt32(dst *int32, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 32); err == nil {
			*dst = int32(n)
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				cleaned = append(cleaned, p)
			}
		}
		*dst = cleaned
	}
}
