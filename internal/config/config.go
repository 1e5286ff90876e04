// Package config defines the configuration of the bureau contract host and
// provides validation helpers.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by BUREAU_* environment variables.
type Config struct {
	Server   ServerConfig   `toml:"server"`
	Ledger   LedgerConfig   `toml:"ledger"`
	Custody  CustodyConfig  `toml:"custody"`
	Contract ContractConfig `toml:"contract"`
	NATS     NATSConfig     `toml:"nats"`
	LogLevel string         `toml:"log_level"`
}

// ServerConfig controls the HTTP host.
type ServerConfig struct {
	Port            int      `toml:"port"`
	ReadTimeout     duration `toml:"read_timeout"`
	WriteTimeout    duration `toml:"write_timeout"`
	ShutdownTimeout duration `toml:"shutdown_timeout"`
	CORSOrigins     []string `toml:"cors_origins"`
	// TLS with client certificates makes the certificate CN the caller
	// identity. Without it the X-Caller-Name header is trusted.
	TLSCertFile     string `toml:"tls_cert_file"`
	TLSKeyFile      string `toml:"tls_key_file"`
	TLSClientCAFile string `toml:"tls_client_ca_file"`
}

// LedgerConfig selects the state backend.
type LedgerConfig struct {
	Backend     string `toml:"backend"` // memory, postgres, redis
	PostgresDSN string `toml:"postgres_dsn"`
	RedisURL    string `toml:"redis_url"`
	RedisPrefix string `toml:"redis_prefix"`
}

// CustodyConfig selects the token custody contract.
type CustodyConfig struct {
	Mode       string   `toml:"mode"` // memory, http
	ContractID string   `toml:"contract_id"`
	URL        string   `toml:"url"`
	APIKey     string   `toml:"api_key"`
	Timeout    duration `toml:"timeout"`

	// In-process custody contract only.
	TokenDecimals int32  `toml:"token_decimals"`
	GasPercentage string `toml:"gas_percentage"`
	GasMin        string `toml:"gas_min"`
	Faucet        string `toml:"faucet"`
}

// ContractConfig holds the bootstrap parameters of the contract.
type ContractConfig struct {
	BaseToken   string `toml:"base_token"`
	AdminID     string `toml:"admin_id"`
	AdminName   string `toml:"admin_name"`
	AccountID   string `toml:"account_id"`
	AccountName string `toml:"account_name"`
}

// NATSConfig enables publishing of committed events.
type NATSConfig struct {
	URL     string `toml:"url"`
	Subject string `toml:"subject"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "5s").
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config suitable for local development: in-memory
// ledger and custody, no message bus.
func Defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     duration{10 * time.Second},
			WriteTimeout:    duration{10 * time.Second},
			ShutdownTimeout: duration{5 * time.Second},
			CORSOrigins:     []string{"*"},
		},
		Ledger: LedgerConfig{
			Backend:     "memory",
			RedisPrefix: "bureau:",
		},
		Custody: CustodyConfig{
			Mode:          "memory",
			ContractID:    "earth",
			Timeout:       duration{10 * time.Second},
			TokenDecimals: 2,
			GasPercentage: "0.01",
			GasMin:        "0",
			Faucet:        "1000",
		},
		Contract: ContractConfig{
			BaseToken:   "GZH",
			AdminID:     "admin",
			AdminName:   "admin",
			AccountID:   "futurebureau",
			AccountName: "Dapp_futurebureau",
		},
		NATS: NATSConfig{
			Subject: "futurebureau.events",
		},
		LogLevel: "info",
	}
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
	}
	if (c.Server.TLSCertFile == "") != (c.Server.TLSKeyFile == "") {
		errs = append(errs, "server: tls_cert_file and tls_key_file must be set together")
	}
	if c.Server.TLSClientCAFile != "" && c.Server.TLSCertFile == "" {
		errs = append(errs, "server: tls_client_ca_file requires tls_cert_file")
	}

	switch c.Ledger.Backend {
	case "memory":
	case "postgres":
		if c.Ledger.PostgresDSN == "" {
			errs = append(errs, "ledger: postgres_dsn is required for the postgres backend")
		}
	case "redis":
		if c.Ledger.RedisURL == "" {
			errs = append(errs, "ledger: redis_url is required for the redis backend")
		}
	default:
		errs = append(errs, fmt.Sprintf("ledger: unknown backend %q (valid: memory, postgres, redis)", c.Ledger.Backend))
	}

	if c.Custody.ContractID == "" {
		errs = append(errs, "custody: contract_id must not be empty")
	}
	switch c.Custody.Mode {
	case "memory":
		if c.Custody.TokenDecimals < 0 || c.Custody.TokenDecimals > 16 {
			errs = append(errs, fmt.Sprintf("custody: token_decimals must be 0-16, got %d", c.Custody.TokenDecimals))
		}
		pct, err := decimal.NewFromString(c.Custody.GasPercentage)
		if err != nil || pct.IsNegative() || pct.GreaterThan(decimal.NewFromInt(1)) {
			errs = append(errs, fmt.Sprintf("custody: gas_percentage must be a decimal in [0,1], got %q", c.Custody.GasPercentage))
		}
		if m, err := decimal.NewFromString(c.Custody.GasMin); err != nil || m.IsNegative() {
			errs = append(errs, fmt.Sprintf("custody: gas_min must be a non-negative decimal, got %q", c.Custody.GasMin))
		}
		if c.Custody.Faucet != "" {
			if f, err := decimal.NewFromString(c.Custody.Faucet); err != nil || f.IsNegative() {
				errs = append(errs, fmt.Sprintf("custody: faucet must be a non-negative decimal, got %q", c.Custody.Faucet))
			}
		}
	case "http":
		if c.Custody.URL == "" {
			errs = append(errs, "custody: url is required for http mode")
		}
	default:
		errs = append(errs, fmt.Sprintf("custody: unknown mode %q (valid: memory, http)", c.Custody.Mode))
	}

	if c.Contract.BaseToken == "" {
		errs = append(errs, "contract: base_token must not be empty")
	}
	if c.Contract.AdminID == "" || c.Contract.AccountID == "" {
		errs = append(errs, "contract: admin_id and account_id must not be empty")
	}

	if c.NATS.URL != "" && c.NATS.Subject == "" {
		errs = append(errs, "nats: subject is required when url is set")
	}

	if len(errs) > 0 {
		return errors.New("config: " + strings.Join(errs, "; "))
	}
	return nil
}
