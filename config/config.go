package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"

	nativecommon "greenbonds/native/common"
	"greenbonds/observability/logging"
	telemetry "greenbonds/observability/otel"
)

const (
	DefaultRPCAddress    = ":8080"
	DefaultDataDir       = "./greenbonds-data"
	DefaultNetworkName   = "greenbonds-local"
	DefaultEnvironment   = "dev"
	DefaultAdminTokenEnv = "GREENBONDS_RPC_TOKEN"
)

// Config is the node configuration file.
type Config struct {
	RPCAddress    string   `toml:"RPCAddress"`
	DataDir       string   `toml:"DataDir"`
	NetworkName   string   `toml:"NetworkName"`
	Environment   string   `toml:"Environment"`
	PausedModules []string `toml:"PausedModules"`

	RPC       RPCConfig       `toml:"rpc"`
	Quota     QuotaConfig     `toml:"quota"`
	Logging   LoggingConfig   `toml:"logging"`
	Telemetry TelemetryConfig `toml:"telemetry"`

	Tokens      []TokenConfig      `toml:"token"`
	Allocations []AllocationConfig `toml:"allocation"`
	Instruments []InstrumentConfig `toml:"instrument"`
}

// RPCConfig controls the JSON-RPC listener.
type RPCConfig struct {
	// AdminTokenEnv names the environment variable holding the HMAC secret
	// used to verify admin bearer tokens.
	AdminTokenEnv string `toml:"AdminTokenEnv"`
	// RateLimit is the sustained requests per second allowed per client IP.
	RateLimit float64 `toml:"RateLimit"`
	Burst     int     `toml:"Burst"`
	// MaxBodyBytes bounds the size of one request body.
	MaxBodyBytes int64 `toml:"MaxBodyBytes"`
	// MaxExpirySeconds bounds how far in the future a signed envelope may
	// expire.
	MaxExpirySeconds int64 `toml:"MaxExpirySeconds"`
	// ReplayStore is the bbolt file remembering used envelope nonces. Empty
	// means <DataDir>/replay.db.
	ReplayStore string `toml:"ReplayStore"`
	// ReplayTTLSeconds is how long a used nonce is remembered.
	ReplayTTLSeconds int64 `toml:"ReplayTTLSeconds"`
}

// QuotaConfig limits signed writes per caller and epoch. Zero disables a
// limit.
type QuotaConfig struct {
	MaxRequestsPerEpoch uint32 `toml:"MaxRequestsPerEpoch"`
	MaxUnitsPerEpoch    uint64 `toml:"MaxUnitsPerEpoch"`
	EpochSeconds        uint32 `toml:"EpochSeconds"`
}

// LoggingConfig selects the log level and optional rotating file sink.
type LoggingConfig struct {
	Level      string `toml:"Level"`
	File       string `toml:"File"`
	MaxSizeMB  int    `toml:"MaxSizeMB"`
	MaxBackups int    `toml:"MaxBackups"`
	MaxAgeDays int    `toml:"MaxAgeDays"`
}

// TelemetryConfig wires the OTLP exporters.
type TelemetryConfig struct {
	Endpoint    string  `toml:"Endpoint"`
	Insecure    bool    `toml:"Insecure"`
	Headers     string  `toml:"Headers"`
	Traces      bool    `toml:"Traces"`
	Metrics     bool    `toml:"Metrics"`
	SampleRatio float64 `toml:"SampleRatio"`
}

// TokenConfig registers a settlement token at genesis.
type TokenConfig struct {
	Symbol   string `toml:"Symbol"`
	Name     string `toml:"Name"`
	Decimals uint8  `toml:"Decimals"`
}

// AllocationConfig mints a genesis balance. Amount is a base-10 integer in
// the token's smallest unit.
type AllocationConfig struct {
	Address string `toml:"Address"`
	Token   string `toml:"Token"`
	Amount  string `toml:"Amount"`
}

// InstrumentConfig creates a bond at genesis. Dates are RFC3339 and amounts
// base-10 integers.
type InstrumentConfig struct {
	Issuer               string `toml:"Issuer"`
	Name                 string `toml:"Name"`
	Symbol               string `toml:"Symbol"`
	InterestRateBips     uint64 `toml:"InterestRateBips"`
	FaceValue            string `toml:"FaceValue"`
	SettlementToken      string `toml:"SettlementToken"`
	MaxSupply            string `toml:"MaxSupply"`
	IssueDate            string `toml:"IssueDate"`
	IssuePrice           string `toml:"IssuePrice"`
	InterestPeriodMonths uint32 `toml:"InterestPeriodMonths"`
	FirstCouponDate      string `toml:"FirstCouponDate"`
	NumCoupons           uint32 `toml:"NumCoupons"`
}

// LoadEnv overlays variables from the given dotenv files onto the process
// environment. Variables already set win, and missing files are ignored.
func LoadEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, file := range files {
		if _, err := os.Stat(file); os.IsNotExist(err) {
			continue
		}
		if err := godotenv.Load(file); err != nil {
			return fmt.Errorf("load %s: %w", file, err)
		}
	}
	return nil
}

// Load loads the configuration from the given path, writing a default file
// when none exists.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	cfg := &Config{}
	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, err
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, key := range undecoded {
			keys = append(keys, key.String())
		}
		return nil, fmt.Errorf("config file %s has unknown keys: %s", path, strings.Join(keys, ", "))
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}
	return cfg, nil
}

// Default returns a configuration with every default applied and no genesis
// content.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if strings.TrimSpace(c.RPCAddress) == "" {
		c.RPCAddress = DefaultRPCAddress
	}
	if strings.TrimSpace(c.DataDir) == "" {
		c.DataDir = DefaultDataDir
	}
	if strings.TrimSpace(c.NetworkName) == "" {
		c.NetworkName = DefaultNetworkName
	}
	if strings.TrimSpace(c.Environment) == "" {
		c.Environment = DefaultEnvironment
	}
	if c.PausedModules == nil {
		c.PausedModules = []string{}
	}
	if strings.TrimSpace(c.RPC.AdminTokenEnv) == "" {
		c.RPC.AdminTokenEnv = DefaultAdminTokenEnv
	}
	if c.RPC.RateLimit == 0 {
		c.RPC.RateLimit = 20
	}
	if c.RPC.Burst == 0 {
		c.RPC.Burst = 40
	}
	if c.RPC.MaxBodyBytes == 0 {
		c.RPC.MaxBodyBytes = 1 << 20
	}
	if c.RPC.MaxExpirySeconds == 0 {
		c.RPC.MaxExpirySeconds = 600
	}
	if c.RPC.ReplayTTLSeconds == 0 {
		c.RPC.ReplayTTLSeconds = 2 * c.RPC.MaxExpirySeconds
	}
	if strings.TrimSpace(c.RPC.ReplayStore) == "" {
		c.RPC.ReplayStore = filepath.Join(c.DataDir, "replay.db")
	}
	if c.Quota.EpochSeconds == 0 {
		c.Quota.EpochSeconds = 3600
	}
	if strings.TrimSpace(c.Logging.Level) == "" {
		c.Logging.Level = "info"
	}
	if c.Telemetry.SampleRatio == 0 {
		c.Telemetry.SampleRatio = 1
	}
}

// LedgerPath is the LevelDB directory holding the state trie.
func (c *Config) LedgerPath() string {
	return filepath.Join(c.DataDir, "ledger")
}

// AdminSecret returns the admin bearer HMAC secret from the environment.
func (c *Config) AdminSecret() string {
	return strings.TrimSpace(os.Getenv(c.RPC.AdminTokenEnv))
}

// ReplayTTL is RPC.ReplayTTLSeconds as a duration.
func (c *Config) ReplayTTL() time.Duration {
	return time.Duration(c.RPC.ReplayTTLSeconds) * time.Second
}

// MaxExpiry is RPC.MaxExpirySeconds as a duration.
func (c *Config) MaxExpiry() time.Duration {
	return time.Duration(c.RPC.MaxExpirySeconds) * time.Second
}

// WriteQuota converts the quota section for the RPC tracker.
func (c *Config) WriteQuota() nativecommon.Quota {
	return nativecommon.Quota{
		MaxRequestsPerEpoch: c.Quota.MaxRequestsPerEpoch,
		MaxUnitsPerEpoch:    c.Quota.MaxUnitsPerEpoch,
		EpochSeconds:        c.Quota.EpochSeconds,
	}
}

// LoggingOptions converts the logging section for logging.SetupWithOptions.
func (c *Config) LoggingOptions(service string) logging.Options {
	return logging.Options{
		Service:    service,
		Env:        c.Environment,
		Level:      c.Logging.Level,
		File:       c.Logging.File,
		MaxSizeMB:  c.Logging.MaxSizeMB,
		MaxBackups: c.Logging.MaxBackups,
		MaxAgeDays: c.Logging.MaxAgeDays,
	}
}

// TelemetryConfig converts the telemetry section for otel.Init.
func (c *Config) TelemetryConfig(service string) telemetry.Config {
	return telemetry.Config{
		ServiceName: service,
		Environment: c.Environment,
		Endpoint:    c.Telemetry.Endpoint,
		Insecure:    c.Telemetry.Insecure,
		Headers:     telemetry.ParseHeaders(c.Telemetry.Headers),
		Metrics:     c.Telemetry.Metrics,
		Traces:      c.Telemetry.Traces,
		SampleRatio: c.Telemetry.SampleRatio,
	}
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	cfg := Default()
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}
