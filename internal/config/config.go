package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/holiman/uint256"
	"gopkg.in/yaml.v3"
)

// Coordinator run modes
const (
	ModeMemory = "memory" // in-process chain simulators, for development and demos
	ModeRemote = "remote" // settlement gateway + privacy node over HTTP
)

// Config application configuration structure
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Database    DatabaseConfig    `yaml:"database"`
	NATS        NATSConfig        `yaml:"nats"`
	Log         LogConfig         `yaml:"log"`
	Settlement  SettlementConfig  `yaml:"settlement"`
	Privacy     PrivacyConfig     `yaml:"privacy"`
	ZKVM        ZKVMConfig        `yaml:"zkvm"`
	Coordinator CoordinatorConfig `yaml:"coordinator"`
	CORS        CORSConfig        `yaml:"cors"`
	Admin       AdminConfig       `yaml:"admin"`
}

// ServerConfig server configuration
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// DatabaseConfig Database configuration. Empty DSN disables persistence.
type DatabaseConfig struct {
	DSN    string `yaml:"dsn"`
	Driver string `yaml:"driver"`
}

// NATSConfig event publishing. Empty URL disables NATS.
type NATSConfig struct {
	URL             string `yaml:"url"`
	Timeout         int    `yaml:"timeout"`        // seconds
	ReconnectWait   int    `yaml:"reconnect_wait"` // seconds
	MaxReconnects   int    `yaml:"max_reconnects"`
	EnableJetStream bool   `yaml:"enable_jetstream"`
	StreamName      string `yaml:"stream_name"`
	SubjectPrefix   string `yaml:"subject_prefix"` // events go to <prefix>.<epoch>.<type>
	NoticeSubject   string `yaml:"notice_subject"` // chain watchers announce new blocks here
}

// LogConfig logrus level and formatter
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // text | json
}

// SettlementConfig settlement chain gateway
type SettlementConfig struct {
	GatewayURL         string   `yaml:"gatewayUrl"`
	Timeout            int      `yaml:"timeout"` // seconds, HTTP client
	RPCEndpoints       []string `yaml:"rpcEndpoints"`
	Confirmations      uint64   `yaml:"confirmations"`
	ConfirmInterval    int      `yaml:"confirmInterval"` // milliseconds between receipt polls
	AdminIdentity      string   `yaml:"adminIdentity"`
	BreakerMaxFailures uint32   `yaml:"breakerMaxFailures"`
	BreakerTimeout     int      `yaml:"breakerTimeout"` // seconds the breaker stays open
}

// PrivacyConfig privacy chain node
type PrivacyConfig struct {
	NodeURL            string `yaml:"nodeUrl"`
	Timeout            int    `yaml:"timeout"`
	BreakerMaxFailures uint32 `yaml:"breakerMaxFailures"`
	BreakerTimeout     int    `yaml:"breakerTimeout"`
}

// ZKVMConfig ZKVM proof service configuration
type ZKVMConfig struct {
	BaseURL string `yaml:"baseUrl"`
	Timeout int    `yaml:"timeout"`
}

// CoordinatorConfig epoch policy and retry behaviour
type CoordinatorConfig struct {
	Mode            string `yaml:"mode"`
	HashFamily      string `yaml:"hashFamily"`
	RetryBaseMs     int    `yaml:"retryBaseMs"`
	RetryCapMs      int    `yaml:"retryCapMs"`
	MaxRetries      uint64 `yaml:"maxRetries"`
	CallTimeout     int    `yaml:"callTimeout"`  // seconds per adapter attempt
	PollInterval    int    `yaml:"pollInterval"` // seconds
	AutoAdvance     bool   `yaml:"autoAdvance"`
	MaxParticipants int    `yaml:"maxParticipants"`
	MinDeposit      string `yaml:"minDeposit"`    // smallest settlement unit, decimal
	EpochDuration   int    `yaml:"epochDuration"` // seconds

	// memory mode only: reward accrued on stake, in basis points of the staked amount
	SimulatedYieldBps int `yaml:"simulatedYieldBps"`
}

// CORSConfig CORS configuration
type CORSConfig struct {
	AllowedOrigins   []string `yaml:"allowedOrigins"`
	AllowCredentials bool     `yaml:"allowCredentials"`
	MaxAge           int      `yaml:"maxAge"`
}

// AdminConfig Admin API access control configuration
type AdminConfig struct {
	AllowedIPs []string `yaml:"allowedIPs"` // List of allowed IP addresses or CIDR ranges
	Username   string   `yaml:"username"`
}

var AppConfig *Config

// Default configuration used when a field is left empty
func Default() *Config {
	return &Config{
		Server:   ServerConfig{Host: "0.0.0.0", Port: 8080},
		Database: DatabaseConfig{Driver: "postgres"},
		NATS: NATSConfig{
			Timeout:       10,
			ReconnectWait: 5,
			MaxReconnects: -1,
			StreamName:    "LOTTERY_EVENTS",
			SubjectPrefix: "lottery",
			NoticeSubject: "lottery.chain.notice",
		},
		Log: LogConfig{Level: "info", Format: "text"},
		Settlement: SettlementConfig{
			Timeout:            30,
			Confirmations:      2,
			ConfirmInterval:    2000,
			AdminIdentity:      "coordinator",
			BreakerMaxFailures: 5,
			BreakerTimeout:     30,
		},
		Privacy: PrivacyConfig{Timeout: 30, BreakerMaxFailures: 5, BreakerTimeout: 30},
		ZKVM:    ZKVMConfig{Timeout: 300},
		Coordinator: CoordinatorConfig{
			Mode:            ModeMemory,
			HashFamily:      "keccak256",
			RetryBaseMs:     200,
			RetryCapMs:      5000,
			MaxRetries:      4,
			CallTimeout:     30,
			PollInterval:    15,
			AutoAdvance:     true,
			MaxParticipants: 1000,
			MinDeposit:      "1",
			EpochDuration:   86400,

			SimulatedYieldBps: 50,
		},
		Admin: AdminConfig{Username: "admin"},
	}
}

// LoadConfig Load configuration file
func LoadConfig(configPath string) error {
	cfg, err := Load(configPath)
	if err != nil {
		return err
	}
	AppConfig = cfg
	return nil
}

// Load reads, overrides from env and validates a configuration without
// touching the global AppConfig.
func Load(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = "config.yaml"
		if _, err := os.Stat("config.local.yaml"); err == nil {
			configPath = "config.local.yaml"
			fmt.Printf("🔧 Using local configuration file: config.local.yaml\n")
		}
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	fmt.Printf("✅ [%s] Loading configuration from config file: %s\n", time.Now().Format("2006-01-02 15:04:05"), configPath)

	overrideFromEnv(config)

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	fmt.Printf("📋 [Config] Coordinator mode=%s hash=%s retries=%d callTimeout=%ds\n",
		config.Coordinator.Mode, config.Coordinator.HashFamily, config.Coordinator.MaxRetries, config.Coordinator.CallTimeout)
	if len(config.Admin.AllowedIPs) > 0 {
		fmt.Printf("📋 [Config] Admin IP whitelist loaded: %d IPs/CIDRs configured\n", len(config.Admin.AllowedIPs))
	} else {
		fmt.Printf("📋 [Config] Admin IP whitelist: not configured (localhost-only mode)\n")
	}
	return config, nil
}

// Validate rejects values the coordinator cannot run with
func (c *Config) Validate() error {
	cc := c.Coordinator
	switch cc.Mode {
	case ModeMemory:
	case ModeRemote:
		if c.Settlement.GatewayURL == "" {
			return fmt.Errorf("settlement.gatewayUrl required in remote mode")
		}
		if c.Privacy.NodeURL == "" {
			return fmt.Errorf("privacy.nodeUrl required in remote mode")
		}
	default:
		return fmt.Errorf("coordinator.mode must be %q or %q, got %q", ModeMemory, ModeRemote, cc.Mode)
	}
	if cc.HashFamily != "keccak256" && cc.HashFamily != "blake2b256" {
		return fmt.Errorf("coordinator.hashFamily must be keccak256 or blake2b256, got %q", cc.HashFamily)
	}
	if cc.MaxRetries == 0 {
		return fmt.Errorf("coordinator.maxRetries must be positive")
	}
	if cc.RetryBaseMs <= 0 || cc.RetryCapMs < cc.RetryBaseMs {
		return fmt.Errorf("coordinator.retryBaseMs must be positive and not exceed retryCapMs")
	}
	if cc.CallTimeout <= 0 {
		return fmt.Errorf("coordinator.callTimeout must be positive")
	}
	if cc.PollInterval <= 0 {
		return fmt.Errorf("coordinator.pollInterval must be positive")
	}
	if cc.MaxParticipants != 0 && cc.MaxParticipants < 2 {
		return fmt.Errorf("coordinator.maxParticipants must be 0 (unlimited) or at least 2")
	}
	if cc.EpochDuration <= 0 {
		return fmt.Errorf("coordinator.epochDuration must be positive")
	}
	if cc.SimulatedYieldBps < 0 || cc.SimulatedYieldBps > 10000 {
		return fmt.Errorf("coordinator.simulatedYieldBps must be within 0..10000")
	}
	if _, err := c.MinDeposit(); err != nil {
		return err
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", c.Server.Port)
	}
	return nil
}

// MinDeposit parsed coordinator.minDeposit; nil when unset
func (c *Config) MinDeposit() (*uint256.Int, error) {
	if c.Coordinator.MinDeposit == "" {
		return nil, nil
	}
	v, err := uint256.FromDecimal(c.Coordinator.MinDeposit)
	if err != nil {
		return nil, fmt.Errorf("coordinator.minDeposit: %w", err)
	}
	return v, nil
}

// RetryBase backoff base delay
func (c *CoordinatorConfig) RetryBase() time.Duration {
	return time.Duration(c.RetryBaseMs) * time.Millisecond
}

// RetryCap backoff ceiling
func (c *CoordinatorConfig) RetryCap() time.Duration {
	return time.Duration(c.RetryCapMs) * time.Millisecond
}

// CallTimeoutDuration per-attempt adapter timeout
func (c *CoordinatorConfig) CallTimeoutDuration() time.Duration {
	return time.Duration(c.CallTimeout) * time.Second
}

// PollIntervalDuration chain polling period
func (c *CoordinatorConfig) PollIntervalDuration() time.Duration {
	return time.Duration(c.PollInterval) * time.Second
}

// EpochDurationValue collection window of a new epoch
func (c *CoordinatorConfig) EpochDurationValue() time.Duration {
	return time.Duration(c.EpochDuration) * time.Second
}

// overrideFromEnv Override configuration from environment variables
func overrideFromEnv(config *Config) {
	if dsn := os.Getenv("DATABASE_DSN"); dsn != "" {
		config.Database.DSN = dsn
	}

	if host := os.Getenv("SERVER_HOST"); host != "" {
		config.Server.Host = host
	}
	if port := os.Getenv("SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}

	if natsURL := os.Getenv("NATS_URL"); natsURL != "" {
		config.NATS.URL = natsURL
	}
	if natsTimeout := os.Getenv("NATS_TIMEOUT"); natsTimeout != "" {
		if t, err := strconv.Atoi(natsTimeout); err == nil {
			config.NATS.Timeout = t
		}
	}

	if level := os.Getenv("LOG_LEVEL"); level != "" {
		config.Log.Level = level
	}
	if format := os.Getenv("LOG_FORMAT"); format != "" {
		config.Log.Format = format
	}

	if gw := os.Getenv("SETTLEMENT_GATEWAY_URL"); gw != "" {
		config.Settlement.GatewayURL = gw
	}
	if rpc := os.Getenv("SETTLEMENT_RPC_ENDPOINTS"); rpc != "" {
		config.Settlement.RPCEndpoints = splitList(rpc)
	}
	if confs := os.Getenv("SETTLEMENT_CONFIRMATIONS"); confs != "" {
		if n, err := strconv.ParseUint(confs, 10, 64); err == nil {
			config.Settlement.Confirmations = n
		}
	}
	if id := os.Getenv("SETTLEMENT_ADMIN_IDENTITY"); id != "" {
		config.Settlement.AdminIdentity = id
	}

	if node := os.Getenv("PRIVACY_NODE_URL"); node != "" {
		config.Privacy.NodeURL = node
	}

	if zkvm := os.Getenv("ZKVM_BASE_URL"); zkvm != "" {
		config.ZKVM.BaseURL = zkvm
	}

	if mode := os.Getenv("COORDINATOR_MODE"); mode != "" {
		config.Coordinator.Mode = mode
	}
	if family := os.Getenv("COORDINATOR_HASH_FAMILY"); family != "" {
		config.Coordinator.HashFamily = family
	}
	if retries := os.Getenv("COORDINATOR_MAX_RETRIES"); retries != "" {
		if n, err := strconv.ParseUint(retries, 10, 64); err == nil {
			config.Coordinator.MaxRetries = n
		}
	}
	if minDeposit := os.Getenv("COORDINATOR_MIN_DEPOSIT"); minDeposit != "" {
		config.Coordinator.MinDeposit = minDeposit
	}

	if corsOrigins := os.Getenv("CORS_ALLOWED_ORIGINS"); corsOrigins != "" {
		config.CORS.AllowedOrigins = splitList(corsOrigins)
	}
	if ips := os.Getenv("ADMIN_ALLOWED_IPS"); ips != "" {
		config.Admin.AllowedIPs = splitList(ips)
	}
	if user := os.Getenv("ADMIN_USERNAME"); user != "" {
		config.Admin.Username = user
	}
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// GetZKVMURL Get ZKVM service URL
func GetZKVMURL() string {
	if AppConfig != nil && AppConfig.ZKVM.BaseURL != "" {
		return AppConfig.ZKVM.BaseURL
	}
	if zkvmURL := os.Getenv("ZKVM_BASE_URL"); zkvmURL != "" {
		return zkvmURL
	}
	if os.Getenv("GIN_MODE") == "release" {
		return "http://lottery-zkvm:18081"
	}
	return "http://localhost:18081"
}
