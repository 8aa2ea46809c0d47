package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"intent-settlement/internal/events"
	"intent-settlement/internal/intent"
	"intent-settlement/internal/settlement"
	"intent-settlement/pkg/logger"
)

// EnvPath 是指向配置文件的环境变量名。
const EnvPath = "SETTLE_CONFIG"

// Config 是守护进程启动时读取的全部配置。
type Config struct {
	Server   ServerConfig   `json:"server"`
	Auth     AuthConfig     `json:"auth"`
	Protocol ProtocolConfig `json:"protocol"`
	Ledger   LedgerConfig   `json:"ledger"`
	Events   EventsConfig   `json:"events"`
	Journal  JournalConfig  `json:"journal"`
	Alerting AlertingConfig `json:"alerting"`
	Logging  logger.Config  `json:"logging"`
}

// ServerConfig 控制 API 与指标监听地址。
type ServerConfig struct {
	Address         string   `json:"address"`
	MetricsAddress  string   `json:"metrics_address"`
	AllowedOrigins  []string `json:"allowed_origins"`
	ReadTimeout     Duration `json:"read_timeout"`
	ShutdownTimeout Duration `json:"shutdown_timeout"`
}

// AuthConfig 配置签名登录及签发的令牌。
type AuthConfig struct {
	Secret    string   `json:"secret"`
	Issuer    string   `json:"issuer"`
	TokenTTL  Duration `json:"token_ttl"`
	LoginSkew Duration `json:"login_skew"`
}

// ProtocolConfig 保存签名域和引擎参数。
// 地址使用十六进制字符串，最低质押以最小单位整数表示。
type ProtocolConfig struct {
	DomainName        string   `json:"domain_name"`
	DomainVersion     string   `json:"domain_version"`
	ChainID           uint64   `json:"chain_id"`
	VerifyingContract string   `json:"verifying_contract"`
	SignatureScheme   string   `json:"signature_scheme"`
	Owner             string   `json:"owner"`
	FeeRecipient      string   `json:"fee_recipient"`
	Escrow            string   `json:"escrow"`
	StakeAsset        string   `json:"stake_asset"`
	ProtocolFeeBps    *uint64  `json:"protocol_fee_bps"`
	MinSolverStake    string   `json:"min_solver_stake"`
	BatchInterval     Duration `json:"batch_interval"`
	RevealTimeout     Duration `json:"reveal_timeout"`
	DutchDecayPeriod  Duration `json:"dutch_decay_period"`
	Permissioned      bool     `json:"permissioned"`
	// RPCURL, when set, is used at start-up to check ChainID and
	// VerifyingContract against a live node.
	RPCURL string `json:"rpc_url"`
}

// LedgerConfig 选择承载转账的余额账本。
type LedgerConfig struct {
	Driver     string `json:"driver"`
	DSN        string `json:"dsn"`
	AssetsFile string `json:"assets_file"`
}

// EventsConfig 选择事件发布所用的总线。
type EventsConfig struct {
	Driver         string                `json:"driver"`
	Buffer         int                   `json:"buffer"`
	PublishTimeout Duration              `json:"publish_timeout"`
	Redis          events.RedisConfig    `json:"redis"`
	RabbitMQ       events.RabbitMQConfig `json:"rabbitmq"`
}

// JournalConfig 选择事件日志存储并设置索引器规模。
type JournalConfig struct {
	Driver      string `json:"driver"`
	DSN         string `json:"dsn"`
	Workers     int    `json:"workers"`
	MaxAttempts int    `json:"max_attempts"`
}

type AlertingConfig struct {
	WebhookURL string `json:"webhook_url"`
}

// Duration 支持 Go 时长字符串（如 "12s"）或秒数。
type Duration struct {
	time.Duration
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	raw := strings.TrimSpace(string(b))
	if raw == "null" {
		return nil
	}
	if strings.HasPrefix(raw, `"`) {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("parse duration %q: %w", s, err)
		}
		d.Duration = parsed
		return nil
	}
	secs, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return fmt.Errorf("parse duration %s: %w", raw, err)
	}
	d.Duration = time.Duration(secs * float64(time.Second))
	return nil
}

// PathFromEnv 从 SETTLE_CONFIG 读取配置路径，未设置时返回 fallback。
func PathFromEnv(fallback string) string {
	if p := os.Getenv(EnvPath); p != "" {
		return p
	}
	return fallback
}

// Load 解析 path 处的 JSON 配置并填充默认值。
// 配置中的相对路径以配置文件所在目录为基准。
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(content, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyDefaults(filepath.Dir(path))
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults(baseDir string) {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}
	if c.Server.MetricsAddress == "" {
		c.Server.MetricsAddress = ":9090"
	}
	if c.Server.ReadTimeout.Duration == 0 {
		c.Server.ReadTimeout.Duration = 15 * time.Second
	}
	if c.Server.ShutdownTimeout.Duration == 0 {
		c.Server.ShutdownTimeout.Duration = 10 * time.Second
	}

	if c.Auth.Issuer == "" {
		c.Auth.Issuer = "intent-settlement"
	}
	if c.Auth.TokenTTL.Duration == 0 {
		c.Auth.TokenTTL.Duration = 24 * time.Hour
	}
	if c.Auth.LoginSkew.Duration == 0 {
		c.Auth.LoginSkew.Duration = 5 * time.Minute
	}

	defaults := settlement.DefaultParams()
	p := &c.Protocol
	if p.DomainName == "" {
		p.DomainName = "IntentSettlement"
	}
	if p.DomainVersion == "" {
		p.DomainVersion = "1"
	}
	if p.ChainID == 0 {
		p.ChainID = 1
	}
	if p.SignatureScheme == "" {
		p.SignatureScheme = "secp256k1"
	}
	if p.ProtocolFeeBps == nil {
		bps := defaults.ProtocolFeeBps
		p.ProtocolFeeBps = &bps
	}
	if p.MinSolverStake == "" {
		p.MinSolverStake = defaults.MinSolverStake.String()
	}
	if p.BatchInterval.Duration == 0 {
		p.BatchInterval.Duration = defaults.BatchInterval
	}
	if p.RevealTimeout.Duration == 0 {
		p.RevealTimeout.Duration = defaults.RevealTimeout
	}
	if p.DutchDecayPeriod.Duration == 0 {
		p.DutchDecayPeriod.Duration = defaults.DutchDecayPeriod
	}

	if c.Ledger.Driver == "" {
		c.Ledger.Driver = "memory"
	}
	if c.Ledger.AssetsFile != "" && !filepath.IsAbs(c.Ledger.AssetsFile) {
		c.Ledger.AssetsFile = filepath.Join(baseDir, c.Ledger.AssetsFile)
	}

	if c.Events.Driver == "" {
		c.Events.Driver = "memory"
	}
	if c.Events.Buffer <= 0 {
		c.Events.Buffer = 1024
	}
	if c.Events.PublishTimeout.Duration <= 0 {
		c.Events.PublishTimeout.Duration = 5 * time.Second
	}

	if c.Journal.Driver == "" {
		c.Journal.Driver = "memory"
	}
	if c.Journal.Workers <= 0 {
		c.Journal.Workers = 1
	}
	if c.Journal.MaxAttempts <= 0 {
		c.Journal.MaxAttempts = 5
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.Logging.Audit.Path != "" && !filepath.IsAbs(c.Logging.Audit.Path) {
		c.Logging.Audit.Path = filepath.Join(baseDir, c.Logging.Audit.Path)
	}
}

// Validate 校验驱动名称和协议配置。
func (c *Config) Validate() error {
	if err := oneOf("ledger.driver", c.Ledger.Driver, "memory", "mysql"); err != nil {
		return err
	}
	if err := oneOf("events.driver", c.Events.Driver, "memory", "redis", "rabbitmq"); err != nil {
		return err
	}
	if err := oneOf("journal.driver", c.Journal.Driver, "memory", "postgres"); err != nil {
		return err
	}
	if c.Ledger.Driver == "mysql" && c.Ledger.DSN == "" {
		return errors.New("ledger.dsn is required for the mysql driver")
	}
	if c.Journal.Driver == "postgres" && c.Journal.DSN == "" {
		return errors.New("journal.dsn is required for the postgres driver")
	}
	if c.Auth.Secret == "" {
		return errors.New("auth.secret is required")
	}
	if _, err := c.Protocol.Verifier(); err != nil {
		return err
	}
	if _, err := c.Protocol.Params(); err != nil {
		return err
	}
	return nil
}

func oneOf(field, value string, allowed ...string) error {
	for _, a := range allowed {
		if value == a {
			return nil
		}
	}
	return fmt.Errorf("%s: unsupported value %q (want one of %s)", field, value, strings.Join(allowed, ", "))
}

// Domain 返回签名域。
func (p ProtocolConfig) Domain() (intent.Domain, error) {
	contract, err := optionalAddress("protocol.verifying_contract", p.VerifyingContract)
	if err != nil {
		return intent.Domain{}, err
	}
	return intent.Domain{
		Name:              p.DomainName,
		Version:           p.DomainVersion,
		ChainID:           new(big.Int).SetUint64(p.ChainID),
		VerifyingContract: contract,
	}, nil
}

// Verifier 返回 maker 使用的签名方案。
func (p ProtocolConfig) Verifier() (intent.Verifier, error) {
	switch p.SignatureScheme {
	case "", "secp256k1":
		return intent.Secp256k1Verifier{}, nil
	case "ed25519":
		return intent.Ed25519Verifier{}, nil
	default:
		return nil, fmt.Errorf("protocol.signature_scheme: unsupported value %q", p.SignatureScheme)
	}
}

// Params 将协议配置转换为引擎参数并校验。
func (p ProtocolConfig) Params() (settlement.Params, error) {
	params := settlement.DefaultParams()
	var err error
	if params.Owner, err = requiredAddress("protocol.owner", p.Owner); err != nil {
		return params, err
	}
	if params.FeeRecipient, err = requiredAddress("protocol.fee_recipient", p.FeeRecipient); err != nil {
		return params, err
	}
	if params.Escrow, err = requiredAddress("protocol.escrow", p.Escrow); err != nil {
		return params, err
	}
	if params.StakeAsset, err = optionalAddress("protocol.stake_asset", p.StakeAsset); err != nil {
		return params, err
	}
	if p.ProtocolFeeBps != nil {
		params.ProtocolFeeBps = *p.ProtocolFeeBps
	}
	if p.MinSolverStake != "" {
		stake, err := intent.ParseAmount(p.MinSolverStake)
		if err != nil {
			return params, fmt.Errorf("protocol.min_solver_stake: %w", err)
		}
		params.MinSolverStake = stake
	}
	if p.BatchInterval.Duration != 0 {
		params.BatchInterval = p.BatchInterval.Duration
	}
	if p.RevealTimeout.Duration != 0 {
		params.RevealTimeout = p.RevealTimeout.Duration
	}
	if p.DutchDecayPeriod.Duration != 0 {
		params.DutchDecayPeriod = p.DutchDecayPeriod.Duration
	}
	params.Permissioned = p.Permissioned
	if err := params.Validate(); err != nil {
		return params, fmt.Errorf("protocol: %w", err)
	}
	return params, nil
}

func requiredAddress(field, value string) (common.Address, error) {
	if value == "" {
		return common.Address{}, fmt.Errorf("%s is required", field)
	}
	return optionalAddress(field, value)
}

func optionalAddress(field, value string) (common.Address, error) {
	if value == "" {
		return common.Address{}, nil
	}
	if !common.IsHexAddress(value) {
		return common.Address{}, fmt.Errorf("%s: %q is not a hex address", field, value)
	}
	return common.HexToAddress(value), nil
}
