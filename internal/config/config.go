package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Chain    ChainConfig    `mapstructure:"chain"`
	Funding  FundingConfig  `mapstructure:"funding"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Task     TaskConfig     `mapstructure:"task"`
	Log      LogConfig      `mapstructure:"log"`
}

type ServerConfig struct {
	Port      string  `mapstructure:"port"`
	Mode      string  `mapstructure:"mode"`
	RateLimit float64 `mapstructure:"rate_limit"` // 每个主体每秒请求数
	RateBurst int     `mapstructure:"rate_burst"`
}

type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

// DSN 返回 postgres 连接串
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode)
}

// ChainConfig 单链配置
type ChainConfig struct {
	Enabled          bool                      `mapstructure:"enabled"`
	ChainType        string                    `mapstructure:"chain_type"`         // 链类型 (ethereum, avalanche, polygon, etc.)
	ChainId          int64                     `mapstructure:"chain_id"`           // 链ID
	RpcUrl           string                    `mapstructure:"rpc_url"`            // RPC节点URL
	PrivateKey       string                    `mapstructure:"private_key"`        // 平台签名私钥
	CallTimeout      int                       `mapstructure:"call_timeout"`       // 单次链上调用超时(秒)
	Confirmations    int                       `mapstructure:"confirmations"`      // 确认区块数
	StartBlock       int64                     `mapstructure:"start_block"`        // 监控起始区块
	GasLimitFallback uint64                    `mapstructure:"gas_limit_fallback"` // 估算失败时的gas上限
	GasBufferPercent int                       `mapstructure:"gas_buffer_percent"` // gas估算缓冲百分比
	Contracts        map[string]ContractConfig `mapstructure:"contracts"`          // 该链上的合约配置
}

// ContractConfig 单个合约配置
type ContractConfig struct {
	Address  string `mapstructure:"address"`   // 合约地址
	ABIPath  string `mapstructure:"abi_path"`  // ABI文件路径，为空时使用内置ABI
	Enabled  bool   `mapstructure:"enabled"`   // 是否启用此合约
	BlockNum int64  `mapstructure:"block_num"` // 合约部署区块号
}

// Contract 按名称查找合约配置, viper 读取的 map 键为小写, 比较时忽略大小写
func (c ChainConfig) Contract(name string) (ContractConfig, bool) {
	for k, v := range c.Contracts {
		if strings.EqualFold(k, name) {
			return v, true
		}
	}
	return ContractConfig{}, false
}

// CallTimeoutDuration 链上调用超时
func (c ChainConfig) CallTimeoutDuration() time.Duration {
	return time.Duration(c.CallTimeout) * time.Second
}

// FundingConfig 资金对账配置
type FundingConfig struct {
	RequireChainRegistration bool  `mapstructure:"require_chain_registration"` // 上链失败时是否拒绝创建项目
	RequireWallet            bool  `mapstructure:"require_wallet"`             // 捐款人是否必须绑定钱包
	FeeRateBps               int64 `mapstructure:"fee_rate_bps"`               // 平台费率(万分比)
	PledgeTTL                int   `mapstructure:"pledge_ttl"`                 // 待确认认捐有效期(秒)
	MaxRetries               int   `mapstructure:"max_retries"`                // 存储冲突重试次数
	ProjectDurationDays      int   `mapstructure:"project_duration_days"`      // 链上项目持续天数
	VerifyReceipts           bool  `mapstructure:"verify_receipts"`            // 确认阶段是否校验交易回执
}

// PledgeTTLDuration 认捐有效期
func (f FundingConfig) PledgeTTLDuration() time.Duration {
	return time.Duration(f.PledgeTTL) * time.Second
}

type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
	Issuer    string `mapstructure:"issuer"`
}

type TaskConfig struct {
	Interval        int `mapstructure:"interval"`         // 秒
	AuditInterval   int `mapstructure:"audit_interval"`   // 秒
	AuditWorkers    int `mapstructure:"audit_workers"`    // 对账协程数
	MonitorInterval int `mapstructure:"monitor_interval"` // 秒，0 表示不监控链上事件
}

type LogConfig struct {
	Level  string `mapstructure:"level"`  // 日志级别: debug, info, warn, error, fatal
	Output string `mapstructure:"output"` // 输出目标: stdout, stderr, file
	File   string `mapstructure:"file"`   // 日志文件路径（当output为file时使用）
}

// Load 加载配置，path 为空时按默认路径查找 config.yaml
func Load(path string) (*Config, error) {
	// .env 文件可选
	_ = godotenv.Load()

	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/fundledger")
	}

	setDefaults(v)

	// 自动读取环境变量, 例如 FUNDLEDGER_CHAIN_RPC_URL
	v.SetEnvPrefix("fundledger")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) || path != "" {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	return decode(v)
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.mode", "debug")
	v.SetDefault("server.rate_limit", 5)
	v.SetDefault("server.rate_burst", 10)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "")
	v.SetDefault("database.dbname", "fundledger")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("chain.enabled", false)
	v.SetDefault("chain.chain_type", "avalanche")
	v.SetDefault("chain.chain_id", 43113)
	v.SetDefault("chain.call_timeout", 15)
	v.SetDefault("chain.confirmations", 1)
	v.SetDefault("chain.gas_limit_fallback", 300000)
	v.SetDefault("chain.gas_buffer_percent", 20)
	v.SetDefault("funding.require_chain_registration", false)
	v.SetDefault("funding.require_wallet", true)
	v.SetDefault("funding.fee_rate_bps", 50)
	v.SetDefault("funding.pledge_ttl", 1800)
	v.SetDefault("funding.max_retries", 3)
	v.SetDefault("funding.project_duration_days", 30)
	v.SetDefault("funding.verify_receipts", true)
	v.SetDefault("auth.issuer", "")
	v.SetDefault("task.interval", 60)
	v.SetDefault("task.audit_interval", 600)
	v.SetDefault("task.audit_workers", 4)
	v.SetDefault("task.monitor_interval", 0)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.output", "stdout")
	v.SetDefault("log.file", "logs/app.log")
}

// Validate 校验配置组合
func (c *Config) Validate() error {
	if c.Funding.FeeRateBps < 0 || c.Funding.FeeRateBps > 10000 {
		return fmt.Errorf("funding.fee_rate_bps must be within [0, 10000], got %d", c.Funding.FeeRateBps)
	}
	if c.Funding.MaxRetries < 1 {
		return fmt.Errorf("funding.max_retries must be at least 1")
	}
	if c.Funding.PledgeTTL <= 0 {
		return fmt.Errorf("funding.pledge_ttl must be positive")
	}
	if c.Funding.RequireChainRegistration && !c.Chain.Enabled {
		return fmt.Errorf("funding.require_chain_registration needs chain.enabled")
	}
	if c.Chain.Enabled {
		if c.Chain.RpcUrl == "" {
			return fmt.Errorf("chain.rpc_url is required when chain is enabled")
		}
		if c.Chain.PrivateKey == "" {
			return fmt.Errorf("chain.private_key is required when chain is enabled")
		}
		if c.Chain.CallTimeout <= 0 {
			return fmt.Errorf("chain.call_timeout must be positive")
		}
	}
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required")
	}
	return nil
}
