package conf

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"

	"llmgovernor/cmd/governor-service/internal/domain"
)

// Config 应用配置
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Redis         RedisConfig         `mapstructure:"redis"`
	Observability ObservabilityConfig `mapstructure:"observability"`
	Governor      GovernorConfig      `mapstructure:"governor"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	MetricsPort     int           `mapstructure:"metrics_port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	DBName          string        `mapstructure:"dbname"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// RedisConfig Redis 配置
type RedisConfig struct {
	Addr         string        `mapstructure:"addr"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	PoolSize     int           `mapstructure:"pool_size"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// ObservabilityConfig 可观测性配置
type ObservabilityConfig struct {
	ServiceName    string `mapstructure:"service_name"`
	ServiceVersion string `mapstructure:"service_version"`
	Environment    string `mapstructure:"environment"`
	LogLevel       string `mapstructure:"log_level"`
	LogFormat      string `mapstructure:"log_format"`
}

// GovernorConfig 治理配置。命名字段、启动时校验，不走松散 settings 探测。
type GovernorConfig struct {
	SelfFundedFeeUSD float64                     `mapstructure:"self_funded_fee_usd"`
	Abuse            AbuseConfig                 `mapstructure:"abuse"`
	Breaker          BreakerConfig               `mapstructure:"breaker"`
	Tiers            map[string]TierLimitsConfig `mapstructure:"tiers"`
	Pricing          []PricingEntry              `mapstructure:"pricing"`
	Notification     NotificationConfig          `mapstructure:"notification"`
}

// AbuseConfig 全局滥用防护配置
type AbuseConfig struct {
	RequestThreshold int           `mapstructure:"request_threshold"`
	TenantThreshold  int           `mapstructure:"tenant_threshold"`
	BlockDuration    time.Duration `mapstructure:"block_duration"`
}

// BreakerConfig 熔断器配置
type BreakerConfig struct {
	FailureThreshold int           `mapstructure:"failure_threshold"`
	SuccessThreshold int           `mapstructure:"success_threshold"`
	RecoveryTimeout  time.Duration `mapstructure:"recovery_timeout"`
}

// TierLimitsConfig 等级限额配置
type TierLimitsConfig struct {
	DailyRequests       int           `mapstructure:"daily_requests"`
	DailyUserRequests   int           `mapstructure:"daily_user_requests"`
	DailySystemRequests int           `mapstructure:"daily_system_requests"`
	SoftDailyRequests   int           `mapstructure:"soft_daily_requests"`
	RequestsPerMinute   int           `mapstructure:"requests_per_minute"`
	MaxConcurrency      int           `mapstructure:"max_concurrency"`
	LeaseTTL            time.Duration `mapstructure:"lease_ttl"`
	MonthlyBudgetUSD    float64       `mapstructure:"monthly_budget_usd"`
}

// PricingEntry 模型定价配置
type PricingEntry struct {
	Provider         string  `mapstructure:"provider"`
	Model            string  `mapstructure:"model"`
	PromptPricePer1K float64 `mapstructure:"prompt_price_per_1k"`
	OutputPricePer1K float64 `mapstructure:"output_price_per_1k"`
	FreeTierTokens   int     `mapstructure:"free_tier_tokens"`
}

// NotificationConfig 通知服务配置
type NotificationConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// Load 加载配置
func Load(configPath string) (*Config, error) {
	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("governor-service")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath("../configs")
	}

	// 自动从环境变量读取
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	// 从环境变量覆盖敏感配置
	if password := os.Getenv("DB_PASSWORD"); password != "" {
		config.Database.Password = password
	}
	if password := os.Getenv("REDIS_PASSWORD"); password != "" {
		config.Redis.Password = password
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// Validate 启动时校验配置
func (c *Config) Validate() error {
	if c.Governor.SelfFundedFeeUSD < 0 {
		return fmt.Errorf("governor.self_funded_fee_usd must be >= 0")
	}
	if c.Governor.Abuse.RequestThreshold < 0 || c.Governor.Abuse.TenantThreshold < 0 {
		return fmt.Errorf("governor.abuse thresholds must be >= 0")
	}
	for name, tier := range c.Governor.Tiers {
		switch domain.Tier(name) {
		case domain.TierFree, domain.TierPro, domain.TierEnterprise:
		default:
			return fmt.Errorf("unknown tier %q in governor.tiers", name)
		}
		if tier.MonthlyBudgetUSD < 0 {
			return fmt.Errorf("tier %q: monthly_budget_usd must be >= 0", name)
		}
		if tier.MaxConcurrency > 0 && tier.LeaseTTL <= 0 {
			return fmt.Errorf("tier %q: lease_ttl required when max_concurrency > 0", name)
		}
	}
	return nil
}

// TierPolicy 将配置转换为领域限额表；未配置时使用默认表
func (c *Config) TierPolicy() domain.TierPolicy {
	if len(c.Governor.Tiers) == 0 {
		return domain.DefaultTierPolicy()
	}

	policy := make(domain.TierPolicy, len(c.Governor.Tiers))
	for name, t := range c.Governor.Tiers {
		policy[domain.Tier(name)] = domain.TierLimits{
			DailyRequests:       t.DailyRequests,
			DailyUserRequests:   t.DailyUserRequests,
			DailySystemRequests: t.DailySystemRequests,
			SoftDailyRequests:   t.SoftDailyRequests,
			RequestsPerMinute:   t.RequestsPerMinute,
			MaxConcurrency:      t.MaxConcurrency,
			LeaseTTL:            t.LeaseTTL,
			MonthlyBudgetUSD:    t.MonthlyBudgetUSD,
		}
	}
	return policy
}

// PricingEntries 将配置转换为定价条目
func (c *Config) PricingEntries() []domain.ModelPricing {
	entries := make([]domain.ModelPricing, 0, len(c.Governor.Pricing))
	for _, p := range c.Governor.Pricing {
		entries = append(entries, domain.ModelPricing{
			Provider:         p.Provider,
			Model:            p.Model,
			PromptPricePer1K: p.PromptPricePer1K,
			OutputPricePer1K: p.OutputPricePer1K,
			FreeTierTokens:   p.FreeTierTokens,
		})
	}
	return entries
}
