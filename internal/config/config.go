package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"TextRelay/pkg/logger"
)

// EnvPrefix 是环境变量覆盖配置时使用的前缀，例如 TEXTRELAY_STORE_DRIVER。
const EnvPrefix = "TEXTRELAY"

// Config 描述了 TextRelay 启动阶段需要加载的全部配置。
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Log      logger.Config  `mapstructure:"log"`
	Store    StoreConfig    `mapstructure:"store"`
	Task     TaskConfig     `mapstructure:"task"`
	LLM      LLMConfig      `mapstructure:"llm"`
	History  HistoryConfig  `mapstructure:"history"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Alerting AlertingConfig `mapstructure:"alerting"`
}

// ServerConfig 控制 API 服务的监听地址与超时。
type ServerConfig struct {
	Address         string        `mapstructure:"address" validate:"required"`
	MetricsAddress  string        `mapstructure:"metrics_address"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" validate:"gte=0"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" validate:"gte=0"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"gt=0"`
}

// StoreConfig 描述结果存储后端。driver 为 redis 时启动阶段会做健康检查，
// 不可用则整个进程生命周期内降级为内存存储。
type StoreConfig struct {
	Driver         string        `mapstructure:"driver" validate:"oneof=redis memory"`
	Redis          RedisConfig   `mapstructure:"redis"`
	Prefix         string        `mapstructure:"prefix" validate:"required"`
	OpTimeout      time.Duration `mapstructure:"op_timeout" validate:"gt=0"`
	HealthTimeout  time.Duration `mapstructure:"health_timeout" validate:"gt=0"`
	HealthInterval time.Duration `mapstructure:"health_interval" validate:"gte=0"`
}

// RedisConfig 为 Redis 连接参数。
type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db" validate:"gte=0"`
}

// TaskConfig 描述任务生命周期相关的时间窗口与并发度。
type TaskConfig struct {
	Retention        time.Duration `mapstructure:"retention" validate:"gt=0"`
	ProvisionalTTL   time.Duration `mapstructure:"provisional_ttl" validate:"gt=0"`
	ProcessorTimeout time.Duration `mapstructure:"processor_timeout" validate:"gt=0"`
	Workers          int           `mapstructure:"workers" validate:"gt=0"`
	Queue            QueueConfig   `mapstructure:"queue"`
}

// QueueConfig 描述后台执行的派发队列。
type QueueConfig struct {
	Driver   string         `mapstructure:"driver" validate:"oneof=memory redis rabbitmq"`
	Size     int            `mapstructure:"size" validate:"gte=0"`
	Redis    RedisQueue     `mapstructure:"redis"`
	RabbitMQ RabbitMQConfig `mapstructure:"rabbitmq"`
}

// RedisQueue 指定 Redis 队列使用的 list 名称；连接复用 store.redis。
type RedisQueue struct {
	List      string        `mapstructure:"list"`
	BlockWait time.Duration `mapstructure:"block_wait" validate:"gte=0"`
}

// RabbitMQConfig 为 RabbitMQ 队列参数。
type RabbitMQConfig struct {
	URL      string `mapstructure:"url"`
	Queue    string `mapstructure:"queue"`
	Prefetch int    `mapstructure:"prefetch" validate:"gte=0"`
	Durable  bool   `mapstructure:"durable"`
}

// LLMConfig 用于配置文本处理器的提供方。
type LLMConfig struct {
	Provider           string             `mapstructure:"provider" validate:"oneof=openai qianwen claude gemini python_bridge simulated"`
	DegradeToSimulated bool               `mapstructure:"degrade_to_simulated"`
	Temperature        float64            `mapstructure:"temperature" validate:"gte=0,lte=2"`
	MaxRetries         int                `mapstructure:"max_retries" validate:"gte=0"`
	OpenAI             ProviderConfig     `mapstructure:"openai"`
	Qianwen            ProviderConfig     `mapstructure:"qianwen"`
	Claude             ProviderConfig     `mapstructure:"claude"`
	Gemini             ProviderConfig     `mapstructure:"gemini"`
	Python             PythonBridgeConfig `mapstructure:"python_bridge"`
	Simulated          SimulatedConfig    `mapstructure:"simulated"`
}

// ProviderConfig 描述一个远程模型服务。
type ProviderConfig struct {
	APIKey  string `mapstructure:"api_key"`
	BaseURL string `mapstructure:"base_url" validate:"omitempty,url"`
	Model   string `mapstructure:"model"`
}

// PythonBridgeConfig 描述通过 Python 脚本完成推理时所需的信息。
type PythonBridgeConfig struct {
	PythonExecutable string `mapstructure:"python_executable"`
	ScriptPath       string `mapstructure:"script_path"`
	WorkingDir       string `mapstructure:"working_dir"`
}

// SimulatedConfig 控制模拟输出的节奏。
type SimulatedConfig struct {
	Delay time.Duration `mapstructure:"delay" validate:"gte=0"`
}

// HistoryConfig 描述终态任务归档使用的数据库。
type HistoryConfig struct {
	Driver string `mapstructure:"driver" validate:"oneof=none mysql sqlite postgres"`
	DSN    string `mapstructure:"dsn" validate:"required_unless=Driver none"`
}

// AuthConfig 控制 /api 下的 Bearer JWT 校验，secret 为空时关闭。
type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret" validate:"omitempty,min=16"`
	Issuer    string `mapstructure:"issuer"`
}

// AlertingConfig 描述告警通知渠道。
type AlertingConfig struct {
	WebhookURL string        `mapstructure:"webhook_url" validate:"omitempty,url"`
	Timeout    time.Duration `mapstructure:"timeout" validate:"gte=0"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Load 依次读取 .env、配置文件与环境变量并校验结果。path 为空时只使用默认值与环境变量。
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("加载 .env 失败: %w", err)
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path == "" {
		path = os.Getenv(EnvPrefix + "_CONFIG")
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("读取配置文件失败: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}
	baseDir := "."
	if path != "" {
		baseDir = filepath.Dir(path)
	}
	cfg.resolvePaths(baseDir)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate 校验字段取值以及字段之间的依赖关系。
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("配置校验失败: %w", err)
	}
	if c.Store.Driver == "redis" && c.Store.Redis.Address == "" {
		return errors.New("配置校验失败: store.driver=redis 时必须设置 store.redis.address")
	}
	if c.Task.Queue.Driver == "redis" && c.Store.Redis.Address == "" {
		return errors.New("配置校验失败: task.queue.driver=redis 时必须设置 store.redis.address")
	}
	if c.Task.Queue.Driver == "rabbitmq" && c.Task.Queue.RabbitMQ.URL == "" {
		return errors.New("配置校验失败: task.queue.driver=rabbitmq 时必须设置 task.queue.rabbitmq.url")
	}
	if c.LLM.Provider == "python_bridge" && c.LLM.Python.ScriptPath == "" {
		return errors.New("配置校验失败: llm.provider=python_bridge 时必须设置 llm.python_bridge.script_path")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.address", ":8000")
	v.SetDefault("server.metrics_address", "")
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", time.Duration(0))
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.output_paths", []string{"stdout"})
	v.SetDefault("log.audit.enabled", false)
	v.SetDefault("log.audit.path", "")
	v.SetDefault("log.audit.max_size_mb", 100)
	v.SetDefault("log.audit.max_backups", 7)
	v.SetDefault("log.audit.max_age_days", 30)

	v.SetDefault("store.driver", "redis")
	v.SetDefault("store.redis.address", "localhost:6379")
	v.SetDefault("store.redis.password", "")
	v.SetDefault("store.redis.db", 0)
	v.SetDefault("store.prefix", "textrelay")
	v.SetDefault("store.op_timeout", 3*time.Second)
	v.SetDefault("store.health_timeout", 3*time.Second)
	v.SetDefault("store.health_interval", 30*time.Second)

	v.SetDefault("task.retention", time.Hour)
	v.SetDefault("task.provisional_ttl", time.Hour)
	v.SetDefault("task.processor_timeout", 60*time.Second)
	v.SetDefault("task.workers", 4)
	v.SetDefault("task.queue.driver", "memory")
	v.SetDefault("task.queue.size", 256)
	v.SetDefault("task.queue.redis.list", "textrelay:dispatch")
	v.SetDefault("task.queue.redis.block_wait", 5*time.Second)
	v.SetDefault("task.queue.rabbitmq.url", "")
	v.SetDefault("task.queue.rabbitmq.queue", "textrelay.dispatch")
	v.SetDefault("task.queue.rabbitmq.prefetch", 4)
	v.SetDefault("task.queue.rabbitmq.durable", true)

	v.SetDefault("llm.provider", "simulated")
	v.SetDefault("llm.degrade_to_simulated", true)
	v.SetDefault("llm.temperature", 0.3)
	v.SetDefault("llm.max_retries", 2)
	v.SetDefault("llm.openai.api_key", "")
	v.SetDefault("llm.openai.base_url", "")
	v.SetDefault("llm.openai.model", "gpt-3.5-turbo")
	v.SetDefault("llm.qianwen.api_key", "")
	v.SetDefault("llm.qianwen.base_url", "https://dashscope.aliyuncs.com/compatible-mode/v1")
	v.SetDefault("llm.qianwen.model", "qwen-turbo")
	v.SetDefault("llm.claude.api_key", "")
	v.SetDefault("llm.claude.base_url", "https://api.anthropic.com/v1/")
	v.SetDefault("llm.claude.model", "claude-3-haiku-20240307")
	v.SetDefault("llm.gemini.api_key", "")
	v.SetDefault("llm.gemini.base_url", "")
	v.SetDefault("llm.gemini.model", "gemini-2.0-flash")
	v.SetDefault("llm.python_bridge.python_executable", "python3")
	v.SetDefault("llm.python_bridge.script_path", "")
	v.SetDefault("llm.python_bridge.working_dir", "")
	v.SetDefault("llm.simulated.delay", 100*time.Millisecond)

	v.SetDefault("history.driver", "none")
	v.SetDefault("history.dsn", "")

	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.issuer", "")

	v.SetDefault("alerting.webhook_url", "")
	v.SetDefault("alerting.timeout", 5*time.Second)
}

// resolvePaths 将相对路径解析为相对配置文件所在目录。
func (c *Config) resolvePaths(baseDir string) {
	py := &c.LLM.Python
	if py.WorkingDir == "" {
		py.WorkingDir = baseDir
	} else if !filepath.IsAbs(py.WorkingDir) {
		py.WorkingDir = filepath.Join(baseDir, py.WorkingDir)
	}
	if py.ScriptPath != "" && !filepath.IsAbs(py.ScriptPath) {
		py.ScriptPath = filepath.Join(py.WorkingDir, py.ScriptPath)
	}
	if c.History.Driver == "sqlite" && c.History.DSN != "" && !filepath.IsAbs(c.History.DSN) && !strings.HasPrefix(c.History.DSN, "file:") {
		c.History.DSN = filepath.Join(baseDir, c.History.DSN)
	}
}
