package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const DefaultPath = "config.yaml"

type Config struct {
	Log      LogConfig      `mapstructure:"log"`
	Train    TrainConfig    `mapstructure:"train"`
	Detect   DetectConfig   `mapstructure:"detect"`
	Server   ServerConfig   `mapstructure:"server"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Registry RegistryConfig `mapstructure:"registry"`
}

type LogConfig struct {
	Mode  string `mapstructure:"mode"`
	Level string `mapstructure:"level"`
}

type TrainConfig struct {
	DatasetDir   string  `mapstructure:"dataset_dir"`
	Epochs       int     `mapstructure:"epochs"`
	BatchSize    int     `mapstructure:"batch_size"`
	LearningRate float64 `mapstructure:"learning_rate"`
	Seed         int64   `mapstructure:"seed"`
	TrainRatio   float64 `mapstructure:"train_ratio"`
	WeightsPath  string  `mapstructure:"weights_path"`
}

type DetectConfig struct {
	ImagesDir   string   `mapstructure:"images_dir"`
	Extensions  []string `mapstructure:"extensions"`
	Format      string   `mapstructure:"format"`
	WeightsPath string   `mapstructure:"weights_path"`
	// AllowUninitialized 权重文件缺失时继续用随机权重，结果中会标记 uninitialized
	AllowUninitialized bool   `mapstructure:"allow_uninitialized"`
	ServerURL          string `mapstructure:"server_url"`
}

type ServerConfig struct {
	RPCPort       int           `mapstructure:"rpc_port"`
	HTTPPort      int           `mapstructure:"http_port"`
	MetricsPort   int           `mapstructure:"metrics_port"`
	Workers       int           `mapstructure:"workers"`
	Mode          string        `mapstructure:"mode"`
	ReadTimeout   time.Duration `mapstructure:"read_timeout"`
	WriteTimeout  time.Duration `mapstructure:"write_timeout"`
	MaxUploadSize int64         `mapstructure:"max_upload_size"`
}

type RedisConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TTL      time.Duration `mapstructure:"ttl"`
}

// RegistryConfig 可选的注册中心，serve 时定期发送心跳
type RegistryConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	URL      string        `mapstructure:"url"`
	Interval time.Duration `mapstructure:"interval"`
}

// Load 依次应用默认值、配置文件、GLYPHNET_ 环境变量和命令行覆盖项。
// path 为空时不读文件；path 为默认路径且文件不存在时同样只用默认值
func Load(path string, overrides map[string]any) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("GLYPHNET")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		_, statErr := os.Stat(path)
		switch {
		case statErr == nil:
			v.SetConfigFile(path)
			v.SetConfigType("yaml")
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		case errors.Is(statErr, fs.ErrNotExist) && path == DefaultPath:
		default:
			return nil, fmt.Errorf("config file %s: %w", path, statErr)
		}
	}
	for k, val := range overrides {
		v.Set(k, val)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.mode", "production")
	v.SetDefault("log.level", "info")

	v.SetDefault("train.dataset_dir", "dataset")
	v.SetDefault("train.epochs", 5)
	v.SetDefault("train.batch_size", 64)
	v.SetDefault("train.learning_rate", 0.001)
	v.SetDefault("train.seed", 0)
	v.SetDefault("train.train_ratio", 0.8)
	v.SetDefault("train.weights_path", "logs/model.ckpt")

	v.SetDefault("detect.images_dir", "images")
	v.SetDefault("detect.extensions", []string{".jpg", ".png"})
	v.SetDefault("detect.format", "text")
	v.SetDefault("detect.weights_path", "logs/model.ckpt")
	v.SetDefault("detect.allow_uninitialized", false)
	v.SetDefault("detect.server_url", "")

	v.SetDefault("server.rpc_port", 50051)
	v.SetDefault("server.http_port", 8080)
	v.SetDefault("server.metrics_port", 9090)
	v.SetDefault("server.workers", 1)
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.read_timeout", 10*time.Second)
	v.SetDefault("server.write_timeout", 10*time.Second)
	v.SetDefault("server.max_upload_size", 10*1024*1024)

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.ttl", 24*time.Hour)

	v.SetDefault("registry.enabled", false)
	v.SetDefault("registry.url", "")
	v.SetDefault("registry.interval", 5*time.Second)
}

func (c *Config) Validate() error {
	if c.Train.Epochs <= 0 {
		return errors.New("train.epochs must be > 0")
	}
	if c.Train.BatchSize <= 0 {
		return errors.New("train.batch_size must be > 0")
	}
	if c.Train.LearningRate <= 0 {
		return errors.New("train.learning_rate must be > 0")
	}
	if c.Train.TrainRatio <= 0 || c.Train.TrainRatio >= 1 {
		return fmt.Errorf("train.train_ratio %v not in (0,1)", c.Train.TrainRatio)
	}
	switch c.Detect.Format {
	case "text", "json", "yaml":
	default:
		return fmt.Errorf("detect.format %q must be text, json or yaml", c.Detect.Format)
	}
	for name, port := range map[string]int{
		"server.rpc_port":     c.Server.RPCPort,
		"server.http_port":    c.Server.HTTPPort,
		"server.metrics_port": c.Server.MetricsPort,
	} {
		if port <= 0 || port > 65535 {
			return fmt.Errorf("%s %d out of range", name, port)
		}
	}
	if c.Server.Workers <= 0 {
		c.Server.Workers = 1
	}
	if c.Registry.Enabled && c.Registry.URL == "" {
		return errors.New("registry.url is required when registry is enabled")
	}
	return nil
}
