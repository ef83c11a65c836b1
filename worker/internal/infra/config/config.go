package config

import (
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

const (
	EnvPrefix   = "SEG"
	EnvPath     = "SEG_CONFIG"
	DefaultPath = "./worker/configs/local.yaml"
)

type Config struct {
	InstanceID string `mapstructure:"instance_id"`

	Log        Log        `mapstructure:"log"`
	NATS       NATS       `mapstructure:"nats"`
	Worker     Worker     `mapstructure:"worker"`
	Extraction Extraction `mapstructure:"extraction"`
	Segmenter  Segmenter  `mapstructure:"segmenter"`
	Callback   Callback   `mapstructure:"callback"`
	Health     Health     `mapstructure:"health"`
	Images     Images     `mapstructure:"images"`
	MinIO      MinIO      `mapstructure:"minio"`
	Redis      Redis      `mapstructure:"redis"`
}

type Log struct {
	Level  string `mapstructure:"level" validate:"oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"oneof=text json"`
}

type NATS struct {
	URL           string        `mapstructure:"url" validate:"required"`
	User          string        `mapstructure:"user"`
	Password      string        `mapstructure:"password"`
	Stream        string        `mapstructure:"stream" validate:"required"`
	Subject       string        `mapstructure:"subject" validate:"required"`
	Durable       string        `mapstructure:"durable" validate:"required"`
	PrefetchCount int           `mapstructure:"prefetch_count" validate:"gt=0"`
	ReconnectWait time.Duration `mapstructure:"reconnect_wait" validate:"gt=0"`
	AckWait       time.Duration `mapstructure:"ack_wait" validate:"gt=0"`
	FetchWait     time.Duration `mapstructure:"fetch_wait" validate:"gt=0"`
}

type Worker struct {
	MaxConcurrentTasks int           `mapstructure:"max_concurrent_tasks" validate:"gt=0"`
	TaskTimeout        time.Duration `mapstructure:"task_timeout" validate:"gt=0"`
	DrainTimeout       time.Duration `mapstructure:"drain_timeout" validate:"gt=0"`
	ScratchDir         string        `mapstructure:"scratch_dir" validate:"required"`
	ScratchTTL         time.Duration `mapstructure:"scratch_ttl" validate:"gte=0"`
}

type Extraction struct {
	MinArea           float64 `mapstructure:"min_area" validate:"gte=0"`
	Cutoff            int     `mapstructure:"cutoff" validate:"gte=0,lte=255"`
	RetryCutoffs      []int   `mapstructure:"retry_cutoffs" validate:"dive,gte=0,lte=255"`
	SimplifyTolerance float64 `mapstructure:"simplify_tolerance" validate:"gte=0,lte=10"`
	Morphology        bool    `mapstructure:"morphology"`
}

type Segmenter struct {
	Kind        string        `mapstructure:"kind" validate:"oneof=grpc exec synthetic"`
	Addr        string        `mapstructure:"addr" validate:"required_if=Kind grpc"`
	Command     string        `mapstructure:"command" validate:"required_if=Kind exec"`
	ModelPath   string        `mapstructure:"model_path"`
	WorkingSize int           `mapstructure:"working_size" validate:"gt=0"`
	Delay       time.Duration `mapstructure:"delay" validate:"gte=0"`
}

type Callback struct {
	Timeout time.Duration `mapstructure:"timeout" validate:"gt=0"`
	Method  string        `mapstructure:"method" validate:"oneof=PUT POST"`
}

type Health struct {
	Addr              string        `mapstructure:"addr" validate:"required"`
	GRPCAddr          string        `mapstructure:"grpc_addr"`
	CPUThreshold      float64       `mapstructure:"cpu_threshold" validate:"gt=0,lte=100"`
	MemoryThreshold   float64       `mapstructure:"memory_threshold" validate:"gt=0,lte=100"`
	DiskThreshold     float64       `mapstructure:"disk_threshold" validate:"gt=0,lte=100"`
	SampleInterval    time.Duration `mapstructure:"sample_interval" validate:"gt=0"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval" validate:"gt=0"`
}

type Images struct {
	BaseDir string `mapstructure:"base_dir"`
}

type MinIO struct {
	Enabled         bool   `mapstructure:"enabled"`
	Endpoint        string `mapstructure:"endpoint" validate:"required_if=Enabled true"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	UseSSL          bool   `mapstructure:"use_ssl"`
	Bucket          string `mapstructure:"bucket" validate:"required_if=Enabled true"`
	Prefix          string `mapstructure:"prefix"`
}

type Redis struct {
	Enabled  bool          `mapstructure:"enabled"`
	Addr     string        `mapstructure:"addr" validate:"required_if=Enabled true"`
	Username string        `mapstructure:"username"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db" validate:"gte=0"`
	TTL      time.Duration `mapstructure:"ttl" validate:"gte=0"`
}

func setDefaults(v *viper.Viper) {
	host, _ := os.Hostname()
	v.SetDefault("instance_id", host)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("nats.user", "")
	v.SetDefault("nats.password", "")
	v.SetDefault("nats.stream", "SEGMENTATION")
	v.SetDefault("nats.subject", "segmentation_tasks")
	v.SetDefault("nats.durable", "segmentation-workers")
	v.SetDefault("nats.prefetch_count", 4)
	v.SetDefault("nats.reconnect_wait", 5*time.Second)
	v.SetDefault("nats.ack_wait", 330*time.Second)
	v.SetDefault("nats.fetch_wait", time.Second)

	v.SetDefault("worker.max_concurrent_tasks", 4)
	v.SetDefault("worker.task_timeout", 300*time.Second)
	v.SetDefault("worker.drain_timeout", 30*time.Second)
	v.SetDefault("worker.scratch_dir", os.TempDir())
	v.SetDefault("worker.scratch_ttl", time.Hour)

	v.SetDefault("extraction.min_area", 100.0)
	v.SetDefault("extraction.cutoff", 127)
	v.SetDefault("extraction.retry_cutoffs", []int{50})
	v.SetDefault("extraction.simplify_tolerance", 0.0)
	v.SetDefault("extraction.morphology", true)

	v.SetDefault("segmenter.kind", "synthetic")
	v.SetDefault("segmenter.addr", "")
	v.SetDefault("segmenter.command", "")
	v.SetDefault("segmenter.model_path", "")
	v.SetDefault("segmenter.working_size", 1024)
	v.SetDefault("segmenter.delay", 0)

	v.SetDefault("callback.timeout", 30*time.Second)
	v.SetDefault("callback.method", "PUT")

	v.SetDefault("health.addr", ":8080")
	v.SetDefault("health.grpc_addr", "")
	v.SetDefault("health.cpu_threshold", 90.0)
	v.SetDefault("health.memory_threshold", 90.0)
	v.SetDefault("health.disk_threshold", 90.0)
	v.SetDefault("health.sample_interval", 5*time.Second)
	v.SetDefault("health.heartbeat_interval", 10*time.Second)

	v.SetDefault("images.base_dir", "")

	v.SetDefault("minio.enabled", false)
	v.SetDefault("minio.endpoint", "")
	v.SetDefault("minio.access_key_id", "")
	v.SetDefault("minio.secret_access_key", "")
	v.SetDefault("minio.use_ssl", false)
	v.SetDefault("minio.bucket", "")
	v.SetDefault("minio.prefix", "")

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.username", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.ttl", 30*time.Second)
}

// Load reads the YAML file at path, if any, then applies SEG_* environment
// overrides and validates the result.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("read config %q: %w", path, err)
			}
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := validator.New(validator.WithRequiredStructEnabled()).Struct(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	if cfg.NATS.AckWait <= cfg.Worker.TaskTimeout {
		return nil, fmt.Errorf("validate config: nats.ack_wait (%s) must exceed worker.task_timeout (%s)",
			cfg.NATS.AckWait, cfg.Worker.TaskTimeout)
	}
	if cfg.Worker.ScratchTTL > 0 && cfg.Worker.ScratchTTL <= cfg.Worker.TaskTimeout {
		return nil, fmt.Errorf("validate config: worker.scratch_ttl (%s) must exceed worker.task_timeout (%s)",
			cfg.Worker.ScratchTTL, cfg.Worker.TaskTimeout)
	}
	if cfg.NATS.PrefetchCount < cfg.Worker.MaxConcurrentTasks {
		slog.Warn("prefetch count below max concurrent tasks; slots will idle",
			slog.Int("prefetch_count", cfg.NATS.PrefetchCount),
			slog.Int("max_concurrent_tasks", cfg.Worker.MaxConcurrentTasks),
		)
	}

	return &cfg, nil
}

// Path returns SEG_CONFIG when set, otherwise fallback.
func Path(fallback string) string {
	if p := os.Getenv(EnvPath); p != "" {
		return p
	}
	return fallback
}

func MustLoad(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	return cfg
}

func (e Extraction) RetryCutoffBytes() []uint8 {
	out := make([]uint8, 0, len(e.RetryCutoffs))
	for _, c := range e.RetryCutoffs {
		out = append(out, uint8(c))
	}
	return out
}

func (l Log) SlogLevel() slog.Level {
	switch l.Level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
