package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Hivetax  AppConfig      `yaml:"hivetax"`
	Export   ExportConfig   `yaml:"export"`
	Channels ChannelsConfig `yaml:"channels"`
	Reader   ReaderConfig   `yaml:"reader"`
	Writer   WriterConfig   `yaml:"writer"`
	Source   SourceConfig   `yaml:"source"`
	Storage  StorageConfig  `yaml:"storage"`
	Logging  LoggingConfig  `yaml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

type AppConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

// ExportConfig identifies the account, date window and output destination of
// one export run. Dates are calendar days in "2006-01-02" form and the window
// is inclusive on both ends.
type ExportConfig struct {
	Account   string `yaml:"account"`
	StartDate string `yaml:"start_date"`
	EndDate   string `yaml:"end_date"`
	Output    string `yaml:"output"`
}

// dateLayout is the calendar date format accepted in export configuration.
const dateLayout = "2006-01-02"

// Window returns the inclusive UTC time bounds of the export. Both bounds sit
// at midnight of their calendar date, mirroring how the window has always
// been interpreted upstream.
func (e ExportConfig) Window() (time.Time, time.Time, error) {
	start, err := time.Parse(dateLayout, e.StartDate)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid export.start_date: %w", err)
	}
	end, err := time.Parse(dateLayout, e.EndDate)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid export.end_date: %w", err)
	}
	return start, end, nil
}

type ChannelsConfig struct {
	OperationBuffer int `yaml:"operation_buffer"`
	RowBuffer       int `yaml:"row_buffer"`
	ErrorBuffer     int `yaml:"error_buffer"`
}

type ReaderConfig struct {
	Timeout   time.Duration   `yaml:"timeout"`
	PageSize  int             `yaml:"page_size"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Retry     RetryConfig     `yaml:"retry"`
}

type RateLimitConfig struct {
	RequestsPerSecond int `yaml:"requests_per_second"`
	BurstSize         int `yaml:"burst_size"`
}

type RetryConfig struct {
	MaxAttempts       int           `yaml:"max_attempts"`
	BaseDelay         time.Duration `yaml:"base_delay"`
	MaxDelay          time.Duration `yaml:"max_delay"`
	BackoffMultiplier int           `yaml:"backoff_multiplier"`
}

type WriterConfig struct {
	Formats FormatsConfig `yaml:"formats"`
}

type FormatsConfig struct {
	Parquet ParquetConfig `yaml:"parquet"`
}

type ParquetConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Compression string `yaml:"compression"`
}

type SourceConfig struct {
	Hive HiveSourceConfig `yaml:"hive"`
}

// HiveSourceConfig lists candidate API nodes. The first reachable node wins;
// both https:// and wss:// endpoints are accepted.
type HiveSourceConfig struct {
	Nodes []string `yaml:"nodes"`
}

type StorageConfig struct {
	S3    S3Config    `yaml:"s3"`
	Kafka KafkaConfig `yaml:"kafka"`
}

type S3Config struct {
	Enabled         bool   `yaml:"enabled"`
	Bucket          string `yaml:"bucket"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	PathStyle       bool   `yaml:"path_style"`
	Prefix          string `yaml:"prefix"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

type KafkaConfig struct {
	Enabled bool     `yaml:"enabled"`
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
	MaxAge int    `yaml:"max_age"`
}

type MetricsConfig struct {
	CloudWatch CloudWatchConfig `yaml:"cloudwatch"`
}

type CloudWatchConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Region        string `yaml:"region"`
	Namespace     string `yaml:"namespace"`
	DashboardName string `yaml:"dashboard_name"`
}

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Config{
		Channels: ChannelsConfig{
			OperationBuffer: 256,
			RowBuffer:       256,
			ErrorBuffer:     8,
		},
		Reader: ReaderConfig{
			Timeout:  30 * time.Second,
			PageSize: 1000,
		},
	}
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Environment variables take precedence over file values so deployments
	// can keep credentials and account names out of the config file.
	if v := os.Getenv("HIVE_ACCOUNT"); v != "" {
		config.Export.Account = strings.TrimSpace(v)
	}
	if v := os.Getenv("HIVE_NODES"); v != "" {
		config.Source.Hive.Nodes = config.Source.Hive.Nodes[:0]
		for _, n := range strings.Split(v, ",") {
			if n = strings.TrimSpace(n); n != "" {
				config.Source.Hive.Nodes = append(config.Source.Hive.Nodes, n)
			}
		}
	}
	if config.Storage.S3.Enabled {
		if v := os.Getenv("AWS_ACCESS_KEY_ID"); v != "" {
			config.Storage.S3.AccessKeyID = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_SECRET_ACCESS_KEY"); v != "" {
			config.Storage.S3.SecretAccessKey = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_REGION"); v != "" {
			config.Storage.S3.Region = strings.TrimSpace(v)
		}
		if v := os.Getenv("S3_BUCKET"); v != "" {
			config.Storage.S3.Bucket = strings.TrimSpace(v)
		}
	}

	config.Storage.S3.Bucket = strings.TrimSpace(config.Storage.S3.Bucket)

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &config, nil
}

func validateConfig(cfg *Config) error {
	if cfg.Hivetax.Name == "" {
		return fmt.Errorf("hivetax.name is required")
	}

	if cfg.Hivetax.Version == "" {
		return fmt.Errorf("hivetax.version is required")
	}

	if cfg.Export.Account == "" {
		return fmt.Errorf("export.account is required")
	}

	if cfg.Export.Output == "" {
		return fmt.Errorf("export.output is required")
	}

	start, end, err := cfg.Export.Window()
	if err != nil {
		return err
	}
	if end.Before(start) {
		return fmt.Errorf("export.end_date must not precede export.start_date")
	}

	if len(cfg.Source.Hive.Nodes) == 0 {
		return fmt.Errorf("source.hive.nodes must list at least one endpoint")
	}

	if cfg.Channels.OperationBuffer <= 0 {
		return fmt.Errorf("channels.operation_buffer must be greater than 0")
	}
	if cfg.Channels.RowBuffer <= 0 {
		return fmt.Errorf("channels.row_buffer must be greater than 0")
	}

	if cfg.Reader.PageSize <= 0 || cfg.Reader.PageSize > 1000 {
		return fmt.Errorf("reader.page_size must be between 1 and 1000")
	}
	if cfg.Reader.Timeout <= 0 {
		return fmt.Errorf("reader.timeout must be greater than 0")
	}

	if cfg.Writer.Formats.Parquet.Enabled {
		switch cfg.Writer.Formats.Parquet.Compression {
		case "", "uncompressed", "snappy", "gzip", "lzo":
		default:
			return fmt.Errorf("writer.formats.parquet.compression '%s' is invalid", cfg.Writer.Formats.Parquet.Compression)
		}
	}

	if cfg.Storage.S3.Enabled {
		if cfg.Storage.S3.Bucket == "" {
			return fmt.Errorf("storage.s3.bucket is required when S3 is enabled")
		}
		if cfg.Storage.S3.Region == "" {
			return fmt.Errorf("storage.s3.region is required when S3 is enabled")
		}
		if cfg.Storage.S3.AccessKeyID == "" || cfg.Storage.S3.SecretAccessKey == "" {
			return fmt.Errorf("storage.s3.access_key_id and storage.s3.secret_access_key are required when S3 is enabled")
		}
		if !isValidS3Bucket(cfg.Storage.S3.Bucket) {
			return fmt.Errorf("storage.s3.bucket '%s' is invalid", cfg.Storage.S3.Bucket)
		}
	}

	if cfg.Storage.Kafka.Enabled {
		if len(cfg.Storage.Kafka.Brokers) == 0 {
			return fmt.Errorf("storage.kafka.brokers is required when Kafka is enabled")
		}
		if cfg.Storage.Kafka.Topic == "" {
			return fmt.Errorf("storage.kafka.topic is required when Kafka is enabled")
		}
	}

	return nil
}

var s3BucketRegexp = regexp.MustCompile(`^[a-z0-9][a-z0-9.-]{1,61}[a-z0-9]$`)

func isValidS3Bucket(name string) bool {
	if len(name) < 3 || len(name) > 63 {
		return false
	}
	if strings.Contains(name, "..") || strings.HasPrefix(name, ".") || strings.HasSuffix(name, ".") {
		return false
	}
	return s3BucketRegexp.MatchString(name)
}
