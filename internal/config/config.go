package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Storage       StorageConfig       `mapstructure:"storage"`
	Collaborators CollaboratorsConfig `mapstructure:"collaborators"`
	Orchestrator  OrchestratorConfig  `mapstructure:"orchestrator"`
	Progress      ProgressConfig      `mapstructure:"progress"`
}

type ServerConfig struct {
	Port int        `mapstructure:"port"`
	Mode string     `mapstructure:"mode"`
	CORS CORSConfig `mapstructure:"cors"`
}

type CORSConfig struct {
	AllowedOrigins  []string `mapstructure:"allowed_origins"`
	AllowAllOrigins bool     `mapstructure:"allow_all_origins"`
}

type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"` // sqlite or postgres
	Path            string        `mapstructure:"path"`   // sqlite file path
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"dbname"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
	LogQueries      bool          `mapstructure:"log_queries"`
}

// DSN builds the driver-specific connection string.
func (c *DatabaseConfig) DSN() string {
	if c.Driver == "postgres" {
		return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode)
	}
	return c.Path + "?_busy_timeout=5000"
}

// StorageConfig configures the S3-compatible bucket that receives chunk manifests.
type StorageConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Type      string `mapstructure:"type"` // r2, s3, s3compatible (auto-detected when empty)
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	UseSSL    bool   `mapstructure:"use_ssl"`
	Bucket    string `mapstructure:"bucket"`
	Region    string `mapstructure:"region"`
	PublicURL string `mapstructure:"public_url"`
	Prefix    string `mapstructure:"prefix"`
}

// CollaboratorsConfig holds the endpoints of the three phase services.
type CollaboratorsConfig struct {
	Scraper   CollaboratorConfig `mapstructure:"scraper"`
	Generator CollaboratorConfig `mapstructure:"generator"`
	Submitter CollaboratorConfig `mapstructure:"submitter"`
}

type CollaboratorConfig struct {
	BaseURL string `mapstructure:"base_url"`
	APIKey  string `mapstructure:"api_key"`
	Path    string `mapstructure:"path"`
}

// OrchestratorConfig bounds how chunks are dispatched.
type OrchestratorConfig struct {
	ChunkSize        int           `mapstructure:"chunk_size"`
	MaxConcurrentOps int           `mapstructure:"max_concurrent_ops"`
	RequestDelay     time.Duration `mapstructure:"request_delay"`
	Timeout          time.Duration `mapstructure:"timeout"`
	RetryAttempts    int           `mapstructure:"retry_attempts"`
}

// ProgressConfig tunes the websocket progress channel.
type ProgressConfig struct {
	ReconnectBaseDelay   time.Duration `mapstructure:"reconnect_base_delay"`
	MaxReconnectAttempts int           `mapstructure:"max_reconnect_attempts"`
	MetricsInterval      time.Duration `mapstructure:"metrics_interval"`
	SendBuffer           int           `mapstructure:"send_buffer"`
}

// Load reads configuration from file, .env and environment variables.
// Parameters:
//   - configPath: explicit config file; empty searches ./configs and the working directory.
//
// Returns:
//   - *Config: populated configuration.
//   - error: non-nil if the file exists but cannot be read or decoded.
func Load(configPath string) (*Config, error) {
	// Load .env file if exists
	_ = godotenv.Load()

	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Bind environment variables explicitly for sensitive data
	v.BindEnv("database.password", "DATABASE_PASSWORD")
	v.BindEnv("storage.access_key", "STORAGE_ACCESS_KEY")
	v.BindEnv("storage.secret_key", "STORAGE_SECRET_KEY")
	v.BindEnv("collaborators.scraper.api_key", "SCRAPER_API_KEY")
	v.BindEnv("collaborators.generator.api_key", "GENERATOR_API_KEY")
	v.BindEnv("collaborators.submitter.api_key", "SUBMITTER_API_KEY")

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
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "debug")
	v.SetDefault("server.cors.allow_all_origins", true)
	v.SetDefault("server.cors.allowed_origins", []string{})

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "./data/outreach.db")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.max_open_conns", 20)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.auto_migrate", true)

	v.SetDefault("storage.enabled", false)
	v.SetDefault("storage.bucket", "outreach")
	v.SetDefault("storage.prefix", "manifests")

	v.SetDefault("collaborators.scraper.base_url", "http://localhost:8101")
	v.SetDefault("collaborators.scraper.path", "/v1/extract")
	v.SetDefault("collaborators.generator.base_url", "http://localhost:8102")
	v.SetDefault("collaborators.generator.path", "/v1/generate")
	v.SetDefault("collaborators.submitter.base_url", "http://localhost:8103")
	v.SetDefault("collaborators.submitter.path", "/v1/submit")

	v.SetDefault("orchestrator.chunk_size", 10000)
	v.SetDefault("orchestrator.max_concurrent_ops", 5)
	v.SetDefault("orchestrator.request_delay", 200*time.Millisecond)
	v.SetDefault("orchestrator.timeout", 30*time.Second)
	v.SetDefault("orchestrator.retry_attempts", 3)

	v.SetDefault("progress.reconnect_base_delay", time.Second)
	v.SetDefault("progress.max_reconnect_attempts", 5)
	v.SetDefault("progress.metrics_interval", 10*time.Second)
	v.SetDefault("progress.send_buffer", 64)
}

// Validate rejects settings the orchestrator cannot run with.
func (c *Config) Validate() error {
	switch {
	case c.Orchestrator.ChunkSize <= 0:
		return fmt.Errorf("orchestrator.chunk_size must be positive, got %d", c.Orchestrator.ChunkSize)
	case c.Orchestrator.MaxConcurrentOps <= 0:
		return fmt.Errorf("orchestrator.max_concurrent_ops must be positive, got %d", c.Orchestrator.MaxConcurrentOps)
	case c.Orchestrator.RetryAttempts <= 0:
		return fmt.Errorf("orchestrator.retry_attempts must be positive, got %d", c.Orchestrator.RetryAttempts)
	case c.Orchestrator.Timeout <= 0:
		return fmt.Errorf("orchestrator.timeout must be positive, got %s", c.Orchestrator.Timeout)
	}
	return nil
}
