package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	JWT       JWTConfig       `mapstructure:"jwt"`
	Log       LogConfig       `mapstructure:"log"`
	Tracing   TracingConfig   `mapstructure:"tracing"`
	CORS      CORSConfig      `mapstructure:"cors"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Workflow  WorkflowConfig  `mapstructure:"workflow"`
	Providers ProvidersConfig `mapstructure:"providers"`
	Kafka     KafkaConfig     `mapstructure:"kafka"`
}

type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
	Version     string `mapstructure:"version"`
}

type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

func (s ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Name            string        `mapstructure:"name"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%d sslmode=%s TimeZone=UTC",
		d.Host, d.User, d.Password, d.Name, d.Port, d.SSLMode,
	)
}

type JWTConfig struct {
	Secret         string        `mapstructure:"secret"`
	AccessTokenTTL time.Duration `mapstructure:"access_token_ttl"`
	Issuer         string        `mapstructure:"issuer"`
}

type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"output_path"`
}

type TracingConfig struct {
	Enabled      bool    `mapstructure:"enabled"`
	ServiceName  string  `mapstructure:"service_name"`
	OTLPEndpoint string  `mapstructure:"otlp_endpoint"`
	SampleRate   float64 `mapstructure:"sample_rate"`
}

type CORSConfig struct {
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
	AllowedMethods []string      `mapstructure:"allowed_methods"`
	AllowedHeaders []string      `mapstructure:"allowed_headers"`
	MaxAge         time.Duration `mapstructure:"max_age"`
}

type RateLimitConfig struct {
	// Per-IP token bucket applied to every route.
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	BurstSize         int     `mapstructure:"burst_size"`
}

type WorkflowConfig struct {
	// Fields transcribed below this confidence score must be explicitly
	// verified by a pharmacist before approval.
	LowConfidenceThreshold int           `mapstructure:"low_confidence_threshold"`
	ExpirySweepInterval    time.Duration `mapstructure:"expiry_sweep_interval"`
}

type ProvidersConfig struct {
	OCR              ProviderConfig `mapstructure:"ocr"`
	Interaction      ProviderConfig `mapstructure:"interaction"`
	Allergy          ProviderConfig `mapstructure:"allergy"`
	Contraindication ProviderConfig `mapstructure:"contraindication"`
}

type ProviderConfig struct {
	BaseURL         string        `mapstructure:"base_url"`
	APIKey          string        `mapstructure:"api_key"`
	Timeout         time.Duration `mapstructure:"timeout"`
	BreakerFailures uint32        `mapstructure:"breaker_failures"`
	BreakerCooldown time.Duration `mapstructure:"breaker_cooldown"`
}

type KafkaConfig struct {
	Enabled  bool     `mapstructure:"enabled"`
	Brokers  []string `mapstructure:"brokers"`
	Topic    string   `mapstructure:"topic"`
	ClientID string   `mapstructure:"client_id"`

	SASLEnabled   bool   `mapstructure:"sasl_enabled"`
	SASLMechanism string `mapstructure:"sasl_mechanism"`
	SASLUsername  string `mapstructure:"sasl_username"`
	SASLPassword  string `mapstructure:"sasl_password"`
}

// Load reads configuration from the environment with the RXGATE_ prefix,
// falling back to the defaults below. Nested keys map through underscores,
// e.g. RXGATE_DATABASE_MAX_OPEN_CONNS.
func Load() (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("RXGATE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "rxgate")
	v.SetDefault("app.environment", "development")
	v.SetDefault("app.version", "0.0.0")

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 15*time.Second)
	v.SetDefault("server.idle_timeout", 60*time.Second)
	v.SetDefault("server.shutdown_timeout", 30*time.Second)

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "rxgate")
	v.SetDefault("database.user", "rxgate")
	v.SetDefault("database.password", "")
	v.SetDefault("database.sslmode", "require")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 10)
	v.SetDefault("database.conn_max_lifetime", 30*time.Minute)
	v.SetDefault("database.conn_max_idle_time", 5*time.Minute)

	v.SetDefault("jwt.secret", "")
	v.SetDefault("jwt.access_token_ttl", 15*time.Minute)
	v.SetDefault("jwt.issuer", "metapharm-identity")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.output_path", "stdout")

	v.SetDefault("tracing.enabled", true)
	v.SetDefault("tracing.service_name", "rxgate")
	v.SetDefault("tracing.otlp_endpoint", "otel-collector:4318")
	v.SetDefault("tracing.sample_rate", 0.1)

	v.SetDefault("cors.allowed_origins", []string{"https://portal.metapharm.io"})
	v.SetDefault("cors.allowed_methods", []string{"GET", "POST", "PATCH", "OPTIONS"})
	v.SetDefault("cors.allowed_headers", []string{"Authorization", "Content-Type", "X-Request-ID"})
	v.SetDefault("cors.max_age", 12*time.Hour)

	v.SetDefault("rate_limit.requests_per_second", 50)
	v.SetDefault("rate_limit.burst_size", 100)

	v.SetDefault("workflow.low_confidence_threshold", 80)
	v.SetDefault("workflow.expiry_sweep_interval", 10*time.Minute)

	v.SetDefault("providers.ocr.base_url", "http://rx-transcription.internal")
	v.SetDefault("providers.ocr.api_key", "")
	v.SetDefault("providers.ocr.timeout", 30*time.Second)
	v.SetDefault("providers.ocr.breaker_failures", 5)
	v.SetDefault("providers.ocr.breaker_cooldown", 30*time.Second)

	v.SetDefault("providers.interaction.base_url", "http://drug-interactions.internal")
	v.SetDefault("providers.interaction.api_key", "")
	v.SetDefault("providers.interaction.timeout", 10*time.Second)
	v.SetDefault("providers.interaction.breaker_failures", 5)
	v.SetDefault("providers.interaction.breaker_cooldown", 30*time.Second)

	v.SetDefault("providers.allergy.base_url", "http://allergy-screening.internal")
	v.SetDefault("providers.allergy.api_key", "")
	v.SetDefault("providers.allergy.timeout", 10*time.Second)
	v.SetDefault("providers.allergy.breaker_failures", 5)
	v.SetDefault("providers.allergy.breaker_cooldown", 30*time.Second)

	v.SetDefault("providers.contraindication.base_url", "http://contraindications.internal")
	v.SetDefault("providers.contraindication.api_key", "")
	v.SetDefault("providers.contraindication.timeout", 10*time.Second)
	v.SetDefault("providers.contraindication.breaker_failures", 5)
	v.SetDefault("providers.contraindication.breaker_cooldown", 30*time.Second)

	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.topic", "pharmacy.prescriptions.decisions")
	v.SetDefault("kafka.client_id", "rxgate")
	v.SetDefault("kafka.sasl_enabled", false)
	v.SetDefault("kafka.sasl_mechanism", "scram-sha-512")
	v.SetDefault("kafka.sasl_username", "")
	v.SetDefault("kafka.sasl_password", "")
}

// validate enforces production security requirements.
func validate(cfg *Config) error {
	var errs []string

	if cfg.JWT.Secret == "" {
		errs = append(errs, "RXGATE_JWT_SECRET is required")
	} else if len(cfg.JWT.Secret) < 32 && cfg.App.Environment == "production" {
		errs = append(errs, "RXGATE_JWT_SECRET must be at least 32 characters in production")
	}

	if cfg.Database.Password == "" && cfg.App.Environment != "development" {
		errs = append(errs, "RXGATE_DATABASE_PASSWORD is required in non-development environments")
	}

	if cfg.Database.SSLMode == "disable" && cfg.App.Environment == "production" {
		errs = append(errs, "RXGATE_DATABASE_SSLMODE=disable is not allowed in production")
	}

	if t := cfg.Workflow.LowConfidenceThreshold; t < 0 || t > 100 {
		errs = append(errs, "RXGATE_WORKFLOW_LOW_CONFIDENCE_THRESHOLD must be between 0 and 100")
	}

	if cfg.Kafka.Enabled && len(cfg.Kafka.Brokers) == 0 {
		errs = append(errs, "RXGATE_KAFKA_BROKERS is required when Kafka is enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors:\n  - %s", strings.Join(errs, "\n  - "))
	}

	return nil
}
