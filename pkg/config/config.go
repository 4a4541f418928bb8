// Package config holds the explicit runtime configuration for every
// component. Environment access happens only in FromEnv; components
// receive a validated Config through their constructors.
package config

import (
	"os"
	"strconv"
	"strings"

	"cloud-finops/pkg/finerr"
)

// AWSConfig carries billing credentials for the Cost Explorer client.
type AWSConfig struct {
	AccessKeyID     string
	SecretAccessKey string
	Region          string
	AccountID       string
}

// PostgresConfig carries the system-of-record connection parameters.
type PostgresConfig struct {
	Host     string
	Port     int
	Database string
	User     string
	Password string
	SSLMode  string
}

// DSN builds a lib/pq connection string.
func (p PostgresConfig) DSN() string {
	var sb strings.Builder
	sb.WriteString("host=" + p.Host)
	sb.WriteString(" port=" + strconv.Itoa(p.Port))
	sb.WriteString(" dbname=" + p.Database)
	sb.WriteString(" user=" + p.User)
	if p.Password != "" {
		sb.WriteString(" password=" + p.Password)
	}
	sb.WriteString(" sslmode=" + p.SSLMode)
	return sb.String()
}

// ClickHouseConfig carries the optional analytics mirror parameters.
type ClickHouseConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Database string
	Username string
	Password string
}

// OllamaConfig configures a locally hosted backend variant.
type OllamaConfig struct {
	BaseURL string
	Model   string
}

// OpenAIConfig configures the hosted-A (OpenAI-compatible) backend.
type OpenAIConfig struct {
	Endpoint string
	Token    string
	Model    string
}

// AnthropicConfig configures the hosted-B backend.
type AnthropicConfig struct {
	APIKey string
	Model  string
}

// Config is the full runtime configuration, validated once at startup.
type Config struct {
	AWS        AWSConfig
	Postgres   PostgresConfig
	ClickHouse ClickHouseConfig

	// DefaultBackend is the analysis backend identifier used when a
	// request does not select one explicitly.
	DefaultBackend string
	Local          OllamaConfig
	LocalMini      OllamaConfig
	HostedA        OpenAIConfig
	HostedB        AnthropicConfig
}

// FromEnv loads configuration from the environment with development
// defaults suitable for a local compose stack.
func FromEnv() *Config {
	return &Config{
		AWS: AWSConfig{
			AccessKeyID:     getEnv("AWS_ACCESS_KEY_ID", ""),
			SecretAccessKey: getEnv("AWS_SECRET_ACCESS_KEY", ""),
			Region:          getEnv("AWS_DEFAULT_REGION", "us-west-2"),
			AccountID:       getEnv("AWS_ACCOUNT_ID", "default"),
		},
		Postgres: PostgresConfig{
			Host:     getEnv("POSTGRES_HOST", "localhost"),
			Port:     getEnvInt("POSTGRES_PORT", 5432),
			Database: getEnv("POSTGRES_DB", "finops"),
			User:     getEnv("POSTGRES_USER", "postgres"),
			Password: getEnv("POSTGRES_PASSWORD", ""),
			SSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),
		},
		ClickHouse: ClickHouseConfig{
			Enabled:  getEnvBool("CLICKHOUSE_ENABLED", false),
			Host:     getEnv("CLICKHOUSE_HOST", "localhost"),
			Port:     getEnvInt("CLICKHOUSE_PORT", 9000),
			Database: getEnv("CLICKHOUSE_DATABASE", "finops"),
			Username: getEnv("CLICKHOUSE_USER", "default"),
			Password: getEnv("CLICKHOUSE_PASSWORD", ""),
		},
		DefaultBackend: getEnv("ANALYSIS_BACKEND", "local"),
		Local: OllamaConfig{
			BaseURL: getEnv("LOCAL_LLM_BASE_URL", "http://127.0.0.1:11434"),
			Model:   getEnv("LOCAL_LLM_MODEL", "phi4"),
		},
		LocalMini: OllamaConfig{
			BaseURL: getEnv("LOCAL_MINI_LLM_BASE_URL", "http://127.0.0.1:11434"),
			Model:   getEnv("LOCAL_MINI_LLM_MODEL", "phi4-mini"),
		},
		HostedA: OpenAIConfig{
			Endpoint: getEnv("HOSTED_A_ENDPOINT", "https://models.github.ai/inference"),
			Token:    getEnv("HOSTED_A_TOKEN", ""),
			Model:    getEnv("HOSTED_A_MODEL", "openai/gpt-4.1"),
		},
		HostedB: AnthropicConfig{
			APIKey: getEnv("HOSTED_B_API_KEY", ""),
			Model:  getEnv("HOSTED_B_MODEL", "claude-3-haiku-20240307"),
		},
	}
}

// Validate checks the options required before any component starts.
// Billing credentials are mandatory; backend credentials are not, since
// backends degrade to an unavailable state instead of failing startup.
func (c *Config) Validate() error {
	if c.AWS.AccessKeyID == "" || c.AWS.SecretAccessKey == "" {
		return finerr.Configuration("AWS credentials not found; set AWS_ACCESS_KEY_ID and AWS_SECRET_ACCESS_KEY")
	}
	if c.Postgres.Host == "" || c.Postgres.Database == "" {
		return finerr.Configuration("postgres connection parameters incomplete")
	}
	if c.DefaultBackend == "" {
		return finerr.Configuration("analysis backend identifier must not be empty")
	}
	return nil
}

func getEnv(key, defaultVal string) string {
	if val, exists := os.LookupEnv(key); exists {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val, exists := os.LookupEnv(key); exists {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val, exists := os.LookupEnv(key); exists {
		return strings.ToLower(val) == "true" || val == "1"
	}
	return defaultVal
}
