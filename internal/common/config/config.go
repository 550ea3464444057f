// internal/common/config/config.go
package config

import "fmt"

// Config is the main application configuration struct.
type Config struct {
	App           AppConfig               `mapstructure:"app"`
	HTTP          HTTPConfig              `mapstructure:"http"`
	Camunda       CamundaConfig           `mapstructure:"camunda"`
	Database      DatabaseConfig          `mapstructure:"database"`
	Auth          AuthConfig              `mapstructure:"auth"`
	Routing       RoutingConfig           `mapstructure:"routing"`
	Matching      MatchingConfig          `mapstructure:"matching"`
	Dispatch      DispatchConfig          `mapstructure:"dispatch"`
	Notifications NotificationConfig      `mapstructure:"notifications"`
	Workers       map[string]WorkerConfig `mapstructure:"workers"`
	Logging       LoggingConfig           `mapstructure:"logging"`
}

// --- Core App/Infrastructure Config ---
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
}

type HTTPConfig struct {
	Port            int `mapstructure:"port"`
	ReadTimeout     int `mapstructure:"read_timeout"`     // milliseconds
	WriteTimeout    int `mapstructure:"write_timeout"`    // milliseconds
	ShutdownTimeout int `mapstructure:"shutdown_timeout"` // milliseconds
}

// Address returns the listen address for the HTTP server.
func (h HTTPConfig) Address() string {
	return fmt.Sprintf(":%d", h.Port)
}

// CamundaConfig is optional; an empty broker address disables the Zeebe
// worker and message publication.
type CamundaConfig struct {
	BrokerAddress  string `mapstructure:"broker_address"`
	MaxJobsActive  int    `mapstructure:"max_jobs_active"`
	Timeout        int    `mapstructure:"timeout"`         // milliseconds
	RequestTimeout int    `mapstructure:"request_timeout"` // milliseconds
}

func (c CamundaConfig) Enabled() bool {
	return c.BrokerAddress != ""
}

type DatabaseConfig struct {
	Postgres      PostgresConfig      `mapstructure:"postgres"`
	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch"`
	Redis         RedisConfig         `mapstructure:"redis"`
}

type PostgresConfig struct {
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Database       string `mapstructure:"database"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	MaxConnections int    `mapstructure:"max_connections"`
	MaxIdle        int    `mapstructure:"max_idle"`
	SSLMode        string `mapstructure:"sslmode"`
}

// GetDSN returns the PostgreSQL connection string
func (p PostgresConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

// ElasticsearchConfig is optional; without addresses matching runs on the
// Postgres candidate source only and reports degraded results.
type ElasticsearchConfig struct {
	Addresses    []string `mapstructure:"addresses"`
	Username     string   `mapstructure:"username"`
	Password     string   `mapstructure:"password"`
	SSLEnabled   bool     `mapstructure:"ssl_enabled"`
	URL          string   `mapstructure:"url"` // Single URL for backwards compatibility
	DonorIndex   string   `mapstructure:"donor_index"`
	RequestIndex string   `mapstructure:"request_index"`
	Timeout      int      `mapstructure:"timeout"` // milliseconds
}

// GetURL returns the first address or the URL field
func (e ElasticsearchConfig) GetURL() string {
	if e.URL != "" {
		return e.URL
	}
	if len(e.Addresses) > 0 {
		return e.Addresses[0]
	}
	return ""
}

func (e ElasticsearchConfig) Enabled() bool {
	return e.GetURL() != ""
}

type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// WorkerConfig holds the core settings applicable to every worker.
type WorkerConfig struct {
	Enabled       bool `mapstructure:"enabled"`
	MaxJobsActive int  `mapstructure:"max_jobs_active"`
	Timeout       int  `mapstructure:"timeout"`     // milliseconds
	MaxRetries    int  `mapstructure:"max_retries"` // For error handling
}

// --- Specific Configuration Sections ---

// AuthConfig holds the token introspection settings for the HTTP API.
type AuthConfig struct {
	Keycloak struct {
		URL          string `mapstructure:"url"`
		Realm        string `mapstructure:"realm"`
		ClientID     string `mapstructure:"client_id"`
		ClientSecret string `mapstructure:"client_secret"`
	} `mapstructure:"keycloak"`

	Timeout       int `mapstructure:"timeout"`         // milliseconds
	TokenCacheTTL int `mapstructure:"token_cache_ttl"` // milliseconds

	// PrivilegedRoles may accept offers and trigger notifications on any request.
	PrivilegedRoles []string `mapstructure:"privileged_roles"`
}

// RoutingConfig points at the geocoding/routing collaborator.
type RoutingConfig struct {
	BaseURL             string  `mapstructure:"base_url"`
	APIKey              string  `mapstructure:"api_key"`
	Timeout             int     `mapstructure:"timeout"`               // milliseconds
	MeetingPointTimeout int     `mapstructure:"meeting_point_timeout"` // milliseconds
	CacheTTL            int     `mapstructure:"cache_ttl"`             // milliseconds
	BreakerThreshold    int     `mapstructure:"breaker_threshold"`
	BreakerCooldown     int     `mapstructure:"breaker_cooldown"` // milliseconds
	MinutesPerKm        float64 `mapstructure:"minutes_per_km"`
}

// MatchingConfig carries the ranking weights and request defaults.
type MatchingConfig struct {
	CompatWeight         float64 `mapstructure:"compat_weight"`
	DistanceWeight       float64 `mapstructure:"distance_weight"`
	EmergencyBonus       float64 `mapstructure:"emergency_bonus"`
	HighBonus            float64 `mapstructure:"high_bonus"`
	DefaultMaxDistanceKm float64 `mapstructure:"default_max_distance_km"`
	DefaultLimit         int     `mapstructure:"default_limit"`
	MaxLimit             int     `mapstructure:"max_limit"`
	DonationCooldownDays int     `mapstructure:"donation_cooldown_days"`
	NotifyLimit          int     `mapstructure:"notify_limit"`
	DefaultMode          string  `mapstructure:"default_mode"`
}

type QueueConfig struct {
	Name        string `mapstructure:"name"`
	Concurrency int    `mapstructure:"concurrency"`
}

// DispatchConfig configures the notification job pipeline.
type DispatchConfig struct {
	Queues          []QueueConfig `mapstructure:"queues"`
	DefaultQueue    string        `mapstructure:"default_queue"`
	MaxAttempts     int           `mapstructure:"max_attempts"`
	BaseBackoff     int           `mapstructure:"base_backoff"` // milliseconds
	MaxBackoff      int           `mapstructure:"max_backoff"`  // milliseconds
	CallTimeout     int           `mapstructure:"call_timeout"` // milliseconds
	ArchiveSize     int           `mapstructure:"archive_size"`
	ExhaustedKey    string        `mapstructure:"exhausted_key"`
	ExhaustedMaxLen int64         `mapstructure:"exhausted_max_len"`
}

// NotificationConfig holds settings for the email and SMS channels.
type NotificationConfig struct {
	Email struct {
		Enabled   bool   `mapstructure:"enabled"`
		FromEmail string `mapstructure:"from_email"`
	} `mapstructure:"email"`
	SMS struct {
		Enabled  bool   `mapstructure:"enabled"`
		SenderID string `mapstructure:"sender_id"`
	} `mapstructure:"sms"`
	AWS struct {
		Region string `mapstructure:"region"`
	} `mapstructure:"aws"`
	TemplateRegistryPath string `mapstructure:"template_registry_path"`
	TemplateCacheTTL     int    `mapstructure:"template_cache_ttl"` // milliseconds
	ContactCacheTTL      int    `mapstructure:"contact_cache_ttl"`  // milliseconds
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}
