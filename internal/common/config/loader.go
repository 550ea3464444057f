// internal/common/config/loader.go
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

func Load() (*Config, error) {
	loadEnvFile()

	// Base config
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./configs")
	viper.AddConfigPath("../../configs")
	viper.AddConfigPath(".")

	// Enable ENV override like DATABASE_POSTGRES_HOST
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	env := os.Getenv("APP_ENVIRONMENT")
	if env == "" {
		env = "development"
	}

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading base config: %w", err)
		}
	}

	envConfigFile := fmt.Sprintf("config.%s", env)
	viper.SetConfigName(envConfigFile)
	_ = viper.MergeInConfig() // ignore error if not found

	expandEnvVars(viper.GetViper())

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(&cfg)
	overrideEmptyConfig(&cfg)

	if err := validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// loadEnvFile loads the first .env found walking up from the working
// directory, so tests under nested packages pick up the root file.
func loadEnvFile() {
	possiblePaths := []string{
		".env",
		"../.env",
		"../../.env",
		"../../../.env",
	}

	if rootDir := findProjectRoot(); rootDir != "" {
		possiblePaths = append(possiblePaths, filepath.Join(rootDir, ".env"))
	}

	for _, path := range possiblePaths {
		if _, err := os.Stat(path); err == nil {
			if err := godotenv.Load(path); err == nil {
				return
			}
		}
	}
}

// Find project root by looking for go.mod
func findProjectRoot() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return ""
}

func expandEnvVars(v *viper.Viper) {
	for _, key := range v.AllKeys() {
		val := v.Get(key)

		if strVal, ok := val.(string); ok {
			if strings.Contains(strVal, "${") || (strings.HasPrefix(strVal, "$") && len(strVal) > 1) {
				// An unset variable expands to "" so optional sections stay disabled.
				if expanded := os.ExpandEnv(strVal); expanded != strVal {
					v.Set(key, expanded)
				}
			}
		}
	}
}

// overrideEmptyConfig fills secrets that are commonly provided as bare env
// vars rather than through the nested key names.
func overrideEmptyConfig(cfg *Config) {
	overrides := []struct {
		target *string
		env    string
	}{
		{&cfg.Database.Postgres.User, "DB_USER"},
		{&cfg.Database.Postgres.Password, "DB_PASSWORD"},
		{&cfg.Database.Redis.Password, "REDIS_PASSWORD"},
		{&cfg.Auth.Keycloak.ClientSecret, "KEYCLOAK_CLIENT_SECRET"},
		{&cfg.Routing.APIKey, "ROUTING_API_KEY"},
		{&cfg.Notifications.AWS.Region, "AWS_REGION"},
	}
	for _, o := range overrides {
		if *o.target == "" {
			if val := os.Getenv(o.env); val != "" {
				*o.target = val
			}
		}
	}
}

// LoadFromFile loads configuration from a specific file path
func LoadFromFile(path string) (*Config, error) {
	loadEnvFile()

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	expandEnvVars(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(&cfg)
	overrideEmptyConfig(&cfg)

	if err := validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// applyDefaults sets default values for optional configuration fields
func applyDefaults(cfg *Config) {
	if cfg.App.Name == "" {
		cfg.App.Name = "bloodlink"
	}

	// HTTP defaults
	if cfg.HTTP.Port == 0 {
		cfg.HTTP.Port = 8080
	}
	if cfg.HTTP.ReadTimeout == 0 {
		cfg.HTTP.ReadTimeout = 15000
	}
	if cfg.HTTP.WriteTimeout == 0 {
		cfg.HTTP.WriteTimeout = 15000
	}
	if cfg.HTTP.ShutdownTimeout == 0 {
		cfg.HTTP.ShutdownTimeout = 30000
	}

	// Camunda defaults
	if cfg.Camunda.MaxJobsActive == 0 {
		cfg.Camunda.MaxJobsActive = 10
	}
	if cfg.Camunda.Timeout == 0 {
		cfg.Camunda.Timeout = 30000
	}
	if cfg.Camunda.RequestTimeout == 0 {
		cfg.Camunda.RequestTimeout = 30000
	}

	// Database defaults
	if cfg.Database.Postgres.Port == 0 {
		cfg.Database.Postgres.Port = 5432
	}
	if cfg.Database.Postgres.MaxConnections == 0 {
		cfg.Database.Postgres.MaxConnections = 25
	}
	if cfg.Database.Postgres.MaxIdle == 0 {
		cfg.Database.Postgres.MaxIdle = 5
	}
	if cfg.Database.Postgres.SSLMode == "" {
		cfg.Database.Postgres.SSLMode = "disable"
	}
	if cfg.Database.Elasticsearch.URL == "" && len(cfg.Database.Elasticsearch.Addresses) > 0 {
		cfg.Database.Elasticsearch.URL = cfg.Database.Elasticsearch.Addresses[0]
	}
	if cfg.Database.Elasticsearch.DonorIndex == "" {
		cfg.Database.Elasticsearch.DonorIndex = "donors"
	}
	if cfg.Database.Elasticsearch.RequestIndex == "" {
		cfg.Database.Elasticsearch.RequestIndex = "blood_requests"
	}
	if cfg.Database.Elasticsearch.Timeout == 0 {
		cfg.Database.Elasticsearch.Timeout = 3000
	}

	// Auth defaults
	if len(cfg.Auth.PrivilegedRoles) == 0 {
		cfg.Auth.PrivilegedRoles = []string{"admin", "coordinator"}
	}
	if cfg.Auth.Timeout == 0 {
		cfg.Auth.Timeout = 5000
	}
	if cfg.Auth.TokenCacheTTL == 0 {
		cfg.Auth.TokenCacheTTL = 60000
	}

	// Routing defaults
	if cfg.Routing.Timeout == 0 {
		cfg.Routing.Timeout = 5000
	}
	if cfg.Routing.MeetingPointTimeout == 0 {
		cfg.Routing.MeetingPointTimeout = 3000
	}
	if cfg.Routing.CacheTTL == 0 {
		cfg.Routing.CacheTTL = 86400000
	}
	if cfg.Routing.BreakerThreshold == 0 {
		cfg.Routing.BreakerThreshold = 5
	}
	if cfg.Routing.BreakerCooldown == 0 {
		cfg.Routing.BreakerCooldown = 30000
	}
	if cfg.Routing.MinutesPerKm == 0 {
		cfg.Routing.MinutesPerKm = 2
	}

	// Matching defaults
	if cfg.Matching.CompatWeight == 0 && cfg.Matching.DistanceWeight == 0 {
		cfg.Matching.CompatWeight = 0.6
		cfg.Matching.DistanceWeight = 0.4
	}
	if cfg.Matching.EmergencyBonus == 0 {
		cfg.Matching.EmergencyBonus = 20
	}
	if cfg.Matching.HighBonus == 0 {
		cfg.Matching.HighBonus = 10
	}
	if cfg.Matching.DefaultMaxDistanceKm == 0 {
		cfg.Matching.DefaultMaxDistanceKm = 50
	}
	if cfg.Matching.DefaultLimit == 0 {
		cfg.Matching.DefaultLimit = 20
	}
	if cfg.Matching.MaxLimit == 0 {
		cfg.Matching.MaxLimit = 100
	}
	if cfg.Matching.DonationCooldownDays == 0 {
		cfg.Matching.DonationCooldownDays = 56
	}
	if cfg.Matching.NotifyLimit == 0 {
		cfg.Matching.NotifyLimit = 25
	}
	if cfg.Matching.DefaultMode == "" {
		cfg.Matching.DefaultMode = "proximity"
	}

	// Dispatch defaults
	if len(cfg.Dispatch.Queues) == 0 {
		cfg.Dispatch.Queues = []QueueConfig{
			{Name: "urgent", Concurrency: 4},
			{Name: "matching", Concurrency: 2},
			{Name: "notification", Concurrency: 4},
		}
	}
	if cfg.Dispatch.DefaultQueue == "" {
		cfg.Dispatch.DefaultQueue = "notification"
	}
	if cfg.Dispatch.MaxAttempts == 0 {
		cfg.Dispatch.MaxAttempts = 5
	}
	if cfg.Dispatch.BaseBackoff == 0 {
		cfg.Dispatch.BaseBackoff = 1000
	}
	if cfg.Dispatch.MaxBackoff == 0 {
		cfg.Dispatch.MaxBackoff = 300000
	}
	if cfg.Dispatch.CallTimeout == 0 {
		cfg.Dispatch.CallTimeout = 10000
	}
	if cfg.Dispatch.ArchiveSize == 0 {
		cfg.Dispatch.ArchiveSize = 1000
	}
	if cfg.Dispatch.ExhaustedKey == "" {
		cfg.Dispatch.ExhaustedKey = "bloodlink:dispatch:exhausted"
	}
	if cfg.Dispatch.ExhaustedMaxLen == 0 {
		cfg.Dispatch.ExhaustedMaxLen = 10000
	}

	// Notification defaults
	if cfg.Notifications.AWS.Region == "" {
		cfg.Notifications.AWS.Region = "us-east-1"
	}
	if cfg.Notifications.TemplateRegistryPath == "" {
		cfg.Notifications.TemplateRegistryPath = "configs/templates.json"
	}
	if cfg.Notifications.TemplateCacheTTL == 0 {
		cfg.Notifications.TemplateCacheTTL = 300000
	}
	if cfg.Notifications.ContactCacheTTL == 0 {
		cfg.Notifications.ContactCacheTTL = 600000
	}

	// Logging defaults
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = "stdout"
	}

	if cfg.Workers == nil {
		cfg.Workers = map[string]WorkerConfig{}
	}
	for key, worker := range cfg.Workers {
		if worker.MaxJobsActive == 0 {
			worker.MaxJobsActive = 5
		}
		if worker.Timeout == 0 {
			worker.Timeout = 30000
		}
		if worker.MaxRetries == 0 {
			worker.MaxRetries = 3
		}
		cfg.Workers[key] = worker
	}
}

// validateConfig validates critical configuration fields
func validateConfig(cfg *Config) error {
	if cfg.Database.Postgres.Host == "" {
		return fmt.Errorf("database.postgres.host is required")
	}
	if cfg.Database.Postgres.Database == "" {
		return fmt.Errorf("database.postgres.database is required")
	}
	if cfg.Database.Postgres.User == "" {
		return fmt.Errorf("database.postgres.user is required")
	}

	if cfg.Database.Redis.Address == "" {
		return fmt.Errorf("database.redis.address is required")
	}

	if cfg.Matching.CompatWeight < 0 || cfg.Matching.DistanceWeight < 0 {
		return fmt.Errorf("matching weights must not be negative")
	}
	if cfg.Matching.DefaultLimit > cfg.Matching.MaxLimit {
		return fmt.Errorf("matching.default_limit exceeds matching.max_limit")
	}
	switch cfg.Matching.DefaultMode {
	case "proximity", "compatibility", "mixed":
	default:
		return fmt.Errorf("matching.default_mode %q is not proximity, compatibility or mixed", cfg.Matching.DefaultMode)
	}

	queues := make(map[string]bool, len(cfg.Dispatch.Queues))
	for _, q := range cfg.Dispatch.Queues {
		if q.Name == "" || q.Concurrency < 1 {
			return fmt.Errorf("dispatch queue %q needs a name and concurrency >= 1", q.Name)
		}
		queues[q.Name] = true
	}
	if !queues[cfg.Dispatch.DefaultQueue] {
		return fmt.Errorf("dispatch.default_queue %q is not a configured queue", cfg.Dispatch.DefaultQueue)
	}
	if cfg.Dispatch.BaseBackoff > cfg.Dispatch.MaxBackoff {
		return fmt.Errorf("dispatch.base_backoff exceeds dispatch.max_backoff")
	}

	return nil
}

// GetDuration converts milliseconds from config to time.Duration
func GetDuration(milliseconds int) time.Duration {
	return time.Duration(milliseconds) * time.Millisecond
}

// GetWorkerConfig retrieves worker-specific configuration with fallback to defaults
func GetWorkerConfig(cfg *Config, workerName string) WorkerConfig {
	if worker, exists := cfg.Workers[workerName]; exists {
		return worker
	}

	return WorkerConfig{
		Enabled:       true,
		MaxJobsActive: 5,
		Timeout:       30000,
		MaxRetries:    3,
	}
}

// IsWorkerEnabled checks if a specific worker is enabled
func IsWorkerEnabled(cfg *Config, workerName string) bool {
	if worker, exists := cfg.Workers[workerName]; exists {
		return worker.Enabled
	}
	return true
}
