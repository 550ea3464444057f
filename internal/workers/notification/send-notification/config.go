// internal/workers/notification/send-notification/config.go
package sendnotification

import (
	"time"

	"bloodlink/internal/common/config"
)

type Config struct {
	EmailEnabled    bool
	SMSEnabled      bool
	FromEmail       string
	SMSSenderID     string
	AWSRegion       string
	ContactCacheTTL time.Duration
	Timeout         time.Duration
}

func LoadConfig(cfg *config.Config) *Config {
	n := cfg.Notifications
	return &Config{
		EmailEnabled:    n.Email.Enabled,
		SMSEnabled:      n.SMS.Enabled,
		FromEmail:       n.Email.FromEmail,
		SMSSenderID:     n.SMS.SenderID,
		AWSRegion:       n.AWS.Region,
		ContactCacheTTL: config.GetDuration(n.ContactCacheTTL),
		Timeout:         config.GetDuration(config.GetWorkerConfig(cfg, TaskType).Timeout),
	}
}
