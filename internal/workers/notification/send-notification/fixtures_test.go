// internal/workers/notification/send-notification/fixtures_test.go
package sendnotification

import "bloodlink/internal/common/config"

func configFixture() *config.Config {
	cfg := &config.Config{}
	cfg.Notifications.Email.Enabled = true
	cfg.Notifications.Email.FromEmail = "noreply@bloodlink.org"
	cfg.Notifications.AWS.Region = "eu-west-1"
	cfg.Notifications.ContactCacheTTL = 600000
	return cfg
}
