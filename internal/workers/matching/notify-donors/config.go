// internal/workers/matching/notify-donors/config.go
package notifydonors

import (
	"time"

	"bloodlink/internal/common/config"
	"bloodlink/internal/geo"
	"bloodlink/internal/models"
)

type Config struct {
	Mode          geo.Mode
	Limit         int
	MaxDistanceKm float64
	Channel       models.Channel
	Timeout       time.Duration
}

func LoadConfig(cfg *config.Config) *Config {
	mode, err := geo.ParseMode(cfg.Matching.DefaultMode)
	if err != nil {
		mode = geo.ModeProximity
	}
	limit := cfg.Matching.NotifyLimit
	if limit <= 0 {
		limit = 10
	}
	return &Config{
		Mode:          mode,
		Limit:         limit,
		MaxDistanceKm: cfg.Matching.DefaultMaxDistanceKm,
		Channel:       models.ChannelSMS,
		Timeout:       config.GetDuration(config.GetWorkerConfig(cfg, TaskType).Timeout),
	}
}
