// internal/dispatch/config.go
package dispatch

import "bloodlink/internal/common/config"

// LoadConfig maps the dispatch section of the service config.
func LoadConfig(cfg *config.Config) Config {
	d := cfg.Dispatch
	queues := make([]QueueConfig, 0, len(d.Queues))
	for _, q := range d.Queues {
		queues = append(queues, QueueConfig{Name: q.Name, Concurrency: q.Concurrency})
	}
	return Config{
		Queues:       queues,
		DefaultQueue: d.DefaultQueue,
		MaxAttempts:  d.MaxAttempts,
		BaseBackoff:  config.GetDuration(d.BaseBackoff),
		MaxBackoff:   config.GetDuration(d.MaxBackoff),
		CallTimeout:  config.GetDuration(d.CallTimeout),
		ArchiveSize:  d.ArchiveSize,
	}
}
