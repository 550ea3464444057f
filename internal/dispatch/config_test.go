package dispatch

import (
	"testing"
	"time"

	"bloodlink/internal/common/config"

	"github.com/stretchr/testify/assert"
)

func TestLoadConfig(t *testing.T) {
	cfg := &config.Config{Dispatch: config.DispatchConfig{
		Queues:       []config.QueueConfig{{Name: QueueUrgent, Concurrency: 3}, {Name: QueueNotification, Concurrency: 1}},
		DefaultQueue: QueueNotification,
		MaxAttempts:  4,
		BaseBackoff:  500,
		MaxBackoff:   60000,
		CallTimeout:  2000,
		ArchiveSize:  10,
	}}

	got := LoadConfig(cfg)
	assert.Equal(t, []QueueConfig{{Name: QueueUrgent, Concurrency: 3}, {Name: QueueNotification, Concurrency: 1}}, got.Queues)
	assert.Equal(t, 500*time.Millisecond, got.BaseBackoff)
	assert.Equal(t, time.Minute, got.MaxBackoff)
	assert.Equal(t, 2*time.Second, got.CallTimeout)
	assert.Equal(t, 4, got.MaxAttempts)
}
