package dispatch

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redismock/v9"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "bloodlink/internal/common/errors"
	"bloodlink/internal/models"
)

func TestRedisSink_RecordAndList(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	sink := NewRedisSink(client, "", 2)
	ctx := context.Background()

	for _, id := range []string{"j1", "j2", "j3"} {
		j := job("donor-match", 2)
		j.ID = id
		j.Attempts = 3
		j.MaxAttempts = 3
		j.ScheduledFor = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
		j.Status = StatusExhausted
		require.NoError(t, sink.Record(ctx, j))
	}

	jobs, err := sink.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, "j3", jobs[0].ID)
	assert.Equal(t, "j2", jobs[1].ID)
	assert.Equal(t, StatusExhausted, jobs[0].Status)
	assert.Equal(t, "v", jobs[0].Data["k"])
}

func TestRedisSink_ListError(t *testing.T) {
	client, mock := redismock.NewClientMock()
	mock.ExpectLRange("dead", 0, 4).SetErr(errors.New("connection refused"))

	sink := NewRedisSink(client, "dead", 10)
	_, err := sink.List(context.Background(), 5)
	assert.ErrorContains(t, err, "connection refused")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestJobWireFormat(t *testing.T) {
	j := Job{
		ID:           "job-1",
		Queue:        QueueUrgent,
		Type:         models.ChannelSMS,
		Recipient:    "user-9",
		TemplateID:   "donor-match",
		Data:         map[string]interface{}{"units": float64(2)},
		Priority:     4,
		Attempts:     1,
		MaxAttempts:  5,
		ScheduledFor: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		RequestID:    "req-1",
	}
	raw, err := EncodeJob(j)
	require.NoError(t, err)

	decoded, err := DecodeJob(raw)
	require.NoError(t, err)
	assert.Equal(t, j.Recipient, decoded.Recipient)
	assert.Equal(t, j.Priority, decoded.Priority)
	assert.True(t, j.ScheduledFor.Equal(decoded.ScheduledFor))
	assert.Equal(t, j.Data, decoded.Data)

	tests := []struct {
		name string
		raw  string
	}{
		{name: "missing recipient", raw: `{"type":"email","templateId":"t","data":{},"priority":1,"attempts":0,"maxAttempts":1,"scheduledFor":"2026-01-01T00:00:00Z"}`},
		{name: "bad channel", raw: `{"type":"fax","recipient":"r","templateId":"t","data":{},"priority":1,"attempts":0,"maxAttempts":1,"scheduledFor":"2026-01-01T00:00:00Z"}`},
		{name: "priority too high", raw: `{"type":"email","recipient":"r","templateId":"t","data":{},"priority":5,"attempts":0,"maxAttempts":1,"scheduledFor":"2026-01-01T00:00:00Z"}`},
		{name: "unknown field", raw: `{"type":"email","recipient":"r","templateId":"t","data":{},"priority":1,"attempts":0,"maxAttempts":1,"scheduledFor":"2026-01-01T00:00:00Z","extra":1}`},
		{name: "not json", raw: `{`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeJob([]byte(tt.raw))
			assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeValidationFailed), "got %v", err)
		})
	}
}
