package notifydonors

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"bloodlink/internal/common/clock"
	apperrors "bloodlink/internal/common/errors"
	"bloodlink/internal/common/logger"
	"bloodlink/internal/dispatch"
	"bloodlink/internal/geo"
	"bloodlink/internal/matching"
	"bloodlink/internal/models"
	"bloodlink/internal/offers"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var site = geo.Point{Lat: 48.8566, Lng: 2.3522}

type donorSource struct {
	donors []models.Donor
}

func (s *donorSource) SearchDonors(ctx context.Context, q matching.DonorQuery) ([]models.Donor, error) {
	return s.donors, nil
}

type fakeEnqueuer struct {
	jobs   []dispatch.Job
	failOn string
}

func (f *fakeEnqueuer) Enqueue(job dispatch.Job) (dispatch.Handle, error) {
	if job.Recipient == f.failOn {
		return "", errors.New("queue closed")
	}
	f.jobs = append(f.jobs, job)
	return dispatch.Handle(fmt.Sprintf("h-%d", len(f.jobs))), nil
}

type failingLoader struct{}

func (failingLoader) GetRequest(ctx context.Context, id string) (*models.BloodRequest, error) {
	return nil, errors.New("connection reset")
}

func north(km float64) *geo.Point {
	return &geo.Point{Lat: site.Lat + km/111.195, Lng: site.Lng}
}

func setup(t *testing.T, urgency models.Urgency) (*Handler, *fakeEnqueuer) {
	t.Helper()
	store := offers.NewMemoryStore()
	store.PutRequest(models.BloodRequest{
		ID:          "req-1",
		RequesterID: "owner",
		BloodType:   models.ABNegative,
		Urgency:     urgency,
		Location:    site,
		UnitsNeeded: 2,
	})

	src := &donorSource{donors: []models.Donor{
		{ID: "d-far", UserID: "u-far", BloodType: models.ONegative, Location: north(9), Available: true},
		{ID: "d-near", UserID: "u-near", BloodType: models.ABNegative, Location: north(1), Available: true},
		{ID: "d-pos", UserID: "u-pos", BloodType: models.APositive, Location: north(2), Available: true},
		{ID: "d-off", UserID: "u-off", BloodType: models.ONegative, Location: north(3), Available: false},
	}}
	orch := matching.NewOrchestrator(matching.DefaultConfig(), logger.NewTestLogger(t),
		matching.WithDonorSources(src, nil),
		matching.WithClock(clock.NewMockClock(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))),
	)

	jobs := &fakeEnqueuer{}
	cfg := &Config{Mode: geo.ModeProximity, Limit: 10, MaxDistanceKm: 25, Channel: models.ChannelSMS, Timeout: time.Second}
	return NewHandler(cfg, store, orch, jobs, logger.NewTestLogger(t)), jobs
}

func TestExecute_NotifiesCompatibleDonorsNearestFirst(t *testing.T) {
	h, jobs := setup(t, models.UrgencyHigh)

	out, err := h.Execute(context.Background(), &Input{RequestID: "req-1"})
	require.NoError(t, err)

	assert.Equal(t, 2, out.Matched)
	assert.Equal(t, 2, out.Notified)
	assert.Equal(t, []string{"h-1", "h-2"}, out.JobIDs)
	require.Len(t, jobs.jobs, 2)

	assert.Equal(t, "u-near", jobs.jobs[0].Recipient)
	assert.Equal(t, "u-far", jobs.jobs[1].Recipient)
	for _, j := range jobs.jobs {
		assert.Equal(t, dispatch.QueueMatching, j.Queue)
		assert.Equal(t, models.TemplateDonorMatch, j.TemplateID)
		assert.Equal(t, models.ChannelSMS, j.Type)
		assert.Equal(t, int(models.UrgencyHigh), j.Priority)
		assert.Equal(t, "req-1", j.RequestID)
		assert.Equal(t, "AB-", j.Data["bloodType"])
	}
	assert.InDelta(t, 1.0, jobs.jobs[0].Data["distanceKm"], 0.01)
}

func TestExecute_EmergencyUsesUrgentQueue(t *testing.T) {
	h, jobs := setup(t, models.UrgencyEmergency)

	_, err := h.Execute(context.Background(), &Input{RequestID: "req-1"})
	require.NoError(t, err)
	require.NotEmpty(t, jobs.jobs)
	for _, j := range jobs.jobs {
		assert.Equal(t, dispatch.QueueUrgent, j.Queue)
		assert.Equal(t, int(models.UrgencyEmergency), j.Priority)
	}
}

func TestExecute_Overrides(t *testing.T) {
	h, jobs := setup(t, models.UrgencyMedium)

	out, err := h.Execute(context.Background(), &Input{RequestID: "req-1", MaxDistanceKm: 5, Limit: 1, Mode: "compatibility"})
	require.NoError(t, err)
	assert.Equal(t, 1, out.Notified)
	assert.Equal(t, "u-near", jobs.jobs[0].Recipient)
}

func TestExecute_EnqueueFailureIsSkipped(t *testing.T) {
	h, jobs := setup(t, models.UrgencyHigh)
	jobs.failOn = "u-near"

	out, err := h.Execute(context.Background(), &Input{RequestID: "req-1"})
	require.NoError(t, err)
	assert.Equal(t, 2, out.Matched)
	assert.Equal(t, 1, out.Notified)
	assert.Equal(t, "u-far", jobs.jobs[0].Recipient)
}

func TestExecute_Errors(t *testing.T) {
	tests := []struct {
		name     string
		input    Input
		loader   RequestLoader
		wantCode apperrors.ErrorCode
	}{
		{name: "missing request id", input: Input{}, wantCode: apperrors.ErrCodeValidationFailed},
		{name: "bad mode", input: Input{RequestID: "req-1", Mode: "closest"}, wantCode: apperrors.ErrCodeValidationFailed},
		{name: "unknown request", input: Input{RequestID: "nope"}, wantCode: apperrors.ErrCodeRequestNotFound},
		{name: "store down", input: Input{RequestID: "req-1"}, loader: failingLoader{}, wantCode: apperrors.ErrCodeQueryExecutionFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, jobs := setup(t, models.UrgencyHigh)
			if tt.loader != nil {
				h.requests = tt.loader
			}

			_, err := h.Execute(context.Background(), &tt.input)
			require.Error(t, err)
			assert.True(t, apperrors.HasCode(err, tt.wantCode), "got %v", err)
			assert.Empty(t, jobs.jobs)
		})
	}
}
