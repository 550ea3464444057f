package routing

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	apperrors "bloodlink/internal/common/errors"
	"bloodlink/internal/common/logger"
	"bloodlink/internal/geo"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	berlin  = geo.Point{Lat: 52.5200, Lng: 13.4050}
	potsdam = geo.Point{Lat: 52.3906, Lng: 13.0645}
)

func newTestClient(t *testing.T, handler http.HandlerFunc, rdb redis.Cmdable) (*Client, *int32) {
	t.Helper()
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		handler(w, r)
	}))
	t.Cleanup(srv.Close)

	c := NewClient(Config{
		BaseURL:          srv.URL,
		APIKey:           "key",
		Timeout:          time.Second,
		CacheTTL:         time.Minute,
		BreakerThreshold: 2,
		BreakerCooldown:  time.Minute,
	}, rdb, logger.NewTestLogger(t))
	return c, &hits
}

func TestClient_NearestWaypoint(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/waypoint", r.URL.Path)
		assert.Equal(t, "key", r.Header.Get("X-Api-Key"))
		assert.Equal(t, "52.520000", r.URL.Query().Get("lat"))
		_, _ = w.Write([]byte(`{"latitude":52.5251,"longitude":13.3694,"formattedAddress":"Charité Blood Bank"}`))
	}, nil)

	p, err := c.NearestWaypoint(context.Background(), berlin)
	require.NoError(t, err)
	assert.Equal(t, "Charité Blood Bank", p.FormattedAddress)
	assert.InDelta(t, 52.5251, p.Location.Lat, 1e-9)
}

func TestClient_ReverseGeocode(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/reverse", r.URL.Path)
		assert.Equal(t, "13.064500", r.URL.Query().Get("lng"))
		_, _ = w.Write([]byte(`{"latitude":52.3906,"longitude":13.0645,"formattedAddress":"Potsdam Hbf"}`))
	}, nil)

	p, err := c.ReverseGeocode(context.Background(), potsdam)
	require.NoError(t, err)
	assert.Equal(t, "Potsdam Hbf", p.FormattedAddress)

	_, err = c.ReverseGeocode(context.Background(), geo.Point{Lat: 95})
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeInvalidCoordinate))
}

func TestClient_NoResult(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}, nil)

	_, err := c.NearestWaypoint(context.Background(), berlin)
	assert.ErrorIs(t, err, ErrNoResult)
	assert.False(t, c.breaker.IsOpen())
}

func TestClient_CachesAnswers(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	c, hits := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"latitude":52.52,"longitude":13.40,"formattedAddress":"Berlin, Germany"}`))
	}, rdb)

	for i := 0; i < 3; i++ {
		p, err := c.ReverseGeocode(context.Background(), berlin)
		require.NoError(t, err)
		assert.Equal(t, "Berlin, Germany", p.FormattedAddress)
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(hits))
	assert.True(t, mr.Exists("routing:reverse:52.52000,13.40500"))
}

func TestClient_BreakerOpensOnServerErrors(t *testing.T) {
	c, hits := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}, nil)

	for i := 0; i < 2; i++ {
		_, err := c.ReverseGeocode(context.Background(), berlin)
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeRoutingUnavailable))
	}
	assert.True(t, c.breaker.IsOpen())

	_, err := c.ReverseGeocode(context.Background(), berlin)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeRoutingUnavailable))
	assert.True(t, apperrors.IsRetryable(err))
	assert.Equal(t, int32(2), atomic.LoadInt32(hits), "open breaker short-circuits the call")
}

func TestClient_RouteFallsBackToStraightLine(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}, nil)

	est, err := c.Route(context.Background(), berlin, potsdam)
	require.NoError(t, err)
	assert.Equal(t, SourceEstimated, est.Source)
	assert.InDelta(t, geo.Haversine(berlin, potsdam), est.DistanceMeters, 1e-6)
	assert.InDelta(t, est.DistanceMeters/1000*DefaultMinutesPerKm, est.DurationMinutes, 1e-9)
}

func TestClient_Route(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "52.52000,13.40500", r.URL.Query().Get("from"))
		_, _ = w.Write([]byte(`{"distance":35500,"durationMinutes":41}`))
	}, nil)

	est, err := c.Route(context.Background(), berlin, potsdam)
	require.NoError(t, err)
	assert.Equal(t, Estimate{DistanceMeters: 35500, DurationMinutes: 41, Source: SourceRouting}, *est)
}

func TestClient_Disabled(t *testing.T) {
	c := NewClient(Config{}, nil, nil)
	assert.False(t, c.Enabled())

	_, err := c.NearestWaypoint(context.Background(), berlin)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeRoutingUnavailable))

	est, err := c.Route(context.Background(), berlin, berlin)
	require.NoError(t, err)
	assert.Zero(t, est.DistanceMeters)
	assert.Equal(t, SourceEstimated, est.Source)

	_, err = c.Route(context.Background(), geo.Point{Lat: 91}, berlin)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeInvalidCoordinate))
}

func TestCircuitBreaker_HalfOpen(t *testing.T) {
	now := time.Unix(0, 0)
	cb := NewCircuitBreaker(3, time.Minute)
	cb.now = func() time.Time { return now }

	cb.RecordFailure()
	cb.RecordFailure()
	assert.True(t, cb.Allow())
	assert.True(t, cb.RecordFailure())
	assert.False(t, cb.Allow())

	now = now.Add(61 * time.Second)
	assert.True(t, cb.Allow(), "trial call allowed after cooldown")
	assert.True(t, cb.RecordFailure(), "a failed trial call reopens immediately")

	now = now.Add(61 * time.Second)
	require.True(t, cb.Allow())
	cb.RecordSuccess()
	assert.False(t, cb.IsOpen())
}
