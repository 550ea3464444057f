// internal/routing/client.go
package routing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"bloodlink/internal/common/config"
	apperrors "bloodlink/internal/common/errors"
	httpclient "bloodlink/internal/common/http"
	"bloodlink/internal/common/logger"
	"bloodlink/internal/common/metrics"
	"bloodlink/internal/geo"

	"github.com/redis/go-redis/v9"
)

const (
	SourceRouting   = "routing"
	SourceEstimated = "estimated"

	cachePrefix = "routing:"

	// DefaultMinutesPerKm is the straight-line travel estimate used when the
	// routing service cannot answer.
	DefaultMinutesPerKm = 2.0
)

// ErrNoResult means the service answered but had nothing for the query.
var ErrNoResult = errors.New("routing: no result")

// Place is a geocoded location.
type Place struct {
	Location         geo.Point `json:"location"`
	FormattedAddress string    `json:"formattedAddress"`
}

// Estimate is the travel distance and time between two points.
type Estimate struct {
	DistanceMeters  float64 `json:"distanceMeters"`
	DurationMinutes float64 `json:"durationMinutes"`
	Source          string  `json:"source"`
}

type Config struct {
	BaseURL          string
	APIKey           string
	Timeout          time.Duration
	CacheTTL         time.Duration
	BreakerThreshold int
	BreakerCooldown  time.Duration
	MinutesPerKm     float64
}

func LoadConfig(cfg *config.Config) Config {
	r := cfg.Routing
	return Config{
		BaseURL:          r.BaseURL,
		APIKey:           r.APIKey,
		Timeout:          config.GetDuration(r.Timeout),
		CacheTTL:         config.GetDuration(r.CacheTTL),
		BreakerThreshold: r.BreakerThreshold,
		BreakerCooldown:  config.GetDuration(r.BreakerCooldown),
		MinutesPerKm:     r.MinutesPerKm,
	}
}

// Client talks to the geocoding and routing collaborator. Answers are cached
// in redis when a client is given, and a circuit breaker guards the upstream.
type Client struct {
	http    *httpclient.Client
	cache   redis.Cmdable
	breaker *CircuitBreaker
	cfg     Config
	logger  logger.Logger
}

// placeResponse is the collaborator's wire shape for geocode, reverse and
// waypoint answers.
type placeResponse struct {
	Latitude         float64 `json:"latitude"`
	Longitude        float64 `json:"longitude"`
	FormattedAddress string  `json:"formattedAddress"`
}

type routeResponse struct {
	Distance        float64 `json:"distance"`
	DurationMinutes float64 `json:"durationMinutes"`
}

func NewClient(cfg Config, cache redis.Cmdable, log logger.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.MinutesPerKm <= 0 {
		cfg.MinutesPerKm = DefaultMinutesPerKm
	}
	return &Client{
		http: httpclient.NewClient(cfg.Timeout).
			WithBaseURL(cfg.BaseURL).
			WithHeader("X-Api-Key", cfg.APIKey),
		cache:   cache,
		breaker: NewCircuitBreaker(cfg.BreakerThreshold, cfg.BreakerCooldown),
		cfg:     cfg,
		logger:  logger.Component(log, "routing"),
	}
}

// Enabled is false when no collaborator URL is configured.
func (c *Client) Enabled() bool {
	return c.cfg.BaseURL != ""
}

// ReverseGeocode names the place at p. Meeting points that fall back to the
// raw midpoint use it for their address.
func (c *Client) ReverseGeocode(ctx context.Context, p geo.Point) (*Place, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return c.place(ctx, "reverse", "reverse:"+pointKey(p), "/reverse", pointQuery(p))
}

// NearestWaypoint asks for a meeting spot (hospital, blood bank, public
// place) close to near. ErrNoResult is returned when there is none.
func (c *Client) NearestWaypoint(ctx context.Context, near geo.Point) (*Place, error) {
	if err := near.Validate(); err != nil {
		return nil, err
	}
	return c.place(ctx, "waypoint", "waypoint:"+pointKey(near), "/waypoint", pointQuery(near))
}

// Route returns the travel estimate between two points. When the service is
// unavailable it falls back to the straight-line distance at MinutesPerKm,
// so the only errors are invalid coordinates.
func (c *Client) Route(ctx context.Context, from, to geo.Point) (*Estimate, error) {
	straight, err := geo.Distance(from, to)
	if err != nil {
		return nil, err
	}
	fallback := &Estimate{
		DistanceMeters:  straight,
		DurationMinutes: straight / 1000 * c.cfg.MinutesPerKm,
		Source:          SourceEstimated,
	}
	if !c.Enabled() {
		return fallback, nil
	}

	q := url.Values{"from": {pointKey(from)}, "to": {pointKey(to)}}
	var est Estimate
	err = c.cached(ctx, "route", "route:"+pointKey(from)+":"+pointKey(to), &est, func(ctx context.Context) (interface{}, error) {
		var resp routeResponse
		if err := c.http.GetJSON(ctx, "/route", q, &resp); err != nil {
			return nil, err
		}
		return Estimate{DistanceMeters: resp.Distance, DurationMinutes: resp.DurationMinutes, Source: SourceRouting}, nil
	})
	if err != nil {
		c.logger.Warn("route lookup failed, using straight-line estimate", map[string]interface{}{"error": err})
		return fallback, nil
	}
	return &est, nil
}

func (c *Client) place(ctx context.Context, op, key, path string, q url.Values) (*Place, error) {
	if !c.Enabled() {
		return nil, apperrors.NewRoutingUnavailableError(op, errors.New("routing service not configured"))
	}
	var p Place
	err := c.cached(ctx, op, key, &p, func(ctx context.Context) (interface{}, error) {
		var resp placeResponse
		if err := c.http.GetJSON(ctx, path, q, &resp); err != nil {
			return nil, err
		}
		pt := geo.Point{Lat: resp.Latitude, Lng: resp.Longitude}
		if err := pt.Validate(); err != nil {
			return nil, fmt.Errorf("collaborator returned %w", err)
		}
		return Place{Location: pt, FormattedAddress: resp.FormattedAddress}, nil
	})
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// cached serves key from redis or calls fetch through the breaker and stores
// the answer. out must be a pointer to the type fetch returns.
func (c *Client) cached(ctx context.Context, op, key string, out interface{}, fetch func(context.Context) (interface{}, error)) error {
	cacheKey := cachePrefix + key
	if c.cache != nil {
		if data, err := c.cache.Get(ctx, cacheKey).Bytes(); err == nil {
			if json.Unmarshal(data, out) == nil {
				return nil
			}
		} else if err != redis.Nil {
			c.logger.Warn("routing cache read failed", map[string]interface{}{"error": err})
		}
	}

	if !c.breaker.Allow() {
		return apperrors.NewRoutingUnavailableError(op, errors.New("circuit open"))
	}

	v, err := fetch(ctx)
	if err != nil {
		var se *httpclient.StatusError
		if errors.As(err, &se) && se.StatusCode == http.StatusNotFound {
			c.breaker.RecordSuccess()
			return ErrNoResult
		}
		if errors.As(err, &se) && !se.Temporary() {
			// The service is up; the query was bad.
			c.breaker.RecordSuccess()
			return apperrors.NewRoutingUnavailableError(op, err)
		}
		if c.breaker.RecordFailure() {
			metrics.RoutingBreakerOpen.Set(1)
		}
		return apperrors.NewRoutingUnavailableError(op, err)
	}
	c.breaker.RecordSuccess()
	metrics.RoutingBreakerOpen.Set(0)

	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return err
	}
	if c.cache != nil && c.cfg.CacheTTL > 0 {
		if err := c.cache.Set(ctx, cacheKey, data, c.cfg.CacheTTL).Err(); err != nil {
			c.logger.Warn("routing cache write failed", map[string]interface{}{"error": err})
		}
	}
	return nil
}

func pointKey(p geo.Point) string {
	return strconv.FormatFloat(p.Lat, 'f', 5, 64) + "," + strconv.FormatFloat(p.Lng, 'f', 5, 64)
}

func pointQuery(p geo.Point) url.Values {
	return url.Values{
		"lat": {strconv.FormatFloat(p.Lat, 'f', 6, 64)},
		"lng": {strconv.FormatFloat(p.Lng, 'f', 6, 64)},
	}
}
