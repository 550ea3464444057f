// internal/store/search/search.go
package search

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	apperrors "bloodlink/internal/common/errors"
	"bloodlink/internal/common/logger"
	"bloodlink/internal/geo"
	"bloodlink/internal/matching"
	"bloodlink/internal/models"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
)

type Config struct {
	DonorIndex   string
	RequestIndex string
	Timeout      time.Duration
}

// Index serves geo_distance candidate queries over the donor and request
// indices. It is the primary matching source; Postgres stays the system of
// record and Reindex copies rows across.
type Index struct {
	client *elasticsearch.Client
	cfg    Config
	logger logger.Logger
}

func New(client *elasticsearch.Client, cfg Config, log logger.Logger) *Index {
	if cfg.DonorIndex == "" {
		cfg.DonorIndex = "donors"
	}
	if cfg.RequestIndex == "" {
		cfg.RequestIndex = "blood_requests"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Second
	}
	return &Index{client: client, cfg: cfg, logger: logger.Component(log, "search")}
}

type geoPoint struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

type donorDoc struct {
	ID           string     `json:"id"`
	UserID       string     `json:"userId"`
	BloodType    string     `json:"bloodType"`
	Location     *geoPoint  `json:"location,omitempty"`
	Available    bool       `json:"available"`
	LastDonation *time.Time `json:"lastDonation,omitempty"`
	UpdatedAt    time.Time  `json:"updatedAt"`
}

type requestDoc struct {
	ID          string    `json:"id"`
	RequesterID string    `json:"requesterId"`
	BloodType   string    `json:"bloodType"`
	Urgency     int       `json:"urgency"`
	Location    geoPoint  `json:"location"`
	UnitsNeeded int       `json:"unitsNeeded"`
	Fulfilled   bool      `json:"fulfilled"`
	Version     int64     `json:"version"`
	CreatedAt   time.Time `json:"createdAt"`
}

type searchResponse[T any] struct {
	Took int `json:"took"`
	Hits struct {
		Hits []struct {
			Source T `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
}

func toGeo(p geo.Point) geoPoint { return geoPoint{Lat: p.Lat, Lon: p.Lng} }

func typeNames(types []models.BloodType) []string {
	out := make([]string, 0, len(types))
	for _, bt := range types {
		out = append(out, bt.String())
	}
	return out
}

func geoClauses(center geo.Point, radiusMeters float64) (map[string]interface{}, []interface{}) {
	filter := map[string]interface{}{
		"geo_distance": map[string]interface{}{
			"distance": strconv.FormatFloat(radiusMeters, 'f', 0, 64) + "m",
			"location": toGeo(center),
		},
	}
	sort := []interface{}{
		map[string]interface{}{
			"_geo_distance": map[string]interface{}{
				"location": toGeo(center),
				"order":    "asc",
				"unit":     "m",
			},
		},
	}
	return filter, sort
}

// BuildDonorQuery returns the search body for available donors of the given
// types within the radius, nearest first.
func BuildDonorQuery(q matching.DonorQuery) map[string]interface{} {
	distance, sort := geoClauses(q.Center, q.RadiusMeters)
	filter := []interface{}{
		map[string]interface{}{"term": map[string]interface{}{"available": true}},
		map[string]interface{}{"terms": map[string]interface{}{"bloodType": typeNames(q.BloodTypes)}},
		distance,
	}
	if !q.DonatedBefore.IsZero() {
		// donors without a lastDonation field stay in
		filter = append(filter, map[string]interface{}{
			"bool": map[string]interface{}{
				"must_not": map[string]interface{}{
					"range": map[string]interface{}{
						"lastDonation": map[string]interface{}{"gt": q.DonatedBefore.UTC().Format(time.RFC3339)},
					},
				},
			},
		})
	}
	return map[string]interface{}{
		"size":  sizeOf(q.Limit),
		"query": map[string]interface{}{"bool": map[string]interface{}{"filter": filter}},
		"sort":  sort,
	}
}

// BuildRequestQuery returns the search body for open requests of the given
// types within the radius at or above the minimum urgency.
func BuildRequestQuery(q matching.RequestQuery) map[string]interface{} {
	distance, sort := geoClauses(q.Center, q.RadiusMeters)
	filter := []interface{}{
		map[string]interface{}{"term": map[string]interface{}{"fulfilled": false}},
		map[string]interface{}{"terms": map[string]interface{}{"bloodType": typeNames(q.BloodTypes)}},
		distance,
	}
	if q.MinUrgency.Valid() {
		filter = append(filter, map[string]interface{}{
			"range": map[string]interface{}{"urgency": map[string]interface{}{"gte": int(q.MinUrgency)}},
		})
	}
	return map[string]interface{}{
		"size":  sizeOf(q.Limit),
		"query": map[string]interface{}{"bool": map[string]interface{}{"filter": filter}},
		"sort":  sort,
	}
}

func sizeOf(limit int) int {
	if limit <= 0 || limit > 1000 {
		return 1000
	}
	return limit
}

func (ix *Index) SearchDonors(ctx context.Context, q matching.DonorQuery) ([]models.Donor, error) {
	var resp searchResponse[donorDoc]
	if err := ix.search(ctx, ix.cfg.DonorIndex, "donors_within_radius", BuildDonorQuery(q), &resp); err != nil {
		return nil, err
	}

	out := make([]models.Donor, 0, len(resp.Hits.Hits))
	for _, h := range resp.Hits.Hits {
		doc := h.Source
		bt, err := models.ParseBloodType(doc.BloodType)
		if err != nil {
			ix.logger.Warn("skipping donor document with bad blood type", map[string]interface{}{"donorId": doc.ID})
			continue
		}
		d := models.Donor{
			ID:           doc.ID,
			UserID:       doc.UserID,
			BloodType:    bt,
			Available:    doc.Available,
			LastDonation: doc.LastDonation,
			UpdatedAt:    doc.UpdatedAt,
		}
		if doc.Location != nil {
			d.Location = &geo.Point{Lat: doc.Location.Lat, Lng: doc.Location.Lon}
		}
		out = append(out, d)
	}
	ix.logger.Debug("donor search", map[string]interface{}{"hits": len(out), "took": resp.Took})
	return out, nil
}

func (ix *Index) SearchRequests(ctx context.Context, q matching.RequestQuery) ([]models.BloodRequest, error) {
	var resp searchResponse[requestDoc]
	if err := ix.search(ctx, ix.cfg.RequestIndex, "requests_within_radius", BuildRequestQuery(q), &resp); err != nil {
		return nil, err
	}

	out := make([]models.BloodRequest, 0, len(resp.Hits.Hits))
	for _, h := range resp.Hits.Hits {
		doc := h.Source
		bt, err := models.ParseBloodType(doc.BloodType)
		if err != nil {
			ix.logger.Warn("skipping request document with bad blood type", map[string]interface{}{"requestId": doc.ID})
			continue
		}
		out = append(out, models.BloodRequest{
			ID:          doc.ID,
			RequesterID: doc.RequesterID,
			BloodType:   bt,
			Urgency:     models.Urgency(doc.Urgency),
			Location:    geo.Point{Lat: doc.Location.Lat, Lng: doc.Location.Lon},
			UnitsNeeded: doc.UnitsNeeded,
			Fulfilled:   doc.Fulfilled,
			Version:     doc.Version,
			CreatedAt:   doc.CreatedAt,
		})
	}
	return out, nil
}

func (ix *Index) search(ctx context.Context, index, queryType string, body map[string]interface{}, out interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, ix.cfg.Timeout)
	defer cancel()

	payload, err := json.Marshal(body)
	if err != nil {
		return apperrors.NewSearchQueryFailedError(queryType, err)
	}

	res, err := ix.client.Search(
		ix.client.Search.WithContext(ctx),
		ix.client.Search.WithIndex(index),
		ix.client.Search.WithBody(bytes.NewReader(payload)),
	)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return apperrors.NewSearchTimeoutError(queryType)
		}
		return apperrors.NewSearchQueryFailedError(queryType, err)
	}
	defer res.Body.Close()

	if err := responseError(res, index, queryType); err != nil {
		return err
	}
	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return apperrors.NewSearchQueryFailedError(queryType, fmt.Errorf("decode response: %w", err))
	}
	return nil
}

func responseError(res *esapi.Response, index, queryType string) error {
	if !res.IsError() {
		return nil
	}
	if res.StatusCode == http.StatusNotFound {
		return apperrors.NewIndexNotFoundError(index)
	}
	msg, _ := io.ReadAll(io.LimitReader(res.Body, 512))
	return apperrors.NewSearchQueryFailedError(queryType, fmt.Errorf("%s: %s", res.Status(), bytes.TrimSpace(msg)))
}

var (
	_ matching.DonorSource   = (*Index)(nil)
	_ matching.RequestSource = (*Index)(nil)
)
