// internal/store/search/index.go
package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"bloodlink/internal/models"

	"github.com/elastic/go-elasticsearch/v8/esapi"
)

var donorMapping = map[string]interface{}{
	"mappings": map[string]interface{}{
		"properties": map[string]interface{}{
			"id":           map[string]interface{}{"type": "keyword"},
			"userId":       map[string]interface{}{"type": "keyword"},
			"bloodType":    map[string]interface{}{"type": "keyword"},
			"location":     map[string]interface{}{"type": "geo_point"},
			"available":    map[string]interface{}{"type": "boolean"},
			"lastDonation": map[string]interface{}{"type": "date"},
			"updatedAt":    map[string]interface{}{"type": "date"},
		},
	},
}

var requestMapping = map[string]interface{}{
	"mappings": map[string]interface{}{
		"properties": map[string]interface{}{
			"id":          map[string]interface{}{"type": "keyword"},
			"requesterId": map[string]interface{}{"type": "keyword"},
			"bloodType":   map[string]interface{}{"type": "keyword"},
			"urgency":     map[string]interface{}{"type": "integer"},
			"location":    map[string]interface{}{"type": "geo_point"},
			"unitsNeeded": map[string]interface{}{"type": "integer"},
			"fulfilled":   map[string]interface{}{"type": "boolean"},
			"version":     map[string]interface{}{"type": "long"},
			"createdAt":   map[string]interface{}{"type": "date"},
		},
	},
}

// EnsureIndices creates the donor and request indices when missing.
func (ix *Index) EnsureIndices(ctx context.Context) error {
	for index, mapping := range map[string]map[string]interface{}{
		ix.cfg.DonorIndex:   donorMapping,
		ix.cfg.RequestIndex: requestMapping,
	} {
		exists, err := ix.client.Indices.Exists([]string{index}, ix.client.Indices.Exists.WithContext(ctx))
		if err != nil {
			return fmt.Errorf("check index %s: %w", index, err)
		}
		exists.Body.Close()
		if exists.StatusCode == http.StatusOK {
			continue
		}

		body, _ := json.Marshal(mapping)
		res, err := ix.client.Indices.Create(index,
			ix.client.Indices.Create.WithContext(ctx),
			ix.client.Indices.Create.WithBody(bytes.NewReader(body)),
		)
		if err != nil {
			return fmt.Errorf("create index %s: %w", index, err)
		}
		res.Body.Close()
		if res.IsError() {
			return fmt.Errorf("create index %s: %s", index, res.Status())
		}
		ix.logger.Info("created index", map[string]interface{}{"index": index})
	}
	return nil
}

func (ix *Index) IndexDonor(ctx context.Context, d models.Donor) error {
	doc := donorDoc{
		ID:           d.ID,
		UserID:       d.UserID,
		BloodType:    d.BloodType.String(),
		Available:    d.Available,
		LastDonation: d.LastDonation,
		UpdatedAt:    d.UpdatedAt,
	}
	if d.Location != nil {
		doc.Location = &geoPoint{Lat: d.Location.Lat, Lon: d.Location.Lng}
	}
	return ix.put(ctx, ix.cfg.DonorIndex, d.ID, doc)
}

func (ix *Index) IndexRequest(ctx context.Context, r models.BloodRequest) error {
	return ix.put(ctx, ix.cfg.RequestIndex, r.ID, requestDoc{
		ID:          r.ID,
		RequesterID: r.RequesterID,
		BloodType:   r.BloodType.String(),
		Urgency:     int(r.Urgency),
		Location:    toGeo(r.Location),
		UnitsNeeded: r.UnitsNeeded,
		Fulfilled:   r.Fulfilled,
		Version:     r.Version,
		CreatedAt:   r.CreatedAt,
	})
}

// DeleteRequest removes a request document. A document that is already gone
// is not an error.
func (ix *Index) DeleteRequest(ctx context.Context, id string) error {
	req := esapi.DeleteRequest{
		Index:      ix.cfg.RequestIndex,
		DocumentID: id,
	}
	res, err := req.Do(ctx, ix.client)
	if err != nil {
		return fmt.Errorf("delete %s/%s: %w", ix.cfg.RequestIndex, id, err)
	}
	defer res.Body.Close()
	if res.IsError() && res.StatusCode != http.StatusNotFound {
		return fmt.Errorf("delete %s/%s: %s", ix.cfg.RequestIndex, id, res.Status())
	}
	return nil
}

func (ix *Index) put(ctx context.Context, index, id string, doc interface{}) error {
	body, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	req := esapi.IndexRequest{
		Index:      index,
		DocumentID: id,
		Body:       bytes.NewReader(body),
	}
	res, err := req.Do(ctx, ix.client)
	if err != nil {
		return fmt.Errorf("index %s/%s: %w", index, id, err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("index %s/%s: %s", index, id, res.Status())
	}
	return nil
}
