// Package geoindex resolves an arbitrary lat/lon into nearby stops, using
// Elasticsearch as the geo index. A query's origin and destination are
// rarely stops themselves, so the query engine (pkg/query) uses this to
// turn a point into the handful of stops worth walking to.
package geoindex

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
	"github.com/elastic/go-elasticsearch/v8/esutil"
	"github.com/rs/zerolog/log"

	"github.com/gridhop/transferpatterns/pkg/config"
	"github.com/gridhop/transferpatterns/pkg/tpmodel"
)

const indexName = "transferpatterns-stops"

// Index wraps an Elasticsearch client holding one document per stop,
// geo-indexed by location.
type Index struct {
	client      *elasticsearch.Client
	bulkIndexer esutil.BulkIndexer
}

// stopDocument is the Elasticsearch document shape for one stop.
type stopDocument struct {
	PrimaryIdentifier string   `json:"primary_identifier"`
	Name              string   `json:"name"`
	Location          geoPoint `json:"location"`
}

type geoPoint struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Connect opens an Elasticsearch client from cfg. A blank Address skips
// setup entirely and NearestStops becomes a no-op; builds that only
// exercise trip-pattern-anchored stops never need geo resolution.
func Connect(cfg config.ElasticsearchConfig) (*Index, error) {
	if cfg.Address == "" {
		log.Info().Msg("Skipping Elasticsearch setup")
		return &Index{}, nil
	}

	retryBackoff := backoff.NewExponentialBackOff()

	client, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: []string{cfg.Address},
		Username:  cfg.Username,
		Password:  cfg.Password,

		RetryOnStatus: []int{502, 503, 504, 429},
		RetryBackoff: func(i int) time.Duration {
			if i == 1 {
				retryBackoff.Reset()
			}
			return retryBackoff.NextBackOff()
		},
		MaxRetries: 5,
	})
	if err != nil {
		return nil, err
	}

	if _, err := client.Info(); err != nil {
		return nil, err
	}

	bulkIndexer, err := esutil.NewBulkIndexer(esutil.BulkIndexerConfig{
		Client:        client,
		Index:         indexName,
		FlushInterval: 15 * time.Second,
	})
	if err != nil {
		return nil, err
	}

	log.Info().Msgf("Elasticsearch geo index connected to %s", cfg.Address)

	return &Index{client: client, bulkIndexer: bulkIndexer}, nil
}

func (idx *Index) createIndex() error {
	mapping := `{
		"mappings": {
			"properties": {
				"location": {"type": "geo_point"},
				"primary_identifier": {"type": "keyword"},
				"name": {"type": "text"}
			}
		}
	}`

	req := esapi.IndicesCreateRequest{
		Index: indexName,
		Body:  bytes.NewReader([]byte(mapping)),
	}

	res, err := req.Do(context.Background(), idx.client)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	return nil
}

// IndexStops loads every stop's location into the geo index. None of the
// build, merge or query commands call it.
func (idx *Index) IndexStops(stops []*tpmodel.Stop) error {
	if idx.client == nil {
		return nil
	}

	if err := idx.createIndex(); err != nil {
		log.Debug().Err(err).Msg("geoindex: index may already exist")
	}

	for _, stop := range stops {
		doc := stopDocument{
			PrimaryIdentifier: stop.PrimaryIdentifier,
			Name:              stop.Name,
			Location:          geoPoint{Lat: stop.Latitude, Lon: stop.Longitude},
		}

		body, err := json.Marshal(doc)
		if err != nil {
			return err
		}

		err = idx.bulkIndexer.Add(context.Background(), esutil.BulkIndexerItem{
			Action:     "index",
			DocumentID: stop.PrimaryIdentifier,
			Body:       bytes.NewReader(body),
			OnFailure: func(ctx context.Context, item esutil.BulkIndexerItem, res esutil.BulkIndexerResponseItem, err error) {
				if err != nil {
					log.Error().Err(err).Str("stop", item.DocumentID).Msg("Failed to index stop")
				}
			},
		})
		if err != nil {
			return err
		}
	}

	return idx.bulkIndexer.Close(context.Background())
}

// NearestStops resolves (lat, lon) to nearby stops, matching the
// two-stage radius widening a point-to-stop walk search uses: a tight
// 30m radius first (the point likely is a stop), then the caller's
// maxWalkDistanceMetres, then 1.5x that before giving up.
func (idx *Index) NearestStops(lat, lon, maxWalkDistanceMetres float64) ([]*tpmodel.Stop, error) {
	if idx.client == nil {
		return nil, nil
	}

	radiuses := []float64{30, maxWalkDistanceMetres, maxWalkDistanceMetres * 1.5}

	for _, radius := range radiuses {
		stops, err := idx.searchRadius(lat, lon, radius)
		if err != nil {
			return nil, err
		}
		if len(stops) > 0 {
			return stops, nil
		}
	}

	return nil, nil
}

func (idx *Index) searchRadius(lat, lon, radiusMetres float64) ([]*tpmodel.Stop, error) {
	query := fmt.Sprintf(`{
		"query": {
			"geo_distance": {
				"distance": "%fm",
				"location": {"lat": %f, "lon": %f}
			}
		},
		"sort": [
			{
				"_geo_distance": {
					"location": {"lat": %f, "lon": %f},
					"order": "asc",
					"unit": "m"
				}
			}
		],
		"size": 20
	}`, radiusMetres, lat, lon, lat, lon)

	res, err := idx.client.Search(
		idx.client.Search.WithContext(context.Background()),
		idx.client.Search.WithIndex(indexName),
		idx.client.Search.WithBody(bytes.NewReader([]byte(query))),
	)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	if res.IsError() {
		return nil, fmt.Errorf("geoindex: search returned %s", res.Status())
	}

	var parsed struct {
		Hits struct {
			Hits []struct {
				Source stopDocument `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}

	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return nil, err
	}

	stops := make([]*tpmodel.Stop, 0, len(parsed.Hits.Hits))
	for _, hit := range parsed.Hits.Hits {
		stops = append(stops, &tpmodel.Stop{
			PrimaryIdentifier: hit.Source.PrimaryIdentifier,
			Name:              hit.Source.Name,
			Latitude:          hit.Source.Location.Lat,
			Longitude:         hit.Source.Location.Lon,
		})
	}

	return stops, nil
}
