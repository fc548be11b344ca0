// Package grq queries the GRQ catalog (ElasticSearch) of the published datasets
package grq

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/airbusgeo/insar-timeseries/service"
	"github.com/airbusgeo/insar-timeseries/service/log"
)

const defaultNbRetries = 3

// Client of a GRQ index
type Client struct {
	URL       string // ElasticSearch endpoint
	Index     string // Index or alias of the datasets
	NbRetries int
}

// New creates a client of the index
func New(url, index string) Client {
	return Client{URL: url, Index: index, NbRetries: defaultNbRetries}
}

type termQuery struct {
	Query struct {
		Bool struct {
			Must []map[string]map[string]string `json:"must"`
		} `json:"bool"`
	} `json:"query"`
	Fields []string `json:"fields"`
}

type searchResult struct {
	Hits struct {
		Total json.RawMessage `json:"total"`
		Hits  []struct {
			ID string `json:"_id"`
		} `json:"hits"`
	} `json:"hits"`
}

func newIDQuery(id string) termQuery {
	q := termQuery{Fields: []string{}}
	q.Query.Bool.Must = []map[string]map[string]string{{"term": {"_id": id}}}
	return q
}

// total decodes hits.total: a number (ES < 7) or {"value": n, "relation": "eq"}
func total(raw json.RawMessage) (int64, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return 0, fmt.Errorf("total: missing hits.total")
	}
	if raw[0] == '{' {
		var t struct {
			Value int64 `json:"value"`
		}
		if err := json.Unmarshal(raw, &t); err != nil {
			return 0, fmt.Errorf("total: %w", err)
		}
		return t.Value, nil
	}
	var t int64
	if err := json.Unmarshal(raw, &t); err != nil {
		return 0, fmt.Errorf("total: %w", err)
	}
	return t, nil
}

func (c Client) searchURL() string {
	return strings.TrimSuffix(c.URL, "/") + "/" + c.Index + "/_search"
}

// DatasetExists returns true if a dataset with this id is already indexed
func (c Client) DatasetExists(ctx context.Context, id string) (bool, error) {
	body, err := service.PostJSONRetry(ctx, c.searchURL(), newIDQuery(id), c.NbRetries)
	if err != nil {
		return false, fmt.Errorf("DatasetExists[%s]: %w", id, err)
	}
	var res searchResult
	if err := json.Unmarshal(body, &res); err != nil {
		return false, fmt.Errorf("DatasetExists[%s]: %w", id, err)
	}
	n, err := total(res.Hits.Total)
	if err != nil {
		return false, fmt.Errorf("DatasetExists[%s].%w", id, err)
	}
	if n > 0 {
		log.Logger(ctx).Sugar().Debugf("dedup check: %d datasets found (first: %s)", n, firstID(res))
	}
	return n > 0, nil
}

func firstID(res searchResult) string {
	if len(res.Hits.Hits) == 0 {
		return "NONE"
	}
	return res.Hits.Hits[0].ID
}
