package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	elastic "github.com/elastic/go-elasticsearch/v8"

	"github.com/otrix/occam-agents/internal/config"
	"github.com/otrix/occam-agents/internal/domain"
)

// SearchIndex indexes audit events in Elasticsearch for free-text and
// aggregation queries that the ledger's SQL filter does not cover.
type SearchIndex struct {
	client *elastic.Client
	index  string
}

func NewSearchIndex(cfg config.ElasticsearchConfig) (*SearchIndex, error) {
	client, err := elastic.NewClient(elastic.Config{
		Addresses: cfg.Addresses,
		Username:  cfg.Username,
		Password:  cfg.Password,
	})
	if err != nil {
		return nil, fmt.Errorf("audit: create elasticsearch client: %w", err)
	}
	if _, err := client.Info(); err != nil {
		return nil, fmt.Errorf("audit: connect to elasticsearch: %w", err)
	}
	return &SearchIndex{client: client, index: cfg.Index}, nil
}

// Index is best-effort: a failure here must never fail the append path,
// since the ledger row is the source of truth.
func (s *SearchIndex) Index(ctx context.Context, event *domain.AuditEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("audit: marshal event for index: %w", err)
	}
	res, err := s.client.Index(
		s.index,
		bytes.NewReader(data),
		s.client.Index.WithContext(ctx),
		s.client.Index.WithDocumentID(event.EventID),
	)
	if err != nil {
		return fmt.Errorf("audit: index event: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("audit: elasticsearch index error: %s", res.String())
	}
	return nil
}

// Search runs a free-text query string against the index.
func (s *SearchIndex) Search(ctx context.Context, query string, from, size int) ([]*domain.AuditEvent, error) {
	esQuery := map[string]interface{}{
		"from": from,
		"size": size,
		"query": map[string]interface{}{
			"query_string": map[string]interface{}{"query": query},
		},
		"sort": []map[string]interface{}{{"timestamp": "desc"}},
	}

	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(esQuery); err != nil {
		return nil, fmt.Errorf("audit: encode search query: %w", err)
	}

	res, err := s.client.Search(
		s.client.Search.WithContext(ctx),
		s.client.Search.WithIndex(s.index),
		s.client.Search.WithBody(&buf),
	)
	if err != nil {
		return nil, fmt.Errorf("audit: search request: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return nil, fmt.Errorf("audit: elasticsearch search error: %s", res.String())
	}

	var result map[string]interface{}
	if err := json.NewDecoder(res.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("audit: decode search response: %w", err)
	}

	hitsMap, ok := result["hits"].(map[string]interface{})
	if !ok {
		return nil, nil
	}
	hitsList, ok := hitsMap["hits"].([]interface{})
	if !ok {
		return nil, nil
	}

	var events []*domain.AuditEvent
	for _, hit := range hitsList {
		hitMap, ok := hit.(map[string]interface{})
		if !ok {
			continue
		}
		source, ok := hitMap["_source"].(map[string]interface{})
		if !ok {
			continue
		}
		sourceBytes, err := json.Marshal(source)
		if err != nil {
			continue
		}
		var evt domain.AuditEvent
		if err := json.Unmarshal(sourceBytes, &evt); err == nil {
			events = append(events, &evt)
		}
	}
	return events, nil
}
