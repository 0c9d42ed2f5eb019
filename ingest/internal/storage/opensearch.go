package storage

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/opensearch-project/opensearch-go/v2"
	"github.com/opensearch-project/opensearch-go/v2/opensearchapi"

	"github.com/lightwatch/lightwatch/common/models"
)

// OpenSearchConfig holds OpenSearch connection and index settings.
type OpenSearchConfig struct {
	URL             string `mapstructure:"url"`
	Username        string `mapstructure:"username"`
	Password        string `mapstructure:"password"`
	TLSSkipVerify   bool   `mapstructure:"tls_skip_verify"`
	IndexPrefix     string `mapstructure:"index_prefix"`
	ShardCount      int    `mapstructure:"shard_count"`
	ReplicaCount    int    `mapstructure:"replica_count"`
	RefreshInterval string `mapstructure:"refresh_interval"`
}

// DefaultOpenSearchConfig returns defaults for a single-node development cluster.
func DefaultOpenSearchConfig() OpenSearchConfig {
	return OpenSearchConfig{
		URL:             "https://localhost:9200",
		Username:        "admin",
		Password:        "admin",
		TLSSkipVerify:   true,
		IndexPrefix:     "lightwatch",
		ShardCount:      1,
		ReplicaCount:    0,
		RefreshInterval: "5s",
	}
}

// OpenSearchStore maps each collection to the index "<prefix>-<collection>".
type OpenSearchStore struct {
	client *opensearch.Client
	config OpenSearchConfig
}

// NewOpenSearchStore creates a client. Nothing is sent until Initialize or a write.
func NewOpenSearchStore(cfg OpenSearchConfig) (*OpenSearchStore, error) {
	transport := &http.Transport{
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: cfg.TLSSkipVerify,
		},
	}

	client, err := opensearch.NewClient(opensearch.Config{
		Addresses: []string{cfg.URL},
		Username:  cfg.Username,
		Password:  cfg.Password,
		Transport: transport,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create opensearch client: %w", err)
	}

	return &OpenSearchStore{client: client, config: cfg}, nil
}

// Index returns the index backing collection.
func (s *OpenSearchStore) Index(collection string) string {
	return s.config.IndexPrefix + "-" + collection
}

// Initialize verifies the connection and installs the index template.
func (s *OpenSearchStore) Initialize(ctx context.Context) error {
	if err := s.Ping(ctx); err != nil {
		return err
	}
	if err := s.putIndexTemplate(ctx); err != nil {
		return fmt.Errorf("failed to create index template: %w", err)
	}
	return nil
}

// InsertOne indexes doc, using its event_id as the document ID when present.
func (s *OpenSearchStore) InsertOne(ctx context.Context, collection string, doc map[string]any) error {
	body, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal document: %w", err)
	}

	req := opensearchapi.IndexRequest{
		Index: s.Index(collection),
		Body:  bytes.NewReader(body),
	}
	if id, ok := doc[models.KeyEventID].(string); ok && id != "" {
		req.DocumentID = id
		req.OpType = "create"
	}

	return s.do(ctx, req, "index into "+req.Index)
}

// UpsertOne uses the key value as the document ID so repeated heartbeats
// update one document.
func (s *OpenSearchStore) UpsertOne(ctx context.Context, collection, keyField, keyValue string, set, onInsert map[string]any) error {
	upsert := make(map[string]any, len(set)+len(onInsert)+1)
	for k, v := range onInsert {
		upsert[k] = v
	}
	for k, v := range set {
		upsert[k] = v
	}
	upsert[keyField] = keyValue

	body, err := json.Marshal(map[string]any{
		"doc":    set,
		"upsert": upsert,
	})
	if err != nil {
		return fmt.Errorf("marshal upsert: %w", err)
	}

	req := opensearchapi.UpdateRequest{
		Index:      s.Index(collection),
		DocumentID: keyValue,
		Body:       bytes.NewReader(body),
	}
	retries := 3
	req.RetryOnConflict = &retries

	return s.do(ctx, req, "upsert into "+req.Index)
}

// Find translates q into a bool filter query. Missing indexes read as empty.
func (s *OpenSearchStore) Find(ctx context.Context, collection string, q Query) (Page, error) {
	body, err := json.Marshal(searchBody(q))
	if err != nil {
		return Page{}, fmt.Errorf("marshal search: %w", err)
	}

	ignoreUnavailable := true
	res, err := opensearchapi.SearchRequest{
		Index:             []string{s.Index(collection)},
		Body:              bytes.NewReader(body),
		IgnoreUnavailable: &ignoreUnavailable,
	}.Do(ctx, s.client)
	if err != nil {
		return Page{}, fmt.Errorf("search %s: %w", collection, err)
	}
	defer res.Body.Close()

	if res.StatusCode == http.StatusNotFound {
		return Page{Docs: []map[string]any{}}, nil
	}
	if res.IsError() {
		b, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return Page{}, fmt.Errorf("search %s: %s - %s", collection, res.Status(), strings.TrimSpace(string(b)))
	}

	var parsed struct {
		Hits struct {
			Total struct {
				Value int64 `json:"value"`
			} `json:"total"`
			Hits []struct {
				Source map[string]any `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return Page{}, fmt.Errorf("decode search response: %w", err)
	}

	page := Page{Total: parsed.Hits.Total.Value, Docs: make([]map[string]any, 0, len(parsed.Hits.Hits))}
	for _, hit := range parsed.Hits.Hits {
		page.Docs = append(page.Docs, hit.Source)
	}
	return page, nil
}

func searchBody(q Query) map[string]any {
	var filters []map[string]any
	for field, v := range q.Equals {
		filters = append(filters, map[string]any{"term": map[string]any{field: v}})
	}
	for field, v := range q.Contains {
		filters = append(filters, map[string]any{"wildcard": map[string]any{
			field: map[string]any{"value": "*" + escapeWildcard(v) + "*", "case_insensitive": true},
		}})
	}
	if q.TimeField != "" && (!q.From.IsZero() || !q.To.IsZero()) {
		bounds := map[string]any{}
		if !q.From.IsZero() {
			bounds["gte"] = models.FormatTime(q.From)
		}
		if !q.To.IsZero() {
			bounds["lte"] = models.FormatTime(q.To)
		}
		filters = append(filters, map[string]any{"range": map[string]any{q.TimeField: bounds}})
	}

	body := map[string]any{
		"from":             q.skip(),
		"size":             q.limit(),
		"track_total_hits": true,
		"query":            map[string]any{"match_all": map[string]any{}},
	}
	if len(filters) > 0 {
		body["query"] = map[string]any{"bool": map[string]any{"filter": filters}}
	}
	if q.SortField != "" {
		body["sort"] = []map[string]any{
			{q.SortField: map[string]any{"order": "desc", "unmapped_type": "date"}},
		}
	}
	return body
}

var wildcardEscaper = strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`)

func escapeWildcard(s string) string {
	return wildcardEscaper.Replace(s)
}

func (s *OpenSearchStore) Ping(ctx context.Context) error {
	res, err := opensearchapi.InfoRequest{}.Do(ctx, s.client)
	if err != nil {
		return fmt.Errorf("failed to connect to opensearch: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("opensearch returned error: %s", res.Status())
	}
	return nil
}

// Close is a no-op; the HTTP transport has nothing to release.
func (s *OpenSearchStore) Close(context.Context) error {
	return nil
}

type osRequest interface {
	Do(ctx context.Context, transport opensearchapi.Transport) (*opensearchapi.Response, error)
}

func (s *OpenSearchStore) do(ctx context.Context, req osRequest, what string) error {
	res, err := req.Do(ctx, s.client)
	if err != nil {
		return fmt.Errorf("%s: %w", what, err)
	}
	defer res.Body.Close()

	if res.IsError() {
		b, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return fmt.Errorf("%s: %s - %s", what, res.Status(), strings.TrimSpace(string(b)))
	}
	return nil
}

func (s *OpenSearchStore) putIndexTemplate(ctx context.Context) error {
	template := map[string]any{
		"index_patterns": []string{s.config.IndexPrefix + "-*"},
		"template": map[string]any{
			"settings": map[string]any{
				"number_of_shards":   s.config.ShardCount,
				"number_of_replicas": s.config.ReplicaCount,
				"refresh_interval":   s.config.RefreshInterval,
			},
			"mappings": eventMappings(),
		},
		"priority": 100,
	}

	body, err := json.Marshal(template)
	if err != nil {
		return err
	}

	return s.do(ctx, opensearchapi.IndicesPutIndexTemplateRequest{
		Name: s.config.IndexPrefix + "-template",
		Body: bytes.NewReader(body),
	}, "put index template")
}

func eventMappings() map[string]any {
	keyword := map[string]any{"type": "keyword"}
	date := map[string]any{"type": "date"}
	return map[string]any{
		"dynamic": true,
		"dynamic_templates": []map[string]any{
			{
				"strings_as_keywords": map[string]any{
					"match_mapping_type": "string",
					"mapping": map[string]any{
						"type": "text",
						"fields": map[string]any{
							"keyword": map[string]any{"type": "keyword", "ignore_above": 256},
						},
					},
				},
			},
		},
		"properties": map[string]any{
			models.KeyEventID:       keyword,
			models.KeyTraceID:       keyword,
			models.KeyService:       keyword,
			models.KeySchemaVersion: map[string]any{"type": "integer"},
			models.KeyTimestamp:     date,
			models.KeyReceivedAt:    date,
			"level":                 keyword,
			"type":                  keyword,
			"severity":              keyword,
			"status":                keyword,
			"name":                  keyword,
			"source_ip":             map[string]any{"type": "ip", "ignore_malformed": true},
			"value":                 map[string]any{"type": "double"},
			"message":               map[string]any{"type": "text"},
			"last_heartbeat":        date,
			"created_at":            date,
			"triggered_at":          date,
			"meta":                  map[string]any{"type": "object", "enabled": false},
		},
	}
}

var (
	_ DocumentStore = (*OpenSearchStore)(nil)
	_ Finder        = (*OpenSearchStore)(nil)
)
