package elasticsearch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"

	"github.com/DeafMist/posts-pipeline/internal/models"
)

var (
	// ErrConnection marks an unreachable or misconfigured cluster.
	ErrConnection = errors.New("elasticsearch connection")
	// ErrStore marks a failed delete, insert or query once connected.
	ErrStore = errors.New("elasticsearch store")
)

const (
	defaultPageSize  = 500
	defaultBulkSize  = 500
	scrollKeepAlive  = time.Minute
	avgAggregation   = "avg_view_count"
	viewCountField   = "question.ViewCount"
	titleRegexpField = "question.Title.raw"
)

// Client wraps go-elasticsearch with helpers tailored to the questions index.
type Client struct {
	es        *elasticsearch.Client
	transport *http.Transport
	index     string
	log       *slog.Logger
	pageSize  int
	bulkSize  int
}

// SearchResult bundles hits and total count.
type SearchResult struct {
	Total int64                     `json:"total"`
	Items []models.QuestionDocument `json:"items"`
}

// New instantiates the Elasticsearch client. No request is sent until Ping or
// another call is made.
func New(addr, index string, logger *slog.Logger) (*Client, error) {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	cfg := elasticsearch.Config{
		Addresses: []string{addr},
		Transport: transport,
	}

	es, err := elasticsearch.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: create elasticsearch client: %w", ErrConnection, err)
	}

	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return &Client{
		es:        es,
		transport: transport,
		index:     index,
		log:       logger,
		pageSize:  defaultPageSize,
		bulkSize:  defaultBulkSize,
	}, nil
}

// Close releases pooled connections. It is safe to call more than once.
func (c *Client) Close() {
	c.transport.CloseIdleConnections()
}

// Ping checks if Elasticsearch is available.
func (c *Client) Ping(ctx context.Context) error {
	res, err := c.es.Ping(c.es.Ping.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("%w: ping elasticsearch: %w", ErrConnection, err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("%w: elasticsearch ping failed: %s", ErrConnection, res.Status())
	}

	return nil
}

// Health checks cluster health.
func (c *Client) Health(ctx context.Context) error {
	res, err := c.es.Cluster.Health(c.es.Cluster.Health.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("%w: cluster health: %w", ErrConnection, err)
	}
	defer res.Body.Close()
	if res.StatusCode >= http.StatusBadRequest {
		data, _ := io.ReadAll(res.Body)
		return fmt.Errorf("%w: cluster health bad: %s", ErrConnection, strings.TrimSpace(string(data)))
	}
	return nil
}

var indexMapping = map[string]any{
	"mappings": map[string]any{
		"properties": map[string]any{
			"question": map[string]any{
				"properties": map[string]any{
					"Id":               map[string]any{"type": "keyword"},
					"PostTypeId":       map[string]any{"type": "keyword"},
					"AcceptedAnswerId": map[string]any{"type": "keyword"},
					"CreationDate":     map[string]any{"type": "keyword"},
					"Score":            map[string]any{"type": "keyword"},
					"ViewCount":        map[string]any{"type": "long"},
					"Body":             map[string]any{"type": "text"},
					"OwnerUserId":      map[string]any{"type": "keyword"},
					"LastActivityDate": map[string]any{"type": "keyword"},
					"Title": map[string]any{
						"type": "text",
						"fields": map[string]any{
							"raw": map[string]any{"type": "keyword"},
						},
					},
					"Tags":           map[string]any{"type": "keyword"},
					"AnswerCount":    map[string]any{"type": "keyword"},
					"CommentCount":   map[string]any{"type": "keyword"},
					"ContentLicense": map[string]any{"type": "keyword"},
				},
			},
		},
	},
}

// EnsureIndex creates the index with the questions mapping when it does not exist yet.
func (c *Client) EnsureIndex(ctx context.Context) error {
	res, err := c.es.Indices.Exists([]string{c.index}, c.es.Indices.Exists.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("%w: check index: %w", ErrStore, err)
	}
	res.Body.Close()

	switch res.StatusCode {
	case http.StatusOK:
		return nil
	case http.StatusNotFound:
	default:
		return fmt.Errorf("%w: check index failed: %s", ErrStore, res.Status())
	}

	payload, err := json.Marshal(indexMapping)
	if err != nil {
		return fmt.Errorf("marshal mapping: %w", err)
	}

	res, err = c.es.Indices.Create(
		c.index,
		c.es.Indices.Create.WithContext(ctx),
		c.es.Indices.Create.WithBody(bytes.NewReader(payload)),
	)
	if err != nil {
		return fmt.Errorf("%w: create index: %w", ErrStore, err)
	}
	defer res.Body.Close()

	if res.IsError() {
		data, _ := io.ReadAll(res.Body)
		// Another writer created it between the two calls.
		if strings.Contains(string(data), "resource_already_exists_exception") {
			return nil
		}
		return fmt.Errorf("%w: create index failed: %s", ErrStore, strings.TrimSpace(string(data)))
	}

	c.log.Info("index created", slog.String("index", c.index))
	return nil
}

// DeleteAll removes every document from the index and returns how many were deleted.
func (c *Client) DeleteAll(ctx context.Context) (int64, error) {
	payload, err := json.Marshal(map[string]any{
		"query": map[string]any{"match_all": map[string]any{}},
	})
	if err != nil {
		return 0, fmt.Errorf("marshal delete body: %w", err)
	}

	res, err := c.es.DeleteByQuery(
		[]string{c.index},
		bytes.NewReader(payload),
		c.es.DeleteByQuery.WithContext(ctx),
		c.es.DeleteByQuery.WithWaitForCompletion(true),
		c.es.DeleteByQuery.WithConflicts("proceed"),
		c.es.DeleteByQuery.WithRefresh(true),
	)
	if err != nil {
		return 0, fmt.Errorf("%w: delete by query: %w", ErrStore, err)
	}
	defer res.Body.Close()

	if res.IsError() {
		data, _ := io.ReadAll(res.Body)
		return 0, fmt.Errorf("%w: delete by query failed: %s", ErrStore, strings.TrimSpace(string(data)))
	}

	var parsed struct {
		Deleted int64 `json:"deleted"`
	}
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return 0, fmt.Errorf("%w: decode delete response: %w", ErrStore, err)
	}

	return parsed.Deleted, nil
}

// InsertMany bulk-indexes docs in batches and returns the number of documents
// the cluster accepted. Document ids are assigned by the cluster, so duplicate
// question Ids are stored twice. A failure midway leaves earlier batches in place.
func (c *Client) InsertMany(ctx context.Context, docs []models.QuestionDocument) (int, error) {
	inserted := 0
	for start := 0; start < len(docs); start += c.bulkSize {
		end := min(start+c.bulkSize, len(docs))
		n, err := c.bulk(ctx, docs[start:end])
		inserted += n
		if err != nil {
			return inserted, err
		}
	}
	return inserted, nil
}

func (c *Client) bulk(ctx context.Context, docs []models.QuestionDocument) (int, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	meta := map[string]any{"create": map[string]any{}}
	for _, doc := range docs {
		if err := enc.Encode(meta); err != nil {
			return 0, fmt.Errorf("marshal bulk meta: %w", err)
		}
		if err := enc.Encode(doc); err != nil {
			return 0, fmt.Errorf("marshal doc: %w", err)
		}
	}

	res, err := c.es.Bulk(
		bytes.NewReader(buf.Bytes()),
		c.es.Bulk.WithContext(ctx),
		c.es.Bulk.WithIndex(c.index),
		c.es.Bulk.WithRefresh("true"),
	)
	if err != nil {
		return 0, fmt.Errorf("%w: bulk insert: %w", ErrStore, err)
	}
	defer res.Body.Close()

	if res.IsError() {
		data, _ := io.ReadAll(res.Body)
		return 0, fmt.Errorf("%w: bulk insert failed: %s", ErrStore, strings.TrimSpace(string(data)))
	}

	var parsed struct {
		Errors bool `json:"errors"`
		Items  []map[string]struct {
			ID     string `json:"_id"`
			Status int    `json:"status"`
			Error  *struct {
				Type   string `json:"type"`
				Reason string `json:"reason"`
			} `json:"error"`
		} `json:"items"`
	}
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return 0, fmt.Errorf("%w: decode bulk response: %w", ErrStore, err)
	}

	inserted := 0
	var firstFailure string
	failed := 0
	for _, item := range parsed.Items {
		for _, result := range item {
			if result.Status >= 200 && result.Status < 300 && result.Error == nil {
				inserted++
				continue
			}
			failed++
			if firstFailure == "" && result.Error != nil {
				firstFailure = fmt.Sprintf("%s: %s (id %s)", result.Error.Type, result.Error.Reason, result.ID)
			}
		}
	}

	if failed > 0 {
		return inserted, fmt.Errorf("%w: bulk insert: %d of %d documents rejected: %s", ErrStore, failed, len(docs), firstFailure)
	}
	return inserted, nil
}

// ReplaceAll clears the index and inserts docs, returning the inserted count.
// The two steps are sequential, not transactional.
func (c *Client) ReplaceAll(ctx context.Context, docs []models.QuestionDocument) (int, error) {
	if err := c.EnsureIndex(ctx); err != nil {
		return 0, err
	}

	deleted, err := c.DeleteAll(ctx)
	if err != nil {
		return 0, err
	}
	c.log.Info("existing documents deleted", slog.Int64("deleted", deleted))

	if len(docs) == 0 {
		return 0, nil
	}

	return c.InsertMany(ctx, docs)
}

// AverageViewCount returns the mean view count over every stored question, or
// 0 when the index holds none.
func (c *Client) AverageViewCount(ctx context.Context) (float64, error) {
	body := map[string]any{
		"size": 0,
		"aggs": map[string]any{
			avgAggregation: map[string]any{
				"avg": map[string]any{"field": viewCountField},
			},
		},
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return 0, fmt.Errorf("marshal aggregation body: %w", err)
	}

	res, err := c.es.Search(
		c.es.Search.WithContext(ctx),
		c.es.Search.WithIndex(c.index),
		c.es.Search.WithBody(bytes.NewReader(payload)),
	)
	if err != nil {
		return 0, fmt.Errorf("%w: aggregate: %w", ErrStore, err)
	}
	defer res.Body.Close()

	if res.IsError() {
		data, _ := io.ReadAll(res.Body)
		return 0, fmt.Errorf("%w: aggregate failed: %s", ErrStore, strings.TrimSpace(string(data)))
	}

	var parsed struct {
		Aggregations map[string]struct {
			Value *float64 `json:"value"`
		} `json:"aggregations"`
	}
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return 0, fmt.Errorf("%w: decode aggregation response: %w", ErrStore, err)
	}

	agg, ok := parsed.Aggregations[avgAggregation]
	if !ok || agg.Value == nil {
		return 0, nil
	}
	return *agg.Value, nil
}

// ViewCountAbove returns every question whose view count is strictly greater than threshold.
func (c *Client) ViewCountAbove(ctx context.Context, threshold float64) ([]models.QuestionDocument, error) {
	return c.collect(ctx, viewCountAboveQuery(threshold))
}

// TitleMatches returns every question whose title contains any of keywords,
// ignoring case.
func (c *Client) TitleMatches(ctx context.Context, keywords []string) ([]models.QuestionDocument, error) {
	return c.collect(ctx, titleMatchesQuery(keywords))
}

// SearchViewCountAbove is the paginated form of ViewCountAbove, most viewed first.
func (c *Client) SearchViewCountAbove(ctx context.Context, threshold float64, from, size int) (*SearchResult, error) {
	return c.search(ctx, viewCountAboveQuery(threshold), from, size)
}

// SearchTitleMatches is the paginated form of TitleMatches, most viewed first.
func (c *Client) SearchTitleMatches(ctx context.Context, keywords []string, from, size int) (*SearchResult, error) {
	return c.search(ctx, titleMatchesQuery(keywords), from, size)
}

func viewCountAboveQuery(threshold float64) map[string]any {
	return map[string]any{
		"range": map[string]any{
			viewCountField: map[string]any{"gt": threshold},
		},
	}
}

func titleMatchesQuery(keywords []string) map[string]any {
	return map[string]any{
		"regexp": map[string]any{
			titleRegexpField: map[string]any{
				"value":            KeywordPattern(keywords),
				"flags":            "NONE",
				"case_insensitive": true,
			},
		},
	}
}

// KeywordPattern builds an unanchored Lucene regular expression matching any of
// keywords. Lucene regexps always match the whole term, hence the .* padding.
func KeywordPattern(keywords []string) string {
	escaped := make([]string, 0, len(keywords))
	for _, kw := range keywords {
		if kw == "" {
			continue
		}
		escaped = append(escaped, escapeLucene(kw))
	}
	return ".*(" + strings.Join(escaped, "|") + ").*"
}

func escapeLucene(s string) string {
	var b strings.Builder
	for _, r := range s {
		if strings.ContainsRune(`.?+*|{}[]()"\#@&<>~`, r) {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

type hitsResponse struct {
	ScrollID string `json:"_scroll_id"`
	Hits     struct {
		Total struct {
			Value int64 `json:"value"`
		} `json:"total"`
		Hits []struct {
			Source models.QuestionDocument `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
}

func (r *hitsResponse) documents() []models.QuestionDocument {
	items := make([]models.QuestionDocument, 0, len(r.Hits.Hits))
	for _, hit := range r.Hits.Hits {
		items = append(items, hit.Source)
	}
	return items
}

func decodeHits(res *esapi.Response, op string) (*hitsResponse, error) {
	if res.IsError() {
		data, _ := io.ReadAll(res.Body)
		return nil, fmt.Errorf("%w: %s failed: %s", ErrStore, op, strings.TrimSpace(string(data)))
	}

	var parsed hitsResponse
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("%w: decode %s response: %w", ErrStore, op, err)
	}
	return &parsed, nil
}

func (c *Client) search(ctx context.Context, query map[string]any, from, size int) (*SearchResult, error) {
	if size <= 0 {
		size = 20
	}
	if from < 0 {
		from = 0
	}

	payload, err := json.Marshal(map[string]any{
		"from":             from,
		"size":             size,
		"track_total_hits": true,
		"query":            query,
		"sort": []map[string]any{
			{viewCountField: map[string]any{"order": "desc"}},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("marshal search body: %w", err)
	}

	res, err := c.es.Search(
		c.es.Search.WithContext(ctx),
		c.es.Search.WithIndex(c.index),
		c.es.Search.WithBody(bytes.NewReader(payload)),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: search: %w", ErrStore, err)
	}
	defer res.Body.Close()

	parsed, err := decodeHits(res, "search")
	if err != nil {
		return nil, err
	}

	return &SearchResult{
		Total: parsed.Hits.Total.Value,
		Items: parsed.documents(),
	}, nil
}

// collect scrolls through every hit of query in index order.
func (c *Client) collect(ctx context.Context, query map[string]any) ([]models.QuestionDocument, error) {
	payload, err := json.Marshal(map[string]any{"query": query})
	if err != nil {
		return nil, fmt.Errorf("marshal search body: %w", err)
	}

	res, err := c.es.Search(
		c.es.Search.WithContext(ctx),
		c.es.Search.WithIndex(c.index),
		c.es.Search.WithBody(bytes.NewReader(payload)),
		c.es.Search.WithScroll(scrollKeepAlive),
		c.es.Search.WithSize(c.pageSize),
		c.es.Search.WithSort("_doc"),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: search: %w", ErrStore, err)
	}
	page, err := decodeHits(res, "search")
	res.Body.Close()
	if err != nil {
		return nil, err
	}

	docs := page.documents()
	scrollID := page.ScrollID
	defer func() { c.clearScroll(scrollID) }()

	for len(page.Hits.Hits) >= c.pageSize && scrollID != "" {
		res, err := c.es.Scroll(
			c.es.Scroll.WithContext(ctx),
			c.es.Scroll.WithScrollID(scrollID),
			c.es.Scroll.WithScroll(scrollKeepAlive),
		)
		if err != nil {
			return nil, fmt.Errorf("%w: scroll: %w", ErrStore, err)
		}
		page, err = decodeHits(res, "scroll")
		res.Body.Close()
		if err != nil {
			return nil, err
		}

		if page.ScrollID != "" {
			scrollID = page.ScrollID
		}
		docs = append(docs, page.documents()...)
	}

	return docs, nil
}

func (c *Client) clearScroll(scrollID string) {
	if scrollID == "" {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	res, err := c.es.ClearScroll(
		c.es.ClearScroll.WithContext(ctx),
		c.es.ClearScroll.WithScrollID(scrollID),
	)
	if err != nil {
		c.log.Warn("clear scroll", slog.Any("err", err))
		return
	}
	res.Body.Close()
}
