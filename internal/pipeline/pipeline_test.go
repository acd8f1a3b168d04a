package pipeline_test

import (
	"context"
	"errors"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/DeafMist/posts-pipeline/internal/elasticsearch"
	"github.com/DeafMist/posts-pipeline/internal/events"
	"github.com/DeafMist/posts-pipeline/internal/models"
	"github.com/DeafMist/posts-pipeline/internal/pipeline"
	"github.com/DeafMist/posts-pipeline/internal/processing"
	"github.com/DeafMist/posts-pipeline/internal/report"
)

var keywords = []string{"pug", "wig", "yak", "nap", "jig", "mug", "zap", "gag", "oaf", "elf"}

// memStore keeps documents in insertion order and evaluates queries in memory.
type memStore struct {
	docs       []models.QuestionDocument
	pingErr    error
	replaceErr error
	queryErr   error
	pings      int
	replaces   int
	closes     int
}

func (m *memStore) Ping(context.Context) error {
	m.pings++
	return m.pingErr
}

func (m *memStore) Close() { m.closes++ }

func (m *memStore) ReplaceAll(_ context.Context, docs []models.QuestionDocument) (int, error) {
	m.replaces++
	if m.replaceErr != nil {
		return 0, m.replaceErr
	}
	m.docs = append([]models.QuestionDocument(nil), docs...)
	return len(docs), nil
}

func (m *memStore) AverageViewCount(context.Context) (float64, error) {
	if m.queryErr != nil {
		return 0, m.queryErr
	}
	if len(m.docs) == 0 {
		return 0, nil
	}
	var sum int64
	for _, doc := range m.docs {
		sum += doc.Question.ViewCount
	}
	return float64(sum) / float64(len(m.docs)), nil
}

func (m *memStore) ViewCountAbove(_ context.Context, threshold float64) ([]models.QuestionDocument, error) {
	if m.queryErr != nil {
		return nil, m.queryErr
	}
	var out []models.QuestionDocument
	for _, doc := range m.docs {
		if float64(doc.Question.ViewCount) > threshold {
			out = append(out, doc)
		}
	}
	return out, nil
}

func (m *memStore) TitleMatches(_ context.Context, kws []string) ([]models.QuestionDocument, error) {
	if m.queryErr != nil {
		return nil, m.queryErr
	}
	quoted := make([]string, 0, len(kws))
	for _, kw := range kws {
		quoted = append(quoted, regexp.QuoteMeta(kw))
	}
	re := regexp.MustCompile("(?i)" + strings.Join(quoted, "|"))

	var out []models.QuestionDocument
	for _, doc := range m.docs {
		if re.MatchString(doc.Question.Title) {
			out = append(out, doc)
		}
	}
	return out, nil
}

type writtenReport struct {
	path  string
	title string
	items []string
}

type stubWriter struct {
	reports []writtenReport
	failOn  string
}

func (s *stubWriter) WriteFile(path, title string, items []string) error {
	if path == s.failOn {
		return report.ErrIO
	}
	s.reports = append(s.reports, writtenReport{path: path, title: title, items: items})
	return nil
}

func (s *stubWriter) byPath(path string) *writtenReport {
	for i := range s.reports {
		if s.reports[i].path == path {
			return &s.reports[i]
		}
	}
	return nil
}

type stubPublisher struct {
	events []events.Event
	err    error
}

func (s *stubPublisher) Publish(_ context.Context, ev events.Event) error {
	s.events = append(s.events, ev)
	return s.err
}

func (s *stubPublisher) Close() error { return nil }

func question(title string, views int64) models.QuestionDocument {
	return models.QuestionDocument{Question: models.Question{Title: title, ViewCount: views}}
}

func newReporter(store *memStore, w *stubWriter) *pipeline.Reporter {
	return &pipeline.Reporter{
		Store:            store,
		Writer:           w,
		Keywords:         keywords,
		AboveAveragePath: "out/informe1.pdf",
		KeywordsPath:     "out/informe2.pdf",
		RunID:            "run-1",
	}
}

func TestEndToEnd(t *testing.T) {
	store := &memStore{}
	pub := &stubPublisher{}
	ing := &pipeline.Ingester{Store: store, Events: pub, Threshold: processing.DefaultViewCountThreshold, RunID: "run-1"}

	res, err := ing.Run(context.Background(), filepath.Join("testdata", "posts.xml"))
	require.NoError(t, err)
	require.Equal(t, pipeline.IngestResult{Parsed: 3, Kept: 2, Inserted: 2}, res)
	require.Len(t, store.docs, 2)
	require.Equal(t, 1, store.closes)

	mean, above, err := pipeline.AboveAverage(context.Background(), store)
	require.NoError(t, err)
	require.InDelta(t, 35500.0, mean, 0.0001)
	require.Equal(t, []string{"Mug Life"}, models.Titles(above))

	w := &stubWriter{}
	rep := newReporter(store, w)
	rep.Events = pub
	require.NoError(t, rep.Run(context.Background()))

	first := w.byPath("out/informe1.pdf")
	require.NotNil(t, first)
	require.Equal(t, pipeline.AboveAverageTitle, first.title)
	require.Equal(t, []string{"Mug Life"}, first.items)

	second := w.byPath("out/informe2.pdf")
	require.NotNil(t, second)
	require.Equal(t, pipeline.KeywordsTitle, second.title)
	require.Equal(t, []string{"Yak Tales", "Mug Life"}, second.items)

	require.Len(t, pub.events, 3)
	require.Equal(t, events.KindIngestCompleted, pub.events[0].Kind)
	require.Equal(t, 2, pub.events[0].Inserted)
	require.Equal(t, events.KindReportWritten, pub.events[1].Kind)
	require.Equal(t, 1, pub.events[1].Items)
	require.Equal(t, 2, pub.events[2].Items)
}

func TestIngestTwiceKeepsSameSize(t *testing.T) {
	store := &memStore{}
	ing := &pipeline.Ingester{Store: store, Threshold: 20000}
	path := filepath.Join("testdata", "posts.xml")

	_, err := ing.Run(context.Background(), path)
	require.NoError(t, err)
	first := len(store.docs)

	_, err = ing.Run(context.Background(), path)
	require.NoError(t, err)
	require.Equal(t, first, len(store.docs))
	require.Equal(t, 2, store.replaces)
}

func TestIngestParseErrorLeavesStoreUntouched(t *testing.T) {
	store := &memStore{docs: []models.QuestionDocument{question("old", 99999)}}
	ing := &pipeline.Ingester{Store: store, Threshold: 20000}

	_, err := ing.Run(context.Background(), filepath.Join("testdata", "missing.xml"))
	require.ErrorIs(t, err, processing.ErrParse)
	require.Zero(t, store.pings)
	require.Zero(t, store.replaces)
	require.Len(t, store.docs, 1)
	require.Equal(t, 1, store.closes)
}

func TestIngestConnectionErrorDoesNotDelete(t *testing.T) {
	store := &memStore{
		docs:    []models.QuestionDocument{question("old", 99999)},
		pingErr: elasticsearch.ErrConnection,
	}
	pub := &stubPublisher{}
	ing := &pipeline.Ingester{Store: store, Events: pub, Threshold: 20000}

	_, err := ing.Run(context.Background(), filepath.Join("testdata", "posts.xml"))
	require.ErrorIs(t, err, elasticsearch.ErrConnection)
	require.Zero(t, store.replaces)
	require.Len(t, store.docs, 1)
	require.Equal(t, 1, store.closes)
	require.Empty(t, pub.events)
}

func TestIngestStoreErrorReleasesConnection(t *testing.T) {
	store := &memStore{replaceErr: elasticsearch.ErrStore}
	ing := &pipeline.Ingester{Store: store, Threshold: 20000}

	_, err := ing.Run(context.Background(), filepath.Join("testdata", "posts.xml"))
	require.ErrorIs(t, err, elasticsearch.ErrStore)
	require.Equal(t, 1, store.closes)
}

func TestIngestPublishFailureIsNotFatal(t *testing.T) {
	store := &memStore{}
	pub := &stubPublisher{err: errors.New("broker down")}
	ing := &pipeline.Ingester{Store: store, Events: pub, Threshold: 20000}

	res, err := ing.Run(context.Background(), filepath.Join("testdata", "posts.xml"))
	require.NoError(t, err)
	require.Equal(t, 2, res.Inserted)
}

func TestAboveAverage(t *testing.T) {
	store := &memStore{docs: []models.QuestionDocument{question("ten", 10), question("twenty", 20), question("thirty", 30)}}

	mean, docs, err := pipeline.AboveAverage(context.Background(), store)
	require.NoError(t, err)
	require.InDelta(t, 20.0, mean, 0.0001)
	require.Equal(t, []string{"thirty"}, models.Titles(docs))
}

func TestAboveAverageEmptyCollection(t *testing.T) {
	mean, docs, err := pipeline.AboveAverage(context.Background(), &memStore{})
	require.NoError(t, err)
	require.Zero(t, mean)
	require.Empty(t, docs)
}

func TestKeywordMatches(t *testing.T) {
	store := &memStore{docs: []models.QuestionDocument{
		question("The Yak and the Elf", 1),
		question("The Dog", 1),
		question("MUGGLE studies", 1),
	}}

	docs, err := pipeline.KeywordMatches(context.Background(), store, keywords)
	require.NoError(t, err)
	require.Equal(t, []string{"The Yak and the Elf", "MUGGLE studies"}, models.Titles(docs))

	none, err := pipeline.KeywordMatches(context.Background(), &memStore{}, keywords)
	require.NoError(t, err)
	require.Empty(t, none)
}

func TestReportEmptyCollectionStillWritesBoth(t *testing.T) {
	w := &stubWriter{}
	require.NoError(t, newReporter(&memStore{}, w).Run(context.Background()))

	require.Len(t, w.reports, 2)
	for _, r := range w.reports {
		require.Empty(t, r.items)
	}
}

func TestReportFailureDoesNotStopOtherReport(t *testing.T) {
	store := &memStore{docs: []models.QuestionDocument{question("Yak", 30000), question("Dog", 10000)}}
	w := &stubWriter{failOn: "out/informe1.pdf"}

	err := newReporter(store, w).Run(context.Background())
	require.ErrorIs(t, err, report.ErrIO)
	require.Nil(t, w.byPath("out/informe1.pdf"))

	second := w.byPath("out/informe2.pdf")
	require.NotNil(t, second)
	require.Equal(t, []string{"Yak"}, second.items)
}

func TestReportConnectionError(t *testing.T) {
	store := &memStore{pingErr: elasticsearch.ErrConnection}
	w := &stubWriter{}

	err := newReporter(store, w).Run(context.Background())
	require.ErrorIs(t, err, elasticsearch.ErrConnection)
	require.Empty(t, w.reports)
	require.Equal(t, 1, store.closes)
}

func TestReportQueryErrorsAreJoined(t *testing.T) {
	store := &memStore{queryErr: elasticsearch.ErrStore}
	w := &stubWriter{}

	err := newReporter(store, w).Run(context.Background())
	require.ErrorIs(t, err, elasticsearch.ErrStore)
	require.Empty(t, w.reports)
	require.Equal(t, 2, strings.Count(err.Error(), "elasticsearch store"))
}
