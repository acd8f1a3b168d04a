package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/DeafMist/posts-pipeline/internal/events"
	"github.com/DeafMist/posts-pipeline/internal/models"
)

// Report headings.
const (
	AboveAverageTitle = "Report 1 - Questions with a ViewCount above the average"
	KeywordsTitle     = "Report 2 - Questions with specific words in the title"
)

// AboveAverage returns the mean view count and every question viewed more often than it.
func AboveAverage(ctx context.Context, q Queries) (float64, []models.QuestionDocument, error) {
	mean, err := q.AverageViewCount(ctx)
	if err != nil {
		return 0, nil, fmt.Errorf("average view count: %w", err)
	}

	docs, err := q.ViewCountAbove(ctx, mean)
	if err != nil {
		return mean, nil, fmt.Errorf("questions above average: %w", err)
	}
	return mean, docs, nil
}

// KeywordMatches returns every question whose title contains one of keywords.
func KeywordMatches(ctx context.Context, q Queries, keywords []string) ([]models.QuestionDocument, error) {
	docs, err := q.TitleMatches(ctx, keywords)
	if err != nil {
		return nil, fmt.Errorf("questions matching keywords: %w", err)
	}
	return docs, nil
}

// Reporter runs both queries and writes one report per query. A failing
// report does not prevent the other from being written.
type Reporter struct {
	Store            QueryStore
	Writer           ReportWriter
	Events           events.Publisher
	Log              *slog.Logger
	Keywords         []string
	AboveAveragePath string
	KeywordsPath     string
	RunID            string
}

// Run produces both reports. The returned error joins every report failure.
func (r *Reporter) Run(ctx context.Context) error {
	log := orDiscard(r.Log).With(slog.String("run_id", r.RunID))

	defer func() {
		r.Store.Close()
		log.Info("store connection closed")
	}()

	if err := r.Store.Ping(ctx); err != nil {
		log.Error("connect to store", slog.Any("err", err))
		return err
	}
	log.Info("connected to store")

	var errs []error
	if err := r.aboveAverage(ctx, log); err != nil {
		log.Error("above-average report", slog.Any("err", err))
		errs = append(errs, err)
	}
	if err := r.keywords(ctx, log); err != nil {
		log.Error("keyword report", slog.Any("err", err))
		errs = append(errs, err)
	}

	if len(errs) == 0 {
		log.Info("reports written",
			slog.String("above_average", r.AboveAveragePath),
			slog.String("keywords", r.KeywordsPath),
		)
	}
	return errors.Join(errs...)
}

func (r *Reporter) aboveAverage(ctx context.Context, log *slog.Logger) error {
	mean, docs, err := AboveAverage(ctx, r.Store)
	if err != nil {
		return err
	}
	log.Info("average view count", slog.String("mean", fmt.Sprintf("%.2f", mean)))
	log.Info("questions above average", slog.Int("count", len(docs)))

	return r.write(ctx, log, r.AboveAveragePath, AboveAverageTitle, docs)
}

func (r *Reporter) keywords(ctx context.Context, log *slog.Logger) error {
	docs, err := KeywordMatches(ctx, r.Store, r.Keywords)
	if err != nil {
		return err
	}
	log.Info("questions with keywords in title", slog.Int("count", len(docs)))

	return r.write(ctx, log, r.KeywordsPath, KeywordsTitle, docs)
}

func (r *Reporter) write(ctx context.Context, log *slog.Logger, path, title string, docs []models.QuestionDocument) error {
	titles := models.Titles(docs)
	if err := r.Writer.WriteFile(path, title, titles); err != nil {
		return err
	}

	ev := events.Event{
		RunID:  r.RunID,
		Kind:   events.KindReportWritten,
		Report: title,
		Path:   path,
		Items:  len(titles),
	}
	if err := orNop(r.Events).Publish(ctx, ev); err != nil {
		log.Warn("publish report event", slog.Any("err", err))
	}
	return nil
}
