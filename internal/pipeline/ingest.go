package pipeline

import (
	"context"
	"log/slog"

	"github.com/DeafMist/posts-pipeline/internal/events"
	"github.com/DeafMist/posts-pipeline/internal/processing"
)

// IngestResult counts what one ingestion run did.
type IngestResult struct {
	Parsed   int
	Kept     int
	Inserted int
}

// Ingester loads a posts export into the store, replacing previous contents.
type Ingester struct {
	Store     Loader
	Events    events.Publisher
	Log       *slog.Logger
	Threshold int64
	RunID     string
}

// Run parses path, keeps posts above the view-count threshold and replaces the
// stored questions with them. Nothing is deleted when parsing or connecting fails.
func (in *Ingester) Run(ctx context.Context, path string) (IngestResult, error) {
	log := orDiscard(in.Log).With(slog.String("run_id", in.RunID))
	var res IngestResult

	defer func() {
		in.Store.Close()
		log.Info("store connection closed")
	}()

	log.Info("reading posts export", slog.String("path", path))
	posts, err := processing.ParseFile(path)
	if err != nil {
		log.Error("read posts export", slog.Any("err", err))
		return res, err
	}
	res.Parsed = len(posts)

	log.Info("processing posts", slog.Int("parsed", res.Parsed), slog.Int64("threshold", in.Threshold))
	docs := processing.FilterPosts(posts, in.Threshold)
	res.Kept = len(docs)

	if err := in.Store.Ping(ctx); err != nil {
		log.Error("connect to store", slog.Any("err", err))
		return res, err
	}
	log.Info("connected to store")

	log.Info("replacing stored questions", slog.Int("documents", res.Kept))
	res.Inserted, err = in.Store.ReplaceAll(ctx, docs)
	if err != nil {
		log.Error("load questions", slog.Any("err", err), slog.Int("inserted", res.Inserted))
		return res, err
	}
	log.Info("questions loaded", slog.Int("inserted", res.Inserted))

	ev := events.Event{
		RunID:    in.RunID,
		Kind:     events.KindIngestCompleted,
		Source:   path,
		Parsed:   res.Parsed,
		Kept:     res.Kept,
		Inserted: res.Inserted,
	}
	if err := orNop(in.Events).Publish(ctx, ev); err != nil {
		log.Warn("publish ingest event", slog.Any("err", err))
	}

	return res, nil
}
