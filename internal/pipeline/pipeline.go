// Package pipeline runs the two batch steps: loading the posts export into the
// questions index, and rendering reports from what was loaded.
package pipeline

import (
	"context"
	"io"
	"log/slog"

	"github.com/DeafMist/posts-pipeline/internal/events"
	"github.com/DeafMist/posts-pipeline/internal/models"
)

// Conn is a store connection held for the duration of one pipeline run.
type Conn interface {
	Ping(ctx context.Context) error
	Close()
}

// Loader replaces the stored questions.
type Loader interface {
	Conn
	ReplaceAll(ctx context.Context, docs []models.QuestionDocument) (int, error)
}

// Queries are the read operations the reports are built from.
type Queries interface {
	AverageViewCount(ctx context.Context) (float64, error)
	ViewCountAbove(ctx context.Context, threshold float64) ([]models.QuestionDocument, error)
	TitleMatches(ctx context.Context, keywords []string) ([]models.QuestionDocument, error)
}

// QueryStore is a connection able to run Queries.
type QueryStore interface {
	Conn
	Queries
}

// ReportWriter renders a titled, numbered list into a file.
type ReportWriter interface {
	WriteFile(path, title string, items []string) error
}

func orDiscard(log *slog.Logger) *slog.Logger {
	if log == nil {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return log
}

func orNop(p events.Publisher) events.Publisher {
	if p == nil {
		return events.Nop{}
	}
	return p
}
