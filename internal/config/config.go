package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// DefaultKeywords are matched against question titles by the keyword report.
const DefaultKeywords = "pug,wig,yak,nap,jig,mug,zap,gag,oaf,elf"

// Common contains Elasticsearch parameters shared by every service.
type Common struct {
	ElasticsearchAddr  string
	ElasticsearchIndex string
}

// Batch holds configuration for the ingestion + reporting run.
type Batch struct {
	Common
	PostsPath        string
	ReportDir        string
	AboveAverageFile string
	KeywordsFile     string
	Keywords         []string
	KafkaBrokers     []string
	KafkaTopic       string
	LogFile          string
}

// API describes HTTP-layer configuration.
type API struct {
	Common
	BindAddr    string
	DefaultPage int
	MaxPage     int
	Keywords    []string
}

// AboveAveragePath is the output path of the above-average report.
func (b *Batch) AboveAveragePath() string {
	return filepath.Join(b.ReportDir, b.AboveAverageFile)
}

// KeywordsPath is the output path of the keyword report.
func (b *Batch) KeywordsPath() string {
	return filepath.Join(b.ReportDir, b.KeywordsFile)
}

// EventsEnabled reports whether pipeline events should be published to Kafka.
func (b *Batch) EventsEnabled() bool {
	return len(b.KafkaBrokers) > 0
}

func loadCommon() Common {
	return Common{
		ElasticsearchAddr:  getEnv("ELASTICSEARCH_ADDR", "http://localhost:9200"),
		ElasticsearchIndex: getEnv("ELASTICSEARCH_INDEX", "questions"),
	}
}

// LoadBatch builds a Batch config from environment variables.
func LoadBatch() (*Batch, error) {
	c := &Batch{
		Common:           loadCommon(),
		PostsPath:        getEnv("POSTS_XML_PATH", filepath.Join("data", "Posts.xml")),
		ReportDir:        getEnv("REPORT_DIR", filepath.Join("data", "out")),
		AboveAverageFile: getEnv("REPORT_ABOVE_AVERAGE_FILE", "informe1.pdf"),
		KeywordsFile:     getEnv("REPORT_KEYWORDS_FILE", "informe2.pdf"),
		Keywords:         splitAndTrim(getEnv("REPORT_KEYWORDS", DefaultKeywords)),
		KafkaBrokers:     splitAndTrim(os.Getenv("KAFKA_BROKERS")),
		KafkaTopic:       getEnv("KAFKA_TOPIC", "pipeline_events"),
		LogFile:          strings.TrimSpace(os.Getenv("LOG_FILE")),
	}

	if len(c.Keywords) == 0 {
		return nil, fmt.Errorf("REPORT_KEYWORDS must contain at least one keyword")
	}
	if c.AboveAverageFile == c.KeywordsFile {
		return nil, fmt.Errorf("REPORT_ABOVE_AVERAGE_FILE and REPORT_KEYWORDS_FILE must differ")
	}

	return c, nil
}

// LoadAPI builds an API config from environment variables.
func LoadAPI() (*API, error) {
	c := &API{
		Common:      loadCommon(),
		BindAddr:    getEnv("API_BIND_ADDR", "0.0.0.0:8080"),
		DefaultPage: getInt("API_PAGE_SIZE", 20),
		MaxPage:     getInt("API_MAX_PAGE_SIZE", 100),
		Keywords:    splitAndTrim(getEnv("REPORT_KEYWORDS", DefaultKeywords)),
	}

	if c.DefaultPage <= 0 {
		return nil, fmt.Errorf("API_PAGE_SIZE must be positive")
	}
	if c.MaxPage <= 0 {
		return nil, fmt.Errorf("API_MAX_PAGE_SIZE must be positive")
	}
	if c.DefaultPage > c.MaxPage {
		return nil, fmt.Errorf("API_PAGE_SIZE cannot exceed API_MAX_PAGE_SIZE")
	}
	if len(c.Keywords) == 0 {
		return nil, fmt.Errorf("REPORT_KEYWORDS must contain at least one keyword")
	}

	return c, nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			return parsed
		}
	}
	return fallback
}

func splitAndTrim(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
