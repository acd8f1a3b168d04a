package processing

import (
	"html"
	"strconv"
	"strings"

	"github.com/DeafMist/posts-pipeline/internal/models"
)

// DefaultViewCountThreshold is the view count a post must exceed to be stored.
const DefaultViewCountThreshold = 20000

// ParseViewCount coerces the textual view count into an integer. Like a lenient
// integer parse it reads an optional sign followed by leading digits and ignores
// the rest ("123abc" is 123). The bool is false when no digits lead the value.
func ParseViewCount(raw string) (int64, bool) {
	s := strings.TrimSpace(raw)
	end := 0
	if end < len(s) && (s[end] == '+' || s[end] == '-') {
		end++
	}
	digitsStart := end
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	if end == digitsStart {
		return 0, false
	}

	n, err := strconv.ParseInt(s[:end], 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// DecodeEntities resolves HTML character references such as &amp; or &#39;.
func DecodeEntities(input string) string {
	if input == "" {
		return ""
	}
	return html.UnescapeString(input)
}

// ToQuestion builds the stored document for a post, decoding Body and Tags.
func ToQuestion(post models.RawPost, viewCount int64) models.QuestionDocument {
	return models.QuestionDocument{
		Question: models.Question{
			ID:               post.ID,
			PostTypeID:       post.PostTypeID,
			AcceptedAnswerID: post.AcceptedAnswerID,
			CreationDate:     post.CreationDate,
			Score:            post.Score,
			ViewCount:        viewCount,
			Body:             DecodeEntities(post.Body),
			OwnerUserID:      post.OwnerUserID,
			LastActivityDate: post.LastActivityDate,
			Title:            post.Title,
			Tags:             DecodeEntities(post.Tags),
			AnswerCount:      post.AnswerCount,
			CommentCount:     post.CommentCount,
			ContentLicense:   post.ContentLicense,
		},
	}
}

// FilterPosts keeps the posts whose view count is strictly greater than threshold
// and converts them into stored documents, preserving input order. Posts with a
// missing or non-numeric view count never pass.
func FilterPosts(posts []models.RawPost, threshold int64) []models.QuestionDocument {
	docs := make([]models.QuestionDocument, 0, len(posts))
	for _, post := range posts {
		views, ok := ParseViewCount(post.ViewCount)
		if !ok || views <= threshold {
			continue
		}
		docs = append(docs, ToQuestion(post, views))
	}
	return docs
}
