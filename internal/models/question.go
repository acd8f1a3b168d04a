package models

// RawPost is one element of the posts XML export. Every attribute arrives as text.
type RawPost struct {
	ID               string `xml:"Id,attr"`
	PostTypeID       string `xml:"PostTypeId,attr"`
	AcceptedAnswerID string `xml:"AcceptedAnswerId,attr"`
	CreationDate     string `xml:"CreationDate,attr"`
	Score            string `xml:"Score,attr"`
	ViewCount        string `xml:"ViewCount,attr"`
	Body             string `xml:"Body,attr"`
	OwnerUserID      string `xml:"OwnerUserId,attr"`
	LastActivityDate string `xml:"LastActivityDate,attr"`
	Title            string `xml:"Title,attr"`
	Tags             string `xml:"Tags,attr"`
	AnswerCount      string `xml:"AnswerCount,attr"`
	CommentCount     string `xml:"CommentCount,attr"`
	ContentLicense   string `xml:"ContentLicense,attr"`
}

// Question holds the stored fields of a post. ViewCount is the coerced integer,
// everything else is kept as text.
type Question struct {
	ID               string `json:"Id"`
	PostTypeID       string `json:"PostTypeId,omitempty"`
	AcceptedAnswerID string `json:"AcceptedAnswerId,omitempty"`
	CreationDate     string `json:"CreationDate,omitempty"`
	Score            string `json:"Score,omitempty"`
	ViewCount        int64  `json:"ViewCount"`
	Body             string `json:"Body"`
	OwnerUserID      string `json:"OwnerUserId,omitempty"`
	LastActivityDate string `json:"LastActivityDate,omitempty"`
	Title            string `json:"Title"`
	Tags             string `json:"Tags"`
	AnswerCount      string `json:"AnswerCount,omitempty"`
	CommentCount     string `json:"CommentCount,omitempty"`
	ContentLicense   string `json:"ContentLicense,omitempty"`
}

// QuestionDocument represents the canonical structure stored in Elasticsearch.
type QuestionDocument struct {
	Question Question `json:"question"`
}

// Titles projects documents onto their question titles, preserving order.
func Titles(docs []QuestionDocument) []string {
	titles := make([]string, 0, len(docs))
	for _, doc := range docs {
		titles = append(titles, doc.Question.Title)
	}
	return titles
}
