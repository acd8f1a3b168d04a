package processing

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/DeafMist/posts-pipeline/internal/models"
)

// ErrParse marks a missing or malformed posts export.
var ErrParse = errors.New("parse posts")

// postsExport matches any root element whose children each carry one post as attributes.
type postsExport struct {
	Rows []models.RawPost `xml:",any"`
}

// ParseFile reads the posts export at path.
func ParseFile(path string) ([]models.RawPost, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %w", ErrParse, path, err)
	}
	defer f.Close()

	posts, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return posts, nil
}

// Parse decodes a posts export. A single child element yields a one-element slice.
func Parse(r io.Reader) ([]models.RawPost, error) {
	dec := xml.NewDecoder(r)
	var doc postsExport
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: decode xml: %w", ErrParse, err)
	}

	// Only comments, processing instructions and whitespace may follow the root.
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: after root element: %w", ErrParse, err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			return nil, fmt.Errorf("%w: unexpected element <%s> after root", ErrParse, t.Name.Local)
		case xml.CharData:
			if len(bytes.TrimSpace(t)) > 0 {
				return nil, fmt.Errorf("%w: unexpected text after root", ErrParse)
			}
		}
	}
	return doc.Rows, nil
}
