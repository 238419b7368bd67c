package models

import (
	"errors"
	"html"
	"mime"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
)

// DocumentKind is the discriminant of a RawDocument.
type DocumentKind string

const (
	KindText DocumentKind = "text"
	KindPDF  DocumentKind = "pdf"
)

// ErrUnsupportedType is returned for MIME types the pipeline cannot route.
var ErrUnsupportedType = errors.New("unsupported document type")

var htmlPolicy = bluemonday.StrictPolicy()

// RawDocument is an uploaded report. Data is immutable once built: PDFs are
// passed through opaque, text payloads are decoded as UTF-8.
type RawDocument struct {
	Name     string       `json:"name"`
	MIMEType string       `json:"mime_type"`
	Kind     DocumentKind `json:"kind"`
	Data     []byte       `json:"data"`
}

// NewRawDocument routes a payload purely on its MIME type. HTML reports are
// reduced to their text content and then treated as text.
func NewRawDocument(name, mimeType string, data []byte) (RawDocument, error) {
	base := baseMIME(mimeType)
	kind, err := KindFromMIME(base)
	if err != nil {
		return RawDocument{}, err
	}

	if kind == KindText {
		if !utf8.Valid(data) {
			return RawDocument{}, errors.New("text document is not valid UTF-8")
		}
		if base == "text/html" || base == "application/xhtml+xml" {
			data = []byte(html.UnescapeString(htmlPolicy.Sanitize(string(data))))
			base = "text/plain"
		}
	}

	return RawDocument{Name: name, MIMEType: base, Kind: kind, Data: data}, nil
}

// KindFromMIME maps a MIME type to a document kind.
func KindFromMIME(mimeType string) (DocumentKind, error) {
	base := baseMIME(mimeType)
	switch {
	case base == "application/pdf":
		return KindPDF, nil
	case strings.HasPrefix(base, "text/"), base == "application/xhtml+xml":
		return KindText, nil
	default:
		return "", ErrUnsupportedType
	}
}

// Text returns the decoded payload of a text document, empty for PDFs.
func (d RawDocument) Text() string {
	if d.Kind != KindText {
		return ""
	}
	return string(d.Data)
}

func baseMIME(raw string) string {
	raw = strings.TrimSpace(raw)
	if mt, _, err := mime.ParseMediaType(raw); err == nil {
		return mt
	}
	return strings.ToLower(raw)
}

// Decision is the classifier outcome stored alongside an analysis.
type Decision struct {
	Source                string `json:"section_source"`
	MatchedRecommendation string `json:"matched_recommendation,omitempty"`
	MatchedDiagnosis      string `json:"matched_diagnosis,omitempty"`
	MatchedNegation       string `json:"matched_negation,omitempty"`
}

// Analysis is the outcome of running one report through the pipeline. It is
// also the document shape indexed in Elasticsearch.
type Analysis struct {
	ID                 string       `json:"id"`
	ContentHash        string       `json:"content_hash"`
	Title              string       `json:"title"`
	Name               string       `json:"name"`
	Kind               DocumentKind `json:"kind"`
	Pages              int          `json:"pages,omitempty"`
	Annotated          string       `json:"annotated,omitempty"`
	Summary            string       `json:"summary"`
	ImagingRecommended bool         `json:"imaging_recommended"`
	Decision           Decision     `json:"decision"`
	Keywords           []string     `json:"keywords"`
	Source             string       `json:"source"`
	Timestamp          time.Time    `json:"timestamp"`
}
