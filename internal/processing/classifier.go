package processing

import (
	"regexp"
	"strings"

	"github.com/DeafMist/pneumo-triage/backend/internal/vocab"
)

// SectionSource records how the RECOMMENDATIONS section was located.
type SectionSource int

const (
	SectionNone SectionSource = iota
	SectionPrimary
	SectionFallback
)

func (s SectionSource) String() string {
	switch s {
	case SectionPrimary:
		return "primary"
	case SectionFallback:
		return "fallback"
	default:
		return "none"
	}
}

// MarshalText lets the source appear by name in JSON payloads.
func (s SectionSource) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

const headingMarker = "**"

// Tried in order; the first non-empty capture wins.
var recommendationHeadings = []*regexp.Regexp{
	regexp.MustCompile(`(?s)\*\*recommendations\*\*:(.*?)(?:\*\*|$)`),
	regexp.MustCompile(`(?s)\*\*recommendations:\*\*(.*?)(?:\*\*|$)`),
}

var fallbackAnchors = []string{
	"**recommendations**:",
	"**recommendations:**",
	"recommendations:",
}

// Decision explains a classification. Matched* hold the first phrase found in
// each vocabulary, empty when nothing matched or the vocabulary was not consulted.
type Decision struct {
	ImagingRecommended    bool          `json:"imaging_recommended"`
	Source                SectionSource `json:"section_source"`
	Section               string        `json:"section,omitempty"`
	MatchedRecommendation string        `json:"matched_recommendation,omitempty"`
	MatchedDiagnosis      string        `json:"matched_diagnosis,omitempty"`
	MatchedNegation       string        `json:"matched_negation,omitempty"`
}

// Classifier decides whether a generated summary recommends imaging follow-up.
type Classifier struct {
	recommendations []string
	diagnoses       []string
	negations       []string
}

// NewClassifier lower-cases the phrase vocabularies once.
func NewClassifier(v vocab.Vocabulary) *Classifier {
	return &Classifier{
		recommendations: lowerAll(v.RecommendationPhrases),
		diagnoses:       lowerAll(v.DiagnosisPhrases),
		negations:       lowerAll(v.NegationPhrases),
	}
}

// Classify reports whether imaging is recommended by the summary.
func (c *Classifier) Classify(summary string) bool {
	return c.Explain(summary).ImagingRecommended
}

// Explain runs the classification and returns how the outcome was reached.
//
// A section found by the primary heading patterns is judged as
// (recommendation in section OR diagnosis anywhere) AND NOT negation anywhere.
// A section found only by the plain fallback split is judged on recommendation
// phrases alone. No section at all yields false.
func (c *Classifier) Explain(summary string) Decision {
	lower := strings.ToLower(summary)
	section, source := locateRecommendations(lower)

	d := Decision{Source: source, Section: strings.TrimSpace(section)}
	switch source {
	case SectionPrimary:
		d.MatchedRecommendation = firstContained(section, c.recommendations)
		d.MatchedDiagnosis = firstContained(lower, c.diagnoses)
		d.MatchedNegation = firstContained(lower, c.negations)
		d.ImagingRecommended = (d.MatchedRecommendation != "" || d.MatchedDiagnosis != "") && d.MatchedNegation == ""
	case SectionFallback:
		d.MatchedRecommendation = firstContained(section, c.recommendations)
		d.ImagingRecommended = d.MatchedRecommendation != ""
	default:
		d.ImagingRecommended = false
	}
	return d
}

// locateRecommendations expects lower-cased text.
func locateRecommendations(lower string) (string, SectionSource) {
	for _, re := range recommendationHeadings {
		m := re.FindStringSubmatch(lower)
		if m == nil {
			continue
		}
		if section := strings.TrimSpace(m[1]); section != "" {
			return section, SectionPrimary
		}
	}

	for _, anchor := range fallbackAnchors {
		idx := strings.Index(lower, anchor)
		if idx < 0 {
			continue
		}
		section := lower[idx+len(anchor):]
		if end := strings.Index(section, headingMarker); end >= 0 {
			section = section[:end]
		}
		return section, SectionFallback
	}

	return "", SectionNone
}

func firstContained(text string, phrases []string) string {
	for _, p := range phrases {
		if p != "" && strings.Contains(text, p) {
			return p
		}
	}
	return ""
}

func lowerAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		out = append(out, strings.ToLower(strings.TrimSpace(s)))
	}
	return out
}
