package processing

import (
	"regexp"
	"sort"
	"strings"
	"unicode"

	"github.com/DeafMist/pneumo-triage/backend/internal/vocab"
)

// Markers prefixed to tagged spans by the Normalizer.
const (
	MarkerMeasurement = "MEASUREMENT:"
	MarkerMedication  = "MEDICATION:"
	MarkerSymptom     = "SYMPTOM:"
	MarkerCondition   = "CONDITION:"
	MarkerDuration    = "DURATION:"
	MarkerSeverity    = "SEVERITY:"
)

const numberPattern = `\b\d+(?:\.\d+)?\s*`

type tagStep struct {
	marker string
	re     *regexp.Regexp
}

// Normalizer annotates free-text medical reports. Patterns are compiled once
// from the vocabulary; Normalize is safe for concurrent use.
type Normalizer struct {
	abbrevRe  *regexp.Regexp
	expansion map[string]string
	steps     []tagStep
}

// NewNormalizer compiles the vocabulary into matching patterns.
func NewNormalizer(v vocab.Vocabulary) *Normalizer {
	n := &Normalizer{expansion: make(map[string]string, len(v.Abbreviations))}

	shorts := make([]string, 0, len(v.Abbreviations))
	for _, a := range v.Abbreviations {
		key := strings.ToLower(strings.TrimSpace(a.Short))
		if key == "" {
			continue
		}
		if _, dup := n.expansion[key]; !dup {
			shorts = append(shorts, key)
		}
		n.expansion[key] = a.Expanded
	}
	n.abbrevRe = termPattern("", shorts, "")

	// Order matters: later steps rescan text earlier steps rewrote.
	n.steps = []tagStep{
		{MarkerMeasurement, termPattern(numberPattern, v.Units, "")},
		{MarkerMedication, termPattern("", v.Medications, "")},
		{MarkerSymptom, termPattern("", v.Symptoms, "")},
		{MarkerCondition, termPattern("", v.Conditions, "")},
		{MarkerDuration, termPattern(numberPattern, v.DurationUnits, "")},
		{MarkerSeverity, termPattern("", v.Severities, "")},
	}
	return n
}

// Normalize expands abbreviations and prefixes recognised spans with their
// category marker. Only insertions are made outside expanded abbreviations.
// It is not idempotent: running it twice prefixes matches again.
func (n *Normalizer) Normalize(text string) string {
	if text == "" {
		return ""
	}

	out := n.expandAbbreviations(text)
	for _, step := range n.steps {
		if step.re == nil {
			continue
		}
		out = step.re.ReplaceAllString(out, step.marker+"${0}")
	}
	return out
}

func (n *Normalizer) expandAbbreviations(text string) string {
	if n.abbrevRe == nil {
		return text
	}
	return n.abbrevRe.ReplaceAllStringFunc(text, func(m string) string {
		if exp, ok := n.expansion[strings.ToLower(m)]; ok {
			return exp
		}
		return m
	})
}

// termPattern builds a case-insensitive alternation of terms, longest first,
// wrapped in word boundaries where the term edge is a word character.
// Returns nil when terms is empty.
func termPattern(prefix string, terms []string, suffix string) *regexp.Regexp {
	cleaned := make([]string, 0, len(terms))
	for _, t := range terms {
		t = strings.TrimSpace(t)
		if t != "" {
			cleaned = append(cleaned, t)
		}
	}
	if len(cleaned) == 0 {
		return nil
	}

	sort.SliceStable(cleaned, func(i, j int) bool { return len(cleaned[i]) > len(cleaned[j]) })

	alts := make([]string, 0, len(cleaned))
	for _, t := range cleaned {
		alts = append(alts, boundedTerm(t, prefix == ""))
	}

	return regexp.MustCompile(`(?i)` + prefix + `(?:` + strings.Join(alts, "|") + `)` + suffix)
}

func boundedTerm(term string, leading bool) string {
	words := strings.Fields(term)
	for i, w := range words {
		words[i] = regexp.QuoteMeta(w)
	}
	p := strings.Join(words, `\s+`)

	runes := []rune(term)
	if leading && isWordRune(runes[0]) {
		p = `\b` + p
	}
	if isWordRune(runes[len(runes)-1]) {
		p += `\b`
	}
	return p
}

// isWordRune mirrors RE2's ASCII-only \b definition.
func isWordRune(r rune) bool {
	return r < unicode.MaxASCII && (r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r))
}
