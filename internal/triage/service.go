package triage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/DeafMist/pneumo-triage/backend/internal/logger"
	"github.com/DeafMist/pneumo-triage/backend/internal/models"
	"github.com/DeafMist/pneumo-triage/backend/internal/pdftext"
	"github.com/DeafMist/pneumo-triage/backend/internal/processing"
	"github.com/DeafMist/pneumo-triage/backend/internal/summarizer"
)

var (
	ErrEmptyDocument = errors.New("document has no text")
	ErrInvalidPDF    = errors.New("invalid pdf document")
	ErrSummary       = errors.New("could not analyze the report, please try again")
)

const titleWords = 10

// gate admits or rejects an outbound summary call.
type gate interface {
	Allow() error
}

// Service runs a raw report through normalization, the summary call and
// classification.
type Service struct {
	normalizer *processing.Normalizer
	classifier *processing.Classifier
	summarizer summarizer.Summarizer
	gate       gate
	log        *slog.Logger

	keywordLimit  int
	keywordMinLen int

	inspect func([]byte) (pdftext.Info, error)
	extract func([]byte) (string, error)
	now     func() time.Time
}

// New wires a Service. gate may be nil to disable rate limiting.
func New(n *processing.Normalizer, c *processing.Classifier, s summarizer.Summarizer, g gate, log *slog.Logger) *Service {
	if log == nil {
		log = logger.Discard()
	}
	if g == nil {
		g = openGate{}
	}
	return &Service{
		normalizer:    n,
		classifier:    c,
		summarizer:    s,
		gate:          g,
		log:           log,
		keywordLimit:  8,
		keywordMinLen: 4,
		inspect:       pdftext.Inspect,
		extract:       pdftext.Extract,
		now:           time.Now,
	}
}

// WithKeywords overrides the keyword extraction limits.
func (s *Service) WithKeywords(limit, minLen int) *Service {
	s.keywordLimit = limit
	s.keywordMinLen = minLen
	return s
}

// Normalize annotates free text without calling out.
func (s *Service) Normalize(text string) string {
	return s.normalizer.Normalize(text)
}

// Classify decides on an already generated summary.
func (s *Service) Classify(summary string) processing.Decision {
	return s.classifier.Explain(summary)
}

// Analyze runs the full pipeline for one document. Text documents are
// annotated before the summary call; PDFs are validated and passed through
// untouched. A call rejected by the gate returns *ratelimit.TooSoonError.
func (s *Service) Analyze(ctx context.Context, doc models.RawDocument) (*models.Analysis, error) {
	input := summarizer.Input{
		Kind:     doc.Kind,
		MIMEType: doc.MIMEType,
		Name:     doc.Name,
	}

	var (
		plain string
		pages int
	)

	switch doc.Kind {
	case models.KindText:
		plain = doc.Text()
		if strings.TrimSpace(plain) == "" {
			return nil, ErrEmptyDocument
		}
		input.Text = s.normalizer.Normalize(plain)
	case models.KindPDF:
		info, err := s.inspect(doc.Data)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidPDF, err)
		}
		pages = info.Pages
		input.Data = doc.Data

		// Title and keywords only; the summary reads the original PDF.
		if text, err := s.extract(doc.Data); err == nil {
			plain = text
		} else {
			s.log.Debug("pdf has no text layer", slog.String("name", doc.Name), slog.Any("err", err))
		}
	default:
		return nil, models.ErrUnsupportedType
	}

	if err := s.gate.Allow(); err != nil {
		return nil, err
	}

	started := s.now()
	summary, err := s.summarizer.Summarize(ctx, input)
	if err != nil {
		s.log.Error("summary call failed",
			slog.String("name", doc.Name),
			slog.String("kind", string(doc.Kind)),
			slog.Any("err", err),
		)
		return nil, fmt.Errorf("%w: %w", ErrSummary, err)
	}

	decision := s.classifier.Explain(summary)
	s.log.Info("report analyzed",
		slog.String("name", doc.Name),
		slog.String("kind", string(doc.Kind)),
		slog.String("section_source", decision.Source.String()),
		slog.Bool("imaging_recommended", decision.ImagingRecommended),
		slog.Duration("summary_took", s.now().Sub(started)),
	)

	title := processing.GenerateTitleFromText(plain, titleWords)
	if title == "" {
		title = doc.Name
	}

	return &models.Analysis{
		ID:                 uuid.NewString(),
		ContentHash:        processing.BuildDocumentID(doc.Name, doc.Data),
		Title:              title,
		Name:               doc.Name,
		Kind:               doc.Kind,
		Pages:              pages,
		Annotated:          input.Text,
		Summary:            summary,
		ImagingRecommended: decision.ImagingRecommended,
		Decision:           ToModel(decision),
		Keywords:           processing.ExtractKeywords(plain, s.keywordLimit, s.keywordMinLen),
		Timestamp:          s.now().UTC(),
	}, nil
}

// ToModel converts a classifier decision into its stored form.
func ToModel(d processing.Decision) models.Decision {
	return models.Decision{
		Source:                d.Source.String(),
		MatchedRecommendation: d.MatchedRecommendation,
		MatchedDiagnosis:      d.MatchedDiagnosis,
		MatchedNegation:       d.MatchedNegation,
	}
}

type openGate struct{}

func (openGate) Allow() error { return nil }
