package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"

	"github.com/DeafMist/pneumo-triage/backend/internal/dedupe"
	"github.com/DeafMist/pneumo-triage/backend/internal/logger"
	"github.com/DeafMist/pneumo-triage/backend/internal/models"
	"github.com/DeafMist/pneumo-triage/backend/internal/processing"
	"github.com/DeafMist/pneumo-triage/backend/internal/ratelimit"
	"github.com/DeafMist/pneumo-triage/backend/internal/summarizer"
	"github.com/DeafMist/pneumo-triage/backend/internal/triage"
	"github.com/DeafMist/pneumo-triage/backend/internal/vocab"
)

type stubSummarizer struct {
	summary string
	calls   int
}

func (s *stubSummarizer) Summarize(context.Context, summarizer.Input) (string, error) {
	s.calls++
	return s.summary, nil
}

type stubIndexer struct {
	docs []models.Analysis
	err  error
}

func (s *stubIndexer) IndexReport(_ context.Context, doc models.Analysis) error {
	if s.err != nil {
		return s.err
	}
	s.docs = append(s.docs, doc)
	return nil
}

type stubWriter struct {
	msgs []kafka.Message
	errs []error
}

func (s *stubWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if len(s.errs) > 0 {
		err := s.errs[0]
		s.errs = s.errs[1:]
		if err != nil {
			return err
		}
	}
	s.msgs = append(s.msgs, msgs...)
	return nil
}

type stubAnalyzer struct {
	errs  []error
	calls int
}

func (s *stubAnalyzer) Analyze(_ context.Context, doc models.RawDocument) (*models.Analysis, error) {
	s.calls++
	if len(s.errs) > 0 {
		err := s.errs[0]
		s.errs = s.errs[1:]
		return nil, err
	}
	return &models.Analysis{ID: "analysis-1", ContentHash: "h", Name: doc.Name}, nil
}

func discardLogger() *slog.Logger {
	return logger.Discard()
}

func newPipeline(a analyzer) (*pipeline, *stubIndexer, *stubWriter) {
	idx := &stubIndexer{}
	results := &stubWriter{}
	return &pipeline{
		log:     discardLogger(),
		triage:  a,
		index:   idx,
		results: results,
		cache:   dedupe.NewCache(100, time.Hour),
		sleep:   func(context.Context, time.Duration) error { return nil },
	}, idx, results
}

func realTriage(summary string) (*triage.Service, *stubSummarizer) {
	v := vocab.Default()
	summ := &stubSummarizer{summary: summary}
	return triage.New(processing.NewNormalizer(v), processing.NewClassifier(v), summ, nil, discardLogger()), summ
}

func message(t *testing.T, payload rawReport) kafka.Message {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	return kafka.Message{Value: data}
}

func TestProcessMessageClassifiesAndIndexes(t *testing.T) {
	svc, summ := realTriage("**Recommendations**: chest x-ray to confirm")
	p, idx, results := newPipeline(svc)

	msg := message(t, rawReport{
		Name:      "er-note.txt",
		Text:      "Severe cough and fever for 2 days. SpO2 91 %.",
		Source:    "emr",
		Timestamp: "2024-01-02T15:04:05Z",
	})

	require.NoError(t, p.process(context.Background(), msg))

	require.Len(t, idx.docs, 1)
	doc := idx.docs[0]
	require.True(t, doc.ImagingRecommended)
	require.Equal(t, "emr", doc.Source)
	require.Equal(t, "er-note.txt", doc.Name)
	require.Equal(t, time.Date(2024, 1, 2, 15, 4, 5, 0, time.UTC), doc.Timestamp)
	require.Contains(t, doc.Annotated, "SEVERITY:Severe")
	require.Contains(t, doc.Annotated, "MEASUREMENT:91 %")

	require.Len(t, results.msgs, 1)
	require.Equal(t, doc.ContentHash, string(results.msgs[0].Key))
	var published models.Analysis
	require.NoError(t, json.Unmarshal(results.msgs[0].Value, &published))
	require.Equal(t, doc.ID, published.ID)

	// Same report again is recognised by content hash.
	require.NoError(t, p.process(context.Background(), msg))
	require.Len(t, idx.docs, 1)
	require.Equal(t, 1, summ.calls)
}

func TestProcessMessageDefaultsSource(t *testing.T) {
	svc, _ := realTriage("Recommendations: oxygen therapy")
	p, idx, _ := newPipeline(svc)

	require.NoError(t, p.process(context.Background(), message(t, rawReport{Text: "hypoxia"})))
	require.Len(t, idx.docs, 1)
	require.Equal(t, "kafka", idx.docs[0].Source)
	require.Equal(t, "fallback", idx.docs[0].Decision.Source)
	require.True(t, idx.docs[0].ImagingRecommended)
}

func TestProcessMessageRejectsBadPayloads(t *testing.T) {
	svc, summ := realTriage("x")
	p, idx, _ := newPipeline(svc)

	require.Error(t, p.process(context.Background(), kafka.Message{Value: []byte("{not json")}))
	require.Error(t, p.process(context.Background(), message(t, rawReport{Name: "empty"})))
	require.ErrorIs(t, p.process(context.Background(), message(t, rawReport{MIMEType: "image/png", Data: []byte{0x89, 'P'}})), models.ErrUnsupportedType)
	require.ErrorIs(t, p.process(context.Background(), message(t, rawReport{Text: "  "})), triage.ErrEmptyDocument)

	require.Empty(t, idx.docs)
	require.Zero(t, summ.calls)
}

func TestProcessMessageIndexFailureIsNotRemembered(t *testing.T) {
	svc, summ := realTriage("**Recommendations**: chest x-ray")
	p, idx, results := newPipeline(svc)
	idx.err = errors.New("es down")

	msg := message(t, rawReport{Text: "cough"})
	require.Error(t, p.process(context.Background(), msg))
	require.Empty(t, results.msgs)

	idx.err = nil
	require.NoError(t, p.process(context.Background(), msg))
	require.Len(t, idx.docs, 1)
	require.Equal(t, 2, summ.calls)
}

func TestProcessMessageWaitsWhenGated(t *testing.T) {
	a := &stubAnalyzer{errs: []error{
		&ratelimit.TooSoonError{Wait: 3 * time.Second},
		&ratelimit.TooSoonError{Wait: time.Second},
	}}
	p, idx, _ := newPipeline(a)

	var waits []time.Duration
	p.sleep = func(_ context.Context, d time.Duration) error {
		waits = append(waits, d)
		return nil
	}

	require.NoError(t, p.process(context.Background(), message(t, rawReport{Name: "r", Text: "cough"})))
	require.Equal(t, 3, a.calls)
	require.Equal(t, []time.Duration{3 * time.Second, time.Second}, waits)
	require.Len(t, idx.docs, 1)
}

func TestProcessMessageGatedWaitCanceled(t *testing.T) {
	a := &stubAnalyzer{errs: []error{&ratelimit.TooSoonError{Wait: time.Minute}}}
	p, idx, _ := newPipeline(a)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p.sleep = sleepCtx

	err := p.process(ctx, message(t, rawReport{Text: "cough"}))
	require.ErrorIs(t, err, context.Canceled)
	require.Empty(t, idx.docs)
}

func TestSendToDLQ(t *testing.T) {
	w := &stubWriter{}
	msg := kafka.Message{Key: []byte("k"), Value: []byte("v"), Partition: 2, Offset: 41}

	require.True(t, sendToDLQ(context.Background(), discardLogger(), w, msg, errors.New("boom")))
	require.Len(t, w.msgs, 1)

	headers := map[string]string{}
	for _, h := range w.msgs[0].Headers {
		headers[h.Key] = string(h.Value)
	}
	require.Equal(t, "2", headers["original_partition"])
	require.Equal(t, "41", headers["original_offset"])
	require.Equal(t, "boom", headers["error"])
	require.Equal(t, []byte("v"), w.msgs[0].Value)
}

func TestSendToDLQStopsOnCancel(t *testing.T) {
	w := &stubWriter{errs: []error{errors.New("broker down")}}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.False(t, sendToDLQ(ctx, discardLogger(), w, kafka.Message{}, errors.New("boom")))
	require.Empty(t, w.msgs)
}

func TestParseTimestamp(t *testing.T) {
	ts := parseTimestamp("2024-02-03T04:05:06Z")
	require.Equal(t, time.Date(2024, 2, 3, 4, 5, 6, 0, time.UTC), ts)

	legacy := parseTimestamp("2024-02-03 04:05:06")
	require.False(t, legacy.IsZero())
	require.Equal(t, 2024, legacy.Year())
	require.Equal(t, 6, legacy.Second())

	require.True(t, parseTimestamp("invalid").IsZero())
	require.True(t, parseTimestamp("").IsZero())
}
