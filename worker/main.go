package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/DeafMist/pneumo-triage/backend/internal/config"
	"github.com/DeafMist/pneumo-triage/backend/internal/dedupe"
	"github.com/DeafMist/pneumo-triage/backend/internal/elasticsearch"
	"github.com/DeafMist/pneumo-triage/backend/internal/logger"
	"github.com/DeafMist/pneumo-triage/backend/internal/models"
	"github.com/DeafMist/pneumo-triage/backend/internal/processing"
	"github.com/DeafMist/pneumo-triage/backend/internal/ratelimit"
	"github.com/DeafMist/pneumo-triage/backend/internal/triage"
)

// rawReport is the message format of the raw reports topic. Data carries
// base64 bytes for PDFs; Text is used for text reports when Data is empty.
type rawReport struct {
	Name      string `json:"name"`
	MIMEType  string `json:"mime_type"`
	Text      string `json:"text"`
	Data      []byte `json:"data"`
	Source    string `json:"source"`
	Timestamp string `json:"timestamp"`
}

type analyzer interface {
	Analyze(ctx context.Context, doc models.RawDocument) (*models.Analysis, error)
}

type reportIndexer interface {
	IndexReport(ctx context.Context, doc models.Analysis) error
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

type pipeline struct {
	log     *slog.Logger
	triage  analyzer
	index   reportIndexer
	results messageWriter
	cache   *dedupe.Cache
	sleep   func(ctx context.Context, d time.Duration) error
}

func main() {
	log := logger.New("worker")
	cfg, err := config.LoadWorker()
	if err != nil {
		log.Error("load config", slog.Any("err", err))
		os.Exit(1)
	}

	esClient, err := elasticsearch.New(cfg.ElasticsearchAddr, cfg.ElasticsearchIndex, log)
	if err != nil {
		log.Error("init elasticsearch", slog.Any("err", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	if err := esClient.EnsureIndex(ctx); err != nil {
		log.Warn("ensure index", slog.Any("err", err))
	}

	svc, err := triage.FromConfig(ctx, cfg.Summarizer, log)
	if err != nil {
		log.Error("init triage", slog.Any("err", err))
		os.Exit(1)
	}
	svc.WithKeywords(cfg.KeywordLimit, cfg.KeywordMinLength)

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.KafkaBrokers,
		Topic:          cfg.KafkaTopic,
		GroupID:        cfg.KafkaConsumer,
		QueueCapacity:  cfg.BatchSize,
		MinBytes:       1e3,
		MaxBytes:       10e6,
		CommitInterval: 0, // manual commit only
	})
	defer reader.Close()

	resultWriter := &kafka.Writer{
		Addr:         kafka.TCP(cfg.KafkaBrokers...),
		Topic:        cfg.KafkaResultTopic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		MaxAttempts:  3,
	}
	defer resultWriter.Close()

	dlqWriter := kafka.NewWriter(kafka.WriterConfig{
		Brokers:     cfg.KafkaBrokers,
		Topic:       cfg.KafkaDLQTopic,
		MaxAttempts: 3,
	})
	defer dlqWriter.Close()

	p := &pipeline{
		log:     log,
		triage:  svc,
		index:   esClient,
		results: resultWriter,
		cache:   dedupe.NewCache(cfg.DedupeCapacity, cfg.DedupeTTL),
		sleep:   sleepCtx,
	}

	log.Info("worker started",
		slog.String("topic", cfg.KafkaTopic),
		slog.String("group", cfg.KafkaConsumer),
		slog.String("result_topic", cfg.KafkaResultTopic),
		slog.String("dlq_topic", cfg.KafkaDLQTopic),
	)

	for {
		msg, err := reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				log.Info("context canceled, stopping")
				return
			}
			log.Error("fetch message", slog.Any("err", err))
			continue
		}

		if err := p.process(ctx, msg); err != nil {
			if errors.Is(err, context.Canceled) {
				log.Info("context canceled mid-message, leaving it uncommitted")
				return
			}
			log.Warn("process message failed, sending to DLQ",
				slog.Any("err", err),
				slog.Int("partition", msg.Partition),
				slog.Int64("offset", msg.Offset),
			)

			// Only commit once the DLQ holds the message; otherwise it is reprocessed on restart.
			if !sendToDLQ(ctx, log, dlqWriter, msg, err) {
				if ctx.Err() != nil {
					return
				}
				continue
			}
		}

		if err := reader.CommitMessages(ctx, msg); err != nil {
			log.Error("commit message", slog.Any("err", err))
		}
	}
}

func (p *pipeline) process(ctx context.Context, msg kafka.Message) error {
	var payload rawReport
	if err := json.Unmarshal(msg.Value, &payload); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}

	data := payload.Data
	if len(data) == 0 {
		data = []byte(payload.Text)
	}
	if len(data) == 0 {
		return errors.New("empty payload")
	}

	mimeType := strings.TrimSpace(payload.MIMEType)
	if mimeType == "" {
		mimeType = "text/plain"
	}
	doc, err := models.NewRawDocument(strings.TrimSpace(payload.Name), mimeType, data)
	if err != nil {
		return err
	}

	hash := processing.BuildDocumentID(doc.Name, doc.Data)
	if id, seen := p.cache.Lookup(hash); seen {
		p.log.Debug("duplicate report", slog.String("hash", hash), slog.String("analysis_id", id))
		return nil
	}

	analysis, err := p.analyze(ctx, doc)
	if err != nil {
		return err
	}

	if ts := parseTimestamp(payload.Timestamp); !ts.IsZero() {
		analysis.Timestamp = ts.UTC()
	}
	analysis.Source = strings.TrimSpace(payload.Source)
	if analysis.Source == "" {
		analysis.Source = "kafka"
	}

	if err := p.index.IndexReport(ctx, *analysis); err != nil {
		return err
	}

	out, err := json.Marshal(analysis)
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	if err := p.results.WriteMessages(ctx, kafka.Message{Key: []byte(analysis.ContentHash), Value: out}); err != nil {
		return fmt.Errorf("publish result: %w", err)
	}

	p.cache.Remember(hash, analysis.ID)
	p.log.Info("classified report",
		slog.String("id", analysis.ID),
		slog.String("name", analysis.Name),
		slog.Bool("imaging_recommended", analysis.ImagingRecommended),
	)
	return nil
}

// analyze waits out gate rejections and re-submits the same document.
func (p *pipeline) analyze(ctx context.Context, doc models.RawDocument) (*models.Analysis, error) {
	for {
		analysis, err := p.triage.Analyze(ctx, doc)

		var tooSoon *ratelimit.TooSoonError
		if !errors.As(err, &tooSoon) {
			return analysis, err
		}

		p.log.Debug("summary call gated, waiting", slog.Duration("wait", tooSoon.Wait))
		if err := p.sleep(ctx, tooSoon.Wait); err != nil {
			return nil, err
		}
	}
}

func sendToDLQ(ctx context.Context, log *slog.Logger, writer messageWriter, msg kafka.Message, cause error) bool {
	dlqMsg := kafka.Message{
		Key:   msg.Key,
		Value: msg.Value,
		Headers: append(msg.Headers,
			kafka.Header{Key: "original_partition", Value: []byte(fmt.Sprintf("%d", msg.Partition))},
			kafka.Header{Key: "original_offset", Value: []byte(fmt.Sprintf("%d", msg.Offset))},
			kafka.Header{Key: "error", Value: []byte(cause.Error())},
			kafka.Header{Key: "timestamp", Value: []byte(time.Now().UTC().Format(time.RFC3339))},
		),
	}

	for attempt := 0; attempt < 5; attempt++ {
		dlqErr := writer.WriteMessages(ctx, dlqMsg)
		if dlqErr == nil {
			log.Info("message sent to DLQ",
				slog.Int("partition", msg.Partition),
				slog.Int64("offset", msg.Offset),
				slog.Int("attempt", attempt+1),
			)
			return true
		}

		backoff := time.Duration(1<<uint(attempt)) * time.Second
		log.Warn("DLQ write failed, retrying",
			slog.Any("err", dlqErr),
			slog.Int("attempt", attempt+1),
			slog.Duration("backoff", backoff),
		)
		if err := sleepCtx(ctx, backoff); err != nil {
			log.Info("context canceled during DLQ retry")
			return false
		}
	}

	log.Error("DLQ write exhausted retries, message may be lost if later messages commit",
		slog.Int("partition", msg.Partition),
		slog.Int64("offset", msg.Offset),
	)
	return false
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func parseTimestamp(raw string) time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}
	}

	formats := []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02 15:04:05",
	}

	for _, f := range formats {
		if ts, err := time.Parse(f, raw); err == nil {
			return ts
		}
	}

	return time.Time{}
}
