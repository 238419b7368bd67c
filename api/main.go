package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/DeafMist/pneumo-triage/backend/internal/config"
	"github.com/DeafMist/pneumo-triage/backend/internal/elasticsearch"
	"github.com/DeafMist/pneumo-triage/backend/internal/logger"
	"github.com/DeafMist/pneumo-triage/backend/internal/models"
	"github.com/DeafMist/pneumo-triage/backend/internal/processing"
	"github.com/DeafMist/pneumo-triage/backend/internal/ratelimit"
	"github.com/DeafMist/pneumo-triage/backend/internal/scoring"
	"github.com/DeafMist/pneumo-triage/backend/internal/triage"
)

func main() {
	log := logger.New("api")
	cfg, err := config.LoadAPI()
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

	svc, err := triage.FromConfig(ctx, cfg.Summarizer, log)
	if err != nil {
		log.Error("init triage", slog.Any("err", err))
		os.Exit(1)
	}
	svc.WithKeywords(cfg.KeywordLimit, 4)

	srv := &server{log: log, cfg: cfg, triage: svc, store: esClient, scoring: scoring.DefaultConfig()}

	httpServer := &http.Server{
		Addr:              cfg.BindAddr,
		Handler:           newRouter(srv),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      90 * time.Second,
	}

	go func() {
		log.Info("api server starting", slog.String("addr", cfg.BindAddr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server stopped", slog.Any("err", err))
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	log.Info("shutdown signal received")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error("server shutdown", slog.Any("err", err))
	}
}

type analyzer interface {
	Analyze(ctx context.Context, doc models.RawDocument) (*models.Analysis, error)
	Normalize(text string) string
	Classify(summary string) processing.Decision
}

type reportStore interface {
	Health(ctx context.Context) error
	IndexReport(ctx context.Context, doc models.Analysis) error
	SearchReports(ctx context.Context, params elasticsearch.SearchParams) (*elasticsearch.SearchResult, error)
}

type server struct {
	log     *slog.Logger
	cfg     *config.API
	triage  analyzer
	store   reportStore
	scoring scoring.Config
}

func newRouter(s *server) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)

	r.Route("/reports", func(r chi.Router) {
		r.Get("/", s.handleSearch)
		r.Post("/normalize", s.handleNormalize)
		r.Post("/classify", s.handleClassify)
		r.Post("/analyze", s.handleAnalyze)
	})

	r.Route("/risk", func(r chi.Router) {
		r.Get("/symptoms", s.handleSymptoms)
		r.Post("/score", s.handleScore)
	})

	return r
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := s.store.Health(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type normalizeRequest struct {
	Text string `json:"text"`
}

type normalizeResponse struct {
	Annotated string `json:"annotated"`
}

func (s *server) handleNormalize(w http.ResponseWriter, r *http.Request) {
	var req normalizeRequest
	if err := decodeJSON(w, r, s.cfg.MaxUploadBytes, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, normalizeResponse{Annotated: s.triage.Normalize(req.Text)})
}

type classifyRequest struct {
	Summary string `json:"summary"`
}

func (s *server) handleClassify(w http.ResponseWriter, r *http.Request) {
	var req classifyRequest
	if err := decodeJSON(w, r, s.cfg.MaxUploadBytes, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, s.triage.Classify(req.Summary))
}

type analyzeRequest struct {
	Name     string `json:"name"`
	MIMEType string `json:"mime_type"`
	Text     string `json:"text"`
	Data     []byte `json:"data"`
}

func (s *server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	doc, err := s.readDocument(w, r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	analysis, err := s.triage.Analyze(r.Context(), doc)
	if err != nil {
		s.writeAnalyzeError(w, r, err)
		return
	}
	analysis.Source = "api"

	// The index is a searchable record of outcomes; a failed write does not
	// fail the request.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), 5*time.Second)
	defer cancel()
	if err := s.store.IndexReport(ctx, *analysis); err != nil {
		s.log.Warn("index analysis", slog.String("id", analysis.ID), slog.Any("err", err))
	}

	writeJSON(w, http.StatusOK, analysis)
}

func (s *server) readDocument(w http.ResponseWriter, r *http.Request) (models.RawDocument, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType != "multipart/form-data" {
		var req analyzeRequest
		if err := decodeJSON(w, r, s.cfg.MaxUploadBytes, &req); err != nil {
			return models.RawDocument{}, err
		}
		data := req.Data
		if len(data) == 0 {
			data = []byte(req.Text)
		}
		mimeType := req.MIMEType
		if mimeType == "" {
			mimeType = "text/plain"
		}
		return models.NewRawDocument(req.Name, mimeType, data)
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)
	file, header, err := r.FormFile("file")
	if err != nil {
		return models.RawDocument{}, errors.New("multipart field \"file\" is required")
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return models.RawDocument{}, err
	}

	return models.NewRawDocument(header.Filename, uploadMIME(header.Filename, header.Header.Get("Content-Type"), data), data)
}

// uploadMIME trusts the part's declared type unless it is missing or generic.
func uploadMIME(name, declared string, data []byte) string {
	if declared != "" && declared != "application/octet-stream" {
		return declared
	}
	if byExt := mime.TypeByExtension(strings.ToLower(filepath.Ext(name))); byExt != "" {
		return byExt
	}
	return http.DetectContentType(data)
}

func (s *server) writeAnalyzeError(w http.ResponseWriter, r *http.Request, err error) {
	var tooSoon *ratelimit.TooSoonError
	switch {
	case errors.As(err, &tooSoon):
		w.Header().Set("Retry-After", strconv.Itoa(tooSoon.Seconds()))
		writeJSON(w, http.StatusTooManyRequests, errorResponse{Error: tooSoon.Error()})
	case errors.Is(err, triage.ErrSummary):
		writeJSON(w, http.StatusBadGateway, errorResponse{Error: triage.ErrSummary.Error()})
	case errors.Is(err, triage.ErrEmptyDocument), errors.Is(err, triage.ErrInvalidPDF), errors.Is(err, models.ErrUnsupportedType):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
	default:
		s.log.Error("analyze report",
			slog.String("request_id", middleware.GetReqID(r.Context())),
			slog.Any("err", err),
		)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
	}
}

func (s *server) handleSearch(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	q := r.URL.Query()
	params := elasticsearch.SearchParams{
		Query:    strings.TrimSpace(q.Get("q")),
		Keywords: parseCSV(q.Get("keywords")),
		Source:   strings.TrimSpace(q.Get("source")),
		Kind:     strings.TrimSpace(q.Get("kind")),
		Imaging:  parseBool(q.Get("imaging")),
		From:     clampInt(q.Get("from"), 0, 10_000),
		Size:     clampInt(q.Get("size"), s.cfg.DefaultPage, s.cfg.MaxPage),
		Sort:     strings.TrimSpace(q.Get("sort")),
		Start:    parseTime(q.Get("start")),
		End:      parseTime(q.Get("end")),
	}

	result, err := s.store.SearchReports(ctx, params)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func (s *server) handleSymptoms(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, scoring.DefaultSymptoms())
}

type scoreRequest struct {
	Probabilities scoring.XrayProbabilities `json:"probabilities"`
	Symptoms      []string                  `json:"symptoms"`
	PastRecord    bool                      `json:"past_record"`
	PastEpisodes  int                       `json:"past_episodes"`
}

type scoreResponse struct {
	Score        float64 `json:"score"`
	Explanation  string  `json:"explanation"`
	Pneumonia    float64 `json:"pneumonia_probability"`
	SymptomScore float64 `json:"symptom_score"`
	PastScore    float64 `json:"past_score"`
}

func (s *server) handleScore(w http.ResponseWriter, r *http.Request) {
	var req scoreRequest
	if err := decodeJSON(w, r, 1<<20, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	symptomScore := scoring.SymptomScore(req.Symptoms, scoring.DefaultSymptoms())
	pastScore := max(scoring.PastRecordScore(req.PastRecord), scoring.PastEpisodesScore(req.PastEpisodes))

	score, explanation, err := scoring.FinalScore(req.Probabilities, symptomScore, pastScore, s.scoring)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, scoreResponse{
		Score:        score,
		Explanation:  explanation,
		Pneumonia:    req.Probabilities.Pneumonia(),
		SymptomScore: symptomScore,
		PastScore:    pastScore,
	})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, limit int64, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, limit))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return errors.New("invalid JSON body: " + err.Error())
	}
	return nil
}

func parseTime(raw string) *time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	if ts, err := time.Parse(time.RFC3339, raw); err == nil {
		return &ts
	}
	return nil
}

func parseBool(raw string) *bool {
	v, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		return nil
	}
	return &v
}

func parseCSV(raw string) []string {
	if raw == "" {
		return nil
	}
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

func clampInt(raw string, fallback, max int) int {
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	if value <= 0 {
		return fallback
	}
	if value > max {
		return max
	}
	return value
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
