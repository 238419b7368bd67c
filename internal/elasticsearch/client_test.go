package elasticsearch

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/DeafMist/pneumo-triage/backend/internal/models"
)

type recorded struct {
	method string
	path   string
	body   []byte
}

type fakeES struct {
	mu       sync.Mutex
	requests []recorded
	respond  func(r *http.Request, n int) (int, string)
}

func (f *fakeES) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)

	f.mu.Lock()
	f.requests = append(f.requests, recorded{method: r.Method, path: r.URL.Path, body: body})
	n := len(f.requests)
	f.mu.Unlock()

	status, payload := f.respond(r, n)
	w.Header().Set("X-Elastic-Product", "Elasticsearch")
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(payload))
}

func newTestClient(t *testing.T, respond func(r *http.Request, n int) (int, string)) (*Client, *fakeES) {
	t.Helper()
	fake := &fakeES{respond: respond}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	c, err := New(srv.URL, "reports", nil)
	require.NoError(t, err)
	return c, fake
}

func TestIndexReport(t *testing.T) {
	c, fake := newTestClient(t, func(*http.Request, int) (int, string) {
		return http.StatusCreated, `{"result":"created"}`
	})

	doc := models.Analysis{
		ID:                 "a-1",
		Title:              "Chest pain",
		Kind:               models.KindText,
		ImagingRecommended: true,
		Decision:           models.Decision{Source: "primary"},
		Timestamp:          time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
	}
	require.NoError(t, c.IndexReport(context.Background(), doc))

	require.Len(t, fake.requests, 1)
	req := fake.requests[0]
	require.Equal(t, http.MethodPut, req.method)
	require.Equal(t, "/reports/_doc/a-1", req.path)

	var stored models.Analysis
	require.NoError(t, json.Unmarshal(req.body, &stored))
	require.Equal(t, doc.Title, stored.Title)
	require.True(t, stored.ImagingRecommended)
	require.Equal(t, "primary", stored.Decision.Source)
}

func TestIndexReportError(t *testing.T) {
	c, _ := newTestClient(t, func(*http.Request, int) (int, string) {
		return http.StatusBadRequest, `{"error":"mapper_parsing_exception"}`
	})

	err := c.IndexReport(context.Background(), models.Analysis{ID: "x"})
	require.ErrorContains(t, err, "mapper_parsing_exception")
}

func TestSearchReports(t *testing.T) {
	c, fake := newTestClient(t, func(*http.Request, int) (int, string) {
		return http.StatusOK, `{"hits":{"total":{"value":2},"hits":[
			{"_source":{"id":"a","title":"first","imaging_recommended":true}},
			{"_source":{"id":"b","title":"second","imaging_recommended":false}}]}}`
	})

	yes := true
	res, err := c.SearchReports(context.Background(), SearchParams{Query: "cough", Imaging: &yes, Size: 5})
	require.NoError(t, err)
	require.Equal(t, int64(2), res.Total)
	require.Len(t, res.Items, 2)
	require.Equal(t, "a", res.Items[0].ID)
	require.True(t, res.Items[0].ImagingRecommended)

	require.Len(t, fake.requests, 1)
	require.Equal(t, "/reports/_search", fake.requests[0].path)

	var body map[string]any
	require.NoError(t, json.Unmarshal(fake.requests[0].body, &body))
	require.EqualValues(t, 5, body["size"])
}

func TestBuildSearchBody(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	no := false

	body := buildSearchBody(SearchParams{
		Keywords: []string{"cough"},
		Kind:     "pdf",
		Imaging:  &no,
		Start:    &start,
		From:     -3,
		Size:     1000,
		Sort:     "name:asc",
	})

	require.Equal(t, 0, body["from"])
	require.Equal(t, 200, body["size"])
	require.Equal(t, []map[string]any{{"name": map[string]any{"order": "asc"}}}, body["sort"])

	boolQuery := body["query"].(map[string]any)["bool"].(map[string]any)
	require.NotContains(t, boolQuery, "must")
	filters := boolQuery["filter"].([]map[string]any)
	require.Len(t, filters, 4)
	require.Equal(t, map[string]any{"term": map[string]any{"imaging_recommended": false}}, filters[2])
}

func TestBuildSearchBodyDefaults(t *testing.T) {
	body := buildSearchBody(SearchParams{Sort: "summary:sideways"})

	require.Equal(t, 20, body["size"])
	require.Equal(t, []map[string]any{{"timestamp": map[string]any{"order": "desc"}}}, body["sort"])

	boolQuery := body["query"].(map[string]any)["bool"].(map[string]any)
	require.Equal(t, []map[string]any{{"match_all": map[string]any{}}}, boolQuery["must"])
}

func TestDeleteOlderThanLoopsUntilShortBatch(t *testing.T) {
	c, fake := newTestClient(t, func(_ *http.Request, n int) (int, string) {
		if n == 1 {
			return http.StatusOK, `{"deleted":2}`
		}
		return http.StatusOK, `{"deleted":1}`
	})

	deleted, err := c.DeleteOlderThan(context.Background(), 24*time.Hour, 2)
	require.NoError(t, err)
	require.Equal(t, int64(3), deleted)
	require.Len(t, fake.requests, 2)
	require.Equal(t, "/reports/_delete_by_query", fake.requests[0].path)
}

func TestEnsureIndexCreatesMissingIndex(t *testing.T) {
	c, fake := newTestClient(t, func(r *http.Request, _ int) (int, string) {
		if r.Method == http.MethodHead {
			return http.StatusNotFound, ``
		}
		return http.StatusOK, `{"acknowledged":true}`
	})

	require.NoError(t, c.EnsureIndex(context.Background()))
	require.Len(t, fake.requests, 2)
	require.Equal(t, http.MethodPut, fake.requests[1].method)
	require.Equal(t, "/reports", fake.requests[1].path)
	require.Contains(t, string(fake.requests[1].body), `"imaging_recommended"`)
}

func TestEnsureIndexExisting(t *testing.T) {
	c, fake := newTestClient(t, func(*http.Request, int) (int, string) {
		return http.StatusOK, ``
	})

	require.NoError(t, c.EnsureIndex(context.Background()))
	require.Len(t, fake.requests, 1)
}
