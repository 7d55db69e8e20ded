package search

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	apperrors "assessment-sync/internal/common/errors"
	"assessment-sync/internal/common/logger"
	"assessment-sync/internal/models"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedRequest struct {
	Method string
	Path   string
	Body   string
}

// fakeTransport answers Elasticsearch requests from a route table.
type fakeTransport struct {
	mu       sync.Mutex
	requests []recordedRequest
	routes   map[string]func() (int, string)
	err      error
}

func (f *fakeTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	var body string
	if r.Body != nil {
		raw, _ := io.ReadAll(r.Body)
		body = string(raw)
	}
	f.mu.Lock()
	f.requests = append(f.requests, recordedRequest{Method: r.Method, Path: r.URL.Path, Body: body})
	f.mu.Unlock()

	if f.err != nil {
		return nil, f.err
	}
	status, resp := http.StatusOK, `{}`
	if h, ok := f.routes[r.Method+" "+r.URL.Path]; ok {
		status, resp = h()
	}
	header := http.Header{}
	header.Set("X-Elastic-Product", "Elasticsearch")
	header.Set("Content-Type", "application/json")
	return &http.Response{
		StatusCode: status,
		Status:     http.StatusText(status),
		Header:     header,
		Body:       io.NopCloser(strings.NewReader(resp)),
		Request:    r,
	}, nil
}

func newTestIndexer(t *testing.T, ft *fakeTransport) *Indexer {
	t.Helper()
	es, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses:    []string{"http://es.test:9200"},
		Transport:    ft,
		DisableRetry: true,
	})
	require.NoError(t, err)
	ix := NewIndexer(es, "assessments", logger.NewTestLogger(t))
	ix.now = func() time.Time { return time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC) }
	return ix
}

func submittedApp() *models.Application {
	at := time.Date(2024, 3, 1, 11, 0, 0, 0, time.UTC)
	app := models.NewApplication("app-1", "user-1", at)
	app.Status = models.StatusSubmitted
	app.SubmittedAt = &at
	app.InstitutionData = models.InstitutionData{Name: "Acme Labs", Industry: "software", Country: "NL", OrganizationSize: "51-200"}
	app.Scores = &models.Scores{
		Overall:    64,
		Completion: 100,
		Pillars:    map[string]models.PillarScore{"pillar_1": {Score: 80}, "pillar_2": {Score: 48}},
	}
	return app
}

func TestIndexer_EnsureIndexCreatesWhenMissing(t *testing.T) {
	ft := &fakeTransport{routes: map[string]func() (int, string){
		"HEAD /assessments": func() (int, string) { return http.StatusNotFound, `` },
		"PUT /assessments":  func() (int, string) { return http.StatusOK, `{"acknowledged":true}` },
	}}
	ix := newTestIndexer(t, ft)

	require.NoError(t, ix.EnsureIndex(context.Background()))

	require.Len(t, ft.requests, 2)
	assert.Equal(t, "PUT", ft.requests[1].Method)
	assert.Contains(t, ft.requests[1].Body, `"overallScore"`)
}

func TestIndexer_EnsureIndexExisting(t *testing.T) {
	ft := &fakeTransport{routes: map[string]func() (int, string){
		"HEAD /assessments": func() (int, string) { return http.StatusOK, `` },
	}}
	ix := newTestIndexer(t, ft)

	require.NoError(t, ix.EnsureIndex(context.Background()))
	assert.Len(t, ft.requests, 1)
}

func TestIndexer_EnsureIndexRaceIsTolerated(t *testing.T) {
	ft := &fakeTransport{routes: map[string]func() (int, string){
		"HEAD /assessments": func() (int, string) { return http.StatusNotFound, `` },
		"PUT /assessments": func() (int, string) {
			return http.StatusBadRequest, `{"error":{"type":"resource_already_exists_exception","reason":"exists"}}`
		},
	}}
	ix := newTestIndexer(t, ft)

	assert.NoError(t, ix.EnsureIndex(context.Background()))
}

func TestIndexer_IndexApplication(t *testing.T) {
	ft := &fakeTransport{routes: map[string]func() (int, string){
		"PUT /assessments/_doc/app-1": func() (int, string) { return http.StatusCreated, `{"result":"created"}` },
	}}
	ix := newTestIndexer(t, ft)

	require.NoError(t, ix.IndexApplication(context.Background(), submittedApp()))

	require.Len(t, ft.requests, 1)
	var doc Document
	require.NoError(t, json.Unmarshal([]byte(ft.requests[0].Body), &doc))
	assert.Equal(t, "app-1", doc.ApplicationID)
	assert.Equal(t, "submitted", doc.Status)
	assert.Equal(t, "Acme Labs", doc.InstitutionName)
	assert.Equal(t, 64.0, doc.OverallScore)
	assert.Equal(t, 80.0, doc.PillarScores["pillar_1"])
	require.NotNil(t, doc.SubmittedAt)
}

func TestIndexer_IndexApplicationErrors(t *testing.T) {
	tests := []struct {
		name   string
		ft     *fakeTransport
		code   apperrors.ErrorCode
		detail string
	}{
		{
			name: "mapping rejected",
			ft: &fakeTransport{routes: map[string]func() (int, string){
				"PUT /assessments/_doc/app-1": func() (int, string) {
					return http.StatusBadRequest, `{"error":{"type":"mapper_parsing_exception","reason":"failed to parse"}}`
				},
			}},
			code:   apperrors.ErrCodeValidation,
			detail: "mapper_parsing_exception",
		},
		{
			name: "cluster overloaded",
			ft: &fakeTransport{routes: map[string]func() (int, string){
				"PUT /assessments/_doc/app-1": func() (int, string) { return http.StatusTooManyRequests, `{}` },
			}},
			code: apperrors.ErrCodeServiceError,
		},
		{
			name: "transport failure",
			ft:   &fakeTransport{err: errors.New("dial tcp: connection refused")},
			code: apperrors.ErrCodeNetworkTimeout,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ix := newTestIndexer(t, tt.ft)
			err := ix.IndexApplication(context.Background(), submittedApp())
			require.Error(t, err)
			assert.Equal(t, tt.code, apperrors.CodeOf(err))
			if tt.detail != "" {
				assert.Contains(t, err.Error(), tt.detail)
			}
		})
	}
}

func TestNewDocument_WithoutScores(t *testing.T) {
	app := models.NewApplication("app-2", "user-2", time.Now())
	doc := NewDocument(app, time.Now())
	assert.Equal(t, "draft", doc.Status)
	assert.Zero(t, doc.OverallScore)
	assert.Nil(t, doc.PillarScores)
}
