// Package search indexes submitted assessments in Elasticsearch for the
// reviewer dashboards.
package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	apperrors "assessment-sync/internal/common/errors"
	"assessment-sync/internal/common/logger"
	"assessment-sync/internal/models"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
)

const indexMapping = `{
  "mappings": {
    "properties": {
      "applicationId":   {"type": "keyword"},
      "ownerId":         {"type": "keyword"},
      "status":          {"type": "keyword"},
      "institutionName": {"type": "text", "fields": {"raw": {"type": "keyword"}}},
      "industry":        {"type": "keyword"},
      "country":         {"type": "keyword"},
      "organizationSize":{"type": "keyword"},
      "overallScore":    {"type": "float"},
      "completion":      {"type": "float"},
      "pillarScores":    {"type": "object"},
      "submittedAt":     {"type": "date"},
      "indexedAt":       {"type": "date"}
    }
  }
}`

// Document is the indexed shape of an application.
type Document struct {
	ApplicationID    string             `json:"applicationId"`
	OwnerID          string             `json:"ownerId"`
	Status           string             `json:"status"`
	InstitutionName  string             `json:"institutionName"`
	Industry         string             `json:"industry,omitempty"`
	Country          string             `json:"country,omitempty"`
	OrganizationSize string             `json:"organizationSize,omitempty"`
	OverallScore     float64            `json:"overallScore"`
	Completion       float64            `json:"completion"`
	PillarScores     map[string]float64 `json:"pillarScores,omitempty"`
	SubmittedAt      *time.Time         `json:"submittedAt,omitempty"`
	IndexedAt        time.Time          `json:"indexedAt"`
}

type Indexer struct {
	es     *elasticsearch.Client
	index  string
	logger logger.Logger
	now    func() time.Time
}

func NewIndexer(es *elasticsearch.Client, index string, log logger.Logger) *Indexer {
	return &Indexer{
		es:     es,
		index:  index,
		logger: log.WithFields(map[string]interface{}{"component": "search-indexer", "index": index}),
		now:    time.Now,
	}
}

// NewDocument flattens an application for indexing.
func NewDocument(app *models.Application, now time.Time) Document {
	doc := Document{
		ApplicationID:    app.ID,
		OwnerID:          app.OwnerID,
		Status:           string(app.Status),
		InstitutionName:  app.InstitutionData.Name,
		Industry:         app.InstitutionData.Industry,
		Country:          app.InstitutionData.Country,
		OrganizationSize: app.InstitutionData.OrganizationSize,
		SubmittedAt:      app.SubmittedAt,
		IndexedAt:        now.UTC(),
	}
	if app.Scores != nil {
		doc.OverallScore = app.Scores.Overall
		doc.Completion = app.Scores.Completion
		doc.PillarScores = make(map[string]float64, len(app.Scores.Pillars))
		for id, p := range app.Scores.Pillars {
			doc.PillarScores[id] = p.Score
		}
	}
	return doc
}

// EnsureIndex creates the index with its mapping unless it already exists.
func (ix *Indexer) EnsureIndex(ctx context.Context) error {
	res, err := ix.es.Indices.Exists([]string{ix.index}, ix.es.Indices.Exists.WithContext(ctx))
	if err != nil {
		return apperrors.NewNetworkTimeoutError("elasticsearch.exists", err)
	}
	res.Body.Close()
	if res.StatusCode == 200 {
		return nil
	}
	if res.StatusCode != 404 {
		return apperrors.FromHTTPStatus("elasticsearch.exists", res.StatusCode, res.Status(), "")
	}

	res, err = ix.es.Indices.Create(ix.index,
		ix.es.Indices.Create.WithContext(ctx),
		ix.es.Indices.Create.WithBody(strings.NewReader(indexMapping)),
	)
	if err != nil {
		return apperrors.NewNetworkTimeoutError("elasticsearch.create_index", err)
	}
	defer res.Body.Close()
	if res.IsError() && !alreadyExists(res) {
		return responseError("elasticsearch.create_index", res)
	}
	ix.logger.Info("Search index ready", nil)
	return nil
}

// IndexApplication upserts the application's document keyed by its id.
func (ix *Indexer) IndexApplication(ctx context.Context, app *models.Application) error {
	body, err := json.Marshal(NewDocument(app, ix.now()))
	if err != nil {
		return apperrors.NewInternalError(err)
	}

	req := esapi.IndexRequest{
		Index:      ix.index,
		DocumentID: app.ID,
		Body:       bytes.NewReader(body),
		Refresh:    "false",
	}
	res, err := req.Do(ctx, ix.es)
	if err != nil {
		return apperrors.NewNetworkTimeoutError("elasticsearch.index", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return responseError("elasticsearch.index", res)
	}

	ix.logger.Debug("Application indexed", map[string]interface{}{"applicationId": app.ID, "status": string(app.Status)})
	return nil
}

func alreadyExists(res *esapi.Response) bool {
	if res.StatusCode != 400 {
		return false
	}
	raw, _ := io.ReadAll(res.Body)
	return bytes.Contains(raw, []byte("resource_already_exists_exception"))
}

func responseError(op string, res *esapi.Response) error {
	var body struct {
		Error struct {
			Type   string `json:"type"`
			Reason string `json:"reason"`
		} `json:"error"`
	}
	raw, _ := io.ReadAll(res.Body)
	details := string(raw)
	if json.Unmarshal(raw, &body) == nil && body.Error.Type != "" {
		details = fmt.Sprintf("%s: %s", body.Error.Type, body.Error.Reason)
	}
	return apperrors.FromHTTPStatus(op, res.StatusCode, res.Status(), details)
}
