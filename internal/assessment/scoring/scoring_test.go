package scoring

import (
	"testing"

	"assessment-sync/internal/models"
	"assessment-sync/pkg/catalog"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestScorer(t *testing.T) *Scorer {
	c, err := catalog.Default()
	require.NoError(t, err)
	return NewScorer(c)
}

func TestNormalizeScore(t *testing.T) {
	s := newTestScorer(t)

	tests := []struct {
		name  string
		id    string
		value models.IndicatorValue
		want  float64
	}{
		{name: "score full marks", id: "1.1.1", value: models.NumberValue(2), want: 100},
		{name: "score half", id: "1.1.1", value: models.NumberValue(1), want: 50},
		{name: "score zero", id: "1.1.1", value: models.NumberValue(0), want: 0},
		{name: "score above max clamps", id: "1.1.1", value: models.NumberValue(7), want: 100},
		{name: "score from text", id: "1.1.1", value: models.TextValue("1"), want: 50},
		{name: "percentage", id: "1.1.2", value: models.NumberValue(42), want: 42},
		{name: "percentage above 100 clamps", id: "1.1.2", value: models.NumberValue(250), want: 100},
		{name: "negative clamps to zero", id: "1.1.2", value: models.NumberValue(-5), want: 0},
		{name: "binary yes", id: "1.2.1", value: models.NumberValue(1), want: 100},
		{name: "binary no", id: "1.2.1", value: models.NumberValue(0), want: 0},
		{name: "binary text yes", id: "1.2.1", value: models.TextValue("yes"), want: 100},
		{name: "number against ceiling", id: "3.1.1", value: models.NumberValue(50), want: 25},
		{name: "number above ceiling", id: "3.1.1", value: models.NumberValue(5000), want: 100},
		{name: "null", id: "1.1.1", value: models.NoValue(), want: 0},
		{name: "empty text", id: "1.1.1", value: models.TextValue(""), want: 0},
		{name: "unparseable text", id: "1.1.1", value: models.TextValue("many"), want: 0},
		{name: "unknown indicator", id: "9.9.9", value: models.NumberValue(2), want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, s.NormalizeScore(tt.id, tt.value), 0.0001)
		})
	}
}

func TestNormalizeScore_PercentageNeverExceeds100(t *testing.T) {
	s := newTestScorer(t)
	for _, raw := range []float64{0, 99.9, 100, 100.1, 1e6, 1e300} {
		score := s.NormalizeScore("1.1.2", models.NumberValue(raw))
		assert.LessOrEqual(t, score, 100.0, "raw=%v", raw)
		assert.GreaterOrEqual(t, score, 0.0, "raw=%v", raw)
	}
}

func TestNormalizeScore_NullIsZeroForEveryIndicator(t *testing.T) {
	c, err := catalog.Default()
	require.NoError(t, err)
	s := NewScorer(c)

	for _, pid := range c.PillarIDs() {
		for _, id := range c.PillarIndicators(pid) {
			assert.Equal(t, 0.0, s.NormalizeScore(id, models.NoValue()), id)
		}
	}
}

func TestIsEvidenceRequired(t *testing.T) {
	s := newTestScorer(t)

	// 1.1.1 requires evidence below a score of 50
	assert.True(t, s.IsEvidenceRequired("1.1.1", models.NumberValue(0)))
	assert.False(t, s.IsEvidenceRequired("1.1.1", models.NumberValue(1)))
	assert.False(t, s.IsEvidenceRequired("1.1.1", models.NumberValue(2)))

	// 2.2.1 always requires evidence
	assert.True(t, s.IsEvidenceRequired("2.2.1", models.NumberValue(1)))

	// 1.2.2 never does
	assert.False(t, s.IsEvidenceRequired("1.2.2", models.NumberValue(0)))
}

func TestValidateEvidence(t *testing.T) {
	tests := []struct {
		name     string
		evidence *models.EvidenceData
		want     bool
	}{
		{name: "nil", evidence: nil, want: false},
		{name: "empty", evidence: &models.EvidenceData{}, want: false},
		{
			name:     "persisted text",
			evidence: &models.EvidenceData{Text: &models.TextEvidence{Description: "minutes", Persisted: true}},
			want:     true,
		},
		{
			name:     "unpersisted text is provisional",
			evidence: &models.EvidenceData{Text: &models.TextEvidence{Description: "minutes"}},
			want:     false,
		},
		{
			name:     "persisted blank text",
			evidence: &models.EvidenceData{Text: &models.TextEvidence{Description: "   ", Persisted: true}},
			want:     false,
		},
		{
			name:     "persisted link",
			evidence: &models.EvidenceData{Link: &models.LinkEvidence{URL: "https://x.test", Persisted: true}},
			want:     true,
		},
		{
			name:     "link without url",
			evidence: &models.EvidenceData{Link: &models.LinkEvidence{Description: "see site", Persisted: true}},
			want:     false,
		},
		{
			name:     "persisted file",
			evidence: &models.EvidenceData{File: &models.FileEvidence{FileName: "plan.pdf", FileSize: 10, Persisted: true}},
			want:     true,
		},
		{
			name: "one valid kind is enough",
			evidence: &models.EvidenceData{
				Text: &models.TextEvidence{Description: "draft"},
				File: &models.FileEvidence{FileName: "plan.pdf", Persisted: true},
			},
			want: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ValidateEvidence(tt.evidence))
		})
	}
}

func TestHasDraftEvidence(t *testing.T) {
	assert.False(t, HasDraftEvidence(nil))
	assert.True(t, HasDraftEvidence(&models.EvidenceData{Text: &models.TextEvidence{Description: "x"}}))
	assert.False(t, HasDraftEvidence(&models.EvidenceData{Text: &models.TextEvidence{Description: "x", Persisted: true}}))
}
