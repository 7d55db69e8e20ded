// internal/workers/review/update-review-status/models.go
package updatereviewstatus

type Input struct {
	ApplicationID string `json:"applicationId"`
	Status        string `json:"status"`
	Reviewer      string `json:"reviewer"`
}

type Output struct {
	ApplicationID string  `json:"applicationId"`
	Status        string  `json:"status"`
	OverallScore  float64 `json:"overallScore"`
	UpdatedAt     string  `json:"updatedAt"` // ISO 8601
}
