package scoring

import "assessment-sync/internal/models"

// ValidateEvidence is true when at least one evidence kind is persisted and
// has its required field filled. Unsaved drafts do not count.
func ValidateEvidence(e *models.EvidenceData) bool {
	if e == nil {
		return false
	}
	if e.Text != nil && e.Text.Persisted && e.Text.HasContent() {
		return true
	}
	if e.Link != nil && e.Link.Persisted && e.Link.HasContent() {
		return true
	}
	if e.File != nil && e.File.Persisted && e.File.HasContent() {
		return true
	}
	return false
}

// HasDraftEvidence reports evidence that has content but is not yet confirmed.
func HasDraftEvidence(e *models.EvidenceData) bool {
	if e == nil {
		return false
	}
	return (e.Text.HasContent() && !e.Text.Persisted) ||
		(e.Link.HasContent() && !e.Link.Persisted) ||
		(e.File.HasContent() && !e.File.Persisted)
}
