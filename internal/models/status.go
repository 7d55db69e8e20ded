package models

type Status string

const (
	StatusDraft       Status = "draft"
	StatusSubmitted   Status = "submitted"
	StatusUnderReview Status = "under_review"
	StatusCertified   Status = "certified"
)

func (s Status) Valid() bool {
	switch s {
	case StatusDraft, StatusSubmitted, StatusUnderReview, StatusCertified:
		return true
	}
	return false
}

// Editable is true only for drafts.
func (s Status) Editable() bool {
	return s == StatusDraft
}

// CanTransitionTo allows only forward, single-step transitions.
func (s Status) CanTransitionTo(next Status) bool {
	switch s {
	case StatusDraft:
		return next == StatusSubmitted
	case StatusSubmitted:
		return next == StatusUnderReview
	case StatusUnderReview:
		return next == StatusCertified
	default:
		return false
	}
}

type ChangeType string

const (
	ChangeIndicator ChangeType = "indicator"
	ChangeEvidence  ChangeType = "evidence"
)

func (c ChangeType) Valid() bool {
	return c == ChangeIndicator || c == ChangeEvidence
}
