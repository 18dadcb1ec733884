package domain

import (
	"fmt"
	"time"
)

// DecisionKind is the action a reviewer takes on a posting.
type DecisionKind string

const (
	DecisionApprove DecisionKind = "approve"
	DecisionReject  DecisionKind = "reject"
	DecisionDefer   DecisionKind = "defer"
)

// ParseDecisionKind validates a textual decision kind.
func ParseDecisionKind(s string) (DecisionKind, error) {
	switch k := DecisionKind(Normalize(s)); k {
	case DecisionApprove, DecisionReject, DecisionDefer:
		return k, nil
	}
	return "", fmt.Errorf("%w: unknown decision kind %q", ErrValidation, s)
}

// Status returns the review status the decision moves a posting into.
func (k DecisionKind) Status() Status {
	switch k {
	case DecisionApprove:
		return StatusApproved
	case DecisionReject:
		return StatusRejected
	default:
		return StatusDeferred
	}
}

// Decision is an immutable record of a human action on a posting.
type Decision struct {
	ID          string       `json:"id"`
	BatchID     string       `json:"batch_id"`
	Fingerprint string       `json:"fingerprint"`
	Kind        DecisionKind `json:"kind"`
	Note        string       `json:"note,omitempty"`
	DecidedBy   string       `json:"decided_by"`
	DecidedAt   time.Time    `json:"decided_at"`
}

type BatchStatus string

const (
	BatchOpen   BatchStatus = "open"
	BatchClosed BatchStatus = "closed"
)

// ReviewBatch groups postings for one review session. Fingerprints are kept
// in review order: score descending, fingerprint ascending.
type ReviewBatch struct {
	ID           string      `json:"id"`
	Status       BatchStatus `json:"status"`
	CreatedAt    time.Time   `json:"created_at"`
	ClosedAt     *time.Time  `json:"closed_at,omitempty"`
	Fingerprints []string    `json:"fingerprints"`
}

// Drafts holds generated application texts for a posting. Error is set when
// the generator failed; the posting still goes to review without drafts.
// EditedBy is set once a reviewer has changed the texts.
type Drafts struct {
	Fingerprint string     `json:"fingerprint"`
	Generator   string     `json:"generator"`
	CVSummary   string     `json:"cv_summary,omitempty"`
	CoverLetter string     `json:"cover_letter,omitempty"`
	Outreach    string     `json:"outreach,omitempty"`
	Error       string     `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	EditedBy    string     `json:"edited_by,omitempty"`
	EditedAt    *time.Time `json:"edited_at,omitempty"`
}

// Usable reports whether generation succeeded.
func (d Drafts) Usable() bool { return d.Error == "" }
