package domain

import (
	"fmt"
	"time"
)

type FollowUpStatus string

const (
	FollowUpPending   FollowUpStatus = "pending"
	FollowUpDone      FollowUpStatus = "done"
	FollowUpCancelled FollowUpStatus = "cancelled"
)

// FollowUp is a reminder to chase an outreach that got no answer. A posting
// has at most one pending follow-up.
type FollowUp struct {
	ID          string         `json:"id"`
	Fingerprint string         `json:"fingerprint"`
	PlanID      string         `json:"plan_id"`
	Company     string         `json:"company,omitempty"`
	Status      FollowUpStatus `json:"status"`
	DueAt       time.Time      `json:"due_at"`
	CreatedAt   time.Time      `json:"created_at"`
	ClosedAt    *time.Time     `json:"closed_at,omitempty"`
}

// Due reports whether a pending follow-up should be acted on at t.
func (f FollowUp) Due(t time.Time) bool {
	return f.Status == FollowUpPending && !t.Before(f.DueAt)
}

// ResponseKind is what came back from a company after an execution. Kinds
// are ordered: an offer implies an interview, an interview implies a reply.
type ResponseKind string

const (
	ResponseReply     ResponseKind = "reply"
	ResponseInterview ResponseKind = "interview"
	ResponseOffer     ResponseKind = "offer"
)

// ParseResponseKind validates a textual response kind.
func ParseResponseKind(s string) (ResponseKind, error) {
	switch k := ResponseKind(Normalize(s)); k {
	case ResponseReply, ResponseInterview, ResponseOffer:
		return k, nil
	}
	return "", fmt.Errorf("%w: unknown response kind %q (reply, interview or offer)", ErrValidation, s)
}

// Response is an immutable record of a company answering.
type Response struct {
	ID          string       `json:"id"`
	Fingerprint string       `json:"fingerprint"`
	Kind        ResponseKind `json:"kind"`
	Note        string       `json:"note,omitempty"`
	RecordedBy  string       `json:"recorded_by"`
	RecordedAt  time.Time    `json:"recorded_at"`
}
