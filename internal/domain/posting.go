package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// RawPosting is a job listing as returned by a discovery source.
type RawPosting struct {
	Source          string    `json:"source" yaml:"source"`
	SourceJobID     string    `json:"source_job_id,omitempty" yaml:"source_job_id"`
	Title           string    `json:"title" yaml:"title"`
	Company         string    `json:"company" yaml:"company"`
	Geography       string    `json:"geography" yaml:"geography"`
	RoleFamily      string    `json:"role_family,omitempty" yaml:"role_family"`
	Seniority       string    `json:"seniority,omitempty" yaml:"seniority"`
	Description     string    `json:"description,omitempty" yaml:"description"`
	ApplyURL        string    `json:"apply_url,omitempty" yaml:"apply_url"`
	Contact         string    `json:"contact,omitempty" yaml:"contact"`
	Skills          []string  `json:"skills,omitempty" yaml:"skills"`
	Remote          bool      `json:"remote,omitempty" yaml:"remote"`
	CompensationMin int       `json:"compensation_min,omitempty" yaml:"compensation_min"`
	CompensationMax int       `json:"compensation_max,omitempty" yaml:"compensation_max"`
	DiscoveredAt    time.Time `json:"discovered_at" yaml:"discovered_at"`
}

// Posting is a deduplicated listing identified by its fingerprint. It never
// changes once stored.
type Posting struct {
	Fingerprint string `json:"fingerprint"`
	RawPosting
}

// NewPosting derives the fingerprint for raw and wraps it.
func NewPosting(raw RawPosting) Posting {
	return Posting{Fingerprint: Fingerprint(raw), RawPosting: raw}
}

// Domain returns the host of the apply URL or of the contact e-mail address.
func (p Posting) Domain() string {
	if u, err := url.Parse(strings.TrimSpace(p.ApplyURL)); err == nil && u.Host != "" {
		return strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	}
	if _, host, ok := strings.Cut(p.Contact, "@"); ok {
		return strings.ToLower(strings.TrimSpace(host))
	}
	return ""
}

// Fingerprint is the stable identity of a posting: a SHA-256 digest over the
// normalized source, company, title and geography. Each field is length
// prefixed, so no field content can shift a boundary.
func Fingerprint(raw RawPosting) string {
	h := sha256.New()
	for _, part := range []string{
		Normalize(raw.Source),
		Normalize(raw.Company),
		Normalize(raw.Title),
		Normalize(raw.Geography),
	} {
		fmt.Fprintf(h, "%d:%s", len(part), part)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Normalize lower-cases s and collapses runs of whitespace into one space.
func Normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// Status is the review state of a scored posting.
type Status string

const (
	StatusPendingReview Status = "pending_review"
	StatusApproved      Status = "approved"
	StatusRejected      Status = "rejected"
	StatusDeferred      Status = "deferred"
)

// Terminal reports whether no further review transition is possible once the
// deciding batch is closed.
func (s Status) Terminal() bool {
	return s == StatusApproved || s == StatusRejected
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPendingReview, StatusApproved, StatusRejected, StatusDeferred:
		return true
	}
	return false
}

// ScoredPosting is a posting plus its score, rationale and review status.
// Revision grows on every status change and guards concurrent decisions.
type ScoredPosting struct {
	Posting
	Score     float64   `json:"score"`
	Rationale []string  `json:"rationale"`
	Status    Status    `json:"status"`
	Revision  int64     `json:"revision"`
	ScoredAt  time.Time `json:"scored_at"`
}
