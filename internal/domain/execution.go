package domain

import (
	"fmt"
	"strings"
	"time"
)

// Action is an irreversible real-world step executed for an approved posting.
type Action string

const (
	ActionSubmitApplication Action = "submit_application"
	ActionSendOutreach      Action = "send_outreach"
)

// ParseAction accepts the canonical names and the short CLI aliases.
func ParseAction(s string) (Action, error) {
	switch Normalize(s) {
	case "apply", string(ActionSubmitApplication):
		return ActionSubmitApplication, nil
	case "outreach", string(ActionSendOutreach):
		return ActionSendOutreach, nil
	}
	return "", fmt.Errorf("%w: unknown action %q", ErrValidation, s)
}

type PlanStatus string

const (
	PlanPending           PlanStatus = "pending"
	PlanPassedCompliance  PlanStatus = "passed_compliance"
	PlanBlocked           PlanStatus = "blocked"
	PlanExecuted          PlanStatus = "executed"
	PlanPartiallyExecuted PlanStatus = "partially_executed"
)

// ExecutionPlan bundles approved postings for one compliance-gated run.
type ExecutionPlan struct {
	ID           string     `json:"id"`
	Action       Action     `json:"action"`
	Status       PlanStatus `json:"status"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	Fingerprints []string   `json:"fingerprints"`
}

type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeBlocked Outcome = "blocked"
	OutcomeFailed  Outcome = "failed"
)

// AuditRecord is an immutable ledger entry for one execution attempt.
// Company and RoleFamily are copied from the posting at write time.
type AuditRecord struct {
	ID          string    `json:"id"`
	Timestamp   time.Time `json:"timestamp"`
	Fingerprint string    `json:"fingerprint"`
	PlanID      string    `json:"plan_id,omitempty"`
	Action      Action    `json:"action"`
	Outcome     Outcome   `json:"outcome"`
	Reason      string    `json:"reason,omitempty"`
	ExternalRef string    `json:"external_ref,omitempty"`
	Company     string    `json:"company,omitempty"`
	RoleFamily  string    `json:"role_family,omitempty"`
}

type SuppressionScope string

const (
	ScopeCompany SuppressionScope = "company"
	ScopeDomain  SuppressionScope = "domain"
	ScopeContact SuppressionScope = "contact"
)

// ParseSuppressionScope validates a textual scope.
func ParseSuppressionScope(s string) (SuppressionScope, error) {
	switch sc := SuppressionScope(Normalize(s)); sc {
	case ScopeCompany, ScopeDomain, ScopeContact:
		return sc, nil
	}
	return "", fmt.Errorf("%w: unknown suppression scope %q", ErrValidation, s)
}

// SuppressionEntry excludes a company, domain or contact from outreach.
// A nil ExpiresAt means the entry is permanent.
type SuppressionEntry struct {
	ID        string           `json:"id"`
	Scope     SuppressionScope `json:"scope"`
	Value     string           `json:"value"`
	Reason    string           `json:"reason,omitempty"`
	CreatedAt time.Time        `json:"created_at"`
	ExpiresAt *time.Time       `json:"expires_at,omitempty"`
}

func (e SuppressionEntry) Permanent() bool { return e.ExpiresAt == nil }

// ActiveAt reports whether the entry still applies at t.
func (e SuppressionEntry) ActiveAt(t time.Time) bool {
	return e.ExpiresAt == nil || t.Before(*e.ExpiresAt)
}

// Matches reports whether the entry targets p. Domain entries also match
// subdomains.
func (e SuppressionEntry) Matches(p Posting) bool {
	value := Normalize(e.Value)
	if value == "" {
		return false
	}

	switch e.Scope {
	case ScopeCompany:
		return Normalize(p.Company) == value
	case ScopeDomain:
		domain := p.Domain()
		return domain != "" && (domain == value || strings.HasSuffix(domain, "."+value))
	case ScopeContact:
		return Normalize(p.Contact) == value
	}
	return false
}

// Describe renders the entry for block reasons.
func (e SuppressionEntry) Describe() string {
	if e.ExpiresAt == nil {
		return fmt.Sprintf("%s %q suppressed permanently", e.Scope, e.Value)
	}
	return fmt.Sprintf("%s %q suppressed until %s", e.Scope, e.Value, e.ExpiresAt.UTC().Format(time.RFC3339))
}
