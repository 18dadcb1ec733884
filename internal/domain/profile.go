package domain

import (
	"strings"
	"time"
)

// Profile describes the candidate the pipeline searches for. Profiles are
// versioned; a run works on the copy loaded at its start.
type Profile struct {
	Version         int       `json:"version" yaml:"-"`
	Name            string    `json:"name" yaml:"name"`
	Email           string    `json:"email,omitempty" yaml:"email"`
	Headline        string    `json:"headline,omitempty" yaml:"headline"`
	Summary         string    `json:"summary,omitempty" yaml:"summary"`
	RoleFamilies    []string  `json:"role_families" yaml:"role_families"`
	Geographies     []string  `json:"geographies" yaml:"geographies"`
	AcceptRemote    bool      `json:"accept_remote" yaml:"accept_remote"`
	Seniority       string    `json:"seniority" yaml:"seniority"`
	MinCompensation int       `json:"min_compensation,omitempty" yaml:"min_compensation"`
	Skills          []string  `json:"skills,omitempty" yaml:"skills"`
	CreatedAt       time.Time `json:"created_at" yaml:"-"`
}

// Missing lists the required profile fields that are empty.
func (p Profile) Missing() []string {
	var missing []string
	if !hasValue(p.RoleFamilies) {
		missing = append(missing, "role_families")
	}
	if !hasValue(p.Geographies) {
		missing = append(missing, "geographies")
	}
	if strings.TrimSpace(p.Seniority) == "" {
		missing = append(missing, "seniority")
	}
	return missing
}

func hasValue(values []string) bool {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return true
		}
	}
	return false
}

// ApprovalModelAutoExecute is the only approval model that allows a run to
// execute without a human decision.
const ApprovalModelAutoExecute = "single-policy-approval-then-auto-execute"

// ApprovalRecord is the versioned switch for autonomous execution. It is
// consumed by the first run that executes under it and must be re-armed.
type ApprovalRecord struct {
	Version         int64      `json:"version"`
	Model           string     `json:"model"`
	WrittenApproval bool       `json:"written_approval"`
	ArmedBy         string     `json:"armed_by"`
	ArmedAt         time.Time  `json:"armed_at"`
	ConsumedAt      *time.Time `json:"consumed_at,omitempty"`
	ConsumedBy      string     `json:"consumed_by,omitempty"`
}

// Armed reports whether the record currently allows autonomous execution.
func (a ApprovalRecord) Armed() bool {
	return a.Version > 0 && a.WrittenApproval && a.Model == ApprovalModelAutoExecute && a.ConsumedAt == nil
}
