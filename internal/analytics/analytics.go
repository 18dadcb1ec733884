// Package analytics reports the conversion funnel from discovery to
// execution and on to the responses companies sent back. It only reads.
package analytics

import (
	"context"
	"fmt"
	"strings"

	"github.com/spigell/jobpipe/internal/domain"
	"github.com/spigell/jobpipe/internal/store"
)

type Filter = store.FunnelFilter

type Counter interface {
	FunnelCounts(ctx context.Context, f store.FunnelFilter) (store.FunnelCounts, error)
}

// Stage is one funnel step. Ratio is Count over the previous stage's count,
// 0 when that is 0. The first stage has ratio 1 when non-empty.
type Stage struct {
	Name  string
	Count int
	Ratio float64
}

type Funnel struct {
	Filter Filter
	Stages []Stage
}

// Stage looks a stage up by name.
func (f Funnel) Stage(name string) (Stage, bool) {
	for _, s := range f.Stages {
		if s.Name == name {
			return s, true
		}
	}
	return Stage{}, false
}

const (
	StageDiscovered  = "discovered"
	StageDeduped     = "deduped"
	StageScored      = "scored"
	StageReviewed    = "reviewed"
	StageApproved    = "approved"
	StageExecuted    = "executed"
	StageReplied     = "replied"
	StageInterviewed = "interviewed"
	StageOffered     = "offered"
)

// Compute counts every stage for postings matching f.
func Compute(ctx context.Context, c Counter, f Filter) (Funnel, error) {
	if f.Status != "" && !f.Status.Valid() {
		return Funnel{}, fmt.Errorf("%w: unknown status %q", domain.ErrValidation, f.Status)
	}

	counts, err := c.FunnelCounts(ctx, f)
	if err != nil {
		return Funnel{}, fmt.Errorf("counting funnel: %w", err)
	}

	stages := []Stage{
		{Name: StageDiscovered, Count: counts.Discovered},
		{Name: StageDeduped, Count: counts.Deduped},
		{Name: StageScored, Count: counts.Scored},
		{Name: StageReviewed, Count: counts.Reviewed},
		{Name: StageApproved, Count: counts.Approved},
		{Name: StageExecuted, Count: counts.Executed},
		{Name: StageReplied, Count: counts.Replied},
		{Name: StageInterviewed, Count: counts.Interviewed},
		{Name: StageOffered, Count: counts.Offered},
	}
	prev := 0
	for i := range stages {
		switch {
		case i == 0 && stages[i].Count > 0:
			stages[i].Ratio = 1
		case prev > 0:
			stages[i].Ratio = float64(stages[i].Count) / float64(prev)
		}
		prev = stages[i].Count
	}

	return Funnel{Filter: f, Stages: stages}, nil
}

// Describe renders the active filter, or "all postings".
func Describe(f Filter) string {
	var parts []string
	if f.Source != "" {
		parts = append(parts, "source="+f.Source)
	}
	if f.Geography != "" {
		parts = append(parts, "geography="+f.Geography)
	}
	if f.RoleFamily != "" {
		parts = append(parts, "role_family="+f.RoleFamily)
	}
	if f.Status != "" {
		parts = append(parts, "status="+string(f.Status))
	}
	if len(parts) == 0 {
		return "all postings"
	}
	return strings.Join(parts, ", ")
}
