package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/spigell/jobpipe/internal/domain"
)

// FunnelFilter narrows funnel counts. Empty fields match everything; set
// fields combine with AND. Text fields compare case-insensitively.
type FunnelFilter struct {
	Source     string
	Geography  string
	RoleFamily string
	Status     domain.Status
}

// FunnelCounts are raw stage counts.
type FunnelCounts struct {
	Discovered  int
	Deduped     int
	Scored      int
	Reviewed    int
	Approved    int
	Executed    int
	Replied     int
	Interviewed int
	Offered     int
}

const (
	reviewedPredicate = `EXISTS (SELECT 1 FROM decisions d WHERE d.fingerprint = p.fingerprint)`
	approvedPredicate = `(SELECT d.kind FROM decisions d WHERE d.fingerprint = p.fingerprint ORDER BY d.seq DESC LIMIT 1) = 'approve'`
	executedPredicate = `EXISTS (SELECT 1 FROM audit_records a WHERE a.fingerprint = p.fingerprint AND a.outcome = 'success')`
	// A later response kind implies the earlier ones.
	repliedPredicate     = `EXISTS (SELECT 1 FROM responses r WHERE r.fingerprint = p.fingerprint)`
	interviewedPredicate = `EXISTS (SELECT 1 FROM responses r WHERE r.fingerprint = p.fingerprint AND r.kind IN ('interview', 'offer'))`
	offeredPredicate     = `EXISTS (SELECT 1 FROM responses r WHERE r.fingerprint = p.fingerprint AND r.kind = 'offer')`
)

// FunnelCounts counts postings at every stage matching f.
func (s queries) FunnelCounts(ctx context.Context, f FunnelFilter) (FunnelCounts, error) {
	var counts FunnelCounts

	// Sightings carry their own source/geography/role family columns.
	discovered := `SELECT COUNT(*) FROM sightings p LEFT JOIN scored sc ON sc.fingerprint = p.fingerprint`
	if err := s.count(ctx, &counts.Discovered, discovered, f); err != nil {
		return FunnelCounts{}, err
	}

	base := `SELECT COUNT(*) FROM postings p LEFT JOIN scored sc ON sc.fingerprint = p.fingerprint`
	stages := []struct {
		dest      *int
		predicate string
	}{
		{dest: &counts.Deduped},
		{dest: &counts.Scored, predicate: `sc.fingerprint IS NOT NULL`},
		{dest: &counts.Reviewed, predicate: reviewedPredicate},
		{dest: &counts.Approved, predicate: approvedPredicate},
		{dest: &counts.Executed, predicate: executedPredicate},
		{dest: &counts.Replied, predicate: repliedPredicate},
		{dest: &counts.Interviewed, predicate: interviewedPredicate},
		{dest: &counts.Offered, predicate: offeredPredicate},
	}
	for _, stage := range stages {
		if err := s.count(ctx, stage.dest, base, f, stage.predicate); err != nil {
			return FunnelCounts{}, err
		}
	}
	return counts, nil
}

func (s queries) count(ctx context.Context, dest *int, base string, f FunnelFilter, extra ...string) error {
	where, args := funnelWhere(f)
	for _, predicate := range extra {
		if predicate != "" {
			where = append(where, predicate)
		}
	}

	query := base
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	if err := s.q.QueryRowContext(ctx, query, args...).Scan(dest); err != nil {
		return fmt.Errorf("count funnel stage: %w", err)
	}
	return nil
}

func funnelWhere(f FunnelFilter) ([]string, []any) {
	var (
		where []string
		args  []any
	)
	add := func(column, value string) {
		value = strings.TrimSpace(value)
		if value == "" {
			return
		}
		where = append(where, fmt.Sprintf("lower(%s) = lower(?)", column))
		args = append(args, value)
	}
	add("p.source", f.Source)
	add("p.geography", f.Geography)
	add("p.role_family", f.RoleFamily)
	add("sc.status", string(f.Status))
	return where, args
}
